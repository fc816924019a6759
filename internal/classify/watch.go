package classify

import (
	"context"
	"log"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the model at path into h whenever the file is written or
// replaced. It watches the parent directory so editors that save by rename
// are picked up. Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, h *Holder) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}
	target := filepath.Clean(path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			m, err := Load(path)
			if err != nil {
				// Keep serving the previous model.
				log.Printf("model: reload %s failed: %v", path, err)
				continue
			}
			h.Set(m, m.Name)
			log.Printf("model: reloaded %s (%d weights)", m.Name, len(m.Weights))

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("model: watch error: %v", err)
		}
	}
}
