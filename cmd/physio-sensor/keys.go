package main

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/eiannone/keyboard"
	"golang.org/x/term"
)

// keySource delivers operator input to the question protocol.
type keySource interface {
	// line returns the next line of text.
	line(ctx context.Context) (string, error)
	// key returns the next answer key.
	key(ctx context.Context) (byte, error)
	// raw reports whether the terminal is in raw mode while keys are read.
	raw() bool
}

// openKeys reads single keypresses when in is a terminal and falls back to
// whole lines otherwise. interrupt is called on Ctrl-C, which raw mode
// delivers as a key instead of SIGINT. The returned func restores the
// terminal and may be called more than once.
func openKeys(in io.Reader, echo io.Writer, interrupt func()) (keySource, func()) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		k, err := openTermKeys(echo, interrupt)
		if err == nil {
			return k, k.close
		}
		log.Printf("record: single key input unavailable, answers need Enter: %v", err)
	}
	return newKeyReader(in), func() {}
}

type keyEvent struct {
	char rune
	key  keyboard.Key
	err  error
}

// termKeys reads keypresses from the controlling terminal in raw mode.
type termKeys struct {
	events    <-chan keyEvent
	echo      io.Writer
	closeOnce sync.Once
	closeFn   func() error
}

func openTermKeys(echo io.Writer, interrupt func()) (*termKeys, error) {
	if err := keyboard.Open(); err != nil {
		return nil, err
	}
	events := make(chan keyEvent, 16)
	go pumpKeys(keyboard.GetKey, events, interrupt)
	return &termKeys{events: events, echo: echo, closeFn: keyboard.Close}, nil
}

// pumpKeys forwards keys until get fails or Ctrl-C is pressed.
func pumpKeys(get func() (rune, keyboard.Key, error), events chan<- keyEvent, interrupt func()) {
	defer close(events)
	for {
		char, key, err := get()
		if err == nil && key == keyboard.KeyCtrlC {
			interrupt()
			return
		}
		events <- keyEvent{char: char, key: key, err: err}
		if err != nil {
			return
		}
	}
}

func (k *termKeys) close() {
	k.closeOnce.Do(func() {
		if err := k.closeFn(); err != nil {
			log.Printf("record: restore terminal: %v", err)
		}
	})
}

func (k *termKeys) raw() bool { return true }

func (k *termKeys) next(ctx context.Context) (keyEvent, error) {
	select {
	case <-ctx.Done():
		return keyEvent{}, ctx.Err()
	case ev, ok := <-k.events:
		if !ok {
			return keyEvent{}, io.EOF
		}
		return ev, ev.err
	}
}

// key returns the first printable ASCII key pressed. Enter and space are
// ignored.
func (k *termKeys) key(ctx context.Context) (byte, error) {
	for {
		ev, err := k.next(ctx)
		if err != nil {
			return 0, err
		}
		if ev.char > ' ' && ev.char < utf8.RuneSelf {
			return byte(ev.char), nil
		}
	}
}

// line echoes keys until Enter. Backspace edits.
func (k *termKeys) line(ctx context.Context) (string, error) {
	var buf []rune
	for {
		ev, err := k.next(ctx)
		if err != nil {
			return "", err
		}
		switch {
		case ev.key == keyboard.KeyEnter:
			fmt.Fprint(k.echo, "\r\n")
			return string(buf), nil
		case ev.key == keyboard.KeyBackspace || ev.key == keyboard.KeyBackspace2:
			if len(buf) > 0 {
				buf = buf[:len(buf)-1]
				fmt.Fprint(k.echo, "\b \b")
			}
		case ev.key == keyboard.KeySpace:
			buf = append(buf, ' ')
			fmt.Fprint(k.echo, " ")
		case ev.char != 0:
			buf = append(buf, ev.char)
			fmt.Fprint(k.echo, string(ev.char))
		}
	}
}

// keyReader reads operator input line by line without blocking past ctx.
type keyReader struct {
	lines chan string
	errs  chan error
}

func newKeyReader(r io.Reader) *keyReader {
	k := &keyReader{lines: make(chan string), errs: make(chan error, 1)}
	go func() {
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			k.lines <- sc.Text()
		}
		err := sc.Err()
		if err == nil {
			err = io.EOF
		}
		k.errs <- err
	}()
	return k
}

func (k *keyReader) raw() bool { return false }

func (k *keyReader) line(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case l := <-k.lines:
		return l, nil
	case err := <-k.errs:
		k.errs <- err
		return "", err
	}
}

// key returns the first non-blank byte of the next non-empty line.
func (k *keyReader) key(ctx context.Context) (byte, error) {
	for {
		l, err := k.line(ctx)
		if err != nil {
			return 0, err
		}
		if l = strings.TrimSpace(l); l != "" {
			return l[0], nil
		}
	}
}

// crlfWriter turns \n into \r\n for a terminal in raw mode.
type crlfWriter struct {
	w io.Writer
}

func (c crlfWriter) Write(p []byte) (int, error) {
	if _, err := c.w.Write(bytes.ReplaceAll(p, []byte("\n"), []byte("\r\n"))); err != nil {
		return 0, err
	}
	return len(p), nil
}
