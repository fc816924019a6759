// Package capture implements the on-demand window capture shared between
// the acquisition loop (writer while armed) and a waiting consumer.
//
// A Slot holds at most one armed Window. The loop feeds every converted
// block into the slot; when the armed window reaches its target length it
// completes, leaves the slot, and wakes its waiter. Completion and
// cancellation are signalled by closing a channel, so waiters observe the
// outcome as soon as the deciding block has been appended.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sweeney/physio-sensor/internal/channel"
)

var (
	// ErrConflict is returned by Arm while another window is armed.
	ErrConflict = errors.New("capture already armed")
	// ErrCancelled is returned by Wait when the window was cancelled.
	ErrCancelled = errors.New("capture cancelled")
	// ErrInvalidTarget is returned by Arm for a non-positive target length.
	ErrInvalidTarget = errors.New("invalid capture length")
	// ErrClosed is returned by Arm once the slot has been closed.
	ErrClosed = errors.New("capture slot closed")
)

// State is the lifecycle state of a Window.
type State int

const (
	Unarmed State = iota
	Armed
	Completed
	Cancelled
)

func (s State) String() string {
	switch s {
	case Unarmed:
		return "UNARMED"
	case Armed:
		return "ARMED"
	case Completed:
		return "COMPLETED"
	case Cancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// Matrix holds one row of samples per channel. Rows are aligned: column i
// of every row came from the same device sample.
type Matrix [channel.Count][]float64

// Columns returns the number of samples per channel.
func (m Matrix) Columns() int {
	return len(m[0])
}

// Row returns the samples of one channel.
func (m Matrix) Row(c channel.Channel) []float64 {
	return m[c]
}

// Window is a single capture request.
type Window struct {
	slot   *Slot
	target int
	done   chan struct{}

	// guarded by slot.mu
	state State
	data  Matrix
}

// Slot coordinates the single active capture.
type Slot struct {
	mu     sync.Mutex
	active *Window
	closed bool
}

// NewSlot creates an empty slot.
func NewSlot() *Slot {
	return &Slot{}
}

// Arm creates a window that completes after target samples per channel.
func (s *Slot) Arm(target int) (*Window, error) {
	if target <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidTarget, target)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if s.active != nil {
		return nil, ErrConflict
	}

	w := &Window{
		slot:   s,
		target: target,
		done:   make(chan struct{}),
		state:  Armed,
	}
	for c := range w.data {
		w.data[c] = make([]float64, 0, target)
	}
	s.active = w
	return w, nil
}

// Armed reports whether a window is waiting for samples.
func (s *Slot) Armed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

// Feed appends one block of converted samples to the armed window, if any.
// The whole block is appended under the slot lock, so a concurrent Cancel
// takes effect between blocks, never inside one. Samples beyond the target
// are dropped. Feed reports whether this block completed the window.
func (s *Slot) Feed(cols [channel.Count][]float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.active
	if w == nil {
		return false
	}

	n := w.target - len(w.data[0])
	for _, col := range cols {
		n = min(n, len(col))
	}
	for c, col := range cols {
		w.data[c] = append(w.data[c], col[:n]...)
	}

	if len(w.data[0]) < w.target {
		return false
	}
	w.state = Completed
	s.active = nil
	close(w.done)
	return true
}

// Cancel cancels the armed window, if any. It reports whether a window was
// cancelled.
func (s *Slot) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil {
		return false
	}
	s.cancelLocked(s.active)
	return true
}

// Close cancels the armed window, if any, and makes every later Arm fail
// with ErrClosed. The producer closes the slot when it stops so that no
// window can be armed after the last block was fed.
func (s *Slot) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	if s.active != nil {
		s.cancelLocked(s.active)
	}
}

// Progress reports the armed window's collected and target lengths.
func (s *Slot) Progress() (collected, target int, armed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil {
		return 0, 0, false
	}
	return len(s.active.data[0]), s.active.target, true
}

func (s *Slot) cancelLocked(w *Window) {
	if w.state != Armed {
		return
	}
	w.state = Cancelled
	w.data = Matrix{}
	if s.active == w {
		s.active = nil
	}
	close(w.done)
}

// Cancel abandons the window. It has no effect once the window resolved.
func (w *Window) Cancel() {
	w.slot.mu.Lock()
	defer w.slot.mu.Unlock()
	w.slot.cancelLocked(w)
}

// Done is closed when the window completes or is cancelled.
func (w *Window) Done() <-chan struct{} {
	return w.done
}

// State returns the current lifecycle state.
func (w *Window) State() State {
	w.slot.mu.Lock()
	defer w.slot.mu.Unlock()
	return w.state
}

// Progress returns the samples collected per channel and the target.
func (w *Window) Progress() (int, int) {
	w.slot.mu.Lock()
	defer w.slot.mu.Unlock()
	return len(w.data[0]), w.target
}

// Wait blocks until the window resolves. It returns the captured matrix on
// completion and ErrCancelled otherwise. If ctx ends first the window is
// cancelled; a window that completed in the meantime still returns its data.
func (w *Window) Wait(ctx context.Context) (Matrix, error) {
	select {
	case <-w.done:
	case <-ctx.Done():
		w.Cancel()
		<-w.done
	}

	w.slot.mu.Lock()
	state, data := w.state, w.data
	w.slot.mu.Unlock()

	if state == Completed {
		return data, nil
	}
	if err := ctx.Err(); err != nil {
		return Matrix{}, fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	return Matrix{}, ErrCancelled
}
