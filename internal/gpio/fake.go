package gpio

import (
	"errors"
	"sync"
)

// FakeButton is a test double that returns scripted button states.
type FakeButton struct {
	// Samples contains scripted pressed values to return.
	// Each call to Pressed() consumes the next sample.
	Samples []bool

	// index tracks current position in Samples
	index int

	// Closed tracks if Close was called
	Closed bool

	// ReadError, if set, will be returned by Pressed()
	ReadError error
}

// NewFakeButton creates a FakeButton with the given samples.
func NewFakeButton(samples ...bool) *FakeButton {
	return &FakeButton{Samples: samples}
}

// Pressed returns the next scripted sample.
// If samples are exhausted, returns the last sample repeatedly.
func (f *FakeButton) Pressed() (bool, error) {
	if f.ReadError != nil {
		return false, f.ReadError
	}

	if len(f.Samples) == 0 {
		return false, errors.New("no samples configured")
	}

	sample := f.Samples[f.index]
	if f.index < len(f.Samples)-1 {
		f.index++
	}
	return sample, nil
}

// Close marks the button as closed.
func (f *FakeButton) Close() error {
	f.Closed = true
	return nil
}

// LampState is one recorded indicator write.
type LampState struct {
	Truth bool
	Lie   bool
}

// FakeIndicator records every Set call.
type FakeIndicator struct {
	mu     sync.Mutex
	states []LampState
	closed bool

	// SetError, if set, will be returned by Set()
	SetError error
}

// NewFakeIndicator creates an empty FakeIndicator.
func NewFakeIndicator() *FakeIndicator {
	return &FakeIndicator{}
}

// Set records the lamp state.
func (f *FakeIndicator) Set(truth, lie bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SetError != nil {
		return f.SetError
	}
	f.states = append(f.states, LampState{Truth: truth, Lie: lie})
	return nil
}

// Close marks the indicator as closed.
func (f *FakeIndicator) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// States returns a copy of all recorded writes.
func (f *FakeIndicator) States() []LampState {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]LampState, len(f.states))
	copy(out, f.states)
	return out
}

// Last returns the most recent write, or both lamps off.
func (f *FakeIndicator) Last() LampState {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.states) == 0 {
		return LampState{}
	}
	return f.states[len(f.states)-1]
}

// IsClosed reports whether Close was called.
func (f *FakeIndicator) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
