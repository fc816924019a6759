package mqtt

import (
	"sync"

	"github.com/sweeney/physio-sensor/internal/session"
)

// FakePublisher records published events for test assertions.
// It is safe for concurrent use so that tests can inspect it while the
// daemon loop is running.
type FakePublisher struct {
	mu sync.Mutex

	// Decisions contains all decisions that were published.
	Decisions []session.Decision

	// Payloads contains the JSON payloads of published decisions.
	Payloads [][]byte

	// SystemEvents contains all system events that were published.
	SystemEvents []SystemEvent

	// SystemPayloads contains the JSON payloads for system events.
	SystemPayloads [][]byte

	// PublishError, if set, will be returned by PublishDecision.
	PublishError error

	// PublishSystemError, if set, will be returned by PublishSystem.
	PublishSystemError error

	// Closed tracks if Close was called.
	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

// PublishDecision records the decision.
func (f *FakePublisher) PublishDecision(d session.Decision) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.PublishError != nil {
		return f.PublishError
	}

	payload, err := FormatDecisionPayload(d)
	if err != nil {
		return err
	}
	f.Decisions = append(f.Decisions, d)
	f.Payloads = append(f.Payloads, payload)
	return nil
}

// PublishSystem records the system event.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.PublishSystemError != nil {
		return f.PublishSystemError
	}

	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.SystemEvents = append(f.SystemEvents, event)
	f.SystemPayloads = append(f.SystemPayloads, payload)
	return nil
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// IsConnected reports whether the fake publisher is "connected".
func (f *FakePublisher) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Connected
}

// DecisionCount returns how many decisions were published.
func (f *FakePublisher) DecisionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Decisions)
}

// SystemEventNames returns the Event field of each published system event.
func (f *FakePublisher) SystemEventNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, len(f.SystemEvents))
	for i, e := range f.SystemEvents {
		names[i] = e.Event
	}
	return names
}

// LastSystemEvent returns the most recent system event with the given name.
func (f *FakePublisher) LastSystemEvent(name string) (SystemEvent, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.SystemEvents) - 1; i >= 0; i-- {
		if f.SystemEvents[i].Event == name {
			return f.SystemEvents[i], true
		}
	}
	return SystemEvent{}, false
}

// Reset clears recorded events.
func (f *FakePublisher) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Decisions = nil
	f.Payloads = nil
	f.SystemEvents = nil
	f.SystemPayloads = nil
	f.Closed = false
	f.PublishError = nil
	f.PublishSystemError = nil
	f.Connected = false
}
