// Package status provides a thread-safe status tracker for the physio-sensor
// daemon. It is read by the HTTP handlers and written by the run loop.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/physio-sensor/internal/logic"
	"github.com/sweeney/physio-sensor/internal/session"
)

// Config contains daemon configuration for display.
type Config struct {
	Device         string
	SamplingRate   int
	HistorySeconds int
	WindowSeconds  int
	Broker         string
	HTTPAddr       string
	GPIOEnabled    bool
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type and safe to use after the lock is released.
type Snapshot struct {
	Session       session.Stats
	LastDecision  *session.Decision
	Pending       bool // a decision request is outstanding
	Button        logic.State
	Lamp          logic.Lamp
	Counts        logic.Counts
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
			Lamp:      logic.LampNone,
		},
	}
}

// UpdateSession records the latest session statistics.
// Called from runLoop on every tick.
func (t *Tracker) UpdateSession(st session.Stats) {
	t.mu.Lock()
	t.snap.Session = st
	t.mu.Unlock()
}

// UpdateButton records the debounced button state and counters.
func (t *Tracker) UpdateButton(state logic.State, counts logic.Counts) {
	t.mu.Lock()
	t.snap.Button = state
	t.snap.Counts = counts
	t.mu.Unlock()
}

// SetPending marks whether a decision request is outstanding.
func (t *Tracker) SetPending(pending bool) {
	t.mu.Lock()
	t.snap.Pending = pending
	t.mu.Unlock()
}

// SetDecision records the most recent decision and clears Pending.
func (t *Tracker) SetDecision(d session.Decision) {
	t.mu.Lock()
	t.snap.LastDecision = &d
	t.snap.Pending = false
	t.mu.Unlock()
}

// SetLamp records which indicator lamp is lit.
func (t *Tracker) SetLamp(l logic.Lamp) {
	t.mu.Lock()
	t.snap.Lamp = l
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	if s.LastDecision != nil {
		d := *s.LastDecision
		d.Features = append([]float64(nil), d.Features...)
		s.LastDecision = &d
	}
	s.Now = time.Now()
	return s
}
