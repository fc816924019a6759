package logic

import "time"

// Detector debounces the detect button and turns presses into triggers.
type Detector struct {
	debounceDuration time.Duration
	button           ButtonState
	startTime        time.Time
	counts           Counts
	lastHeartbeat    time.Time
}

// NewDetector creates a new button detector with the given debounce duration.
// The startTime is used for calculating uptime in heartbeat events.
func NewDetector(debounceDuration time.Duration, startTime time.Time) *Detector {
	return &Detector{
		debounceDuration: debounceDuration,
		startTime:        startTime,
		lastHeartbeat:    startTime,
	}
}

// Process takes a new input sample and returns the event to emit, if any.
// Nothing is emitted until a baseline is established, so a button held down
// at startup does not trigger a decision.
func (d *Detector) Process(input Input) *Event {
	state := StateReleased
	if input.Pressed {
		state = StatePressed
	}

	if !d.button.Baselined {
		d.baseline(state, input.Time)
		return nil
	}

	if state == d.button.Stable {
		d.button.Pending = ""
		return nil
	}

	if d.button.Pending != state {
		d.button.Pending = state
		d.button.PendingSince = input.Time
		return nil
	}

	if input.Time.Sub(d.button.PendingSince) < d.debounceDuration {
		return nil
	}

	d.button.Stable = state
	d.button.Pending = ""

	ev := &Event{Timestamp: input.Time, Type: EventRelease}
	if state == StatePressed {
		ev.Type = EventPress
		d.counts.Presses++
	}
	return ev
}

func (d *Detector) baseline(state State, now time.Time) {
	b := &d.button
	if b.Pending != state {
		// First sample, or the line changed during baseline: restart.
		b.Pending = state
		b.PendingSince = now
		return
	}
	if now.Sub(b.PendingSince) >= d.debounceDuration {
		b.Stable = state
		b.Baselined = true
		b.Pending = ""
	}
}

// IsBaselined returns whether the detector has established a baseline.
func (d *Detector) IsBaselined() bool {
	return d.button.Baselined
}

// CurrentState returns the current stable button state.
func (d *Detector) CurrentState() State {
	return d.button.Stable
}

// RecordDecision counts a decision outcome for heartbeats.
func (d *Detector) RecordDecision(lie bool) {
	if lie {
		d.counts.Lie++
	} else {
		d.counts.Truth++
	}
}

// Counts returns the counters since startup.
func (d *Detector) Counts() Counts {
	return d.counts
}

// CheckHeartbeat returns heartbeat data if the interval has elapsed since the
// last heartbeat (or startup). Returns nil if the interval has not elapsed
// or if interval is <= 0 (disabled).
func (d *Detector) CheckHeartbeat(now time.Time, interval time.Duration) *HeartbeatData {
	if interval <= 0 {
		return nil
	}

	if now.Sub(d.lastHeartbeat) < interval {
		return nil
	}

	d.lastHeartbeat = now
	return &HeartbeatData{
		Timestamp: now,
		Uptime:    now.Sub(d.startTime),
		Counts:    d.counts,
	}
}
