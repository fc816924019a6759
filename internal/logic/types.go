// Package logic contains pure decision-trigger logic for the detect button
// and the truth/lie indicator lamps.
// This package has NO external dependencies (no GPIO, MQTT, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import "time"

// State represents the debounced state of the detect button.
type State string

const (
	StatePressed  State = "PRESSED"
	StateReleased State = "RELEASED"
)

// EventType represents a button transition event.
type EventType string

const (
	EventPress   EventType = "PRESS"
	EventRelease EventType = "RELEASE"
)

// Event represents a debounced button transition.
type Event struct {
	Timestamp time.Time
	Type      EventType
}

// ButtonState tracks debounce state for the button line.
type ButtonState struct {
	// Current stable (debounced) state
	Stable State
	// Pending state during debounce
	Pending State
	// Time when pending state was first observed
	PendingSince time.Time
	// Whether we have established a baseline
	Baselined bool
}

// Input represents a single sample of the button line.
type Input struct {
	Pressed bool // already inverted from raw GPIO
	Time    time.Time
}

// Counts tracks presses and decision outcomes since startup.
type Counts struct {
	Presses int
	Truth   int
	Lie     int
}

// HeartbeatData contains information for a heartbeat event.
type HeartbeatData struct {
	Timestamp time.Time
	Uptime    time.Duration
	Counts    Counts
}

// Lamp identifies which indicator should be lit.
type Lamp string

const (
	LampNone  Lamp = "NONE"
	LampTruth Lamp = "TRUTH"
	LampLie   Lamp = "LIE"
)
