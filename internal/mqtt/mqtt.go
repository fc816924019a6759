// Package mqtt provides MQTT publishing with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/physio-sensor/internal/logic"
	"github.com/sweeney/physio-sensor/internal/session"
)

// TopicDecisions is the MQTT topic for classification decisions.
const TopicDecisions = "physio/sensor/decisions"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "physio/sensor/system"

// Lifecycle event names.
const (
	EventStartup      = "STARTUP"
	EventShutdown     = "SHUTDOWN"
	EventHeartbeat    = "HEARTBEAT"
	EventSessionEnded = "SESSION_ENDED"
	EventModelLoaded  = "MODEL_LOADED"
	EventOffline      = "OFFLINE"
)

// Publisher publishes events to MQTT.
type Publisher interface {
	// PublishDecision sends a classification decision to the broker.
	// Returns error if publishing fails (should not crash the process).
	PublishDecision(d session.Decision) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event.
type SystemEvent struct {
	Timestamp time.Time
	Event     string // e.g., "STARTUP", "SHUTDOWN", "SESSION_ENDED"
	Reason    string // e.g., "SIGTERM", or the read error that ended a session

	// Startup details
	Device       string
	SamplingRate int
	Model        string

	// Heartbeat details
	Uptime time.Duration
	Counts *logic.Counts

	Retained bool // Whether the message should be retained by the broker
}

// DecisionPayload represents the MQTT message payload for a decision.
type DecisionPayload struct {
	Decision DecisionInner `json:"decision"`
}

// DecisionInner contains the decision details.
type DecisionInner struct {
	ID          string    `json:"id"`
	Timestamp   string    `json:"timestamp"`
	RequestedAt string    `json:"requested_at"`
	Label       string    `json:"label"`
	Model       string    `json:"model,omitempty"`
	Features    []float64 `json:"features"`
}

// FormatDecisionPayload creates the JSON payload for a decision.
func FormatDecisionPayload(d session.Decision) ([]byte, error) {
	features := d.Features
	if features == nil {
		features = []float64{}
	}
	payload := DecisionPayload{
		Decision: DecisionInner{
			ID:          d.ID,
			Timestamp:   d.DecidedAt.UTC().Format(time.RFC3339),
			RequestedAt: d.RequestedAt.UTC().Format(time.RFC3339),
			Label:       d.Label.String(),
			Model:       d.Model,
			Features:    features,
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp     string         `json:"timestamp"`
	Event         string         `json:"event"`
	Reason        string         `json:"reason,omitempty"`
	Device        string         `json:"device,omitempty"`
	SamplingRate  int            `json:"sampling_rate,omitempty"`
	Model         string         `json:"model,omitempty"`
	UptimeSeconds int64          `json:"uptime_seconds,omitempty"`
	Counts        *CountsPayload `json:"counts,omitempty"`
}

// CountsPayload reports presses and decision outcomes since startup.
type CountsPayload struct {
	Presses int `json:"presses"`
	Truth   int `json:"truth"`
	Lie     int `json:"lie"`
}

// FormatSystemPayload creates the JSON payload for a system event.
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	inner := SystemPayloadInner{
		Timestamp:     event.Timestamp.UTC().Format(time.RFC3339),
		Event:         event.Event,
		Reason:        event.Reason,
		Device:        event.Device,
		SamplingRate:  event.SamplingRate,
		Model:         event.Model,
		UptimeSeconds: int64(event.Uptime / time.Second),
	}
	if event.Counts != nil {
		inner.Counts = &CountsPayload{
			Presses: event.Counts.Presses,
			Truth:   event.Counts.Truth,
			Lie:     event.Counts.Lie,
		}
	}
	return json.Marshal(SystemPayload{System: inner})
}
