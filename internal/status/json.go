package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	State         string        `json:"state"`
	Error         string        `json:"error,omitempty"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	StartTime     string        `json:"start_time"`
	Timestamp     string        `json:"timestamp"`
	Acquisition   Acquisition   `json:"acquisition"`
	Capture       CaptureJSON   `json:"capture"`
	Model         ModelJSON     `json:"model"`
	LastDecision  *DecisionJSON `json:"last_decision,omitempty"`
	Button        string        `json:"button"`
	Lamp          string        `json:"lamp"`
	Counts        CountsJSON    `json:"counts"`
	MQTT          MQTTStatus    `json:"mqtt"`
	Config        ConfigJSON    `json:"config"`
}

// Acquisition reports loop progress.
type Acquisition struct {
	Blocks uint64 `json:"blocks"`
	Rows   uint64 `json:"rows"`
}

// CaptureJSON reports the armed window, if any.
type CaptureJSON struct {
	Armed     bool `json:"armed"`
	Pending   bool `json:"pending"`
	Collected int  `json:"collected"`
	Target    int  `json:"target"`
}

// ModelJSON reports the loaded classifier.
type ModelJSON struct {
	Loaded bool   `json:"loaded"`
	Name   string `json:"name,omitempty"`
}

// DecisionJSON is the JSON representation of a decision.
type DecisionJSON struct {
	ID          string    `json:"id"`
	Label       string    `json:"label"`
	Model       string    `json:"model,omitempty"`
	RequestedAt string    `json:"requested_at"`
	DecidedAt   string    `json:"decided_at"`
	Features    []float64 `json:"features"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of counters since startup.
type CountsJSON struct {
	Presses int `json:"presses"`
	Truth   int `json:"truth"`
	Lie     int `json:"lie"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Device         string `json:"device"`
	SamplingRate   int    `json:"sampling_rate"`
	HistorySeconds int    `json:"history_seconds"`
	WindowSeconds  int    `json:"window_seconds"`
	Broker         string `json:"broker"`
	HTTPAddr       string `json:"http_addr"`
	GPIO           bool   `json:"gpio"`
}

func orUnknown(s string) string {
	if s == "" {
		return "UNKNOWN"
	}
	return s
}

func buildInner(snap Snapshot) StatusInner {
	st := snap.Session
	inner := StatusInner{
		State:         st.State.String(),
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		Acquisition:   Acquisition{Blocks: st.Blocks, Rows: st.Rows},
		Capture: CaptureJSON{
			Armed:     st.CaptureArmed,
			Pending:   snap.Pending,
			Collected: st.CaptureProgress,
			Target:    st.CaptureTarget,
		},
		Model:  ModelJSON{Loaded: st.ModelLoaded, Name: st.Model},
		Button: orUnknown(string(snap.Button)),
		Lamp:   orUnknown(string(snap.Lamp)),
		Counts: CountsJSON{
			Presses: snap.Counts.Presses,
			Truth:   snap.Counts.Truth,
			Lie:     snap.Counts.Lie,
		},
		MQTT: MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Config: ConfigJSON{
			Device:         snap.Config.Device,
			SamplingRate:   snap.Config.SamplingRate,
			HistorySeconds: snap.Config.HistorySeconds,
			WindowSeconds:  snap.Config.WindowSeconds,
			Broker:         snap.Config.Broker,
			HTTPAddr:       snap.Config.HTTPAddr,
			GPIO:           snap.Config.GPIOEnabled,
		},
	}
	if st.Err != nil {
		inner.Error = st.Err.Error()
	}
	if d := snap.LastDecision; d != nil {
		inner.LastDecision = &DecisionJSON{
			ID:          d.ID,
			Label:       d.Label.String(),
			Model:       d.Model,
			RequestedAt: d.RequestedAt.UTC().Format(time.RFC3339),
			DecidedAt:   d.DecidedAt.UTC().Format(time.RFC3339),
			Features:    d.Features,
		}
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint.
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}
