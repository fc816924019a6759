package status

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/physio-sensor/internal/classify"
	"github.com/sweeney/physio-sensor/internal/logic"
	"github.com/sweeney/physio-sensor/internal/session"
)

func TestNewTracker(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := Config{Device: "/dev/rfcomm0", SamplingRate: 1000, Broker: "tcp://localhost:1883", HTTPAddr: ":8080"}
	tr := NewTracker(start, cfg)

	snap := tr.Snapshot()
	if !snap.StartTime.Equal(start) {
		t.Errorf("StartTime: got %v, want %v", snap.StartTime, start)
	}
	if snap.Config.SamplingRate != 1000 {
		t.Errorf("Config.SamplingRate: got %d, want 1000", snap.Config.SamplingRate)
	}
	if snap.Config.HTTPAddr != ":8080" {
		t.Errorf("Config.HTTPAddr: got %q, want %q", snap.Config.HTTPAddr, ":8080")
	}
	if snap.Lamp != logic.LampNone {
		t.Errorf("Lamp: got %q, want NONE", snap.Lamp)
	}
	if snap.LastDecision != nil {
		t.Error("expected no decision initially")
	}
	if snap.MQTTConnected {
		t.Error("expected MQTTConnected=false initially")
	}
}

func TestUpdateSession(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	tr.UpdateSession(session.Stats{State: session.Recording, Blocks: 3, Rows: 3000, ModelLoaded: true, Model: "m"})

	snap := tr.Snapshot()
	if snap.Session.State != session.Recording {
		t.Errorf("State: got %s, want RECORDING", snap.Session.State)
	}
	if snap.Session.Rows != 3000 {
		t.Errorf("Rows: got %d, want 3000", snap.Session.Rows)
	}
}

func TestPendingAndDecision(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	tr.SetPending(true)
	if !tr.Snapshot().Pending {
		t.Fatal("expected Pending=true")
	}

	tr.SetDecision(session.Decision{ID: "a", Label: classify.Lie})
	snap := tr.Snapshot()
	if snap.Pending {
		t.Error("SetDecision should clear Pending")
	}
	if snap.LastDecision == nil || snap.LastDecision.ID != "a" {
		t.Errorf("LastDecision: got %+v", snap.LastDecision)
	}
}

func TestSetMQTTConnected(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	tr.SetMQTTConnected(true)
	if !tr.Snapshot().MQTTConnected {
		t.Error("expected MQTTConnected=true")
	}

	tr.SetMQTTConnected(false)
	if tr.Snapshot().MQTTConnected {
		t.Error("expected MQTTConnected=false")
	}
}

func TestSnapshotUptime(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		StartTime: start,
		Now:       start.Add(15 * time.Minute),
	}

	if snap.Uptime() != 15*time.Minute {
		t.Errorf("Uptime: got %v, want 15m", snap.Uptime())
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	tr.UpdateButton(logic.StatePressed, logic.Counts{Presses: 1})
	tr.SetDecision(session.Decision{ID: "a", Features: []float64{1, 2}})

	snap1 := tr.Snapshot()
	snap1.LastDecision.Features[0] = 99

	tr.UpdateButton(logic.StateReleased, logic.Counts{Presses: 1})
	tr.SetDecision(session.Decision{ID: "b"})

	if snap1.Button != logic.StatePressed {
		t.Error("snapshot should be a copy; Button was modified")
	}
	if snap1.LastDecision.ID != "a" {
		t.Error("snapshot should be a copy; LastDecision was modified")
	}

	tr.SetDecision(session.Decision{ID: "c", Features: []float64{1, 2}})
	tr.Snapshot().LastDecision.Features[0] = 99
	if got := tr.Snapshot().LastDecision.Features[0]; got != 1 {
		t.Errorf("snapshot features alias tracker state: got %v", got)
	}
}

func TestFormatJSON(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		Session: session.Stats{
			State:           session.Recording,
			Blocks:          12,
			Rows:            12000,
			CaptureArmed:    true,
			CaptureProgress: 4000,
			CaptureTarget:   10000,
			ModelLoaded:     true,
			Model:           "baseline",
		},
		Pending: true,
		LastDecision: &session.Decision{
			ID:          "d1",
			Label:       classify.Truth,
			RequestedAt: start.Add(time.Minute),
			DecidedAt:   start.Add(time.Minute + 10*time.Second),
			Features:    []float64{0.5},
		},
		Button:        logic.StateReleased,
		Lamp:          logic.LampTruth,
		Counts:        logic.Counts{Presses: 2, Truth: 1},
		StartTime:     start,
		Now:           start.Add(2 * time.Hour),
		MQTTConnected: true,
		Config:        Config{Device: "fake", SamplingRate: 1000, Broker: "tcp://b:1883", HTTPAddr: ":8080"},
	}

	var parsed StatusJSON
	if err := json.Unmarshal(FormatJSON(snap), &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	s := parsed.Status

	if s.State != "RECORDING" {
		t.Errorf("state: got %q", s.State)
	}
	if s.UptimeSeconds != 7200 {
		t.Errorf("uptime_seconds: got %d, want 7200", s.UptimeSeconds)
	}
	if s.StartTime != "2026-01-01T00:00:00Z" {
		t.Errorf("start_time: got %q", s.StartTime)
	}
	if s.Acquisition.Rows != 12000 {
		t.Errorf("rows: got %d", s.Acquisition.Rows)
	}
	if !s.Capture.Armed || !s.Capture.Pending || s.Capture.Collected != 4000 || s.Capture.Target != 10000 {
		t.Errorf("capture: got %+v", s.Capture)
	}
	if !s.Model.Loaded || s.Model.Name != "baseline" {
		t.Errorf("model: got %+v", s.Model)
	}
	if s.LastDecision == nil || s.LastDecision.Label != "TRUTH" || s.LastDecision.DecidedAt != "2026-01-01T00:01:10Z" {
		t.Errorf("last_decision: got %+v", s.LastDecision)
	}
	if s.Button != "RELEASED" || s.Lamp != "TRUTH" {
		t.Errorf("button/lamp: got %q/%q", s.Button, s.Lamp)
	}
	if s.Counts.Presses != 2 || s.Counts.Truth != 1 {
		t.Errorf("counts: got %+v", s.Counts)
	}
	if !s.MQTT.Connected || s.MQTT.Broker != "tcp://b:1883" {
		t.Errorf("mqtt: got %+v", s.MQTT)
	}
	if s.Config.SamplingRate != 1000 || s.Config.HTTPAddr != ":8080" {
		t.Errorf("config: got %+v", s.Config)
	}
	if s.Error != "" {
		t.Errorf("error should be omitted, got %q", s.Error)
	}
}

func TestFormatJSONUnknownAndError(t *testing.T) {
	snap := Snapshot{
		Session: session.Stats{State: session.Stopped, Err: errors.New("read: link lost")},
	}

	var parsed StatusJSON
	if err := json.Unmarshal(FormatJSON(snap), &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Status.Button != "UNKNOWN" || parsed.Status.Lamp != "UNKNOWN" {
		t.Errorf("expected UNKNOWN button/lamp, got %q/%q", parsed.Status.Button, parsed.Status.Lamp)
	}
	if parsed.Status.State != "STOPPED" || parsed.Status.Error != "read: link lost" {
		t.Errorf("state/error: got %q/%q", parsed.Status.State, parsed.Status.Error)
	}
	if parsed.Status.LastDecision != nil {
		t.Error("last_decision should be omitted")
	}
}

func TestConcurrentAccess(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	var wg sync.WaitGroup

	// Writer
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			tr.UpdateSession(session.Stats{Blocks: uint64(i)})
			tr.UpdateButton(logic.StatePressed, logic.Counts{Presses: i})
			tr.SetDecision(session.Decision{Features: []float64{float64(i)}})
			tr.SetMQTTConnected(i%2 == 0)
		}
	}()

	// Reader
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			snap := tr.Snapshot()
			_ = snap.Uptime()
			_ = FormatJSON(snap)
		}
	}()

	wg.Wait()
}
