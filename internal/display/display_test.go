package display

import (
	"math"
	"testing"
	"time"

	"github.com/sweeney/physio-sensor/internal/buffer"
	"github.com/sweeney/physio-sensor/internal/channel"
)

func newBuffers(capacity int) [channel.Count]*buffer.ChannelBuffer {
	var bufs [channel.Count]*buffer.ChannelBuffer
	for c := range bufs {
		bufs[c] = buffer.New(capacity)
	}
	return bufs
}

func TestRenderEmptyBuffers(t *testing.T) {
	r := NewRenderer(newBuffers(80), 8*time.Second)
	f := r.RenderTick(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	for c, tr := range f.Traces {
		if len(tr.Values) != 0 || len(tr.Times) != 0 {
			t.Errorf("channel %d: expected empty trace, got %d values %d times", c, len(tr.Values), len(tr.Times))
		}
		if tr.Channel != channel.Channel(c) {
			t.Errorf("trace %d labelled %v", c, tr.Channel)
		}
	}
}

func TestRenderPartialBuffer(t *testing.T) {
	bufs := newBuffers(80)
	bufs[channel.ECG].Append([]float64{1, 2, 3, 4, 5})

	now := time.Date(2026, 1, 1, 0, 0, 10, 0, time.UTC)
	f := NewRenderer(bufs, 8*time.Second).RenderTick(now)

	ecg := f.Traces[channel.ECG]
	if len(ecg.Times) != len(ecg.Values) || len(ecg.Values) != 5 {
		t.Fatalf("ECG trace: %d times, %d values", len(ecg.Times), len(ecg.Values))
	}
	if ecg.Times[0] != float64(now.Unix()-8) {
		t.Errorf("first time: got %v, want %v", ecg.Times[0], now.Unix()-8)
	}
	if ecg.Times[4] != float64(now.Unix()) {
		t.Errorf("last time: got %v, want %v", ecg.Times[4], now.Unix())
	}
	if len(f.Traces[channel.EDA].Values) != 0 {
		t.Error("EDA trace should be empty")
	}
	if !f.From.Equal(now.Add(-8 * time.Second)) {
		t.Errorf("From: got %v", f.From)
	}
}

func TestRenderDoesNotMutate(t *testing.T) {
	bufs := newBuffers(4)
	bufs[channel.Respiration].Append([]float64{1, 2, 3})
	r := NewRenderer(bufs, time.Second)

	f := r.RenderTick(time.Now())
	f.Traces[channel.Respiration].Values[0] = 99

	if got := bufs[channel.Respiration].Snapshot(); got[0] != 1 || len(got) != 3 {
		t.Errorf("buffer mutated by renderer consumer: %v", got)
	}
}

func TestLinspace(t *testing.T) {
	got := linspace(0, 8, 5)
	want := []float64{0, 2, 4, 6, 8}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-12 {
			t.Errorf("linspace[%d]: got %v, want %v", i, got[i], want[i])
		}
	}
	if one := linspace(0, 8, 1); len(one) != 1 || one[0] != 8 {
		t.Errorf("single point: got %v", one)
	}
}
