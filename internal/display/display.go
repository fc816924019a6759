// Package display turns channel buffer snapshots into plot-ready traces.
// It only reads the buffers and never blocks the acquisition loop beyond
// the buffer's own snapshot copy.
package display

import (
	"time"

	"github.com/sweeney/physio-sensor/internal/buffer"
	"github.com/sweeney/physio-sensor/internal/channel"
)

// Trace is the data for one channel plot.
type Trace struct {
	Channel channel.Channel
	Times   []float64 // unix seconds, same length as Values
	Values  []float64
}

// Frame holds one trace per channel taken at the same tick.
type Frame struct {
	Now    time.Time
	From   time.Time
	Traces [channel.Count]Trace
}

// Renderer produces frames from the channel buffers.
type Renderer struct {
	bufs    [channel.Count]*buffer.ChannelBuffer
	history time.Duration
}

// NewRenderer creates a renderer covering history seconds of data.
func NewRenderer(bufs [channel.Count]*buffer.ChannelBuffer, history time.Duration) *Renderer {
	return &Renderer{bufs: bufs, history: history}
}

// RenderTick snapshots every buffer and builds a time axis for each,
// spaced evenly over [now-history, now]. Buffers that are not yet full
// render whatever they hold.
func (r *Renderer) RenderTick(now time.Time) Frame {
	from := now.Add(-r.history)
	f := Frame{Now: now, From: from}
	for _, c := range channel.All {
		values := r.bufs[c].Snapshot()
		f.Traces[c] = Trace{
			Channel: c,
			Times:   linspace(unixSeconds(from), unixSeconds(now), len(values)),
			Values:  values,
		}
	}
	return f
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// linspace returns n evenly spaced points from start to end inclusive.
// A single point sits at end.
func linspace(start, end float64, n int) []float64 {
	out := make([]float64, n)
	switch n {
	case 0:
		return out
	case 1:
		out[0] = end
		return out
	}
	step := (end - start) / float64(n-1)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	out[n-1] = end
	return out
}
