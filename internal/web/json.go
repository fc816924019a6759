package web

import (
	"encoding/json"
	"time"

	"github.com/sweeney/physio-sensor/internal/display"
	"github.com/sweeney/physio-sensor/internal/session"
	"github.com/sweeney/physio-sensor/internal/status"
)

// SignalsJSON is the JSON representation of one display frame.
type SignalsJSON struct {
	Timestamp string      `json:"timestamp"`
	From      string      `json:"from"`
	Traces    []TraceJSON `json:"traces"`
}

// TraceJSON is one channel's plot data. T holds unix seconds.
type TraceJSON struct {
	Channel string    `json:"channel"`
	Unit    string    `json:"unit"`
	T       []float64 `json:"t"`
	Values  []float64 `json:"values"`
}

// DecisionJSON wraps a decision returned by POST /decision.
type DecisionJSON struct {
	Decision status.DecisionJSON `json:"decision"`
}

func formatSignals(f display.Frame, points int) []byte {
	out := SignalsJSON{
		Timestamp: f.Now.UTC().Format(time.RFC3339Nano),
		From:      f.From.UTC().Format(time.RFC3339Nano),
	}
	for _, tr := range f.Traces {
		times, values := tr.Times, tr.Values
		if points > 0 {
			times, values = decimate(times, points), decimate(values, points)
		}
		out.Traces = append(out.Traces, TraceJSON{
			Channel: tr.Channel.String(),
			Unit:    tr.Channel.Unit(),
			T:       times,
			Values:  values,
		})
	}
	data, _ := json.Marshal(out)
	return data
}

// decimate keeps at most n evenly strided samples, always including the
// first and the last.
func decimate(xs []float64, n int) []float64 {
	if len(xs) <= n {
		return xs
	}
	out := make([]float64, n)
	step := float64(len(xs)-1) / float64(n-1)
	for i := range out {
		out[i] = xs[int(float64(i)*step+0.5)]
	}
	return out
}

func formatDecision(d session.Decision) []byte {
	features := d.Features
	if features == nil {
		features = []float64{}
	}
	data, _ := json.Marshal(DecisionJSON{Decision: status.DecisionJSON{
		ID:          d.ID,
		Label:       d.Label.String(),
		Model:       d.Model,
		RequestedAt: d.RequestedAt.UTC().Format(time.RFC3339),
		DecidedAt:   d.DecidedAt.UTC().Format(time.RFC3339),
		Features:    features,
	}})
	return data
}
