// Package classify defines the decision model consumed by the session and a
// small linear model that can be loaded from YAML.
package classify

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sync/atomic"

	"github.com/sweeney/physio-sensor/internal/capture"
	"gopkg.in/yaml.v3"
)

// Label is a binary decision.
type Label int

const (
	Truth Label = 0
	Lie   Label = 1
)

func (l Label) String() string {
	switch l {
	case Truth:
		return "TRUTH"
	case Lie:
		return "LIE"
	default:
		return "UNKNOWN"
	}
}

// Classifier maps a feature vector to a label.
type Classifier interface {
	Predict(features []float64) (Label, error)
}

// FeatureFunc turns a captured window into a feature vector.
type FeatureFunc func(m capture.Matrix) []float64

// ErrFeatureCount is returned when a model receives the wrong number of features.
var ErrFeatureCount = errors.New("feature count mismatch")

// SummaryFeatures returns the mean and standard deviation of every channel,
// in channel order.
func SummaryFeatures(m capture.Matrix) []float64 {
	out := make([]float64, 0, 2*len(m))
	for _, row := range m {
		mean, std := meanStd(row)
		out = append(out, mean, std)
	}
	return out
}

func meanStd(xs []float64) (float64, float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	var ss float64
	for _, x := range xs {
		ss += (x - mean) * (x - mean)
	}
	return mean, math.Sqrt(ss / float64(len(xs)))
}

// LinearModel is a logistic-style linear classifier:
// Lie when sigmoid(w·x + bias) >= threshold.
type LinearModel struct {
	Name      string    `yaml:"name"`
	Weights   []float64 `yaml:"weights"`
	Bias      float64   `yaml:"bias"`
	Threshold float64   `yaml:"threshold"`
}

// Predict implements Classifier.
func (m *LinearModel) Predict(features []float64) (Label, error) {
	if len(features) != len(m.Weights) {
		return Truth, fmt.Errorf("%w: got %d, model expects %d", ErrFeatureCount, len(features), len(m.Weights))
	}
	z := m.Bias
	for i, w := range m.Weights {
		z += w * features[i]
	}
	if 1/(1+math.Exp(-z)) >= m.Threshold {
		return Lie, nil
	}
	return Truth, nil
}

// Load reads a LinearModel from a YAML file.
func Load(path string) (*LinearModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}

	m := LinearModel{Threshold: 0.5}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse model %s: %w", path, err)
	}
	if len(m.Weights) == 0 {
		return nil, fmt.Errorf("model %s: no weights", path)
	}
	if m.Threshold <= 0 || m.Threshold >= 1 {
		return nil, fmt.Errorf("model %s: threshold %v outside (0, 1)", path, m.Threshold)
	}
	if m.Name == "" {
		m.Name = path
	}
	return &m, nil
}

// Holder holds the current classifier and can be swapped while in use.
type Holder struct {
	p atomic.Pointer[holderEntry]
}

type holderEntry struct {
	c    Classifier
	name string
}

// Set installs c. A nil c unloads the model.
func (h *Holder) Set(c Classifier, name string) {
	if c == nil {
		h.p.Store(nil)
		return
	}
	h.p.Store(&holderEntry{c: c, name: name})
}

// Get returns the current classifier, or nil if none is loaded.
func (h *Holder) Get() Classifier {
	if e := h.p.Load(); e != nil {
		return e.c
	}
	return nil
}

// Name returns the name of the loaded model, or "".
func (h *Holder) Name() string {
	if e := h.p.Load(); e != nil {
		return e.name
	}
	return ""
}
