package classify

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sweeney/physio-sensor/internal/capture"
)

func writeModel(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "model.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadModel(t *testing.T) {
	path := writeModel(t, t.TempDir(), `
name: baseline-v1
weights: [0, 0, 0, 0, 1, 0]
bias: -10
threshold: 0.5
`)
	m, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "baseline-v1", m.Name)
	require.Len(t, m.Weights, 6)

	// EDA mean 13.75 -> z = 3.75 -> lie
	label, err := m.Predict([]float64{0, 0, 0, 0, 13.75, 0})
	require.NoError(t, err)
	require.Equal(t, Lie, label)

	// EDA mean 5 -> z = -5 -> truth
	label, err = m.Predict([]float64{0, 0, 0, 0, 5, 0})
	require.NoError(t, err)
	require.Equal(t, Truth, label)
}

func TestLoadModelDefaults(t *testing.T) {
	path := writeModel(t, t.TempDir(), "weights: [1]\n")
	m, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 0.5, m.Threshold)
	require.Equal(t, path, m.Name)
}

func TestLoadModelErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)

	_, err = Load(writeModel(t, dir, "weights: [\n"))
	require.Error(t, err)

	_, err = Load(writeModel(t, dir, "bias: 1\n"))
	require.ErrorContains(t, err, "no weights")

	_, err = Load(writeModel(t, dir, "weights: [1]\nthreshold: 1.5\n"))
	require.ErrorContains(t, err, "threshold")
}

func TestPredictFeatureCount(t *testing.T) {
	m := &LinearModel{Weights: []float64{1, 2}, Threshold: 0.5}
	_, err := m.Predict([]float64{1})
	require.ErrorIs(t, err, ErrFeatureCount)
}

func TestSummaryFeatures(t *testing.T) {
	var m capture.Matrix
	m[0] = []float64{1, 1, 1, 1}
	m[1] = []float64{0, 2, 0, 2}
	m[2] = []float64{13.75, 13.75}

	f := SummaryFeatures(m)
	require.Len(t, f, 6)
	require.InDelta(t, 1, f[0], 1e-12)
	require.InDelta(t, 0, f[1], 1e-12)
	require.InDelta(t, 1, f[2], 1e-12)
	require.InDelta(t, 1, f[3], 1e-12)
	require.InDelta(t, 13.75, f[4], 1e-12)
	require.False(t, math.IsNaN(f[5]))
}

func TestHolder(t *testing.T) {
	var h Holder
	require.Nil(t, h.Get())
	require.Equal(t, "", h.Name())

	m := &LinearModel{Weights: []float64{1}, Threshold: 0.5}
	h.Set(m, "m1")
	require.Equal(t, Classifier(m), h.Get())
	require.Equal(t, "m1", h.Name())

	h.Set(nil, "")
	require.Nil(t, h.Get())
}

func TestLabelString(t *testing.T) {
	require.Equal(t, "TRUTH", Truth.String())
	require.Equal(t, "LIE", Lie.String())
	require.Equal(t, "UNKNOWN", Label(5).String())
}

func TestWatchReloadsModel(t *testing.T) {
	dir := t.TempDir()
	path := writeModel(t, dir, "name: v1\nweights: [1]\n")

	var h Holder
	m, err := Load(path)
	require.NoError(t, err)
	h.Set(m, m.Name)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, path, &h) }()

	// Give the watcher time to register before writing.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("name: v2\nweights: [1, 2]\n"), 0o644))

	require.Eventually(t, func() bool { return h.Name() == "v2" }, 2*time.Second, 10*time.Millisecond)

	// A broken file keeps the previous model.
	require.NoError(t, os.WriteFile(path, []byte("weights: [\n"), 0o644))
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, "v2", h.Name())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}
