package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/physio-sensor/internal/acquisition"
	"github.com/sweeney/physio-sensor/internal/capture"
	"github.com/sweeney/physio-sensor/internal/channel"
	"github.com/sweeney/physio-sensor/internal/classify"
	"github.com/sweeney/physio-sensor/internal/device"
)

// constClassifier always returns the same label and records what it saw.
type constClassifier struct {
	label classify.Label
	mu    sync.Mutex
	seen  [][]float64
}

func (c *constClassifier) Predict(f []float64) (classify.Label, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = append(c.seen, f)
	return c.label, nil
}

func (c *constClassifier) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

func dialer(dev *device.FakeDevice) device.Dialer {
	return func(ctx context.Context, address string) (device.Device, error) {
		return dev, nil
	}
}

func testConfig() Config {
	return Config{Address: "fake", SamplingRate: 10, BlockLength: 10, HistorySeconds: 2, WindowSeconds: 3}
}

func recording(t *testing.T, dev *device.FakeDevice, opts ...Option) *Session {
	t.Helper()
	s, err := New(testConfig(), dialer(dev), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := s.StartRecording(); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	t.Cleanup(func() { s.Stop() })
	return s
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing address", Config{SamplingRate: 100}},
		{"bad rate", Config{Address: "x", SamplingRate: 250}},
		{"zero rate", Config{Address: "x"}},
		{"negative history", Config{Address: "x", SamplingRate: 100, HistorySeconds: -1}},
		{"duplicate inputs", Config{Address: "x", SamplingRate: 100, AnalogInputs: [channel.Count]int{1, 1, 2}}},
		{"unordered inputs", Config{Address: "x", SamplingRate: 100, AnalogInputs: [channel.Count]int{2, 0, 1}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dialled := false
			dial := func(ctx context.Context, address string) (device.Device, error) {
				dialled = true
				return nil, nil
			}
			_, err := New(tt.cfg, dial)
			if !errors.Is(err, ErrConfig) {
				t.Fatalf("expected ErrConfig, got %v", err)
			}
			if dialled {
				t.Error("device was dialled for an invalid configuration")
			}
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{Address: "x", SamplingRate: 1000}.WithDefaults()
	if cfg.HistorySeconds != 8 || cfg.WindowSeconds != 10 {
		t.Errorf("history/window: got %d/%d, want 8/10", cfg.HistorySeconds, cfg.WindowSeconds)
	}
	if cfg.BlockLength != 1000 {
		t.Errorf("BlockLength: got %d, want 1000", cfg.BlockLength)
	}
	if cfg.AnalogInputs != [channel.Count]int{0, 1, 2} {
		t.Errorf("AnalogInputs: got %v", cfg.AnalogInputs)
	}
}

func TestLifecycleOrdering(t *testing.T) {
	dev := device.NewFakeDevice()
	s, err := New(testConfig(), dialer(dev))
	if err != nil {
		t.Fatal(err)
	}

	if s.State() != Idle {
		t.Fatalf("initial state: got %s", s.State())
	}
	if err := s.StartRecording(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("start before connect: got %v", err)
	}
	if _, err := s.RequestDecision(context.Background()); !errors.Is(err, ErrNotRecording) {
		t.Errorf("decision while idle: got %v", err)
	}

	if err := s.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if s.State() != Connected {
		t.Fatalf("after connect: got %s", s.State())
	}
	if err := s.Connect(context.Background()); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second connect: got %v", err)
	}
	if _, err := s.RequestDecision(context.Background()); !errors.Is(err, ErrNotRecording) {
		t.Errorf("decision while connected: got %v", err)
	}

	if err := s.StartRecording(); err != nil {
		t.Fatal(err)
	}
	if s.State() != Recording {
		t.Fatalf("after start: got %s", s.State())
	}
	if dev.Rate() != 10 {
		t.Errorf("device rate: got %d, want 10", dev.Rate())
	}

	if err := s.Stop(); err != nil {
		t.Fatal(err)
	}
	if s.State() != Stopped {
		t.Fatalf("after stop: got %s", s.State())
	}
	if err := s.StartRecording(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("start after stop: got %v", err)
	}
	if _, err := s.RequestDecision(context.Background()); !errors.Is(err, ErrNotRecording) {
		t.Errorf("decision after stop: got %v", err)
	}
}

func TestConnectionError(t *testing.T) {
	boom := errors.New("no route to host")
	dial := func(ctx context.Context, address string) (device.Device, error) {
		return nil, boom
	}
	s, err := New(testConfig(), dial)
	if err != nil {
		t.Fatal(err)
	}
	err = s.Connect(context.Background())
	if !errors.Is(err, ErrConnection) || !errors.Is(err, boom) {
		t.Fatalf("expected ErrConnection wrapping cause, got %v", err)
	}
	if s.State() != Idle {
		t.Errorf("state after failed connect: got %s, want IDLE", s.State())
	}
}

func TestStartError(t *testing.T) {
	dev := device.NewFakeDevice()
	dev.StartError = errors.New("board busy")
	s, _ := New(testConfig(), dialer(dev))
	if err := s.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.StartRecording(); !errors.Is(err, ErrStart) {
		t.Fatalf("expected ErrStart, got %v", err)
	}
	if s.State() != Connected {
		t.Errorf("state after failed start: got %s, want CONNECTED", s.State())
	}
}

func TestRecordingFillsBuffers(t *testing.T) {
	dev := device.NewFakeDevice()
	s := recording(t, dev)

	// 3 seconds at 10 Hz into a 2 second history.
	for i := 0; i < 3; i++ {
		dev.Push(device.RampBlock(10, 3, i*10))
	}
	waitFor(t, "three blocks", func() bool { return s.Stats().Blocks == 3 })

	snap := s.Buffers()[channel.ECG].Snapshot()
	if len(snap) != 20 {
		t.Fatalf("ECG length: got %d, want 20", len(snap))
	}
	for i, v := range snap {
		if v != float64(10+i) {
			t.Fatalf("ECG[%d]: got %v, want %d", i, v, 10+i)
		}
	}
}

func TestRequestDecisionNoModel(t *testing.T) {
	dev := device.NewFakeDevice()
	s := recording(t, dev)

	if _, err := s.RequestDecision(context.Background()); !errors.Is(err, ErrNoModelLoaded) {
		t.Fatalf("expected ErrNoModelLoaded, got %v", err)
	}
	if s.Stats().CaptureArmed {
		t.Error("capture armed despite missing model")
	}
}

func TestRequestDecisionCompletes(t *testing.T) {
	dev := device.NewFakeDevice()
	clf := &constClassifier{label: classify.Lie}
	models := &classify.Holder{}
	models.Set(clf, "const")

	var gotWidth int
	features := func(m capture.Matrix) []float64 {
		gotWidth = m.Columns()
		return []float64{m.Row(channel.Respiration)[0], m.Row(channel.Respiration)[m.Columns()-1]}
	}
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := recording(t, dev, WithModels(models), WithFeatures(features), WithClock(func() time.Time { return now }))

	type result struct {
		d   Decision
		err error
	}
	resCh := make(chan result, 1)
	go func() {
		d, err := s.RequestDecision(context.Background())
		resCh <- result{d, err}
	}()

	waitFor(t, "capture armed", func() bool { return s.Stats().CaptureArmed })
	for i := 0; i < 4; i++ {
		dev.Push(device.RampBlock(10, 3, 100+i*10))
	}

	var res result
	select {
	case res = <-resCh:
	case <-time.After(2 * time.Second):
		t.Fatal("decision did not complete")
	}
	if res.err != nil {
		t.Fatalf("RequestDecision: %v", res.err)
	}

	d := res.d
	if d.Label != classify.Lie {
		t.Errorf("Label: got %s, want LIE", d.Label)
	}
	if gotWidth != 30 {
		t.Errorf("window width: got %d, want 30", gotWidth)
	}
	if len(d.Features) != 2 || d.Features[0] != 100 || d.Features[1] != 129 {
		t.Errorf("Features: got %v, want [100 129]", d.Features)
	}
	if d.ID == "" || d.Model != "const" {
		t.Errorf("ID/Model: got %q/%q", d.ID, d.Model)
	}
	if !d.RequestedAt.Equal(now) || !d.DecidedAt.Equal(now) {
		t.Errorf("timestamps: got %v/%v", d.RequestedAt, d.DecidedAt)
	}
	if clf.calls() != 1 {
		t.Errorf("classifier calls: got %d, want 1", clf.calls())
	}
	if s.Stats().CaptureArmed {
		t.Error("capture still armed after completion")
	}
}

func TestRequestDecisionConflict(t *testing.T) {
	dev := device.NewFakeDevice()
	models := &classify.Holder{}
	models.Set(&constClassifier{}, "const")
	s := recording(t, dev, WithModels(models))

	errCh := make(chan error, 1)
	go func() {
		_, err := s.RequestDecision(context.Background())
		errCh <- err
	}()
	waitFor(t, "capture armed", func() bool { return s.Stats().CaptureArmed })

	if _, err := s.RequestDecision(context.Background()); !errors.Is(err, capture.ErrConflict) {
		t.Fatalf("second request: expected ErrConflict, got %v", err)
	}

	s.Stop()
	if err := <-errCh; !errors.Is(err, ErrCaptureCancelled) {
		t.Fatalf("first request after stop: expected ErrCaptureCancelled, got %v", err)
	}
}

func TestStopCancelsPendingDecision(t *testing.T) {
	dev := device.NewFakeDevice()
	clf := &constClassifier{}
	models := &classify.Holder{}
	models.Set(clf, "const")
	s := recording(t, dev, WithModels(models))

	errCh := make(chan error, 1)
	go func() {
		_, err := s.RequestDecision(context.Background())
		errCh <- err
	}()
	waitFor(t, "capture armed", func() bool { return s.Stats().CaptureArmed })

	// Partial window, then stop while the loop is blocked in Read.
	dev.Push(device.RampBlock(10, 3, 0))
	waitFor(t, "one block", func() bool { return s.Stats().Blocks == 1 })

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrCaptureCancelled) {
			t.Fatalf("expected ErrCaptureCancelled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pending decision not woken by Stop")
	}
	if clf.calls() != 0 {
		t.Errorf("classifier called %d times for a cancelled window", clf.calls())
	}
	if dev.Closes() != 1 || dev.Stops() != 1 {
		t.Errorf("device release: stops=%d closes=%d, want 1/1", dev.Stops(), dev.Closes())
	}
}

func TestRequestDecisionContextCancel(t *testing.T) {
	dev := device.NewFakeDevice()
	models := &classify.Holder{}
	models.Set(&constClassifier{}, "const")
	s := recording(t, dev, WithModels(models))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.RequestDecision(ctx)
	if !errors.Is(err, ErrCaptureCancelled) {
		t.Fatalf("expected ErrCaptureCancelled, got %v", err)
	}
	if s.Stats().CaptureArmed {
		t.Error("capture left armed after caller gave up")
	}

	// A new request can be armed afterwards.
	go s.RequestDecision(context.Background())
	waitFor(t, "second capture armed", func() bool { return s.Stats().CaptureArmed })
}

func TestReadErrorEndsSession(t *testing.T) {
	dev := device.NewFakeDevice()
	models := &classify.Holder{}
	models.Set(&constClassifier{}, "const")
	s := recording(t, dev, WithModels(models))

	errCh := make(chan error, 1)
	go func() {
		_, err := s.RequestDecision(context.Background())
		errCh <- err
	}()
	waitFor(t, "capture armed", func() bool { return s.Stats().CaptureArmed })

	dev.Push(device.RampBlock(10, 3, 0))
	dev.Fail(errors.New("link lost"))

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end after read error")
	}

	if s.State() != Stopped {
		t.Errorf("state: got %s, want STOPPED", s.State())
	}
	if !errors.Is(s.Err(), acquisition.ErrRead) {
		t.Errorf("Err: got %v, want ErrRead", s.Err())
	}
	if err := <-errCh; !errors.Is(err, ErrCaptureCancelled) {
		t.Errorf("pending decision: got %v, want ErrCaptureCancelled", err)
	}
	if dev.Closes() != 1 {
		t.Errorf("device closes: got %d, want 1", dev.Closes())
	}

	// Stop after the loop already ended is still legal and does not
	// release the device again.
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if dev.Closes() != 1 {
		t.Errorf("device closes after Stop: got %d, want 1", dev.Closes())
	}
}

func TestConcurrentStopReleasesOnce(t *testing.T) {
	dev := device.NewFakeDevice()
	s := recording(t, dev)

	dev.Fail(errors.New("link lost"))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Stop()
		}()
	}
	wg.Wait()

	<-s.Done()
	if dev.Closes() != 1 || dev.Stops() != 1 {
		t.Errorf("device release: stops=%d closes=%d, want 1/1", dev.Stops(), dev.Closes())
	}
}

func TestStopFromIdleAndConnected(t *testing.T) {
	s, _ := New(testConfig(), dialer(device.NewFakeDevice()))
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop from idle: %v", err)
	}
	select {
	case <-s.Done():
	default:
		t.Error("Done not closed after Stop from idle")
	}

	dev := device.NewFakeDevice()
	s, _ = New(testConfig(), dialer(dev))
	if err := s.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop from connected: %v", err)
	}
	if dev.Closes() != 1 {
		t.Errorf("device closes: got %d, want 1", dev.Closes())
	}
	if err := s.Connect(context.Background()); !errors.Is(err, ErrInvalidState) {
		t.Errorf("connect after stop: got %v", err)
	}
}

func TestStopDuringConnect(t *testing.T) {
	dev := device.NewFakeDevice()
	dialling := make(chan context.Context)
	release := make(chan struct{})
	dial := func(ctx context.Context, address string) (device.Device, error) {
		dialling <- ctx
		<-release
		return dev, nil
	}
	s, err := New(testConfig(), dial)
	if err != nil {
		t.Fatal(err)
	}

	connErr := make(chan error, 1)
	go func() { connErr <- s.Connect(context.Background()) }()
	dctx := <-dialling

	stopped := make(chan error, 1)
	go func() { stopped <- s.Stop() }()
	select {
	case err := <-stopped:
		if err != nil {
			t.Fatalf("Stop: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Stop blocked behind an in-flight Connect")
	}
	if s.State() != Stopped {
		t.Errorf("state: got %s, want STOPPED", s.State())
	}
	if dctx.Err() == nil {
		t.Error("dial context not cancelled by Stop")
	}

	close(release)
	if err := <-connErr; !errors.Is(err, ErrInvalidState) {
		t.Fatalf("Connect: expected ErrInvalidState, got %v", err)
	}
	if dev.Closes() != 1 {
		t.Errorf("device closes: got %d, want 1", dev.Closes())
	}
	if s.State() != Stopped {
		t.Errorf("state after dial returned: got %s", s.State())
	}
}

func TestConnectWhileDialling(t *testing.T) {
	release := make(chan struct{})
	dialling := make(chan struct{})
	dev := device.NewFakeDevice()
	dial := func(ctx context.Context, address string) (device.Device, error) {
		close(dialling)
		<-release
		return dev, nil
	}
	s, _ := New(testConfig(), dial)

	connErr := make(chan error, 1)
	go func() { connErr <- s.Connect(context.Background()) }()
	<-dialling

	if err := s.Connect(context.Background()); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second connect: got %v", err)
	}
	close(release)
	if err := <-connErr; err != nil {
		t.Fatalf("first connect: %v", err)
	}
	if s.State() != Connected {
		t.Errorf("state: got %s", s.State())
	}
	s.Stop()
}

func TestTapReceivesFrames(t *testing.T) {
	dev := device.NewFakeDevice()
	frames := make(chan acquisition.Frame, 4)
	recording(t, dev, WithTap(func(f acquisition.Frame) { frames <- f }))

	dev.Push(device.RampBlock(10, 3, 0), device.RampBlock(10, 3, 10))
	for want := uint64(0); want < 2; want++ {
		select {
		case f := <-frames:
			if f.Index != want {
				t.Errorf("frame index: got %d, want %d", f.Index, want)
			}
			if len(f.Cols[channel.Respiration]) != 10 {
				t.Errorf("frame width: got %d", len(f.Cols[channel.Respiration]))
			}
		case <-time.After(2 * time.Second):
			t.Fatal("tap not called")
		}
	}
}
