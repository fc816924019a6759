// Package session owns one acquisition session: the device handle, the
// channel buffers, the capture slot and the acquisition goroutine. It exposes
// the control verbs a front end calls in order: Connect, StartRecording,
// RequestDecision (any number of times), and Stop (always legal, terminal).
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sweeney/physio-sensor/internal/acquisition"
	"github.com/sweeney/physio-sensor/internal/buffer"
	"github.com/sweeney/physio-sensor/internal/capture"
	"github.com/sweeney/physio-sensor/internal/channel"
	"github.com/sweeney/physio-sensor/internal/classify"
	"github.com/sweeney/physio-sensor/internal/device"
)

// Defaults for Config fields left at zero.
const (
	DefaultHistorySeconds = 8
	DefaultWindowSeconds  = 10
)

var (
	// ErrConfig reports an invalid configuration. Nothing touched the device.
	ErrConfig = errors.New("invalid configuration")
	// ErrConnection wraps a failure to open the device.
	ErrConnection = errors.New("connection failed")
	// ErrStart wraps a failure to start sampling.
	ErrStart = errors.New("start failed")
	// ErrInvalidState is returned when a verb is called out of order.
	ErrInvalidState = errors.New("invalid session state")
	// ErrNotRecording is returned by RequestDecision outside Recording.
	ErrNotRecording = errors.New("not recording")
	// ErrNoModelLoaded is returned by RequestDecision without a classifier.
	ErrNoModelLoaded = errors.New("no model loaded")
	// ErrCaptureCancelled is the outcome of a decision whose capture was
	// cancelled before completion.
	ErrCaptureCancelled = capture.ErrCancelled
)

// State is the session lifecycle state.
type State int

const (
	Idle State = iota
	Connected
	Recording
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Connected:
		return "CONNECTED"
	case Recording:
		return "RECORDING"
	case Stopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Config describes the acquisition.
type Config struct {
	Address        string
	SamplingRate   int
	BlockLength    int // rows per device read; defaults to SamplingRate (one second)
	HistorySeconds int
	WindowSeconds  int

	// AnalogInputs maps each channel to a board input. Defaults to 0, 1, 2.
	// The board returns columns in ascending input order, so inputs must
	// ascend in channel order.
	AnalogInputs [channel.Count]int
}

// WithDefaults fills zero fields.
func (c Config) WithDefaults() Config {
	if c.HistorySeconds == 0 {
		c.HistorySeconds = DefaultHistorySeconds
	}
	if c.WindowSeconds == 0 {
		c.WindowSeconds = DefaultWindowSeconds
	}
	if c.BlockLength == 0 {
		c.BlockLength = c.SamplingRate
	}
	if c.AnalogInputs == ([channel.Count]int{}) {
		for i := range c.AnalogInputs {
			c.AnalogInputs[i] = i
		}
	}
	return c
}

// Validate checks the configuration without touching any device.
func (c Config) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("%w: missing device address", ErrConfig)
	}
	if !device.ValidRate(c.SamplingRate) {
		return fmt.Errorf("%w: sampling rate %d not one of %v", ErrConfig, c.SamplingRate, device.Rates)
	}
	if c.BlockLength <= 0 {
		return fmt.Errorf("%w: block length %d", ErrConfig, c.BlockLength)
	}
	if c.HistorySeconds <= 0 {
		return fmt.Errorf("%w: history %ds", ErrConfig, c.HistorySeconds)
	}
	if c.WindowSeconds <= 0 {
		return fmt.Errorf("%w: window %ds", ErrConfig, c.WindowSeconds)
	}
	if _, err := device.StartCommand(c.AnalogInputs[:]); err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}
	for i := 1; i < len(c.AnalogInputs); i++ {
		if c.AnalogInputs[i] <= c.AnalogInputs[i-1] {
			return fmt.Errorf("%w: analog inputs %v not ascending", ErrConfig, c.AnalogInputs)
		}
	}
	return nil
}

// Decision is the outcome of one classification request.
type Decision struct {
	ID          string
	Label       classify.Label
	Features    []float64
	Model       string
	RequestedAt time.Time
	DecidedAt   time.Time
}

// Stats is a point-in-time view of the session for status reporting.
type Stats struct {
	State           State
	Blocks          uint64
	Rows            uint64
	CaptureArmed    bool
	CaptureProgress int
	CaptureTarget   int
	ModelLoaded     bool
	Model           string
	Err             error
}

// Option configures a Session.
type Option func(*Session)

// WithModels shares a classifier holder, e.g. one kept fresh by classify.Watch.
func WithModels(h *classify.Holder) Option {
	return func(s *Session) { s.models = h }
}

// WithFeatures replaces the feature extraction step.
func WithFeatures(fn classify.FeatureFunc) Option {
	return func(s *Session) { s.features = fn }
}

// WithClock injects the time source used for decision timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithTap forwards every converted frame to fn. See acquisition.Options.Tap.
func WithTap(fn func(acquisition.Frame)) Option {
	return func(s *Session) { s.tap = fn }
}

// Session is safe for concurrent use.
type Session struct {
	cfg      Config
	dial     device.Dialer
	models   *classify.Holder
	features classify.FeatureFunc
	now      func() time.Time
	tap      func(acquisition.Frame)

	mu         sync.Mutex
	state      State
	dialCancel context.CancelFunc // set while Connect is dialling
	dev        device.Device
	bufs    [channel.Count]*buffer.ChannelBuffer
	slot    *capture.Slot
	loop    *acquisition.Loop
	cancel  context.CancelFunc
	loopErr error

	ended   chan struct{}
	endOnce sync.Once

	releaseOnce sync.Once
	releaseErr  error
}

// New creates an idle session. The configuration is validated here so
// that a bad rate or address is rejected before any device I/O.
func New(cfg Config, dial device.Dialer, opts ...Option) (*Session, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Session{
		cfg:      cfg,
		dial:     dial,
		models:   &classify.Holder{},
		features: classify.SummaryFeatures,
		now:      time.Now,
		ended:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Config returns the effective configuration.
func (s *Session) Config() Config {
	return s.cfg
}

// Models returns the classifier holder.
func (s *Session) Models() *classify.Holder {
	return s.models
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect opens the device and allocates the channel buffers. The dial runs
// without the session lock; a Stop meanwhile cancels the dial context and
// Connect then closes whatever device it got and returns ErrInvalidState.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state != Idle || s.dialCancel != nil {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: connect while %s", ErrInvalidState, state)
	}
	dctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.dialCancel = cancel
	s.mu.Unlock()

	dev, err := s.dial(dctx, s.cfg.Address)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.dialCancel = nil

	if s.state != Idle {
		if dev != nil {
			if cerr := dev.Close(); cerr != nil {
				log.Printf("session: close after stop: %v", cerr)
			}
		}
		return fmt.Errorf("%w: stopped while connecting to %s", ErrInvalidState, s.cfg.Address)
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrConnection, s.cfg.Address, err)
	}

	for c := range s.bufs {
		s.bufs[c] = buffer.NewForRate(s.cfg.SamplingRate, s.cfg.HistorySeconds)
	}
	s.slot = capture.NewSlot()
	s.dev = dev
	s.state = Connected
	log.Printf("session: connected to %s", s.cfg.Address)
	return nil
}

// StartRecording starts sampling and launches the acquisition goroutine.
func (s *Session) StartRecording() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Connected {
		return fmt.Errorf("%w: start recording while %s", ErrInvalidState, s.state)
	}

	if err := s.dev.Start(s.cfg.SamplingRate, s.cfg.AnalogInputs[:]); err != nil {
		return fmt.Errorf("%w: %w", ErrStart, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.loop = acquisition.New(s.dev, s.bufs, s.slot, acquisition.Options{
		BlockLength: s.cfg.BlockLength,
		Tap:         s.tap,
	})
	s.state = Recording

	go s.run(ctx, s.loop)
	log.Printf("session: recording at %d Hz, block=%d history=%ds window=%ds",
		s.cfg.SamplingRate, s.cfg.BlockLength, s.cfg.HistorySeconds, s.cfg.WindowSeconds)
	return nil
}

func (s *Session) run(ctx context.Context, loop *acquisition.Loop) {
	err := loop.Run(ctx)
	if err != nil {
		log.Printf("session: acquisition ended: %v", err)
	}

	s.mu.Lock()
	s.loopErr = err
	s.state = Stopped
	s.mu.Unlock()

	s.release()
	s.endOnce.Do(func() { close(s.ended) })
}

// release stops and closes the device exactly once.
func (s *Session) release() error {
	s.releaseOnce.Do(func() {
		s.mu.Lock()
		dev := s.dev
		s.mu.Unlock()
		if dev == nil {
			return
		}
		var errs []error
		if err := dev.Stop(); err != nil && !errors.Is(err, device.ErrClosed) {
			errs = append(errs, fmt.Errorf("stop device: %w", err))
		}
		if err := dev.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close device: %w", err))
		}
		s.releaseErr = errors.Join(errs...)
	})
	return s.releaseErr
}

// Stop ends the session. It cancels any armed capture, makes a pending device
// read return, waits for the acquisition goroutine and releases the device.
// Stop may be called from any state and any number of times.
func (s *Session) Stop() error {
	s.mu.Lock()
	prev := s.state
	s.state = Stopped
	cancel, slot := s.cancel, s.slot
	if s.dialCancel != nil {
		s.dialCancel()
	}
	s.mu.Unlock()

	if prev == Recording || (prev == Stopped && cancel != nil) {
		cancel()
		slot.Close()
		err := s.release()
		<-s.ended
		if prev == Recording {
			log.Printf("session: stopped")
		}
		return err
	}

	err := s.release()
	s.endOnce.Do(func() { close(s.ended) })
	return err
}

// Done is closed once the session has reached Stopped and released the device.
func (s *Session) Done() <-chan struct{} {
	return s.ended
}

// Err returns the error that ended acquisition, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loopErr
}

// Buffers returns the channel buffers. They are nil before Connect.
func (s *Session) Buffers() [channel.Count]*buffer.ChannelBuffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bufs
}

// Stats returns a snapshot of the session for status reporting.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	st := Stats{State: s.state, Err: s.loopErr}
	loop, slot := s.loop, s.slot
	s.mu.Unlock()

	if loop != nil {
		st.Blocks, st.Rows = loop.Stats()
	}
	if slot != nil {
		st.CaptureProgress, st.CaptureTarget, st.CaptureArmed = slot.Progress()
	}
	st.ModelLoaded = s.models.Get() != nil
	st.Model = s.models.Name()
	return st
}

// RequestDecision captures one window, extracts features and classifies it.
// It blocks until the window completes, the session stops, or ctx ends.
// Only one request may be outstanding; a second gets capture.ErrConflict.
func (s *Session) RequestDecision(ctx context.Context) (Decision, error) {
	s.mu.Lock()
	state, slot := s.state, s.slot
	s.mu.Unlock()

	if state != Recording {
		return Decision{}, ErrNotRecording
	}
	clf := s.models.Get()
	if clf == nil {
		return Decision{}, ErrNoModelLoaded
	}

	d := Decision{
		ID:          uuid.NewString(),
		Model:       s.models.Name(),
		RequestedAt: s.now(),
	}

	w, err := slot.Arm(s.cfg.SamplingRate * s.cfg.WindowSeconds)
	if errors.Is(err, capture.ErrClosed) {
		return Decision{}, ErrNotRecording
	}
	if err != nil {
		return Decision{}, err
	}
	log.Printf("session: decision %s armed for %ds", d.ID, s.cfg.WindowSeconds)

	m, err := w.Wait(ctx)
	if err != nil {
		log.Printf("session: decision %s: %v", d.ID, err)
		return Decision{}, fmt.Errorf("decision %s: %w", d.ID, err)
	}

	d.Features = s.features(m)
	d.Label, err = clf.Predict(d.Features)
	if err != nil {
		return Decision{}, fmt.Errorf("decision %s: predict: %w", d.ID, err)
	}
	d.DecidedAt = s.now()
	log.Printf("session: decision %s: %s", d.ID, d.Label)
	return d, nil
}
