package device

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"
)

// Synth is a free-running device that generates plausible waveforms in real
// time. It backs the "synthetic" device kind used for demos without hardware.
type Synth struct {
	mu       sync.Mutex
	rate     int
	channels []int
	n        int // rows generated so far
	next     time.Time

	closed    chan struct{}
	closeOnce sync.Once
}

// DialSynth opens a synthetic device. The address is ignored.
func DialSynth(ctx context.Context, address string) (Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Synth{closed: make(chan struct{})}, nil
}

// Start begins generation.
func (s *Synth) Start(rate int, channels []int) error {
	if !ValidRate(rate) {
		return fmt.Errorf("%w: %d", ErrInvalidRate, rate)
	}
	if _, err := StartCommand(channels); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rate = rate
	s.channels = append([]int(nil), channels...)
	s.next = time.Now()
	return nil
}

// Read paces output to the configured rate.
func (s *Synth) Read(n int) (Block, error) {
	s.mu.Lock()
	if s.rate == 0 {
		s.mu.Unlock()
		return Block{}, ErrNotStarted
	}
	rate, channels, first := s.rate, s.channels, s.n
	s.next = s.next.Add(time.Duration(n) * time.Second / time.Duration(rate))
	due := s.next
	s.n += n
	s.mu.Unlock()

	timer := time.NewTimer(time.Until(due))
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-s.closed:
		return Block{}, ErrClosed
	}

	blk := Block{Seq: make([]int, n), Rows: make([][]int, n)}
	for i := 0; i < n; i++ {
		t := float64(first+i) / float64(rate)
		blk.Seq[i] = (first + i) & 0x0F
		row := make([]int, len(channels))
		for j, c := range channels {
			row[j] = synthSample(c, t)
		}
		blk.Rows[i] = row
	}
	return blk, nil
}

// synthSample returns a 10-bit reading for analog input c at t seconds.
func synthSample(c int, t float64) int {
	var v float64
	switch c {
	case 0: // respiration, ~15 breaths/min
		v = 512 + 300*math.Sin(2*math.Pi*0.25*t)
	case 1: // ECG-like spike train at 72 bpm
		phase := math.Mod(t*1.2, 1)
		v = 500 + 40*math.Sin(2*math.Pi*phase) + 400*math.Exp(-math.Pow((phase-0.3)/0.015, 2))
	case 2: // skin conductance drifting slowly
		v = 400 + 60*math.Sin(2*math.Pi*0.02*t)
	default:
		v = 512
	}
	return int(math.Max(0, math.Min(1023, math.Round(v))))
}

// Stop halts generation.
func (s *Synth) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rate = 0
	return nil
}

// Close unblocks pending reads.
func (s *Synth) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

// Version reports the synthetic firmware string.
func (s *Synth) Version() (string, error) {
	return "BITalino_synth", nil
}
