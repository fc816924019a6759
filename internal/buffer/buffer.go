// Package buffer provides the fixed-capacity rolling sample store kept for
// each channel. One goroutine appends; any number may snapshot.
package buffer

import "sync"

// ChannelBuffer is a fixed-capacity FIFO of converted samples.
// When full, the oldest samples are overwritten first.
type ChannelBuffer struct {
	mu       sync.RWMutex
	buf      []float64
	capacity int
	head     int // next write position
	count    int
	total    uint64 // samples ever appended
}

// New creates a buffer holding at most capacity samples.
// A non-positive capacity yields a buffer that retains nothing.
func New(capacity int) *ChannelBuffer {
	if capacity < 0 {
		capacity = 0
	}
	return &ChannelBuffer{
		buf:      make([]float64, capacity),
		capacity: capacity,
	}
}

// NewForRate sizes a buffer to hold historySeconds of samples at rate Hz.
func NewForRate(rate, historySeconds int) *ChannelBuffer {
	return New(rate * historySeconds)
}

// Append adds samples in order, evicting the oldest once capacity is reached.
func (b *ChannelBuffer) Append(samples []float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.total += uint64(len(samples))
	if b.capacity == 0 {
		return
	}

	// Only the newest capacity samples can survive this call.
	if len(samples) > b.capacity {
		samples = samples[len(samples)-b.capacity:]
	}

	for len(samples) > 0 {
		n := copy(b.buf[b.head:], samples)
		samples = samples[n:]
		b.head = (b.head + n) % b.capacity
		b.count += n
	}
	if b.count > b.capacity {
		b.count = b.capacity
	}
}

// Snapshot returns a copy of the current contents, oldest first.
func (b *ChannelBuffer) Snapshot() []float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]float64, b.count)
	if b.count == 0 {
		return out
	}

	// Oldest item is at (head - count) mod capacity
	start := (b.head - b.count + b.capacity) % b.capacity
	n := copy(out, b.buf[start:min(start+b.count, b.capacity)])
	copy(out[n:], b.buf[:b.count-n])
	return out
}

// Len returns the number of samples currently held.
func (b *ChannelBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// Cap returns the fixed capacity.
func (b *ChannelBuffer) Cap() int {
	return b.capacity
}

// Total returns the number of samples appended since construction.
func (b *ChannelBuffer) Total() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.total
}
