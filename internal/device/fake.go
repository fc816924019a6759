package device

import (
	"fmt"
	"sync"
)

// FakeDevice is a test double that returns scripted blocks.
// Once the script is exhausted, Read blocks until more blocks are pushed or
// the device is closed, mirroring a live board waiting for samples.
type FakeDevice struct {
	// StartError, if set, is returned by Start.
	StartError error

	mu       sync.Mutex
	queue    []fakeItem
	rate     int
	channels []int
	started  bool
	reads    int
	stops    int
	closes   int

	wake      chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

type fakeItem struct {
	block Block
	err   error
}

// NewFakeDevice creates a FakeDevice with the given scripted blocks.
func NewFakeDevice(blocks ...Block) *FakeDevice {
	f := &FakeDevice{
		wake:   make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
	f.Push(blocks...)
	return f
}

// Push appends blocks to the script.
func (f *FakeDevice) Push(blocks ...Block) {
	f.mu.Lock()
	for _, b := range blocks {
		f.queue = append(f.queue, fakeItem{block: b})
	}
	f.mu.Unlock()
	f.signal()
}

// Fail queues a read error after any blocks already pushed.
func (f *FakeDevice) Fail(err error) {
	f.mu.Lock()
	f.queue = append(f.queue, fakeItem{err: err})
	f.mu.Unlock()
	f.signal()
}

func (f *FakeDevice) signal() {
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

// Start records the configuration.
func (f *FakeDevice) Start(rate int, channels []int) error {
	if f.StartError != nil {
		return f.StartError
	}
	select {
	case <-f.closed:
		return ErrClosed
	default:
	}
	if !ValidRate(rate) {
		return fmt.Errorf("%w: %d", ErrInvalidRate, rate)
	}
	f.mu.Lock()
	f.rate = rate
	f.channels = append([]int(nil), channels...)
	f.started = true
	f.mu.Unlock()
	return nil
}

// Read returns the next scripted block, ignoring n.
func (f *FakeDevice) Read(n int) (Block, error) {
	for {
		select {
		case <-f.closed:
			return Block{}, ErrClosed
		default:
		}

		f.mu.Lock()
		if !f.started {
			f.mu.Unlock()
			return Block{}, ErrNotStarted
		}
		if len(f.queue) > 0 {
			item := f.queue[0]
			f.queue = f.queue[1:]
			f.reads++
			f.mu.Unlock()
			return item.block, item.err
		}
		f.mu.Unlock()

		select {
		case <-f.wake:
		case <-f.closed:
			return Block{}, ErrClosed
		}
	}
}

// Stop marks the device as stopped.
func (f *FakeDevice) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.started = false
	return nil
}

// Close marks the device as closed and unblocks any pending Read.
func (f *FakeDevice) Close() error {
	f.mu.Lock()
	f.closes++
	f.mu.Unlock()
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

// Version reports a fixed firmware string.
func (f *FakeDevice) Version() (string, error) {
	return "BITalino_fake_v1", nil
}

// Rate returns the rate passed to Start.
func (f *FakeDevice) Rate() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rate
}

// Channels returns the channels passed to Start.
func (f *FakeDevice) Channels() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.channels...)
}

// Reads returns how many scripted items have been consumed.
func (f *FakeDevice) Reads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

// Stops returns how many times Stop was called.
func (f *FakeDevice) Stops() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

// Closes returns how many times Close was called.
func (f *FakeDevice) Closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

// RampBlock builds a block of rows where every channel of row i reads
// start+i. Handy for checking ordering end to end.
func RampBlock(rows, channels, start int) Block {
	b := Block{Seq: make([]int, rows), Rows: make([][]int, rows)}
	for i := 0; i < rows; i++ {
		b.Seq[i] = (start + i) & 0x0F
		row := make([]int, channels)
		for j := range row {
			row[j] = start + i
		}
		b.Rows[i] = row
	}
	return b
}
