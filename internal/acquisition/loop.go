// Package acquisition contains the producer loop that pulls sample blocks
// from the device and fans them out to the channel buffers and the capture
// slot.
package acquisition

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/sweeney/physio-sensor/internal/buffer"
	"github.com/sweeney/physio-sensor/internal/capture"
	"github.com/sweeney/physio-sensor/internal/channel"
	"github.com/sweeney/physio-sensor/internal/device"
)

var (
	// ErrRead wraps the device error that ended the loop.
	ErrRead = errors.New("device read failed")
	// ErrMalformedBlock is wrapped in ErrRead when a block has too few columns.
	ErrMalformedBlock = errors.New("malformed sample block")
)

// Frame is one device block after unit conversion, one column per channel.
type Frame struct {
	Index uint64 // block number since the loop started, from 0
	Cols  [channel.Count][]float64
}

// Options tune the loop.
type Options struct {
	// BlockLength is the number of rows requested per device read.
	BlockLength int

	// Tap, if set, receives every converted frame after the buffers and the
	// capture slot have been fed. It runs on the loop goroutine and must not
	// block; hand the frame off to another goroutine for any I/O.
	Tap func(Frame)
}

// Loop is the acquisition producer. It is the only writer of the buffers.
type Loop struct {
	dev         device.Device
	bufs        [channel.Count]*buffer.ChannelBuffer
	slot        *capture.Slot
	blockLength int
	tap         func(Frame)

	blocks atomic.Uint64
	rows   atomic.Uint64
}

// New creates a loop. Device channel column c feeds channel.Channel(c).
func New(dev device.Device, bufs [channel.Count]*buffer.ChannelBuffer, slot *capture.Slot, opts Options) *Loop {
	if opts.BlockLength <= 0 {
		opts.BlockLength = 1
	}
	return &Loop{
		dev:         dev,
		bufs:        bufs,
		slot:        slot,
		blockLength: opts.BlockLength,
		tap:         opts.Tap,
	}
}

// Run reads blocks until ctx is cancelled or a read fails. A read failure
// is returned wrapped in ErrRead; a read that fails because the owner
// cancelled ctx and closed the device is a clean stop and returns nil.
// The capture slot is closed when Run returns, cancelling any armed window.
func (l *Loop) Run(ctx context.Context) error {
	defer l.slot.Close()

	for {
		if ctx.Err() != nil {
			return nil
		}

		blk, err := l.dev.Read(l.blockLength)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%w: %w", ErrRead, err)
		}

		if err := l.process(blk); err != nil {
			return fmt.Errorf("%w: %w", ErrRead, err)
		}
	}
}

func (l *Loop) process(blk device.Block) error {
	for i, row := range blk.Rows {
		if len(row) < channel.Count {
			return fmt.Errorf("%w: row %d has %d columns, want %d", ErrMalformedBlock, i, len(row), channel.Count)
		}
	}

	var cols [channel.Count][]float64
	for _, c := range channel.All {
		cols[c] = c.ConvertAll(blk.Column(int(c)))
	}

	for c, b := range l.bufs {
		b.Append(cols[c])
	}
	l.slot.Feed(cols)

	index := l.blocks.Add(1) - 1
	l.rows.Add(uint64(blk.Len()))

	if l.tap != nil {
		l.tap(Frame{Index: index, Cols: cols})
	}
	return nil
}

// Stats reports how many blocks and rows have been processed.
func (l *Loop) Stats() (blocks, rows uint64) {
	return l.blocks.Load(), l.rows.Load()
}
