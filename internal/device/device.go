// Package device abstracts the acquisition hardware.
// The BITalino implementation speaks the board's serial protocol over a tty
// or an RFCOMM socket. The fake implementation allows testing without hardware.
package device

import (
	"context"
	"errors"
)

// Device yields blocks of raw multi-channel samples once started.
type Device interface {
	// Start begins sampling the given analog channels at rate Hz.
	Start(rate int, channels []int) error

	// Read blocks until n sample rows are available and returns them.
	// A read error is terminal for the current acquisition.
	Read(n int) (Block, error)

	// Stop halts sampling. The device stays open.
	Stop() error

	// Close releases the device. It may be called while a Read is blocked
	// and must make that Read return promptly.
	Close() error
}

// Versioner is implemented by devices that can report a firmware version.
type Versioner interface {
	Version() (string, error)
}

// Dialer opens a device at address.
type Dialer func(ctx context.Context, address string) (Device, error)

// Block is a batch of raw samples read in one device call.
// Rows are in acquisition order; each row holds one value per started channel.
type Block struct {
	Seq  []int   // per-row sequence numbers as reported by the device
	Rows [][]int // Rows[i][j] is the reading of the j-th started channel
}

// Len returns the number of rows.
func (b Block) Len() int {
	return len(b.Rows)
}

// Column extracts the readings of the j-th started channel.
func (b Block) Column(j int) []int {
	out := make([]int, len(b.Rows))
	for i, row := range b.Rows {
		out[i] = row[j]
	}
	return out
}

// Rates lists the sampling rates the acquisition core accepts.
var Rates = []int{10, 100, 1000}

// ValidRate reports whether rate is one of Rates.
func ValidRate(rate int) bool {
	for _, r := range Rates {
		if r == rate {
			return true
		}
	}
	return false
}

var (
	// ErrClosed is returned by operations on a closed device.
	ErrClosed = errors.New("device closed")
	// ErrNotStarted is returned by Read before Start.
	ErrNotStarted = errors.New("device not started")
	// ErrInvalidRate is returned by Start for unsupported rates.
	ErrInvalidRate = errors.New("unsupported sampling rate")
	// ErrInvalidChannels is returned by Start for bad channel lists.
	ErrInvalidChannels = errors.New("invalid channel list")
)
