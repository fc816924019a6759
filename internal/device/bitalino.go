package device

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

// BITalino protocol commands.
const (
	cmdStop    byte = 0x00
	cmdVersion byte = 0x07
)

// MaxAnalogChannels is the number of analog inputs on the board.
const MaxAnalogChannels = 6

// ErrCRC is returned when a frame fails its checksum.
var ErrCRC = errors.New("frame checksum mismatch")

// rateCodes maps sampling rates to the 2-bit code of the rate command.
var rateCodes = map[int]byte{1: 0, 10: 1, 100: 2, 1000: 3}

// RateCommand returns the command byte selecting rate.
func RateCommand(rate int) (byte, error) {
	code, ok := rateCodes[rate]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrInvalidRate, rate)
	}
	return code<<6 | 0x03, nil
}

// StartCommand returns the command byte starting live mode on channels.
func StartCommand(channels []int) (byte, error) {
	if len(channels) == 0 || len(channels) > MaxAnalogChannels {
		return 0, fmt.Errorf("%w: %d channels", ErrInvalidChannels, len(channels))
	}
	cmd := byte(0x01)
	for _, c := range channels {
		if c < 0 || c >= MaxAnalogChannels {
			return 0, fmt.Errorf("%w: channel %d", ErrInvalidChannels, c)
		}
		if cmd&(1<<(2+c)) != 0 {
			return 0, fmt.Errorf("%w: duplicate channel %d", ErrInvalidChannels, c)
		}
		cmd |= 1 << (2 + c)
	}
	return cmd, nil
}

// FrameSize returns the number of bytes per sample row for n analog channels.
func FrameSize(n int) int {
	if n <= 4 {
		return (12 + 10*n + 7) / 8
	}
	return (52 + 6*(n-4) + 7) / 8
}

// crc4 computes the frame checksum. The low nibble of the last byte holds
// the transmitted CRC and is treated as zero.
func crc4(frame []byte) byte {
	var x byte
	last := len(frame) - 1
	for i, b := range frame {
		if i == last {
			b &= 0xF0
		}
		for bit := 7; bit >= 0; bit-- {
			x <<= 1
			if x&0x10 != 0 {
				x ^= 0x03
			}
			x ^= (b >> bit) & 0x01
		}
	}
	return x & 0x0F
}

// DecodeFrame unpacks one frame into its sequence number and n analog values.
func DecodeFrame(frame []byte, n int) (int, []int, error) {
	if len(frame) != FrameSize(n) {
		return 0, nil, fmt.Errorf("frame length %d, want %d", len(frame), FrameSize(n))
	}
	d := func(i int) int { return int(frame[len(frame)-i]) }

	if byte(d(1))&0x0F != crc4(frame) {
		return 0, nil, ErrCRC
	}

	seq := d(1) >> 4
	analog := make([]int, n)
	if n > 0 {
		analog[0] = (d(2)&0x0F)<<6 | d(3)>>2
	}
	if n > 1 {
		analog[1] = (d(3)&0x03)<<8 | d(4)
	}
	if n > 2 {
		analog[2] = d(5)<<2 | d(6)>>6
	}
	if n > 3 {
		analog[3] = (d(6)&0x3F)<<4 | d(7)>>4
	}
	if n > 4 {
		analog[4] = (d(7)&0x0F)<<2 | d(8)>>6
	}
	if n > 5 {
		analog[5] = d(8) & 0x3F
	}
	return seq, analog, nil
}

// EncodeFrame packs a sequence number and analog values into a frame with a
// valid checksum. Digital inputs are encoded as zero.
func EncodeFrame(seq int, analog []int) []byte {
	n := len(analog)
	frame := make([]byte, FrameSize(n))
	set := func(i int, v int) { frame[len(frame)-i] |= byte(v) }

	if n > 0 {
		set(2, (analog[0]>>6)&0x0F)
		set(3, (analog[0]&0x3F)<<2)
	}
	if n > 1 {
		set(3, (analog[1]>>8)&0x03)
		set(4, analog[1]&0xFF)
	}
	if n > 2 {
		set(5, (analog[2]>>2)&0xFF)
		set(6, (analog[2]&0x03)<<6)
	}
	if n > 3 {
		set(6, (analog[3]>>4)&0x3F)
		set(7, (analog[3]&0x0F)<<4)
	}
	if n > 4 {
		set(7, (analog[4]>>2)&0x0F)
		set(8, (analog[4]&0x03)<<6)
	}
	if n > 5 {
		set(8, analog[5]&0x3F)
	}
	set(1, (seq&0x0F)<<4)
	set(1, int(crc4(frame)))
	return frame
}

// Bitalino drives a BITalino board over a byte stream.
type Bitalino struct {
	conn io.ReadWriteCloser

	mu        sync.Mutex
	channels  []int
	frameSize int
	closed    bool

	closeOnce sync.Once
	closeErr  error
}

// NewBitalino wraps an open connection to the board.
func NewBitalino(conn io.ReadWriteCloser) *Bitalino {
	return &Bitalino{conn: conn}
}

// Version asks the board for its firmware version string.
// Must be called before Start.
func (b *Bitalino) Version() (string, error) {
	if err := b.send(cmdVersion); err != nil {
		return "", err
	}
	line, err := bufio.NewReader(b.conn).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read version: %w", err)
	}
	line = strings.TrimSpace(line)
	if i := strings.Index(line, "BITalino"); i >= 0 {
		line = line[i:]
	}
	return line, nil
}

// Start selects the sampling rate and enters live mode.
func (b *Bitalino) Start(rate int, channels []int) error {
	if !ValidRate(rate) {
		return fmt.Errorf("%w: %d", ErrInvalidRate, rate)
	}
	sorted := append([]int(nil), channels...)
	sort.Ints(sorted)

	start, err := StartCommand(sorted)
	if err != nil {
		return err
	}
	rateCmd, err := RateCommand(rate)
	if err != nil {
		return err
	}
	if err := b.send(rateCmd); err != nil {
		return fmt.Errorf("set rate: %w", err)
	}
	if err := b.send(start); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	b.mu.Lock()
	b.channels = sorted
	b.frameSize = FrameSize(len(sorted))
	b.mu.Unlock()
	return nil
}

// Read receives n frames.
func (b *Bitalino) Read(n int) (Block, error) {
	b.mu.Lock()
	nch, size, closed := len(b.channels), b.frameSize, b.closed
	b.mu.Unlock()

	if closed {
		return Block{}, ErrClosed
	}
	if nch == 0 {
		return Block{}, ErrNotStarted
	}

	raw := make([]byte, n*size)
	if _, err := io.ReadFull(b.conn, raw); err != nil {
		if b.isClosed() {
			return Block{}, fmt.Errorf("%w: %v", ErrClosed, err)
		}
		return Block{}, fmt.Errorf("receive frames: %w", err)
	}

	blk := Block{Seq: make([]int, n), Rows: make([][]int, n)}
	for i := 0; i < n; i++ {
		seq, analog, err := DecodeFrame(raw[i*size:(i+1)*size], nch)
		if err != nil {
			return Block{}, fmt.Errorf("frame %d: %w", i, err)
		}
		blk.Seq[i] = seq
		blk.Rows[i] = analog
	}
	return blk, nil
}

// Stop leaves live mode.
func (b *Bitalino) Stop() error {
	if b.isClosed() {
		return ErrClosed
	}
	if err := b.send(cmdStop); err != nil {
		return fmt.Errorf("stop: %w", err)
	}
	b.mu.Lock()
	b.channels = nil
	b.mu.Unlock()
	return nil
}

// Close releases the connection. Safe to call more than once.
func (b *Bitalino) Close() error {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		b.mu.Unlock()
		b.closeErr = b.conn.Close()
	})
	return b.closeErr
}

func (b *Bitalino) send(cmd byte) error {
	if b.isClosed() {
		return ErrClosed
	}
	_, err := b.conn.Write([]byte{cmd})
	return err
}

func (b *Bitalino) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}
