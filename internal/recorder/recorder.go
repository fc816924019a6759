// Package recorder writes a recording session to an EDF file: one signal per
// channel plus a Marker signal carrying the protocol phase, in one-second
// data records.
package recorder

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/OpenPSG/edf"
	"github.com/google/uuid"

	"github.com/sweeney/physio-sensor/internal/acquisition"
	"github.com/sweeney/physio-sensor/internal/channel"
)

// Marker values stamped alongside the samples. Answer markers carry the
// answer key's character code.
const (
	MarkerBaseline byte = 0
	MarkerQuestion byte = 'q'
)

// MarkerSignal is the label of the marker signal.
const MarkerSignal = "Marker"

// queueDepth is how many blocks may wait for the writer before Tap drops.
const queueDepth = 64

// Info describes a recording.
type Info struct {
	SessionID    string
	SamplingRate int
	Start        time.Time
}

type queued struct {
	frame  acquisition.Frame
	marker byte
}

// Recorder accepts frames from the acquisition loop and writes them to EDF
// on its own goroutine.
type Recorder struct {
	id     string
	path   string
	rate   int
	file   io.Closer
	writer *edf.Writer

	marker  atomic.Uint32
	queue   chan queued
	dropped atomic.Uint64
	done    chan struct{}

	closeOnce sync.Once
	closeErr  error

	// written by the writer goroutine, read after done
	pending [channel.Count + 1][]float64
	records int
	err     error
}

// Create opens <dir>/<session>-<recording id>.edf and starts the writer.
func Create(dir string, info Info) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create record dir: %w", err)
	}

	id := uuid.NewString()
	path := filepath.Join(dir, fmt.Sprintf("%s-%s.edf", info.SessionID, id[:8]))
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create recording: %w", err)
	}

	r, err := newRecorder(f, f, id, info)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	r.path = path
	log.Printf("recorder: writing %s", path)
	return r, nil
}

// New writes to w. If w is also an io.Closer it is closed by Close.
func New(w io.WriteSeeker, info Info) (*Recorder, error) {
	c, _ := w.(io.Closer)
	return newRecorder(w, c, uuid.NewString(), info)
}

func newRecorder(w io.WriteSeeker, c io.Closer, id string, info Info) (*Recorder, error) {
	if info.SamplingRate <= 0 {
		return nil, fmt.Errorf("recorder: invalid sampling rate %d", info.SamplingRate)
	}
	if info.Start.IsZero() {
		info.Start = time.Now()
	}

	ew, err := edf.Create(w, Header(info, id))
	if err != nil {
		return nil, fmt.Errorf("write edf header: %w", err)
	}

	r := &Recorder{
		id:     id,
		rate:   info.SamplingRate,
		file:   c,
		writer: ew,
		queue:  make(chan queued, queueDepth),
		done:   make(chan struct{}),
	}
	go r.run()
	return r, nil
}

// Header builds the EDF header for a recording. All channels share the
// ADC's 10-bit digital range so samples are stored without loss.
func Header(info Info, recordingID string) edf.Header {
	hdr := edf.Header{
		Version:            edf.Version0,
		PatientID:          info.SessionID,
		RecordingID:        recordingID,
		StartTime:          info.Start,
		DataRecordDuration: time.Second,
		SignalCount:        channel.Count + 1,
	}
	for _, c := range channel.All {
		lo, hi := c.Range()
		hdr.Signals = append(hdr.Signals, edf.SignalHeader{
			Label:             c.String(),
			TransducerType:    "BITalino",
			PhysicalDimension: c.Unit(),
			PhysicalMin:       lo,
			PhysicalMax:       hi,
			DigitalMin:        0,
			DigitalMax:        channel.RawMax,
			SamplesPerRecord:  info.SamplingRate,
		})
	}
	hdr.Signals = append(hdr.Signals, edf.SignalHeader{
		Label:             MarkerSignal,
		PhysicalDimension: "code",
		PhysicalMin:       0,
		PhysicalMax:       255,
		DigitalMin:        0,
		DigitalMax:        255,
		SamplesPerRecord:  info.SamplingRate,
	})
	return hdr
}

// ID returns the recording ID.
func (r *Recorder) ID() string {
	return r.id
}

// Path returns the file path, or "" when writing to a caller's writer.
func (r *Recorder) Path() string {
	return r.path
}

// SetMarker changes the marker stamped on subsequent frames.
func (r *Recorder) SetMarker(m byte) {
	r.marker.Store(uint32(m))
}

// Marker returns the current marker.
func (r *Recorder) Marker() byte {
	return byte(r.marker.Load())
}

// Tap queues a frame for writing without blocking. It is meant to be passed
// as the acquisition tap and must not be called after Close.
func (r *Recorder) Tap(f acquisition.Frame) {
	select {
	case r.queue <- queued{frame: f, marker: r.Marker()}:
	default:
		if r.dropped.Add(1) == 1 {
			log.Printf("recorder: writer falling behind, dropping block %d", f.Index)
		}
	}
}

// Dropped returns how many frames Tap could not queue.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

func (r *Recorder) run() {
	defer close(r.done)
	for q := range r.queue {
		if r.err != nil {
			continue
		}
		if err := r.append(q); err != nil {
			r.err = err
			log.Printf("recorder: %v", err)
		}
	}
}

func (r *Recorder) append(q queued) error {
	n := len(q.frame.Cols[0])
	for c, col := range q.frame.Cols {
		r.pending[c] = append(r.pending[c], col...)
	}
	m := float64(q.marker)
	for i := 0; i < n; i++ {
		r.pending[channel.Count] = append(r.pending[channel.Count], m)
	}

	for len(r.pending[0]) >= r.rate {
		record := make([][]float64, len(r.pending))
		for s := range r.pending {
			record[s] = r.pending[s][:r.rate]
		}
		if err := r.writer.WriteRecord(record); err != nil {
			return fmt.Errorf("write record %d: %w", r.records, err)
		}
		for s := range r.pending {
			r.pending[s] = append(r.pending[s][:0], r.pending[s][r.rate:]...)
		}
		r.records++
	}
	return nil
}

// Close waits for queued frames to be written, finalizes the header and
// closes the file. Samples that do not fill a whole record are discarded.
func (r *Recorder) Close() error {
	r.closeOnce.Do(func() {
		close(r.queue)
		<-r.done

		if tail := len(r.pending[0]); tail > 0 {
			log.Printf("recorder: discarding %d samples short of a full record", tail)
		}

		var errs []error
		if r.err != nil {
			errs = append(errs, r.err)
		}
		if err := r.writer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("finalize edf: %w", err))
		}
		if r.file != nil {
			if err := r.file.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close recording: %w", err))
			}
		}
		r.closeErr = errors.Join(errs...)
		log.Printf("recorder: closed after %d records", r.records)
	})
	return r.closeErr
}

// Records returns how many whole records have been written. Only valid
// after Close.
func (r *Recorder) Records() int {
	<-r.done
	return r.records
}
