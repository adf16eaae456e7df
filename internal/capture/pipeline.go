package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

const readChunkSize = 32 * 1024

// Pipeline owns at most one recording at a time.
type Pipeline struct {
	device      Device
	format      Format
	maxDuration time.Duration
	now         func() time.Time

	mu  sync.Mutex
	rec *recording
}

type recording struct {
	stream   io.ReadCloser
	started  time.Time
	timer    *time.Timer
	stopping atomic.Bool

	bufMu sync.Mutex
	buf   bytes.Buffer

	readerDone chan struct{}
	done       chan Completion
}

// NewPipeline creates a pipeline over device using DefaultFormat and MaxDuration.
func NewPipeline(device Device) *Pipeline {
	return &Pipeline{
		device:      device,
		format:      DefaultFormat,
		maxDuration: MaxDuration,
		now:         time.Now,
	}
}

// WithMaxDuration overrides the capture cap.
func (p *Pipeline) WithMaxDuration(d time.Duration) *Pipeline {
	p.maxDuration = d
	return p
}

// WithFormat overrides the requested format.
func (p *Pipeline) WithFormat(f Format) *Pipeline {
	p.format = f
	return p
}

// WithClock overrides the time source used for durations and timestamps.
func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	p.now = now
	return p
}

// Recording reports whether a recording is in progress.
func (p *Pipeline) Recording() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rec != nil
}

// Start opens the device and begins buffering. The returned channel receives
// exactly one Completion however the recording ends, then is closed.
// A device that cannot be opened yields ErrDeviceUnavailable and leaves the
// pipeline idle.
func (p *Pipeline) Start(ctx context.Context) (<-chan Completion, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.rec != nil {
		return nil, ErrAlreadyRecording
	}

	stream, err := p.device.Open(ctx, p.format)
	if err != nil {
		if errors.Is(err, ErrDeviceUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	rec := &recording{
		stream:     stream,
		started:    p.now(),
		readerDone: make(chan struct{}),
		done:       make(chan Completion, 1),
	}
	rec.timer = time.AfterFunc(p.maxDuration, func() {
		_, _ = p.finish(rec, CauseLimit, nil)
	})
	p.rec = rec

	go p.read(rec)
	return rec.done, nil
}

// Stop finalizes the current recording. Calling it when idle, or a second
// time, returns ErrNotRecording and touches nothing.
func (p *Pipeline) Stop() (*Artifact, error) {
	p.mu.Lock()
	rec := p.rec
	p.mu.Unlock()
	if rec == nil {
		return nil, ErrNotRecording
	}
	return p.finish(rec, CauseUser, nil)
}

// Abort releases the device and discards buffered audio. Safe to call when idle.
func (p *Pipeline) Abort() {
	p.mu.Lock()
	rec := p.rec
	p.mu.Unlock()
	if rec != nil {
		_, _ = p.finish(rec, CauseAborted, nil)
	}
}

func (p *Pipeline) read(rec *recording) {
	buf := make([]byte, readChunkSize)
	for {
		n, err := rec.stream.Read(buf)
		if n > 0 {
			rec.bufMu.Lock()
			rec.buf.Write(buf[:n])
			rec.bufMu.Unlock()
		}
		if err == nil {
			continue
		}
		close(rec.readerDone)
		if rec.stopping.Load() {
			return
		}
		if errors.Is(err, io.EOF) {
			_, _ = p.finish(rec, CauseEnded, nil)
		} else {
			_, _ = p.finish(rec, CauseDeviceError, err)
		}
		return
	}
}

// finish is the single exit path of a recording. Only the first caller for
// a given recording does any work.
func (p *Pipeline) finish(rec *recording, cause StopCause, devErr error) (*Artifact, error) {
	p.mu.Lock()
	if p.rec != rec {
		p.mu.Unlock()
		return nil, ErrNotRecording
	}
	p.rec = nil
	p.mu.Unlock()

	rec.stopping.Store(true)
	rec.timer.Stop()
	_ = rec.stream.Close()
	<-rec.readerDone

	elapsed := p.now().Sub(rec.started)
	if elapsed > p.maxDuration || cause == CauseLimit {
		elapsed = p.maxDuration
	}
	if elapsed < 0 {
		elapsed = 0
	}

	rec.bufMu.Lock()
	data := bytes.Clone(rec.buf.Bytes())
	rec.bufMu.Unlock()

	art := &Artifact{
		Data:       data,
		MIMEType:   p.format.MIMEType,
		Duration:   elapsed,
		CapturedAt: rec.started,
	}

	var err error
	if cause == CauseDeviceError {
		err = fmt.Errorf("%w: %v", ErrDeviceUnavailable, devErr)
	}
	rec.done <- Completion{Artifact: art, Cause: cause, Err: err}
	close(rec.done)
	return art, nil
}
