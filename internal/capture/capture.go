// Package capture records one bounded audio segment at a time.
//
// A Pipeline opens a Device, buffers whatever encoded bytes it produces and
// finalizes them into an immutable Artifact. Recording ends on an explicit
// Stop, on the hard duration cap, or when the device fails; in every case the
// device is released and the completion channel returned by Start fires once.
package capture

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"time"
)

const (
	SampleRate  = 16000
	Channels    = 1
	MaxDuration = 40 * time.Second
)

var (
	ErrDeviceUnavailable = errors.New("capture: audio device unavailable")
	ErrNotRecording      = errors.New("capture: not recording")
	ErrAlreadyRecording  = errors.New("capture: already recording")
)

// Format describes what the device is asked to produce.
type Format struct {
	SampleRate       int
	Channels         int
	EchoCancellation bool
	NoiseSuppression bool
	MIMEType         string
}

// DefaultFormat is 16 kHz mono with echo cancellation and noise suppression.
var DefaultFormat = Format{
	SampleRate:       SampleRate,
	Channels:         Channels,
	EchoCancellation: true,
	NoiseSuppression: true,
	MIMEType:         "audio/wav",
}

// Device opens an encoded audio stream. Reads block until audio arrives;
// Close must release the underlying hardware or producer and unblock Read.
type Device interface {
	Open(ctx context.Context, f Format) (io.ReadCloser, error)
}

// Artifact is a finished recording.
type Artifact struct {
	Data       []byte
	MIMEType   string
	Duration   time.Duration
	CapturedAt time.Time
}

// Seconds returns the declared duration in seconds.
func (a *Artifact) Seconds() float64 { return a.Duration.Seconds() }

// Base64 returns the payload in the encoding analyzers expect.
func (a *Artifact) Base64() string { return base64.StdEncoding.EncodeToString(a.Data) }

// Empty reports whether nothing was captured.
func (a *Artifact) Empty() bool { return len(a.Data) == 0 }

// StopCause records why a recording ended.
type StopCause string

const (
	CauseUser        StopCause = "user"
	CauseLimit       StopCause = "limit"
	CauseEnded       StopCause = "ended" // device reached end of stream
	CauseDeviceError StopCause = "device_error"
	CauseAborted     StopCause = "aborted"
)

// Completion is delivered exactly once per recording.
type Completion struct {
	Artifact *Artifact
	Cause    StopCause
	Err      error // set for CauseDeviceError
}
