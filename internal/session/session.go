// Package session runs one capture-and-analyze session at a time.
//
// An Orchestrator owns the current Session inside a single run-loop goroutine.
// Start, Stop, Teardown and SelectBackend are requests to that loop; capture
// completion and analysis results arrive as channel events. Readers get
// copies, never the live session.
package session

import (
	"errors"
	"time"

	"github.com/mbd888/scamshield/internal/analysis"
	"github.com/mbd888/scamshield/internal/capture"
	"github.com/mbd888/scamshield/internal/risk"
)

var (
	// ErrSessionActive rejects a start while recording, encoding or analyzing.
	ErrSessionActive = errors.New("session: a session is already active")
	// ErrNotRecording is returned by Stop outside the recording state.
	ErrNotRecording = errors.New("session: not recording")
	// ErrNoAudio fails a session whose capture produced no bytes.
	ErrNoAudio = errors.New("session: no audio captured")
	// ErrClosed is returned after the orchestrator's run loop has exited.
	ErrClosed = errors.New("session: orchestrator stopped")
)

// State is a position in the session lifecycle.
type State string

const (
	StateIdle      State = "idle"
	StateRecording State = "recording"
	StateEncoding  State = "encoding"
	StateAnalyzing State = "analyzing"
	StateResolved  State = "resolved"
	StateFailed    State = "failed"
)

// Active reports whether a session in s blocks a new start.
func (s State) Active() bool {
	return s == StateRecording || s == StateEncoding || s == StateAnalyzing
}

// Event types published to the Emitter.
const (
	EventState    = "session.state"
	EventResolved = "session.resolved"
	EventFailed   = "session.failed"
)

// Session is a point-in-time copy of the orchestrator's session.
type Session struct {
	ID         string            `json:"id,omitempty"`
	State      State             `json:"state"`
	Backend    string            `json:"backend"`
	StartedAt  *time.Time        `json:"started_at,omitempty"`
	StoppedAt  *time.Time        `json:"stopped_at,omitempty"`
	Elapsed    float64           `json:"elapsed_seconds"`
	StopCause  capture.StopCause `json:"stop_cause,omitempty"`
	AudioBytes int               `json:"audio_bytes,omitempty"`
	Result     *risk.Result      `json:"result,omitempty"`
	Error      *UserError        `json:"error,omitempty"`
	CallID     string            `json:"call_id,omitempty"`
}

// UserError is a failure phrased for the person on the call.
type UserError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *UserError) Error() string { return e.Message }
func (e *UserError) Unwrap() error { return e.Err }

// Error kinds.
const (
	KindDeviceUnavailable  = "device_unavailable"
	KindNoAudio            = "no_audio"
	KindTimeout            = "timeout"
	KindPayloadTooLarge    = "payload_too_large"
	KindBackendUnavailable = "backend_unavailable"
	KindAnalysisFailed     = "analysis_failed"
)

// Classify maps a capture or analysis error to the message shown to the user.
func Classify(err error) *UserError {
	if err == nil {
		return nil
	}
	var ue *UserError
	if errors.As(err, &ue) {
		return ue
	}

	var failed *analysis.FailedError
	switch {
	case errors.Is(err, capture.ErrDeviceUnavailable):
		return &UserError{Kind: KindDeviceUnavailable, Message: "Failed to access microphone. Please check permissions.", Err: err}
	case errors.Is(err, ErrNoAudio):
		return &UserError{Kind: KindNoAudio, Message: "No audio was captured. Please try again.", Err: err}
	case errors.Is(err, analysis.ErrAnalysisTimeout):
		return &UserError{Kind: KindTimeout, Message: "Audio processing timeout. Please try with shorter audio.", Err: err}
	case errors.Is(err, analysis.ErrPayloadTooLarge):
		return &UserError{Kind: KindPayloadTooLarge, Message: "Audio file too large. Please try with shorter audio.", Err: err}
	case errors.Is(err, analysis.ErrBackendUnavailable):
		return &UserError{Kind: KindBackendUnavailable, Message: "Backend processing error. Please check if the server is running properly.", Err: err}
	case errors.As(err, &failed):
		msg := failed.Message
		if msg == "" {
			msg = "Analysis failed"
		}
		return &UserError{Kind: KindAnalysisFailed, Message: msg, Err: err}
	default:
		return &UserError{Kind: KindAnalysisFailed, Message: "Failed to analyze audio. Please check if the backend server is running.", Err: err}
	}
}
