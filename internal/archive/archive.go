// Package archive stores every resolved call for later review. Unlike the
// in-process history it is unbounded and can be backed by PostgreSQL.
package archive

import (
	"context"
	"errors"
	"maps"
	"slices"
	"time"

	"github.com/mbd888/scamshield/internal/risk"
)

var ErrNotFound = errors.New("archive: call not found")

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Call is an archived analysis.
type Call struct {
	ID                string                          `json:"id"`
	SessionID         string                          `json:"session_id"`
	Transcript        string                          `json:"transcript"`
	Speakers          map[string]risk.SpeakerAnalysis `json:"speakers"`
	SpeakerCount      int                             `json:"speaker_count"`
	Keywords          []string                        `json:"keywords"`
	RiskScore         float64                         `json:"risk_score"`
	RiskLevel         risk.Level                      `json:"risk_level"`
	ScamDetected      bool                            `json:"scam_detected"`
	Summary           string                          `json:"summary,omitempty"`
	Suggestion        string                          `json:"suggestion,omitempty"`
	LogicScamDetected bool                            `json:"logic_scam_detected"`
	LogicReason       string                          `json:"logic_reason,omitempty"`
	DurationSeconds   float64                         `json:"duration_seconds"`
	Backend           string                          `json:"backend"`
	Degraded          bool                            `json:"degraded"`
	CreatedAt         time.Time                       `json:"created_at"`
}

// NewCall builds an archive record from a classified result.
func NewCall(id, sessionID string, duration time.Duration, res *risk.Result) *Call {
	return &Call{
		ID:                id,
		SessionID:         sessionID,
		Transcript:        res.Transcript,
		Speakers:          maps.Clone(res.Speakers),
		SpeakerCount:      res.SpeakerCount,
		Keywords:          slices.Clone(res.Keywords),
		RiskScore:         res.RiskScore,
		RiskLevel:         res.RiskLevel,
		ScamDetected:      res.ScamDetected,
		Summary:           res.Summary,
		Suggestion:        res.Suggestion,
		LogicScamDetected: res.LogicScamDetected,
		LogicReason:       res.LogicReason,
		DurationSeconds:   duration.Seconds(),
		Backend:           res.Backend,
		Degraded:          res.Degraded,
		CreatedAt:         res.AnalyzedAt.UTC().Truncate(time.Microsecond),
	}
}

// ListOptions selects a page of calls, newest first.
type ListOptions struct {
	Cursor   string
	Limit    int
	ScamOnly bool
}

func (o ListOptions) limit() int {
	switch {
	case o.Limit <= 0:
		return DefaultLimit
	case o.Limit > MaxLimit:
		return MaxLimit
	default:
		return o.Limit
	}
}

// Store persists archived calls.
type Store interface {
	Save(ctx context.Context, call *Call) error
	Get(ctx context.Context, id string) (*Call, error)
	// List returns one page and the cursor for the next, empty when done.
	List(ctx context.Context, opts ListOptions) ([]*Call, string, error)
}
