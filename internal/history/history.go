// Package history keeps the most recent analyzed calls for the lifetime of
// the process.
package history

import (
	"sync"
	"time"

	"github.com/mbd888/scamshield/internal/risk"
)

// DefaultCapacity is the number of calls kept.
const DefaultCapacity = 10

// Entry summarizes one resolved session.
type Entry struct {
	SessionID         string     `json:"session_id"`
	CallID            string     `json:"call_id,omitempty"`
	Timestamp         time.Time  `json:"timestamp"`
	DurationSeconds   float64    `json:"duration_seconds"`
	RiskScore         float64    `json:"risk_score"`
	RiskLevel         risk.Level `json:"risk_level"`
	ScamDetected      bool       `json:"scam_detected"`
	SpeakerCount      int        `json:"speakers"`
	Suggestion        string     `json:"suggestion,omitempty"`
	LogicScamDetected bool       `json:"logic_scam_detected"`
	LogicReason       string     `json:"logic_reason,omitempty"`
}

// NewEntry builds an entry from a classified result.
func NewEntry(sessionID string, duration time.Duration, res *risk.Result) Entry {
	return Entry{
		SessionID:         sessionID,
		Timestamp:         res.AnalyzedAt,
		DurationSeconds:   duration.Seconds(),
		RiskScore:         res.RiskScore,
		RiskLevel:         res.RiskLevel,
		ScamDetected:      res.ScamDetected,
		SpeakerCount:      res.SpeakerCount,
		Suggestion:        res.Suggestion,
		LogicScamDetected: res.LogicScamDetected,
		LogicReason:       res.LogicReason,
	}
}

// Stats aggregates the retained entries.
type Stats struct {
	Total            int                `json:"total"`
	ScamCount        int                `json:"scam_count"`
	LegitimateCount  int                `json:"legitimate_count"`
	ByLevel          map[risk.Level]int `json:"by_level"`
	AverageRiskScore float64            `json:"average_risk_score"`
}

// Store is a fixed-capacity, newest-first list of entries.
type Store struct {
	mu       sync.RWMutex
	entries  []Entry // newest first
	capacity int
}

// NewStore creates a store holding at most capacity entries. A non-positive
// capacity uses DefaultCapacity.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		entries:  make([]Entry, 0, capacity),
		capacity: capacity,
	}
}

// Record prepends e, evicting the oldest entry when full.
func (s *Store) Record(e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.entries) < s.capacity {
		s.entries = append(s.entries, Entry{})
	}
	copy(s.entries[1:], s.entries[:len(s.entries)-1])
	s.entries[0] = e
}

// Entries returns a copy of the entries, newest first.
func (s *Store) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Len returns the number of retained entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Capacity returns the maximum number of entries kept.
func (s *Store) Capacity() int { return s.capacity }

// Statistics computes aggregates over the retained entries.
func (s *Store) Statistics() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{
		Total:   len(s.entries),
		ByLevel: make(map[risk.Level]int, len(risk.Levels)),
	}
	for _, lvl := range risk.Levels {
		st.ByLevel[lvl] = 0
	}

	var sum float64
	for _, e := range s.entries {
		if e.ScamDetected {
			st.ScamCount++
		} else {
			st.LegitimateCount++
		}
		st.ByLevel[e.RiskLevel]++
		sum += e.RiskScore
	}
	if st.Total > 0 {
		st.AverageRiskScore = sum / float64(st.Total)
	}
	return st
}
