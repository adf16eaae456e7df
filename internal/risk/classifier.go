package risk

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Classifier computes a Result from normalized analyzer output. It holds no
// per-call state and is safe for concurrent use.
type Classifier struct {
	now func() time.Time
}

// NewClassifier creates a classifier stamping results with the wall clock.
func NewClassifier() *Classifier {
	return &Classifier{now: time.Now}
}

// WithClock overrides the timestamp source.
func (c *Classifier) WithClock(now func() time.Time) *Classifier {
	c.now = now
	return c
}

// Classify never fails: a call with zero speakers is classified from the
// call-level fields alone.
func (c *Classifier) Classify(raw *Raw) *Result {
	ids := sortedSpeakerIDs(raw.Speakers)

	score := OverallScore(raw)
	level := LevelFor(score)
	scam := ScamDetected(raw)

	speakers := make(map[string]SpeakerAnalysis, len(raw.Speakers))
	for id, s := range raw.Speakers {
		s.SpeakerID = id
		s.Keywords = append([]string(nil), s.Keywords...)
		speakers[id] = s
	}

	count := raw.SpeakerCount
	if count <= 0 {
		count = len(raw.Speakers)
	}

	summary := raw.Summary
	if summary == "" {
		summary = Summarize(count, scam, level)
	}

	return &Result{
		Transcript:        raw.Transcript,
		Speakers:          speakers,
		SpeakerCount:      count,
		RiskScore:         score,
		RiskLevel:         level,
		ScamDetected:      scam,
		Summary:           summary,
		Suggestion:        raw.Suggestion,
		LogicScamDetected: raw.LogicScamDetected,
		LogicReason:       raw.LogicReason,
		Keywords:          MergeKeywords(raw.Speakers, ids, raw.Keywords),
		Backend:           raw.Backend,
		Degraded:          raw.Degraded,
		AnalyzedAt:        c.now().UTC(),
	}
}

// OverallScore is the analyzer's score when present, otherwise the max (not
// the mean) of speaker scores. Clamped to [0,1].
func OverallScore(raw *Raw) float64 {
	if raw.OverallScore != nil {
		return clamp(*raw.OverallScore)
	}
	var highest float64
	for _, s := range raw.Speakers {
		if s.RiskScore > highest {
			highest = s.RiskScore
		}
	}
	return clamp(highest)
}

// ScamDetected ORs the three independent signals.
func ScamDetected(raw *Raw) bool {
	if raw.BackendScamDetected || raw.LogicScamDetected {
		return true
	}
	for _, s := range raw.Speakers {
		if s.IsPotentialScammer {
			return true
		}
	}
	return false
}

// MergeKeywords returns the ordered union of speaker keywords (speakers in
// ids order) followed by call-level extras. First occurrence wins.
func MergeKeywords(speakers map[string]SpeakerAnalysis, ids []string, extra []string) []string {
	seen := make(map[string]struct{})
	out := []string{}
	add := func(kw string) {
		if kw == "" {
			return
		}
		if _, ok := seen[kw]; ok {
			return
		}
		seen[kw] = struct{}{}
		out = append(out, kw)
	}
	for _, id := range ids {
		for _, kw := range speakers[id].Keywords {
			add(kw)
		}
	}
	for _, kw := range extra {
		add(kw)
	}
	return out
}

// Summarize builds the one-line call summary used when the analyzer sends none.
func Summarize(speakers int, scam bool, level Level) string {
	verdict := "Safe conversation"
	if scam {
		verdict = "SCAM DETECTED"
	}
	return fmt.Sprintf("Call analyzed with %d speakers. %s - Risk Level: %s", speakers, verdict, strings.ToUpper(string(level)))
}

// Speaker ids are usually small integers ("0", "1", "10"); order those
// numerically and anything else lexically after them.
func sortedSpeakerIDs(speakers map[string]SpeakerAnalysis) []string {
	ids := make([]string, 0, len(speakers))
	for id := range speakers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := ids[i], ids[j]
		an, aok := numeric(a)
		bn, bok := numeric(b)
		switch {
		case aok && bok:
			return an < bn
		case aok != bok:
			return aok
		default:
			return a < b
		}
	})
	return ids
}

func numeric(s string) (int, bool) {
	if s == "" || len(s) > 9 {
		return 0, false
	}
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, true
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
