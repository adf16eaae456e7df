// Package risk turns normalized analyzer output into a single call verdict.
//
// The overall score is the analyzer's own score when it reports one, otherwise
// the highest per-speaker score. A call is flagged as a scam when any of three
// independent signals fires: a speaker flagged as a likely scammer, the
// analyzer's own scam verdict, or the rule engine's logic flag.
package risk

import "time"

// Level is the coarse risk bucket shown to the user.
type Level string

const (
	LevelSafe     Level = "safe"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// Levels lists every level from lowest to highest.
var Levels = []Level{LevelSafe, LevelMedium, LevelHigh, LevelCritical}

// Lower bounds (inclusive) of each level.
const (
	ThresholdCritical = 0.75
	ThresholdHigh     = 0.50
	ThresholdMedium   = 0.25
)

// Vulnerability classifies how exposed a speaker is (e.g. asked for an OTP).
type Vulnerability string

const (
	VulnerabilityLow    Vulnerability = "low"
	VulnerabilityMedium Vulnerability = "medium"
	VulnerabilityHigh   Vulnerability = "high"
)

// SpeakerAnalysis is one diarized speaker's share of the call.
type SpeakerAnalysis struct {
	SpeakerID          string        `json:"speaker_id"`
	Text               string        `json:"text"`
	Keywords           []string      `json:"scam_keywords"`
	UniqueKeywords     int           `json:"unique_scam_keywords"`
	RiskScore          float64       `json:"risk_score"`
	IsPotentialScammer bool          `json:"is_potential_scammer"`
	Vulnerability      Vulnerability `json:"vulnerability_level"`
	WordCount          int           `json:"word_count"`
}

// Raw is analyzer output after backend-specific normalization. Optional
// fields the backend did not report are left nil or empty.
type Raw struct {
	Backend             string
	Transcript          string
	Speakers            map[string]SpeakerAnalysis
	SpeakerCount        int // 0 means len(Speakers)
	OverallScore        *float64
	BackendScamDetected bool
	Summary             string
	Suggestion          string
	LogicScamDetected   bool
	LogicReason         string
	Keywords            []string // call-level keywords reported outside any speaker
	Degraded            bool
}

// Result is the immutable verdict for one analyzed call.
type Result struct {
	Transcript        string                     `json:"transcript"`
	Speakers          map[string]SpeakerAnalysis `json:"speakers"`
	SpeakerCount      int                        `json:"speaker_count"`
	RiskScore         float64                    `json:"risk_score"`
	RiskLevel         Level                      `json:"risk_level"`
	ScamDetected      bool                       `json:"scam_detected"`
	Summary           string                     `json:"summary,omitempty"`
	Suggestion        string                     `json:"suggestion,omitempty"`
	LogicScamDetected bool                       `json:"logic_scam_detected"`
	LogicReason       string                     `json:"logic_reason,omitempty"`
	Keywords          []string                   `json:"keywords"`
	Backend           string                     `json:"backend"`
	Degraded          bool                       `json:"degraded"`
	AnalyzedAt        time.Time                  `json:"analyzed_at"`
}

// LevelFor maps a score onto the fixed ladder.
func LevelFor(score float64) Level {
	switch {
	case score >= ThresholdCritical:
		return LevelCritical
	case score >= ThresholdHigh:
		return LevelHigh
	case score >= ThresholdMedium:
		return LevelMedium
	default:
		return LevelSafe
	}
}

// ScoreForLevel is the representative score for an analyzer that reports
// only a level name. Unknown names score as low.
func ScoreForLevel(level string) float64 {
	switch level {
	case "critical":
		return 0.95
	case "high":
		return 0.80
	case "medium":
		return 0.50
	default:
		return 0.20
	}
}
