package analysis

import (
	"encoding/json"

	"github.com/mbd888/scamshield/internal/risk"
)

// Envelope is the structured analyzer's reply.
type Envelope struct {
	Success bool          `json:"success"`
	Data    *EnvelopeData `json:"data,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// EnvelopeData is a fully analyzed call. Pointer fields are optional.
type EnvelopeData struct {
	Transcription     Transcription                   `json:"transcription"`
	Analysis          map[string]risk.SpeakerAnalysis `json:"analysis"`
	SpeakersCount     int                             `json:"speakers_count"`
	ScamDetected      bool                            `json:"scam_detected"`
	OverallRiskScore  *float64                        `json:"overall_risk_score,omitempty"`
	RiskLevel         string                          `json:"risk_level,omitempty"`
	CallSummary       string                          `json:"call_summary,omitempty"`
	GeminiSuggestion  string                          `json:"gemini_suggestion,omitempty"`
	LogicScamDetected *bool                           `json:"logic_scam_detected,omitempty"`
	LogicReason       string                          `json:"logic_reason,omitempty"`
}

// Transcription is the diarized transcript. SpeakerText is passed through
// opaquely.
type Transcription struct {
	FullText    string          `json:"full_text"`
	SpeakerText json.RawMessage `json:"speaker_text,omitempty"`
	Words       []Word          `json:"words,omitempty"`
}

type Word struct {
	Word       string  `json:"word"`
	StartTime  float64 `json:"start_time"`
	EndTime    float64 `json:"end_time"`
	SpeakerTag *int    `json:"speaker_tag,omitempty"`
}

// Response is what a backend hands back before normalization: either a
// Structured envelope or Unstructured model text.
type Response interface {
	isResponse()
}

// Structured wraps a decoded analyzer envelope.
type Structured struct {
	Data *EnvelopeData
}

// Unstructured wraps free text from a multimodal model.
type Unstructured struct {
	Text string
}

func (Structured) isResponse()   {}
func (Unstructured) isResponse() {}
