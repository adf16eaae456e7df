package analysis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/mbd888/scamshield/internal/risk"
)

// Normalizer converts any backend Response into risk.Raw, filling the logic
// flag from the local rule engine when the backend did not supply one.
type Normalizer struct {
	rules *risk.Rules
}

// NewNormalizer creates a normalizer. A nil rules value uses the defaults.
func NewNormalizer(rules *risk.Rules) *Normalizer {
	if rules == nil {
		rules = risk.DefaultRules()
	}
	return &Normalizer{rules: rules}
}

// Normalize dispatches on the response variant.
func (n *Normalizer) Normalize(backend string, resp Response) (*risk.Raw, error) {
	switch r := resp.(type) {
	case Structured:
		return n.structured(backend, r.Data)
	case *Structured:
		return n.structured(backend, r.Data)
	case Unstructured:
		return n.unstructured(backend, r.Text)
	case *Unstructured:
		return n.unstructured(backend, r.Text)
	default:
		return nil, &FailedError{Message: fmt.Sprintf("unsupported response type %T", resp)}
	}
}

func (n *Normalizer) structured(backend string, d *EnvelopeData) (*risk.Raw, error) {
	if d == nil {
		return nil, &FailedError{Message: "analyzer returned no data"}
	}

	speakers := make(map[string]risk.SpeakerAnalysis, len(d.Analysis))
	for id, s := range d.Analysis {
		s.SpeakerID = id
		s.Keywords = dedupe(s.Keywords)
		if s.UniqueKeywords == 0 {
			s.UniqueKeywords = len(s.Keywords)
		}
		if s.Vulnerability == "" {
			s.Vulnerability = risk.VulnerabilityLow
		}
		speakers[id] = s
	}

	raw := &risk.Raw{
		Backend:             backend,
		Transcript:          d.Transcription.FullText,
		Speakers:            speakers,
		SpeakerCount:        d.SpeakersCount,
		OverallScore:        d.OverallRiskScore,
		BackendScamDetected: d.ScamDetected,
		Summary:             d.CallSummary,
		Suggestion:          d.GeminiSuggestion,
	}

	if d.LogicScamDetected != nil {
		raw.LogicScamDetected = *d.LogicScamDetected
		raw.LogicReason = d.LogicReason
	} else {
		raw.LogicScamDetected, raw.LogicReason = n.rules.DetectLogic(raw.Transcript)
	}
	return raw, nil
}

// modelReply is the JSON object a multimodal model is asked to produce.
// Models drift on types, so scalar fields accept several encodings.
type modelReply struct {
	Transcription     string    `json:"transcription"`
	ScamDetected      looseBool `json:"scamDetected"`
	RiskLevel         string    `json:"riskLevel"`
	RedFlags          []string  `json:"redFlags"`
	Keywords          []string  `json:"keywords"`
	Speakers          looseInt  `json:"speakers"`
	SuspiciousSpeaker string    `json:"suspiciousSpeaker"`
	Recommendations   looseText `json:"recommendations"`
}

func (n *Normalizer) unstructured(backend, text string) (*risk.Raw, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, &FailedError{Message: "model returned an empty reply"}
	}

	reply, ok := parseModelReply(text)
	if !ok {
		return n.degraded(backend, text), nil
	}

	raw := &risk.Raw{
		Backend:             backend,
		Transcript:          reply.Transcription,
		Speakers:            map[string]risk.SpeakerAnalysis{},
		SpeakerCount:        int(reply.Speakers),
		BackendScamDetected: bool(reply.ScamDetected),
		Suggestion:          string(reply.Recommendations),
		Keywords:            dedupe(reply.Keywords),
		Summary:             redFlagSummary(reply.RedFlags, reply.SuspiciousSpeaker),
	}
	if raw.SpeakerCount <= 0 {
		raw.SpeakerCount = 1
	}
	if lvl := strings.ToLower(strings.TrimSpace(reply.RiskLevel)); lvl != "" {
		s := risk.ScoreForLevel(lvl)
		raw.OverallScore = &s
	}
	if len(raw.Keywords) == 0 {
		raw.Keywords = n.rules.MatchKeywords(raw.Transcript)
	}
	raw.LogicScamDetected, raw.LogicReason = n.rules.DetectLogic(raw.Transcript)
	return raw, nil
}

// degraded treats unparseable model text as both transcript and summary and
// takes the overall score from the level the text names.
func (n *Normalizer) degraded(backend, text string) *risk.Raw {
	score := risk.ScoreForLevel(n.rules.DegradedLevel(text))
	raw := &risk.Raw{
		Backend:             backend,
		Transcript:          text,
		Summary:             text,
		Suggestion:          text,
		Speakers:            map[string]risk.SpeakerAnalysis{},
		SpeakerCount:        1,
		OverallScore:        &score,
		BackendScamDetected: n.rules.HasDegradedMarker(text),
		Keywords:            n.rules.MatchKeywords(text),
		Degraded:            true,
	}
	raw.LogicScamDetected, raw.LogicReason = n.rules.DetectLogic(text)
	return raw
}

// parseModelReply decodes the outermost {...} span of text.
func parseModelReply(text string) (*modelReply, bool) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return nil, false
	}
	var reply modelReply
	if err := json.Unmarshal([]byte(text[start:end+1]), &reply); err != nil {
		return nil, false
	}
	return &reply, true
}

func redFlagSummary(flags []string, suspicious string) string {
	var parts []string
	if flags = dedupe(flags); len(flags) > 0 {
		parts = append(parts, "Red flags: "+strings.Join(flags, "; ")+".")
	}
	if s := strings.TrimSpace(suspicious); s != "" {
		parts = append(parts, "Suspicious speaker: "+s+".")
	}
	return strings.Join(parts, " ")
}

func dedupe(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// looseBool accepts true/false, "true"/"yes"/"no" and 0/1.
type looseBool bool

func (b *looseBool) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	var v bool
	if err := json.Unmarshal(data, &v); err == nil {
		*b = looseBool(v)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true", "yes", "y", "1", "scam":
			*b = true
		default:
			*b = false
		}
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		*b = f != 0
		return nil
	}
	*b = false
	return nil
}

// looseInt accepts 2 and "2"; anything else decodes as 0.
type looseInt int

func (i *looseInt) UnmarshalJSON(data []byte) error {
	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		*i = looseInt(f)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			*i = looseInt(n)
			return nil
		}
	}
	*i = 0
	return nil
}

// looseText accepts a string or a list of strings (joined by spaces).
type looseText string

func (t *looseText) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*t = looseText(s)
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*t = looseText(strings.Join(list, " "))
		return nil
	}
	*t = ""
	return nil
}
