package analysis

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/scamshield/internal/risk"
)

func decodeEnvelope(t *testing.T, body string) *EnvelopeData {
	t.Helper()
	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(body), &env))
	require.True(t, env.Success)
	return env.Data
}

func TestNormalize_Structured(t *testing.T) {
	n := NewNormalizer(nil)
	raw, err := n.Normalize("structured", Structured{Data: decodeEnvelope(t, successBody)})
	require.NoError(t, err)

	assert.Equal(t, "structured", raw.Backend)
	assert.Equal(t, "share your otp now", raw.Transcript)
	assert.Equal(t, 2, raw.SpeakerCount)
	require.NotNil(t, raw.OverallScore)
	assert.Equal(t, 0.8, *raw.OverallScore)
	assert.True(t, raw.BackendScamDetected)
	assert.Equal(t, "Do not share the code.", raw.Suggestion)
	assert.False(t, raw.LogicScamDetected, "backend-supplied logic flag is kept")

	s0 := raw.Speakers["0"]
	assert.Equal(t, "0", s0.SpeakerID)
	assert.Equal(t, []string{"share", "otp"}, s0.Keywords, "duplicates within a speaker removed")
	assert.Equal(t, risk.VulnerabilityHigh, s0.Vulnerability)
	assert.Equal(t, risk.VulnerabilityLow, raw.Speakers["1"].Vulnerability, "missing vulnerability defaults to low")
}

func TestNormalize_StructuredFillsLogicLocally(t *testing.T) {
	data := &EnvelopeData{
		Transcription: Transcription{FullText: "We are from bank, send money to unblock your card"},
	}
	raw, err := NewNormalizer(nil).Normalize("structured", Structured{Data: data})
	require.NoError(t, err)
	assert.True(t, raw.LogicScamDetected)
	assert.Contains(t, raw.LogicReason, "send money to unblock")
	assert.Nil(t, raw.OverallScore)
}

func TestNormalize_StructuredWithoutData(t *testing.T) {
	_, err := NewNormalizer(nil).Normalize("structured", Structured{})
	assert.ErrorIs(t, err, ErrAnalysisFailed)
}

func TestNormalize_UnstructuredJSON(t *testing.T) {
	text := "Here is my analysis:\n```json\n" + `{
  "transcription": "Hello sir, your account is blocked. Tell me the OTP.",
  "scamDetected": "yes",
  "riskLevel": "High",
  "redFlags": ["asks for OTP", "account blocked threat"],
  "keywords": ["otp", "blocked", "otp"],
  "speakers": "2",
  "suspiciousSpeaker": "the caller",
  "recommendations": ["Hang up.", "Call your bank."]
}` + "\n```"

	raw, err := NewNormalizer(nil).Normalize("multimodal", Unstructured{Text: text})
	require.NoError(t, err)

	assert.False(t, raw.Degraded)
	assert.Equal(t, "Hello sir, your account is blocked. Tell me the OTP.", raw.Transcript)
	assert.True(t, raw.BackendScamDetected)
	require.NotNil(t, raw.OverallScore)
	assert.Equal(t, 0.80, *raw.OverallScore)
	assert.Equal(t, 2, raw.SpeakerCount)
	assert.Equal(t, []string{"otp", "blocked"}, raw.Keywords)
	assert.Equal(t, "Hang up. Call your bank.", raw.Suggestion)
	assert.Equal(t, "Red flags: asks for OTP; account blocked threat. Suspicious speaker: the caller.", raw.Summary)
	assert.Equal(t, risk.NoLogicMatch, raw.LogicReason)
	assert.Empty(t, raw.Speakers)
}

func TestNormalize_UnstructuredMinimalJSON(t *testing.T) {
	raw, err := NewNormalizer(nil).Normalize("multimodal", Unstructured{Text: `{"transcription":"please pay now to unblock"}`})
	require.NoError(t, err)

	assert.Nil(t, raw.OverallScore, "no level reported means no backend score")
	assert.Equal(t, 1, raw.SpeakerCount)
	assert.True(t, raw.LogicScamDetected)
	assert.Contains(t, raw.Keywords, "pay", "keywords derived locally when the model lists none")
}

func TestNormalize_Degraded(t *testing.T) {
	text := "I think this call is a scam because they asked for your PIN."
	raw, err := NewNormalizer(nil).Normalize("multimodal", Unstructured{Text: text})
	require.NoError(t, err)

	assert.True(t, raw.Degraded)
	assert.Equal(t, text, raw.Transcript)
	assert.Equal(t, text, raw.Summary)
	assert.Equal(t, 1, raw.SpeakerCount)
	assert.True(t, raw.BackendScamDetected)
	assert.Contains(t, raw.Keywords, "pin")
}

func TestNormalize_DegradedScoreFromLevelWords(t *testing.T) {
	tests := []struct {
		name string
		text string
		want float64
	}{
		{"critical", "This is a critical fraud attempt: the caller demands your OTP.", 0.95},
		{"high before medium", "High pressure call, medium confidence.", 0.80},
		{"medium", "Medium concern about the caller.", 0.50},
		{"no level words", "Friendly chat about dinner plans.", 0.20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := NewNormalizer(nil).Normalize("multimodal", Unstructured{Text: tt.text})
			require.NoError(t, err)
			require.True(t, raw.Degraded)
			require.NotNil(t, raw.OverallScore)
			assert.InDelta(t, tt.want, *raw.OverallScore, 1e-9)
		})
	}
}

func TestNormalize_DegradedCriticalTextRaisesRisk(t *testing.T) {
	raw, err := NewNormalizer(nil).Normalize("multimodal",
		Unstructured{Text: "This is a critical fraud attempt: the caller demands your OTP."})
	require.NoError(t, err)

	res := risk.NewClassifier().Classify(raw)
	assert.Equal(t, risk.LevelCritical, res.RiskLevel)
	assert.InDelta(t, 0.95, res.RiskScore, 1e-9)
}

func TestNormalize_DegradedBrokenJSON(t *testing.T) {
	raw, err := NewNormalizer(nil).Normalize("multimodal", Unstructured{Text: `{"transcription": "cut off`})
	require.NoError(t, err)
	assert.True(t, raw.Degraded)
	assert.False(t, raw.BackendScamDetected)
}

func TestNormalize_EmptyText(t *testing.T) {
	_, err := NewNormalizer(nil).Normalize("multimodal", Unstructured{Text: "  "})
	assert.ErrorIs(t, err, ErrAnalysisFailed)
}

func TestLooseBool(t *testing.T) {
	tests := map[string]bool{
		`true`: true, `false`: false, `"yes"`: true, `"No"`: false,
		`1`: true, `0`: false, `null`: false, `{}`: false,
	}
	for in, want := range tests {
		var b looseBool
		require.NoError(t, json.Unmarshal([]byte(in), &b), in)
		assert.Equal(t, want, bool(b), in)
	}
}
