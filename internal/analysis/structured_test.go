package analysis

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/scamshield/internal/capture"
)

func testArtifact() *capture.Artifact {
	return &capture.Artifact{
		Data:       []byte("fake-wav"),
		MIMEType:   "audio/wav",
		Duration:   8 * time.Second,
		CapturedAt: time.Now(),
	}
}

const successBody = `{
  "success": true,
  "data": {
    "transcription": {"full_text": "share your otp now", "speaker_text": {"0": ["share"]}, "words": []},
    "analysis": {
      "0": {"text": "share your otp", "scam_keywords": ["share", "otp", "otp"], "unique_scam_keywords": 2,
            "risk_score": 0.4, "is_potential_scammer": true, "vulnerability_level": "high", "word_count": 3},
      "1": {"text": "ok", "scam_keywords": [], "risk_score": 0.0, "is_potential_scammer": false, "word_count": 1}
    },
    "speakers_count": 2,
    "scam_detected": true,
    "overall_risk_score": 0.8,
    "risk_level": "critical",
    "gemini_suggestion": "Do not share the code.",
    "logic_scam_detected": false,
    "logic_reason": "No critical scam patterns detected"
  }
}`

func TestStructuredBackend_Success(t *testing.T) {
	var gotAuth, gotCT string
	var gotBody analyzeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotCT = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(successBody))
	}))
	defer srv.Close()

	b := NewStructuredBackend("structured", srv.URL, "tok-123")
	resp, err := b.Analyze(context.Background(), testArtifact())
	require.NoError(t, err)

	assert.Equal(t, "Bearer tok-123", gotAuth)
	assert.Equal(t, "application/json", gotCT)
	assert.Equal(t, testArtifact().Base64(), gotBody.Audio)

	s, ok := resp.(Structured)
	require.True(t, ok)
	assert.Equal(t, "share your otp now", s.Data.Transcription.FullText)
	assert.Equal(t, 2, s.Data.SpeakersCount)
	require.NotNil(t, s.Data.OverallRiskScore)
	assert.Equal(t, 0.8, *s.Data.OverallRiskScore)
}

func TestStructuredBackend_NoTokenNoAuthHeader(t *testing.T) {
	var hadAuth bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hadAuth = r.Header["Authorization"]
		_, _ = w.Write([]byte(successBody))
	}))
	defer srv.Close()

	_, err := NewStructuredBackend("structured", srv.URL, "").Analyze(context.Background(), testArtifact())
	require.NoError(t, err)
	assert.False(t, hadAuth)
}

func TestStructuredBackend_ErrorClassification(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
		wantMsg string
	}{
		{"payload too large", http.StatusRequestEntityTooLarge, "", ErrPayloadTooLarge, ""},
		{"internal error", http.StatusInternalServerError, `{"success":false,"error":"Transcription failed"}`, ErrBackendUnavailable, ""},
		{"bad gateway", http.StatusBadGateway, "upstream", ErrBackendUnavailable, ""},
		{"bad request", http.StatusBadRequest, `{"success":false,"error":"No audio data provided"}`, ErrAnalysisFailed, "No audio data provided"},
		{"plain text 404", http.StatusNotFound, "not here", ErrAnalysisFailed, "not here"},
		{"success false", http.StatusOK, `{"success":false,"error":"Transcription failed"}`, ErrAnalysisFailed, "Transcription failed"},
		{"not json", http.StatusOK, `<html>`, ErrAnalysisFailed, "invalid analyzer response"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewStructuredBackend("structured", srv.URL, "").Analyze(context.Background(), testArtifact())
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			if tt.wantMsg != "" {
				var fe *FailedError
				require.ErrorAs(t, err, &fe)
				assert.Equal(t, tt.wantMsg, fe.Message)
			}
		})
	}
}

func TestStructuredBackend_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewStructuredBackend("structured", url, "").Analyze(context.Background(), testArtifact())
	assert.ErrorIs(t, err, ErrBackendUnavailable)
}

func TestStructuredBackend_Deadline(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := NewStructuredBackend("structured", srv.URL, "").Analyze(ctx, testArtifact())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "m", errorMessage([]byte(`{"message":"m","error":"e"}`)))
	assert.Equal(t, "e", errorMessage([]byte(`{"error":"e"}`)))
	assert.Equal(t, "d", errorMessage([]byte(`{"details":"d"}`)))
	assert.Equal(t, "empty response", errorMessage(nil))
	assert.Len(t, errorMessage([]byte(string(make([]byte, 2000)))), 512)

	// 511 ASCII bytes then a 3-byte rune straddling the cut.
	body := strings.Repeat("a", 511) + strings.Repeat("€", 10)
	msg := errorMessage([]byte(body))
	assert.True(t, utf8.ValidString(msg))
	assert.Equal(t, strings.Repeat("a", 511), msg)
}
