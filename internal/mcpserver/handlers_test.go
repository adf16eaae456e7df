package mcpserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/scamshield/internal/alert"
	"github.com/mbd888/scamshield/internal/archive"
	"github.com/mbd888/scamshield/internal/history"
	"github.com/mbd888/scamshield/internal/risk"
	"github.com/mbd888/scamshield/internal/session"
	"github.com/mbd888/scamshield/pkg/client"
)

// --- Test helpers ---

// fakeAPI answers from fixed values; nil funcs fail the test if called.
type fakeAPI struct {
	t *testing.T

	session  *session.Session
	outcome  *session.Session
	stopErr  error
	startErr error
	alert    *alert.Alert
	closeErr error
	history  *client.HistoryPage
	stats    *history.Stats
	calls    *client.CallsPage
	call     *archive.Call
	backend  string

	starts    atomic.Int32
	stops     atomic.Int32
	teardowns atomic.Int32
	lastList  client.ListCallsOptions
}

func (f *fakeAPI) Session(context.Context) (*session.Session, error) { return f.session, nil }

func (f *fakeAPI) Start(context.Context) (*session.Session, error) {
	f.starts.Add(1)
	if f.startErr != nil {
		return nil, f.startErr
	}
	return &session.Session{ID: "sess_1", State: session.StateRecording, Backend: "structured"}, nil
}

func (f *fakeAPI) Stop(context.Context) (*session.Session, error) {
	f.stops.Add(1)
	return f.outcome, f.stopErr
}

func (f *fakeAPI) Teardown(context.Context) (*session.Session, error) {
	f.teardowns.Add(1)
	return &session.Session{State: session.StateIdle, Backend: "structured"}, nil
}

func (f *fakeAPI) SelectBackend(_ context.Context, backend string) (string, error) {
	f.backend = backend
	return backend, nil
}

func (f *fakeAPI) WaitForOutcome(ctx context.Context, _ time.Duration) (*session.Session, error) {
	if f.outcome.State == session.StateAnalyzing {
		<-ctx.Done()
		return f.outcome, ctx.Err()
	}
	return f.outcome, nil
}

func (f *fakeAPI) History(context.Context) (*client.HistoryPage, error) { return f.history, nil }
func (f *fakeAPI) HistoryStats(context.Context) (*history.Stats, error) { return f.stats, nil }
func (f *fakeAPI) Alert(context.Context) (*alert.Alert, error)          { return f.alert, nil }

func (f *fakeAPI) DismissAlert(context.Context) (*alert.Alert, error) {
	if f.closeErr != nil {
		return nil, f.closeErr
	}
	a := *f.alert
	a.State = alert.StateDismissed
	return &a, nil
}

func (f *fakeAPI) ReviewAlert(context.Context) (*alert.Alert, error) {
	if f.closeErr != nil {
		return nil, f.closeErr
	}
	a := *f.alert
	a.State = alert.StateReviewed
	return &a, nil
}

func (f *fakeAPI) ListCalls(_ context.Context, opts client.ListCallsOptions) (*client.CallsPage, error) {
	f.lastList = opts
	return f.calls, nil
}

func (f *fakeAPI) GetCall(context.Context, string) (*archive.Call, error) { return f.call, nil }

func makeRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	if args == nil {
		args = map[string]any{}
	}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "expected at least one content block")
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

func scamOutcome() *session.Session {
	return &session.Session{
		ID:      "sess_1",
		State:   session.StateResolved,
		Backend: "structured",
		Elapsed: 12.5,
		Result: &risk.Result{
			RiskScore:    0.9,
			RiskLevel:    risk.LevelCritical,
			ScamDetected: true,
			LogicReason:  "Caller requested a one-time password",
			Suggestion:   "Hang up and call your bank directly.",
			Keywords:     []string{"otp", "urgent"},
		},
		CallID: "call_0123456789abcdef01234567",
	}
}

// ============================================================
// Session tools
// ============================================================

func TestHandleStopRecording_ReturnsVerdict(t *testing.T) {
	api := &fakeAPI{t: t, outcome: scamOutcome()}
	h := NewHandlers(api, time.Millisecond)

	result, err := h.HandleStopRecording(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "Verdict: SCAM")
	assert.Contains(t, text, "Risk: 90% (critical)")
	assert.Contains(t, text, "Red flag: Caller requested a one-time password")
	assert.Contains(t, text, "Advice: Hang up and call your bank directly.")
	assert.Contains(t, text, "Archived as call_0123456789abcdef01234567")
}

func TestHandleStopRecording_AlreadyStoppedStillWaits(t *testing.T) {
	api := &fakeAPI{
		t:       t,
		outcome: scamOutcome(),
		stopErr: &client.Error{Status: http.StatusConflict, Code: "not_recording"},
	}
	h := NewHandlers(api, time.Millisecond)

	result, err := h.HandleStopRecording(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), "Verdict: SCAM")
}

func TestHandleStopRecording_FailedSessionIsError(t *testing.T) {
	api := &fakeAPI{t: t, outcome: &session.Session{
		ID:    "sess_1",
		State: session.StateFailed,
		Error: &session.UserError{Kind: session.KindTimeout, Message: "Analysis took too long."},
	}}
	h := NewHandlers(api, time.Millisecond)

	result, err := h.HandleStopRecording(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "Error (timeout): Analysis took too long.")
}

func TestHandleStopRecording_StillAnalyzingAfterWait(t *testing.T) {
	api := &fakeAPI{t: t, outcome: &session.Session{ID: "sess_1", State: session.StateAnalyzing}}
	h := NewHandlers(api, time.Millisecond)

	result, err := h.HandleStopRecording(context.Background(), makeRequest(map[string]any{"wait_seconds": 1}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), "Still analyzing")
}

func TestHandleAnalyzeCall_Validation(t *testing.T) {
	h := NewHandlers(&fakeAPI{t: t}, time.Millisecond)

	for _, secs := range []int{0, -1, 41} {
		result, err := h.HandleAnalyzeCall(context.Background(), makeRequest(map[string]any{"record_seconds": secs}))
		require.NoError(t, err)
		assert.True(t, result.IsError, "record_seconds=%d", secs)
		assert.Contains(t, resultText(t, result), "between 1 and 40")
	}
}

func TestHandleAnalyzeCall_RecordsThenStops(t *testing.T) {
	api := &fakeAPI{t: t, outcome: scamOutcome()}
	h := NewHandlers(api, time.Millisecond)

	result, err := h.HandleAnalyzeCall(context.Background(), makeRequest(map[string]any{"record_seconds": 1}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, int32(1), api.starts.Load())
	assert.Equal(t, int32(1), api.stops.Load())
	assert.Contains(t, resultText(t, result), "Verdict: SCAM")
}

func TestHandleAnalyzeCall_CancelledResets(t *testing.T) {
	api := &fakeAPI{t: t, outcome: scamOutcome()}
	h := NewHandlers(api, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	result, err := h.HandleAnalyzeCall(ctx, makeRequest(map[string]any{"record_seconds": 30}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Equal(t, int32(1), api.teardowns.Load())
	assert.Equal(t, int32(0), api.stops.Load())
}

func TestHandleAnalyzeCall_BusyIsError(t *testing.T) {
	api := &fakeAPI{t: t, startErr: &client.Error{Status: http.StatusConflict, Code: "session_active", Message: "A session is already in progress."}}
	h := NewHandlers(api, time.Millisecond)

	result, err := h.HandleAnalyzeCall(context.Background(), makeRequest(map[string]any{"record_seconds": 5}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "A session is already in progress.")
}

func TestHandleSelectBackend(t *testing.T) {
	api := &fakeAPI{t: t}
	h := NewHandlers(api, 0)

	result, err := h.HandleSelectBackend(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = h.HandleSelectBackend(context.Background(), makeRequest(map[string]any{"backend": "multimodal"}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, "multimodal", api.backend)
	assert.Equal(t, "Backend set to multimodal.", resultText(t, result))
}

// ============================================================
// History, alerts and archive
// ============================================================

func TestHandleGetHistory_WithStats(t *testing.T) {
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	api := &fakeAPI{
		t: t,
		history: &client.HistoryPage{
			Entries: []history.Entry{
				{SessionID: "sess_2", Timestamp: ts, RiskScore: 0.8, RiskLevel: risk.LevelCritical, ScamDetected: true, DurationSeconds: 20},
				{SessionID: "sess_1", Timestamp: ts.Add(-time.Hour), RiskScore: 0.1, RiskLevel: risk.LevelSafe, DurationSeconds: 8},
			},
			Count:    2,
			Capacity: 10,
		},
		stats: &history.Stats{
			Total: 2, ScamCount: 1, LegitimateCount: 1, AverageRiskScore: 0.45,
			ByLevel: map[risk.Level]int{risk.LevelCritical: 1, risk.LevelSafe: 1},
		},
	}
	h := NewHandlers(api, 0)

	result, err := h.HandleGetHistory(context.Background(), makeRequest(map[string]any{"include_stats": true}))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "Calls: 2 (scam 1, legitimate 1)")
	assert.Contains(t, text, "By level: critical=1 safe=1")
	assert.Contains(t, text, "Recent calls (2 of 10 kept)")
	assert.Contains(t, text, "1. 2026-03-01T10:00:00Z  SCAM  risk 80% (critical)  20s")
}

func TestHandleGetHistory_Empty(t *testing.T) {
	h := NewHandlers(&fakeAPI{t: t, history: &client.HistoryPage{Capacity: 10}}, 0)

	result, err := h.HandleGetHistory(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.Equal(t, "No calls analyzed yet.", resultText(t, result))
}

func TestHandleGetAlert(t *testing.T) {
	h := NewHandlers(&fakeAPI{t: t}, 0)
	result, err := h.HandleGetAlert(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.Equal(t, "No open alert.", resultText(t, result))

	h = NewHandlers(&fakeAPI{t: t, alert: &alert.Alert{
		ID: "alrt_1", State: alert.StateOpen, RiskScore: 0.85, RiskLevel: risk.LevelCritical, ScamDetected: true, Replaced: 2,
	}}, 0)
	result, err = h.HandleGetAlert(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "Alert: alrt_1 (open)")
	assert.Contains(t, text, "Updated by 2 later call(s)")
}

func TestHandleCloseAlert(t *testing.T) {
	open := &alert.Alert{ID: "alrt_1", State: alert.StateOpen}

	tests := []struct {
		name    string
		api     *fakeAPI
		action  string
		want    string
		isError bool
	}{
		{name: "dismiss", api: &fakeAPI{alert: open}, action: "dismiss", want: "Alert alrt_1 dismissed."},
		{name: "review", api: &fakeAPI{alert: open}, action: "review", want: "Alert alrt_1 reviewed."},
		{name: "bad action", api: &fakeAPI{alert: open}, action: "ignore", want: "action must be", isError: true},
		{
			name:   "nothing open",
			api:    &fakeAPI{closeErr: &client.Error{Status: http.StatusNotFound, Code: "no_alert"}},
			action: "dismiss",
			want:   "No open alert.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.api.t = t
			result, err := NewHandlers(tt.api, 0).HandleCloseAlert(context.Background(), makeRequest(map[string]any{"action": tt.action}))
			require.NoError(t, err)
			assert.Equal(t, tt.isError, result.IsError)
			assert.Contains(t, resultText(t, result), tt.want)
		})
	}
}

func TestHandleListCalls_PassesOptions(t *testing.T) {
	api := &fakeAPI{t: t, calls: &client.CallsPage{
		Calls:      []*archive.Call{{ID: "call_a", RiskScore: 0.9, RiskLevel: risk.LevelCritical, ScamDetected: true}},
		Count:      1,
		NextCursor: "Y3Vyc29y",
		HasMore:    true,
	}}
	h := NewHandlers(api, 0)

	result, err := h.HandleListCalls(context.Background(), makeRequest(map[string]any{
		"scam_only": true, "limit": 1, "cursor": "abc",
	}))
	require.NoError(t, err)
	assert.Equal(t, client.ListCallsOptions{Cursor: "abc", Limit: 1, ScamOnly: true}, api.lastList)
	assert.Contains(t, resultText(t, result), "next_cursor=Y3Vyc29y")
}

func TestHandleGetCall(t *testing.T) {
	api := &fakeAPI{t: t, call: &archive.Call{
		ID:         "call_a",
		SessionID:  "sess_1",
		Transcript: "this is your bank",
		Speakers: map[string]risk.SpeakerAnalysis{
			"speaker_2": {RiskScore: 0.1},
			"speaker_1": {RiskScore: 0.9, IsPotentialScammer: true, Keywords: []string{"bank"}},
		},
	}}
	h := NewHandlers(api, 0)

	result, err := h.HandleGetCall(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = h.HandleGetCall(context.Background(), makeRequest(map[string]any{"call_id": "call_a"}))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "speaker_1: risk 90%, potential scammer, keywords: bank")
	assert.Less(t, strings.Index(text, "speaker_1"), strings.Index(text, "speaker_2"))
	assert.Contains(t, text, "Transcript:\nthis is your bank")
}

// ============================================================
// Over HTTP
// ============================================================

func TestHandleGetSession_APIErrorOverHTTP(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/session", r.URL.Path)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"shutting_down","message":"Server is shutting down"}`))
	}))
	defer ts.Close()

	h := NewHandlers(newClient(Config{APIURL: ts.URL}), 0)
	result, err := h.HandleGetSession(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "Server is shutting down")
}

func TestNewMCPServer_RegistersTools(t *testing.T) {
	s := NewMCPServer(Config{APIURL: "http://localhost:8080"})
	require.NotNil(t, s)
}
