package client

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/scamshield/internal/capture"
	"github.com/mbd888/scamshield/internal/config"
	"github.com/mbd888/scamshield/internal/ratelimit"
	"github.com/mbd888/scamshield/internal/risk"
	"github.com/mbd888/scamshield/internal/server"
	"github.com/mbd888/scamshield/internal/session"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestClient_DecodesAPIError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":   "session_active",
			"message": "A session is already in progress.",
			"session": map[string]any{"id": "sess_1", "state": "analyzing"},
		})
	}))
	defer ts.Close()

	_, err := New(ts.URL).Start(context.Background())
	require.Error(t, err)

	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, "session_active", apiErr.Code)
	require.NotNil(t, apiErr.Session)
	assert.Equal(t, session.StateAnalyzing, apiErr.Session.State)
	assert.True(t, IsCode(err, "session_active"))
	assert.Equal(t, "api error (409): A session is already in progress.", err.Error())
}

func TestClient_NonJSONError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer ts.Close()

	_, err := New(ts.URL + "/").Session(context.Background())
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Bad Gateway", apiErr.Code)
	assert.Equal(t, "upstream down", apiErr.Message)
}

func TestClient_ListCallsQuery(t *testing.T) {
	var gotQuery string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/calls", r.URL.Path)
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(`{"calls":[],"count":0,"next_cursor":"","has_more":false}`))
	}))
	defer ts.Close()

	page, err := New(ts.URL).ListCalls(context.Background(), ListCallsOptions{Cursor: "abc", Limit: 5, ScamOnly: true})
	require.NoError(t, err)
	assert.Equal(t, "cursor=abc&limit=5&scam_only=true", gotQuery)
	assert.False(t, page.HasMore)
}

func TestClient_AlertNoneIsNil(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"no_alert","message":"No open alert"}`))
	}))
	defer ts.Close()

	a, err := New(ts.URL).Alert(context.Background())
	require.NoError(t, err)
	assert.Nil(t, a)
}

// --- against a real server ---

type chunkOnce struct{}

func (chunkOnce) Open(context.Context, capture.Format) (io.ReadCloser, error) {
	return &onceStream{closed: make(chan struct{})}, nil
}

type onceStream struct {
	sent   bool
	closed chan struct{}
	once   sync.Once
}

func (s *onceStream) Read(p []byte) (int, error) {
	if !s.sent {
		s.sent = true
		return copy(p, "RIFFdata"), nil
	}
	<-s.closed
	return 0, io.EOF
}

func (s *onceStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

type fixedAnalyzer struct{}

func (fixedAnalyzer) Has(name string) bool { return name == config.BackendStructured }

func (fixedAnalyzer) Analyze(context.Context, *capture.Artifact, string) (*risk.Raw, error) {
	score := 0.92
	return &risk.Raw{Transcript: "your account is locked", OverallScore: &score, BackendScamDetected: true}, nil
}

func newLiveClient(t *testing.T) *Client {
	t.Helper()
	srv, err := server.New(&config.Config{
		LogLevel:       "error",
		AnalyzerURL:    "http://analyzer.invalid",
		DefaultBackend: config.BackendStructured,
	},
		server.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		server.WithRecorder(capture.NewPipeline(chunkOnce{})),
		server.WithAnalyzer(fixedAnalyzer{}),
		server.WithDrainDelay(0),
		server.WithRateLimit(ratelimit.Config{RequestsPerMinute: 60_000, BurstSize: 1000}),
	)
	require.NoError(t, err)
	srv.Start(context.Background())
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		ts.Close()
		_ = srv.Shutdown()
	})
	return New(ts.URL)
}

func TestClient_EndToEnd(t *testing.T) {
	c := newLiveClient(t)
	ctx := context.Background()

	info, err := c.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, "scamshield", info.Name)

	_, err = c.SelectBackend(ctx, "whisper")
	assert.True(t, IsCode(err, "unknown_backend"))

	s, err := c.Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, session.StateRecording, s.State)

	_, err = c.Start(ctx)
	assert.True(t, IsCode(err, "session_active"))

	_, err = c.Stop(ctx)
	require.NoError(t, err)

	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	done, err := c.WaitForOutcome(wctx, 10*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, session.StateResolved, done.State)
	assert.Equal(t, risk.LevelCritical, done.Result.RiskLevel)
	assert.True(t, done.Result.ScamDetected)

	hist, err := c.History(ctx)
	require.NoError(t, err)
	require.Len(t, hist.Entries, 1)
	assert.Equal(t, done.ID, hist.Entries[0].SessionID)

	stats, err := c.HistoryStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ScamCount)

	a, err := c.Alert(ctx)
	require.NoError(t, err)
	require.NotNil(t, a)
	closed, err := c.DismissAlert(ctx)
	require.NoError(t, err)
	assert.Equal(t, a.ID, closed.ID)
	_, err = c.ReviewAlert(ctx)
	assert.True(t, IsCode(err, "no_alert"))

	require.Eventually(t, func() bool {
		page, err := c.ListCalls(ctx, ListCallsOptions{ScamOnly: true})
		return err == nil && page.Count == 1
	}, 2*time.Second, 10*time.Millisecond)

	call, err := c.GetCall(ctx, done.CallID)
	require.NoError(t, err)
	assert.Equal(t, done.ID, call.SessionID)

	idle, err := c.Teardown(ctx)
	require.NoError(t, err)
	assert.Equal(t, session.StateIdle, idle.State)
}
