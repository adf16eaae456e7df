// Package client is a Go client for the scamshield HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mbd888/scamshield/internal/alert"
	"github.com/mbd888/scamshield/internal/archive"
	"github.com/mbd888/scamshield/internal/history"
	"github.com/mbd888/scamshield/internal/realtime"
	"github.com/mbd888/scamshield/internal/session"
)

// DefaultURL is where a local server listens.
const DefaultURL = "http://localhost:8080"

// Error is a non-2xx API response.
type Error struct {
	Status  int              `json:"-"`
	Code    string           `json:"error"`
	Message string           `json:"message"`
	Session *session.Session `json:"session,omitempty"`
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error (%d): %s", e.Status, e.Code)
	}
	return fmt.Sprintf("api error (%d): %s", e.Status, e.Message)
}

// IsCode reports whether err is an API error with the given code.
func IsCode(err error, code string) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// Client talks to one scamshield server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default 30 s client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a client for baseURL, e.g. "http://localhost:8080".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &Error{Status: resp.StatusCode}
		if json.Unmarshal(respBody, apiErr) != nil || apiErr.Code == "" {
			apiErr.Code = http.StatusText(resp.StatusCode)
			apiErr.Message = strings.TrimSpace(string(respBody))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Info describes the server's configuration.
type Info struct {
	Name           string         `json:"name"`
	Version        string         `json:"version"`
	Backends       []string       `json:"backends"`
	DefaultBackend string         `json:"default_backend"`
	Capture        string         `json:"capture"`
	HistorySize    int            `json:"history_size"`
	Archive        bool           `json:"archive"`
	AlertWebhook   bool           `json:"alert_webhook"`
	Realtime       realtime.Stats `json:"realtime"`
}

func (c *Client) Info(ctx context.Context) (*Info, error) {
	var out Info
	if err := c.do(ctx, http.MethodGet, "/v1/info", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// -----------------------------------------------------------------------------
// Session
// -----------------------------------------------------------------------------

// Session returns the current session, or an idle placeholder.
func (c *Client) Session(ctx context.Context) (*session.Session, error) {
	return c.sessionCall(ctx, http.MethodGet, "/v1/session")
}

// Start begins recording.
func (c *Client) Start(ctx context.Context) (*session.Session, error) {
	return c.sessionCall(ctx, http.MethodPost, "/v1/session/start")
}

// Stop ends the recording and queues it for analysis.
func (c *Client) Stop(ctx context.Context) (*session.Session, error) {
	return c.sessionCall(ctx, http.MethodPost, "/v1/session/stop")
}

// Teardown abandons whatever the session is doing and returns it to idle.
func (c *Client) Teardown(ctx context.Context) (*session.Session, error) {
	return c.sessionCall(ctx, http.MethodDelete, "/v1/session")
}

func (c *Client) sessionCall(ctx context.Context, method, path string) (*session.Session, error) {
	var out session.Session
	if err := c.do(ctx, method, path, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SelectBackend picks the analyzer backend for the next session.
func (c *Client) SelectBackend(ctx context.Context, backend string) (string, error) {
	var out struct {
		Backend string `json:"backend"`
	}
	if err := c.do(ctx, http.MethodPut, "/v1/session/backend", nil, map[string]string{"backend": backend}, &out); err != nil {
		return "", err
	}
	return out.Backend, nil
}

// WaitForOutcome polls while the session is encoding or analyzing and
// returns the first snapshot in any other state.
func (c *Client) WaitForOutcome(ctx context.Context, interval time.Duration) (*session.Session, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		s, err := c.Session(ctx)
		if err != nil {
			return nil, err
		}
		if s.State != session.StateEncoding && s.State != session.StateAnalyzing {
			return s, nil
		}
		select {
		case <-ctx.Done():
			return s, ctx.Err()
		case <-ticker.C:
		}
	}
}

// -----------------------------------------------------------------------------
// History
// -----------------------------------------------------------------------------

// HistoryPage is the in-memory recent-call history, newest first.
type HistoryPage struct {
	Entries  []history.Entry `json:"entries"`
	Count    int             `json:"count"`
	Capacity int             `json:"capacity"`
}

func (c *Client) History(ctx context.Context) (*HistoryPage, error) {
	var out HistoryPage
	if err := c.do(ctx, http.MethodGet, "/v1/history", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) HistoryStats(ctx context.Context) (*history.Stats, error) {
	var out history.Stats
	if err := c.do(ctx, http.MethodGet, "/v1/history/stats", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// -----------------------------------------------------------------------------
// Alerts
// -----------------------------------------------------------------------------

// Alert returns the open alert, or nil when there is none.
func (c *Client) Alert(ctx context.Context) (*alert.Alert, error) {
	var out alert.Alert
	err := c.do(ctx, http.MethodGet, "/v1/alert", nil, nil, &out)
	if IsCode(err, "no_alert") {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DismissAlert(ctx context.Context) (*alert.Alert, error) {
	return c.alertCall(ctx, "/v1/alert/dismiss")
}

func (c *Client) ReviewAlert(ctx context.Context) (*alert.Alert, error) {
	return c.alertCall(ctx, "/v1/alert/review")
}

func (c *Client) alertCall(ctx context.Context, path string) (*alert.Alert, error) {
	var out alert.Alert
	if err := c.do(ctx, http.MethodPost, path, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// -----------------------------------------------------------------------------
// Call archive
// -----------------------------------------------------------------------------

// ListCallsOptions selects a page of archived calls.
type ListCallsOptions struct {
	Cursor   string
	Limit    int
	ScamOnly bool
}

// CallsPage is one page of archived calls.
type CallsPage struct {
	Calls      []*archive.Call `json:"calls"`
	Count      int             `json:"count"`
	NextCursor string          `json:"next_cursor"`
	HasMore    bool            `json:"has_more"`
}

func (c *Client) ListCalls(ctx context.Context, opts ListCallsOptions) (*CallsPage, error) {
	q := url.Values{}
	if opts.Cursor != "" {
		q.Set("cursor", opts.Cursor)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.ScamOnly {
		q.Set("scam_only", "true")
	}
	var out CallsPage
	if err := c.do(ctx, http.MethodGet, "/v1/calls", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetCall(ctx context.Context, id string) (*archive.Call, error) {
	var out archive.Call
	if err := c.do(ctx, http.MethodGet, "/v1/calls/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
