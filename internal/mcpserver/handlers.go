package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mbd888/scamshield/internal/alert"
	"github.com/mbd888/scamshield/internal/archive"
	"github.com/mbd888/scamshield/internal/capture"
	"github.com/mbd888/scamshield/internal/history"
	"github.com/mbd888/scamshield/internal/risk"
	"github.com/mbd888/scamshield/internal/session"
	"github.com/mbd888/scamshield/pkg/client"
)

const (
	defaultWait         = 60 * time.Second
	defaultPollInterval = 500 * time.Millisecond
)

// API is the subset of the ScamShield client the tools use.
type API interface {
	Session(ctx context.Context) (*session.Session, error)
	Start(ctx context.Context) (*session.Session, error)
	Stop(ctx context.Context) (*session.Session, error)
	Teardown(ctx context.Context) (*session.Session, error)
	SelectBackend(ctx context.Context, backend string) (string, error)
	WaitForOutcome(ctx context.Context, interval time.Duration) (*session.Session, error)
	History(ctx context.Context) (*client.HistoryPage, error)
	HistoryStats(ctx context.Context) (*history.Stats, error)
	Alert(ctx context.Context) (*alert.Alert, error)
	DismissAlert(ctx context.Context) (*alert.Alert, error)
	ReviewAlert(ctx context.Context) (*alert.Alert, error)
	ListCalls(ctx context.Context, opts client.ListCallsOptions) (*client.CallsPage, error)
	GetCall(ctx context.Context, id string) (*archive.Call, error)
}

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	api  API
	poll time.Duration
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(api API, poll time.Duration) *Handlers {
	if poll <= 0 {
		poll = defaultPollInterval
	}
	return &Handlers{api: api, poll: poll}
}

// HandleGetSession reports the current session.
func (h *Handlers) HandleGetSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s, err := h.api.Session(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get session: %v", err)), nil
	}
	return mcp.NewToolResultText(formatSession(s)), nil
}

// HandleStartRecording begins capture.
func (h *Handlers) HandleStartRecording(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s, err := h.api.Start(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to start recording: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf(
		"Recording started (session %s, backend %s).\n"+
			"Call stop_recording when the conversation is done; capture stops on its own after %d seconds.",
		s.ID, s.Backend, int(capture.MaxDuration.Seconds()))), nil
}

// HandleStopRecording stops capture and waits for the verdict.
func (h *Handlers) HandleStopRecording(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	wait := time.Duration(req.GetInt("wait_seconds", int(defaultWait.Seconds()))) * time.Second
	if wait <= 0 {
		wait = defaultWait
	}

	if _, err := h.api.Stop(ctx); err != nil && !client.IsCode(err, "not_recording") {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to stop recording: %v", err)), nil
	}
	return h.awaitVerdict(ctx, wait)
}

// HandleAnalyzeCall records for a fixed window, then stops and waits.
func (h *Handlers) HandleAnalyzeCall(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	secs := req.GetInt("record_seconds", 0)
	if secs < 1 || secs > int(capture.MaxDuration.Seconds()) {
		return mcp.NewToolResultError(fmt.Sprintf("record_seconds must be between 1 and %d", int(capture.MaxDuration.Seconds()))), nil
	}

	if _, err := h.api.Start(ctx); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to start recording: %v", err)), nil
	}

	select {
	case <-time.After(time.Duration(secs) * time.Second):
	case <-ctx.Done():
		_, _ = h.api.Teardown(context.WithoutCancel(ctx))
		return mcp.NewToolResultError("Cancelled while recording; the session was reset"), nil
	}

	// The capture limit may already have stopped it.
	if _, err := h.api.Stop(ctx); err != nil && !client.IsCode(err, "not_recording") {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to stop recording: %v", err)), nil
	}
	return h.awaitVerdict(ctx, defaultWait)
}

func (h *Handlers) awaitVerdict(ctx context.Context, wait time.Duration) (*mcp.CallToolResult, error) {
	wctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	s, err := h.api.WaitForOutcome(wctx, h.poll)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && s != nil {
			return mcp.NewToolResultText("Still analyzing. Call get_session later for the verdict.\n\n" + formatSession(s)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get verdict: %v", err)), nil
	}
	if s.State == session.StateFailed {
		return mcp.NewToolResultError(formatSession(s)), nil
	}
	return mcp.NewToolResultText(formatSession(s)), nil
}

// HandleResetSession tears the session down.
func (h *Handlers) HandleResetSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s, err := h.api.Teardown(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to reset session: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Session reset. State: %s, backend: %s", s.State, s.Backend)), nil
}

// HandleSelectBackend switches the analyzer.
func (h *Handlers) HandleSelectBackend(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	backend := req.GetString("backend", "")
	if backend == "" {
		return mcp.NewToolResultError("backend is required"), nil
	}

	selected, err := h.api.SelectBackend(ctx, backend)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to select backend: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Backend set to %s.", selected)), nil
}

// HandleGetHistory lists recent verdicts.
func (h *Handlers) HandleGetHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	page, err := h.api.History(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get history: %v", err)), nil
	}

	var sb strings.Builder
	if req.GetBool("include_stats", false) {
		stats, err := h.api.HistoryStats(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to get history stats: %v", err)), nil
		}
		sb.WriteString(formatStats(stats))
		sb.WriteString("\n")
	}
	sb.WriteString(formatHistory(page))
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleGetAlert shows the open alert.
func (h *Handlers) HandleGetAlert(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	a, err := h.api.Alert(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get alert: %v", err)), nil
	}
	if a == nil {
		return mcp.NewToolResultText("No open alert."), nil
	}
	return mcp.NewToolResultText(formatAlert(a)), nil
}

// HandleCloseAlert dismisses or reviews the open alert.
func (h *Handlers) HandleCloseAlert(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var (
		a   *alert.Alert
		err error
	)
	switch action := req.GetString("action", ""); action {
	case "dismiss":
		a, err = h.api.DismissAlert(ctx)
	case "review":
		a, err = h.api.ReviewAlert(ctx)
	default:
		return mcp.NewToolResultError("action must be 'dismiss' or 'review'"), nil
	}
	if client.IsCode(err, "no_alert") {
		return mcp.NewToolResultText("No open alert."), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to close alert: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Alert %s %s.", a.ID, a.State)), nil
}

// HandleListCalls pages through the archive.
func (h *Handlers) HandleListCalls(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	page, err := h.api.ListCalls(ctx, client.ListCallsOptions{
		Cursor:   req.GetString("cursor", ""),
		Limit:    req.GetInt("limit", 20),
		ScamOnly: req.GetBool("scam_only", false),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list calls: %v", err)), nil
	}
	return mcp.NewToolResultText(formatCalls(page)), nil
}

// HandleGetCall fetches one archived call.
func (h *Handlers) HandleGetCall(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("call_id", "")
	if id == "" {
		return mcp.NewToolResultError("call_id is required"), nil
	}

	call, err := h.api.GetCall(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get call: %v", err)), nil
	}
	return mcp.NewToolResultText(formatCall(call)), nil
}

// ============================================================
// Formatting
// ============================================================

func formatSession(s *session.Session) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Session: %s\n", orDash(s.ID))
	fmt.Fprintf(&sb, "State: %s\n", s.State)
	fmt.Fprintf(&sb, "Backend: %s\n", s.Backend)
	if s.Elapsed > 0 {
		fmt.Fprintf(&sb, "Recorded: %.1fs", s.Elapsed)
		if s.StopCause != "" {
			fmt.Fprintf(&sb, " (%s)", s.StopCause)
		}
		sb.WriteString("\n")
	}
	if s.Error != nil {
		fmt.Fprintf(&sb, "\nError (%s): %s\n", s.Error.Kind, s.Error.Message)
	}
	if s.Result != nil {
		sb.WriteString("\n")
		sb.WriteString(formatResult(s.Result))
	}
	if s.CallID != "" {
		fmt.Fprintf(&sb, "\nArchived as %s\n", s.CallID)
	}
	return sb.String()
}

func formatResult(r *risk.Result) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Verdict: %s\n", verdict(r.ScamDetected))
	fmt.Fprintf(&sb, "Risk: %.0f%% (%s)\n", r.RiskScore*100, r.RiskLevel)
	if r.Degraded {
		sb.WriteString("Note: analyzer output was incomplete; the score is a fallback.\n")
	}
	if r.Summary != "" {
		fmt.Fprintf(&sb, "Summary: %s\n", r.Summary)
	}
	if r.LogicReason != "" {
		fmt.Fprintf(&sb, "Red flag: %s\n", r.LogicReason)
	}
	if len(r.Keywords) > 0 {
		fmt.Fprintf(&sb, "Keywords: %s\n", strings.Join(r.Keywords, ", "))
	}
	if r.Suggestion != "" {
		fmt.Fprintf(&sb, "Advice: %s\n", r.Suggestion)
	}
	return sb.String()
}

func formatHistory(page *client.HistoryPage) string {
	if len(page.Entries) == 0 {
		return "No calls analyzed yet."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Recent calls (%d of %d kept):\n\n", page.Count, page.Capacity)
	for i, e := range page.Entries {
		fmt.Fprintf(&sb, "%d. %s  %s  risk %.0f%% (%s)  %.0fs\n",
			i+1, e.Timestamp.Format(time.RFC3339), verdict(e.ScamDetected), e.RiskScore*100, e.RiskLevel, e.DurationSeconds)
		if e.LogicReason != "" {
			fmt.Fprintf(&sb, "   Red flag: %s\n", e.LogicReason)
		}
	}
	return sb.String()
}

func formatStats(s *history.Stats) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Calls: %d (scam %d, legitimate %d)\n", s.Total, s.ScamCount, s.LegitimateCount)
	fmt.Fprintf(&sb, "Average risk: %.0f%%\n", s.AverageRiskScore*100)
	levels := make([]string, 0, len(s.ByLevel))
	for level, n := range s.ByLevel {
		levels = append(levels, fmt.Sprintf("%s=%d", level, n))
	}
	sort.Strings(levels)
	if len(levels) > 0 {
		fmt.Fprintf(&sb, "By level: %s\n", strings.Join(levels, " "))
	}
	return sb.String()
}

func formatAlert(a *alert.Alert) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Alert: %s (%s)\n", a.ID, a.State)
	fmt.Fprintf(&sb, "Risk: %.0f%% (%s), %s\n", a.RiskScore*100, a.RiskLevel, verdict(a.ScamDetected))
	fmt.Fprintf(&sb, "Raised: %s\n", a.RaisedAt.Format(time.RFC3339))
	if a.Replaced > 0 {
		fmt.Fprintf(&sb, "Updated by %d later call(s)\n", a.Replaced)
	}
	if a.Summary != "" {
		fmt.Fprintf(&sb, "Summary: %s\n", a.Summary)
	}
	if a.LogicReason != "" {
		fmt.Fprintf(&sb, "Red flag: %s\n", a.LogicReason)
	}
	if a.Suggestion != "" {
		fmt.Fprintf(&sb, "Advice: %s\n", a.Suggestion)
	}
	return sb.String()
}

func formatCalls(page *client.CallsPage) string {
	if len(page.Calls) == 0 {
		return "No archived calls."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Archived calls (%d):\n\n", page.Count)
	for i, c := range page.Calls {
		fmt.Fprintf(&sb, "%d. %s  %s  %s  risk %.0f%% (%s)\n",
			i+1, c.ID, c.CreatedAt.Format(time.RFC3339), verdict(c.ScamDetected), c.RiskScore*100, c.RiskLevel)
	}
	if page.HasMore {
		fmt.Fprintf(&sb, "\nMore available: next_cursor=%s\n", page.NextCursor)
	}
	return sb.String()
}

func formatCall(c *archive.Call) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Call: %s (session %s)\n", c.ID, c.SessionID)
	fmt.Fprintf(&sb, "Recorded: %s, %.0fs, backend %s\n", c.CreatedAt.Format(time.RFC3339), c.DurationSeconds, c.Backend)
	fmt.Fprintf(&sb, "Verdict: %s\n", verdict(c.ScamDetected))
	fmt.Fprintf(&sb, "Risk: %.0f%% (%s)\n", c.RiskScore*100, c.RiskLevel)
	if c.LogicReason != "" {
		fmt.Fprintf(&sb, "Red flag: %s\n", c.LogicReason)
	}

	ids := make([]string, 0, len(c.Speakers))
	for id := range c.Speakers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		sp := c.Speakers[id]
		fmt.Fprintf(&sb, "\n%s: risk %.0f%%", id, sp.RiskScore*100)
		if sp.IsPotentialScammer {
			sb.WriteString(", potential scammer")
		}
		if len(sp.Keywords) > 0 {
			fmt.Fprintf(&sb, ", keywords: %s", strings.Join(sp.Keywords, ", "))
		}
		sb.WriteString("\n")
	}

	if c.Transcript != "" {
		fmt.Fprintf(&sb, "\nTranscript:\n%s\n", c.Transcript)
	}
	return sb.String()
}

func verdict(scam bool) string {
	if scam {
		return "SCAM"
	}
	return "no scam detected"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
