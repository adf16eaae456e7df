package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/scamshield/internal/alert"
	"github.com/mbd888/scamshield/internal/analysis"
	"github.com/mbd888/scamshield/internal/archive"
	"github.com/mbd888/scamshield/internal/capture"
	"github.com/mbd888/scamshield/internal/logging"
	"github.com/mbd888/scamshield/internal/session"
	"github.com/mbd888/scamshield/internal/validation"
)

func errorJSON(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{"error": code, "message": message})
}

// sessionError maps orchestrator errors onto HTTP responses. The current
// snapshot rides along so clients need no second request.
func sessionError(c *gin.Context, snap session.Session, err error) {
	body := gin.H{"session": snap}
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrSessionActive):
		status, body["error"], body["message"] = http.StatusConflict, "session_active", "A session is already in progress."
	case errors.Is(err, session.ErrNotRecording):
		status, body["error"], body["message"] = http.StatusConflict, "not_recording", "No recording in progress."
	case errors.Is(err, capture.ErrDeviceUnavailable):
		status, body["error"], body["message"] = http.StatusServiceUnavailable, session.KindDeviceUnavailable, session.Classify(err).Message
	case errors.Is(err, session.ErrClosed):
		status, body["error"], body["message"] = http.StatusServiceUnavailable, "shutting_down", "Server is shutting down."
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status, body["error"], body["message"] = http.StatusServiceUnavailable, "canceled", "Request canceled."
	default:
		logging.L(c.Request.Context()).Error("session request failed", "error", err)
		body["error"], body["message"] = "internal_error", "An unexpected error occurred"
	}
	c.JSON(status, body)
}

// -----------------------------------------------------------------------------
// Session
// -----------------------------------------------------------------------------

func (s *Server) getSession(c *gin.Context) {
	c.JSON(http.StatusOK, s.orch.Snapshot())
}

func (s *Server) startSession(c *gin.Context) {
	snap, err := s.orch.Start(c.Request.Context())
	if err != nil {
		sessionError(c, snap, err)
		return
	}
	c.JSON(http.StatusCreated, snap)
}

func (s *Server) stopSession(c *gin.Context) {
	snap, err := s.orch.Stop(c.Request.Context())
	if err != nil {
		sessionError(c, snap, err)
		return
	}
	c.JSON(http.StatusAccepted, snap)
}

func (s *Server) teardownSession(c *gin.Context) {
	snap, err := s.orch.Teardown(c.Request.Context())
	if err != nil {
		sessionError(c, snap, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

type selectBackendRequest struct {
	Backend string `json:"backend"`
}

func (s *Server) selectBackend(c *gin.Context) {
	var req selectBackendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}
	if errs := validation.Validate(validation.Required("backend", req.Backend)); errs != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "message": errs.Error(), "details": errs})
		return
	}

	if err := s.orch.SelectBackend(c.Request.Context(), req.Backend); err != nil {
		if errors.Is(err, analysis.ErrUnknownBackend) {
			errorJSON(c, http.StatusBadRequest, "unknown_backend", "Backend "+strconv.Quote(req.Backend)+" is not configured")
			return
		}
		sessionError(c, s.orch.Snapshot(), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"backend": s.orch.Backend()})
}

// -----------------------------------------------------------------------------
// History
// -----------------------------------------------------------------------------

func (s *Server) listHistory(c *gin.Context) {
	entries := s.history.Entries()
	c.JSON(http.StatusOK, gin.H{
		"entries":  entries,
		"count":    len(entries),
		"capacity": s.history.Capacity(),
	})
}

func (s *Server) historyStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.history.Statistics())
}

// -----------------------------------------------------------------------------
// Alerts
// -----------------------------------------------------------------------------

func (s *Server) getAlert(c *gin.Context) {
	a, ok := s.alerts.Current()
	if !ok {
		errorJSON(c, http.StatusNotFound, "no_alert", "No open alert")
		return
	}
	c.JSON(http.StatusOK, a)
}

func (s *Server) dismissAlert(c *gin.Context) {
	s.closeAlert(c, s.alerts.Dismiss)
}

func (s *Server) reviewAlert(c *gin.Context) {
	s.closeAlert(c, s.alerts.MarkReviewed)
}

func (s *Server) closeAlert(c *gin.Context, fn func(context.Context) (*alert.Alert, error)) {
	a, err := fn(c.Request.Context())
	if errors.Is(err, alert.ErrNoAlert) {
		errorJSON(c, http.StatusNotFound, "no_alert", "No open alert")
		return
	}
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, "internal_error", "Failed to update alert")
		return
	}
	c.JSON(http.StatusOK, a)
}

// -----------------------------------------------------------------------------
// Call archive
// -----------------------------------------------------------------------------

func (s *Server) listCalls(c *gin.Context) {
	limitRaw, scamRaw := c.Query("limit"), c.Query("scam_only")
	if errs := validation.Validate(
		validation.IntRange("limit", limitRaw, 1, archive.MaxLimit),
		validation.Bool("scam_only", scamRaw),
	); errs != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "message": errs.Error(), "details": errs})
		return
	}

	opts := archive.ListOptions{Cursor: c.Query("cursor")}
	opts.Limit, _ = strconv.Atoi(limitRaw)
	opts.ScamOnly, _ = strconv.ParseBool(scamRaw)

	calls, next, err := s.calls.List(c.Request.Context(), opts)
	if errors.Is(err, archive.ErrInvalidCursor) {
		errorJSON(c, http.StatusBadRequest, "invalid_cursor", "Cursor is malformed")
		return
	}
	if err != nil {
		logging.L(c.Request.Context()).Error("failed to list calls", "error", err)
		errorJSON(c, http.StatusInternalServerError, "internal_error", "Failed to list calls")
		return
	}
	if calls == nil {
		calls = []*archive.Call{}
	}
	c.JSON(http.StatusOK, gin.H{
		"calls":       calls,
		"count":       len(calls),
		"next_cursor": next,
		"has_more":    next != "",
	})
}

func (s *Server) getCall(c *gin.Context) {
	call, err := s.calls.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, archive.ErrNotFound) {
		errorJSON(c, http.StatusNotFound, "not_found", "Call not found")
		return
	}
	if err != nil {
		logging.L(c.Request.Context()).Error("failed to get call", "error", err)
		errorJSON(c, http.StatusInternalServerError, "internal_error", "Failed to get call")
		return
	}
	c.JSON(http.StatusOK, call)
}
