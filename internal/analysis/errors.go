package analysis

import (
	"context"
	"errors"
	"fmt"

	"github.com/mbd888/scamshield/internal/circuitbreaker"
)

var (
	ErrAnalysisTimeout    = errors.New("analysis: timed out")
	ErrPayloadTooLarge    = errors.New("analysis: payload too large")
	ErrBackendUnavailable = errors.New("analysis: backend unavailable")
	ErrAnalysisFailed     = errors.New("analysis: failed")
	ErrUnknownBackend     = errors.New("analysis: unknown backend")
)

// FailedError carries the analyzer's own explanation of a rejected request.
// It matches ErrAnalysisFailed with errors.Is.
type FailedError struct {
	Status  int // HTTP status, 0 when the failure came in a 2xx body
	Message string
}

func (e *FailedError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("analysis failed (HTTP %d): %s", e.Status, e.Message)
	}
	return "analysis failed: " + e.Message
}

func (e *FailedError) Is(target error) bool { return target == ErrAnalysisFailed }

// Kind returns a short label for err, used for metrics and API responses.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrAnalysisTimeout):
		return "timeout"
	case errors.Is(err, ErrPayloadTooLarge):
		return "payload_too_large"
	case errors.Is(err, ErrBackendUnavailable):
		return "backend_unavailable"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "failed"
	}
}

// classify folds transport-level outcomes into the taxonomy. Parent
// cancellation is passed through untouched.
func classify(ctx context.Context, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, circuitbreaker.ErrOpen):
		return fmt.Errorf("%w: circuit open", ErrBackendUnavailable)
	case errors.Is(err, ErrAnalysisTimeout), errors.Is(err, ErrPayloadTooLarge),
		errors.Is(err, ErrBackendUnavailable), errors.Is(err, ErrAnalysisFailed):
		return err
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrAnalysisTimeout, err)
	default:
		return err
	}
}

// tripsBreaker reports whether err says the backend itself is unhealthy.
func tripsBreaker(err error) bool {
	return errors.Is(err, ErrBackendUnavailable) || errors.Is(err, ErrAnalysisTimeout)
}
