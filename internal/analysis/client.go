// Package analysis sends captured audio to one of several interchangeable
// analyzer backends and normalizes their replies for the risk classifier.
//
// Every call is bounded by a single deadline and is never retried here. Errors
// are reported as ErrAnalysisTimeout, ErrPayloadTooLarge,
// ErrBackendUnavailable, or a *FailedError carrying the backend's message.
package analysis

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/mbd888/scamshield/internal/capture"
	"github.com/mbd888/scamshield/internal/circuitbreaker"
	"github.com/mbd888/scamshield/internal/logging"
	"github.com/mbd888/scamshield/internal/metrics"
	"github.com/mbd888/scamshield/internal/risk"
	"github.com/mbd888/scamshield/internal/traces"
)

// DefaultTimeout bounds every analyzer round trip.
const DefaultTimeout = 60 * time.Second

// Backend is one analyzer implementation.
type Backend interface {
	Name() string
	Analyze(ctx context.Context, art *capture.Artifact) (Response, error)
}

// Client routes artifacts to a named backend.
type Client struct {
	backends   map[string]Backend
	normalizer *Normalizer
	breaker    *circuitbreaker.Breaker
	timeout    time.Duration
}

// NewClient creates a client over the given backends.
func NewClient(normalizer *Normalizer, backends ...Backend) *Client {
	if normalizer == nil {
		normalizer = NewNormalizer(nil)
	}
	c := &Client{
		backends:   make(map[string]Backend, len(backends)),
		normalizer: normalizer,
		timeout:    DefaultTimeout,
	}
	for _, b := range backends {
		c.backends[b.Name()] = b
	}
	return c
}

// WithBreaker makes an unhealthy backend fail fast with ErrBackendUnavailable.
func (c *Client) WithBreaker(b *circuitbreaker.Breaker) *Client {
	c.breaker = b
	return c
}

// WithTimeout overrides DefaultTimeout.
func (c *Client) WithTimeout(d time.Duration) *Client {
	c.timeout = d
	return c
}

// Backends returns the registered backend names, sorted.
func (c *Client) Backends() []string {
	names := make([]string, 0, len(c.backends))
	for n := range c.backends {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Has reports whether a backend is registered under name.
func (c *Client) Has(name string) bool {
	_, ok := c.backends[name]
	return ok
}

// Analyze submits art to the named backend and returns its normalized output.
func (c *Client) Analyze(ctx context.Context, art *capture.Artifact, backend string) (*risk.Raw, error) {
	b, ok := c.backends[backend]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ctx, span := traces.StartSpan(ctx, "analysis.Analyze",
		traces.Backend(backend),
		traces.AudioBytes(len(art.Data)),
		traces.SessionID(logging.SessionID(ctx)),
	)
	defer span.End()

	start := time.Now()
	var resp Response
	call := func() error {
		r, err := b.Analyze(ctx, art)
		resp = r
		return classify(ctx, err)
	}

	var err error
	if c.breaker != nil {
		err = classify(ctx, c.breaker.Execute(backend, call, tripsBreaker))
	} else {
		err = call()
	}

	var raw *risk.Raw
	if err == nil {
		raw, err = c.normalizer.Normalize(backend, resp)
	}

	kind := Kind(err)
	metrics.AnalysisDuration.WithLabelValues(backend, kind).Observe(time.Since(start).Seconds())

	log := logging.L(ctx).With("backend", backend, "audio_bytes", len(art.Data))
	if err != nil {
		metrics.AnalysisErrorsTotal.WithLabelValues(backend, kind).Inc()
		traces.Fail(span, err)
		log.Warn("analysis failed", "kind", kind, "error", err, "elapsed", time.Since(start))
		return nil, err
	}

	if raw.Degraded {
		metrics.DegradedResultsTotal.WithLabelValues(backend).Inc()
		log.Warn("analyzer reply was not JSON, using degraded result")
	}
	log.Info("analysis complete", "elapsed", time.Since(start), "speakers", len(raw.Speakers))
	return raw, nil
}
