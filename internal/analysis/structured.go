package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/mbd888/scamshield/internal/capture"
)

const (
	maxResponseSize = 5 * 1024 * 1024 // 5MB
	maxErrorMessage = 512
)

// StructuredBackend posts base64 audio to the diarizing analyzer service and
// decodes its envelope.
type StructuredBackend struct {
	name       string
	url        string
	token      string
	httpClient *http.Client
}

// NewStructuredBackend creates a backend posting to url. token, when set, is
// sent as an opaque bearer credential.
func NewStructuredBackend(name, url, token string) *StructuredBackend {
	return &StructuredBackend{
		name:  name,
		url:   url,
		token: token,
		// No client-level timeout: the caller's context carries the deadline.
		httpClient: &http.Client{},
	}
}

// WithHTTPClient overrides the HTTP client.
func (b *StructuredBackend) WithHTTPClient(c *http.Client) *StructuredBackend {
	b.httpClient = c
	return b
}

func (b *StructuredBackend) Name() string { return b.name }

type analyzeRequest struct {
	Audio string `json:"audio"`
}

// Analyze sends one request; it never retries.
func (b *StructuredBackend) Analyze(ctx context.Context, art *capture.Artifact) (Response, error) {
	body, err := json.Marshal(analyzeRequest{Audio: art.Base64()})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: read response: %v", ErrBackendUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusRequestEntityTooLarge:
		return nil, ErrPayloadTooLarge
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: HTTP %d", ErrBackendUnavailable, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, &FailedError{Status: resp.StatusCode, Message: errorMessage(respBody)}
	}

	var env Envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, &FailedError{Status: resp.StatusCode, Message: "invalid analyzer response"}
	}
	if !env.Success {
		msg := env.Error
		if msg == "" {
			msg = "analyzer reported failure"
		}
		return nil, &FailedError{Message: msg}
	}
	return Structured{Data: env.Data}, nil
}

// errorMessage pulls a message out of an error body, falling back to the
// raw text.
func errorMessage(body []byte) string {
	var e struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		Details string `json:"details"`
	}
	if json.Unmarshal(body, &e) == nil {
		for _, m := range []string{e.Message, e.Error, e.Details} {
			if m != "" {
				return m
			}
		}
	}
	msg := truncate(strings.TrimSpace(string(body)), maxErrorMessage)
	if msg == "" {
		msg = "empty response"
	}
	return msg
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
