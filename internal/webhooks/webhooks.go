// Package webhooks delivers signed alert events to an external HTTP endpoint.
//
// Each delivery is a JSON POST carrying X-ScamShield-Event,
// X-ScamShield-Timestamp and, when a secret is configured,
// X-ScamShield-Signature (hex HMAC-SHA256 of the body).
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/mbd888/scamshield/internal/alert"
	"github.com/mbd888/scamshield/internal/idgen"
	"github.com/mbd888/scamshield/internal/metrics"
	"github.com/mbd888/scamshield/internal/retry"
	"github.com/mbd888/scamshield/internal/security"
)

const (
	HeaderEvent     = "X-ScamShield-Event"
	HeaderTimestamp = "X-ScamShield-Timestamp"
	HeaderSignature = "X-ScamShield-Signature"

	deliveryTimeout = 30 * time.Second
)

// Event is the webhook payload.
type Event struct {
	ID        string          `json:"id"`
	Type      alert.EventType `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Alert     alert.Alert     `json:"alert"`
}

// Dispatcher posts events to one endpoint.
type Dispatcher struct {
	url          string
	secret       string
	client       *http.Client
	policy       retry.Policy
	urlValidator func(string) error

	mu          sync.Mutex
	lastSuccess *time.Time
	lastError   string
}

// NewDispatcher creates a dispatcher for url, signing with secret.
func NewDispatcher(url, secret string) *Dispatcher {
	return &Dispatcher{
		url:    url,
		secret: secret,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		policy:       retry.DefaultPolicy,
		urlValidator: security.ValidateEndpointURL,
	}
}

// WithPolicy overrides the delivery retry policy.
func (d *Dispatcher) WithPolicy(p retry.Policy) *Dispatcher {
	d.policy = p
	return d
}

// Dispatch delivers ev, retrying network errors, 429 and 5xx replies.
func (d *Dispatcher) Dispatch(ctx context.Context, ev *Event) error {
	if err := d.urlValidator(d.url); err != nil {
		metrics.WebhookDeliveriesTotal.WithLabelValues("rejected").Inc()
		d.recordError(err.Error())
		return fmt.Errorf("webhook url rejected: %w", err)
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = d.policy.Do(ctx, func() error {
		return d.send(ctx, ev, payload)
	})
	if err != nil {
		metrics.WebhookDeliveriesTotal.WithLabelValues("failed").Inc()
		d.recordError(err.Error())
		return err
	}
	metrics.WebhookDeliveriesTotal.WithLabelValues("delivered").Inc()
	d.recordSuccess()
	return nil
}

func (d *Dispatcher) send(ctx context.Context, ev *Event, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(payload))
	if err != nil {
		return retry.Permanent(fmt.Errorf("failed to create request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, string(ev.Type))
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(ev.Timestamp.Unix(), 10))
	if d.secret != "" {
		req.Header.Set(HeaderSignature, Sign(payload, d.secret))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("status %d", resp.StatusCode)
	default:
		return retry.Permanent(fmt.Errorf("status %d", resp.StatusCode))
	}
}

// Status reports the outcome of the most recent delivery.
func (d *Dispatcher) Status() (lastSuccess *time.Time, lastError string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastSuccess, d.lastError
}

func (d *Dispatcher) recordSuccess() {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := time.Now()
	d.lastSuccess = &now
	d.lastError = ""
}

func (d *Dispatcher) recordError(msg string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastError = msg
}

// Sign returns the hex HMAC-SHA256 of payload.
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// Verify checks a signature produced by Sign in constant time.
func Verify(payload []byte, secret, signature string) bool {
	want, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hmac.Equal(h.Sum(nil), want)
}

// Notifier adapts a Dispatcher to alert.Notifier. Deliveries run in the
// background, one at a time in Notify order; failures are logged and never
// reach the caller.
type Notifier struct {
	d      *Dispatcher
	logger *slog.Logger
	wg     sync.WaitGroup

	mu   sync.Mutex
	tail chan struct{} // closed when the latest queued delivery finishes
}

// NewNotifier creates a notifier over d.
func NewNotifier(d *Dispatcher, logger *slog.Logger) *Notifier {
	return &Notifier{d: d, logger: logger}
}

// Notify implements alert.Notifier.
func (n *Notifier) Notify(_ context.Context, ev alert.Event) {
	if n == nil || n.d == nil {
		return
	}
	event := &Event{
		ID:        idgen.WithPrefix("evt_"),
		Type:      ev.Type,
		Timestamp: time.Now(),
		Alert:     ev.Alert,
	}

	done := make(chan struct{})
	n.mu.Lock()
	prev := n.tail
	n.tail = done
	n.mu.Unlock()

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		defer close(done)
		if prev != nil {
			<-prev
		}
		// Detached from the request so a finished session does not cancel delivery.
		ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
		defer cancel()
		if err := n.d.Dispatch(ctx, event); err != nil && !errors.Is(err, context.Canceled) {
			n.logger.Warn("alert webhook delivery failed", "event", ev.Type, "alert_id", ev.Alert.ID, "error", err)
		}
	}()
}

// Wait blocks until in-flight deliveries finish.
func (n *Notifier) Wait() {
	n.wg.Wait()
}
