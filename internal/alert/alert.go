// Package alert raises a single user-facing alert when a resolved call looks
// like a scam, and forwards alert lifecycle events to notifiers.
package alert

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/mbd888/scamshield/internal/idgen"
	"github.com/mbd888/scamshield/internal/logging"
	"github.com/mbd888/scamshield/internal/metrics"
	"github.com/mbd888/scamshield/internal/risk"
)

// ErrNoAlert is returned when there is no open alert to act on.
var ErrNoAlert = errors.New("alert: no open alert")

// State is the lifecycle position of an alert.
type State string

const (
	StateOpen      State = "open"
	StateDismissed State = "dismissed"
	StateReviewed  State = "reviewed"
)

// EventType names an alert lifecycle event.
type EventType string

const (
	EventRaised    EventType = "alert.raised"
	EventUpdated   EventType = "alert.updated"
	EventDismissed EventType = "alert.dismissed"
	EventReviewed  EventType = "alert.reviewed"
)

// Alert is the user-facing warning for a high-risk call.
type Alert struct {
	ID           string     `json:"id"`
	SessionID    string     `json:"session_id"`
	State        State      `json:"state"`
	RiskScore    float64    `json:"risk_score"`
	RiskLevel    risk.Level `json:"risk_level"`
	ScamDetected bool       `json:"scam_detected"`
	Summary      string     `json:"summary,omitempty"`
	Suggestion   string     `json:"suggestion,omitempty"`
	LogicReason  string     `json:"logic_reason,omitempty"`
	Keywords     []string   `json:"keywords,omitempty"`
	Replaced     int        `json:"replaced"`
	RaisedAt     time.Time  `json:"raised_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	ClosedAt     *time.Time `json:"closed_at,omitempty"`
}

// Event is what notifiers receive.
type Event struct {
	Type  EventType `json:"type"`
	Alert Alert     `json:"alert"`
}

// Notifier receives alert events in the order the alert changed.
// Implementations must not block or call back into the Dispatcher's
// OnResolved, Dismiss or MarkReviewed.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, ev Event)

func (f NotifierFunc) Notify(ctx context.Context, ev Event) { f(ctx, ev) }

// ShouldRaise reports whether a result warrants an alert.
func ShouldRaise(res *risk.Result) bool {
	return res != nil && (res.RiskScore >= risk.ThresholdCritical || res.ScamDetected)
}

// Dispatcher owns the single alert slot.
type Dispatcher struct {
	mu        sync.Mutex
	current   *Alert
	notifiers []Notifier
	now       func() time.Time

	// pubMu is taken before mu is released so notifiers see events in the
	// order the slot changed. Lock order: mu, then pubMu.
	pubMu sync.Mutex
}

// NewDispatcher creates a dispatcher forwarding events to notifiers.
func NewDispatcher(notifiers ...Notifier) *Dispatcher {
	return &Dispatcher{notifiers: notifiers, now: time.Now}
}

// WithClock overrides the time source.
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// AddNotifier registers another notifier.
func (d *Dispatcher) AddNotifier(n Notifier) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notifiers = append(d.notifiers, n)
}

// OnResolved raises an alert for res when it qualifies. While an alert is
// open its content is replaced in place. It returns the alert and whether one
// was raised or updated.
func (d *Dispatcher) OnResolved(ctx context.Context, sessionID string, res *risk.Result) (*Alert, bool) {
	if !ShouldRaise(res) {
		return nil, false
	}

	d.mu.Lock()
	now := d.now()
	evType := EventRaised
	a := d.current
	if a == nil {
		a = &Alert{ID: idgen.Alert(), State: StateOpen, RaisedAt: now}
		d.current = a
	} else {
		evType = EventUpdated
		a.Replaced++
	}
	a.SessionID = sessionID
	a.RiskScore = res.RiskScore
	a.RiskLevel = res.RiskLevel
	a.ScamDetected = res.ScamDetected
	a.Summary = res.Summary
	a.Suggestion = res.Suggestion
	a.LogicReason = ""
	if res.LogicScamDetected {
		a.LogicReason = res.LogicReason
	}
	a.Keywords = slices.Clone(res.Keywords)
	a.UpdatedAt = now
	snap := a.clone()
	notifiers := slices.Clone(d.notifiers)
	d.pubMu.Lock()
	d.mu.Unlock()
	defer d.pubMu.Unlock()

	logging.L(ctx).Warn("scam alert", "alert_id", snap.ID, "event", evType,
		"risk_score", snap.RiskScore, "risk_level", snap.RiskLevel, "replaced", snap.Replaced)
	d.publish(ctx, notifiers, Event{Type: evType, Alert: *snap})
	return snap, true
}

// Current returns a copy of the open alert, if any.
func (d *Dispatcher) Current() (*Alert, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current == nil {
		return nil, false
	}
	return d.current.clone(), true
}

// Dismiss closes the open alert without review.
func (d *Dispatcher) Dismiss(ctx context.Context) (*Alert, error) {
	return d.close(ctx, StateDismissed, EventDismissed)
}

// MarkReviewed closes the open alert after the user reviewed it.
func (d *Dispatcher) MarkReviewed(ctx context.Context) (*Alert, error) {
	return d.close(ctx, StateReviewed, EventReviewed)
}

func (d *Dispatcher) close(ctx context.Context, state State, evType EventType) (*Alert, error) {
	d.mu.Lock()
	a := d.current
	if a == nil {
		d.mu.Unlock()
		return nil, ErrNoAlert
	}
	now := d.now()
	a.State = state
	a.UpdatedAt = now
	a.ClosedAt = &now
	d.current = nil
	snap := a.clone()
	notifiers := slices.Clone(d.notifiers)
	d.pubMu.Lock()
	d.mu.Unlock()
	defer d.pubMu.Unlock()

	logging.L(ctx).Info("alert closed", "alert_id", snap.ID, "state", state)
	d.publish(ctx, notifiers, Event{Type: evType, Alert: *snap})
	return snap, nil
}

func (d *Dispatcher) publish(ctx context.Context, notifiers []Notifier, ev Event) {
	metrics.AlertsTotal.WithLabelValues(string(ev.Type)).Inc()
	for _, n := range notifiers {
		n.Notify(ctx, ev)
	}
}

func (a *Alert) clone() *Alert {
	c := *a
	c.Keywords = slices.Clone(a.Keywords)
	if a.ClosedAt != nil {
		t := *a.ClosedAt
		c.ClosedAt = &t
	}
	return &c
}
