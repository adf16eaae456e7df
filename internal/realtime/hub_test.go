package realtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mbd888/scamshield/internal/alert"
)

func testHub() *Hub {
	return NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// ---------------------------------------------------------------------------
// shouldSend tests
// ---------------------------------------------------------------------------

func TestShouldSend_AllEvents(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{AllEvents: true}}

	event := &Event{Type: EventSessionState, Timestamp: time.Now()}
	if !h.shouldSend(client, event) {
		t.Error("AllEvents client should receive all events")
	}
}

func TestShouldSend_EventTypeFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		EventTypes: []EventType{EventAlertRaised, EventAlertUpdated},
	}}

	if !h.shouldSend(client, &Event{Type: EventAlertRaised}) {
		t.Error("Should receive alert.raised events")
	}
	if !h.shouldSend(client, &Event{Type: EventAlertUpdated}) {
		t.Error("Should receive alert.updated events")
	}
	if h.shouldSend(client, &Event{Type: EventSessionState}) {
		t.Error("Should NOT receive session.state events")
	}
}

func TestShouldSend_SessionFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{SessionIDs: []string{"sess_a"}}}

	if !h.shouldSend(client, &Event{Type: EventSessionState, SessionID: "sess_a"}) {
		t.Error("Should match watched session")
	}
	if h.shouldSend(client, &Event{Type: EventSessionState, SessionID: "sess_b"}) {
		t.Error("Should NOT match other sessions")
	}
	if !h.shouldSend(client, &Event{Type: EventAlertDismissed}) {
		t.Error("Events without a session should pass the session filter")
	}
}

func TestShouldSend_EmptySubscription(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{}}

	if !h.shouldSend(client, &Event{Type: EventSessionResolved}) {
		t.Error("Empty subscription (no filters) should receive events")
	}
}

// ---------------------------------------------------------------------------
// Hub lifecycle tests
// ---------------------------------------------------------------------------

func TestHub_Stats_Initial(t *testing.T) {
	h := testHub()

	stats := h.Stats()
	if stats.Clients != 0 {
		t.Errorf("Expected 0 connected clients, got %d", stats.Clients)
	}
	if stats.TotalEvents != 0 {
		t.Errorf("Expected 0 total events, got %d", stats.TotalEvents)
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)

	client := &Client{hub: h, send: make(chan []byte, 256), sub: Subscription{AllEvents: true}}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	if n := h.Stats().Clients; n != 1 {
		t.Errorf("Expected 1 connected client, got %d", n)
	}

	h.unregister <- client
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats.Clients != 0 {
		t.Errorf("Expected 0 connected clients after unregister, got %d", stats.Clients)
	}
	if stats.PeakClients != 1 {
		t.Errorf("Expected peak still 1, got %d", stats.PeakClients)
	}
}

func TestHub_ReplaysCurrentStateToNewClients(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)

	h.Publish(string(EventSessionState), "sess_1", map[string]string{"state": "recording"})
	h.Publish(string(EventSessionState), "sess_1", map[string]string{"state": "analyzing"})
	h.Notify(ctx, alert.Event{Type: alert.EventRaised, Alert: alert.Alert{ID: "alrt_1", SessionID: "sess_1"}})
	waitForEvents(t, h, 3)

	late := &Client{hub: h, send: make(chan []byte, 256), sub: Subscription{AllEvents: true}}
	h.register <- late

	first := readEvent(t, late)
	if first.Type != EventSessionState || !strings.Contains(string(mustJSON(t, first.Data)), "analyzing") {
		t.Errorf("expected latest session state first, got %+v", first)
	}
	if second := readEvent(t, late); second.Type != EventAlertRaised {
		t.Errorf("expected open alert replay, got %s", second.Type)
	}

	h.Notify(ctx, alert.Event{Type: alert.EventDismissed, Alert: alert.Alert{ID: "alrt_1"}})
	waitForEvents(t, h, 4)

	fresh := &Client{hub: h, send: make(chan []byte, 256), sub: Subscription{AllEvents: true}}
	h.register <- fresh
	if ev := readEvent(t, fresh); ev.Type != EventSessionState {
		t.Errorf("expected session replay, got %s", ev.Type)
	}
	select {
	case msg := <-fresh.send:
		t.Errorf("dismissed alert must not replay: %s", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func waitForEvents(t *testing.T, h *Hub, n int64) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for h.Stats().TotalEvents < n {
		if time.Now().After(deadline) {
			t.Fatalf("hub processed %d events, want %d", h.Stats().TotalEvents, n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readEvent(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case msg := <-c.send:
		var ev Event
		if err := json.Unmarshal(msg, &ev); err != nil {
			t.Fatalf("bad payload: %v", err)
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
	return Event{}
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestHub_PublishToClient(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)

	client := &Client{hub: h, send: make(chan []byte, 256), sub: Subscription{AllEvents: true}}
	h.register <- client

	h.Publish(string(EventSessionState), "sess_1", map[string]string{"state": "recording"})

	select {
	case msg := <-client.send:
		var ev Event
		if err := json.Unmarshal(msg, &ev); err != nil {
			t.Fatalf("bad payload: %v", err)
		}
		if ev.Type != EventSessionState || ev.SessionID != "sess_1" {
			t.Errorf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Error("Timeout waiting for broadcast")
	}
}

func TestHub_NotifyForwardsAlerts(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)

	client := &Client{hub: h, send: make(chan []byte, 256), sub: Subscription{EventTypes: []EventType{EventAlertRaised}}}
	h.register <- client

	var n alert.Notifier = h
	n.Notify(ctx, alert.Event{Type: alert.EventRaised, Alert: alert.Alert{ID: "alrt_1", SessionID: "sess_1"}})

	select {
	case msg := <-client.send:
		if !strings.Contains(string(msg), `"alrt_1"`) {
			t.Errorf("alert payload missing id: %s", msg)
		}
	case <-time.After(time.Second):
		t.Error("Client should receive alert event")
	}
}

func TestHub_ContextCancellation(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("Hub did not stop after context cancellation")
	}
}

func TestHub_WebSocketEndToEnd(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for h.Stats().Clients == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	h.Publish(string(EventSessionResolved), "sess_9", map[string]any{"risk_score": 0.8})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(msg), `"session.resolved"`) {
		t.Errorf("unexpected message %s", msg)
	}
}

func TestHub_RejectsAfterShutdown(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	w := httptest.NewRecorder()
	h.HandleWebSocket(w, httptest.NewRequest("GET", "/ws", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}
