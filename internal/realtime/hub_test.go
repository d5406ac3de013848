package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexshop/nexid/internal/events"
	"github.com/nexshop/nexid/internal/logging"
	"github.com/nexshop/nexid/internal/risk"
)

func testHub() *Hub {
	return NewHub(logging.Discard(), func(o string) bool { return o == "https://shop.example" })
}

func decision(status risk.Status, ctx risk.Context) *risk.VerifyResponse {
	return &risk.VerifyResponse{
		Status:    status,
		Score:     42,
		Reasons:   []string{risk.ReasonLowPageTime},
		RequestID: "req-1",
		Context:   ctx,
	}
}

func runHub(t *testing.T, h *Hub) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestSubscriptionMatches(t *testing.T) {
	review := decision(risk.StatusReview, risk.ContextCheckout)

	tests := []struct {
		name string
		sub  Subscription
		mode events.Mode
		want bool
	}{
		{"empty matches all", Subscription{}, events.ModeSync, true},
		{"context match", Subscription{Contexts: []risk.Context{risk.ContextCheckout}}, events.ModeSync, true},
		{"context miss", Subscription{Contexts: []risk.Context{risk.ContextLogin}}, events.ModeSync, false},
		{"status match", Subscription{Statuses: []risk.Status{risk.StatusDeny, risk.StatusReview}}, events.ModeSync, true},
		{"status miss", Subscription{Statuses: []risk.Status{risk.StatusDeny}}, events.ModeSync, false},
		{"mode miss", Subscription{Modes: []events.Mode{events.ModeAsync}}, events.ModeSync, false},
		{"all filters", Subscription{
			Contexts: []risk.Context{risk.ContextCheckout},
			Statuses: []risk.Status{risk.StatusReview},
			Modes:    []events.Mode{events.ModeAsync},
		}, events.ModeAsync, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.sub.Matches(tt.mode, review))
		})
	}
}

func TestHubRegisterUnregister(t *testing.T) {
	h := testHub()
	runHub(t, h)

	client := &Client{hub: h, send: make(chan []byte, 8)}
	h.register <- client
	require.Eventually(t, func() bool { return h.Stats()["connectedClients"].(int) == 1 }, time.Second, 5*time.Millisecond)

	h.unregister <- client
	require.Eventually(t, func() bool { return h.Stats()["connectedClients"].(int) == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), h.Stats()["peakClients"].(int64))
}

func TestHubFilteredBroadcast(t *testing.T) {
	h := testHub()
	runHub(t, h)

	client := &Client{hub: h, send: make(chan []byte, 8), sub: Subscription{Statuses: []risk.Status{risk.StatusDeny}}}
	h.register <- client

	require.NoError(t, h.Publish(context.Background(), events.NewDecision(events.ModeSync, "", decision(risk.StatusAllow, risk.ContextLogin))))
	require.NoError(t, h.Publish(context.Background(), events.NewDecision(events.ModeAsync, "", decision(risk.StatusDeny, risk.ContextLogin))))

	select {
	case raw := <-client.send:
		var msg Message
		require.NoError(t, json.Unmarshal(raw, &msg))
		assert.Equal(t, events.TypeDecision, msg.Type)
		assert.Equal(t, events.ModeAsync, msg.Mode)
		assert.Equal(t, risk.StatusDeny, msg.Data.Status)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for broadcast")
	}

	select {
	case <-client.send:
		t.Fatal("allow decision should have been filtered")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubPublishBackpressure(t *testing.T) {
	h := testHub() // not running, so the queue fills
	ev := events.NewDecision(events.ModeSync, "", decision(risk.StatusAllow, risk.ContextLogin))
	for i := 0; i < cap(h.broadcast); i++ {
		require.NoError(t, h.Publish(context.Background(), ev))
	}
	assert.ErrorIs(t, h.Publish(context.Background(), ev), ErrBackpressure)
	assert.Equal(t, "realtime", h.Name())
}

func TestHubContextCancellation(t *testing.T) {
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
		t.Fatal("hub did not stop after context cancellation")
	}

	w := httptest.NewRecorder()
	h.HandleWebSocket(w, httptest.NewRequest(http.MethodGet, "/identity/stream", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestWebSocketStream(t *testing.T) {
	h := testHub()
	runHub(t, h)

	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	hdr := http.Header{}
	hdr.Set("Origin", "https://evil.example")
	_, resp, err := websocket.DefaultDialer.Dial(url, hdr)
	require.Error(t, err, "disallowed origin must be refused")
	if resp != nil {
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		_ = resp.Body.Close()
	}

	hdr.Set("Origin", "https://shop.example")
	conn, resp, err := websocket.DefaultDialer.Dial(url, hdr)
	require.NoError(t, err)
	_ = resp.Body.Close()
	defer func() { _ = conn.Close() }()

	require.NoError(t, conn.WriteJSON(Subscription{Contexts: []risk.Context{risk.ContextSensitive}}))
	require.Eventually(t, func() bool {
		h.mu.RLock()
		defer h.mu.RUnlock()
		for c := range h.clients {
			if len(c.subscription().Contexts) == 1 {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, h.Publish(context.Background(), events.NewDecision(events.ModeSync, "", decision(risk.StatusAllow, risk.ContextLogin))))
	require.NoError(t, h.Publish(context.Background(), events.NewDecision(events.ModeSync, "", decision(risk.StatusReview, risk.ContextSensitive))))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, risk.ContextSensitive, msg.Data.Context)
	assert.Equal(t, risk.StatusReview, msg.Data.Status)
}
