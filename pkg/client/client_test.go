package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestVerifySync(t *testing.T) {
	var got verifyRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/identity/verify", r.URL.Path)
		assert.Empty(t, r.URL.Query().Get("async"))
		assert.Equal(t, "k-123", r.Header.Get("X-API-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, http.StatusOK, Response{Status: StatusAllow, Score: 77, Reasons: []string{"ok"}, RequestID: "r1", Context: "login"})
	}))
	defer srv.Close()

	c := New(srv.URL+"/identity/verify", "k-123")
	c.Collector().MouseMove()

	resp, err := c.Verify(context.Background(), Payload{Context: ContextLogin, EmailHash: HashEmail("A@b.io")}, false)
	require.NoError(t, err)
	assert.Equal(t, StatusAllow, resp.Status)
	assert.Equal(t, 77, resp.Score)

	assert.Equal(t, "login", got.Context)
	assert.Equal(t, 1, got.Snapshot.MouseMoves)
	assert.Equal(t, c.Collector().SessionID(), got.Snapshot.SessionID)
	assert.Equal(t, HashEmail("a@b.io"), got.EmailHash)
}

func TestVerifyAsyncQuery(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		want     string
	}{
		{"no query", "/identity/verify", "async=1"},
		{"existing query", "/identity/verify?tenant=a", "tenant=a&async=1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, tt.want, r.URL.RawQuery)
				writeJSON(w, http.StatusAccepted, Response{Status: StatusReview, Reasons: []string{"processing"}, RequestID: "r2"})
			}))
			defer srv.Close()

			resp, err := New(srv.URL+tt.endpoint, "").Verify(context.Background(), Payload{Context: ContextCheckout}, true)
			require.NoError(t, err)
			assert.Equal(t, "r2", resp.RequestID)
			assert.Equal(t, []string{"processing"}, resp.Reasons)
		})
	}
}

func TestVerifyErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Header.Get("X-API-Key") {
		case "":
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		case "slow":
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate_limited", "message": "Too many requests. Please slow down."})
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	_, err := New(srv.URL, "").Verify(context.Background(), Payload{Context: ContextLogin}, false)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "unauthorized", apiErr.Code)
	assert.False(t, IsRateLimited(err))

	_, err = New(srv.URL, "slow").Verify(context.Background(), Payload{Context: ContextLogin}, false)
	assert.True(t, IsRateLimited(err))
	assert.Contains(t, err.Error(), "slow down")

	_, err = New(srv.URL, "other").Verify(context.Background(), Payload{Context: ContextLogin}, false)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusText(http.StatusBadGateway), apiErr.Code)
}

func TestPollUntilDone(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/identity/result/r3", r.URL.Path)
		if calls.Add(1) < 3 {
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "processing", "requestId": "r3"})
			return
		}
		writeJSON(w, http.StatusOK, Response{Status: StatusDeny, Score: 10, Reasons: []string{"blocked_ip"}, RequestID: "r3"})
	}))
	defer srv.Close()

	c := New(srv.URL+"/identity/verify", "k")
	resp, err := c.Poll(context.Background(), "r3", PollOptions{Interval: 5 * time.Millisecond, Timeout: time.Second})
	require.NoError(t, err)
	assert.Equal(t, StatusDeny, resp.Status)
	assert.Equal(t, int32(3), calls.Load())
}

func TestPollTimeoutReturnsLastResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "processing", "requestId": "r4"})
	}))
	defer srv.Close()

	resp, err := New(srv.URL+"/identity/verify", "").Poll(context.Background(), "r4", PollOptions{Interval: 5 * time.Millisecond, Timeout: 30 * time.Millisecond})
	require.NoError(t, err)
	assert.True(t, resp.Pending())
	assert.Equal(t, "r4", resp.RequestID)
}

func TestPollContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "processing", "requestId": "r5"})
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := New(srv.URL, "").Poll(ctx, "r5", PollOptions{Interval: time.Hour, Timeout: time.Hour})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPollStopsOnExpired(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusGone, map[string]string{"error": "expired", "message": "Result is no longer retained", "requestId": "r8"})
	}))
	defer srv.Close()

	resp, err := New(srv.URL, "").Poll(context.Background(), "r8", PollOptions{Interval: 5 * time.Millisecond, Timeout: time.Second})
	require.Error(t, err)
	assert.Nil(t, resp)
	assert.True(t, IsExpired(err))
	assert.False(t, IsRateLimited(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestResultURL(t *testing.T) {
	tests := []struct {
		endpoint string
		want     string
	}{
		{"https://risk.example.com/identity/verify", "https://risk.example.com/identity/result/abc"},
		{"https://risk.example.com/identity/verify/", "https://risk.example.com/identity/result/abc"},
		{"https://risk.example.com/identity/verify?async=1", "https://risk.example.com/identity/result/abc"},
		{"https://risk.example.com/api/identity/verify", "https://risk.example.com/api/identity/result/abc"},
		{"https://risk.example.com", "https://risk.example.com/identity/result/abc"},
		{"https://risk.example.com/gateway", "https://risk.example.com/gateway/identity/result/abc"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ResultURL(tt.endpoint, "abc"), tt.endpoint)
	}
}

func TestHashEmail(t *testing.T) {
	assert.Equal(t, HashEmail("user@example.com"), HashEmail("  User@Example.COM "))
	assert.Len(t, HashEmail("user@example.com"), 64)
	assert.Equal(t, "b4c9a289323b21a01c3e940f150eb9b8c542587f1abfd8f0e1cc1ffc5e475514", HashEmail("user@example.com"))
}

func TestHealthDegradedIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		writeJSON(w, http.StatusServiceUnavailable, Health{
			Status:  "degraded",
			Version: "0.1.0",
			Checks:  []HealthCheck{{Name: "redis", Healthy: false, Detail: "connection refused"}},
		})
	}))
	defer srv.Close()

	h, err := New(srv.URL+"/identity/verify", "").Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "degraded", h.Status)
	require.Len(t, h.Checks, 1)
	assert.False(t, h.Checks[0].Healthy)
}

func TestVerifySnapshotFillsLanguages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var raw map[string]json.RawMessage
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		var snap map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(raw["snapshot"], &snap))
		assert.JSONEq(t, `[]`, string(snap["languages"]))
		assert.JSONEq(t, `3200`, string(snap["pageTimeMs"]))
		writeJSON(w, http.StatusOK, Response{Status: StatusReview, Score: 60, Reasons: []string{"low_mouse_activity"}, RequestID: "r6"})
	}))
	defer srv.Close()

	resp, err := New(srv.URL, "").VerifySnapshot(context.Background(), Payload{Context: ContextSensitive}, Snapshot{PageTimeMs: 3200}, false)
	require.NoError(t, err)
	assert.Equal(t, StatusReview, resp.Status)
}

func TestVerifyPayloadContext(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty defaults to login", "", ContextLogin},
		{"login", ContextLogin, ContextLogin},
		{"sensitive", ContextSensitive, ContextSensitive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				var raw map[string]json.RawMessage
				require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
				var payload map[string]json.RawMessage
				require.NoError(t, json.Unmarshal(raw["payload"], &payload))
				assert.JSONEq(t, `"`+tt.want+`"`, string(payload["context"]))
				writeJSON(w, http.StatusOK, Response{Status: StatusAllow, Score: 10, Reasons: []string{}, RequestID: "r7"})
			}))
			defer srv.Close()

			_, err := New(srv.URL, "").VerifySnapshot(context.Background(), Payload{Context: tt.in}, Snapshot{}, false)
			require.NoError(t, err)
		})
	}
}

func TestBaseURL(t *testing.T) {
	assert.Equal(t, "https://risk.example.com", BaseURL("https://risk.example.com/identity/verify?async=1"))
	assert.Equal(t, "https://risk.example.com/api", BaseURL("https://risk.example.com/api/identity/verify"))
	assert.Equal(t, "http://localhost:8080", BaseURL("http://localhost:8080/"))
}
