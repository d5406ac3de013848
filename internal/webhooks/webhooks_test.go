package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexshop/nexid/internal/circuitbreaker"
	"github.com/nexshop/nexid/internal/logging"
	"github.com/nexshop/nexid/internal/risk"
)

func decision() *risk.VerifyResponse {
	return &risk.VerifyResponse{
		Status:    risk.StatusReview,
		Score:     64,
		Reasons:   []string{risk.ReasonLowPageTime},
		RequestID: "6ba7b810-9dad-11d1-80b4-00c04fd430c8",
		Context:   risk.ContextCheckout,
		Timestamp: 1767225600000,
	}
}

func newSender(t *testing.T, url, secret string) *Sender {
	t.Helper()
	s, err := NewSender(Config{URL: url, Secret: secret, Timeout: time.Second}, logging.Discard())
	require.NoError(t, err)
	return s
}

func TestDeliverPostsJSONWithSecret(t *testing.T) {
	var (
		gotBody    []byte
		gotHeaders http.Header
		calls      atomic.Int32
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		gotHeaders = r.Header.Clone()
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	s := newSender(t, server.URL, "shh")
	require.NoError(t, s.Deliver(context.Background(), decision()))

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, "application/json", gotHeaders.Get("Content-Type"))
	assert.Equal(t, "shh", gotHeaders.Get(HeaderSecret))
	assert.Equal(t, decision().RequestID, gotHeaders.Get(HeaderRequestID))

	ts := gotHeaders.Get(HeaderTimestamp)
	assert.True(t, Verify(gotBody, ts, "shh", gotHeaders.Get(HeaderSignature)))

	var body risk.VerifyResponse
	require.NoError(t, json.Unmarshal(gotBody, &body))
	assert.Equal(t, *decision(), body)
}

func TestDeliverWithoutSecretOmitsHeaders(t *testing.T) {
	var gotHeaders http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
	}))
	defer server.Close()

	require.NoError(t, newSender(t, server.URL, "").Deliver(context.Background(), decision()))
	assert.Empty(t, gotHeaders.Get(HeaderSecret))
	assert.Empty(t, gotHeaders.Get(HeaderSignature))
}

func TestDeliverSingleAttemptOnFailure(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	err := newSender(t, server.URL, "x").Deliver(context.Background(), decision())
	assert.True(t, errors.Is(err, ErrDeliveryFailed))
	assert.Equal(t, int32(1), calls.Load(), "no retries")
}

func TestDeliverUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	err := newSender(t, url, "").Deliver(context.Background(), decision())
	assert.ErrorIs(t, err, ErrDeliveryFailed)
}

func TestDeliverDoesNotFollowRedirects(t *testing.T) {
	var hits atomic.Int32
	target := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { hits.Add(1) }))
	defer target.Close()
	redirector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target.URL, http.StatusTemporaryRedirect)
	}))
	defer redirector.Close()

	err := newSender(t, redirector.URL, "").Deliver(context.Background(), decision())
	assert.ErrorIs(t, err, ErrDeliveryFailed)
	assert.Equal(t, int32(0), hits.Load())
}

func TestNewSenderValidation(t *testing.T) {
	_, err := NewSender(Config{}, logging.Discard())
	assert.Error(t, err)

	_, err = NewSender(Config{
		URL:      "http://10.0.0.1/hook",
		Validate: func(string) error { return errors.New("private address") },
	}, logging.Discard())
	assert.ErrorContains(t, err, "private address")

	s, err := NewSender(Config{URL: "https://hooks.example.com"}, logging.Discard())
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeout, s.client.Timeout)
}

func TestSign(t *testing.T) {
	payload := []byte(`{"status":"allow"}`)
	sig := Sign(payload, "1700000000", "secret1")

	assert.Len(t, sig, 64)
	assert.True(t, Verify(payload, "1700000000", "secret1", sig))
	assert.False(t, Verify(payload, "1700000001", "secret1", sig), "timestamp is bound")
	assert.False(t, Verify(payload, "1700000000", "secret2", sig))
	assert.NotEqual(t, sig, Sign(payload, "1700000000", "secret2"))
}

func TestDeliverSkipsWhileCircuitOpen(t *testing.T) {
	var calls atomic.Int32
	fail := atomic.Bool{}
	fail.Store(true)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if fail.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	breaker := circuitbreaker.New(2, 50*time.Millisecond, logging.Discard())
	s, err := NewSender(Config{URL: server.URL, Timeout: time.Second, Breaker: breaker}, logging.Discard())
	require.NoError(t, err)

	assert.ErrorIs(t, s.Deliver(context.Background(), decision()), ErrDeliveryFailed)
	assert.ErrorIs(t, s.Deliver(context.Background(), decision()), ErrDeliveryFailed)
	assert.ErrorIs(t, s.Deliver(context.Background(), decision()), ErrCircuitOpen)
	assert.Equal(t, int32(2), calls.Load(), "no attempt while open")

	fail.Store(false)
	time.Sleep(60 * time.Millisecond)
	require.NoError(t, s.Deliver(context.Background(), decision()))
	assert.Equal(t, circuitbreaker.StateClosed, breaker.State(s.host))
}
