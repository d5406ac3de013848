// Package webhooks delivers completed async decisions to the configured
// callback URL.
//
// Delivery is a single best-effort POST. There are no retries and no
// delivery guarantees; the stored result stays authoritative and clients
// can always fall back to polling.
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
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/nexshop/nexid/internal/circuitbreaker"
	"github.com/nexshop/nexid/internal/metrics"
	"github.com/nexshop/nexid/internal/risk"
	"github.com/nexshop/nexid/internal/traces"
)

// Header names set on every callback.
const (
	HeaderSecret    = "X-Callback-Secret"
	HeaderSignature = "X-Nexid-Signature"
	HeaderTimestamp = "X-Nexid-Timestamp"
	HeaderRequestID = "X-Nexid-Request-Id"
)

// DefaultTimeout bounds a single delivery.
const DefaultTimeout = 10 * time.Second

// ErrDeliveryFailed is returned when the receiver could not be reached or
// answered with a non-2xx status.
var ErrDeliveryFailed = errors.New("webhooks: delivery failed")

// ErrCircuitOpen is returned without an attempt while the receiver's circuit
// is open.
var ErrCircuitOpen = errors.New("webhooks: receiver circuit open")

// Config describes the callback target.
type Config struct {
	URL     string
	Secret  string
	Timeout time.Duration
	// Validate checks the URL once at construction. Nil skips the check.
	Validate func(rawURL string) error
	// Breaker, when set, skips deliveries to a receiver that keeps failing.
	Breaker *circuitbreaker.Breaker
}

// Sender posts decisions to a single callback URL.
type Sender struct {
	url     string
	host    string
	secret  string
	breaker *circuitbreaker.Breaker
	client  *http.Client
	logger  *slog.Logger
	now     func() time.Time
}

// NewSender creates a Sender. It returns an error if the URL fails
// validation.
func NewSender(cfg Config, logger *slog.Logger) (*Sender, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhooks: callback URL is required")
	}
	if cfg.Validate != nil {
		if err := cfg.Validate(cfg.URL); err != nil {
			return nil, fmt.Errorf("webhooks: invalid callback URL: %w", err)
		}
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("webhooks: invalid callback URL: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Sender{
		url:     cfg.URL,
		host:    u.Host,
		secret:  cfg.Secret,
		breaker: cfg.Breaker,
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: logger,
		now:    time.Now,
	}, nil
}

// Deliver makes exactly one POST attempt carrying resp as JSON. The error is
// informational; callers are expected to log it and move on.
func (s *Sender) Deliver(ctx context.Context, resp *risk.VerifyResponse) error {
	ctx, span := traces.StartSpan(ctx, "webhooks.deliver",
		traces.RequestID(resp.RequestID),
		traces.CallbackURL(s.url),
	)
	defer span.End()

	if s.breaker != nil && !s.breaker.Allow(s.host) {
		span.SetStatus(codes.Error, ErrCircuitOpen.Error())
		metrics.WebhookDeliveriesTotal.WithLabelValues("skipped").Inc()
		s.logger.Debug("callback skipped, receiver circuit open", "request_id", resp.RequestID)
		return ErrCircuitOpen
	}

	err := s.send(ctx, resp)
	s.record(err)
	result := "success"
	if err != nil {
		result = "failed"
		span.SetStatus(codes.Error, err.Error())
		s.logger.Warn("callback delivery failed",
			"request_id", resp.RequestID,
			"error", err,
		)
	}
	metrics.WebhookDeliveriesTotal.WithLabelValues(result).Inc()
	return err
}

func (s *Sender) record(err error) {
	if s.breaker == nil {
		return
	}
	if err != nil {
		s.breaker.RecordFailure(s.host)
		return
	}
	s.breaker.RecordSuccess(s.host)
}

func (s *Sender) send(ctx context.Context, resp *risk.VerifyResponse) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("%w: marshal: %v", ErrDeliveryFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrDeliveryFailed, err)
	}

	ts := strconv.FormatInt(s.now().Unix(), 10)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderTimestamp, ts)
	req.Header.Set(HeaderRequestID, resp.RequestID)
	if s.secret != "" {
		req.Header.Set(HeaderSecret, s.secret)
		req.Header.Set(HeaderSignature, Sign(payload, ts, s.secret))
	}

	res, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 4<<10))
	_ = res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d", ErrDeliveryFailed, res.StatusCode)
	}
	return nil
}

// Sign computes the hex HMAC-SHA256 of "timestamp.payload" with secret.
// Receivers recompute it to authenticate the body and reject replays.
func Sign(payload []byte, timestamp, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(timestamp))
	h.Write([]byte{'.'})
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// Verify reports whether signature matches the payload and timestamp.
func Verify(payload []byte, timestamp, secret, signature string) bool {
	expected := Sign(payload, timestamp, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}
