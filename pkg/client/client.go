// Package client is a Go client for the nexid verification API.
package client

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Defaults for Poll.
const (
	DefaultPollInterval = 800 * time.Millisecond
	DefaultPollTimeout  = 10 * time.Second
)

const (
	headerAPIKey = "X-API-Key"
	verifyPath   = "/identity/verify"
	resultPath   = "/identity/result/"
)

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string `json:"error"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("nexid: %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("nexid: %d %s", e.StatusCode, e.Code)
}

// IsRateLimited reports whether err is a 429 from the server.
func IsRateLimited(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests
}

// IsExpired reports whether err is a 410 for a result the server no longer
// retains. Polling again will not recover it.
func IsExpired(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusGone
}

// Client talks to a single verify endpoint.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	collector  *Collector
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithCollector attaches the telemetry collector whose snapshot is sent with
// each verification.
func WithCollector(col *Collector) Option {
	return func(c *Client) { c.collector = col }
}

// New creates a client for endpoint, the full URL of the verify route
// (e.g. https://risk.example.com/identity/verify).
func New(endpoint, apiKey string, opts ...Option) *Client {
	c := &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.collector == nil {
		c.collector = NewCollector(CollectorConfig{})
	}
	return c
}

// Collector returns the client's telemetry collector.
func (c *Client) Collector() *Collector {
	return c.collector
}

// Verify submits payload with a fresh telemetry snapshot. With async set the
// server answers immediately with a processing placeholder; pass its
// RequestID to Poll.
func (c *Client) Verify(ctx context.Context, payload Payload, async bool) (*Response, error) {
	return c.VerifySnapshot(ctx, payload, c.collector.Snapshot(), async)
}

// VerifySnapshot is Verify with caller-built telemetry, for integrations that
// relay signals gathered elsewhere. An empty Context is sent as login.
func (c *Client) VerifySnapshot(ctx context.Context, payload Payload, snap Snapshot, async bool) (*Response, error) {
	if payload.Context == "" {
		payload.Context = ContextLogin
	}
	if snap.Languages == nil {
		snap.Languages = []string{}
	}
	body, err := json.Marshal(verifyRequest{Payload: payload, Snapshot: snap})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	target := c.endpoint
	if async {
		target = withAsync(target)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

// Result fetches the current state of an async decision once.
func (c *Client) Result(ctx context.Context, requestID string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ResultURL(c.endpoint, requestID), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	return c.do(req)
}

// HealthCheck is one dependency check reported by the server.
type HealthCheck struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// Health is the server's aggregate health report.
type Health struct {
	Status    string        `json:"status"`
	Version   string        `json:"version"`
	Checks    []HealthCheck `json:"checks"`
	Timestamp string        `json:"timestamp"`
}

// Health fetches the server health report. A degraded server answers 503
// with a full report; that is returned without an error.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, BaseURL(c.endpoint)+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	var out Health
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode health (status %d): %w", res.StatusCode, err)
	}
	return &out, nil
}

// PollOptions bounds Poll. Zero values take the defaults.
type PollOptions struct {
	Interval time.Duration
	Timeout  time.Duration
}

// Poll fetches the result for requestID until it is no longer processing or
// the timeout passes. On timeout the last processing response is returned
// without an error. An expired result ends polling with an error matched by
// IsExpired.
func (c *Client) Poll(ctx context.Context, requestID string, opts PollOptions) (*Response, error) {
	if opts.Interval <= 0 {
		opts.Interval = DefaultPollInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultPollTimeout
	}
	deadline := time.Now().Add(opts.Timeout)

	for {
		resp, err := c.Result(ctx, requestID)
		if err != nil {
			return nil, err
		}
		if !resp.Pending() || time.Now().After(deadline) {
			return resp, nil
		}

		timer := time.NewTimer(opts.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return resp, ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *Client) do(req *http.Request) (*Response, error) {
	if c.apiKey != "" {
		req.Header.Set(headerAPIKey, c.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		apiErr := &APIError{StatusCode: res.StatusCode}
		_ = json.Unmarshal(data, apiErr)
		if apiErr.Code == "" {
			apiErr.Code = http.StatusText(res.StatusCode)
		}
		return nil, apiErr
	}

	var out Response
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

func withAsync(endpoint string) string {
	if strings.Contains(endpoint, "?") {
		return endpoint + "&async=1"
	}
	return endpoint + "?async=1"
}

// BaseURL strips the query and a trailing /identity/verify path from a
// verify endpoint, leaving the server root.
func BaseURL(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return strings.TrimRight(endpoint, "/")
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.Path = strings.TrimSuffix(strings.TrimRight(u.Path, "/"), verifyPath)
	u.RawPath = ""
	return strings.TrimRight(u.String(), "/")
}

// ResultURL derives the poll URL for requestID from a verify endpoint. A
// trailing /identity/verify path is swapped for /identity/result/{id};
// any other path gets /identity/result/{id} appended.
func ResultURL(endpoint, requestID string) string {
	return BaseURL(endpoint) + resultPath + url.PathEscape(requestID)
}

// HashEmail returns the hex SHA-256 of the trimmed, lower-cased address, the
// form the server matches against its email lists.
func HashEmail(email string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(email))))
	return hex.EncodeToString(sum[:])
}
