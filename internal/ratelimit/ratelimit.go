// Package ratelimit provides fixed-window request limiting for the nexid
// verification endpoint.
package ratelimit

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nexshop/nexid/internal/logging"
	"github.com/nexshop/nexid/internal/metrics"
)

// Config configures rate limiting
type Config struct {
	// Window is the fixed window length.
	Window time.Duration
	// Max is the number of requests admitted per key per window.
	Max int
	// CleanupInterval is how often idle in-memory windows are reclaimed.
	CleanupInterval time.Duration
}

// DefaultConfig returns the stock limits: 20 requests per minute.
func DefaultConfig() Config {
	return Config{
		Window:          time.Minute,
		Max:             20,
		CleanupInterval: time.Minute,
	}
}

func (c Config) normalized() Config {
	if c.Window < time.Second {
		c.Window = time.Second
	}
	if c.Max < 1 {
		c.Max = 1
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = c.Window
	}
	return c
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed bool
	Count   int
	Limit   int
	ResetAt time.Time
}

// Remaining is the number of further requests admitted in this window.
func (d Decision) Remaining() int {
	if r := d.Limit - d.Count; r > 0 {
		return r
	}
	return 0
}

// Limiter decides whether a request from key may proceed.
type Limiter interface {
	Admit(ctx context.Context, key string) (Decision, error)
}

// KeyFunc derives the limiter key from a request.
type KeyFunc func(r *http.Request) string

// Middleware rejects requests over the limit with 429 before any further
// handler runs. Backend errors fail open.
func Middleware(l Limiter, keyFn KeyFunc, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := keyFn(c.Request)
		d, err := l.Admit(c.Request.Context(), key)
		if err != nil {
			logging.L(c.Request.Context()).Warn("rate limiter unavailable, admitting request",
				"key", key,
				"error", err,
			)
			c.Header("X-RateLimit-Degraded", "true")
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining()))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

		if !d.Allowed {
			retry := int(math.Ceil(time.Until(d.ResetAt).Seconds()))
			if retry < 1 {
				retry = 1
			}
			c.Header("Retry-After", strconv.Itoa(retry))
			metrics.RejectionsTotal.WithLabelValues("rate_limited").Inc()
			if logger != nil {
				logger.Debug("rate limited", "key", key, "count", d.Count)
			}
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limited",
				"message": "Too many requests. Please slow down.",
			})
			return
		}

		c.Next()
	}
}
