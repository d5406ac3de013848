package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/nexshop/nexid/internal/metrics"
	"github.com/nexshop/nexid/internal/syncutil"
)

type window struct {
	count    int
	resetAt  time.Time
	lastSeen time.Time
}

// MemoryLimiter keeps windows in a process-local sharded map. Checks for one
// key are serialized; different keys rarely contend.
type MemoryLimiter struct {
	cfg      Config
	windows  *syncutil.ShardedMap[*window]
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

// NewMemory creates an in-memory limiter and starts its cleanup goroutine.
// Call Stop to release it.
func NewMemory(cfg Config) *MemoryLimiter {
	l := &MemoryLimiter{
		cfg:     cfg.normalized(),
		windows: syncutil.NewShardedMap[*window](0),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go l.cleanup()
	return l
}

// Admit counts one request for key.
func (l *MemoryLimiter) Admit(_ context.Context, key string) (Decision, error) {
	now := l.now()
	var d Decision
	l.windows.Do(key, func(m map[string]*window) {
		w, ok := m[key]
		if !ok {
			metrics.RateLimitKeys.Inc()
		}
		if !ok || !now.Before(w.resetAt) {
			w = &window{resetAt: now.Add(l.cfg.Window)}
			m[key] = w
		}
		w.count++
		w.lastSeen = now
		d = Decision{
			Allowed: w.count <= l.cfg.Max,
			Count:   w.count,
			Limit:   l.cfg.Max,
			ResetAt: w.resetAt,
		}
	})
	return d, nil
}

// Len reports the number of tracked keys.
func (l *MemoryLimiter) Len() int {
	return l.windows.Len()
}

// Sweep drops windows idle for at least one full window.
func (l *MemoryLimiter) Sweep() int {
	now := l.now()
	removed := l.windows.Sweep(func(_ string, w *window) bool {
		return now.Sub(w.lastSeen) >= l.cfg.Window
	})
	if removed > 0 {
		metrics.RateLimitKeys.Sub(float64(removed))
	}
	return removed
}

func (l *MemoryLimiter) cleanup() {
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.Sweep()
		case <-l.stop:
			return
		}
	}
}

// Stop stops the cleanup goroutine
func (l *MemoryLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}
