// Package metrics provides Prometheus instrumentation for nexid.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nexid"

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// DecisionsTotal counts engine decisions.
	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Total risk decisions by interaction context, status and execution mode.",
		},
		[]string{"context", "status", "mode"},
	)

	// DecisionScore observes the distribution of decision scores.
	DecisionScore = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "decision_score",
		Help:      "Distribution of risk decision scores.",
		Buckets:   prometheus.LinearBuckets(0, 10, 11),
	})

	// RejectionsTotal counts verification requests turned away before scoring.
	RejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejections_total",
			Help:      "Verification requests rejected before scoring, by reason.",
		},
		[]string{"reason"},
	)

	// WebhookDeliveriesTotal counts callback delivery attempts by result.
	WebhookDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_deliveries_total",
			Help:      "Callback delivery attempts by result.",
		},
		[]string{"result"},
	)

	// JobsPending tracks async jobs waiting for their fire time or a worker.
	JobsPending = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "jobs_pending",
		Help:      "Async decision jobs enqueued but not yet completed.",
	})

	// JobLag observes how late jobs start relative to their fire time.
	JobLag = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "job_lag_seconds",
		Help:      "Delay between a job's scheduled fire time and its execution start.",
		Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5},
	})

	// ResultsStored tracks entries in the result store.
	ResultsStored = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "results_stored",
		Help:      "Completed async results currently retained for polling.",
	})

	// ResultsExpiredTotal counts results dropped by the retention sweeper.
	ResultsExpiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "results_expired_total",
		Help:      "Async results removed after their retention period.",
	})

	// RateLimitKeys tracks client keys with an open in-memory window.
	RateLimitKeys = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ratelimit_tracked_keys",
		Help:      "Client keys with a live in-memory rate limit window.",
	})

	// ActiveWebSocketClients tracks connected decision stream clients.
	ActiveWebSocketClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_websocket_clients",
		Help:      "Number of connected decision stream clients.",
	})

	// EventsPublishedTotal counts decision events handed to sinks.
	EventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Decision events published by sink and result.",
		},
		[]string{"sink", "result"},
	)

	// BreakerTransitionsTotal counts callback circuit breaker state changes.
	BreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "callback_breaker_transitions_total",
			Help:      "Callback circuit breaker state transitions by from-state and to-state.",
		},
		[]string{"from_state", "to_state"},
	)

	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "db_open_connections",
		Help: "Number of open connections to the list database.",
	})
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "db_in_use_connections",
		Help: "Number of list database connections currently in use.",
	})
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "goroutines",
		Help: "Number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		DecisionsTotal,
		DecisionScore,
		RejectionsTotal,
		WebhookDeliveriesTotal,
		JobsPending,
		JobLag,
		ResultsStored,
		ResultsExpiredTotal,
		RateLimitKeys,
		ActiveWebSocketClients,
		EventsPublishedTotal,
		BreakerTransitionsTotal,
		DBOpenConnections,
		DBInUseConnections,
		GoroutineCount,
	)
}

// ObserveDecision records a completed decision.
func ObserveDecision(interaction, status, mode string, score int) {
	DecisionsTotal.WithLabelValues(interaction, status, mode).Inc()
	DecisionScore.Observe(float64(score))
}

// StartRuntimeCollector periodically samples the goroutine count and, when
// db is non-nil, its pool stats. Call in a goroutine; exits when ctx is done.
func StartRuntimeCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
			if db != nil {
				stats := db.Stats()
				DBOpenConnections.Set(float64(stats.OpenConnections))
				DBInUseConnections.Set(float64(stats.InUse))
			}
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath() // route pattern keeps /identity/result/:id to one series
		if path == "" {
			path = "unmatched"
		}
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(c.Request.Method, path))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			path,
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
