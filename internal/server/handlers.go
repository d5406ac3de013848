package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nexshop/nexid/internal/events"
	"github.com/nexshop/nexid/internal/health"
	"github.com/nexshop/nexid/internal/idgen"
	"github.com/nexshop/nexid/internal/jobs"
	"github.com/nexshop/nexid/internal/logging"
	"github.com/nexshop/nexid/internal/metrics"
	"github.com/nexshop/nexid/internal/risk"
	"github.com/nexshop/nexid/internal/security"
	"github.com/nexshop/nexid/internal/traces"
)

// maxRequestIDLength bounds result ids accepted by the poll route.
const maxRequestIDLength = 128

// isAsync reports whether the caller asked for deferred evaluation via
// ?async=1 or an X-Async: 1/true header.
func isAsync(c *gin.Context) bool {
	for _, v := range []string{c.Query("async"), c.GetHeader("X-Async")} {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true":
			return true
		}
	}
	return false
}

func (s *Server) verifyHandler(c *gin.Context) {
	ctx := c.Request.Context()

	var payload risk.VerifyPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		metrics.RejectionsTotal.WithLabelValues("invalid_payload").Inc()
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_payload",
			"message": "Request body must be a JSON verification request",
		})
		return
	}

	req, err := risk.ParseVerifyRequest(&payload)
	if err != nil {
		metrics.RejectionsTotal.WithLabelValues("invalid_payload").Inc()
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_payload",
			"message": err.Error(),
		})
		return
	}

	callerIP := security.CallerIP(c.Request)

	if isAsync(c) {
		id, err := s.dispatcher.Enqueue(req, callerIP)
		if err != nil {
			if errors.Is(err, jobs.ErrStopped) {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"error":   "unavailable",
					"message": "Server is shutting down",
				})
				return
			}
			logging.L(ctx).Error("failed to enqueue decision", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Failed to schedule verification",
			})
			return
		}
		logging.L(ctx).Debug("async decision enqueued", "decision_id", id)
		c.JSON(http.StatusAccepted, risk.Placeholder(id))
		return
	}

	resp := s.engine.Decide(ctx, req, callerIP, idgen.New())
	metrics.ObserveDecision(string(resp.Context), string(resp.Status), string(events.ModeSync), resp.Score)
	s.events.Publish(logging.Detach(ctx), events.NewDecision(events.ModeSync, callerIP, resp))

	c.JSON(http.StatusOK, resp)
}

func (s *Server) resultHandler(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" || len(id) > maxRequestIDLength {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_payload",
			"message": "Invalid request id",
		})
		return
	}

	_, span := traces.StartSpan(c.Request.Context(), "results.get", traces.RequestID(id))
	defer span.End()

	resp, found := s.store.Get(c.Request.Context(), id)
	if !found {
		if s.store.Expired(c.Request.Context(), id) {
			c.JSON(http.StatusGone, gin.H{
				"error":     "expired",
				"message":   "Result is no longer retained",
				"requestId": id,
			})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{
			"status":    risk.StatusProcessing,
			"requestId": id,
		})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) streamHandler(c *gin.Context) {
	s.hub.HandleWebSocket(c.Writer, c.Request)
}

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, checks := s.health.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   traces.ServiceVersion,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "nexid",
		"description": "Behavioral risk decisions for login, checkout and sensitive actions",
		"version":     traces.ServiceVersion,
		"endpoints": gin.H{
			"verify": "POST /identity/verify",
			"result": "GET /identity/result/:id",
			"stream": "GET /identity/stream",
		},
	})
}
