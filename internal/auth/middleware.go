package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nexshop/nexid/internal/logging"
	"github.com/nexshop/nexid/internal/metrics"
)

// ContextKeyMethod is the gin context key holding the request's auth Method.
const ContextKeyMethod = "authMethod"

// RequireAuth rejects requests that pass neither the key nor the origin check.
func RequireAuth(a *Authorizer) gin.HandlerFunc {
	return func(c *gin.Context) {
		method, err := a.Authorize(c.Request)
		if err != nil {
			metrics.RejectionsTotal.WithLabelValues("unauthorized").Inc()
			logging.L(c.Request.Context()).Debug("request not authorized", "error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Provide a valid X-API-Key header or call from an allowed origin.",
			})
			return
		}
		c.Set(ContextKeyMethod, method)
		c.Next()
	}
}

// GetMethod returns how the request was authenticated.
func GetMethod(c *gin.Context) (Method, bool) {
	v, exists := c.Get(ContextKeyMethod)
	if !exists {
		return "", false
	}
	m, ok := v.(Method)
	return m, ok
}
