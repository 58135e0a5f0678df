// Package middleware holds the gin middleware chain for the API.
package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/CodeAndHammer/khamklai/internal/app"
	"github.com/CodeAndHammer/khamklai/internal/constants"
	"github.com/CodeAndHammer/khamklai/internal/metrics"
	"github.com/CodeAndHammer/khamklai/internal/util"
)

const requestIDHeader = "X-Request-Id"

// RequestID propagates or assigns a request id and stores it on the request context.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.Request.Header.Get(requestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(c.Request.Context(), constants.RequestIDKey, reqID)
		c.Request = c.Request.WithContext(ctx)
		c.Header(requestIDHeader, reqID)
		c.Next()
	}
}

// SecurityHeaders sets the headers appropriate for a JSON-only API.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "no-referrer")
		if c.Request.TLS != nil {
			c.Header("Strict-Transport-Security", "max-age=63072000; includeSubDomains; preload")
		}
		c.Next()
	}
}

// RateLimit rejects clients that exceed their per-IP token bucket.
func RateLimit(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if !a.GetLimiter(key).Allow() {
			util.WithRequest(c.Request.Context()).Warnf("Rate limit exceeded for %s", key)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":     "Too many requests. Please slow down.",
				"code":      constants.ErrorCodeRateLimited,
				"retryable": true,
			})
			return
		}
		c.Next()
	}
}

// Observe records request metrics and writes one access log line per request.
func Observe(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		m.HTTPRequest(c.Request.Method, route, status, duration)
		util.WithRequest(c.Request.Context()).
			WithField("status", status).
			WithField("duration", duration).
			Debugf("%s %s", c.Request.Method, c.Request.URL.Path)
	}
}
