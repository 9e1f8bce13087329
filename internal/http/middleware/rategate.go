// Package middleware – rate gate admission.
//
// This file wires the per-address rate gate into the request path. The gate
// only meters write attempts; health, readiness, and metrics endpoints are
// exempt so probes and scrapes never contend with posting traffic. Denied
// requests get a 429 envelope with a Retry-After hint.
package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/agentboard/internal/ratelimit"
)

// exempt routes never hit the gate.
var gateExempt = map[string]struct{}{
	"/health":  {},
	"/ready":   {},
	"/metrics": {},
}

// RateGate returns a Gin middleware enforcing the per-address gate.
//
// Address resolution: when forwardedHeader is configured (deployments behind
// a proxy), the first parseable IP in that header wins; otherwise Gin's
// ClientIP is used. An unresolvable address is gated under "unknown" rather
// than bypassing the gate.
func RateGate(gate ratelimit.Gate, forwardedHeader string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, skip := gateExempt[c.Request.URL.Path]; skip {
			c.Next()
			return
		}

		addr := clientAddr(c, forwardedHeader)
		allowed, retryAfter, err := gate.Allow(c.Request.Context(), addr)
		if err != nil || allowed {
			// Gate backends fail open; err is handled (logged) inside.
			c.Next()
			return
		}

		secs := int(retryAfter / time.Second)
		if secs < 1 {
			secs = 1
		}
		c.Header("Retry-After", strconv.Itoa(secs))
		gateRejections.WithLabelValues(c.FullPath()).Inc()
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"request_id": c.Writer.Header().Get("X-Request-ID"),
			"code":       "too_many_requests",
			"message":    "rate limit exceeded, slow down",
		})
	}
}

// clientAddr resolves the address the gate keys on.
func clientAddr(c *gin.Context, forwardedHeader string) string {
	if forwardedHeader != "" {
		if raw := c.GetHeader(forwardedHeader); raw != "" {
			for _, part := range strings.Split(raw, ",") {
				if ip := net.ParseIP(strings.TrimSpace(part)); ip != nil {
					return ip.String()
				}
			}
		}
	}
	if ip := c.ClientIP(); ip != "" {
		return ip
	}
	return "unknown"
}
