package middleware

import (
	"strconv"
	"time"

	"github.com/escrow-invite-ledger/internal/platform/metrics"
	"github.com/gin-gonic/gin"
)

// unmatchedRoute labels requests no route template matched
const unmatchedRoute = "unmatched"

// Metrics records request counts and latency labelled by route template
func Metrics(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		m.HTTPRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.HTTPLatency.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
