package middleware

import (
	"log/slog"
	"time"

	"github.com/escrow-invite-ledger/internal/logger"
	"github.com/gin-gonic/gin"
)

// Logger writes one line per request once the handler chain returns. Server
// errors log at Error, client errors at Warn and the rest at Info. The query
// string is left out because invite tokens may travel in it.
func Logger(base *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		status := c.Writer.Status()

		attrs := []any{
			"method", c.Request.Method,
			"route", route,
			"path", c.Request.URL.Path,
			"status", status,
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
			"user_agent", c.Request.UserAgent(),
		}
		if accountID, ok := AccountID(c); ok {
			attrs = append(attrs, "account_id", accountID.String())
		}

		requestLogger := logger.FromContext(c.Request.Context(), base)
		switch {
		case status >= 500:
			requestLogger.Error("HTTP request", attrs...)
		case status >= 400:
			requestLogger.Warn("HTTP request", attrs...)
		default:
			requestLogger.Info("HTTP request", attrs...)
		}
	}
}
