package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/escrow-invite-ledger/internal/logger"
	"github.com/gin-gonic/gin"
)

// Recovery turns a handler panic into a 500 envelope. The stack is logged with the
// request's correlation id so the failed call can be found from the client's response.
// Nothing is written when the handler already started the response.
func Recovery(base *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}

			attrs := []any{
				"error", r,
				"stack", string(debug.Stack()),
				"route", c.FullPath(),
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
			}
			if accountID, ok := AccountID(c); ok {
				attrs = append(attrs, "account_id", accountID.String())
			}
			logger.FromContext(c.Request.Context(), base).Error("Panic recovered", attrs...)

			if c.Writer.Written() {
				c.Abort()
				return
			}

			response := gin.H{
				"error": gin.H{
					"code":    "INTERNAL_SERVER_ERROR",
					"message": "An internal server error occurred",
				},
			}
			if correlationID := GetCorrelationID(c); correlationID != "" {
				response["correlation_id"] = correlationID
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, response)
		}()

		c.Next()
	}
}
