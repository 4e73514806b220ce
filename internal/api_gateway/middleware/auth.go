package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/escrow-invite-ledger/internal/platform/auth"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AccountIDKey is the gin context key holding the authenticated account id
const AccountIDKey = "account_id"

// TokenParser validates a bearer token. *auth.TokenIssuer implements it.
type TokenParser interface {
	Parse(token string) (*auth.Claims, error)
}

// Auth requires a valid "Authorization: Bearer <jwt>" header and stores the
// account id from its claims for the handlers.
func Auth(parser TokenParser, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		scheme, token, found := strings.Cut(header, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
			abortUnauthorized(c, "Missing bearer token")
			return
		}

		claims, err := parser.Parse(strings.TrimSpace(token))
		if err != nil {
			logger.Info("Rejected bearer token",
				"correlation_id", GetCorrelationID(c),
				"error", err)
			abortUnauthorized(c, "Invalid or expired token")
			return
		}

		c.Set(AccountIDKey, claims.AccountID)
		c.Next()
	}
}

// AccountID returns the authenticated account, if Auth ran
func AccountID(c *gin.Context) (uuid.UUID, bool) {
	v, exists := c.Get(AccountIDKey)
	if !exists {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error": gin.H{
			"code":    "UNAUTHORIZED",
			"message": message,
		},
		"correlation_id": GetCorrelationID(c),
	})
}
