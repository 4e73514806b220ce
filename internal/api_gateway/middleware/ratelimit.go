package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/escrow-invite-ledger/internal/platform/metrics"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// Limiter decides whether key may make another request in the current window
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// RedisCounter is the subset of *redis.Client the fixed-window limiter needs
type RedisCounter interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// FixedWindowLimiter allows limit requests per key per window using one Redis
// counter per window
type FixedWindowLimiter struct {
	client RedisCounter
	prefix string
	limit  int
	window time.Duration
	now    func() time.Time
}

func NewFixedWindowLimiter(client RedisCounter, prefix string, limit int, window time.Duration) *FixedWindowLimiter {
	return &FixedWindowLimiter{
		client: client,
		prefix: prefix,
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

func (l *FixedWindowLimiter) Allow(ctx context.Context, key string) (bool, error) {
	bucket := l.now().UnixNano() / int64(l.window)
	redisKey := l.prefix + ":" + key + ":" + strconv.FormatInt(bucket, 10)

	count, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, fmt.Errorf("failed to increment rate counter: %w", err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, redisKey, l.window).Err(); err != nil {
			return false, fmt.Errorf("failed to set rate counter expiry: %w", err)
		}
	}
	return count <= int64(l.limit), nil
}

// RateLimit throttles the authenticated account. When the limiter itself fails
// the request is let through.
func RateLimit(limiter Limiter, m *metrics.Metrics, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID, ok := AccountID(c)
		if !ok {
			c.Next()
			return
		}

		allowed, err := limiter.Allow(c.Request.Context(), accountID.String())
		if err != nil {
			logger.Warn("Rate limiter unavailable, allowing request",
				"correlation_id", GetCorrelationID(c),
				"error", err)
			c.Next()
			return
		}
		if !allowed {
			m.RateLimited.Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": gin.H{
					"code":    "RATE_LIMITED",
					"message": "Too many attempts, try again later",
				},
				"correlation_id": GetCorrelationID(c),
			})
			return
		}
		c.Next()
	}
}
