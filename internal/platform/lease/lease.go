// Package lease provides a Redis-backed mutual exclusion lease so that only one
// escrow worker replica sweeps at a time.
package lease

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only when it still holds our owner token
const releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// Client is the subset of *redis.Client the lease needs
type Client interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

type RedisLease struct {
	client Client
	key    string
	ttl    time.Duration
	owner  string
	logger *slog.Logger
}

// NewRedisLease creates a lease on key. Each instance carries its own owner token.
func NewRedisLease(client Client, logger *slog.Logger, key string, ttl time.Duration) *RedisLease {
	return &RedisLease{
		client: client,
		key:    key,
		ttl:    ttl,
		owner:  uuid.NewString(),
		logger: logger,
	}
}

// Acquire reports whether this instance now holds the lease. A held lease
// expires on its own after ttl if the holder dies.
func (l *RedisLease) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.owner, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease %s: %w", l.key, err)
	}
	if !ok {
		l.logger.Debug("Lease held elsewhere", "key", l.key)
	}
	return ok, nil
}

// Release drops the lease if this instance still owns it
func (l *RedisLease) Release(ctx context.Context) error {
	deleted, err := l.client.Eval(ctx, releaseScript, []string{l.key}, l.owner).Int64()
	if err != nil {
		return fmt.Errorf("failed to release lease %s: %w", l.key, err)
	}
	if deleted == 0 {
		l.logger.Warn("Lease expired before release", "key", l.key)
	}
	return nil
}
