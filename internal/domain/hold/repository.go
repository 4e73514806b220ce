package hold

import (
	"context"
	"iter"
	"time"

	"github.com/escrow-invite-ledger/internal/domain/identity"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Repository is the hold store. TryTransition is the only way a hold reaches a terminal status.
type Repository interface {
	Create(ctx context.Context, h *Hold) error
	FindByID(ctx context.Context, id uuid.UUID) (*Hold, error)
	FindByToken(ctx context.Context, token string) (*Hold, error)

	// FindBySenderAndIdempotencyKey returns nil, nil when the key was never used by sender
	FindBySenderAndIdempotencyKey(ctx context.Context, sender uuid.UUID, key string) (*Hold, error)

	// FindResolvableExpired yields every non-terminal hold with expires_at <= now, fetching
	// batchSize rows per round trip. Ranging over the sequence again restarts the scan.
	FindResolvableExpired(ctx context.Context, now time.Time, batchSize int) iter.Seq2[*Hold, error]

	// TryTransition applies t only if the current status is in t.From.
	// Returns false without mutation when another caller got there first.
	TryTransition(ctx context.Context, t Transition) (bool, error)

	// MarkDelivered and MarkOpened are best-effort informational updates
	MarkDelivered(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	MarkOpened(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)

	ListBySender(ctx context.Context, sender uuid.UUID, limit, offset int) ([]*Hold, error)
	CountBySender(ctx context.Context, sender uuid.UUID) (int64, error)

	// ListAwaiting returns non-terminal holds addressed to any of ids, newest first
	ListAwaiting(ctx context.Context, ids []identity.Identity, limit, offset int) ([]*Hold, error)

	WithTx(tx pgx.Tx) Repository
}

// ErrHoldNotFound indicates missing hold. Ref is the id, or "token" for token lookups.
type ErrHoldNotFound struct {
	Ref string
}

func (e ErrHoldNotFound) Error() string {
	return "hold not found: " + e.Ref
}

// Is matches any ErrHoldNotFound when the target carries no ref
func (e ErrHoldNotFound) Is(target error) bool {
	t, ok := target.(ErrHoldNotFound)
	if !ok {
		return false
	}
	if t.Ref == "" {
		return true
	}
	return e.Ref == t.Ref
}

// ErrDuplicateIdempotencyKey indicates the sender already created a hold with this key
type ErrDuplicateIdempotencyKey struct {
	Key string
}

func (e ErrDuplicateIdempotencyKey) Error() string {
	return "hold already created with idempotency key: " + e.Key
}
