package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Repository is the authoritative, append-only entry store
type Repository interface {
	Create(ctx context.Context, entry *Entry) error
	ListByHoldID(ctx context.Context, holdID uuid.UUID) ([]*Entry, error)
	WithTx(tx pgx.Tx) Repository
}

// HistoryRepository is the read model that mirrors entries for account history views
type HistoryRepository interface {
	// Upsert is idempotent per entry id so that mirror retries never duplicate
	Upsert(ctx context.Context, entry *Entry) error
	GetByAccountID(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*Entry, error)
	CountByAccountID(ctx context.Context, accountID uuid.UUID) (int64, error)
}

// ErrDuplicateEntry indicates entry id uniqueness violation
type ErrDuplicateEntry struct {
	EntryID uuid.UUID
}

func (e ErrDuplicateEntry) Error() string {
	return "duplicate ledger entry: " + e.EntryID.String()
}

// Is implements the errors.Is interface for ErrDuplicateEntry
func (e ErrDuplicateEntry) Is(target error) bool {
	t, ok := target.(ErrDuplicateEntry)
	if !ok {
		return false
	}
	if t.EntryID == uuid.Nil {
		return true
	}
	return e.EntryID == t.EntryID
}
