package account

import (
	"context"

	"github.com/escrow-invite-ledger/internal/domain/identity"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Repository defines account persistence operations
type Repository interface {
	Create(ctx context.Context, account *Account) error
	GetByID(ctx context.Context, id uuid.UUID) (*Account, error)

	// FindByIdentity returns nil, nil when no account is registered under id
	FindByIdentity(ctx context.Context, id identity.Identity) (*Account, error)

	// Debit subtracts amount in a single conditional statement and returns the new balance.
	// Returns ErrInsufficientFunds without mutating when the balance is short.
	Debit(ctx context.Context, id uuid.UUID, amount int64) (int64, error)

	// Credit adds amount and returns the new balance
	Credit(ctx context.Context, id uuid.UUID, amount int64) (int64, error)

	WithTx(tx pgx.Tx) Repository
}

// ErrAccountNotFound indicates missing account
type ErrAccountNotFound struct {
	AccountID uuid.UUID
}

func (e ErrAccountNotFound) Error() string {
	return "account not found: " + e.AccountID.String()
}

// Is matches any ErrAccountNotFound when the target carries no id
func (e ErrAccountNotFound) Is(target error) bool {
	t, ok := target.(ErrAccountNotFound)
	if !ok {
		return false
	}
	if t.AccountID == uuid.Nil {
		return true
	}
	return e.AccountID == t.AccountID
}

// ErrDuplicateIdentity indicates a username, email or phone already registered
type ErrDuplicateIdentity struct {
	Field string
}

func (e ErrDuplicateIdentity) Error() string {
	return "account with this " + e.Field + " already exists"
}
