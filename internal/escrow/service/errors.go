package service

import (
	"errors"
	"fmt"

	"github.com/escrow-invite-ledger/internal/domain/account"
	"github.com/escrow-invite-ledger/internal/domain/hold"
	"github.com/google/uuid"
)

// Caller errors. These are returned as-is and never retried by the engine.
var (
	ErrInvalidAmount          = errors.New("amount must be positive")
	ErrAmountTooLarge         = fmt.Errorf("%w and within the per-transfer maximum", ErrInvalidAmount)
	ErrInvalidTTL             = errors.New("ttl is outside the allowed range")
	ErrInvalidRecipient       = errors.New("recipient identity is required")
	ErrMessageTooLong         = hold.ErrMessageTooLong
	ErrSelfTransfer           = errors.New("cannot send money to yourself")
	ErrInsufficientFunds      = account.ErrInsufficientFunds
	ErrNotFound               = errors.New("not found")
	ErrIdentityMismatch       = errors.New("acting account is not the intended recipient")
	ErrRecipientNotRegistered = errors.New("no account is registered for the recipient")
	ErrIdempotencyKeyReused   = errors.New("idempotency key already used for a different transfer")
	ErrNotExpired             = errors.New("hold has not reached its deadline")
)

// errCASLost aborts the resolution transaction when another resolution got there first
var errCASLost = errors.New("hold status changed concurrently")

// ErrAlreadyResolved is the expected outcome of losing a resolution race, or of
// acting on a hold that is already terminal. Status is the state that won.
type ErrAlreadyResolved struct {
	HoldID uuid.UUID
	Status hold.Status
}

func (e ErrAlreadyResolved) Error() string {
	if e.Status == "" {
		return "hold already resolved: " + e.HoldID.String()
	}
	return fmt.Sprintf("hold already resolved: %s is %s", e.HoldID, e.Status)
}

// Is matches any ErrAlreadyResolved when the target carries no hold id
func (e ErrAlreadyResolved) Is(target error) bool {
	t, ok := target.(ErrAlreadyResolved)
	if !ok {
		return false
	}
	if t.HoldID == uuid.Nil {
		return true
	}
	return e.HoldID == t.HoldID
}

// ErrUnavailable wraps an infrastructure fault. Accept, decline and expire may be
// retried after it; create_transfer may not unless an idempotency key was sent.
type ErrUnavailable struct {
	Op  string
	Err error
}

func (e ErrUnavailable) Error() string {
	return e.Op + ": service unavailable: " + e.Err.Error()
}

func (e ErrUnavailable) Unwrap() error {
	return e.Err
}

// Is matches any ErrUnavailable when the target names no operation
func (e ErrUnavailable) Is(target error) bool {
	t, ok := target.(ErrUnavailable)
	if !ok {
		return false
	}
	return t.Op == "" || t.Op == e.Op
}

func unavailable(op string, err error) error {
	return ErrUnavailable{Op: op, Err: err}
}
