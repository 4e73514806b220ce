package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind classifies an escrow movement
type Kind string

const (
	KindEscrowDebit  Kind = "escrow_debit"
	KindEscrowCredit Kind = "escrow_credit"
	KindEscrowRefund Kind = "escrow_refund"
)

// Reason tags refunds for audit
type Reason string

const (
	ReasonDeclined Reason = "declined"
	ReasonExpired  Reason = "expired"
)

// Entry is an append-only record of money moving into or out of escrow.
// A nil account side means escrow itself.
type Entry struct {
	ID            uuid.UUID  `json:"id" bson:"_id"`
	FromAccountID *uuid.UUID `json:"from_account_id,omitempty" bson:"from_account_id,omitempty"`
	ToAccountID   *uuid.UUID `json:"to_account_id,omitempty" bson:"to_account_id,omitempty"`
	Amount        int64      `json:"amount" bson:"amount"` // Stored in cents/minor units
	Kind          Kind       `json:"kind" bson:"kind"`
	HoldID        uuid.UUID  `json:"hold_id" bson:"hold_id"`
	Reason        Reason     `json:"reason,omitempty" bson:"reason,omitempty"`
	CreatedAt     time.Time  `json:"created_at" bson:"created_at"`
}

// NewEscrowDebit records funds leaving the sender for escrow
func NewEscrowDebit(id, sender uuid.UUID, amount int64, holdID uuid.UUID, at time.Time) *Entry {
	return &Entry{ID: id, FromAccountID: &sender, Amount: amount, Kind: KindEscrowDebit, HoldID: holdID, CreatedAt: at.UTC()}
}

// NewEscrowCredit records funds leaving escrow for the recipient
func NewEscrowCredit(id, recipient uuid.UUID, amount int64, holdID uuid.UUID, at time.Time) *Entry {
	return &Entry{ID: id, ToAccountID: &recipient, Amount: amount, Kind: KindEscrowCredit, HoldID: holdID, CreatedAt: at.UTC()}
}

// NewEscrowRefund records funds returning from escrow to the sender
func NewEscrowRefund(id, sender uuid.UUID, amount int64, holdID uuid.UUID, reason Reason, at time.Time) *Entry {
	return &Entry{ID: id, ToAccountID: &sender, Amount: amount, Kind: KindEscrowRefund, HoldID: holdID, Reason: reason, CreatedAt: at.UTC()}
}

// AccountID returns the non-escrow side of the entry
func (e *Entry) AccountID() uuid.UUID {
	if e.FromAccountID != nil {
		return *e.FromAccountID
	}
	if e.ToAccountID != nil {
		return *e.ToAccountID
	}
	return uuid.Nil
}

// SignedAmount is the effect on the account side's balance
func (e *Entry) SignedAmount() int64 {
	if e.Kind == KindEscrowDebit {
		return -e.Amount
	}
	return e.Amount
}

var (
	ErrMissingDebit     = errors.New("hold has no escrow debit")
	ErrMultipleDebits   = errors.New("hold has more than one escrow debit")
	ErrMultipleReleases = errors.New("hold has more than one credit or refund")
	ErrAmountMismatch   = errors.New("release amount differs from escrowed amount")
	ErrMixedHolds       = errors.New("entries belong to different holds")
)

// CheckConservation verifies the entries of one hold: one debit, at most one credit or
// refund, and equal amounts. It reports whether the hold has been released.
func CheckConservation(entries []*Entry) (released bool, err error) {
	var debit, release *Entry
	for _, e := range entries {
		if e.HoldID != entries[0].HoldID {
			return false, ErrMixedHolds
		}
		switch e.Kind {
		case KindEscrowDebit:
			if debit != nil {
				return false, ErrMultipleDebits
			}
			debit = e
		case KindEscrowCredit, KindEscrowRefund:
			if release != nil {
				return false, ErrMultipleReleases
			}
			release = e
		default:
			return false, fmt.Errorf("unknown entry kind %q", e.Kind)
		}
	}
	if debit == nil {
		return false, ErrMissingDebit
	}
	if release == nil {
		return false, nil
	}
	if release.Amount != debit.Amount {
		return true, ErrAmountMismatch
	}
	return true, nil
}
