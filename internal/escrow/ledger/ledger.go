// Package ledger moves money between accounts and escrow. Each primitive changes one
// balance with a single conditional statement, appends the matching entry, and queues
// the entry for the history mirror. Callers bind it to a transaction with WithTx so
// that these writes commit together with the hold they belong to.
//
// The primitives do not deduplicate: exactly-once is enforced one layer up by the
// hold compare-and-swap and by the per-hold unique indexes on ledger_entries.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/escrow-invite-ledger/internal/domain/account"
	entries "github.com/escrow-invite-ledger/internal/domain/ledger"
	"github.com/escrow-invite-ledger/internal/domain/outbox"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Posting is the outcome of one primitive: the appended entry and the account's new balance
type Posting struct {
	Entry   *entries.Entry
	Balance int64
}

// Ledger defines the three escrow primitives and the per-hold entry read
type Ledger interface {
	DebitToEscrow(ctx context.Context, entryID, accountID uuid.UUID, amount int64, holdID uuid.UUID) (*Posting, error)
	CreditFromEscrow(ctx context.Context, entryID, accountID uuid.UUID, amount int64, holdID uuid.UUID) (*Posting, error)
	RefundFromEscrow(ctx context.Context, entryID, accountID uuid.UUID, amount int64, holdID uuid.UUID, reason entries.Reason) (*Posting, error)

	// Entries returns every entry posted for a hold, oldest first
	Entries(ctx context.Context, holdID uuid.UUID) ([]*entries.Entry, error)

	WithTx(tx pgx.Tx) Ledger
}

// LedgerImpl implements Ledger over the account, entry and outbox repositories
type LedgerImpl struct {
	accounts account.Repository
	entries  entries.Repository
	outbox   outbox.Repository
	logger   *slog.Logger
	now      func() time.Time
}

func NewLedger(accounts account.Repository, entryRepo entries.Repository, outboxRepo outbox.Repository, logger *slog.Logger) Ledger {
	return &LedgerImpl{
		accounts: accounts,
		entries:  entryRepo,
		outbox:   outboxRepo,
		logger:   logger,
		now:      time.Now,
	}
}

// WithTx returns a ledger whose repositories run inside tx
func (l *LedgerImpl) WithTx(tx pgx.Tx) Ledger {
	return &LedgerImpl{
		accounts: l.accounts.WithTx(tx),
		entries:  l.entries.WithTx(tx),
		outbox:   l.outbox.WithTx(tx),
		logger:   l.logger,
		now:      l.now,
	}
}

// DebitToEscrow takes amount from the account. Returns account.ErrInsufficientFunds
// without writing anything when the balance is short.
func (l *LedgerImpl) DebitToEscrow(ctx context.Context, entryID, accountID uuid.UUID, amount int64, holdID uuid.UUID) (*Posting, error) {
	if amount <= 0 {
		return nil, account.ErrInvalidAmount
	}

	balance, err := l.accounts.Debit(ctx, accountID, amount)
	if err != nil {
		if errors.Is(err, account.ErrInsufficientFunds) {
			l.logger.Info("Escrow debit refused, insufficient funds",
				"account_id", accountID.String(),
				"hold_id", holdID.String(),
				"amount", amount)
		}
		return nil, err
	}

	entry := entries.NewEscrowDebit(entryID, accountID, amount, holdID, l.now())
	if err := l.append(ctx, entry); err != nil {
		return nil, err
	}

	l.logger.Debug("Escrow debit posted",
		"entry_id", entryID.String(),
		"account_id", accountID.String(),
		"hold_id", holdID.String(),
		"amount", amount,
		"balance", balance)
	return &Posting{Entry: entry, Balance: balance}, nil
}

// CreditFromEscrow releases held funds to the recipient
func (l *LedgerImpl) CreditFromEscrow(ctx context.Context, entryID, accountID uuid.UUID, amount int64, holdID uuid.UUID) (*Posting, error) {
	entry := entries.NewEscrowCredit(entryID, accountID, amount, holdID, l.now())
	return l.release(ctx, entry)
}

// RefundFromEscrow returns held funds to the sender, tagged with why
func (l *LedgerImpl) RefundFromEscrow(ctx context.Context, entryID, accountID uuid.UUID, amount int64, holdID uuid.UUID, reason entries.Reason) (*Posting, error) {
	entry := entries.NewEscrowRefund(entryID, accountID, amount, holdID, reason, l.now())
	return l.release(ctx, entry)
}

func (l *LedgerImpl) Entries(ctx context.Context, holdID uuid.UUID) ([]*entries.Entry, error) {
	return l.entries.ListByHoldID(ctx, holdID)
}

func (l *LedgerImpl) release(ctx context.Context, entry *entries.Entry) (*Posting, error) {
	if entry.Amount <= 0 {
		return nil, account.ErrInvalidAmount
	}

	accountID := entry.AccountID()
	balance, err := l.accounts.Credit(ctx, accountID, entry.Amount)
	if err != nil {
		return nil, err
	}

	if err := l.append(ctx, entry); err != nil {
		return nil, err
	}

	l.logger.Debug("Escrow release posted",
		"entry_id", entry.ID.String(),
		"kind", string(entry.Kind),
		"reason", string(entry.Reason),
		"account_id", accountID.String(),
		"hold_id", entry.HoldID.String(),
		"amount", entry.Amount,
		"balance", balance)
	return &Posting{Entry: entry, Balance: balance}, nil
}

// append writes the entry and its outbox message
func (l *LedgerImpl) append(ctx context.Context, entry *entries.Entry) error {
	if err := l.entries.Create(ctx, entry); err != nil {
		return err
	}

	message, err := outbox.NewMessage(entry)
	if err != nil {
		l.logger.Error("Failed to build outbox message",
			"entry_id", entry.ID.String(),
			"error", err)
		return fmt.Errorf("failed to build outbox message for entry %s: %w", entry.ID.String(), err)
	}

	if err := l.outbox.Create(ctx, message); err != nil {
		return fmt.Errorf("failed to queue entry %s for mirroring: %w", entry.ID.String(), err)
	}
	return nil
}
