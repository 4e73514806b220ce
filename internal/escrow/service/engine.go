// Package service is the resolution engine for escrowed transfers. It debits the
// sender into escrow when a transfer is created and later releases the funds
// exactly once: to the recipient on accept, or back to the sender on decline or
// expiry. The release is gated by a compare-and-swap on the hold status that runs
// in the same transaction as the ledger write, before it.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/escrow-invite-ledger/internal/config"
	"github.com/escrow-invite-ledger/internal/domain/account"
	"github.com/escrow-invite-ledger/internal/domain/hold"
	"github.com/escrow-invite-ledger/internal/domain/identity"
	"github.com/escrow-invite-ledger/internal/domain/shared"
	"github.com/escrow-invite-ledger/internal/escrow/ledger"
	"github.com/escrow-invite-ledger/internal/escrow/notifier"
	"github.com/escrow-invite-ledger/internal/logger"
	"github.com/escrow-invite-ledger/internal/platform/metrics"
	"github.com/escrow-invite-ledger/internal/platform/persistence"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Policy bounds what a sender may create
type Policy struct {
	DefaultTTL time.Duration
	MinTTL     time.Duration
	MaxTTL     time.Duration
	MaxAmount  int64
}

func PolicyFromConfig(cfg *config.EscrowConfig) Policy {
	return Policy{
		DefaultTTL: cfg.HoldTTL,
		MinTTL:     cfg.MinTTL,
		MaxTTL:     cfg.MaxTTL,
		MaxAmount:  cfg.MaxAmount,
	}
}

type Engine struct {
	tx       TxManager
	holds    hold.Repository
	accounts account.Repository
	ledger   ledger.Ledger
	resolver IdentityResolver
	notifier Notifier
	metrics  *metrics.Metrics
	policy   Policy
	logger   *slog.Logger
	now      func() time.Time
}

func NewEngine(
	tx TxManager,
	holds hold.Repository,
	accounts account.Repository,
	books ledger.Ledger,
	resolver IdentityResolver,
	notify Notifier,
	m *metrics.Metrics,
	policy Policy,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		tx:       tx,
		holds:    holds,
		accounts: accounts,
		ledger:   books,
		resolver: resolver,
		notifier: notify,
		metrics:  m,
		policy:   policy,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateTransferRequest is the input of CreateTransfer. A zero TTL selects the policy default.
type CreateTransferRequest struct {
	SenderID       uuid.UUID
	Amount         int64
	Recipient      identity.Identity
	TTL            time.Duration
	Message        string
	IdempotencyKey string
}

type CreateTransferResult struct {
	Hold *hold.Hold
	// Replayed is set when the idempotency key matched an earlier transfer
	Replayed bool
}

// CreateTransfer debits the sender into escrow and records the pending hold in
// one transaction. The returned hold carries the token the recipient redeems.
func (e *Engine) CreateTransfer(ctx context.Context, req CreateTransferRequest) (*CreateTransferResult, error) {
	log := logger.FromContext(ctx, e.logger).With("sender_id", req.SenderID.String())

	ttl, err := e.validateCreate(req)
	if err != nil {
		log.Info("Transfer rejected", "amount", req.Amount, "error", err)
		return nil, err
	}

	if req.IdempotencyKey != "" {
		existing, err := e.holds.FindBySenderAndIdempotencyKey(ctx, req.SenderID, req.IdempotencyKey)
		if err != nil {
			log.Error("Failed to check idempotency key", "error", err)
			return nil, unavailable("create_transfer", err)
		}
		if existing != nil {
			return e.replay(existing, req, log)
		}
	}

	ref, err := e.resolver.Resolve(ctx, req.Recipient)
	if err != nil {
		log.Error("Failed to resolve recipient", "method", string(req.Recipient.Method()), "error", err)
		return nil, unavailable("create_transfer", err)
	}
	if ref != nil && ref.ID == req.SenderID {
		return nil, ErrSelfTransfer
	}
	if ref == nil && req.Recipient.Method() == identity.MethodUsername {
		return nil, ErrRecipientNotRegistered
	}

	now := e.now()
	h, err := hold.New(req.SenderID, req.Amount, req.Recipient, ttl, now)
	if err != nil {
		return nil, err
	}
	if err := h.SetMessage(req.Message); err != nil {
		return nil, err
	}
	h.IdempotencyKey = req.IdempotencyKey
	h.EscrowTxnID = uuid.New()

	log = log.With("hold_id", h.ID.String())

	var posting *ledger.Posting
	err = e.tx.ExecuteTx(ctx, func(tx pgx.Tx) error {
		var err error
		posting, err = e.ledger.WithTx(tx).DebitToEscrow(ctx, h.EscrowTxnID, req.SenderID, req.Amount, h.ID)
		if err != nil {
			return err
		}
		return e.holds.WithTx(tx).Create(ctx, h)
	})
	if err != nil {
		var dupKey hold.ErrDuplicateIdempotencyKey
		switch {
		case errors.Is(err, account.ErrInsufficientFunds):
			log.Info("Transfer rejected, insufficient funds", "amount", req.Amount)
			return nil, ErrInsufficientFunds
		case errors.Is(err, account.ErrAccountNotFound{}):
			log.Warn("Sender account not found")
			return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
		case errors.As(err, &dupKey):
			// A concurrent request with the same key committed first; this one rolled back.
			existing, findErr := e.holds.FindBySenderAndIdempotencyKey(ctx, req.SenderID, req.IdempotencyKey)
			if findErr != nil || existing == nil {
				return nil, unavailable("create_transfer", err)
			}
			return e.replay(existing, req, log)
		case errors.Is(err, persistence.ErrCommitFailed):
			log.Error("Escrow debit commit outcome unknown",
				"alert", "reconciliation_required",
				"escrow_txn_id", h.EscrowTxnID.String(),
				"amount", req.Amount,
				"error", err)
			e.metrics.ReconciliationAlerts.Inc()
			return nil, unavailable("create_transfer", err)
		default:
			log.Error("Failed to create transfer", "error", err)
			return nil, unavailable("create_transfer", err)
		}
	}

	e.metrics.TransfersCreated.Inc()
	log.Info("Transfer created",
		"amount", h.Amount,
		"recipient_method", string(h.Recipient.Method()),
		"expires_at", h.ExpiresAt,
		"sender_balance", posting.Balance)

	e.notifier.Notify(ctx, notifier.NewEvent(shared.EventTransferCreated, h, now))
	return &CreateTransferResult{Hold: h}, nil
}

func (e *Engine) validateCreate(req CreateTransferRequest) (time.Duration, error) {
	if req.Amount <= 0 {
		return 0, ErrInvalidAmount
	}
	if e.policy.MaxAmount > 0 && req.Amount > e.policy.MaxAmount {
		return 0, ErrAmountTooLarge
	}
	if req.Recipient == nil {
		return 0, ErrInvalidRecipient
	}
	if len([]rune(req.Message)) > hold.MaxMessageLength {
		return 0, ErrMessageTooLong
	}

	ttl := req.TTL
	if ttl == 0 {
		ttl = e.policy.DefaultTTL
	}
	if ttl < e.policy.MinTTL || ttl > e.policy.MaxTTL {
		return 0, ErrInvalidTTL
	}
	return ttl, nil
}

// replay answers a retried create with the hold the key already produced
func (e *Engine) replay(existing *hold.Hold, req CreateTransferRequest, log *slog.Logger) (*CreateTransferResult, error) {
	if existing.Amount != req.Amount || !identity.Equal(existing.Recipient, req.Recipient) {
		log.Warn("Idempotency key reused with different parameters", "hold_id", existing.ID.String())
		return nil, ErrIdempotencyKeyReused
	}
	log.Info("Returning transfer for replayed idempotency key", "hold_id", existing.ID.String())
	return &CreateTransferResult{Hold: existing, Replayed: true}, nil
}

// lookupErr maps a hold lookup failure onto the engine taxonomy
func (e *Engine) lookupErr(ctx context.Context, op string, err error) error {
	if errors.Is(err, hold.ErrHoldNotFound{}) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	logger.FromContext(ctx, e.logger).Error("Failed to load hold", "op", op, "error", err)
	return unavailable(op, err)
}
