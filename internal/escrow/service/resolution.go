package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/escrow-invite-ledger/internal/domain/hold"
	entries "github.com/escrow-invite-ledger/internal/domain/ledger"
	"github.com/escrow-invite-ledger/internal/domain/shared"
	"github.com/escrow-invite-ledger/internal/escrow/ledger"
	"github.com/escrow-invite-ledger/internal/escrow/notifier"
	"github.com/escrow-invite-ledger/internal/logger"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type AcceptResult struct {
	Hold       *hold.Hold
	Amount     int64
	NewBalance int64
}

type DeclineResult struct {
	Hold           *hold.Hold
	RefundedAmount int64
}

// Accept releases the escrowed amount to actor, who must be the account registered
// under the hold's recipient identity. Exactly one of any number of concurrent
// accept, decline and expire calls succeeds; the rest get ErrAlreadyResolved.
func (e *Engine) Accept(ctx context.Context, token string, actor uuid.UUID) (*AcceptResult, error) {
	h, err := e.holds.FindByToken(ctx, token)
	if err != nil {
		return nil, e.lookupErr(ctx, "accept", err)
	}
	log := e.holdLogger(ctx, h).With("actor_id", actor.String())

	if err := e.precheck(ctx, h, actor, log); err != nil {
		return nil, err
	}

	t := e.transition(h, hold.StatusAccepted)
	t.RecipientAccountID = &actor

	var posting *ledger.Posting
	err = e.resolve(ctx, t, func(books ledger.Ledger) error {
		var err error
		posting, err = books.CreditFromEscrow(ctx, t.ResolutionTxnID, actor, h.Amount, h.ID)
		return err
	})
	if err != nil {
		return nil, e.resolutionErr(ctx, "accept", h, t.To, err, log)
	}

	e.won(ctx, h, t, shared.EventTransferAccepted)
	log.Info("Transfer accepted", "amount", h.Amount, "recipient_balance", posting.Balance)
	return &AcceptResult{Hold: h, Amount: h.Amount, NewBalance: posting.Balance}, nil
}

// Decline refunds the sender. Only the intended recipient may decline.
func (e *Engine) Decline(ctx context.Context, holdID uuid.UUID, actor uuid.UUID) (*DeclineResult, error) {
	h, err := e.holds.FindByID(ctx, holdID)
	if err != nil {
		return nil, e.lookupErr(ctx, "decline", err)
	}
	return e.decline(ctx, h, actor)
}

// DeclineByToken is Decline for callers holding the invite link rather than the id
func (e *Engine) DeclineByToken(ctx context.Context, token string, actor uuid.UUID) (*DeclineResult, error) {
	h, err := e.holds.FindByToken(ctx, token)
	if err != nil {
		return nil, e.lookupErr(ctx, "decline", err)
	}
	return e.decline(ctx, h, actor)
}

func (e *Engine) decline(ctx context.Context, h *hold.Hold, actor uuid.UUID) (*DeclineResult, error) {
	log := e.holdLogger(ctx, h).With("actor_id", actor.String())

	if err := e.precheck(ctx, h, actor, log); err != nil {
		return nil, err
	}

	t := e.transition(h, hold.StatusDeclined)
	err := e.resolve(ctx, t, func(books ledger.Ledger) error {
		_, err := books.RefundFromEscrow(ctx, t.ResolutionTxnID, h.SenderAccountID, h.Amount, h.ID, entries.ReasonDeclined)
		return err
	})
	if err != nil {
		return nil, e.resolutionErr(ctx, "decline", h, t.To, err, log)
	}

	e.won(ctx, h, t, shared.EventTransferDeclined)
	log.Info("Transfer declined, sender refunded", "amount", h.Amount)
	return &DeclineResult{Hold: h, RefundedAmount: h.Amount}, nil
}

// Expire refunds the sender of a hold whose deadline has passed. Losing the race
// to an accept or decline yields ErrAlreadyResolved, which callers should treat
// as a normal outcome.
func (e *Engine) Expire(ctx context.Context, holdID uuid.UUID) error {
	h, err := e.holds.FindByID(ctx, holdID)
	if err != nil {
		return e.lookupErr(ctx, "expire", err)
	}
	if !h.Status.IsResolvable() {
		return ErrAlreadyResolved{HoldID: h.ID, Status: h.Status}
	}
	if !h.IsExpired(e.now()) {
		return ErrNotExpired
	}
	return e.expire(ctx, h, e.holdLogger(ctx, h))
}

func (e *Engine) expire(ctx context.Context, h *hold.Hold, log *slog.Logger) error {
	t := e.transition(h, hold.StatusExpired)
	err := e.resolve(ctx, t, func(books ledger.Ledger) error {
		_, err := books.RefundFromEscrow(ctx, t.ResolutionTxnID, h.SenderAccountID, h.Amount, h.ID, entries.ReasonExpired)
		return err
	})
	if err != nil {
		return e.resolutionErr(ctx, "expire", h, t.To, err, log)
	}

	e.won(ctx, h, t, shared.EventTransferExpired)
	log.Info("Transfer expired, sender refunded", "amount", h.Amount)
	return nil
}

// precheck runs the cheap rejections before any write: identity, terminal status
// and lazy expiry. The CAS in resolve remains the final authority.
func (e *Engine) precheck(ctx context.Context, h *hold.Hold, actor uuid.UUID, log *slog.Logger) error {
	if err := e.checkRecipient(ctx, h, actor, log); err != nil {
		return err
	}
	if !h.Status.IsResolvable() {
		return ErrAlreadyResolved{HoldID: h.ID, Status: h.Status}
	}
	if h.IsExpired(e.now()) {
		if err := e.expire(ctx, h, log); err != nil {
			return err
		}
		return ErrAlreadyResolved{HoldID: h.ID, Status: hold.StatusExpired}
	}
	return nil
}

// checkRecipient requires actor to be the account registered under the hold's identity
func (e *Engine) checkRecipient(ctx context.Context, h *hold.Hold, actor uuid.UUID, log *slog.Logger) error {
	ref, err := e.resolver.Resolve(ctx, h.Recipient)
	if err != nil {
		log.Error("Failed to resolve recipient", "error", err)
		return unavailable("resolve_recipient", err)
	}
	if ref == nil {
		log.Info("Recipient identity has no account yet")
		return ErrRecipientNotRegistered
	}
	if ref.ID != actor {
		log.Warn("Acting account does not match recipient")
		return ErrIdentityMismatch
	}
	return nil
}

func (e *Engine) transition(h *hold.Hold, to hold.Status) hold.Transition {
	return hold.Transition{
		HoldID:          h.ID,
		From:            hold.ResolvableStatuses,
		To:              to,
		ResolutionTxnID: uuid.New(),
		At:              e.now(),
	}
}

// resolve runs the CAS and, only if it won, the ledger release, in one transaction
func (e *Engine) resolve(ctx context.Context, t hold.Transition, release func(books ledger.Ledger) error) error {
	if err := t.Validate(); err != nil {
		return err
	}
	return e.tx.ExecuteTx(ctx, func(tx pgx.Tx) error {
		won, err := e.holds.WithTx(tx).TryTransition(ctx, t)
		if err != nil {
			return err
		}
		if !won {
			return errCASLost
		}
		return release(e.ledger.WithTx(tx))
	})
}

func (e *Engine) resolutionErr(ctx context.Context, op string, h *hold.Hold, to hold.Status, err error, log *slog.Logger) error {
	if errors.Is(err, errCASLost) {
		e.metrics.ObserveResolution(string(to), false)
		status := e.currentStatus(ctx, h.ID, log)
		log.Debug("Resolution superseded", "attempted", string(to), "status", string(status))
		return ErrAlreadyResolved{HoldID: h.ID, Status: status}
	}
	log.Error("Resolution failed", "attempted", string(to), "error", err)
	return unavailable(op, err)
}

func (e *Engine) currentStatus(ctx context.Context, id uuid.UUID, log *slog.Logger) hold.Status {
	h, err := e.holds.FindByID(ctx, id)
	if err != nil {
		log.Warn("Failed to read status after lost resolution", "error", err)
		return ""
	}
	return h.Status
}

// won mirrors a committed transition onto the in-memory hold and emits the event
func (e *Engine) won(ctx context.Context, h *hold.Hold, t hold.Transition, event shared.EventType) {
	h.Status = t.To
	h.ResolutionTxnID = &t.ResolutionTxnID
	h.ResolvedAt = &t.At
	if t.RecipientAccountID != nil {
		h.RecipientAccountID = t.RecipientAccountID
	}
	e.metrics.ObserveResolution(string(t.To), true)
	e.notifier.Notify(ctx, notifier.NewEvent(event, h, t.At))
}

func (e *Engine) holdLogger(ctx context.Context, h *hold.Hold) *slog.Logger {
	return logger.FromContext(ctx, e.logger).With("hold_id", h.ID.String())
}
