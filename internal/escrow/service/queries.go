package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/escrow-invite-ledger/internal/domain/account"
	"github.com/escrow-invite-ledger/internal/domain/hold"
	entries "github.com/escrow-invite-ledger/internal/domain/ledger"
	"github.com/escrow-invite-ledger/internal/domain/shared"
	"github.com/escrow-invite-ledger/internal/escrow/notifier"
	"github.com/google/uuid"
)

// TransferView is a hold as seen by one of its parties
type TransferView struct {
	Hold           *hold.Hold
	ViewerIsSender bool
}

// GetStatus returns the hold as stored
func (e *Engine) GetStatus(ctx context.Context, holdID uuid.UUID) (*hold.Hold, error) {
	h, err := e.holds.FindByID(ctx, holdID)
	if err != nil {
		return nil, e.lookupErr(ctx, "get_status", err)
	}
	return h, nil
}

// ViewTransfer returns the hold to its sender or its recipient and refuses anyone else
func (e *Engine) ViewTransfer(ctx context.Context, holdID uuid.UUID, viewer uuid.UUID) (*TransferView, error) {
	h, err := e.GetStatus(ctx, holdID)
	if err != nil {
		return nil, err
	}
	if h.SenderAccountID == viewer {
		return &TransferView{Hold: h, ViewerIsSender: true}, nil
	}
	if h.RecipientAccountID != nil && *h.RecipientAccountID == viewer {
		return &TransferView{Hold: h}, nil
	}
	acc, err := e.accounts.GetByID(ctx, viewer)
	if err != nil {
		if errors.Is(err, account.ErrAccountNotFound{}) {
			return nil, ErrIdentityMismatch
		}
		return nil, unavailable("view_transfer", err)
	}
	if !acc.Matches(h.Recipient) {
		e.holdLogger(ctx, h).Warn("Viewer is neither sender nor recipient", "viewer_id", viewer.String())
		return nil, ErrIdentityMismatch
	}
	return &TransferView{Hold: h}, nil
}

// MarkDelivered records that the invite reached the recipient's channel.
// It is informational: a skipped update is logged, not reported.
func (e *Engine) MarkDelivered(ctx context.Context, holdID uuid.UUID) error {
	ok, err := e.holds.MarkDelivered(ctx, holdID, e.now())
	if err != nil {
		return unavailable("mark_delivered", err)
	}
	if !ok {
		e.logger.Debug("Delivery mark skipped, hold has moved on", "hold_id", holdID.String())
	}
	return nil
}

// MarkOpened records that the recipient viewed the invite and tells the sender
func (e *Engine) MarkOpened(ctx context.Context, holdID uuid.UUID, actor uuid.UUID) (*hold.Hold, error) {
	h, err := e.holds.FindByID(ctx, holdID)
	if err != nil {
		return nil, e.lookupErr(ctx, "mark_opened", err)
	}
	return e.open(ctx, h, actor)
}

// OpenByToken is MarkOpened for the invite link
func (e *Engine) OpenByToken(ctx context.Context, token string, actor uuid.UUID) (*hold.Hold, error) {
	h, err := e.holds.FindByToken(ctx, token)
	if err != nil {
		return nil, e.lookupErr(ctx, "mark_opened", err)
	}
	return e.open(ctx, h, actor)
}

func (e *Engine) open(ctx context.Context, h *hold.Hold, actor uuid.UUID) (*hold.Hold, error) {
	log := e.holdLogger(ctx, h).With("actor_id", actor.String())
	if err := e.checkRecipient(ctx, h, actor, log); err != nil {
		return nil, err
	}

	now := e.now()
	ok, err := e.holds.MarkOpened(ctx, h.ID, now)
	if err != nil {
		log.Error("Failed to mark hold opened", "error", err)
		return nil, unavailable("mark_opened", err)
	}
	if !ok {
		log.Debug("Open mark skipped", "status", string(h.Status))
		return h, nil
	}

	h.Status = hold.StatusOpened
	h.OpenedAt = &now
	e.notifier.Notify(ctx, notifier.NewEvent(shared.EventTransferOpened, h, now))
	return h, nil
}

// ListSent returns holds created by sender, newest first, and the total count
func (e *Engine) ListSent(ctx context.Context, sender uuid.UUID, limit, offset int) ([]*hold.Hold, int64, error) {
	holds, err := e.holds.ListBySender(ctx, sender, limit, offset)
	if err != nil {
		return nil, 0, unavailable("list_sent", err)
	}
	total, err := e.holds.CountBySender(ctx, sender)
	if err != nil {
		return nil, 0, unavailable("list_sent", err)
	}
	return holds, total, nil
}

// ListReceived returns unresolved holds addressed to any identity of the account
func (e *Engine) ListReceived(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*hold.Hold, error) {
	acc, err := e.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, account.ErrAccountNotFound{}) {
			return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
		}
		return nil, unavailable("list_received", err)
	}

	holds, err := e.holds.ListAwaiting(ctx, acc.Identities(), limit, offset)
	if err != nil {
		return nil, unavailable("list_received", err)
	}
	return holds, nil
}

// ErrLedgerInconsistent reports entries that break conservation for their hold
var ErrLedgerInconsistent = errors.New("ledger entries inconsistent with hold")

// TransferAudit is a hold together with the ledger entries posted for it
type TransferAudit struct {
	Hold     *hold.Hold
	Entries  []*entries.Entry
	Released bool
}

// AuditTransfer returns the authoritative entries of a hold to one of its
// parties and checks them against the hold status.
func (e *Engine) AuditTransfer(ctx context.Context, holdID uuid.UUID, viewer uuid.UUID) (*TransferAudit, error) {
	view, err := e.ViewTransfer(ctx, holdID, viewer)
	if err != nil {
		return nil, err
	}

	posted, err := e.ledger.Entries(ctx, holdID)
	if err != nil {
		e.holdLogger(ctx, view.Hold).Error("Failed to load hold entries", "error", err)
		return nil, unavailable("audit_transfer", err)
	}

	released, err := entries.CheckConservation(posted)
	if err == nil && released != view.Hold.Status.IsTerminal() {
		err = fmt.Errorf("status %s with released=%t", view.Hold.Status, released)
	}
	if err != nil {
		e.holdLogger(ctx, view.Hold).Error("Hold entries violate conservation",
			"alert", "reconciliation_required",
			"entries", len(posted),
			"error", err)
		e.metrics.ReconciliationAlerts.Inc()
		return nil, fmt.Errorf("%w: %w", ErrLedgerInconsistent, err)
	}

	return &TransferAudit{Hold: view.Hold, Entries: posted, Released: released}, nil
}
