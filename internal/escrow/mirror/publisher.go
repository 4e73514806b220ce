// Package mirror copies committed ledger entries from the Postgres outbox into the
// MongoDB history store that serves account history views. The copy is
// at-least-once; the history store upserts by entry id so replays are harmless.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/escrow-invite-ledger/internal/domain/ledger"
	"github.com/escrow-invite-ledger/internal/domain/outbox"
	"github.com/escrow-invite-ledger/internal/domain/shared"
	"github.com/escrow-invite-ledger/internal/platform/metrics"
)

// ErrPoisonMessage marks an outbox payload that can never be mirrored
var ErrPoisonMessage = errors.New("outbox payload is not a ledger entry")

// Publisher writes one outbox message to the history store
type Publisher interface {
	Publish(ctx context.Context, message *outbox.Message) error
}

// HistoryPublisher implements Publisher over a ledger.HistoryRepository
type HistoryPublisher struct {
	outboxRepo outbox.Repository
	history    ledger.HistoryRepository
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

func NewHistoryPublisher(
	outboxRepo outbox.Repository,
	history ledger.HistoryRepository,
	m *metrics.Metrics,
	logger *slog.Logger,
) *HistoryPublisher {
	return &HistoryPublisher{
		outboxRepo: outboxRepo,
		history:    history,
		metrics:    m,
		logger:     logger,
	}
}

// Publish upserts the entry and marks the message PROCESSED. A payload that does
// not decode is marked FAILED_TO_PUBLISH at once, since retrying cannot fix it.
func (p *HistoryPublisher) Publish(ctx context.Context, message *outbox.Message) error {
	log := p.logger.With("outbox_id", message.ID, "entry_id", message.EntryID.String())

	entry, err := message.LedgerEntry()
	if err != nil {
		log.Error("Failed to decode ledger entry from outbox payload", "error", err)
		if updateErr := p.outboxRepo.UpdateStatus(ctx, message.ID, shared.OutboxStatusFailedToPublish); updateErr != nil {
			log.Error("Also failed to mark undecodable outbox message", "update_error", updateErr)
		}
		p.metrics.MirrorFailed.Inc()
		return fmt.Errorf("%w: outbox %d: %w", ErrPoisonMessage, message.ID, err)
	}

	if err := p.history.Upsert(ctx, entry); err != nil {
		return fmt.Errorf("failed to mirror ledger entry %s: %w", entry.ID, err)
	}

	if err := p.outboxRepo.UpdateStatus(ctx, message.ID, shared.OutboxStatusProcessed); err != nil {
		log.Error("Ledger entry mirrored but outbox not marked PROCESSED", "error", err)
		return fmt.Errorf("entry %s mirrored, but failed to mark outbox %d as PROCESSED: %w", entry.ID, message.ID, err)
	}

	p.metrics.MirrorPublished.Inc()
	log.Debug("Ledger entry mirrored", "hold_id", entry.HoldID.String(), "kind", string(entry.Kind))
	return nil
}
