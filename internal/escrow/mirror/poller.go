package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/escrow-invite-ledger/internal/config"
	"github.com/escrow-invite-ledger/internal/domain/outbox"
	"github.com/escrow-invite-ledger/internal/domain/shared"
	"github.com/escrow-invite-ledger/internal/platform/metrics"
)

// Poller drains pending outbox messages into a Publisher
type Poller struct {
	outboxRepo       outbox.Repository
	publisher        Publisher
	metrics          *metrics.Metrics
	logger           *slog.Logger
	pollInterval     time.Duration
	batchSize        int
	maxRetryAttempts int
}

func NewPoller(
	cfg *config.OutboxConfig,
	outboxRepo outbox.Repository,
	publisher Publisher,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Poller {
	return &Poller{
		outboxRepo:       outboxRepo,
		publisher:        publisher,
		metrics:          m,
		logger:           logger.With("component", "ledger_mirror"),
		pollInterval:     cfg.PollingInterval,
		batchSize:        cfg.BatchSize,
		maxRetryAttempts: cfg.MaxRetryAttempts,
	}
}

// Start polls until ctx is canceled
func (p *Poller) Start(ctx context.Context) {
	p.logger.Info("Starting ledger mirror",
		"poll_interval", p.pollInterval.String(),
		"batch_size", p.batchSize,
		"max_retry_attempts", p.maxRetryAttempts,
	)
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Ledger mirror stopping due to context cancellation")
			return
		case <-ticker.C:
			if err := p.processPending(ctx); err != nil {
				p.logger.Error("Error during batch processing of pending outbox messages", "error", err)
			}
		}
	}
}

func (p *Poller) processPending(ctx context.Context) error {
	messages, err := p.outboxRepo.GetPending(ctx, p.batchSize)
	if err != nil {
		return fmt.Errorf("failed to get pending outbox messages: %w", err)
	}
	if len(messages) == 0 {
		return nil
	}

	p.logger.Debug("Fetched pending outbox messages", "count", len(messages))

	for _, msg := range messages {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := p.publisher.Publish(ctx, msg)
		if err == nil || errors.Is(err, ErrPoisonMessage) {
			continue
		}

		log := p.logger.With("outbox_id", msg.ID, "entry_id", msg.EntryID.String())
		log.Warn("Failed to mirror ledger entry", "current_attempts", msg.Attempts, "error", err)

		if errInc := p.outboxRepo.IncrementAttempts(ctx, msg.ID); errInc != nil {
			log.Error("Failed to increment attempts for outbox message", "error", errInc)
			continue
		}

		if msg.Exhausted(p.maxRetryAttempts) {
			log.Error("Max retry attempts reached, marking outbox message FAILED_TO_PUBLISH",
				"attempts_made", msg.Attempts+1,
				"hold_id", msg.HoldID.String(),
			)
			if errUpdate := p.outboxRepo.UpdateStatus(ctx, msg.ID, shared.OutboxStatusFailedToPublish); errUpdate != nil {
				log.Error("Failed to mark outbox message FAILED_TO_PUBLISH", "error", errUpdate)
				continue
			}
			p.metrics.MirrorFailed.Inc()
		}
	}
	return nil
}
