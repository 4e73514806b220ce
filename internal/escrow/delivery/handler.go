// Package delivery consumes transfer notifications and hands them to the channel
// that reaches the person they are addressed to. A delivered invite moves its hold
// from pending to delivered; that status is informational and never gates money.
package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/escrow-invite-ledger/internal/domain/shared"
	"github.com/escrow-invite-ledger/internal/escrow/notifier"
	"github.com/escrow-invite-ledger/internal/platform/messaging/producers"
	"github.com/google/uuid"
)

// Deliverer sends one event over an out-of-band channel (email, SMS, push)
type Deliverer interface {
	Deliver(ctx context.Context, event notifier.Event) error
}

// DeliveryRecorder records that an invite reached its recipient. *service.Engine implements it.
type DeliveryRecorder interface {
	MarkDelivered(ctx context.Context, holdID uuid.UUID) error
}

// Handler handles notification messages from Kafka
type Handler struct {
	deliverer Deliverer
	recorder  DeliveryRecorder
	dlq       producers.DeadLetterPublisher
	logger    *slog.Logger
}

// NewHandler creates a handler. dlq may be nil, in which case an undecodable
// message is only logged and left uncommitted, and the consumer moves past it
// once a later offset on its partition commits.
func NewHandler(logger *slog.Logger, deliverer Deliverer, recorder DeliveryRecorder, dlq producers.DeadLetterPublisher) *Handler {
	return &Handler{
		deliverer: deliverer,
		recorder:  recorder,
		dlq:       dlq,
		logger:    logger,
	}
}

// HandleMessage matches consumers.MessageHandler. Returning nil commits the offset.
func (h *Handler) HandleMessage(ctx context.Context, key []byte, value []byte) error {
	var event notifier.Event
	if err := json.Unmarshal(value, &event); err != nil || event.HoldID == uuid.Nil {
		if err == nil {
			err = errors.New("event has no hold id")
		}
		return h.park(ctx, key, value, err)
	}

	log := h.logger.With(
		"event_id", event.ID.String(),
		"event_type", string(event.Type),
		"hold_id", event.HoldID.String(),
	)

	if err := h.deliverer.Deliver(ctx, event); err != nil {
		log.Error("Failed to deliver notification", "error", err)
		return fmt.Errorf("delivering %s for hold %s failed: %w", event.Type, event.HoldID, err)
	}

	if event.Type != shared.EventTransferCreated {
		return nil
	}

	if err := h.recorder.MarkDelivered(ctx, event.HoldID); err != nil {
		// Acked anyway: a retry would send the invite again.
		log.Warn("Invite delivered but status not recorded", "error", err)
	}
	return nil
}

func (h *Handler) park(ctx context.Context, key, value []byte, cause error) error {
	h.logger.Error("Failed to decode notification from Kafka message",
		"error", cause,
		"message_key", string(key),
	)

	if h.dlq == nil {
		return fmt.Errorf("failed to decode notification: %w", cause)
	}

	reason := "undecodable notification: " + cause.Error()
	if err := h.dlq.PublishToDLQ(ctx, string(key), value, reason); err != nil {
		h.logger.Error("Failed to publish message to DLQ",
			"dlq_error", err,
			"original_error", cause,
			"message_key", string(key),
		)
		return fmt.Errorf("failed to decode notification: %w", cause)
	}

	h.logger.Info("Parked unprocessable notification in DLQ", "message_key", string(key))
	return nil
}
