package notifier

import (
	"time"

	"github.com/escrow-invite-ledger/internal/domain/hold"
	"github.com/escrow-invite-ledger/internal/domain/identity"
	"github.com/escrow-invite-ledger/internal/domain/shared"
	"github.com/google/uuid"
)

// Event is the payload published for every transfer notification. Token is only
// set on transfer.created, which is the invite the recipient acts on.
type Event struct {
	ID                 uuid.UUID        `json:"id"`
	Type               shared.EventType `json:"type"`
	HoldID             uuid.UUID        `json:"hold_id"`
	SenderAccountID    uuid.UUID        `json:"sender_account_id"`
	RecipientMethod    identity.Method  `json:"recipient_method"`
	RecipientContact   string           `json:"recipient_contact"`
	RecipientAccountID *uuid.UUID       `json:"recipient_account_id,omitempty"`
	Amount             int64            `json:"amount"`
	DisplayAmount      string           `json:"display_amount"`
	Message            string           `json:"message,omitempty"`
	Token              string           `json:"token,omitempty"`
	Status             hold.Status      `json:"status"`
	ExpiresAt          time.Time        `json:"expires_at"`
	OccurredAt         time.Time        `json:"occurred_at"`
}

func NewEvent(eventType shared.EventType, h *hold.Hold, at time.Time) Event {
	event := Event{
		ID:                 uuid.New(),
		Type:               eventType,
		HoldID:             h.ID,
		SenderAccountID:    h.SenderAccountID,
		RecipientMethod:    h.Recipient.Method(),
		RecipientContact:   h.Recipient.Contact(),
		RecipientAccountID: h.RecipientAccountID,
		Amount:             h.Amount,
		DisplayAmount:      shared.FormatMinorUnits(h.Amount),
		Message:            h.Message,
		Status:             h.Status,
		ExpiresAt:          h.ExpiresAt,
		OccurredAt:         at.UTC(),
	}
	if eventType == shared.EventTransferCreated {
		event.Token = h.Token
	}
	return event
}

// RoutingKey names the event for transports that route by type
func (e Event) RoutingKey() string {
	return string(e.Type)
}
