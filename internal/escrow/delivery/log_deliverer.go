package delivery

import (
	"context"
	"log/slog"

	"github.com/escrow-invite-ledger/internal/domain/identity"
	"github.com/escrow-invite-ledger/internal/domain/shared"
	"github.com/escrow-invite-ledger/internal/escrow/notifier"
)

// LogDeliverer stands in for the email and SMS gateways. It writes the message
// a recipient would receive to the log.
type LogDeliverer struct {
	logger  *slog.Logger
	linkURL string
}

// NewLogDeliverer builds a deliverer whose invite links point at linkURL
func NewLogDeliverer(logger *slog.Logger, linkURL string) *LogDeliverer {
	return &LogDeliverer{logger: logger, linkURL: linkURL}
}

func (d *LogDeliverer) Deliver(ctx context.Context, event notifier.Event) error {
	log := d.logger.With(
		"hold_id", event.HoldID.String(),
		"amount", event.DisplayAmount,
	)

	switch event.Type {
	case shared.EventTransferCreated:
		recipient, err := identity.Parse(string(event.RecipientMethod), event.RecipientContact)
		if err != nil {
			return err
		}
		log.Info("Invite sent",
			"channel", string(recipient.Method()),
			"to", identity.String(recipient),
			"link", d.linkURL+"?token="+event.Token,
			"expires_at", event.ExpiresAt,
		)
	default:
		log.Info("Sender notified",
			"to", event.SenderAccountID.String(),
			"event", string(event.Type),
			"status", string(event.Status),
		)
	}
	return nil
}
