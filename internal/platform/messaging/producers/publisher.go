package producers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/escrow-invite-ledger/internal/config"
)

// NewNotificationPublisher builds the publisher selected by NOTIFICATION_DRIVER
func NewNotificationPublisher(ctx context.Context, logger *slog.Logger, cfg *config.Config) (MessagePublisher, error) {
	switch cfg.Notification.Driver {
	case config.NotificationDriverKafka:
		producer, err := NewKafkaNotificationProducer(ctx, logger, &cfg.Kafka)
		if err != nil {
			return nil, err
		}
		return producer, nil
	case config.NotificationDriverNATS:
		publisher, err := NewNATSPublisher(logger, &cfg.NATS)
		if err != nil {
			return nil, err
		}
		return publisher, nil
	case config.NotificationDriverLog:
		return NewLogPublisher(logger), nil
	default:
		return nil, fmt.Errorf("unknown notification driver %q", cfg.Notification.Driver)
	}
}
