package producers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/escrow-invite-ledger/internal/config"
	"github.com/segmentio/kafka-go"
)

// KafkaNotificationProducer writes notification events to the notification topic,
// keyed by hold id so that every event of one transfer lands on one partition.
type KafkaNotificationProducer struct {
	logger *slog.Logger
	writer KafkaWriter // Interface for testability
	topic  string
}

// NewKafkaNotificationProducer ensures the topic exists and opens a synchronous writer.
// Callers publish from a worker pool, so the write itself does not need to be async.
func NewKafkaNotificationProducer(ctx context.Context, logger *slog.Logger, cfg *config.KafkaConfig) (*KafkaNotificationProducer, error) {
	if cfg.NotificationTopic == "" {
		return nil, fmt.Errorf("kafka notification topic is not configured")
	}

	if err := dialAndEnsureTopic(cfg.Brokers, cfg.NotificationTopic, cfg.NumPartitions, cfg.ReplicationFactor, logger); err != nil {
		return nil, fmt.Errorf("failed to ensure notification topic %s exists: %w", cfg.NotificationTopic, err)
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers),
		Topic:        cfg.NotificationTopic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		WriteTimeout: cfg.MaxWait,
	}

	return &KafkaNotificationProducer{
		logger: logger,
		writer: writer,
		topic:  cfg.NotificationTopic,
	}, nil
}

func (p *KafkaNotificationProducer) Publish(ctx context.Context, key string, value interface{}) error {
	jsonValue, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: jsonValue,
	}
	if r, ok := value.(Routable); ok {
		msg.Headers = []kafka.Header{{Key: eventTypeHeader, Value: []byte(r.RoutingKey())}}
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("Failed to publish notification",
			"topic", p.topic,
			"key", key,
			"error", err,
		)
		return fmt.Errorf("failed to publish notification to %s: %w", p.topic, err)
	}

	p.logger.Debug("Published notification",
		"topic", p.topic,
		"key", key,
	)
	return nil
}

func (p *KafkaNotificationProducer) Close() error {
	p.logger.Info("Closing Kafka notification producer", "topic", p.topic)
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka writer for topic %s: %w", p.topic, err)
	}
	return nil
}
