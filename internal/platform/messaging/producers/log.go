package producers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// LogPublisher writes notifications to the structured log. It backs the "log"
// notification driver used in development.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	event := "notification"
	if r, ok := value.(Routable); ok {
		event = r.RoutingKey()
	}
	p.logger.InfoContext(ctx, "Notification", "event", event, "key", key, "payload", json.RawMessage(data))
	return nil
}

func (p *LogPublisher) Close() error { return nil }
