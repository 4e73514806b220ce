package producers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/escrow-invite-ledger/internal/config"
	"github.com/nats-io/nats.go"
)

const msgKeyHeader = "Msg-Key"

// NATSPublisher publishes notifications on "<prefix>.<event type>" subjects
type NATSPublisher struct {
	logger *slog.Logger
	conn   NATSConn
	prefix string
}

func NewNATSPublisher(logger *slog.Logger, cfg *config.NATSConfig) (*NATSPublisher, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name("escrow-notifier"),
		nats.Timeout(cfg.Timeout),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	logger.Info("Connected to NATS", "url", nc.ConnectedUrl())
	return &NATSPublisher{logger: logger, conn: nc, prefix: cfg.SubjectPrefix}, nil
}

func (p *NATSPublisher) subject(value interface{}) string {
	if r, ok := value.(Routable); ok {
		return p.prefix + "." + r.RoutingKey()
	}
	return p.prefix + ".notification"
}

// Publish hands the message to the connection and flushes so ctx bounds delivery to the server
func (p *NATSPublisher) Publish(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	msg := nats.NewMsg(p.subject(value))
	msg.Data = data
	msg.Header.Set(msgKeyHeader, key)

	if err := p.conn.PublishMsg(msg); err != nil {
		p.logger.Error("Failed to publish notification", "subject", msg.Subject, "key", key, "error", err)
		return fmt.Errorf("failed to publish notification to %s: %w", msg.Subject, err)
	}
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("failed to flush notification to %s: %w", msg.Subject, err)
	}

	p.logger.Debug("Published notification", "subject", msg.Subject, "key", key)
	return nil
}

func (p *NATSPublisher) Close() error {
	p.logger.Info("Draining NATS connection")
	return p.conn.Drain()
}
