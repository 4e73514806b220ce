// Package notifier publishes transfer notifications without ever blocking or failing
// the financial operation that triggered them.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/escrow-invite-ledger/internal/platform/messaging/producers"
	"github.com/escrow-invite-ledger/internal/platform/metrics"
	"github.com/panjf2000/ants/v2"
)

// Dispatcher hands events to a bounded ants pool. When the pool is saturated the
// event is dropped and counted rather than queued behind the caller.
type Dispatcher struct {
	publisher producers.MessagePublisher
	pool      *ants.Pool
	timeout   time.Duration
	metrics   *metrics.Metrics
	logger    *slog.Logger
	inflight  sync.WaitGroup
}

func NewDispatcher(publisher producers.MessagePublisher, poolSize int, timeout time.Duration, m *metrics.Metrics, logger *slog.Logger) (*Dispatcher, error) {
	pool, err := ants.NewPool(poolSize, ants.WithNonblocking(true))
	if err != nil {
		return nil, fmt.Errorf("failed to create notification pool: %w", err)
	}

	return &Dispatcher{
		publisher: publisher,
		pool:      pool,
		timeout:   timeout,
		metrics:   m,
		logger:    logger,
	}, nil
}

// Notify schedules event for publishing. It never returns an error; the request
// context only contributes its values, not its cancellation.
func (d *Dispatcher) Notify(ctx context.Context, event Event) {
	logger := d.logger.With("event", string(event.Type), "hold_id", event.HoldID.String())
	publishCtx := context.WithoutCancel(ctx)

	d.inflight.Add(1)
	err := d.pool.Submit(func() {
		defer d.inflight.Done()

		ctx, cancel := context.WithTimeout(publishCtx, d.timeout)
		defer cancel()

		if err := d.publisher.Publish(ctx, event.HoldID.String(), event); err != nil {
			d.metrics.NotificationsFailed.WithLabelValues(string(event.Type)).Inc()
			logger.Warn("Failed to publish notification", "error", err)
			return
		}
		logger.Debug("Notification published")
	})
	if err != nil {
		d.inflight.Done()
		d.metrics.NotificationsFailed.WithLabelValues(string(event.Type)).Inc()
		if errors.Is(err, ants.ErrPoolOverload) {
			logger.Warn("Notification dropped, dispatcher saturated")
			return
		}
		logger.Error("Failed to schedule notification", "error", err)
	}
}

// Close waits up to timeout for in-flight publishes, then releases the pool and the publisher
func (d *Dispatcher) Close(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		d.logger.Warn("Timed out waiting for in-flight notifications", "running", d.pool.Running())
	}

	d.pool.Release()
	return d.publisher.Close()
}
