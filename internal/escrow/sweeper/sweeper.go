// Package sweeper expires overdue holds in the background. Each pass scans the
// hold store for resolvable holds past their deadline and hands every one to the
// engine's Expire on a bounded worker pool. Losing a race to an accept or decline
// is expected and only logged at debug level.
package sweeper

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/escrow-invite-ledger/internal/config"
	"github.com/escrow-invite-ledger/internal/domain/hold"
	"github.com/escrow-invite-ledger/internal/escrow/service"
	"github.com/escrow-invite-ledger/internal/platform/metrics"
	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
)

// ExpiredFinder is the slice of hold.Repository the sweeper scans
type ExpiredFinder interface {
	FindResolvableExpired(ctx context.Context, now time.Time, batchSize int) iter.Seq2[*hold.Hold, error]
}

// Expirer resolves one hold as expired. *service.Engine implements it.
type Expirer interface {
	Expire(ctx context.Context, holdID uuid.UUID) error
}

// Locker keeps replicas from sweeping at the same time. It is optional: the
// hold CAS already makes overlapping sweeps safe, the lease only saves work.
type Locker interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// Report summarizes one sweep pass
type Report struct {
	Scanned    int
	Expired    int
	Superseded int
	Failed     int
	Skipped    bool
}

type Sweeper struct {
	finder    ExpiredFinder
	expirer   Expirer
	locker    Locker
	pool      *ants.Pool
	metrics   *metrics.Metrics
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

// New builds a sweeper. locker may be nil.
func New(
	cfg *config.SweeperConfig,
	finder ExpiredFinder,
	expirer Expirer,
	locker Locker,
	m *metrics.Metrics,
	logger *slog.Logger,
) (*Sweeper, error) {
	pool, err := ants.NewPool(cfg.Concurrency)
	if err != nil {
		return nil, err
	}

	return &Sweeper{
		finder:    finder,
		expirer:   expirer,
		locker:    locker,
		pool:      pool,
		metrics:   m,
		logger:    logger.With("component", "sweeper"),
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// Start sweeps once immediately and then on every tick until ctx is canceled.
// A pass in progress when ctx is canceled stops scanning but lets the holds it
// already dispatched finish.
func (s *Sweeper) Start(ctx context.Context) {
	s.logger.Info("Starting expiry sweeper",
		"interval", s.interval.String(),
		"batch_size", s.batchSize,
		"concurrency", s.pool.Cap(),
	)

	s.SweepOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Expiry sweeper stopping due to context cancellation")
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single pass and blocks until every dispatched hold is handled
func (s *Sweeper) SweepOnce(ctx context.Context) Report {
	start := time.Now()
	var report Report

	if s.locker != nil {
		held, err := s.locker.Acquire(ctx)
		if err != nil {
			s.logger.Warn("Sweep lease unavailable, sweeping without it", "error", err)
		} else if !held {
			s.logger.Debug("Another replica holds the sweep lease, skipping pass")
			s.metrics.SweepRuns.WithLabelValues(metrics.SweepResultSkipped).Inc()
			report.Skipped = true
			return report
		} else {
			defer func() {
				if err := s.locker.Release(context.WithoutCancel(ctx)); err != nil {
					s.logger.Warn("Failed to release sweep lease", "error", err)
				}
			}()
		}
	}

	// Dispatched holds run to completion even if ctx is canceled mid-pass.
	workCtx := context.WithoutCancel(ctx)

	var (
		wg         sync.WaitGroup
		expired    atomic.Int64
		superseded atomic.Int64
		failed     atomic.Int64
	)

	for h, err := range s.finder.FindResolvableExpired(ctx, s.now(), s.batchSize) {
		if err != nil {
			s.logger.Error("Failed to scan for expired holds", "error", err)
			failed.Add(1)
			break
		}
		if ctx.Err() != nil {
			break
		}

		report.Scanned++
		holdID := h.ID
		wg.Add(1)
		submitErr := s.pool.Submit(func() {
			defer wg.Done()
			switch s.expireOne(workCtx, holdID) {
			case outcomeExpired:
				expired.Add(1)
			case outcomeSuperseded:
				superseded.Add(1)
			default:
				failed.Add(1)
			}
		})
		if submitErr != nil {
			wg.Done()
			failed.Add(1)
			s.logger.Error("Failed to dispatch hold to sweep pool", "hold_id", holdID.String(), "error", submitErr)
		}
	}
	wg.Wait()

	report.Expired = int(expired.Load())
	report.Superseded = int(superseded.Load())
	report.Failed = int(failed.Load())

	result := metrics.SweepResultOK
	if report.Failed > 0 {
		result = metrics.SweepResultPartial
	}
	s.metrics.SweepRuns.WithLabelValues(result).Inc()
	s.metrics.SweepExpired.Add(float64(report.Expired))
	s.metrics.SweepDuration.Observe(time.Since(start).Seconds())

	if report.Scanned > 0 || report.Failed > 0 {
		s.logger.Info("Sweep pass finished",
			"scanned", report.Scanned,
			"expired", report.Expired,
			"superseded", report.Superseded,
			"failed", report.Failed,
			"duration", time.Since(start).String(),
		)
	}
	return report
}

type outcome int

const (
	outcomeExpired outcome = iota
	outcomeSuperseded
	outcomeFailed
)

func (s *Sweeper) expireOne(ctx context.Context, holdID uuid.UUID) outcome {
	err := s.expirer.Expire(ctx, holdID)
	switch {
	case err == nil:
		return outcomeExpired
	case errors.Is(err, service.ErrAlreadyResolved{}), errors.Is(err, service.ErrNotExpired):
		s.logger.Debug("Hold resolved before sweep reached it", "hold_id", holdID.String(), "reason", err.Error())
		return outcomeSuperseded
	default:
		s.logger.Error("Failed to expire hold", "hold_id", holdID.String(), "error", err)
		return outcomeFailed
	}
}

// Close releases the worker pool. Call it after Start has returned.
func (s *Sweeper) Close() {
	s.pool.Release()
}
