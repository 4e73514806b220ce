// Package metrics holds the Prometheus collectors shared by the API gateway and the escrow worker.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Resolution outcomes
const (
	OutcomeWon  = "won"
	OutcomeLost = "lost"
)

// Sweep run results
const (
	SweepResultOK      = "ok"
	SweepResultPartial = "partial"
	SweepResultSkipped = "skipped"
)

type Metrics struct {
	HTTPRequests *prometheus.CounterVec
	HTTPLatency  *prometheus.HistogramVec

	TransfersCreated     prometheus.Counter
	Resolutions          *prometheus.CounterVec
	ReconciliationAlerts prometheus.Counter
	NotificationsFailed  *prometheus.CounterVec
	RateLimited          prometheus.Counter

	SweepRuns     *prometheus.CounterVec
	SweepExpired  prometheus.Counter
	SweepDuration prometheus.Histogram

	MirrorPublished prometheus.Counter
	MirrorFailed    prometheus.Counter
}

// New registers every collector with reg. Pass prometheus.DefaultRegisterer in
// binaries and a fresh prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_http_requests_total",
			Help: "Total HTTP requests processed, labeled by status code",
		}, []string{"method", "route", "status"}),
		HTTPLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "escrow_http_request_duration_seconds",
			Help:    "Latency distribution of HTTP requests",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"method", "route"}),

		TransfersCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "escrow_transfers_created_total",
			Help: "Transfers whose debit and hold were committed",
		}),
		Resolutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_resolutions_total",
			Help: "Resolution attempts by target status and CAS outcome",
		}, []string{"status", "outcome"}),
		ReconciliationAlerts: factory.NewCounter(prometheus.CounterOpts{
			Name: "escrow_reconciliation_alerts_total",
			Help: "Commits whose outcome could not be confirmed",
		}),
		NotificationsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_notifications_failed_total",
			Help: "Notification events that could not be published",
		}, []string{"event"}),
		RateLimited: factory.NewCounter(prometheus.CounterOpts{
			Name: "escrow_rate_limited_total",
			Help: "Requests rejected by the per-account rate limiter",
		}),

		SweepRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_sweep_runs_total",
			Help: "Expiry sweep passes by result",
		}, []string{"result"}),
		SweepExpired: factory.NewCounter(prometheus.CounterOpts{
			Name: "escrow_sweep_expired_total",
			Help: "Holds expired and refunded by the sweeper",
		}),
		SweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "escrow_sweep_duration_seconds",
			Help:    "Wall time of one sweep pass",
			Buckets: prometheus.DefBuckets,
		}),

		MirrorPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "escrow_ledger_mirror_published_total",
			Help: "Ledger entries written to the history store",
		}),
		MirrorFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "escrow_ledger_mirror_failed_total",
			Help: "Ledger entries that exhausted their mirror attempts",
		}),
	}
}

// ObserveResolution counts one CAS attempt
func (m *Metrics) ObserveResolution(status string, won bool) {
	outcome := OutcomeLost
	if won {
		outcome = OutcomeWon
	}
	m.Resolutions.WithLabelValues(status, outcome).Inc()
}
