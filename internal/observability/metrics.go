package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the market backend.
type Metrics struct {
	// --- Ledger operations ---
	OpsTotal   *prometheus.CounterVec // labels: op (query|buy|sell), outcome (ok|rejected|error)
	OpDuration *prometheus.HistogramVec

	// --- Price oracle ---
	PricesGenerated prometheus.Counter

	// --- Expiry reaper ---
	BatchesReaped prometheus.Counter
	UnitsRotted   prometheus.Counter
	PricesReaped  prometheus.Counter
	ReaperErrors  prometheus.Counter

	// --- Rot notifications ---
	RotNoticesPublished prometheus.Counter
	RotNoticeFailures   prometheus.Counter
}

// NewMetrics registers all metrics against the given registerer.
// Tests pass a fresh prometheus.NewRegistry to avoid global state.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		OpsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kabu_ledger_operations_total",
			Help: "Ledger operations by type and outcome.",
		}, []string{"op", "outcome"}),
		OpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kabu_ledger_operation_duration_seconds",
			Help:    "Ledger operation latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),

		PricesGenerated: factory.NewCounter(prometheus.CounterOpts{
			Name: "kabu_prices_generated_total",
			Help: "Daily prices generated on first query of the day.",
		}),

		BatchesReaped: factory.NewCounter(prometheus.CounterOpts{
			Name: "kabu_batches_reaped_total",
			Help: "Stock batches deleted after rotting.",
		}),
		UnitsRotted: factory.NewCounter(prometheus.CounterOpts{
			Name: "kabu_units_rotted_total",
			Help: "Turnip units lost to expiry.",
		}),
		PricesReaped: factory.NewCounter(prometheus.CounterOpts{
			Name: "kabu_prices_reaped_total",
			Help: "Daily price rows deleted at end of day.",
		}),
		ReaperErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "kabu_reaper_errors_total",
			Help: "Reaper sweeps that failed.",
		}),

		RotNoticesPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "kabu_rot_notices_published_total",
			Help: "Rot notifications published to NATS.",
		}),
		RotNoticeFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "kabu_rot_notice_failures_total",
			Help: "Rot notifications that failed to publish.",
		}),
	}
}
