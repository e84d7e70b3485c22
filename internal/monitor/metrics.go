// Package monitor exposes Prometheus metrics for the order engine.
package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the engine and reconciler report to.
type Metrics struct {
	OrdersSubmitted  *prometheus.CounterVec
	OrdersRejected   *prometheus.CounterVec
	StopAdjustments  prometheus.Counter
	PositionsAdopted prometheus.Counter
	PositionsReaped  prometheus.Counter
	OpenPositions    prometheus.Gauge
	LimiterWait      prometheus.Histogram
	ReconcileRuns    prometheus.Counter
}

// New registers the engine collectors on a fresh registry and returns them
// together with the /metrics handler.
func New() (*Metrics, http.Handler) {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		OrdersSubmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "broker_orders_submitted_total",
			Help: "Orders accepted by the backend, by side and kind.",
		}, []string{"side", "kind"}),
		OrdersRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "broker_orders_rejected_total",
			Help: "Orders the backend rejected, by reason class.",
		}, []string{"reason"}),
		StopAdjustments: factory.NewCounter(prometheus.CounterOpts{
			Name: "broker_stop_adjustments_total",
			Help: "Trailing stop moves placed on the backend.",
		}),
		PositionsAdopted: factory.NewCounter(prometheus.CounterOpts{
			Name: "broker_positions_adopted_total",
			Help: "Backend positions adopted into the ledger by reconciliation.",
		}),
		PositionsReaped: factory.NewCounter(prometheus.CounterOpts{
			Name: "broker_positions_reaped_total",
			Help: "Ledger positions dropped because the backend no longer has them.",
		}),
		OpenPositions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "broker_open_positions",
			Help: "Positions currently tracked in the ledger.",
		}),
		LimiterWait: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "broker_limiter_wait_seconds",
			Help:    "Time spent waiting on the rate limiter per backend call.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		ReconcileRuns: factory.NewCounter(prometheus.CounterOpts{
			Name: "broker_reconcile_runs_total",
			Help: "Completed reconciliation passes.",
		}),
	}
	return m, promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
