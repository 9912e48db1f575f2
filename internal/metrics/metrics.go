// Package metrics exposes Prometheus instrumentation for the lifecycle
// engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	OrdersPlaced    *prometheus.CounterVec
	OrdersFailed    *prometheus.CounterVec
	AlertsProcessed *prometheus.CounterVec
	EventsIngested  prometheus.Counter
	SyncRuns        *prometheus.CounterVec
	SyncFailures    *prometheus.CounterVec
	OpenTrades      prometheus.Gauge
	StreamConnected prometheus.Gauge
}

// New registers the engine collectors on a registry.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		OrdersPlaced: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "buybot_orders_placed_total",
			Help: "Orders successfully placed, by venue and type.",
		}, []string{"platform", "type"}),
		OrdersFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "buybot_orders_failed_total",
			Help: "Order placements rejected or failed, by failure reason.",
		}, []string{"platform", "reason"}),
		AlertsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "buybot_alerts_processed_total",
			Help: "Follow-up alerts processed, by action and outcome.",
		}, []string{"action", "outcome"}),
		EventsIngested: factory.NewCounter(prometheus.CounterOpts{
			Name: "buybot_user_data_events_total",
			Help: "User-data stream events applied to trade rows.",
		}),
		SyncRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "buybot_sync_runs_total",
			Help: "Periodic synchronizer loop runs, by loop.",
		}, []string{"loop"}),
		SyncFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "buybot_sync_failures_total",
			Help: "Periodic synchronizer loop failures, by loop.",
		}, []string{"loop"}),
		OpenTrades: factory.NewGauge(prometheus.GaugeOpts{
			Name: "buybot_open_trades",
			Help: "Trades currently holding live exposure.",
		}),
		StreamConnected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "buybot_user_stream_connected",
			Help: "1 while the user-data stream is connected.",
		}),
	}
}
