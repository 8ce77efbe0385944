// Package metrics registers the prometheus collectors shared across
// components. There is no HTTP exposition endpoint here — the dashboard and
// its scrape surface are out of scope for this module (spec §1) — but the
// collectors are real and incremented on the hot paths, so any embedder that
// does want a /metrics handler only needs to call Registry().
package metrics

import "github.com/prometheus/client_golang/prometheus"

// registry is private so this package never races with an embedder's own
// default registry.
var registry = prometheus.NewRegistry()

// Registry returns the registry every collector in this package is
// registered against.
func Registry() *prometheus.Registry { return registry }

var (
	// BusDropped counts events dropped by the bus for a full subscriber
	// buffer, labelled by event type.
	BusDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tradecore",
		Subsystem: "bus",
		Name:      "dropped_events_total",
		Help:      "Events dropped because a subscriber's buffer was full.",
	}, []string{"event_type"})

	// BreakerState reports the current state of a named circuit breaker:
	// 0 = closed, 1 = half-open, 2 = open.
	BreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "tradecore",
		Subsystem: "breaker",
		Name:      "state",
		Help:      "Circuit breaker state (0=closed, 1=half_open, 2=open).",
	}, []string{"name"})

	// ExecutionFills counts fills processed by the execution engine.
	ExecutionFills = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tradecore",
		Subsystem: "execution",
		Name:      "fills_total",
		Help:      "Total number of order fills processed.",
	})

	// ExecutionRejections counts orders rejected at the execution engine's
	// defence-in-depth risk check.
	ExecutionRejections = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tradecore",
		Subsystem: "execution",
		Name:      "rejections_total",
		Help:      "Total number of orders rejected by the execution engine.",
	})

	// ExecutionVolume accumulates dollar notional filled.
	ExecutionVolume = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tradecore",
		Subsystem: "execution",
		Name:      "volume_dollars_total",
		Help:      "Cumulative dollar notional of filled orders.",
	})

	// PendingOrders reports the current size of the execution engine's
	// pending-order map.
	PendingOrders = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tradecore",
		Subsystem: "execution",
		Name:      "pending_orders",
		Help:      "Current number of orders awaiting a fill.",
	})
)

func init() {
	registry.MustRegister(
		BusDropped,
		BreakerState,
		ExecutionFills,
		ExecutionRejections,
		ExecutionVolume,
		PendingOrders,
	)
}
