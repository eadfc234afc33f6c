// Package telemetry exposes the Prometheus metrics surface for the
// generator and executor processes, registered in init() and served at
// /metrics exactly as the teacher's metrics.go/main.go do.
package telemetry

import "github.com/prometheus/client_golang/prometheus"

var (
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meanrev_ticks_total",
			Help: "Ticks processed per symbol.",
		},
		[]string{"symbol"},
	)

	TicksDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meanrev_ticks_dropped_total",
			Help: "Ticks dropped per symbol, by reason (stale|bad_input).",
		},
		[]string{"symbol", "reason"},
	)

	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meanrev_decisions_total",
			Help: "Intents emitted per symbol and action.",
		},
		[]string{"symbol", "action"},
	)

	DedupedIntentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meanrev_deduped_intents_total",
			Help: "Intents collapsed by the dedupe window before publish.",
		},
		[]string{"symbol"},
	)

	BusLagSeconds = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "meanrev_bus_lag_seconds",
			Help: "Age of the oldest unacked entry in a consumer group's pending list.",
		},
		[]string{"stream", "group"},
	)

	FillsAppliedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meanrev_fills_applied_total",
			Help: "Fills applied to a position book, by action and status.",
		},
		[]string{"symbol", "action", "status"},
	)

	QuarantinedFillsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meanrev_quarantined_fills_total",
			Help: "Fills that could not be applied without violating a book invariant.",
		},
		[]string{"symbol", "reason"},
	)

	IntentTimeoutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meanrev_intent_timeouts_total",
			Help: "Pending intents that expired without a matching fill.",
		},
		[]string{"symbol"},
	)

	OpenLots = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "meanrev_open_lots",
			Help: "Number of open lots currently held per symbol.",
		},
		[]string{"symbol"},
	)
)

func init() {
	prometheus.MustRegister(
		TicksTotal,
		TicksDroppedTotal,
		DecisionsTotal,
		DedupedIntentsTotal,
		BusLagSeconds,
		FillsAppliedTotal,
		QuarantinedFillsTotal,
		IntentTimeoutsTotal,
		OpenLots,
	)
}
