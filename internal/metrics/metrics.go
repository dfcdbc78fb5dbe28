// Package metrics exposes the reconciliation core's counters and gauges as
// Prometheus collectors, served at /metrics by internal/api alongside the
// JSON read endpoints.
package metrics

import (
	"github.com/eddiefleurent/orderblock-reconciler/internal/state"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	pendingOrdersCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "reconciler_pending_orders_count",
			Help: "Pending entry orders currently tracked in the state store.",
		},
	)

	openExchangeOrdersCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "reconciler_open_exchange_orders_count",
			Help: "Open orders reported by the exchange across all tracked symbols.",
		},
	)

	placedOrdersTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reconciler_placed_orders_total",
			Help: "Orders placed: entries, replacement TP/SL pairs, and market closes.",
		},
	)

	cancelledOrdersTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reconciler_cancelled_orders_total",
			Help: "Orders cancelled: orphaned entry orders and replaced or force-closed TP/SL legs.",
		},
	)

	filledOrdersTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reconciler_filled_orders_total",
			Help: "Entry orders observed filled.",
		},
	)

	reconciliationRunsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reconciler_reconciliation_runs_total",
			Help: "Position reconciliation passes executed.",
		},
	)

	reconciliationSkippedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reconciler_reconciliation_skipped_total",
			Help: "Position reconciliation passes skipped because the reconciliation lock was held.",
		},
	)

	duplicatePlacementAttemptsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reconciler_duplicate_placement_attempts_total",
			Help: "Existing TP/SL legs found already matching their target during reconciliation.",
		},
	)

	orderCreateRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reconciler_order_create_retries_total",
			Help: "Order-create retries recorded in the state store; no order-placement path in this module retries or increments it.",
		},
	)

	pendingOrderStaleTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reconciler_pending_order_stale_total",
			Help: "Pending orders cancelled for exceeding the stale-age threshold.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		pendingOrdersCount,
		openExchangeOrdersCount,
		placedOrdersTotal,
		cancelledOrdersTotal,
		filledOrdersTotal,
		reconciliationRunsTotal,
		reconciliationSkippedTotal,
		duplicatePlacementAttemptsTotal,
		orderCreateRetriesTotal,
		pendingOrderStaleTotal,
	)
}

// Refresh sets the two live gauges and advances every counter to match a
// fresh state.Metrics snapshot. Counters only move forward: Refresh tracks
// the last-seen totals and adds the delta, so it is safe to call on every
// API request without double-counting across calls.
type Refresher struct {
	last state.Metrics
}

// NewRefresher returns a Refresher with a zeroed baseline, so the first
// Refresh call after startup adds the snapshot's full counts.
func NewRefresher() *Refresher {
	return &Refresher{}
}

// Refresh pulls a snapshot from store and updates every collector.
func (r *Refresher) Refresh(store *state.Store) {
	m := store.Metrics()

	pendingOrdersCount.Set(float64(m.PendingOrdersCount))
	openExchangeOrdersCount.Set(float64(m.OpenExchangeOrdersCount))

	placedOrdersTotal.Add(delta(r.last.PlacedOrdersCount, m.PlacedOrdersCount))
	cancelledOrdersTotal.Add(delta(r.last.CancelledOrdersCount, m.CancelledOrdersCount))
	filledOrdersTotal.Add(delta(r.last.FilledOrdersCount, m.FilledOrdersCount))
	reconciliationRunsTotal.Add(delta(r.last.ReconciliationRunsCount, m.ReconciliationRunsCount))
	reconciliationSkippedTotal.Add(delta(r.last.ReconciliationSkippedCount, m.ReconciliationSkippedCount))
	duplicatePlacementAttemptsTotal.Add(delta(r.last.DuplicatePlacementAttempts, m.DuplicatePlacementAttempts))
	orderCreateRetriesTotal.Add(delta(r.last.OrderCreateRetriesTotal, m.OrderCreateRetriesTotal))
	pendingOrderStaleTotal.Add(delta(r.last.PendingOrderStaleCount, m.PendingOrderStaleCount))

	r.last = m
}

// delta returns next-prev, floored at zero: a persisted counter can only
// reset to zero across a restart, in which case we re-baseline at 0 instead
// of reporting a negative Add to the underlying prometheus.Counter (which
// panics).
func delta(prev, next int64) float64 {
	if next <= prev {
		return 0
	}
	return float64(next - prev)
}
