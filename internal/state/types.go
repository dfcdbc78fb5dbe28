package state

import (
	"time"

	"github.com/eddiefleurent/orderblock-reconciler/internal/exchange"
)

// PlanSnapshot is the frozen Trade Plan a Pending Order was created from,
// kept around so the reconciliation engine can derive desired SL/TP without
// re-running the planner.
type PlanSnapshot struct {
	Symbol     string        `json:"symbol"`
	Side       exchange.Side `json:"side"`
	Entry      float64       `json:"entry"`
	StopLoss   float64       `json:"stop_loss"`
	TakeProfit float64       `json:"take_profit"`
	Quantity   float64       `json:"quantity"`
}

// ReduceOnlyLegs holds the exchange order IDs of a position's protective
// orders once placed.
type ReduceOnlyLegs struct {
	SL string `json:"sl,omitempty"`
	TP string `json:"tp,omitempty"`
}

// PendingOrder mirrors a limit entry the worker has submitted but which has
// not yet been filled, canceled, or expired. At most one exists per
// (normalized) symbol.
type PendingOrder struct {
	Symbol            string         `json:"symbol"`
	ExchangeOrderID   string         `json:"exchange_order_id"`
	ClientOrderID     string         `json:"client_order_id,omitempty"`
	Params            PlanSnapshot   `json:"params"`
	CreatedAt         time.Time      `json:"created_at"`
	ExchangeOrders    ReduceOnlyLegs `json:"exchange_orders"`
	LastTPSLPlacement time.Time      `json:"last_tp_sl_placement,omitempty"`
	PartialFill       bool           `json:"partial_fill,omitempty"`
	FilledAmount      float64        `json:"filled_amount,omitempty"`
}

// Age reports how long ago the order was created.
func (p PendingOrder) Age(now time.Time) time.Duration {
	return now.Sub(p.CreatedAt)
}

// Position is the store's cached mirror of an exchange position, enriched
// with the TP/SL targets the reconciliation engine computed for it (from the
// pending order's plan, or the fallback band). These are not read back from
// the reduce-only orders live on the exchange.
type Position struct {
	Symbol         string                `json:"symbol"`
	Side           exchange.PositionSide `json:"side"`
	Size           float64               `json:"size"`
	EntryPrice     float64               `json:"entry_price"`
	MarkPrice      float64               `json:"mark_price"`
	UnrealizedPnL  float64               `json:"unrealized_pnl"`
	Leverage       float64               `json:"leverage"`
	EntryTime      time.Time             `json:"entry_time"`
	TakeProfit     float64               `json:"take_profit"`
	StopLoss       float64               `json:"stop_loss"`
}

// TradeStatus is the lifecycle state of a Trade history row.
type TradeStatus string

// Recognized trade statuses.
const (
	TradeOpen   TradeStatus = "OPEN"
	TradeClosed TradeStatus = "CLOSED"
)

// Trade is one row of closed (or still-open) trade history, persisted and
// displayed head-first (most recent first).
type Trade struct {
	Symbol     string                `json:"symbol"`
	Side       exchange.PositionSide `json:"side"`
	EntryPrice float64               `json:"entry_price"`
	ExitPrice  float64               `json:"exit_price,omitempty"`
	Size       float64               `json:"size"`
	PnL        float64               `json:"pnl"`
	Status     TradeStatus           `json:"status"`
	TakeProfit float64               `json:"take_profit,omitempty"`
	StopLoss   float64               `json:"stop_loss,omitempty"`
	EntryTime  time.Time             `json:"entry_time"`
	ExitTime   time.Time             `json:"exit_time,omitempty"`
	Timestamp  time.Time             `json:"timestamp"`
}

// PnL computes the realized profit for a closed trade given an exit price,
// per spec.md §3's per-side formula.
func PnL(side exchange.PositionSide, entry, exit, size float64) float64 {
	if side == exchange.PositionShort {
		return (entry - exit) * size
	}
	return (exit - entry) * size
}

// ReconciliationLogEntry is one line of the bounded, non-persisted
// reconciliation audit trail surfaced over the HTTP API.
type ReconciliationLogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Details   string    `json:"details"`
}

// BalancePoint is one sample of the persisted balance timeline.
type BalancePoint struct {
	Timestamp time.Time `json:"timestamp"`
	Total     float64   `json:"total"`
	Free      float64   `json:"free"`
	Used      float64   `json:"used"`
	TotalPnL  float64   `json:"total_pnl"`
}

// Metrics is the full set of counters/gauges the reconciliation core
// reports, mirrored to Prometheus by internal/metrics and served raw over
// the HTTP read API.
type Metrics struct {
	PendingOrdersCount        int64 `json:"pending_orders_count"`
	OpenExchangeOrdersCount   int64 `json:"open_exchange_orders_count"`
	PlacedOrdersCount         int64 `json:"placed_orders_count"`
	CancelledOrdersCount      int64 `json:"cancelled_orders_count"`
	FilledOrdersCount         int64 `json:"filled_orders_count"`
	ReconciliationRunsCount   int64 `json:"reconciliation_runs_count"`
	ReconciliationSkippedCount int64 `json:"reconciliation_skipped_count"`
	DuplicatePlacementAttempts int64 `json:"duplicate_placement_attempts"`
	OrderCreateRetriesTotal   int64 `json:"order_create_retries_total"`
	PendingOrderStaleCount    int64 `json:"pending_order_stale_count"`
}

const (
	maxReconciliationLogEntries = 50
	maxBalanceTimelinePoints    = 5000
)
