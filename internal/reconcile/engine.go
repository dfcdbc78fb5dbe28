// Package reconcile implements the Reconciliation Engine: the set of
// idempotent passes that bring the State Store and the live exchange back
// into agreement after a restart or a missed cycle. Every pass is safe to
// re-run; none of them assume they run exactly once.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/eddiefleurent/orderblock-reconciler/internal/exchange"
	"github.com/eddiefleurent/orderblock-reconciler/internal/orderutil"
	"github.com/eddiefleurent/orderblock-reconciler/internal/signal"
	"github.com/eddiefleurent/orderblock-reconciler/internal/state"
	"github.com/sirupsen/logrus"
)

// Config carries the tunables the engine needs beyond the port and store,
// all sourced from the worker's configuration.
type Config struct {
	Timeframe          string
	CandleLimit        int
	PivotLookback      int
	RRRatio            float64
	FallbackRiskPct    float64 // used to derive SL/TP when no plan snapshot exists
	StaleAfter         time.Duration
	TPSLBackoffSeconds int
	TPSLFallbackMode   orderutil.FallbackMode
	PlacementCooldown  time.Duration
}

// DefaultConfig mirrors the documented defaults: 30m candles, RR 2.0, a 1%
// fallback risk band, a 30-minute stale-pending threshold (within the
// 900-3600s documented range), a 60s TP/SL backoff, and a 30s placement
// cooldown.
var DefaultConfig = Config{
	Timeframe:          "30m",
	CandleLimit:        200,
	PivotLookback:      5,
	RRRatio:            2.0,
	FallbackRiskPct:    1.0,
	StaleAfter:         30 * time.Minute,
	TPSLBackoffSeconds: 60,
	TPSLFallbackMode:   orderutil.FallbackMarketReduce,
	PlacementCooldown:  30 * time.Second,
}

// Engine holds the dependencies every reconciliation pass shares: the
// exchange port, the state store, a backoff table for safe_place_tp_sl, and
// the logger, matching the teacher's Reconciler's broker+storage+logger
// shape.
type Engine struct {
	port    exchange.Port
	store   *state.Store
	backoff *orderutil.BackoffTable
	logger  *logrus.Logger
	cfg     Config
}

// New constructs an Engine.
func New(port exchange.Port, store *state.Store, logger *logrus.Logger, cfg Config) *Engine {
	if logger == nil {
		logger = logrus.New()
	}
	return &Engine{
		port:    port,
		store:   store,
		backoff: orderutil.NewBackoffTable(),
		logger:  logger,
		cfg:     cfg,
	}
}

// StartupReconcileOrders implements spec.md §4.5.1 for one symbol: classify
// every open order as matched (known pending ID, or a reduce-only/stop/TP
// leg), adopted (a bare limit sitting on a freshly re-derived order block
// edge), or orphaned (canceled). It then sweeps persisted pending orders not
// seen in this pass against their live status.
func (e *Engine) StartupReconcileOrders(ctx context.Context, symbol string) error {
	orders, err := e.port.GetOpenOrders(ctx, symbol)
	if err != nil {
		return fmt.Errorf("reconcile: fetch open orders for %s: %w", symbol, err)
	}

	pending, hasPending := e.store.GetPendingOrder(symbol)
	matchedPending := false

	var blocks []signal.OrderBlock
	blocksLoaded := false

	for _, o := range orders {
		if hasPending && o.OrderID == pending.ExchangeOrderID {
			matchedPending = true
			continue
		}
		if o.ReduceOnly || o.Type.IsStopType() || o.Type.IsTakeProfitType() {
			continue
		}

		// Bare limit entry with no known pending order: test it against a
		// freshly re-derived order block edge before deciding it's orphaned.
		if !blocksLoaded {
			blocks = e.detectBlocks(ctx, symbol)
			blocksLoaded = true
		}

		if e.matchesBlockEdge(o, blocks) {
			e.adoptOrder(symbol, o)
			matchedPending = true
			continue
		}

		if _, err := e.port.CancelOrder(ctx, symbol, o.OrderID); err != nil {
			e.logger.WithError(err).WithFields(logrus.Fields{"symbol": symbol, "order_id": o.OrderID}).
				Warn("reconcile: failed to cancel orphaned order")
			continue
		}
		_ = e.store.IncCancelledOrders()
		e.store.AppendReconciliationLog("orphan_order_canceled", fmt.Sprintf("%s order %s canceled: no matching block or pending order", symbol, o.OrderID))
	}

	if hasPending && !matchedPending {
		e.reconcileUnmatchedPending(ctx, symbol, pending)
	}

	return nil
}

func (e *Engine) detectBlocks(ctx context.Context, symbol string) []signal.OrderBlock {
	candles, err := e.port.FetchCandles(ctx, symbol, e.cfg.Timeframe, e.cfg.CandleLimit)
	if err != nil {
		e.logger.WithError(err).WithField("symbol", symbol).Warn("reconcile: failed to fetch candles for startup order matching")
		return nil
	}
	return signal.Detect(candles, e.cfg.PivotLookback)
}

// matchesBlockEdge reports whether o's price sits within 0.5% of a block's
// entry edge on the correct side: a buy order against a bullish block's top,
// a sell order against a bearish block's bottom.
func (e *Engine) matchesBlockEdge(o exchange.Order, blocks []signal.OrderBlock) bool {
	const edgeTolerancePct = 0.005
	for _, b := range blocks {
		switch {
		case o.Side == exchange.SideBuy && b.Kind == signal.Bullish:
			if orderutil.PricesAreEqual(o.Price, b.Top, 0, edgeTolerancePct) {
				return true
			}
		case o.Side == exchange.SideSell && b.Kind == signal.Bearish:
			if orderutil.PricesAreEqual(o.Price, b.Bottom, 0, edgeTolerancePct) {
				return true
			}
		}
	}
	return false
}

func (e *Engine) adoptOrder(symbol string, o exchange.Order) {
	po := state.PendingOrder{
		Symbol:          symbol,
		ExchangeOrderID: o.OrderID,
		Params: state.PlanSnapshot{
			Symbol:   symbol,
			Side:     o.Side,
			Entry:    o.Price,
			Quantity: o.Amount,
		},
		CreatedAt: time.Now().UTC(),
	}
	if err := e.store.UpsertPendingOrder(po); err != nil {
		e.logger.WithError(err).WithField("symbol", symbol).Error("reconcile: failed to adopt recovered order")
		return
	}
	e.store.AppendReconciliationLog("order_adopted", fmt.Sprintf("%s order %s adopted from exchange, matched open block edge", symbol, o.OrderID))
}

func (e *Engine) reconcileUnmatchedPending(ctx context.Context, symbol string, po state.PendingOrder) {
	order, err := e.port.GetOrderStatus(ctx, symbol, po.ExchangeOrderID)
	if err != nil {
		e.logger.WithError(err).WithField("symbol", symbol).Warn("reconcile: failed to query unmatched pending order status")
		return
	}

	status := exchange.OrderStatusNotFound
	if order != nil {
		status = order.Status
	}
	if !status.IsTerminal() {
		return
	}

	if err := e.store.RemovePendingOrder(symbol); err != nil {
		e.logger.WithError(err).WithField("symbol", symbol).Error("reconcile: failed to drop terminal pending order")
		return
	}
	if status == exchange.OrderStatusFilled {
		_ = e.store.IncFilledOrders()
	}
	e.store.AppendReconciliationLog("pending_order_resolved", fmt.Sprintf("%s pending order %s resolved terminal status=%s", symbol, po.ExchangeOrderID, status))
}

// ReconcileStalePending cancels and drops every pending order older than
// the configured stale threshold. Exported so the worker loop can run it
// every cycle, independent of the position-reconciliation interval gate in
// spec.md §4.6 step 1.
func (e *Engine) ReconcileStalePending(symbols []string) {
	e.reconcileStalePending(symbols)
}

// PlaceInitialTPSL places the protective leg pair for a freshly filled (or
// partially filled) entry, via the teacher-derived safe_place_tp_sl flow in
// internal/orderutil, sharing this engine's per-symbol backoff table so a
// rejected placement here also suppresses the next reconciliation pass's
// retry.
func (e *Engine) PlaceInitialTPSL(ctx context.Context, symbol string, isLong bool, amount, takeProfit, stopLoss float64) (*orderutil.SafePlaceResult, error) {
	return orderutil.SafePlaceTPSL(ctx, e.port, e.backoff, symbol, isLong, amount, takeProfit, stopLoss, e.cfg.TPSLFallbackMode, e.cfg.TPSLBackoffSeconds)
}

// fallbackSLTP derives a 1%/RR-ratio stop-loss and take-profit around entry
// when no plan snapshot is available, per spec.md §4.5.2 step 2. side is the
// order side that closes the position: SideSell for a long, SideBuy for a
// short.
func fallbackSLTP(side exchange.Side, entry, riskPct, rrRatio float64) (stopLoss, takeProfit float64) {
	risk := entry * (riskPct / 100.0)
	if side == exchange.SideBuy {
		return entry + risk, entry - risk*rrRatio
	}
	return entry - risk, entry + risk*rrRatio
}
