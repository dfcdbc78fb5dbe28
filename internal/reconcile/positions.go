package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/eddiefleurent/orderblock-reconciler/internal/exchange"
	"github.com/eddiefleurent/orderblock-reconciler/internal/orderutil"
	"github.com/eddiefleurent/orderblock-reconciler/internal/state"
)

// ReconcilePositions implements spec.md §4.5.2 and §4.5.3 across every
// symbol with a non-zero exchange position. It is guarded by the store's
// non-blocking reconciliation mutex: an overlapping call increments
// reconciliation_skipped_count and returns immediately.
func (e *Engine) ReconcilePositions(ctx context.Context, symbols []string) error {
	unlock, ok := e.store.TryLockReconcile()
	if !ok {
		_ = e.store.IncReconciliationSkipped()
		e.logger.Debug("reconcile: skipped, a reconciliation cycle is already running")
		return nil
	}
	defer unlock()

	_ = e.store.IncReconciliationRuns()

	positions, err := e.port.GetAllPositions(ctx)
	if err != nil {
		return fmt.Errorf("reconcile: fetch all positions: %w", err)
	}

	seen := make(map[string]bool, len(positions))
	for _, p := range positions {
		if p.Size == 0 {
			continue
		}
		symbol := state.NormalizeSymbol(p.Symbol)
		seen[symbol] = true
		e.reconcileOnePosition(ctx, symbol, p)
	}

	e.reconcileClosedPositions(seen)
	e.reconcileStalePending(symbols)

	return nil
}

func (e *Engine) reconcileOnePosition(ctx context.Context, symbol string, p exchange.Position) {
	isLong := p.Side == exchange.PositionLong

	mirror := state.Position{
		Symbol:        symbol,
		Side:          p.Side,
		Size:          p.Size,
		EntryPrice:    p.EntryPrice,
		MarkPrice:     p.MarkPrice,
		UnrealizedPnL: p.UnrealizedPnL,
		Leverage:      p.Leverage,
	}

	pending, hasPending := e.store.GetPendingOrder(symbol)

	var targetSL, targetTP float64
	switch {
	case hasPending && hasSymbolMatch(pending, symbol):
		targetSL, targetTP = pending.Params.StopLoss, pending.Params.TakeProfit
	default:
		side := exchange.SideSell
		if !isLong {
			side = exchange.SideBuy
		}
		targetSL, targetTP = fallbackSLTP(side, p.EntryPrice, e.cfg.FallbackRiskPct, e.cfg.RRRatio)
	}
	mirror.StopLoss = targetSL
	mirror.TakeProfit = targetTP
	e.store.UpsertPosition(mirror)

	e.ensureTPSL(ctx, symbol, isLong, p.Size, targetSL, targetTP, pending, hasPending)
}

func hasSymbolMatch(po state.PendingOrder, symbol string) bool {
	return po.Params.StopLoss != 0 || po.Params.TakeProfit != 0
}

// ensureTPSL implements spec.md §4.5.2 steps 3-6: classify live reduce-only
// orders, reuse any that already match the target, cancel and re-place
// mismatches, and defer entirely if a cooldown window is still running.
func (e *Engine) ensureTPSL(ctx context.Context, symbol string, isLong bool, size, targetSL, targetTP float64, pending state.PendingOrder, hasPending bool) {
	tick := e.tickSize(ctx, symbol)

	live, err := e.port.GetOpenOrders(ctx, symbol)
	if err != nil {
		e.logger.WithError(err).WithField("symbol", symbol).Warn("reconcile: failed to fetch open orders for TP/SL reconciliation")
		return
	}
	cached := e.store.GetOpenOrdersCache(symbol)
	e.store.SetOpenOrdersCache(symbol, live)

	combined := append(append([]exchange.Order{}, live...), cached...)
	slOrders, tpOrders := orderutil.ClassifyReduceOnlyOrders(combined)

	slMatch := orderutil.SelectRepresentative(slOrders, targetSL, size, tick)
	tpMatch := orderutil.SelectRepresentative(tpOrders, targetTP, size, tick)

	slOK := slMatch != nil && orderutil.OrderMatchesTarget(*slMatch, targetSL, size, tick)
	tpOK := tpMatch != nil && orderutil.OrderMatchesTarget(*tpMatch, targetTP, size, tick)

	// One duplicate_placement_attempts increment per matching leg, per
	// spec.md §8 scenario S3. When both legs match they are reused as-is;
	// when either leg mismatches, both live legs are canceled below
	// (including a matching one) and the pair is re-placed.
	if slOK {
		_ = e.store.IncDuplicatePlacementAttempts()
	}
	if tpOK {
		_ = e.store.IncDuplicatePlacementAttempts()
	}
	if slOK && tpOK {
		return
	}

	if hasPending && !pending.LastTPSLPlacement.IsZero() &&
		time.Since(pending.LastTPSLPlacement) < e.cfg.PlacementCooldown {
		e.logger.WithField("symbol", symbol).Debug("reconcile: TP/SL placement cooldown active, deferring")
		return
	}

	// spec.md §4.5.2 step 5: mismatches are canceled, then re-placed as a
	// pair via safe_place_tp_sl so the crossed-price check and backoff gate
	// apply here exactly as they do to the initial post-fill placement.
	if slMatch != nil {
		e.cancelOrder(ctx, symbol, slMatch.OrderID)
	}
	if tpMatch != nil {
		e.cancelOrder(ctx, symbol, tpMatch.OrderID)
	}

	result, err := orderutil.SafePlaceTPSL(ctx, e.port, e.backoff, symbol, isLong, size, targetTP, targetSL, e.cfg.TPSLFallbackMode, e.cfg.TPSLBackoffSeconds)
	if err != nil {
		e.logger.WithError(err).WithField("symbol", symbol).Warn("reconcile: failed to replace mismatched TP/SL")
		return
	}
	if result.Skipped {
		e.logger.WithField("symbol", symbol).WithField("reason", result.Reason).Debug("reconcile: TP/SL replacement skipped")
		return
	}
	if result.MarketClosed {
		e.store.AppendReconciliationLog("tp_sl_crossed_market_close", fmt.Sprintf("%s TP/SL crossed during reconcile, closed at market: %s", symbol, result.Reason))
		_ = e.store.IncPlacedOrders()
		return
	}
	if !result.Placed {
		e.logger.WithField("symbol", symbol).WithField("reason", result.Reason).Warn("reconcile: TP/SL replacement incomplete")
		return
	}

	legs := state.ReduceOnlyLegs{SL: result.SL.OrderID, TP: result.TP.OrderID}
	e.store.AppendReconciliationLog("tp_sl_replaced", fmt.Sprintf("%s TP/SL replaced target_sl=%.8f target_tp=%.8f", symbol, targetSL, targetTP))
	_ = e.store.IncPlacedOrders()

	if hasPending {
		pending.LastTPSLPlacement = time.Now().UTC()
		pending.ExchangeOrders = legs
		if err := e.store.UpsertPendingOrder(pending); err != nil {
			e.logger.WithError(err).WithField("symbol", symbol).Error("reconcile: failed to record TP/SL placement")
		}
	}
}

func (e *Engine) cancelOrder(ctx context.Context, symbol, orderID string) {
	if orderID == "" {
		return
	}
	if _, err := e.port.CancelOrder(ctx, symbol, orderID); err != nil {
		e.logger.WithError(err).WithFields(map[string]interface{}{"symbol": symbol, "order_id": orderID}).
			Warn("reconcile: failed to cancel mismatched TP/SL leg")
		return
	}
	_ = e.store.IncCancelledOrders()
}

func (e *Engine) tickSize(ctx context.Context, symbol string) float64 {
	market, err := e.port.MarketInfo(ctx, symbol)
	if err != nil || market == nil || market.TickSize <= 0 {
		return orderutil.DefaultTick
	}
	return market.TickSize
}

// reconcileStalePending implements spec.md §4.5.3: cancel and drop pending
// orders older than the configured stale threshold, regardless of whether
// the exchange-side cancel actually succeeds.
func (e *Engine) reconcileStalePending(symbols []string) {
	now := time.Now().UTC()
	for _, symbol := range symbols {
		po, ok := e.store.GetPendingOrder(symbol)
		if !ok || po.Age(now) < e.cfg.StaleAfter {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if _, err := e.port.CancelOrder(ctx, symbol, po.ExchangeOrderID); err != nil {
			e.logger.WithError(err).WithField("symbol", symbol).Warn("reconcile: failed to cancel stale pending order, dropping anyway")
		}
		cancel()

		if err := e.store.RemovePendingOrder(symbol); err != nil {
			e.logger.WithError(err).WithField("symbol", symbol).Error("reconcile: failed to drop stale pending order")
			continue
		}
		_ = e.store.IncPendingOrderStale()
		e.store.AppendReconciliationLog("pending_order_stale", fmt.Sprintf("%s pending order %s dropped after %s", symbol, po.ExchangeOrderID, po.Age(now)))
	}
}
