package reconcile

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/eddiefleurent/orderblock-reconciler/internal/exchange"
	"github.com/eddiefleurent/orderblock-reconciler/internal/state"
)

// reduceOnlyRejectionPatterns mirrors vendor error text/codes indicating a
// reduce-only order was rejected, most commonly because the position had
// already closed by the time the order reached the matching engine.
var reduceOnlyRejectionPatterns = []string{
	"reduce-only",
	"reduceonly",
	"reduce only",
	"-2022", // Binance: ReduceOnly Order is rejected
	"-2021", // Binance: order would immediately trigger
}

func isReduceOnlyRejection(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, p := range reduceOnlyRejectionPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// ReconcileBreaches implements spec.md §4.5.4: the every-cycle safety net
// that force-closes a position whose mark price has already crossed its
// recorded TP or SL before the reduce-only legs caught it.
func (e *Engine) ReconcileBreaches(ctx context.Context) {
	for _, p := range e.store.ListPositions() {
		e.checkBreach(ctx, p)
	}
}

func (e *Engine) checkBreach(ctx context.Context, p state.Position) {
	if p.Size == 0 || p.MarkPrice == 0 {
		return
	}
	isLong := p.Side == exchange.PositionLong

	if !sanityCheckSLTP(isLong, p.EntryPrice, p.StopLoss, p.TakeProfit) {
		if allow, suppressed := e.store.Throttle.Allow("breach_sanity_skip", p.Symbol); allow {
			e.logger.WithField("symbol", p.Symbol).
				Warnf("reconcile: skipping breach check, TP/SL on wrong side of entry (suppressed=%d)", suppressed)
		}
		return
	}

	breached, direction := isBreached(isLong, p.MarkPrice, p.StopLoss, p.TakeProfit)
	if !breached {
		return
	}

	e.forceClose(ctx, p, direction)
}

// sanityCheckSLTP reports whether SL/TP are on the correct side of entry for
// the position's direction; zero values are treated as "not yet set" and
// pass trivially.
func sanityCheckSLTP(isLong bool, entry, sl, tp float64) bool {
	if isLong {
		if sl != 0 && sl >= entry {
			return false
		}
		if tp != 0 && tp <= entry {
			return false
		}
		return true
	}
	if sl != 0 && sl <= entry {
		return false
	}
	if tp != 0 && tp >= entry {
		return false
	}
	return true
}

func isBreached(isLong bool, mark, sl, tp float64) (bool, string) {
	if isLong {
		if tp != 0 && mark >= tp {
			return true, "tp_breach"
		}
		if sl != 0 && mark <= sl {
			return true, "sl_breach"
		}
		return false, ""
	}
	if tp != 0 && mark <= tp {
		return true, "tp_breach"
	}
	if sl != 0 && mark >= sl {
		return true, "sl_breach"
	}
	return false, ""
}

func (e *Engine) forceClose(ctx context.Context, p state.Position, reason string) {
	slOrders, tpOrders := e.liveReduceOnlyOrders(ctx, p.Symbol)
	for _, o := range append(slOrders, tpOrders...) {
		e.cancelOrder(ctx, p.Symbol, o.OrderID)
	}

	closeSide := exchange.SideSell
	if p.Side != exchange.PositionLong {
		closeSide = exchange.SideBuy
	}

	order, err := e.port.ClosePositionMarket(ctx, p.Symbol, closeSide, p.Size, reason)
	if err != nil && isReduceOnlyRejection(err) {
		e.logger.WithField("symbol", p.Symbol).Warn("reconcile: reduce-only close rejected, retrying as a plain market order")
		order, err = e.port.PlaceMarketOrder(ctx, p.Symbol, closeSide, p.Size, reason)
	}
	if err != nil {
		e.logger.WithError(err).WithField("symbol", p.Symbol).Error("reconcile: forced closure failed")
		return
	}
	if order == nil {
		e.logger.WithField("symbol", p.Symbol).Error("reconcile: forced closure returned no order")
		return
	}

	_ = e.store.IncPlacedOrders()
	pnl := state.PnL(p.Side, p.EntryPrice, p.MarkPrice, p.Size)
	e.store.AppendReconciliationLog(reason, fmt.Sprintf("%s forced closure size=%.8f mark=%.8f pnl=%.2f", p.Symbol, p.Size, p.MarkPrice, pnl))

	if _, ok, err := e.store.CloseTrade(p.Symbol, p.MarkPrice, time.Now().UTC()); err != nil {
		e.logger.WithError(err).WithField("symbol", p.Symbol).Error("reconcile: failed to close trade history row after forced closure")
	} else if !ok {
		e.logger.WithField("symbol", p.Symbol).Warn("reconcile: no open trade history row found for forced closure")
	}

	e.store.RemovePosition(p.Symbol)
}

func (e *Engine) liveReduceOnlyOrders(ctx context.Context, symbol string) (sl, tp []exchange.Order) {
	orders, err := e.port.GetOpenOrders(ctx, symbol)
	if err != nil {
		e.logger.WithError(err).WithField("symbol", symbol).Warn("reconcile: failed to fetch open orders before forced closure")
		return nil, nil
	}
	for _, o := range orders {
		switch {
		case o.Type.IsStopType():
			sl = append(sl, o)
		case o.Type.IsTakeProfitType():
			tp = append(tp, o)
		}
	}
	return sl, tp
}
