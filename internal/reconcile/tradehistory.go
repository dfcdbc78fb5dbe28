package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/eddiefleurent/orderblock-reconciler/internal/exchange"
	"github.com/eddiefleurent/orderblock-reconciler/internal/orderutil"
	"github.com/eddiefleurent/orderblock-reconciler/internal/state"
)

// SyncTradeHistory implements the startup half of spec.md §4.5.5: every
// exchange position without a matching OPEN trade-history row gets one
// synthesized, with TP/SL inferred from whatever reduce-only orders are
// already live and entry_time left unknown.
func (e *Engine) SyncTradeHistory(ctx context.Context) error {
	positions, err := e.port.GetAllPositions(ctx)
	if err != nil {
		return fmt.Errorf("reconcile: fetch all positions for trade-history sync: %w", err)
	}

	open := openTradesBySymbol(e.store.ListTrades())

	for _, p := range positions {
		if p.Size == 0 {
			continue
		}
		symbol := state.NormalizeSymbol(p.Symbol)
		if open[symbol] {
			continue
		}

		sl, tp := e.inferSLTP(ctx, symbol)
		t := state.Trade{
			Symbol:     symbol,
			Side:       p.Side,
			EntryPrice: p.EntryPrice,
			Size:       p.Size,
			Status:     state.TradeOpen,
			StopLoss:   sl,
			TakeProfit: tp,
			Timestamp:  time.Now().UTC(),
		}
		if err := e.store.AppendTrade(t); err != nil {
			e.logger.WithError(err).WithField("symbol", symbol).Error("reconcile: failed to synthesize trade history row")
			continue
		}
		e.store.AppendReconciliationLog("trade_synthesized", fmt.Sprintf("%s synthesized OPEN trade row from live exchange position", symbol))
	}
	return nil
}

func openTradesBySymbol(trades []state.Trade) map[string]bool {
	out := make(map[string]bool)
	for _, t := range trades {
		if t.Status == state.TradeOpen {
			out[state.NormalizeSymbol(t.Symbol)] = true
		}
	}
	return out
}

func (e *Engine) inferSLTP(ctx context.Context, symbol string) (sl, tp float64) {
	orders, err := e.port.GetOpenOrders(ctx, symbol)
	if err != nil {
		return 0, 0
	}
	slOrders, tpOrders := orderutil.ClassifyReduceOnlyOrders(orders)
	if len(slOrders) > 0 {
		sl = representativeStopPrice(slOrders[0])
	}
	if len(tpOrders) > 0 {
		tp = representativeStopPrice(tpOrders[0])
	}
	return sl, tp
}

func representativeStopPrice(o exchange.Order) float64 {
	if o.StopPrice != 0 {
		return o.StopPrice
	}
	return o.Price
}

// reconcileClosedPositions implements the removal half of spec.md §4.5.5:
// any mirrored position not seen in the latest exchange snapshot is gone,
// so its trade-history row is closed and removed from the mirror.
func (e *Engine) reconcileClosedPositions(seen map[string]bool) {
	for _, p := range e.store.ListPositions() {
		if seen[p.Symbol] {
			continue
		}

		exitPrice := p.MarkPrice
		if exitPrice == 0 {
			exitPrice = p.EntryPrice
			if allow, suppressed := e.store.Throttle.Allow("trade_close_fallback_price", p.Symbol); allow {
				e.logger.WithField("symbol", p.Symbol).
					Warnf("reconcile: closing trade with entry price fallback, no mark price observed (suppressed=%d)", suppressed)
			}
		}

		if _, ok, err := e.store.CloseTrade(p.Symbol, exitPrice, time.Now().UTC()); err != nil {
			e.logger.WithError(err).WithField("symbol", p.Symbol).Error("reconcile: failed to close trade history row for removed position")
		} else if !ok {
			e.logger.WithField("symbol", p.Symbol).Warn("reconcile: position disappeared with no OPEN trade history row")
		}

		e.store.RemovePosition(p.Symbol)
	}
}
