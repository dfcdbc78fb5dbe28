package orderutil

import (
	"context"
	"fmt"

	"github.com/eddiefleurent/orderblock-reconciler/internal/exchange"
)

// FallbackMode controls what safe_place_tp_sl does when a TP or SL price has
// already been crossed by the market before placement.
type FallbackMode string

// Recognized fallback modes.
const (
	FallbackMarketReduce FallbackMode = "MARKET_REDUCE"
	FallbackNone         FallbackMode = "NONE"
)

// BufferTicks is the default number of ticks added on either side of the
// mark price when checking whether a TP/SL has already been crossed.
const BufferTicks = 1

// MarkPrice resolves a best-effort current price from a ticker, preferring
// mark price over last/close, matching spec.md §4.3's field-preference order.
func MarkPrice(t *exchange.Ticker) (float64, bool) {
	if t == nil {
		return 0, false
	}
	if t.MarkPrice != 0 {
		return t.MarkPrice, true
	}
	if t.Last != 0 {
		return t.Last, true
	}
	if t.Close != 0 {
		return t.Close, true
	}
	return 0, false
}

// SafePlaceResult reports what SafePlaceTPSL actually did, for the caller to
// log and record in the reconciliation log / pending order.
type SafePlaceResult struct {
	Placed       bool
	SL, TP       *exchange.Order
	MarketClosed bool
	Skipped      bool
	Reason       string
}

// SafePlaceTPSL places a stop-loss and take-profit pair after pre-checking
// for already-crossed prices, rounding to tick, and honoring the per-symbol
// backoff table. It places SL first; if SL placement fails, TP is never
// attempted (spec.md §4.3).
func SafePlaceTPSL(
	ctx context.Context,
	port exchange.Port,
	backoff *BackoffTable,
	symbol string,
	isLong bool,
	amount, computedTP, computedSL float64,
	fallbackMode FallbackMode,
	backoffSeconds int,
) (*SafePlaceResult, error) {
	if active, remaining := backoff.Check(symbol); active {
		res := &SafePlaceResult{Skipped: true, Reason: fmt.Sprintf("backoff active, %.0fs remaining", remaining)}
		return res, nil
	}

	ticker, err := port.FetchTicker(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("orderutil: fetch ticker for %s: %w", symbol, err)
	}
	currentPrice, ok := MarkPrice(ticker)
	if !ok {
		backoff.Set(symbol, backoffSeconds)
		return &SafePlaceResult{Skipped: true, Reason: "missing current price"}, nil
	}

	market, err := port.MarketInfo(ctx, symbol)
	tick := DefaultTick
	if err == nil && market != nil && market.TickSize > 0 {
		tick = market.TickSize
	}
	buffer := tick * BufferTicks

	roundedTP := RoundToTick(computedTP, tick)
	roundedSL := RoundToTick(computedSL, tick)

	closeSide := exchange.SideSell
	if !isLong {
		closeSide = exchange.SideBuy
	}

	var tpCrossed, slCrossed bool
	if isLong {
		tpCrossed = roundedTP <= currentPrice+buffer
		slCrossed = roundedSL >= currentPrice-buffer
	} else {
		tpCrossed = roundedTP >= currentPrice-buffer
		slCrossed = roundedSL <= currentPrice+buffer
	}

	if tpCrossed || slCrossed {
		reason := "sl_already_crossed"
		if tpCrossed {
			reason = "tp_already_crossed"
		}
		backoff.Set(symbol, backoffSeconds)

		if fallbackMode == FallbackMarketReduce {
			order, err := port.ClosePositionMarket(ctx, symbol, closeSide, amount, reason)
			if err != nil {
				return nil, fmt.Errorf("orderutil: market reduce-only close for %s: %w", symbol, err)
			}
			return &SafePlaceResult{MarketClosed: order != nil, Reason: reason}, nil
		}
		return &SafePlaceResult{Skipped: true, Reason: reason}, nil
	}

	slOrder, err := port.PlaceStopLoss(ctx, symbol, closeSide, amount, roundedSL)
	if err != nil || slOrder == nil {
		backoff.Set(symbol, backoffSeconds)
		if err != nil {
			return nil, fmt.Errorf("orderutil: place stop loss for %s: %w", symbol, err)
		}
		return &SafePlaceResult{Reason: "stop loss placement returned no order"}, nil
	}

	tpOrder, err := port.PlaceTakeProfit(ctx, symbol, closeSide, amount, roundedTP)
	if err != nil || tpOrder == nil {
		backoff.Set(symbol, backoffSeconds)
		if err != nil {
			return nil, fmt.Errorf("orderutil: place take profit for %s: %w", symbol, err)
		}
		return &SafePlaceResult{SL: slOrder, Reason: "take profit placement returned no order"}, nil
	}

	backoff.Set(symbol, backoffSeconds)
	return &SafePlaceResult{Placed: true, SL: slOrder, TP: tpOrder}, nil
}
