// Package planner computes entry/stop-loss/take-profit/quantity from an
// order block and the account's free balance. It is a pure function of its
// inputs: no I/O, no mutable state.
package planner

import (
	"errors"

	"github.com/eddiefleurent/orderblock-reconciler/internal/exchange"
	"github.com/eddiefleurent/orderblock-reconciler/internal/signal"
)

// StopLossBuffer is the fractional distance the stop loss sits beyond the
// order block's far edge (10 bps), matching the original's sl_buffer.
const StopLossBuffer = 0.001

// ErrNonPositiveRisk is returned when the computed risk-per-unit is zero or
// negative, meaning no valid plan can be derived from the block.
var ErrNonPositiveRisk = errors.New("planner: risk per unit is non-positive")

// Config carries the two tunables a plan depends on.
type Config struct {
	RRRatio        float64 // reward:risk multiple applied to take-profit
	RiskPerTradePct float64 // percent of free balance risked per trade
}

// Plan is a concrete trade plan ready for order placement.
type Plan struct {
	Symbol     string
	Side       exchange.Side
	Entry      float64
	StopLoss   float64
	TakeProfit float64
	Quantity   float64
}

// Plan derives a Plan from ob and freeBalance, or ErrNonPositiveRisk when the
// block yields a non-positive risk-per-unit (entry and stop loss collapsed
// or crossed).
func Plan(ob signal.OrderBlock, freeBalance float64, cfg Config) (*Plan, error) {
	riskAmount := freeBalance * (cfg.RiskPerTradePct / 100.0)

	var entry, stopLoss, takeProfit float64
	var side exchange.Side

	switch ob.Kind {
	case signal.Bullish:
		side = exchange.SideBuy
		entry = ob.Top
		stopLoss = ob.Bottom * (1 - StopLossBuffer)
		riskPerUnit := entry - stopLoss
		if riskPerUnit <= 0 {
			return nil, ErrNonPositiveRisk
		}
		takeProfit = entry + riskPerUnit*cfg.RRRatio
		return finish(side, entry, stopLoss, takeProfit, riskAmount, riskPerUnit)

	case signal.Bearish:
		side = exchange.SideSell
		entry = ob.Bottom
		stopLoss = ob.Top * (1 + StopLossBuffer)
		riskPerUnit := stopLoss - entry
		if riskPerUnit <= 0 {
			return nil, ErrNonPositiveRisk
		}
		takeProfit = entry - riskPerUnit*cfg.RRRatio
		return finish(side, entry, stopLoss, takeProfit, riskAmount, riskPerUnit)

	default:
		return nil, errors.New("planner: unknown order block kind")
	}
}

func finish(side exchange.Side, entry, stopLoss, takeProfit, riskAmount, riskPerUnit float64) (*Plan, error) {
	return &Plan{
		Side:       side,
		Entry:      entry,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
		Quantity:   riskAmount / riskPerUnit,
	}, nil
}
