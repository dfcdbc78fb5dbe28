package planner

import (
	"testing"

	"github.com/eddiefleurent/orderblock-reconciler/internal/exchange"
	"github.com/eddiefleurent/orderblock-reconciler/internal/signal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPlan_BullishMath reproduces S1 from spec.md §8 exactly.
func TestPlan_BullishMath(t *testing.T) {
	ob := signal.OrderBlock{Kind: signal.Bullish, Top: 100, Bottom: 98}
	cfg := Config{RRRatio: 2, RiskPerTradePct: 1}

	plan, err := Plan(ob, 1000, cfg)
	require.NoError(t, err)

	assert.Equal(t, exchange.SideBuy, plan.Side)
	assert.InDelta(t, 100, plan.Entry, 1e-9)
	assert.InDelta(t, 97.902, plan.StopLoss, 1e-9)
	riskPerUnit := plan.Entry - plan.StopLoss
	assert.InDelta(t, 2.098, riskPerUnit, 1e-9)
	assert.InDelta(t, 104.196, plan.TakeProfit, 1e-9)
	assert.InDelta(t, 4.766, plan.Quantity, 1e-3)
}

func TestPlan_BearishMath(t *testing.T) {
	ob := signal.OrderBlock{Kind: signal.Bearish, Top: 102, Bottom: 100}
	cfg := Config{RRRatio: 2, RiskPerTradePct: 1}

	plan, err := Plan(ob, 1000, cfg)
	require.NoError(t, err)

	assert.Equal(t, exchange.SideSell, plan.Side)
	assert.InDelta(t, 100, plan.Entry, 1e-9)
	assert.InDelta(t, 102.102, plan.StopLoss, 1e-9)
	assert.Less(t, plan.TakeProfit, plan.Entry)
}

func TestPlan_RiskInvariant(t *testing.T) {
	ob := signal.OrderBlock{Kind: signal.Bullish, Top: 100, Bottom: 98}
	cfg := Config{RRRatio: 2, RiskPerTradePct: 1}
	balance := 1000.0

	plan, err := Plan(ob, balance, cfg)
	require.NoError(t, err)

	riskPerUnit := plan.Entry - plan.StopLoss
	assert.Greater(t, riskPerUnit, 0.0)
	assert.InDelta(t, balance*cfg.RiskPerTradePct/100, plan.Quantity*riskPerUnit, 1e-9)
}

func TestPlan_NonPositiveRiskRejected(t *testing.T) {
	// top==bottom collapses risk-per-unit to exactly the 10bps buffer slice,
	// still positive; force non-positive by inverting the block instead.
	ob := signal.OrderBlock{Kind: signal.Bullish, Top: 98, Bottom: 100} // bottom > top, invalid geometry
	cfg := Config{RRRatio: 2, RiskPerTradePct: 1}

	_, err := Plan(ob, 1000, cfg)
	require.ErrorIs(t, err, ErrNonPositiveRisk)
}
