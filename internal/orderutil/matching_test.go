package orderutil

import (
	"testing"

	"github.com/eddiefleurent/orderblock-reconciler/internal/exchange"
	"github.com/stretchr/testify/assert"
)

func TestOrderMatchesTarget_Reflexive(t *testing.T) {
	order := exchange.Order{Price: 43000, Remaining: 0.1}
	assert.True(t, OrderMatchesTarget(order, 43000, 0.1, 1))
}

func TestOrderMatchesTarget_UsesStopPriceWhenPresent(t *testing.T) {
	order := exchange.Order{Price: 0, StopPrice: 43000, Remaining: 0.1}
	assert.True(t, OrderMatchesTarget(order, 43000, 0.1, 1))
}

func TestOrderMatchesTarget_PriceMismatch(t *testing.T) {
	order := exchange.Order{StopPrice: 42000, Remaining: 0.1}
	assert.False(t, OrderMatchesTarget(order, 43000, 0.1, 1))
}

func TestOrderMatchesTarget_QtyOutsideTolerance(t *testing.T) {
	order := exchange.Order{Price: 43000, Remaining: 0.05}
	assert.False(t, OrderMatchesTarget(order, 43000, 0.1, 1))
}

func TestClassifyReduceOnlyOrders(t *testing.T) {
	orders := []exchange.Order{
		{Type: exchange.OrderTypeStopMarket},
		{Type: exchange.OrderTypeTakeProfitMarket},
		{Type: "UNKNOWN", StopPrice: 100},
	}
	sl, tp := ClassifyReduceOnlyOrders(orders)
	assert.Len(t, sl, 2) // STOP_MARKET + ambiguous-with-stop-price
	assert.Len(t, tp, 1)
}

func TestSelectRepresentative_PrefersMatch(t *testing.T) {
	candidates := []exchange.Order{
		{OrderID: "a", StopPrice: 41000, Remaining: 0.1},
		{OrderID: "b", StopPrice: 43000, Remaining: 0.1},
	}
	got := SelectRepresentative(candidates, 43000, 0.1, 1)
	assert.Equal(t, "b", got.OrderID)
}

func TestSelectRepresentative_FallsBackToFirst(t *testing.T) {
	candidates := []exchange.Order{
		{OrderID: "a", StopPrice: 41000, Remaining: 0.1},
	}
	got := SelectRepresentative(candidates, 43000, 0.1, 1)
	assert.Equal(t, "a", got.OrderID)
}

func TestSelectRepresentative_EmptyReturnsNil(t *testing.T) {
	assert.Nil(t, SelectRepresentative(nil, 100, 1, 1))
}
