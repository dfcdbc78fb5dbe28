package reconcile

import (
	"context"
	"testing"

	"github.com/eddiefleurent/orderblock-reconciler/internal/exchange"
	"github.com/eddiefleurent/orderblock-reconciler/internal/exchangemock"
	"github.com/eddiefleurent/orderblock-reconciler/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncTradeHistory_SynthesizesMissingOpenRow(t *testing.T) {
	mock := &exchangemock.Port{
		GetAllPositionsFn: func(ctx context.Context) ([]exchange.Position, error) {
			return []exchange.Position{{Symbol: "BTCUSDC", Side: exchange.PositionLong, Size: 0.5, EntryPrice: 40000}}, nil
		},
		GetOpenOrdersFn: func(ctx context.Context, symbol string) ([]exchange.Order, error) {
			return []exchange.Order{
				{OrderID: "sl1", Type: exchange.OrderTypeStopMarket, ReduceOnly: true, StopPrice: 39000},
				{OrderID: "tp1", Type: exchange.OrderTypeTakeProfitMarket, ReduceOnly: true, StopPrice: 41000},
			}, nil
		},
	}
	engine, store := newTestEngine(t, mock)

	require.NoError(t, engine.SyncTradeHistory(context.Background()))

	trades := store.ListTrades()
	require.Len(t, trades, 1)
	assert.Equal(t, state.TradeOpen, trades[0].Status)
	assert.Equal(t, 40000.0, trades[0].EntryPrice)
	assert.Equal(t, 39000.0, trades[0].StopLoss)
	assert.Equal(t, 41000.0, trades[0].TakeProfit)
}

func TestSyncTradeHistory_SkipsWhenOpenRowExists(t *testing.T) {
	mock := &exchangemock.Port{
		GetAllPositionsFn: func(ctx context.Context) ([]exchange.Position, error) {
			return []exchange.Position{{Symbol: "BTCUSDC", Side: exchange.PositionLong, Size: 0.5, EntryPrice: 40000}}, nil
		},
	}
	engine, store := newTestEngine(t, mock)

	require.NoError(t, store.AppendTrade(state.Trade{Symbol: "BTCUSDC", Status: state.TradeOpen, EntryPrice: 40000, Size: 0.5}))
	require.NoError(t, engine.SyncTradeHistory(context.Background()))

	assert.Len(t, store.ListTrades(), 1)
	assert.Equal(t, 0, mock.CallCount("GetOpenOrders"))
}

func TestReconcileClosedPositions_ClosesAndRemovesVanishedPosition(t *testing.T) {
	engine, store := newTestEngine(t, &exchangemock.Port{})

	require.NoError(t, store.AppendTrade(state.Trade{Symbol: "BTCUSDC", Side: exchange.PositionLong, Status: state.TradeOpen, EntryPrice: 100, Size: 1}))
	store.UpsertPosition(state.Position{Symbol: "BTCUSDC", Side: exchange.PositionLong, Size: 1, EntryPrice: 100, MarkPrice: 110})

	engine.reconcileClosedPositions(map[string]bool{})

	trades := store.ListTrades()
	require.Len(t, trades, 1)
	assert.Equal(t, state.TradeClosed, trades[0].Status)
	assert.InDelta(t, 10.0, trades[0].PnL, 1e-9)

	_, stillThere := store.GetPosition("BTCUSDC")
	assert.False(t, stillThere)
}
