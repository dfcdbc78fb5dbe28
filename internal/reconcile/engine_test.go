package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/eddiefleurent/orderblock-reconciler/internal/exchange"
	"github.com/eddiefleurent/orderblock-reconciler/internal/exchangemock"
	"github.com/eddiefleurent/orderblock-reconciler/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flatCandles(n int, base float64) []exchange.Candle {
	out := make([]exchange.Candle, n)
	now := time.Now().UTC().Add(-time.Duration(n) * time.Hour)
	for i := range out {
		out[i] = exchange.Candle{OpenTime: now.Add(time.Duration(i) * time.Hour), Open: base, High: base + 1, Low: base - 1, Close: base, Volume: 1}
	}
	return out
}

func TestStartupReconcileOrders_MatchesReduceOnlyAsOK(t *testing.T) {
	mock := &exchangemock.Port{
		GetOpenOrdersFn: func(ctx context.Context, symbol string) ([]exchange.Order, error) {
			return []exchange.Order{{OrderID: "sl1", Type: exchange.OrderTypeStopMarket, ReduceOnly: true}}, nil
		},
	}
	engine, store := newTestEngine(t, mock)

	require.NoError(t, engine.StartupReconcileOrders(context.Background(), "BTCUSDC"))
	assert.Equal(t, 0, mock.CallCount("CancelOrder"))
	assert.Equal(t, 0, mock.CallCount("FetchCandles"))
	_ = store
}

func TestStartupReconcileOrders_CancelsOrphanedBareLimit(t *testing.T) {
	mock := &exchangemock.Port{
		GetOpenOrdersFn: func(ctx context.Context, symbol string) ([]exchange.Order, error) {
			return []exchange.Order{{OrderID: "orphan1", Type: exchange.OrderTypeLimit, Side: exchange.SideBuy, Price: 9999999}}, nil
		},
		FetchCandlesFn: func(ctx context.Context, symbol, timeframe string, limit int) ([]exchange.Candle, error) {
			return flatCandles(70, 100), nil
		},
		CancelOrderFn: func(ctx context.Context, symbol, orderID string) (bool, error) {
			assert.Equal(t, "orphan1", orderID)
			return true, nil
		},
	}
	engine, store := newTestEngine(t, mock)

	require.NoError(t, engine.StartupReconcileOrders(context.Background(), "BTCUSDC"))
	assert.Equal(t, 1, mock.CallCount("CancelOrder"))
	assert.Equal(t, int64(1), store.Metrics().CancelledOrdersCount)
}

func TestStartupReconcileOrders_MatchesKnownPendingID(t *testing.T) {
	mock := &exchangemock.Port{
		GetOpenOrdersFn: func(ctx context.Context, symbol string) ([]exchange.Order, error) {
			return []exchange.Order{{OrderID: "known1", Type: exchange.OrderTypeLimit, Side: exchange.SideBuy, Price: 100}}, nil
		},
	}
	engine, store := newTestEngine(t, mock)

	require.NoError(t, store.UpsertPendingOrder(state.PendingOrder{
		Symbol:          "BTCUSDC",
		ExchangeOrderID: "known1",
		CreatedAt:       time.Now().UTC(),
	}))

	require.NoError(t, engine.StartupReconcileOrders(context.Background(), "BTCUSDC"))
	assert.Equal(t, 0, mock.CallCount("CancelOrder"))
	assert.Equal(t, 0, mock.CallCount("FetchCandles"))
}

func TestStartupReconcileOrders_DropsTerminalUnmatchedPending(t *testing.T) {
	mock := &exchangemock.Port{
		GetOpenOrdersFn: func(ctx context.Context, symbol string) ([]exchange.Order, error) {
			return nil, nil
		},
		GetOrderStatusFn: func(ctx context.Context, symbol, orderID string) (*exchange.Order, error) {
			return &exchange.Order{OrderID: orderID, Status: exchange.OrderStatusFilled}, nil
		},
	}
	engine, store := newTestEngine(t, mock)

	require.NoError(t, store.UpsertPendingOrder(state.PendingOrder{
		Symbol:          "BTCUSDC",
		ExchangeOrderID: "filled1",
		CreatedAt:       time.Now().UTC(),
	}))

	require.NoError(t, engine.StartupReconcileOrders(context.Background(), "BTCUSDC"))
	_, ok := store.GetPendingOrder("BTCUSDC")
	assert.False(t, ok)
	assert.Equal(t, int64(1), store.Metrics().FilledOrdersCount)
}

func TestFallbackSLTP_LongAndShort(t *testing.T) {
	sl, tp := fallbackSLTP(exchange.SideSell, 100, 1.0, 2.0)
	assert.InDelta(t, 99, sl, 1e-9)
	assert.InDelta(t, 102, tp, 1e-9)

	sl, tp = fallbackSLTP(exchange.SideBuy, 100, 1.0, 2.0)
	assert.InDelta(t, 101, sl, 1e-9)
	assert.InDelta(t, 98, tp, 1e-9)
}
