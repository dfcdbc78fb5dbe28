package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/eddiefleurent/orderblock-reconciler/internal/exchange"
	"github.com/eddiefleurent/orderblock-reconciler/internal/exchangemock"
	"github.com/eddiefleurent/orderblock-reconciler/internal/state"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, port exchange.Port) (*Engine, *state.Store) {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	store := state.New(t.TempDir(), logger)
	cfg := DefaultConfig
	cfg.PlacementCooldown = 0
	return New(port, store, logger, cfg), store
}

// S3 — idempotent placement: existing SL/TP already match the target, so no
// create_order calls should happen and duplicate_placement_attempts should
// increment by exactly 2.
func TestEnsureTPSL_IdempotentPlacement(t *testing.T) {
	mock := &exchangemock.Port{
		MarketInfoFn: func(ctx context.Context, symbol string) (*exchange.Market, error) {
			return &exchange.Market{TickSize: 1}, nil
		},
		GetOpenOrdersFn: func(ctx context.Context, symbol string) ([]exchange.Order, error) {
			return []exchange.Order{
				{OrderID: "sl1", Type: exchange.OrderTypeStopMarket, ReduceOnly: true, StopPrice: 43000, Remaining: 0.1},
				{OrderID: "tp1", Type: exchange.OrderTypeTakeProfitMarket, ReduceOnly: true, StopPrice: 49000, Remaining: 0.1},
			}, nil
		},
	}
	engine, store := newTestEngine(t, mock)

	engine.ensureTPSL(context.Background(), "BTCUSDC", true, 0.1, 43000, 49000, state.PendingOrder{}, false)

	assert.Equal(t, 0, mock.CallCount("PlaceStopLoss"))
	assert.Equal(t, 0, mock.CallCount("PlaceTakeProfit"))
	assert.Equal(t, 0, mock.CallCount("CancelOrder"))
	assert.Equal(t, int64(2), store.Metrics().DuplicatePlacementAttempts)
}

// S4 — mismatch replacement: SL is stale at 42000, target is 43000. Both
// legs are canceled and re-placed together via safe_place_tp_sl, per
// spec.md §4.5.2 step 5 (mismatches are never replaced with a bare
// PlaceStopLoss/PlaceTakeProfit call that skips the crossed-price check).
func TestEnsureTPSL_MismatchReplacesPairViaSafePlace(t *testing.T) {
	mock := &exchangemock.Port{
		MarketInfoFn: func(ctx context.Context, symbol string) (*exchange.Market, error) {
			return &exchange.Market{TickSize: 1}, nil
		},
		FetchTickerFn: func(ctx context.Context, symbol string) (*exchange.Ticker, error) {
			return &exchange.Ticker{MarkPrice: 45000}, nil
		},
		GetOpenOrdersFn: func(ctx context.Context, symbol string) ([]exchange.Order, error) {
			return []exchange.Order{
				{OrderID: "sl-old", Type: exchange.OrderTypeStopMarket, ReduceOnly: true, StopPrice: 42000, Remaining: 0.1},
				{OrderID: "tp1", Type: exchange.OrderTypeTakeProfitMarket, ReduceOnly: true, StopPrice: 49000, Remaining: 0.1},
			}, nil
		},
		CancelOrderFn: func(ctx context.Context, symbol, orderID string) (bool, error) {
			return true, nil
		},
		PlaceStopLossFn: func(ctx context.Context, symbol string, side exchange.Side, amount, stopPrice float64) (*exchange.Order, error) {
			assert.Equal(t, 43000.0, stopPrice)
			return &exchange.Order{OrderID: "sl-new"}, nil
		},
		PlaceTakeProfitFn: func(ctx context.Context, symbol string, side exchange.Side, amount, price float64) (*exchange.Order, error) {
			assert.Equal(t, 49000.0, price)
			return &exchange.Order{OrderID: "tp-new"}, nil
		},
	}
	engine, store := newTestEngine(t, mock)

	engine.ensureTPSL(context.Background(), "BTCUSDC", true, 0.1, 43000, 49000, state.PendingOrder{}, false)

	assert.Equal(t, 2, mock.CallCount("CancelOrder"))
	assert.Equal(t, 1, mock.CallCount("PlaceStopLoss"))
	assert.Equal(t, 1, mock.CallCount("PlaceTakeProfit"))
	assert.Equal(t, int64(1), store.Metrics().DuplicatePlacementAttempts)
	assert.Equal(t, int64(1), store.Metrics().PlacedOrdersCount)
}

// Crossed-price safeguard: if the market has already crossed the target TP
// by the time reconciliation runs, the mismatched pair is closed at market
// instead of being re-placed as resting orders.
func TestEnsureTPSL_MismatchCrossedPriceClosesAtMarket(t *testing.T) {
	mock := &exchangemock.Port{
		MarketInfoFn: func(ctx context.Context, symbol string) (*exchange.Market, error) {
			return &exchange.Market{TickSize: 1}, nil
		},
		FetchTickerFn: func(ctx context.Context, symbol string) (*exchange.Ticker, error) {
			return &exchange.Ticker{MarkPrice: 49500}, nil
		},
		GetOpenOrdersFn: func(ctx context.Context, symbol string) ([]exchange.Order, error) {
			return []exchange.Order{
				{OrderID: "sl-old", Type: exchange.OrderTypeStopMarket, ReduceOnly: true, StopPrice: 42000, Remaining: 0.1},
			}, nil
		},
		CancelOrderFn: func(ctx context.Context, symbol, orderID string) (bool, error) {
			return true, nil
		},
		ClosePositionFn: func(ctx context.Context, symbol string, side exchange.Side, amount float64, reason string) (*exchange.Order, error) {
			return &exchange.Order{OrderID: "close1"}, nil
		},
	}
	engine, store := newTestEngine(t, mock)
	engine.cfg.TPSLFallbackMode = "MARKET_REDUCE"

	engine.ensureTPSL(context.Background(), "BTCUSDC", true, 0.1, 43000, 49000, state.PendingOrder{}, false)

	assert.Equal(t, 0, mock.CallCount("PlaceStopLoss"))
	assert.Equal(t, 0, mock.CallCount("PlaceTakeProfit"))
	assert.Equal(t, 1, mock.CallCount("ClosePositionMarket"))
	assert.Equal(t, int64(1), store.Metrics().PlacedOrdersCount)
}

// S5 — breach safety net: a LONG position whose mark has crossed its TP
// must have both legs canceled and a reduce-only market close submitted,
// with pnl recorded on the forced-closure log line.
func TestReconcileBreaches_ForcesCloseOnTPBreach(t *testing.T) {
	var closeCalls int
	mock := &exchangemock.Port{
		GetOpenOrdersFn: func(ctx context.Context, symbol string) ([]exchange.Order, error) {
			return []exchange.Order{
				{OrderID: "sl1", Type: exchange.OrderTypeStopMarket, ReduceOnly: true},
				{OrderID: "tp1", Type: exchange.OrderTypeTakeProfitMarket, ReduceOnly: true},
			}, nil
		},
		CancelOrderFn: func(ctx context.Context, symbol, orderID string) (bool, error) { return true, nil },
		ClosePositionFn: func(ctx context.Context, symbol string, side exchange.Side, amount float64, reason string) (*exchange.Order, error) {
			closeCalls++
			assert.Equal(t, exchange.SideSell, side)
			assert.Equal(t, 0.01, amount)
			assert.Equal(t, "tp_breach", reason)
			return &exchange.Order{OrderID: "close1"}, nil
		},
	}
	engine, store := newTestEngine(t, mock)

	require.NoError(t, store.AppendTrade(state.Trade{
		Symbol:     "BTCUSDC",
		Side:       exchange.PositionLong,
		EntryPrice: 40000,
		Size:       0.01,
		Status:     state.TradeOpen,
	}))
	store.UpsertPosition(state.Position{
		Symbol:     "BTCUSDC",
		Side:       exchange.PositionLong,
		Size:       0.01,
		EntryPrice: 40000,
		MarkPrice:  41500,
		TakeProfit: 41000,
		StopLoss:   39000,
	})

	engine.ReconcileBreaches(context.Background())

	assert.Equal(t, 1, closeCalls)
	assert.Equal(t, 2, mock.CallCount("CancelOrder"))

	trades := store.ListTrades()
	require.Len(t, trades, 1)
	assert.Equal(t, state.TradeClosed, trades[0].Status)
	assert.InDelta(t, 15.00, trades[0].PnL, 1e-9)

	_, stillOpen := store.GetPosition("BTCUSDC")
	assert.False(t, stillOpen)
}

// Reduce-only close rejected by the exchange (position already flat) falls
// back to a plain, non-reduce-only market order rather than a resting
// limit order, per spec.md §4.5.4.
func TestForceClose_ReduceOnlyRejectionFallsBackToMarketOrder(t *testing.T) {
	var marketOrderCalls int
	mock := &exchangemock.Port{
		GetOpenOrdersFn: func(ctx context.Context, symbol string) ([]exchange.Order, error) {
			return nil, nil
		},
		ClosePositionFn: func(ctx context.Context, symbol string, side exchange.Side, amount float64, reason string) (*exchange.Order, error) {
			return nil, errors.New("binanceusdm: -2022 ReduceOnly Order is rejected")
		},
		PlaceMarketOrderFn: func(ctx context.Context, symbol string, side exchange.Side, amount float64, reason string) (*exchange.Order, error) {
			marketOrderCalls++
			assert.Equal(t, exchange.SideSell, side)
			assert.Equal(t, 0.01, amount)
			return &exchange.Order{OrderID: "market-close-1"}, nil
		},
	}
	engine, store := newTestEngine(t, mock)

	require.NoError(t, store.AppendTrade(state.Trade{
		Symbol:     "BTCUSDC",
		Side:       exchange.PositionLong,
		EntryPrice: 40000,
		Size:       0.01,
		Status:     state.TradeOpen,
	}))
	store.UpsertPosition(state.Position{
		Symbol:     "BTCUSDC",
		Side:       exchange.PositionLong,
		Size:       0.01,
		EntryPrice: 40000,
		MarkPrice:  41500,
		TakeProfit: 41000,
		StopLoss:   39000,
	})

	engine.ReconcileBreaches(context.Background())

	assert.Equal(t, 1, marketOrderCalls)
	assert.Equal(t, 0, mock.CallCount("PlaceLimit"))
	_, stillOpen := store.GetPosition("BTCUSDC")
	assert.False(t, stillOpen)
}

// S6 — stale pending: a pending order created 2h ago under a 1h threshold
// must be canceled, removed, and counted.
func TestReconcileStalePending_DropsOldOrder(t *testing.T) {
	var canceled string
	mock := &exchangemock.Port{
		CancelOrderFn: func(ctx context.Context, symbol, orderID string) (bool, error) {
			canceled = orderID
			return true, nil
		},
	}
	engine, store := newTestEngine(t, mock)
	engine.cfg.StaleAfter = 1 * time.Hour

	require.NoError(t, store.UpsertPendingOrder(state.PendingOrder{
		Symbol:          "BTCUSDC",
		ExchangeOrderID: "stale-order",
		CreatedAt:       time.Now().UTC().Add(-2 * time.Hour),
	}))

	engine.reconcileStalePending([]string{"BTCUSDC"})

	assert.Equal(t, "stale-order", canceled)
	_, ok := store.GetPendingOrder("BTCUSDC")
	assert.False(t, ok)
	assert.Equal(t, int64(1), store.Metrics().PendingOrderStaleCount)
}

func TestReconcilePositions_SkipsWhenLocked(t *testing.T) {
	mock := &exchangemock.Port{}
	engine, store := newTestEngine(t, mock)

	unlock, ok := store.TryLockReconcile()
	require.True(t, ok)
	defer unlock()

	err := engine.ReconcilePositions(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), store.Metrics().ReconciliationSkippedCount)
	assert.Equal(t, int64(0), store.Metrics().ReconciliationRunsCount)
}

func TestSanityCheckSLTP_RejectsWrongSideForLong(t *testing.T) {
	assert.True(t, sanityCheckSLTP(true, 100, 95, 110))
	assert.False(t, sanityCheckSLTP(true, 100, 105, 110)) // SL above entry
	assert.False(t, sanityCheckSLTP(true, 100, 95, 90))   // TP below entry
}
