package exchange

import "context"

// Port is the narrow interface the reconciliation core depends on. Every
// write operation returns (nil, nil) on a response-shape failure (missing or
// zero order ID) rather than a sentinel error, per the "exception-based
// control flow -> explicit result values" design note: callers branch on a
// nil order, not on a distinguished error type.
type Port interface {
	// Market data
	FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error)
	FetchTicker(ctx context.Context, symbol string) (*Ticker, error)
	MarketInfo(ctx context.Context, symbol string) (*Market, error)

	// Account
	GetFreeBalance(ctx context.Context) (float64, error)
	GetFullBalance(ctx context.Context) (*FullBalance, error)

	// Positions
	GetPosition(ctx context.Context, symbol string) (*Position, error)
	GetAllPositions(ctx context.Context) ([]Position, error)

	// Orders
	GetOpenOrders(ctx context.Context, symbol string) ([]Order, error)
	GetAllOpenOrders(ctx context.Context) ([]Order, error)
	GetOrderStatus(ctx context.Context, symbol, orderID string) (*Order, error)

	PlaceLimit(ctx context.Context, symbol string, side Side, amount, price float64) (*Order, error)
	PlaceStopLoss(ctx context.Context, symbol string, side Side, amount, stopPrice float64) (*Order, error)
	PlaceTakeProfit(ctx context.Context, symbol string, side Side, amount, price float64) (*Order, error)

	CancelOrder(ctx context.Context, symbol, orderID string) (bool, error)
	CancelAllOrders(ctx context.Context, symbol string) (bool, error)

	// ClosePositionMarket submits a reduce-only market order to flatten a
	// position. reason is informational only (used in logs/reconciliation
	// entries), matching the original's reason-tagged market close.
	ClosePositionMarket(ctx context.Context, symbol string, side Side, amount float64, reason string) (*Order, error)

	// PlaceMarketOrder submits a plain (non-reduce-only) market order. Used
	// as the forced-closure fallback when the exchange rejects a reduce-only
	// close because the position has already moved, per spec.md §4.5.4.
	PlaceMarketOrder(ctx context.Context, symbol string, side Side, amount float64, reason string) (*Order, error)

	// Precision helpers
	AmountToPrecision(ctx context.Context, symbol string, amount float64) (float64, error)
	PriceToPrecision(ctx context.Context, symbol string, price float64) (float64, error)
}
