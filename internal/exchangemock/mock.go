// Package exchangemock provides a configurable fake of exchange.Port for use
// in tests across the reconciliation core, grounded on the teacher's
// internal/mock.DataProvider and internal/broker MockBroker pattern: a
// struct of function fields the test sets only the hooks it needs. Most
// unconfigured calls panic loudly; MarketInfo, AmountToPrecision and
// PriceToPrecision fall back to defaults instead.
package exchangemock

import (
	"context"

	"github.com/eddiefleurent/orderblock-reconciler/internal/exchange"
)

// Port is a function-field fake implementing exchange.Port.
type Port struct {
	FetchCandlesFn      func(ctx context.Context, symbol, timeframe string, limit int) ([]exchange.Candle, error)
	FetchTickerFn       func(ctx context.Context, symbol string) (*exchange.Ticker, error)
	MarketInfoFn        func(ctx context.Context, symbol string) (*exchange.Market, error)
	GetFreeBalanceFn    func(ctx context.Context) (float64, error)
	GetFullBalanceFn    func(ctx context.Context) (*exchange.FullBalance, error)
	GetPositionFn       func(ctx context.Context, symbol string) (*exchange.Position, error)
	GetAllPositionsFn   func(ctx context.Context) ([]exchange.Position, error)
	GetOpenOrdersFn     func(ctx context.Context, symbol string) ([]exchange.Order, error)
	GetAllOpenOrdersFn  func(ctx context.Context) ([]exchange.Order, error)
	GetOrderStatusFn    func(ctx context.Context, symbol, orderID string) (*exchange.Order, error)
	PlaceLimitFn        func(ctx context.Context, symbol string, side exchange.Side, amount, price float64) (*exchange.Order, error)
	PlaceStopLossFn     func(ctx context.Context, symbol string, side exchange.Side, amount, stopPrice float64) (*exchange.Order, error)
	PlaceTakeProfitFn   func(ctx context.Context, symbol string, side exchange.Side, amount, price float64) (*exchange.Order, error)
	CancelOrderFn       func(ctx context.Context, symbol, orderID string) (bool, error)
	CancelAllOrdersFn   func(ctx context.Context, symbol string) (bool, error)
	ClosePositionFn     func(ctx context.Context, symbol string, side exchange.Side, amount float64, reason string) (*exchange.Order, error)
	PlaceMarketOrderFn  func(ctx context.Context, symbol string, side exchange.Side, amount float64, reason string) (*exchange.Order, error)
	AmountToPrecisionFn func(ctx context.Context, symbol string, amount float64) (float64, error)
	PriceToPrecisionFn  func(ctx context.Context, symbol string, price float64) (float64, error)

	// Calls records the name of every method invoked, in order, for tests
	// that assert on call counts (e.g. "zero create_order calls").
	Calls []string
}

var _ exchange.Port = (*Port)(nil)

func (p *Port) record(name string) { p.Calls = append(p.Calls, name) }

// CallCount returns how many times method name was invoked.
func (p *Port) CallCount(name string) int {
	n := 0
	for _, c := range p.Calls {
		if c == name {
			n++
		}
	}
	return n
}

func (p *Port) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]exchange.Candle, error) {
	p.record("FetchCandles")
	return p.FetchCandlesFn(ctx, symbol, timeframe, limit)
}

func (p *Port) FetchTicker(ctx context.Context, symbol string) (*exchange.Ticker, error) {
	p.record("FetchTicker")
	return p.FetchTickerFn(ctx, symbol)
}

func (p *Port) MarketInfo(ctx context.Context, symbol string) (*exchange.Market, error) {
	p.record("MarketInfo")
	if p.MarketInfoFn == nil {
		return &exchange.Market{TickSize: 0.1}, nil
	}
	return p.MarketInfoFn(ctx, symbol)
}

func (p *Port) GetFreeBalance(ctx context.Context) (float64, error) {
	p.record("GetFreeBalance")
	return p.GetFreeBalanceFn(ctx)
}

func (p *Port) GetFullBalance(ctx context.Context) (*exchange.FullBalance, error) {
	p.record("GetFullBalance")
	return p.GetFullBalanceFn(ctx)
}

func (p *Port) GetPosition(ctx context.Context, symbol string) (*exchange.Position, error) {
	p.record("GetPosition")
	return p.GetPositionFn(ctx, symbol)
}

func (p *Port) GetAllPositions(ctx context.Context) ([]exchange.Position, error) {
	p.record("GetAllPositions")
	return p.GetAllPositionsFn(ctx)
}

func (p *Port) GetOpenOrders(ctx context.Context, symbol string) ([]exchange.Order, error) {
	p.record("GetOpenOrders")
	return p.GetOpenOrdersFn(ctx, symbol)
}

func (p *Port) GetAllOpenOrders(ctx context.Context) ([]exchange.Order, error) {
	p.record("GetAllOpenOrders")
	return p.GetAllOpenOrdersFn(ctx)
}

func (p *Port) GetOrderStatus(ctx context.Context, symbol, orderID string) (*exchange.Order, error) {
	p.record("GetOrderStatus")
	return p.GetOrderStatusFn(ctx, symbol, orderID)
}

func (p *Port) PlaceLimit(ctx context.Context, symbol string, side exchange.Side, amount, price float64) (*exchange.Order, error) {
	p.record("PlaceLimit")
	return p.PlaceLimitFn(ctx, symbol, side, amount, price)
}

func (p *Port) PlaceStopLoss(ctx context.Context, symbol string, side exchange.Side, amount, stopPrice float64) (*exchange.Order, error) {
	p.record("PlaceStopLoss")
	return p.PlaceStopLossFn(ctx, symbol, side, amount, stopPrice)
}

func (p *Port) PlaceTakeProfit(ctx context.Context, symbol string, side exchange.Side, amount, price float64) (*exchange.Order, error) {
	p.record("PlaceTakeProfit")
	return p.PlaceTakeProfitFn(ctx, symbol, side, amount, price)
}

func (p *Port) CancelOrder(ctx context.Context, symbol, orderID string) (bool, error) {
	p.record("CancelOrder")
	return p.CancelOrderFn(ctx, symbol, orderID)
}

func (p *Port) CancelAllOrders(ctx context.Context, symbol string) (bool, error) {
	p.record("CancelAllOrders")
	return p.CancelAllOrdersFn(ctx, symbol)
}

func (p *Port) ClosePositionMarket(ctx context.Context, symbol string, side exchange.Side, amount float64, reason string) (*exchange.Order, error) {
	p.record("ClosePositionMarket")
	return p.ClosePositionFn(ctx, symbol, side, amount, reason)
}

func (p *Port) PlaceMarketOrder(ctx context.Context, symbol string, side exchange.Side, amount float64, reason string) (*exchange.Order, error) {
	p.record("PlaceMarketOrder")
	return p.PlaceMarketOrderFn(ctx, symbol, side, amount, reason)
}

func (p *Port) AmountToPrecision(ctx context.Context, symbol string, amount float64) (float64, error) {
	p.record("AmountToPrecision")
	if p.AmountToPrecisionFn == nil {
		return amount, nil
	}
	return p.AmountToPrecisionFn(ctx, symbol, amount)
}

func (p *Port) PriceToPrecision(ctx context.Context, symbol string, price float64) (float64, error) {
	p.record("PriceToPrecision")
	if p.PriceToPrecisionFn == nil {
		return price, nil
	}
	return p.PriceToPrecisionFn(ctx, symbol, price)
}
