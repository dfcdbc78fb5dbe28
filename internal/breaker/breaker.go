// Package breaker wraps an exchange.Port behind a circuit breaker so a
// string of exchange failures trips open and fails fast instead of piling
// up blocked goroutines against a struggling API, grounded on the teacher's
// CircuitBreakerBroker contract (internal/broker/interface_test.go) — the
// broker's own implementation file was not present in the retrieved pack,
// so this package rebuilds it from that test's observable behavior.
package breaker

import (
	"context"
	"time"

	"github.com/eddiefleurent/orderblock-reconciler/internal/exchange"
	"github.com/sony/gobreaker"
)

// Settings configures the underlying gobreaker.CircuitBreaker, named to
// match the teacher's CircuitBreakerSettings field-for-field.
type Settings struct {
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	MinRequests  uint32
	FailureRatio float64
}

// DefaultSettings trips once at least 5 requests in a rolling window have
// been seen and at least half of them failed, and goes half-open to probe
// again after 30s.
var DefaultSettings = Settings{
	MaxRequests:  1,
	Interval:     60 * time.Second,
	Timeout:      30 * time.Second,
	MinRequests:  5,
	FailureRatio: 0.5,
}

// Port wraps an exchange.Port with a single shared circuit breaker across
// all operations: a burst of failures on any call (balance fetch, order
// placement, candle fetch) trips the same breaker, reflecting that they all
// share one upstream exchange connection.
type Port struct {
	inner   exchange.Port
	breaker *gobreaker.CircuitBreaker
}

var _ exchange.Port = (*Port)(nil)

// New wraps inner with DefaultSettings.
func New(inner exchange.Port) *Port {
	return NewWithSettings(inner, DefaultSettings)
}

// NewWithSettings wraps inner with explicit breaker settings.
func NewWithSettings(inner exchange.Port, settings Settings) *Port {
	st := gobreaker.Settings{
		Name:        "exchange-port",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
	}
	return &Port{inner: inner, breaker: gobreaker.NewCircuitBreaker(st)}
}

// State exposes the breaker's current state for health checks and logging.
func (p *Port) State() gobreaker.State {
	return p.breaker.State()
}

func execute[T any](p *Port, fn func() (T, error)) (T, error) {
	result, err := p.breaker.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result.(T), nil
}

func (p *Port) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]exchange.Candle, error) {
	return execute(p, func() ([]exchange.Candle, error) { return p.inner.FetchCandles(ctx, symbol, timeframe, limit) })
}

func (p *Port) FetchTicker(ctx context.Context, symbol string) (*exchange.Ticker, error) {
	return execute(p, func() (*exchange.Ticker, error) { return p.inner.FetchTicker(ctx, symbol) })
}

func (p *Port) MarketInfo(ctx context.Context, symbol string) (*exchange.Market, error) {
	return execute(p, func() (*exchange.Market, error) { return p.inner.MarketInfo(ctx, symbol) })
}

func (p *Port) GetFreeBalance(ctx context.Context) (float64, error) {
	return execute(p, func() (float64, error) { return p.inner.GetFreeBalance(ctx) })
}

func (p *Port) GetFullBalance(ctx context.Context) (*exchange.FullBalance, error) {
	return execute(p, func() (*exchange.FullBalance, error) { return p.inner.GetFullBalance(ctx) })
}

func (p *Port) GetPosition(ctx context.Context, symbol string) (*exchange.Position, error) {
	return execute(p, func() (*exchange.Position, error) { return p.inner.GetPosition(ctx, symbol) })
}

func (p *Port) GetAllPositions(ctx context.Context) ([]exchange.Position, error) {
	return execute(p, func() ([]exchange.Position, error) { return p.inner.GetAllPositions(ctx) })
}

func (p *Port) GetOpenOrders(ctx context.Context, symbol string) ([]exchange.Order, error) {
	return execute(p, func() ([]exchange.Order, error) { return p.inner.GetOpenOrders(ctx, symbol) })
}

func (p *Port) GetAllOpenOrders(ctx context.Context) ([]exchange.Order, error) {
	return execute(p, func() ([]exchange.Order, error) { return p.inner.GetAllOpenOrders(ctx) })
}

func (p *Port) GetOrderStatus(ctx context.Context, symbol, orderID string) (*exchange.Order, error) {
	return execute(p, func() (*exchange.Order, error) { return p.inner.GetOrderStatus(ctx, symbol, orderID) })
}

func (p *Port) PlaceLimit(ctx context.Context, symbol string, side exchange.Side, amount, price float64) (*exchange.Order, error) {
	return execute(p, func() (*exchange.Order, error) { return p.inner.PlaceLimit(ctx, symbol, side, amount, price) })
}

func (p *Port) PlaceStopLoss(ctx context.Context, symbol string, side exchange.Side, amount, stopPrice float64) (*exchange.Order, error) {
	return execute(p, func() (*exchange.Order, error) { return p.inner.PlaceStopLoss(ctx, symbol, side, amount, stopPrice) })
}

func (p *Port) PlaceTakeProfit(ctx context.Context, symbol string, side exchange.Side, amount, price float64) (*exchange.Order, error) {
	return execute(p, func() (*exchange.Order, error) { return p.inner.PlaceTakeProfit(ctx, symbol, side, amount, price) })
}

func (p *Port) CancelOrder(ctx context.Context, symbol, orderID string) (bool, error) {
	return execute(p, func() (bool, error) { return p.inner.CancelOrder(ctx, symbol, orderID) })
}

func (p *Port) CancelAllOrders(ctx context.Context, symbol string) (bool, error) {
	return execute(p, func() (bool, error) { return p.inner.CancelAllOrders(ctx, symbol) })
}

func (p *Port) ClosePositionMarket(ctx context.Context, symbol string, side exchange.Side, amount float64, reason string) (*exchange.Order, error) {
	return execute(p, func() (*exchange.Order, error) {
		return p.inner.ClosePositionMarket(ctx, symbol, side, amount, reason)
	})
}

func (p *Port) PlaceMarketOrder(ctx context.Context, symbol string, side exchange.Side, amount float64, reason string) (*exchange.Order, error) {
	return execute(p, func() (*exchange.Order, error) {
		return p.inner.PlaceMarketOrder(ctx, symbol, side, amount, reason)
	})
}

func (p *Port) AmountToPrecision(ctx context.Context, symbol string, amount float64) (float64, error) {
	return execute(p, func() (float64, error) { return p.inner.AmountToPrecision(ctx, symbol, amount) })
}

func (p *Port) PriceToPrecision(ctx context.Context, symbol string, price float64) (float64, error) {
	return execute(p, func() (float64, error) { return p.inner.PriceToPrecision(ctx, symbol, price) })
}
