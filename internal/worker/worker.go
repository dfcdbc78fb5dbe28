// Package worker implements the main cycle: the single goroutine that walks
// pending orders, refreshes cached market state, runs the breach safety net,
// and opens new entries, on a fixed period, grounded on the teacher's
// TradingCycle.Run loop shape.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/eddiefleurent/orderblock-reconciler/internal/config"
	"github.com/eddiefleurent/orderblock-reconciler/internal/exchange"
	"github.com/eddiefleurent/orderblock-reconciler/internal/planner"
	"github.com/eddiefleurent/orderblock-reconciler/internal/reconcile"
	"github.com/eddiefleurent/orderblock-reconciler/internal/signal"
	"github.com/eddiefleurent/orderblock-reconciler/internal/state"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Loop drives the six-step main cycle described in spec.md §4.6.
type Loop struct {
	port   exchange.Port
	store  *state.Store
	engine *reconcile.Engine
	logger *logrus.Logger

	symbols       []string
	timeframe     string
	candleLimit   int
	pivotLookback int
	plannerCfg    planner.Config

	cyclePeriod      time.Duration
	positionInterval time.Duration

	lastPositionReconcile time.Time
}

// candleLimitDefault mirrors the engine's default candle window; the worker
// keeps its own copy so it need not reach into the engine's unexported
// config.
const candleLimitDefault = 200

// New constructs a Loop wired from cfg, sharing port/store/engine with the
// rest of the process.
func New(port exchange.Port, store *state.Store, engine *reconcile.Engine, cfg *config.Config, logger *logrus.Logger) *Loop {
	if logger == nil {
		logger = logrus.New()
	}
	return &Loop{
		port:          port,
		store:         store,
		engine:        engine,
		logger:        logger,
		symbols:       normalizeAll(cfg.Trading.Pairs),
		timeframe:     cfg.Strategy.Timeframe,
		candleLimit:   candleLimitDefault,
		pivotLookback: cfg.Strategy.PivotLookback,
		plannerCfg: planner.Config{
			RRRatio:         cfg.Strategy.RRRatio,
			RiskPerTradePct: cfg.Strategy.RiskPerTradePct,
		},
		cyclePeriod:      cfg.Worker.CyclePeriod,
		positionInterval: cfg.Reconciliation.PositionInterval,
	}
}

func normalizeAll(symbols []string) []string {
	out := make([]string, len(symbols))
	for i, s := range symbols {
		out[i] = state.NormalizeSymbol(s)
	}
	return out
}

// Run blocks, executing one cycle immediately and then on every tick of the
// configured cycle period, until ctx is canceled. A failing cycle is logged
// and the loop continues; it never returns except on context cancellation.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.cyclePeriod)
	defer ticker.Stop()

	for {
		l.runCycle(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (l *Loop) runCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.WithField("panic", r).Error("worker: cycle panicked, continuing with next cycle")
		}
	}()

	if time.Since(l.lastPositionReconcile) >= l.positionInterval {
		if err := l.engine.ReconcilePositions(ctx, l.symbols); err != nil {
			l.logger.WithError(err).Error("worker: position reconciliation failed")
		}
		l.lastPositionReconcile = time.Now()
	}

	l.walkPendingOrders(ctx)
	l.refreshMarketState(ctx)
	l.engine.ReconcileBreaches(ctx)
	l.scanForEntries(ctx)
}

// walkPendingOrders implements spec.md §4.6 step 2.
func (l *Loop) walkPendingOrders(ctx context.Context) {
	l.engine.ReconcileStalePending(l.symbols)

	for _, symbol := range l.symbols {
		po, ok := l.store.GetPendingOrder(symbol)
		if !ok {
			continue
		}

		order, err := l.port.GetOrderStatus(ctx, symbol, po.ExchangeOrderID)
		if err != nil {
			l.logger.WithError(err).WithField("symbol", symbol).Warn("worker: failed to query pending order status")
			continue
		}
		if order == nil {
			continue
		}

		switch order.Status {
		case exchange.OrderStatusFilled:
			l.handleFilled(ctx, symbol, po, order.Filled)
		case exchange.OrderStatusPartial:
			l.handlePartialFill(ctx, symbol, po, order)
		case exchange.OrderStatusCanceled, exchange.OrderStatusExpired, exchange.OrderStatusRejected, exchange.OrderStatusNotFound:
			if err := l.store.RemovePendingOrder(symbol); err != nil {
				l.logger.WithError(err).WithField("symbol", symbol).Error("worker: failed to drop terminal pending order")
				continue
			}
			l.store.AppendReconciliationLog("pending_order_terminal", fmt.Sprintf("%s pending order %s resolved status=%s", symbol, po.ExchangeOrderID, order.Status))
		}
	}
}

func (l *Loop) handleFilled(ctx context.Context, symbol string, po state.PendingOrder, filledAmount float64) {
	if filledAmount <= 0 {
		filledAmount = po.Params.Quantity
	}
	isLong := po.Params.Side == exchange.SideBuy

	if _, err := l.engine.PlaceInitialTPSL(ctx, symbol, isLong, filledAmount, po.Params.TakeProfit, po.Params.StopLoss); err != nil {
		l.logger.WithError(err).WithField("symbol", symbol).Warn("worker: failed to place initial TP/SL after fill")
	}

	trade := state.Trade{
		Symbol:     symbol,
		Side:       positionSideOf(po.Params.Side),
		EntryPrice: po.Params.Entry,
		Size:       filledAmount,
		Status:     state.TradeOpen,
		TakeProfit: po.Params.TakeProfit,
		StopLoss:   po.Params.StopLoss,
		EntryTime:  time.Now().UTC(),
		Timestamp:  time.Now().UTC(),
	}
	if err := l.store.AppendTrade(trade); err != nil {
		l.logger.WithError(err).WithField("symbol", symbol).Error("worker: failed to record filled trade")
	}
	if err := l.store.RemovePendingOrder(symbol); err != nil {
		l.logger.WithError(err).WithField("symbol", symbol).Error("worker: failed to clear filled pending order")
	}
	_ = l.store.IncFilledOrders()
	l.store.AppendReconciliationLog("order_filled", fmt.Sprintf("%s entry filled size=%.8f", symbol, filledAmount))
}

func (l *Loop) handlePartialFill(ctx context.Context, symbol string, po state.PendingOrder, order *exchange.Order) {
	isLong := po.Params.Side == exchange.SideBuy

	if _, err := l.engine.PlaceInitialTPSL(ctx, symbol, isLong, order.Filled, po.Params.TakeProfit, po.Params.StopLoss); err != nil {
		l.logger.WithError(err).WithField("symbol", symbol).Warn("worker: failed to place TP/SL on partial fill")
		return
	}

	po.PartialFill = true
	po.FilledAmount = order.Filled
	po.Params.Quantity = order.Remaining
	if err := l.store.UpsertPendingOrder(po); err != nil {
		l.logger.WithError(err).WithField("symbol", symbol).Error("worker: failed to record partial fill")
	}
}

// refreshMarketState implements spec.md §4.6 step 3: concurrently refresh
// balance, positions, and open orders, then update the cached mirrors.
func (l *Loop) refreshMarketState(ctx context.Context) {
	var (
		mu         sync.Mutex
		balance    *exchange.FullBalance
		positions  []exchange.Position
		openOrders = make(map[string][]exchange.Order, len(l.symbols))
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		b, err := l.port.GetFullBalance(gctx)
		if err != nil {
			return err
		}
		mu.Lock()
		balance = b
		mu.Unlock()
		return nil
	})

	g.Go(func() error {
		p, err := l.port.GetAllPositions(gctx)
		if err != nil {
			return err
		}
		mu.Lock()
		positions = p
		mu.Unlock()
		return nil
	})

	for _, symbol := range l.symbols {
		symbol := symbol
		g.Go(func() error {
			orders, err := l.port.GetOpenOrders(gctx, symbol)
			if err != nil {
				return err
			}
			mu.Lock()
			openOrders[symbol] = orders
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		l.logger.WithError(err).Warn("worker: market state refresh had partial failures, continuing with what succeeded")
	}

	for symbol, orders := range openOrders {
		l.store.SetOpenOrdersCache(symbol, orders)
	}

	var totalPnL float64
	for _, p := range positions {
		if p.Size == 0 {
			continue
		}
		symbol := state.NormalizeSymbol(p.Symbol)
		totalPnL += p.UnrealizedPnL
		if existing, ok := l.store.GetPosition(symbol); ok {
			existing.MarkPrice = p.MarkPrice
			existing.UnrealizedPnL = p.UnrealizedPnL
			existing.Size = p.Size
			l.store.UpsertPosition(existing)
		}
	}

	if balance != nil {
		point := state.BalancePoint{
			Timestamp: time.Now().UTC(),
			Total:     balance.Total,
			Free:      balance.Free,
			Used:      balance.Used,
			TotalPnL:  totalPnL,
		}
		if err := l.store.AppendBalancePoint(point); err != nil {
			l.logger.WithError(err).Warn("worker: failed to append balance timeline point")
		}
	}
}

// scanForEntries implements spec.md §4.6 step 5: for every symbol with
// neither a live position nor a pending order, detect order blocks, keep
// only those on the tradable side of the last close, and place a limit
// entry against the nearest of those.
func (l *Loop) scanForEntries(ctx context.Context) {
	for _, symbol := range l.symbols {
		if _, ok := l.store.GetPendingOrder(symbol); ok {
			continue
		}
		if _, ok := l.store.GetPosition(symbol); ok {
			continue
		}

		candles, err := l.port.FetchCandles(ctx, symbol, l.timeframe, l.candleLimit)
		if err != nil {
			l.logger.WithError(err).WithField("symbol", symbol).Warn("worker: failed to fetch candles for entry scan")
			continue
		}
		blocks := signal.Detect(candles, l.pivotLookback)
		if len(blocks) == 0 {
			continue
		}

		lastClose := candles[len(candles)-1].Close
		candidates := blocksOnCorrectSide(blocks, lastClose)
		if len(candidates) == 0 {
			continue
		}
		block := nearestBlock(candidates, lastClose)

		balance, err := l.port.GetFreeBalance(ctx)
		if err != nil {
			l.logger.WithError(err).WithField("symbol", symbol).Warn("worker: failed to fetch free balance for entry scan")
			continue
		}

		plan, err := planner.Plan(block, balance, l.plannerCfg)
		if err != nil {
			continue
		}
		plan.Symbol = symbol

		if _, err := l.port.CancelAllOrders(ctx, symbol); err != nil {
			l.logger.WithError(err).WithField("symbol", symbol).Warn("worker: failed to clear stray orders before entry")
		}

		amount, err := l.port.AmountToPrecision(ctx, symbol, plan.Quantity)
		if err != nil {
			amount = plan.Quantity
		}
		price, err := l.port.PriceToPrecision(ctx, symbol, plan.Entry)
		if err != nil {
			price = plan.Entry
		}

		order, err := l.port.PlaceLimit(ctx, symbol, plan.Side, amount, price)
		if err != nil || order == nil {
			l.logger.WithError(err).WithField("symbol", symbol).Warn("worker: failed to place entry order")
			continue
		}

		po := state.PendingOrder{
			Symbol:          symbol,
			ExchangeOrderID: order.OrderID,
			ClientOrderID:   uuid.NewString(),
			Params: state.PlanSnapshot{
				Symbol:     symbol,
				Side:       plan.Side,
				Entry:      price,
				StopLoss:   plan.StopLoss,
				TakeProfit: plan.TakeProfit,
				Quantity:   amount,
			},
			CreatedAt: time.Now().UTC(),
		}
		if err := l.store.UpsertPendingOrder(po); err != nil {
			l.logger.WithError(err).WithField("symbol", symbol).Error("worker: failed to record new entry as pending")
			continue
		}
		_ = l.store.IncPlacedOrders()
		l.store.AppendReconciliationLog("entry_placed", fmt.Sprintf("%s entry placed at %.8f client_order_id=%s", symbol, price, po.ClientOrderID))
	}
}

// blocksOnCorrectSide keeps only blocks still tradable at refPrice: a
// bullish block requires price to have already cleared its top, a bearish
// block requires price to have already dropped below its bottom, matching
// the original valid_candidates filter before distance ranking.
func blocksOnCorrectSide(blocks []signal.OrderBlock, refPrice float64) []signal.OrderBlock {
	out := make([]signal.OrderBlock, 0, len(blocks))
	for _, b := range blocks {
		switch b.Kind {
		case signal.Bullish:
			if refPrice > b.Top {
				out = append(out, b)
			}
		case signal.Bearish:
			if refPrice < b.Bottom {
				out = append(out, b)
			}
		}
	}
	return out
}

func nearestBlock(blocks []signal.OrderBlock, refPrice float64) signal.OrderBlock {
	best := blocks[0]
	bestDist := edgeDistance(best, refPrice)
	for _, b := range blocks[1:] {
		if d := edgeDistance(b, refPrice); d < bestDist {
			best, bestDist = b, d
		}
	}
	return best
}

func edgeDistance(b signal.OrderBlock, ref float64) float64 {
	edge := b.Top
	if b.Kind == signal.Bearish {
		edge = b.Bottom
	}
	d := ref - edge
	if d < 0 {
		d = -d
	}
	return d
}

func positionSideOf(side exchange.Side) exchange.PositionSide {
	if side == exchange.SideSell {
		return exchange.PositionShort
	}
	return exchange.PositionLong
}
