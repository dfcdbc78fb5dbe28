// Package api implements the read-only HTTP surface over the State Store:
// status, balance, positions, trades, per-symbol market data, metrics, and
// pending orders, all JSON, plus /metrics in Prometheus exposition format.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/eddiefleurent/orderblock-reconciler/internal/exchange"
	"github.com/eddiefleurent/orderblock-reconciler/internal/metrics"
	"github.com/eddiefleurent/orderblock-reconciler/internal/signal"
	"github.com/eddiefleurent/orderblock-reconciler/internal/state"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Config carries the tunables the server needs beyond the port and store.
type Config struct {
	Port          int
	Symbols       []string
	Timeframe     string
	CandleLimit   int
	PivotLookback int
}

// Server is the chi-mux read API, grounded on the teacher's dashboard
// server's router/middleware setup, with all HTML template rendering
// dropped: every handler here writes JSON.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	store     *state.Store
	port      exchange.Port
	logger    *logrus.Logger
	cfg       Config
	refresher *metrics.Refresher
}

// NewServer builds a Server and wires its routes.
func NewServer(cfg Config, store *state.Store, xport exchange.Port, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	s := &Server{
		router:    chi.NewRouter(),
		store:     store,
		port:      xport,
		logger:    logger,
		cfg:       cfg,
		refresher: metrics.NewRefresher(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLoggerMiddleware)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))

	s.router.Get("/api/status", s.handleStatus)
	s.router.Get("/api/balance", s.handleBalance)
	s.router.Get("/api/positions", s.handlePositions)
	s.router.Get("/api/trades", s.handleTrades)
	s.router.Get("/api/market-data/{symbol}", s.handleMarketData)
	s.router.Get("/api/all-market-data", s.handleAllMarketData)
	s.router.Get("/api/metrics", s.handleMetrics)
	s.router.Get("/api/pending-orders", s.handlePendingOrders)
	promHandler := promhttp.Handler()
	var refreshMu sync.Mutex
	s.router.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		refreshMu.Lock()
		s.refresher.Refresh(s.store)
		refreshMu.Unlock()
		promHandler.ServeHTTP(w, r)
	})
	s.router.Get("/health", s.handleHealth)
}

func (s *Server) requestLoggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(wrapped, r)
		s.logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   wrapped.Status(),
			"duration": time.Since(start),
		}).Debug("api request")
	})
}

// Start runs the HTTP server until it is shut down or fails.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.logger.WithField("port", s.cfg.Port).Info("api: starting HTTP server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("api: failed to encode response")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]interface{}{"status": "healthy", "timestamp": time.Now().Unix()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	positions := s.store.ListPositions()
	balance, err := s.port.GetFullBalance(r.Context())
	if err != nil {
		s.logger.WithError(err).Warn("api: failed to fetch balance for status")
	}

	var totalPnL float64
	for _, p := range positions {
		totalPnL += p.UnrealizedPnL
	}

	s.writeJSON(w, map[string]interface{}{
		"balance":          balance.Total,
		"total_pnl":        totalPnL,
		"last_update":      time.Now().UTC(),
		"trading_pairs":    s.cfg.Symbols,
		"active_positions": len(positions),
		"positions":        positions,
	})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := s.port.GetFullBalance(r.Context())
	if err != nil {
		s.logger.WithError(err).Error("api: failed to fetch balance")
		http.Error(w, "failed to fetch balance", http.StatusBadGateway)
		return
	}
	s.writeJSON(w, map[string]interface{}{
		"total":        balance.Total,
		"free":         balance.Free,
		"in_positions": balance.Used,
		"currency":     "USDC",
	})
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]interface{}{"positions": s.store.ListPositions()})
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]interface{}{"trades": s.store.ListTrades()})
}

func (s *Server) handleMarketData(w http.ResponseWriter, r *http.Request) {
	symbol := state.NormalizeSymbol(chi.URLParam(r, "symbol"))
	data, err := s.marketDataFor(r.Context(), symbol)
	if err != nil {
		s.logger.WithError(err).WithField("symbol", symbol).Error("api: failed to build market data")
		http.Error(w, "failed to fetch market data", http.StatusBadGateway)
		return
	}
	s.writeJSON(w, data)
}

func (s *Server) handleAllMarketData(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]interface{}, len(s.cfg.Symbols))
	for _, symbol := range s.cfg.Symbols {
		data, err := s.marketDataFor(r.Context(), symbol)
		if err != nil {
			s.logger.WithError(err).WithField("symbol", symbol).Warn("api: failed to build market data, skipping symbol")
			continue
		}
		out[symbol] = data
	}
	s.writeJSON(w, out)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	m := s.store.Metrics()
	s.writeJSON(w, map[string]interface{}{
		"metrics":            m,
		"reconciliation_log": s.store.ListReconciliationLog(),
		"pending_orders":     m.PendingOrdersCount,
	})
}

func (s *Server) handlePendingOrders(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]interface{}{"pending_orders": s.store.ListPendingOrders()})
}

// marketDataFor assembles the candles/order-blocks/position/current-price
// view shared by /api/market-data/{symbol} and /api/all-market-data, with
// distance_pct from current price to each block's entry edge in both.
func (s *Server) marketDataFor(ctx context.Context, symbol string) (map[string]interface{}, error) {
	candles, err := s.port.FetchCandles(ctx, symbol, s.cfg.Timeframe, s.cfg.CandleLimit)
	if err != nil {
		return nil, fmt.Errorf("fetch candles for %s: %w", symbol, err)
	}
	blocks := signal.Detect(candles, s.cfg.PivotLookback)

	var currentPrice float64
	if ticker, err := s.port.FetchTicker(ctx, symbol); err == nil && ticker != nil {
		currentPrice = ticker.MarkPrice
	} else if len(candles) > 0 {
		currentPrice = candles[len(candles)-1].Close
	}

	blockViews := make([]map[string]interface{}, 0, len(blocks))
	for _, b := range blocks {
		blockViews = append(blockViews, map[string]interface{}{
			"kind":         string(b.Kind),
			"top":          b.Top,
			"bottom":       b.Bottom,
			"pivot_time":   b.PivotTime,
			"distance_pct": distancePct(b, currentPrice),
		})
	}

	position, hasPosition := s.store.GetPosition(symbol)
	pendingOrder, hasPending := s.store.GetPendingOrder(symbol)

	out := map[string]interface{}{
		"symbol":        symbol,
		"ohlcv":         candles,
		"order_blocks":  blockViews,
		"current_price": currentPrice,
	}
	if hasPosition {
		out["position"] = position
	} else {
		out["position"] = nil
	}
	if hasPending {
		out["pending_order"] = pendingOrder
	}
	return out, nil
}

// distancePct reports how far current price sits from an order block's
// entry edge, as a percentage of that edge's price.
func distancePct(b signal.OrderBlock, currentPrice float64) float64 {
	edge := b.Top
	if b.Kind == signal.Bearish {
		edge = b.Bottom
	}
	if edge == 0 {
		return 0
	}
	return math.Abs(currentPrice-edge) / edge * 100
}
