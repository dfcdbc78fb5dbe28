// Package main provides the entry point for the order block reconciler.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eddiefleurent/orderblock-reconciler/internal/api"
	"github.com/eddiefleurent/orderblock-reconciler/internal/breaker"
	"github.com/eddiefleurent/orderblock-reconciler/internal/config"
	"github.com/eddiefleurent/orderblock-reconciler/internal/exchange"
	"github.com/eddiefleurent/orderblock-reconciler/internal/exchange/binanceusdm"
	"github.com/eddiefleurent/orderblock-reconciler/internal/orderutil"
	"github.com/eddiefleurent/orderblock-reconciler/internal/reconcile"
	"github.com/eddiefleurent/orderblock-reconciler/internal/state"
	"github.com/eddiefleurent/orderblock-reconciler/internal/worker"
	"github.com/sirupsen/logrus"
)

// Bot wires the exchange port, state store, reconciliation engine, worker
// loop, and read API into a single runnable process.
type Bot struct {
	cfg       *config.Config
	port      exchange.Port
	store     *state.Store
	engine    *reconcile.Engine
	worker    *worker.Loop
	apiServer *api.Server
	logger    *logrus.Logger
}

func main() {
	os.Exit(run())
}

func run() int {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}

	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	bot, err := newBot(cfg, logger)
	if err != nil {
		logger.WithError(err).Error("failed to initialize bot")
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutdown signal received, stopping")
		cancel()
	}()

	if bot.apiServer != nil {
		go func() {
			if err := bot.apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).Error("api server error")
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := bot.apiServer.Shutdown(shutdownCtx); err != nil {
				logger.WithError(err).Error("error shutting down api server")
			}
		}()
	}

	if err := bot.startupReconcile(ctx); err != nil {
		logger.WithError(err).Warn("startup reconciliation failed, continuing with existing state")
	}

	logger.Info("worker loop starting")
	bot.worker.Run(ctx)
	logger.Info("worker loop stopped")
	return 0
}

func newBot(cfg *config.Config, logger *logrus.Logger) (*Bot, error) {
	adapter := binanceusdm.New(cfg.Exchange.APIKey, cfg.Exchange.APISecret, cfg.Exchange.Testnet)
	port := breaker.New(adapter)

	store := state.New(cfg.Storage.DataDir, logger)

	engineCfg := reconcile.Config{
		Timeframe:          cfg.Strategy.Timeframe,
		CandleLimit:        200,
		PivotLookback:      cfg.Strategy.PivotLookback,
		RRRatio:            cfg.Strategy.RRRatio,
		FallbackRiskPct:    cfg.Strategy.RiskPerTradePct,
		StaleAfter:         cfg.Reconciliation.PendingStaleSeconds,
		TPSLBackoffSeconds: cfg.Reconciliation.TPSLBackoffSeconds,
		TPSLFallbackMode:   orderutil.FallbackMode(cfg.Reconciliation.TPSLFallbackMode),
		PlacementCooldown:  time.Duration(cfg.Reconciliation.TPSLPlacementCooldownSeconds) * time.Second,
	}
	engine := reconcile.New(port, store, logger, engineCfg)

	workerLoop := worker.New(port, store, engine, cfg, logger)

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer = api.NewServer(api.Config{
			Port:          cfg.API.Port,
			Symbols:       cfg.Trading.Pairs,
			Timeframe:     cfg.Strategy.Timeframe,
			CandleLimit:   200,
			PivotLookback: cfg.Strategy.PivotLookback,
		}, store, port, logger)
	}

	return &Bot{
		cfg:       cfg,
		port:      port,
		store:     store,
		engine:    engine,
		worker:    workerLoop,
		apiServer: apiServer,
		logger:    logger,
	}, nil
}

// startupReconcile runs the exchange-first recovery pass for every
// configured symbol before the worker loop takes over, per spec.md §4.5.1.
func (b *Bot) startupReconcile(ctx context.Context) error {
	b.logger.Info("startup reconciliation: syncing with exchange reality")
	var firstErr error
	for _, symbol := range b.cfg.Trading.Pairs {
		if err := b.engine.StartupReconcileOrders(ctx, symbol); err != nil {
			b.logger.WithError(err).WithField("symbol", symbol).Error("startup reconciliation failed for symbol")
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if err := b.engine.SyncTradeHistory(ctx); err != nil {
		b.logger.WithError(err).Error("startup reconciliation: trade-history sync failed")
		if firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}
