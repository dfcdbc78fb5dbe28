// Package config provides configuration management for the reconciler.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// Defaults, mirroring the documented environment defaults.
const (
	defaultTimeframe                = "30m"
	defaultRRRatio                  = 2.0
	defaultRiskPerTradePct          = 1.0
	defaultPivotLookback            = 5
	defaultPositionInterval         = 600 * time.Second
	defaultPendingStaleSeconds      = 900 * time.Second
	defaultQuantityTolerancePct     = 1.0
	defaultBufferTicks              = 1
	defaultBackoffSeconds           = 60
	defaultForcedClosureRateLimit   = 500 * time.Millisecond
	defaultPlacementCooldownSeconds = 30
	defaultCyclePeriod              = 120 * time.Second
	defaultDataDir                  = "data"
	defaultAPIPort                  = 8080

	minPendingStaleSeconds = 900
	maxPendingStaleSeconds = 3600
)

// FallbackMode selects what the reconciler does when the market has already
// crossed a TP or SL price before the reduce-only leg is placed.
type FallbackMode string

const (
	FallbackMarketReduce FallbackMode = "MARKET_REDUCE"
	FallbackNone         FallbackMode = "NONE"
)

// Config represents the complete application configuration.
type Config struct {
	Exchange       ExchangeConfig       `yaml:"exchange"`
	Strategy       StrategyConfig       `yaml:"strategy"`
	Trading        TradingConfig        `yaml:"trading"`
	Reconciliation ReconciliationConfig `yaml:"reconciliation"`
	Worker         WorkerConfig         `yaml:"worker"`
	Storage        StorageConfig        `yaml:"storage"`
	API            APIConfig            `yaml:"api"`
}

// ExchangeConfig carries exchange credentials and environment.
type ExchangeConfig struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	Testnet   bool   `yaml:"testnet"`
}

// StrategyConfig defines the order-block detection and trade-planning
// parameters.
type StrategyConfig struct {
	Timeframe       string  `yaml:"timeframe"`
	RRRatio         float64 `yaml:"rr_ratio"`
	RiskPerTradePct float64 `yaml:"risk_per_trade_pct"`
	PivotLookback   int     `yaml:"pivot_lookback"`
}

// TradingConfig lists the symbols the worker cycles over.
type TradingConfig struct {
	Pairs []string `yaml:"pairs"`
}

// ReconciliationConfig defines tunables for the reconciliation engine.
type ReconciliationConfig struct {
	PositionInterval             time.Duration `yaml:"position_interval"`
	PendingStaleSeconds          time.Duration `yaml:"pending_stale_seconds"`
	TPSLQuantityTolerancePct     float64       `yaml:"tp_sl_quantity_tolerance_pct"`
	TPSLBufferTicks              int           `yaml:"tp_sl_buffer_ticks"`
	TPSLBackoffSeconds           int           `yaml:"tp_sl_backoff_seconds"`
	TPSLFallbackMode             FallbackMode  `yaml:"tp_sl_fallback_mode"`
	EnableActiveMonitoring       bool          `yaml:"enable_active_monitoring"`
	ForcedClosureRateLimitDelay  time.Duration `yaml:"forced_closure_rate_limit_delay"`
	TPSLPlacementCooldownSeconds int           `yaml:"tp_sl_placement_cooldown_seconds"`
}

// WorkerConfig defines the main cycle cadence.
type WorkerConfig struct {
	CyclePeriod time.Duration `yaml:"cycle_period"`
}

// StorageConfig defines where persisted state files live.
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

// APIConfig defines the read-only HTTP API server.
type APIConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file %q: %w", configPath, err)
	}

	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config %q: %w", configPath, err)
	}

	config.Normalize()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Normalize fills in documented defaults for any field left unset.
func (c *Config) Normalize() {
	if strings.TrimSpace(c.Strategy.Timeframe) == "" {
		c.Strategy.Timeframe = defaultTimeframe
	}
	if c.Strategy.RRRatio == 0 {
		c.Strategy.RRRatio = defaultRRRatio
	}
	if c.Strategy.RiskPerTradePct == 0 {
		c.Strategy.RiskPerTradePct = defaultRiskPerTradePct
	}
	if c.Strategy.PivotLookback == 0 {
		c.Strategy.PivotLookback = defaultPivotLookback
	}
	if c.Reconciliation.PositionInterval == 0 {
		c.Reconciliation.PositionInterval = defaultPositionInterval
	}
	if c.Reconciliation.PendingStaleSeconds == 0 {
		c.Reconciliation.PendingStaleSeconds = defaultPendingStaleSeconds
	}
	if c.Reconciliation.TPSLQuantityTolerancePct == 0 {
		c.Reconciliation.TPSLQuantityTolerancePct = defaultQuantityTolerancePct
	}
	if c.Reconciliation.TPSLBufferTicks == 0 {
		c.Reconciliation.TPSLBufferTicks = defaultBufferTicks
	}
	if c.Reconciliation.TPSLBackoffSeconds == 0 {
		c.Reconciliation.TPSLBackoffSeconds = defaultBackoffSeconds
	}
	if strings.TrimSpace(string(c.Reconciliation.TPSLFallbackMode)) == "" {
		c.Reconciliation.TPSLFallbackMode = FallbackMarketReduce
	}
	if c.Reconciliation.ForcedClosureRateLimitDelay == 0 {
		c.Reconciliation.ForcedClosureRateLimitDelay = defaultForcedClosureRateLimit
	}
	if c.Reconciliation.TPSLPlacementCooldownSeconds == 0 {
		c.Reconciliation.TPSLPlacementCooldownSeconds = defaultPlacementCooldownSeconds
	}
	if c.Worker.CyclePeriod == 0 {
		c.Worker.CyclePeriod = defaultCyclePeriod
	}
	if strings.TrimSpace(c.Storage.DataDir) == "" {
		c.Storage.DataDir = defaultDataDir
	}
	if c.API.Enabled && c.API.Port == 0 {
		c.API.Port = defaultAPIPort
	}
}

// Validate checks that all configuration values are valid and consistent.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Exchange.APIKey) == "" {
		return fmt.Errorf("exchange.api_key is required")
	}
	if strings.TrimSpace(c.Exchange.APISecret) == "" {
		return fmt.Errorf("exchange.api_secret is required")
	}

	if len(c.Trading.Pairs) == 0 {
		return fmt.Errorf("trading.pairs must contain at least one symbol")
	}
	for _, p := range c.Trading.Pairs {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("trading.pairs must not contain empty symbols")
		}
	}

	if c.Strategy.RRRatio <= 0 {
		return fmt.Errorf("strategy.rr_ratio must be > 0")
	}
	if c.Strategy.RiskPerTradePct <= 0 || c.Strategy.RiskPerTradePct > 100 {
		return fmt.Errorf("strategy.risk_per_trade_pct must be in (0,100]")
	}
	if c.Strategy.PivotLookback <= 0 {
		return fmt.Errorf("strategy.pivot_lookback must be > 0")
	}
	if strings.TrimSpace(c.Strategy.Timeframe) == "" {
		return fmt.Errorf("strategy.timeframe is required")
	}

	switch c.Reconciliation.TPSLFallbackMode {
	case FallbackMarketReduce, FallbackNone:
	default:
		return fmt.Errorf("reconciliation.tp_sl_fallback_mode must be MARKET_REDUCE or NONE")
	}

	staleSeconds := int(c.Reconciliation.PendingStaleSeconds / time.Second)
	if staleSeconds < minPendingStaleSeconds || staleSeconds > maxPendingStaleSeconds {
		return fmt.Errorf("reconciliation.pending_stale_seconds must be in [%d,%d]",
			minPendingStaleSeconds, maxPendingStaleSeconds)
	}
	if c.Reconciliation.TPSLQuantityTolerancePct <= 0 {
		return fmt.Errorf("reconciliation.tp_sl_quantity_tolerance_pct must be > 0")
	}
	if c.Reconciliation.TPSLBufferTicks < 0 {
		return fmt.Errorf("reconciliation.tp_sl_buffer_ticks must be >= 0")
	}
	if c.Reconciliation.TPSLBackoffSeconds <= 0 {
		return fmt.Errorf("reconciliation.tp_sl_backoff_seconds must be > 0")
	}
	if c.Reconciliation.TPSLPlacementCooldownSeconds < 0 {
		return fmt.Errorf("reconciliation.tp_sl_placement_cooldown_seconds must be >= 0")
	}
	if c.Reconciliation.PositionInterval <= 0 {
		return fmt.Errorf("reconciliation.position_interval must be > 0")
	}
	if c.Reconciliation.ForcedClosureRateLimitDelay < 0 {
		return fmt.Errorf("reconciliation.forced_closure_rate_limit_delay must be >= 0")
	}

	if c.Worker.CyclePeriod <= 0 {
		return fmt.Errorf("worker.cycle_period must be > 0")
	}

	if strings.TrimSpace(c.Storage.DataDir) == "" {
		return fmt.Errorf("storage.data_dir is required")
	}

	if c.API.Enabled && (c.API.Port <= 0 || c.API.Port > 65535) {
		return fmt.Errorf("api.port must be between 1 and 65535")
	}

	return nil
}

// PendingOrderStaleSeconds returns the stale threshold as an int, matching
// the environment-variable name this was distilled from.
func (c *Config) PendingOrderStaleSeconds() int {
	return int(c.Reconciliation.PendingStaleSeconds / time.Second)
}
