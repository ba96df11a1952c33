package infra

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config holds every tunable of the trading system. Percentages are parsed
// as decimals at the boundary and converted to float64 exactly once when the
// engines are constructed; nothing downstream re-parses configuration.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Trading struct {
		PaperMode     bool     `yaml:"paper_mode"`
		DryRun        bool     `yaml:"dry_run"` // historical replay, no broker traffic
		EnableTrading bool     `yaml:"enable_trading"`
		DataType      string   `yaml:"data_type"` // trades | quotes | bars
		Symbols       []string `yaml:"symbols"`
		APIKey        string   `yaml:"api_key"`
		APISecret     string   `yaml:"api_secret"`
		FeedURL       string   `yaml:"feed_url"`
	} `yaml:"trading"`

	Risk struct {
		MaxPositionSize       int64           `yaml:"max_position_size"`
		MaxPositionValue      decimal.Decimal `yaml:"max_position_value"`
		MaxTotalExposure      decimal.Decimal `yaml:"max_total_exposure"`
		MaxOrdersPerMinute    int             `yaml:"max_orders_per_minute"`
		MaxOrdersPerMinSymbol int             `yaml:"max_orders_per_minute_per_symbol"`
		MinCashBuffer         decimal.Decimal `yaml:"min_cash_buffer"`
	} `yaml:"risk"`

	Stops struct {
		PositionStopPct      decimal.Decimal `yaml:"position_stop_pct"`
		TrailingStopPct      decimal.Decimal `yaml:"trailing_stop_pct"`
		PortfolioStopPct     decimal.Decimal `yaml:"portfolio_stop_pct"`
		MaxDrawdownPct       decimal.Decimal `yaml:"max_drawdown_pct"`
		UseTrailingStops     bool            `yaml:"use_trailing_stops"`
		EnableCircuitBreaker bool            `yaml:"enable_circuit_breaker"`
	} `yaml:"stops"`

	Matching struct {
		FillAt       string          `yaml:"fill_at"` // open | close | vwap
		SlippageBps  decimal.Decimal `yaml:"slippage_bps"`
		MaxVolumePct decimal.Decimal `yaml:"max_volume_pct"`
		DefaultTIF   string          `yaml:"default_tif"` // day | gtc | ioc | fok
	} `yaml:"matching"`

	Engine struct {
		InitialCapital    decimal.Decimal `yaml:"initial_capital"`
		StatusLogInterval int             `yaml:"status_log_interval_sec"`
		LogOrders         bool            `yaml:"log_orders"`
		AuditLogPath      string          `yaml:"audit_log_path"`
		HealthPath        string          `yaml:"health_path"`
		SignalCooldownSec int             `yaml:"signal_cooldown_sec"`
	} `yaml:"engine"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// LoadConfig reads and parses the configuration file, applies environment
// variable overrides for secrets, and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if len(c.Trading.Symbols) == 0 {
		return fmt.Errorf("at least one symbol is required")
	}
	switch c.Trading.DataType {
	case "", "trades", "quotes", "bars":
	default:
		return fmt.Errorf("invalid data_type: %s", c.Trading.DataType)
	}

	switch c.Matching.FillAt {
	case "", "open", "close", "vwap":
	default:
		return fmt.Errorf("invalid fill_at: %s", c.Matching.FillAt)
	}
	switch c.Matching.DefaultTIF {
	case "", "day", "gtc", "ioc", "fok":
	default:
		return fmt.Errorf("invalid default_tif: %s", c.Matching.DefaultTIF)
	}

	one := decimal.NewFromInt(1)
	if c.Matching.MaxVolumePct.IsNegative() || c.Matching.MaxVolumePct.GreaterThan(one) {
		return fmt.Errorf("max_volume_pct must be within [0, 1]")
	}
	if c.Matching.SlippageBps.IsNegative() {
		return fmt.Errorf("slippage_bps must be >= 0")
	}

	for field, v := range map[string]decimal.Decimal{
		"position_stop_pct":  c.Stops.PositionStopPct,
		"trailing_stop_pct":  c.Stops.TrailingStopPct,
		"portfolio_stop_pct": c.Stops.PortfolioStopPct,
		"max_drawdown_pct":   c.Stops.MaxDrawdownPct,
	} {
		if v.IsNegative() || v.GreaterThan(one) {
			return fmt.Errorf("%s must be within [0, 1]", field)
		}
	}

	if c.Engine.InitialCapital.IsNegative() || c.Engine.InitialCapital.IsZero() {
		return fmt.Errorf("initial_capital must be positive")
	}
	if c.Risk.MaxOrdersPerMinute <= 0 {
		return fmt.Errorf("max_orders_per_minute must be positive")
	}
	if c.Risk.MaxOrdersPerMinSymbol <= 0 {
		return fmt.Errorf("max_orders_per_minute_per_symbol must be positive")
	}

	return nil
}

// overrideWithEnv overrides sensitive values from the environment.
func overrideWithEnv(cfg *Config) {
	if key := os.Getenv("TRADER_API_KEY"); key != "" {
		cfg.Trading.APIKey = key
	}
	if secret := os.Getenv("TRADER_API_SECRET"); secret != "" {
		cfg.Trading.APISecret = secret
	}
	if url := os.Getenv("TRADER_FEED_URL"); url != "" {
		cfg.Trading.FeedURL = url
	}
}
