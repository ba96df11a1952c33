// Package app orchestrates startup: configuration, logging, storage and the
// one-time conversion from boundary config into engine runtime types.
package app

import (
	"log/slog"
	"time"

	"trader_go/internal/domain"
	"trader_go/internal/engine"
	"trader_go/internal/execution"
	"trader_go/internal/infra"
	"trader_go/internal/infra/failure"
	"trader_go/internal/infra/storage"
	"trader_go/internal/risk"
)

// Bootstrap owns the resources acquired at startup and released at
// shutdown, in deterministic order, regardless of exit path.
type Bootstrap struct {
	Config   *infra.Config
	Store    *storage.BarStore
	Audit    *execution.AuditLog
	Failures *failure.Counter
}

// NewBootstrap creates an empty Bootstrap instance.
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize performs core system initialization (config, logger, DB).
func (b *Bootstrap) Initialize(configPath string) error {
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err // let main handle the error
	}
	b.Config = cfg

	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)

	store, err := storage.NewBarStore("data/bars.db")
	if err != nil {
		return err
	}
	b.Store = store
	slog.Info("bar store initialized")

	if path := cfg.Engine.AuditLogPath; path != "" {
		audit, err := execution.NewAuditLog(path)
		if err != nil {
			return err
		}
		b.Audit = audit
		slog.Info("audit log ready", slog.String("path", path))
	}

	failures, err := failure.Open("data/failures.db")
	if err != nil {
		return err
	}
	b.Failures = failures

	return nil
}

// RecordCrash notes a crash in the durable failure counter and reports
// whether the escalation threshold has been reached.
func (b *Bootstrap) RecordCrash() bool {
	if b.Failures == nil {
		return false
	}
	count, err := b.Failures.RecordFailure(time.Now().UTC())
	if err != nil {
		slog.Warn("failure counter write failed", slog.Any("error", err))
		return false
	}
	if failure.IsCritical(count) {
		slog.Error("failure threshold reached, operator attention required",
			slog.Int("count", count))
		return true
	}
	return false
}

// Close releases resources in reverse acquisition order.
func (b *Bootstrap) Close() {
	if b.Failures != nil {
		b.Failures.Close()
	}
	if b.Audit != nil {
		b.Audit.Close()
	}
	if b.Store != nil {
		b.Store.Close()
	}
}

// BacktestConfig converts boundary config into engine runtime types.
// Decimal fields become float64 exactly once, here.
func (b *Bootstrap) BacktestConfig() engine.BacktestConfig {
	cfg := b.Config
	return engine.BacktestConfig{
		InitialCapital: cfg.Engine.InitialCapital.InexactFloat64(),
		DefaultTIF:     parseTIF(cfg.Matching.DefaultTIF),
		Matching: execution.MatchingConfig{
			FillAt:       execution.FillAt(orDefault(cfg.Matching.FillAt, "close")),
			MaxVolumePct: cfg.Matching.MaxVolumePct.InexactFloat64(),
			SlippageBps:  cfg.Matching.SlippageBps.InexactFloat64(),
		},
		Limits: execution.RiskLimits{
			MaxPositionSize:       cfg.Risk.MaxPositionSize,
			MaxPositionValue:      cfg.Risk.MaxPositionValue.InexactFloat64(),
			MaxTotalExposure:      cfg.Risk.MaxTotalExposure.InexactFloat64(),
			MaxOrdersPerMinute:    cfg.Risk.MaxOrdersPerMinute,
			MaxOrdersPerMinSymbol: cfg.Risk.MaxOrdersPerMinSymbol,
			MinCashBuffer:         cfg.Risk.MinCashBuffer.InexactFloat64(),
		},
		Risk: risk.Config{
			PositionStopPct:      cfg.Stops.PositionStopPct.InexactFloat64(),
			TrailingStopPct:      cfg.Stops.TrailingStopPct.InexactFloat64(),
			PortfolioStopPct:     cfg.Stops.PortfolioStopPct.InexactFloat64(),
			MaxDrawdownPct:       cfg.Stops.MaxDrawdownPct.InexactFloat64(),
			UseTrailingStops:     cfg.Stops.UseTrailingStops,
			EnableCircuitBreaker: cfg.Stops.EnableCircuitBreaker,
		},
		LogOrders: cfg.Engine.LogOrders,
	}
}

// LiveConfig converts boundary config into the live engine's runtime type.
func (b *Bootstrap) LiveConfig() engine.LiveConfig {
	cfg := b.Config
	return engine.LiveConfig{
		BacktestConfig:    b.BacktestConfig(),
		SignalCooldown:    time.Duration(cfg.Engine.SignalCooldownSec) * time.Second,
		StatusLogInterval: time.Duration(cfg.Engine.StatusLogInterval) * time.Second,
		HealthPath:        cfg.Engine.HealthPath,
		SubmitTimeout:     5 * time.Second,
	}
}

func parseTIF(s string) domain.TimeInForce {
	switch s {
	case "day":
		return domain.TIFDay
	case "gtc":
		return domain.TIFGTC
	case "fok":
		return domain.TIFFOK
	default:
		return domain.TIFIOC
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
