package infra

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validYAML = `
app:
  name: "trader_go"
trading:
  dry_run: true
  data_type: "bars"
  symbols: ["AAPL"]
risk:
  max_position_size: 1000
  max_position_value: 100000
  max_total_exposure: 500000
  max_orders_per_minute: 100
  max_orders_per_minute_per_symbol: 20
  min_cash_buffer: 1000
stops:
  position_stop_pct: 0.02
  trailing_stop_pct: 0.03
  portfolio_stop_pct: 0.05
  max_drawdown_pct: 0.10
  enable_circuit_breaker: true
matching:
  fill_at: "close"
  slippage_bps: 5
  max_volume_pct: 0.10
  default_tif: "ioc"
engine:
  initial_capital: 100000
logging:
  level: "debug"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if !cfg.Trading.DryRun {
		t.Error("dry_run should be true")
	}
	if cfg.Risk.MaxPositionSize != 1000 {
		t.Errorf("unexpected max_position_size %d", cfg.Risk.MaxPositionSize)
	}
	if got := cfg.Stops.MaxDrawdownPct.InexactFloat64(); got != 0.10 {
		t.Errorf("expected max_drawdown_pct 0.10, got %f", got)
	}
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("TRADER_API_KEY", "env-key")
	t.Setenv("TRADER_API_SECRET", "env-secret")

	cfg, err := LoadConfig(writeConfig(t, validYAML))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Trading.APIKey != "env-key" || cfg.Trading.APISecret != "env-secret" {
		t.Error("environment overrides not applied")
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		mutate  string
		replace string
	}{
		{"no symbols", `symbols: ["AAPL"]`, `symbols: []`},
		{"bad fill_at", `fill_at: "close"`, `fill_at: "midpoint"`},
		{"bad tif", `default_tif: "ioc"`, `default_tif: "gtd"`},
		{"volume pct > 1", `max_volume_pct: 0.10`, `max_volume_pct: 1.5`},
		{"negative slippage", `slippage_bps: 5`, `slippage_bps: -1`},
		{"zero capital", `initial_capital: 100000`, `initial_capital: 0`},
		{"drawdown > 1", `max_drawdown_pct: 0.10`, `max_drawdown_pct: 10`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			broken := writeConfig(t, strings.Replace(validYAML, tt.mutate, tt.replace, 1))
			if _, err := LoadConfig(broken); err == nil {
				t.Errorf("expected validation error for %s", tt.name)
			}
		})
	}
}
