package infra

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestHealthSnapshot_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "health.json")
	snap := &HealthSnapshot{
		Status:    HealthRunning,
		Timestamp: time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC),
		UptimeSec: 3600,
		Positions: map[string]HealthPosition{
			"AAPL": {Qty: 100, AvgPrice: 150, Mark: 155},
		},
		TotalPnL: 500,
		Equity:   105_000,
	}

	if err := WriteHealthSnapshot(path, snap); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	got, err := ReadHealthSnapshot(path)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if got.Status != HealthRunning || got.Equity != 105_000 {
		t.Errorf("unexpected snapshot %+v", got)
	}
	if got.Positions["AAPL"].Qty != 100 {
		t.Errorf("positions not preserved: %+v", got.Positions)
	}
}

func TestHealthSnapshot_LegacyStatusMapped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "health.json")
	legacy := `{"status": "healthy", "equity": 1}`
	if err := os.WriteFile(path, []byte(legacy), 0644); err != nil {
		t.Fatal(err)
	}

	got, err := ReadHealthSnapshot(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != HealthRunning {
		t.Errorf(`"healthy" should map to running, got %s`, got.Status)
	}
}

func TestParseHealthStatus(t *testing.T) {
	tests := map[string]HealthStatus{
		"healthy":      HealthRunning,
		"running":      HealthRunning,
		"initializing": HealthInitializing,
		"degraded":     HealthDegraded,
		"stopped":      HealthStopped,
		"gibberish":    HealthDegraded,
	}
	for in, want := range tests {
		if got := ParseHealthStatus(in); got != want {
			t.Errorf("ParseHealthStatus(%q) = %s, want %s", in, got, want)
		}
	}
}
