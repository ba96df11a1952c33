package tracker

import (
	"math"
	"testing"
	"time"

	"trader_go/internal/domain"
)

var t0 = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

func fill(side domain.Side, qty int64, price float64, orderID string) *domain.FillReport {
	return &domain.FillReport{
		OrderID: orderID, Symbol: "X", Side: side,
		Status: domain.FillStatusFilled, FilledQty: qty, FillPrice: price,
	}
}

func TestSimpleRoundTrip(t *testing.T) {
	tr := NewTradeTracker()
	tr.ProcessFill(fill(domain.SideBuy, 100, 100, "o1"), t0)
	tr.ProcessFill(fill(domain.SideSell, 100, 108, "o2"), t0.Add(48*time.Hour))

	trades := tr.Trades()
	if len(trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(trades))
	}
	tt := trades[0]
	if tt.Qty != 100 || tt.PnL != 800 {
		t.Errorf("expected qty=100 pnl=800, got qty=%d pnl=%f", tt.Qty, tt.PnL)
	}
	if tt.EntryOrderID != "o1" || tt.ExitOrderID != "o2" {
		t.Errorf("order ids not threaded: %s/%s", tt.EntryOrderID, tt.ExitOrderID)
	}
	if tt.HoldingPeriod != 48*time.Hour {
		t.Errorf("expected 48h holding, got %v", tt.HoldingPeriod)
	}
	if tr.OpenQty("X") != 0 {
		t.Errorf("expected no open lots, got %d", tr.OpenQty("X"))
	}
}

func TestFIFOPartialPeel(t *testing.T) {
	tr := NewTradeTracker()
	tr.ProcessFill(fill(domain.SideBuy, 100, 10, "b1"), t0)
	tr.ProcessFill(fill(domain.SideBuy, 50, 12, "b2"), t0.Add(time.Hour))
	tr.ProcessFill(fill(domain.SideSell, 120, 15, "s1"), t0.Add(2*time.Hour))

	trades := tr.Trades()
	if len(trades) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(trades))
	}
	if trades[0].Qty != 100 || trades[0].EntryPrice != 10 {
		t.Errorf("first peel should be (100, entry=10), got (%d, %f)", trades[0].Qty, trades[0].EntryPrice)
	}
	if trades[1].Qty != 20 || trades[1].EntryPrice != 12 {
		t.Errorf("second peel should be (20, entry=12), got (%d, %f)", trades[1].Qty, trades[1].EntryPrice)
	}

	lots := tr.OpenLots("X")
	if len(lots) != 1 || lots[0].Qty != 30 || lots[0].EntryPrice != 12 {
		t.Errorf("expected remaining lot (30 @ 12), got %+v", lots)
	}
}

func TestSplitFillEqualsSingleFill(t *testing.T) {
	single := NewTradeTracker()
	single.ProcessFill(fill(domain.SideBuy, 100, 100, "b"), t0)
	single.ProcessFill(fill(domain.SideSell, 100, 110, "s"), t0.Add(time.Hour))

	split := NewTradeTracker()
	split.ProcessFill(fill(domain.SideBuy, 50, 100, "b"), t0)
	split.ProcessFill(fill(domain.SideBuy, 50, 100, "b"), t0)
	split.ProcessFill(fill(domain.SideSell, 50, 110, "s"), t0.Add(time.Hour))
	split.ProcessFill(fill(domain.SideSell, 50, 110, "s"), t0.Add(time.Hour))

	if math.Abs(single.TotalPnL()-split.TotalPnL()) > 1e-9 {
		t.Errorf("split pnl %f != single pnl %f", split.TotalPnL(), single.TotalPnL())
	}
}

func TestShortOpenDropped(t *testing.T) {
	tr := NewTradeTracker()
	tr.ProcessFill(fill(domain.SideBuy, 50, 10, "b"), t0)
	tr.ProcessFill(fill(domain.SideSell, 80, 12, "s"), t0.Add(time.Hour))

	if tr.TradeCount() != 1 {
		t.Fatalf("expected 1 trade, got %d", tr.TradeCount())
	}
	if tr.Trades()[0].Qty != 50 {
		t.Errorf("expected matched qty 50, got %d", tr.Trades()[0].Qty)
	}
	if tr.OpenQty("X") != 0 {
		t.Errorf("excess sell must not create a lot, open=%d", tr.OpenQty("X"))
	}
}

func TestVerifyAgainstLedger(t *testing.T) {
	tr := NewTradeTracker()
	p := domain.NewPortfolio(100_000)

	buy := fill(domain.SideBuy, 100, 10, "b1")
	tr.ProcessFill(buy, t0)
	p.ApplyFill(buy)
	tr.VerifyAgainst(p, "X")

	sell := fill(domain.SideSell, 40, 12, "s1")
	tr.ProcessFill(sell, t0.Add(time.Hour))
	p.ApplyFill(sell)
	tr.VerifyAgainst(p, "X")

	if tr.OpenQty("X") != 60 || p.Qty("X") != 60 {
		t.Errorf("lots=%d ledger=%d", tr.OpenQty("X"), p.Qty("X"))
	}
}

func TestVerifyAgainstPanicsOnDivergence(t *testing.T) {
	tr := NewTradeTracker()
	p := domain.NewPortfolio(100_000)
	tr.ProcessFill(fill(domain.SideBuy, 100, 10, "b1"), t0)
	// Ledger never saw the fill.

	defer func() {
		if r := recover(); r == nil {
			t.Error("divergence must panic")
		}
	}()
	tr.VerifyAgainst(p, "X")
}

func TestIgnoresZeroFills(t *testing.T) {
	tr := NewTradeTracker()
	tr.ProcessFill(&domain.FillReport{
		Symbol: "X", Side: domain.SideBuy, Status: domain.FillStatusRejected,
	}, t0)
	if tr.OpenQty("X") != 0 {
		t.Error("rejected report must not open a lot")
	}
}

func TestEquityTracker(t *testing.T) {
	e := NewEquityTracker()
	if e.TotalReturn() != 0 {
		t.Error("empty tracker should return 0")
	}
	e.Record(t0, 10_000)
	e.Record(t0.Add(time.Hour), 10_800)

	if e.Initial() != 10_000 || e.Current() != 10_800 {
		t.Errorf("unexpected endpoints %f/%f", e.Initial(), e.Current())
	}
	if math.Abs(e.TotalReturn()-0.08) > 1e-9 {
		t.Errorf("expected 8%% return, got %f", e.TotalReturn())
	}
	if e.Len() != 2 {
		t.Errorf("expected 2 points, got %d", e.Len())
	}
}
