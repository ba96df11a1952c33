package domain

import (
	"math"
	"testing"
)

func buyReport(symbol string, qty int64, price float64) *FillReport {
	return &FillReport{Symbol: symbol, Side: SideBuy, Status: FillStatusFilled, FilledQty: qty, FillPrice: price}
}

func sellReport(symbol string, qty int64, price float64) *FillReport {
	return &FillReport{Symbol: symbol, Side: SideSell, Status: FillStatusFilled, FilledQty: qty, FillPrice: price}
}

func TestPortfolio_BuyThenSell(t *testing.T) {
	p := NewPortfolio(10_000)

	p.ApplyFill(buyReport("X", 100, 100))
	if p.Cash() != 0 {
		t.Errorf("expected cash 0 after buy, got %f", p.Cash())
	}
	pos, ok := p.Position("X")
	if !ok || pos.Qty != 100 || pos.AvgPrice != 100 {
		t.Fatalf("unexpected position %+v ok=%v", pos, ok)
	}

	p.ApplyFill(sellReport("X", 100, 108))
	if p.Cash() != 10_800 {
		t.Errorf("expected cash 10800, got %f", p.Cash())
	}
	if _, ok := p.Position("X"); ok {
		t.Error("closed position should be pruned")
	}
}

func TestPortfolio_WeightedAverageBasis(t *testing.T) {
	p := NewPortfolio(100_000)
	p.ApplyFill(buyReport("X", 100, 10))
	p.ApplyFill(buyReport("X", 50, 12))

	pos, _ := p.Position("X")
	want := (100*10.0 + 50*12.0) / 150
	if math.Abs(pos.AvgPrice-want) > 1e-9 {
		t.Errorf("expected avg %f, got %f", want, pos.AvgPrice)
	}
	if pos.Qty != 150 {
		t.Errorf("expected qty 150, got %d", pos.Qty)
	}
}

func TestPortfolio_PartialExitRetainsBasis(t *testing.T) {
	p := NewPortfolio(100_000)
	p.ApplyFill(buyReport("X", 100, 10))
	p.ApplyFill(sellReport("X", 40, 15))

	pos, _ := p.Position("X")
	if pos.Qty != 60 {
		t.Fatalf("expected qty 60, got %d", pos.Qty)
	}
	if pos.AvgPrice != 10 {
		t.Errorf("partial exit must retain basis 10, got %f", pos.AvgPrice)
	}
}

func TestPortfolio_SplitFillMatchesSingle(t *testing.T) {
	single := NewPortfolio(100_000)
	single.ApplyFill(buyReport("X", 100, 105))

	split := NewPortfolio(100_000)
	split.ApplyFill(buyReport("X", 50, 100))
	split.ApplyFill(buyReport("X", 50, 110))

	sp, _ := single.Position("X")
	pp, _ := split.Position("X")
	if math.Abs(sp.AvgPrice-pp.AvgPrice) > 1e-9 {
		t.Errorf("split avg %f != single avg %f", pp.AvgPrice, sp.AvgPrice)
	}
	if single.Cash() != split.Cash() {
		t.Errorf("split cash %f != single cash %f", split.Cash(), single.Cash())
	}
}

func TestPortfolio_MarkToMarket(t *testing.T) {
	p := NewPortfolio(10_000)
	p.ApplyFill(buyReport("X", 100, 100))

	p.MarkToMarket(map[string]float64{"X": 110})
	if p.TotalValue() != 11_000 {
		t.Errorf("expected total 11000, got %f", p.TotalValue())
	}

	pos, _ := p.Position("X")
	if pos.AvgPrice != 100 {
		t.Error("mark-to-market must not alter cost basis")
	}

	// Missing symbol keeps last mark.
	p.MarkToMarket(map[string]float64{"Y": 1})
	if p.TotalValue() != 11_000 {
		t.Errorf("missing price should retain mark, got %f", p.TotalValue())
	}
}

func TestPortfolio_FillValueConservation(t *testing.T) {
	p := NewPortfolio(10_000)
	p.MarkToMarket(nil)
	before := p.TotalValue()

	// A fill at the mark moves value between cash and position without
	// changing the total.
	p.ApplyFill(buyReport("X", 50, 100))
	p.MarkToMarket(map[string]float64{"X": 100})
	after := p.TotalValue()
	if math.Abs(after-before) > 1e-9 {
		t.Errorf("fill at mark changed total value: %f -> %f", before, after)
	}
}

func TestPortfolio_OversellPanics(t *testing.T) {
	p := NewPortfolio(10_000)
	p.ApplyFill(buyReport("X", 10, 100))

	defer func() {
		if r := recover(); r == nil {
			t.Error("overselling should panic on ledger invariant")
		}
	}()
	p.ApplyFill(sellReport("X", 11, 100))
}
