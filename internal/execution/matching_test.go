package execution

import (
	"math"
	"testing"
	"time"

	"trader_go/internal/domain"
)

var t0 = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

func dayBar(symbol string, ts time.Time, o, h, l, c float64, v int64) *domain.Bar {
	return &domain.Bar{
		Symbol: symbol, Timestamp: ts, Timeframe: domain.Timeframe1Day,
		Open: o, High: h, Low: l, Close: c, Volume: v,
	}
}

func ackedOrder(t *testing.T, side domain.Side, typ domain.OrderType, qty int64, tif domain.TimeInForce) *domain.Order {
	t.Helper()
	o, err := domain.NewOrder("X", side, typ, qty, tif, t0)
	if err != nil {
		t.Fatal(err)
	}
	if err := o.Acknowledge(); err != nil {
		t.Fatal(err)
	}
	return o
}

func TestMatch_NoMarket(t *testing.T) {
	m := NewMatchingEngine(DefaultMatchingConfig())
	o := ackedOrder(t, domain.SideBuy, domain.OrderTypeMarket, 10, domain.TIFGTC)

	report := m.Match(o)
	if report.Status != domain.FillStatusRejected || report.Reason != domain.ReasonNoMarket {
		t.Errorf("expected rejected/no_market, got %s/%s", report.Status, report.Reason)
	}
	if !o.IsWorking() {
		t.Error("order must stay working after a no-market rejection")
	}
}

func TestMatch_MarketFillAtClose(t *testing.T) {
	m := NewMatchingEngine(DefaultMatchingConfig())
	m.SetBar(dayBar("X", t0, 100, 101, 99, 100, 10_000))
	o := ackedOrder(t, domain.SideBuy, domain.OrderTypeMarket, 100, domain.TIFGTC)

	report := m.Match(o)
	if report.Status != domain.FillStatusFilled {
		t.Fatalf("expected filled, got %s (%s)", report.Status, report.Reason)
	}
	if report.FilledQty != 100 || report.FillPrice != 100 {
		t.Errorf("expected 100@100, got %d@%f", report.FilledQty, report.FillPrice)
	}
	if report.Slippage != 0 {
		t.Errorf("expected zero slippage, got %f", report.Slippage)
	}
}

func TestMatch_SlippageAsymmetry(t *testing.T) {
	cfg := DefaultMatchingConfig()
	cfg.SlippageBps = 50
	m := NewMatchingEngine(cfg)
	m.SetBar(dayBar("X", t0, 100, 110, 100, 110, 10_000))

	buy := ackedOrder(t, domain.SideBuy, domain.OrderTypeMarket, 10, domain.TIFIOC)
	rb := m.Match(buy)
	if want := 110 * 1.005; math.Abs(rb.FillPrice-want) > 1e-9 {
		t.Errorf("buy fill: expected %f, got %f", want, rb.FillPrice)
	}

	sell := ackedOrder(t, domain.SideSell, domain.OrderTypeMarket, 10, domain.TIFIOC)
	rs := m.Match(sell)
	if want := 110 * 0.995; math.Abs(rs.FillPrice-want) > 1e-9 {
		t.Errorf("sell fill: expected %f, got %f", want, rs.FillPrice)
	}
}

func TestMatch_VWAPReference(t *testing.T) {
	cfg := DefaultMatchingConfig()
	cfg.FillAt = FillAtVWAP
	m := NewMatchingEngine(cfg)
	m.SetBar(dayBar("X", t0, 100, 112, 100, 106, 10_000))

	o := ackedOrder(t, domain.SideBuy, domain.OrderTypeMarket, 10, domain.TIFIOC)
	report := m.Match(o)
	want := (112.0 + 100.0 + 106.0) / 3
	if math.Abs(report.FillPrice-want) > 1e-9 {
		t.Errorf("expected vwap %f, got %f", want, report.FillPrice)
	}
}

func TestMatch_VolumeCapIOC(t *testing.T) {
	m := NewMatchingEngine(DefaultMatchingConfig())
	m.SetBar(dayBar("X", t0, 100, 101, 99, 100, 500)) // available = 50

	o := ackedOrder(t, domain.SideBuy, domain.OrderTypeMarket, 100, domain.TIFIOC)
	report := m.Match(o)

	if report.Status != domain.FillStatusPartiallyFilled {
		t.Fatalf("expected partially_filled, got %s", report.Status)
	}
	if report.FilledQty != 50 {
		t.Errorf("expected 50 filled, got %d", report.FilledQty)
	}
	if o.State != domain.OrderStateCanceled {
		t.Errorf("IOC remainder must cancel the order, state=%s", o.State)
	}
}

func TestMatch_VolumeCapGTCKeepsWorking(t *testing.T) {
	m := NewMatchingEngine(DefaultMatchingConfig())
	m.SetBar(dayBar("X", t0, 100, 101, 99, 100, 500))

	o := ackedOrder(t, domain.SideBuy, domain.OrderTypeMarket, 100, domain.TIFGTC)
	report := m.Match(o)
	if report.Status != domain.FillStatusPartiallyFilled || report.FilledQty != 50 {
		t.Fatalf("expected partial 50, got %s %d", report.Status, report.FilledQty)
	}
	if !o.IsWorking() {
		t.Fatal("GTC remainder must keep working")
	}

	// Next bar fills the rest.
	m.SetBar(dayBar("X", t0.Add(24*time.Hour), 100, 101, 99, 100, 500))
	report = m.Match(o)
	if report.Status != domain.FillStatusFilled || report.FilledQty != 50 {
		t.Errorf("expected final fill of 50, got %s %d", report.Status, report.FilledQty)
	}
}

func TestMatch_FOKUnfillable(t *testing.T) {
	m := NewMatchingEngine(DefaultMatchingConfig())
	m.SetBar(dayBar("X", t0, 100, 101, 99, 100, 990)) // available = 99

	o := ackedOrder(t, domain.SideBuy, domain.OrderTypeMarket, 100, domain.TIFFOK)
	report := m.Match(o)
	if report.Status != domain.FillStatusRejected || report.Reason != domain.ReasonFOKUnfillable {
		t.Errorf("expected rejected/fok_unfillable, got %s/%s", report.Status, report.Reason)
	}
	if o.FilledQty != 0 {
		t.Error("FOK rejection must not change fill state")
	}
}

func TestMatch_ZeroVolume(t *testing.T) {
	m := NewMatchingEngine(DefaultMatchingConfig())
	m.SetBar(dayBar("X", t0, 100, 101, 99, 100, 0))

	o := ackedOrder(t, domain.SideBuy, domain.OrderTypeMarket, 10, domain.TIFGTC)
	report := m.Match(o)
	if report.Status != domain.FillStatusRejected || report.Reason != domain.ReasonNoLiquidity {
		t.Errorf("expected rejected/no_liquidity, got %s/%s", report.Status, report.Reason)
	}
}

func TestMatch_LimitCrossability(t *testing.T) {
	tests := []struct {
		name      string
		side      domain.Side
		limit     float64
		wantFill  bool
		wantPrice float64
	}{
		{"buy crossable", domain.SideBuy, 99.5, true, 99.5},   // min(99.5, close)
		{"buy at close", domain.SideBuy, 105, true, 100},      // min(105, 100)
		{"buy below low", domain.SideBuy, 98, false, 0},       // limit < low
		{"sell crossable", domain.SideSell, 100.5, true, 100.5}, // max(100.5, close)
		{"sell at close", domain.SideSell, 95, true, 100},     // max(95, 100)
		{"sell above high", domain.SideSell, 102, false, 0},   // limit > high
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMatchingEngine(DefaultMatchingConfig())
			m.SetBar(dayBar("X", t0, 100, 101, 99, 100, 10_000))

			o := ackedOrder(t, tt.side, domain.OrderTypeLimit, 10, domain.TIFGTC)
			o.LimitPrice = tt.limit

			report := m.Match(o)
			if tt.wantFill {
				if report.Status != domain.FillStatusFilled {
					t.Fatalf("expected fill, got %s (%s)", report.Status, report.Reason)
				}
				if math.Abs(report.FillPrice-tt.wantPrice) > 1e-9 {
					t.Errorf("expected price %f, got %f", tt.wantPrice, report.FillPrice)
				}
			} else {
				if report.Reason != domain.ReasonNotCrossable {
					t.Errorf("expected not_crossable, got %s/%s", report.Status, report.Reason)
				}
				if !o.IsWorking() {
					t.Error("uncrossed GTC limit must keep working")
				}
			}
		})
	}
}

func TestMatch_StopArmsThenFills(t *testing.T) {
	m := NewMatchingEngine(DefaultMatchingConfig())

	o := ackedOrder(t, domain.SideSell, domain.OrderTypeStop, 10, domain.TIFGTC)
	o.StopPrice = 95

	// Bar above the stop: not armed.
	m.SetBar(dayBar("X", t0, 100, 101, 99, 100, 10_000))
	report := m.Match(o)
	if report.Reason != domain.ReasonStopNotArmed {
		t.Fatalf("expected stop_not_armed, got %s/%s", report.Status, report.Reason)
	}

	// Bar crossing the stop: arms and fills at reference.
	m.SetBar(dayBar("X", t0.Add(24*time.Hour), 96, 97, 94, 95, 10_000))
	report = m.Match(o)
	if report.Status != domain.FillStatusFilled {
		t.Fatalf("expected fill after arming, got %s (%s)", report.Status, report.Reason)
	}
	if report.FillPrice != 95 {
		t.Errorf("expected fill at close 95, got %f", report.FillPrice)
	}
}

func TestMatch_DaySessionExpiry(t *testing.T) {
	m := NewMatchingEngine(DefaultMatchingConfig())

	o := ackedOrder(t, domain.SideBuy, domain.OrderTypeLimit, 10, domain.TIFDay)
	o.LimitPrice = 90 // never crossable on our bars

	m.SetBar(dayBar("X", t0, 100, 101, 99, 100, 10_000))
	report := m.Match(o)
	if !o.IsWorking() {
		t.Fatalf("DAY order should survive its own session, got %s", report.Status)
	}

	// Next calendar day: session boundary cancels.
	m.SetBar(dayBar("X", t0.Add(24*time.Hour), 100, 101, 99, 100, 10_000))
	report = m.Match(o)
	if report.Status != domain.FillStatusCanceled || report.Reason != "session_end" {
		t.Errorf("expected canceled/session_end, got %s/%s", report.Status, report.Reason)
	}
	if o.State != domain.OrderStateCanceled {
		t.Errorf("expected CANCELED, got %s", o.State)
	}
}

func TestMatch_Deterministic(t *testing.T) {
	run := func() []domain.FillReport {
		m := NewMatchingEngine(MatchingConfig{FillAt: FillAtClose, MaxVolumePct: 0.1, SlippageBps: 25})
		var reports []domain.FillReport
		bars := []*domain.Bar{
			dayBar("X", t0, 100, 102, 99, 101, 700),
			dayBar("X", t0.Add(24*time.Hour), 101, 104, 100, 103, 900),
			dayBar("X", t0.Add(48*time.Hour), 103, 105, 101, 102, 400),
		}
		o := ackedOrder(t, domain.SideBuy, domain.OrderTypeMarket, 150, domain.TIFGTC)
		for _, b := range bars {
			m.SetBar(b)
			if !o.IsWorking() {
				break
			}
			r := m.Match(o)
			r.OrderID = "" // client ids are random; everything else must match
			reports = append(reports, r)
		}
		return reports
	}

	a, b := run(), run()
	if len(a) != len(b) {
		t.Fatalf("run lengths differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("report %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
}
