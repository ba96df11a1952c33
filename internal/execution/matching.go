// Package execution simulates order execution against historical bars and
// validates orders before submission. The matching engine is fully
// deterministic: identical bar streams and submission order produce
// byte-identical fill reports. No randomness anywhere.
package execution

import (
	"log/slog"
	"math"

	"trader_go/internal/domain"
)

// FillAt selects the reference price inside a bar.
type FillAt string

const (
	FillAtOpen  FillAt = "open"
	FillAtClose FillAt = "close"
	FillAtVWAP  FillAt = "vwap"
)

// MatchingConfig controls the deterministic fill simulation.
type MatchingConfig struct {
	FillAt       FillAt  // reference price within the bar
	MaxVolumePct float64 // max fill as fraction of bar volume, [0,1]
	SlippageBps  float64 // one-sided slippage in basis points, >= 0
}

// DefaultMatchingConfig mirrors the conventional backtest defaults.
func DefaultMatchingConfig() MatchingConfig {
	return MatchingConfig{FillAt: FillAtClose, MaxVolumePct: 0.10, SlippageBps: 0}
}

// MatchingEngine produces simulated fills from per-symbol bar context.
// Exactly one FillReport per Match call; the report is the only thing
// downstream components ever see.
type MatchingEngine struct {
	cfg  MatchingConfig
	bars map[string]*domain.Bar
}

// NewMatchingEngine creates a matching engine with the given configuration.
func NewMatchingEngine(cfg MatchingConfig) *MatchingEngine {
	if cfg.FillAt == "" {
		cfg.FillAt = FillAtClose
	}
	return &MatchingEngine{
		cfg:  cfg,
		bars: make(map[string]*domain.Bar),
	}
}

// SetBar updates the bar context for the bar's symbol.
func (m *MatchingEngine) SetBar(bar *domain.Bar) {
	m.bars[bar.Symbol] = bar
}

// Bar returns the current bar context for symbol.
func (m *MatchingEngine) Bar(symbol string) (*domain.Bar, bool) {
	b, ok := m.bars[symbol]
	return b, ok
}

// ReferencePrice computes the configured reference price for a bar.
func (m *MatchingEngine) ReferencePrice(bar *domain.Bar) float64 {
	switch m.cfg.FillAt {
	case FillAtOpen:
		return bar.Open
	case FillAtVWAP:
		return bar.VWAP()
	default:
		return bar.Close
	}
}

// Match attempts to fill order against the current bar context for its
// symbol and returns exactly one FillReport. The order must be working
// (ACKED or PARTIALLY_FILLED from a prior bar).
func (m *MatchingEngine) Match(order *domain.Order) domain.FillReport {
	report := domain.FillReport{
		OrderID: order.ID,
		Symbol:  order.Symbol,
		Side:    order.Side,
	}

	if !order.IsWorking() {
		report.Status = domain.FillStatusRejected
		report.Reason = "not_working"
		return report
	}

	bar, ok := m.bars[order.Symbol]
	if !ok {
		report.Status = domain.FillStatusRejected
		report.Reason = domain.ReasonNoMarket
		return report
	}

	// DAY orders die on the session boundary: a later calendar date than
	// the one they were created on.
	if order.TIF == domain.TIFDay && sessionChanged(order, bar) {
		if err := order.Cancel(); err != nil {
			panic("STATE_MACHINE_VIOLATION: " + err.Error())
		}
		report.Status = domain.FillStatusCanceled
		report.Reason = "session_end"
		return report
	}

	ref := m.ReferencePrice(bar)

	// Resolve the executable price for this order type, or bail out with
	// the reason the order cannot trade on this bar.
	price, reason := m.executablePrice(order, bar, ref)
	if reason != "" {
		return m.noFill(order, report, reason)
	}

	available := int64(math.Floor(float64(bar.Volume) * m.cfg.MaxVolumePct))
	attempt := order.Remaining()
	if available < attempt {
		attempt = available
	}

	// FOK wants all or nothing, checked before any state change.
	if order.TIF == domain.TIFFOK && attempt < order.Remaining() {
		report.Status = domain.FillStatusRejected
		report.Reason = domain.ReasonFOKUnfillable
		return report
	}

	// Zero liquidity is always reported as a rejection; an IOC order still
	// cancels so it cannot linger as a working order.
	if attempt <= 0 {
		if order.TIF == domain.TIFIOC {
			if err := order.Cancel(); err != nil {
				panic("STATE_MACHINE_VIOLATION: " + err.Error())
			}
		}
		report.Status = domain.FillStatusRejected
		report.Reason = domain.ReasonNoLiquidity
		return report
	}

	if err := order.Fill(attempt, price); err != nil {
		panic("STATE_MACHINE_VIOLATION: " + err.Error())
	}

	report.FilledQty = attempt
	report.FillPrice = price
	report.Slippage = math.Abs(price - ref)

	if order.State == domain.OrderStateFilled {
		report.Status = domain.FillStatusFilled
		return report
	}

	// Partial fill: IOC cancels the remainder atomically, GTC/DAY keep it
	// working for later bars.
	report.Status = domain.FillStatusPartiallyFilled
	if order.TIF == domain.TIFIOC {
		if err := order.Cancel(); err != nil {
			panic("STATE_MACHINE_VIOLATION: " + err.Error())
		}
		slog.Debug("IOC remainder canceled",
			slog.String("order_id", order.ID),
			slog.Int64("filled", report.FilledQty),
			slog.Int64("canceled", order.Remaining()))
	}
	return report
}

// noFill reports a zero-quantity outcome. IOC orders cancel outright;
// FOK rejects; GTC/DAY orders stay working and the report is advisory.
func (m *MatchingEngine) noFill(order *domain.Order, report domain.FillReport, reason string) domain.FillReport {
	switch order.TIF {
	case domain.TIFFOK:
		report.Status = domain.FillStatusRejected
		report.Reason = domain.ReasonFOKUnfillable
	case domain.TIFIOC:
		if err := order.Cancel(); err != nil {
			panic("STATE_MACHINE_VIOLATION: " + err.Error())
		}
		report.Status = domain.FillStatusCanceled
		report.Reason = reason
	default:
		report.Status = domain.FillStatusRejected
		report.Reason = reason
	}
	return report
}

// executablePrice resolves the price this order would trade at on bar, or a
// non-empty reason when it cannot trade.
func (m *MatchingEngine) executablePrice(order *domain.Order, bar *domain.Bar, ref float64) (float64, string) {
	slip := ref * m.cfg.SlippageBps / 10000 * float64(order.Side.Multiplier())

	switch order.Type {
	case domain.OrderTypeMarket:
		return ref + slip, ""

	case domain.OrderTypeLimit:
		return limitPrice(order, bar, ref, slip)

	case domain.OrderTypeStop:
		if !order.StopArmed() {
			if !bar.Crosses(order.StopPrice) {
				return 0, domain.ReasonStopNotArmed
			}
			order.ArmStop()
		}
		// Armed stop trades as a market order at reference.
		return ref + slip, ""

	case domain.OrderTypeStopLimit:
		if !order.StopArmed() {
			if !bar.Crosses(order.StopPrice) {
				return 0, domain.ReasonStopNotArmed
			}
			order.ArmStop()
		}
		return limitPrice(order, bar, ref, slip)

	default:
		return ref + slip, ""
	}
}

// limitPrice checks crossability within the bar range and bounds the
// slipped reference by the limit.
func limitPrice(order *domain.Order, bar *domain.Bar, ref, slip float64) (float64, string) {
	if order.Side == domain.SideBuy {
		if order.LimitPrice < bar.Low {
			return 0, domain.ReasonNotCrossable
		}
		return math.Min(order.LimitPrice, ref+slip), ""
	}
	if order.LimitPrice > bar.High {
		return 0, domain.ReasonNotCrossable
	}
	return math.Max(order.LimitPrice, ref+slip), ""
}

func sessionChanged(order *domain.Order, bar *domain.Bar) bool {
	oy, om, od := order.CreatedAt.Date()
	by, bm, bd := bar.Timestamp.Date()
	if oy != by || om != bm || od != bd {
		return by > oy || (by == oy && (bm > om || (bm == om && bd > od)))
	}
	return false
}
