// Package risk implements per-position stop losses and the portfolio-level
// circuit breaker. The engines evaluate stops before strategy signals on
// every tick, so an imminent exit can never be overridden by a same-tick
// entry.
package risk

import (
	"log/slog"
	"sort"
	"time"

	"trader_go/internal/domain"
)

// StopType selects how a position stop trigger is computed.
type StopType string

const (
	StopFixedPercent    StopType = "fixed_percent"
	StopTrailingPercent StopType = "trailing_percent"
	StopAbsolutePrice   StopType = "absolute_price"
)

// ExitReason is the closed set of reasons an exit signal carries.
type ExitReason string

const (
	ReasonPositionStop   ExitReason = "position_stop"
	ReasonTrailingStop   ExitReason = "trailing_stop"
	ReasonAbsoluteStop   ExitReason = "absolute"
	ReasonCircuitBreaker ExitReason = "circuit_breaker"
)

// ExitSignal orders a full-position market exit.
type ExitSignal struct {
	Symbol       string
	Side         domain.Side
	Qty          int64
	Reason       ExitReason
	TriggerPrice float64
	StopPrice    float64
}

// PositionStop tracks stop state for one open position. Created on the
// first opening fill, updated on every price tick, destroyed on close.
// The high-water mark only ever moves up for a long position.
type PositionStop struct {
	Symbol     string
	EntryPrice float64
	EntryTime  time.Time
	HighWater  float64
	StopPrice  float64
	StopType   StopType
	Qty        int64
}

// Config holds stop and circuit-breaker thresholds as fractions
// (0.02 = 2%).
type Config struct {
	PositionStopPct      float64
	TrailingStopPct      float64
	PortfolioStopPct     float64 // daily loss threshold
	MaxDrawdownPct       float64 // drawdown from equity high-water mark
	UseTrailingStops     bool
	EnableCircuitBreaker bool
}

// Manager owns per-symbol position stops and the portfolio circuit breaker.
// It is driven synchronously by the engines; it never mutates the ledger.
type Manager struct {
	cfg Config

	stops map[string]*PositionStop

	highWaterMark  float64
	dayStartEquity float64

	breakerTripped bool
	breakerTime    time.Time
	breakerReason  string
}

// NewManager creates a risk manager seeded with the starting equity.
func NewManager(cfg Config, initialEquity float64) *Manager {
	return &Manager{
		cfg:            cfg,
		stops:          make(map[string]*PositionStop),
		highWaterMark:  initialEquity,
		dayStartEquity: initialEquity,
	}
}

// AddStop registers (or replaces) the stop for a newly opened position.
func (m *Manager) AddStop(symbol string, entryPrice float64, qty int64, entryTime time.Time) *PositionStop {
	stopType := StopFixedPercent
	pct := m.cfg.PositionStopPct
	if m.cfg.UseTrailingStops {
		stopType = StopTrailingPercent
		pct = m.cfg.TrailingStopPct
	}

	// A zero fixed percentage means no stop. A zero trailing percentage is
	// meaningful: it degenerates to a stop at the high-water mark.
	stopPrice := 0.0
	if stopType == StopTrailingPercent || pct > 0 {
		stopPrice = entryPrice * (1 - pct)
	}

	stop := &PositionStop{
		Symbol:     symbol,
		EntryPrice: entryPrice,
		EntryTime:  entryTime,
		HighWater:  entryPrice,
		StopPrice:  stopPrice,
		StopType:   stopType,
		Qty:        qty,
	}
	m.stops[symbol] = stop

	slog.Debug("position stop added",
		slog.String("symbol", symbol),
		slog.Float64("entry", entryPrice),
		slog.Float64("stop", stop.StopPrice),
		slog.String("type", string(stopType)))
	return stop
}

// SetAbsoluteStop registers a stop at a fixed price level.
func (m *Manager) SetAbsoluteStop(symbol string, entryPrice, stopPrice float64, qty int64, entryTime time.Time) *PositionStop {
	stop := &PositionStop{
		Symbol:     symbol,
		EntryPrice: entryPrice,
		EntryTime:  entryTime,
		HighWater:  entryPrice,
		StopPrice:  stopPrice,
		StopType:   StopAbsolutePrice,
		Qty:        qty,
	}
	m.stops[symbol] = stop
	return stop
}

// RemoveStop drops stop tracking for a symbol (position closed).
func (m *Manager) RemoveStop(symbol string) {
	delete(m.stops, symbol)
}

// UpdateQty keeps a stop's quantity in sync with the ledger; a zero
// quantity removes the stop.
func (m *Manager) UpdateQty(symbol string, qty int64) {
	stop, ok := m.stops[symbol]
	if !ok {
		return
	}
	if qty == 0 {
		m.RemoveStop(symbol)
		return
	}
	stop.Qty = qty
}

// Stop returns the tracked stop for symbol, if any.
func (m *Manager) Stop(symbol string) (*PositionStop, bool) {
	s, ok := m.stops[symbol]
	return s, ok
}

// BreakerTripped reports whether the circuit breaker has fired. While
// tripped, all new signal-driven entries are suppressed; exits still run.
func (m *Manager) BreakerTripped() bool { return m.breakerTripped }

// BreakerReason returns the detail recorded when the breaker fired.
func (m *Manager) BreakerReason() string { return m.breakerReason }

// CheckStops evaluates all stops against the latest prices and the current
// portfolio equity, returning at most one ExitSignal per open position.
// If the circuit breaker fires, every open position that still has a tracked
// stop is exited; a position without one is skipped, as its exit has already
// been ordered.
func (m *Manager) CheckStops(prices map[string]float64, equity float64, portfolio *domain.Portfolio, now time.Time) []ExitSignal {
	if m.checkBreaker(equity, now) {
		return m.exitAll(prices, portfolio)
	}

	var exits []ExitSignal
	positions := portfolio.Positions()
	for _, symbol := range sortedSymbols(positions) {
		pos := positions[symbol]
		if pos.Qty == 0 {
			continue
		}
		price, ok := prices[symbol]
		if !ok {
			continue
		}

		stop, ok := m.stops[symbol]
		if !ok {
			// A position that slipped past fill tracking still gets a stop,
			// anchored at its cost basis.
			stop = m.AddStop(symbol, pos.AvgPrice, pos.Qty, now)
		}

		if stop.StopType == StopTrailingPercent {
			m.ratchet(stop, price)
		}

		if price <= stop.StopPrice {
			exits = append(exits, ExitSignal{
				Symbol:       symbol,
				Side:         domain.SideSell,
				Qty:          pos.Qty,
				Reason:       exitReason(stop.StopType),
				TriggerPrice: price,
				StopPrice:    stop.StopPrice,
			})
			slog.Warn("stop triggered",
				slog.String("symbol", symbol),
				slog.Float64("price", price),
				slog.Float64("stop", stop.StopPrice),
				slog.String("type", string(stop.StopType)))
			// One signal per position: drop the stop so the next tick
			// cannot fire it again while the exit order works.
			m.RemoveStop(symbol)
		}
	}
	return exits
}

// ratchet moves the high-water mark and trailing trigger monotonically
// upward. Never recomputed from history; only the live HWM matters.
func (m *Manager) ratchet(stop *PositionStop, price float64) {
	if price <= stop.HighWater {
		return
	}
	stop.HighWater = price
	newStop := price * (1 - m.cfg.TrailingStopPct)
	if newStop > stop.StopPrice {
		stop.StopPrice = newStop
	}
}

// checkBreaker updates the equity high-water mark and fires the breaker on
// either drawdown-from-HWM or daily loss. Once fired it latches until
// ResetBreaker.
func (m *Manager) checkBreaker(equity float64, now time.Time) bool {
	if !m.cfg.EnableCircuitBreaker {
		return false
	}
	if m.breakerTripped {
		return true
	}

	if equity > m.highWaterMark {
		m.highWaterMark = equity
	}

	if m.highWaterMark > 0 && equity/m.highWaterMark < 1-m.cfg.MaxDrawdownPct {
		m.trip(now, "max_drawdown")
		return true
	}
	if m.dayStartEquity > 0 && (equity-m.dayStartEquity)/m.dayStartEquity < -m.cfg.PortfolioStopPct {
		m.trip(now, "daily_loss")
		return true
	}
	return false
}

func (m *Manager) trip(now time.Time, reason string) {
	m.breakerTripped = true
	m.breakerTime = now
	m.breakerReason = reason
	slog.Warn("circuit breaker tripped", slog.String("reason", reason))
}

func (m *Manager) exitAll(prices map[string]float64, portfolio *domain.Portfolio) []ExitSignal {
	var exits []ExitSignal
	positions := portfolio.Positions()
	for _, symbol := range sortedSymbols(positions) {
		pos := positions[symbol]
		if pos.Qty == 0 {
			continue
		}
		// No tracked stop means the exit was already ordered on an earlier
		// tick and its fill is still in flight; don't order it twice.
		if _, ok := m.stops[symbol]; !ok {
			continue
		}
		price := pos.Mark
		if p, ok := prices[symbol]; ok {
			price = p
		}
		exits = append(exits, ExitSignal{
			Symbol:       symbol,
			Side:         domain.SideSell,
			Qty:          pos.Qty,
			Reason:       ReasonCircuitBreaker,
			TriggerPrice: price,
		})
		m.RemoveStop(symbol)
	}
	return exits
}

// ResetDaily re-anchors the daily loss reference (call at session open).
func (m *Manager) ResetDaily(equity float64) {
	m.dayStartEquity = equity
	slog.Info("daily tracking reset", slog.Float64("start_equity", equity))
}

// ResetBreaker clears the breaker's transient state. The equity high-water
// mark survives a reset.
func (m *Manager) ResetBreaker() {
	m.breakerTripped = false
	m.breakerTime = time.Time{}
	m.breakerReason = ""
	slog.Warn("circuit breaker reset")
}

// sortedSymbols keeps stop evaluation order deterministic across runs.
func sortedSymbols(positions map[string]domain.Position) []string {
	symbols := make([]string, 0, len(positions))
	for symbol := range positions {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}

func exitReason(t StopType) ExitReason {
	switch t {
	case StopTrailingPercent:
		return ReasonTrailingStop
	case StopAbsolutePrice:
		return ReasonAbsoluteStop
	default:
		return ReasonPositionStop
	}
}
