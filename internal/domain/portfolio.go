package domain

import "fmt"

// Position is a per-symbol holding with volume-weighted average cost basis
// and the latest mark price. Cash is held separately on the Portfolio.
type Position struct {
	Symbol   string
	Qty      int64
	AvgPrice float64 // cost basis; never altered by mark-to-market
	Mark     float64 // latest mark price
}

// MarketValue returns quantity times the current mark.
func (p *Position) MarketValue() float64 {
	return float64(p.Qty) * p.Mark
}

// UnrealizedPnL returns the open profit against cost basis.
func (p *Position) UnrealizedPnL() float64 {
	return float64(p.Qty) * (p.Mark - p.AvgPrice)
}

// Portfolio holds cash and per-symbol positions. It is mutated exclusively
// by the execution loop, one fill report at a time; positions with zero
// quantity are pruned on close.
//
// Invariant: TotalValue == cash + sum(qty * mark) at all times. A negative
// quantity after applying a fill is a programming error and halts the run
// (long-only ledger).
type Portfolio struct {
	cash      float64
	positions map[string]*Position
}

// NewPortfolio creates a portfolio seeded with initial cash.
func NewPortfolio(initialCash float64) *Portfolio {
	return &Portfolio{
		cash:      initialCash,
		positions: make(map[string]*Position),
	}
}

// Cash returns the current cash balance.
func (p *Portfolio) Cash() float64 { return p.cash }

// Position returns the position for symbol, ok=false when flat.
func (p *Portfolio) Position(symbol string) (Position, bool) {
	pos, ok := p.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

// Qty returns the held quantity for symbol (0 when flat).
func (p *Portfolio) Qty(symbol string) int64 {
	if pos, ok := p.positions[symbol]; ok {
		return pos.Qty
	}
	return 0
}

// Positions returns a copy of all open positions (for state dump).
func (p *Portfolio) Positions() map[string]Position {
	out := make(map[string]Position, len(p.positions))
	for sym, pos := range p.positions {
		out[sym] = *pos
	}
	return out
}

// ApplyFill applies a non-zero fill report atomically: position quantity and
// weighted-average basis first, then cash. On a same-direction add the basis
// becomes the volume-weighted average cost; on a position-reducing fill the
// basis is retained until full close, so a partial exit never resets it.
func (p *Portfolio) ApplyFill(report *FillReport) {
	if !report.DidFill() {
		return
	}
	signed := report.FilledQty * report.Side.Multiplier()

	pos, ok := p.positions[report.Symbol]
	if !ok {
		pos = &Position{Symbol: report.Symbol, Mark: report.FillPrice}
		p.positions[report.Symbol] = pos
	}

	newQty := pos.Qty + signed
	if newQty < 0 {
		panic(fmt.Sprintf("LEDGER_INVARIANT_NEGATIVE_QTY: %s qty %d + %d = %d",
			report.Symbol, pos.Qty, signed, newQty))
	}

	sameDirection := pos.Qty == 0 || (pos.Qty > 0) == (signed > 0)
	if sameDirection {
		total := float64(pos.Qty)*pos.AvgPrice + float64(signed)*report.FillPrice
		pos.Qty = newQty
		if newQty != 0 {
			pos.AvgPrice = total / float64(newQty)
		}
	} else {
		// Reducing fill: keep the remaining side's basis.
		pos.Qty = newQty
	}

	p.cash -= float64(report.FilledQty) * report.FillPrice * float64(report.Side.Multiplier())

	if pos.Qty == 0 {
		delete(p.positions, report.Symbol)
	}
}

// MarkToMarket updates each position's mark from prices. A symbol missing
// from prices keeps its previous mark. Cost basis is never touched.
func (p *Portfolio) MarkToMarket(prices map[string]float64) {
	for sym, pos := range p.positions {
		if px, ok := prices[sym]; ok {
			pos.Mark = px
		}
	}
}

// TotalValue returns cash plus the marked value of all open positions.
func (p *Portfolio) TotalValue() float64 {
	total := p.cash
	for _, pos := range p.positions {
		total += pos.MarketValue()
	}
	return total
}

// TotalExposure returns the sum of absolute position values.
func (p *Portfolio) TotalExposure() float64 {
	var total float64
	for _, pos := range p.positions {
		v := pos.MarketValue()
		if v < 0 {
			v = -v
		}
		total += v
	}
	return total
}

// VerifyInvariant panics when a position carries a negative quantity.
// Call after any state change to surface corruption before it spreads.
func (p *Portfolio) VerifyInvariant() {
	for sym, pos := range p.positions {
		if pos.Qty < 0 {
			panic(fmt.Sprintf("LEDGER_INVARIANT_NEGATIVE_QTY: %s = %d", sym, pos.Qty))
		}
		if pos.Qty == 0 {
			panic(fmt.Sprintf("LEDGER_INVARIANT_UNPRUNED_ZERO: %s", sym))
		}
	}
}
