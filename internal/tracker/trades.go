// Package tracker converts fill reports into completed round-trip trades
// (FIFO matched) and records the portfolio equity curve.
package tracker

import (
	"fmt"
	"log/slog"
	"time"

	"trader_go/internal/domain"
)

// OpenLot is one FIFO entry: the unmatched remainder of an opening fill.
type OpenLot struct {
	Qty          int64
	EntryPrice   float64
	EntryTime    time.Time
	EntryOrderID string
}

// CompletedTrade is one realized round trip, produced by matching a closing
// fill against open lots in arrival order.
type CompletedTrade struct {
	Symbol        string
	EntryTime     time.Time
	ExitTime      time.Time
	EntryPrice    float64
	ExitPrice     float64
	Qty           int64
	PnL           float64
	Return        float64
	HoldingPeriod time.Duration
	EntryOrderID  string
	ExitOrderID   string
}

// TradeTracker matches opening fills against closing fills per symbol using
// FIFO queues and appends completed trades. Long-only: a sell with no lots
// left to consume is logged and dropped, never queued as a short open.
type TradeTracker struct {
	lots   map[string][]OpenLot
	trades []CompletedTrade
}

// NewTradeTracker creates an empty tracker.
func NewTradeTracker() *TradeTracker {
	return &TradeTracker{lots: make(map[string][]OpenLot)}
}

// ProcessFill folds one fill report into the FIFO state. Buys enqueue an
// open lot; sells peel lots from the head until the fill is exhausted.
func (t *TradeTracker) ProcessFill(report *domain.FillReport, ts time.Time) {
	if !report.DidFill() {
		return
	}

	if report.Side == domain.SideBuy {
		t.lots[report.Symbol] = append(t.lots[report.Symbol], OpenLot{
			Qty:          report.FilledQty,
			EntryPrice:   report.FillPrice,
			EntryTime:    ts,
			EntryOrderID: report.OrderID,
		})
		return
	}

	remaining := report.FilledQty
	queue := t.lots[report.Symbol]

	for remaining > 0 && len(queue) > 0 {
		lot := &queue[0]
		matched := remaining
		if lot.Qty < matched {
			matched = lot.Qty
		}

		ret := 0.0
		if lot.EntryPrice > 0 {
			ret = (report.FillPrice - lot.EntryPrice) / lot.EntryPrice
		}
		t.trades = append(t.trades, CompletedTrade{
			Symbol:        report.Symbol,
			EntryTime:     lot.EntryTime,
			ExitTime:      ts,
			EntryPrice:    lot.EntryPrice,
			ExitPrice:     report.FillPrice,
			Qty:           matched,
			PnL:           float64(matched) * (report.FillPrice - lot.EntryPrice),
			Return:        ret,
			HoldingPeriod: ts.Sub(lot.EntryTime),
			EntryOrderID:  lot.EntryOrderID,
			ExitOrderID:   report.OrderID,
		})

		remaining -= matched
		lot.Qty -= matched
		if lot.Qty == 0 {
			queue = queue[1:]
		}
	}
	t.lots[report.Symbol] = queue

	if remaining > 0 {
		// Short opens are not modeled; the excess is dropped.
		slog.Warn("sell fill exceeded open lots, short open dropped",
			slog.String("symbol", report.Symbol),
			slog.Int64("excess", remaining))
	}
}

// Trades returns all completed trades in completion order.
func (t *TradeTracker) Trades() []CompletedTrade {
	return t.trades
}

// TradeCount returns the number of completed trades.
func (t *TradeTracker) TradeCount() int {
	return len(t.trades)
}

// TotalPnL sums realized P&L across all completed trades.
func (t *TradeTracker) TotalPnL() float64 {
	var total float64
	for _, tr := range t.trades {
		total += tr.PnL
	}
	return total
}

// OpenQty returns the total unmatched lot quantity for symbol.
func (t *TradeTracker) OpenQty(symbol string) int64 {
	var total int64
	for _, lot := range t.lots[symbol] {
		total += lot.Qty
	}
	return total
}

// OpenLots returns a copy of the FIFO queue for symbol.
func (t *TradeTracker) OpenLots(symbol string) []OpenLot {
	lots := t.lots[symbol]
	out := make([]OpenLot, len(lots))
	copy(out, lots)
	return out
}

// VerifyAgainst panics when the tracker's open-lot total diverges from the
// ledger's position quantity for symbol. Divergence is a programming error;
// halting beats writing corrupt P&L.
func (t *TradeTracker) VerifyAgainst(portfolio *domain.Portfolio, symbol string) {
	lotQty := t.OpenQty(symbol)
	ledgerQty := portfolio.Qty(symbol)
	if lotQty != ledgerQty {
		panic(fmt.Sprintf("TRACKER_LEDGER_DIVERGENCE: %s lots=%d ledger=%d",
			symbol, lotQty, ledgerQty))
	}
}
