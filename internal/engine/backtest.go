// Package engine composes the matching engine, validator, sizers, risk
// manager and trackers into the backtest and live event loops.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"trader_go/internal/domain"
	"trader_go/internal/execution"
	"trader_go/internal/infra"
	"trader_go/internal/infra/feed"
	"trader_go/internal/risk"
	"trader_go/internal/sizer"
	"trader_go/internal/strategy"
	"trader_go/internal/tracker"
)

// BacktestConfig carries the engine-level knobs already converted to their
// runtime types. Construct it once from infra.Config at the boundary.
type BacktestConfig struct {
	InitialCapital float64
	DefaultTIF     domain.TimeInForce
	Matching       execution.MatchingConfig
	Limits         execution.RiskLimits
	Risk           risk.Config
	LogOrders      bool
}

// Results is the bundle produced by a completed backtest run.
type Results struct {
	Symbols        []string
	Start          time.Time
	End            time.Time
	BarCount       int
	InitialCapital float64
	FinalValue     float64
	TotalReturnPct float64
	TotalTrades    int
	Trades         []tracker.CompletedTrade
	EquityCurve    []tracker.EquityPoint
	Reports        []domain.FillReport
	Metrics        infra.MetricsSnapshot
}

// Backtest drives the simulation core over a chronologically-ordered bar
// stream. It is strictly single-threaded: one logical event loop, all state
// transitions sequential, no suspension points. That is what makes two runs
// over the same input byte-identical.
type Backtest struct {
	cfg      BacktestConfig
	source   feed.BarSource
	strat    strategy.Strategy
	sz       sizer.Sizer
	matching *execution.MatchingEngine
	valid    *execution.Validator
	riskMgr  *risk.Manager
	trades   *tracker.TradeTracker
	equity   *tracker.EquityTracker
	ledger   *domain.Portfolio
	audit    *execution.AuditLog
	metrics  *infra.Metrics

	// Working GTC/DAY orders per symbol awaiting further fills.
	working map[string][]*domain.Order

	// Last emitted strategy action per symbol, for duplicate suppression.
	lastAction map[string]domain.SignalAction

	// Sequential client ids keep trade lists byte-identical across runs.
	nextOrderID int

	reports []domain.FillReport
}

// NewBacktest wires the simulation components. audit may be nil.
func NewBacktest(cfg BacktestConfig, source feed.BarSource, strat strategy.Strategy, sz sizer.Sizer, audit *execution.AuditLog) *Backtest {
	return &Backtest{
		cfg:        cfg,
		source:     source,
		strat:      strat,
		sz:         sz,
		matching:   execution.NewMatchingEngine(cfg.Matching),
		valid:      execution.NewValidator(cfg.Limits),
		riskMgr:    risk.NewManager(cfg.Risk, cfg.InitialCapital),
		trades:     tracker.NewTradeTracker(),
		equity:     tracker.NewEquityTracker(),
		ledger:     domain.NewPortfolio(cfg.InitialCapital),
		audit:      audit,
		metrics:    &infra.Metrics{},
		working:    make(map[string][]*domain.Order),
		lastAction: make(map[string]domain.SignalAction),
	}
}

// Portfolio exposes the ledger (read-only use).
func (b *Backtest) Portfolio() *domain.Portfolio { return b.ledger }

// TradeTracker exposes the FIFO trade tracker.
func (b *Backtest) TradeTracker() *tracker.TradeTracker { return b.trades }

// RiskManager exposes the risk manager.
func (b *Backtest) RiskManager() *risk.Manager { return b.riskMgr }

// Run backtests a single symbol over [start, end].
func (b *Backtest) Run(ctx context.Context, symbol string, tf domain.Timeframe, start, end time.Time) (*Results, error) {
	return b.RunMulti(ctx, []string{symbol}, tf, start, end)
}

// RunMulti backtests several symbols simultaneously, merging their bar
// streams by timestamp and dispatching per symbol within the same tick.
func (b *Backtest) RunMulti(ctx context.Context, symbols []string, tf domain.Timeframe, start, end time.Time) (*Results, error) {
	slog.Info("starting backtest",
		slog.Any("symbols", symbols),
		slog.String("timeframe", string(tf)),
		slog.Time("start", start),
		slog.Time("end", end))

	barIndex := make(map[string]map[time.Time]*domain.Bar, len(symbols))
	tsSet := make(map[time.Time]struct{})
	for _, symbol := range symbols {
		bars, err := b.source.Bars(ctx, symbol, tf, start, end)
		if err != nil {
			return nil, fmt.Errorf("failed to load bars for %s: %w", symbol, err)
		}
		index := make(map[time.Time]*domain.Bar, len(bars))
		for _, bar := range bars {
			if err := bar.Validate(); err != nil {
				return nil, err
			}
			index[bar.Timestamp] = bar
			tsSet[bar.Timestamp] = struct{}{}
		}
		barIndex[symbol] = index
		slog.Info("loaded bars", slog.String("symbol", symbol), slog.Int("count", len(bars)))
	}

	timestamps := make([]time.Time, 0, len(tsSet))
	for ts := range tsSet {
		timestamps = append(timestamps, ts)
	}
	sort.Slice(timestamps, func(i, j int) bool { return timestamps[i].Before(timestamps[j]) })

	if len(timestamps) == 0 {
		slog.Warn("no bars found for any symbol")
		return b.results(symbols, start, end, 0), nil
	}

	prices := make(map[string]float64, len(symbols))
	first := true

	for _, ts := range timestamps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		bars := make(map[string]*domain.Bar, len(symbols))
		for _, symbol := range symbols {
			bar, ok := barIndex[symbol][ts]
			if !ok {
				continue
			}
			bars[symbol] = bar
			b.matching.SetBar(bar)
			prices[symbol] = b.matching.ReferencePrice(bar)
		}
		if len(bars) == 0 {
			continue
		}

		if first {
			b.equity.Record(ts, b.ledger.TotalValue())
			first = false
		}

		b.tick(ts, bars, prices)
	}

	last := timestamps[len(timestamps)-1]
	b.closeAllPositions(last, prices)
	b.equity.Record(last, b.ledger.TotalValue())

	slog.Info("backtest complete",
		slog.Int("timestamps", len(timestamps)),
		slog.Int("trades", b.trades.TradeCount()),
		slog.Float64("final_value", b.ledger.TotalValue()))

	return b.results(symbols, start, end, len(timestamps)), nil
}

// tick runs the fixed per-timestamp sequence: working-order fills,
// mark-to-market, risk stops, strategy signals, execution, equity record.
func (b *Backtest) tick(ts time.Time, bars map[string]*domain.Bar, prices map[string]float64) {
	b.metrics.RecordTick()

	// Deterministic symbol order: map iteration would scramble the fill
	// sequence between runs.
	symbols := make([]string, 0, len(bars))
	for symbol := range bars {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	// 1-2. New bar context is already set; give working orders first shot.
	for _, symbol := range symbols {
		b.fillWorkingOrders(symbol, ts)
	}

	// 3. Mark open positions at the bar reference.
	b.ledger.MarkToMarket(prices)

	// 4. Risk stops run before the strategy, so an imminent exit cannot be
	// overridden by a same-tick entry.
	exits := b.riskMgr.CheckStops(prices, b.ledger.TotalValue(), b.ledger, ts)
	b.metrics.SetCircuitState(b.riskMgr.BreakerTripped())

	// 5. Strategy signals, suppressed entirely while the breaker is open.
	// The snapshot gets its own price map so a strategy holding on to it
	// never observes later mutation.
	var signals []domain.Signal
	if !b.riskMgr.BreakerTripped() {
		px := make(map[string]float64, len(prices))
		for sym, p := range prices {
			px[sym] = p
		}
		snapshot := &domain.MarketSnapshot{Timestamp: ts, Prices: px, Bars: bars}
		signals = b.filterSignals(b.strat.GenerateSignals(snapshot))
	}

	// 6. Exits first, then entries.
	for _, exit := range exits {
		b.metrics.RecordStopExit()
		b.executeExit(exit, ts)
	}
	for i := range signals {
		b.executeSignal(&signals[i], ts)
	}

	// 7. Record equity.
	b.equity.Record(ts, b.ledger.TotalValue())
}

// filterSignals drops HOLDs and consecutive duplicates per symbol.
func (b *Backtest) filterSignals(raw []domain.Signal) []domain.Signal {
	out := raw[:0]
	for _, sig := range raw {
		if !sig.Actionable() {
			continue
		}
		if b.lastAction[sig.Symbol] == sig.Action {
			continue
		}
		b.lastAction[sig.Symbol] = sig.Action
		b.metrics.RecordSignal()
		out = append(out, sig)
	}
	return out
}

// fillWorkingOrders replays GTC/DAY remainders against the fresh bar.
func (b *Backtest) fillWorkingOrders(symbol string, ts time.Time) {
	queue := b.working[symbol]
	if len(queue) == 0 {
		return
	}
	kept := queue[:0]
	for _, order := range queue {
		report := b.matching.Match(order)
		b.applyReport(order, &report, ts)
		if order.IsWorking() {
			kept = append(kept, order)
		}
	}
	b.working[symbol] = kept
}

// newOrderID hands out sequential client ids.
func (b *Backtest) newOrderID() string {
	b.nextOrderID++
	return fmt.Sprintf("bt-%06d", b.nextOrderID)
}

// executeExit turns a risk exit signal into a forced market sell.
func (b *Backtest) executeExit(exit risk.ExitSignal, ts time.Time) {
	order, err := domain.NewOrderWithID(b.newOrderID(), exit.Symbol, exit.Side,
		domain.OrderTypeMarket, exit.Qty, domain.TIFIOC, ts)
	if err != nil {
		slog.Error("failed to build exit order", slog.Any("error", err))
		return
	}
	slog.Info("risk exit",
		slog.String("symbol", exit.Symbol),
		slog.String("reason", string(exit.Reason)),
		slog.Float64("trigger", exit.TriggerPrice),
		slog.Int64("qty", exit.Qty))
	b.submit(order, ts)
}

// executeSignal sizes, validates and submits one strategy signal.
func (b *Backtest) executeSignal(sig *domain.Signal, ts time.Time) {
	side, ok := sig.Action.Side()
	if !ok {
		return
	}
	price := sig.Price

	// Long-only: buys are sized, a sell closes the full held position.
	var qty int64
	if side == domain.SideBuy {
		qty = b.sz.Qty(sig, b.ledger, price)
	} else {
		qty = b.ledger.Qty(sig.Symbol)
	}
	if qty <= 0 {
		return
	}

	order, err := domain.NewOrderWithID(b.newOrderID(), sig.Symbol, side,
		domain.OrderTypeMarket, qty, b.cfg.DefaultTIF, ts)
	if err != nil {
		slog.Error("failed to build order", slog.Any("error", err))
		return
	}

	result := b.valid.Validate(sig.Symbol, side, qty, price, b.ledger, ts)
	if !result.OK {
		b.metrics.RecordOrderRejected()
		if err := order.Reject(result.Code); err != nil {
			panic("STATE_MACHINE_VIOLATION: " + err.Error())
		}
		if b.cfg.LogOrders {
			slog.Info("order rejected by validator",
				slog.String("symbol", sig.Symbol),
				slog.String("code", result.Code),
				slog.String("detail", result.Detail))
		}
		b.recordAudit(ts, order, execution.AuditRejected, result.Code)
		return
	}

	b.submit(order, ts)
}

// submit acknowledges, matches and applies one order.
func (b *Backtest) submit(order *domain.Order, ts time.Time) {
	if err := order.Acknowledge(); err != nil {
		panic("STATE_MACHINE_VIOLATION: " + err.Error())
	}
	b.valid.Record(order.Symbol, ts)
	b.metrics.RecordOrderSubmitted()
	b.recordAudit(ts, order, execution.AuditSent, "")

	report := b.matching.Match(order)
	b.applyReport(order, &report, ts)

	if order.IsWorking() {
		b.working[order.Symbol] = append(b.working[order.Symbol], order)
	}
}

// applyReport folds a fill report through tracker then ledger, keeps the
// risk manager's stop quantities in sync, and checks the FIFO/ledger
// invariant afterwards.
func (b *Backtest) applyReport(order *domain.Order, report *domain.FillReport, ts time.Time) {
	b.reports = append(b.reports, *report)

	if b.audit != nil {
		if err := b.audit.RecordReport(ts, order, report); err != nil {
			slog.Warn("audit write failed", slog.Any("error", err))
		}
	}

	if !report.DidFill() {
		if report.Status == domain.FillStatusRejected {
			b.metrics.RecordOrderRejected()
			if b.cfg.LogOrders {
				slog.Info("order rejected by matching",
					slog.String("order_id", order.ID),
					slog.String("reason", report.Reason))
			}
		}
		return
	}

	prevQty := b.ledger.Qty(report.Symbol)

	b.trades.ProcessFill(report, ts)
	b.ledger.ApplyFill(report)
	b.trades.VerifyAgainst(b.ledger, report.Symbol)

	newQty := b.ledger.Qty(report.Symbol)
	switch {
	case report.Side == domain.SideBuy && prevQty == 0:
		b.riskMgr.AddStop(report.Symbol, report.FillPrice, newQty, ts)
	default:
		b.riskMgr.UpdateQty(report.Symbol, newQty)
	}

	if report.Status == domain.FillStatusFilled {
		b.metrics.RecordOrderFilled()
	}
	if b.cfg.LogOrders {
		slog.Info("fill applied",
			slog.String("symbol", report.Symbol),
			slog.String("side", string(report.Side)),
			slog.Int64("qty", report.FilledQty),
			slog.Float64("price", report.FillPrice))
	}
}

// closeAllPositions force-closes every open position at the final reference
// price with a synthetic market exit: the fill bypasses matching (and its
// volume cap) because the run is over and the ledger must go flat.
func (b *Backtest) closeAllPositions(ts time.Time, prices map[string]float64) {
	positions := b.ledger.Positions()
	symbols := make([]string, 0, len(positions))
	for symbol := range positions {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	for _, symbol := range symbols {
		pos := positions[symbol]
		if pos.Qty <= 0 {
			continue
		}
		price, ok := prices[symbol]
		if !ok {
			slog.Warn("no price for final close, skipping", slog.String("symbol", symbol))
			continue
		}
		slog.Info("closing position at end of stream",
			slog.String("symbol", symbol),
			slog.Int64("qty", pos.Qty),
			slog.Float64("price", price))

		report := &domain.FillReport{
			OrderID:   "eod-close",
			Symbol:    symbol,
			Side:      domain.SideSell,
			Status:    domain.FillStatusFilled,
			FilledQty: pos.Qty,
			FillPrice: price,
		}
		b.trades.ProcessFill(report, ts)
		b.ledger.ApplyFill(report)
		b.trades.VerifyAgainst(b.ledger, symbol)
		b.riskMgr.RemoveStop(symbol)
	}
}

func (b *Backtest) recordAudit(ts time.Time, order *domain.Order, ev execution.AuditEvent, reason string) {
	if b.audit == nil {
		return
	}
	err := b.audit.Record(ts, ev, order.ID, "", order.Symbol, order.Side,
		order.Qty, order.FilledQty, order.LimitPrice, 0, reason)
	if err != nil {
		slog.Warn("audit write failed", slog.Any("error", err))
	}
}

func (b *Backtest) results(symbols []string, start, end time.Time, barCount int) *Results {
	final := b.ledger.TotalValue()
	return &Results{
		Symbols:        symbols,
		Start:          start,
		End:            end,
		BarCount:       barCount,
		InitialCapital: b.cfg.InitialCapital,
		FinalValue:     final,
		TotalReturnPct: (final - b.cfg.InitialCapital) / b.cfg.InitialCapital * 100,
		TotalTrades:    b.trades.TradeCount(),
		Trades:         b.trades.Trades(),
		EquityCurve:    b.equity.Curve(),
		Reports:        b.reports,
		Metrics:        b.metrics.Snapshot(),
	}
}
