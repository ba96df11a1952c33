package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"trader_go/internal/domain"
	"trader_go/internal/event"
	"trader_go/internal/execution"
	"trader_go/internal/infra"
	"trader_go/internal/infra/broker"
	"trader_go/internal/risk"
	"trader_go/internal/sizer"
	"trader_go/internal/strategy"
	"trader_go/internal/tracker"
)

// LiveConfig extends the shared engine knobs with live-only settings.
type LiveConfig struct {
	BacktestConfig
	SignalCooldown    time.Duration
	StatusLogInterval time.Duration
	HealthPath        string
	SubmitTimeout     time.Duration
}

// lastSignal remembers the most recent emission per symbol for the
// cooldown dedup filter.
type lastSignal struct {
	action domain.SignalAction
	at     time.Time
}

// Live is the real-time engine actor. It owns the ledger, trackers and risk
// manager outright; every inbound event (market tick, broker fill, command)
// is serialized through the single inbox and processed on one goroutine.
// Feed workers and broker callbacks only enqueue. This MUST be run in a
// single goroutine.
type Live struct {
	cfg     LiveConfig
	inbox   chan event.Event
	strat   strategy.Strategy
	sz      sizer.Sizer
	valid   *execution.Validator
	riskMgr *risk.Manager
	trades  *tracker.TradeTracker
	equity  *tracker.EquityTracker
	ledger  *domain.Portfolio
	brk     broker.Broker
	audit   *execution.AuditLog
	metrics *infra.Metrics

	currentPrices map[string]float64
	pending       map[string]*domain.Order // client id -> order awaiting broker fills
	exchangeIDs   map[string]string        // client id -> exchange id
	lastEmitted   map[string]lastSignal

	status     infra.HealthStatus
	startedAt  time.Time
	lastStatus time.Time
	lastHealth time.Time
}

// NewLive wires the live engine. audit may be nil.
func NewLive(cfg LiveConfig, inboxSize int, strat strategy.Strategy, sz sizer.Sizer, brk broker.Broker, audit *execution.AuditLog) *Live {
	return &Live{
		cfg:           cfg,
		inbox:         make(chan event.Event, inboxSize),
		strat:         strat,
		sz:            sz,
		valid:         execution.NewValidator(cfg.Limits),
		riskMgr:       risk.NewManager(cfg.Risk, cfg.InitialCapital),
		trades:        tracker.NewTradeTracker(),
		equity:        tracker.NewEquityTracker(),
		ledger:        domain.NewPortfolio(cfg.InitialCapital),
		brk:           brk,
		audit:         audit,
		metrics:       &infra.Metrics{},
		currentPrices: make(map[string]float64),
		pending:       make(map[string]*domain.Order),
		exchangeIDs:   make(map[string]string),
		lastEmitted:   make(map[string]lastSignal),
		status:        infra.HealthInitializing,
	}
}

// Inbox returns the event channel. Feed workers and broker callbacks send
// events here; they never touch engine state directly.
func (l *Live) Inbox() chan<- event.Event { return l.inbox }

// SetBroker wires the order router. Needed because the simulated broker's
// fill callback points back at this engine; call before Run.
func (l *Live) SetBroker(b broker.Broker) { l.brk = b }

// OnBrokerFill adapts a broker fill notification into an inbox event. Safe
// to call from any goroutine.
func (l *Live) OnBrokerFill(n broker.FillNotification) {
	ev := event.AcquireBrokerFillEvent()
	ev.ClientOrderID = n.ClientOrderID
	ev.Symbol = n.Symbol
	ev.Side = n.Side
	ev.FilledQty = n.FilledQty
	ev.FillPrice = n.FillPrice
	ev.Timestamp = n.Timestamp
	ev.Terminal = n.Terminal
	l.inbox <- ev
}

// Run starts the actor loop and blocks until ctx is canceled. On return the
// queue is drained, working orders are canceled and a final health snapshot
// is persisted.
func (l *Live) Run(ctx context.Context) {
	l.startedAt = time.Now().UTC()
	l.status = infra.HealthRunning
	slog.Info("live engine started (single-writer actor)")

	defer func() {
		if r := recover(); r != nil {
			slog.Error("CRITICAL_PANIC_DETECTED", slog.Any("panic", r))
			l.DumpState("panic_dump.json")
			panic(fmt.Sprintf("HALTED: %v", r))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			l.shutdown()
			return
		case ev := <-l.inbox:
			l.processEvent(ev)
		}
	}
}

func (l *Live) processEvent(ev event.Event) {
	switch e := ev.(type) {
	case *event.TickEvent:
		l.handleTick(e.Tick)
		event.ReleaseTickEvent(e)
	case *event.BrokerFillEvent:
		l.handleBrokerFill(e)
		event.ReleaseBrokerFillEvent(e)
	case *event.ResetBreakerEvent:
		l.riskMgr.ResetBreaker()
		l.metrics.SetCircuitState(false)
	case *event.FlushHealthEvent:
		l.writeHealth()
	default:
		slog.Warn("unknown event type", slog.Any("kind", ev.GetKind()))
	}
}

// handleTick mirrors the backtest per-tick sequence against streaming
// prices: mark, stops before signals, dedup, submit.
func (l *Live) handleTick(tick domain.Tick) {
	l.metrics.RecordTick()
	l.currentPrices[tick.Symbol] = tick.Price

	if sim, ok := l.brk.(*broker.SimBroker); ok {
		sim.UpdatePrice(tick.Symbol, tick.Price)
	}

	l.ledger.MarkToMarket(l.currentPrices)
	equity := l.ledger.TotalValue()

	exits := l.riskMgr.CheckStops(l.currentPrices, equity, l.ledger, tick.Timestamp)
	l.metrics.SetCircuitState(l.riskMgr.BreakerTripped())
	for _, exit := range exits {
		l.metrics.RecordStopExit()
		l.submitExit(exit, tick.Timestamp)
	}

	if !l.riskMgr.BreakerTripped() {
		px := make(map[string]float64, len(l.currentPrices))
		for sym, p := range l.currentPrices {
			px[sym] = p
		}
		snapshot := &domain.MarketSnapshot{
			Timestamp: tick.Timestamp,
			Prices:    px,
		}
		for _, sig := range l.strat.GenerateSignals(snapshot) {
			if !sig.Actionable() {
				continue
			}
			if l.isDuplicate(&sig) {
				continue
			}
			l.metrics.RecordSignal()
			l.submitSignal(&sig, tick.Timestamp)
		}
	}

	l.equity.Record(tick.Timestamp, l.ledger.TotalValue())
	l.maybeLogStatus()
	l.maybeWriteHealth()
}

// isDuplicate drops a signal equal to the last emitted one for the symbol
// within the cooldown window.
func (l *Live) isDuplicate(sig *domain.Signal) bool {
	last, ok := l.lastEmitted[sig.Symbol]
	if ok && last.action == sig.Action && sig.Timestamp.Sub(last.at) < l.cfg.SignalCooldown {
		return true
	}
	l.lastEmitted[sig.Symbol] = lastSignal{action: sig.Action, at: sig.Timestamp}
	return false
}

func (l *Live) submitExit(exit risk.ExitSignal, ts time.Time) {
	order, err := domain.NewMarketOrder(exit.Symbol, exit.Side, exit.Qty, domain.TIFIOC, ts)
	if err != nil {
		slog.Error("failed to build exit order", slog.Any("error", err))
		return
	}
	slog.Warn("risk exit",
		slog.String("symbol", exit.Symbol),
		slog.String("reason", string(exit.Reason)),
		slog.Int64("qty", exit.Qty))
	l.routeOrder(order, ts)
}

func (l *Live) submitSignal(sig *domain.Signal, ts time.Time) {
	side, ok := sig.Action.Side()
	if !ok {
		return
	}
	price, ok := l.currentPrices[sig.Symbol]
	if !ok {
		return
	}

	// Long-only: buys are sized, a sell closes the full held position.
	var qty int64
	if side == domain.SideBuy {
		qty = l.sz.Qty(sig, l.ledger, price)
	} else {
		qty = l.ledger.Qty(sig.Symbol)
	}
	if qty <= 0 {
		return
	}

	order, err := domain.NewMarketOrder(sig.Symbol, side, qty, l.cfg.DefaultTIF, ts)
	if err != nil {
		slog.Error("failed to build order", slog.Any("error", err))
		return
	}

	result := l.valid.Validate(sig.Symbol, side, qty, price, l.ledger, ts)
	if !result.OK {
		l.metrics.RecordOrderRejected()
		if err := order.Reject(result.Code); err != nil {
			panic("STATE_MACHINE_VIOLATION: " + err.Error())
		}
		slog.Info("order rejected by validator",
			slog.String("symbol", sig.Symbol),
			slog.String("code", result.Code))
		return
	}

	l.routeOrder(order, ts)
}

// routeOrder submits through the broker with a deadline. A timed-out or
// failed submission is marked REJECTED locally and never credits the ledger.
func (l *Live) routeOrder(order *domain.Order, ts time.Time) {
	l.valid.Record(order.Symbol, ts)
	l.metrics.RecordOrderSubmitted()
	if l.audit != nil {
		l.audit.Record(ts, execution.AuditSent, order.ID, "", order.Symbol, order.Side,
			order.Qty, 0, order.LimitPrice, 0, "")
	}

	ctx, cancel := context.WithTimeout(context.Background(), l.cfg.SubmitTimeout)
	defer cancel()

	// Submitted while NEW: the local ack mirrors the broker's answer, so a
	// timed-out submission ends REJECTED and never credits the ledger.
	ack, err := l.brk.Submit(ctx, order)
	if err != nil {
		l.metrics.RecordError()
		if rerr := order.Reject("submit_failed"); rerr != nil {
			panic("STATE_MACHINE_VIOLATION: " + rerr.Error())
		}
		slog.Error("broker submission failed",
			slog.String("order_id", order.ID),
			slog.Any("error", err))
		if l.audit != nil {
			l.audit.Record(ts, execution.AuditRejected, order.ID, "", order.Symbol, order.Side,
				order.Qty, 0, order.LimitPrice, 0, "submit_failed")
		}
		return
	}

	if err := order.Acknowledge(); err != nil {
		panic("STATE_MACHINE_VIOLATION: " + err.Error())
	}
	l.pending[order.ID] = order
	l.exchangeIDs[order.ID] = ack.ExchangeID
	if l.audit != nil {
		l.audit.Record(ts, execution.AuditAcked, order.ID, ack.ExchangeID, order.Symbol, order.Side,
			order.Qty, 0, order.LimitPrice, 0, "")
	}
}

// handleBrokerFill folds an asynchronous fill back through the same
// tracker-then-ledger path the backtest uses. Fills for unknown orders are
// logged and dropped.
func (l *Live) handleBrokerFill(ev *event.BrokerFillEvent) {
	order, ok := l.pending[ev.ClientOrderID]
	if !ok {
		slog.Warn("fill for unknown order", slog.String("client_id", ev.ClientOrderID))
		return
	}

	if err := order.Fill(ev.FilledQty, ev.FillPrice); err != nil {
		// State-machine violation in live mode aborts the order, not the run.
		l.metrics.RecordError()
		slog.Error("aborting order on illegal fill",
			slog.String("order_id", order.ID),
			slog.Any("error", err))
		delete(l.pending, ev.ClientOrderID)
		return
	}

	status := domain.FillStatusPartiallyFilled
	if order.State == domain.OrderStateFilled {
		status = domain.FillStatusFilled
	}
	report := &domain.FillReport{
		OrderID:   order.ID,
		Symbol:    ev.Symbol,
		Side:      ev.Side,
		Status:    status,
		FilledQty: ev.FilledQty,
		FillPrice: ev.FillPrice,
	}

	prevQty := l.ledger.Qty(report.Symbol)
	l.trades.ProcessFill(report, ev.Timestamp)
	l.ledger.ApplyFill(report)
	l.trades.VerifyAgainst(l.ledger, report.Symbol)

	newQty := l.ledger.Qty(report.Symbol)
	if report.Side == domain.SideBuy && prevQty == 0 {
		l.riskMgr.AddStop(report.Symbol, report.FillPrice, newQty, ev.Timestamp)
	} else {
		l.riskMgr.UpdateQty(report.Symbol, newQty)
	}

	if l.audit != nil {
		l.audit.RecordReport(ev.Timestamp, order, report)
	}

	if order.State.IsTerminal() || ev.Terminal {
		if status == domain.FillStatusFilled {
			l.metrics.RecordOrderFilled()
		}
		delete(l.pending, ev.ClientOrderID)
		delete(l.exchangeIDs, order.ID)
	}
}

func (l *Live) maybeLogStatus() {
	now := time.Now()
	if l.cfg.StatusLogInterval <= 0 || now.Sub(l.lastStatus) < l.cfg.StatusLogInterval {
		return
	}
	l.lastStatus = now
	snap := l.metrics.Snapshot()
	slog.Info("engine status",
		slog.String("status", string(l.status)),
		slog.Uint64("ticks", snap.TicksProcessed),
		slog.Uint64("signals", snap.SignalsEmitted),
		slog.Uint64("orders", snap.OrdersSubmitted),
		slog.Uint64("fills", snap.OrdersFilled),
		slog.Float64("equity", l.ledger.TotalValue()),
		slog.Bool("circuit_open", snap.CircuitOpen))
}

func (l *Live) maybeWriteHealth() {
	if l.cfg.HealthPath == "" {
		return
	}
	now := time.Now()
	if now.Sub(l.lastHealth) < 10*time.Second {
		return
	}
	l.lastHealth = now
	l.writeHealth()
}

func (l *Live) writeHealth() {
	if l.cfg.HealthPath == "" {
		return
	}
	positions := make(map[string]infra.HealthPosition)
	for symbol, pos := range l.ledger.Positions() {
		positions[symbol] = infra.HealthPosition{
			Qty: pos.Qty, AvgPrice: pos.AvgPrice, Mark: pos.Mark,
		}
	}
	snap := &infra.HealthSnapshot{
		Status:    l.status,
		Timestamp: time.Now().UTC(),
		UptimeSec: int64(time.Since(l.startedAt).Seconds()),
		Positions: positions,
		TotalPnL:  l.trades.TotalPnL(),
		Equity:    l.ledger.TotalValue(),
	}
	if err := infra.WriteHealthSnapshot(l.cfg.HealthPath, snap); err != nil {
		slog.Warn("health snapshot write failed", slog.Any("error", err))
	}
}

// shutdown drains the inbox, cancels all working orders at the broker and
// persists the final health snapshot.
func (l *Live) shutdown() {
	slog.Info("live engine stopping, draining queue",
		slog.Int("queued", len(l.inbox)))

	for {
		select {
		case ev := <-l.inbox:
			l.processEvent(ev)
		default:
			goto drained
		}
	}
drained:

	for clientID, order := range l.pending {
		exchangeID := l.exchangeIDs[clientID]
		ctx, cancel := context.WithTimeout(context.Background(), l.cfg.SubmitTimeout)
		if err := l.brk.Cancel(ctx, exchangeID); err != nil {
			slog.Warn("cancel on shutdown failed",
				slog.String("order_id", clientID),
				slog.Any("error", err))
		}
		cancel()
		if order.IsWorking() {
			if err := order.Cancel(); err != nil {
				slog.Warn("local cancel failed", slog.Any("error", err))
			}
		}
	}

	l.status = infra.HealthStopped
	l.writeHealth()
	slog.Info("live engine stopped")
}

// DumpState writes the entire internal state to a file (for post-mortem).
func (l *Live) DumpState(filename string) {
	slog.Info("dumping internal state", slog.String("file", filename))

	data := struct {
		Status    infra.HealthStatus         `json:"status"`
		Prices    map[string]float64         `json:"prices"`
		Positions map[string]domain.Position `json:"positions"`
		Cash      float64                    `json:"cash"`
		Pending   []string                   `json:"pending_orders"`
	}{
		Status:    l.status,
		Prices:    l.currentPrices,
		Positions: l.ledger.Positions(),
		Cash:      l.ledger.Cash(),
	}
	for id := range l.pending {
		data.Pending = append(data.Pending, id)
	}

	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		slog.Error("failed to marshal state", slog.Any("error", err))
		return
	}
	if err := os.WriteFile(filename, b, 0644); err != nil {
		slog.Error("failed to write state dump", slog.Any("error", err))
	}
}

// Equity exposes the live equity curve.
func (l *Live) Equity() *tracker.EquityTracker { return l.equity }

// Portfolio exposes the ledger.
func (l *Live) Portfolio() *domain.Portfolio { return l.ledger }
