package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"trader_go/internal/app"
	"trader_go/internal/domain"
	"trader_go/internal/engine"
	"trader_go/internal/infra/broker"
	"trader_go/internal/infra/feed"
	"trader_go/internal/sizer"
	"trader_go/internal/strategy"

	_ "net/http/pprof" // for pprof profiling
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to configuration file")
	start := flag.String("start", "", "backtest start date (YYYY-MM-DD)")
	end := flag.String("end", "", "backtest end date (YYYY-MM-DD)")
	flag.Parse()

	// Pprof server (localhost only for security).
	go func() {
		slog.Info("pprof server started on localhost:6060")
		if err := http.ListenAndServe("localhost:6060", nil); err != nil {
			slog.Error("pprof server failed", slog.Any("error", err))
		}
	}()

	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(*configPath); err != nil {
		slog.Error("bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer bootstrap.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := bootstrap.Config
	symbols := cfg.Trading.Symbols
	strat := strategy.NewSMACross(symbols[0], 10, 30)
	sz := sizer.NewPercent(0.10)

	if cfg.Trading.DryRun {
		runBacktest(ctx, bootstrap, strat, sz, symbols, *start, *end)
		return
	}
	runLive(ctx, bootstrap, strat, sz, symbols)
}

func runBacktest(ctx context.Context, bootstrap *app.Bootstrap, strat strategy.Strategy, sz sizer.Sizer, symbols []string, startArg, endArg string) {
	startTS, endTS := resolveWindow(startArg, endArg)

	source := feed.NewStoreSource(bootstrap.Store)
	bt := engine.NewBacktest(bootstrap.BacktestConfig(), source, strat, sz, bootstrap.Audit)

	results, err := bt.RunMulti(ctx, symbols, domain.Timeframe1Day, startTS, endTS)
	if err != nil {
		slog.Error("backtest failed", slog.Any("error", err))
		os.Exit(1)
	}

	slog.Info("backtest results",
		slog.Any("symbols", results.Symbols),
		slog.Int("bars", results.BarCount),
		slog.Float64("initial", results.InitialCapital),
		slog.Float64("final", results.FinalValue),
		slog.Float64("return_pct", results.TotalReturnPct),
		slog.Int("trades", results.TotalTrades))
}

func runLive(ctx context.Context, bootstrap *app.Bootstrap, strat strategy.Strategy, sz sizer.Sizer, symbols []string) {
	cfg := bootstrap.Config

	if !cfg.Trading.EnableTrading {
		slog.Warn("enable_trading is false; running in observation mode against the paper broker")
	}

	live := engine.NewLive(bootstrap.LiveConfig(), 1024, strat, sz, nil, bootstrap.Audit)

	// Paper mode routes through the simulated broker; real venue routing is
	// out of scope and would plug in here behind the same interface.
	sim := broker.NewSimBroker(live.OnBrokerFill)
	live.SetBroker(sim)

	if cfg.Trading.FeedURL != "" {
		worker := feed.NewWorker(cfg.Trading.FeedURL, symbols, live.Inbox())
		if err := worker.Connect(ctx); err != nil {
			slog.Error("failed to connect feed", slog.Any("error", err))
			os.Exit(1)
		}
		defer worker.Disconnect()
		slog.Info("feed worker started", slog.Int("symbols", len(symbols)))
	}

	defer func() {
		if r := recover(); r != nil {
			if bootstrap.RecordCrash() {
				slog.Error("repeated crashes inside escalation window")
			}
			panic(r)
		}
	}()

	live.Run(ctx)
}

func resolveWindow(startArg, endArg string) (time.Time, time.Time) {
	end := time.Now().UTC().Truncate(24 * time.Hour)
	start := end.AddDate(-1, 0, 0)
	if startArg != "" {
		if ts, err := time.Parse("2006-01-02", startArg); err == nil {
			start = ts
		}
	}
	if endArg != "" {
		if ts, err := time.Parse("2006-01-02", endArg); err == nil {
			end = ts
		}
	}
	return start, end
}
