package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/shopspring/decimal"

	"quant_go/internal/app"
	"quant_go/internal/strategy"

	_ "net/http/pprof" // For pprof profiling
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "configuration file")
	dataPath := flag.String("data", "", "quote CSV (ts_ns,bid,ask,bid_size,ask_size)")
	shortPeriod := flag.Int("short", 10, "short SMA period")
	longPeriod := flag.Int("long", 30, "long SMA period")
	tradeQty := flag.String("qty", "1", "order quantity per signal")
	flag.Parse()

	// Pprof server, localhost only.
	go func() {
		slog.Info("🕵️ Pprof server started on localhost:6060")
		if err := http.ListenAndServe("localhost:6060", nil); err != nil {
			slog.Error("Pprof server failed", slog.Any("error", err))
		}
	}()

	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(*configPath); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, err := bootstrap.BuildBacktest()
	if err != nil {
		slog.Error("❌ Engine assembly failed", slog.Any("error", err))
		os.Exit(1)
	}

	cfg := bootstrap.Config
	if len(cfg.Backtest.Instruments) == 0 {
		slog.Error("❌ No instruments configured")
		os.Exit(1)
	}
	instrumentID := cfg.Backtest.Instruments[0].ID

	qty, err := decimal.NewFromString(*tradeQty)
	if err != nil || !qty.IsPositive() {
		slog.Error("❌ Invalid trade quantity", slog.String("qty", *tradeQty))
		os.Exit(1)
	}
	sma := strategy.NewSMACross("SMA-CROSS-001", instrumentID,
		*shortPeriod, *longPeriod, qty, slog.Default())
	if err := engine.AddStrategy(sma); err != nil {
		slog.Error("❌ Strategy registration failed", slog.Any("error", err))
		os.Exit(1)
	}

	if *dataPath == "" {
		slog.Error("❌ -data is required for a backtest run")
		os.Exit(1)
	}
	data, err := app.LoadQuoteCSV(*dataPath, instrumentID)
	if err != nil {
		slog.Error("❌ Data load failed", slog.Any("error", err))
		os.Exit(1)
	}
	if err := engine.AddData("quotes", data, false); err != nil {
		slog.Error("❌ Data rejected", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("✅ Data loaded", "points", len(data), "instrument", instrumentID)

	runID, err := bootstrap.Store.BeginRun(cfg.Backtest.TraderID, *dataPath)
	if err != nil {
		slog.Error("❌ Run store failed", slog.Any("error", err))
		os.Exit(1)
	}
	bootstrap.Store.Attach(engine.Bus(), runID)

	if err := engine.Run(ctx); err != nil {
		slog.Error("❌ Backtest failed", slog.Any("error", err))
		os.Exit(1)
	}
	if err := bootstrap.Store.FinishRun(runID); err != nil {
		slog.Warn("Run store finish failed", slog.Any("error", err))
	}

	for _, vc := range cfg.Backtest.Venues {
		acct := engine.Exchange(vc.Name).Account()
		st := acct.State(engine.Clock().TimestampNs())
		for _, b := range st.Balances {
			slog.Info("final balance", "venue", vc.Name,
				"currency", b.Currency, "total", b.Total.String())
		}
	}
	slog.Info("✨ Backtest complete", "run_id", runID)
}
