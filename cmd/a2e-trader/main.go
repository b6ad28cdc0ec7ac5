// a2e-trader runs the live trading loop: bars stream in from the market-data
// feed, the configured strategy produces signals, and accepted orders route
// to the Alpaca venue. The engine drains in-flight orders on shutdown.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"a2e/internal/broker"
	"a2e/internal/config"
	"a2e/internal/driver"
	"a2e/internal/engine"
	"a2e/internal/portfolio"
	"a2e/internal/store"
	"a2e/internal/strategy"
	"a2e/internal/strategy/builtins"
	"a2e/internal/util"
)

func main() {
	cfgPath := flag.String("config", defaultConfigPath(), "path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	if cfg.Live.Strategy == "" || len(cfg.Live.Symbols) == 0 {
		log.Fatal("a live strategy and at least one symbol are required")
	}
	if cfg.Alpaca.APIKey == "" || cfg.Alpaca.APISecret == "" {
		log.Fatal("alpaca credentials are required for live trading")
	}
	if cfg.Live.InitialCash <= 0 {
		log.Fatal("live initial_cash must be positive")
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	db, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("opening database: %v", err)
	}
	defer db.Close()

	reg := strategy.NewRegistry()
	reg.Register(builtins.NewSMACross(10, 30))
	reg.Register(builtins.NewMomentum(20, 0.02))
	strat, ok := reg.Get(cfg.Live.Strategy)
	if !ok {
		log.Fatalf("unknown strategy %q (have %v)", cfg.Live.Strategy, reg.List())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := strat.Init(ctx); err != nil {
		log.Fatalf("initializing strategy: %v", err)
	}

	venue := broker.NewAlpacaVenue(broker.AlpacaConfig{
		APIKey:    cfg.Alpaca.APIKey,
		APISecret: cfg.Alpaca.APISecret,
		BaseURL:   cfg.Alpaca.BaseURL,
	}, logger)
	defer venue.Close()

	stream, err := driver.NewStream(ctx, driver.StreamConfig{
		APIKey:    cfg.Alpaca.APIKey,
		APISecret: cfg.Alpaca.APISecret,
		Feed:      cfg.Alpaca.Feed,
		Symbols:   cfg.Live.Symbols,
	}, logger)
	if err != nil {
		log.Fatalf("connecting market data: %v", err)
	}

	ledger := portfolio.NewLedger(cfg.Live.InitialCash)
	eng, err := engine.NewEngine(engine.Config{
		Limits:        cfg.RiskLimits(),
		Sizer:         engine.FixedFractionSizer(cfg.Sizing.EquityFraction),
		SubmitTimeout: cfg.Execution.SubmitTimeout,
		OrderDeadline: cfg.Execution.OrderDeadline,
	}, strat, ledger, logger,
		engine.WithVenue(venue),
		engine.WithOrderStore(db))
	if err != nil {
		log.Fatalf("building engine: %v", err)
	}

	logger.Info("live trading started",
		"strategy", cfg.Live.Strategy,
		"symbols", cfg.Live.Symbols)

	runErr := eng.Run(ctx, stream)

	// Persist the session's record regardless of how the run ended.
	runID := cfg.Live.RunID
	if runID == "" {
		runID = "live-" + time.Now().UTC().Format("20060102-150405")
	}
	persistCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.SaveRunEntries(persistCtx, runID, eng.RunLog().Entries()); err != nil {
		logger.Error("persisting run log failed", "error", err.Error())
	}
	equityStore := store.NewParquetStore(cfg.Storage.DataDir)
	if err := equityStore.WriteEquityCurve(persistCtx, runID, ledger.EquityHistory()); err != nil {
		logger.Error("persisting equity curve failed", "error", err.Error())
	}

	if runErr != nil {
		log.Fatalf("live run failed: %v", runErr)
	}
	logger.Info("live trading stopped", "run_id", runID)
}

func defaultConfigPath() string {
	if p := os.Getenv("A2E_CONFIG"); p != "" {
		return p
	}
	return "config/a2e.yaml"
}
