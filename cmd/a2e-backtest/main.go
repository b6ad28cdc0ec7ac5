// a2e-backtest replays stored historical bars through a strategy and prints
// a performance report. The run log and equity curve are persisted under the
// configured stores.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"a2e/internal/config"
	"a2e/internal/engine"
	"a2e/internal/store"
	"a2e/internal/strategy"
	"a2e/internal/strategy/builtins"
	"a2e/internal/util"
)

func main() {
	cfgPath := flag.String("config", defaultConfigPath(), "path to YAML config")
	strategyName := flag.String("strategy", "", "strategy to run (overrides config)")
	symbols := flag.String("symbols", "", "comma-separated symbols (overrides config)")
	runLogPath := flag.String("runlog", "", "write the run log as JSONL to this file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if *strategyName != "" {
		cfg.Backtest.Strategy = *strategyName
	}
	if *symbols != "" {
		cfg.Backtest.Symbols = strings.Split(*symbols, ",")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	if cfg.Backtest.Strategy == "" || len(cfg.Backtest.Symbols) == 0 {
		log.Fatal("a strategy and at least one symbol are required")
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	bars := store.NewParquetStore(cfg.Storage.DataDir)
	db, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("opening database: %v", err)
	}
	defer db.Close()

	reg := strategy.NewRegistry()
	reg.Register(builtins.NewSMACross(10, 30))
	reg.Register(builtins.NewMomentum(20, 0.02))

	start, end, err := cfg.BacktestRange()
	if err != nil {
		log.Fatalf("invalid backtest range: %v", err)
	}

	bt := strategy.NewBacktester(bars, reg, strategy.BacktesterConfig{
		Limits:         cfg.RiskLimits(),
		EquityFraction: cfg.Sizing.EquityFraction,
		Simulator:      cfg.SimulatorConfig(),
	}, logger)

	ctx := context.Background()
	result, err := bt.Run(ctx, cfg.Backtest.Strategy, cfg.Backtest.Symbols, start, end, cfg.Backtest.InitialCapital)
	if err != nil {
		log.Fatalf("backtest failed: %v", err)
	}

	runID := cfg.Backtest.RunID
	if runID == "" {
		runID = "backtest-" + time.Now().UTC().Format("20060102-150405")
	}
	if err := bars.WriteEquityCurve(ctx, runID, result.EquityCurve); err != nil {
		log.Fatalf("persisting equity curve: %v", err)
	}
	if err := db.SaveRunEntries(ctx, runID, result.Entries); err != nil {
		log.Fatalf("persisting run log: %v", err)
	}

	if *runLogPath != "" {
		if err := writeRunLog(*runLogPath, result); err != nil {
			log.Fatalf("writing run log: %v", err)
		}
	}

	printReport(runID, result)
}

func writeRunLog(path string, result *strategy.BacktestResult) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	rl := engine.NewRunLog()
	for _, e := range result.Entries {
		rl.Append(e)
	}
	return rl.WriteJSONL(f)
}

func printReport(runID string, result *strategy.BacktestResult) {
	fmt.Printf("run:               %s\n", runID)
	fmt.Printf("equity:            %.2f -> %.2f\n", result.StartEquity, result.EndEquity)
	fmt.Printf("total return:      %+.2f%%\n", result.TotalReturn*100)
	fmt.Printf("annualized return: %+.2f%%\n", result.AnnualizedReturn*100)
	fmt.Printf("volatility:        %.2f%%\n", result.Volatility*100)
	fmt.Printf("sharpe ratio:      %.2f\n", result.SharpeRatio)
	fmt.Printf("max drawdown:      %.2f%%\n", result.MaxDrawdown*100)
	fmt.Printf("trades:            %d\n", result.TradeCount)
	fmt.Printf("win rate:          %.1f%%\n", result.WinRate*100)
	fmt.Printf("profit factor:     %.2f\n", result.ProfitFactor)
}

func defaultConfigPath() string {
	if p := os.Getenv("A2E_CONFIG"); p != "" {
		return p
	}
	return "config/a2e.yaml"
}
