// a2e-ingest fetches historical daily bars from the Alpaca market-data API
// and stores them for backtesting.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"a2e/internal/config"
	"a2e/internal/domain"
	"a2e/internal/ingest"
	"a2e/internal/store"
	"a2e/internal/util"
)

func main() {
	cfgPath := flag.String("config", defaultConfigPath(), "path to YAML config")
	symbols := flag.String("symbols", "", "comma-separated symbols (required)")
	startStr := flag.String("start", "", "range start, YYYY-MM-DD (required)")
	endStr := flag.String("end", time.Now().UTC().Format("2006-01-02"), "range end, YYYY-MM-DD")
	flag.Parse()

	if *symbols == "" || *startStr == "" {
		flag.Usage()
		os.Exit(1)
	}
	start, err := time.Parse("2006-01-02", *startStr)
	if err != nil {
		log.Fatalf("invalid start date: %v", err)
	}
	end, err := time.Parse("2006-01-02", *endStr)
	if err != nil {
		log.Fatalf("invalid end date: %v", err)
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if cfg.Alpaca.APIKey == "" || cfg.Alpaca.APISecret == "" {
		log.Fatal("alpaca credentials are required")
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ing := ingest.New(ingest.Config{
		APIKey:    cfg.Alpaca.APIKey,
		APISecret: cfg.Alpaca.APISecret,
		Feed:      cfg.Alpaca.Feed,
	}, store.NewParquetStore(cfg.Storage.DataDir), logger)

	n, err := ing.Run(ctx, strings.Split(*symbols, ","), domain.MarketUS, start, end)
	if err != nil {
		log.Fatalf("ingestion failed after %d bars: %v", n, err)
	}
}

func defaultConfigPath() string {
	if p := os.Getenv("A2E_CONFIG"); p != "" {
		return p
	}
	return "config/a2e.yaml"
}
