package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"a2e/internal/analytics"
	"a2e/internal/broker"
	"a2e/internal/domain"
	"a2e/internal/driver"
	"a2e/internal/engine"
	"a2e/internal/portfolio"
	"a2e/internal/store"
)

// BacktestResult holds the outputs of a backtest run: summary metrics, the
// full decision log, and the equity curve.
type BacktestResult struct {
	analytics.Report

	Entries     []domain.RunEntry
	EquityCurve []domain.EquityPoint
}

// BacktesterConfig holds the execution parameters shared by every run of a
// Backtester.
type BacktesterConfig struct {
	Market         domain.Market
	Limits         domain.RiskLimits
	EquityFraction float64
	Simulator      broker.SimulatorConfig
}

// Backtester replays historical bar data through a strategy and computes
// performance metrics.
type Backtester struct {
	store    store.BarStore
	registry *Registry
	cfg      BacktesterConfig
	log      *slog.Logger
}

// NewBacktester creates a Backtester that reads bars from the given store and
// looks up strategies in the provided registry.
func NewBacktester(barStore store.BarStore, registry *Registry, cfg BacktesterConfig, logger *slog.Logger) *Backtester {
	if cfg.Market == "" {
		cfg.Market = domain.MarketUS
	}
	if cfg.EquityFraction <= 0 {
		cfg.EquityFraction = 0.1
	}
	return &Backtester{
		store:    barStore,
		registry: registry,
		cfg:      cfg,
		log:      logger.With(slog.String("component", "backtester")),
	}
}

// Run executes a backtest for the named strategy over the specified symbols
// and date range, starting with initialCapital. The replay is fully
// deterministic: repeated runs over the same stored bars produce identical
// results.
func (bt *Backtester) Run(
	ctx context.Context,
	strategyName string,
	symbols []string,
	start, end time.Time,
	initialCapital float64,
) (*BacktestResult, error) {
	strat, ok := bt.registry.Get(strategyName)
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q (have %v)", strategyName, bt.registry.List())
	}
	if err := strat.Init(ctx); err != nil {
		return nil, fmt.Errorf("initializing %s: %w", strategyName, err)
	}

	var bars []domain.Bar
	for _, symbol := range symbols {
		got, err := bt.store.ReadBars(ctx, symbol, bt.cfg.Market, start, end)
		if err != nil {
			return nil, fmt.Errorf("reading bars for %s: %w", symbol, err)
		}
		if len(got) == 0 {
			bt.log.Warn("no bars for symbol", slog.String("symbol", symbol))
		}
		bars = append(bars, got...)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("no bars for %v in %s..%s", symbols,
			start.Format("2006-01-02"), end.Format("2006-01-02"))
	}

	ledger := portfolio.NewLedger(initialCapital)
	eng, err := engine.NewEngine(engine.Config{
		Limits: bt.cfg.Limits,
		Sizer:  engine.FixedFractionSizer(bt.cfg.EquityFraction),
	}, strat, ledger, bt.log,
		engine.WithFillModel(broker.NewSimulator(bt.cfg.Simulator)))
	if err != nil {
		return nil, err
	}

	started := time.Now()
	if err := eng.Run(ctx, driver.NewReplay(bars)); err != nil {
		return nil, fmt.Errorf("backtest run: %w", err)
	}

	entries := eng.RunLog().Entries()
	curve := ledger.EquityHistory()
	result := &BacktestResult{
		Report:      analytics.Compute(curve, entries),
		Entries:     entries,
		EquityCurve: curve,
	}

	bt.log.Info("backtest complete",
		slog.String("strategy", strategyName),
		slog.Int("bars", len(bars)),
		slog.Int("signals", len(entries)),
		slog.Int("trades", result.TradeCount),
		slog.Float64("total_return", result.TotalReturn),
		slog.Duration("elapsed", time.Since(started)))
	return result, nil
}
