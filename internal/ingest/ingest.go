// Package ingest fetches historical daily bars from the Alpaca market-data
// API and persists them to the bar store, where the replay driver reads
// them back for backtests.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"a2e/internal/domain"
	"a2e/internal/store"
	"a2e/internal/util"
)

// Config holds the ingestion parameters.
type Config struct {
	APIKey    string
	APISecret string

	// BatchSize is the number of symbols per API call. Defaults to 100.
	BatchSize int

	// RateLimitPerMin caps outbound API calls. Defaults to 200.
	RateLimitPerMin int

	// Burst is how many calls may go out back to back before the rate
	// limit applies. Defaults to 5.
	Burst int

	// Feed selects the bar feed ("iex" or "sip"). Defaults to iex.
	Feed string
}

// Ingester pulls daily bars in symbol batches and writes them through a
// BarStore. Repeated runs over the same range are idempotent: the store
// deduplicates by symbol and timestamp.
type Ingester struct {
	client    *marketdata.Client
	store     store.BarStore
	limiter   *util.RateLimiter
	log       *slog.Logger
	batchSize int
	feed      marketdata.Feed
}

// New creates an Ingester writing to the given store.
func New(cfg Config, barStore store.BarStore, logger *slog.Logger) *Ingester {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.RateLimitPerMin <= 0 {
		cfg.RateLimitPerMin = 200
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	feed := marketdata.IEX
	if cfg.Feed == "sip" {
		feed = marketdata.SIP
	}

	return &Ingester{
		client: marketdata.NewClient(marketdata.ClientOpts{
			APIKey:    cfg.APIKey,
			APISecret: cfg.APISecret,
		}),
		store:     barStore,
		limiter:   util.NewBurstLimiter(cfg.RateLimitPerMin, cfg.Burst),
		log:       logger.With(slog.String("component", "ingest")),
		batchSize: cfg.BatchSize,
		feed:      feed,
	}
}

// Run fetches daily bars for the given symbols over [start, end] and writes
// them to the store. It returns the number of bars written.
func (g *Ingester) Run(ctx context.Context, symbols []string, market domain.Market, start, end time.Time) (int, error) {
	runStart := time.Now()
	var total int

	for _, batch := range chunk(symbols, g.batchSize) {
		if err := g.limiter.Wait(ctx); err != nil {
			return total, err
		}

		multiBars, err := g.client.GetMultiBars(batch, marketdata.GetBarsRequest{
			TimeFrame: marketdata.OneDay,
			Start:     start,
			End:       end,
			Feed:      g.feed,
		})
		if err != nil {
			return total, fmt.Errorf("fetching bars for %v: %w", batch, err)
		}

		var bars []domain.Bar
		for symbol, alpacaBars := range multiBars {
			bars = append(bars, convertBars(symbol, alpacaBars)...)
		}
		if len(bars) == 0 {
			g.log.Warn("no bars returned", slog.Any("symbols", batch))
			continue
		}

		if err := g.store.WriteBars(ctx, bars, market); err != nil {
			return total, fmt.Errorf("writing %d bars: %w", len(bars), err)
		}
		total += len(bars)
	}

	g.log.Info("ingestion complete",
		slog.Int("symbols", len(symbols)),
		slog.Int("bars", total),
		slog.Duration("elapsed", time.Since(runStart).Round(time.Second)))
	return total, nil
}

// chunk splits symbols into batches of at most n.
func chunk(symbols []string, n int) [][]string {
	var out [][]string
	for len(symbols) > n {
		out = append(out, symbols[:n])
		symbols = symbols[n:]
	}
	if len(symbols) > 0 {
		out = append(out, symbols)
	}
	return out
}

func convertBars(symbol string, in []marketdata.Bar) []domain.Bar {
	bars := make([]domain.Bar, 0, len(in))
	for _, b := range in {
		bars = append(bars, domain.Bar{
			Symbol:     strings.ToUpper(symbol),
			Timestamp:  b.Timestamp,
			Open:       b.Open,
			High:       b.High,
			Low:        b.Low,
			Close:      b.Close,
			Volume:     int64(b.Volume),
			TradeCount: int64(b.TradeCount),
			VWAP:       b.VWAP,
		})
	}
	return bars
}
