package driver

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata/stream"

	"a2e/internal/domain"
)

// Compile-time interface check.
var _ Driver = (*Stream)(nil)

// StreamConfig holds the market-data stream parameters.
type StreamConfig struct {
	APIKey    string
	APISecret string
	Feed      string // "iex" or "sip", defaults to iex
	Symbols   []string
}

// Stream delivers live bars from the Alpaca market-data WebSocket feed.
// Bars arrive through a bounded buffer; a consumer that falls behind drops
// the oldest buffered bars, which surface as data gaps rather than stalls.
type Stream struct {
	client *stream.StocksClient
	log    *slog.Logger
	bars   chan domain.Bar
	done   chan struct{}
}

// NewStream connects to the feed and subscribes to bars for the configured
// symbols. It blocks until the connection is established.
func NewStream(ctx context.Context, cfg StreamConfig, logger *slog.Logger) (*Stream, error) {
	feed := marketdata.IEX
	if cfg.Feed == "sip" {
		feed = marketdata.SIP
	}

	s := &Stream{
		client: stream.NewStocksClient(feed, stream.WithCredentials(cfg.APIKey, cfg.APISecret)),
		log:    logger.With(slog.String("component", "stream")),
		bars:   make(chan domain.Bar, 256),
		done:   make(chan struct{}),
	}

	if err := s.client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connecting to market data stream: %w", err)
	}
	if err := s.client.SubscribeToBars(s.onBar, cfg.Symbols...); err != nil {
		return nil, fmt.Errorf("subscribing to bars: %w", err)
	}

	go func() {
		// Terminated reports the connection ending for any reason.
		err := <-s.client.Terminated()
		if err != nil {
			s.log.Error("market data stream terminated", slog.String("error", err.Error()))
		}
		close(s.done)
	}()

	s.log.Info("market data stream connected",
		slog.String("feed", string(feed)),
		slog.Int("symbols", len(cfg.Symbols)))
	return s, nil
}

func (s *Stream) onBar(b stream.Bar) {
	bar := domain.Bar{
		Symbol:     b.Symbol,
		Timestamp:  b.Timestamp,
		Open:       b.Open,
		High:       b.High,
		Low:        b.Low,
		Close:      b.Close,
		Volume:     int64(b.Volume),
		TradeCount: int64(b.TradeCount),
		VWAP:       b.VWAP,
	}
	select {
	case s.bars <- bar:
	default:
		// Full buffer: drop the oldest bar to keep latency bounded.
		select {
		case dropped := <-s.bars:
			s.log.Warn("dropping stale bar",
				slog.String("symbol", dropped.Symbol),
				slog.Time("timestamp", dropped.Timestamp))
		default:
		}
		s.bars <- bar
	}
}

// Next returns the next live bar. It returns io.EOF once the underlying
// connection has terminated and the buffer is drained.
func (s *Stream) Next(ctx context.Context) (domain.Bar, error) {
	select {
	case bar := <-s.bars:
		if !validBar(bar) {
			return domain.Bar{}, fmt.Errorf("%w: malformed bar for %s at %s", ErrDataGap, bar.Symbol, bar.Timestamp)
		}
		return bar, nil
	case <-s.done:
		// Drain anything buffered before signalling the end.
		select {
		case bar := <-s.bars:
			return bar, nil
		default:
			return domain.Bar{}, io.EOF
		}
	case <-ctx.Done():
		return domain.Bar{}, ctx.Err()
	}
}
