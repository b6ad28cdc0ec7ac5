// Package builtins provides built-in strategy implementations that ship with
// the a2e platform.
package builtins

import (
	"context"
	"fmt"

	"a2e/internal/domain"
	"a2e/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*SMACross)(nil)

// SMACross implements a simple moving average crossover strategy. It
// generates a long signal when the short-period SMA crosses above the
// long-period SMA, and a short signal when it crosses below. One signal per
// crossover: repeated bars on the same side of the cross stay silent.
type SMACross struct {
	shortPeriod int
	longPeriod  int

	closes map[string][]float64
	side   map[string]domain.SignalType
}

// NewSMACross creates a new SMACross strategy with the specified short and
// long moving average periods.
func NewSMACross(short, long int) *SMACross {
	return &SMACross{
		shortPeriod: short,
		longPeriod:  long,
		closes:      make(map[string][]float64),
		side:        make(map[string]domain.SignalType),
	}
}

// Name returns "sma-cross".
func (s *SMACross) Name() string {
	return "sma-cross"
}

// Init validates the configured periods.
func (s *SMACross) Init(_ context.Context) error {
	if s.shortPeriod < 1 || s.longPeriod <= s.shortPeriod {
		return fmt.Errorf("sma-cross: need 1 <= short < long, got %d/%d", s.shortPeriod, s.longPeriod)
	}
	return nil
}

// OnBar appends the bar close to the symbol's history and emits a signal
// when the SMA relationship flips.
func (s *SMACross) OnBar(_ context.Context, bar domain.Bar) ([]domain.Signal, error) {
	history := append(s.closes[bar.Symbol], bar.Close)
	if len(history) > s.longPeriod {
		history = history[len(history)-s.longPeriod:]
	}
	s.closes[bar.Symbol] = history

	if len(history) < s.longPeriod {
		return nil, nil
	}

	shortSMA := mean(history[len(history)-s.shortPeriod:])
	longSMA := mean(history)

	want := domain.SignalShort
	if shortSMA > longSMA {
		want = domain.SignalLong
	}
	if s.side[bar.Symbol] == want {
		return nil, nil
	}
	s.side[bar.Symbol] = want

	return []domain.Signal{{
		StrategyID: s.Name(),
		Symbol:     bar.Symbol,
		Timestamp:  bar.Timestamp,
		Type:       want,
		Strength:   1.0,
		CreatedAt:  bar.Timestamp,
	}}, nil
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
