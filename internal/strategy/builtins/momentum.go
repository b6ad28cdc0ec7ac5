package builtins

import (
	"context"
	"fmt"
	"math"

	"a2e/internal/domain"
	"a2e/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*Momentum)(nil)

// Momentum trades the sign of the trailing return. When the lookback-period
// return exceeds the threshold it goes long, below the negative threshold it
// goes short, and inside the band it exits. Signal strength grows with the
// magnitude of the move, capped at 1.
type Momentum struct {
	lookback  int
	threshold float64

	closes map[string][]float64
	side   map[string]domain.SignalType
}

// NewMomentum creates a Momentum strategy with the given lookback period (in
// bars) and entry threshold (as a fractional return).
func NewMomentum(lookback int, threshold float64) *Momentum {
	return &Momentum{
		lookback:  lookback,
		threshold: threshold,
		closes:    make(map[string][]float64),
		side:      make(map[string]domain.SignalType),
	}
}

// Name returns "momentum".
func (m *Momentum) Name() string {
	return "momentum"
}

// Init validates the configured parameters.
func (m *Momentum) Init(_ context.Context) error {
	if m.lookback < 1 {
		return fmt.Errorf("momentum: lookback %d must be at least 1", m.lookback)
	}
	if m.threshold <= 0 {
		return fmt.Errorf("momentum: threshold %v must be positive", m.threshold)
	}
	return nil
}

// OnBar computes the trailing return and emits a signal whenever the implied
// direction changes.
func (m *Momentum) OnBar(_ context.Context, bar domain.Bar) ([]domain.Signal, error) {
	history := append(m.closes[bar.Symbol], bar.Close)
	if len(history) > m.lookback+1 {
		history = history[len(history)-(m.lookback+1):]
	}
	m.closes[bar.Symbol] = history

	if len(history) < m.lookback+1 {
		return nil, nil
	}

	base := history[0]
	if base <= 0 {
		return nil, nil
	}
	mom := bar.Close/base - 1

	want := domain.SignalFlat
	switch {
	case mom > m.threshold:
		want = domain.SignalLong
	case mom < -m.threshold:
		want = domain.SignalShort
	}

	prev, seen := m.side[bar.Symbol]
	if seen && prev == want {
		return nil, nil
	}
	if !seen && want == domain.SignalFlat {
		// Nothing to exit before the first entry.
		m.side[bar.Symbol] = want
		return nil, nil
	}
	m.side[bar.Symbol] = want

	strength := 1.0
	if want != domain.SignalFlat {
		strength = math.Min(1, math.Abs(mom)/(4*m.threshold))
	}

	return []domain.Signal{{
		StrategyID: m.Name(),
		Symbol:     bar.Symbol,
		Timestamp:  bar.Timestamp,
		Type:       want,
		Strength:   strength,
		CreatedAt:  bar.Timestamp,
	}}, nil
}
