package driver

import (
	"context"
	"fmt"
	"io"
	"math"
	"sort"

	"a2e/internal/domain"
)

// Compile-time interface check.
var _ Driver = (*Replay)(nil)

// Replay emits stored historical bars in timestamp order. It is
// single-threaded and fully deterministic: the same input slice always
// produces the same sequence.
type Replay struct {
	bars []domain.Bar
	pos  int
}

// NewReplay creates a Replay over the given bars. Bars are stably sorted by
// timestamp, preserving arrival order for ties.
func NewReplay(bars []domain.Bar) *Replay {
	sorted := make([]domain.Bar, len(bars))
	copy(sorted, bars)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	return &Replay{bars: sorted}
}

// Next returns the next bar, io.EOF at the end of the series, or a
// ErrDataGap-wrapping error for a malformed record.
func (r *Replay) Next(_ context.Context) (domain.Bar, error) {
	if r.pos >= len(r.bars) {
		return domain.Bar{}, io.EOF
	}
	bar := r.bars[r.pos]
	r.pos++

	if !validBar(bar) {
		return domain.Bar{}, fmt.Errorf("%w: malformed bar for %s at %s", ErrDataGap, bar.Symbol, bar.Timestamp)
	}
	return bar, nil
}

// validBar rejects records that cannot be marked to market.
func validBar(b domain.Bar) bool {
	if b.Symbol == "" || b.Timestamp.IsZero() {
		return false
	}
	for _, v := range []float64{b.Open, b.High, b.Low, b.Close} {
		if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return b.Low <= b.High
}
