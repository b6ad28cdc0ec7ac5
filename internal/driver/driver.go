// Package driver abstracts "what time is it and what happened" behind a
// single interface: a strictly time-ordered sequence of market bars, either
// replayed from storage or forwarded from a live feed.
package driver

import (
	"context"
	"errors"

	"a2e/internal/domain"
)

// ErrDataGap is returned when the driver cannot produce an expected bar
// (malformed record, missed feed message). It is recoverable: the engine
// logs it, skips the bar, and continues the run.
var ErrDataGap = errors.New("driver: data gap")

// Driver supplies the engine's clock: bars in non-decreasing timestamp
// order, ties broken by arrival order, never regressing for the same symbol.
type Driver interface {
	// Next returns the next bar. It returns io.EOF at end-of-stream and an
	// error wrapping ErrDataGap for a recoverable gap. Live implementations
	// block until a bar arrives or ctx is done.
	Next(ctx context.Context) (domain.Bar, error)
}
