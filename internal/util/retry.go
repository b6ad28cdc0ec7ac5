package util

import (
	"context"
	"time"
)

// Retry calls fn up to attempts times, doubling the backoff after each
// failure. It returns nil on the first success, the context error if the
// context ends first, or the last error once attempts are exhausted.
func Retry(ctx context.Context, attempts int, backoff time.Duration, fn func() error) error {
	var last error
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if last = fn(); last == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff << i):
		}
	}
	return last
}
