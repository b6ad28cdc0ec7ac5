// Package broker defines the execution interfaces, a synchronous fill
// model for backtests and an asynchronous venue for live trading, along
// with their implementations.
package broker

import (
	"context"
	"errors"

	"a2e/internal/domain"
)

// ErrSubmitTimeout is returned when an order submission does not complete
// within the configured deadline. The engine recovers by cancelling the
// order; the run continues.
var ErrSubmitTimeout = errors.New("broker: order submission timed out")

// FillModel simulates execution of an order against a single bar. A nil or
// empty fill slice means the order could not execute in this bar and is
// cancelled by the engine. Implementations must be deterministic: identical
// (order, bar) inputs always produce identical fills.
type FillModel interface {
	// Name returns the fill model identifier (e.g. "simulator").
	Name() string

	// Fill returns the fills produced by executing order against bar.
	Fill(order *domain.Order, bar domain.Bar) []domain.Fill
}

// Update is an asynchronous order notification from a venue. Fills carries
// any executions included in this update; Status is the order's new status.
type Update struct {
	OrderID string
	Symbol  string
	Status  domain.OrderStatus
	Fills   []domain.Fill
}

// Venue abstracts an external execution venue for live and paper trading.
// Submission is synchronous up to acceptance; fills and terminal statuses
// arrive asynchronously on Updates. The same Fill type and terminal-status
// guarantee apply as for FillModel.
type Venue interface {
	// Name returns the venue identifier (e.g. "alpaca").
	Name() string

	// SubmitOrder sends the order to the venue. It honours ctx deadlines;
	// on timeout it returns an error wrapping ErrSubmitTimeout.
	SubmitOrder(ctx context.Context, order *domain.Order) error

	// CancelOrder requests cancellation of an open order by its ID.
	CancelOrder(ctx context.Context, orderID string) error

	// Updates delivers fill and status notifications for submitted orders.
	Updates() <-chan Update

	// Close releases venue resources. No updates are delivered afterwards.
	Close() error
}
