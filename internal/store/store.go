// Package store defines storage interfaces for persisting and retrieving
// domain objects: bars, equity curves, orders, and run-log entries.
package store

import (
	"context"
	"time"

	"a2e/internal/domain"
)

// BarStore persists and retrieves OHLCV bar data.
type BarStore interface {
	// WriteBars persists a batch of bars for the given market.
	WriteBars(ctx context.Context, bars []domain.Bar, market domain.Market) error

	// ReadBars returns bars for the given symbol and market within [start, end].
	ReadBars(ctx context.Context, symbol string, market domain.Market, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols available in the given market.
	ListSymbols(ctx context.Context, market domain.Market) ([]string, error)
}

// EquityStore persists equity curves for analytics consumers.
type EquityStore interface {
	// WriteEquityCurve persists the equity history of a named run.
	WriteEquityCurve(ctx context.Context, runID string, points []domain.EquityPoint) error

	// ReadEquityCurve returns the equity history of a named run.
	ReadEquityCurve(ctx context.Context, runID string) ([]domain.EquityPoint, error)
}

// OrderStore persists and retrieves order records.
type OrderStore interface {
	// SaveOrder inserts or updates an order.
	SaveOrder(ctx context.Context, order *domain.Order) error

	// GetOrder retrieves a single order by its ID.
	GetOrder(ctx context.Context, id string) (*domain.Order, error)

	// ListOrders returns all orders matching the given status, newest first.
	ListOrders(ctx context.Context, status domain.OrderStatus) ([]domain.Order, error)
}

// RunLogStore persists run-log entries.
type RunLogStore interface {
	// SaveRunEntries appends entries for a named run.
	SaveRunEntries(ctx context.Context, runID string, entries []domain.RunEntry) error

	// ListRunEntries returns all entries for a named run in append order.
	ListRunEntries(ctx context.Context, runID string) ([]domain.RunEntry, error)
}
