// Package portfolio owns the authoritative account state: cash, open
// positions, realized and unrealized PnL, and the equity history.
package portfolio

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"a2e/internal/domain"
	"a2e/internal/util"
)

// ErrInvariant marks an internal consistency failure (NaN equity, non-finite
// prices, time regression). It indicates a logic defect, not a market
// condition, and is fatal for the run.
var ErrInvariant = errors.New("portfolio: ledger invariant violation")

// Ledger tracks the portfolio through marks and fills. It is the only writer
// of portfolio state; the engine serializes all mutations through a single
// loop, and the internal mutex additionally guards concurrent snapshot reads.
type Ledger struct {
	mu sync.Mutex

	cash       float64
	positions  map[string]*domain.Position
	lastPrices map[string]float64

	equity       []domain.EquityPoint
	peakEquity   float64
	sessionStart float64
	sessionDate  time.Time
	lastTS       time.Time
}

// NewLedger creates a ledger seeded with the given cash balance.
func NewLedger(initialCash float64) *Ledger {
	return &Ledger{
		cash:         initialCash,
		positions:    make(map[string]*domain.Position),
		lastPrices:   make(map[string]float64),
		peakEquity:   initialCash,
		sessionStart: initialCash,
	}
}

// Mark updates the last observed price for a symbol and records the implied
// equity at ts. Equity history is append-only and ordered: a new timestamp
// appends a point, a repeated timestamp (several symbols marked on the same
// bar) updates the point in place, and a time regression is an invariant
// violation.
func (l *Ledger) Mark(symbol string, price float64, ts time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !finite(price) || price <= 0 {
		return fmt.Errorf("%w: mark %s with price %v", ErrInvariant, symbol, price)
	}
	l.lastPrices[symbol] = price
	return l.recordEquity(ts)
}

// Apply settles one or more fills against the ledger: cash moves by notional
// plus fees, positions are volume-weight averaged on same-direction adds,
// realized PnL is booked on opposing fills, and positions crossing zero are
// removed or flipped to the fill price. Equity is re-recorded after each
// fill.
func (l *Ledger) Apply(fills []domain.Fill) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, f := range fills {
		if err := l.applyFill(f); err != nil {
			return err
		}
	}
	return nil
}

func (l *Ledger) applyFill(f domain.Fill) error {
	if f.Qty <= 0 || !finite(f.Qty) || !finite(f.Price) || f.Price <= 0 || !finite(f.Fee) {
		return fmt.Errorf("%w: fill %+v", ErrInvariant, f)
	}

	notional := f.Qty * f.Price
	delta := f.Qty
	if f.Side == domain.OrderSideSell {
		l.cash += notional - f.Fee
		delta = -f.Qty
	} else {
		l.cash -= notional + f.Fee
	}

	pos, ok := l.positions[f.Symbol]
	if !ok {
		pos = &domain.Position{Symbol: f.Symbol}
		l.positions[f.Symbol] = pos
	}

	switch {
	case pos.Qty == 0 || sameSign(pos.Qty, delta):
		// Same-direction add: volume-weighted average entry.
		total := math.Abs(pos.Qty) + f.Qty
		pos.AvgEntryPrice = (pos.AvgEntryPrice*math.Abs(pos.Qty) + f.Price*f.Qty) / total
		pos.Qty += delta
	default:
		// Opposing fill: realize PnL on the closed quantity.
		closed := math.Min(math.Abs(pos.Qty), f.Qty)
		direction := 1.0
		if pos.Qty < 0 {
			direction = -1.0
		}
		pos.RealizedPnl += (f.Price - pos.AvgEntryPrice) * closed * direction

		pos.Qty += delta
		if pos.Qty == 0 {
			delete(l.positions, f.Symbol)
		} else if !sameSign(pos.Qty, -delta) {
			// Crossed zero: the surviving quantity opens at the fill price.
			pos.AvgEntryPrice = f.Price
		}
	}

	l.lastPrices[f.Symbol] = f.Price
	return l.recordEquity(f.Timestamp)
}

// recordEquity computes current equity and appends or updates the equity
// history at ts. Callers hold l.mu.
func (l *Ledger) recordEquity(ts time.Time) error {
	if !l.lastTS.IsZero() && ts.Before(l.lastTS) {
		return fmt.Errorf("%w: timestamp %s regresses before %s", ErrInvariant, ts, l.lastTS)
	}

	// Roll the daily-loss window on a new session date.
	if day := util.SessionDate(ts); !day.Equal(l.sessionDate) {
		l.sessionDate = day
		l.sessionStart = l.computeEquity()
	}

	eq := l.computeEquity()
	if !finite(eq) {
		return fmt.Errorf("%w: equity is %v", ErrInvariant, eq)
	}

	if ts.Equal(l.lastTS) && len(l.equity) > 0 {
		last := &l.equity[len(l.equity)-1]
		last.Equity = eq
		last.Cash = l.cash
	} else {
		l.equity = append(l.equity, domain.EquityPoint{Timestamp: ts, Equity: eq, Cash: l.cash})
	}
	l.lastTS = ts
	if eq > l.peakEquity {
		l.peakEquity = eq
	}
	return nil
}

// computeEquity returns cash plus the mark-to-market value of all open
// positions. Callers hold l.mu.
func (l *Ledger) computeEquity() float64 {
	eq := l.cash
	for sym, pos := range l.positions {
		price, ok := l.lastPrices[sym]
		if !ok {
			price = pos.AvgEntryPrice
		}
		eq += pos.Qty * price
	}
	return eq
}

// Snapshot returns a deep copy of the current portfolio state.
func (l *Ledger) Snapshot() domain.PortfolioState {
	l.mu.Lock()
	defer l.mu.Unlock()

	positions := make(map[string]domain.Position, len(l.positions))
	for sym, pos := range l.positions {
		positions[sym] = *pos
	}
	prices := make(map[string]float64, len(l.lastPrices))
	for sym, p := range l.lastPrices {
		prices[sym] = p
	}
	return domain.PortfolioState{
		Cash:               l.cash,
		Positions:          positions,
		LastPrices:         prices,
		Equity:             l.computeEquity(),
		PeakEquity:         l.peakEquity,
		SessionStartEquity: l.sessionStart,
		Timestamp:          l.lastTS,
	}
}

// EquityHistory returns a copy of the recorded equity curve.
func (l *Ledger) EquityHistory() []domain.EquityPoint {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]domain.EquityPoint, len(l.equity))
	copy(out, l.equity)
	return out
}

// RealizedPnl returns the total realized PnL across open positions. PnL of
// fully closed positions has already settled into cash.
func (l *Ledger) RealizedPnl() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	var total float64
	for _, pos := range l.positions {
		total += pos.RealizedPnl
	}
	return total
}

func sameSign(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
