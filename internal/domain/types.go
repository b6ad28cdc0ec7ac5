// Package domain defines the shared types that flow through the trading
// engine: market bars, signals, orders, fills, positions, and portfolio
// state.
package domain

import (
	"fmt"
	"time"
)

// Market identifies a trading market.
type Market string

const (
	MarketUS Market = "us"
	MarketCN Market = "cn"
)

// ---------------------------------------------------------------------------
// Market data
// ---------------------------------------------------------------------------

// Bar is a single time-stamped OHLCV observation. Bars are immutable once
// produced; a driver emits them in non-decreasing timestamp order per symbol.
type Bar struct {
	Symbol     string
	Timestamp  time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     int64
	TradeCount int64
	VWAP       float64
}

// Trade is a single executed trade tick.
type Trade struct {
	Symbol    string
	Timestamp time.Time
	Price     float64
	Size      int64
	Exchange  string
	ID        string
}

// ---------------------------------------------------------------------------
// Signals
// ---------------------------------------------------------------------------

// SignalType is the directional intent of a signal.
type SignalType string

const (
	SignalLong  SignalType = "long"
	SignalShort SignalType = "short"
	SignalFlat  SignalType = "flat"
)

// Signal is a directional trading intent produced by a strategy for a single
// bar. Strength is in [0, 1] and scales position sizing.
type Signal struct {
	StrategyID string            `json:"strategy_id"`
	Symbol     string            `json:"symbol"`
	Timestamp  time.Time         `json:"timestamp"`
	Type       SignalType        `json:"type"`
	Strength   float64           `json:"strength"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// ---------------------------------------------------------------------------
// Orders and fills
// ---------------------------------------------------------------------------

// OrderSide is the direction of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType distinguishes market from limit orders.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// OrderStatus tracks the order lifecycle:
//
//	proposed → accepted | rejected
//	accepted → filled | partially_filled | cancelled
//
// rejected, filled, partially_filled, and cancelled are terminal.
type OrderStatus string

const (
	OrderStatusProposed        OrderStatus = "proposed"
	OrderStatusAccepted        OrderStatus = "accepted"
	OrderStatusRejected        OrderStatus = "rejected"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
)

// IsTerminal reports whether the status is final.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusRejected, OrderStatusFilled, OrderStatusPartiallyFilled, OrderStatusCancelled:
		return true
	}
	return false
}

// Order is a request to trade. Fields other than Status, FilledQty,
// FilledAvgPrice, and UpdatedAt are immutable after creation.
type Order struct {
	ID             string      `json:"id"`
	Symbol         string      `json:"symbol"`
	Side           OrderSide   `json:"side"`
	Type           OrderType   `json:"type"`
	Qty            float64     `json:"qty"`
	LimitPrice     float64     `json:"limit_price,omitempty"` // only for OrderTypeLimit
	Status         OrderStatus `json:"status"`
	FilledQty      float64     `json:"filled_qty"`
	FilledAvgPrice float64     `json:"filled_avg_price"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// Fill is a recorded partial or full execution of an order.
type Fill struct {
	OrderID   string    `json:"order_id"`
	Symbol    string    `json:"symbol"`
	Side      OrderSide `json:"side"`
	Qty       float64   `json:"qty"`
	Price     float64   `json:"price"`
	Fee       float64   `json:"fee"`
	Timestamp time.Time `json:"timestamp"`
}

// ---------------------------------------------------------------------------
// Positions and portfolio state
// ---------------------------------------------------------------------------

// PositionSide is the direction of an open position.
type PositionSide string

const (
	PositionSideLong  PositionSide = "long"
	PositionSideShort PositionSide = "short"
)

// Position is an open holding in a single symbol. Qty is signed: positive
// for long, negative for short. A position with zero quantity does not exist.
type Position struct {
	Symbol        string
	Qty           float64
	AvgEntryPrice float64
	RealizedPnl   float64
}

// Side returns the position direction.
func (p Position) Side() PositionSide {
	if p.Qty < 0 {
		return PositionSideShort
	}
	return PositionSideLong
}

// EquityPoint is one point on the portfolio equity curve.
type EquityPoint struct {
	Timestamp time.Time
	Equity    float64
	Cash      float64
}

// PortfolioState is a point-in-time snapshot of the portfolio. Snapshots are
// deep copies; mutating one never affects the owning ledger.
type PortfolioState struct {
	Cash               float64
	Positions          map[string]Position
	LastPrices         map[string]float64
	Equity             float64
	PeakEquity         float64
	SessionStartEquity float64
	Timestamp          time.Time
}

// GrossExposure returns the sum of absolute position notionals at last mark
// prices. Positions never marked are valued at their average entry price.
func (s PortfolioState) GrossExposure() float64 {
	var gross float64
	for sym, pos := range s.Positions {
		price, ok := s.LastPrices[sym]
		if !ok {
			price = pos.AvgEntryPrice
		}
		qty := pos.Qty
		if qty < 0 {
			qty = -qty
		}
		gross += qty * price
	}
	return gross
}

// Drawdown returns the proportional decline of equity from its running peak.
func (s PortfolioState) Drawdown() float64 {
	if s.PeakEquity <= 0 {
		return 0
	}
	return (s.PeakEquity - s.Equity) / s.PeakEquity
}

// SessionLoss returns the proportional equity loss since session start.
func (s PortfolioState) SessionLoss() float64 {
	if s.SessionStartEquity <= 0 {
		return 0
	}
	return (s.SessionStartEquity - s.Equity) / s.SessionStartEquity
}

// ---------------------------------------------------------------------------
// Risk verdicts and the run log
// ---------------------------------------------------------------------------

// VerdictAction classifies the outcome of a risk evaluation.
type VerdictAction string

const (
	VerdictAccept VerdictAction = "accept"
	VerdictScale  VerdictAction = "scale"
	VerdictReject VerdictAction = "reject"
)

// Verdict is the result of evaluating a proposed order against the risk
// limits. For VerdictScale, Qty holds the reduced admissible quantity; for
// VerdictAccept it equals the proposed quantity. Reason is set on rejects
// and scales.
type Verdict struct {
	Action VerdictAction `json:"action"`
	Qty    float64       `json:"qty,omitempty"`
	Reason string        `json:"reason,omitempty"`
}

// Allowed reports whether the order may proceed (possibly at reduced size).
func (v Verdict) Allowed() bool {
	return v.Action != VerdictReject
}

// RunEntry records the fate of one processed signal: the risk verdict, the
// order (if one was proposed), and any resulting fills. A run never silently
// drops a signal: every processed signal yields exactly one entry.
type RunEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Signal    Signal    `json:"signal"`
	Verdict   *Verdict  `json:"verdict,omitempty"`
	Order     *Order    `json:"order,omitempty"`
	Fills     []Fill    `json:"fills,omitempty"`
	Note      string    `json:"note,omitempty"`
}

// ---------------------------------------------------------------------------
// Risk limits
// ---------------------------------------------------------------------------

// RiskLimits holds the per-run risk configuration. A RiskLimits value is
// immutable for the duration of a run.
type RiskLimits struct {
	MaxPositionSize float64 // max absolute position notional per symbol
	MaxLeverage     float64 // max gross exposure / equity
	MaxDrawdown     float64 // fraction of peak equity, e.g. 0.15
	MaxDailyLoss    float64 // fraction of session-start equity, e.g. 0.02
}

// Validate reports whether the limits are usable. A violation is fatal at
// startup.
func (l RiskLimits) Validate() error {
	if l.MaxPositionSize <= 0 {
		return fmt.Errorf("risk limits: max_position_size must be positive, got %v", l.MaxPositionSize)
	}
	if l.MaxLeverage <= 0 {
		return fmt.Errorf("risk limits: max_leverage must be positive, got %v", l.MaxLeverage)
	}
	if l.MaxDrawdown <= 0 || l.MaxDrawdown > 1 {
		return fmt.Errorf("risk limits: max_drawdown must be in (0, 1], got %v", l.MaxDrawdown)
	}
	if l.MaxDailyLoss <= 0 || l.MaxDailyLoss > 1 {
		return fmt.Errorf("risk limits: max_daily_loss must be in (0, 1], got %v", l.MaxDailyLoss)
	}
	return nil
}
