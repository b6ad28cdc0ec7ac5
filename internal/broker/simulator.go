package broker

import (
	"a2e/internal/domain"
)

// Compile-time interface check.
var _ FillModel = (*Simulator)(nil)

// SimulatorConfig holds the execution-simulation parameters.
type SimulatorConfig struct {
	// Slippage is the adverse price deviation applied to market orders,
	// as a fraction of the bar close (e.g. 0.0001 for 1 bp).
	Slippage float64

	// CommissionRate is the fee charged per fill as a fraction of notional
	// (e.g. 0.001 for 10 bps).
	CommissionRate float64

	// MinVolume is the minimum bar volume required to fill any order in
	// that bar. Bars below it produce zero fills, modelling insufficient
	// liquidity.
	MinVolume int64
}

// Simulator executes orders against historical bars for backtesting. Market
// orders fill fully at the bar close adjusted against the order direction by
// the slippage fraction; limit orders fill at the limit price when the bar
// range touches it. Fill generation is a pure function of (order, bar).
type Simulator struct {
	cfg SimulatorConfig
}

// NewSimulator creates a Simulator with the given execution parameters.
func NewSimulator(cfg SimulatorConfig) *Simulator {
	return &Simulator{cfg: cfg}
}

// Name returns "simulator".
func (s *Simulator) Name() string {
	return "simulator"
}

// Fill simulates execution of order against bar.
func (s *Simulator) Fill(order *domain.Order, bar domain.Bar) []domain.Fill {
	if bar.Volume < s.cfg.MinVolume {
		return nil
	}

	var price float64
	switch order.Type {
	case domain.OrderTypeLimit:
		if !limitTouched(order.Side, order.LimitPrice, bar) {
			return nil
		}
		price = order.LimitPrice
	default:
		// Market: close moved against the order direction.
		if order.Side == domain.OrderSideBuy {
			price = bar.Close * (1 + s.cfg.Slippage)
		} else {
			price = bar.Close * (1 - s.cfg.Slippage)
		}
	}

	return []domain.Fill{{
		OrderID:   order.ID,
		Symbol:    order.Symbol,
		Side:      order.Side,
		Qty:       order.Qty,
		Price:     price,
		Fee:       order.Qty * price * s.cfg.CommissionRate,
		Timestamp: bar.Timestamp,
	}}
}

// limitTouched reports whether the bar made the limit price marketable:
// a buy fills once the low trades at or below the limit, a sell once the
// high trades at or above it.
func limitTouched(side domain.OrderSide, limit float64, bar domain.Bar) bool {
	if side == domain.OrderSideBuy {
		return bar.Low <= limit
	}
	return bar.High >= limit
}
