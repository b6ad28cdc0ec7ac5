// Package risk applies the ordered pre-trade checks that gate every
// candidate order.
package risk

import (
	"fmt"
	"math"

	"a2e/internal/domain"
)

func reject(reason string) domain.Verdict {
	return domain.Verdict{Action: domain.VerdictReject, Reason: reason}
}

// Evaluate applies the configured risk checks, in order, to a proposed
// order against a portfolio snapshot. The first failing check determines the
// verdict. It is a pure function of its inputs: identical (order, snapshot,
// limits) always produces an identical verdict.
//
// Checks, in order:
//  1. Position size: the resulting absolute position notional must not
//     exceed limits.MaxPositionSize. Oversized orders are scaled down to the
//     maximum admissible quantity; a zero admissible quantity rejects.
//  2. Leverage: gross exposure after the order divided by equity must not
//     exceed limits.MaxLeverage.
//  3. Drawdown: while drawdown ≥ limits.MaxDrawdown, only risk-reducing
//     orders (those that shrink the absolute position) pass.
//  4. Daily loss: while the session loss ≥ limits.MaxDailyLoss, the same
//     risk-reducing exception applies.
func Evaluate(order *domain.Order, snap domain.PortfolioState, limits domain.RiskLimits) domain.Verdict {
	price := referencePrice(order, snap)
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return reject(fmt.Sprintf("no reference price for %s", order.Symbol))
	}

	posQty := snap.Positions[order.Symbol].Qty
	qty := order.Qty
	scaled := false

	// 1. Position-size check, with scale-down instead of a hard reject.
	// Scaling only ever shrinks the proposed quantity: when the existing
	// position already breaches the limit, an order that reduces it passes
	// through at its proposed size.
	if resulting := math.Abs(posQty+signedQty(order.Side, qty)) * price; resulting > limits.MaxPositionSize {
		admissible := admissibleQty(order.Side, posQty, price, limits.MaxPositionSize)
		if admissible <= 0 {
			return reject(fmt.Sprintf("position size: resulting notional %.2f exceeds limit %.2f", resulting, limits.MaxPositionSize))
		}
		if admissible < order.Qty {
			qty = admissible
			scaled = true
		}
	}
	delta := signedQty(order.Side, qty)

	// 2. Leverage check on post-order gross exposure.
	if snap.Equity <= 0 {
		return reject("leverage: non-positive equity")
	}
	oldNotional := math.Abs(posQty) * markPrice(order.Symbol, snap)
	newNotional := math.Abs(posQty+delta) * price
	gross := snap.GrossExposure() - oldNotional + newNotional
	if leverage := gross / snap.Equity; leverage > limits.MaxLeverage {
		return reject(fmt.Sprintf("leverage: %.2f exceeds limit %.2f", leverage, limits.MaxLeverage))
	}

	// 3. Drawdown breach blocks risk-increasing orders only.
	if snap.Drawdown() >= limits.MaxDrawdown && !reducesRisk(posQty, delta) {
		return reject(fmt.Sprintf("drawdown: %.4f breaches limit %.4f", snap.Drawdown(), limits.MaxDrawdown))
	}

	// 4. Daily-loss breach, same risk-reducing exception.
	if snap.SessionLoss() >= limits.MaxDailyLoss && !reducesRisk(posQty, delta) {
		return reject(fmt.Sprintf("daily loss: %.4f breaches limit %.4f", snap.SessionLoss(), limits.MaxDailyLoss))
	}

	if scaled {
		return domain.Verdict{
			Action: domain.VerdictScale,
			Qty:    qty,
			Reason: fmt.Sprintf("position size: scaled from %v to %v", order.Qty, qty),
		}
	}
	return domain.Verdict{Action: domain.VerdictAccept, Qty: qty}
}

// referencePrice is the price used for notional calculations: the limit
// price for limit orders, otherwise the last mark price.
func referencePrice(order *domain.Order, snap domain.PortfolioState) float64 {
	if order.Type == domain.OrderTypeLimit && order.LimitPrice > 0 {
		return order.LimitPrice
	}
	return markPrice(order.Symbol, snap)
}

func markPrice(symbol string, snap domain.PortfolioState) float64 {
	if p, ok := snap.LastPrices[symbol]; ok {
		return p
	}
	return snap.Positions[symbol].AvgEntryPrice
}

func signedQty(side domain.OrderSide, qty float64) float64 {
	if side == domain.OrderSideSell {
		return -qty
	}
	return qty
}

// admissibleQty returns the largest order quantity such that the resulting
// absolute position notional stays within maxNotional.
func admissibleQty(side domain.OrderSide, posQty, price, maxNotional float64) float64 {
	bound := maxNotional / price
	if side == domain.OrderSideBuy {
		return bound - posQty
	}
	return bound + posQty
}

// reducesRisk reports whether applying delta strictly shrinks the absolute
// position.
func reducesRisk(posQty, delta float64) bool {
	return math.Abs(posQty+delta) < math.Abs(posQty)
}
