// Package analytics computes performance metrics from equity curves and run
// logs.
package analytics

import (
	"math"
	"time"

	"a2e/internal/domain"
)

// tradingDaysPerYear is the annualization base for daily series.
const tradingDaysPerYear = 252

// Report summarizes the performance of one run.
type Report struct {
	TotalReturn      float64 `json:"total_return"`
	AnnualizedReturn float64 `json:"annualized_return"`
	Volatility       float64 `json:"volatility"` // annualized
	SharpeRatio      float64 `json:"sharpe_ratio"`
	MaxDrawdown      float64 `json:"max_drawdown"`
	TradeCount       int     `json:"trade_count"`
	WinRate          float64 `json:"win_rate"`
	ProfitFactor     float64 `json:"profit_factor"`
	StartEquity      float64 `json:"start_equity"`
	EndEquity        float64 `json:"end_equity"`
}

// Compute derives a Report from a run's equity history and run-log entries.
// The equity history must be in timestamp order.
func Compute(points []domain.EquityPoint, entries []domain.RunEntry) Report {
	var r Report
	if len(points) == 0 {
		return r
	}

	r.StartEquity = points[0].Equity
	r.EndEquity = points[len(points)-1].Equity
	if r.StartEquity > 0 {
		r.TotalReturn = r.EndEquity/r.StartEquity - 1
	}
	r.AnnualizedReturn = annualize(r.TotalReturn, points[0].Timestamp, points[len(points)-1].Timestamp)
	r.MaxDrawdown = maxDrawdown(points)

	returns := periodReturns(points)
	vol := stddev(returns)
	r.Volatility = vol * math.Sqrt(tradingDaysPerYear)
	if vol > 0 {
		r.SharpeRatio = mean(returns) / vol * math.Sqrt(tradingDaysPerYear)
	}

	outcomes := tradeOutcomes(entries)
	r.TradeCount = len(outcomes)
	r.WinRate, r.ProfitFactor = winStats(outcomes)
	return r
}

// annualize converts a total return over [start, end] to a yearly rate.
func annualize(total float64, start, end time.Time) float64 {
	days := end.Sub(start).Hours() / 24
	if days < 1 {
		return total
	}
	years := days / 365.25
	if years <= 0 || total <= -1 {
		return total
	}
	return math.Pow(1+total, 1/years) - 1
}

// maxDrawdown returns the largest peak-to-trough equity decline as a
// fraction of the peak.
func maxDrawdown(points []domain.EquityPoint) float64 {
	var peak, worst float64
	for _, p := range points {
		if p.Equity > peak {
			peak = p.Equity
		}
		if peak > 0 {
			if dd := (peak - p.Equity) / peak; dd > worst {
				worst = dd
			}
		}
	}
	return worst
}

// periodReturns computes point-to-point simple returns.
func periodReturns(points []domain.EquityPoint) []float64 {
	if len(points) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(points)-1)
	for i := 1; i < len(points); i++ {
		prev := points[i-1].Equity
		if prev <= 0 {
			continue
		}
		returns = append(returns, points[i].Equity/prev-1)
	}
	return returns
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var ss float64
	for _, x := range xs {
		d := x - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}

// lot tracks the open position for one symbol while replaying fills.
type lot struct {
	qty   float64 // signed
	entry float64 // weighted average entry price
}

// tradeOutcomes replays the run's fills and returns the realized profit of
// every position-reducing fill, net of fees. A flip closes the old position
// and opens a new one at the fill price.
func tradeOutcomes(entries []domain.RunEntry) []float64 {
	open := make(map[string]*lot)
	var outcomes []float64

	for _, e := range entries {
		for _, f := range e.Fills {
			l := open[f.Symbol]
			if l == nil {
				l = &lot{}
				open[f.Symbol] = l
			}

			delta := f.Qty
			if f.Side == domain.OrderSideSell {
				delta = -delta
			}

			switch {
			case l.qty == 0 || sameSign(l.qty, delta):
				total := l.qty + delta
				l.entry = (l.entry*math.Abs(l.qty) + f.Price*math.Abs(delta)) / math.Abs(total)
				l.qty = total
			default:
				closed := math.Min(math.Abs(delta), math.Abs(l.qty))
				direction := 1.0
				if l.qty < 0 {
					direction = -1.0
				}
				pnl := (f.Price-l.entry)*closed*direction - f.Fee
				outcomes = append(outcomes, pnl)

				l.qty += delta
				if l.qty == 0 {
					delete(open, f.Symbol)
				} else if !sameSign(l.qty, direction) {
					// Flipped through zero: remainder opens at the fill price.
					l.entry = f.Price
				}
			}
		}
	}
	return outcomes
}

func sameSign(a, b float64) bool {
	return (a > 0) == (b > 0)
}

// winStats returns the fraction of profitable outcomes and the ratio of
// gross profit to gross loss.
func winStats(outcomes []float64) (winRate, profitFactor float64) {
	if len(outcomes) == 0 {
		return 0, 0
	}
	var wins int
	var grossWin, grossLoss float64
	for _, pnl := range outcomes {
		if pnl > 0 {
			wins++
			grossWin += pnl
		} else {
			grossLoss += -pnl
		}
	}
	winRate = float64(wins) / float64(len(outcomes))
	if grossLoss > 0 {
		profitFactor = grossWin / grossLoss
	} else if grossWin > 0 {
		profitFactor = math.Inf(1)
	}
	return winRate, profitFactor
}
