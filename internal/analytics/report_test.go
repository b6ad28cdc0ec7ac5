package analytics

import (
	"math"
	"testing"
	"time"

	"a2e/internal/domain"
)

func point(day int, equity float64) domain.EquityPoint {
	return domain.EquityPoint{
		Timestamp: time.Date(2024, 1, day, 16, 0, 0, 0, time.UTC),
		Equity:    equity,
		Cash:      equity,
	}
}

func fillEntry(side domain.OrderSide, qty, price, fee float64) domain.RunEntry {
	return domain.RunEntry{
		Fills: []domain.Fill{{
			Symbol: "AAPL",
			Side:   side,
			Qty:    qty,
			Price:  price,
			Fee:    fee,
		}},
	}
}

func TestComputeEmptyInputs(t *testing.T) {
	r := Compute(nil, nil)
	if r != (Report{}) {
		t.Errorf("Compute(nil, nil) = %+v, want zero report", r)
	}
}

func TestComputeReturnsAndDrawdown(t *testing.T) {
	points := []domain.EquityPoint{
		point(1, 100_000),
		point(2, 110_000), // peak
		point(3, 99_000),  // 10% drawdown from peak
		point(4, 120_000),
	}
	r := Compute(points, nil)

	if math.Abs(r.TotalReturn-0.2) > 1e-9 {
		t.Errorf("TotalReturn = %v, want 0.2", r.TotalReturn)
	}
	if math.Abs(r.MaxDrawdown-0.1) > 1e-9 {
		t.Errorf("MaxDrawdown = %v, want 0.1", r.MaxDrawdown)
	}
	if r.StartEquity != 100_000 || r.EndEquity != 120_000 {
		t.Errorf("equity bounds = %v..%v", r.StartEquity, r.EndEquity)
	}
	if r.Volatility <= 0 {
		t.Errorf("Volatility = %v, want positive for a moving curve", r.Volatility)
	}
	if r.AnnualizedReturn <= r.TotalReturn {
		t.Errorf("AnnualizedReturn = %v, want above total for a 3-day gain", r.AnnualizedReturn)
	}
}

func TestComputeFlatCurveHasNoSharpe(t *testing.T) {
	points := []domain.EquityPoint{point(1, 100_000), point(2, 100_000), point(3, 100_000)}
	r := Compute(points, nil)
	if r.SharpeRatio != 0 || r.Volatility != 0 {
		t.Errorf("flat curve: sharpe %v vol %v, want 0, 0", r.SharpeRatio, r.Volatility)
	}
}

func TestTradeOutcomesRoundTrips(t *testing.T) {
	entries := []domain.RunEntry{
		fillEntry(domain.OrderSideBuy, 100, 100, 0),  // open long
		fillEntry(domain.OrderSideSell, 100, 110, 5), // close: +1000 - 5 fee
		fillEntry(domain.OrderSideSell, 50, 200, 0),  // open short
		fillEntry(domain.OrderSideBuy, 50, 210, 0),   // cover: -500
	}
	outcomes := tradeOutcomes(entries)

	if len(outcomes) != 2 {
		t.Fatalf("outcomes = %v, want 2", outcomes)
	}
	if math.Abs(outcomes[0]-995) > 1e-9 {
		t.Errorf("long outcome = %v, want 995", outcomes[0])
	}
	if math.Abs(outcomes[1]-(-500)) > 1e-9 {
		t.Errorf("short outcome = %v, want -500", outcomes[1])
	}
}

func TestTradeOutcomesWeightedEntryAndFlip(t *testing.T) {
	entries := []domain.RunEntry{
		fillEntry(domain.OrderSideBuy, 100, 100, 0),
		fillEntry(domain.OrderSideBuy, 100, 110, 0),  // avg entry 105
		fillEntry(domain.OrderSideSell, 300, 120, 0), // close 200, flip short 100 at 120
		fillEntry(domain.OrderSideBuy, 100, 115, 0),  // cover at 115: +500
	}
	outcomes := tradeOutcomes(entries)

	if len(outcomes) != 2 {
		t.Fatalf("outcomes = %v, want 2", outcomes)
	}
	// (120 - 105) × 200 closed shares.
	if math.Abs(outcomes[0]-3000) > 1e-9 {
		t.Errorf("close outcome = %v, want 3000", outcomes[0])
	}
	// Short entered at the flip fill price 120, covered at 115.
	if math.Abs(outcomes[1]-500) > 1e-9 {
		t.Errorf("flip outcome = %v, want 500", outcomes[1])
	}
}

func TestComputeWinStats(t *testing.T) {
	entries := []domain.RunEntry{
		fillEntry(domain.OrderSideBuy, 10, 100, 0),
		fillEntry(domain.OrderSideSell, 10, 120, 0), // +200
		fillEntry(domain.OrderSideBuy, 10, 100, 0),
		fillEntry(domain.OrderSideSell, 10, 90, 0), // -100
	}
	points := []domain.EquityPoint{point(1, 100_000), point(2, 100_100)}
	r := Compute(points, entries)

	if r.TradeCount != 2 {
		t.Errorf("TradeCount = %d, want 2", r.TradeCount)
	}
	if r.WinRate != 0.5 {
		t.Errorf("WinRate = %v, want 0.5", r.WinRate)
	}
	if math.Abs(r.ProfitFactor-2.0) > 1e-9 {
		t.Errorf("ProfitFactor = %v, want 2.0", r.ProfitFactor)
	}
}
