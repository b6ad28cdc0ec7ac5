package broker

import (
	"math"
	"testing"
	"time"

	"a2e/internal/domain"
)

func testBar(close float64, volume int64) domain.Bar {
	return domain.Bar{
		Symbol:    "AAPL",
		Timestamp: time.Date(2024, 3, 1, 16, 0, 0, 0, time.UTC),
		Open:      close * 0.99,
		High:      close * 1.02,
		Low:       close * 0.97,
		Close:     close,
		Volume:    volume,
	}
}

func testOrder(side domain.OrderSide, qty float64) *domain.Order {
	return &domain.Order{
		ID:     "ord-000001",
		Symbol: "AAPL",
		Side:   side,
		Type:   domain.OrderTypeMarket,
		Qty:    qty,
		Status: domain.OrderStatusAccepted,
	}
}

func TestSimulatorMarketOrderSlippage(t *testing.T) {
	sim := NewSimulator(SimulatorConfig{Slippage: 0.0001, CommissionRate: 0.001})
	bar := testBar(100, 10_000)

	tests := []struct {
		name      string
		side      domain.OrderSide
		wantPrice float64
	}{
		{"buy pays up", domain.OrderSideBuy, 100 * 1.0001},
		{"sell receives less", domain.OrderSideSell, 100 * 0.9999},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fills := sim.Fill(testOrder(tt.side, 50), bar)
			if len(fills) != 1 {
				t.Fatalf("fills = %d, want 1", len(fills))
			}
			f := fills[0]
			if math.Abs(f.Price-tt.wantPrice) > 1e-9 {
				t.Errorf("price = %v, want %v", f.Price, tt.wantPrice)
			}
			if f.Qty != 50 {
				t.Errorf("qty = %v, want full 50", f.Qty)
			}
			wantFee := 50 * tt.wantPrice * 0.001
			if math.Abs(f.Fee-wantFee) > 1e-9 {
				t.Errorf("fee = %v, want %v", f.Fee, wantFee)
			}
			if !f.Timestamp.Equal(bar.Timestamp) {
				t.Errorf("timestamp = %v, want bar timestamp", f.Timestamp)
			}
		})
	}
}

func TestSimulatorThinVolumeProducesNoFill(t *testing.T) {
	sim := NewSimulator(SimulatorConfig{MinVolume: 1000})

	if fills := sim.Fill(testOrder(domain.OrderSideBuy, 10), testBar(100, 999)); fills != nil {
		t.Errorf("fills = %v, want none below the volume floor", fills)
	}
	if fills := sim.Fill(testOrder(domain.OrderSideBuy, 10), testBar(100, 1000)); len(fills) != 1 {
		t.Errorf("fills = %v, want one at the volume floor", fills)
	}
}

func TestSimulatorLimitOrderTouchRule(t *testing.T) {
	sim := NewSimulator(SimulatorConfig{Slippage: 0.001})
	bar := testBar(100, 10_000) // range [97, 102]

	tests := []struct {
		name   string
		side   domain.OrderSide
		limit  float64
		filled bool
	}{
		{"buy inside range", domain.OrderSideBuy, 99, true},
		{"buy at low", domain.OrderSideBuy, 97, true},
		{"buy below range", domain.OrderSideBuy, 96.5, false},
		{"buy marketable above high", domain.OrderSideBuy, 103, true},
		{"sell inside range", domain.OrderSideSell, 101, true},
		{"sell at high", domain.OrderSideSell, 102, true},
		{"sell above range", domain.OrderSideSell, 103, false},
		{"sell marketable below low", domain.OrderSideSell, 95, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order := testOrder(tt.side, 10)
			order.Type = domain.OrderTypeLimit
			order.LimitPrice = tt.limit

			fills := sim.Fill(order, bar)
			if tt.filled != (len(fills) == 1) {
				t.Fatalf("fills = %v, want filled=%v", fills, tt.filled)
			}
			// Limit fills execute at the limit price, never with slippage.
			if tt.filled && fills[0].Price != tt.limit {
				t.Errorf("price = %v, want limit %v", fills[0].Price, tt.limit)
			}
		})
	}
}

func TestSimulatorIsDeterministic(t *testing.T) {
	sim := NewSimulator(SimulatorConfig{Slippage: 0.0001, CommissionRate: 0.001, MinVolume: 100})
	order := testOrder(domain.OrderSideSell, 25)
	bar := testBar(250, 5_000)

	first := sim.Fill(order, bar)
	for i := 0; i < 5; i++ {
		again := sim.Fill(order, bar)
		if len(again) != len(first) || again[0] != first[0] {
			t.Fatalf("fill %d = %+v, differs from first %+v", i, again, first)
		}
	}
}
