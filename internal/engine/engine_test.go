package engine

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"testing"
	"time"

	"a2e/internal/broker"
	"a2e/internal/domain"
	"a2e/internal/driver"
	"a2e/internal/portfolio"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dayBar(symbol string, day int, close float64, volume int64) domain.Bar {
	ts := time.Date(2024, 3, day, 16, 0, 0, 0, time.UTC)
	return domain.Bar{
		Symbol:    symbol,
		Timestamp: ts,
		Open:      close * 0.99,
		High:      close * 1.01,
		Low:       close * 0.98,
		Close:     close,
		Volume:    volume,
	}
}

// scriptedSource replays a fixed signal schedule keyed by bar timestamp.
type scriptedSource struct {
	signals map[time.Time][]domain.Signal
}

func (s *scriptedSource) OnBar(_ context.Context, bar domain.Bar) ([]domain.Signal, error) {
	return s.signals[bar.Timestamp], nil
}

func signalAt(bar domain.Bar, typ domain.SignalType) domain.Signal {
	return domain.Signal{
		StrategyID: "scripted",
		Symbol:     bar.Symbol,
		Timestamp:  bar.Timestamp,
		Type:       typ,
		Strength:   1.0,
		CreatedAt:  bar.Timestamp,
	}
}

func newBacktestEngine(t *testing.T, cash float64, src SignalSource, sim broker.SimulatorConfig) (*Engine, *portfolio.Ledger) {
	t.Helper()
	ledger := portfolio.NewLedger(cash)
	eng, err := NewEngine(Config{
		Limits: domain.RiskLimits{
			MaxPositionSize: 1_000_000,
			MaxLeverage:     2.0,
			MaxDrawdown:     0.15,
			MaxDailyLoss:    0.05,
		},
	}, src, ledger, testLogger(), WithFillModel(broker.NewSimulator(sim)))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return eng, ledger
}

func TestNewEngineRequiresExactlyOneExecutionPath(t *testing.T) {
	ledger := portfolio.NewLedger(100_000)
	src := &scriptedSource{}
	limits := domain.RiskLimits{MaxPositionSize: 1, MaxLeverage: 1, MaxDrawdown: 1, MaxDailyLoss: 1}

	if _, err := NewEngine(Config{Limits: limits}, src, ledger, testLogger()); err == nil {
		t.Error("NewEngine with no execution path: want error")
	}
	if _, err := NewEngine(Config{Limits: limits}, src, ledger, testLogger(),
		WithFillModel(broker.NewSimulator(broker.SimulatorConfig{})),
		WithVenue(&fakeVenue{})); err == nil {
		t.Error("NewEngine with both execution paths: want error")
	}
}

func TestRunBacktestOpensAndClosesPosition(t *testing.T) {
	bars := []domain.Bar{
		dayBar("AAPL", 1, 100, 10_000),
		dayBar("AAPL", 4, 110, 10_000),
		dayBar("AAPL", 5, 120, 10_000),
	}
	src := &scriptedSource{signals: map[time.Time][]domain.Signal{
		bars[0].Timestamp: {signalAt(bars[0], domain.SignalLong)},
		bars[2].Timestamp: {signalAt(bars[2], domain.SignalFlat)},
	}}
	eng, ledger := newBacktestEngine(t, 100_000, src, broker.SimulatorConfig{})

	if err := eng.Run(context.Background(), driver.NewReplay(bars)); err != nil {
		t.Fatalf("Run: %v", err)
	}

	entries := eng.RunLog().Entries()
	if len(entries) != 2 {
		t.Fatalf("run log entries = %d, want 2", len(entries))
	}

	open := entries[0]
	if open.Order == nil || open.Order.Status != domain.OrderStatusFilled {
		t.Fatalf("entry 0 order = %+v, want filled", open.Order)
	}
	if open.Order.ID != "ord-000001" {
		t.Errorf("entry 0 order ID = %q, want ord-000001", open.Order.ID)
	}
	// Fixed-fraction default: 10% of 100000 equity at price 100 is 100 shares.
	if open.Order.FilledQty != 100 {
		t.Errorf("entry 0 filled qty = %v, want 100", open.Order.FilledQty)
	}

	closing := entries[1]
	if closing.Order == nil || closing.Order.Status != domain.OrderStatusFilled {
		t.Fatalf("entry 1 order = %+v, want filled", closing.Order)
	}
	if closing.Order.Side != domain.OrderSideSell || closing.Order.FilledQty != 100 {
		t.Errorf("entry 1 = %s %v shares, want sell 100", closing.Order.Side, closing.Order.FilledQty)
	}

	snap := ledger.Snapshot()
	if len(snap.Positions) != 0 {
		t.Errorf("positions after flat = %v, want none", snap.Positions)
	}
	// Bought 100 at 100, sold 100 at 120, no costs: 2000 realized.
	if snap.Cash != 102_000 {
		t.Errorf("final cash = %v, want 102000", snap.Cash)
	}
}

func TestRunBacktestCancelsOnThinVolume(t *testing.T) {
	bars := []domain.Bar{dayBar("AAPL", 1, 100, 50)}
	src := &scriptedSource{signals: map[time.Time][]domain.Signal{
		bars[0].Timestamp: {signalAt(bars[0], domain.SignalLong)},
	}}
	eng, ledger := newBacktestEngine(t, 100_000, src, broker.SimulatorConfig{MinVolume: 1000})

	if err := eng.Run(context.Background(), driver.NewReplay(bars)); err != nil {
		t.Fatalf("Run: %v", err)
	}

	entries := eng.RunLog().Entries()
	if len(entries) != 1 {
		t.Fatalf("run log entries = %d, want 1", len(entries))
	}
	if entries[0].Order == nil || entries[0].Order.Status != domain.OrderStatusCancelled {
		t.Fatalf("order = %+v, want cancelled", entries[0].Order)
	}
	if entries[0].Note == "" {
		t.Error("cancelled entry should carry a note")
	}
	if snap := ledger.Snapshot(); len(snap.Positions) != 0 || snap.Cash != 100_000 {
		t.Errorf("portfolio changed on a cancelled order: %+v", snap)
	}
}

func TestStepRecordsHoldNotes(t *testing.T) {
	bars := []domain.Bar{
		dayBar("AAPL", 1, 100, 10_000),
		dayBar("AAPL", 4, 105, 10_000),
		dayBar("AAPL", 5, 108, 10_000),
	}
	src := &scriptedSource{signals: map[time.Time][]domain.Signal{
		bars[0].Timestamp: {signalAt(bars[0], domain.SignalFlat)}, // nothing to close
		bars[1].Timestamp: {signalAt(bars[1], domain.SignalLong)},
		bars[2].Timestamp: {signalAt(bars[2], domain.SignalLong)}, // already long
	}}
	eng, _ := newBacktestEngine(t, 100_000, src, broker.SimulatorConfig{})

	if err := eng.Run(context.Background(), driver.NewReplay(bars)); err != nil {
		t.Fatalf("Run: %v", err)
	}

	entries := eng.RunLog().Entries()
	if len(entries) != 3 {
		t.Fatalf("run log entries = %d, want 3", len(entries))
	}
	if entries[0].Note != "hold: already flat" || entries[0].Order != nil {
		t.Errorf("entry 0 = note %q order %v, want flat hold with no order", entries[0].Note, entries[0].Order)
	}
	if entries[1].Order == nil || entries[1].Order.Status != domain.OrderStatusFilled {
		t.Errorf("entry 1 order = %+v, want filled", entries[1].Order)
	}
	if entries[2].Note != "hold: already long" || entries[2].Order != nil {
		t.Errorf("entry 2 = note %q order %v, want long hold with no order", entries[2].Note, entries[2].Order)
	}
}

func TestStepScalesOversizedOrder(t *testing.T) {
	bars := []domain.Bar{dayBar("AAPL", 1, 100, 10_000)}
	src := &scriptedSource{signals: map[time.Time][]domain.Signal{
		bars[0].Timestamp: {signalAt(bars[0], domain.SignalLong)},
	}}

	ledger := portfolio.NewLedger(100_000)
	eng, err := NewEngine(Config{
		Limits: domain.RiskLimits{
			MaxPositionSize: 5_000,
			MaxLeverage:     2.0,
			MaxDrawdown:     0.15,
			MaxDailyLoss:    0.05,
		},
		Sizer: FixedFractionSizer(0.5), // wants 500 shares, 50000 notional
	}, src, ledger, testLogger(), WithFillModel(broker.NewSimulator(broker.SimulatorConfig{})))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	if err := eng.Run(context.Background(), driver.NewReplay(bars)); err != nil {
		t.Fatalf("Run: %v", err)
	}

	entries := eng.RunLog().Entries()
	if len(entries) != 1 {
		t.Fatalf("run log entries = %d, want 1", len(entries))
	}
	if entries[0].Verdict == nil || entries[0].Verdict.Action != domain.VerdictScale {
		t.Fatalf("verdict = %+v, want scale", entries[0].Verdict)
	}
	if got := entries[0].Order.FilledQty; got != 50 {
		t.Errorf("filled qty = %v, want 50 (5000 notional at 100)", got)
	}
}

func TestRunSkipsDataGaps(t *testing.T) {
	good := dayBar("AAPL", 1, 100, 10_000)
	bad := dayBar("AAPL", 4, 100, 10_000)
	bad.Close = -1
	later := dayBar("AAPL", 5, 105, 10_000)

	src := &scriptedSource{signals: map[time.Time][]domain.Signal{
		later.Timestamp: {signalAt(later, domain.SignalLong)},
	}}
	eng, ledger := newBacktestEngine(t, 100_000, src, broker.SimulatorConfig{})

	if err := eng.Run(context.Background(), driver.NewReplay([]domain.Bar{good, bad, later})); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := eng.RunLog().Len(); got != 1 {
		t.Fatalf("run log entries = %d, want 1", got)
	}
	if snap := ledger.Snapshot(); snap.Positions["AAPL"].Qty == 0 {
		t.Error("signal after the gap was not executed")
	}
}

// Two runs over identical inputs must produce byte-identical run logs and
// identical equity histories.
func TestRunBacktestIsDeterministic(t *testing.T) {
	bars := []domain.Bar{
		dayBar("AAPL", 1, 100, 10_000),
		dayBar("MSFT", 1, 200, 20_000),
		dayBar("AAPL", 4, 95, 8_000),
		dayBar("MSFT", 4, 210, 20_000),
		dayBar("AAPL", 5, 102, 9_000),
		dayBar("MSFT", 5, 205, 15_000),
	}
	schedule := map[time.Time][]domain.Signal{
		bars[0].Timestamp: {signalAt(bars[0], domain.SignalLong)},
		bars[3].Timestamp: {signalAt(bars[3], domain.SignalShort)},
		bars[4].Timestamp: {signalAt(bars[4], domain.SignalFlat)},
	}
	simCfg := broker.SimulatorConfig{Slippage: 0.0001, CommissionRate: 0.001, MinVolume: 100}

	run := func() ([]byte, []domain.EquityPoint) {
		src := &scriptedSource{signals: schedule}
		eng, ledger := newBacktestEngine(t, 1_000_000, src, simCfg)
		if err := eng.Run(context.Background(), driver.NewReplay(bars)); err != nil {
			t.Fatalf("Run: %v", err)
		}
		var buf bytes.Buffer
		if err := eng.RunLog().WriteJSONL(&buf); err != nil {
			t.Fatalf("WriteJSONL: %v", err)
		}
		return buf.Bytes(), ledger.EquityHistory()
	}

	log1, curve1 := run()
	log2, curve2 := run()

	if !bytes.Equal(log1, log2) {
		t.Errorf("run logs differ:\nfirst:  %s\nsecond: %s", log1, log2)
	}
	if !reflect.DeepEqual(curve1, curve2) {
		t.Errorf("equity histories differ: %v vs %v", curve1, curve2)
	}
}

// ---------------------------------------------------------------------------
// Live execution path
// ---------------------------------------------------------------------------

// fakeVenue records submissions and lets tests feed updates back in.
type fakeVenue struct {
	submitted []*domain.Order
	cancelled []string
	submitErr error
	updates   chan broker.Update
}

func newFakeVenue() *fakeVenue {
	return &fakeVenue{updates: make(chan broker.Update, 8)}
}

func (v *fakeVenue) Name() string { return "fake" }

func (v *fakeVenue) SubmitOrder(_ context.Context, order *domain.Order) error {
	if v.submitErr != nil {
		return v.submitErr
	}
	v.submitted = append(v.submitted, order)
	return nil
}

func (v *fakeVenue) CancelOrder(_ context.Context, id string) error {
	v.cancelled = append(v.cancelled, id)
	return nil
}

func (v *fakeVenue) Updates() <-chan broker.Update { return v.updates }

func (v *fakeVenue) Close() error { return nil }

func newLiveEngine(t *testing.T, venue broker.Venue, src SignalSource) (*Engine, *portfolio.Ledger) {
	t.Helper()
	ledger := portfolio.NewLedger(100_000)
	eng, err := NewEngine(Config{
		Limits: domain.RiskLimits{
			MaxPositionSize: 1_000_000,
			MaxLeverage:     2.0,
			MaxDrawdown:     0.15,
			MaxDailyLoss:    0.05,
		},
		SubmitTimeout: 100 * time.Millisecond,
		DrainTimeout:  100 * time.Millisecond,
	}, src, ledger, testLogger(), WithVenue(venue))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return eng, ledger
}

func TestLiveSignalSupersededWhileOrderOpen(t *testing.T) {
	bars := []domain.Bar{
		dayBar("AAPL", 1, 100, 10_000),
		dayBar("AAPL", 4, 105, 10_000),
	}
	src := &scriptedSource{signals: map[time.Time][]domain.Signal{
		bars[0].Timestamp: {signalAt(bars[0], domain.SignalLong)},
		bars[1].Timestamp: {signalAt(bars[1], domain.SignalShort)},
	}}
	venue := newFakeVenue()
	eng, _ := newLiveEngine(t, venue, src)
	ctx := context.Background()

	if err := eng.Step(ctx, bars[0]); err != nil {
		t.Fatalf("Step 1: %v", err)
	}
	if len(venue.submitted) != 1 {
		t.Fatalf("submitted = %d, want 1", len(venue.submitted))
	}
	// The first order has not resolved: the second signal must not act.
	if err := eng.Step(ctx, bars[1]); err != nil {
		t.Fatalf("Step 2: %v", err)
	}
	if len(venue.submitted) != 1 {
		t.Fatalf("submitted = %d after superseded signal, want still 1", len(venue.submitted))
	}

	entries := eng.RunLog().Entries()
	if len(entries) != 1 {
		t.Fatalf("run log entries = %d, want only the superseded one so far", len(entries))
	}
	if entries[0].Note == "" || entries[0].Order != nil {
		t.Errorf("superseded entry = %+v, want note and no order", entries[0])
	}
}

func TestLiveUpdateFillsAndFinalizes(t *testing.T) {
	bar := dayBar("AAPL", 1, 100, 10_000)
	src := &scriptedSource{signals: map[time.Time][]domain.Signal{
		bar.Timestamp: {signalAt(bar, domain.SignalLong)},
	}}
	venue := newFakeVenue()
	eng, ledger := newLiveEngine(t, venue, src)
	ctx := context.Background()

	if err := eng.Step(ctx, bar); err != nil {
		t.Fatalf("Step: %v", err)
	}
	order := venue.submitted[0]

	fill := domain.Fill{
		OrderID:   order.ID,
		Symbol:    "AAPL",
		Side:      domain.OrderSideBuy,
		Qty:       order.Qty,
		Price:     100.5,
		Timestamp: bar.Timestamp.Add(2 * time.Second),
	}
	err := eng.handleUpdate(ctx, broker.Update{
		OrderID: order.ID,
		Symbol:  "AAPL",
		Status:  domain.OrderStatusFilled,
		Fills:   []domain.Fill{fill},
	})
	if err != nil {
		t.Fatalf("handleUpdate: %v", err)
	}

	entries := eng.RunLog().Entries()
	if len(entries) != 1 {
		t.Fatalf("run log entries = %d, want 1 after terminal update", len(entries))
	}
	if entries[0].Order.Status != domain.OrderStatusFilled {
		t.Errorf("order status = %s, want filled", entries[0].Order.Status)
	}
	if got := ledger.Snapshot().Positions["AAPL"].Qty; got != order.Qty {
		t.Errorf("position qty = %v, want %v", got, order.Qty)
	}

	// Symbol is free again: the next signal may act.
	next := dayBar("AAPL", 4, 101, 10_000)
	src.signals[next.Timestamp] = []domain.Signal{signalAt(next, domain.SignalFlat)}
	if err := eng.Step(ctx, next); err != nil {
		t.Fatalf("Step after fill: %v", err)
	}
	if len(venue.submitted) != 2 {
		t.Errorf("submitted = %d, want 2", len(venue.submitted))
	}
}

func TestLiveSubmitFailureCancelsOrder(t *testing.T) {
	bar := dayBar("AAPL", 1, 100, 10_000)
	src := &scriptedSource{signals: map[time.Time][]domain.Signal{
		bar.Timestamp: {signalAt(bar, domain.SignalLong)},
	}}
	venue := newFakeVenue()
	venue.submitErr = errors.New("connection reset")
	eng, ledger := newLiveEngine(t, venue, src)

	if err := eng.Step(context.Background(), bar); err != nil {
		t.Fatalf("Step: %v", err)
	}

	entries := eng.RunLog().Entries()
	if len(entries) != 1 {
		t.Fatalf("run log entries = %d, want 1", len(entries))
	}
	if entries[0].Order == nil || entries[0].Order.Status != domain.OrderStatusCancelled {
		t.Fatalf("order = %+v, want cancelled on submit failure", entries[0].Order)
	}
	if len(ledger.Snapshot().Positions) != 0 {
		t.Error("portfolio changed on a failed submission")
	}
}

func TestExpireOverdueCancelsStaleOrder(t *testing.T) {
	bar := dayBar("AAPL", 1, 100, 10_000)
	src := &scriptedSource{signals: map[time.Time][]domain.Signal{
		bar.Timestamp: {signalAt(bar, domain.SignalLong)},
	}}
	venue := newFakeVenue()
	eng, _ := newLiveEngine(t, venue, src)
	ctx := context.Background()

	if err := eng.Step(ctx, bar); err != nil {
		t.Fatalf("Step: %v", err)
	}
	order := venue.submitted[0]

	eng.expireOverdue(ctx, time.Now().Add(time.Hour))

	if len(venue.cancelled) != 1 || venue.cancelled[0] != order.ID {
		t.Fatalf("cancelled = %v, want [%s]", venue.cancelled, order.ID)
	}
	entries := eng.RunLog().Entries()
	if len(entries) != 1 {
		t.Fatalf("run log entries = %d, want 1", len(entries))
	}
	if entries[0].Order.Status != domain.OrderStatusCancelled {
		t.Errorf("order status = %s, want cancelled", entries[0].Order.Status)
	}
	if len(eng.open) != 0 {
		t.Error("expired order still tracked as open")
	}
}
