// Package engine coordinates the order lifecycle: it consumes driver bars,
// invokes the signal source, gates candidate orders through the risk checks,
// executes accepted orders through a fill model or venue, and applies the
// resulting fills to the portfolio ledger. Every processed signal is
// recorded in the run log.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"a2e/internal/broker"
	"a2e/internal/domain"
	"a2e/internal/driver"
	"a2e/internal/portfolio"
	"a2e/internal/risk"
	"a2e/internal/store"
)

// SignalSource produces zero or more signals for a bar. It is implemented
// by the strategy package.
type SignalSource interface {
	OnBar(ctx context.Context, bar domain.Bar) ([]domain.Signal, error)
}

// Sizer converts a signal and a portfolio snapshot into a target absolute
// position quantity. The sizing policy is a configuration hook, not part of
// the engine contract.
type Sizer func(sig domain.Signal, snap domain.PortfolioState) float64

// FixedFractionSizer targets a position notional of fraction × equity,
// scaled by signal strength.
func FixedFractionSizer(fraction float64) Sizer {
	return func(sig domain.Signal, snap domain.PortfolioState) float64 {
		price := snap.LastPrices[sig.Symbol]
		if price <= 0 {
			return 0
		}
		return snap.Equity * fraction * sig.Strength / price
	}
}

// Config holds the engine parameters for a run.
type Config struct {
	// Limits is the immutable risk configuration for the run.
	Limits domain.RiskLimits

	// Sizer is the position sizing policy. Defaults to FixedFractionSizer(0.1).
	Sizer Sizer

	// SubmitTimeout bounds a single venue submission call.
	SubmitTimeout time.Duration

	// OrderDeadline bounds how long a live order may stay non-terminal
	// before the engine cancels it.
	OrderDeadline time.Duration

	// DrainTimeout bounds the shutdown drain of in-flight orders.
	DrainTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Sizer == nil {
		c.Sizer = FixedFractionSizer(0.1)
	}
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = 5 * time.Second
	}
	if c.OrderDeadline <= 0 {
		c.OrderDeadline = 30 * time.Second
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 10 * time.Second
	}
}

// openOrder tracks one in-flight live order. At most one exists per symbol.
type openOrder struct {
	order    *domain.Order
	entry    domain.RunEntry
	fills    []domain.Fill
	deadline time.Time
	expired  bool
}

// Engine is the execution core. It is not safe for concurrent use: all
// mutation flows through Step and the Run loop, preserving the
// single-writer discipline on the ledger.
type Engine struct {
	cfg    Config
	source SignalSource
	ledger *portfolio.Ledger
	runLog *RunLog
	log    *slog.Logger

	fillModel broker.FillModel
	venue     broker.Venue
	orders    store.OrderStore

	seq  int64
	open map[string]*openOrder
}

// Option configures optional engine dependencies.
type Option func(*Engine)

// WithFillModel runs the engine in backtest mode, executing orders
// synchronously through fm.
func WithFillModel(fm broker.FillModel) Option {
	return func(e *Engine) { e.fillModel = fm }
}

// WithVenue runs the engine in live mode, executing orders through v.
func WithVenue(v broker.Venue) Option {
	return func(e *Engine) { e.venue = v }
}

// WithOrderStore persists every order transition to s.
func WithOrderStore(s store.OrderStore) Option {
	return func(e *Engine) { e.orders = s }
}

// NewEngine creates an engine wired with the given dependencies. Exactly
// one of WithFillModel or WithVenue must be supplied.
func NewEngine(cfg Config, source SignalSource, ledger *portfolio.Ledger, logger *slog.Logger, opts ...Option) (*Engine, error) {
	if err := cfg.Limits.Validate(); err != nil {
		return nil, fmt.Errorf("engine config: %w", err)
	}
	cfg.applyDefaults()

	e := &Engine{
		cfg:    cfg,
		source: source,
		ledger: ledger,
		runLog: NewRunLog(),
		log:    logger.With(slog.String("component", "engine")),
		open:   make(map[string]*openOrder),
	}
	for _, opt := range opts {
		opt(e)
	}
	if (e.fillModel == nil) == (e.venue == nil) {
		return nil, errors.New("engine config: exactly one of a fill model or a venue is required")
	}
	return e, nil
}

// RunLog returns the engine's run log.
func (e *Engine) RunLog() *RunLog {
	return e.runLog
}

// Run drives a complete run from the given driver. In backtest mode it is a
// single-threaded deterministic loop; in live mode it drains bars and venue
// updates through one consumer loop. It returns nil at end-of-stream, or
// the first fatal error.
func (e *Engine) Run(ctx context.Context, drv driver.Driver) error {
	if e.venue == nil {
		return e.runReplay(ctx, drv)
	}
	return e.runLive(ctx, drv)
}

func (e *Engine) runReplay(ctx context.Context, drv driver.Driver) error {
	for {
		bar, err := drv.Next(ctx)
		switch {
		case errors.Is(err, io.EOF):
			return nil
		case errors.Is(err, driver.ErrDataGap):
			e.log.Warn("skipping data gap", slog.String("error", err.Error()))
			continue
		case err != nil:
			return fmt.Errorf("driver: %w", err)
		}
		if err := e.Step(ctx, bar); err != nil {
			return err
		}
	}
}

// Step processes a single bar: mark-to-market, signal, risk, execution,
// settlement, logging. It must be called in bar timestamp order and never
// concurrently. A returned error is fatal for the run.
func (e *Engine) Step(ctx context.Context, bar domain.Bar) error {
	if err := e.ledger.Mark(bar.Symbol, bar.Close, bar.Timestamp); err != nil {
		return fmt.Errorf("marking %s: %w", bar.Symbol, err)
	}

	sigs, err := e.source.OnBar(ctx, bar)
	if err != nil {
		e.log.Warn("signal source failed",
			slog.String("symbol", bar.Symbol),
			slog.String("error", err.Error()))
		return nil
	}

	for _, sig := range sigs {
		if err := e.processSignal(ctx, sig, bar); err != nil {
			return err
		}
	}
	return nil
}

// processSignal evaluates exactly one candidate order for the signal and
// appends exactly one run-log entry recording its fate (immediately, or on
// the order's terminal status in live mode).
func (e *Engine) processSignal(ctx context.Context, sig domain.Signal, bar domain.Bar) error {
	entry := domain.RunEntry{Timestamp: bar.Timestamp, Signal: sig}

	// A signal supersedes intent but never acts while an earlier order for
	// the symbol is unresolved.
	if oo, ok := e.open[sig.Symbol]; ok {
		entry.Note = fmt.Sprintf("superseded: order %s still open", oo.order.ID)
		e.runLog.Append(entry)
		return nil
	}

	snap := e.ledger.Snapshot()
	order, note := e.buildOrder(sig, snap, bar)
	if order == nil {
		entry.Note = note
		e.runLog.Append(entry)
		return nil
	}

	verdict := risk.Evaluate(order, snap, e.cfg.Limits)
	entry.Verdict = &verdict
	if !verdict.Allowed() {
		order.Status = domain.OrderStatusRejected
		order.UpdatedAt = bar.Timestamp
		entry.Order = order
		e.saveOrder(ctx, order)
		e.runLog.Append(entry)
		return nil
	}

	order.Qty = verdict.Qty
	order.Status = domain.OrderStatusAccepted
	order.UpdatedAt = bar.Timestamp
	e.saveOrder(ctx, order)

	if e.fillModel != nil {
		return e.executeSimulated(ctx, order, bar, entry)
	}
	return e.submitLive(ctx, order, entry)
}

// buildOrder turns a signal into a candidate market order, or returns a nil
// order with an explanatory note when no action is warranted.
func (e *Engine) buildOrder(sig domain.Signal, snap domain.PortfolioState, bar domain.Bar) (*domain.Order, string) {
	posQty := snap.Positions[sig.Symbol].Qty

	var side domain.OrderSide
	var qty float64
	switch sig.Type {
	case domain.SignalFlat:
		if posQty == 0 {
			return nil, "hold: already flat"
		}
		qty = math.Abs(posQty)
		side = domain.OrderSideSell
		if posQty < 0 {
			side = domain.OrderSideBuy
		}

	case domain.SignalLong:
		if posQty > 0 {
			return nil, "hold: already long"
		}
		target := e.cfg.Sizer(sig, snap)
		if target <= 0 {
			return nil, "hold: sizer produced no quantity"
		}
		qty = target - posQty // close any short, then open long
		side = domain.OrderSideBuy

	case domain.SignalShort:
		if posQty < 0 {
			return nil, "hold: already short"
		}
		target := e.cfg.Sizer(sig, snap)
		if target <= 0 {
			return nil, "hold: sizer produced no quantity"
		}
		qty = target + posQty // close any long, then open short
		side = domain.OrderSideSell

	default:
		return nil, fmt.Sprintf("unknown signal direction %q", sig.Type)
	}

	e.seq++
	return &domain.Order{
		ID:        fmt.Sprintf("ord-%06d", e.seq),
		Symbol:    sig.Symbol,
		Side:      side,
		Type:      domain.OrderTypeMarket,
		Qty:       qty,
		Status:    domain.OrderStatusProposed,
		CreatedAt: bar.Timestamp,
		UpdatedAt: bar.Timestamp,
	}, ""
}

// executeSimulated runs the backtest execution path: synchronous fills from
// the fill model, applied to the ledger in the same step.
func (e *Engine) executeSimulated(ctx context.Context, order *domain.Order, bar domain.Bar, entry domain.RunEntry) error {
	fills := e.fillModel.Fill(order, bar)
	if len(fills) == 0 {
		order.Status = domain.OrderStatusCancelled
		order.UpdatedAt = bar.Timestamp
		entry.Order = order
		entry.Note = "no fill: insufficient liquidity or limit not touched"
		e.saveOrder(ctx, order)
		e.runLog.Append(entry)
		return nil
	}

	if err := e.ledger.Apply(fills); err != nil {
		return fmt.Errorf("applying fills for %s: %w", order.ID, err)
	}
	settleOrder(order, fills, bar.Timestamp)

	entry.Order = order
	entry.Fills = fills
	e.saveOrder(ctx, order)
	e.runLog.Append(entry)
	return nil
}

// submitLive sends the order to the venue. The run-log entry is held open
// until the order reaches a terminal status through venue updates.
func (e *Engine) submitLive(ctx context.Context, order *domain.Order, entry domain.RunEntry) error {
	subCtx, cancel := context.WithTimeout(ctx, e.cfg.SubmitTimeout)
	defer cancel()

	if err := e.venue.SubmitOrder(subCtx, order); err != nil {
		order.Status = domain.OrderStatusCancelled
		order.UpdatedAt = time.Now().UTC()
		entry.Order = order
		if errors.Is(err, broker.ErrSubmitTimeout) || errors.Is(err, context.DeadlineExceeded) {
			entry.Note = "venue submission timed out, order cancelled"
		} else {
			entry.Note = "venue submission failed: " + err.Error()
		}
		e.log.Warn("order submission failed",
			slog.String("order_id", order.ID),
			slog.String("symbol", order.Symbol),
			slog.String("error", err.Error()))
		e.saveOrder(ctx, order)
		e.runLog.Append(entry)
		return nil
	}

	e.open[order.Symbol] = &openOrder{
		order:    order,
		entry:    entry,
		deadline: time.Now().Add(e.cfg.OrderDeadline),
	}
	return nil
}

// runLive is the single consumer loop for live mode: it serializes bar
// marking and fill application, so the ledger never sees two writers.
func (e *Engine) runLive(ctx context.Context, drv driver.Driver) error {
	bars := make(chan domain.Bar)
	errc := make(chan error, 1)
	go func() {
		defer close(bars)
		for {
			bar, err := drv.Next(ctx)
			switch {
			case errors.Is(err, io.EOF), errors.Is(err, context.Canceled):
				return
			case errors.Is(err, driver.ErrDataGap):
				e.log.Warn("skipping data gap", slog.String("error", err.Error()))
				continue
			case err != nil:
				errc <- fmt.Errorf("driver: %w", err)
				return
			}
			select {
			case bars <- bar:
			case <-ctx.Done():
				return
			}
		}
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.drain(ctx.Err())
			return nil
		case err := <-errc:
			e.drain(err)
			return err
		case bar, ok := <-bars:
			if !ok {
				e.drain(nil)
				return nil
			}
			if err := e.Step(ctx, bar); err != nil {
				e.drain(err)
				return err
			}
		case upd := <-e.venue.Updates():
			if err := e.handleUpdate(ctx, upd); err != nil {
				e.drain(err)
				return err
			}
		case now := <-ticker.C:
			e.expireOverdue(ctx, now)
		}
	}
}

// handleUpdate applies an asynchronous venue notification. Fill application
// happens here, on the same goroutine as Step, preserving the single-writer
// discipline.
func (e *Engine) handleUpdate(ctx context.Context, upd broker.Update) error {
	oo, ok := e.open[upd.Symbol]
	if !ok || oo.order.ID != upd.OrderID {
		e.log.Warn("update for unknown order",
			slog.String("order_id", upd.OrderID),
			slog.String("symbol", upd.Symbol))
		return nil
	}

	if len(upd.Fills) > 0 {
		if err := e.ledger.Apply(upd.Fills); err != nil {
			return fmt.Errorf("applying fills for %s: %w", upd.OrderID, err)
		}
		oo.fills = append(oo.fills, upd.Fills...)
	}
	if upd.Status != "" {
		oo.order.Status = upd.Status
	}

	if oo.order.Status.IsTerminal() {
		e.finalize(ctx, oo, time.Now().UTC())
	}
	return nil
}

// expireOverdue cancels live orders that have not reached a terminal status
// within the configured deadline. Such an order is finalized as cancelled:
// it is never left open indefinitely.
func (e *Engine) expireOverdue(ctx context.Context, now time.Time) {
	for _, oo := range e.open {
		if oo.expired || now.Before(oo.deadline) {
			continue
		}
		oo.expired = true
		e.log.Warn("order deadline exceeded, cancelling",
			slog.String("order_id", oo.order.ID),
			slog.String("symbol", oo.order.Symbol))
		if err := e.venue.CancelOrder(ctx, oo.order.ID); err != nil {
			e.log.Warn("venue cancel failed",
				slog.String("order_id", oo.order.ID),
				slog.String("error", err.Error()))
		}
		oo.order.Status = domain.OrderStatusCancelled
		oo.entry.Note = "order deadline exceeded, cancelled"
		e.finalize(ctx, oo, now.UTC())
	}
}

// finalize closes out an in-flight order: records its run-log entry,
// persists the terminal state, and frees the symbol for the next signal.
func (e *Engine) finalize(ctx context.Context, oo *openOrder, at time.Time) {
	settleOrder(oo.order, oo.fills, at)
	if !oo.order.Status.IsTerminal() {
		oo.order.Status = domain.OrderStatusCancelled
	}
	oo.entry.Order = oo.order
	oo.entry.Fills = oo.fills
	e.saveOrder(ctx, oo.order)
	e.runLog.Append(oo.entry)
	delete(e.open, oo.order.Symbol)
}

// drain brings every in-flight order to a terminal state before the run
// ends: cancel requests first, then a bounded wait for venue confirmations,
// then forced local cancellation. No position is left without a settled
// ledger entry.
func (e *Engine) drain(cause error) {
	if len(e.open) == 0 {
		return
	}
	if cause != nil {
		e.log.Info("draining in-flight orders", slog.String("cause", cause.Error()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.DrainTimeout)
	defer cancel()

	for _, oo := range e.open {
		if err := e.venue.CancelOrder(ctx, oo.order.ID); err != nil {
			e.log.Warn("venue cancel failed during drain",
				slog.String("order_id", oo.order.ID),
				slog.String("error", err.Error()))
		}
	}

	for len(e.open) > 0 {
		select {
		case upd := <-e.venue.Updates():
			if err := e.handleUpdate(ctx, upd); err != nil {
				e.log.Error("fill application failed during drain", slog.String("error", err.Error()))
				e.forceCancel(ctx)
				return
			}
		case <-ctx.Done():
			e.forceCancel(ctx)
			return
		}
	}
}

func (e *Engine) forceCancel(ctx context.Context) {
	now := time.Now().UTC()
	for _, oo := range e.open {
		oo.order.Status = domain.OrderStatusCancelled
		if oo.entry.Note == "" {
			oo.entry.Note = "cancelled at shutdown"
		}
		e.finalize(ctx, oo, now)
	}
}

func (e *Engine) saveOrder(ctx context.Context, order *domain.Order) {
	if e.orders == nil {
		return
	}
	if err := e.orders.SaveOrder(ctx, order); err != nil {
		e.log.Warn("persisting order failed",
			slog.String("order_id", order.ID),
			slog.String("error", err.Error()))
	}
}

// settleOrder folds fills into the order's filled quantity and average
// price and assigns the terminal status implied by the filled quantity.
func settleOrder(order *domain.Order, fills []domain.Fill, at time.Time) {
	var qty, notional float64
	for _, f := range fills {
		qty += f.Qty
		notional += f.Qty * f.Price
	}
	order.FilledQty = qty
	if qty > 0 {
		order.FilledAvgPrice = notional / qty
	}
	order.UpdatedAt = at

	switch {
	case qty >= order.Qty:
		order.Status = domain.OrderStatusFilled
	case qty > 0:
		order.Status = domain.OrderStatusPartiallyFilled
	}
}
