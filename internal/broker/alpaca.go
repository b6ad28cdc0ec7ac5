package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"a2e/internal/domain"
	"a2e/internal/util"
)

// Compile-time interface check.
var _ Venue = (*AlpacaVenue)(nil)

// AlpacaConfig holds the credentials and endpoint for the Alpaca trading API.
type AlpacaConfig struct {
	APIKey    string
	APISecret string
	BaseURL   string // paper or live endpoint

	// RequestsPerMinute caps outbound API calls. Defaults to 200.
	RequestsPerMinute int
}

// AlpacaVenue routes orders to the Alpaca trading API and normalizes its
// trade-update stream into Update values. Orders keep their local IDs; a
// fresh client order ID ties each submission to the venue-side order.
type AlpacaVenue struct {
	client  *alpaca.Client
	log     *slog.Logger
	limiter *util.RateLimiter
	updates chan Update

	mu      sync.Mutex
	local   map[string]string // client order ID -> local order ID
	venueID map[string]string // local order ID -> venue order ID
	symbol  map[string]string // local order ID -> symbol

	cancelStream context.CancelFunc
}

// NewAlpacaVenue creates a venue client and starts consuming the
// trade-update stream. Close stops the stream.
func NewAlpacaVenue(cfg AlpacaConfig, logger *slog.Logger) *AlpacaVenue {
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 200
	}

	v := &AlpacaVenue{
		client: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    cfg.APIKey,
			APISecret: cfg.APISecret,
			BaseURL:   cfg.BaseURL,
		}),
		log:     logger.With(slog.String("component", "alpaca")),
		limiter: util.NewRateLimiter(cfg.RequestsPerMinute),
		updates: make(chan Update, 64),
		local:   make(map[string]string),
		venueID: make(map[string]string),
		symbol:  make(map[string]string),
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	v.cancelStream = cancel
	v.client.StreamTradeUpdatesInBackground(streamCtx, v.onTradeUpdate)
	return v
}

// Name returns "alpaca".
func (v *AlpacaVenue) Name() string {
	return "alpaca"
}

// SubmitOrder places the order with the venue. The order's local ID is
// preserved; the venue correlation happens through a generated client order
// ID. Returns ErrSubmitTimeout when ctx expires before the venue responds.
func (v *AlpacaVenue) SubmitOrder(ctx context.Context, order *domain.Order) error {
	if err := v.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	clientOrderID := uuid.New().String()
	req := alpaca.PlaceOrderRequest{
		Symbol:        order.Symbol,
		Qty:           decimalPtr(order.Qty),
		Side:          alpacaSide(order.Side),
		Type:          alpacaType(order.Type),
		TimeInForce:   alpaca.Day,
		ClientOrderID: clientOrderID,
	}
	if order.Type == domain.OrderTypeLimit {
		req.LimitPrice = decimalPtr(order.LimitPrice)
	}

	// Register the correlation before placing: the first stream event can
	// arrive before PlaceOrder returns.
	v.mu.Lock()
	v.local[clientOrderID] = order.ID
	v.symbol[order.ID] = order.Symbol
	v.mu.Unlock()

	type result struct {
		placed *alpaca.Order
		err    error
	}
	done := make(chan result, 1)
	go func() {
		placed, err := v.client.PlaceOrder(req)
		done <- result{placed, err}
	}()

	select {
	case <-ctx.Done():
		v.forget(clientOrderID, order.ID)
		return fmt.Errorf("%w: %s", ErrSubmitTimeout, order.ID)
	case res := <-done:
		if res.err != nil {
			v.forget(clientOrderID, order.ID)
			return fmt.Errorf("placing order %s: %w", order.ID, res.err)
		}
		v.mu.Lock()
		v.venueID[order.ID] = res.placed.ID
		v.mu.Unlock()
		v.log.Info("order placed",
			slog.String("order_id", order.ID),
			slog.String("venue_order_id", res.placed.ID),
			slog.String("symbol", order.Symbol))
		return nil
	}
}

// CancelOrder asks the venue to cancel the order, retrying transient
// failures. The cancellation itself is confirmed asynchronously through
// Updates.
func (v *AlpacaVenue) CancelOrder(ctx context.Context, orderID string) error {
	v.mu.Lock()
	venueID, ok := v.venueID[orderID]
	v.mu.Unlock()
	if !ok {
		return fmt.Errorf("cancel %s: unknown order", orderID)
	}

	return util.Retry(ctx, 3, 250*time.Millisecond, func() error {
		if err := v.limiter.Wait(ctx); err != nil {
			return err
		}
		return v.client.CancelOrder(venueID)
	})
}

// Updates returns the normalized trade-update stream.
func (v *AlpacaVenue) Updates() <-chan Update {
	return v.updates
}

// Close stops the trade-update stream.
func (v *AlpacaVenue) Close() error {
	v.cancelStream()
	return nil
}

// onTradeUpdate translates one venue event into an Update. Partial fills
// carry fills with no status; only terminal events set one.
func (v *AlpacaVenue) onTradeUpdate(tu alpaca.TradeUpdate) {
	v.mu.Lock()
	localID, ok := v.local[tu.Order.ClientOrderID]
	if ok && v.venueID[localID] == "" {
		v.venueID[localID] = tu.Order.ID
	}
	symbol := v.symbol[localID]
	v.mu.Unlock()
	if !ok {
		v.log.Warn("trade update for unknown order",
			slog.String("venue_order_id", tu.Order.ID),
			slog.String("event", tu.Event))
		return
	}

	upd := Update{OrderID: localID, Symbol: symbol}

	switch tu.Event {
	case "fill", "partial_fill":
		if tu.Qty != nil && tu.Price != nil {
			qty, _ := tu.Qty.Float64()
			price, _ := tu.Price.Float64()
			upd.Fills = []domain.Fill{{
				OrderID:   localID,
				Symbol:    symbol,
				Side:      domainSide(tu.Order.Side),
				Qty:       qty,
				Price:     price,
				Timestamp: tu.At,
			}}
		}
		if tu.Event == "fill" {
			upd.Status = domain.OrderStatusFilled
		}
	case "canceled", "expired", "done_for_day":
		upd.Status = domain.OrderStatusCancelled
	case "rejected":
		upd.Status = domain.OrderStatusRejected
	default:
		// new, replaced, pending events carry no state the engine tracks.
		return
	}

	select {
	case v.updates <- upd:
	default:
		// Full buffer means no consumer is draining; blocking here would
		// wedge the SDK's stream goroutine.
		v.log.Warn("dropping trade update, buffer full",
			slog.String("order_id", localID),
			slog.String("event", tu.Event))
	}
}

func (v *AlpacaVenue) forget(clientOrderID, localID string) {
	v.mu.Lock()
	delete(v.local, clientOrderID)
	delete(v.venueID, localID)
	delete(v.symbol, localID)
	v.mu.Unlock()
}

func decimalPtr(f float64) *decimal.Decimal {
	d := decimal.NewFromFloat(f)
	return &d
}

func alpacaSide(side domain.OrderSide) alpaca.Side {
	if side == domain.OrderSideSell {
		return alpaca.Sell
	}
	return alpaca.Buy
}

func alpacaType(typ domain.OrderType) alpaca.OrderType {
	if typ == domain.OrderTypeLimit {
		return alpaca.Limit
	}
	return alpaca.Market
}

func domainSide(side alpaca.Side) domain.OrderSide {
	if side == alpaca.Sell {
		return domain.OrderSideSell
	}
	return domain.OrderSideBuy
}
