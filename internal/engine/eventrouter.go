package engine

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"polymarket-mm/internal/exchange"
	"polymarket-mm/internal/market"
	"polymarket-mm/internal/state"
	"polymarket-mm/pkg/types"
)

// Reconciler is the subset of reconcile.Reconciler the router needs: an
// out-of-cycle refresh when a trade fails on-chain after being applied
// optimistically.
type Reconciler interface {
	TriggerNow(ctx context.Context)
}

// EventRouter is the EventRouter (C7): it dispatches the four WS event
// kinds into the stores that own that state, then triggers a TradingEngine
// pass for the affected market. Book/price_change events never block the
// WS read loop — a pass is kicked off in its own goroutine, and
// TradingEngine's own per-market lock serializes passes for the same
// market.
type EventRouter struct {
	book      *market.Store
	positions *state.PositionStore
	orders    *state.OrderStore
	pending   *state.PendingTracker
	markets   *state.MarketConfigStore
	trading   *TradingEngine
	reconcile Reconciler
	auth      *exchange.Auth

	failedTradeDelay time.Duration

	logger *slog.Logger

	warnedMu sync.Mutex
	warned   map[string]bool
}

// NewEventRouter wires an EventRouter to its stores and the TradingEngine
// it triggers.
func NewEventRouter(
	book *market.Store,
	positions *state.PositionStore,
	orders *state.OrderStore,
	pending *state.PendingTracker,
	markets *state.MarketConfigStore,
	trading *TradingEngine,
	reconciler Reconciler,
	auth *exchange.Auth,
	logger *slog.Logger,
) *EventRouter {
	return &EventRouter{
		book:             book,
		positions:        positions,
		orders:           orders,
		pending:          pending,
		markets:          markets,
		trading:          trading,
		reconcile:        reconciler,
		auth:             auth,
		failedTradeDelay: 2 * time.Second,
		logger:           logger.With("component", "event_router"),
		warned:           make(map[string]bool),
	}
}

// Run drains both WS feeds until ctx is cancelled or either channel closes.
func (r *EventRouter) Run(ctx context.Context, marketFeed, userFeed *exchange.WSFeed) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-marketFeed.BookEvents():
			if !ok {
				return nil
			}
			r.handleBook(ctx, event)

		case event, ok := <-marketFeed.PriceChangeEvents():
			if !ok {
				return nil
			}
			r.handlePriceChange(ctx, event)

		case event, ok := <-userFeed.TradeEvents():
			if !ok {
				return nil
			}
			r.handleTrade(ctx, event)

		case event, ok := <-userFeed.OrderEvents():
			if !ok {
				return nil
			}
			r.handleOrder(event)
		}
	}
}

func (r *EventRouter) handleBook(ctx context.Context, event types.WSBookEvent) {
	if err := r.book.ApplyBookEvent(event); err != nil {
		r.logger.Warn("apply book event failed", "asset", event.AssetID, "error", err)
		return
	}
	r.triggerTrade(ctx, event.Market)
}

func (r *EventRouter) handlePriceChange(ctx context.Context, event types.WSPriceChangeEvent) {
	for _, pc := range event.PriceChanges {
		price, err := decimal.NewFromString(pc.Price)
		if err != nil {
			r.logger.Warn("price_change with unparseable price", "asset", pc.AssetID, "price", pc.Price, "error", err)
			continue
		}
		size, err := decimal.NewFromString(pc.Size)
		if err != nil {
			r.logger.Warn("price_change with unparseable size", "asset", pc.AssetID, "size", pc.Size, "error", err)
			continue
		}
		side := types.BUY
		if pc.Side == "SELL" {
			side = types.SELL
		}
		r.book.ApplyDelta(pc.AssetID, side, price, size)
	}
	r.triggerTrade(ctx, event.Market)
}

// triggerTrade kicks off one TradingEngine pass for conditionID in its own
// goroutine. Unknown markets (not (yet) present in MarketConfigStore) are
// logged once, not on every event — spec Open Question i.
func (r *EventRouter) triggerTrade(ctx context.Context, conditionID string) {
	if conditionID == "" {
		return
	}
	if _, ok := r.markets.Market(conditionID); !ok {
		r.warnUnknownOnce(conditionID)
		return
	}
	go r.trading.Run(ctx, conditionID)
}

func (r *EventRouter) warnUnknownOnce(conditionID string) {
	r.warnedMu.Lock()
	defer r.warnedMu.Unlock()
	if r.warned[conditionID] {
		return
	}
	r.warned[conditionID] = true
	r.logger.Warn("event for unknown market, skipping trade pass", "market", conditionID)
}

// handleTrade updates PositionStore and PendingTracker for a fill. Maker
// fills (where one of the trade's maker_orders belongs to our own address)
// apply with the order's own side; taker fills (our account crossed the
// book directly) apply with the trade's reported side.
func (r *EventRouter) handleTrade(ctx context.Context, event types.WSTradeEvent) {
	size, err := decimal.NewFromString(event.Size)
	if err != nil {
		r.logger.Warn("trade event with unparseable size", "trade_id", event.ID, "size", event.Size, "error", err)
		return
	}
	price, err := decimal.NewFromString(event.Price)
	if err != nil {
		r.logger.Warn("trade event with unparseable price", "trade_id", event.ID, "price", event.Price, "error", err)
		return
	}

	side := types.Side(event.Side)
	if r.isOwnMakerFill(event) {
		// We were the resting order; our side is the opposite of the
		// trade's reported (taker) side.
		side = side.Opposite()
	}

	col := state.Col(event.AssetID, strings.ToLower(string(side)))

	switch event.Status {
	case "MATCHED":
		r.positions.ApplyFill(event.AssetID, side, size, price)
		r.pending.Add(col, event.ID, time.Now())

	case "CONFIRMED", "MINED":
		r.pending.Remove(col, event.ID)

	case "FAILED":
		r.pending.Remove(col, event.ID)
		r.logger.Warn("trade failed on-chain after optimistic fill, scheduling early reconcile", "trade_id", event.ID, "asset", event.AssetID)
		time.AfterFunc(r.failedTradeDelay, func() {
			r.reconcile.TriggerNow(ctx)
		})

	default:
		r.logger.Warn("trade event with unrecognized status", "trade_id", event.ID, "status", event.Status)
	}
}

// isOwnMakerFill reports whether our address appears among the trade's
// maker_orders, meaning we were resting and the counterparty took.
func (r *EventRouter) isOwnMakerFill(event types.WSTradeEvent) bool {
	if r.auth == nil {
		return false
	}
	own := strings.ToLower(r.auth.FunderAddress().Hex())
	for _, maker := range event.MakerOrders {
		if strings.ToLower(maker.MakerAddress) == own {
			return true
		}
	}
	return false
}

// handleOrder keeps OrderStore's resting-order snapshot in sync with order
// lifecycle events (placement, partial fill, cancellation).
func (r *EventRouter) handleOrder(event types.WSOrderEvent) {
	side := types.Side(event.Side)

	if event.Status == "CANCELLED" {
		r.orders.Set(event.AssetID, side, decimal.Zero, decimal.Zero, "")
		return
	}

	price, err := decimal.NewFromString(event.Price)
	if err != nil {
		r.logger.Warn("order event with unparseable price", "order_id", event.ID, "price", event.Price, "error", err)
		return
	}
	original, err := decimal.NewFromString(event.OriginalSize)
	if err != nil {
		r.logger.Warn("order event with unparseable size", "order_id", event.ID, "size", event.OriginalSize, "error", err)
		return
	}
	matched, err := decimal.NewFromString(event.SizeMatched)
	if err != nil {
		matched = decimal.Zero
	}

	remaining := original.Sub(matched)
	if !remaining.IsPositive() {
		r.orders.Set(event.AssetID, side, decimal.Zero, decimal.Zero, "")
		return
	}
	r.orders.Set(event.AssetID, side, remaining, price, event.ID)
}
