// Package reconcile implements the Reconciler (C6): a single fixed-cadence
// worker that pulls positions, orders, and market config from the exchange
// and reseeds the process-global stores, catching whatever the WebSocket
// event path missed or got out of order.
package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"polymarket-mm/internal/config"
	"polymarket-mm/internal/state"
	"polymarket-mm/pkg/types"
)

// ExchangeAdapter is the subset of exchange.Client the Reconciler needs.
// Defined here (not imported from package exchange) so tests can supply a
// fake without spinning up HTTP.
type ExchangeAdapter interface {
	GetPositions(ctx context.Context) ([]types.PositionRow, error)
	GetOpenOrders(ctx context.Context) ([]types.OpenOrder, error)
	CancelOrders(ctx context.Context, orderIDs []string) (*types.CancelResponse, error)
}

// Reconciler drives the periodic pull described in spec §4.6. It owns no
// lock of its own — PositionStore/OrderStore/PendingTracker/MarketConfigStore
// are all safe for concurrent use from the event-router path.
type Reconciler struct {
	cfg    config.ReconcilerConfig
	client ExchangeAdapter
	source state.TabularSource

	positions *state.PositionStore
	orders    *state.OrderStore
	pending   *state.PendingTracker
	markets   *state.MarketConfigStore

	logger *slog.Logger

	tick int
}

// New creates a Reconciler wired to its stores and the exchange adapter.
func New(
	cfg config.ReconcilerConfig,
	client ExchangeAdapter,
	source state.TabularSource,
	positions *state.PositionStore,
	orders *state.OrderStore,
	pending *state.PendingTracker,
	markets *state.MarketConfigStore,
	logger *slog.Logger,
) *Reconciler {
	return &Reconciler{
		cfg:       cfg,
		client:    client,
		source:    source,
		positions: positions,
		orders:    orders,
		pending:   pending,
		markets:   markets,
		logger:    logger.With("component", "reconciler"),
	}
}

// Run ticks at cfg.TickInterval until ctx is cancelled. A single tick never
// crashes the loop: every exchange call (positions, open orders, cancels) is
// wrapped in retryNetwork, the market-config fetch is tried once, and a
// final failure is logged and skipped until the next tick.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			r.runTick(ctx, now)
		}
	}
}

// TriggerNow runs an out-of-cycle position and order refresh, bypassing the
// tick counter (and so never firing the periodic market-config refresh).
// EventRouter calls this a couple seconds after a trade transitions to
// FAILED: the optimistic fill already applied to PositionStore needs
// correcting sooner than the next regular tick.
func (r *Reconciler) TriggerNow(ctx context.Context) {
	now := time.Now()
	r.refreshPositions(ctx, now)
	r.refreshOrders(ctx)
}

func (r *Reconciler) runTick(ctx context.Context, now time.Time) {
	r.tick++

	if removed := r.pending.GC(now, r.cfg.PendingTTL); len(removed) > 0 {
		r.logger.Info("gc'd stale pending entries", "count", len(removed))
	}

	r.refreshPositions(ctx, now)
	r.refreshOrders(ctx)

	if r.tick%r.cfg.MarketsRefreshEvery == 0 {
		r.refreshMarkets(ctx)
	}
}

func (r *Reconciler) refreshPositions(ctx context.Context, now time.Time) {
	rows, err := retryNetwork(ctx, r.logger, "get_positions", func() ([]types.PositionRow, error) {
		return r.client.GetPositions(ctx)
	})
	if err != nil {
		r.logger.Warn("skipping position refresh this tick", "error", err)
		return
	}

	for _, row := range rows {
		sizeUnguarded := r.pending.BothSidesEmpty(row.Asset) &&
			!r.positions.RecentlyTraded(row.Asset, now, r.cfg.PositionGraceWindow)
		r.positions.Reconcile(row.Asset, row.Size, row.AvgPrice, true, sizeUnguarded)
	}
}

func (r *Reconciler) refreshOrders(ctx context.Context) {
	rows, err := retryNetwork(ctx, r.logger, "get_open_orders", func() ([]types.OpenOrder, error) {
		return r.client.GetOpenOrders(ctx)
	})
	if err != nil {
		r.logger.Warn("skipping order refresh this tick", "error", err)
		return
	}

	exchangeRows := make([]state.ExchangeOrderRow, 0, len(rows))
	for _, row := range rows {
		price, err := decimal.NewFromString(row.Price)
		if err != nil {
			r.logger.Warn("dropping open order with unparseable price", "order_id", row.ID, "price", row.Price)
			continue
		}
		original, err := decimal.NewFromString(row.OriginalSize)
		if err != nil {
			r.logger.Warn("dropping open order with unparseable size", "order_id", row.ID, "size", row.OriginalSize)
			continue
		}
		matched, err := decimal.NewFromString(row.SizeMatched)
		if err != nil {
			matched = decimal.Zero
		}
		exchangeRows = append(exchangeRows, state.ExchangeOrderRow{
			OrderID:      row.ID,
			Token:        row.AssetID,
			Side:         types.Side(row.Side),
			Price:        price,
			OriginalSize: original,
			SizeMatched:  matched,
		})
	}

	needsCancelAll, cancelOrderIDs := r.orders.RefreshFromExchange(exchangeRows)
	if len(needsCancelAll) == 0 {
		return
	}

	r.logger.Warn("inconsistent order state, cancelling", "tokens", needsCancelAll, "order_ids", cancelOrderIDs)
	if _, err := retryNetwork(ctx, r.logger, "cancel_orders", func() (*types.CancelResponse, error) {
		return r.client.CancelOrders(ctx, cancelOrderIDs)
	}); err != nil {
		r.logger.Error("failed to cancel orders for inconsistent tokens", "error", err)
	}
}

func (r *Reconciler) refreshMarkets(ctx context.Context) {
	selected, all, paramRows, err := r.source.Fetch(ctx)
	if err != nil {
		r.logger.Warn("skipping market config refresh this tick", "error", err)
		return
	}

	markets, err := state.ParseMarkets(selected, all)
	if err != nil {
		r.logger.Warn("parse markets failed", "error", err)
		return
	}
	params, err := state.ParseParams(paramRows)
	if err != nil {
		r.logger.Warn("parse params failed", "error", err)
		return
	}

	r.markets.Refresh(markets, params, func(token1, token2 string) {
		r.pending.EnsureBucket(state.Col(token1, "buy"))
		r.pending.EnsureBucket(state.Col(token1, "sell"))
		r.pending.EnsureBucket(state.Col(token2, "buy"))
		r.pending.EnsureBucket(state.Col(token2, "sell"))
	})
}
