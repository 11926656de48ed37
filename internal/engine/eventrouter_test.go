package engine

import (
	"context"
	"testing"
	"time"

	"polymarket-mm/internal/config"
	"polymarket-mm/internal/exchange"
	"polymarket-mm/internal/state"
	"polymarket-mm/pkg/types"
)

const testFunderAddr = "0x00000000000000000000000000000000000000Aa"

func testAuth(t *testing.T) *exchange.Auth {
	t.Helper()
	cfg := config.Config{
		Wallet: config.WalletConfig{
			PrivateKey:    "0000000000000000000000000000000000000000000000000000000000000001",
			FunderAddress: testFunderAddr,
			ChainID:       137,
		},
		Chain: config.ChainConfig{
			ExchangeAddress:     "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E",
			NegRiskExchangeAddr: "0xC5d563A36AE78145C45a50134d48A1215220f80a",
		},
	}
	auth, err := exchange.NewAuth(cfg)
	if err != nil {
		t.Fatalf("new auth: %v", err)
	}
	return auth
}

// fakeReconciler stands in for reconcile.Reconciler: it just records how
// many times TriggerNow fired.
type fakeReconciler struct {
	triggered int
}

func (f *fakeReconciler) TriggerNow(ctx context.Context) {
	f.triggered++
}

func newTestRouter(t *testing.T, reconciler Reconciler) (*EventRouter, *state.PositionStore, *state.OrderStore, *state.PendingTracker) {
	t.Helper()
	adapter := &fakeAdapter{}
	e, book, positions, orders, markets := newTestEngine(t, adapter)
	pending := state.NewPendingTracker()
	router := NewEventRouter(book, positions, orders, pending, markets, e, reconciler, testAuth(t), testLogger())
	return router, positions, orders, pending
}

// TestHandleTradeAppliesTakerFillWithReportedSide covers the ordinary
// (non-maker) path: our account crossed the book directly, so the
// position applies with the trade's own reported side.
func TestHandleTradeAppliesTakerFillWithReportedSide(t *testing.T) {
	t.Parallel()
	router, positions, _, pending := newTestRouter(t, &fakeReconciler{})

	event := types.WSTradeEvent{
		ID:      "trade-1",
		Status:  "MATCHED",
		AssetID: "tok-yes",
		Side:    "BUY",
		Size:    "10",
		Price:   "0.40",
	}
	router.handleTrade(context.Background(), event)

	pos := positions.Get("tok-yes")
	if !pos.Size.Equal(d("10")) {
		t.Errorf("size = %v, want 10", pos.Size)
	}
	if pending.IsEmpty(state.Col("tok-yes", "buy")) {
		t.Error("expected pending tracker entry for the in-flight trade")
	}
}

// TestHandleTradeFlipsSideForOwnMakerFill covers isOwnMakerFill: when our
// funder address appears among the trade's maker_orders, we were resting
// and must apply the fill with the opposite of the trade's reported
// (taker) side.
func TestHandleTradeFlipsSideForOwnMakerFill(t *testing.T) {
	t.Parallel()
	router, positions, _, _ := newTestRouter(t, &fakeReconciler{})

	event := types.WSTradeEvent{
		ID:      "trade-2",
		Status:  "MATCHED",
		AssetID: "tok-yes",
		Side:    "BUY", // taker bought; we were the resting seller
		Size:    "10",
		Price:   "0.40",
		MakerOrders: []types.WSMakerOrder{
			{MakerAddress: testFunderAddr},
		},
	}
	router.handleTrade(context.Background(), event)

	pos := positions.Get("tok-yes")
	if !pos.Size.Equal(d("-10")) {
		t.Errorf("size = %v, want -10 (we were the maker seller, not the buyer)", pos.Size)
	}
}

// TestHandleTradeFailedStatusSchedulesReconcile checks the FAILED-trade
// path: a trade that fails on-chain after an optimistic fill must clear
// its pending entry and schedule an out-of-cycle reconcile.
func TestHandleTradeFailedStatusSchedulesReconcile(t *testing.T) {
	t.Parallel()
	reconciler := &fakeReconciler{}
	router, _, _, pending := newTestRouter(t, reconciler)
	router.failedTradeDelay = time.Millisecond

	pending.Add(state.Col("tok-yes", "buy"), "trade-3", time.Now())

	event := types.WSTradeEvent{
		ID:      "trade-3",
		Status:  "FAILED",
		AssetID: "tok-yes",
		Side:    "BUY",
		Size:    "10",
		Price:   "0.40",
	}
	router.handleTrade(context.Background(), event)

	if !pending.IsEmpty(state.Col("tok-yes", "buy")) {
		t.Error("expected pending entry removed immediately on FAILED status")
	}

	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		if reconciler.triggered > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if reconciler.triggered == 0 {
		t.Error("expected TriggerNow to fire after failedTradeDelay")
	}
}

// TestIsOwnMakerFillCaseInsensitive confirms address comparison ignores
// hex-digit case, since the WS payload and our own address are not
// guaranteed to share a canonical casing.
func TestIsOwnMakerFillCaseInsensitive(t *testing.T) {
	t.Parallel()
	router, _, _, _ := newTestRouter(t, &fakeReconciler{})

	event := types.WSTradeEvent{
		MakerOrders: []types.WSMakerOrder{
			{MakerAddress: "0x00000000000000000000000000000000000000aa"},
		},
	}
	if !router.isOwnMakerFill(event) {
		t.Error("expected case-insensitive match against FunderAddress")
	}
}

// TestHandleOrderTracksRemainingSizeAndClearsOnCancel covers handleOrder:
// a live order is recorded with its remaining (original - matched) size,
// and a CANCELLED status zeroes the side regardless of payload fields.
func TestHandleOrderTracksRemainingSizeAndClearsOnCancel(t *testing.T) {
	t.Parallel()
	router, _, orders, _ := newTestRouter(t, &fakeReconciler{})

	router.handleOrder(types.WSOrderEvent{
		ID:           "order-1",
		AssetID:      "tok-yes",
		Side:         "BUY",
		Status:       "LIVE",
		Price:        "0.40",
		OriginalSize: "100",
		SizeMatched:  "30",
	})
	o := orders.Get("tok-yes")
	if !o.Buy.Size.Equal(d("70")) || o.Buy.OrderID != "order-1" {
		t.Fatalf("expected remaining size 70, got %+v", o.Buy)
	}

	router.handleOrder(types.WSOrderEvent{
		ID:      "order-1",
		AssetID: "tok-yes",
		Side:    "BUY",
		Status:  "CANCELLED",
	})
	o = orders.Get("tok-yes")
	if o.Buy.OrderID != "" || !o.Buy.Size.IsZero() {
		t.Fatalf("expected buy side cleared after cancellation, got %+v", o.Buy)
	}
}

// TestTriggerTradeSkipsUnknownMarketWithoutPanicking covers the
// unknown-market guard: an event for a conditionID absent from
// MarketConfigStore must warn once and never call TradingEngine.Run.
func TestTriggerTradeSkipsUnknownMarketWithoutPanicking(t *testing.T) {
	t.Parallel()
	router, _, _, _ := newTestRouter(t, &fakeReconciler{})

	router.triggerTrade(context.Background(), "unknown-condition")
	router.triggerTrade(context.Background(), "unknown-condition") // second call exercises the "warned once" map

	if !router.warned["unknown-condition"] {
		t.Error("expected unknown market recorded in the warned-once set")
	}
}
