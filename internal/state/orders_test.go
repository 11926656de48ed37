package state

import (
	"testing"

	"polymarket-mm/pkg/types"
)

func TestOrderStoreSetPreservesOtherSide(t *testing.T) {
	t.Parallel()
	s := NewOrderStore()

	s.Set("tok", types.BUY, d("100"), d("0.45"), "buy-order-1")
	s.Set("tok", types.SELL, d("50"), d("0.55"), "sell-order-1")

	o := s.Get("tok")
	if !o.Buy.Price.Equal(d("0.45")) || !o.Buy.Size.Equal(d("100")) {
		t.Errorf("buy side = %+v, want price 0.45 size 100", o.Buy)
	}
	if !o.Sell.Price.Equal(d("0.55")) || !o.Sell.Size.Equal(d("50")) {
		t.Errorf("sell side = %+v, want price 0.55 size 50", o.Sell)
	}

	// Updating buy again must not clobber sell.
	s.Set("tok", types.BUY, d("80"), d("0.44"), "buy-order-2")
	o = s.Get("tok")
	if !o.Sell.Price.Equal(d("0.55")) || !o.Sell.Size.Equal(d("50")) {
		t.Errorf("sell side clobbered by buy-side Set: %+v", o.Sell)
	}
}

func TestOrderStoreReset(t *testing.T) {
	t.Parallel()
	s := NewOrderStore()
	s.Set("tok", types.BUY, d("100"), d("0.45"), "buy-order-1")
	s.Reset("tok")

	o := s.Get("tok")
	if !o.Buy.Size.IsZero() {
		t.Errorf("expected zeroed order after Reset, got %+v", o)
	}
}

func TestRefreshFromExchangeSingleOrderPerSide(t *testing.T) {
	t.Parallel()
	s := NewOrderStore()

	needsCancel, _ := s.RefreshFromExchange([]ExchangeOrderRow{
		{Token: "tok", Side: types.BUY, Price: d("0.45"), OriginalSize: d("100"), SizeMatched: d("20")},
		{Token: "tok", Side: types.SELL, Price: d("0.55"), OriginalSize: d("50"), SizeMatched: d("0")},
	})
	if len(needsCancel) != 0 {
		t.Fatalf("expected no inconsistency, got %v", needsCancel)
	}

	o := s.Get("tok")
	if !o.Buy.Size.Equal(d("80")) {
		t.Errorf("buy remaining size = %v, want 80 (100-20)", o.Buy.Size)
	}
	if !o.Sell.Size.Equal(d("50")) {
		t.Errorf("sell remaining size = %v, want 50", o.Sell.Size)
	}
}

func TestRefreshFromExchangeMultipleOrdersSameSideFlagsCancelAll(t *testing.T) {
	t.Parallel()
	s := NewOrderStore()

	needsCancel, cancelIDs := s.RefreshFromExchange([]ExchangeOrderRow{
		{OrderID: "o1", Token: "tok", Side: types.BUY, Price: d("0.45"), OriginalSize: d("100"), SizeMatched: d("0")},
		{OrderID: "o2", Token: "tok", Side: types.BUY, Price: d("0.44"), OriginalSize: d("50"), SizeMatched: d("0")},
	})
	if len(needsCancel) != 1 || needsCancel[0] != "tok" {
		t.Fatalf("expected cancel-all flagged for tok, got %v", needsCancel)
	}
	if len(cancelIDs) != 2 {
		t.Fatalf("expected both order IDs surfaced for cancellation, got %v", cancelIDs)
	}

	o := s.Get("tok")
	if !o.Buy.Size.IsZero() || !o.Sell.Size.IsZero() {
		t.Errorf("expected zeroed order snapshot after inconsistency, got %+v", o)
	}
}

func TestGetUnknownTokenIsZeroOrder(t *testing.T) {
	t.Parallel()
	s := NewOrderStore()
	o := s.Get("nope")
	if !o.Buy.Size.IsZero() || !o.Sell.Size.IsZero() {
		t.Errorf("expected zero order, got %+v", o)
	}
}
