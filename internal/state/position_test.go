package state

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"polymarket-mm/pkg/types"
)

func TestApplyFillWeightedAverageOnBuy(t *testing.T) {
	t.Parallel()
	s := NewPositionStore()

	s.ApplyFill("tok", types.BUY, d("10"), d("0.50"))
	pos := s.ApplyFill("tok", types.BUY, d("10"), d("0.60"))

	if !pos.Size.Equal(d("20")) {
		t.Fatalf("size = %v, want 20", pos.Size)
	}
	if !pos.AvgPrice.Equal(d("0.55")) {
		t.Fatalf("avgPrice = %v, want 0.55", pos.AvgPrice)
	}
}

func TestApplyFillSellLeavesAvgPriceUnchanged(t *testing.T) {
	t.Parallel()
	s := NewPositionStore()

	s.ApplyFill("tok", types.BUY, d("10"), d("0.50"))
	pos := s.ApplyFill("tok", types.SELL, d("4"), d("0.90"))

	if !pos.Size.Equal(d("6")) {
		t.Fatalf("size = %v, want 6", pos.Size)
	}
	if !pos.AvgPrice.Equal(d("0.50")) {
		t.Fatalf("avgPrice = %v, want unchanged 0.50", pos.AvgPrice)
	}
}

func TestReconcileAvgOnlyGuardedKeepsSize(t *testing.T) {
	t.Parallel()
	s := NewPositionStore()
	s.ApplyFill("tok", types.BUY, d("10"), d("0.50"))

	s.Reconcile("tok", d("999"), d("0.70"), true, false)

	pos := s.Get("tok")
	if !pos.Size.Equal(d("10")) {
		t.Fatalf("size = %v, want unchanged 10", pos.Size)
	}
	if !pos.AvgPrice.Equal(d("0.70")) {
		t.Fatalf("avgPrice = %v, want overwritten to 0.70", pos.AvgPrice)
	}
}

func TestReconcileAvgOnlyUnguardedOverwritesSize(t *testing.T) {
	t.Parallel()
	s := NewPositionStore()
	s.ApplyFill("tok", types.BUY, d("10"), d("0.50"))

	s.Reconcile("tok", d("999"), d("0.70"), true, true)

	pos := s.Get("tok")
	if !pos.Size.Equal(d("999")) {
		t.Fatalf("size = %v, want overwritten to 999", pos.Size)
	}
}

func TestReconcileFullPullAlwaysOverwritesSize(t *testing.T) {
	t.Parallel()
	s := NewPositionStore()
	s.ApplyFill("tok", types.BUY, d("10"), d("0.50"))

	s.Reconcile("tok", d("3"), d("0.40"), false, false)

	pos := s.Get("tok")
	if !pos.Size.Equal(d("3")) {
		t.Fatalf("size = %v, want overwritten to 3 on cold-start pull", pos.Size)
	}
}

func TestRecentlyTraded(t *testing.T) {
	t.Parallel()
	s := NewPositionStore()

	if s.RecentlyTraded("tok", time.Now(), 5*time.Second) {
		t.Error("token with no fills should not be recently traded")
	}

	s.ApplyFill("tok", types.BUY, d("1"), d("0.5"))
	if !s.RecentlyTraded("tok", time.Now(), 5*time.Second) {
		t.Error("token just filled should be recently traded")
	}
	if s.RecentlyTraded("tok", time.Now().Add(-10*time.Second), 5*time.Second) {
		t.Error("a past 'now' ten seconds before the fill should not count as recent")
	}
}

func TestGetMissingTokenIsZeroValue(t *testing.T) {
	t.Parallel()
	s := NewPositionStore()
	pos := s.Get("unknown")
	if !pos.Size.Equal(decimal.Zero) || !pos.AvgPrice.Equal(decimal.Zero) {
		t.Errorf("expected zero position, got %+v", pos)
	}
}
