// Package state holds the engine's per-token process-global stores:
// PositionStore, OrderStore, PendingTracker, and MarketConfigStore. Every
// store is behind method receivers on an explicit struct — there are no
// package-level globals — and exposes read-only snapshots to decision code,
// with mutations only through the methods below.
package state

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"polymarket-mm/pkg/types"
)

// Position is a single token's signed size and volume-weighted average
// entry price.
type Position struct {
	Size     decimal.Decimal `json:"size"`
	AvgPrice decimal.Decimal `json:"avgPrice"`
}

// PositionStore is the PositionStore (C2): per-token {size, avgPrice} with
// merge-aware updates. avgPrice only moves on net buys; sells and merges
// (modeled as a zero-price sell) leave it untouched.
type PositionStore struct {
	mu              sync.RWMutex
	positions       map[string]Position
	lastTradeUpdate map[string]time.Time
}

// NewPositionStore creates an empty PositionStore.
func NewPositionStore() *PositionStore {
	return &PositionStore{
		positions:       make(map[string]Position),
		lastTradeUpdate: make(map[string]time.Time),
	}
}

// Get returns token's position, or the zero position if none is recorded.
func (s *PositionStore) Get(token string) Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.positions[token]
}

// ApplyFill applies a fill with increment semantics: BUY adds +size, SELL
// adds -size. avgPrice is the weighted average across additive buys only;
// a merge is modeled by the caller as a SELL of the merged amount at
// price 0, which (per the sell rule) leaves avgPrice unchanged.
func (s *PositionStore) ApplyFill(token string, side types.Side, size, price decimal.Decimal) Position {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastTradeUpdate[token] = time.Now()

	signed := size
	if side == types.SELL {
		signed = size.Neg()
	}

	prev := s.positions[token]
	var newAvg decimal.Decimal
	switch {
	case signed.IsPositive():
		if prev.Size.IsZero() {
			newAvg = price
		} else {
			num := prev.AvgPrice.Mul(prev.Size).Add(price.Mul(signed))
			den := prev.Size.Add(signed)
			newAvg = num.Div(den)
		}
	default:
		// sell or zero-size fill: avgPrice unchanged
		newAvg = prev.AvgPrice
	}

	updated := Position{Size: prev.Size.Add(signed), AvgPrice: newAvg}
	s.positions[token] = updated
	return updated
}

// Reconcile applies a REST snapshot pull. avgPrice is always overwritten.
// size is only overwritten when avgOnly is requested AND sizeUnguarded is
// true — the caller (Reconciler) computes sizeUnguarded from
// PendingTracker emptiness plus the 5s post-trade grace window per §4.2.
// When avgOnly is false, size is always overwritten (a cold-start full
// pull).
func (s *PositionStore) Reconcile(token string, exchangeSize, exchangeAvg decimal.Decimal, avgOnly, sizeUnguarded bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.positions[token]
	prev.AvgPrice = exchangeAvg

	if !avgOnly {
		prev.Size = exchangeSize
	} else if sizeUnguarded {
		prev.Size = exchangeSize
	}
	s.positions[token] = prev
}

// SetPosition restores a position directly (used to seed state from
// persisted/initial REST data at startup, bypassing fill semantics).
func (s *PositionStore) SetPosition(token string, pos Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[token] = pos
}

// LastTradeUpdate returns the last ApplyFill time for token, and whether
// one has ever occurred.
func (s *PositionStore) LastTradeUpdate(token string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.lastTradeUpdate[token]
	return t, ok
}

// RecentlyTraded reports whether token had a fill within window of now.
func (s *PositionStore) RecentlyTraded(token string, now time.Time, window time.Duration) bool {
	t, ok := s.LastTradeUpdate(token)
	if !ok {
		return false
	}
	return now.Sub(t) < window
}
