// Package market provides the local order-book mirror for the engine.
//
// Book maintains sorted bid/ask ladders per asset (token), updated from two
// sources:
//   - REST snapshots via ApplyBookResponse (initial load)
//   - WebSocket events via ApplyBookEvent (full snapshots) and ApplyDelta /
//     ApplyPriceChangeEvent (incremental deltas)
//
// Prices and sizes are decimal.Decimal throughout — this is a CLOB with a
// fixed tick grid, and float64 accumulation error has no place in it.
package market

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"polymarket-mm/pkg/types"
)

// Level is a single resting price level.
type Level struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// ladder is a price-sorted (ascending) list of resting levels for one side
// of one asset's book. Zero-size levels are never stored.
type ladder struct {
	levels []Level // ascending by Price
}

func (l *ladder) indexOf(price decimal.Decimal) (int, bool) {
	i := sort.Search(len(l.levels), func(i int) bool {
		return !l.levels[i].Price.LessThan(price)
	})
	if i < len(l.levels) && l.levels[i].Price.Equal(price) {
		return i, true
	}
	return i, false
}

// set applies apply_delta semantics: size==0 removes the level, else the
// level is inserted or updated in place.
func (l *ladder) set(price, size decimal.Decimal) {
	i, found := l.indexOf(price)
	if size.IsZero() {
		if found {
			l.levels = append(l.levels[:i], l.levels[i+1:]...)
		}
		return
	}
	if found {
		l.levels[i].Size = size
		return
	}
	l.levels = append(l.levels, Level{})
	copy(l.levels[i+1:], l.levels[i:])
	l.levels[i] = Level{Price: price, Size: size}
}

// replace discards all levels and loads a fresh sorted set, dropping any
// zero-size entries (apply_snapshot invariant: no zero-size levels).
func (l *ladder) replace(levels []Level) {
	out := make([]Level, 0, len(levels))
	for _, lv := range levels {
		if !lv.Size.IsZero() {
			out = append(out, lv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Price.LessThan(out[j].Price) })
	l.levels = out
}

// bestFirst returns levels in best-first order: descending for bids
// (highest price is best), ascending for asks (lowest price is best). isBid
// selects which traversal direction by reporting whether this ladder
// represents the bid side.
func (l *ladder) bestFirst(isBid bool) []Level {
	if !isBid {
		return l.levels
	}
	out := make([]Level, len(l.levels))
	for i, lv := range l.levels {
		out[i] = l.levels[len(l.levels)-1-i]
		_ = lv
	}
	return out
}

func (l *ladder) top(isBid bool) (Level, bool) {
	if len(l.levels) == 0 {
		return Level{}, false
	}
	if isBid {
		return l.levels[len(l.levels)-1], true
	}
	return l.levels[0], true
}

func (l *ladder) depthWithin(lo, hi decimal.Decimal) decimal.Decimal {
	sum := decimal.Zero
	for _, lv := range l.levels {
		if lv.Price.GreaterThanOrEqual(lo) && lv.Price.LessThanOrEqual(hi) {
			sum = sum.Add(lv.Size)
		}
	}
	return sum
}

// assetBook is one token's bid/ask ladders.
type assetBook struct {
	bids ladder
	asks ladder
}

// BestLevels is the result of a min-size-filtered top-of-book query, per
// spec §4.1 best_with_min_size. Any field may be nil when the book is thin.
type BestLevels struct {
	BestPrice       *decimal.Decimal
	BestSize        *decimal.Decimal
	SecondBestPrice *decimal.Decimal
	SecondBestSize  *decimal.Decimal
	TopPrice        *decimal.Decimal
}

// Store is the OrderBookStore (C1): per-asset sorted bid/ask ladders with
// fast best-of-size queries. Safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	assets  map[string]*assetBook
	updated map[string]time.Time
}

// NewStore creates an empty OrderBookStore.
func NewStore() *Store {
	return &Store{
		assets:  make(map[string]*assetBook),
		updated: make(map[string]time.Time),
	}
}

func (s *Store) bookFor(asset string) *assetBook {
	b, ok := s.assets[asset]
	if !ok {
		b = &assetBook{}
		s.assets[asset] = b
	}
	return b
}

// ApplySnapshot replaces both ladders for asset atomically.
func (s *Store) ApplySnapshot(asset string, bids, asks []Level) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.bookFor(asset)
	b.bids.replace(bids)
	b.asks.replace(asks)
	s.updated[asset] = time.Now()
}

// ApplyBookEvent applies a WS full-book snapshot event.
func (s *Store) ApplyBookEvent(event types.WSBookEvent) error {
	bids, err := levelsFromWire(event.Bids)
	if err != nil {
		return err
	}
	asks, err := levelsFromWire(event.Asks)
	if err != nil {
		return err
	}
	s.ApplySnapshot(event.AssetID, bids, asks)
	return nil
}

// ApplyBookResponse applies a REST book response (initial load).
func (s *Store) ApplyBookResponse(resp *types.BookResponse) error {
	bids, err := levelsFromWire(resp.Bids)
	if err != nil {
		return err
	}
	asks, err := levelsFromWire(resp.Asks)
	if err != nil {
		return err
	}
	s.ApplySnapshot(resp.AssetID, bids, asks)
	return nil
}

// ApplyDelta applies a single apply_delta: if size==0, remove; else set.
// side is BUY for the bid ladder, SELL for the ask ladder (matches the
// price_change wire event's side field).
func (s *Store) ApplyDelta(asset string, side types.Side, price, size decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.bookFor(asset)
	if side == types.BUY {
		b.bids.set(price, size)
	} else {
		b.asks.set(price, size)
	}
	s.updated[asset] = time.Now()
}

// ApplyPriceChangeEvent applies every delta in a price_change event to asset.
func (s *Store) ApplyPriceChangeEvent(asset string, event types.WSPriceChangeEvent) error {
	for _, pc := range event.PriceChanges {
		price, err := decimal.NewFromString(pc.Price)
		if err != nil {
			return err
		}
		size, err := decimal.NewFromString(pc.Size)
		if err != nil {
			return err
		}
		side := types.BUY
		if pc.Side == "SELL" {
			side = types.SELL
		}
		s.ApplyDelta(asset, side, price, size)
	}
	return nil
}

// BestWithMinSize walks side in best-first order and returns the first
// level whose size strictly exceeds minSize as "best"; the very next level
// in iteration order (regardless of its size) as "second_best"; and the
// unconditional top-of-book as "top". Any field is nil if absent.
func (s *Store) BestWithMinSize(asset string, side types.Side, minSize decimal.Decimal) BestLevels {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.assets[asset]
	var res BestLevels
	if !ok {
		return res
	}

	isBid := side == types.BUY
	var l *ladder
	if isBid {
		l = &b.bids
	} else {
		l = &b.asks
	}

	if top, ok := l.top(isBid); ok {
		p := top.Price
		res.TopPrice = &p
	}

	ordered := l.bestFirst(isBid)
	for i, lv := range ordered {
		if lv.Size.GreaterThan(minSize) {
			p, sz := lv.Price, lv.Size
			res.BestPrice, res.BestSize = &p, &sz
			if i+1 < len(ordered) {
				p2, sz2 := ordered[i+1].Price, ordered[i+1].Size
				res.SecondBestPrice, res.SecondBestSize = &p2, &sz2
			}
			break
		}
	}
	return res
}

// DepthWithin sums resting size on side within [lo, hi] inclusive.
func (s *Store) DepthWithin(asset string, side types.Side, lo, hi decimal.Decimal) decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.assets[asset]
	if !ok {
		return decimal.Zero
	}
	if side == types.BUY {
		return b.bids.depthWithin(lo, hi)
	}
	return b.asks.depthWithin(lo, hi)
}

// Touch returns the unconditional best bid and best ask for asset (no
// min-size filter), used for reference pricing and staleness checks.
func (s *Store) Touch(asset string) (bid, ask decimal.Decimal, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, exists := s.assets[asset]
	if !exists {
		return decimal.Zero, decimal.Zero, false
	}
	topBid, okBid := b.bids.top(true)
	topAsk, okAsk := b.asks.top(false)
	if !okBid || !okAsk {
		return decimal.Zero, decimal.Zero, false
	}
	return topBid.Price, topAsk.Price, true
}

// IsStale returns true if asset hasn't received an update within maxAge.
func (s *Store) IsStale(asset string, maxAge time.Duration) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.updated[asset]
	if !ok {
		return true
	}
	return time.Since(t) > maxAge
}

// LastUpdated returns the timestamp of the last update to asset's book.
func (s *Store) LastUpdated(asset string) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updated[asset]
}

func levelsFromWire(raw []types.PriceLevel) ([]Level, error) {
	out := make([]Level, 0, len(raw))
	for _, pl := range raw {
		price, err := decimal.NewFromString(pl.Price)
		if err != nil {
			return nil, err
		}
		size, err := decimal.NewFromString(pl.Size)
		if err != nil {
			return nil, err
		}
		out = append(out, Level{Price: price, Size: size})
	}
	return out, nil
}

// MirrorPrice maps a price from one leg of a binary market into the other
// leg's price space by the transform p' = 1-p, per spec §4.8(b).
func MirrorPrice(p decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(1).Sub(p)
}
