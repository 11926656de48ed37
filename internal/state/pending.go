package state

import (
	"sync"
	"time"
)

// PendingTracker is PendingTracker (C4): in-flight matched-but-not-confirmed
// trade IDs, keyed by col = "{token}_{side}", with per-ID timestamps and a
// fixed TTL. While non-empty for a token, the Reconciler must not overwrite
// Position.size for that token from an exchange pull.
type PendingTracker struct {
	mu         sync.Mutex
	ids        map[string]map[string]struct{}
	timestamps map[string]map[string]time.Time
}

// NewPendingTracker creates an empty PendingTracker.
func NewPendingTracker() *PendingTracker {
	return &PendingTracker{
		ids:        make(map[string]map[string]struct{}),
		timestamps: make(map[string]map[string]time.Time),
	}
}

// Col builds the "{token}_{side}" bucket key used throughout the tracker.
func Col(token, side string) string {
	return token + "_" + side
}

// Add records id as in-flight in col, stamped with now.
func (p *PendingTracker) Add(col, id string, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ids[col] == nil {
		p.ids[col] = make(map[string]struct{})
	}
	if p.timestamps[col] == nil {
		p.timestamps[col] = make(map[string]time.Time)
	}
	p.ids[col][id] = struct{}{}
	p.timestamps[col][id] = now
}

// Remove clears id from col. Safe to call when absent.
func (p *PendingTracker) Remove(col, id string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.ids[col], id)
	delete(p.timestamps[col], id)
}

// IsEmpty reports whether col has no in-flight IDs.
func (p *PendingTracker) IsEmpty(col string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ids[col]) == 0
}

// EnsureBucket guarantees col exists (possibly empty), per MarketConfigStore's
// requirement that performing[col] buckets exist for every token x side
// combination once a market is known.
func (p *PendingTracker) EnsureBucket(col string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ids[col] == nil {
		p.ids[col] = make(map[string]struct{})
	}
	if p.timestamps[col] == nil {
		p.timestamps[col] = make(map[string]time.Time)
	}
}

// GC removes every (col,id) whose timestamp is older than ttl relative to
// now. Returns the removed ids for logging.
func (p *PendingTracker) GC(now time.Time, ttl time.Duration) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var removed []string
	for col, ids := range p.timestamps {
		for id, ts := range ids {
			if now.Sub(ts) > ttl {
				removed = append(removed, col+":"+id)
				delete(p.ids[col], id)
				delete(ids, id)
			}
		}
	}
	return removed
}

// BothSidesEmpty reports whether token has no in-flight entries on either
// the buy or sell bucket — the gate PositionStore.Reconcile needs before it
// may overwrite size in avg-only mode.
func (p *PendingTracker) BothSidesEmpty(token string) bool {
	return p.IsEmpty(Col(token, "buy")) && p.IsEmpty(Col(token, "sell"))
}
