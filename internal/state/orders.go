package state

import (
	"sync"

	"github.com/shopspring/decimal"

	"polymarket-mm/pkg/types"
)

// OrderSide is a single resting order on one side of one token. OrderID is
// empty when the side has no resting order.
type OrderSide struct {
	OrderID string
	Price   decimal.Decimal
	Size    decimal.Decimal
}

// Order is the snapshot of a token's outstanding {buy,sell} orders.
type Order struct {
	Buy  OrderSide
	Sell OrderSide
}

// ExchangeOrderRow is one row of the open-orders REST response, as parsed
// by the ExchangeAdapter.
type ExchangeOrderRow struct {
	OrderID      string
	Token        string
	Side         types.Side
	Price        decimal.Decimal
	OriginalSize decimal.Decimal
	SizeMatched  decimal.Decimal
}

// OrderStore is the OrderStore (C3): snapshot-oriented view of outstanding
// orders per token. Invariant: at most one resting order per side per
// token — a violation is reported to the caller so it can instruct the
// adapter to cancel-all for that token.
type OrderStore struct {
	mu     sync.RWMutex
	orders map[string]Order
}

// NewOrderStore creates an empty OrderStore.
func NewOrderStore() *OrderStore {
	return &OrderStore{orders: make(map[string]Order)}
}

// Get returns token's current order snapshot, zero-valued if none tracked.
func (s *OrderStore) Get(token string) Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.orders[token]
}

// Set updates one side of token's order snapshot, preserving the other
// side. Called from both the user-event path (order events stream in) and
// TradingEngine (optimistically records a just-placed order before the
// next order event confirms it).
func (s *OrderStore) Set(token string, side types.Side, remainingSize, price decimal.Decimal, orderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o := s.orders[token]
	if side == types.BUY {
		o.Buy = OrderSide{OrderID: orderID, Price: price, Size: remainingSize}
	} else {
		o.Sell = OrderSide{OrderID: orderID, Price: price, Size: remainingSize}
	}
	s.orders[token] = o
}

// Reset zeroes both sides of token's order snapshot (used after a
// cancel-all triggered by an inconsistent-state violation).
func (s *OrderStore) Reset(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[token] = Order{}
}

// RefreshFromExchange groups rows by token and side, keeping one
// (price,size) per side (size = original - matched). Tokens with more than
// one resting order on either side are reset to zero in the store and
// returned to the caller so it can cancel-all for that token; cancelOrderIDs
// carries every order ID belonging to one of those inconsistent tokens so
// the caller can issue the cancellation without a second lookup.
func (s *OrderStore) RefreshFromExchange(rows []ExchangeOrderRow) (needsCancelAll, cancelOrderIDs []string) {
	type bucket struct {
		byToken map[types.Side][]ExchangeOrderRow
	}
	grouped := make(map[string]*bucket)
	for _, r := range rows {
		b, ok := grouped[r.Token]
		if !ok {
			b = &bucket{byToken: make(map[types.Side][]ExchangeOrderRow)}
			grouped[r.Token] = b
		}
		b.byToken[r.Side] = append(b.byToken[r.Side], r)
	}

	next := make(map[string]Order, len(grouped))
	for token, b := range grouped {
		var o Order
		inconsistent := false
		for side, list := range b.byToken {
			if len(list) > 1 {
				inconsistent = true
				continue
			}
			remaining := list[0].OriginalSize.Sub(list[0].SizeMatched)
			if side == types.BUY {
				o.Buy = OrderSide{OrderID: list[0].OrderID, Price: list[0].Price, Size: remaining}
			} else {
				o.Sell = OrderSide{OrderID: list[0].OrderID, Price: list[0].Price, Size: remaining}
			}
		}
		if inconsistent {
			needsCancelAll = append(needsCancelAll, token)
			for _, list := range b.byToken {
				for _, r := range list {
					if r.OrderID != "" {
						cancelOrderIDs = append(cancelOrderIDs, r.OrderID)
					}
				}
			}
			o = Order{}
		}
		next[token] = o
	}

	s.mu.Lock()
	s.orders = next
	s.mu.Unlock()

	return needsCancelAll, cancelOrderIDs
}
