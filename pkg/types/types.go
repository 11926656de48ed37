// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the bot — order types, market
// metadata, order book wire shapes, and WebSocket event payloads. It has no
// dependencies on internal packages, so it can be imported by any layer.
package types

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order: BUY or SELL.
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == BUY {
		return SELL
	}
	return BUY
}

// OrderType enumerates the supported order lifecycles.
type OrderType string

const (
	OrderTypeGTC OrderType = "GTC" // Good-Til-Cancelled: stays on book until filled or cancelled
)

// SignatureType identifies the signing scheme for the CTF exchange contract.
type SignatureType int

const (
	SigEOA        SignatureType = 0 // externally-owned account (standard wallet)
	SigProxy      SignatureType = 1 // Polymarket proxy / Magic wallet
	SigGnosisSafe SignatureType = 2 // Gnosis Safe multisig
)

// TickSize represents the price granularity for a market. Polymarket supports
// four tick sizes; each market has a fixed tick size that determines the
// minimum price increment and USDC amount rounding precision.
type TickSize string

const (
	Tick01    TickSize = "0.1"    // 1 decimal  — coarse markets
	Tick001   TickSize = "0.01"   // 2 decimals — standard markets (most common)
	Tick0001  TickSize = "0.001"  // 3 decimals — fine-grained markets
	Tick00001 TickSize = "0.0001" // 4 decimals — ultra-precise markets
)

// Decimals returns the number of decimal places for a tick size.
func (t TickSize) Decimals() int {
	switch t {
	case Tick01:
		return 1
	case Tick001:
		return 2
	case Tick0001:
		return 3
	case Tick00001:
		return 4
	default:
		return 2
	}
}

// AmountDecimals returns the rounding precision for USDC amounts.
func (t TickSize) AmountDecimals() int {
	switch t {
	case Tick01:
		return 3
	case Tick001:
		return 4
	case Tick0001:
		return 5
	case Tick00001:
		return 6
	default:
		return 4
	}
}

// Value returns the tick size as a decimal, e.g. Tick001 -> 0.01.
func (t TickSize) Value() decimal.Decimal {
	d, err := decimal.NewFromString(string(t))
	if err != nil {
		return decimal.New(1, -2) // 0.01 fallback
	}
	return d
}

// ————————————————————————————————————————————————————————————————————————
// Market metadata
// ————————————————————————————————————————————————————————————————————————

// MarketInfo is the internal representation of a Polymarket binary market,
// as read from MarketConfigStore's tabular source. A binary market has
// exactly two tokens (YES and NO) whose prices always sum to ~$1.
type MarketInfo struct {
	ConditionID string // CTF condition ID — the market key throughout the engine
	Question    string // the prediction question, joining key across source tables

	Token1 string // CLOB token ID for the YES outcome
	Token2 string // CLOB token ID for the NO outcome

	TickSize   TickSize        // price granularity (determines rounding)
	MinSize    decimal.Decimal // minimum order size in tokens (USDC-equivalent)
	MaxSpread  decimal.Decimal // incentive-eligible spread, in bps
	NegRisk    bool            // true if this is a neg-risk market (affects CTF exchange + merge path)
	TradeSize  decimal.Decimal // per-cycle clip size
	MaxSize    decimal.Decimal // max resting position per token
	Multiplier string          // optional sub-0.1-price size multiplier, "" if unset
	ParamType  string          // selects the PolicyParams row group for this market

	// Volatility indicators sourced from config, read by the risk step.
	Volatility1h decimal.Decimal
	Volatility3h decimal.Decimal
	Volatility7d decimal.Decimal
}

// PolicyParams groups the risk/quoting thresholds shared by every market of
// a given ParamType, per spec §3.
type PolicyParams struct {
	StopLossThreshold     decimal.Decimal // percent, typically negative
	TakeProfitThreshold   decimal.Decimal // percent
	SpreadThreshold       decimal.Decimal // price units
	VolatilityThreshold   decimal.Decimal // percent
	SleepPeriodHours      decimal.Decimal
}

// ————————————————————————————————————————————————————————————————————————
// Orders
// ————————————————————————————————————————————————————————————————————————

// UserOrder is the high-level order representation produced by the engine.
// The exchange client converts it to a SignedOrder for the CLOB API.
type UserOrder struct {
	TokenID    string          // which token to trade (YES or NO asset ID)
	Price      decimal.Decimal // limit price (0.0 to 1.0 for binary markets)
	Size       decimal.Decimal // quantity in tokens
	Side       Side            // BUY or SELL
	OrderType  OrderType       // GTC
	TickSize   TickSize        // market's price granularity (for amount rounding)
	Expiration int64           // unix timestamp, 0 = no expiry
	FeeRateBps int             // fee rate in basis points
	NegRisk    bool            // selects which CTF Exchange contract the order is signed against
}

// SignedOrder is the on-chain order format the CLOB API expects.
// MakerAmount and TakerAmount are in 6-decimal USDC units (1e6 = $1).
//
// For BUY:  maker gives MakerAmount USDC, receives TakerAmount tokens
// For SELL: maker gives MakerAmount tokens, receives TakerAmount USDC
type SignedOrder struct {
	Salt          string        `json:"salt"`
	Maker         string        `json:"maker"`       // funder/proxy wallet address
	Signer        string        `json:"signer"`      // EOA that signs the order
	Taker         string        `json:"taker"`       // zero address = open order
	TokenID       string        `json:"tokenId"`     // CTF token ID
	MakerAmount   *big.Int      `json:"makerAmount"` // what maker gives (scaled to 1e6)
	TakerAmount   *big.Int      `json:"takerAmount"` // what maker receives (scaled to 1e6)
	Side          Side          `json:"side"`
	Expiration    string        `json:"expiration"`    // unix timestamp as string
	Nonce         string        `json:"nonce"`         // replay protection
	FeeRateBps    string        `json:"feeRateBps"`    // fee in basis points as string
	SignatureType SignatureType `json:"signatureType"` // 0 = EOA
	Signature     string        `json:"signature"`     // EIP-712 signature hex
}

// OrderPayload is the REST API request body for POST /orders (batch).
type OrderPayload struct {
	Order     SignedOrder `json:"order"`
	Owner     string      `json:"owner"`              // API key of the order owner
	OrderType OrderType   `json:"orderType"`           // GTC
	PostOnly  bool        `json:"postOnly,omitempty"` // if true, rejects if it would cross
}

// OrderResponse is the REST API response for each order in a batch POST.
type OrderResponse struct {
	Success  bool   `json:"success"`
	ErrorMsg string `json:"errorMsg"`
	OrderID  string `json:"orderID"`
	Status   string `json:"status"` // e.g. "live", "matched"
}

// OpenOrder represents a live resting order on the CLOB, as returned by the
// open-orders REST endpoint.
type OpenOrder struct {
	ID           string `json:"id"`
	Status       string `json:"status"`        // "live", "matched", etc.
	Market       string `json:"market"`        // condition ID
	AssetID      string `json:"asset_id"`      // token ID
	Side         string `json:"side"`          // "BUY" or "SELL"
	OriginalSize string `json:"original_size"` // initial size
	SizeMatched  string `json:"size_matched"`  // how much has filled
	Price        string `json:"price"`         // limit price
}

// CancelResponse is returned by DELETE /orders, /cancel-all, /cancel-market-orders.
type CancelResponse struct {
	Canceled []string `json:"canceled"` // IDs of successfully cancelled orders
}

// PositionRow is a single row of the positions REST response, as returned by
// ExchangeAdapter.GetPositions.
type PositionRow struct {
	Asset    string          `json:"asset"`
	Size     decimal.Decimal `json:"size"`
	AvgPrice decimal.Decimal `json:"avgPrice"`
}

// ————————————————————————————————————————————————————————————————————————
// Order book
// ————————————————————————————————————————————————————————————————————————

// PriceLevel is a single bid or ask level in the order book, as carried on
// the wire. Price and Size are strings because the CLOB API returns them as
// strings to preserve decimal precision.
type PriceLevel struct {
	Price string `json:"price"` // e.g. "0.55"
	Size  string `json:"size"`  // e.g. "100.5"
}

// BookResponse is the REST response from GET /book for a single token.
type BookResponse struct {
	Market       string       `json:"market"`
	AssetID      string       `json:"asset_id"`
	Bids         []PriceLevel `json:"bids"`
	Asks         []PriceLevel `json:"asks"`
	Hash         string       `json:"hash"`
	Timestamp    string       `json:"timestamp"`
	MinOrderSize string       `json:"min_order_size"`
	TickSize     string       `json:"tick_size"`
	NegRisk      bool         `json:"neg_risk"`
}

// ————————————————————————————————————————————————————————————————————————
// WebSocket events
// ————————————————————————————————————————————————————————————————————————
// These structs map 1:1 to the JSON messages sent over the exchange WebSocket.
// Market channel events: "book" (full snapshot), "price_change" (delta).
// User channel events: "trade" (fill), "order" (placement/cancel lifecycle).

// WSBookEvent is a full order book snapshot from the market WS channel.
// Replaces the entire local book for the given asset.
type WSBookEvent struct {
	EventType string       `json:"event_type"` // always "book"
	AssetID   string       `json:"asset_id"`
	Market    string       `json:"market"` // condition ID
	Timestamp string       `json:"timestamp"`
	Hash      string       `json:"hash"` // book version hash
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
}

// WSPriceChange is a single price level update within a price_change event.
type WSPriceChange struct {
	AssetID string `json:"asset_id"`
	Price   string `json:"price"` // the price level that changed
	Size    string `json:"size"`  // new size at that level (0 = removed)
	Side    string `json:"side"`  // "BUY" or "SELL"
}

// WSPriceChangeEvent is an incremental order book update from the market WS.
// Contains one or more level changes applied atomically.
type WSPriceChangeEvent struct {
	EventType    string          `json:"event_type"` // always "price_change"
	Market       string          `json:"market"`
	Timestamp    string          `json:"timestamp"`
	PriceChanges []WSPriceChange `json:"price_changes"`
}

// WSMakerOrder is one maker counterparty on a trade fill.
type WSMakerOrder struct {
	MakerAddress string `json:"maker_address"`
	MatchedAmount string `json:"matched_amount"`
	Price        string `json:"price"`
	Outcome      string `json:"outcome"` // "Yes" or "No"
}

// WSTradeEvent is a fill notification from the user WS channel. Status
// progresses MATCHED (optimistic) -> CONFIRMED|FAILED -> MINED (terminal).
type WSTradeEvent struct {
	EventType   string         `json:"event_type"` // always "trade"
	ID          string         `json:"id"`          // trade ID
	Status      string         `json:"status"`      // MATCHED | CONFIRMED | FAILED | MINED
	Market      string         `json:"market"`      // condition ID
	AssetID     string         `json:"asset_id"`    // token ID that was traded
	Side        string         `json:"side"`        // taker's side: "BUY" or "SELL"
	Size        string         `json:"size"`        // filled quantity (taker view)
	Price       string         `json:"price"`       // fill price (taker view)
	Outcome     string         `json:"outcome"`     // "Yes" or "No" (taker outcome)
	MakerOrders []WSMakerOrder `json:"maker_orders"`
	Timestamp   string         `json:"timestamp"`
}

// WSOrderEvent is an order lifecycle notification from the user WS channel.
// Received on order placement, update, or cancellation.
type WSOrderEvent struct {
	EventType    string `json:"event_type"` // always "order"
	ID           string `json:"id"`         // order ID
	Market       string `json:"market"`     // condition ID
	AssetID      string `json:"asset_id"`   // token ID
	Side         string `json:"side"`       // "BUY" or "SELL"
	Status       string `json:"status"`     // "LIVE", "MATCHED", "CANCELLED"
	Type         string `json:"type"`       // "PLACEMENT", "UPDATE", "CANCELLATION"
	Price        string `json:"price"`
	OriginalSize string `json:"original_size"`
	SizeMatched  string `json:"size_matched"` // cumulative filled
	Outcome      string `json:"outcome"`      // "Yes" or "No"
	Timestamp    string `json:"timestamp"`
}

// WSSubscribeMsg is the initial subscription message sent when connecting to
// the user WebSocket channel (authenticated). The market channel instead
// sends a bare {"assets_ids": [...]} with no type wrapper — see
// exchange.WSFeed.sendInitialSubscription.
type WSSubscribeMsg struct {
	Type    string   `json:"type"` // "user"
	Auth    *WSAuth  `json:"auth,omitempty"`
	Markets []string `json:"markets,omitempty"`
}

// WSMarketSubscribeMsg is the bare subscribe message the market (public)
// channel expects: no "type" field, per the exchange's own wire protocol.
type WSMarketSubscribeMsg struct {
	AssetIDs []string `json:"assets_ids"`
}

// WSAuth contains the L2 API credentials for authenticating the user WS channel.
type WSAuth struct {
	ApiKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// WSUpdateMsg is sent to dynamically subscribe or unsubscribe from channels
// after the initial connection is established.
type WSUpdateMsg struct {
	AssetIDs  []string `json:"assets_ids,omitempty"` // token IDs (market channel)
	Markets   []string `json:"markets,omitempty"`    // condition IDs (user channel)
	Operation string   `json:"operation"`            // "subscribe" or "unsubscribe"
}
