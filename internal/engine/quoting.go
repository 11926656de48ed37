package engine

import (
	"github.com/shopspring/decimal"

	"polymarket-mm/internal/market"
	"polymarket-mm/pkg/types"
)

var (
	depthBandPct   = decimal.NewFromFloat(0.10) // 10% band around mid, for the liquidity ratio
	bidSizeFloor   = decimal.NewFromFloat(1.5)  // 1.5x multiplier on both the bid-side and ask-side min-size overrides
	askSizeFloor   = decimal.NewFromInt(250)    // the ask-side override uses a fixed 250, not min_size — preserved verbatim, see spec Open Question iii
	sizeRoundFloor = decimal.NewFromFloat(0.7)  // 0.7x min_size: the low end of the bump-to-min_size rounding band
	twoX           = decimal.NewFromInt(2)
)

// liquidityRatio computes R = depth_bids_within_band(mid) / depth_asks_within_band(mid),
// 0 if the denominator is zero (spec §4.8a).
func liquidityRatio(store *market.Store, asset string, mid decimal.Decimal) decimal.Decimal {
	band := mid.Mul(depthBandPct)
	lo, hi := mid.Sub(band), mid.Add(band)

	bidDepth := store.DepthWithin(asset, types.BUY, lo, hi)
	askDepth := store.DepthWithin(asset, types.SELL, lo, hi)
	if askDepth.IsZero() {
		return decimal.Zero
	}
	return bidDepth.Div(askDepth)
}

// bookView is the per-token snapshot step (a)/(b) produce: the filtered
// best bid/ask (with their sizes), the unconditional top-of-book on each
// side, and the resulting mid. ok is false when either side's best is
// still absent even after the min_size=20 fallback.
type bookView struct {
	bestBid, bestBidSize decimal.Decimal
	bestAsk, bestAskSize decimal.Decimal
	topBid, topAsk       decimal.Decimal
	mid                  decimal.Decimal
	ok                   bool
}

// fetchBookView implements step (a): best_with_min_size(asset, bids, 100)
// and (asks, 100), falling back to min_size=20 if either side comes back
// empty.
func fetchBookView(store *market.Store, asset string) bookView {
	view := queryBookView(store, asset, decimal.NewFromInt(100))
	if view.ok {
		return view
	}
	return queryBookView(store, asset, decimal.NewFromInt(20))
}

func queryBookView(store *market.Store, asset string, minSize decimal.Decimal) bookView {
	bids := store.BestWithMinSize(asset, types.BUY, minSize)
	asks := store.BestWithMinSize(asset, types.SELL, minSize)

	var v bookView
	if bids.BestPrice == nil || asks.BestPrice == nil {
		return v
	}
	v.ok = true
	v.bestBid, v.bestBidSize = *bids.BestPrice, *bids.BestSize
	v.bestAsk, v.bestAskSize = *asks.BestPrice, *asks.BestSize
	if bids.TopPrice != nil {
		v.topBid = *bids.TopPrice
	}
	if asks.TopPrice != nil {
		v.topAsk = *asks.TopPrice
	}
	v.mid = v.bestBid.Add(v.bestAsk).Div(twoX)
	return v
}

// mirrorBookView implements step (b): the NO leg's book metrics are the
// YES ladder under p' = 1-p with bid/ask roles swapped.
func mirrorBookView(yes bookView) bookView {
	if !yes.ok {
		return bookView{}
	}
	return bookView{
		ok:          true,
		bestBid:     market.MirrorPrice(yes.bestAsk),
		bestBidSize: yes.bestAskSize,
		bestAsk:     market.MirrorPrice(yes.bestBid),
		bestAskSize: yes.bestBidSize,
		topBid:      market.MirrorPrice(yes.topAsk),
		topAsk:      market.MirrorPrice(yes.topBid),
		mid:         market.MirrorPrice(yes.mid),
	}
}

// getOrderPrices implements step (c): the target bid/ask and every
// override rule, in the order spec §4.8c lists them.
func getOrderPrices(v bookView, minSize decimal.Decimal, tick, avgPrice decimal.Decimal) (bid, ask decimal.Decimal) {
	bid = v.bestBid.Add(tick)
	ask = v.bestAsk.Sub(tick)

	if v.bestBidSize.LessThan(bidSizeFloor.Mul(minSize)) {
		bid = v.bestBid
	}
	if v.bestAskSize.LessThan(bidSizeFloor.Mul(askSizeFloor)) {
		ask = v.bestAsk
	}
	if bid.GreaterThanOrEqual(v.topAsk) {
		bid = v.topBid
	}
	if ask.LessThanOrEqual(v.topBid) {
		ask = v.topAsk
	}
	if bid.Equal(ask) {
		bid, ask = v.topBid, v.topAsk
	}
	if avgPrice.IsPositive() && ask.LessThanOrEqual(avgPrice) {
		ask = avgPrice
	}
	return bid, ask
}

// getBuySellAmount implements step (d): the size policy, including its
// asymmetric rounding and sub-0.1-price multiplier.
func getBuySellAmount(pos, otherPos, maxSize, tradeSize, minSize, bid decimal.Decimal, multiplier decimal.Decimal, hasMultiplier bool) (buyAmount, sellAmount decimal.Decimal) {
	totalExposure := pos.Add(otherPos)

	if pos.LessThan(maxSize) {
		buyAmount = decimal.Min(tradeSize, maxSize.Sub(pos))
		if pos.GreaterThanOrEqual(tradeSize) {
			sellAmount = decimal.Min(pos, tradeSize)
		}
	} else {
		sellAmount = decimal.Min(pos, tradeSize)
		if totalExposure.LessThan(twoX.Mul(maxSize)) {
			buyAmount = tradeSize
		}
	}

	lowBand := sizeRoundFloor.Mul(minSize)
	if buyAmount.GreaterThanOrEqual(lowBand) && buyAmount.LessThan(minSize) {
		buyAmount = minSize
	}

	if hasMultiplier && bid.LessThan(decimal.NewFromFloat(0.1)) {
		buyAmount = buyAmount.Mul(multiplier)
	}

	return buyAmount, sellAmount
}
