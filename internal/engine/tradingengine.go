// Package engine implements TradingEngine (C8) and EventRouter (C7): the
// per-market quoting algorithm and the WebSocket event dispatch that
// triggers it.
package engine

import (
	"context"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"polymarket-mm/internal/config"
	"polymarket-mm/internal/market"
	"polymarket-mm/internal/persist"
	"polymarket-mm/internal/state"
	"polymarket-mm/pkg/types"
)

var (
	replacePriceTolerance = decimal.NewFromFloat(0.005) // spec §4.8(3): cancel-and-replace price threshold
	replaceSizeTolerance  = decimal.NewFromFloat(0.10)   // spec §4.8(3): cancel-and-replace size threshold, fraction of target
	takeProfitPriceTol    = decimal.NewFromFloat(0.02)   // spec §4.8(g): take-profit replace threshold
	takeProfitSizeFloor   = decimal.NewFromFloat(0.97)   // spec §4.8(g): resting_sell_size < 0.97*pos triggers replace
	bidPriceFloor         = decimal.NewFromFloat(0.1)
	bidPriceCeil          = decimal.NewFromFloat(0.9)
	bidDeviationLimit     = decimal.NewFromFloat(0.05)
	maxExposureGate       = decimal.NewFromInt(250) // spec §4.8(f): pos < 250 buy-path gate, preserved verbatim
	hundred               = decimal.NewFromInt(100)
	rawUnit               = decimal.NewFromInt(1_000_000) // on-chain CTF balances are 6-decimal
)

// ExchangeAdapter is the subset of exchange.Client TradingEngine needs.
// Defined locally so tests can supply a fake without HTTP or a chain RPC.
type ExchangeAdapter interface {
	PostOrders(ctx context.Context, orders []types.UserOrder, negRisk bool) ([]types.OrderResponse, error)
	CancelOrders(ctx context.Context, orderIDs []string) (*types.CancelResponse, error)
	CancelMarketOrders(ctx context.Context, conditionID string) (*types.CancelResponse, error)
	GetRawBalance(ctx context.Context, tokenID string) (*big.Int, error)
	Merge(ctx context.Context, rawAmount *big.Int, conditionID string, negRisk bool) (string, error)
}

// TradingEngine runs the per-market algorithm of spec §4.8: merge offsetting
// exposure, then quote both legs of the market subject to risk and
// idempotent-replacement rules.
type TradingEngine struct {
	cfg          config.EngineConfig
	minMergeSize decimal.Decimal

	client    ExchangeAdapter
	book      *market.Store
	positions *state.PositionStore
	orders    *state.OrderStore
	markets   *state.MarketConfigStore
	risk      *persist.Store

	logger *slog.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewTradingEngine wires a TradingEngine to its stores and the exchange
// adapter.
func NewTradingEngine(
	cfg config.EngineConfig,
	client ExchangeAdapter,
	book *market.Store,
	positions *state.PositionStore,
	orders *state.OrderStore,
	markets *state.MarketConfigStore,
	riskStore *persist.Store,
	logger *slog.Logger,
) *TradingEngine {
	minMergeSize, err := decimal.NewFromString(cfg.MinMergeSize)
	if err != nil {
		minMergeSize = decimal.NewFromInt(1)
	}
	return &TradingEngine{
		cfg:          cfg,
		minMergeSize: minMergeSize,
		client:       client,
		book:         book,
		positions:    positions,
		orders:       orders,
		markets:      markets,
		risk:         riskStore,
		logger:       logger.With("component", "trading_engine"),
		locks:        make(map[string]*sync.Mutex),
	}
}

func (e *TradingEngine) lockFor(conditionID string) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	mu, ok := e.locks[conditionID]
	if !ok {
		mu = &sync.Mutex{}
		e.locks[conditionID] = mu
	}
	return mu
}

// Run executes one trade pass for conditionID: acquires the per-market
// lock, merges offsetting exposure, quotes both legs, and holds the lock
// through a short tail sleep to damp per-market churn from rapid-fire
// event triggers (spec §4.8, §9 "per-market serialization").
func (e *TradingEngine) Run(ctx context.Context, conditionID string) {
	info, ok := e.markets.Market(conditionID)
	if !ok {
		return
	}

	mu := e.lockFor(conditionID)
	mu.Lock()
	defer func() {
		time.Sleep(e.cfg.TailSleep)
		mu.Unlock()
	}()

	e.mergeOffsettingExposure(ctx, info)

	params, ok := e.markets.Params(info.ParamType)
	if !ok {
		e.logger.Debug("no policy params for market, skipping quote pass", "market", conditionID, "param_type", info.ParamType)
		return
	}

	e.quoteToken(ctx, info, info.Token1, info.Token2, false, params)
	e.quoteToken(ctx, info, info.Token2, info.Token1, true, params)
}

// mergeOffsettingExposure implements step (1): merge YES+NO into collateral
// when both legs carry enough offsetting position to be worth the on-chain
// round trip.
func (e *TradingEngine) mergeOffsettingExposure(ctx context.Context, info types.MarketInfo) {
	pos1 := e.positions.Get(info.Token1).Size
	pos2 := e.positions.Get(info.Token2).Size
	if decimal.Min(pos1, pos2).LessThanOrEqual(e.minMergeSize) {
		return
	}

	raw1, err := e.client.GetRawBalance(ctx, info.Token1)
	if err != nil {
		e.logger.Warn("merge: get raw balance failed", "market", info.ConditionID, "token", info.Token1, "error", err)
		return
	}
	raw2, err := e.client.GetRawBalance(ctx, info.Token2)
	if err != nil {
		e.logger.Warn("merge: get raw balance failed", "market", info.ConditionID, "token", info.Token2, "error", err)
		return
	}

	amount := raw1
	if raw2.Cmp(raw1) < 0 {
		amount = raw2
	}

	minMergeRaw := e.minMergeSize.Mul(rawUnit).BigInt()
	if amount.Cmp(minMergeRaw) <= 0 {
		return
	}

	txHash, err := e.client.Merge(ctx, amount, info.ConditionID, info.NegRisk)
	if err != nil {
		// Merge failure: log, leave positions alone, retry next cycle (spec §7).
		e.logger.Warn("merge failed, will retry next cycle", "market", info.ConditionID, "error", err)
		return
	}

	amountDec := decimal.NewFromBigInt(amount, -6)
	e.positions.ApplyFill(info.Token1, types.SELL, amountDec, decimal.Zero)
	e.positions.ApplyFill(info.Token2, types.SELL, amountDec, decimal.Zero)
	e.logger.Info("merged offsetting exposure", "market", info.ConditionID, "amount", amountDec, "tx", txHash)
}

// quoteToken implements steps (2)(a)-(g) for one leg of the market.
func (e *TradingEngine) quoteToken(ctx context.Context, info types.MarketInfo, token, otherToken string, isToken2 bool, params types.PolicyParams) {
	view, R, ok := e.bookViewFor(token, otherToken, isToken2)
	if !ok {
		return
	}

	pos := e.positions.Get(token)
	otherPos := e.positions.Get(otherToken).Size
	tick := info.TickSize.Value()

	bid, ask := getOrderPrices(view, info.MinSize, tick, pos.AvgPrice)

	var multiplier decimal.Decimal
	hasMultiplier := false
	if info.Multiplier != "" {
		if m, err := decimal.NewFromString(info.Multiplier); err == nil {
			multiplier, hasMultiplier = m, true
		}
	}
	buyAmount, sellAmount := getBuySellAmount(pos.Size, otherPos, info.MaxSize, info.TradeSize, info.MinSize, bid, multiplier, hasMultiplier)

	if pos.Size.IsPositive() && pos.AvgPrice.IsPositive() {
		spread := view.bestAsk.Sub(view.bestBid)
		pnlPct := view.mid.Sub(pos.AvgPrice).Div(pos.AvgPrice).Mul(hundred)
		stopLoss := (pnlPct.LessThan(params.StopLossThreshold) && spread.LessThanOrEqual(params.SpreadThreshold)) ||
			info.Volatility3h.GreaterThan(params.VolatilityThreshold)
		if stopLoss {
			e.triggerStopLoss(ctx, info, token, view, pos, params)
			return
		}
	}

	e.buyPath(ctx, info, token, otherToken, view, pos, otherPos, bid, buyAmount, R, params)

	if sellAmount.IsPositive() {
		e.takeProfitSell(ctx, info, token, ask, pos, sellAmount, params)
	}
}

// bookViewFor resolves step (a)/(b): the direct book view for token1, or
// the mirrored view (and reciprocal liquidity ratio) for token2.
func (e *TradingEngine) bookViewFor(token, otherToken string, isToken2 bool) (view bookView, R decimal.Decimal, ok bool) {
	if !isToken2 {
		view = fetchBookView(e.book, token)
		if !view.ok {
			return bookView{}, decimal.Zero, false
		}
		return view, liquidityRatio(e.book, token, view.mid), true
	}

	yesView := fetchBookView(e.book, otherToken)
	if !yesView.ok {
		return bookView{}, decimal.Zero, false
	}
	view = mirrorBookView(yesView)
	yesR := liquidityRatio(e.book, otherToken, yesView.mid)
	if yesR.IsZero() {
		R = decimal.Zero
	} else {
		R = decimal.NewFromInt(1).Div(yesR)
	}
	return view, R, true
}

// triggerStopLoss implements step (e)'s trigger branch: sell the full
// position aggressively at best_bid, wipe every other resting order for
// the market, and persist a sleep window gating new buys.
func (e *TradingEngine) triggerStopLoss(ctx context.Context, info types.MarketInfo, token string, view bookView, pos state.Position, params types.PolicyParams) {
	e.logger.Warn("stop loss triggered", "market", info.ConditionID, "token", token, "avg_price", pos.AvgPrice, "mid", view.mid)

	if _, err := e.client.CancelMarketOrders(ctx, info.ConditionID); err != nil {
		e.logger.Error("cancel market orders failed during stop loss", "market", info.ConditionID, "error", err)
	}
	e.orders.Reset(info.Token1)
	e.orders.Reset(info.Token2)

	results, err := e.client.PostOrders(ctx, []types.UserOrder{{
		TokenID:   token,
		Price:     view.bestBid,
		Size:      pos.Size,
		Side:      types.SELL,
		OrderType: types.OrderTypeGTC,
		TickSize:  info.TickSize,
		NegRisk:   info.NegRisk,
	}}, info.NegRisk)
	if err != nil || len(results) == 0 || !results[0].Success {
		e.logger.Error("stop-loss sell failed", "market", info.ConditionID, "token", token, "error", err)
	} else {
		e.orders.Set(token, types.SELL, pos.Size, view.bestBid, results[0].OrderID)
	}

	sleepHours := params.SleepPeriodHours
	if !sleepHours.IsPositive() {
		sleepHours = decimal.NewFromInt(1)
	}
	now := time.Now()
	sleepDur := time.Duration(sleepHours.InexactFloat64() * float64(time.Hour))
	riskState := persist.RiskState{Time: now, SleepTill: now.Add(sleepDur), Reason: "stop_loss"}
	if err := e.risk.Save(info.ConditionID, riskState); err != nil {
		e.logger.Error("persist risk state failed", "market", info.ConditionID, "error", err)
	}
}

// buyPath implements step (f): every suppression gate, the final
// price-range guard, and the rebate-incentive floor.
func (e *TradingEngine) buyPath(
	ctx context.Context,
	info types.MarketInfo,
	token, otherToken string,
	view bookView,
	pos state.Position,
	otherPos decimal.Decimal,
	bid, buyAmount, R decimal.Decimal,
	params types.PolicyParams,
) {
	gated := pos.Size.LessThan(info.MaxSize) && pos.Size.LessThan(maxExposureGate) && buyAmount.GreaterThanOrEqual(info.MinSize)
	if !gated {
		return
	}

	if rs, err := e.risk.Load(info.ConditionID); err == nil && rs != nil && rs.Active(time.Now()) {
		return
	}

	if info.Volatility3h.GreaterThan(params.VolatilityThreshold) {
		return
	}

	if view.bestBid.Sub(bid).Abs().GreaterThanOrEqual(bidDeviationLimit) {
		if _, err := e.client.CancelMarketOrders(ctx, info.ConditionID); err != nil {
			e.logger.Warn("cancel market orders failed on bid deviation", "market", info.ConditionID, "error", err)
		}
		e.orders.Reset(token)
		return
	}

	if otherPos.GreaterThan(info.MinSize) {
		existingBuy := e.orders.Get(token).Buy
		if existingBuy.OrderID != "" && existingBuy.Size.IsPositive() {
			if _, err := e.client.CancelOrders(ctx, []string{existingBuy.OrderID}); err == nil {
				e.orders.Set(token, types.BUY, decimal.Zero, decimal.Zero, "")
			}
		}
		return
	}

	if R.IsNegative() {
		// Dead under the current formula (both depths are non-negative) —
		// preserved verbatim per the source's own stated intent. See
		// spec Open Question ii.
		return
	}

	if bid.LessThan(bidPriceFloor) || bid.GreaterThanOrEqual(bidPriceCeil) {
		return
	}

	rebateFloor := view.mid.Sub(info.MaxSpread.Div(hundred))
	if bid.LessThan(rebateFloor) {
		return
	}

	e.placeOrReplace(ctx, token, types.BUY, info.TickSize, bid, buyAmount, info.NegRisk)
}

// takeProfitSell implements step (g): the exit-ask target and its own
// 2%/0.97x replace tolerance (distinct from the general idempotent rule in
// step 3, which governs the buy side only).
func (e *TradingEngine) takeProfitSell(ctx context.Context, info types.MarketInfo, token string, askFromStepC decimal.Decimal, pos state.Position, sellAmount decimal.Decimal, params types.PolicyParams) {
	target := askFromStepC
	if pos.AvgPrice.IsPositive() {
		tpTarget := pos.AvgPrice.Mul(decimal.NewFromInt(1).Add(params.TakeProfitThreshold.Div(hundred)))
		target = decimal.Max(askFromStepC, tpTarget)
	}

	current := e.orders.Get(token).Sell
	replace := current.OrderID == ""
	if !replace && target.IsPositive() {
		if current.Price.Sub(target).Abs().Div(target).GreaterThan(takeProfitPriceTol) {
			replace = true
		}
	}
	if !replace && current.Size.LessThan(pos.Size.Mul(takeProfitSizeFloor)) {
		replace = true
	}
	if !replace {
		return
	}

	if current.OrderID != "" {
		if _, err := e.client.CancelOrders(ctx, []string{current.OrderID}); err != nil {
			e.logger.Warn("cancel before take-profit replace failed", "token", token, "error", err)
			return
		}
	}

	results, err := e.client.PostOrders(ctx, []types.UserOrder{{
		TokenID:   token,
		Price:     target,
		Size:      sellAmount,
		Side:      types.SELL,
		OrderType: types.OrderTypeGTC,
		TickSize:  info.TickSize,
		NegRisk:   info.NegRisk,
	}}, info.NegRisk)
	if err != nil || len(results) == 0 || !results[0].Success {
		e.logger.Warn("take-profit sell failed", "token", token, "error", err)
		e.orders.Set(token, types.SELL, decimal.Zero, decimal.Zero, "")
		return
	}
	e.orders.Set(token, types.SELL, sellAmount, target, results[0].OrderID)
}

// placeOrReplace implements step (3): the idempotent cancel-and-replace
// rule shared by the buy path. A zero or negative targetSize cancels any
// resting order on that side without placing a new one.
func (e *TradingEngine) placeOrReplace(ctx context.Context, token string, side types.Side, tick types.TickSize, targetPrice, targetSize decimal.Decimal, negRisk bool) {
	current := e.orders.Get(token)
	existing := current.Buy
	if side == types.SELL {
		existing = current.Sell
	}

	if !targetSize.IsPositive() {
		if existing.OrderID != "" {
			if _, err := e.client.CancelOrders(ctx, []string{existing.OrderID}); err != nil {
				e.logger.Warn("cancel failed", "token", token, "side", side, "error", err)
				return
			}
			e.orders.Set(token, side, decimal.Zero, decimal.Zero, "")
		}
		return
	}

	if existing.OrderID != "" {
		priceDelta := existing.Price.Sub(targetPrice).Abs()
		sizeDeltaPct := existing.Size.Sub(targetSize).Abs().Div(targetSize)
		if priceDelta.LessThanOrEqual(replacePriceTolerance) && sizeDeltaPct.LessThanOrEqual(replaceSizeTolerance) {
			return // within tolerance: leave the resting order in place
		}
		if _, err := e.client.CancelOrders(ctx, []string{existing.OrderID}); err != nil {
			e.logger.Warn("cancel before replace failed", "token", token, "side", side, "error", err)
			return
		}
	}

	results, err := e.client.PostOrders(ctx, []types.UserOrder{{
		TokenID:   token,
		Price:     targetPrice,
		Size:      targetSize,
		Side:      side,
		OrderType: types.OrderTypeGTC,
		TickSize:  tick,
		NegRisk:   negRisk,
	}}, negRisk)
	if err != nil || len(results) == 0 || !results[0].Success {
		e.logger.Warn("place order failed", "token", token, "side", side, "error", err)
		e.orders.Set(token, side, decimal.Zero, decimal.Zero, "")
		return
	}
	e.orders.Set(token, side, targetSize, targetPrice, results[0].OrderID)
}
