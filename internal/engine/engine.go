// Package engine wires together the market-making bot's components and
// owns their lifecycle:
//
//	exchange.Client/Auth  — REST + signing
//	exchange.WSFeed (x2)  — market data + user fills/orders
//	market.Store           — local order book mirror (C1)
//	state.PositionStore     — per-token {size, avgPrice} (C2)
//	state.OrderStore        — per-token resting-order snapshot (C3)
//	state.PendingTracker    — in-flight trade IDs (C4)
//	state.MarketConfigStore — tabular market/param config (C5)
//	reconcile.Reconciler    — periodic REST reconciliation (C6)
//	EventRouter             — WS event dispatch (C7)
//	TradingEngine           — per-market quoting algorithm (C8)
//
// Lifecycle: New() -> Start() -> [runs until ctx cancelled] -> Stop()
package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"polymarket-mm/internal/config"
	"polymarket-mm/internal/exchange"
	"polymarket-mm/internal/market"
	"polymarket-mm/internal/persist"
	"polymarket-mm/internal/reconcile"
	"polymarket-mm/internal/state"
)

// Engine orchestrates every subsystem and owns their goroutines.
type Engine struct {
	cfg    config.Config
	client *exchange.Client
	auth   *exchange.Auth
	chain  *exchange.ChainReader // nil if cfg.Chain.RPCURL is unset

	mktFeed *exchange.WSFeed
	usrFeed *exchange.WSFeed

	book      *market.Store
	positions *state.PositionStore
	orders    *state.OrderStore
	pending   *state.PendingTracker
	markets   *state.MarketConfigStore
	risk      *persist.Store
	source    state.TabularSource

	reconciler *reconcile.Reconciler
	router     *EventRouter
	trading    *TradingEngine

	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires all components from cfg. If L2 API credentials aren't
// configured, it derives them via L1 (EIP-712) auth before returning.
func New(cfg config.Config, logger *slog.Logger) (*Engine, error) {
	auth, err := exchange.NewAuth(cfg)
	if err != nil {
		return nil, fmt.Errorf("new auth: %w", err)
	}

	client := exchange.NewClient(cfg, auth, logger)

	var chainReader *exchange.ChainReader
	if cfg.Chain.RPCURL != "" {
		chainReader, err = exchange.NewChainReader(
			cfg.Chain.RPCURL,
			common.HexToAddress(cfg.Chain.CTFAddress),
			common.HexToAddress(cfg.Chain.USDCAddress),
		)
		if err != nil {
			return nil, fmt.Errorf("new chain reader: %w", err)
		}
		client.SetChainReader(chainReader)
	}

	if !auth.HasL2Credentials() {
		logger.Info("no L2 credentials, deriving API key via L1")
		creds, err := client.DeriveAPIKey(context.Background())
		if err != nil {
			return nil, fmt.Errorf("derive API key: %w", err)
		}
		auth.SetCredentials(*creds)
	}

	riskStore, err := persist.Open(cfg.Store.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open risk store: %w", err)
	}

	mktFeed := exchange.NewMarketFeed(cfg.API.WSMarketURL, logger)
	usrFeed := exchange.NewUserFeed(cfg.API.WSUserURL, auth, logger)

	book := market.NewStore()
	positions := state.NewPositionStore()
	orders := state.NewOrderStore()
	pending := state.NewPendingTracker()
	markets := state.NewMarketConfigStore()

	source := &state.CSVSource{
		SelectedPath: cfg.MarketSource.SelectedMarketsPath,
		AllPath:      cfg.MarketSource.AllMarketsPath,
		ParamsPath:   cfg.MarketSource.ParamsPath,
		Open: func(path string) (io.ReadCloser, error) {
			return os.Open(path)
		},
	}

	reconciler := reconcile.New(cfg.Reconciler, client, source, positions, orders, pending, markets, logger)
	trading := NewTradingEngine(cfg.Engine, client, book, positions, orders, markets, riskStore, logger)
	router := NewEventRouter(book, positions, orders, pending, markets, trading, reconciler, auth, logger)

	ctx, cancel := context.WithCancel(context.Background())

	return &Engine{
		cfg:        cfg,
		client:     client,
		auth:       auth,
		chain:      chainReader,
		mktFeed:    mktFeed,
		usrFeed:    usrFeed,
		book:       book,
		positions:  positions,
		orders:     orders,
		pending:    pending,
		markets:    markets,
		risk:       riskStore,
		source:     source,
		reconciler: reconciler,
		router:     router,
		trading:    trading,
		logger:     logger.With("component", "engine"),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Start loads the initial market configuration, subscribes the WS feeds
// to every known token (market feed) and market (user feed), and launches the feed, reconciler, and
// event-router goroutines.
func (e *Engine) Start() error {
	if err := e.loadInitialMarkets(e.ctx); err != nil {
		return fmt.Errorf("load initial markets: %w", err)
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.mktFeed.Run(e.ctx); err != nil && e.ctx.Err() == nil {
			e.logger.Error("market feed error", "error", err)
		}
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.usrFeed.Run(e.ctx); err != nil && e.ctx.Err() == nil {
			e.logger.Error("user feed error", "error", err)
		}
	}()

	if err := e.subscribeAllTokens(e.ctx); err != nil {
		e.logger.Error("initial token subscription failed", "error", err)
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.reconciler.Run(e.ctx); err != nil && e.ctx.Err() == nil {
			e.logger.Error("reconciler stopped", "error", err)
		}
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.router.Run(e.ctx, e.mktFeed, e.usrFeed); err != nil && e.ctx.Err() == nil {
			e.logger.Error("event router stopped", "error", err)
		}
	}()

	return nil
}

// loadInitialMarkets pulls the tabular config once synchronously so the
// engine has a populated MarketConfigStore before it starts accepting WS
// events; the Reconciler takes over periodic refreshes afterward.
func (e *Engine) loadInitialMarkets(ctx context.Context) error {
	selected, all, paramRows, err := e.source.Fetch(ctx)
	if err != nil {
		return err
	}
	marketRows, err := state.ParseMarkets(selected, all)
	if err != nil {
		return fmt.Errorf("parse markets: %w", err)
	}
	params, err := state.ParseParams(paramRows)
	if err != nil {
		return fmt.Errorf("parse params: %w", err)
	}
	e.markets.Refresh(marketRows, params, func(token1, token2 string) {
		e.pending.EnsureBucket(state.Col(token1, "buy"))
		e.pending.EnsureBucket(state.Col(token1, "sell"))
		e.pending.EnsureBucket(state.Col(token2, "buy"))
		e.pending.EnsureBucket(state.Col(token2, "sell"))
	})
	e.logger.Info("loaded initial market config", "markets", len(marketRows), "param_groups", len(params))
	return nil
}

// subscribeAllTokens fetches an initial REST book snapshot for every known
// token (seeding market.Store before any WS delta arrives), subscribes the
// market feed to the full token set, and subscribes the user feed to every
// known market's condition ID.
func (e *Engine) subscribeAllTokens(ctx context.Context) error {
	tokens := e.markets.AllTokens()
	if len(tokens) == 0 {
		return nil
	}

	for _, token := range tokens {
		resp, err := e.client.GetOrderBook(ctx, token)
		if err != nil {
			e.logger.Warn("initial order book fetch failed", "token", token, "error", err)
			continue
		}
		if err := e.book.ApplyBookResponse(resp); err != nil {
			e.logger.Warn("apply initial order book failed", "token", token, "error", err)
		}
	}

	if err := e.mktFeed.Subscribe(ctx, tokens); err != nil {
		return fmt.Errorf("subscribe market feed: %w", err)
	}
	markets := e.markets.AllMarkets()
	conditionIDs := make([]string, 0, len(markets))
	for _, m := range markets {
		conditionIDs = append(conditionIDs, m.ConditionID)
	}
	if err := e.usrFeed.Subscribe(ctx, conditionIDs); err != nil {
		return fmt.Errorf("subscribe user feed: %w", err)
	}
	return nil
}

// Stop cancels every goroutine, cancels all resting orders on the
// exchange as a safety net, and waits for shutdown to complete.
func (e *Engine) Stop() {
	e.logger.Info("shutting down")

	e.cancel()

	cancelCtx, cancelCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelCancel()
	if _, err := e.client.CancelAll(cancelCtx); err != nil {
		e.logger.Error("failed to cancel all orders on shutdown", "error", err)
	}

	e.wg.Wait()

	if err := e.mktFeed.Close(); err != nil {
		e.logger.Warn("market feed close failed", "error", err)
	}
	if err := e.usrFeed.Close(); err != nil {
		e.logger.Warn("user feed close failed", "error", err)
	}
	if e.chain != nil {
		e.chain.Close()
	}

	e.logger.Info("shutdown complete")
}
