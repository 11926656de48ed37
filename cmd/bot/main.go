// Polymarket market maker — a CLOB market-making bot for Polymarket binary
// prediction markets.
//
// Architecture:
//
//	main.go                    — entry point: loads config, starts engine, waits for SIGINT/SIGTERM
//	engine/engine.go           — orchestrator: wires stores, feeds, reconciler, router, trading engine
//	engine/eventrouter.go      — dispatches WS book/price_change/trade/order events into the stores
//	engine/tradingengine.go    — per-market quoting/risk/merge algorithm
//	engine/quoting.go          — pure quoting math (book view, target prices, size policy)
//	reconcile/reconcile.go     — periodic REST reconciliation of positions/orders/market config
//	market/book.go             — local order book mirror fed by WebSocket snapshots + deltas
//	state/*.go                 — PositionStore, OrderStore, PendingTracker, MarketConfigStore
//	exchange/client.go         — REST client for the Polymarket CLOB API
//	exchange/auth.go           — L1 (EIP-712) and L2 (HMAC) authentication
//	exchange/ws.go             — WebSocket feeds (market data + user fills/orders) with auto-reconnect
//	persist/risk.go            — JSON file persistence for stop-loss sleep windows
//
// How it makes money:
//
//	The bot posts a buy below mid price and a sell above mid price on both
//	legs of a binary market. When both sides fill it earns the spread;
//	when YES and NO positions offset, it merges them back into collateral
//	rather than carrying directional risk.
package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"polymarket-mm/internal/config"
	"polymarket-mm/internal/engine"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("POLY_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	eng, err := engine.New(*cfg, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}

	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	logger.Info("polymarket market maker started", "dry_run", cfg.DryRun)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	eng.Stop()
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
