// Trading Core — a venue-agnostic order-routing and market-data process
// that strategy processes drive over three IPC channels (market, orders,
// reports) and a query/health HTTP surface.
//
// Architecture:
//
//	main.go                 — entry point: loads config, starts core, waits for SIGINT/SIGTERM
//	internal/core           — orchestrator: wires registry, adapters, cache, router, IPC, API
//	internal/exchange       — venue adapters (binance, okx) behind a capability-gated interface
//	internal/router         — order lifecycle state machine, one in-flight entry per client_order_id
//	internal/supervisor     — reconnect-with-backoff + subscription replay per stream
//	internal/marketcache    — bounded ring-buffer cache of the latest frames per (venue, symbol, stream)
//	internal/ipc            — the three IPC buses: market (drop-oldest), orders (worker pool), reports (backpressure)
//	internal/query          — request/reply facade over the registry and adapter-backed account reads
//	internal/api            — HTTP health/query surface + the three IPC buses re-terminated as WebSocket
//	internal/registry       — strategy config + credentials, persisted via internal/store
//	internal/admission      — risk/eligibility gate evaluated before every order leaves the process
//	pkg/types, pkg/errs     — shared wire types and the VENUE/TRANSPORT/PROTOCOL/ADMISSION error taxonomy
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"tradingcore/internal/config"
	"tradingcore/internal/core"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("TRADINGCORE_CONFIG"); p != "" {
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

	c, err := core.New(*cfg, logger)
	if err != nil {
		logger.Error("failed to build trading core", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := c.Start(ctx); err != nil {
		logger.Error("failed to start trading core", "error", err)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("received shutdown signal")

	if err := c.Stop(); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
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
