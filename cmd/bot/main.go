// tradecore — an algorithmic trading engine that ingests market bars, runs
// pluggable strategies concurrently, converts signals into risk-validated
// orders, and executes them against a simulated or live broker.
//
// Architecture:
//
//	main.go                      — entry point: loads config, starts the engine, waits for SIGINT/SIGTERM
//	engine/engine.go             — orchestrator: wires provider → strategies → converter → execution
//	bus/bus.go                   — typed pub/sub event bus, bounded per-subscriber buffers
//	marketdata/stream.go         — websocket streaming provider with reconnect/backoff/resubscribe
//	backfill/backfill.go         — historical bar replay ahead of live data
//	strategy/                    — strategy runtime + VWAP Bounce and Opening Range Breakout
//	converter/converter.go       — confidence gate + risk validation → order events
//	risk/manager.go              — pre-trade limits, daily ledger, day-boundary rollover
//	execution/execution.go       — order matching, position mutation, fill publication
//	breaker/breaker.go           — circuit breakers guarding downstream I/O
//	audit/audit.go               — structured audit trail
//	store/store.go               — JSON file persistence for orders, trades, positions, ledger
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"tradecore/internal/config"
	"tradecore/internal/engine"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("TC_CONFIG"); p != "" {
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

	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startCancel()
	if err := eng.Start(startCtx); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	logger.Info("tradecore started",
		"strategies", len(cfg.Strategies),
		"execution_mode", cfg.Execution.Mode,
		"location", cfg.Location,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	eng.Stop(stopCtx)
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
