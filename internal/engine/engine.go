// Package engine is the central orchestrator of the trading engine.
//
// It wires together every subsystem described in the spec:
//
//  1. A market data provider (stream or Alpaca-backed) feeds the bus.
//  2. An optional backfill manager replays history before live data starts.
//  3. An optional symbol scanner periodically ranks a configured universe;
//     its results are not fed into any strategy's symbol list.
//  4. The strategy registry instantiates every configured strategy, each
//     running its own dispatch goroutine off the bus.
//  5. The signal-to-order converter turns approved signals into orders.
//  6. The execution engine matches orders, mutates positions, and emits
//     fills back onto the bus for strategies to consume.
//  7. A cron scheduler drives day-boundary risk-ledger rollover and ORB's
//     forced-exit-time close, as a proactive complement to the lazy
//     per-event checks those components already perform.
//
// Lifecycle: New() → Start() → [runs until ctx is cancelled] → Stop()
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"

	"tradecore/internal/audit"
	"tradecore/internal/backfill"
	"tradecore/internal/breaker"
	"tradecore/internal/bus"
	"tradecore/internal/broker"
	"tradecore/internal/config"
	"tradecore/internal/converter"
	"tradecore/internal/execution"
	"tradecore/internal/marketdata"
	"tradecore/internal/risk"
	"tradecore/internal/store"
	"tradecore/internal/strategy"
	"tradecore/pkg/types"
)

// forceExiter is implemented by strategies with a scheduled forced-close,
// currently only ORB. Checked with a type assertion since it is not part
// of the sealed Strategy/Handler contract every strategy must satisfy.
type forceExiter interface {
	ForceCloseAll(ctx context.Context)
}

// Engine orchestrates all components and owns the lifecycle of every
// long-lived goroutine.
type Engine struct {
	cfg    config.Config
	loc    *time.Location
	logger *slog.Logger

	bus       *bus.Bus
	breakers  *breaker.Manager
	store     *store.JSONStore
	auditLog  *audit.Logger
	riskMgr   *risk.Manager
	provider  marketdata.Provider
	backfill  *backfill.Manager
	scanner   *marketdata.Scanner
	converter *converter.Converter
	execEng   *execution.Engine
	registry  *strategy.Registry
	cron      *cron.Cron

	strategies   []strategy.Strategy
	forceExiters []forceExiter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates and wires every engine component from cfg. It does not start
// any goroutines; call Start for that.
func New(cfg config.Config, logger *slog.Logger) (*Engine, error) {
	loc, err := time.LoadLocation(cfg.Location)
	if err != nil {
		return nil, fmt.Errorf("engine: load location: %w", err)
	}

	st, err := store.Open(cfg.Store.DataDir)
	if err != nil {
		return nil, fmt.Errorf("engine: open store: %w", err)
	}

	b := bus.New(logger, bus.WithBufferSize(cfg.Bus.BufferSize))
	breakers := breaker.NewManager(logger)
	auditLog := audit.New(st, logger)

	riskMgr := risk.NewManager(risk.Config{
		MaxPositionNotional:    decimal.NewFromFloat(cfg.Risk.MaxPositionNotional),
		MaxOrdersPerDay:        cfg.Risk.MaxOrdersPerDay,
		MaxDailyDollarVolume:   decimal.NewFromFloat(cfg.Risk.MaxDailyDollarVolume),
		MaxSymbolConcentration: cfg.Risk.MaxSymbolConcentration,
		MaxDailyLoss:           decimal.NewFromFloat(cfg.Risk.MaxDailyLoss),
		PortfolioEquity:        decimal.NewFromFloat(cfg.Risk.PortfolioEquity),
		Location:               loc,
	}, st, logger)

	provider, err := newProvider(cfg.MarketData, b, logger)
	if err != nil {
		return nil, err
	}

	var backfillMgr *backfill.Manager
	if cfg.Backfill.Enabled {
		backfillMgr = backfill.New(backfill.Config{
			LookbackDays: cfg.Backfill.LookbackDays,
			Timeframe:    types.Timeframe(cfg.Backfill.Timeframe),
			BatchSize:    cfg.Backfill.BatchSize,
		}, provider, b, logger)
	}

	var scanner *marketdata.Scanner
	if cfg.MarketData.Scanner.Enabled {
		scanner = marketdata.NewScanner(
			provider,
			cfg.MarketData.Scanner.Universe,
			cfg.MarketData.Scanner.TopN,
			time.Duration(cfg.MarketData.Scanner.LookbackDays)*24*time.Hour,
			types.Timeframe(cfg.Backfill.Timeframe),
			cfg.MarketData.Scanner.Interval,
			logger,
		)
	}

	conv := converter.New(converter.Config{MinConfidence: cfg.Converter.MinConfidence}, b, riskMgr, auditLog, logger)
	if cfg.Converter.ManualMode {
		conv.SetEnabled(false)
	}

	var liveBroker execution.Broker
	if cfg.Execution.Mode == "live" {
		auth := broker.NewAuth(cfg.Execution.Broker.APIKey, cfg.Execution.Broker.APISecret)
		liveBroker = broker.NewClient(cfg.Execution.Broker.BaseURL, auth)
	}
	execEng := execution.New(
		execution.Config{Mode: execution.Mode(cfg.Execution.Mode)},
		b, st, st, riskMgr, auditLog, breakers, liveBroker, logger,
	)

	registry := strategy.NewRegistry()
	registry.Register("vwap_bounce", strategy.VWAPBounceFactory(b, logger, loc), nil)
	registry.Register("orb", strategy.ORBFactory(b, logger, loc), nil)

	strategies := make([]strategy.Strategy, 0, len(cfg.Strategies))
	var forceExiters []forceExiter
	for _, sc := range cfg.Strategies {
		s, err := registry.New(sc.Name, sc.ID, sc.Symbols, sc.Params)
		if err != nil {
			return nil, fmt.Errorf("engine: construct strategy %q: %w", sc.ID, err)
		}
		strategies = append(strategies, s)
		if fe, ok := s.(forceExiter); ok {
			forceExiters = append(forceExiters, fe)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Engine{
		cfg:          cfg,
		loc:          loc,
		logger:       logger.With("component", "engine"),
		bus:          b,
		breakers:     breakers,
		store:        st,
		auditLog:     auditLog,
		riskMgr:      riskMgr,
		provider:     provider,
		backfill:     backfillMgr,
		scanner:      scanner,
		converter:    conv,
		execEng:      execEng,
		registry:     registry,
		cron:         cron.New(cron.WithLocation(loc)),
		strategies:   strategies,
		forceExiters: forceExiters,
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

// newProvider builds the generic websocket StreamProvider that owns the
// live half of the Provider contract, and attaches a HistoricalSource for
// the historical half: either the vendor-agnostic resty client or, when
// configured, the Alpaca SDK-backed adapter — both satisfy
// marketdata.HistoricalSource.
func newProvider(cfg config.MarketDataConfig, b *bus.Bus, logger *slog.Logger) (marketdata.Provider, error) {
	sp := marketdata.NewStreamProvider(
		cfg.StreamURL,
		marketdata.Credentials{APIKeyID: cfg.APIKeyID, APISecretKey: cfg.APISecretKey},
		cfg.MaxReconnectAttempts,
		b, logger,
	)

	switch cfg.Vendor {
	case "alpaca":
		sp = sp.WithHistoricalSource(marketdata.NewAlpacaHistorical(cfg.APIKeyID, cfg.APISecretKey))
	case "stream", "":
		if cfg.HistoricalURL != "" {
			sp = sp.WithHistoricalSource(marketdata.NewHistoricalClient(cfg.HistoricalURL))
		}
	default:
		return nil, fmt.Errorf("engine: unknown market_data.vendor %q", cfg.Vendor)
	}
	return sp, nil
}

// Start launches every background goroutine: the provider connection,
// backfill replay, scanner, strategy dispatch loops, converter, execution
// engine, risk ledger ticker, and the cron scheduler. Returns once every
// component has been asked to start; components run until Stop cancels the
// engine's context.
func (e *Engine) Start(ctx context.Context) error {
	e.auditLog.SystemStatus(ctx, "engine", string(types.StatusStarting), "engine starting")

	if err := e.provider.Connect(e.ctx); err != nil {
		e.auditLog.SystemStatus(ctx, "marketdata", string(types.StatusError), err.Error())
		return fmt.Errorf("engine: connect market data provider: %w", err)
	}

	symbols := e.allSymbols()
	if err := e.provider.Subscribe(symbols); err != nil {
		return fmt.Errorf("engine: subscribe symbols: %w", err)
	}

	if e.backfill != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			if err := e.backfill.Run(e.ctx, symbols); err != nil && e.ctx.Err() == nil {
				e.logger.Error("backfill run failed", "error", err)
			}
		}()
	}

	if e.scanner != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.scanner.Run(e.ctx)
		}()
	}

	for _, s := range e.strategies {
		if err := s.Initialize(e.ctx); err != nil {
			return fmt.Errorf("engine: initialize strategy %q: %w", s.ID(), err)
		}
		if err := s.Start(e.ctx); err != nil {
			return fmt.Errorf("engine: start strategy %q: %w", s.ID(), err)
		}
		e.auditLog.StrategyStateChanged(ctx, s.ID(), "started")
	}

	signalCh, err := e.bus.Subscribe(types.EventSignal)
	if err != nil {
		return fmt.Errorf("engine: subscribe signal events: %w", err)
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.converter.Run(e.ctx, signalCh)
	}()

	marketDataCh, err := e.bus.Subscribe(types.EventMarketData)
	if err != nil {
		return fmt.Errorf("engine: subscribe market data for execution: %w", err)
	}
	orderCh, err := e.bus.Subscribe(types.EventOrder)
	if err != nil {
		return fmt.Errorf("engine: subscribe order events: %w", err)
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.execEng.Run(e.ctx, marketDataCh, orderCh)
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.riskMgr.Run(e.ctx)
	}()

	e.scheduleCron()
	e.cron.Start()

	e.auditLog.SystemStatus(ctx, "engine", string(types.StatusRunning), "engine running")
	return nil
}

// scheduleCron registers the proactive cron jobs: risk-ledger rollover at
// midnight in the engine's trading-day zone, and ORB's forced-exit close
// for every ORB strategy at a fixed 15:55, the default ORB exit time.
func (e *Engine) scheduleCron() {
	if _, err := e.cron.AddFunc("0 0 * * *", e.riskMgr.Rollover); err != nil {
		e.logger.Error("schedule risk rollover cron failed", "error", err)
	}

	if len(e.forceExiters) == 0 {
		return
	}
	spec := fmt.Sprintf("%d %d * * *", 55, 15) // matches strategy.DefaultORBConfig's ExitTime (15:55)
	exiters := e.forceExiters
	if _, err := e.cron.AddFunc(spec, func() {
		for _, fe := range exiters {
			fe.ForceCloseAll(e.ctx)
		}
	}); err != nil {
		e.logger.Error("schedule orb forced-exit cron failed", "error", err)
	}
}

func (e *Engine) allSymbols() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, s := range e.strategies {
		for _, sym := range s.Symbols() {
			if _, ok := seen[sym]; !ok {
				seen[sym] = struct{}{}
				out = append(out, sym)
			}
		}
	}
	return out
}

// Stop gracefully shuts down: stops the cron scheduler, stops every
// strategy, cancels the engine context, waits for every goroutine, then
// disconnects the provider and closes the store.
func (e *Engine) Stop(ctx context.Context) {
	e.logger.Info("shutting down")
	e.auditLog.SystemStatus(ctx, "engine", string(types.StatusStopped), "engine stopping")

	cronCtx := e.cron.Stop()
	<-cronCtx.Done()

	for _, s := range e.strategies {
		if err := s.Stop(ctx); err != nil {
			e.logger.Warn("stop strategy failed", "strategy", s.ID(), "error", err)
		}
	}

	e.cancel()
	e.wg.Wait()

	if err := e.provider.Disconnect(); err != nil {
		e.logger.Warn("disconnect market data provider failed", "error", err)
	}
	e.bus.Close()
	if err := e.store.Close(); err != nil {
		e.logger.Warn("close store failed", "error", err)
	}

	e.logger.Info("shutdown complete")
}

// RiskManager exposes the risk manager for embedders (dashboards, CLI
// status commands) that want a read-only ledger snapshot.
func (e *Engine) RiskManager() *risk.Manager { return e.riskMgr }

// Breakers exposes the circuit breaker manager so an embedder can surface
// breaker state (e.g. over a metrics or status endpoint).
func (e *Engine) Breakers() *breaker.Manager { return e.breakers }
