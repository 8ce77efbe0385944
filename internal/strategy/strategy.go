// Package strategy implements the strategy runtime and the concrete
// strategies that run on it. Each strategy is a per-symbol-set state machine
// driven by market data; it speaks to the rest of the system only by
// publishing Signal events onto the bus.
package strategy

import (
	"context"
	"log/slog"
	"time"

	"tradecore/internal/bus"
	"tradecore/pkg/types"
)

// Strategy is the contract every concrete strategy implementation satisfies.
type Strategy interface {
	ID() string
	Name() string
	Symbols() []string
	Initialize(ctx context.Context) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	IsRunning() bool
}

// Handler is implemented by concrete strategies to react to bus events. The
// base Runtime dispatches into these after filtering for symbol membership.
type Handler interface {
	OnMarketData(ctx context.Context, event types.MarketDataEvent)
	OnOrderFilled(ctx context.Context, event types.OrderFilledEvent)
}

// Runtime is the base strategy runtime: it owns the bus subscriptions and
// the dispatch loop common to every strategy, and is embedded by each
// concrete strategy.
type Runtime struct {
	id      string
	name    string
	symbols map[string]struct{}
	handler Handler

	bus    *bus.Bus
	logger *slog.Logger

	marketDataCh <-chan types.Event
	orderFilledCh <-chan types.Event

	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewRuntime wires a concrete strategy's Handler into the base runtime.
func NewRuntime(id, name string, symbols []string, handler Handler, b *bus.Bus, logger *slog.Logger) *Runtime {
	symbolSet := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		symbolSet[s] = struct{}{}
	}
	return &Runtime{
		id:      id,
		name:    name,
		symbols: symbolSet,
		handler: handler,
		bus:     b,
		logger:  logger.With("strategy", id),
	}
}

func (r *Runtime) ID() string     { return r.id }
func (r *Runtime) Name() string   { return r.name }
func (r *Runtime) IsRunning() bool { return r.running }

// Symbols returns the strategy's fixed symbol set in no particular order.
func (r *Runtime) Symbols() []string {
	out := make([]string, 0, len(r.symbols))
	for s := range r.symbols {
		out = append(out, s)
	}
	return out
}

// Initialize subscribes to the event types this strategy cares about.
// Must be called before Start.
func (r *Runtime) Initialize(ctx context.Context) error {
	mdCh, err := r.bus.Subscribe(types.EventMarketData)
	if err != nil {
		return err
	}
	ofCh, err := r.bus.Subscribe(types.EventOrderFilled)
	if err != nil {
		return err
	}
	r.marketDataCh = mdCh
	r.orderFilledCh = ofCh
	return nil
}

// Start begins the dispatch loop on its own goroutine. Returns immediately.
func (r *Runtime) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.running = true

	go r.loop(runCtx)
	return nil
}

// Stop cancels the dispatch loop and waits for it to exit.
func (r *Runtime) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}
	if r.done != nil {
		select {
		case <-r.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.running = false
	return nil
}

func (r *Runtime) loop(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-r.marketDataCh:
			if !ok {
				return
			}
			md := evt.(types.MarketDataEvent)
			if !r.owns(md.Symbol) {
				continue
			}
			r.handler.OnMarketData(ctx, md)
		case evt, ok := <-r.orderFilledCh:
			if !ok {
				return
			}
			of := evt.(types.OrderFilledEvent)
			if !r.owns(of.Symbol) {
				continue
			}
			r.handler.OnOrderFilled(ctx, of)
		}
	}
}

func (r *Runtime) owns(symbol string) bool {
	_, ok := r.symbols[symbol]
	return ok
}

// PublishSignal emits a Signal event, unless the strategy is not running —
// a stopped strategy never trades.
func (r *Runtime) PublishSignal(ctx context.Context, signal types.SignalEvent) {
	if !r.running {
		return
	}
	if signal.EventTime.IsZero() {
		signal.EventTime = time.Now()
	}
	r.bus.Publish(ctx, signal)
}
