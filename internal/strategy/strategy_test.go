package strategy

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"tradecore/internal/bus"
	"tradecore/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// recordingHandler captures every dispatched call so tests can assert on
// what the Runtime routed to it.
type recordingHandler struct {
	marketData []types.MarketDataEvent
	orderFills []types.OrderFilledEvent
}

func (h *recordingHandler) OnMarketData(ctx context.Context, event types.MarketDataEvent) {
	h.marketData = append(h.marketData, event)
}

func (h *recordingHandler) OnOrderFilled(ctx context.Context, event types.OrderFilledEvent) {
	h.orderFills = append(h.orderFills, event)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestRuntimeDispatchesOnlyOwnedSymbols(t *testing.T) {
	t.Parallel()
	logger := testLogger()
	b := bus.New(logger)
	handler := &recordingHandler{}
	rt := NewRuntime("s1", "test", []string{"AAPL"}, handler, b, logger)

	if err := rt.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := rt.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer rt.Stop(context.Background())

	b.Publish(ctx, types.MarketDataEvent{Symbol: "AAPL", Close: 100, EventTime: time.Now()})
	b.Publish(ctx, types.MarketDataEvent{Symbol: "MSFT", Close: 200, EventTime: time.Now()})

	waitFor(t, func() bool { return len(handler.marketData) >= 1 })
	time.Sleep(20 * time.Millisecond) // let a stray MSFT dispatch land if it were wrongly owned

	if len(handler.marketData) != 1 {
		t.Fatalf("marketData dispatches = %d, want 1 (MSFT should have been filtered)", len(handler.marketData))
	}
	if handler.marketData[0].Symbol != "AAPL" {
		t.Errorf("dispatched symbol = %q, want AAPL", handler.marketData[0].Symbol)
	}
}

func TestRuntimeDispatchesOrderFilledForOwnedSymbol(t *testing.T) {
	t.Parallel()
	logger := testLogger()
	b := bus.New(logger)
	handler := &recordingHandler{}
	rt := NewRuntime("s2", "test", []string{"AAPL"}, handler, b, logger)

	if err := rt.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := rt.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer rt.Stop(context.Background())

	b.Publish(ctx, types.OrderFilledEvent{Symbol: "AAPL", Action: types.Buy, FillPrice: 101, FillTime: time.Now()})

	waitFor(t, func() bool { return len(handler.orderFills) == 1 })
}

func TestPublishSignalSuppressedWhenNotRunning(t *testing.T) {
	t.Parallel()
	logger := testLogger()
	b := bus.New(logger)
	handler := &recordingHandler{}
	rt := NewRuntime("s3", "test", []string{"AAPL"}, handler, b, logger)

	sigCh, err := b.Subscribe(types.EventSignal)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	// never started: running is false
	rt.PublishSignal(context.Background(), types.SignalEvent{Symbol: "AAPL", Action: types.Buy})

	select {
	case evt := <-sigCh:
		t.Fatalf("expected no signal from a stopped runtime, got %+v", evt)
	default:
	}
}

func TestPublishSignalStampsEventTimeWhenZero(t *testing.T) {
	t.Parallel()
	logger := testLogger()
	b := bus.New(logger)
	handler := &recordingHandler{}
	rt := NewRuntime("s4", "test", []string{"AAPL"}, handler, b, logger)

	sigCh, err := b.Subscribe(types.EventSignal)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := rt.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer rt.Stop(context.Background())

	rt.PublishSignal(ctx, types.SignalEvent{Symbol: "AAPL", Action: types.Buy})

	select {
	case evt := <-sigCh:
		sig := evt.(types.SignalEvent)
		if sig.EventTime.IsZero() {
			t.Error("expected EventTime to be stamped, got zero value")
		}
	default:
		t.Fatal("expected a signal event")
	}
}

func TestSymbolsReturnsFixedSet(t *testing.T) {
	t.Parallel()
	logger := testLogger()
	b := bus.New(logger)
	handler := &recordingHandler{}
	rt := NewRuntime("s5", "test", []string{"AAPL", "MSFT"}, handler, b, logger)

	symbols := rt.Symbols()
	if len(symbols) != 2 {
		t.Fatalf("Symbols() = %v, want 2 entries", symbols)
	}
	seen := map[string]bool{}
	for _, s := range symbols {
		seen[s] = true
	}
	if !seen["AAPL"] || !seen["MSFT"] {
		t.Errorf("Symbols() = %v, want AAPL and MSFT", symbols)
	}
}

func TestStopIsIdempotentBeforeStart(t *testing.T) {
	t.Parallel()
	logger := testLogger()
	b := bus.New(logger)
	handler := &recordingHandler{}
	rt := NewRuntime("s6", "test", []string{"AAPL"}, handler, b, logger)

	if err := rt.Stop(context.Background()); err != nil {
		t.Fatalf("Stop before Start should be a no-op, got: %v", err)
	}
	if err := rt.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop before Start should also be a no-op, got: %v", err)
	}
	if rt.IsRunning() {
		t.Error("IsRunning() = true, want false")
	}
}
