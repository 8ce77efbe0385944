package marketdata

import (
	"log/slog"
	"os"
	"testing"

	"tradecore/internal/bus"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestStreamProviderStartsDisconnected(t *testing.T) {
	t.Parallel()
	p := NewStreamProvider("wss://example.test", Credentials{}, 5, bus.New(testLogger()), testLogger())
	if p.IsConnected() {
		t.Error("a freshly constructed provider should not report connected")
	}
}

func TestSubscribeFailsBeforeConnect(t *testing.T) {
	t.Parallel()
	p := NewStreamProvider("wss://example.test", Credentials{}, 5, bus.New(testLogger()), testLogger())

	if err := p.Subscribe([]string{"AAPL"}); err != ErrNotConnected {
		t.Errorf("Subscribe before Connect = %v, want ErrNotConnected", err)
	}
}

func TestDisconnectIsSafeWithoutConnection(t *testing.T) {
	t.Parallel()
	p := NewStreamProvider("wss://example.test", Credentials{}, 5, bus.New(testLogger()), testLogger())

	if err := p.Disconnect(); err != nil {
		t.Errorf("Disconnect on an unconnected provider = %v, want nil", err)
	}
	if p.IsConnected() {
		t.Error("IsConnected() should be false after Disconnect")
	}
}

func TestDispatchPublishesWellFormedBar(t *testing.T) {
	t.Parallel()
	b := bus.New(testLogger())
	p := NewStreamProvider("wss://example.test", Credentials{}, 5, b, testLogger())

	ch, err := b.Subscribe("market_data")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	p.dispatch([]byte(`{"symbol":"AAPL","open":100,"high":101,"low":99,"close":100.5,"volume":1000,"ts":"2026-07-30T14:30:00Z"}`))

	select {
	case evt := <-ch:
		if evt.OccurredAt().IsZero() {
			t.Error("expected a non-zero event time")
		}
	default:
		t.Fatal("expected a market data event to be published")
	}
}

func TestDispatchIgnoresMalformedMessages(t *testing.T) {
	t.Parallel()
	b := bus.New(testLogger())
	p := NewStreamProvider("wss://example.test", Credentials{}, 5, b, testLogger())

	ch, err := b.Subscribe("market_data")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	p.dispatch([]byte(`not json`))

	select {
	case evt := <-ch:
		t.Fatalf("expected no event from a malformed message, got %+v", evt)
	default:
	}
}
