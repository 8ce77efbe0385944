package backfill

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"tradecore/internal/bus"
	"tradecore/pkg/types"
)

type fakeProvider struct {
	bars map[string][]types.Bar
}

func (f *fakeProvider) Connect(ctx context.Context) error    { return nil }
func (f *fakeProvider) Disconnect() error                    { return nil }
func (f *fakeProvider) Subscribe(symbols []string) error      { return nil }
func (f *fakeProvider) Unsubscribe(symbols []string) error    { return nil }
func (f *fakeProvider) IsConnected() bool                     { return true }
func (f *fakeProvider) GetHistoricalBars(ctx context.Context, symbol string, timeframe types.Timeframe, start, end time.Time) ([]types.Bar, error) {
	bars, ok := f.bars[symbol]
	if !ok {
		return nil, errors.New("no history for symbol")
	}
	return bars, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestRunReplaysBarsInAscendingOrder(t *testing.T) {
	t.Parallel()
	logger := testLogger()
	b := bus.New(logger)
	ch, err := b.Subscribe(types.EventMarketData)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	now := time.Now()
	provider := &fakeProvider{bars: map[string][]types.Bar{
		"AAPL": {
			{Symbol: "AAPL", Close: 102, Timestamp: now.Add(2 * time.Minute)},
			{Symbol: "AAPL", Close: 100, Timestamp: now},
			{Symbol: "AAPL", Close: 101, Timestamp: now.Add(time.Minute)},
		},
	}}

	m := New(Config{LookbackDays: 1, Timeframe: types.Timeframe1Min, BatchSize: 10}, provider, b, logger)
	if err := m.Run(context.Background(), []string{"AAPL"}); err != nil {
		t.Fatalf("run: %v", err)
	}

	var closes []float64
	for i := 0; i < 3; i++ {
		select {
		case evt := <-ch:
			closes = append(closes, evt.(types.MarketDataEvent).Close)
		default:
			t.Fatalf("expected 3 replayed events, got %d", i)
		}
	}

	if closes[0] != 100 || closes[1] != 101 || closes[2] != 102 {
		t.Errorf("replay order = %v, want ascending by timestamp", closes)
	}
}

func TestRunSkipsSymbolOnFetchError(t *testing.T) {
	t.Parallel()
	logger := testLogger()
	b := bus.New(logger)
	ch, _ := b.Subscribe(types.EventMarketData)

	provider := &fakeProvider{bars: map[string][]types.Bar{}}
	m := New(Config{LookbackDays: 1, Timeframe: types.Timeframe1Min, BatchSize: 10}, provider, b, logger)

	if err := m.Run(context.Background(), []string{"UNKNOWN"}); err != nil {
		t.Fatalf("run: %v", err)
	}

	select {
	case evt := <-ch:
		t.Fatalf("expected no replayed events for a symbol whose fetch failed, got %+v", evt)
	default:
	}
}
