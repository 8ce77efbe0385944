// Package backfill replays historical bars onto the event bus ahead of live
// streaming, so strategies and indicators warm up with real history instead
// of starting cold.
package backfill

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"tradecore/internal/bus"
	"tradecore/internal/marketdata"
	"tradecore/pkg/types"
)

// Config tunes one backfill run.
type Config struct {
	LookbackDays int
	Timeframe    types.Timeframe
	BatchSize    int
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.LookbackDays <= 0 {
		c.LookbackDays = 5
	}
	return c
}

// interBatchPause throttles replay so downstream subscribers never see a
// burst larger than BatchSize at once.
const interBatchPause = 10 * time.Millisecond

// Manager replays historical bars for a fixed symbol set through a Provider
// onto the bus, in ascending timestamp order per symbol.
type Manager struct {
	cfg      Config
	provider marketdata.Provider
	bus      *bus.Bus
	logger   *slog.Logger
}

// New creates a backfill Manager.
func New(cfg Config, provider marketdata.Provider, b *bus.Bus, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:      cfg.withDefaults(),
		provider: provider,
		bus:      b,
		logger:   logger.With("component", "backfill"),
	}
}

// Run fetches and replays history for every symbol in order, returning once
// all symbols have been replayed or ctx is cancelled.
func (m *Manager) Run(ctx context.Context, symbols []string) error {
	end := time.Now()
	start := end.AddDate(0, 0, -m.cfg.LookbackDays)

	for _, symbol := range symbols {
		if err := ctx.Err(); err != nil {
			return err
		}
		bars, err := m.provider.GetHistoricalBars(ctx, symbol, m.cfg.Timeframe, start, end)
		if err != nil {
			m.logger.Warn("backfill fetch failed", "symbol", symbol, "error", err)
			continue
		}
		sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
		m.logger.Info("replaying history", "symbol", symbol, "bars", len(bars))
		m.replay(ctx, bars)
	}
	return nil
}

func (m *Manager) replay(ctx context.Context, bars []types.Bar) {
	for i, bar := range bars {
		if ctx.Err() != nil {
			return
		}
		m.bus.Publish(ctx, types.MarketDataEvent{
			Symbol:        bar.Symbol,
			Open:          bar.Open,
			High:          bar.High,
			Low:           bar.Low,
			Close:         bar.Close,
			Volume:        bar.Volume,
			DataTimestamp: bar.Timestamp,
			EventTime:     time.Now(),
		})
		if (i+1)%m.cfg.BatchSize == 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(interBatchPause):
			}
		}
	}
}
