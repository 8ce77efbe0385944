package risk

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tradecore/internal/store"
	"tradecore/pkg/types"
)

func testConfig(loc *time.Location) Config {
	return Config{
		MaxPositionNotional:    decimal.NewFromInt(10000),
		MaxOrdersPerDay:        10,
		MaxDailyDollarVolume:   decimal.NewFromInt(50000),
		MaxSymbolConcentration: 0.25,
		MaxDailyLoss:           decimal.NewFromInt(1000),
		PortfolioEquity:        decimal.NewFromInt(40000),
		Location:               loc,
	}
}

func newTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(dir)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewManager(cfg, s, logger)
}

func TestValidateOrderUnderLimitsApproves(t *testing.T) {
	t.Parallel()
	rm := newTestManager(t, testConfig(time.UTC))

	result := rm.ValidateOrder(OrderRequest{Symbol: "AAPL", Side: types.Buy, Quantity: 10, Price: 100})
	if !result.Approved {
		t.Fatalf("expected approval, got rejections: %v", result.Rejections)
	}
	if len(result.Rejections) != 0 {
		t.Errorf("expected no rejections, got %v", result.Rejections)
	}
}

func TestValidateOrderRejectsPositionSize(t *testing.T) {
	t.Parallel()
	rm := newTestManager(t, testConfig(time.UTC))

	result := rm.ValidateOrder(OrderRequest{Symbol: "AAPL", Side: types.Buy, Quantity: 200, Price: 100})
	if result.Approved {
		t.Fatal("expected rejection for position size over max notional")
	}
	if len(result.Rejections) == 0 {
		t.Error("expected at least one rejection reason")
	}
	if result.RiskScore < 1 {
		t.Errorf("risk score = %v, want >= 1 for a breaching order", result.RiskScore)
	}
}

func TestValidateOrderWarnsNearThreshold(t *testing.T) {
	t.Parallel()
	rm := newTestManager(t, testConfig(time.UTC))

	// 8500 / 10000 = 0.85, above the 0.80 warning threshold but not rejected.
	result := rm.ValidateOrder(OrderRequest{Symbol: "AAPL", Side: types.Buy, Quantity: 85, Price: 100})
	if !result.Approved {
		t.Fatal("expected approval below the hard limit")
	}
	if len(result.Warnings) == 0 {
		t.Error("expected a warning for an order above 80% of max notional")
	}
}

func TestValidateOrderRejectsDailyOrderCount(t *testing.T) {
	t.Parallel()
	cfg := testConfig(time.UTC)
	cfg.MaxOrdersPerDay = 2
	rm := newTestManager(t, cfg)

	req := OrderRequest{Symbol: "AAPL", Side: types.Buy, Quantity: 1, Price: 100}
	rm.RecordOrder(req)
	rm.RecordOrder(req)

	result := rm.ValidateOrder(req)
	if result.Approved {
		t.Fatal("expected rejection once daily order count limit is reached")
	}
}

func TestValidateOrderRejectsRealizedDailyLoss(t *testing.T) {
	t.Parallel()
	rm := newTestManager(t, testConfig(time.UTC))

	rm.RecordRealizedPnL(-1200)

	result := rm.ValidateOrder(OrderRequest{Symbol: "AAPL", Side: types.Buy, Quantity: 1, Price: 10})
	if result.Approved {
		t.Fatal("expected rejection once realized daily loss limit is breached")
	}
}

func TestValidateOrderRejectsConcentration(t *testing.T) {
	t.Parallel()
	cfg := testConfig(time.UTC)
	cfg.MaxPositionNotional = decimal.NewFromInt(1_000_000)
	cfg.PortfolioEquity = decimal.NewFromInt(1000)
	cfg.MaxSymbolConcentration = 0.25
	rm := newTestManager(t, cfg)

	// notional 500 / equity 1000 = 0.5 > 0.25
	result := rm.ValidateOrder(OrderRequest{Symbol: "AAPL", Side: types.Buy, Quantity: 5, Price: 100})
	if result.Approved {
		t.Fatal("expected rejection for single-name concentration breach")
	}
}

func TestRecordOrderAccumulatesLedger(t *testing.T) {
	t.Parallel()
	rm := newTestManager(t, testConfig(time.UTC))

	rm.RecordOrder(OrderRequest{Symbol: "AAPL", Side: types.Buy, Quantity: 10, Price: 100})
	rm.RecordOrder(OrderRequest{Symbol: "MSFT", Side: types.Buy, Quantity: 5, Price: 200})

	snap := rm.Snapshot()
	if snap.OrdersCount != 2 {
		t.Errorf("orders count = %d, want 2", snap.OrdersCount)
	}
	if !snap.DollarVolume.Equal(decimal.NewFromInt(2000)) {
		t.Errorf("dollar volume = %v, want 2000", snap.DollarVolume)
	}
}

func TestLedgerPersistsAndReloadsSameDay(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	s, err := store.Open(dir)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	cfg := testConfig(time.UTC)

	rm1 := NewManager(cfg, s, logger)
	rm1.RecordOrder(OrderRequest{Symbol: "AAPL", Side: types.Buy, Quantity: 10, Price: 100})

	rm2 := NewManager(cfg, s, logger)
	snap := rm2.Snapshot()
	if snap.OrdersCount != 1 {
		t.Errorf("reloaded orders count = %d, want 1", snap.OrdersCount)
	}
	if !snap.DollarVolume.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("reloaded dollar volume = %v, want 1000", snap.DollarVolume)
	}
}

func TestLedgerRollsOverOnDayChange(t *testing.T) {
	t.Parallel()
	rm := newTestManager(t, testConfig(time.UTC))

	rm.RecordOrder(OrderRequest{Symbol: "AAPL", Side: types.Buy, Quantity: 10, Price: 100})

	// Force a stale day into the in-memory ledger directly, bypassing the
	// lazy real-time check, to simulate a day boundary having passed.
	rm.mu.Lock()
	rm.ledger.Day = "2000-01-01"
	rm.mu.Unlock()

	snap := rm.Snapshot()
	if snap.Day == "2000-01-01" {
		t.Error("expected ledger to roll over to the current day")
	}
	if snap.OrdersCount != 0 {
		t.Errorf("orders count after rollover = %d, want 0", snap.OrdersCount)
	}
}
