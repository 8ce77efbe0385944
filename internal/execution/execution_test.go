package execution

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tradecore/internal/audit"
	"tradecore/internal/breaker"
	"tradecore/internal/bus"
	"tradecore/internal/repo"
	"tradecore/internal/risk"
	"tradecore/internal/store"
	"tradecore/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func permissiveRiskConfig() risk.Config {
	return risk.Config{
		MaxPositionNotional:    decimal.NewFromInt(1_000_000),
		MaxOrdersPerDay:        1000,
		MaxDailyDollarVolume:   decimal.NewFromInt(10_000_000),
		MaxSymbolConcentration: 1,
		MaxDailyLoss:           decimal.NewFromInt(1_000_000),
		PortfolioEquity:        decimal.NewFromInt(1_000_000),
		Location:               time.UTC,
	}
}

func newTestEngine(t *testing.T, mode Mode) (*Engine, *bus.Bus, *store.JSONStore) {
	t.Helper()
	logger := testLogger()
	b := bus.New(logger)
	dir := t.TempDir()
	s, err := store.Open(dir)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	riskMgr := risk.NewManager(permissiveRiskConfig(), s, logger)
	auditLog := audit.New(s, logger)
	cbManager := breaker.NewManager(logger)
	eng := New(Config{Mode: mode}, b, s, s, riskMgr, auditLog, cbManager, nil, logger)
	return eng, b, s
}

func marketBar(symbol string, close float64) types.MarketDataEvent {
	now := time.Now()
	return types.MarketDataEvent{Symbol: symbol, Open: close, High: close, Low: close, Close: close, Volume: 1000, DataTimestamp: now, EventTime: now}
}

func TestMarketOrderFillsImmediatelyWhenPriceKnown(t *testing.T) {
	t.Parallel()
	eng, b, _ := newTestEngine(t, ModeSimulated)
	fillCh, err := b.Subscribe(types.EventOrderFilled)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	eng.updateMarketPrice(marketBar("AAPL", 100))

	eng.handleOrder(context.Background(), types.OrderEvent{
		OrderID: "o1", Symbol: "AAPL", Action: types.Buy, Quantity: 10,
		OrderType: types.OrderTypeMarket, Status: types.OrderPending, EventTime: time.Now(),
	})

	select {
	case evt := <-fillCh:
		fill := evt.(types.OrderFilledEvent)
		if fill.FilledQty != 10 {
			t.Errorf("filled qty = %v, want 10", fill.FilledQty)
		}
		if fill.FillPrice <= 0 {
			t.Errorf("fill price = %v, want > 0", fill.FillPrice)
		}
	default:
		t.Fatal("expected a fill event for a market order with known price")
	}
}

func TestMarketOrderStaysPendingWithoutPrice(t *testing.T) {
	t.Parallel()
	eng, b, _ := newTestEngine(t, ModeSimulated)
	fillCh, _ := b.Subscribe(types.EventOrderFilled)

	eng.handleOrder(context.Background(), types.OrderEvent{
		OrderID: "o2", Symbol: "MSFT", Action: types.Buy, Quantity: 10,
		OrderType: types.OrderTypeMarket, Status: types.OrderPending, EventTime: time.Now(),
	})

	select {
	case evt := <-fillCh:
		t.Fatalf("expected no fill without market data, got %+v", evt)
	default:
	}

	eng.pendingMu.RLock()
	_, exists := eng.pending["o2"]
	eng.pendingMu.RUnlock()
	if !exists {
		t.Error("expected order to remain pending")
	}
}

func TestLimitOrderFillsWhenPriceCrosses(t *testing.T) {
	t.Parallel()
	eng, b, _ := newTestEngine(t, ModeSimulated)
	fillCh, _ := b.Subscribe(types.EventOrderFilled)

	eng.updateMarketPrice(marketBar("AAPL", 105))

	eng.handleOrder(context.Background(), types.OrderEvent{
		OrderID: "o3", Symbol: "AAPL", Action: types.Buy, Quantity: 10, Price: 110,
		OrderType: types.OrderTypeLimit, Status: types.OrderPending, EventTime: time.Now(),
	})

	select {
	case evt := <-fillCh:
		t.Fatalf("did not expect immediate fill for a limit order, got %+v", evt)
	default:
	}

	eng.checkLimitOrders(context.Background())

	select {
	case evt := <-fillCh:
		fill := evt.(types.OrderFilledEvent)
		if fill.FillPrice != 110 {
			t.Errorf("fill price = %v, want limit price 110", fill.FillPrice)
		}
	default:
		t.Fatal("expected limit order to fill once ask crosses the limit price")
	}
}

func TestOrderRejectedByRiskNeverBecomesPending(t *testing.T) {
	t.Parallel()
	logger := testLogger()
	b := bus.New(logger)
	dir := t.TempDir()
	s, err := store.Open(dir)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	cfg := permissiveRiskConfig()
	cfg.MaxPositionNotional = decimal.NewFromInt(100)
	riskMgr := risk.NewManager(cfg, s, logger)
	auditLog := audit.New(s, logger)
	cbManager := breaker.NewManager(logger)
	eng := New(Config{Mode: ModeSimulated}, b, s, s, riskMgr, auditLog, cbManager, nil, logger)

	eng.updateMarketPrice(marketBar("AAPL", 100))
	eng.handleOrder(context.Background(), types.OrderEvent{
		OrderID: "o4", Symbol: "AAPL", Action: types.Buy, Quantity: 100,
		OrderType: types.OrderTypeMarket, Status: types.OrderPending, EventTime: time.Now(),
	})

	eng.pendingMu.RLock()
	_, exists := eng.pending["o4"]
	eng.pendingMu.RUnlock()
	if exists {
		t.Error("order breaching risk should never become pending")
	}
}

func TestUpdatePositionOpensAveragesAndClosesWithRealizedPnL(t *testing.T) {
	t.Parallel()
	eng, _, s := newTestEngine(t, ModeSimulated)
	ctx := context.Background()

	// Open 10 @ 100
	eng.updatePosition(ctx, "AAPL", types.Buy, 10, 100)
	pos, err := s.GetPosition(ctx, "AAPL")
	if err != nil || pos == nil {
		t.Fatalf("get position: %v", err)
	}
	if pos.Quantity != 10 || pos.AveragePrice != 100 {
		t.Errorf("position after open = %+v, want qty=10 avg=100", pos)
	}

	// Add 10 @ 200 -> avg 150
	eng.updatePosition(ctx, "AAPL", types.Buy, 10, 200)
	pos, _ = s.GetPosition(ctx, "AAPL")
	if pos.Quantity != 20 || pos.AveragePrice != 150 {
		t.Errorf("position after add = %+v, want qty=20 avg=150", pos)
	}

	// Close 20 @ 180 -> realized (180-150)*20 = 600
	realized := eng.updatePosition(ctx, "AAPL", types.Sell, 20, 180)
	if realized != 600 {
		t.Errorf("realized pnl = %v, want 600", realized)
	}
	pos, _ = s.GetPosition(ctx, "AAPL")
	if pos.Quantity != 0 {
		t.Errorf("position quantity after close = %v, want 0", pos.Quantity)
	}
}

func TestUpdatePositionFlipsThroughFlat(t *testing.T) {
	t.Parallel()
	eng, _, s := newTestEngine(t, ModeSimulated)
	ctx := context.Background()

	eng.updatePosition(ctx, "AAPL", types.Buy, 10, 100)
	// Sell 15: closes the 10 long (realized (90-100)*10 = -100) and opens 5 short @ 90.
	realized := eng.updatePosition(ctx, "AAPL", types.Sell, 15, 90)
	if realized != -100 {
		t.Errorf("realized pnl on flip = %v, want -100", realized)
	}
	pos, err := s.GetPosition(ctx, "AAPL")
	if err != nil || pos == nil {
		t.Fatalf("get position: %v", err)
	}
	if pos.Quantity != -5 {
		t.Errorf("quantity after flip = %v, want -5", pos.Quantity)
	}
	if pos.Side != types.Short {
		t.Errorf("side after flip = %v, want SHORT", pos.Side)
	}
	if pos.AveragePrice != 90 {
		t.Errorf("average price after flip = %v, want 90", pos.AveragePrice)
	}
}

func TestOrderStatusPersistedAsRejected(t *testing.T) {
	t.Parallel()
	logger := testLogger()
	b := bus.New(logger)
	dir := t.TempDir()
	s, err := store.Open(dir)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	ctx := context.Background()
	if err := s.UpsertOrder(ctx, repo.Order{ID: "o5", Symbol: "AAPL", Status: types.OrderPending, SubmittedAt: time.Now()}); err != nil {
		t.Fatalf("seed order: %v", err)
	}

	cfg := permissiveRiskConfig()
	cfg.MaxPositionNotional = decimal.NewFromInt(10)
	riskMgr := risk.NewManager(cfg, s, logger)
	auditLog := audit.New(s, logger)
	cbManager := breaker.NewManager(logger)
	eng := New(Config{Mode: ModeSimulated}, b, s, s, riskMgr, auditLog, cbManager, nil, logger)

	eng.updateMarketPrice(marketBar("AAPL", 100))
	eng.handleOrder(ctx, types.OrderEvent{
		OrderID: "o5", Symbol: "AAPL", Action: types.Buy, Quantity: 10,
		OrderType: types.OrderTypeMarket, Status: types.OrderPending, EventTime: time.Now(),
	})

	// rejectOrder persists the status transition via UpdateOrderStatus on the
	// seeded order record (notional 10 x 100.05 exceeds the limit of 10).
	data, err := os.ReadFile(filepath.Join(dir, "order_o5.json"))
	if err != nil {
		t.Fatalf("read persisted order o5: %v", err)
	}
	var persisted repo.Order
	if err := json.Unmarshal(data, &persisted); err != nil {
		t.Fatalf("decode persisted order o5: %v", err)
	}
	if persisted.Status != types.OrderRejected {
		t.Errorf("persisted status = %v, want REJECTED", persisted.Status)
	}
}
