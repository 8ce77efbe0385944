// Package execution matches orders against live market data and mutates
// positions and the audit trail as fills occur.
package execution

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"tradecore/internal/audit"
	"tradecore/internal/breaker"
	"tradecore/internal/bus"
	"tradecore/internal/metrics"
	"tradecore/internal/repo"
	"tradecore/internal/risk"
	"tradecore/pkg/types"
)

// Mode selects how orders reach the market.
type Mode string

const (
	ModeSimulated Mode = "simulated"
	ModeLive      Mode = "live"
)

// demoSlippage is the slippage applied to simulated market fills, matching
// the teacher's demo-mode convention.
const demoSlippage = 0.0005

// syntheticSpread is the bid/ask spread synthesized from the last trade
// price for simulated matching.
const syntheticSpread = 0.001

// Broker is the live-order submission seam. internal/broker.Client
// satisfies this.
type Broker interface {
	Submit(ctx context.Context, orderID, symbol string, side types.Side, quantity float64, orderType types.OrderType, limitPrice float64) error
}

// MarketPrice is the synthesized bid/ask cache used for matching, never
// persisted.
type MarketPrice struct {
	Symbol    string
	Bid       float64
	Ask       float64
	Last      float64
	Timestamp time.Time
}

// PendingOrder is an order awaiting a fill, mutated in place as partial
// fills accumulate.
type PendingOrder struct {
	OrderID      string
	StrategyID   string
	Symbol       string
	Action       types.Side
	Quantity     float64
	OrderType    types.OrderType
	LimitPrice   float64
	FilledQty    float64
	AvgFillPrice float64
	Status       types.OrderStatus
	SubmittedAt  time.Time
}

// Config tunes matching behaviour.
type Config struct {
	Mode Mode
}

// Engine matches pending orders against synthesized market prices, mutates
// positions on fill, and publishes OrderFilledEvent.
type Engine struct {
	cfg Config

	bus        *bus.Bus
	orders     repo.OrdersRepo
	portfolio  repo.PortfolioRepo
	riskMgr    *risk.Manager
	auditLog   *audit.Logger
	cbManager  *breaker.Manager
	liveBroker Broker
	logger     *slog.Logger

	marketMu sync.RWMutex
	market   map[string]*MarketPrice

	pendingMu sync.RWMutex
	pending   map[string]*PendingOrder
}

// New creates an execution Engine.
func New(cfg Config, b *bus.Bus, orders repo.OrdersRepo, portfolio repo.PortfolioRepo, riskMgr *risk.Manager, auditLog *audit.Logger, cbManager *breaker.Manager, liveBroker Broker, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:        cfg,
		bus:        b,
		orders:     orders,
		portfolio:  portfolio,
		riskMgr:    riskMgr,
		auditLog:   auditLog,
		cbManager:  cbManager,
		liveBroker: liveBroker,
		logger:     logger.With("component", "execution"),
		market:     make(map[string]*MarketPrice),
		pending:    make(map[string]*PendingOrder),
	}
}

// Run subscribes to market data and order events and starts the limit-order
// matching ticker. Blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context, marketDataCh, orderCh <-chan types.Event) {
	go e.matchLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-marketDataCh:
			if !ok {
				return
			}
			if md, ok := evt.(types.MarketDataEvent); ok {
				e.updateMarketPrice(md)
			}
		case evt, ok := <-orderCh:
			if !ok {
				return
			}
			if order, ok := evt.(types.OrderEvent); ok {
				e.handleOrder(ctx, order)
			}
		}
	}
}

func (e *Engine) updateMarketPrice(md types.MarketDataEvent) {
	spread := md.Close * syntheticSpread
	e.marketMu.Lock()
	e.market[md.Symbol] = &MarketPrice{
		Symbol:    md.Symbol,
		Bid:       md.Close - spread/2,
		Ask:       md.Close + spread/2,
		Last:      md.Close,
		Timestamp: md.DataTimestamp,
	}
	e.marketMu.Unlock()
}

func (e *Engine) priceFor(symbol string) (*MarketPrice, bool) {
	e.marketMu.RLock()
	defer e.marketMu.RUnlock()
	p, ok := e.market[symbol]
	return p, ok
}

func (e *Engine) handleOrder(ctx context.Context, order types.OrderEvent) {
	if order.Status != types.OrderPending {
		return
	}

	referencePrice := order.Price
	if referencePrice == 0 {
		if mp, ok := e.priceFor(order.Symbol); ok {
			if order.Action == types.Buy {
				referencePrice = mp.Ask
			} else {
				referencePrice = mp.Bid
			}
		}
	}

	result := e.riskMgr.ValidateOrder(risk.OrderRequest{
		Symbol:   order.Symbol,
		Side:     order.Action,
		Quantity: order.Quantity,
		Price:    referencePrice,
	})
	if !result.Approved {
		e.rejectOrder(ctx, order.OrderID, order.Symbol, result.Rejections)
		return
	}

	pending := &PendingOrder{
		OrderID:     order.OrderID,
		StrategyID:  order.StrategyID,
		Symbol:      order.Symbol,
		Action:      order.Action,
		Quantity:    order.Quantity,
		OrderType:   order.OrderType,
		LimitPrice:  order.Price,
		Status:      types.OrderSubmitted,
		SubmittedAt: time.Now(),
	}

	e.pendingMu.Lock()
	e.pending[order.OrderID] = pending
	metrics.PendingOrders.Set(float64(len(e.pending)))
	e.pendingMu.Unlock()

	dbBreaker := e.cbManager.GetOrCreate("db_orders", breaker.DefaultDatabaseConfig())
	if err := dbBreaker.Execute(func() error {
		return e.orders.UpsertOrder(ctx, repo.Order{
			ID: order.OrderID, StrategyID: order.StrategyID, Symbol: order.Symbol,
			Side: order.Action, OrderType: order.OrderType, Quantity: order.Quantity,
			LimitPrice: order.Price, Status: types.OrderSubmitted, SubmittedAt: pending.SubmittedAt,
		})
	}); err != nil {
		e.logger.Warn("persist submitted order failed", "order_id", order.OrderID, "error", err)
	}

	if order.OrderType == types.OrderTypeMarket {
		e.tryExecuteMarket(ctx, pending)
	}
}

func (e *Engine) rejectOrder(ctx context.Context, orderID, symbol string, reasons []string) {
	metrics.ExecutionRejections.Inc()

	dbBreaker := e.cbManager.GetOrCreate("db_orders", breaker.DefaultDatabaseConfig())
	if err := dbBreaker.Execute(func() error {
		return e.orders.UpdateOrderStatus(ctx, orderID, types.OrderRejected)
	}); err != nil {
		e.logger.Warn("persist order rejection failed", "order_id", orderID, "error", err)
	}

	e.auditLog.OrderRejected(ctx, orderID, symbol, joinReasons(reasons))
	e.logger.Info("order rejected at execution", "order_id", orderID, "reasons", reasons)
}

func joinReasons(reasons []string) string {
	out := ""
	for i, r := range reasons {
		if i > 0 {
			out += "; "
		}
		out += r
	}
	return out
}

func (e *Engine) tryExecuteMarket(ctx context.Context, order *PendingOrder) {
	mp, ok := e.priceFor(order.Symbol)
	if !ok {
		e.logger.Warn("no market data for symbol, order stays pending", "symbol", order.Symbol, "order_id", order.OrderID)
		return
	}

	var price float64
	if order.Action == types.Buy {
		price = mp.Ask
	} else {
		price = mp.Bid
	}

	if e.cfg.Mode == ModeSimulated {
		slip := price * demoSlippage
		if order.Action == types.Buy {
			price += slip
		} else {
			price -= slip
		}
	} else if e.liveBroker != nil {
		liveBreaker := e.cbManager.GetOrCreate("broker_live", breaker.DefaultBrokerConfig())
		if err := liveBreaker.Execute(func() error {
			return e.liveBroker.Submit(ctx, order.OrderID, order.Symbol, order.Action, order.Quantity-order.FilledQty, order.OrderType, order.LimitPrice)
		}); err != nil {
			e.logger.Error("live order submission failed", "order_id", order.OrderID, "error", err)
			return
		}
	}

	e.fill(ctx, order, price, order.Quantity-order.FilledQty)
}

func (e *Engine) matchLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.checkLimitOrders(ctx)
		}
	}
}

func (e *Engine) checkLimitOrders(ctx context.Context) {
	e.pendingMu.RLock()
	candidates := make([]*PendingOrder, 0, len(e.pending))
	for _, o := range e.pending {
		if o.OrderType == types.OrderTypeLimit && o.Status == types.OrderSubmitted {
			candidates = append(candidates, o)
		}
	}
	e.pendingMu.RUnlock()

	for _, order := range candidates {
		e.tryExecuteLimit(ctx, order)
	}
}

func (e *Engine) tryExecuteLimit(ctx context.Context, order *PendingOrder) {
	mp, ok := e.priceFor(order.Symbol)
	if !ok {
		return
	}

	var canFill bool
	var price float64
	if order.Action == types.Buy {
		if mp.Ask <= order.LimitPrice {
			canFill, price = true, order.LimitPrice
		}
	} else {
		if mp.Bid >= order.LimitPrice {
			canFill, price = true, order.LimitPrice
		}
	}
	if !canFill {
		return
	}

	if e.cfg.Mode == ModeLive && e.liveBroker != nil {
		liveBreaker := e.cbManager.GetOrCreate("broker_live", breaker.DefaultBrokerConfig())
		if err := liveBreaker.Execute(func() error {
			return e.liveBroker.Submit(ctx, order.OrderID, order.Symbol, order.Action, order.Quantity-order.FilledQty, order.OrderType, order.LimitPrice)
		}); err != nil {
			e.logger.Error("live order submission failed", "order_id", order.OrderID, "error", err)
			return
		}
	}

	e.fill(ctx, order, price, order.Quantity-order.FilledQty)
}

// fill executes qty units of order at price: it mutates the pending order,
// persists the order and trade record, updates the position, and publishes
// OrderFilledEvent.
func (e *Engine) fill(ctx context.Context, order *PendingOrder, price, qty float64) {
	if qty <= 0 {
		return
	}

	e.pendingMu.Lock()
	priorFilled := order.FilledQty
	order.FilledQty += qty
	totalValue := order.AvgFillPrice*priorFilled + price*qty
	order.AvgFillPrice = totalValue / order.FilledQty
	if order.FilledQty >= order.Quantity {
		order.Status = types.OrderFilled
	} else {
		order.Status = types.OrderPartial
	}
	fullyFilled := order.Status == types.OrderFilled
	if fullyFilled {
		delete(e.pending, order.OrderID)
	}
	metrics.PendingOrders.Set(float64(len(e.pending)))
	e.pendingMu.Unlock()

	dbBreaker := e.cbManager.GetOrCreate("db_orders", breaker.DefaultDatabaseConfig())
	if err := dbBreaker.Execute(func() error {
		return e.orders.FillOrder(ctx, order.OrderID, order.FilledQty, order.AvgFillPrice)
	}); err != nil {
		e.logger.Error("persist order fill failed", "order_id", order.OrderID, "error", err)
	}

	tradeID := uuid.NewString()
	if err := dbBreaker.Execute(func() error {
		return e.orders.CreateTrade(ctx, repo.Trade{
			ID: tradeID, OrderID: order.OrderID, Symbol: order.Symbol,
			Side: order.Action, Quantity: qty, Price: price, ExecutedAt: time.Now(),
		})
	}); err != nil {
		e.logger.Error("persist trade record failed", "order_id", order.OrderID, "error", err)
	}

	e.auditLog.TradeExecuted(ctx, tradeID, order.OrderID, order.Symbol, qty, price)
	e.auditLog.OrderFilled(ctx, order.OrderID, order.Symbol, qty, price)

	realizedPnL := e.updatePosition(ctx, order.Symbol, order.Action, qty, price)
	if realizedPnL != 0 {
		e.riskMgr.RecordRealizedPnL(realizedPnL)
	}

	e.bus.Publish(ctx, types.OrderFilledEvent{
		OrderID: order.OrderID, StrategyID: order.StrategyID, Symbol: order.Symbol,
		Action: order.Action, RequestedQty: order.Quantity, FilledQty: qty,
		FillPrice: price, FillTime: time.Now(),
	})

	metrics.ExecutionFills.Inc()
	metrics.ExecutionVolume.Add(price * qty)

	if fullyFilled {
		e.logger.Info("order fully filled", "order_id", order.OrderID, "avg_price", order.AvgFillPrice)
	}
}

// updatePosition mutates the symbol's position for a fill of qty at price,
// returning any realized PnL from a close or flip.
func (e *Engine) updatePosition(ctx context.Context, symbol string, action types.Side, qty, price float64) float64 {
	portfolioBreaker := e.cbManager.GetOrCreate("db_portfolio", breaker.DefaultDatabaseConfig())

	var current *repo.Position
	if err := portfolioBreaker.Execute(func() error {
		pos, err := e.portfolio.GetPosition(ctx, symbol)
		current = pos
		return err
	}); err != nil {
		e.logger.Warn("load position failed, treating as flat", "symbol", symbol, "error", err)
	}
	if current == nil {
		current = &repo.Position{Symbol: symbol, Side: types.Flat, OpenedAt: time.Now()}
	}

	signedQty := qty
	if action == types.Sell {
		signedQty = -qty
	}

	existingQty := current.Quantity
	newQty := existingQty + signedQty

	var realizedPnL float64
	switch {
	case existingQty == 0 || sameSign(existingQty, signedQty):
		// Opening or adding to a position: weighted-average the price.
		totalCost := current.AveragePrice*abs(existingQty) + price*qty
		current.AveragePrice = totalCost / abs(newQty)
	case abs(signedQty) <= abs(existingQty):
		// Reducing or exactly closing: realize PnL on the closed portion.
		closedQty := abs(signedQty)
		if existingQty > 0 {
			realizedPnL = (price - current.AveragePrice) * closedQty
		} else {
			realizedPnL = (current.AveragePrice - price) * closedQty
		}
		if newQty == 0 {
			current.AveragePrice = 0
		}
	default:
		// Flipping through flat: realize PnL on the old side, open the
		// residual at the fill price.
		closedQty := abs(existingQty)
		if existingQty > 0 {
			realizedPnL = (price - current.AveragePrice) * closedQty
		} else {
			realizedPnL = (current.AveragePrice - price) * closedQty
		}
		current.AveragePrice = price
	}

	current.Quantity = newQty
	current.CurrentPrice = price
	current.LastUpdated = time.Now()
	switch {
	case newQty > 0:
		current.Side = types.Long
	case newQty < 0:
		current.Side = types.Short
	default:
		current.Side = types.Flat
	}

	if err := portfolioBreaker.Execute(func() error {
		return e.portfolio.UpsertPosition(ctx, *current)
	}); err != nil {
		e.logger.Error("persist position failed", "symbol", symbol, "error", fmt.Errorf("upsert position: %w", err))
	}

	e.auditLog.PositionChanged(ctx, symbol, current.Quantity, current.AveragePrice)
	return realizedPnL
}

func sameSign(a, b float64) bool {
	return (a >= 0 && b >= 0) || (a <= 0 && b <= 0)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
