// Package converter turns strategy signals into orders: it validates the
// signal shape, runs it past risk, and publishes an OrderEvent for anything
// approved.
package converter

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"

	"tradecore/internal/audit"
	"tradecore/internal/bus"
	"tradecore/internal/risk"
	"tradecore/pkg/types"
)

// defaultMinConfidence is the confidence below which a signal is dropped
// without reaching risk, used when Config.MinConfidence is unset.
const defaultMinConfidence = 0.5

// Config tunes the converter.
type Config struct {
	MinConfidence float64
}

func (c Config) withDefaults() Config {
	if c.MinConfidence <= 0 {
		c.MinConfidence = defaultMinConfidence
	}
	return c
}

// Converter subscribes to signal events and emits order events for every
// signal that passes validation and risk.
type Converter struct {
	cfg    Config
	bus    *bus.Bus
	risk   *risk.Manager
	audit  *audit.Logger
	logger *slog.Logger

	enabled atomic.Bool
}

// New creates a Converter. It starts enabled.
func New(cfg Config, b *bus.Bus, riskMgr *risk.Manager, auditLogger *audit.Logger, logger *slog.Logger) *Converter {
	c := &Converter{
		cfg:    cfg.withDefaults(),
		bus:    b,
		risk:   riskMgr,
		audit:  auditLogger,
		logger: logger.With("component", "converter"),
	}
	c.enabled.Store(true)
	return c
}

// SetEnabled toggles signal processing at runtime. Disabled converters drop
// every signal they see.
func (c *Converter) SetEnabled(enabled bool) { c.enabled.Store(enabled) }

// Run consumes signal events from signalCh until ctx is cancelled.
func (c *Converter) Run(ctx context.Context, signalCh <-chan types.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-signalCh:
			if !ok {
				return
			}
			signal, ok := evt.(types.SignalEvent)
			if !ok {
				continue
			}
			c.handle(ctx, signal)
		}
	}
}

func (c *Converter) handle(ctx context.Context, signal types.SignalEvent) {
	if !c.enabled.Load() {
		return
	}
	if signal.Action == types.Hold {
		return
	}
	if signal.Confidence < c.cfg.MinConfidence {
		c.logger.Debug("signal below confidence threshold, dropping",
			"symbol", signal.Symbol, "confidence", signal.Confidence)
		return
	}

	if err := validateSignal(signal); err != nil {
		c.logger.Warn("signal failed validation", "symbol", signal.Symbol, "error", err)
		return
	}

	orderType := types.OrderTypeMarket
	if signal.Price > 0 {
		orderType = types.OrderTypeLimit
	}

	req := risk.OrderRequest{
		Symbol:   signal.Symbol,
		Side:     signal.Action,
		Quantity: signal.Quantity,
		Price:    signal.Price,
	}
	result := c.risk.ValidateOrder(req)
	for _, w := range result.Warnings {
		c.logger.Warn("risk warning", "symbol", signal.Symbol, "warning", w, "risk_score", result.RiskScore)
	}
	if !result.Approved {
		orderID := uuid.NewString()
		c.audit.OrderRejected(ctx, orderID, signal.Symbol, joinReasons(result.Rejections))
		c.logger.Info("order rejected by risk",
			"symbol", signal.Symbol, "strategy", signal.StrategyID, "reasons", result.Rejections)
		return
	}
	c.risk.RecordOrder(req)

	orderID := uuid.NewString()
	order := types.OrderEvent{
		OrderID:    orderID,
		StrategyID: signal.StrategyID,
		Symbol:     signal.Symbol,
		Action:     signal.Action,
		Quantity:   signal.Quantity,
		Price:      signal.Price,
		OrderType:  orderType,
		Status:     types.OrderPending,
		EventTime:  signal.EventTime,
	}

	c.bus.Publish(ctx, order)
	c.audit.OrderCreated(ctx, orderID, signal.Symbol, map[string]any{
		"strategy":   signal.StrategyID,
		"side":       signal.Action,
		"quantity":   signal.Quantity,
		"order_type": orderType,
		"reason":     signal.Reason,
	})
}

// validationError is the error validateSignal returns for a signal it
// rejects.
type validationError struct{ msg string }

func (e validationError) Error() string { return e.msg }

func validateSignal(signal types.SignalEvent) error {
	if signal.Action != types.Buy && signal.Action != types.Sell {
		return validationError{"invalid action: " + string(signal.Action)}
	}
	if signal.Quantity <= 0 {
		return validationError{"invalid quantity: must be positive"}
	}
	return nil
}

func joinReasons(reasons []string) string {
	if len(reasons) == 0 {
		return ""
	}
	out := reasons[0]
	for _, r := range reasons[1:] {
		out += "; " + r
	}
	return out
}
