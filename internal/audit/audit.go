// Package audit implements the structured audit trail: every order,
// fill, position change, and strategy/system transition worth a permanent
// record passes through here before (best-effort) landing in the
// configured AuditRepo.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"tradecore/internal/repo"
)

// Logger writes audit events. Persistence is best-effort and deliberately
// carries no circuit breaker: a struggling audit store must never slow down
// or block order processing, so failures are logged and dropped.
type Logger struct {
	repo   repo.AuditRepo
	logger *slog.Logger
}

// New creates an audit Logger backed by r.
func New(r repo.AuditRepo, logger *slog.Logger) *Logger {
	return &Logger{repo: r, logger: logger.With("component", "audit")}
}

// Log records one audit event. It never returns an error to the caller —
// logging its own failure is the only contract a best-effort sink can make.
func (l *Logger) Log(ctx context.Context, category repo.AuditEventCategory, resource, action string, status repo.AuditStatus, details map[string]any) {
	event := repo.AuditEvent{
		ID:        uuid.NewString(),
		EventType: category,
		Resource:  resource,
		Action:    action,
		Status:    status,
		Details:   details,
		Timestamp: time.Now(),
	}

	if err := l.repo.Write(ctx, event); err != nil {
		l.logger.Warn("audit write failed",
			"event_type", category,
			"resource", resource,
			"error", err)
	}
}

// OrderCreated records a successfully submitted order.
func (l *Logger) OrderCreated(ctx context.Context, orderID, symbol string, details map[string]any) {
	l.Log(ctx, repo.OrderCreated, orderID, "create", repo.AuditSuccess, details)
}

// OrderRejected records a rejected order, whether by risk or by the
// execution engine's defence-in-depth check.
func (l *Logger) OrderRejected(ctx context.Context, orderID, symbol, reason string) {
	l.Log(ctx, repo.OrderRejected, orderID, "reject", repo.AuditFailure, map[string]any{
		"symbol": symbol,
		"reason": reason,
	})
}

// OrderFilled records a fill against a pending order.
func (l *Logger) OrderFilled(ctx context.Context, orderID, symbol string, filledQty, price float64) {
	l.Log(ctx, repo.OrderFilled, orderID, "fill", repo.AuditSuccess, map[string]any{
		"symbol":     symbol,
		"filled_qty": filledQty,
		"price":      price,
	})
}

// TradeExecuted records the creation of a trade record.
func (l *Logger) TradeExecuted(ctx context.Context, tradeID, orderID, symbol string, qty, price float64) {
	l.Log(ctx, repo.TradeExecuted, tradeID, "execute", repo.AuditSuccess, map[string]any{
		"order_id": orderID,
		"symbol":   symbol,
		"qty":      qty,
		"price":    price,
	})
}

// PositionChanged records a mutation of a symbol's position.
func (l *Logger) PositionChanged(ctx context.Context, symbol string, quantity, avgPrice float64) {
	l.Log(ctx, repo.PositionChanged, symbol, "update", repo.AuditSuccess, map[string]any{
		"quantity":      quantity,
		"average_price": avgPrice,
	})
}

// StrategyStateChanged records a strategy lifecycle transition.
func (l *Logger) StrategyStateChanged(ctx context.Context, strategyID, state string) {
	l.Log(ctx, repo.StrategyStateChanged, strategyID, state, repo.AuditSuccess, nil)
}

// SystemStatus records a component lifecycle transition.
func (l *Logger) SystemStatus(ctx context.Context, component, status, message string) {
	s := repo.AuditSuccess
	if status == "ERROR" {
		s = repo.AuditFailure
	}
	l.Log(ctx, repo.SystemStatusChanged, component, status, s, map[string]any{
		"message": message,
	})
}
