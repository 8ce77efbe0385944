// Package repo declares the persistence contracts the core trading engine
// consumes but does not own the implementation of. A database binding, an
// ORM, a hosted store — any of them can satisfy these interfaces; the
// concrete default used by this module is internal/store's JSON-file
// implementation.
package repo

import (
	"context"
	"time"

	"tradecore/pkg/types"
)

// Order is the persisted shape of an order, independent of the in-memory
// PendingOrder the execution engine mutates directly.
type Order struct {
	ID           string
	StrategyID   string
	Symbol       string
	Side         types.Side
	OrderType    types.OrderType
	Quantity     float64
	LimitPrice   float64
	Status       types.OrderStatus
	FilledQty    float64
	AvgFillPrice float64
	SubmittedAt  time.Time
	FilledAt     time.Time
}

// Trade is one fill record, created per partial or full execution.
type Trade struct {
	ID         string
	OrderID    string
	Symbol     string
	Side       types.Side
	Quantity   float64
	Price      float64
	Commission float64
	ExecutedAt time.Time
}

// Position is the persisted shape of a symbol's position.
type Position struct {
	Symbol       string
	Quantity     float64
	AveragePrice float64
	CurrentPrice float64
	Side         types.PositionSide
	OpenedAt     time.Time
	LastUpdated  time.Time
}

// AuditEventCategory enumerates the audit log's event-category tag.
type AuditEventCategory string

const (
	OrderCreated         AuditEventCategory = "ORDER_CREATED"
	OrderRejected        AuditEventCategory = "ORDER_REJECTED"
	OrderFilled          AuditEventCategory = "ORDER_FILLED"
	TradeExecuted        AuditEventCategory = "TRADE_EXECUTED"
	PositionChanged      AuditEventCategory = "POSITION_CHANGED"
	StrategyStateChanged AuditEventCategory = "STRATEGY_STATE_CHANGED"
	SystemStatusChanged  AuditEventCategory = "SYSTEM_STATUS"
)

// AuditStatus is the outcome tag on an audit event.
type AuditStatus string

const (
	AuditSuccess AuditStatus = "success"
	AuditFailure AuditStatus = "failure"
)

// AuditEvent is one structured log entry written through AuditRepo.
type AuditEvent struct {
	ID        string
	EventType AuditEventCategory
	Resource  string
	Action    string
	Status    AuditStatus
	Details   map[string]any
	Timestamp time.Time
}

// OrdersRepo persists order lifecycle state.
type OrdersRepo interface {
	UpsertOrder(ctx context.Context, order Order) error
	UpdateOrderStatus(ctx context.Context, id string, status types.OrderStatus) error
	FillOrder(ctx context.Context, id string, filledQty, price float64) error
	CreateTrade(ctx context.Context, trade Trade) error
}

// PortfolioRepo persists per-symbol position state.
type PortfolioRepo interface {
	GetPosition(ctx context.Context, symbol string) (*Position, error)
	UpsertPosition(ctx context.Context, p Position) error
	ListPositions(ctx context.Context) ([]Position, error)
}

// AuditRepo persists the structured audit trail.
type AuditRepo interface {
	Write(ctx context.Context, event AuditEvent) error
}
