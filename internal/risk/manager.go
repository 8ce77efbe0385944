// Package risk enforces pre-trade portfolio limits and maintains the daily
// risk ledger: order count, dollar volume, and realized loss, rolled over
// on the configured trading-day boundary.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tradecore/internal/store"
	"tradecore/pkg/types"
)

// Config holds the five threshold rules plus the ledger's day boundary.
// Dollar thresholds use decimal.Decimal so the ledger they're compared
// against never drifts from repeated float64 accumulation.
type Config struct {
	MaxPositionNotional    decimal.Decimal
	MaxOrdersPerDay        int
	MaxDailyDollarVolume   decimal.Decimal
	MaxSymbolConcentration float64 // fraction of portfolio equity, e.g. 0.25
	MaxDailyLoss           decimal.Decimal
	PortfolioEquity        decimal.Decimal // used for the concentration check
	Location               *time.Location
}

// OrderRequest is what validateOrder/recordOrder evaluate. Quantity and
// Price stay float64, matching the wire shape signals and orders arrive in;
// notional converts to decimal once, at the boundary where it starts
// accumulating into the ledger.
type OrderRequest struct {
	Symbol   string
	Side     types.Side
	Quantity float64
	Price    float64
}

func (r OrderRequest) notional() decimal.Decimal {
	return decimal.NewFromFloat(r.Quantity).Mul(decimal.NewFromFloat(r.Price))
}

// Result is the outcome of validateOrder.
type Result struct {
	Approved   bool
	Rejections []string
	Warnings   []string
	RiskScore  float64 // max threshold ratio, in [0,1] when approved
}

// Ledger is the process-wide daily risk ledger.
type Ledger struct {
	Day               string
	OrdersCount       int
	DollarVolume      decimal.Decimal
	RealizedLossToday decimal.Decimal
}

// Manager evaluates orders against the five risk rules and maintains the
// ledger across restarts via persistence.
type Manager struct {
	cfg    Config
	logger *slog.Logger
	store  *store.JSONStore

	mu     sync.RWMutex
	ledger Ledger
}

// NewManager creates a risk manager, restoring the ledger from s if a
// snapshot exists and still belongs to the current trading day.
func NewManager(cfg Config, s *store.JSONStore, logger *slog.Logger) *Manager {
	m := &Manager{cfg: cfg, store: s, logger: logger.With("component", "risk")}

	today := dayKey(time.Now(), cfg.Location)
	if snapshot, err := s.LoadLedger(); err == nil && snapshot != nil && snapshot.Day == today {
		m.ledger = Ledger{
			Day:               snapshot.Day,
			OrdersCount:       snapshot.OrdersCount,
			DollarVolume:      snapshot.DollarVolume,
			RealizedLossToday: snapshot.RealizedLossToday,
		}
	} else {
		m.ledger = Ledger{Day: today}
	}
	return m
}

func dayKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}

// rolloverLocked resets the ledger if the trading day has changed. Caller
// must hold m.mu.
func (m *Manager) rolloverLocked() {
	today := dayKey(time.Now(), m.cfg.Location)
	if m.ledger.Day != today {
		m.ledger = Ledger{Day: today}
	}
}

const warningThreshold = 0.80

// ValidateOrder evaluates req against all five rules. Every rule runs, even
// after a rejection, so warnings and the risk score reflect the full
// picture.
func (m *Manager) ValidateOrder(req OrderRequest) Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolloverLocked()

	var result Result
	result.Approved = true
	var maxRatio float64

	notional := req.notional()

	ratio := safeRatio(notional, m.cfg.MaxPositionNotional)
	maxRatio = max(maxRatio, ratio)
	if notional.GreaterThan(m.cfg.MaxPositionNotional) {
		result.Approved = false
		result.Rejections = append(result.Rejections, fmt.Sprintf("position size %s exceeds max notional %s", notional.StringFixed(2), m.cfg.MaxPositionNotional.StringFixed(2)))
	} else if ratio >= warningThreshold {
		result.Warnings = append(result.Warnings, "position size approaching max notional")
	}

	ordersRatio := safeRatio(float64(m.ledger.OrdersCount+1), float64(m.cfg.MaxOrdersPerDay))
	maxRatio = max(maxRatio, ordersRatio)
	if m.ledger.OrdersCount+1 > m.cfg.MaxOrdersPerDay {
		result.Approved = false
		result.Rejections = append(result.Rejections, "daily order count limit reached")
	} else if ordersRatio >= warningThreshold {
		result.Warnings = append(result.Warnings, "approaching daily order count limit")
	}

	projectedVolume := m.ledger.DollarVolume.Add(notional)
	volumeRatio := safeRatio(projectedVolume, m.cfg.MaxDailyDollarVolume)
	maxRatio = max(maxRatio, volumeRatio)
	if projectedVolume.GreaterThan(m.cfg.MaxDailyDollarVolume) {
		result.Approved = false
		result.Rejections = append(result.Rejections, "daily dollar volume limit exceeded")
	} else if volumeRatio >= warningThreshold {
		result.Warnings = append(result.Warnings, "approaching daily dollar volume limit")
	}

	if m.cfg.PortfolioEquity.IsPositive() {
		concentration := notional.Div(m.cfg.PortfolioEquity)
		concRatio := safeRatio(concentration, decimal.NewFromFloat(m.cfg.MaxSymbolConcentration))
		maxRatio = max(maxRatio, concRatio)
		if concentration.GreaterThan(decimal.NewFromFloat(m.cfg.MaxSymbolConcentration)) {
			result.Approved = false
			result.Rejections = append(result.Rejections, "single-name concentration limit exceeded")
		} else if concRatio >= warningThreshold {
			result.Warnings = append(result.Warnings, "approaching single-name concentration limit")
		}
	}

	lossRatio := safeRatio(m.ledger.RealizedLossToday, m.cfg.MaxDailyLoss)
	maxRatio = max(maxRatio, lossRatio)
	if m.ledger.RealizedLossToday.GreaterThanOrEqual(m.cfg.MaxDailyLoss) {
		result.Approved = false
		result.Rejections = append(result.Rejections, "realized daily loss limit reached")
	} else if lossRatio >= warningThreshold {
		result.Warnings = append(result.Warnings, "approaching realized daily loss limit")
	}

	result.RiskScore = maxRatio
	if result.RiskScore > 1 {
		result.RiskScore = 1
	}
	return result
}

// safeRatio returns numerator/denominator as a float64, or 0 if denominator
// isn't positive. RiskScore is a dimensionless dashboard value, so it drops
// out of decimal once the threshold comparisons above are done.
func safeRatio(numerator, denominator decimal.Decimal) float64 {
	if !denominator.IsPositive() {
		return 0
	}
	ratio, _ := numerator.Div(denominator).Float64()
	return ratio
}

func max(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// RecordOrder mutates the ledger after an order is approved, persisting the
// new snapshot. Persistence failure is logged, not returned — the ledger's
// in-memory state is authoritative.
func (m *Manager) RecordOrder(req OrderRequest) {
	m.mu.Lock()
	m.rolloverLocked()
	m.ledger.OrdersCount++
	m.ledger.DollarVolume = m.ledger.DollarVolume.Add(req.notional())
	snapshot := store.LedgerSnapshot{
		Day:               m.ledger.Day,
		OrdersCount:       m.ledger.OrdersCount,
		DollarVolume:      m.ledger.DollarVolume,
		RealizedLossToday: m.ledger.RealizedLossToday,
	}
	m.mu.Unlock()

	if err := m.store.SaveLedger(snapshot); err != nil {
		m.logger.Warn("persist risk ledger failed", "error", err)
	}
}

// RecordRealizedPnL folds a realized PnL delta (negative = loss) into
// today's ledger.
func (m *Manager) RecordRealizedPnL(delta float64) {
	m.mu.Lock()
	m.rolloverLocked()
	if delta < 0 {
		m.ledger.RealizedLossToday = m.ledger.RealizedLossToday.Add(decimal.NewFromFloat(-delta))
	}
	snapshot := store.LedgerSnapshot{
		Day:               m.ledger.Day,
		OrdersCount:       m.ledger.OrdersCount,
		DollarVolume:      m.ledger.DollarVolume,
		RealizedLossToday: m.ledger.RealizedLossToday,
	}
	m.mu.Unlock()

	if err := m.store.SaveLedger(snapshot); err != nil {
		m.logger.Warn("persist risk ledger failed", "error", err)
	}
}

// Snapshot returns a copy of the current ledger, rolling over first if the
// trading day has changed.
func (m *Manager) Snapshot() Ledger {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolloverLocked()
	return m.ledger
}

// Rollover forces the day-boundary check outside of a validate/record call.
// The engine schedules this via cron at the configured day boundary as a
// proactive complement to the lazy check every other method already
// performs.
func (m *Manager) Rollover() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolloverLocked()
}

// Run periodically checks for day rollover, a proactive complement to the
// lazy boundary check performed on every call. Blocks until ctx is
// cancelled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.Lock()
			m.rolloverLocked()
			m.mu.Unlock()
		}
	}
}
