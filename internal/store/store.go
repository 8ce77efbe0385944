// Package store implements the default, not-a-real-database repository
// backing: crash-safe JSON-file persistence. Each entity is stored as its
// own file, keyed by ID, under a configured directory; writes are atomic
// (write to .tmp, then rename) so a crash mid-write never leaves a
// corrupted record behind.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/shopspring/decimal"

	"tradecore/internal/repo"
	"tradecore/pkg/types"
)

// JSONStore persists orders, trades, positions, and audit events as JSON
// files in a designated directory. It implements repo.OrdersRepo,
// repo.PortfolioRepo, and repo.AuditRepo.
type JSONStore struct {
	dir string
	mu  sync.Mutex
}

// Open creates a JSONStore backed by the given directory, creating it if
// necessary.
func Open(dir string) (*JSONStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &JSONStore{dir: dir}, nil
}

// Close is a no-op for file-based storage.
func (s *JSONStore) Close() error {
	return nil
}

func (s *JSONStore) path(prefix, id string) string {
	return filepath.Join(s.dir, prefix+"_"+id+".json")
}

// writeAtomic marshals v and replaces the target file via write-tmp-rename,
// matching the crash-safety guarantee every entity class in this store
// relies on.
func (s *JSONStore) writeAtomic(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return os.Rename(tmp, path)
}

func readJSON[T any](path string) (*T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read: %w", err)
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	return &v, nil
}

// ————————————————————————————————————————————————————————————————————————
// OrdersRepo
// ————————————————————————————————————————————————————————————————————————

func (s *JSONStore) UpsertOrder(ctx context.Context, order repo.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeAtomic(s.path("order", order.ID), order)
}

func (s *JSONStore) UpdateOrderStatus(ctx context.Context, id string, status types.OrderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path("order", id)
	order, err := readJSON[repo.Order](path)
	if err != nil {
		return err
	}
	if order == nil {
		return fmt.Errorf("update order status: order %s not found", id)
	}
	order.Status = status
	return s.writeAtomic(path, order)
}

func (s *JSONStore) FillOrder(ctx context.Context, id string, filledQty, price float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path("order", id)
	order, err := readJSON[repo.Order](path)
	if err != nil {
		return err
	}
	if order == nil {
		return fmt.Errorf("fill order: order %s not found", id)
	}
	order.FilledQty = filledQty
	order.AvgFillPrice = price
	if filledQty >= order.Quantity {
		order.Status = types.OrderFilled
	} else {
		order.Status = types.OrderPartial
	}
	return s.writeAtomic(path, order)
}

func (s *JSONStore) CreateTrade(ctx context.Context, trade repo.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeAtomic(s.path("trade", trade.ID), trade)
}

// ————————————————————————————————————————————————————————————————————————
// PortfolioRepo
// ————————————————————————————————————————————————————————————————————————

func (s *JSONStore) GetPosition(ctx context.Context, symbol string) (*repo.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return readJSON[repo.Position](s.path("position", symbol))
}

func (s *JSONStore) UpsertPosition(ctx context.Context, p repo.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeAtomic(s.path("position", p.Symbol), p)
}

func (s *JSONStore) ListPositions(ctx context.Context) ([]repo.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}

	var positions []repo.Position
	for _, e := range entries {
		name := e.Name()
		if !matchesPrefix(name, "position_") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			continue
		}
		var p repo.Position
		if err := json.Unmarshal(data, &p); err != nil {
			continue
		}
		positions = append(positions, p)
	}
	return positions, nil
}

func matchesPrefix(name, prefix string) bool {
	return len(name) > len(prefix) && name[:len(prefix)] == prefix &&
		filepath.Ext(name) == ".json"
}

// ————————————————————————————————————————————————————————————————————————
// AuditRepo
// ————————————————————————————————————————————————————————————————————————

func (s *JSONStore) Write(ctx context.Context, event repo.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeAtomic(s.path("audit", event.ID), event)
}

// ————————————————————————————————————————————————————————————————————————
// Risk ledger persistence (not part of the repository interfaces — the
// ledger is process-wide, singular, and read back by exactly one caller at
// boot).
// ————————————————————————————————————————————————————————————————————————

// LedgerSnapshot is the JSON shape of a persisted RiskLedger, kept here
// rather than importing internal/risk to avoid a store→risk dependency.
// Dollar accumulators use decimal.Decimal so a day's worth of additions
// never drifts from repeated float64 rounding.
type LedgerSnapshot struct {
	Day               string          `json:"day"`
	OrdersCount       int             `json:"orders_count"`
	DollarVolume      decimal.Decimal `json:"dollar_volume"`
	RealizedLossToday decimal.Decimal `json:"realized_loss_today"`
}

const ledgerFile = "risk_ledger.json"

// SaveLedger persists the risk ledger snapshot.
func (s *JSONStore) SaveLedger(snapshot LedgerSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeAtomic(filepath.Join(s.dir, ledgerFile), snapshot)
}

// LoadLedger restores the risk ledger snapshot, or returns nil if none was
// ever saved.
func (s *JSONStore) LoadLedger() (*LedgerSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return readJSON[LedgerSnapshot](filepath.Join(s.dir, ledgerFile))
}
