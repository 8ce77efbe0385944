package audit

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"tradecore/internal/repo"
)

type fakeAuditRepo struct {
	events  []repo.AuditEvent
	failNext bool
}

func (f *fakeAuditRepo) Write(ctx context.Context, event repo.AuditEvent) error {
	if f.failNext {
		f.failNext = false
		return errors.New("write failed")
	}
	f.events = append(f.events, event)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOrderCreatedWritesSuccessEvent(t *testing.T) {
	t.Parallel()
	r := &fakeAuditRepo{}
	l := New(r, testLogger())

	l.OrderCreated(context.Background(), "ord1", "AAPL", map[string]any{"qty": 10.0})

	if len(r.events) != 1 {
		t.Fatalf("events = %d, want 1", len(r.events))
	}
	evt := r.events[0]
	if evt.EventType != repo.OrderCreated {
		t.Errorf("EventType = %v, want OrderCreated", evt.EventType)
	}
	if evt.Status != repo.AuditSuccess {
		t.Errorf("Status = %v, want success", evt.Status)
	}
	if evt.Resource != "ord1" {
		t.Errorf("Resource = %q, want ord1", evt.Resource)
	}
	if evt.ID == "" {
		t.Error("expected a generated ID")
	}
}

func TestOrderRejectedWritesFailureEvent(t *testing.T) {
	t.Parallel()
	r := &fakeAuditRepo{}
	l := New(r, testLogger())

	l.OrderRejected(context.Background(), "ord2", "MSFT", "risk breach")

	if len(r.events) != 1 {
		t.Fatalf("events = %d, want 1", len(r.events))
	}
	evt := r.events[0]
	if evt.Status != repo.AuditFailure {
		t.Errorf("Status = %v, want failure", evt.Status)
	}
	if evt.Details["reason"] != "risk breach" {
		t.Errorf("Details[reason] = %v, want 'risk breach'", evt.Details["reason"])
	}
}

func TestSystemStatusMapsErrorStatusToFailure(t *testing.T) {
	t.Parallel()
	r := &fakeAuditRepo{}
	l := New(r, testLogger())

	l.SystemStatus(context.Background(), "execution", "ERROR", "broker unreachable")

	evt := r.events[0]
	if evt.Status != repo.AuditFailure {
		t.Errorf("Status = %v, want failure for an ERROR system status", evt.Status)
	}
}

func TestSystemStatusMapsRunningStatusToSuccess(t *testing.T) {
	t.Parallel()
	r := &fakeAuditRepo{}
	l := New(r, testLogger())

	l.SystemStatus(context.Background(), "execution", "RUNNING", "")

	evt := r.events[0]
	if evt.Status != repo.AuditSuccess {
		t.Errorf("Status = %v, want success for a RUNNING system status", evt.Status)
	}
}

func TestLogSwallowsRepoErrors(t *testing.T) {
	t.Parallel()
	r := &fakeAuditRepo{failNext: true}
	l := New(r, testLogger())

	// Must not panic and must not propagate an error — Log has no return value.
	l.OrderCreated(context.Background(), "ord3", "AAPL", nil)

	if len(r.events) != 0 {
		t.Errorf("events = %d, want 0 since the write failed", len(r.events))
	}
}

func TestTradeExecutedIncludesOrderAndQty(t *testing.T) {
	t.Parallel()
	r := &fakeAuditRepo{}
	l := New(r, testLogger())

	l.TradeExecuted(context.Background(), "trade1", "ord1", "AAPL", 10, 150.5)

	evt := r.events[0]
	if evt.EventType != repo.TradeExecuted {
		t.Errorf("EventType = %v, want TradeExecuted", evt.EventType)
	}
	if evt.Details["order_id"] != "ord1" {
		t.Errorf("Details[order_id] = %v, want ord1", evt.Details["order_id"])
	}
	if evt.Details["qty"] != 10.0 {
		t.Errorf("Details[qty] = %v, want 10", evt.Details["qty"])
	}
}
