// Package breaker implements named circuit breakers wrapping external calls
// (database, broker, any I/O that can fail in bursts) with a
// closed/open/half-open state machine.
package breaker

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"tradecore/internal/metrics"
)

// ErrBreakerOpen is returned by Execute when the breaker is OPEN and the
// openDuration has not yet elapsed.
var ErrBreakerOpen = errors.New("breaker: open")

// State is a breaker's current position in the closed/open/half-open cycle.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// gaugeValue is the value metrics.BreakerState reports for each state.
func (s State) gaugeValue() float64 {
	switch s {
	case Closed:
		return 0
	case HalfOpen:
		return 1
	case Open:
		return 2
	default:
		return -1
	}
}

// Config holds the three parameters that govern one breaker's transitions.
type Config struct {
	FailureThreshold          int
	OpenDuration              time.Duration
	HalfOpenSuccessesRequired int
}

// DefaultDatabaseConfig is the database-category default named in spec.
func DefaultDatabaseConfig() Config {
	return Config{
		FailureThreshold:          5,
		OpenDuration:              10 * time.Second,
		HalfOpenSuccessesRequired: 2,
	}
}

// DefaultBrokerConfig guards live broker REST calls. A broker outage is
// typically longer-lived than a transient DB hiccup, so it waits longer
// before probing again.
func DefaultBrokerConfig() Config {
	return Config{
		FailureThreshold:          5,
		OpenDuration:              30 * time.Second,
		HalfOpenSuccessesRequired: 2,
	}
}

// Breaker guards calls to one named external resource.
type Breaker struct {
	name   string
	cfg    Config
	logger *slog.Logger

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	openedAt            time.Time
	successInHalfOpen   int
}

func newBreaker(name string, cfg Config, logger *slog.Logger) *Breaker {
	b := &Breaker{
		name:   name,
		cfg:    cfg,
		logger: logger.With("breaker", name),
		state:  Closed,
	}
	metrics.BreakerState.WithLabelValues(name).Set(Closed.gaugeValue())
	return b
}

// State returns the breaker's current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Execute runs fn through the breaker. In CLOSED and HALF_OPEN it invokes fn
// and updates state from the result. In OPEN it fails immediately with
// ErrBreakerOpen unless openDuration has elapsed, in which case it
// transitions to HALF_OPEN first and still invokes fn (the probing call).
func (b *Breaker) Execute(fn func() error) error {
	b.mu.Lock()
	if b.state == Open {
		if time.Since(b.openedAt) < b.cfg.OpenDuration {
			b.mu.Unlock()
			return ErrBreakerOpen
		}
		b.transitionTo(HalfOpen)
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.consecutiveFailures++
		switch b.state {
		case Closed:
			if b.consecutiveFailures >= b.cfg.FailureThreshold {
				b.transitionTo(Open)
			}
		case HalfOpen:
			b.transitionTo(Open)
		}
		return err
	}

	b.consecutiveFailures = 0
	if b.state == HalfOpen {
		b.successInHalfOpen++
		if b.successInHalfOpen >= b.cfg.HalfOpenSuccessesRequired {
			b.transitionTo(Closed)
		}
	}
	return nil
}

// transitionTo moves the breaker to a new state. Caller must hold b.mu.
func (b *Breaker) transitionTo(next State) {
	prev := b.state
	b.state = next
	switch next {
	case Open:
		b.openedAt = time.Now()
		b.successInHalfOpen = 0
	case HalfOpen:
		b.successInHalfOpen = 0
	case Closed:
		b.consecutiveFailures = 0
		b.successInHalfOpen = 0
	}
	metrics.BreakerState.WithLabelValues(b.name).Set(next.gaugeValue())
	if prev != next {
		b.logger.Info("state transition", "from", prev, "to", next)
	}
}

// Manager owns every named breaker in the process, creating one lazily on
// first reference.
type Manager struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	logger   *slog.Logger
}

// NewManager creates an empty breaker manager.
func NewManager(logger *slog.Logger) *Manager {
	return &Manager{
		breakers: make(map[string]*Breaker),
		logger:   logger.With("component", "breaker_manager"),
	}
}

// GetOrCreate returns the named breaker, creating it with cfg if it does not
// yet exist. cfg is ignored on subsequent calls for the same name.
func (m *Manager) GetOrCreate(name string, cfg Config) *Breaker {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok := m.breakers[name]; ok {
		return b
	}
	b := newBreaker(name, cfg, m.logger)
	m.breakers[name] = b
	return b
}

// States returns a snapshot of every known breaker's current state, keyed by
// name. Used by system-status reporting.
func (m *Manager) States() map[string]State {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]State, len(m.breakers))
	for name, b := range m.breakers {
		out[name] = b.State()
	}
	return out
}
