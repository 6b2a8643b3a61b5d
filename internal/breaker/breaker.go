// Package breaker implements the persistent circuit breaker that can halt
// all future decision cycles.
//
// The breaker trips when the cumulative health metric (running capital
// relative to baseline) drops below a hard floor. Once tripped, the halted
// flag persists across restarts and is cleared only by an explicit external
// reset, never by the system itself. The registrar consults the breaker
// before any network fetch.
package breaker

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/tradegate/backend/internal/metrics"
)

// State is the persisted breaker record.
type State struct {
	Halted       bool      `json:"halted"`
	Reason       string    `json:"reason"`
	MetricAtTrip float64   `json:"metric_at_trip"`
	TrippedAt    time.Time `json:"tripped_at,omitempty"`
}

// Verdict is the outcome of a health check.
type Verdict int

const (
	Continue Verdict = iota
	Halted
)

func (v Verdict) String() string {
	switch v {
	case Continue:
		return "CONTINUE"
	case Halted:
		return "HALTED"
	default:
		return "UNKNOWN"
	}
}

// HaltedError is returned to callers that try to run a cycle while the
// breaker is tripped. It carries the persisted state so the caller can show
// why.
type HaltedError struct {
	State State
}

func (e *HaltedError) Error() string {
	return fmt.Sprintf("circuit breaker halted: %s (metric %.4f at %s)",
		e.State.Reason, e.State.MetricAtTrip, e.State.TrippedAt.Format(time.RFC3339))
}

// StateStore persists the breaker flag. Trip must be atomic check-and-set:
// when two cycles race past a just-tripped breaker, exactly one Trip call
// returns true.
type StateStore interface {
	Load(ctx context.Context) (State, error)
	// Trip sets the halted state only if the store is not already halted.
	// Returns whether this call performed the trip.
	Trip(ctx context.Context, s State) (bool, error)
	// Reset clears the halted flag. Only ever called from the explicit
	// external reset path.
	Reset(ctx context.Context) error
}

// Breaker evaluates the health metric against the configured floor and
// manages the persisted halt flag.
type Breaker struct {
	store   StateStore
	floor   float64
	now     func() time.Time
	metrics *metrics.Metrics
	logger  *log.Logger
}

// New builds a breaker over the given store. floor is the hard minimum for
// the health metric (e.g. 0.85 = trip when capital falls below 85% of
// baseline).
func New(store StateStore, floor float64, m *metrics.Metrics) *Breaker {
	return &Breaker{
		store:   store,
		floor:   floor,
		now:     time.Now,
		metrics: m,
		logger:  log.New(log.Writer(), "[BREAKER] ", log.LstdFlags),
	}
}

// SetClock replaces the time source for tests.
func (b *Breaker) SetClock(now func() time.Time) { b.now = now }

// CheckHealth evaluates the current metric. If the breaker is already
// halted, or the metric has dropped below the floor, the verdict is Halted;
// crossing the floor trips the persisted flag atomically. A metric sitting
// exactly on the floor still passes.
func (b *Breaker) CheckHealth(ctx context.Context, metric float64) (Verdict, error) {
	state, err := b.store.Load(ctx)
	if err != nil {
		return Halted, fmt.Errorf("breaker: load state: %w", err)
	}
	if state.Halted {
		b.metrics.BreakerHalted.Set(1)
		return Halted, nil
	}

	if metric >= b.floor {
		b.metrics.BreakerHalted.Set(0)
		return Continue, nil
	}

	tripped, err := b.store.Trip(ctx, State{
		Halted:       true,
		Reason:       fmt.Sprintf("health metric %.4f fell below floor %.4f", metric, b.floor),
		MetricAtTrip: metric,
		TrippedAt:    b.now().UTC(),
	})
	if err != nil {
		return Halted, fmt.Errorf("breaker: trip: %w", err)
	}
	if tripped {
		b.logger.Printf("🚫 TRIPPED: metric %.4f < floor %.4f, all cycles halted until explicit reset", metric, b.floor)
	}
	b.metrics.BreakerHalted.Set(1)
	return Halted, nil
}

// Guard returns a HaltedError when the breaker is tripped, nil otherwise.
// The registrar calls this before starting any acquisition.
func (b *Breaker) Guard(ctx context.Context) error {
	state, err := b.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("breaker: load state: %w", err)
	}
	if state.Halted {
		b.metrics.BreakerHalted.Set(1)
		return &HaltedError{State: state}
	}
	return nil
}

// State returns the persisted breaker record.
func (b *Breaker) State(ctx context.Context) (State, error) {
	return b.store.Load(ctx)
}

// Reset clears the halted flag. This is the explicit external
// acknowledgement path, nothing inside the system calls it.
func (b *Breaker) Reset(ctx context.Context) error {
	if err := b.store.Reset(ctx); err != nil {
		return fmt.Errorf("breaker: reset: %w", err)
	}
	b.metrics.BreakerHalted.Set(0)
	b.logger.Printf("breaker reset by external action")
	return nil
}
