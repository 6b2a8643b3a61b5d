// Package cycle drives one full decision round: acquire facts, let the
// advisory panel deliberate over the sealed ledger, put the proposal through
// the gatekeeper, and publish the decision. Outcome recording closes the
// loop by feeding the capital tracker, the breaker and the learner.
package cycle

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tradegate/backend/internal/breaker"
	"github.com/tradegate/backend/internal/core"
	"github.com/tradegate/backend/internal/gatekeeper"
	"github.com/tradegate/backend/internal/learner"
	"github.com/tradegate/backend/internal/ledger"
	"github.com/tradegate/backend/internal/metrics"
	"github.com/tradegate/backend/internal/regime"
	"github.com/tradegate/backend/internal/registrar"
	"github.com/tradegate/backend/internal/reviewlog"
)

// Advice is what the advisory panel returns: a structured proposal plus the
// two independent conviction scores the divergence rule consumes.
type Advice struct {
	Proposal core.TradeProposal   `json:"proposal"`
	Scores   core.ConsensusScores `json:"scores"`
}

// AnalysisUnit deliberates over a sealed ledger. Implementations only ever
// see sealed ledgers and the guidance learned under the current regime;
// they can never reach back to the vendors.
type AnalysisUnit interface {
	Deliberate(ctx context.Context, book *ledger.FactLedger, guidance []learner.Lesson) (Advice, error)
}

// Event is one published decision, consumed by the websocket stream and by
// API callers.
type Event struct {
	CycleID    string              `json:"cycle_id"`
	Symbol     string              `json:"symbol"`
	LedgerID   string              `json:"ledger_id"`
	Regime     regime.Label        `json:"regime"`
	Advice     Advice              `json:"advice"`
	Decision   gatekeeper.Decision `json:"decision"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt time.Time           `json:"finished_at"`
}

// maxRetainedLedgers bounds the in-memory ledger cache behind the lookup
// endpoint.
const maxRetainedLedgers = 256

// Engine owns the end to end decision flow.
type Engine struct {
	registrar *registrar.Registrar
	panel     AnalysisUnit
	gate      *gatekeeper.Gatekeeper
	learner   *learner.Learner
	tracker   *learner.OutcomeTracker
	breaker   *breaker.Breaker
	review    reviewlog.Recorder
	metrics   *metrics.Metrics
	logger    *log.Logger
	now       func() time.Time

	mu        sync.RWMutex
	listeners []func(Event)
	ledgers   map[string]*ledger.FactLedger
	order     []string // ledger ids, oldest first
}

// New wires the engine. Every dependency is required.
func New(reg *registrar.Registrar, panel AnalysisUnit, gate *gatekeeper.Gatekeeper,
	l *learner.Learner, tracker *learner.OutcomeTracker, brk *breaker.Breaker,
	review reviewlog.Recorder, m *metrics.Metrics) *Engine {
	return &Engine{
		registrar: reg,
		panel:     panel,
		gate:      gate,
		learner:   l,
		tracker:   tracker,
		breaker:   brk,
		review:    review,
		metrics:   m,
		logger:    log.New(log.Writer(), "[CYCLE] ", log.LstdFlags),
		now:       time.Now,
		ledgers:   make(map[string]*ledger.FactLedger),
	}
}

// SetClock replaces the wall clock for tests.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Subscribe registers a listener for every published decision event.
// Listeners run synchronously on the cycle goroutine and must not block.
func (e *Engine) Subscribe(fn func(Event)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, fn)
}

// Run executes one decision cycle for symbol. The returned event carries
// the full decision; acquisition failures and breaker halts surface as
// errors and never reach the gatekeeper.
func (e *Engine) Run(ctx context.Context, symbol string) (Event, error) {
	start := e.now()

	book, err := e.registrar.Acquire(ctx, symbol, core.AllCapabilities())
	if err != nil {
		return Event{}, err
	}

	guidance := e.learner.Lessons().ForRegime(book.Regime().Label)
	advice, err := e.panel.Deliberate(ctx, book, guidance)
	if err != nil {
		e.metrics.CyclesTotal.WithLabelValues("panel_error").Inc()
		return Event{}, fmt.Errorf("advisory panel failed for %s: %w", symbol, err)
	}

	decision := e.gate.Authorize(ctx, book, advice.Proposal, advice.Scores)

	finished := e.now()
	e.metrics.CyclesTotal.WithLabelValues("completed").Inc()
	e.metrics.CycleDuration.Observe(finished.Sub(start).Seconds())

	event := Event{
		CycleID:    uuid.NewString(),
		Symbol:     symbol,
		LedgerID:   book.ID(),
		Regime:     book.Regime().Label,
		Advice:     advice,
		Decision:   decision,
		StartedAt:  start,
		FinishedAt: finished,
	}
	e.retain(book)
	e.publish(event)
	e.logger.Printf("cycle %s: %s %s -> %s (rule=%s)", event.CycleID, symbol,
		advice.Proposal.Direction, decision.Result, decision.RuleFired)
	return event, nil
}

// RecordOutcome folds one realized result back into the feedback loop: the
// capital tracker updates the health ratio, the breaker re-checks it, and
// the learner proposes its bounded threshold moves. A freshly tripped
// breaker lands in the review log.
func (e *Engine) RecordOutcome(ctx context.Context, rec learner.OutcomeRecord) (breaker.Verdict, error) {
	ratio := e.tracker.Record(rec)

	verdict, err := e.breaker.CheckHealth(ctx, ratio)
	if err != nil {
		return verdict, err
	}
	if verdict == breaker.Halted {
		ev := reviewlog.NewEvent(reviewlog.KindBreakerTrip)
		ev.LedgerID = rec.LedgerID
		ev.Detail = fmt.Sprintf("capital ratio %.4f after outcome pnl=%.2f", ratio, rec.PnL)
		if rerr := e.review.Record(ctx, ev); rerr != nil {
			e.logger.Printf("⚠️ review log write failed: %v", rerr)
		}
	}

	e.learner.UpdateParameters(ctx, rec)
	return verdict, nil
}

// Ledger looks up a retained sealed ledger by id.
func (e *Engine) Ledger(id string) (*ledger.FactLedger, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	book, ok := e.ledgers[id]
	return book, ok
}

// Tracker exposes the capital tracker for the health endpoint.
func (e *Engine) Tracker() *learner.OutcomeTracker { return e.tracker }

func (e *Engine) retain(book *ledger.FactLedger) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ledgers[book.ID()] = book
	e.order = append(e.order, book.ID())
	for len(e.order) > maxRetainedLedgers {
		delete(e.ledgers, e.order[0])
		e.order = e.order[1:]
	}
}

func (e *Engine) publish(ev Event) {
	e.mu.RLock()
	listeners := e.listeners
	e.mu.RUnlock()
	for _, fn := range listeners {
		fn(ev)
	}
}
