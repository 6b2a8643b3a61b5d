package learner

import (
	"sync"
)

// OutcomeTracker maintains the running capital balance relative to a
// baseline. Its ratio is the cumulative health metric the circuit breaker
// evaluates after every recorded outcome.
type OutcomeTracker struct {
	mu       sync.Mutex
	baseline float64
	balance  float64
	records  []OutcomeRecord
}

// NewOutcomeTracker starts tracking from the given baseline capital.
// Baseline must be positive; a zero baseline would make every ratio
// meaningless.
func NewOutcomeTracker(baseline float64) *OutcomeTracker {
	if baseline <= 0 {
		panic("outcome tracker: baseline must be positive")
	}
	return &OutcomeTracker{baseline: baseline, balance: baseline}
}

// Record folds one realized outcome into the running balance and returns
// the updated health ratio.
func (t *OutcomeTracker) Record(rec OutcomeRecord) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balance += rec.PnL
	t.records = append(t.records, rec)
	return t.balance / t.baseline
}

// Ratio returns balance / baseline, the breaker's health metric.
func (t *OutcomeTracker) Ratio() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balance / t.baseline
}

// History returns a copy of all recorded outcomes, oldest first.
func (t *OutcomeTracker) History() []OutcomeRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]OutcomeRecord(nil), t.records...)
}
