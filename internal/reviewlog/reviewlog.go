// Package reviewlog is the append-only audit stream for every non-approved
// gate outcome, velocity-brake rejection, and breaker trip. One JSON object
// per event, never rewritten in place, so a reviewer can reconstruct what
// would have happened in any past cycle.
package reviewlog

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event kinds.
const (
	KindGateAbort      = "gate_abort"
	KindTrendOverride  = "trend_override"
	KindBrakeRejection = "brake_rejection"
	KindBreakerTrip    = "breaker_trip"
)

// Event is one review-log entry.
type Event struct {
	ID              string    `json:"id"`
	Timestamp       time.Time `json:"timestamp"`
	Kind            string    `json:"kind"`
	LedgerID        string    `json:"ledger_id,omitempty"`
	Result          string    `json:"result,omitempty"`
	RuleFired       string    `json:"rule_fired,omitempty"`
	OriginalIntent  string    `json:"original_intent,omitempty"`
	EffectiveAction string    `json:"effective_action,omitempty"`
	Detail          string    `json:"detail,omitempty"`
}

// NewEvent stamps a fresh event with id and time.
func NewEvent(kind string) Event {
	return Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Kind:      kind,
	}
}

// Recorder is the append-only sink contract. Record must never mutate or
// reorder previously written events.
type Recorder interface {
	Record(ctx context.Context, e Event) error
	// Recent returns up to limit events, newest first.
	Recent(ctx context.Context, limit int) ([]Event, error)
}
