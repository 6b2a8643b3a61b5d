// Package learner adjusts the tunable gate thresholds after real-world
// outcomes are known, under a velocity brake that stops any parameter from
// drifting in one direction unchecked. It also keeps regime-tagged guidance
// records that never leak across regimes.
package learner

import (
	"fmt"
	"sync"
)

// MoveDirection is the sign of one parameter adjustment.
type MoveDirection int8

const (
	MoveUp   MoveDirection = 1
	MoveDown MoveDirection = -1
)

func (d MoveDirection) String() string {
	if d == MoveUp {
		return "up"
	}
	return "down"
}

// Parameter is one tunable threshold with its bounded adjustment history.
type Parameter struct {
	Name    string
	Value   float64
	Min     float64
	Max     float64
	Frozen  bool
	history []MoveDirection // most recent last, capped at historyDepth
}

// ErrFrozen reports an adjustment rejected by the velocity brake.
type ErrFrozen struct {
	Param     string
	Direction MoveDirection
	Streak    int
}

func (e *ErrFrozen) Error() string {
	return fmt.Sprintf("parameter %s frozen: %d consecutive %s moves hit the velocity brake", e.Param, e.Streak, e.Direction)
}

// ParameterState holds every tunable threshold. All methods are safe for
// concurrent use.
type ParameterState struct {
	mu           sync.Mutex
	params       map[string]*Parameter
	brakeLimit   int // consecutive same-direction moves allowed
	historyDepth int
}

// NewParameterState creates an empty state with the given brake settings.
func NewParameterState(brakeLimit, historyDepth int) *ParameterState {
	if brakeLimit < 1 {
		brakeLimit = 3
	}
	if historyDepth < brakeLimit {
		historyDepth = brakeLimit
	}
	return &ParameterState{
		params:       make(map[string]*Parameter),
		brakeLimit:   brakeLimit,
		historyDepth: historyDepth,
	}
}

// Define registers a tunable parameter with its bounds. Defining twice is a
// setup bug and panics.
func (s *ParameterState) Define(name string, value, min, max float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.params[name]; exists {
		panic(fmt.Sprintf("parameter %s defined twice", name))
	}
	s.params[name] = &Parameter{Name: name, Value: value, Min: min, Max: max}
}

// Value returns a parameter's current value.
func (s *ParameterState) Value(name string) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.params[name]
	if !ok {
		return 0, false
	}
	return p.Value, true
}

// Adjust moves a parameter by delta in the given direction, clamped to its
// bounds. The velocity brake runs first: if the parameter's last brakeLimit
// moves were all in this same direction, the move is rejected, the
// parameter freezes, and the caller is expected to log the rejection.
func (s *ParameterState) Adjust(name string, dir MoveDirection, delta float64) (float64, error) {
	if delta < 0 {
		delta = -delta
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.params[name]
	if !ok {
		return 0, fmt.Errorf("unknown parameter %s", name)
	}
	if p.Frozen {
		return p.Value, &ErrFrozen{Param: name, Direction: dir, Streak: s.streak(p, dir)}
	}

	if streak := s.streak(p, dir); streak >= s.brakeLimit {
		p.Frozen = true
		return p.Value, &ErrFrozen{Param: name, Direction: dir, Streak: streak}
	}

	next := p.Value + float64(dir)*delta
	if next < p.Min {
		next = p.Min
	}
	if next > p.Max {
		next = p.Max
	}
	p.Value = next

	p.history = append(p.history, dir)
	if len(p.history) > s.historyDepth {
		p.history = p.history[len(p.history)-s.historyDepth:]
	}
	return p.Value, nil
}

// streak counts trailing consecutive moves in dir. Caller must hold s.mu.
func (s *ParameterState) streak(p *Parameter, dir MoveDirection) int {
	n := 0
	for i := len(p.history) - 1; i >= 0; i-- {
		if p.history[i] != dir {
			break
		}
		n++
	}
	return n
}

// Unfreeze clears a frozen parameter and resets its streak. Like the
// circuit breaker, this is an explicit external action.
func (s *ParameterState) Unfreeze(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.params[name]
	if !ok {
		return fmt.Errorf("unknown parameter %s", name)
	}
	p.Frozen = false
	p.history = nil
	return nil
}

// Snapshot returns a copy of every parameter for the inspection endpoint.
func (s *ParameterState) Snapshot() map[string]Parameter {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Parameter, len(s.params))
	for name, p := range s.params {
		cp := *p
		cp.history = append([]MoveDirection(nil), p.history...)
		out[name] = cp
	}
	return out
}
