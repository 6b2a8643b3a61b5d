// Package ratelimit provides the per-source sliding-window throttle every
// vendor adapter call passes through.
//
// Unlike a coarse fixed-window counter, the limiter keeps the exact
// timestamps of recent calls per source and evicts entries older than the
// window on every check, so the admitted rate is correct at window
// boundaries. A small burst allowance permits a short excess above the
// steady-state ceiling.
package ratelimit

import (
	"context"
	"log"
	"sync"
	"time"
)

// Policy defines the throttle for one source.
type Policy struct {
	Window   time.Duration // sliding window length
	MaxCalls int           // steady-state ceiling within the window
	Burst    int           // extra calls tolerated above MaxCalls
}

// Ceiling is the hard admission limit including burst.
func (p Policy) Ceiling() int { return p.MaxCalls + p.Burst }

// Limiter enforces per-source sliding-window rate limits. Safe for
// concurrent use by multiple fetch workers.
type Limiter struct {
	mu       sync.Mutex
	calls    map[string][]time.Time // per-source admitted call timestamps
	policies map[string]Policy
	defaults Policy
	now      func() time.Time
	logger   *log.Logger
}

// New creates a limiter with the given default policy. Sources without an
// explicit policy fall back to the default.
func New(defaults Policy) *Limiter {
	if defaults.MaxCalls == 0 {
		defaults.MaxCalls = 30
	}
	if defaults.Window == 0 {
		defaults.Window = time.Minute
	}

	return &Limiter{
		calls:    make(map[string][]time.Time),
		policies: make(map[string]Policy),
		defaults: defaults,
		now:      time.Now,
		logger:   log.New(log.Writer(), "[RATE-LIMIT] ", log.LstdFlags),
	}
}

// SetPolicy installs a source-specific policy, overriding the default.
// Called during startup registration, before any fetch traffic.
func (l *Limiter) SetPolicy(sourceID string, p Policy) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if p.Window == 0 {
		p.Window = l.defaults.Window
	}
	if p.MaxCalls == 0 {
		p.MaxCalls = l.defaults.MaxCalls
	}
	l.policies[sourceID] = p
}

// SetClock replaces the time source. Tests use this to advance a simulated
// clock instead of sleeping.
func (l *Limiter) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

func (l *Limiter) policyFor(sourceID string) Policy {
	if p, ok := l.policies[sourceID]; ok {
		return p
	}
	return l.defaults
}

// Allow admits one call for sourceID if the sliding window has room,
// recording the call timestamp. Non-blocking.
func (l *Limiter) Allow(sourceID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tryAdmit(sourceID)
}

// tryAdmit evicts expired timestamps and admits if under the ceiling.
// Caller must hold l.mu.
func (l *Limiter) tryAdmit(sourceID string) bool {
	p := l.policyFor(sourceID)
	now := l.now()
	cutoff := now.Add(-p.Window)

	recent := l.calls[sourceID]
	i := 0
	for i < len(recent) && !recent[i].After(cutoff) {
		i++
	}
	recent = recent[i:]

	if len(recent) >= p.Ceiling() {
		l.calls[sourceID] = recent
		return false
	}
	if len(recent) >= p.MaxCalls {
		l.logger.Printf("⚠️ source=%s in burst territory: %d/%d calls in window", sourceID, len(recent)+1, p.MaxCalls)
	}

	l.calls[sourceID] = append(recent, now)
	return true
}

// nextFree reports how long until the oldest in-window call expires.
// Caller must hold l.mu. Returns 0 when the window already has room.
func (l *Limiter) nextFree(sourceID string) time.Duration {
	p := l.policyFor(sourceID)
	recent := l.calls[sourceID]
	if len(recent) < p.Ceiling() {
		return 0
	}
	wait := recent[0].Add(p.Window).Sub(l.now())
	if wait < 0 {
		return 0
	}
	return wait
}

// Acquire blocks until a slot opens for sourceID or ctx is done. On context
// expiry it returns ctx.Err(), callers treat that as a transient failure and
// fall through to retry or the next adapter, never as success.
func (l *Limiter) Acquire(ctx context.Context, sourceID string) error {
	for {
		l.mu.Lock()
		if l.tryAdmit(sourceID) {
			l.mu.Unlock()
			return nil
		}
		wait := l.nextFree(sourceID)
		l.mu.Unlock()

		if wait <= 0 {
			wait = 10 * time.Millisecond
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// InWindow returns how many admitted calls sourceID has in its current
// window. Exposed for the stats endpoint and tests.
func (l *Limiter) InWindow(sourceID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	p := l.policyFor(sourceID)
	cutoff := l.now().Add(-p.Window)
	n := 0
	for _, t := range l.calls[sourceID] {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}

// Stats returns current limiter statistics keyed by source.
func (l *Limiter) Stats() map[string]interface{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	perSource := make(map[string]int, len(l.calls))
	cutoffFor := func(id string) time.Time { return l.now().Add(-l.policyFor(id).Window) }
	for id, ts := range l.calls {
		cutoff := cutoffFor(id)
		n := 0
		for _, t := range ts {
			if t.After(cutoff) {
				n++
			}
		}
		perSource[id] = n
	}

	return map[string]interface{}{
		"active_sources":  len(l.calls),
		"calls_in_window": perSource,
		"default_policy":  l.defaults,
	}
}
