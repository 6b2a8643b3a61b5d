// Package registry maps capabilities to ordered lists of source adapters.
//
// Registration happens once, during process startup or test setup, under a
// write lock. Resolution happens constantly during fetch fan-out and reads a
// copy-on-write snapshot through an atomic pointer, so readers never contend
// with a registration in progress.
package registry

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/tradegate/backend/internal/core"
	"github.com/tradegate/backend/internal/ratelimit"
	"github.com/tradegate/backend/internal/sources"
)

// Registration binds one adapter to one capability with its routing and
// safety policies. Immutable after Register returns.
type Registration struct {
	Adapter   sources.Adapter
	Priority  int // lower = tried first
	Retry     sources.RetryPolicy
	RateLimit ratelimit.Policy

	seq int // registration order, breaks priority ties
}

// Metadata is the read-only description of one registration.
type Metadata struct {
	AdapterID    string
	Capabilities []core.Capability
	Priority     int
	Retry        sources.RetryPolicy
	RateLimit    ratelimit.Policy
}

// catalog is the immutable snapshot readers see.
type catalog struct {
	byCapability map[core.Capability][]Registration
}

// Registry is the concurrency-safe adapter catalog.
type Registry struct {
	mu      sync.Mutex // serializes registrations
	nextSeq int
	current atomic.Pointer[catalog]
	logger  *log.Logger
}

// New creates an empty registry.
func New() *Registry {
	r := &Registry{
		logger: log.New(log.Writer(), "[REGISTRY] ", log.LstdFlags),
	}
	r.current.Store(&catalog{byCapability: map[core.Capability][]Registration{}})
	return r
}

// Register adds adapter as a candidate for capability at the given priority.
// The adapter must declare the capability in its own Capabilities list
// mismatches are configuration bugs and fail here, at startup.
func (r *Registry) Register(capability core.Capability, adapter sources.Adapter, priority int, retry sources.RetryPolicy, limit ratelimit.Policy) error {
	if !capability.Valid() {
		return fmt.Errorf("register: unknown capability %q", capability)
	}
	if !declares(adapter, capability) {
		return fmt.Errorf("register: adapter %s does not declare capability %q", adapter.ID(), capability)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	reg := Registration{
		Adapter:   adapter,
		Priority:  priority,
		Retry:     retry,
		RateLimit: limit,
		seq:       r.nextSeq,
	}
	r.nextSeq++

	// Copy-on-write: build the next snapshot, then swap it in
	old := r.current.Load()
	next := &catalog{byCapability: make(map[core.Capability][]Registration, len(old.byCapability)+1)}
	for capability, regs := range old.byCapability {
		next.byCapability[capability] = regs
	}

	regs := append([]Registration(nil), next.byCapability[capability]...)
	regs = append(regs, reg)
	sort.SliceStable(regs, func(i, j int) bool {
		if regs[i].Priority != regs[j].Priority {
			return regs[i].Priority < regs[j].Priority
		}
		return regs[i].seq < regs[j].seq
	})
	next.byCapability[capability] = regs

	r.current.Store(next)
	r.logger.Printf("registered adapter=%s capability=%s priority=%d", adapter.ID(), capability, priority)
	return nil
}

func declares(adapter sources.Adapter, capability core.Capability) bool {
	for _, c := range adapter.Capabilities() {
		if c == capability {
			return true
		}
	}
	return false
}

// Resolve returns the adapters for capability in ascending priority order.
// Calling Resolve for a capability nobody registered is a programming error:
// ValidateCoverage must have been run at startup, so a miss here means the
// process skipped validation. It panics rather than limping on.
func (r *Registry) Resolve(capability core.Capability) []Registration {
	regs, ok := r.current.Load().byCapability[capability]
	if !ok || len(regs) == 0 {
		panic(fmt.Sprintf("registry: capability %q resolved at runtime without registration, startup validation was skipped", capability))
	}
	return regs
}

// Describe returns the metadata for every adapter registered for capability,
// in resolution order. Unlike Resolve, an empty result is not an error.
func (r *Registry) Describe(capability core.Capability) []Metadata {
	regs := r.current.Load().byCapability[capability]
	out := make([]Metadata, 0, len(regs))
	for _, reg := range regs {
		out = append(out, Metadata{
			AdapterID:    reg.Adapter.ID(),
			Capabilities: reg.Adapter.Capabilities(),
			Priority:     reg.Priority,
			Retry:        reg.Retry,
			RateLimit:    reg.RateLimit,
		})
	}
	return out
}

// Capabilities lists every capability with at least one registration,
// sorted for stable output.
func (r *Registry) Capabilities() []core.Capability {
	cat := r.current.Load()
	out := make([]core.Capability, 0, len(cat.byCapability))
	for capability := range cat.byCapability {
		out = append(out, capability)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ValidateCoverage confirms every required capability has at least one
// registered adapter. The registrar calls this before its first cycle; a
// gap is a configuration error surfaced at startup, never mid-fetch.
func (r *Registry) ValidateCoverage(required []core.Capability) error {
	cat := r.current.Load()
	var missing []core.Capability
	for _, capability := range required {
		if len(cat.byCapability[capability]) == 0 {
			missing = append(missing, capability)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("registry: no adapters registered for required capabilities %v", missing)
	}
	return nil
}
