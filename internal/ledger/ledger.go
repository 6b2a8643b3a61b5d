// Package ledger implements the immutable fact ledger: the single sealed
// snapshot of acquired data one decision cycle runs against.
//
// A ledger is built by the registrar, enriched by the regime classifier,
// then sealed. Sealing computes a sha-256 content hash over the capability
// payloads only, creation time, provenance, and freshness metadata are
// excluded so two cycles over identical data hash identically. After
// sealing, every write panics: a mutated ledger is a defect, never a
// recoverable condition.
package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tradegate/backend/internal/core"
	"github.com/tradegate/backend/internal/regime"
)

// Entry is one capability's slot in the ledger: the normalized payload plus
// its provenance.
type Entry struct {
	Payload   core.Payload
	AsOf      time.Time // data's own timestamp
	FetchedAt time.Time // wall-clock fetch time
	AdapterID string
}

// FactLedger is the sealed snapshot. Construct with New, populate with Put
// and SetRegime, then Seal. All read methods are safe for concurrent use
// once sealed; writes are single-threaded by the registrar barrier.
type FactLedger struct {
	id        string
	createdAt time.Time
	entries   map[core.Capability]Entry
	regime    regime.Snapshot
	hash      string
	sealed    bool
}

// New creates an empty, unsealed ledger.
func New(now time.Time) *FactLedger {
	return &FactLedger{
		id:        uuid.NewString(),
		createdAt: now.UTC(),
		entries:   make(map[core.Capability]Entry),
	}
}

// ID returns the ledger's unique identifier.
func (l *FactLedger) ID() string { return l.id }

// CreatedAt returns the ledger's creation timestamp.
func (l *FactLedger) CreatedAt() time.Time { return l.createdAt }

// Sealed reports whether the ledger has been sealed.
func (l *FactLedger) Sealed() bool { return l.sealed }

// mustBeUnsealed is the write-once guard. A write after seal means some
// component bypassed the registrar barrier, fail loudly, never ignore.
func (l *FactLedger) mustBeUnsealed(op string) {
	if l.sealed {
		panic(fmt.Sprintf("ledger %s: %s on sealed ledger, write-once invariant violated", l.id, op))
	}
}

// Put stores the entry for its payload's capability.
func (l *FactLedger) Put(e Entry) {
	l.mustBeUnsealed("Put")
	if e.Payload == nil {
		panic(fmt.Sprintf("ledger %s: Put with nil payload", l.id))
	}
	l.entries[e.Payload.Capability()] = e
}

// SetRegime writes the classifier's output into the ledger.
func (l *FactLedger) SetRegime(s regime.Snapshot) {
	l.mustBeUnsealed("SetRegime")
	l.regime = s
}

// Seal computes the content hash and freezes the ledger. Sealing twice is a
// programming error.
func (l *FactLedger) Seal() {
	l.mustBeUnsealed("Seal")
	hash, err := contentHash(l.entries)
	if err != nil {
		panic(fmt.Sprintf("ledger %s: content hash failed: %v", l.id, err))
	}
	l.hash = hash
	l.sealed = true
}

// contentHash hashes the payload section only. encoding/json emits map keys
// in sorted order and struct fields in declaration order, so the encoding
// and therefore the hash, is deterministic for equal payload values.
func contentHash(entries map[core.Capability]Entry) (string, error) {
	payloads := make(map[string]core.Payload, len(entries))
	for capability, e := range entries {
		payloads[string(capability)] = e.Payload
	}
	encoded, err := json.Marshal(payloads)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:]), nil
}

// ContentHash returns the sealed hash. Panics if called before Seal, an
// unsealed ledger has no trustworthy identity yet.
func (l *FactLedger) ContentHash() string {
	if !l.sealed {
		panic(fmt.Sprintf("ledger %s: ContentHash before Seal", l.id))
	}
	return l.hash
}

// Get returns the entry for a capability.
func (l *FactLedger) Get(capability core.Capability) (Entry, bool) {
	e, ok := l.entries[capability]
	return e, ok
}

// Capabilities lists the capabilities present in the ledger.
func (l *FactLedger) Capabilities() []core.Capability {
	caps := make([]core.Capability, 0, len(l.entries))
	for _, c := range core.AllCapabilities() {
		if _, ok := l.entries[c]; ok {
			caps = append(caps, c)
		}
	}
	return caps
}

// Regime returns the classifier output written before sealing.
func (l *FactLedger) Regime() regime.Snapshot { return l.regime }

// Age returns how old a capability's data is at the given instant, measured
// against the payload's own timestamp. Second return is false when the
// capability is absent.
func (l *FactLedger) Age(capability core.Capability, now time.Time) (time.Duration, bool) {
	e, ok := l.entries[capability]
	if !ok {
		return 0, false
	}
	return now.Sub(e.AsOf), true
}

// PriceSeries is a typed accessor for the most commonly read payload.
func (l *FactLedger) PriceSeries() (core.PriceSeries, bool) {
	e, ok := l.entries[core.CapPriceSeries]
	if !ok {
		return core.PriceSeries{}, false
	}
	series, ok := e.Payload.(core.PriceSeries)
	return series, ok
}

// Ownership is a typed accessor for the compliance rule's input.
func (l *FactLedger) Ownership() (core.OwnershipActivity, bool) {
	e, ok := l.entries[core.CapOwnership]
	if !ok {
		return core.OwnershipActivity{}, false
	}
	activity, ok := e.Payload.(core.OwnershipActivity)
	return activity, ok
}

// Record is the JSON interchange form served to downstream readers.
type Record struct {
	LedgerID       string                  `json:"ledger_id"`
	CreatedAt      time.Time               `json:"created_at"`
	Freshness      map[string]float64      `json:"freshness"` // seconds at seal time
	SourceVersions map[string]string       `json:"source_versions"`
	Payload        map[string]core.Payload `json:"payload"`
	Regime         string                  `json:"regime"`
	ContentHash    string                  `json:"content_hash"`
}

// Export renders the sealed ledger as its interchange record. Panics on an
// unsealed ledger: nothing downstream may see a snapshot that can still
// change.
func (l *FactLedger) Export() Record {
	if !l.sealed {
		panic(fmt.Sprintf("ledger %s: Export before Seal", l.id))
	}

	rec := Record{
		LedgerID:       l.id,
		CreatedAt:      l.createdAt,
		Freshness:      make(map[string]float64, len(l.entries)),
		SourceVersions: make(map[string]string, len(l.entries)),
		Payload:        make(map[string]core.Payload, len(l.entries)),
		Regime:         string(l.regime.Label),
		ContentHash:    l.hash,
	}
	for capability, e := range l.entries {
		rec.Freshness[string(capability)] = l.createdAt.Sub(e.AsOf).Seconds()
		rec.SourceVersions[string(capability)] = fmt.Sprintf("%s@%s", e.AdapterID, e.FetchedAt.UTC().Format(time.RFC3339))
		rec.Payload[string(capability)] = e.Payload
	}
	return rec
}
