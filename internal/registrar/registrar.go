// Package registrar runs the acquisition round: it fans out one bounded
// fetch per required capability, walks each capability's adapter chain in
// priority order, and folds every normalized payload into a single fact
// ledger that is sealed before anything downstream sees it.
package registrar

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/tradegate/backend/internal/breaker"
	"github.com/tradegate/backend/internal/config"
	"github.com/tradegate/backend/internal/core"
	"github.com/tradegate/backend/internal/ledger"
	"github.com/tradegate/backend/internal/metrics"
	"github.com/tradegate/backend/internal/regime"
	"github.com/tradegate/backend/internal/registry"
	"github.com/tradegate/backend/internal/sources"
)

// FatalAcquisitionError means a required capability could not be served by
// any registered adapter. The cycle carrying it must stop before the
// gatekeeper: a decision over partial facts is worse than no decision.
type FatalAcquisitionError struct {
	Symbol     string
	Capability core.Capability
	Attempts   int // adapters tried
	Err        error
}

func (e *FatalAcquisitionError) Error() string {
	return fmt.Sprintf("acquisition failed for %s/%s after %d adapter(s): %v",
		e.Symbol, e.Capability, e.Attempts, e.Err)
}

func (e *FatalAcquisitionError) Unwrap() error { return e.Err }

// Registrar orchestrates fetch rounds against the adapter registry.
type Registrar struct {
	registry *registry.Registry
	invoker  *sources.Invoker
	breaker  *breaker.Breaker
	cfg      config.AcquisitionConfig
	metrics  *metrics.Metrics
	logger   *log.Logger
	now      func() time.Time
}

// New wires the acquisition orchestrator.
func New(reg *registry.Registry, inv *sources.Invoker, brk *breaker.Breaker, cfg config.AcquisitionConfig, m *metrics.Metrics) *Registrar {
	return &Registrar{
		registry: reg,
		invoker:  inv,
		breaker:  brk,
		cfg:      cfg,
		metrics:  m,
		logger:   log.New(log.Writer(), "[REGISTRAR] ", log.LstdFlags),
		now:      time.Now,
	}
}

// SetClock replaces the wall clock for tests.
func (r *Registrar) SetClock(now func() time.Time) { r.now = now }

// stalenessBudget returns the acquisition-time freshness budget for a
// capability, or zero if none is configured.
func (r *Registrar) stalenessBudget(capability core.Capability) time.Duration {
	hours, ok := r.cfg.StalenessHours[string(capability)]
	if !ok {
		return 0
	}
	return time.Duration(hours) * time.Hour
}

type capResult struct {
	capability core.Capability
	entry      ledger.Entry
	err        error
}

// Acquire runs one fetch round for symbol and returns the sealed ledger.
// The breaker is consulted first: while halted, no vendor call is made at
// all. Each capability runs in its own worker, capped at
// MaxConcurrentFetches in flight, and walks its adapter chain sequentially
// so a transient vendor outage falls through to the next source without
// re-fetching capabilities that already succeeded.
func (r *Registrar) Acquire(ctx context.Context, symbol string, required []core.Capability) (*ledger.FactLedger, error) {
	if err := r.breaker.Guard(ctx); err != nil {
		r.metrics.CyclesTotal.WithLabelValues("halted").Inc()
		return nil, err
	}
	if len(required) == 0 {
		return nil, fmt.Errorf("acquire %s: no capabilities requested", symbol)
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.CycleTimeout())
	defer cancel()

	sem := make(chan struct{}, r.cfg.MaxConcurrentFetches)
	results := make(chan capResult, len(required))
	var wg sync.WaitGroup

	for _, capability := range required {
		wg.Add(1)
		go func(capability core.Capability) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results <- capResult{capability: capability, err: &FatalAcquisitionError{
					Symbol:     symbol,
					Capability: capability,
					Err:        fmt.Errorf("cycle timeout before fetch slot: %w", ctx.Err()),
				}}
				return
			}
			entry, err := r.fetchCapability(ctx, symbol, capability)
			results <- capResult{capability: capability, entry: entry, err: err}
		}(capability)
	}
	wg.Wait()
	close(results)

	book := ledger.New(r.now())
	for res := range results {
		if res.err != nil {
			r.metrics.CyclesTotal.WithLabelValues("fatal_acquisition").Inc()
			r.logger.Printf("🚫 cycle aborted for %s: %v", symbol, res.err)
			return nil, res.err
		}
		book.Put(res.entry)
	}

	if series, ok := book.PriceSeries(); ok {
		book.SetRegime(regime.Classify(series))
	}
	book.Seal()
	r.logger.Printf("✅ ledger %s sealed for %s: %d capabilities, hash=%s",
		book.ID(), symbol, len(required), book.ContentHash()[:12])
	return book, nil
}

// fetchCapability walks the adapter chain for one capability. Adapters are
// tried in registry priority order; any failure, including an over-age
// payload, falls through to the next adapter. Only when the whole chain is
// exhausted does the capability fail fatally.
func (r *Registrar) fetchCapability(ctx context.Context, symbol string, capability core.Capability) (ledger.Entry, error) {
	chain := r.registry.Resolve(capability)
	budget := r.stalenessBudget(capability)

	var lastErr error
	for _, reg := range chain {
		callCtx, cancel := context.WithTimeout(ctx, r.cfg.AdapterTimeout())
		result, err := r.invoker.Invoke(callCtx, reg.Adapter, reg.Retry, sources.Params{
			Capability: capability,
			Symbol:     symbol,
		})
		cancel()

		if err != nil {
			lastErr = err
			r.logger.Printf("adapter=%s capability=%s exhausted, trying next in chain: %v",
				reg.Adapter.ID(), capability, err)
			continue
		}

		if budget > 0 {
			if age := r.now().Sub(result.Payload.AsOf()); age > budget {
				lastErr = fmt.Errorf("adapter %s returned %s data aged %s, budget %s",
					result.AdapterID, capability, age.Round(time.Minute), budget)
				r.metrics.AdapterCalls.WithLabelValues(result.AdapterID, string(capability), "stale").Inc()
				r.logger.Printf("⚠️ %v", lastErr)
				continue
			}
		}

		return ledger.Entry{
			Payload:   result.Payload,
			AsOf:      result.Payload.AsOf(),
			FetchedAt: result.FetchedAt,
			AdapterID: result.AdapterID,
		}, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no adapter produced %s", capability)
	}
	return ledger.Entry{}, &FatalAcquisitionError{
		Symbol:     symbol,
		Capability: capability,
		Attempts:   len(chain),
		Err:        lastErr,
	}
}
