// Package sources defines the contract every external data vendor must
// implement and the shared machinery (rate limiting, bounded retry with
// backoff and jitter) wrapped around every invocation.
//
// An adapter's lifecycle has three stages: build the request, fetch the raw
// response, normalize it into a capability payload. The Invoker owns the
// retry loop so individual adapters stay free of policy.
package sources

import (
	"context"
	"log"
	"math/rand"
	"net/http"
	"time"

	"github.com/tradegate/backend/internal/core"
	"github.com/tradegate/backend/internal/metrics"
	"github.com/tradegate/backend/internal/ratelimit"
)

// Params describes one fetch: which capability, for which symbol, how far
// back.
type Params struct {
	Capability core.Capability
	Symbol     string
	Lookback   int // bars or days, capability-dependent
}

// Request is a prepared vendor call, ready to execute.
type Request struct {
	Method string
	URL    string
	Header http.Header
}

// RawResponse is the unparsed vendor reply.
type RawResponse struct {
	StatusCode int
	Body       []byte
}

// Adapter is the three-stage contract for one external data source.
// Implementations must be stateless per call: the Invoker may call
// PrepareRequest again on retry.
type Adapter interface {
	// ID is the stable source identity used for rate limiting, provenance
	// stamps, and metrics labels.
	ID() string
	// Capabilities lists every capability this adapter can serve.
	Capabilities() []core.Capability
	// PrepareRequest builds the vendor request. Failure here is always
	// permanent (bad params, missing credentials).
	PrepareRequest(p Params) (*Request, error)
	// Execute performs the network call. Must classify failures via
	// Transient/Permanent wrappers.
	Execute(ctx context.Context, req *Request) (*RawResponse, error)
	// Normalize parses the raw response into the capability payload.
	// Schema mismatches are permanent failures.
	Normalize(p Params, raw *RawResponse) (core.Payload, error)
}

// RetryPolicy bounds the Invoker's retry loop for one adapter.
type RetryPolicy struct {
	MaxAttempts int           // total attempts including the first
	BaseBackoff time.Duration // first retry delay, doubled each attempt
	MaxBackoff  time.Duration // backoff cap
	Jitter      float64       // 0.0-1.0 fraction of backoff randomized
}

// DefaultRetryPolicy matches typical vendor guidance: three attempts, short
// exponential backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseBackoff: 250 * time.Millisecond,
		MaxBackoff:  5 * time.Second,
		Jitter:      0.25,
	}
}

// backoffFor computes the delay before retry attempt n (1-based).
func (p RetryPolicy) backoffFor(attempt int) time.Duration {
	d := p.BaseBackoff << (attempt - 1)
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	if p.Jitter > 0 {
		spread := float64(d) * p.Jitter
		d = time.Duration(float64(d) - spread/2 + rand.Float64()*spread)
	}
	return d
}

// FetchResult is one successful adapter invocation, folded into the
// candidate snapshot by the registrar.
type FetchResult struct {
	AdapterID  string
	Capability core.Capability
	Payload    core.Payload
	FetchedAt  time.Time
	Latency    time.Duration
	Attempts   int
}

// Invoker wraps every adapter call with rate limiting and bounded retry.
// One Invoker is shared by all fetch workers.
type Invoker struct {
	limiter *ratelimit.Limiter
	metrics *metrics.Metrics
	logger  *log.Logger
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewInvoker builds the shared invocation wrapper.
func NewInvoker(limiter *ratelimit.Limiter, m *metrics.Metrics) *Invoker {
	return &Invoker{
		limiter: limiter,
		metrics: m,
		logger:  log.New(log.Writer(), "[SOURCES] ", log.LstdFlags),
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

// SetClock replaces the time and sleep sources for tests.
func (inv *Invoker) SetClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) {
	inv.now = now
	inv.sleep = sleep
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Invoke runs one full adapter lifecycle under the retry policy. Transient
// failures are retried with exponential backoff and jitter; permanent
// failures abort immediately. A rate-limit timeout counts as transient.
func (inv *Invoker) Invoke(ctx context.Context, ad Adapter, policy RetryPolicy, p Params) (*FetchResult, error) {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			inv.metrics.AdapterRetries.WithLabelValues(ad.ID()).Inc()
			if err := inv.sleep(ctx, policy.backoffFor(attempt-1)); err != nil {
				return nil, Transient(ad.ID(), "execute", err)
			}
		}

		result, err := inv.attempt(ctx, ad, p)
		if err == nil {
			result.Attempts = attempt
			inv.metrics.AdapterCalls.WithLabelValues(ad.ID(), string(p.Capability), "ok").Inc()
			inv.metrics.FetchLatency.WithLabelValues(ad.ID(), string(p.Capability)).Observe(result.Latency.Seconds())
			return result, nil
		}

		lastErr = err
		if !IsTransient(err) {
			inv.metrics.AdapterCalls.WithLabelValues(ad.ID(), string(p.Capability), "permanent").Inc()
			inv.logger.Printf("adapter=%s capability=%s permanent failure, no retry: %v", ad.ID(), p.Capability, err)
			return nil, err
		}
		inv.metrics.AdapterCalls.WithLabelValues(ad.ID(), string(p.Capability), "transient").Inc()
		inv.logger.Printf("adapter=%s capability=%s attempt %d/%d failed: %v", ad.ID(), p.Capability, attempt, policy.MaxAttempts, err)
	}

	return nil, lastErr
}

// attempt is one pass through the three-stage lifecycle.
func (inv *Invoker) attempt(ctx context.Context, ad Adapter, p Params) (*FetchResult, error) {
	if err := inv.limiter.Acquire(ctx, ad.ID()); err != nil {
		inv.metrics.RateLimitRejections.WithLabelValues(ad.ID()).Inc()
		return nil, Transient(ad.ID(), "rate_limit", err)
	}

	req, err := ad.PrepareRequest(p)
	if err != nil {
		return nil, Permanent(ad.ID(), "prepare", err)
	}

	start := inv.now()
	raw, err := ad.Execute(ctx, req)
	latency := inv.now().Sub(start)
	if err != nil {
		return nil, err
	}

	payload, err := ad.Normalize(p, raw)
	if err != nil {
		return nil, err
	}

	return &FetchResult{
		AdapterID:  ad.ID(),
		Capability: p.Capability,
		Payload:    payload,
		FetchedAt:  inv.now(),
		Latency:    latency,
	}, nil
}
