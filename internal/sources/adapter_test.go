package sources

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradegate/backend/internal/core"
	"github.com/tradegate/backend/internal/metrics"
	"github.com/tradegate/backend/internal/ratelimit"
)

func testInvoker() *Invoker {
	inv := NewInvoker(ratelimit.New(ratelimit.Policy{Window: time.Minute, MaxCalls: 1000}), metrics.NewUnregistered())
	// No real sleeping between retries in tests
	inv.SetClock(time.Now, func(ctx context.Context, d time.Duration) error { return nil })
	return inv
}

func priceStep() MockStep {
	return MockStep{Payload: core.PriceSeries{
		Symbol: "ACME",
		Bars:   []core.PricePoint{{Date: time.Now().AddDate(0, 0, -1), Close: 100}},
	}}
}

func TestInvokeSucceedsFirstAttempt(t *testing.T) {
	ad := NewMockAdapter("primary", []core.Capability{core.CapPriceSeries}, priceStep())
	inv := testInvoker()

	res, err := inv.Invoke(context.Background(), ad, DefaultRetryPolicy(), Params{Capability: core.CapPriceSeries, Symbol: "ACME"})
	require.NoError(t, err)
	assert.Equal(t, "primary", res.AdapterID)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 1, ad.Calls())
}

func TestInvokeRetriesTransientThenSucceeds(t *testing.T) {
	ad := NewMockAdapter("flaky", []core.Capability{core.CapPriceSeries},
		MockStep{Err: Transient("flaky", "execute", errors.New("503"))},
		MockStep{Err: Transient("flaky", "execute", errors.New("timeout"))},
		priceStep(),
	)
	inv := testInvoker()

	res, err := inv.Invoke(context.Background(), ad, RetryPolicy{MaxAttempts: 3, BaseBackoff: time.Millisecond}, Params{Capability: core.CapPriceSeries, Symbol: "ACME"})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 3, ad.Calls())
}

func TestInvokeExhaustsTransientRetries(t *testing.T) {
	ad := NewMockAdapter("down", []core.Capability{core.CapPriceSeries},
		MockStep{Err: Transient("down", "execute", errors.New("503"))},
	)
	inv := testInvoker()

	_, err := inv.Invoke(context.Background(), ad, RetryPolicy{MaxAttempts: 3, BaseBackoff: time.Millisecond}, Params{Capability: core.CapPriceSeries, Symbol: "ACME"})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Equal(t, 3, ad.Calls(), "every attempt should reach the adapter")
}

func TestInvokePermanentFailsImmediately(t *testing.T) {
	ad := NewMockAdapter("badcreds", []core.Capability{core.CapPriceSeries},
		MockStep{Err: Permanent("badcreds", "execute", errors.New("401"))},
	)
	inv := testInvoker()

	_, err := inv.Invoke(context.Background(), ad, RetryPolicy{MaxAttempts: 5, BaseBackoff: time.Millisecond}, Params{Capability: core.CapPriceSeries, Symbol: "ACME"})
	require.Error(t, err)
	assert.False(t, IsTransient(err))
	assert.Equal(t, 1, ad.Calls(), "permanent failures must not be retried")
}

func TestInvokeRateLimitTimeoutIsTransient(t *testing.T) {
	limiter := ratelimit.New(ratelimit.Policy{Window: time.Hour, MaxCalls: 1})
	inv := NewInvoker(limiter, metrics.NewUnregistered())
	inv.SetClock(time.Now, func(ctx context.Context, d time.Duration) error { return nil })

	ad := NewMockAdapter("limited", []core.Capability{core.CapPriceSeries}, priceStep())

	// First call consumes the only slot in the window
	_, err := inv.Invoke(context.Background(), ad, RetryPolicy{MaxAttempts: 1}, Params{Capability: core.CapPriceSeries, Symbol: "ACME"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = inv.Invoke(ctx, ad, RetryPolicy{MaxAttempts: 1}, Params{Capability: core.CapPriceSeries, Symbol: "ACME"})
	require.Error(t, err)
	assert.True(t, IsTransient(err), "rate-limit timeout must look transient to the registrar")
	assert.Equal(t, 1, ad.Calls(), "rejected call never reaches the adapter")
}

func TestFailureClassification(t *testing.T) {
	assert.True(t, IsTransient(Transient("x", "execute", errors.New("boom"))))
	assert.False(t, IsTransient(Permanent("x", "execute", errors.New("boom"))))
	// Unclassified errors default to transient so they get retried
	assert.True(t, IsTransient(errors.New("raw network error")))
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, BaseBackoff: 100 * time.Millisecond, MaxBackoff: 300 * time.Millisecond}

	assert.Equal(t, 100*time.Millisecond, p.backoffFor(1))
	assert.Equal(t, 200*time.Millisecond, p.backoffFor(2))
	assert.Equal(t, 300*time.Millisecond, p.backoffFor(3), "backoff must cap at MaxBackoff")
}
