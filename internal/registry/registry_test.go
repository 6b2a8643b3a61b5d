package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradegate/backend/internal/core"
	"github.com/tradegate/backend/internal/ratelimit"
	"github.com/tradegate/backend/internal/sources"
)

func priceMock(id string) *sources.MockAdapter {
	return sources.NewMockAdapter(id, []core.Capability{core.CapPriceSeries})
}

func TestResolveOrdersByPriorityThenRegistration(t *testing.T) {
	r := New()

	require.NoError(t, r.Register(core.CapPriceSeries, priceMock("tertiary"), 30, sources.DefaultRetryPolicy(), ratelimit.Policy{}))
	require.NoError(t, r.Register(core.CapPriceSeries, priceMock("primary"), 10, sources.DefaultRetryPolicy(), ratelimit.Policy{}))
	require.NoError(t, r.Register(core.CapPriceSeries, priceMock("secondary-a"), 20, sources.DefaultRetryPolicy(), ratelimit.Policy{}))
	require.NoError(t, r.Register(core.CapPriceSeries, priceMock("secondary-b"), 20, sources.DefaultRetryPolicy(), ratelimit.Policy{}))

	regs := r.Resolve(core.CapPriceSeries)
	require.Len(t, regs, 4)
	assert.Equal(t, "primary", regs[0].Adapter.ID())
	assert.Equal(t, "secondary-a", regs[1].Adapter.ID(), "ties break by registration order")
	assert.Equal(t, "secondary-b", regs[2].Adapter.ID())
	assert.Equal(t, "tertiary", regs[3].Adapter.ID())
}

func TestRegisterRejectsUndeclaredCapability(t *testing.T) {
	r := New()
	err := r.Register(core.CapNews, priceMock("wrong"), 10, sources.DefaultRetryPolicy(), ratelimit.Policy{})
	assert.Error(t, err, "adapter must declare the capability it is registered for")
}

func TestRegisterRejectsUnknownCapability(t *testing.T) {
	r := New()
	err := r.Register(core.Capability("astrology"), priceMock("a"), 10, sources.DefaultRetryPolicy(), ratelimit.Policy{})
	assert.Error(t, err)
}

func TestResolveUnregisteredPanics(t *testing.T) {
	r := New()
	assert.Panics(t, func() { r.Resolve(core.CapFundamentals) },
		"runtime resolution of an unregistered capability is a programming error")
}

func TestValidateCoverage(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(core.CapPriceSeries, priceMock("p"), 10, sources.DefaultRetryPolicy(), ratelimit.Policy{}))

	assert.NoError(t, r.ValidateCoverage([]core.Capability{core.CapPriceSeries}))

	err := r.ValidateCoverage(core.AllCapabilities())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fundamentals")
}

func TestDescribe(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(core.CapPriceSeries, priceMock("p"), 7, sources.RetryPolicy{MaxAttempts: 2}, ratelimit.Policy{MaxCalls: 9}))

	meta := r.Describe(core.CapPriceSeries)
	require.Len(t, meta, 1)
	assert.Equal(t, "p", meta[0].AdapterID)
	assert.Equal(t, 7, meta[0].Priority)
	assert.Equal(t, 2, meta[0].Retry.MaxAttempts)
	assert.Equal(t, 9, meta[0].RateLimit.MaxCalls)

	assert.Empty(t, r.Describe(core.CapNews), "describe tolerates empty capabilities")
}

// Readers must never block or observe a half-applied registration while
// writers rebuild the catalog.
func TestConcurrentResolveDuringRegistration(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(core.CapPriceSeries, priceMock("seed"), 0, sources.DefaultRetryPolicy(), ratelimit.Policy{}))

	var wg sync.WaitGroup
	stop := make(chan struct{})

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				regs := r.Resolve(core.CapPriceSeries)
				assert.NotEmpty(t, regs)
				// Order must hold in every observed snapshot
				for j := 1; j < len(regs); j++ {
					assert.LessOrEqual(t, regs[j-1].Priority, regs[j].Priority)
				}
			}
		}()
	}

	for i := 1; i <= 50; i++ {
		require.NoError(t, r.Register(core.CapPriceSeries, priceMock(fmt.Sprintf("ad-%d", i)), i%5, sources.DefaultRetryPolicy(), ratelimit.Policy{}))
	}
	close(stop)
	wg.Wait()

	assert.Len(t, r.Resolve(core.CapPriceSeries), 51)
}
