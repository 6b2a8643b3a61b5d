package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// manualClock lets tests advance time without sleeping.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestAllowWithinCeiling(t *testing.T) {
	clock := newManualClock()
	l := New(Policy{Window: time.Minute, MaxCalls: 3, Burst: 0})
	l.SetClock(clock.Now)

	assert.True(t, l.Allow("alphafeed"))
	assert.True(t, l.Allow("alphafeed"))
	assert.True(t, l.Allow("alphafeed"))
	assert.False(t, l.Allow("alphafeed"), "4th call in window must be rejected")

	// Other sources are throttled independently
	assert.True(t, l.Allow("quantrail"))
}

func TestWindowSlides(t *testing.T) {
	clock := newManualClock()
	l := New(Policy{Window: time.Minute, MaxCalls: 2, Burst: 0})
	l.SetClock(clock.Now)

	require.True(t, l.Allow("src"))
	clock.Advance(30 * time.Second)
	require.True(t, l.Allow("src"))
	require.False(t, l.Allow("src"))

	// First call drops out of the window, opening exactly one slot
	clock.Advance(31 * time.Second)
	assert.True(t, l.Allow("src"))
	assert.False(t, l.Allow("src"))
}

func TestBurstAllowance(t *testing.T) {
	clock := newManualClock()
	l := New(Policy{Window: time.Minute, MaxCalls: 2, Burst: 2})
	l.SetClock(clock.Now)

	for i := 0; i < 4; i++ {
		assert.True(t, l.Allow("src"), "call %d should ride the burst", i+1)
	}
	assert.False(t, l.Allow("src"), "ceiling including burst is hard")
}

func TestPerSourcePolicyOverride(t *testing.T) {
	clock := newManualClock()
	l := New(Policy{Window: time.Minute, MaxCalls: 10, Burst: 0})
	l.SetClock(clock.Now)
	l.SetPolicy("stingy", Policy{Window: time.Minute, MaxCalls: 1, Burst: 0})

	assert.True(t, l.Allow("stingy"))
	assert.False(t, l.Allow("stingy"))
	assert.True(t, l.Allow("generous"))
}

// The core concurrency property: M workers racing for N slots admit exactly N.
func TestConcurrentAdmissionBound(t *testing.T) {
	clock := newManualClock()
	const maxCalls = 5
	const workers = 40

	l := New(Policy{Window: time.Minute, MaxCalls: maxCalls, Burst: 0})
	l.SetClock(clock.Now)

	var admitted int64
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if l.Allow("shared") {
				atomic.AddInt64(&admitted, 1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int64(maxCalls), atomic.LoadInt64(&admitted))
	assert.Equal(t, maxCalls, l.InWindow("shared"))
}

func TestAcquireTimesOutAsRejection(t *testing.T) {
	l := New(Policy{Window: time.Minute, MaxCalls: 1, Burst: 0})

	require.NoError(t, l.Acquire(context.Background(), "src"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := l.Acquire(ctx, "src")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAcquireUnblocksWhenSlotFrees(t *testing.T) {
	l := New(Policy{Window: 100 * time.Millisecond, MaxCalls: 1, Burst: 0})

	require.NoError(t, l.Acquire(context.Background(), "src"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	// Blocks until the first call's window expires, well inside the deadline
	assert.NoError(t, l.Acquire(ctx, "src"))
}
