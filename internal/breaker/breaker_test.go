package breaker

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradegate/backend/internal/metrics"
)

func testBreaker(store StateStore, floor float64) *Breaker {
	return New(store, floor, metrics.NewUnregistered())
}

func TestHealthyMetricContinues(t *testing.T) {
	b := testBreaker(NewMemoryStore(), 0.85)

	v, err := b.CheckHealth(context.Background(), 0.97)
	require.NoError(t, err)
	assert.Equal(t, Continue, v)
	assert.NoError(t, b.Guard(context.Background()))
}

func TestMetricAtFloorContinues(t *testing.T) {
	// The trip condition is strictly below the floor; sitting exactly on
	// it is still healthy.
	b := testBreaker(NewMemoryStore(), 0.85)

	v, err := b.CheckHealth(context.Background(), 0.85)
	require.NoError(t, err)
	assert.Equal(t, Continue, v)
	assert.NoError(t, b.Guard(context.Background()))
}

func TestMetricBelowFloorTrips(t *testing.T) {
	b := testBreaker(NewMemoryStore(), 0.85)
	ctx := context.Background()

	v, err := b.CheckHealth(ctx, 0.80)
	require.NoError(t, err)
	assert.Equal(t, Halted, v)

	state, err := b.State(ctx)
	require.NoError(t, err)
	assert.True(t, state.Halted)
	assert.Equal(t, 0.80, state.MetricAtTrip)

	err = b.Guard(ctx)
	require.Error(t, err)
	var halted *HaltedError
	assert.ErrorAs(t, err, &halted)
}

func TestTrippedStaysHaltedUntilExplicitReset(t *testing.T) {
	b := testBreaker(NewMemoryStore(), 0.85)
	ctx := context.Background()

	_, err := b.CheckHealth(ctx, 0.50)
	require.NoError(t, err)

	// A recovered metric does NOT clear the flag, only Reset does
	v, err := b.CheckHealth(ctx, 1.20)
	require.NoError(t, err)
	assert.Equal(t, Halted, v)

	require.NoError(t, b.Reset(ctx))
	v, err = b.CheckHealth(ctx, 1.20)
	require.NoError(t, err)
	assert.Equal(t, Continue, v)
}

// Two cycles racing past a just-tripped breaker: exactly one Trip succeeds.
func TestTripIsCheckAndSet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	var trips int64
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tripped, err := store.Trip(ctx, State{Halted: true, Reason: "race", MetricAtTrip: 0.1, TrippedAt: time.Now()})
			assert.NoError(t, err)
			if tripped {
				atomic.AddInt64(&trips, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), atomic.LoadInt64(&trips))
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "breaker.json")
	store := NewFileStore(path)
	ctx := context.Background()

	// Missing file reads as un-tripped
	st, err := store.Load(ctx)
	require.NoError(t, err)
	assert.False(t, st.Halted)

	tripped, err := store.Trip(ctx, State{Halted: true, Reason: "drawdown", MetricAtTrip: 0.7, TrippedAt: time.Now().UTC()})
	require.NoError(t, err)
	assert.True(t, tripped)

	// Second trip is a no-op
	tripped, err = store.Trip(ctx, State{Halted: true, Reason: "other"})
	require.NoError(t, err)
	assert.False(t, tripped)

	// A fresh store over the same file sees the persisted flag
	st, err = NewFileStore(path).Load(ctx)
	require.NoError(t, err)
	assert.True(t, st.Halted)
	assert.Equal(t, "drawdown", st.Reason)

	require.NoError(t, store.Reset(ctx))
	st, err = store.Load(ctx)
	require.NoError(t, err)
	assert.False(t, st.Halted)
}
