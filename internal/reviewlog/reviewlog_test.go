package reviewlog

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreAppendsOneJSONObjectPerLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "review.jsonl")
	store, err := NewFileStore(path)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	for i, rule := range []string{"freshness", "divergence", "compliance"} {
		e := NewEvent(KindGateAbort)
		e.LedgerID = "ledger-1"
		e.RuleFired = rule
		e.Result = "abort"
		require.NoError(t, store.Record(ctx, e), "event %d", i)
	}

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	assert.Len(t, lines, 3)
	for _, line := range lines {
		assert.True(t, strings.HasPrefix(line, "{"), "each line is a standalone JSON object")
	}
}

func TestFileStoreRecentNewestFirst(t *testing.T) {
	path := filepath.Join(t.TempDir(), "review.jsonl")
	store, err := NewFileStore(path)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	for _, rule := range []string{"first", "second", "third"} {
		e := NewEvent(KindGateAbort)
		e.RuleFired = rule
		require.NoError(t, store.Record(ctx, e))
	}

	events, err := store.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "third", events[0].RuleFired)
	assert.Equal(t, "second", events[1].RuleFired)
}

func TestFileStoreRecentOnMissingFile(t *testing.T) {
	store := &FileStore{path: filepath.Join(t.TempDir(), "never-written.jsonl")}
	events, err := store.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestMemoryStoreOrdering(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	a := NewEvent(KindBrakeRejection)
	b := NewEvent(KindBreakerTrip)
	require.NoError(t, store.Record(ctx, a))
	require.NoError(t, store.Record(ctx, b))

	recent, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, b.ID, recent[0].ID)

	all := store.All()
	assert.Equal(t, a.ID, all[0].ID, "All preserves append order")
}

func TestNewEventStampsIdentity(t *testing.T) {
	e := NewEvent(KindGateAbort)
	assert.NotEmpty(t, e.ID)
	assert.False(t, e.Timestamp.IsZero())
	assert.Equal(t, KindGateAbort, e.Kind)
	assert.NotEqual(t, e.ID, NewEvent(KindGateAbort).ID)
}
