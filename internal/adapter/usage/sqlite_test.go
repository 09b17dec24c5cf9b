package usage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modelgate/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "nested", "usage.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func day(d int, hour int) time.Time {
	return time.Date(2026, 3, d, hour, 0, 0, 0, time.UTC)
}

func TestRecordAggregatesPerDayAgentBackend(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	events := []domain.UsageEvent{
		{At: day(1, 9), Agent: "writer", Backend: "phi4", Tokens: 10, ProcessingTime: time.Second},
		{At: day(1, 17), Agent: "writer", Backend: "phi4", Tokens: 5, ProcessingTime: 2 * time.Second},
		{At: day(1, 10), Agent: "writer", Backend: "fallback:openai", UsedFallback: true},
		{At: day(1, 11), Agent: "coder", Backend: "", Failed: true},
		{At: day(2, 1), Agent: "writer", Backend: "phi4", Tokens: 1},
	}
	for _, ev := range events {
		require.NoError(t, store.Record(ctx, ev))
	}

	got, err := store.Since(ctx, day(1, 0))
	require.NoError(t, err)
	require.Len(t, got, 4)

	assert.Equal(t, domain.UsageRecord{Day: "2026-03-01", Agent: "coder", Backend: "", Requests: 1, Failures: 1}, got[0])
	assert.Equal(t, domain.UsageRecord{Day: "2026-03-01", Agent: "writer", Backend: "fallback:openai", Requests: 1, Fallbacks: 1}, got[1])
	assert.Equal(t, domain.UsageRecord{
		Day: "2026-03-01", Agent: "writer", Backend: "phi4",
		Requests: 2, Tokens: 15, ProcessingTime: 3 * time.Second,
	}, got[2])
	assert.Equal(t, "2026-03-02", got[3].Day)
}

func TestSinceFiltersByDay(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Record(ctx, domain.UsageEvent{At: day(1, 12), Agent: "a", Backend: "x"}))
	require.NoError(t, store.Record(ctx, domain.UsageEvent{At: day(3, 12), Agent: "a", Backend: "x"}))

	got, err := store.Since(ctx, day(2, 23))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "2026-03-03", got[0].Day)
}

func TestPrune(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	for d := 1; d <= 4; d++ {
		require.NoError(t, store.Record(ctx, domain.UsageEvent{At: day(d, 0), Agent: "a", Backend: "x"}))
	}

	n, err := store.Prune(ctx, day(3, 6))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	got, err := store.Since(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "2026-03-03", got[0].Day)
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.db")
	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Record(context.Background(), domain.UsageEvent{At: day(1, 0), Agent: "a", Backend: "x", Tokens: 7}))
	require.NoError(t, store.Close())

	store, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer store.Close()
	got, err := store.Since(context.Background(), day(1, 0))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 7, got[0].Tokens)
}

func TestRecordAfterCloseFails(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "usage.db"))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	err = store.Record(context.Background(), domain.UsageEvent{Agent: "a"})
	assert.ErrorIs(t, err, domain.ErrUsageStore)
}
