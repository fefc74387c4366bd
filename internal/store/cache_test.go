package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/clerkdesk/offline/internal/database/testutil"
	"github.com/clerkdesk/offline/query"
)

func TestCacheRoundTrip(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	cache := NewCacheStore(db)
	ctx := context.Background()

	rows := []query.Row{
		{"id": "1", "name": "Acme", "total": float64(100)},
		{"id": "2", "name": "Globex", "total": float64(250)},
	}
	require.NoError(t, cache.Put(ctx, "orders", rows))

	got, ok, err := cache.Get(ctx, "orders")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, rows, got)
}

func TestCacheGetAbsentTable(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	cache := NewCacheStore(db)

	got, ok, err := cache.Get(context.Background(), "nothing")
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, got)
}

func TestCachePutOverwritesWholeSnapshot(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	cache := NewCacheStore(db)
	ctx := context.Background()

	require.NoError(t, cache.Put(ctx, "orders", []query.Row{{"id": "1"}, {"id": "2"}}))
	require.NoError(t, cache.Put(ctx, "orders", []query.Row{{"id": "3"}}))

	got, ok, err := cache.Get(ctx, "orders")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, got, 1)
	require.Equal(t, "3", got[0]["id"])
}

func TestCacheTTLExpiry(t *testing.T) {
	db := testutil.MustOpenTestDB(t)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	cache := NewCacheStore(db, WithTTL(time.Minute), WithCacheClock(clock))
	ctx := context.Background()

	require.NoError(t, cache.Put(ctx, "orders", []query.Row{{"id": "1"}}))

	_, ok, err := cache.Get(ctx, "orders")
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok, err = cache.Get(ctx, "orders")
	require.NoError(t, err)
	require.False(t, ok, "expired snapshot must read as absent")
}

func TestCacheMutateCreatesAndRewrites(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	cache := NewCacheStore(db)
	ctx := context.Background()

	// No snapshot yet: fn sees nil and its result becomes the snapshot.
	err := cache.Mutate(ctx, "orders", func(rows []query.Row) []query.Row {
		require.Nil(t, rows)
		return append(rows, query.Row{"id": "1", "status": "open"})
	})
	require.NoError(t, err)

	err = cache.Mutate(ctx, "orders", func(rows []query.Row) []query.Row {
		rows[0]["status"] = "closed"
		return rows
	})
	require.NoError(t, err)

	got, ok, err := cache.Get(ctx, "orders")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "closed", got[0]["status"])
}

func TestCacheMutateWithoutSnapshotOrRowsWritesNothing(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	cache := NewCacheStore(db)
	ctx := context.Background()

	// No snapshot and nothing produced: the table must still read as absent,
	// so the read fallback can reach local records.
	err := cache.Mutate(ctx, "orders", func(rows []query.Row) []query.Row {
		require.Nil(t, rows)
		return rows
	})
	require.NoError(t, err)

	_, ok, err := cache.Get(ctx, "orders")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCacheMutateCanEmptyExistingSnapshot(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	cache := NewCacheStore(db)
	ctx := context.Background()

	require.NoError(t, cache.Put(ctx, "orders", []query.Row{{"id": "1"}}))

	err := cache.Mutate(ctx, "orders", func(rows []query.Row) []query.Row {
		return rows[:0]
	})
	require.NoError(t, err)

	got, ok, err := cache.Get(ctx, "orders")
	require.NoError(t, err)
	require.True(t, ok, "an emptied snapshot is still a snapshot")
	require.Empty(t, got)
}

func TestCacheTablesAreIsolated(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	cache := NewCacheStore(db)
	ctx := context.Background()

	require.NoError(t, cache.Put(ctx, "orders", []query.Row{{"id": "o1"}}))
	require.NoError(t, cache.Put(ctx, "customers", []query.Row{{"id": "c1"}}))

	orders, ok, err := cache.Get(ctx, "orders")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "o1", orders[0]["id"])

	customers, ok, err := cache.Get(ctx, "customers")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "c1", customers[0]["id"])
}
