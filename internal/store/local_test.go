package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clerkdesk/offline/internal/database/testutil"
	"github.com/clerkdesk/offline/query"
)

func TestLocalRecordCreateTagsRow(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	locals := NewLocalRecordStore(db)
	ctx := context.Background()

	row, err := locals.Create(ctx, "customers", query.Row{"name": "Acme"})
	require.NoError(t, err)

	require.True(t, query.IsLocalID(row.ID()))
	require.True(t, row.Local())
	require.True(t, row.Pending())
	require.Equal(t, "Acme", row["name"])
}

func TestLocalRecordListOrderAndIsolation(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	locals := NewLocalRecordStore(db)
	ctx := context.Background()

	first, err := locals.Create(ctx, "customers", query.Row{"name": "Acme"})
	require.NoError(t, err)
	second, err := locals.Create(ctx, "customers", query.Row{"name": "Globex"})
	require.NoError(t, err)
	_, err = locals.Create(ctx, "orders", query.Row{"sku": "x"})
	require.NoError(t, err)

	rows, err := locals.List(ctx, "customers")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.ElementsMatch(t,
		[]string{first.ID(), second.ID()},
		[]string{rows[0].ID(), rows[1].ID()},
	)
}

func TestLocalRecordIdentifiersStayUnique(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	locals := NewLocalRecordStore(db)
	ctx := context.Background()

	seen := make(map[string]struct{})
	for i := 0; i < 500; i++ {
		row, err := locals.Create(ctx, "customers", query.Row{"n": i})
		require.NoError(t, err)

		_, dup := seen[row.ID()]
		require.False(t, dup, "duplicate local id %s", row.ID())
		seen[row.ID()] = struct{}{}
	}
}

func TestLocalRecordRemove(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	locals := NewLocalRecordStore(db)
	ctx := context.Background()

	row, err := locals.Create(ctx, "customers", query.Row{"name": "Acme"})
	require.NoError(t, err)

	require.NoError(t, locals.Remove(ctx, row.ID()))

	rows, err := locals.List(ctx, "customers")
	require.NoError(t, err)
	require.Empty(t, rows)

	// At-least-once replays can confirm the same create twice.
	require.NoError(t, locals.Remove(ctx, row.ID()))
}
