package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/clerkdesk/offline/internal/database/testutil"
	"github.com/clerkdesk/offline/internal/models"
	"github.com/clerkdesk/offline/remote"
)

func testSpec(body string) remote.RequestSpec {
	return remote.RequestSpec{
		Path:    "/customers",
		Method:  "POST",
		Headers: map[string]string{remote.IdempotencyHeader: "k"},
		Body:    []byte(body),
	}
}

func TestQueuePreservesEnqueueOrder(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	queue := NewQueue(db, WithQueueClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Millisecond)
	}))

	var keys []string
	for i := 0; i < 5; i++ {
		entry, err := queue.Enqueue(ctx, "customers", remote.OperationCreate,
			testSpec(fmt.Sprintf(`{"n":%d}`, i)), fmt.Sprintf("id-%d", i))
		require.NoError(t, err)
		keys = append(keys, entry.Key)
	}

	entries, err := queue.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 5)
	for i, entry := range entries {
		require.Equal(t, keys[i], entry.Key)
	}

	head, err := queue.Next(ctx)
	require.NoError(t, err)
	require.NotNil(t, head)
	require.Equal(t, keys[0], head.Key)
}

func TestQueueRoundTripsRequestSpec(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	queue := NewQueue(db)
	ctx := context.Background()

	spec := testSpec(`{"name":"Acme"}`)
	_, err := queue.Enqueue(ctx, "customers", remote.OperationCreate, spec, "local-abc")
	require.NoError(t, err)

	head, err := queue.Next(ctx)
	require.NoError(t, err)
	require.NotNil(t, head)
	require.Equal(t, "customers", head.Table)
	require.Equal(t, remote.OperationCreate, head.Operation)
	require.Equal(t, spec.Path, head.Spec.Path)
	require.Equal(t, spec.Method, head.Spec.Method)
	require.Equal(t, spec.Headers, head.Spec.Headers)
	require.Equal(t, spec.Body, head.Spec.Body)
	require.Equal(t, "local-abc", head.IdempotencyKey)
	require.Zero(t, head.Attempts)
}

func TestQueueNextEmpty(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	queue := NewQueue(db)

	head, err := queue.Next(context.Background())
	require.NoError(t, err)
	require.Nil(t, head)
}

func TestQueueRemove(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	queue := NewQueue(db)
	ctx := context.Background()

	entry, err := queue.Enqueue(ctx, "customers", remote.OperationDelete, testSpec(""), "")
	require.NoError(t, err)
	require.NoError(t, queue.Remove(ctx, entry.Key))

	depth, err := queue.Depth(ctx)
	require.NoError(t, err)
	require.Zero(t, depth)
}

func TestQueueSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offline.db")
	ctx := context.Background()

	db := testutil.MustOpenFileDB(t, path)
	queue := NewQueue(db)
	entry, err := queue.Enqueue(ctx, "customers", remote.OperationCreate, testSpec(`{"a":1}`), "local-1")
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	reopened := NewQueue(testutil.MustOpenFileDB(t, path))
	head, err := reopened.Next(ctx)
	require.NoError(t, err)
	require.NotNil(t, head)
	require.Equal(t, entry.Key, head.Key)
	require.Equal(t, []byte(`{"a":1}`), head.Spec.Body)
}

func TestQueueMarkFailureSchedulesRetry(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	queue := NewQueue(db)
	ctx := context.Background()

	entry, err := queue.Enqueue(ctx, "customers", remote.OperationUpdate, testSpec(`{}`), "")
	require.NoError(t, err)

	next := time.Now().Add(time.Minute).UTC()
	attempts, err := queue.MarkFailure(ctx, entry.Key, "409 conflict", next)
	require.NoError(t, err)
	require.Equal(t, 1, attempts)

	head, err := queue.Next(ctx)
	require.NoError(t, err)
	require.NotNil(t, head)
	require.Equal(t, 1, head.Attempts)
	require.NotNil(t, head.NextAttemptAt)
	require.WithinDuration(t, next, *head.NextAttemptAt, time.Second)
}

func TestQueueDeadLetterExhausted(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	queue := NewQueue(db)
	ctx := context.Background()

	entry, err := queue.Enqueue(ctx, "customers", remote.OperationCreate, testSpec(`{}`), "local-x")
	require.NoError(t, err)
	require.NoError(t, queue.DeadLetter(ctx, entry.Key, "422 unprocessable"))

	depth, err := queue.Depth(ctx)
	require.NoError(t, err)
	require.Zero(t, depth)

	letters, err := queue.DeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	require.Equal(t, entry.Key, letters[0].Key)
	require.Equal(t, "exhausted", letters[0].Reason)
	require.Equal(t, "422 unprocessable", letters[0].LastError)
}

func TestQueueNextDeadLettersCorruptedEntry(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	queue := NewQueue(db, WithQueueClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Millisecond)
	}))

	// Simulate on-disk corruption: headers that no longer parse.
	bad := models.QueuedRequest{
		Key:        fmt.Sprintf("%020d-deadbeef", base.UnixNano()),
		TableName:  "customers",
		Operation:  string(remote.OperationCreate),
		Path:       "/customers",
		Method:     "POST",
		Headers:    []byte("{not json"),
		Body:       []byte(`{}`),
		EnqueuedAt: base,
	}
	require.NoError(t, db.Create(&bad).Error)

	good, err := queue.Enqueue(ctx, "customers", remote.OperationCreate, testSpec(`{}`), "local-2")
	require.NoError(t, err)

	head, err := queue.Next(ctx)
	require.NoError(t, err)
	require.NotNil(t, head)
	require.Equal(t, good.Key, head.Key)

	letters, err := queue.DeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	require.Equal(t, bad.Key, letters[0].Key)
	require.Equal(t, "corrupted", letters[0].Reason)
}

func TestQueueNextDeadLettersUnknownOperation(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	queue := NewQueue(db)
	ctx := context.Background()

	bad := models.QueuedRequest{
		Key:        "00000000000000000001-aaaaaaaa",
		TableName:  "customers",
		Operation:  "upsert",
		Path:       "/customers",
		Method:     "POST",
		EnqueuedAt: time.Now(),
	}
	require.NoError(t, db.Create(&bad).Error)

	head, err := queue.Next(ctx)
	require.NoError(t, err)
	require.Nil(t, head)

	letters, err := queue.DeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	require.Equal(t, "corrupted", letters[0].Reason)
}
