package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/clerkdesk/offline/internal/models"
	syncerrors "github.com/clerkdesk/offline/pkg/errors"
	"github.com/clerkdesk/offline/pkg/logger"
	"github.com/clerkdesk/offline/pkg/metrics"
	"github.com/clerkdesk/offline/remote"
)

// Entry is a decoded queue element: one pending mutating operation plus its
// retry bookkeeping.
type Entry struct {
	Key            string
	Table          string
	Operation      remote.Operation
	Spec           remote.RequestSpec
	IdempotencyKey string
	Attempts       int
	NextAttemptAt  *time.Time
	EnqueuedAt     time.Time
}

// Queue is the durable, ordered log of pending mutations. Keys sort by
// enqueue time, so iteration order equals enqueue order; every state change
// runs in its own transaction so a crash mid-operation can neither duplicate
// nor silently drop an entry.
type Queue struct {
	db  *gorm.DB
	now func() time.Time
	log *zap.Logger
}

// QueueOption customises the Queue.
type QueueOption func(*Queue)

// WithQueueClock overrides the clock, primarily for testing.
func WithQueueClock(now func() time.Time) QueueOption {
	return func(q *Queue) {
		if now != nil {
			q.now = now
		}
	}
}

// NewQueue constructs a request queue over the shared database.
func NewQueue(db *gorm.DB, opts ...QueueOption) *Queue {
	q := &Queue{
		db:  db,
		now: time.Now,
		log: logger.WithComponent("queue"),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue appends a frozen request to the queue and returns the stored entry.
func (q *Queue) Enqueue(ctx context.Context, table string, op remote.Operation, spec remote.RequestSpec, idempotencyKey string) (Entry, error) {
	headers, err := json.Marshal(spec.Headers)
	if err != nil {
		return Entry{}, err
	}

	enqueuedAt := q.now()
	record := models.QueuedRequest{
		// Nanosecond timestamp first for chronological key order; the random
		// suffix keeps keys unique when two enqueues land on the same tick.
		Key:            fmt.Sprintf("%020d-%s", enqueuedAt.UnixNano(), uuid.NewString()[:8]),
		TableName:      table,
		Operation:      string(op),
		Path:           spec.Path,
		Method:         spec.Method,
		Headers:        headers,
		Body:           spec.Body,
		IdempotencyKey: idempotencyKey,
		EnqueuedAt:     enqueuedAt,
	}

	err = q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&record).Error
	})
	if err != nil {
		return Entry{}, err
	}

	q.refreshDepth(ctx)
	return decodeEntry(record)
}

// Next returns the head of the queue, or nil when the queue is empty. An
// entry whose persisted form no longer decodes is moved to the dead-letter
// table and logged, so one bad record can never block the queue.
func (q *Queue) Next(ctx context.Context) (*Entry, error) {
	for {
		var record models.QueuedRequest
		err := q.db.WithContext(ctx).Order("key").First(&record).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}

		entry, err := decodeEntry(record)
		if err != nil {
			q.log.Warn("dead-lettering corrupted queue entry",
				zap.String("key", record.Key),
				zap.Error(err),
			)
			if err := q.moveToDeadLetter(ctx, record, "corrupted", err.Error()); err != nil {
				return nil, err
			}
			metrics.DeadLetters.WithLabelValues("corrupted").Inc()
			continue
		}
		return &entry, nil
	}
}

// Remove deletes an entry after its replay succeeded.
func (q *Queue) Remove(ctx context.Context, key string) error {
	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Delete(&models.QueuedRequest{}, "key = ?", key).Error
	})
	if err != nil {
		return err
	}
	q.refreshDepth(ctx)
	return nil
}

// MarkFailure increments the attempt counter and schedules the next retry.
// It returns the updated attempt count.
func (q *Queue) MarkFailure(ctx context.Context, key, lastError string, nextAttempt time.Time) (int, error) {
	var attempts int
	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record models.QueuedRequest
		if err := tx.Take(&record, "key = ?", key).Error; err != nil {
			return err
		}

		record.Attempts++
		record.NextAttemptAt = &nextAttempt
		record.LastError = truncate(lastError, 1024)
		attempts = record.Attempts

		return tx.Save(&record).Error
	})
	return attempts, err
}

// DeadLetter removes an entry from active retry after it exhausted its
// failure budget, keeping it for inspection.
func (q *Queue) DeadLetter(ctx context.Context, key, lastError string) error {
	var record models.QueuedRequest
	if err := q.db.WithContext(ctx).Take(&record, "key = ?", key).Error; err != nil {
		return err
	}

	if err := q.moveToDeadLetter(ctx, record, "exhausted", lastError); err != nil {
		return err
	}
	metrics.DeadLetters.WithLabelValues("exhausted").Inc()
	return nil
}

// List returns all pending entries in enqueue order for status reporting.
// Unreadable entries are skipped here; Next dead-letters them on replay.
func (q *Queue) List(ctx context.Context) ([]Entry, error) {
	var records []models.QueuedRequest
	if err := q.db.WithContext(ctx).Order("key").Find(&records).Error; err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(records))
	for _, record := range records {
		entry, err := decodeEntry(record)
		if err != nil {
			q.log.Warn("skipping unreadable queue entry", zap.String("key", record.Key), zap.Error(err))
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Depth returns the number of pending entries.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	var count int64
	err := q.db.WithContext(ctx).Model(&models.QueuedRequest{}).Count(&count).Error
	return count, err
}

// DeadLetters returns entries removed from active retry, newest first.
func (q *Queue) DeadLetters(ctx context.Context) ([]models.DeadLetter, error) {
	var letters []models.DeadLetter
	err := q.db.WithContext(ctx).Order("failed_at desc").Find(&letters).Error
	return letters, err
}

// moveToDeadLetter copies the record into the dead-letter table and deletes
// it from the queue in one transaction.
func (q *Queue) moveToDeadLetter(ctx context.Context, record models.QueuedRequest, reason, lastError string) error {
	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		letter := models.DeadLetter{
			Key:        record.Key,
			TableName:  record.TableName,
			Operation:  record.Operation,
			Path:       record.Path,
			Method:     record.Method,
			Headers:    record.Headers,
			Body:       record.Body,
			Attempts:   record.Attempts,
			Reason:     reason,
			LastError:  truncate(lastError, 1024),
			EnqueuedAt: record.EnqueuedAt,
			FailedAt:   q.now(),
		}
		if err := tx.Create(&letter).Error; err != nil {
			return err
		}
		return tx.Delete(&models.QueuedRequest{}, "key = ?", record.Key).Error
	})
	if err != nil {
		return err
	}
	q.refreshDepth(ctx)
	return nil
}

func (q *Queue) refreshDepth(ctx context.Context) {
	if depth, err := q.Depth(ctx); err == nil {
		metrics.QueueDepth.Set(float64(depth))
	}
}

func decodeEntry(record models.QueuedRequest) (Entry, error) {
	var headers map[string]string
	if len(record.Headers) > 0 {
		if err := json.Unmarshal(record.Headers, &headers); err != nil {
			return Entry{}, syncerrors.ErrQueueEntryCorrupted.WithInternal(err)
		}
	}

	switch remote.Operation(record.Operation) {
	case remote.OperationCreate, remote.OperationUpdate, remote.OperationDelete:
	default:
		return Entry{}, syncerrors.ErrQueueEntryCorrupted.WithInternal(
			fmt.Errorf("unknown operation %q", record.Operation))
	}

	return Entry{
		Key:       record.Key,
		Table:     record.TableName,
		Operation: remote.Operation(record.Operation),
		Spec: remote.RequestSpec{
			Path:    record.Path,
			Method:  record.Method,
			Headers: headers,
			Body:    record.Body,
		},
		IdempotencyKey: record.IdempotencyKey,
		Attempts:       record.Attempts,
		NextAttemptAt:  record.NextAttemptAt,
		EnqueuedAt:     record.EnqueuedAt,
	}, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
