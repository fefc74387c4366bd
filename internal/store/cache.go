// Package store implements the persisted buckets of the offline layer: the
// per-table snapshot cache, the local-record store, and the durable request
// queue. All writes run inside transactions so the foreground façade and the
// background replay agent can touch the same store without lost updates.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/clerkdesk/offline/internal/models"
	"github.com/clerkdesk/offline/pkg/logger"
	"github.com/clerkdesk/offline/query"
)

// CacheStore holds the last known authoritative snapshot per table.
type CacheStore struct {
	db  *gorm.DB
	ttl time.Duration // zero disables staleness expiry
	now func() time.Time
	log *zap.Logger
}

// CacheOption customises the CacheStore.
type CacheOption func(*CacheStore)

// WithTTL expires snapshots older than the supplied duration. Expired
// snapshots read as absent, pushing the fallback chain to local records.
func WithTTL(ttl time.Duration) CacheOption {
	return func(s *CacheStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithCacheClock overrides the clock, primarily for testing.
func WithCacheClock(now func() time.Time) CacheOption {
	return func(s *CacheStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewCacheStore constructs a snapshot cache over the shared database.
func NewCacheStore(db *gorm.DB, opts ...CacheOption) *CacheStore {
	s := &CacheStore{
		db:  db,
		now: time.Now,
		log: logger.WithComponent("cache"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Put replaces the whole snapshot for a table. Snapshots are never merged.
func (s *CacheStore) Put(ctx context.Context, table string, rows []query.Row) error {
	payload, err := json.Marshal(rows)
	if err != nil {
		return err
	}

	snapshot := models.CacheSnapshot{
		TableName:  table,
		Rows:       payload,
		CapturedAt: s.now(),
	}

	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "table_name"}},
			UpdateAll: true,
		}).
		Create(&snapshot).Error
}

// Get returns the cached snapshot for a table, or absent when none exists,
// the snapshot has expired, or the stored payload is unreadable. A corrupt
// payload is dropped so the next authoritative read heals the entry.
func (s *CacheStore) Get(ctx context.Context, table string) ([]query.Row, bool, error) {
	var snapshot models.CacheSnapshot
	err := s.db.WithContext(ctx).Take(&snapshot, "table_name = ?", table).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	if s.ttl > 0 && s.now().Sub(snapshot.CapturedAt) > s.ttl {
		return nil, false, nil
	}

	var rows []query.Row
	if err := json.Unmarshal(snapshot.Rows, &rows); err != nil {
		s.log.Warn("dropping unreadable cache snapshot",
			zap.String("table", table),
			zap.Error(err),
		)
		_ = s.db.WithContext(ctx).Delete(&models.CacheSnapshot{}, "table_name = ?", table).Error
		return nil, false, nil
	}

	return rows, true, nil
}

// Mutate applies fn to the current snapshot inside one transaction and
// persists its result. fn receives nil when no snapshot exists yet; the
// capture time is only refreshed for snapshots created from scratch, an
// optimistic overlay does not make stale data authoritative again. When no
// snapshot exists and fn produces no rows, nothing is written: an empty
// snapshot would otherwise satisfy the cache tier and shadow local records.
func (s *CacheStore) Mutate(ctx context.Context, table string, fn func(rows []query.Row) []query.Row) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var snapshot models.CacheSnapshot
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Take(&snapshot, "table_name = ?", table).Error

		absent := false
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			absent = true
			snapshot = models.CacheSnapshot{TableName: table, CapturedAt: s.now()}
		case err != nil:
			return err
		}

		var rows []query.Row
		if len(snapshot.Rows) > 0 {
			if err := json.Unmarshal(snapshot.Rows, &rows); err != nil {
				s.log.Warn("resetting unreadable cache snapshot",
					zap.String("table", table),
					zap.Error(err),
				)
				rows = nil
			}
		}

		mutated := fn(rows)
		if absent && len(mutated) == 0 {
			return nil
		}

		payload, err := json.Marshal(mutated)
		if err != nil {
			return err
		}
		snapshot.Rows = payload

		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "table_name"}},
			UpdateAll: true,
		}).Create(&snapshot).Error
	})
}
