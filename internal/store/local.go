package store

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/clerkdesk/offline/internal/models"
	"github.com/clerkdesk/offline/pkg/logger"
	"github.com/clerkdesk/offline/query"
)

// LocalRecordStore holds rows created while offline, pending a server
// identity. Records are removed once the replay agent confirms the
// corresponding create against the backend.
type LocalRecordStore struct {
	db  *gorm.DB
	now func() time.Time
	log *zap.Logger
}

// NewLocalRecordStore constructs a local-record store over the shared database.
func NewLocalRecordStore(db *gorm.DB) *LocalRecordStore {
	return &LocalRecordStore{
		db:  db,
		now: time.Now,
		log: logger.WithComponent("localrecords"),
	}
}

// Create stores a new local record for the table and returns the stored row,
// tagged with its reserved local identifier and the offline markers.
func (s *LocalRecordStore) Create(ctx context.Context, table string, payload query.Row) (query.Row, error) {
	row := payload.Clone()
	if row == nil {
		row = query.Row{}
	}
	row[query.FieldID] = query.NewLocalID()
	row[query.MarkerLocal] = true
	row[query.MarkerPending] = true

	encoded, err := json.Marshal(row)
	if err != nil {
		return nil, err
	}

	record := models.LocalRecord{
		ID:        row.ID(),
		TableName: table,
		Payload:   encoded,
		CreatedAt: s.now(),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return nil, err
	}

	return row, nil
}

// List returns all local records for a table in creation order. Records with
// an unreadable payload are skipped and logged, never surfaced as failures.
func (s *LocalRecordStore) List(ctx context.Context, table string) ([]query.Row, error) {
	var records []models.LocalRecord
	err := s.db.WithContext(ctx).
		Where("table_name = ?", table).
		Order("created_at, id").
		Find(&records).Error
	if err != nil {
		return nil, err
	}

	rows := make([]query.Row, 0, len(records))
	for _, record := range records {
		var row query.Row
		if err := json.Unmarshal(record.Payload, &row); err != nil {
			s.log.Warn("skipping unreadable local record",
				zap.String("table", table),
				zap.String("id", record.ID),
				zap.Error(err),
			)
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Remove deletes a local record once its create has been confirmed remotely.
// Removing an already-absent record is not an error: replays are
// at-least-once, so the same confirmation can arrive twice.
func (s *LocalRecordStore) Remove(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&models.LocalRecord{}, "id = ?", id).Error
}
