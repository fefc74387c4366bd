// Package models defines the persisted state shared by the foreground façade
// and the background replay agent. Three buckets exist: authoritative table
// snapshots, locally-created records awaiting a server identity, and the
// ordered queue of pending mutations (plus its dead-letter overflow).
package models

import (
	"time"
)

// CacheSnapshot is the last known authoritative row set for one table.
// Puts replace the whole snapshot; partial merges never happen.
type CacheSnapshot struct {
	TableName  string    `gorm:"primaryKey;size:128;column:table_name"`
	Rows       []byte    `gorm:"type:blob"` // JSON array of rows
	CapturedAt time.Time `gorm:"index"`
	UpdatedAt  time.Time
}

// LocalRecord is a row created while offline, pending a server identity.
// Its ID carries the reserved local prefix and doubles as the idempotency
// key of the queued create request.
type LocalRecord struct {
	ID        string `gorm:"primaryKey;size:64"`
	TableName string `gorm:"index;size:128;column:table_name"`
	Payload   []byte `gorm:"type:blob"` // JSON row including marker columns
	CreatedAt time.Time
}

// QueuedRequest is one pending mutating operation against the remote
// backend. Key sorts nanosecond-timestamp first, so iterating by key yields
// enqueue order.
type QueuedRequest struct {
	Key            string `gorm:"primaryKey;size:64"`
	TableName      string `gorm:"index;size:128;column:table_name"`
	Operation      string `gorm:"size:16"` // create | update | delete
	Path           string `gorm:"size:2048"`
	Method         string `gorm:"size:8"`
	Headers        []byte `gorm:"type:blob"` // JSON object
	Body           []byte `gorm:"type:blob"`
	IdempotencyKey string `gorm:"size:64"`
	Attempts       int
	NextAttemptAt  *time.Time
	LastError      string `gorm:"size:1024"`
	EnqueuedAt     time.Time `gorm:"index"`
}

// DeadLetter is a queue entry removed from active retry after exceeding its
// failure budget (or failing to decode). Kept for inspection, never replayed
// automatically.
type DeadLetter struct {
	Key        string `gorm:"primaryKey;size:64"`
	TableName  string `gorm:"index;size:128;column:table_name"`
	Operation  string `gorm:"size:16"`
	Path       string `gorm:"size:2048"`
	Method     string `gorm:"size:8"`
	Headers    []byte `gorm:"type:blob"`
	Body       []byte `gorm:"type:blob"`
	Attempts   int
	Reason     string `gorm:"size:32"` // exhausted | corrupted
	LastError  string `gorm:"size:1024"`
	EnqueuedAt time.Time
	FailedAt   time.Time
}
