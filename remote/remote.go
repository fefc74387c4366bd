// Package remote defines the contract the offline layer requires from the
// hosted backend: a generic table interface with column-predicate filters,
// plus the wire-level request specs the request queue persists and replays.
package remote

import (
	"context"
	"net/http"
	"time"

	"github.com/clerkdesk/offline/query"
)

// Operation classifies a queued mutating request.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// IdempotencyHeader carries the local record identifier on queued creates so
// the backend (or the replay reconciliation step) can de-duplicate re-issued
// requests. Replays are at-least-once; de-duplication stays with the server.
const IdempotencyHeader = "X-Idempotency-Key"

// Table is the read/write contract against the remote backend. The façade is
// the only caller while online; implementations must return the authoritative
// rows for every verb (the server assigns identity on insert).
type Table interface {
	Select(ctx context.Context, table string, columns []string, filters query.Filters) ([]query.Row, error)
	Insert(ctx context.Context, table string, rows []query.Row) ([]query.Row, error)
	Update(ctx context.Context, table string, patch query.Row, filters query.Filters) ([]query.Row, error)
	Delete(ctx context.Context, table string, filters query.Filters) ([]query.Row, error)
}

// RequestSpec is a mutating request frozen at enqueue time and replayed
// verbatim once connectivity returns.
type RequestSpec struct {
	Path    string            `json:"path"` // path and query string relative to the backend base URL
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    []byte            `json:"body,omitempty"`
}

// Encoder freezes façade mutations into replayable request specs. The REST
// client implements it so queued requests use the same wire format as live
// writes.
type Encoder interface {
	EncodeInsert(table string, row query.Row, idempotencyKey string) (RequestSpec, error)
	EncodeUpdate(table string, patch query.Row, filters query.Filters) (RequestSpec, error)
	EncodeDelete(table string, filters query.Filters) (RequestSpec, error)
}

// Replayer re-issues a frozen request against the backend. Errors must be
// classified through pkg/errors so the engine can tell transient reachability
// loss from permanent rejection.
type Replayer interface {
	Replay(ctx context.Context, spec RequestSpec) error
}

// Doer abstracts *http.Client for injection in tests.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// DefaultTimeout bounds individual remote calls so one unreachable request
// cannot stall a replay pass indefinitely.
const DefaultTimeout = 15 * time.Second

var _ Doer = (*http.Client)(nil)
