// Package query holds the data-plane types shared between the query façade,
// the persisted stores, and remote table implementations: rows, filter
// predicates, and the reserved local-identifier scheme.
package query

import (
	"strings"

	"github.com/google/uuid"
)

// Row is a single table row keyed by column name. Values follow JSON
// conventions: numbers decode as float64, nested objects as map[string]any.
type Row map[string]any

// Marker columns layered onto rows by the offline layer. They never reach the
// remote backend; EncodeInsert strips them before building the wire payload.
const (
	FieldID = "id"

	// MarkerLocal tags rows created offline that still await a server identity.
	MarkerLocal = "_isLocal"
	// MarkerPending tags rows carrying an optimistic mutation that has not yet
	// been confirmed by the remote backend.
	MarkerPending = "_pendingSync"
)

// LocalIDPrefix is reserved for identifiers generated offline. Server-assigned
// identifiers (UUIDs or numeric keys) can never start with it.
const LocalIDPrefix = "local-"

// NewLocalID generates an identifier for a row created offline. The UUID body
// keeps consecutive generations collision-free and the prefix keeps the value
// out of the server identifier space.
func NewLocalID() string {
	return LocalIDPrefix + uuid.NewString()
}

// IsLocalID reports whether the identifier was generated offline.
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, LocalIDPrefix)
}

// Clone returns a shallow copy of the row.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	cpy := make(Row, len(r))
	for k, v := range r {
		cpy[k] = v
	}
	return cpy
}

// ID returns the row identifier as a string, or "" when absent.
func (r Row) ID() string {
	v, ok := r[FieldID]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Pending reports whether the row carries the pending-sync marker.
func (r Row) Pending() bool {
	v, _ := r[MarkerPending].(bool)
	return v
}

// Local reports whether the row carries the local-record marker.
func (r Row) Local() bool {
	v, _ := r[MarkerLocal].(bool)
	return v
}

// WithoutMarkers returns a copy of the row stripped of offline marker columns.
func (r Row) WithoutMarkers() Row {
	cpy := r.Clone()
	delete(cpy, MarkerLocal)
	delete(cpy, MarkerPending)
	return cpy
}

// CloneRows returns a shallow copy of each row in the slice.
func CloneRows(rows []Row) []Row {
	out := make([]Row, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.Clone())
	}
	return out
}
