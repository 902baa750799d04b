// Package store defines the persisted record store the map view reads from.
package store

import (
	"context"
	"errors"
	"fmt"

	"web/clustermap/query"
)

var (
	// ErrStoreUnavailable covers a store that cannot be opened or queried:
	// a bad location, a schema or key mismatch, a dead connection.
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrReadOnly         = errors.New("store is read-only")
	ErrSessionClosed    = errors.New("session closed")
	ErrNotFound         = errors.New("record not found")
)

// Unlimited is the results limit that returns every match.
const Unlimited = -1

// Configuration locates and opens a store. Backends ignore the fields that
// do not apply to them.
type Configuration struct {
	FileURL            string `json:"fileURL,omitempty"`
	InMemoryIdentifier string `json:"inMemoryIdentifier,omitempty"`
	EncryptionKey      []byte `json:"-"`
	ReadOnly           bool   `json:"readOnly"`
	SchemaVersion      uint64 `json:"schemaVersion"`
}

// Record is one persisted object whose fields are read by name.
type Record interface {
	query.FieldSource
	PrimaryKey() string
}

type RecordStore interface {
	Open(ctx context.Context, cfg Configuration) (Session, error)
}

// Session is a handle scoped to one fetch. Query returns matches in the
// store's natural order; a negative limit means no limit.
type Session interface {
	Query(ctx context.Context, req query.FetchRequest, limit int) ([]Record, error)
	Close() error
}

// Unavailable wraps err so it matches ErrStoreUnavailable.
func Unavailable(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrStoreUnavailable, fmt.Sprintf(format, args...))
}

// Truncate cuts records to limit, keeping order. Negative limits keep all.
func Truncate[T any](records []T, limit int) []T {
	if limit < 0 || len(records) <= limit {
		return records
	}
	return records[:limit]
}

// MapRecord is a record backed by a plain field map, as produced by the
// SQL and Redis backends.
type MapRecord struct {
	Key    string
	Values map[string]any
}

func (r MapRecord) PrimaryKey() string { return r.Key }

func (r MapRecord) Field(name string) (any, bool) {
	v, ok := r.Values[name]
	return v, ok
}
