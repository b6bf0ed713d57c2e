// Package remote defines the wire model of the remote synchronization
// service and the clients that talk to it.
//
// The service stores records of a named type, each addressed by the local
// key it was pushed under and carrying an opaque field map. Three clients
// are provided:
//
//   - Memory: an in-process service, used by tests, the load test and
//     remote.kind = "memory" with an in-memory database
//   - HTTPClient: JSON over HTTP against a server built with NewHandler
//   - Dir: a shared folder holding one JSON file per record
//
// All clients classify failures as ErrTransient (retry later) or
// ErrRejected (payload refused for good).
package remote

import (
	"context"
	"time"
)

// Record is a record as the remote service stores it.
type Record struct {
	// ID is the service-assigned handle. Empty on the first push.
	ID string `json:"id,omitempty"`

	// Type is the record type name (e.g. "TodoTask").
	Type string `json:"type"`

	// Key is the stable local identifier the record was pushed under.
	Key string `json:"key"`

	// Deleted marks a remote tombstone.
	Deleted bool `json:"deleted,omitempty"`

	// ChangedAt is the service's change time, used for incremental pulls.
	ChangedAt time.Time `json:"changed_at"`

	// Fields is the record payload. Empty for tombstones.
	Fields Fields `json:"fields,omitempty"`
}

// Client is the remote synchronization service as seen by the sync engine.
type Client interface {
	// Pull returns records of recordType changed strictly after since,
	// tombstones included. A zero since returns everything. A client
	// without a single authoritative clock may return records older than
	// since; reconciling an unchanged record writes nothing.
	Pull(ctx context.Context, recordType string, since time.Time) ([]Record, error)

	// Push creates or replaces the record stored under (rec.Type, rec.Key)
	// and returns its remote ID.
	Push(ctx context.Context, rec Record) (string, error)

	// Delete tombstones the record with the given remote ID.
	// Deleting an unknown or already deleted record succeeds.
	Delete(ctx context.Context, remoteID string) error
}
