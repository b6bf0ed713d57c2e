package sync

import (
	"context"
	"time"

	"github.com/tinytodo/tasksync/internal/remote"
)

// Outcome is the resolver's verdict for one conflicting record.
type Outcome int

const (
	// UseLocal keeps the local record unchanged.
	UseLocal Outcome = iota
	// UseRemote replaces the local record with the merged remote state.
	UseRemote
)

// String returns "local" or "remote".
func (o Outcome) String() string {
	if o == UseRemote {
		return "remote"
	}
	return "local"
}

// Resolution is the result of Adapter.Resolve. Record is set only for
// UseRemote and holds the local record with the remote fields applied.
type Resolution[R any] struct {
	Outcome Outcome
	Record  R
}

// Meta is the sync bookkeeping every synchronized record carries.
type Meta struct {
	LastModified time.Time
	LastSync     *time.Time
	RemoteID     string
	Deleted      bool
}

// Adapter describes how one record kind is mapped to the remote wire form,
// how conflicts are resolved, and how its bookkeeping is updated.
//
// Implementations must be pure: every method depends only on its
// arguments, and mutating methods return updated copies.
type Adapter[R any] interface {
	// Kind is the remote record type name.
	Kind() string

	// Key returns the stable local ID of r.
	Key(r R) string

	// Meta returns the bookkeeping fields of r.
	Meta(r R) Meta

	// Validate reports whether r may be stored.
	Validate(r R) error

	// ToRemote encodes the user-visible fields of r.
	ToRemote(r R) remote.Fields

	// FromRemote builds a new local record from a remote payload.
	// Missing fields take defaults; now fills missing timestamps.
	FromRemote(key string, fields remote.Fields, now time.Time) R

	// ApplyRemote overlays the fields present in the payload onto into.
	ApplyRemote(fields remote.Fields, into R) R

	// RemoteModified returns the payload's modification time, or the zero
	// time when absent.
	RemoteModified(fields remote.Fields) time.Time

	// Resolve picks the winner between local and a remote payload.
	Resolve(local R, fields remote.Fields) Resolution[R]

	// MarkSynced records a successful exchange with the remote at now.
	// An empty remoteID keeps the current one. Clears any rejection.
	MarkSynced(r R, remoteID string, now time.Time) R

	// AttachRemoteID sets the remote handle without touching sync state.
	AttachRemoteID(r R, remoteID string) R

	// MarkDeleted tombstones r.
	MarkDeleted(r R) R

	// MarkRejected records that the remote refused r's payload for good.
	MarkRejected(r R, reason string) R
}

// ReconcileFunc decides the new state of a stored record. found is false
// when no record is stored under the key. Returning write=false leaves
// storage untouched.
type ReconcileFunc[R any] func(cur R, found bool) (next R, write bool, err error)

// Repository is the reconciliation surface of the local store.
type Repository[R any] interface {
	// Dirty returns records with local changes the remote has not seen.
	Dirty(ctx context.Context) ([]R, error)

	// Reconcile runs fn against the current record under the store's
	// per-record lock and persists the result without scheduling a sync.
	Reconcile(ctx context.Context, key string, fn ReconcileFunc[R]) error

	// Cursor returns the persisted pull cursor for kind.
	Cursor(ctx context.Context, kind string) (time.Time, error)

	// SetCursor persists the pull cursor for kind.
	SetCursor(ctx context.Context, kind string, since time.Time) error
}
