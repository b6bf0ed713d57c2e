package store

import "errors"

// Errors returned by store operations.
//
// Check them with errors.Is():
//
//	if errors.Is(err, store.ErrNotFound) {
//	    // unknown task ID
//	}
var (
	// ErrNotFound is returned when an operation references an ID that is
	// not in the store. It is surfaced to the caller and never retried.
	ErrNotFound = errors.New("task not found")

	// ErrDuplicateID is returned by Insert when the ID is already present.
	// This is a programmer error: IDs are generated and never reused.
	ErrDuplicateID = errors.New("duplicate task id")

	// ErrStorageUnavailable is returned when the backing database cannot
	// be reached. The operation is aborted and nothing is written.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrNotPurgeable is returned by Purge for records that are live or
	// whose deletion the remote has not confirmed yet.
	ErrNotPurgeable = errors.New("task is not a synced tombstone")
)

// IsNotFound reports whether err is (or wraps) ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
