package remote

import "errors"

// Errors returned by Client implementations.
//
// Check them with errors.Is() or the Is* helpers:
//
//	if remote.IsTransient(err) {
//	    // leave the record pending; the next pass retries
//	}
var (
	// ErrTransient is returned when the service could not be reached or
	// failed temporarily (network down, 5xx, I/O error). Nothing was
	// changed remotely; the caller may retry later.
	ErrTransient = errors.New("remote temporarily unavailable")

	// ErrRejected is returned when the service permanently refused a
	// payload. Retrying the same payload will fail the same way.
	ErrRejected = errors.New("remote rejected record")

	// ErrNotFound is returned when a record ID is unknown to the service.
	ErrNotFound = errors.New("remote record not found")
)

// IsTransient reports whether err is a temporary remote failure.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsRejected reports whether the remote permanently refused the payload.
func IsRejected(err error) bool {
	return errors.Is(err, ErrRejected)
}

// IsNotFound reports whether the remote does not know the record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
