package dao

import "errors"

// Common, reusable DAO errors. Callers detect them with errors.Is.

var (
	// ErrNotFound is returned when the requested entity does not exist in the
	// underlying storage.
	ErrNotFound = errors.New("dao: not found")

	// ErrInvalidID indicates that the supplied ID/key is empty or otherwise
	// invalid.
	ErrInvalidID = errors.New("dao: invalid id")

	// ErrNilEntity is returned when the caller attempts to persist a nil
	// pointer.
	ErrNilEntity = errors.New("dao: nil entity")

	// ErrConflict signals that a concurrent writer changed the entity since it
	// was loaded. The operation can be retried from a fresh read.
	ErrConflict = errors.New("dao: concurrent modification")
)

// IsTransient reports whether err is worth retrying from a fresh read.
func IsTransient(err error) bool {
	return errors.Is(err, ErrConflict)
}
