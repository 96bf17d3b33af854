package approval

import "errors"

var (
	// ErrNotFound is returned for an unknown instance id.
	ErrNotFound = errors.New("approval instance not found")

	// ErrInvalidState is returned when an instance can no longer accept the
	// requested change.
	ErrInvalidState = errors.New("invalid approval state")

	// ErrValidation is returned for malformed input.
	ErrValidation = errors.New("invalid approval request")
)
