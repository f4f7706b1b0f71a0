package broadcast

import "errors"

var (
	// ErrInvalidRequest rejects a submit before any job state is created.
	ErrInvalidRequest = errors.New("invalid broadcast request")

	// ErrNotFound is returned when polling an unknown or already-swept job id.
	ErrNotFound = errors.New("broadcast job not found")

	// ErrDuplicateID guards the registry against id collisions.
	ErrDuplicateID = errors.New("broadcast job id already registered")

	// ErrStopped rejects submissions after the service has been stopped.
	ErrStopped = errors.New("broadcast service stopped")
)
