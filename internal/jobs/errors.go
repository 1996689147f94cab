package jobs

import "errors"

var (
	// ErrUnknownKind is returned when no factory is registered for a job kind
	ErrUnknownKind = errors.New("unknown job kind")

	// ErrInvalidParams is returned when job parameters fail validation
	ErrInvalidParams = errors.New("invalid job parameters")

	// ErrDuplicateKind is returned when registering a kind twice
	ErrDuplicateKind = errors.New("job kind already registered")
)
