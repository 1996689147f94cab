package intake

import "errors"

var (
	// ErrMalformedMessage is returned when a delivery body is not a valid submission
	ErrMalformedMessage = errors.New("malformed submission message")

	// ErrInvalidJobID is returned when a submission carries a job_id that is not a UUID
	ErrInvalidJobID = errors.New("job_id must be a UUID")
)

// RetryableError wraps transient errors that should trigger a requeue
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}
