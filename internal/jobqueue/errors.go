package jobqueue

import (
	"errors"
	"fmt"
)

var (
	// ErrQueueFull is returned when a bounded queue has no room for another job
	ErrQueueFull = errors.New("job queue is full")

	// ErrAlreadyQueued is returned when a job is enqueued twice
	ErrAlreadyQueued = errors.New("job already queued")

	// ErrNotPending is returned when enqueueing a job that has already started or ended
	ErrNotPending = errors.New("job is not in PENDING status")

	// ErrNilRunner is returned when a job is built without a runner
	ErrNilRunner = errors.New("job runner is nil")

	// ErrNilJob is returned when enqueueing a nil job
	ErrNilJob = errors.New("job is nil")
)

// PanicError is recorded on a job whose runner panicked
type PanicError struct {
	JobID string
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("job %s panicked: %v", e.JobID, e.Value)
}
