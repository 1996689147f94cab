package scheduler

import "errors"

var (
	// ErrInboxFull is returned when the driver cannot take another submission this tick
	ErrInboxFull = errors.New("scheduler inbox is full")

	// ErrStopped is returned for submissions after the driver has shut down
	ErrStopped = errors.New("scheduler is stopped")

	// ErrUnknownQueue is returned when a submission targets a queue that does not exist
	ErrUnknownQueue = errors.New("unknown scheduler queue")

	// ErrJobNotFound is returned when a job ID is not tracked by the driver
	ErrJobNotFound = errors.New("job not found")

	// ErrDuplicateJob is returned when a submission reuses the ID of a tracked job
	ErrDuplicateJob = errors.New("job ID already in use")

	// ErrJobCompleted is returned when canceling a job that already ended
	ErrJobCompleted = errors.New("job already completed")
)
