package jobqueue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Runner performs one bounded increment of a job's work.
// Returning done=true finishes the job; (false, nil) yields until the next slice.
// A non-nil error fails the job.
type Runner interface {
	Run(s *Slice) (done bool, err error)
}

// RunnerFunc adapts a plain function to Runner
type RunnerFunc func(s *Slice) (bool, error)

// Run calls f(s)
func (f RunnerFunc) Run(s *Slice) (bool, error) {
	return f(s)
}

// Job is a handle on a resumable unit of work.
// Only the owning queue mutates its status; every accessor is safe for concurrent use.
type Job struct {
	id       string
	kind     string
	priority int
	maxSlice time.Duration
	runner   Runner

	ctx    context.Context
	cancel context.CancelCauseFunc
	done   chan struct{}

	mu          sync.RWMutex
	status      Status
	err         error
	runs        int
	queue       string
	enqueuedAt  time.Time
	startedAt   time.Time
	completedAt time.Time

	// owned by the queue goroutine
	queued bool
	seq    uint64
	index  int
}

// JobOption configures a Job
type JobOption func(*Job)

// WithID overrides the generated job ID
func WithID(id string) JobOption {
	return func(j *Job) {
		if id != "" {
			j.id = id
		}
	}
}

// WithKind labels the job with the kind of work it performs
func WithKind(kind string) JobOption {
	return func(j *Job) { j.kind = kind }
}

// WithJobPriority sets the ordering priority used by priority queues; higher runs first
func WithJobPriority(priority int) JobOption {
	return func(j *Job) { j.priority = priority }
}

// WithMaxSlice caps the budget of each Run call for this job
func WithMaxSlice(d time.Duration) JobOption {
	return func(j *Job) { j.maxSlice = d }
}

// WithContext derives the job's cancellation context from ctx
func WithContext(ctx context.Context) JobOption {
	return func(j *Job) {
		if ctx != nil {
			j.ctx = ctx
		}
	}
}

// NewJob creates a PENDING job around runner
func NewJob(runner Runner, opts ...JobOption) (*Job, error) {
	if runner == nil {
		return nil, ErrNilRunner
	}

	j := &Job{
		id:     uuid.NewString(),
		runner: runner,
		ctx:    context.Background(),
		status: StatusPending,
		done:   make(chan struct{}),
		index:  -1,
	}
	for _, opt := range opts {
		opt(j)
	}
	j.ctx, j.cancel = context.WithCancelCause(j.ctx)

	return j, nil
}

// ID returns the job identifier
func (j *Job) ID() string { return j.id }

// Kind returns the job kind label
func (j *Job) Kind() string { return j.kind }

// Priority returns the ordering priority
func (j *Job) Priority() int { return j.priority }

// MaxSlice returns the per-run budget cap, zero when unset
func (j *Job) MaxSlice() time.Duration { return j.maxSlice }

// Runner returns the work the job drives; producers read results from it
func (j *Job) Runner() Runner { return j.runner }

// Context returns the job's cancellation context
func (j *Job) Context() context.Context { return j.ctx }

// Done is closed once the job reaches a terminal status
func (j *Job) Done() <-chan struct{} { return j.done }

// Cancel requests cancellation. The owning queue drops the job at its next check.
func (j *Job) Cancel() {
	j.cancel(context.Canceled)
}

// CancelWithCause requests cancellation and records cause as the job error
func (j *Job) CancelWithCause(cause error) {
	j.cancel(cause)
}

// Status returns the current status
func (j *Job) Status() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status
}

// Err returns the failure or cancellation cause of a terminal job
func (j *Job) Err() error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.err
}

// Runs returns how many times the runner has been invoked
func (j *Job) Runs() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.runs
}

// Queue returns the name of the queue the job was enqueued into
func (j *Job) Queue() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.queue
}

// Info is a point-in-time copy of a job's state
type Info struct {
	ID          string
	Kind        string
	Queue       string
	Priority    int
	Status      Status
	Runs        int
	Err         error
	EnqueuedAt  time.Time
	StartedAt   time.Time
	CompletedAt time.Time
}

// Info returns a consistent snapshot of the job
func (j *Job) Info() Info {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return Info{
		ID:          j.id,
		Kind:        j.kind,
		Queue:       j.queue,
		Priority:    j.priority,
		Status:      j.status,
		Runs:        j.runs,
		Err:         j.err,
		EnqueuedAt:  j.enqueuedAt,
		StartedAt:   j.startedAt,
		CompletedAt: j.completedAt,
	}
}

func (j *Job) canceled() bool {
	return j.ctx.Err() != nil
}

func (j *Job) markEnqueued(queue string, now time.Time) {
	j.mu.Lock()
	j.queue = queue
	j.enqueuedAt = now
	j.mu.Unlock()
}

func (j *Job) markRun(now time.Time) {
	j.mu.Lock()
	if j.status == StatusPending {
		j.status = StatusRunning
		j.startedAt = now
	}
	j.runs++
	j.mu.Unlock()
}

func (j *Job) complete(status Status, err error, now time.Time) {
	j.mu.Lock()
	if j.status.IsTerminal() {
		j.mu.Unlock()
		return
	}
	j.status = status
	j.err = err
	j.completedAt = now
	j.mu.Unlock()

	// release the context once the job can no longer observe it
	j.cancel(nil)
	close(j.done)
}

// Abandon retires a PENDING job that could not be placed on any queue.
// It must be called by the goroutine that tried to enqueue it.
func (j *Job) Abandon(cause error, now time.Time) error {
	if j.queued {
		return ErrAlreadyQueued
	}
	if cause == nil {
		cause = context.Canceled
	}

	j.mu.RLock()
	status := j.status
	j.mu.RUnlock()
	if status != StatusPending {
		return ErrNotPending
	}

	j.complete(StatusCanceled, cause, now)
	return nil
}
