package jobqueue

import (
	"context"
	"log/slog"
	"time"
)

// DefaultMaxTime is the per-Process budget used when none is configured
const DefaultMaxTime = 2 * time.Millisecond

// YieldPolicy decides what happens to a head job that did not finish its slice
type YieldPolicy int

const (
	// YieldRetry keeps the job at the head and re-runs it while budget remains
	YieldRetry YieldPolicy = iota
	// YieldRotate moves the job behind every other queued job
	YieldRotate
)

// Report summarizes one Process call
type Report struct {
	Queue     string
	Runs      int
	Finished  int
	Failed    int
	Canceled  int
	Remaining int
	Elapsed   time.Duration
	Overrun   time.Duration
}

// Stats are cumulative counters for a queue
type Stats struct {
	Name      string
	MaxTime   time.Duration
	Length    int
	Enqueued  uint64
	Runs      uint64
	Finished  uint64
	Failed    uint64
	Canceled  uint64
	Processed uint64
	Overruns  uint64
}

// Queue is a time-sliced cooperative scheduler.
// It is not safe for concurrent use: one goroutine owns it and calls Enqueue and Process.
type Queue struct {
	name       string
	maxTime    time.Duration
	clock      Clock
	logger     *slog.Logger
	order      order
	yield      YieldPolicy
	maxLength  int
	onComplete func(*Job)

	seq   uint64
	stats Stats
}

// Option configures a Queue
type Option func(*Queue)

// WithName names the queue in logs, reports and job metadata
func WithName(name string) Option {
	return func(q *Queue) { q.name = name }
}

// WithMaxTime sets the wall-clock budget of each Process call
func WithMaxTime(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.maxTime = d
		}
	}
}

// WithClock replaces the wall clock
func WithClock(c Clock) Option {
	return func(q *Queue) {
		if c != nil {
			q.clock = c
		}
	}
}

// WithLogger sets the logger used for job failures
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) {
		if l != nil {
			q.logger = l
		}
	}
}

// WithPriority orders jobs by priority, falling back to enqueue order on ties
func WithPriority() Option {
	return func(q *Queue) { q.order = &priority{} }
}

// WithYield sets the policy for jobs that yield without finishing
func WithYield(p YieldPolicy) Option {
	return func(q *Queue) { q.yield = p }
}

// WithMaxLength bounds the number of queued jobs; zero means unbounded
func WithMaxLength(n int) Option {
	return func(q *Queue) { q.maxLength = n }
}

// WithOnComplete registers a hook called on the owning goroutine for every job leaving the queue
func WithOnComplete(fn func(*Job)) Option {
	return func(q *Queue) { q.onComplete = fn }
}

// NewQueue creates an empty FIFO queue with a 2ms budget unless configured otherwise
func NewQueue(opts ...Option) *Queue {
	q := &Queue{
		name:    "default",
		maxTime: DefaultMaxTime,
		clock:   SystemClock,
		logger:  slog.New(slog.DiscardHandler),
		order:   &fifo{},
	}
	for _, opt := range opts {
		opt(q)
	}
	q.logger = q.logger.With(slog.String("queue", q.name))
	return q
}

// Name returns the queue name
func (q *Queue) Name() string { return q.name }

// Len returns the number of queued jobs
func (q *Queue) Len() int { return q.order.Len() }

// MaxTime returns the per-Process budget
func (q *Queue) MaxTime() time.Duration { return q.maxTime }

// SetMaxTime retunes the per-Process budget; non-positive values restore the default
func (q *Queue) SetMaxTime(d time.Duration) {
	if d <= 0 {
		d = DefaultMaxTime
	}
	q.maxTime = d
}

// Jobs returns the queued jobs. Order is only meaningful for FIFO queues.
func (q *Queue) Jobs() []*Job {
	return q.order.Jobs()
}

// Stats returns cumulative counters
func (q *Queue) Stats() Stats {
	s := q.stats
	s.Name = q.name
	s.MaxTime = q.maxTime
	s.Length = q.order.Len()
	return s
}

// Enqueue appends a PENDING job
func (q *Queue) Enqueue(j *Job) error {
	if j == nil {
		return ErrNilJob
	}
	if j.queued {
		return ErrAlreadyQueued
	}
	if j.Status() != StatusPending {
		return ErrNotPending
	}
	if q.maxLength > 0 && q.order.Len() >= q.maxLength {
		return ErrQueueFull
	}

	q.seq++
	j.seq = q.seq
	j.queued = true
	j.markEnqueued(q.name, q.clock.Now())
	q.order.Push(j)
	q.stats.Enqueued++

	return nil
}

// Process runs queued jobs until the queue is empty or MaxTime has elapsed.
// The budget is checked between invocations only, so a single slow Run can overrun it.
func (q *Queue) Process() Report {
	report := Report{Queue: q.name}
	if q.order.Len() == 0 {
		return report
	}

	start := q.clock.Now()
	q.sweepCanceled(start, &report)

	for q.order.Len() > 0 {
		now := q.clock.Now()
		elapsed := now.Sub(start)
		if elapsed >= q.maxTime {
			break
		}

		j := q.order.Peek()
		if j.canceled() {
			q.remove(j)
			q.retire(j, StatusCanceled, context.Cause(j.ctx), now, &report)
			continue
		}

		budget := q.maxTime - elapsed
		if j.maxSlice > 0 && j.maxSlice < budget {
			budget = j.maxSlice
		}

		j.markRun(now)
		report.Runs++
		done, err := q.invoke(j, newSlice(q.clock, budget))

		switch {
		case err != nil:
			q.remove(j)
			q.logger.Warn("Job failed",
				slog.String("job_id", j.id),
				slog.String("kind", j.kind),
				slog.Int("runs", j.Runs()),
				slog.String("error", err.Error()),
			)
			q.retire(j, StatusFailed, err, q.clock.Now(), &report)
		case done:
			q.remove(j)
			q.retire(j, StatusFinished, nil, q.clock.Now(), &report)
		case q.yield == YieldRotate && q.order.Peek() == j:
			q.seq++
			q.order.RotateHead(q.seq)
		}
	}

	report.Elapsed = q.clock.Now().Sub(start)
	if report.Elapsed > q.maxTime {
		report.Overrun = report.Elapsed - q.maxTime
		q.stats.Overruns++
	}
	report.Remaining = q.order.Len()

	q.stats.Processed++
	q.stats.Runs += uint64(report.Runs)

	return report
}

// Clear cancels and drops every queued job, returning how many were dropped
func (q *Queue) Clear(cause error) int {
	if cause == nil {
		cause = context.Canceled
	}

	now := q.clock.Now()
	dropped := q.order.RemoveIf(func(*Job) bool { return true })
	var report Report
	for _, j := range dropped {
		j.CancelWithCause(cause)
		q.retire(j, StatusCanceled, cause, now, &report)
	}

	return len(dropped)
}

// sweepCanceled drops every job whose context is done, wherever it sits in the queue
func (q *Queue) sweepCanceled(now time.Time, report *Report) {
	canceled := q.order.RemoveIf(func(j *Job) bool { return j.canceled() })
	for _, j := range canceled {
		q.retire(j, StatusCanceled, context.Cause(j.ctx), now, report)
	}
}

func (q *Queue) remove(j *Job) {
	if q.order.Peek() == j {
		q.order.PopHead()
		return
	}
	q.order.RemoveIf(func(x *Job) bool { return x == j })
}

func (q *Queue) retire(j *Job, status Status, err error, now time.Time, report *Report) {
	j.queued = false
	j.complete(status, err, now)

	switch status {
	case StatusFinished:
		report.Finished++
		q.stats.Finished++
	case StatusFailed:
		report.Failed++
		q.stats.Failed++
	case StatusCanceled:
		report.Canceled++
		q.stats.Canceled++
	}

	q.logger.Debug("Job left queue",
		slog.String("job_id", j.id),
		slog.String("status", status.String()),
	)

	q.notify(j)
}

// notify runs the completion hook; a panicking hook is logged and does not abort Process
func (q *Queue) notify(j *Job) {
	if q.onComplete == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("Completion hook panicked",
				slog.String("job_id", j.id),
				slog.Any("panic", r),
			)
		}
	}()

	q.onComplete(j)
}

func (q *Queue) invoke(j *Job, s *Slice) (done bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			done = false
			err = &PanicError{JobID: j.id, Value: r}
		}
	}()

	return j.runner.Run(s)
}
