package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuongbtq/tickqueue/internal/jobqueue"
	"github.com/cuongbtq/tickqueue/internal/jobs"
)

// Builder resolves job kinds into runners
type Builder interface {
	QueueFor(kind string) (string, error)
	Build(kind string, params json.RawMessage) (jobqueue.Runner, error)
}

// QueueSpec configures one queue owned by the driver
type QueueSpec struct {
	Name      string
	MaxTime   time.Duration
	Priority  bool
	Yield     jobqueue.YieldPolicy
	MaxLength int
}

// Config holds driver settings
type Config struct {
	TickInterval time.Duration
	InboxSize    int
	Retention    time.Duration
	Queues       []QueueSpec
}

// Submission is a request to run one job
type Submission struct {
	ID       string
	Kind     string
	Queue    string // overrides the kind's route when set
	Priority int
	MaxSlice time.Duration
	Params   json.RawMessage
	Source   string
}

// Stats is a snapshot of the driver taken at the end of the last tick
type Stats struct {
	Ticks   uint64
	Inbox   int
	Tracked int
	Queues  []jobqueue.Stats
}

type pending struct {
	job    *jobqueue.Job
	queue  string
	params json.RawMessage
	source string
}

type tracked struct {
	job       *jobqueue.Job
	params    json.RawMessage
	source    string
	retiredAt time.Time
}

// Driver owns a set of job queues on a single goroutine and processes them once per tick.
// Submit, Lookup, Cancel and Stats are safe for concurrent use; Run and Tick are not.
type Driver struct {
	cfg       Config
	builder   Builder
	logger    *slog.Logger
	clock     jobqueue.Clock
	sinks     []Sink
	observers []TickObserver

	queues  []*jobqueue.Queue
	byName  map[string]*jobqueue.Queue
	inbox   chan pending
	stopped atomic.Bool
	// held shared by Submit around its send, exclusively by shutdown before it drains
	gate sync.RWMutex
	tick    uint64

	// filled by queue completion hooks during a tick
	completed []*jobqueue.Job

	mu    sync.RWMutex
	jobs  map[string]*tracked
	stats Stats
}

// Option configures a Driver
type Option func(*Driver)

// WithClock replaces the wall clock for the driver and its queues
func WithClock(c jobqueue.Clock) Option {
	return func(d *Driver) {
		if c != nil {
			d.clock = c
		}
	}
}

// WithSink adds a lifecycle sink
func WithSink(s Sink) Option {
	return func(d *Driver) {
		if s != nil {
			d.sinks = append(d.sinks, s)
		}
	}
}

// WithObserver adds a tick observer
func WithObserver(o TickObserver) Option {
	return func(d *Driver) {
		if o != nil {
			d.observers = append(d.observers, o)
		}
	}
}

// New builds a driver and its queues. The first queue is the default route.
func New(cfg Config, builder Builder, logger *slog.Logger, opts ...Option) (*Driver, error) {
	if builder == nil {
		return nil, fmt.Errorf("scheduler requires a job builder")
	}
	if len(cfg.Queues) == 0 {
		return nil, fmt.Errorf("scheduler requires at least one queue")
	}
	if cfg.TickInterval <= 0 {
		return nil, fmt.Errorf("scheduler tick interval must be positive")
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 1
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	d := &Driver{
		cfg:     cfg,
		builder: builder,
		logger:  logger,
		clock:   jobqueue.SystemClock,
		byName:  make(map[string]*jobqueue.Queue, len(cfg.Queues)),
		inbox:   make(chan pending, cfg.InboxSize),
		jobs:    make(map[string]*tracked),
	}
	for _, opt := range opts {
		opt(d)
	}

	for _, spec := range cfg.Queues {
		if _, ok := d.byName[spec.Name]; ok {
			return nil, fmt.Errorf("duplicate queue %q", spec.Name)
		}

		qopts := []jobqueue.Option{
			jobqueue.WithName(spec.Name),
			jobqueue.WithMaxTime(spec.MaxTime),
			jobqueue.WithClock(d.clock),
			jobqueue.WithLogger(logger),
			jobqueue.WithYield(spec.Yield),
			jobqueue.WithMaxLength(spec.MaxLength),
			jobqueue.WithOnComplete(d.onComplete),
		}
		if spec.Priority {
			qopts = append(qopts, jobqueue.WithPriority())
		}

		q := jobqueue.NewQueue(qopts...)
		d.queues = append(d.queues, q)
		d.byName[spec.Name] = q
	}
	d.snapshot()

	return d, nil
}

// Submit validates a submission, builds its job and hands it to the tick goroutine.
// The returned job is PENDING until the next tick picks it up.
func (d *Driver) Submit(ctx context.Context, sub Submission) (*jobqueue.Job, error) {
	if d.stopped.Load() {
		return nil, ErrStopped
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	queue := sub.Queue
	if queue == "" {
		route, err := d.builder.QueueFor(sub.Kind)
		if err != nil {
			return nil, err
		}
		queue = route
	}
	if queue == "" {
		queue = d.queues[0].Name()
	}
	if _, ok := d.byName[queue]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownQueue, queue)
	}

	runner, err := d.builder.Build(sub.Kind, sub.Params)
	if err != nil {
		return nil, err
	}

	job, err := jobqueue.NewJob(runner,
		jobqueue.WithID(sub.ID),
		jobqueue.WithKind(sub.Kind),
		jobqueue.WithJobPriority(sub.Priority),
		jobqueue.WithMaxSlice(sub.MaxSlice),
	)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	if _, ok := d.jobs[job.ID()]; ok {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateJob, job.ID())
	}
	d.jobs[job.ID()] = &tracked{job: job, params: sub.Params, source: sub.Source}
	d.mu.Unlock()

	if err := d.send(pending{job: job, queue: queue, params: sub.Params, source: sub.Source}); err != nil {
		d.forget(job.ID())
		return nil, err
	}

	d.logger.Debug("Job submitted",
		slog.String("job_id", job.ID()),
		slog.String("kind", sub.Kind),
		slog.String("queue", queue),
		slog.String("source", sub.Source),
	)

	return job, nil
}

func (d *Driver) send(p pending) error {
	d.gate.RLock()
	defer d.gate.RUnlock()

	if d.stopped.Load() {
		return ErrStopped
	}
	select {
	case d.inbox <- p:
		return nil
	default:
		return ErrInboxFull
	}
}

// Lookup returns a tracked job, live or recently retired
func (d *Driver) Lookup(id string) (*jobqueue.Job, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	t, ok := d.jobs[id]
	if !ok {
		return nil, false
	}
	return t.job, true
}

// Cancel requests cancellation of a tracked job; the owning queue drops it on its next pass
func (d *Driver) Cancel(id string) (*jobqueue.Job, error) {
	job, ok := d.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if job.Status().IsTerminal() {
		return job, ErrJobCompleted
	}

	job.Cancel()
	return job, nil
}

// Stats returns the snapshot taken at the end of the last tick
func (d *Driver) Stats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	s := d.stats
	s.Inbox = len(d.inbox)
	s.Queues = append([]jobqueue.Stats(nil), d.stats.Queues...)
	return s
}

// QueueNames lists the queues in processing order
func (d *Driver) QueueNames() []string {
	names := make([]string, len(d.queues))
	for i, q := range d.queues {
		names[i] = q.Name()
	}
	return names
}

// Run processes the queues every tick until ctx is done, then cancels everything still queued
func (d *Driver) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.TickInterval)
	defer ticker.Stop()

	d.logger.Info("Scheduler started",
		slog.Duration("tick_interval", d.cfg.TickInterval),
		slog.Int("queues", len(d.queues)),
	)

	var buffered []pending
	for {
		select {
		case <-ctx.Done():
			d.shutdown(buffered)
			return nil
		case p := <-d.inbox:
			buffered = append(buffered, p)
		case <-ticker.C:
			d.step(buffered)
			buffered = buffered[:0]
		}
	}
}

// Tick drains the inbox and runs one step synchronously. It must not be called while Run is active.
func (d *Driver) Tick() TickReport {
	return d.step(d.drain(nil))
}

func (d *Driver) drain(buf []pending) []pending {
	for {
		select {
		case p := <-d.inbox:
			buf = append(buf, p)
		default:
			return buf
		}
	}
}

func (d *Driver) step(batch []pending) TickReport {
	d.tick++
	start := d.clock.Now()
	report := TickReport{Tick: d.tick, Start: start}

	for _, p := range batch {
		if d.accept(p) {
			report.Accepted++
		} else {
			report.Rejected++
		}
	}

	for _, q := range d.queues {
		r := q.Process()
		report.Queues = append(report.Queues, r)
		if r.Overrun > 0 {
			d.logger.Debug("Queue overran its budget",
				slog.String("queue", r.Queue),
				slog.Duration("overrun", r.Overrun),
			)
		}
	}

	now := d.clock.Now()
	d.publishCompleted(now)
	d.prune(now)

	report.Duration = now.Sub(start)
	report.Tracked = d.snapshot()

	for _, o := range d.observers {
		o.ObserveTick(report)
	}

	return report
}

func (d *Driver) accept(p pending) bool {
	info := p.job.Info()
	info.Queue = p.queue
	d.emit(Event{
		Type:   EventSubmitted,
		Job:    info,
		Params: p.params,
		Source: p.source,
		Time:   d.clock.Now(),
	}, Sink.JobSubmitted)

	err := d.byName[p.queue].Enqueue(p.job)
	if err == nil {
		return true
	}

	d.logger.Warn("Failed to enqueue job",
		slog.String("job_id", p.job.ID()),
		slog.String("queue", p.queue),
		slog.String("error", err.Error()),
	)

	if abandonErr := p.job.Abandon(fmt.Errorf("failed to enqueue on %s: %w", p.queue, err), d.clock.Now()); abandonErr == nil {
		d.onComplete(p.job)
	}
	return false
}

// onComplete runs inside Queue.Process; events go out once every queue has run
func (d *Driver) onComplete(j *jobqueue.Job) {
	d.completed = append(d.completed, j)
}

func (d *Driver) publishCompleted(now time.Time) {
	if len(d.completed) == 0 {
		return
	}

	for _, j := range d.completed {
		d.mu.Lock()
		t, ok := d.jobs[j.ID()]
		if ok {
			t.retiredAt = now
		}
		d.mu.Unlock()

		ev := Event{
			Type: EventCompleted,
			Job:  j.Info(),
			Time: now,
		}
		if ok {
			ev.Params = t.params
			ev.Source = t.source
		}
		if ev.Job.Status == jobqueue.StatusFinished {
			if r, ok := j.Runner().(jobs.Resulter); ok {
				ev.Result = r.Result()
			}
		}

		d.logger.Debug("Job completed",
			slog.String("job_id", ev.Job.ID),
			slog.String("status", ev.Job.Status.String()),
			slog.Int("runs", ev.Job.Runs),
		)

		d.emit(ev, Sink.JobCompleted)
	}

	clear(d.completed)
	d.completed = d.completed[:0]
}

func (d *Driver) emit(ev Event, fn func(Sink, Event)) {
	for _, s := range d.sinks {
		fn(s, ev)
	}
}

// prune forgets retired jobs older than the retention window
func (d *Driver) prune(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for id, t := range d.jobs {
		if t.retiredAt.IsZero() {
			continue
		}
		if now.Sub(t.retiredAt) >= d.cfg.Retention {
			delete(d.jobs, id)
		}
	}
}

func (d *Driver) forget(id string) {
	d.mu.Lock()
	delete(d.jobs, id)
	d.mu.Unlock()
}

func (d *Driver) snapshot() int {
	stats := make([]jobqueue.Stats, len(d.queues))
	for i, q := range d.queues {
		stats[i] = q.Stats()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats = Stats{Ticks: d.tick, Tracked: len(d.jobs), Queues: stats}
	return len(d.jobs)
}

func (d *Driver) shutdown(buffered []pending) {
	// no send can land in the inbox once the gate has been passed with stopped set
	d.gate.Lock()
	d.stopped.Store(true)
	d.gate.Unlock()

	buffered = d.drain(buffered)
	now := d.clock.Now()
	for _, p := range buffered {
		if err := p.job.Abandon(ErrStopped, now); err == nil {
			d.onComplete(p.job)
		}
	}

	dropped := 0
	for _, q := range d.queues {
		dropped += q.Clear(ErrStopped)
	}
	d.publishCompleted(d.clock.Now())
	d.snapshot()

	d.logger.Info("Scheduler stopped",
		slog.Uint64("ticks", d.tick),
		slog.Int("dropped", dropped+len(buffered)),
	)
}

// IsStopped reports whether Run has returned
func (d *Driver) IsStopped() bool {
	return d.stopped.Load()
}

// ErrorText renders a job error for transport, empty when nil
func ErrorText(err error) string {
	if err == nil {
		return ""
	}
	var pe *jobqueue.PanicError
	if errors.As(err, &pe) {
		return fmt.Sprintf("panic: %v", pe.Value)
	}
	return err.Error()
}
