package storage

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuongbtq/tickqueue/internal/scheduler"
)

const writeTimeout = 5 * time.Second

type writeKind int

const (
	writeInsert writeKind = iota + 1
	writeComplete
)

type write struct {
	kind       writeKind
	record     JobRecord
	completion JobCompletion
}

// Recorder is a scheduler sink that persists lifecycle events.
// Writes are queued to a single writer goroutine and dropped when the buffer is full.
type Recorder struct {
	store  *Store
	logger *slog.Logger

	mu      sync.RWMutex
	ch      chan write
	closed  bool
	wg      sync.WaitGroup
	dropped atomic.Uint64
}

// NewRecorder starts the writer goroutine
func NewRecorder(store *Store, buffer int, logger *slog.Logger) *Recorder {
	if buffer <= 0 {
		buffer = 1
	}

	r := &Recorder{
		store:  store,
		logger: logger,
		ch:     make(chan write, buffer),
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.loop()
	}()

	return r
}

// JobSubmitted queues an insert
func (r *Recorder) JobSubmitted(ev scheduler.Event) {
	params := string(ev.Params)
	if params == "" {
		params = "{}"
	}

	r.enqueue(write{
		kind: writeInsert,
		record: JobRecord{
			JobID:     ev.Job.ID,
			Kind:      ev.Job.Kind,
			Queue:     ev.Job.Queue,
			Priority:  ev.Job.Priority,
			Source:    ev.Source,
			Params:    params,
			Status:    ev.Job.Status.String(),
			CreatedAt: ev.Time,
		},
	})
}

// JobCompleted queues the terminal update
func (r *Recorder) JobCompleted(ev scheduler.Event) {
	var result []byte
	if ev.Result != nil {
		b, err := json.Marshal(ev.Result)
		if err != nil {
			r.logger.Warn("Failed to marshal job result",
				slog.String("job_id", ev.Job.ID),
				slog.Any("error", err),
			)
		} else {
			result = b
		}
	}

	r.enqueue(write{
		kind: writeComplete,
		completion: JobCompletion{
			JobID:        ev.Job.ID,
			Status:       ev.Job.Status.String(),
			Runs:         ev.Job.Runs,
			Result:       result,
			ErrorMessage: scheduler.ErrorText(ev.Job.Err),
			StartedAt:    ev.Job.StartedAt,
			CompletedAt:  ev.Job.CompletedAt,
		},
	})
}

// Dropped returns how many writes were discarded because the buffer was full
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

// Close flushes pending writes and stops the writer
func (r *Recorder) Close() error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.ch)
	}
	r.mu.Unlock()

	r.wg.Wait()
	return nil
}

func (r *Recorder) enqueue(w write) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return
	}
	select {
	case r.ch <- w:
	default:
		if n := r.dropped.Add(1); n == 1 || n%1000 == 0 {
			r.logger.Warn("Job store is falling behind, dropping writes",
				slog.Uint64("dropped", n),
			)
		}
	}
}

func (r *Recorder) loop() {
	for w := range r.ch {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		var err error
		switch w.kind {
		case writeInsert:
			err = r.store.InsertJob(ctx, &w.record)
		case writeComplete:
			err = r.store.CompleteJob(ctx, w.completion)
		}
		cancel()

		if err != nil {
			jobID := w.record.JobID
			if w.kind == writeComplete {
				jobID = w.completion.JobID
			}
			level := slog.LevelError
			if errors.Is(err, ErrJobNotFound) {
				level = slog.LevelWarn
			}
			r.logger.Log(context.Background(), level, "Failed to record job",
				slog.String("job_id", jobID),
				slog.Any("error", err),
			)
		}
	}
}
