package tracelog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/cuongbtq/tickqueue/internal/scheduler"
)

// QueueEntry is the per-queue part of a trace line
type QueueEntry struct {
	Queue     string `json:"queue"`
	Runs      int    `json:"runs"`
	Finished  int    `json:"finished,omitempty"`
	Failed    int    `json:"failed,omitempty"`
	Canceled  int    `json:"canceled,omitempty"`
	Remaining int    `json:"remaining"`
	ElapsedUs int64  `json:"elapsed_us"`
	OverrunUs int64  `json:"overrun_us,omitempty"`
}

// Entry is one trace line
type Entry struct {
	Tick       uint64       `json:"tick"`
	Start      time.Time    `json:"start"`
	DurationUs int64        `json:"duration_us"`
	Accepted   int          `json:"accepted,omitempty"`
	Rejected   int          `json:"rejected,omitempty"`
	Tracked    int          `json:"tracked"`
	Queues     []QueueEntry `json:"queues"`
}

// NewEntry flattens a tick report
func NewEntry(r scheduler.TickReport) Entry {
	e := Entry{
		Tick:       r.Tick,
		Start:      r.Start.UTC(),
		DurationUs: r.Duration.Microseconds(),
		Accepted:   r.Accepted,
		Rejected:   r.Rejected,
		Tracked:    r.Tracked,
		Queues:     make([]QueueEntry, len(r.Queues)),
	}
	for i, q := range r.Queues {
		e.Queues[i] = QueueEntry{
			Queue:     q.Queue,
			Runs:      q.Runs,
			Finished:  q.Finished,
			Failed:    q.Failed,
			Canceled:  q.Canceled,
			Remaining: q.Remaining,
			ElapsedUs: q.Elapsed.Microseconds(),
			OverrunUs: q.Overrun.Microseconds(),
		}
	}
	return e
}

// idle reports whether nothing happened during the tick
func (e Entry) idle() bool {
	if e.Accepted > 0 || e.Rejected > 0 {
		return false
	}
	for _, q := range e.Queues {
		if q.Runs > 0 || q.Canceled > 0 {
			return false
		}
	}
	return true
}

// Tracer is a scheduler tick observer that writes non-idle ticks to a Writer on its own goroutine
type Tracer struct {
	w      *Writer
	logger *slog.Logger

	mu      sync.RWMutex
	ch      chan Entry
	closed  bool
	wg      sync.WaitGroup
	dropped atomic.Uint64
}

// NewTracer starts the writer goroutine
func NewTracer(w *Writer, buffer int, logger *slog.Logger) *Tracer {
	if buffer <= 0 {
		buffer = 1
	}

	t := &Tracer{
		w:      w,
		logger: logger,
		ch:     make(chan Entry, buffer),
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		for e := range t.ch {
			if err := t.w.Write(e); err != nil {
				t.logger.Error("Failed to write tick trace",
					slog.Uint64("tick", e.Tick),
					slog.Any("error", err),
				)
			}
		}
	}()

	return t
}

// ObserveTick queues the report unless the tick was idle
func (t *Tracer) ObserveTick(r scheduler.TickReport) {
	e := NewEntry(r)
	if e.idle() {
		return
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.closed {
		return
	}
	select {
	case t.ch <- e:
	default:
		t.dropped.Add(1)
	}
}

// Dropped returns how many entries were discarded
func (t *Tracer) Dropped() uint64 {
	return t.dropped.Load()
}

// Close drains the buffer and closes the file
func (t *Tracer) Close() error {
	t.mu.Lock()
	if !t.closed {
		t.closed = true
		close(t.ch)
	}
	t.mu.Unlock()

	t.wg.Wait()
	return t.w.Close()
}

// ReadFile decodes every entry of a trace file
func ReadFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}
	defer f.Close()

	return Read(f)
}

// Read decodes entries from a zstd compressed JSONL stream
func Read(r io.Reader) ([]Entry, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	defer dec.Close()

	var entries []Entry
	scanner := bufio.NewScanner(dec)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return entries, fmt.Errorf("failed to decode trace line %d: %w", len(entries)+1, err)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return entries, fmt.Errorf("failed to read trace: %w", err)
	}

	return entries, nil
}
