package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuongbtq/tickqueue/internal/scheduler"
)

const publishTimeout = 10 * time.Second

// MessagePublisher publishes one message with retries
type MessagePublisher interface {
	PublishWithRetry(ctx context.Context, routingKey string, body []byte, contentType string) error
}

// Publisher is a scheduler sink that forwards job.completed events to RabbitMQ.
// Events are handed to a single publishing goroutine and dropped when its buffer is full.
type Publisher struct {
	client     MessagePublisher
	routingKey string
	logger     *slog.Logger

	mu      sync.RWMutex
	ch      chan JobEvent
	closed  bool
	wg      sync.WaitGroup
	dropped atomic.Uint64
}

// NewPublisher starts the publishing goroutine
func NewPublisher(client MessagePublisher, routingKey string, buffer int, logger *slog.Logger) *Publisher {
	if buffer <= 0 {
		buffer = 1
	}

	p := &Publisher{
		client:     client,
		routingKey: routingKey,
		logger:     logger,
		ch:         make(chan JobEvent, buffer),
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.loop()
	}()

	return p
}

// JobSubmitted is not published; consumers only care about outcomes
func (p *Publisher) JobSubmitted(scheduler.Event) {}

// JobCompleted queues the event for publishing
func (p *Publisher) JobCompleted(ev scheduler.Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return
	}
	select {
	case p.ch <- NewJobEvent(ev):
	default:
		if n := p.dropped.Add(1); n == 1 || n%1000 == 0 {
			p.logger.Warn("Event publisher is falling behind, dropping events",
				slog.Uint64("dropped", n),
			)
		}
	}
}

// Dropped returns how many events were discarded
func (p *Publisher) Dropped() uint64 {
	return p.dropped.Load()
}

// Close publishes what is buffered and stops the goroutine
func (p *Publisher) Close() error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.ch)
	}
	p.mu.Unlock()

	p.wg.Wait()
	return nil
}

func (p *Publisher) loop() {
	for ev := range p.ch {
		body, err := json.Marshal(ev)
		if err != nil {
			p.logger.Error("Failed to marshal job event",
				slog.String("job_id", ev.JobID),
				slog.Any("error", err),
			)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		err = p.client.PublishWithRetry(ctx, p.routingKey, body, "application/json")
		cancel()

		if err != nil {
			p.logger.Error("Failed to publish job event",
				slog.String("job_id", ev.JobID),
				slog.String("status", ev.Status),
				slog.Any("error", err),
			)
		}
	}
}
