package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cuongbtq/tickqueue/internal/jobqueue"
	"github.com/cuongbtq/tickqueue/internal/scheduler"
)

// Submitter accepts parsed submissions
type Submitter interface {
	Submit(ctx context.Context, sub scheduler.Submission) (*jobqueue.Job, error)
}

// DeliverySource starts a consumer on the submissions queue
type DeliverySource interface {
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
}

// Config holds consumer configuration
type Config struct {
	Logger      *slog.Logger
	Source      DeliverySource
	Submitter   Submitter
	ConsumerTag string
	Concurrency int
}

// Consumer turns RabbitMQ deliveries into scheduler submissions.
// A dispatcher goroutine reads deliveries and a small pool parses, validates and submits them.
type Consumer struct {
	logger      *slog.Logger
	source      DeliverySource
	submitter   Submitter
	consumerTag string
	concurrency int

	wg sync.WaitGroup
}

// NewConsumer creates a new consumer
func NewConsumer(cfg *Config) *Consumer {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	return &Consumer{
		logger:      cfg.Logger,
		source:      cfg.Source,
		submitter:   cfg.Submitter,
		consumerTag: cfg.ConsumerTag,
		concurrency: concurrency,
	}
}

// Start subscribes to the queue and processes deliveries until ctx is done
func (c *Consumer) Start(ctx context.Context) error {
	deliveries, err := c.source.Consume(c.consumerTag)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info("Submission consumer started",
		slog.String("consumer_tag", c.consumerTag),
		slog.Int("concurrency", c.concurrency),
	)

	c.Run(ctx, deliveries)
	return nil
}

// Run dispatches deliveries to the worker pool and returns once every worker has stopped
func (c *Consumer) Run(ctx context.Context, deliveries <-chan amqp.Delivery) {
	jobsChan := make(chan amqp.Delivery)

	for i := 0; i < c.concurrency; i++ {
		c.wg.Add(1)
		go c.workerLoop(ctx, i, jobsChan)
	}

	c.dispatch(ctx, deliveries, jobsChan)
	close(jobsChan)
	c.wg.Wait()

	c.logger.Info("Submission consumer stopped")
}

func (c *Consumer) dispatch(ctx context.Context, deliveries <-chan amqp.Delivery, jobsChan chan<- amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return

		case delivery, ok := <-deliveries:
			if !ok {
				c.logger.Warn("RabbitMQ delivery channel closed")
				return
			}

			select {
			case jobsChan <- delivery:
			case <-ctx.Done():
				// hand the message back so another consumer can take it
				if nackErr := delivery.Nack(false, true); nackErr != nil {
					c.logger.Error("Failed to NACK message on shutdown",
						slog.String("error", nackErr.Error()),
					)
				}
				return
			}
		}
	}
}

func (c *Consumer) workerLoop(ctx context.Context, workerNum int, jobsChan <-chan amqp.Delivery) {
	defer c.wg.Done()

	for delivery := range jobsChan {
		job, err := c.handle(ctx, delivery.Body)
		if err != nil {
			requeue := shouldRequeue(err)

			c.logger.Warn("Submission rejected",
				slog.Int("worker_num", workerNum),
				slog.Uint64("delivery_tag", delivery.DeliveryTag),
				slog.Bool("requeue", requeue),
				slog.String("error", err.Error()),
			)

			if nackErr := delivery.Nack(false, requeue); nackErr != nil {
				c.logger.Error("Failed to NACK message",
					slog.Uint64("delivery_tag", delivery.DeliveryTag),
					slog.String("error", nackErr.Error()),
				)
			}
			continue
		}

		if ackErr := delivery.Ack(false); ackErr != nil {
			c.logger.Error("Failed to ACK message",
				slog.String("job_id", job.ID()),
				slog.String("error", ackErr.Error()),
			)
			continue
		}

		c.logger.Debug("Submission accepted",
			slog.Int("worker_num", workerNum),
			slog.String("job_id", job.ID()),
			slog.String("kind", job.Kind()),
		)
	}
}

func (c *Consumer) handle(ctx context.Context, body []byte) (*jobqueue.Job, error) {
	sub, err := ParseSubmission(body)
	if err != nil {
		return nil, err
	}

	job, err := c.submitter.Submit(ctx, sub)
	if err != nil {
		// shutdown interrupts a submission without judging the message, so it goes back to the queue
		if errors.Is(err, scheduler.ErrInboxFull) || errors.Is(err, scheduler.ErrStopped) ||
			errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, NewRetryableError(err)
		}
		return nil, fmt.Errorf("failed to submit %s job: %w", sub.Kind, err)
	}

	return job, nil
}

// shouldRequeue determines if a delivery should be requeued based on the error type
func shouldRequeue(err error) bool {
	if errors.Is(err, ErrMalformedMessage) || errors.Is(err, ErrInvalidJobID) {
		return false
	}

	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return true
	}

	// unknown kinds, bad params and duplicate IDs will not improve on redelivery
	return false
}
