package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/cuongbtq/tickqueue/internal/config"
	"github.com/cuongbtq/tickqueue/internal/intake"
	"github.com/cuongbtq/tickqueue/internal/tracelog"
	"github.com/cuongbtq/tickqueue/shared/logger"
	"github.com/cuongbtq/tickqueue/shared/rabbitmq"
)

const usage = `usage:
  jobctl submit -kind <kind> [-params <json>] [-queue <name>] [-priority <n>] [-max-slice-ms <n>] [-count <n>]
  jobctl trace <file.jsonl.zst>`

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		log.Fatal(err)
	}
}

func run(args []string, out io.Writer) error {
	if len(args) == 0 {
		return errors.New(usage)
	}

	switch args[0] {
	case "submit":
		return submit(args[1:], out)
	case "trace":
		return trace(args[1:], out)
	default:
		return fmt.Errorf("unknown command %q\n%s", args[0], usage)
	}
}

type submitOptions struct {
	kind       string
	params     string
	queue      string
	priority   int
	maxSliceMs int
	count      int
}

func submit(args []string, out io.Writer) error {
	_ = godotenv.Load()

	defaultConfigPath := os.Getenv("SCHEDULER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/scheduler-service/config.yaml"
	}

	fs := flag.NewFlagSet("submit", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to configuration file")
	var opts submitOptions
	fs.StringVar(&opts.kind, "kind", "", "Job kind")
	fs.StringVar(&opts.params, "params", "{}", "Job parameters as JSON")
	fs.StringVar(&opts.queue, "queue", "", "Queue override")
	fs.IntVar(&opts.priority, "priority", 0, "Job priority, higher runs first")
	fs.IntVar(&opts.maxSliceMs, "max-slice-ms", 0, "Per-run budget cap in milliseconds")
	fs.IntVar(&opts.count, "count", 1, "Number of jobs to submit")
	if err := fs.Parse(args); err != nil {
		return err
	}

	messages, err := buildMessages(opts)
	if err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if !cfg.RabbitMQ.Enabled {
		return errors.New("rabbitmq is disabled in config")
	}

	appLogger, err := logger.New(&logger.Config{Level: "warn", Format: "console", Output: "stderr"})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	client, err := rabbitmq.NewClient(&rabbitmq.Config{
		Host:               cfg.RabbitMQ.Host,
		Port:               cfg.RabbitMQ.Port,
		User:               cfg.RabbitMQ.User,
		Password:           cfg.RabbitMQ.Password,
		VHost:              cfg.RabbitMQ.VHost,
		ExchangeName:       cfg.RabbitMQ.Exchange.Name,
		ExchangeType:       cfg.RabbitMQ.Exchange.Type,
		ExchangeDurable:    cfg.RabbitMQ.Exchange.Durable,
		ExchangeAutoDelete: cfg.RabbitMQ.Exchange.AutoDelete,
		QueueName:          cfg.RabbitMQ.Queue.Name,
		QueueDurable:       cfg.RabbitMQ.Queue.Durable,
		QueueAutoDelete:    cfg.RabbitMQ.Queue.AutoDelete,
		QueueExclusive:     cfg.RabbitMQ.Queue.Exclusive,
		RoutingKey:         cfg.RabbitMQ.RoutingKey,
		RetryAttempts:      cfg.RabbitMQ.Connection.RetryAttempts,
		RetryInterval:      cfg.RabbitMQ.Connection.RetryInterval,
		Heartbeat:          cfg.RabbitMQ.Connection.Heartbeat,
		ConnectionTimeout:  cfg.RabbitMQ.Connection.ConnectionTimeout,
		PublishRetries:     cfg.RabbitMQ.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.RabbitMQ.Publish.RetryInterval,
		PublishBackoffMult: cfg.RabbitMQ.Publish.BackoffMultiplier,
	}, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, msg := range messages {
		body, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to marshal submission: %w", err)
		}
		if err := client.PublishWithRetry(ctx, cfg.RabbitMQ.RoutingKey, body, "application/json"); err != nil {
			return fmt.Errorf("failed to publish job %s: %w", msg.JobID, err)
		}
		fmt.Fprintln(out, msg.JobID)
	}

	return nil
}

// buildMessages validates flags and stamps each submission with a fresh job ID
func buildMessages(opts submitOptions) ([]intake.SubmissionMessage, error) {
	if opts.kind == "" {
		return nil, errors.New("-kind is required")
	}
	if opts.count <= 0 {
		return nil, errors.New("-count must be positive")
	}
	if opts.maxSliceMs < 0 {
		return nil, errors.New("-max-slice-ms must not be negative")
	}
	if !json.Valid([]byte(opts.params)) {
		return nil, errors.New("-params must be valid JSON")
	}

	messages := make([]intake.SubmissionMessage, opts.count)
	for i := range messages {
		messages[i] = intake.SubmissionMessage{
			JobID:      uuid.NewString(),
			Kind:       opts.kind,
			Queue:      opts.queue,
			Priority:   opts.priority,
			MaxSliceMs: opts.maxSliceMs,
			Params:     json.RawMessage(opts.params),
		}
	}
	return messages, nil
}

func trace(args []string, out io.Writer) error {
	if len(args) != 1 {
		return errors.New(usage)
	}

	entries, err := tracelog.ReadFile(args[0])
	if err != nil {
		return err
	}

	printTrace(out, entries)
	return nil
}

func printTrace(out io.Writer, entries []tracelog.Entry) {
	for _, e := range entries {
		fmt.Fprintf(out, "tick %d  %s  %dus  accepted=%d tracked=%d\n",
			e.Tick, e.Start.UTC().Format(time.RFC3339Nano), e.DurationUs, e.Accepted, e.Tracked)
		for _, q := range e.Queues {
			fmt.Fprintf(out, "  %-16s runs=%d finished=%d failed=%d canceled=%d remaining=%d elapsed=%dus",
				q.Queue, q.Runs, q.Finished, q.Failed, q.Canceled, q.Remaining, q.ElapsedUs)
			if q.OverrunUs > 0 {
				fmt.Fprintf(out, " overrun=%dus", q.OverrunUs)
			}
			fmt.Fprintln(out)
		}
	}
	fmt.Fprintf(out, "%d ticks\n", len(entries))
}
