package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/tickqueue/internal/config"
	"github.com/cuongbtq/tickqueue/internal/jobqueue"
)

func TestInitLogger_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scheduler.log")

	appLogger, err := initLogger(&config.LoggingConfig{
		Level:  "warn",
		Format: "json",
		Output: path,
	})
	require.NoError(t, err)

	appLogger.Info("Scheduler service is running")
	appLogger.Warn("Scheduler shutdown timeout exceeded")
	require.NoError(t, appLogger.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "Scheduler service is running")
	assert.Contains(t, string(data), "Scheduler shutdown timeout exceeded")
}

func TestSchedulerConfig(t *testing.T) {
	cfg := schedulerConfig(&config.SchedulerConfig{
		TickInterval: 50 * time.Millisecond,
		InboxSize:    64,
		Retention:    time.Minute,
		Queues: []config.JobQueueConfig{
			{Name: "pathfinding", MaxTime: 3 * time.Millisecond, Priority: true, Yield: config.YieldRetry},
			{Name: "background", MaxTime: 2 * time.Millisecond, Yield: config.YieldRotate, MaxLength: 10},
		},
	})

	assert.Equal(t, 50*time.Millisecond, cfg.TickInterval)
	assert.Equal(t, 64, cfg.InboxSize)
	assert.Equal(t, time.Minute, cfg.Retention)
	require.Len(t, cfg.Queues, 2)

	assert.Equal(t, "pathfinding", cfg.Queues[0].Name)
	assert.True(t, cfg.Queues[0].Priority)
	assert.Equal(t, jobqueue.YieldRetry, cfg.Queues[0].Yield)

	assert.Equal(t, "background", cfg.Queues[1].Name)
	assert.Equal(t, jobqueue.YieldRotate, cfg.Queues[1].Yield)
	assert.Equal(t, 10, cfg.Queues[1].MaxLength)
}

func TestRabbitConfig(t *testing.T) {
	rc := rabbitConfig(&config.RabbitMQConfig{
		Host:       "mq",
		Port:       5672,
		Exchange:   config.ExchangeConfig{Name: "jobs_exchange", Type: "topic"},
		Queue:      config.QueueConfig{Name: "scheduler_submissions", Durable: true},
		RoutingKey: "jobs.submit",
		Publish:    config.PublishConfig{RetryAttempts: 3, BackoffMultiplier: 2},
		Consumer:   config.ConsumerConfig{PrefetchCount: 32},
	})

	assert.Equal(t, "jobs_exchange", rc.ExchangeName)
	assert.Equal(t, "scheduler_submissions", rc.QueueName)
	assert.True(t, rc.QueueDurable)
	assert.Equal(t, 3, rc.PublishRetries)
	assert.Equal(t, 2.0, rc.PublishBackoffMult)
	assert.Equal(t, 32, rc.PrefetchCount)
}
