package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/tickqueue/internal/jobqueue"
	"github.com/cuongbtq/tickqueue/internal/scheduler"
	"github.com/cuongbtq/tickqueue/internal/storage"
)

// Scheduler is the live side of the API
type Scheduler interface {
	Submit(ctx context.Context, sub scheduler.Submission) (*jobqueue.Job, error)
	Lookup(id string) (*jobqueue.Job, bool)
	Cancel(id string) (*jobqueue.Job, error)
	Stats() scheduler.Stats
	IsStopped() bool
}

// JobStore is the history side of the API
type JobStore interface {
	GetJobByID(ctx context.Context, jobID string) (*storage.JobRecord, error)
	ListJobs(ctx context.Context, filter storage.JobFilter) ([]storage.JobRecord, *storage.JobCursor, error)
}

// HealthChecker reports backing service health
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// BrokerStatus reports whether the message broker connection is up
type BrokerStatus interface {
	IsConnected() bool
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger    *slog.Logger
	Scheduler Scheduler
	Store     JobStore      // optional
	DBClient  HealthChecker // optional
	Broker    BrokerStatus  // optional
	Events    http.Handler  // optional websocket endpoint
	Kinds     []string
	RateLimit float64
	RateBurst int
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger    *slog.Logger
	scheduler Scheduler
	store     JobStore
	kinds     []string
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:    deps.Logger,
		scheduler: deps.Scheduler,
		store:     deps.Store,
		kinds:     deps.Kinds,
	}
}
