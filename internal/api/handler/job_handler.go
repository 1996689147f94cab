package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cuongbtq/tickqueue/internal/api/dto"
	"github.com/cuongbtq/tickqueue/internal/jobqueue"
	"github.com/cuongbtq/tickqueue/internal/jobs"
	"github.com/cuongbtq/tickqueue/internal/scheduler"
	"github.com/cuongbtq/tickqueue/internal/storage"
)

// SourceHTTP marks jobs submitted through the API
const SourceHTTP = "http"

// CreateJob handles POST /api/v1/jobs
// Submits a job to the scheduler; it starts on the next tick
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	if req.JobID != "" {
		if _, err := uuid.Parse(req.JobID); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "job_id must be a valid UUID",
			})
			return
		}
	}

	job, err := h.scheduler.Submit(c.Request.Context(), scheduler.Submission{
		ID:       req.JobID,
		Kind:     req.Kind,
		Queue:    req.Queue,
		Priority: req.Priority,
		MaxSlice: time.Duration(req.MaxSliceMs) * time.Millisecond,
		Params:   req.Params,
		Source:   SourceHTTP,
	})
	if err != nil {
		status, msg := submitErrorStatus(err)
		h.logger.Warn("Failed to submit job",
			slog.String("kind", req.Kind),
			slog.Int("status", status),
			slog.String("error", err.Error()),
		)
		c.JSON(status, gin.H{
			"error":  msg,
			"detail": err.Error(),
		})
		return
	}

	h.logger.Info("Job accepted",
		slog.String("job_id", job.ID()),
		slog.String("kind", job.Kind()),
	)

	resp := liveJobDTO(job)
	resp.Params = req.Params
	resp.Source = SourceHTTP
	c.JSON(http.StatusAccepted, resp)
}

func submitErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, jobs.ErrUnknownKind):
		return http.StatusBadRequest, "Unknown job kind"
	case errors.Is(err, jobs.ErrInvalidParams):
		return http.StatusBadRequest, "Invalid job parameters"
	case errors.Is(err, scheduler.ErrUnknownQueue):
		return http.StatusBadRequest, "Unknown queue"
	case errors.Is(err, scheduler.ErrDuplicateJob):
		return http.StatusConflict, "Job already exists"
	case errors.Is(err, scheduler.ErrInboxFull):
		return http.StatusServiceUnavailable, "Scheduler is busy"
	case errors.Is(err, scheduler.ErrStopped):
		return http.StatusServiceUnavailable, "Scheduler is stopped"
	default:
		return http.StatusInternalServerError, "Failed to submit job"
	}
}

// GetJob handles GET /api/v1/jobs/:job_id
// Live jobs are served from the scheduler, retired ones from the job store
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID, ok := h.jobIDParam(c)
	if !ok {
		return
	}

	if job, found := h.scheduler.Lookup(jobID); found {
		c.JSON(http.StatusOK, liveJobDTO(job))
		return
	}

	if h.store == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Job not found",
		})
		return
	}

	record, err := h.store.GetJobByID(c.Request.Context(), jobID)
	if errors.Is(err, storage.ErrJobNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Job not found",
		})
		return
	}
	if err != nil {
		h.logger.Error("Failed to get job", slog.String("job_id", jobID), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job",
		})
		return
	}

	c.JSON(http.StatusOK, recordDTO(record))
}

// ListJobs handles GET /api/v1/jobs
// Lists stored jobs newest first with keyset pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Job history is not available",
		})
		return
	}

	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	cursor, err := storage.DecodeJobCursor(req.Cursor)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	records, next, err := h.store.ListJobs(c.Request.Context(), storage.JobFilter{
		Kind:     req.Kind,
		Queue:    req.Queue,
		Status:   req.Status,
		PageSize: req.PageSize,
		Cursor:   cursor,
	})
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list jobs",
		})
		return
	}

	resp := dto.ListJobsResponse{Jobs: make([]dto.JobDTO, len(records))}
	for i := range records {
		resp.Jobs[i] = recordDTO(&records[i])
	}
	if next != nil {
		resp.NextCursor = storage.EncodeJobCursor(next)
	}

	c.JSON(http.StatusOK, resp)
}

// CancelJob handles POST /api/v1/jobs/:job_id/cancel
// The owning queue drops the job on its next pass, so the response may still show it RUNNING
func (h *JobHandler) CancelJob(c *gin.Context) {
	jobID, ok := h.jobIDParam(c)
	if !ok {
		return
	}

	job, err := h.scheduler.Cancel(jobID)
	switch {
	case errors.Is(err, scheduler.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Job not found",
		})
		return
	case errors.Is(err, scheduler.ErrJobCompleted):
		c.JSON(http.StatusConflict, gin.H{
			"error":  "Job already completed",
			"status": string(job.Status()),
		})
		return
	case err != nil:
		h.logger.Error("Failed to cancel job", slog.String("job_id", jobID), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to cancel job",
		})
		return
	}

	h.logger.Info("Job cancellation requested", slog.String("job_id", jobID))
	c.JSON(http.StatusAccepted, liveJobDTO(job))
}

// ListKinds handles GET /api/v1/kinds
func (h *JobHandler) ListKinds(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"kinds": h.kinds,
	})
}

// ListQueues handles GET /api/v1/queues
func (h *JobHandler) ListQueues(c *gin.Context) {
	stats := h.scheduler.Stats()

	resp := dto.QueuesResponse{
		Ticks:   stats.Ticks,
		Inbox:   stats.Inbox,
		Tracked: stats.Tracked,
		Queues:  make([]dto.QueueDTO, len(stats.Queues)),
	}
	for i, q := range stats.Queues {
		resp.Queues[i] = dto.QueueDTO{
			Name:      q.Name,
			MaxTimeUs: q.MaxTime.Microseconds(),
			Length:    q.Length,
			Enqueued:  q.Enqueued,
			Runs:      q.Runs,
			Finished:  q.Finished,
			Failed:    q.Failed,
			Canceled:  q.Canceled,
			Processed: q.Processed,
			Overruns:  q.Overruns,
		}
	}

	c.JSON(http.StatusOK, resp)
}

func (h *JobHandler) jobIDParam(c *gin.Context) (string, bool) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		h.logger.Error("Invalid job_id format", slog.String("job_id", jobID), slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return "", false
	}
	return jobID, true
}

func liveJobDTO(job *jobqueue.Job) dto.JobDTO {
	info := job.Info()
	out := dto.JobDTO{
		JobID:       info.ID,
		Kind:        info.Kind,
		Queue:       info.Queue,
		Priority:    info.Priority,
		Status:      string(info.Status),
		Runs:        info.Runs,
		Live:        true,
		Error:       scheduler.ErrorText(info.Err),
		CreatedAt:   formatTime(info.EnqueuedAt),
		StartedAt:   formatTime(info.StartedAt),
		CompletedAt: formatTime(info.CompletedAt),
	}
	if info.Status == jobqueue.StatusFinished {
		if r, ok := job.Runner().(jobs.Resulter); ok {
			out.Result = r.Result()
		}
	}
	return out
}

func recordDTO(r *storage.JobRecord) dto.JobDTO {
	out := dto.JobDTO{
		JobID:     r.JobID,
		Kind:      r.Kind,
		Queue:     r.Queue,
		Priority:  r.Priority,
		Status:    r.Status,
		Runs:      r.Runs,
		Source:    r.Source,
		CreatedAt: formatTime(r.CreatedAt),
	}
	if r.Params != "" {
		out.Params = json.RawMessage(r.Params)
	}
	if r.Result.Valid && r.Result.String != "" {
		out.Result = json.RawMessage(r.Result.String)
	}
	if r.ErrorMessage.Valid {
		out.Error = r.ErrorMessage.String
	}
	if r.StartedAt.Valid {
		out.StartedAt = formatTime(r.StartedAt.Time)
	}
	if r.CompletedAt.Valid {
		out.CompletedAt = formatTime(r.CompletedAt.Time)
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
