package dto

import "encoding/json"

type CreateJobRequest struct {
	JobID      string          `json:"job_id"`
	Kind       string          `json:"kind" binding:"required"`
	Queue      string          `json:"queue"`
	Priority   int             `json:"priority"`
	MaxSliceMs int             `json:"max_slice_ms" binding:"min=0"`
	Params     json.RawMessage `json:"params"`
}

type ListJobsRequest struct {
	Kind     string `form:"kind"`
	Queue    string `form:"queue"`
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	JobID       string          `json:"job_id"`
	Kind        string          `json:"kind"`
	Queue       string          `json:"queue"`
	Priority    int             `json:"priority"`
	Status      string          `json:"status"`
	Runs        int             `json:"runs"`
	Live        bool            `json:"live"`
	Source      string          `json:"source,omitempty"`
	Params      json.RawMessage `json:"params,omitempty"`
	Result      any             `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   string          `json:"created_at,omitempty"`
	StartedAt   string          `json:"started_at,omitempty"`
	CompletedAt string          `json:"completed_at,omitempty"`
}

type QueueDTO struct {
	Name      string `json:"name"`
	MaxTimeUs int64  `json:"max_time_us"`
	Length    int    `json:"length"`
	Enqueued  uint64 `json:"enqueued"`
	Runs      uint64 `json:"runs"`
	Finished  uint64 `json:"finished"`
	Failed    uint64 `json:"failed"`
	Canceled  uint64 `json:"canceled"`
	Processed uint64 `json:"processed"`
	Overruns  uint64 `json:"overruns"`
}

type QueuesResponse struct {
	Ticks   uint64     `json:"ticks"`
	Inbox   int        `json:"inbox"`
	Tracked int        `json:"tracked"`
	Queues  []QueueDTO `json:"queues"`
}
