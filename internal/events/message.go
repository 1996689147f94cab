package events

import (
	"time"

	"github.com/cuongbtq/tickqueue/internal/scheduler"
)

// JobEvent is the wire form of a scheduler lifecycle event
type JobEvent struct {
	Type        string     `json:"type"`
	JobID       string     `json:"job_id"`
	Kind        string     `json:"kind"`
	Queue       string     `json:"queue"`
	Priority    int        `json:"priority"`
	Status      string     `json:"status"`
	Runs        int        `json:"runs"`
	Source      string     `json:"source,omitempty"`
	Error       string     `json:"error,omitempty"`
	Result      any        `json:"result,omitempty"`
	EnqueuedAt  *time.Time `json:"enqueued_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Time        time.Time  `json:"time"`
}

// NewJobEvent converts a scheduler event to its wire form
func NewJobEvent(ev scheduler.Event) JobEvent {
	return JobEvent{
		Type:        ev.Type,
		JobID:       ev.Job.ID,
		Kind:        ev.Job.Kind,
		Queue:       ev.Job.Queue,
		Priority:    ev.Job.Priority,
		Status:      ev.Job.Status.String(),
		Runs:        ev.Job.Runs,
		Source:      ev.Source,
		Error:       scheduler.ErrorText(ev.Job.Err),
		Result:      ev.Result,
		EnqueuedAt:  timePtr(ev.Job.EnqueuedAt),
		StartedAt:   timePtr(ev.Job.StartedAt),
		CompletedAt: timePtr(ev.Job.CompletedAt),
		Time:        ev.Time.UTC(),
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
