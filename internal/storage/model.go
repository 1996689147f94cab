package storage

import (
	"database/sql"
	"time"
)

// JobRecord is one row of scheduler_jobs
type JobRecord struct {
	JobID        string         `db:"job_id"`
	Kind         string         `db:"kind"`
	Queue        string         `db:"queue_name"`
	Priority     int            `db:"priority"`
	Source       string         `db:"source"`
	Params       string         `db:"params"`
	Status       string         `db:"status"`
	Runs         int            `db:"runs"`
	Result       sql.NullString `db:"result"`
	ErrorMessage sql.NullString `db:"error_message"`
	CreatedAt    time.Time      `db:"created_at"`
	StartedAt    sql.NullTime   `db:"started_at"`
	CompletedAt  sql.NullTime   `db:"completed_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

// JobCompletion carries the terminal state of a job
type JobCompletion struct {
	JobID        string
	Status       string
	Runs         int
	Result       []byte
	ErrorMessage string
	StartedAt    time.Time
	CompletedAt  time.Time
}

// JobFilter narrows ListJobs
type JobFilter struct {
	Kind     string
	Queue    string
	Status   string
	PageSize int
	Cursor   *JobCursor
}

// JobCursor is the keyset position of the last row of a page
type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}

// dbTime normalises timestamps so both drivers store and compare them the same way
func dbTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: dbTime(t), Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
