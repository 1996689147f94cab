package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS scheduler_jobs (
		job_id        TEXT PRIMARY KEY,
		kind          TEXT NOT NULL,
		queue_name    TEXT NOT NULL,
		priority      INTEGER NOT NULL DEFAULT 0,
		source        TEXT NOT NULL DEFAULT '',
		params        TEXT NOT NULL DEFAULT '{}',
		status        TEXT NOT NULL,
		runs          INTEGER NOT NULL DEFAULT 0,
		result        TEXT,
		error_message TEXT,
		created_at    TIMESTAMPTZ NOT NULL,
		started_at    TIMESTAMPTZ,
		completed_at  TIMESTAMPTZ,
		updated_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_scheduler_jobs_created ON scheduler_jobs (created_at DESC, job_id DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_scheduler_jobs_status ON scheduler_jobs (status)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS scheduler_jobs (
		job_id        TEXT PRIMARY KEY,
		kind          TEXT NOT NULL,
		queue_name    TEXT NOT NULL,
		priority      INTEGER NOT NULL DEFAULT 0,
		source        TEXT NOT NULL DEFAULT '',
		params        TEXT NOT NULL DEFAULT '{}',
		status        TEXT NOT NULL,
		runs          INTEGER NOT NULL DEFAULT 0,
		result        TEXT,
		error_message TEXT,
		created_at    TIMESTAMP NOT NULL,
		started_at    TIMESTAMP,
		completed_at  TIMESTAMP,
		updated_at    TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_scheduler_jobs_created ON scheduler_jobs (created_at, job_id)`,
	`CREATE INDEX IF NOT EXISTS idx_scheduler_jobs_status ON scheduler_jobs (status)`,
}

// Store persists job history. Queries are written with ? placeholders and rebound per driver.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new Store
func NewStore(db *sqlx.DB, logger *slog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger,
	}
}

// Migrate creates the scheduler_jobs table and its indexes
func (s *Store) Migrate(ctx context.Context) error {
	schema := postgresSchema
	if s.db.DriverName() == "sqlite" {
		schema = sqliteSchema
	}

	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate job store: %w", err)
		}
	}

	s.logger.Info("Job store migrated", slog.String("driver", s.db.DriverName()))
	return nil
}

// InsertJob records a newly submitted job. Re-inserting an existing ID is a no-op.
func (s *Store) InsertJob(ctx context.Context, job *JobRecord) error {
	query := s.db.Rebind(`
		INSERT INTO scheduler_jobs (
			job_id, kind, queue_name, priority, source,
			params, status, runs, created_at, updated_at
		) VALUES (
			?, ?, ?, ?, ?,
			?, ?, ?, ?, ?
		)
		ON CONFLICT (job_id) DO NOTHING
	`)

	createdAt := dbTime(job.CreatedAt)
	_, err := s.db.ExecContext(
		ctx,
		query,
		job.JobID,
		job.Kind,
		job.Queue,
		job.Priority,
		job.Source,
		job.Params,
		job.Status,
		job.Runs,
		createdAt,
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}

	return nil
}

// CompleteJob writes the terminal state of a job
func (s *Store) CompleteJob(ctx context.Context, c JobCompletion) error {
	query := s.db.Rebind(`
		UPDATE scheduler_jobs
		SET status = ?,
			runs = ?,
			result = ?,
			error_message = ?,
			started_at = ?,
			completed_at = ?,
			updated_at = ?
		WHERE job_id = ?
	`)

	var result sql.NullString
	if len(c.Result) > 0 {
		result = sql.NullString{String: string(c.Result), Valid: true}
	}

	res, err := s.db.ExecContext(
		ctx,
		query,
		c.Status,
		c.Runs,
		result,
		nullString(c.ErrorMessage),
		nullTime(c.StartedAt),
		nullTime(c.CompletedAt),
		dbTime(time.Now()),
		c.JobID,
	)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrJobNotFound
	}

	return nil
}

// GetJobByID retrieves a job by its ID
func (s *Store) GetJobByID(ctx context.Context, jobID string) (*JobRecord, error) {
	query := s.db.Rebind(`
		SELECT
			job_id, kind, queue_name, priority, source, params, status, runs,
			result, error_message, created_at, started_at, completed_at, updated_at
		FROM scheduler_jobs
		WHERE job_id = ?
	`)

	var job JobRecord
	if err := s.db.GetContext(ctx, &job, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

// ListJobs returns up to PageSize jobs, newest first, plus the cursor of the next page if any
func (s *Store) ListJobs(ctx context.Context, filter JobFilter) ([]JobRecord, *JobCursor, error) {
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	query := `
		SELECT
			job_id, kind, queue_name, priority, source, params, status, runs,
			result, error_message, created_at, started_at, completed_at, updated_at
		FROM scheduler_jobs
		WHERE 1=1
	`
	args := []interface{}{}

	if filter.Kind != "" {
		query += " AND kind = ?"
		args = append(args, filter.Kind)
	}

	if filter.Queue != "" {
		query += " AND queue_name = ?"
		args = append(args, filter.Queue)
	}

	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}

	if filter.Cursor != nil {
		query += " AND (created_at < ? OR (created_at = ? AND job_id < ?))"
		createdAt := dbTime(filter.Cursor.CreatedAt)
		args = append(args, createdAt, createdAt, filter.Cursor.JobID)
	}

	query += " ORDER BY created_at DESC, job_id DESC"

	// one extra row tells us whether another page exists
	query += " LIMIT ?"
	args = append(args, pageSize+1)

	var jobs []JobRecord
	if err := s.db.SelectContext(ctx, &jobs, s.db.Rebind(query), args...); err != nil {
		return nil, nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	if len(jobs) <= pageSize {
		return jobs, nil, nil
	}

	jobs = jobs[:pageSize]
	last := jobs[len(jobs)-1]
	return jobs, &JobCursor{CreatedAt: last.CreatedAt, JobID: last.JobID}, nil
}

// CountByStatus returns how many stored jobs sit in each status
func (s *Store) CountByStatus(ctx context.Context) (map[string]int, error) {
	var rows []struct {
		Status string `db:"status"`
		Count  int    `db:"count"`
	}

	query := `SELECT status, COUNT(*) AS count FROM scheduler_jobs GROUP BY status`
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}

	counts := make(map[string]int, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}
