package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/PortNumber53/beat-storefront/backend/internal/models"
)

// ErrJobNotFound is returned when a job id does not exist.
var ErrJobNotFound = errors.New("job not found")

const jobColumns = `id, job_type, payload, status, priority, attempts, max_attempts,
	last_error, retry_after, worker_id, created_at, updated_at, completed_at`

// JobStore persists the background job queue.
type JobStore struct {
	db *sql.DB
}

// NewJobStore creates a JobStore.
func NewJobStore(db *sql.DB) (*JobStore, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	return &JobStore{db: db}, nil
}

// Enqueue inserts a pending job and fills its id and timestamps.
func (s *JobStore) Enqueue(ctx context.Context, job *models.Job) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("store: invalid job: %w", err)
	}

	const query = `
		INSERT INTO jobs (job_type, payload, status, priority, max_attempts)
		VALUES ($1, $2, 'pending', $3, $4)
		RETURNING id, status, created_at, updated_at
	`

	err := s.db.QueryRowContext(ctx, query, job.JobType, job.Payload, job.Priority, job.MaxAttempts).
		Scan(&job.ID, &job.Status, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: enqueue job: %w", err)
	}
	return nil
}

// GetByID loads one job.
func (s *JobStore) GetByID(ctx context.Context, id int64) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

	job, err := scanJob(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get job %d: %w", id, err)
	}
	return job, nil
}

// ClaimNextJob moves the highest priority due job to processing. It returns
// nil, nil when the queue is empty.
func (s *JobStore) ClaimNextJob(ctx context.Context, workerID string) (*models.Job, error) {
	query := `
		UPDATE jobs
		SET status = 'processing',
		    worker_id = $1,
		    attempts = attempts + 1,
		    updated_at = NOW()
		WHERE id = (
			SELECT id FROM jobs
			WHERE status = 'pending'
			  AND (retry_after IS NULL OR retry_after <= NOW())
			ORDER BY
				CASE priority WHEN 'high' THEN 3 WHEN 'normal' THEN 2 ELSE 1 END DESC,
				created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns

	job, err := scanJob(s.db.QueryRowContext(ctx, query, workerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: claim next job: %w", err)
	}
	return job, nil
}

// MarkCompleted finishes a job.
func (s *JobStore) MarkCompleted(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'completed', completed_at = NOW(), updated_at = NOW(), worker_id = NULL
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("store: mark job %d completed: %w", id, err)
	}
	return nil
}

// MarkFailed gives up on a job.
func (s *JobStore) MarkFailed(ctx context.Context, id int64, errorMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'failed', last_error = $2, updated_at = NOW(), worker_id = NULL
		WHERE id = $1
	`, id, errorMsg)
	if err != nil {
		return fmt.Errorf("store: mark job %d failed: %w", id, err)
	}
	return nil
}

// ScheduleRetry returns a job to pending, claimable after retryAfter.
func (s *JobStore) ScheduleRetry(ctx context.Context, id int64, errorMsg string, retryAfter time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'pending', last_error = $2, retry_after = $3, updated_at = NOW(), worker_id = NULL
		WHERE id = $1
	`, id, errorMsg, retryAfter)
	if err != nil {
		return fmt.Errorf("store: schedule retry for job %d: %w", id, err)
	}
	return nil
}

// ReleaseJob puts a processing job back to pending, used on shutdown.
func (s *JobStore) ReleaseJob(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'pending', worker_id = NULL, attempts = GREATEST(attempts - 1, 0), updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`, id)
	if err != nil {
		return fmt.Errorf("store: release job %d: %w", id, err)
	}
	return nil
}

// GetStats counts jobs per status.
func (s *JobStore) GetStats(ctx context.Context) (*models.JobStats, error) {
	stats := &models.JobStats{}
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'processing'),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			COUNT(*)
		FROM jobs
	`).Scan(&stats.Pending, &stats.Processing, &stats.Completed, &stats.Failed, &stats.Total)
	if err != nil {
		return nil, fmt.Errorf("store: job stats: %w", err)
	}
	return stats, nil
}

func scanJob(row rowScanner) (*models.Job, error) {
	job := &models.Job{}
	var (
		lastError   sql.NullString
		workerID    sql.NullString
		retryAfter  sql.NullTime
		completedAt sql.NullTime
	)
	err := row.Scan(
		&job.ID,
		&job.JobType,
		&job.Payload,
		&job.Status,
		&job.Priority,
		&job.Attempts,
		&job.MaxAttempts,
		&lastError,
		&retryAfter,
		&workerID,
		&job.CreatedAt,
		&job.UpdatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}
	job.LastError = nullString(lastError)
	job.WorkerID = nullString(workerID)
	job.RetryAfter = nullTime(retryAfter)
	job.CompletedAt = nullTime(completedAt)
	return job, nil
}
