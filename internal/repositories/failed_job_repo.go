package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/petguard/internal/database"
	"github.com/BradenHooton/petguard/internal/models"
	"github.com/jackc/pgx/v5"
)

// FailedJobRepository is the durable store behind the job queue
type FailedJobRepository struct {
	db *database.DB
}

// NewFailedJobRepository creates a new FailedJobRepository
func NewFailedJobRepository(db *database.DB) *FailedJobRepository {
	return &FailedJobRepository{db: db}
}

const failedJobColumns = `id, job_name, job_type, payload, status, attempt_count, max_attempts,
	next_retry_at, last_attempted_at, completed_at, error_message, error_stack, created_at`

func scanFailedJobRow(row rowScanner) (*models.FailedJob, error) {
	var j models.FailedJob
	var payload []byte

	err := row.Scan(
		&j.ID, &j.JobName, &j.JobType, &payload, &j.Status, &j.AttemptCount, &j.MaxAttempts,
		&j.NextRetryAt, &j.LastAttemptedAt, &j.CompletedAt, &j.ErrorMessage, &j.ErrorStack, &j.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	j.Payload = payload

	return &j, nil
}

func scanFailedJobRows(rows pgx.Rows) ([]*models.FailedJob, error) {
	defer rows.Close()

	jobs := make([]*models.FailedJob, 0)
	for rows.Next() {
		j, err := scanFailedJobRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, j)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating job rows: %w", err)
	}

	return jobs, nil
}

// Create inserts a new job row
func (r *FailedJobRepository) Create(ctx context.Context, job *models.FailedJob) (*models.FailedJob, error) {
	query := `
		INSERT INTO failed_jobs (id, job_name, job_type, payload, status, attempt_count, max_attempts, next_retry_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING ` + failedJobColumns

	result, err := scanFailedJobRow(r.db.Pool.QueryRow(ctx, query,
		job.ID, job.JobName, job.JobType, []byte(job.Payload), job.Status,
		job.AttemptCount, job.MaxAttempts, job.NextRetryAt, job.CreatedAt,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	return result, nil
}

// GetByID returns a single job
func (r *FailedJobRepository) GetByID(ctx context.Context, id string) (*models.FailedJob, error) {
	return scanFailedJobRow(r.db.Pool.QueryRow(ctx,
		`SELECT `+failedJobColumns+` FROM failed_jobs WHERE id = $1`, id))
}

// ListDue returns up to limit pending jobs whose retry time has arrived
func (r *FailedJobRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.FailedJob, error) {
	query := `SELECT ` + failedJobColumns + ` FROM failed_jobs
		WHERE status = 'pending' AND next_retry_at <= $1 AND attempt_count < max_attempts
		ORDER BY next_retry_at ASC
		LIMIT $2`

	rows, err := r.db.Pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due jobs: %w", err)
	}

	return scanFailedJobRows(rows)
}

// Claim moves a pending job to retrying. Only one caller can win the update; every
// other caller gets ErrJobNotClaimable.
func (r *FailedJobRepository) Claim(ctx context.Context, id string, now time.Time) (*models.FailedJob, error) {
	query := `
		UPDATE failed_jobs
		SET status = 'retrying', last_attempted_at = $2
		WHERE id = $1 AND status = 'pending' AND next_retry_at <= $2 AND attempt_count < max_attempts
		RETURNING ` + failedJobColumns

	job, err := scanFailedJobRow(r.db.Pool.QueryRow(ctx, query, id, now))
	if errors.Is(err, models.ErrNotFound) {
		return nil, models.ErrJobNotClaimable
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	return job, nil
}

// RequeueStale returns jobs stuck in retrying since before claimedBefore to the queue.
// Their outcome was never written, so the attempt is not counted.
func (r *FailedJobRepository) RequeueStale(ctx context.Context, claimedBefore, now time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE failed_jobs
		SET status = 'pending', next_retry_at = $2,
		    error_message = 'claim expired before the outcome was recorded'
		WHERE status = 'retrying' AND last_attempted_at < $1
	`, claimedBefore, now)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}

// MarkSucceeded moves a retrying job to succeeded
func (r *FailedJobRepository) MarkSucceeded(ctx context.Context, id string, now time.Time) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE failed_jobs
		SET status = 'succeeded', completed_at = $2
		WHERE id = $1 AND status = 'retrying'
	`, id, now)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrJobNotClaimable
	}
	return nil
}

// MarkRetry records a failed attempt and puts the job back in the queue
func (r *FailedJobRepository) MarkRetry(ctx context.Context, id string, failure models.JobFailure) error {
	if failure.NextRetryAt == nil {
		return fmt.Errorf("%w: retry requires next_retry_at", models.ErrBadRequest)
	}

	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE failed_jobs
		SET status = 'pending', attempt_count = $2, next_retry_at = $3,
		    error_message = COALESCE($4, error_message), error_stack = COALESCE($5, error_stack)
		WHERE id = $1 AND status = 'retrying'
	`, id, failure.AttemptCount, *failure.NextRetryAt, failure.ErrorMessage, failure.ErrorStack)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrJobNotClaimable
	}
	return nil
}

// MarkFailed moves a retrying job to the terminal failed state
func (r *FailedJobRepository) MarkFailed(ctx context.Context, id string, failure models.JobFailure, now time.Time) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE failed_jobs
		SET status = 'failed', attempt_count = $2, completed_at = $3,
		    error_message = COALESCE($4, error_message), error_stack = COALESCE($5, error_stack)
		WHERE id = $1 AND status = 'retrying'
	`, id, failure.AttemptCount, now, failure.ErrorMessage, failure.ErrorStack)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrJobNotClaimable
	}
	return nil
}

// Requeue resets a failed job so the scheduler picks it up again
func (r *FailedJobRepository) Requeue(ctx context.Context, id string, now time.Time) (*models.FailedJob, error) {
	query := `
		UPDATE failed_jobs
		SET status = 'pending', attempt_count = 0, next_retry_at = $2, completed_at = NULL
		WHERE id = $1 AND status = 'failed'
		RETURNING ` + failedJobColumns

	job, err := scanFailedJobRow(r.db.Pool.QueryRow(ctx, query, id, now))
	if errors.Is(err, models.ErrNotFound) {
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, models.ErrJobNotFailed
	}
	if err != nil {
		return nil, fmt.Errorf("failed to requeue job: %w", err)
	}

	return job, nil
}

// List returns jobs, optionally filtered by status, newest first
func (r *FailedJobRepository) List(ctx context.Context, status models.JobStatus, limit, offset int) ([]*models.FailedJob, error) {
	query := `SELECT ` + failedJobColumns + ` FROM failed_jobs
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.db.Pool.Query(ctx, query, string(status), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}

	return scanFailedJobRows(rows)
}

// CountByStatus returns the number of jobs per status
func (r *FailedJobRepository) CountByStatus(ctx context.Context) (models.JobStats, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT status, COUNT(*) FROM failed_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer rows.Close()

	stats := make(models.JobStats)
	for rows.Next() {
		var status models.JobStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan job count: %w", err)
		}
		stats[status] = count
	}

	return stats, rows.Err()
}

// DeleteTerminalOlderThan prunes succeeded/failed jobs completed before cutoff
func (r *FailedJobRepository) DeleteTerminalOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `
		DELETE FROM failed_jobs
		WHERE status IN ('succeeded', 'failed') AND completed_at < $1
	`, cutoff)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}
