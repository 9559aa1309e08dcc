package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/petguard/internal/models"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// FailedJobRepository is the storage contract for the job queue
type FailedJobRepository interface {
	Create(ctx context.Context, job *models.FailedJob) (*models.FailedJob, error)
	GetByID(ctx context.Context, id string) (*models.FailedJob, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]*models.FailedJob, error)
	Claim(ctx context.Context, id string, now time.Time) (*models.FailedJob, error)
	RequeueStale(ctx context.Context, claimedBefore, now time.Time) (int64, error)
	MarkSucceeded(ctx context.Context, id string, now time.Time) error
	MarkRetry(ctx context.Context, id string, failure models.JobFailure) error
	MarkFailed(ctx context.Context, id string, failure models.JobFailure, now time.Time) error
	Requeue(ctx context.Context, id string, now time.Time) (*models.FailedJob, error)
	List(ctx context.Context, status models.JobStatus, limit, offset int) ([]*models.FailedJob, error)
	CountByStatus(ctx context.Context) (models.JobStats, error)
}

// JobQueue is the durable landing zone for side effects that must eventually happen
type JobQueue struct {
	repo               FailedJobRepository
	defaultMaxAttempts int
	clock              clockwork.Clock
	logger             *slog.Logger
}

// NewJobQueue creates a new JobQueue
func NewJobQueue(repo FailedJobRepository, defaultMaxAttempts int, clock clockwork.Clock, logger *slog.Logger) *JobQueue {
	return &JobQueue{
		repo:               repo,
		defaultMaxAttempts: defaultMaxAttempts,
		clock:              clock,
		logger:             logger,
	}
}

// Enqueue stores a pending job that is due immediately. maxAttempts <= 0 uses the default.
func (q *JobQueue) Enqueue(ctx context.Context, jobType models.JobType, jobName string, payload any, maxAttempts int) (*models.FailedJob, error) {
	if !jobType.Valid() {
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownJobType, jobType)
	}
	if jobName == "" {
		return nil, fmt.Errorf("%w: job name is required", models.ErrValidation)
	}
	if maxAttempts <= 0 {
		maxAttempts = q.defaultMaxAttempts
	}

	raw, err := encodePayload(payload)
	if err != nil {
		return nil, err
	}

	now := q.clock.Now()
	job, err := q.repo.Create(ctx, &models.FailedJob{
		ID:           uuid.New().String(),
		JobName:      jobName,
		JobType:      jobType,
		Payload:      raw,
		Status:       models.JobStatusPending,
		AttemptCount: 0,
		MaxAttempts:  maxAttempts,
		NextRetryAt:  now,
		CreatedAt:    now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue %s job: %w", jobType, err)
	}

	q.logger.Info("job enqueued",
		slog.String("job_id", job.ID),
		slog.String("job_type", string(jobType)),
		slog.String("job_name", jobName),
		slog.Int("max_attempts", maxAttempts))

	return job, nil
}

// Capture runs fn and, if it fails, enqueues the job instead of returning the error.
// The returned job is non-nil only when delivery was deferred.
func (q *JobQueue) Capture(ctx context.Context, jobType models.JobType, jobName string, payload any, fn func(context.Context) error) (*models.FailedJob, error) {
	callErr := fn(ctx)
	if callErr == nil {
		return nil, nil
	}

	q.logger.Warn("side effect failed, deferring to retry queue",
		slog.String("job_type", string(jobType)),
		slog.String("job_name", jobName),
		slog.Any("error", callErr))

	job, err := q.Enqueue(ctx, jobType, jobName, payload, 0)
	if err != nil {
		return nil, fmt.Errorf("%w (original failure: %v)", err, callErr)
	}
	return job, nil
}

// Requeue moves a failed job back to pending with a fresh attempt budget
func (q *JobQueue) Requeue(ctx context.Context, id string) (*models.FailedJob, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: invalid job id", models.ErrValidation)
	}

	job, err := q.repo.Requeue(ctx, id, q.clock.Now())
	if err != nil {
		return nil, err
	}

	q.logger.Info("job requeued",
		slog.String("job_id", job.ID),
		slog.String("job_type", string(job.JobType)))

	return job, nil
}

// List returns jobs, optionally filtered by status
func (q *JobQueue) List(ctx context.Context, status models.JobStatus, limit, offset int) ([]*models.FailedJob, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", models.ErrValidation, status)
	}
	return q.repo.List(ctx, status, limit, offset)
}

// Stats counts jobs per status
func (q *JobQueue) Stats(ctx context.Context) (models.JobStats, error) {
	return q.repo.CountByStatus(ctx)
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return json.RawMessage(`{}`), nil
	case json.RawMessage:
		if !json.Valid(p) {
			return nil, fmt.Errorf("%w: payload is not valid JSON", models.ErrValidation)
		}
		return p, nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to encode payload: %v", models.ErrValidation, err)
	}
	return raw, nil
}
