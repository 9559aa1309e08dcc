package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/BradenHooton/petguard/internal/config"
	"github.com/BradenHooton/petguard/internal/models"
	pkglogger "github.com/BradenHooton/petguard/pkg/logger"
	"github.com/jonboulle/clockwork"
)

// SchedulerConfig tunes a RetryScheduler run
type SchedulerConfig struct {
	BatchSize      int
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	HandlerTimeout time.Duration
}

// SchedulerConfigFromConfig builds a SchedulerConfig from configuration
func SchedulerConfigFromConfig(cfg config.JobsConfig) SchedulerConfig {
	return SchedulerConfig{
		BatchSize:      cfg.BatchSize,
		BackoffBase:    cfg.BackoffBase,
		BackoffMax:     cfg.BackoffMax,
		HandlerTimeout: cfg.HandlerTimeout,
	}
}

// Backoff returns base * 2^attemptCount, capped at max
func Backoff(attemptCount int, base, max time.Duration) time.Duration {
	delay := base
	for i := 0; i < attemptCount; i++ {
		if delay >= max/2 {
			return max
		}
		delay *= 2
	}
	if delay > max {
		return max
	}
	return delay
}

// RunSummary reports what one scheduler pass did
type RunSummary struct {
	Selected  int `json:"selected"`
	Claimed   int `json:"claimed"`
	Succeeded int `json:"succeeded"`
	Retried   int `json:"retried"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Reclaimed int `json:"reclaimed"`
	Errors    int `json:"errors"`
}

const settleTimeout = 5 * time.Second

// RetryScheduler claims due jobs and runs them through their handlers
type RetryScheduler struct {
	repo     FailedJobRepository
	registry *HandlerRegistry
	alerts   AlertDispatcher
	cfg      SchedulerConfig
	clock    clockwork.Clock
	security *pkglogger.SecurityLogger
	logger   *slog.Logger
}

// NewRetryScheduler creates a new RetryScheduler
func NewRetryScheduler(
	repo FailedJobRepository,
	registry *HandlerRegistry,
	alerts AlertDispatcher,
	cfg SchedulerConfig,
	clock clockwork.Clock,
	logger *slog.Logger,
) *RetryScheduler {
	return &RetryScheduler{
		repo:     repo,
		registry: registry,
		alerts:   alerts,
		cfg:      cfg,
		clock:    clock,
		security: pkglogger.NewSecurityLogger(logger),
		logger:   logger,
	}
}

// Run processes one batch of due jobs. A job that another run has already claimed is
// skipped; a failing job never stops the rest of the batch.
func (s *RetryScheduler) Run(ctx context.Context) (*RunSummary, error) {
	summary := &RunSummary{}
	s.reclaimStale(ctx, summary)

	jobs, err := s.repo.ListDue(ctx, s.clock.Now(), s.cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to select due jobs: %w", models.ErrStoreUnavailable, err)
	}
	summary.Selected = len(jobs)

	for _, due := range jobs {
		if ctx.Err() != nil {
			break
		}

		job, err := s.repo.Claim(ctx, due.ID, s.clock.Now())
		if errors.Is(err, models.ErrJobNotClaimable) {
			summary.Skipped++
			continue
		}
		if err != nil {
			summary.Errors++
			s.logger.Error("failed to claim job", slog.String("job_id", due.ID), slog.Any("error", err))
			continue
		}
		summary.Claimed++

		ok, stack, runErr := s.execute(ctx, job)

		// The outcome is written even if the caller went away, or the job would stay claimed
		settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
		outcome, err := s.settle(settleCtx, job, ok, runErr, stack)
		cancel()

		switch {
		case err != nil:
			summary.Errors++
			s.logger.Error("failed to record job outcome",
				slog.String("job_id", job.ID),
				slog.Any("error", err))
		case outcome == models.JobStatusSucceeded:
			summary.Succeeded++
		case outcome == models.JobStatusFailed:
			summary.Failed++
		default:
			summary.Retried++
		}
	}

	s.logger.Info("retry run complete",
		slog.Int("selected", summary.Selected),
		slog.Int("claimed", summary.Claimed),
		slog.Int("succeeded", summary.Succeeded),
		slog.Int("retried", summary.Retried),
		slog.Int("failed", summary.Failed),
		slog.Int("skipped", summary.Skipped),
		slog.Int("reclaimed", summary.Reclaimed),
		slog.Int("errors", summary.Errors))

	return summary, nil
}

// reclaimStale puts back jobs whose claim outlived the handler timeout plus the settle
// window. Such a run crashed or lost its settle write. Without a handler timeout there
// is no bound on a live claim, so nothing is reclaimed.
func (s *RetryScheduler) reclaimStale(ctx context.Context, summary *RunSummary) {
	if s.cfg.HandlerTimeout <= 0 {
		return
	}

	now := s.clock.Now()
	n, err := s.repo.RequeueStale(ctx, now.Add(-(s.cfg.HandlerTimeout + settleTimeout)), now)
	if err != nil {
		summary.Errors++
		s.logger.Error("failed to reclaim stale jobs", slog.Any("error", err))
		return
	}
	if n > 0 {
		summary.Reclaimed = int(n)
		s.logger.Warn("reclaimed jobs stuck in retrying", slog.Int64("count", n))
	}
}

// execute runs the handler for job, converting panics into failures
func (s *RetryScheduler) execute(ctx context.Context, job *models.FailedJob) (ok bool, stack string, err error) {
	handler, found := s.registry.Lookup(job.JobType)
	if !found {
		return false, "", fmt.Errorf("%w: %q", models.ErrUnknownJobType, job.JobType)
	}

	if s.cfg.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.HandlerTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = fmt.Errorf("handler panic: %v", r)
			stack = string(debug.Stack())
		}
	}()

	ok, err = handler.Handle(ctx, job)
	if err != nil {
		ok = false
	}
	return ok, "", err
}

// settle writes the outcome of one attempt back to the queue
func (s *RetryScheduler) settle(ctx context.Context, job *models.FailedJob, ok bool, runErr error, stack string) (models.JobStatus, error) {
	now := s.clock.Now()

	if ok {
		if err := s.repo.MarkSucceeded(ctx, job.ID, now); err != nil {
			return "", err
		}
		s.logger.Info("job succeeded",
			slog.String("job_id", job.ID),
			slog.String("job_type", string(job.JobType)),
			slog.Int("attempt", job.AttemptCount+1))
		return models.JobStatusSucceeded, nil
	}

	failure := models.JobFailure{AttemptCount: job.AttemptCount + 1}
	if runErr != nil {
		msg := runErr.Error()
		failure.ErrorMessage = &msg
	}
	if stack != "" {
		failure.ErrorStack = &stack
	}

	if failure.AttemptCount < job.MaxAttempts {
		next := now.Add(Backoff(failure.AttemptCount, s.cfg.BackoffBase, s.cfg.BackoffMax))
		failure.NextRetryAt = &next
		if err := s.repo.MarkRetry(ctx, job.ID, failure); err != nil {
			return "", err
		}
		s.logger.Warn("job attempt failed, rescheduled",
			slog.String("job_id", job.ID),
			slog.String("job_type", string(job.JobType)),
			slog.Int("attempt", failure.AttemptCount),
			slog.Time("next_retry_at", next),
			slog.Any("error", runErr))
		return models.JobStatusPending, nil
	}

	if err := s.repo.MarkFailed(ctx, job.ID, failure, now); err != nil {
		return "", err
	}

	s.reportPermanentFailure(ctx, job, failure, now)
	return models.JobStatusFailed, nil
}

func (s *RetryScheduler) reportPermanentFailure(ctx context.Context, job *models.FailedJob, failure models.JobFailure, now time.Time) {
	lastError := "handler reported failure"
	if failure.ErrorMessage != nil {
		lastError = *failure.ErrorMessage
	} else if job.ErrorMessage != nil {
		lastError = *job.ErrorMessage
	}

	fields := map[string]string{
		"job_id":       job.ID,
		"job_name":     job.JobName,
		"job_type":     string(job.JobType),
		"attempts":     strconv.Itoa(failure.AttemptCount),
		"max_attempts": strconv.Itoa(job.MaxAttempts),
		"last_error":   lastError,
	}

	s.security.Log(ctx, pkglogger.SecurityEvent{
		EventType: "job_permanent_failure",
		Severity:  slog.LevelError,
		Metadata:  fields,
	})

	s.alerts.Notify(ctx, models.Alert{
		Kind:       models.AlertJobPermanentFailure,
		Severity:   models.SeverityCritical,
		Subject:    fmt.Sprintf("Job %s (%s) permanently failed", job.JobName, job.JobType),
		Message:    fmt.Errorf("%w: job %s after %d attempts, requeue it manually", models.ErrJobPermanentFailure, job.ID, job.MaxAttempts).Error(),
		Fields:     fields,
		OccurredAt: now,
	})
}
