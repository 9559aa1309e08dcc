package background

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/BradenHooton/petguard/internal/services"
	"github.com/jonboulle/clockwork"
)

// Scheduler runs one retry pass
type Scheduler interface {
	Run(ctx context.Context) (*services.RunSummary, error)
}

// RetryRunner triggers the retry scheduler on an interval from inside the API process.
// Deployments driven by an external cron can leave it disabled; runs from both are safe
// because claims are conditional.
type RetryRunner struct {
	scheduler Scheduler
	interval  time.Duration
	clock     clockwork.Clock
	logger    *slog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRetryRunner creates a RetryRunner
func NewRetryRunner(scheduler Scheduler, interval time.Duration, clock clockwork.Clock, logger *slog.Logger) *RetryRunner {
	return &RetryRunner{
		scheduler: scheduler,
		interval:  interval,
		clock:     clock,
		logger:    logger,
		stopCh:    make(chan struct{}),
	}
}

// Start runs the scheduler on every tick until Stop or ctx is done
func (r *RetryRunner) Start(ctx context.Context) {
	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			r.runOnce(ctx)
		case <-r.stopCh:
			r.logger.Info("retry runner stopped")
			return
		case <-ctx.Done():
			r.logger.Info("retry runner context cancelled")
			return
		}
	}
}

func (r *RetryRunner) runOnce(ctx context.Context) {
	summary, err := r.scheduler.Run(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		r.logger.Error("retry run failed", slog.Any("error", err))
		return
	}

	if summary.Selected > 0 {
		r.logger.Info("retry run completed",
			slog.Int("selected", summary.Selected),
			slog.Int("succeeded", summary.Succeeded),
			slog.Int("retried", summary.Retried),
			slog.Int("failed", summary.Failed),
			slog.Int("skipped", summary.Skipped),
		)
	}
}

// Stop signals the runner to stop. Safe to call more than once.
func (r *RetryRunner) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}
