package services

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/BradenHooton/petguard/internal/models"
	pkglogger "github.com/BradenHooton/petguard/pkg/logger"
	"github.com/jonboulle/clockwork"
)

// LoginAttemptWriter is the write side of the attempt ledger
type LoginAttemptWriter interface {
	RecordFailureAndCount(ctx context.Context, attempt *models.LoginAttempt, since time.Time) (int, error)
	RecordSuccessAndReset(ctx context.Context, attempt *models.LoginAttempt) (int64, error)
}

// AttemptRecorder writes authentication outcomes to the ledger
type AttemptRecorder struct {
	store      LoginAttemptWriter
	whitelist  WhitelistChecker
	alerts     AlertDispatcher
	policy     GuardPolicy
	milestones map[int]bool
	clock      clockwork.Clock
	logger     *slog.Logger
}

// NewAttemptRecorder creates a new AttemptRecorder
func NewAttemptRecorder(
	store LoginAttemptWriter,
	whitelist WhitelistChecker,
	alerts AlertDispatcher,
	policy GuardPolicy,
	clock clockwork.Clock,
	logger *slog.Logger,
) *AttemptRecorder {
	milestones := make(map[int]bool, len(policy.AlertMilestones))
	for _, m := range policy.AlertMilestones {
		milestones[m] = true
	}

	return &AttemptRecorder{
		store:      store,
		whitelist:  whitelist,
		alerts:     alerts,
		policy:     policy,
		milestones: milestones,
		clock:      clock,
		logger:     logger,
	}
}

// Record appends one attempt. A success purges the email's failure history; a failure
// that lands exactly on an alert milestone notifies the AlertDispatcher. The count is
// taken atomically with the insert, so each milestone fires once per run of failures.
func (r *AttemptRecorder) Record(ctx context.Context, email string, success bool, ipAddress, userAgent string) error {
	email, ipAddress, err := NormalizeSubject(email, ipAddress)
	if err != nil {
		return err
	}

	now := r.clock.Now()
	attempt := &models.LoginAttempt{
		Email:       email,
		Success:     success,
		IPAddress:   optionalString(ipAddress),
		UserAgent:   optionalString(userAgent),
		AttemptTime: now,
	}

	if success {
		purged, err := r.store.RecordSuccessAndReset(ctx, attempt)
		if err != nil {
			return fmt.Errorf("%w: %w", models.ErrStoreUnavailable, err)
		}
		if purged > 0 {
			r.logger.Info("failure history reset after successful login",
				slog.String("email", pkglogger.SanitizedEmail(email)),
				slog.Int64("purged", purged))
		}
		return nil
	}

	count, err := r.store.RecordFailureAndCount(ctx, attempt, now.Add(-r.policy.Window))
	if err != nil {
		return fmt.Errorf("%w: %w", models.ErrStoreUnavailable, err)
	}

	if r.milestones[count] {
		r.notifyMilestone(ctx, email, ipAddress, count, now)
	}

	return nil
}

func (r *AttemptRecorder) notifyMilestone(ctx context.Context, email, ipAddress string, count int, now time.Time) {
	if ipAddress != "" {
		trusted, err := r.whitelist.Contains(ctx, ipAddress)
		if err != nil {
			// Alert anyway: a missed alert is worse than a noisy one
			r.logger.Warn("whitelist lookup failed during milestone alert", slog.Any("error", err))
		}
		if trusted {
			return
		}
	}

	severity := models.SeverityWarning
	if count >= r.policy.EmailThreshold {
		severity = models.SeverityCritical
	}

	fields := map[string]string{
		"email":           email,
		"failed_attempts": strconv.Itoa(count),
		"window":          r.policy.Window.String(),
	}
	if ipAddress != "" {
		fields["ip_address"] = ipAddress
	}

	r.alerts.Notify(ctx, models.Alert{
		Kind:       models.AlertLoginMilestone,
		Severity:   severity,
		Subject:    fmt.Sprintf("%d failed login attempts for %s", count, pkglogger.SanitizedEmail(email)),
		Message:    fmt.Sprintf("%d failed login attempts within %s.", count, r.policy.Window),
		Fields:     fields,
		OccurredAt: now,
	})
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
