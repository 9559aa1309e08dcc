package background

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BradenHooton/petguard/internal/config"
	"github.com/jonboulle/clockwork"
)

// PurgeFunc deletes rows older than cutoff and returns how many went
type PurgeFunc func(ctx context.Context, cutoff time.Time) (int64, error)

// RetentionRule is one table's age cutoff. MaxAge zero means "expired as of now",
// used for rows that carry their own expiry.
type RetentionRule struct {
	Name   string
	MaxAge time.Duration
	Purge  PurgeFunc
}

// Purgers are the repository calls the sweeper needs
type Purgers struct {
	LoginAttempts   PurgeFunc
	ExpiredBlocks   PurgeFunc
	Notifications   PurgeFunc
	Logs            PurgeFunc
	ExpiredSessions PurgeFunc
	TerminalJobs    PurgeFunc
}

// RulesFromConfig builds the standard rule set. Terminal jobs are only swept when a
// retention period is configured.
func RulesFromConfig(cfg config.RetentionConfig, p Purgers) []RetentionRule {
	rules := []RetentionRule{
		{Name: "login_attempts", MaxAge: cfg.LoginAttempts, Purge: p.LoginAttempts},
		{Name: "blocked_ips", Purge: p.ExpiredBlocks},
		{Name: "notifications", MaxAge: cfg.Notifications, Purge: p.Notifications},
		{Name: "system_logs", MaxAge: cfg.Logs, Purge: p.Logs},
		{Name: "user_sessions", Purge: p.ExpiredSessions},
	}
	if cfg.TerminalJobs > 0 {
		rules = append(rules, RetentionRule{Name: "failed_jobs", MaxAge: cfg.TerminalJobs, Purge: p.TerminalJobs})
	}
	return rules
}

// SweepResult is the outcome of one sweep
type SweepResult struct {
	Deleted map[string]int64
	Failed  []string
}

// RetentionSweeper periodically deletes aged rows. One rule failing does not stop the others.
type RetentionSweeper struct {
	rules    []RetentionRule
	interval time.Duration
	timeout  time.Duration
	clock    clockwork.Clock
	logger   *slog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRetentionSweeper creates a sweeper running every interval, each run bounded by timeout
func NewRetentionSweeper(rules []RetentionRule, interval, timeout time.Duration, clock clockwork.Clock, logger *slog.Logger) *RetentionSweeper {
	return &RetentionSweeper{
		rules:    rules,
		interval: interval,
		timeout:  timeout,
		clock:    clock,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start sweeps once immediately, then on every tick until Stop or ctx is done
func (s *RetentionSweeper) Start(ctx context.Context) {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	s.Sweep(ctx)

	for {
		select {
		case <-ticker.Chan():
			s.Sweep(ctx)
		case <-s.stopCh:
			s.logger.Info("retention sweeper stopped")
			return
		case <-ctx.Done():
			s.logger.Info("retention sweeper context cancelled")
			return
		}
	}
}

// Sweep runs every rule once
func (s *RetentionSweeper) Sweep(ctx context.Context) SweepResult {
	sweepCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	now := s.clock.Now()
	result := SweepResult{Deleted: make(map[string]int64, len(s.rules))}

	for _, rule := range s.rules {
		if rule.Purge == nil {
			continue
		}

		cutoff := now.Add(-rule.MaxAge)
		n, err := rule.Purge(sweepCtx, cutoff)
		if err != nil {
			s.logger.Error("retention purge failed",
				slog.String("table", rule.Name),
				slog.Time("cutoff", cutoff),
				slog.Any("error", err),
			)
			result.Failed = append(result.Failed, rule.Name)
			continue
		}

		result.Deleted[rule.Name] = n
		if n > 0 {
			s.logger.Info("retention purge completed", slog.String("table", rule.Name), slog.Int64("rows_deleted", n))
		}
	}

	return result
}

// Stop signals the sweeper to stop. Safe to call more than once.
func (s *RetentionSweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}
