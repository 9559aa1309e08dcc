package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/BradenHooton/petguard/internal/config"
	"github.com/BradenHooton/petguard/internal/models"
	pkghttp "github.com/BradenHooton/petguard/pkg/http"
	pkglogger "github.com/BradenHooton/petguard/pkg/logger"
	"github.com/jonboulle/clockwork"
)

// GuardPolicy is the one throttling policy shared by every login entry point
type GuardPolicy struct {
	EmailThreshold  int
	IPThreshold     int
	Window          time.Duration
	BlockDuration   time.Duration
	AlertMilestones []int
}

// PolicyFromConfig builds a GuardPolicy from configuration
func PolicyFromConfig(cfg config.GuardConfig) GuardPolicy {
	return GuardPolicy{
		EmailThreshold:  cfg.EmailThreshold,
		IPThreshold:     cfg.IPThreshold,
		Window:          cfg.Window,
		BlockDuration:   cfg.BlockDuration,
		AlertMilestones: cfg.AlertMilestones,
	}
}

// LoginAttemptReader is the read side of the attempt ledger
type LoginAttemptReader interface {
	GetFailureStatsByEmail(ctx context.Context, email string, since time.Time) (*models.FailureWindowStats, error)
	CountFailuresByIP(ctx context.Context, ipAddress string, since time.Time) (int, error)
}

// WhitelistChecker answers whether an IP is trusted
type WhitelistChecker interface {
	Contains(ctx context.Context, ipAddress string) (bool, error)
}

// Blocklist reads and creates IP blocks
type Blocklist interface {
	Active(ctx context.Context, ipAddress string) (*models.BlockedIP, error)
	Insert(ctx context.Context, ipAddress, reason string, duration time.Duration) (*models.BlockedIP, error)
}

// Decision reasons
const (
	ReasonWhitelisted    = "whitelisted"
	ReasonIPBlocked      = "ip_blocked"
	ReasonEmailThrottled = "email_threshold"
	ReasonIPThreshold    = "ip_threshold"
)

// GuardDecision is the outcome of a pre-login check
type GuardDecision struct {
	Allowed           bool   `json:"allowed"`
	Blocked           bool   `json:"blocked"`
	RemainingSeconds  *int   `json:"remainingSeconds,omitempty"`
	FailedAttempts    int    `json:"failedAttempts"`
	RemainingAttempts *int   `json:"remainingAttempts,omitempty"`
	Reason            string `json:"reason,omitempty"`
	Message           string `json:"message"`
}

// GuardService decides whether a login attempt may proceed. It never writes ledger rows.
type GuardService struct {
	attempts  LoginAttemptReader
	whitelist WhitelistChecker
	blocklist Blocklist
	policy    GuardPolicy
	clock     clockwork.Clock
	security  *pkglogger.SecurityLogger
	logger    *slog.Logger
}

// NewGuardService creates a new GuardService
func NewGuardService(
	attempts LoginAttemptReader,
	whitelist WhitelistChecker,
	blocklist Blocklist,
	policy GuardPolicy,
	clock clockwork.Clock,
	logger *slog.Logger,
) *GuardService {
	return &GuardService{
		attempts:  attempts,
		whitelist: whitelist,
		blocklist: blocklist,
		policy:    policy,
		clock:     clock,
		security:  pkglogger.NewSecurityLogger(logger),
		logger:    logger,
	}
}

// Check evaluates whitelist, active blocks, the per-email window and the per-IP window, in
// that order. Any store failure is returned as ErrStoreUnavailable and must be treated as
// a denial by the caller.
func (g *GuardService) Check(ctx context.Context, email, ipAddress string) (*GuardDecision, error) {
	email, ipAddress, err := NormalizeSubject(email, ipAddress)
	if err != nil {
		return nil, err
	}

	now := g.clock.Now()

	if ipAddress != "" {
		trusted, err := g.whitelist.Contains(ctx, ipAddress)
		if err != nil {
			return nil, g.storeError("whitelist lookup", err)
		}
		if trusted {
			return &GuardDecision{
				Allowed: true,
				Reason:  ReasonWhitelisted,
				Message: "Login permitted",
			}, nil
		}

		block, err := g.blocklist.Active(ctx, ipAddress)
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			return nil, g.storeError("block lookup", err)
		}
		if block != nil {
			return g.blocked(ctx, email, ipAddress, ReasonIPBlocked, block.BlockedUntil.Sub(now), 0,
				"Too many failed login attempts from this network. Please try again later."), nil
		}
	}

	since := now.Add(-g.policy.Window)

	stats, err := g.attempts.GetFailureStatsByEmail(ctx, email, since)
	if err != nil {
		return nil, g.storeError("email failure count", err)
	}

	if stats.Count >= g.policy.EmailThreshold {
		// The email unlocks once its oldest in-window failure ages out
		remaining := g.policy.Window
		if stats.OldestFailure != nil {
			remaining = stats.OldestFailure.Add(g.policy.Window).Sub(now)
		}
		return g.blocked(ctx, email, ipAddress, ReasonEmailThrottled, remaining, stats.Count,
			"Too many failed login attempts for this account. Please try again later."), nil
	}

	if ipAddress != "" {
		ipFailures, err := g.attempts.CountFailuresByIP(ctx, ipAddress, since)
		if err != nil {
			return nil, g.storeError("ip failure count", err)
		}

		if ipFailures >= g.policy.IPThreshold {
			reason := fmt.Sprintf("%d failed login attempts within %s", ipFailures, g.policy.Window)
			block, err := g.blocklist.Insert(ctx, ipAddress, reason, g.policy.BlockDuration)
			if err != nil {
				return nil, g.storeError("auto block", err)
			}
			return g.blocked(ctx, email, ipAddress, ReasonIPThreshold, block.BlockedUntil.Sub(now), stats.Count,
				"Too many failed login attempts from this network. Please try again later."), nil
		}
	}

	remainingAttempts := g.policy.EmailThreshold - stats.Count
	message := "Login permitted"
	if stats.Count > 0 {
		message = fmt.Sprintf("%d attempt(s) remaining before this account is temporarily locked", remainingAttempts)
	}

	return &GuardDecision{
		Allowed:           true,
		FailedAttempts:    stats.Count,
		RemainingAttempts: &remainingAttempts,
		Message:           message,
	}, nil
}

func (g *GuardService) blocked(ctx context.Context, email, ipAddress, reason string, remaining time.Duration, failures int, message string) *GuardDecision {
	seconds := ceilSeconds(remaining)

	g.security.Log(ctx, pkglogger.SecurityEvent{
		EventType: "login_throttled",
		Email:     email,
		IPAddress: ipAddress,
		Severity:  slog.LevelWarn,
		Metadata: map[string]string{
			"reason":            reason,
			"remaining_seconds": fmt.Sprintf("%d", seconds),
		},
	})

	return &GuardDecision{
		Blocked:          true,
		RemainingSeconds: &seconds,
		FailedAttempts:   failures,
		Reason:           reason,
		Message:          message,
	}
}

func (g *GuardService) storeError(op string, err error) error {
	g.logger.Error("login guard store failure, denying",
		slog.String("operation", op),
		slog.Any("error", err))
	return fmt.Errorf("%w: %s: %w", models.ErrStoreUnavailable, op, err)
}

// ceilSeconds rounds up so a client never retries a moment too early; at least 1
func ceilSeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}

// NormalizeSubject lowercases the email and canonicalizes the optional IP
func NormalizeSubject(email, ipAddress string) (string, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return "", "", fmt.Errorf("%w: email is required", models.ErrValidation)
	}

	if strings.TrimSpace(ipAddress) == "" {
		return email, "", nil
	}

	normalized, ok := pkghttp.NormalizeIP(ipAddress)
	if !ok {
		return "", "", fmt.Errorf("%w: invalid ip address", models.ErrValidation)
	}

	return email, normalized, nil
}
