package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/petguard/internal/models"
	pkghttp "github.com/BradenHooton/petguard/pkg/http"
	pkglogger "github.com/BradenHooton/petguard/pkg/logger"
	"github.com/jonboulle/clockwork"
)

// BlockedIPRepository is the storage contract for IP blocks
type BlockedIPRepository interface {
	GetActive(ctx context.Context, ipAddress string, now time.Time) (*models.BlockedIP, error)
	InsertOrExtend(ctx context.Context, block *models.BlockedIP, now time.Time) (*models.BlockedIP, bool, error)
	ListActive(ctx context.Context, now time.Time, limit, offset int) ([]*models.BlockedIP, error)
}

// BlocklistService manages time-boxed IP blocks
type BlocklistService struct {
	repo     BlockedIPRepository
	alerts   AlertDispatcher
	clock    clockwork.Clock
	security *pkglogger.SecurityLogger
	logger   *slog.Logger
}

// NewBlocklistService creates a new BlocklistService
func NewBlocklistService(repo BlockedIPRepository, alerts AlertDispatcher, clock clockwork.Clock, logger *slog.Logger) *BlocklistService {
	return &BlocklistService{
		repo:     repo,
		alerts:   alerts,
		clock:    clock,
		security: pkglogger.NewSecurityLogger(logger),
		logger:   logger,
	}
}

// Active returns the block currently in force for ipAddress, or nil when there is none
func (s *BlocklistService) Active(ctx context.Context, ipAddress string) (*models.BlockedIP, error) {
	block, err := s.repo.GetActive(ctx, ipAddress, s.clock.Now())
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read block for %s: %w", ipAddress, err)
	}
	return block, nil
}

// Insert auto-blocks ipAddress for duration. An IP that is already blocked keeps a single
// row whose expiry is pushed out to the later of the two deadlines.
func (s *BlocklistService) Insert(ctx context.Context, ipAddress, reason string, duration time.Duration) (*models.BlockedIP, error) {
	normalized, ok := pkghttp.NormalizeIP(ipAddress)
	if !ok {
		return nil, fmt.Errorf("%w: invalid ip address", models.ErrValidation)
	}
	if duration <= 0 {
		return nil, fmt.Errorf("%w: block duration must be positive", models.ErrValidation)
	}

	now := s.clock.Now()
	block, extended, err := s.repo.InsertOrExtend(ctx, &models.BlockedIP{
		IPAddress:    normalized,
		BlockedUntil: now.Add(duration),
		Reason:       reason,
		AutoBlocked:  true,
	}, now)
	if err != nil {
		return nil, fmt.Errorf("failed to block %s: %w", normalized, err)
	}

	s.security.Log(ctx, pkglogger.SecurityEvent{
		EventType: "ip_auto_blocked",
		IPAddress: normalized,
		Severity:  slog.LevelWarn,
		Metadata: map[string]string{
			"reason":        reason,
			"blocked_until": block.BlockedUntil.UTC().Format(time.RFC3339),
			"extended":      fmt.Sprintf("%t", extended),
		},
	})

	if !extended {
		s.alerts.Notify(ctx, models.Alert{
			Kind:     models.AlertIPAutoBlocked,
			Severity: models.SeverityWarning,
			Subject:  fmt.Sprintf("IP %s auto-blocked", normalized),
			Message:  reason,
			Fields: map[string]string{
				"ip_address":    normalized,
				"blocked_until": block.BlockedUntil.UTC().Format(time.RFC3339),
			},
			OccurredAt: now,
		})
	}

	return block, nil
}

// ListActive returns blocks that have not expired yet
func (s *BlocklistService) ListActive(ctx context.Context, limit, offset int) ([]*models.BlockedIP, error) {
	return s.repo.ListActive(ctx, s.clock.Now(), limit, offset)
}

// IPWhitelistRepository is the storage contract for trusted IPs
type IPWhitelistRepository interface {
	Contains(ctx context.Context, ipAddress string) (bool, error)
	Add(ctx context.Context, ipAddress, description string) (*models.IPWhitelistEntry, error)
	Remove(ctx context.Context, ipAddress string) error
	List(ctx context.Context) ([]*models.IPWhitelistEntry, error)
}

// WhitelistService manages IPs that bypass throttling entirely
type WhitelistService struct {
	repo   IPWhitelistRepository
	logger *slog.Logger
}

// NewWhitelistService creates a new WhitelistService
func NewWhitelistService(repo IPWhitelistRepository, logger *slog.Logger) *WhitelistService {
	return &WhitelistService{
		repo:   repo,
		logger: logger,
	}
}

// Contains reports whether ipAddress is trusted
func (s *WhitelistService) Contains(ctx context.Context, ipAddress string) (bool, error) {
	normalized, ok := pkghttp.NormalizeIP(ipAddress)
	if !ok {
		return false, nil
	}
	return s.repo.Contains(ctx, normalized)
}

func (s *WhitelistService) Add(ctx context.Context, ipAddress, description string) (*models.IPWhitelistEntry, error) {
	normalized, ok := pkghttp.NormalizeIP(ipAddress)
	if !ok {
		return nil, fmt.Errorf("%w: invalid ip address", models.ErrValidation)
	}

	entry, err := s.repo.Add(ctx, normalized, description)
	if err != nil {
		return nil, err
	}

	s.logger.Info("ip whitelisted", slog.String("ip_address", normalized))
	return entry, nil
}

func (s *WhitelistService) Remove(ctx context.Context, ipAddress string) error {
	normalized, ok := pkghttp.NormalizeIP(ipAddress)
	if !ok {
		return fmt.Errorf("%w: invalid ip address", models.ErrValidation)
	}

	if err := s.repo.Remove(ctx, normalized); err != nil {
		return err
	}

	s.logger.Info("ip removed from whitelist", slog.String("ip_address", normalized))
	return nil
}

func (s *WhitelistService) List(ctx context.Context) ([]*models.IPWhitelistEntry, error) {
	return s.repo.List(ctx)
}
