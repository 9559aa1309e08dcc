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

// BlockedIPRepository handles IP block rows
type BlockedIPRepository struct {
	db *database.DB
}

// NewBlockedIPRepository creates a new BlockedIPRepository
func NewBlockedIPRepository(db *database.DB) *BlockedIPRepository {
	return &BlockedIPRepository{db: db}
}

const blockedIPColumns = `id, ip_address, blocked_until, reason, auto_blocked, created_at`

func scanBlockedIPRow(row rowScanner) (*models.BlockedIP, error) {
	var b models.BlockedIP
	if err := row.Scan(&b.ID, &b.IPAddress, &b.BlockedUntil, &b.Reason, &b.AutoBlocked, &b.CreatedAt); err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &b, nil
}

// GetActive returns the longest-running active block for an IP, or ErrNotFound
func (r *BlockedIPRepository) GetActive(ctx context.Context, ipAddress string, now time.Time) (*models.BlockedIP, error) {
	query := `SELECT ` + blockedIPColumns + ` FROM blocked_ips
		WHERE ip_address = $1 AND blocked_until > $2
		ORDER BY blocked_until DESC
		LIMIT 1`

	return scanBlockedIPRow(r.db.Pool.QueryRow(ctx, query, ipAddress, now))
}

// InsertOrExtend creates a block, or extends the IP's active block to the later expiry.
// Returns the resulting row and whether an existing block was reused.
func (r *BlockedIPRepository) InsertOrExtend(ctx context.Context, block *models.BlockedIP, now time.Time) (*models.BlockedIP, bool, error) {
	var (
		result   *models.BlockedIP
		extended bool
	)

	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if err := database.AdvisoryXactLock(ctx, tx, "blocked_ips", block.IPAddress); err != nil {
			return err
		}

		existing, err := scanBlockedIPRow(tx.QueryRow(ctx, `
			UPDATE blocked_ips
			SET blocked_until = GREATEST(blocked_until, $3), reason = $4
			WHERE id = (
				SELECT id FROM blocked_ips
				WHERE ip_address = $1 AND blocked_until > $2
				ORDER BY blocked_until DESC
				LIMIT 1
			)
			RETURNING `+blockedIPColumns,
			block.IPAddress, now, block.BlockedUntil, block.Reason,
		))
		if err == nil {
			result, extended = existing, true
			return nil
		}
		if !errors.Is(err, models.ErrNotFound) {
			return err
		}

		result, err = scanBlockedIPRow(tx.QueryRow(ctx, `
			INSERT INTO blocked_ips (ip_address, blocked_until, reason, auto_blocked, created_at)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING `+blockedIPColumns,
			block.IPAddress, block.BlockedUntil, block.Reason, block.AutoBlocked, now,
		))
		return err
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert ip block: %w", err)
	}

	return result, extended, nil
}

// ListActive returns blocks that have not yet expired, newest expiry first
func (r *BlockedIPRepository) ListActive(ctx context.Context, now time.Time, limit, offset int) ([]*models.BlockedIP, error) {
	query := `SELECT ` + blockedIPColumns + ` FROM blocked_ips
		WHERE blocked_until > $1
		ORDER BY blocked_until DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.db.Pool.Query(ctx, query, now, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query blocked ips: %w", err)
	}
	defer rows.Close()

	blocks := make([]*models.BlockedIP, 0)
	for rows.Next() {
		b, err := scanBlockedIPRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan blocked ip: %w", err)
		}
		blocks = append(blocks, b)
	}

	return blocks, rows.Err()
}

// DeleteExpired removes blocks whose blocked_until has passed
func (r *BlockedIPRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM blocked_ips WHERE blocked_until < $1`, now)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}
