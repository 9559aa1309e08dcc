package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/petguard/internal/database"
	"github.com/BradenHooton/petguard/internal/models"
	"github.com/jackc/pgx/v5"
)

// LoginAttemptRepository handles database operations for the login attempt ledger
type LoginAttemptRepository struct {
	db *database.DB
}

// NewLoginAttemptRepository creates a new LoginAttemptRepository
func NewLoginAttemptRepository(db *database.DB) *LoginAttemptRepository {
	return &LoginAttemptRepository{db: db}
}

const insertAttemptQuery = `
	INSERT INTO login_attempts (email, success, ip_address, user_agent, attempt_time)
	VALUES ($1, $2, $3, $4, $5)
`

// RecordFailureAndCount appends a failed attempt and returns the email's failure count
// since the given time, including the new row. Concurrent calls for the same email are
// serialized so each one observes a distinct count.
func (r *LoginAttemptRepository) RecordFailureAndCount(ctx context.Context, attempt *models.LoginAttempt, since time.Time) (int, error) {
	var count int
	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if err := database.AdvisoryXactLock(ctx, tx, "login_attempts", attempt.Email); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, insertAttemptQuery,
			attempt.Email, false, attempt.IPAddress, attempt.UserAgent, attempt.AttemptTime,
		); err != nil {
			return err
		}

		return tx.QueryRow(ctx, `
			SELECT COUNT(*) FROM login_attempts
			WHERE email = $1 AND success = false AND attempt_time >= $2
		`, attempt.Email, since).Scan(&count)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to record failed attempt: %w", database.MapPostgresError(err))
	}

	return count, nil
}

// RecordSuccessAndReset appends a successful attempt and purges the email's failure history
func (r *LoginAttemptRepository) RecordSuccessAndReset(ctx context.Context, attempt *models.LoginAttempt) (int64, error) {
	var purged int64
	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if err := database.AdvisoryXactLock(ctx, tx, "login_attempts", attempt.Email); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, insertAttemptQuery,
			attempt.Email, true, attempt.IPAddress, attempt.UserAgent, attempt.AttemptTime,
		); err != nil {
			return err
		}

		tag, err := tx.Exec(ctx, `DELETE FROM login_attempts WHERE email = $1 AND success = false`, attempt.Email)
		if err != nil {
			return err
		}
		purged = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to record successful attempt: %w", database.MapPostgresError(err))
	}

	return purged, nil
}

// GetFailureStatsByEmail returns the failure count and oldest failure for an email within the window
func (r *LoginAttemptRepository) GetFailureStatsByEmail(ctx context.Context, email string, since time.Time) (*models.FailureWindowStats, error) {
	query := `
		SELECT COUNT(*), MIN(attempt_time) FROM login_attempts
		WHERE email = $1 AND success = false AND attempt_time >= $2
	`

	stats := &models.FailureWindowStats{}
	if err := r.db.Pool.QueryRow(ctx, query, email, since).Scan(&stats.Count, &stats.OldestFailure); err != nil {
		return nil, database.MapPostgresError(err)
	}

	return stats, nil
}

// CountFailuresByIP returns the number of failed attempts from an IP within a time window
func (r *LoginAttemptRepository) CountFailuresByIP(ctx context.Context, ipAddress string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM login_attempts
		WHERE ip_address = $1 AND success = false AND attempt_time >= $2
	`

	var count int
	if err := r.db.Pool.QueryRow(ctx, query, ipAddress, since).Scan(&count); err != nil {
		return 0, database.MapPostgresError(err)
	}
	return count, nil
}

// DeleteOlderThan removes ledger rows older than cutoff
func (r *LoginAttemptRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM login_attempts WHERE attempt_time < $1`, cutoff)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}
