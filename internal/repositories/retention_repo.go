package repositories

import (
	"context"
	"time"

	"github.com/BradenHooton/petguard/internal/database"
)

// RetentionRepository deletes aged rows from tables owned by the wider application
type RetentionRepository struct {
	db *database.DB
}

// NewRetentionRepository creates a new RetentionRepository
func NewRetentionRepository(db *database.DB) *RetentionRepository {
	return &RetentionRepository{db: db}
}

// DeleteOldNotifications removes sent or read notifications created before cutoff
func (r *RetentionRepository) DeleteOldNotifications(ctx context.Context, cutoff time.Time) (int64, error) {
	return r.exec(ctx, `DELETE FROM notifications WHERE (sent OR read) AND created_at < $1`, cutoff)
}

// DeleteOldLogs removes non-error log rows created before cutoff
func (r *RetentionRepository) DeleteOldLogs(ctx context.Context, cutoff time.Time) (int64, error) {
	return r.exec(ctx, `DELETE FROM system_logs WHERE level <> 'error' AND created_at < $1`, cutoff)
}

// DeleteExpiredSessions removes sessions that expired before now
func (r *RetentionRepository) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	return r.exec(ctx, `DELETE FROM user_sessions WHERE expires_at < $1`, now)
}

func (r *RetentionRepository) exec(ctx context.Context, query string, arg time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, query, arg)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}
