package repositories

import (
	"context"

	"github.com/BradenHooton/petguard/internal/database"
)

// NotificationRepository writes in-app notification rows
type NotificationRepository struct {
	db *database.DB
}

// NewNotificationRepository creates a new NotificationRepository
func NewNotificationRepository(db *database.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create inserts a notification; userID may be nil for broadcast rows
func (r *NotificationRepository) Create(ctx context.Context, userID *string, title, message, kind string) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO notifications (user_id, title, message, type)
		VALUES ($1, $2, $3, $4)
	`, userID, title, message, kind)
	return database.MapPostgresError(err)
}
