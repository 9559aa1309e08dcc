package repositories

import (
	"context"
	"fmt"

	"github.com/BradenHooton/petguard/internal/database"
	"github.com/BradenHooton/petguard/internal/models"
)

// IPWhitelistRepository handles trusted IP rows
type IPWhitelistRepository struct {
	db *database.DB
}

// NewIPWhitelistRepository creates a new IPWhitelistRepository
func NewIPWhitelistRepository(db *database.DB) *IPWhitelistRepository {
	return &IPWhitelistRepository{db: db}
}

// Contains reports whether the IP is whitelisted
func (r *IPWhitelistRepository) Contains(ctx context.Context, ipAddress string) (bool, error) {
	var exists bool
	err := r.db.Pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM ip_whitelist WHERE ip_address = $1)`, ipAddress).Scan(&exists)
	if err != nil {
		return false, database.MapPostgresError(err)
	}
	return exists, nil
}

// Add inserts a whitelist entry; ErrConflict if the IP is already present
func (r *IPWhitelistRepository) Add(ctx context.Context, ipAddress, description string) (*models.IPWhitelistEntry, error) {
	var e models.IPWhitelistEntry
	err := r.db.Pool.QueryRow(ctx, `
		INSERT INTO ip_whitelist (ip_address, description)
		VALUES ($1, $2)
		RETURNING id, ip_address, description, created_at
	`, ipAddress, description).Scan(&e.ID, &e.IPAddress, &e.Description, &e.CreatedAt)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &e, nil
}

// Remove deletes a whitelist entry; ErrNotFound if absent
func (r *IPWhitelistRepository) Remove(ctx context.Context, ipAddress string) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM ip_whitelist WHERE ip_address = $1`, ipAddress)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// List returns all whitelist entries
func (r *IPWhitelistRepository) List(ctx context.Context) ([]*models.IPWhitelistEntry, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT id, ip_address, description, created_at FROM ip_whitelist ORDER BY ip_address`)
	if err != nil {
		return nil, fmt.Errorf("failed to query whitelist: %w", err)
	}
	defer rows.Close()

	entries := make([]*models.IPWhitelistEntry, 0)
	for rows.Next() {
		var e models.IPWhitelistEntry
		if err := rows.Scan(&e.ID, &e.IPAddress, &e.Description, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan whitelist entry: %w", err)
		}
		entries = append(entries, &e)
	}

	return entries, rows.Err()
}
