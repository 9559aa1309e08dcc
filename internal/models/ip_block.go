package models

import "time"

// BlockedIP is a time-boxed block on an IP address
type BlockedIP struct {
	ID           string    `db:"id" json:"id"`
	IPAddress    string    `db:"ip_address" json:"ip_address"`
	BlockedUntil time.Time `db:"blocked_until" json:"blocked_until"`
	Reason       string    `db:"reason" json:"reason"`
	AutoBlocked  bool      `db:"auto_blocked" json:"auto_blocked"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// IsActive reports whether the block still applies at now
func (b *BlockedIP) IsActive(now time.Time) bool {
	return b.BlockedUntil.After(now)
}

// IPWhitelistEntry is a trusted IP that bypasses all login throttling
type IPWhitelistEntry struct {
	ID          string    `db:"id" json:"id"`
	IPAddress   string    `db:"ip_address" json:"ip_address"`
	Description string    `db:"description" json:"description"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}
