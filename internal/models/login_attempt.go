package models

import "time"

// LoginAttempt is one row of the append-only authentication ledger
type LoginAttempt struct {
	ID          string    `db:"id" json:"id"`
	Email       string    `db:"email" json:"email"`
	Success     bool      `db:"success" json:"success"`
	IPAddress   *string   `db:"ip_address" json:"ip_address,omitempty"`
	UserAgent   *string   `db:"user_agent" json:"user_agent,omitempty"`
	AttemptTime time.Time `db:"attempt_time" json:"attempt_time"`
}

// FailureWindowStats summarizes failed attempts for a subject inside the rolling window
type FailureWindowStats struct {
	Count         int
	OldestFailure *time.Time // Oldest failure still inside the window
}
