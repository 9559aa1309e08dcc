package models

import (
	"encoding/json"
	"time"
)

// JobType identifies which handler executes a FailedJob
type JobType string

const (
	JobTypeEdgeFunction JobType = "edge_function"
	JobTypeEmail        JobType = "email"
	JobTypeNotification JobType = "notification"
	JobTypeAPICall      JobType = "api_call"
)

// Valid reports whether t is one of the known job types
func (t JobType) Valid() bool {
	switch t {
	case JobTypeEdgeFunction, JobTypeEmail, JobTypeNotification, JobTypeAPICall:
		return true
	}
	return false
}

// JobStatus is the lifecycle state of a FailedJob.
//
//	pending --claim--> retrying --success--> succeeded
//	retrying --failure, attempts remain--> pending
//	retrying --failure, attempts exhausted--> failed
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRetrying  JobStatus = "retrying"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// IsTerminal reports whether no automatic transition leaves this status
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// Valid reports whether s is a known status
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusRetrying, JobStatusSucceeded, JobStatusFailed:
		return true
	}
	return false
}

// FailedJob is a durable record of a side effect that must eventually be delivered
type FailedJob struct {
	ID              string          `db:"id" json:"id"`
	JobName         string          `db:"job_name" json:"job_name"`
	JobType         JobType         `db:"job_type" json:"job_type"`
	Payload         json.RawMessage `db:"payload" json:"payload"`
	Status          JobStatus       `db:"status" json:"status"`
	AttemptCount    int             `db:"attempt_count" json:"attempt_count"`
	MaxAttempts     int             `db:"max_attempts" json:"max_attempts"`
	NextRetryAt     time.Time       `db:"next_retry_at" json:"next_retry_at"`
	LastAttemptedAt *time.Time      `db:"last_attempted_at" json:"last_attempted_at,omitempty"`
	CompletedAt     *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
	ErrorMessage    *string         `db:"error_message" json:"error_message,omitempty"`
	ErrorStack      *string         `db:"error_stack" json:"error_stack,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
}

// JobFailure is what the scheduler persists when an attempt fails
type JobFailure struct {
	AttemptCount int
	NextRetryAt  *time.Time // nil when the job is exhausted
	ErrorMessage *string
	ErrorStack   *string
}

// JobStats counts jobs per status
type JobStats map[JobStatus]int
