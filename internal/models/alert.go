package models

import "time"

// AlertKind classifies a notification sent to the AlertDispatcher
type AlertKind string

const (
	AlertLoginMilestone      AlertKind = "login_milestone"
	AlertIPAutoBlocked       AlertKind = "ip_auto_blocked"
	AlertJobPermanentFailure AlertKind = "job_permanent_failure"
)

// AlertSeverity mirrors how loudly an alert should be routed
type AlertSeverity string

const (
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// Alert is the payload handed to an AlertDispatcher
type Alert struct {
	Kind       AlertKind         `json:"kind"`
	Severity   AlertSeverity     `json:"severity"`
	Subject    string            `json:"subject"`
	Message    string            `json:"message"`
	Fields     map[string]string `json:"fields,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}
