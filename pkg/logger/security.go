package logger

import (
	"context"
	"log/slog"
	"sort"
	"time"
)

// SecurityEvent is a structured record of a throttling or queue decision
type SecurityEvent struct {
	EventType string
	Email     string // masked before it is written
	IPAddress string
	Severity  slog.Level
	Metadata  map[string]string
}

// SecurityLogger writes security events with a stable attribute layout
type SecurityLogger struct {
	logger *slog.Logger
}

// NewSecurityLogger creates a new security logger
func NewSecurityLogger(logger *slog.Logger) *SecurityLogger {
	return &SecurityLogger{
		logger: logger,
	}
}

// Log writes a security event
func (sl *SecurityLogger) Log(ctx context.Context, event SecurityEvent) {
	attrs := []slog.Attr{
		slog.String("audit_type", "security"),
		slog.String("event_type", event.EventType),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if event.Email != "" {
		attrs = append(attrs, slog.String("email", SanitizedEmail(event.Email)))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}

	// Deterministic attribute order keeps log diffs readable
	keys := make([]string, 0, len(event.Metadata))
	for key := range event.Metadata {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		attrs = append(attrs, slog.String(key, event.Metadata[key]))
	}

	sl.logger.LogAttrs(ctx, event.Severity, "security", attrs...)
}
