package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BradenHooton/petguard/internal/models"
	pkglogger "github.com/BradenHooton/petguard/pkg/logger"
)

// AlertDispatcher receives security and job alerts. Notify is fire-and-forget: delivery
// problems are handled inside the dispatcher and never reach the caller.
type AlertDispatcher interface {
	Notify(ctx context.Context, alert models.Alert)
}

// JobEnqueuer is the landing zone for side effects that failed synchronously
type JobEnqueuer interface {
	Enqueue(ctx context.Context, jobType models.JobType, jobName string, payload any, maxAttempts int) (*models.FailedJob, error)
}

// LogAlertDispatcher writes alerts to the structured security log
type LogAlertDispatcher struct {
	security *pkglogger.SecurityLogger
}

// NewLogAlertDispatcher creates a LogAlertDispatcher
func NewLogAlertDispatcher(logger *slog.Logger) *LogAlertDispatcher {
	return &LogAlertDispatcher{security: pkglogger.NewSecurityLogger(logger)}
}

// Notify logs the alert, at error level when critical
func (d *LogAlertDispatcher) Notify(ctx context.Context, alert models.Alert) {
	level := slog.LevelWarn
	if alert.Severity == models.SeverityCritical {
		level = slog.LevelError
	}

	metadata := make(map[string]string, len(alert.Fields)+2)
	for k, v := range alert.Fields {
		metadata[k] = v
	}
	metadata["severity"] = string(alert.Severity)
	metadata["subject"] = alert.Subject

	email := metadata["email"]
	delete(metadata, "email")
	ip := metadata["ip_address"]
	delete(metadata, "ip_address")

	d.security.Log(ctx, pkglogger.SecurityEvent{
		EventType: "alert." + string(alert.Kind),
		Email:     email,
		IPAddress: ip,
		Severity:  level,
		Metadata:  metadata,
	})
}

// maxInflightAlertEmails bounds concurrent SES sends; beyond it alerts go straight to the queue
const maxInflightAlertEmails = 16

// EmailAlertDispatcher emails alerts to operators. Delivery runs in the background so the
// login path never waits on SES. When delivery fails the alert is enqueued as an email
// job so the retry engine delivers it later.
type EmailAlertDispatcher struct {
	sender     EmailSender
	queue      JobEnqueuer
	recipients []string
	timeout    time.Duration
	inflight   chan struct{}
	wg         sync.WaitGroup
	logger     *slog.Logger
}

// NewEmailAlertDispatcher creates an EmailAlertDispatcher sending to recipients
func NewEmailAlertDispatcher(sender EmailSender, queue JobEnqueuer, recipients []string, logger *slog.Logger) *EmailAlertDispatcher {
	return &EmailAlertDispatcher{
		sender:     sender,
		queue:      queue,
		recipients: recipients,
		timeout:    5 * time.Second,
		inflight:   make(chan struct{}, maxInflightAlertEmails),
		logger:     logger,
	}
}

// Notify returns immediately. The send is detached from ctx so a finished request does
// not drop the alert.
func (d *EmailAlertDispatcher) Notify(ctx context.Context, alert models.Alert) {
	if len(d.recipients) == 0 {
		return
	}

	msg := renderAlertEmail(alert, d.recipients)
	detached := context.WithoutCancel(ctx)

	d.wg.Add(1)
	select {
	case d.inflight <- struct{}{}:
		go func() {
			defer d.wg.Done()
			defer func() { <-d.inflight }()
			d.deliver(detached, alert, msg)
		}()
	default:
		go func() {
			defer d.wg.Done()
			d.enqueueFallback(detached, alert, msg, errors.New("too many alert emails in flight"))
		}()
	}
}

// Wait blocks until every background delivery has finished
func (d *EmailAlertDispatcher) Wait() {
	d.wg.Wait()
}

func (d *EmailAlertDispatcher) deliver(ctx context.Context, alert models.Alert, msg EmailMessage) {
	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	err := d.sender.Send(sendCtx, msg)
	cancel()
	if err == nil {
		return
	}

	d.enqueueFallback(ctx, alert, msg, err)
}

// enqueueFallback hands an undelivered alert to the retry queue
func (d *EmailAlertDispatcher) enqueueFallback(ctx context.Context, alert models.Alert, msg EmailMessage, sendErr error) {
	// An exhausted email job must not spawn another email job
	if alert.Kind == models.AlertJobPermanentFailure && alert.Fields["job_type"] == string(models.JobTypeEmail) {
		d.logger.Error("dropping alert email for failed email job",
			slog.String("subject", alert.Subject),
			slog.Any("error", sendErr))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if _, err := d.queue.Enqueue(ctx, models.JobTypeEmail, "alert:"+string(alert.Kind), msg, 0); err != nil {
		d.logger.Error("failed to enqueue alert email",
			slog.String("subject", alert.Subject),
			slog.Any("send_error", sendErr),
			slog.Any("error", err))
		return
	}

	d.logger.Warn("alert email deferred to retry queue",
		slog.String("subject", alert.Subject),
		slog.Any("error", sendErr))
}

func renderAlertEmail(alert models.Alert, recipients []string) EmailMessage {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", alert.Message)
	fmt.Fprintf(&b, "kind: %s\nseverity: %s\noccurred_at: %s\n",
		alert.Kind, alert.Severity, alert.OccurredAt.UTC().Format(time.RFC3339))

	keys := make([]string, 0, len(alert.Fields))
	for k := range alert.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\n", k, alert.Fields[k])
	}

	return EmailMessage{
		To:       recipients,
		Subject:  fmt.Sprintf("[%s] %s", strings.ToUpper(string(alert.Severity)), alert.Subject),
		TextBody: b.String(),
	}
}

// MultiAlertDispatcher fans an alert out to every dispatcher in order
type MultiAlertDispatcher []AlertDispatcher

// Notify forwards alert to each dispatcher
func (m MultiAlertDispatcher) Notify(ctx context.Context, alert models.Alert) {
	for _, d := range m {
		d.Notify(ctx, alert)
	}
}
