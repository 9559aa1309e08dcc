package services

import (
	"context"
	"sync"
	"time"

	"github.com/BradenHooton/petguard/internal/models"
)

// MockLoginAttemptRepository implements LoginAttemptReader and LoginAttemptWriter for testing
type MockLoginAttemptRepository struct {
	GetFailureStatsByEmailFunc func(ctx context.Context, email string, since time.Time) (*models.FailureWindowStats, error)
	CountFailuresByIPFunc      func(ctx context.Context, ipAddress string, since time.Time) (int, error)
	RecordFailureAndCountFunc  func(ctx context.Context, attempt *models.LoginAttempt, since time.Time) (int, error)
	RecordSuccessAndResetFunc  func(ctx context.Context, attempt *models.LoginAttempt) (int64, error)
}

func (m *MockLoginAttemptRepository) GetFailureStatsByEmail(ctx context.Context, email string, since time.Time) (*models.FailureWindowStats, error) {
	if m.GetFailureStatsByEmailFunc != nil {
		return m.GetFailureStatsByEmailFunc(ctx, email, since)
	}
	return &models.FailureWindowStats{}, nil
}

func (m *MockLoginAttemptRepository) CountFailuresByIP(ctx context.Context, ipAddress string, since time.Time) (int, error) {
	if m.CountFailuresByIPFunc != nil {
		return m.CountFailuresByIPFunc(ctx, ipAddress, since)
	}
	return 0, nil
}

func (m *MockLoginAttemptRepository) RecordFailureAndCount(ctx context.Context, attempt *models.LoginAttempt, since time.Time) (int, error) {
	if m.RecordFailureAndCountFunc != nil {
		return m.RecordFailureAndCountFunc(ctx, attempt, since)
	}
	return 1, nil
}

func (m *MockLoginAttemptRepository) RecordSuccessAndReset(ctx context.Context, attempt *models.LoginAttempt) (int64, error) {
	if m.RecordSuccessAndResetFunc != nil {
		return m.RecordSuccessAndResetFunc(ctx, attempt)
	}
	return 0, nil
}

// MockWhitelist implements WhitelistChecker for testing
type MockWhitelist struct {
	ContainsFunc func(ctx context.Context, ipAddress string) (bool, error)
}

func (m *MockWhitelist) Contains(ctx context.Context, ipAddress string) (bool, error) {
	if m.ContainsFunc != nil {
		return m.ContainsFunc(ctx, ipAddress)
	}
	return false, nil
}

// MockBlockedIPRepository implements BlockedIPRepository for testing
type MockBlockedIPRepository struct {
	GetActiveFunc      func(ctx context.Context, ipAddress string, now time.Time) (*models.BlockedIP, error)
	InsertOrExtendFunc func(ctx context.Context, block *models.BlockedIP, now time.Time) (*models.BlockedIP, bool, error)
	ListActiveFunc     func(ctx context.Context, now time.Time, limit, offset int) ([]*models.BlockedIP, error)
}

func (m *MockBlockedIPRepository) GetActive(ctx context.Context, ipAddress string, now time.Time) (*models.BlockedIP, error) {
	if m.GetActiveFunc != nil {
		return m.GetActiveFunc(ctx, ipAddress, now)
	}
	return nil, models.ErrNotFound
}

func (m *MockBlockedIPRepository) InsertOrExtend(ctx context.Context, block *models.BlockedIP, now time.Time) (*models.BlockedIP, bool, error) {
	if m.InsertOrExtendFunc != nil {
		return m.InsertOrExtendFunc(ctx, block, now)
	}
	created := *block
	created.ID = "block_1"
	created.CreatedAt = now
	return &created, false, nil
}

func (m *MockBlockedIPRepository) ListActive(ctx context.Context, now time.Time, limit, offset int) ([]*models.BlockedIP, error) {
	if m.ListActiveFunc != nil {
		return m.ListActiveFunc(ctx, now, limit, offset)
	}
	return []*models.BlockedIP{}, nil
}

// MockIPWhitelistRepository implements IPWhitelistRepository for testing
type MockIPWhitelistRepository struct {
	ContainsFunc func(ctx context.Context, ipAddress string) (bool, error)
	AddFunc      func(ctx context.Context, ipAddress, description string) (*models.IPWhitelistEntry, error)
	RemoveFunc   func(ctx context.Context, ipAddress string) error
	ListFunc     func(ctx context.Context) ([]*models.IPWhitelistEntry, error)
}

func (m *MockIPWhitelistRepository) Contains(ctx context.Context, ipAddress string) (bool, error) {
	if m.ContainsFunc != nil {
		return m.ContainsFunc(ctx, ipAddress)
	}
	return false, nil
}

func (m *MockIPWhitelistRepository) Add(ctx context.Context, ipAddress, description string) (*models.IPWhitelistEntry, error) {
	if m.AddFunc != nil {
		return m.AddFunc(ctx, ipAddress, description)
	}
	return &models.IPWhitelistEntry{ID: "wl_1", IPAddress: ipAddress, Description: description}, nil
}

func (m *MockIPWhitelistRepository) Remove(ctx context.Context, ipAddress string) error {
	if m.RemoveFunc != nil {
		return m.RemoveFunc(ctx, ipAddress)
	}
	return nil
}

func (m *MockIPWhitelistRepository) List(ctx context.Context) ([]*models.IPWhitelistEntry, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx)
	}
	return []*models.IPWhitelistEntry{}, nil
}

// RecordingAlertDispatcher captures alerts for assertions
type RecordingAlertDispatcher struct {
	mu     sync.Mutex
	Alerts []models.Alert
}

func (d *RecordingAlertDispatcher) Notify(ctx context.Context, alert models.Alert) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Alerts = append(d.Alerts, alert)
}

// Snapshot returns a copy of the captured alerts
func (d *RecordingAlertDispatcher) Snapshot() []models.Alert {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]models.Alert(nil), d.Alerts...)
}

// MockEmailSender implements EmailSender for testing
type MockEmailSender struct {
	SendFunc func(ctx context.Context, msg EmailMessage) error
}

func (m *MockEmailSender) Send(ctx context.Context, msg EmailMessage) error {
	if m.SendFunc != nil {
		return m.SendFunc(ctx, msg)
	}
	return nil
}

// MockJobEnqueuer implements JobEnqueuer for testing
type MockJobEnqueuer struct {
	EnqueueFunc func(ctx context.Context, jobType models.JobType, jobName string, payload any, maxAttempts int) (*models.FailedJob, error)
}

func (m *MockJobEnqueuer) Enqueue(ctx context.Context, jobType models.JobType, jobName string, payload any, maxAttempts int) (*models.FailedJob, error) {
	if m.EnqueueFunc != nil {
		return m.EnqueueFunc(ctx, jobType, jobName, payload, maxAttempts)
	}
	return &models.FailedJob{ID: "job_1", JobType: jobType, JobName: jobName}, nil
}

// FuncJobHandler adapts a function to JobHandler
type FuncJobHandler struct {
	JobType    models.JobType
	HandleFunc func(ctx context.Context, job *models.FailedJob) (bool, error)
}

func (h *FuncJobHandler) Type() models.JobType { return h.JobType }

func (h *FuncJobHandler) Handle(ctx context.Context, job *models.FailedJob) (bool, error) {
	return h.HandleFunc(ctx, job)
}

// NewTestJob builds a due pending job
func NewTestJob(id string, jobType models.JobType, attemptCount, maxAttempts int, due time.Time) *models.FailedJob {
	return &models.FailedJob{
		ID:           id,
		JobName:      "test-" + string(jobType),
		JobType:      jobType,
		Payload:      []byte(`{}`),
		Status:       models.JobStatusPending,
		AttemptCount: attemptCount,
		MaxAttempts:  maxAttempts,
		NextRetryAt:  due,
		CreatedAt:    due,
	}
}
