package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BradenHooton/petguard/internal/auth"
	"github.com/BradenHooton/petguard/internal/models"
	"github.com/BradenHooton/petguard/internal/services"
	pkghttp "github.com/BradenHooton/petguard/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithServiceRole marks the request as coming from a trusted service caller
func WithServiceRole(req *http.Request) *http.Request {
	claims := &auth.ServiceClaims{Role: auth.ServiceRole}
	ctx := context.WithValue(req.Context(), auth.ServiceClaimsContextKey, claims)
	return req.WithContext(ctx)
}

// WithChiRouteContext sets chi URL parameters that the router would normally extract
func WithChiRouteContext(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// MockLoginGuard implements LoginGuard for testing
type MockLoginGuard struct {
	CheckFunc func(ctx context.Context, email, ipAddress string) (*services.GuardDecision, error)
}

func (m *MockLoginGuard) Check(ctx context.Context, email, ipAddress string) (*services.GuardDecision, error) {
	if m.CheckFunc == nil {
		return &services.GuardDecision{Allowed: true}, nil
	}
	return m.CheckFunc(ctx, email, ipAddress)
}

// MockLoginRecorder implements LoginRecorder for testing
type MockLoginRecorder struct {
	RecordFunc func(ctx context.Context, email string, success bool, ipAddress, userAgent string) error
}

func (m *MockLoginRecorder) Record(ctx context.Context, email string, success bool, ipAddress, userAgent string) error {
	if m.RecordFunc == nil {
		return nil
	}
	return m.RecordFunc(ctx, email, success, ipAddress, userAgent)
}

// MockJobQueue implements JobQueueService for testing
type MockJobQueue struct {
	EnqueueFunc func(ctx context.Context, jobType models.JobType, jobName string, payload any, maxAttempts int) (*models.FailedJob, error)
	RequeueFunc func(ctx context.Context, id string) (*models.FailedJob, error)
	ListFunc    func(ctx context.Context, status models.JobStatus, limit, offset int) ([]*models.FailedJob, error)
	StatsFunc   func(ctx context.Context) (models.JobStats, error)
}

func (m *MockJobQueue) Enqueue(ctx context.Context, jobType models.JobType, jobName string, payload any, maxAttempts int) (*models.FailedJob, error) {
	if m.EnqueueFunc == nil {
		return &models.FailedJob{JobType: jobType, JobName: jobName, Status: models.JobStatusPending}, nil
	}
	return m.EnqueueFunc(ctx, jobType, jobName, payload, maxAttempts)
}

func (m *MockJobQueue) Requeue(ctx context.Context, id string) (*models.FailedJob, error) {
	if m.RequeueFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.RequeueFunc(ctx, id)
}

func (m *MockJobQueue) List(ctx context.Context, status models.JobStatus, limit, offset int) ([]*models.FailedJob, error) {
	if m.ListFunc == nil {
		return nil, nil
	}
	return m.ListFunc(ctx, status, limit, offset)
}

func (m *MockJobQueue) Stats(ctx context.Context) (models.JobStats, error) {
	if m.StatsFunc == nil {
		return models.JobStats{}, nil
	}
	return m.StatsFunc(ctx)
}

// MockRetryRunner implements RetryRunner for testing
type MockRetryRunner struct {
	RunFunc func(ctx context.Context) (*services.RunSummary, error)
}

func (m *MockRetryRunner) Run(ctx context.Context) (*services.RunSummary, error) {
	if m.RunFunc == nil {
		return &services.RunSummary{}, nil
	}
	return m.RunFunc(ctx)
}

// MockWhitelistAdmin implements WhitelistAdmin for testing
type MockWhitelistAdmin struct {
	AddFunc    func(ctx context.Context, ipAddress, description string) (*models.IPWhitelistEntry, error)
	RemoveFunc func(ctx context.Context, ipAddress string) error
	ListFunc   func(ctx context.Context) ([]*models.IPWhitelistEntry, error)
}

func (m *MockWhitelistAdmin) Add(ctx context.Context, ipAddress, description string) (*models.IPWhitelistEntry, error) {
	if m.AddFunc == nil {
		return &models.IPWhitelistEntry{IPAddress: ipAddress, Description: description}, nil
	}
	return m.AddFunc(ctx, ipAddress, description)
}

func (m *MockWhitelistAdmin) Remove(ctx context.Context, ipAddress string) error {
	if m.RemoveFunc == nil {
		return nil
	}
	return m.RemoveFunc(ctx, ipAddress)
}

func (m *MockWhitelistAdmin) List(ctx context.Context) ([]*models.IPWhitelistEntry, error) {
	if m.ListFunc == nil {
		return nil, nil
	}
	return m.ListFunc(ctx)
}

// MockBlocklistReader implements BlocklistReader for testing
type MockBlocklistReader struct {
	ListActiveFunc func(ctx context.Context, limit, offset int) ([]*models.BlockedIP, error)
}

func (m *MockBlocklistReader) ListActive(ctx context.Context, limit, offset int) ([]*models.BlockedIP, error) {
	if m.ListActiveFunc == nil {
		return nil, nil
	}
	return m.ListActiveFunc(ctx, limit, offset)
}
