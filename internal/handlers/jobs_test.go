package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/BradenHooton/petguard/internal/handlers"
	"github.com/BradenHooton/petguard/internal/models"
	"github.com/BradenHooton/petguard/internal/services"
	pkghttp "github.com/BradenHooton/petguard/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testJobID = "6f1c1f0e-4f57-4d8b-9d1e-2f6a8f0c3b11"

func TestRunRetries_ReturnsSummary(t *testing.T) {
	runner := &handlers.MockRetryRunner{
		RunFunc: func(ctx context.Context) (*services.RunSummary, error) {
			return &services.RunSummary{Selected: 3, Claimed: 3, Succeeded: 2, Retried: 1}, nil
		},
	}
	h := handlers.NewJobsHandler(&handlers.MockJobQueue{}, runner, discardLogger())

	w := httptest.NewRecorder()
	h.RunRetries(w, httptest.NewRequest(http.MethodPost, "/jobs/retry/run", nil))

	var resp services.RunSummary
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, 3, resp.Selected)
	assert.Equal(t, 2, resp.Succeeded)
	assert.Equal(t, 1, resp.Retried)
}

func TestRunRetries_StoreDown_Returns500(t *testing.T) {
	runner := &handlers.MockRetryRunner{
		RunFunc: func(ctx context.Context) (*services.RunSummary, error) {
			return nil, models.ErrStoreUnavailable
		},
	}
	h := handlers.NewJobsHandler(&handlers.MockJobQueue{}, runner, discardLogger())

	w := httptest.NewRecorder()
	h.RunRetries(w, httptest.NewRequest(http.MethodPost, "/jobs/retry/run", nil))

	handlers.AssertErrorResponse(t, w, http.StatusInternalServerError, pkghttp.CodeStoreUnavailable)
}

func TestEnqueueJob(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		queueErr   error
		wantStatus int
	}{
		{"created", `{"job_type":"email","job_name":"order-receipt","payload":{"to":["a@b.test"]}}`, nil, http.StatusCreated},
		{"unknown type rejected before queue", `{"job_type":"sms","job_name":"x","payload":{}}`, nil, http.StatusBadRequest},
		{"payload required", `{"job_type":"email","job_name":"x"}`, nil, http.StatusBadRequest},
		{"max attempts bounded", `{"job_type":"email","job_name":"x","payload":{},"max_attempts":500}`, nil, http.StatusBadRequest},
		{"queue validation", `{"job_type":"email","job_name":"x","payload":{}}`, models.ErrValidation, http.StatusBadRequest},
		{"store failure", `{"job_type":"email","job_name":"x","payload":{}}`, errors.New("db down"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			queue := &handlers.MockJobQueue{
				EnqueueFunc: func(ctx context.Context, jobType models.JobType, jobName string, payload any, maxAttempts int) (*models.FailedJob, error) {
					if tt.queueErr != nil {
						return nil, tt.queueErr
					}
					raw, ok := payload.(json.RawMessage)
					require.True(t, ok)
					return &models.FailedJob{ID: testJobID, JobType: jobType, JobName: jobName, Payload: raw, Status: models.JobStatusPending}, nil
				},
			}
			h := handlers.NewJobsHandler(queue, &handlers.MockRetryRunner{}, discardLogger())

			w := httptest.NewRecorder()
			h.Enqueue(w, httptest.NewRequest(http.MethodPost, "/jobs", strings.NewReader(tt.body)))

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusCreated {
				var job models.FailedJob
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))
				assert.Equal(t, testJobID, job.ID)
				assert.Equal(t, models.JobStatusPending, job.Status)
				assert.JSONEq(t, `{"to":["a@b.test"]}`, string(job.Payload))
			}
		})
	}
}

func TestListJobs_PassesFiltersAndStats(t *testing.T) {
	var gotStatus models.JobStatus
	var gotLimit, gotOffset int
	queue := &handlers.MockJobQueue{
		ListFunc: func(ctx context.Context, status models.JobStatus, limit, offset int) ([]*models.FailedJob, error) {
			gotStatus, gotLimit, gotOffset = status, limit, offset
			return []*models.FailedJob{{ID: testJobID, Status: models.JobStatusFailed}}, nil
		},
		StatsFunc: func(ctx context.Context) (models.JobStats, error) {
			return models.JobStats{models.JobStatusFailed: 1, models.JobStatusPending: 4}, nil
		},
	}
	h := handlers.NewJobsHandler(queue, &handlers.MockRetryRunner{}, discardLogger())

	w := httptest.NewRecorder()
	h.List(w, httptest.NewRequest(http.MethodGet, "/jobs?status=failed&limit=20&offset=40", nil))

	var resp handlers.ListJobsResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, models.JobStatusFailed, gotStatus)
	assert.Equal(t, 20, gotLimit)
	assert.Equal(t, 40, gotOffset)
	require.Len(t, resp.Jobs, 1)
	assert.Equal(t, 4, resp.Stats[models.JobStatusPending])
}

func TestListJobs_DefaultsAndEmpty(t *testing.T) {
	var gotLimit int
	queue := &handlers.MockJobQueue{
		ListFunc: func(ctx context.Context, status models.JobStatus, limit, offset int) ([]*models.FailedJob, error) {
			gotLimit = limit
			return nil, nil
		},
	}
	h := handlers.NewJobsHandler(queue, &handlers.MockRetryRunner{}, discardLogger())

	w := httptest.NewRecorder()
	h.List(w, httptest.NewRequest(http.MethodGet, "/jobs?limit=9999", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 50, gotLimit)
	assert.Contains(t, w.Body.String(), `"jobs":[]`)
}

func TestRequeueJob(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"requeued", nil, http.StatusOK},
		{"bad id", models.ErrValidation, http.StatusBadRequest},
		{"missing", models.ErrNotFound, http.StatusNotFound},
		{"not failed", models.ErrJobNotFailed, http.StatusConflict},
		{"store", errors.New("db down"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotID string
			queue := &handlers.MockJobQueue{
				RequeueFunc: func(ctx context.Context, id string) (*models.FailedJob, error) {
					gotID = id
					if tt.err != nil {
						return nil, tt.err
					}
					return &models.FailedJob{ID: id, Status: models.JobStatusPending}, nil
				},
			}
			h := handlers.NewJobsHandler(queue, &handlers.MockRetryRunner{}, discardLogger())

			req := httptest.NewRequest(http.MethodPost, "/jobs/"+testJobID+"/requeue", nil)
			req = handlers.WithChiRouteContext(req, map[string]string{"id": testJobID})
			w := httptest.NewRecorder()
			h.Requeue(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, testJobID, gotID)
		})
	}
}
