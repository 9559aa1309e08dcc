package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/petguard/internal/models"
	"github.com/BradenHooton/petguard/internal/services"
	pkghttp "github.com/BradenHooton/petguard/pkg/http"
	"github.com/go-chi/chi/v5"
)

const maxJobBodyBytes = 256 << 10

// JobQueueService is the job queue contract used by JobsHandler
type JobQueueService interface {
	Enqueue(ctx context.Context, jobType models.JobType, jobName string, payload any, maxAttempts int) (*models.FailedJob, error)
	Requeue(ctx context.Context, id string) (*models.FailedJob, error)
	List(ctx context.Context, status models.JobStatus, limit, offset int) ([]*models.FailedJob, error)
	Stats(ctx context.Context) (models.JobStats, error)
}

// RetryRunner runs one scheduler pass
type RetryRunner interface {
	Run(ctx context.Context) (*services.RunSummary, error)
}

// JobsHandler exposes the retry engine to the trusted scheduler
type JobsHandler struct {
	queue     JobQueueService
	scheduler RetryRunner
	logger    *slog.Logger
}

// NewJobsHandler creates a new JobsHandler
func NewJobsHandler(queue JobQueueService, scheduler RetryRunner, logger *slog.Logger) *JobsHandler {
	return &JobsHandler{
		queue:     queue,
		scheduler: scheduler,
		logger:    logger,
	}
}

// EnqueueJobRequest is the body of POST /jobs
type EnqueueJobRequest struct {
	JobType     string          `json:"job_type" validate:"required,oneof=edge_function email notification api_call"`
	JobName     string          `json:"job_name" validate:"required,max=255"`
	Payload     json.RawMessage `json:"payload" validate:"required"`
	MaxAttempts int             `json:"max_attempts,omitempty" validate:"omitempty,min=1,max=50"`
}

// ListJobsResponse is the body of GET /jobs
type ListJobsResponse struct {
	Jobs  []*models.FailedJob `json:"jobs"`
	Stats models.JobStats     `json:"stats"`
}

// RunRetries handles POST /jobs/retry/run
func (h *JobsHandler) RunRetries(w http.ResponseWriter, r *http.Request) {
	summary, err := h.scheduler.Run(r.Context())
	if err != nil {
		h.logger.Error("retry run failed", slog.Any("error", err))
		pkghttp.WriteStoreUnavailable(w, "Failed to select due jobs")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, summary)
}

// Enqueue handles POST /jobs
func (h *JobsHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req EnqueueJobRequest
	if !decodeJSON(w, r, maxJobBodyBytes, &req) {
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteValidationError(w, err.Error())
		return
	}

	job, err := h.queue.Enqueue(r.Context(), models.JobType(req.JobType), req.JobName, req.Payload, req.MaxAttempts)
	if err != nil {
		if errors.Is(err, models.ErrValidation) || errors.Is(err, models.ErrUnknownJobType) {
			pkghttp.WriteValidationError(w, err.Error())
			return
		}
		h.logger.Error("failed to enqueue job", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Failed to enqueue job")
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, job)
}

// List handles GET /jobs?status=&limit=&offset=
func (h *JobsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r, 50, 200)
	status := models.JobStatus(r.URL.Query().Get("status"))

	jobs, err := h.queue.List(r.Context(), status, limit, offset)
	if err != nil {
		if errors.Is(err, models.ErrValidation) {
			pkghttp.WriteValidationError(w, err.Error())
			return
		}
		h.logger.Error("failed to list jobs", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Failed to list jobs")
		return
	}

	stats, err := h.queue.Stats(r.Context())
	if err != nil {
		h.logger.Error("failed to count jobs", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Failed to list jobs")
		return
	}

	if jobs == nil {
		jobs = []*models.FailedJob{}
	}

	pkghttp.WriteJSON(w, http.StatusOK, ListJobsResponse{Jobs: jobs, Stats: stats})
}

// Requeue handles POST /jobs/{id}/requeue
func (h *JobsHandler) Requeue(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	job, err := h.queue.Requeue(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrValidation):
			pkghttp.WriteValidationError(w, err.Error())
		case errors.Is(err, models.ErrNotFound):
			pkghttp.WriteNotFound(w, "Job not found")
		case errors.Is(err, models.ErrJobNotFailed):
			pkghttp.WriteConflict(w, "Only failed jobs can be requeued")
		default:
			h.logger.Error("failed to requeue job", slog.String("job_id", id), slog.Any("error", err))
			pkghttp.WriteInternalError(w, "Failed to requeue job")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, job)
}
