package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/BradenHooton/petguard/internal/models"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue() (*JobQueue, *memoryJobs, *clockwork.FakeClock) {
	repo := newMemoryJobs()
	clock := clockwork.NewFakeClockAt(testEpoch)
	return NewJobQueue(repo, 5, clock, testLogger()), repo, clock
}

func TestJobQueueEnqueue_Defaults(t *testing.T) {
	queue, repo, _ := newTestQueue()

	job, err := queue.Enqueue(context.Background(), models.JobTypeNotification, "appointment-reminder",
		NotificationPayload{Title: "Reminder", Message: "Grooming at 3pm", Type: "reminder"}, 0)
	require.NoError(t, err)

	_, parseErr := uuid.Parse(job.ID)
	assert.NoError(t, parseErr)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, 0, job.AttemptCount)
	assert.Equal(t, 5, job.MaxAttempts)
	assert.Equal(t, testEpoch, job.NextRetryAt)

	var payload NotificationPayload
	require.NoError(t, json.Unmarshal(job.Payload, &payload))
	assert.Equal(t, "Grooming at 3pm", payload.Message)

	due, err := repo.ListDue(context.Background(), testEpoch, 10)
	require.NoError(t, err)
	assert.Len(t, due, 1)
}

func TestJobQueueEnqueue_ExplicitMaxAttemptsAndRawPayload(t *testing.T) {
	queue, _, _ := newTestQueue()

	job, err := queue.Enqueue(context.Background(), models.JobTypeAPICall, "webhook",
		json.RawMessage(`{"url":"https://example.com/hook"}`), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, job.MaxAttempts)
	assert.JSONEq(t, `{"url":"https://example.com/hook"}`, string(job.Payload))
}

func TestJobQueueEnqueue_Rejects(t *testing.T) {
	queue, _, _ := newTestQueue()
	ctx := context.Background()

	_, err := queue.Enqueue(ctx, models.JobType("sms"), "x", nil, 0)
	assert.ErrorIs(t, err, models.ErrUnknownJobType)

	_, err = queue.Enqueue(ctx, models.JobTypeEmail, "", nil, 0)
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = queue.Enqueue(ctx, models.JobTypeEmail, "bad-json", json.RawMessage(`{`), 0)
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestJobQueueCapture(t *testing.T) {
	queue, repo, _ := newTestQueue()
	ctx := context.Background()

	job, err := queue.Capture(ctx, models.JobTypeEmail, "receipt", EmailMessage{To: []string{"a@b.com"}},
		func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	assert.Nil(t, job)

	job, err = queue.Capture(ctx, models.JobTypeEmail, "receipt", EmailMessage{To: []string{"a@b.com"}},
		func(ctx context.Context) error { return errors.New("ses throttled") })
	require.NoError(t, err)
	require.NotNil(t, job)

	stats, err := queue.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats[models.JobStatusPending])
	assert.Len(t, repo.jobs, 1)
}

func TestJobQueueRequeue(t *testing.T) {
	queue, repo, clock := newTestQueue()
	ctx := context.Background()

	failedID := uuid.New().String()
	failed := NewTestJob(failedID, models.JobTypeEmail, 5, 5, testEpoch)
	failed.Status = models.JobStatusFailed
	completed := testEpoch
	failed.CompletedAt = &completed
	repo.jobs[failedID] = failed

	pendingID := uuid.New().String()
	repo.jobs[pendingID] = NewTestJob(pendingID, models.JobTypeEmail, 1, 5, testEpoch)

	clock.Advance(time.Hour)

	job, err := queue.Requeue(ctx, failedID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, 0, job.AttemptCount)
	assert.Equal(t, clock.Now(), job.NextRetryAt)
	assert.Nil(t, job.CompletedAt)

	_, err = queue.Requeue(ctx, pendingID)
	assert.ErrorIs(t, err, models.ErrJobNotFailed)

	_, err = queue.Requeue(ctx, uuid.New().String())
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = queue.Requeue(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestJobQueueList_RejectsUnknownStatus(t *testing.T) {
	queue, _, _ := newTestQueue()

	_, err := queue.List(context.Background(), models.JobStatus("paused"), 10, 0)
	assert.ErrorIs(t, err, models.ErrValidation)

	jobs, err := queue.List(context.Background(), "", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}
