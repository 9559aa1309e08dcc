package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BradenHooton/petguard/internal/models"
)

// memoryLedger is an in-process attempt ledger with the same semantics as the SQL one
type memoryLedger struct {
	mu       sync.Mutex
	attempts []models.LoginAttempt
	inserts  int
}

func (l *memoryLedger) GetFailureStatsByEmail(ctx context.Context, email string, since time.Time) (*models.FailureWindowStats, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	stats := &models.FailureWindowStats{}
	for _, a := range l.attempts {
		if a.Email == email && !a.Success && !a.AttemptTime.Before(since) {
			stats.Count++
			if stats.OldestFailure == nil || a.AttemptTime.Before(*stats.OldestFailure) {
				t := a.AttemptTime
				stats.OldestFailure = &t
			}
		}
	}
	return stats, nil
}

func (l *memoryLedger) CountFailuresByIP(ctx context.Context, ipAddress string, since time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	count := 0
	for _, a := range l.attempts {
		if a.IPAddress != nil && *a.IPAddress == ipAddress && !a.Success && !a.AttemptTime.Before(since) {
			count++
		}
	}
	return count, nil
}

func (l *memoryLedger) RecordFailureAndCount(ctx context.Context, attempt *models.LoginAttempt, since time.Time) (int, error) {
	l.mu.Lock()
	l.attempts = append(l.attempts, *attempt)
	l.inserts++
	l.mu.Unlock()

	stats, _ := l.GetFailureStatsByEmail(ctx, attempt.Email, since)
	return stats.Count, nil
}

func (l *memoryLedger) RecordSuccessAndReset(ctx context.Context, attempt *models.LoginAttempt) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.attempts[:0]
	var purged int64
	for _, a := range l.attempts {
		if a.Email == attempt.Email && !a.Success {
			purged++
			continue
		}
		kept = append(kept, a)
	}
	l.attempts = append(kept, *attempt)
	l.inserts++
	return purged, nil
}

// memoryBlocks keeps at most one active row per IP, extending it on re-insert
type memoryBlocks struct {
	mu     sync.Mutex
	blocks []*models.BlockedIP
}

func (b *memoryBlocks) GetActive(ctx context.Context, ipAddress string, now time.Time) (*models.BlockedIP, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, blk := range b.blocks {
		if blk.IPAddress == ipAddress && blk.IsActive(now) {
			cp := *blk
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (b *memoryBlocks) InsertOrExtend(ctx context.Context, block *models.BlockedIP, now time.Time) (*models.BlockedIP, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, blk := range b.blocks {
		if blk.IPAddress == block.IPAddress && blk.IsActive(now) {
			if block.BlockedUntil.After(blk.BlockedUntil) {
				blk.BlockedUntil = block.BlockedUntil
			}
			blk.Reason = block.Reason
			cp := *blk
			return &cp, true, nil
		}
	}

	created := *block
	created.ID = "block"
	created.CreatedAt = now
	b.blocks = append(b.blocks, &created)
	cp := created
	return &cp, false, nil
}

func (b *memoryBlocks) ListActive(ctx context.Context, now time.Time, limit, offset int) ([]*models.BlockedIP, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []*models.BlockedIP
	for _, blk := range b.blocks {
		if blk.IsActive(now) {
			cp := *blk
			out = append(out, &cp)
		}
	}
	return out, nil
}

// memoryJobs is a FailedJobRepository whose transitions are guarded like the SQL ones
type memoryJobs struct {
	mu   sync.Mutex
	jobs map[string]*models.FailedJob
}

func newMemoryJobs(jobs ...*models.FailedJob) *memoryJobs {
	m := &memoryJobs{jobs: make(map[string]*models.FailedJob)}
	for _, j := range jobs {
		m.jobs[j.ID] = j
	}
	return m
}

func (m *memoryJobs) get(id string) models.FailedJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.jobs[id]
}

func (m *memoryJobs) Create(ctx context.Context, job *models.FailedJob) (*models.FailedJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	m.jobs[job.ID] = &cp
	return &cp, nil
}

func (m *memoryJobs) GetByID(ctx context.Context, id string) (*models.FailedJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *memoryJobs) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.FailedJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.FailedJob
	for _, j := range m.jobs {
		if j.Status == models.JobStatusPending && !j.NextRetryAt.After(now) && j.AttemptCount < j.MaxAttempts {
			cp := *j
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].NextRetryAt.Before(out[b].NextRetryAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryJobs) Claim(ctx context.Context, id string, now time.Time) (*models.FailedJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok || j.Status != models.JobStatusPending || j.NextRetryAt.After(now) || j.AttemptCount >= j.MaxAttempts {
		return nil, models.ErrJobNotClaimable
	}
	j.Status = models.JobStatusRetrying
	j.LastAttemptedAt = &now
	cp := *j
	return &cp, nil
}

func (m *memoryJobs) RequeueStale(ctx context.Context, claimedBefore, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, j := range m.jobs {
		if j.Status == models.JobStatusRetrying && j.LastAttemptedAt != nil && j.LastAttemptedAt.Before(claimedBefore) {
			j.Status = models.JobStatusPending
			j.NextRetryAt = now
			msg := "claim expired before the outcome was recorded"
			j.ErrorMessage = &msg
			n++
		}
	}
	return n, nil
}

func (m *memoryJobs) MarkSucceeded(ctx context.Context, id string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j := m.jobs[id]
	if j.Status != models.JobStatusRetrying {
		return models.ErrJobNotClaimable
	}
	j.Status = models.JobStatusSucceeded
	j.CompletedAt = &now
	return nil
}

func (m *memoryJobs) MarkRetry(ctx context.Context, id string, failure models.JobFailure) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j := m.jobs[id]
	if j.Status != models.JobStatusRetrying {
		return models.ErrJobNotClaimable
	}
	j.Status = models.JobStatusPending
	j.AttemptCount = failure.AttemptCount
	j.NextRetryAt = *failure.NextRetryAt
	if failure.ErrorMessage != nil {
		j.ErrorMessage = failure.ErrorMessage
	}
	if failure.ErrorStack != nil {
		j.ErrorStack = failure.ErrorStack
	}
	return nil
}

func (m *memoryJobs) MarkFailed(ctx context.Context, id string, failure models.JobFailure, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j := m.jobs[id]
	if j.Status != models.JobStatusRetrying {
		return models.ErrJobNotClaimable
	}
	j.Status = models.JobStatusFailed
	j.AttemptCount = failure.AttemptCount
	j.CompletedAt = &now
	if failure.ErrorMessage != nil {
		j.ErrorMessage = failure.ErrorMessage
	}
	if failure.ErrorStack != nil {
		j.ErrorStack = failure.ErrorStack
	}
	return nil
}

func (m *memoryJobs) Requeue(ctx context.Context, id string, now time.Time) (*models.FailedJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	if j.Status != models.JobStatusFailed {
		return nil, models.ErrJobNotFailed
	}
	j.Status = models.JobStatusPending
	j.AttemptCount = 0
	j.NextRetryAt = now
	j.CompletedAt = nil
	cp := *j
	return &cp, nil
}

func (m *memoryJobs) List(ctx context.Context, status models.JobStatus, limit, offset int) ([]*models.FailedJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.FailedJob
	for _, j := range m.jobs {
		if status == "" || j.Status == status {
			cp := *j
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memoryJobs) CountByStatus(ctx context.Context) (models.JobStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := make(models.JobStats)
	for _, j := range m.jobs {
		stats[j.Status]++
	}
	return stats, nil
}
