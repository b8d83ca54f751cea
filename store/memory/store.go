// Package memory provides an in-memory Store for tests and development.
// A single mutex serves as the claim arbiter, giving ClaimBatch the same
// mutual-exclusion guarantee the Postgres store gets from SKIP LOCKED.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/odiseohq/mailqd/errors"
	"github.com/odiseohq/mailqd/job"
	"github.com/odiseohq/mailqd/store"
)

// Store implements store.Store with a mutex-guarded map.
type Store struct {
	mu     sync.Mutex
	jobs   map[int64]*job.Job
	nextID int64
	closed bool
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{jobs: make(map[int64]*job.Job)}
}

// Enqueue inserts a job with status pending and defaults applied.
func (m *Store) Enqueue(_ context.Context, j *job.Job) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, errors.NewQueueError("enqueue", 0, errors.ErrStoreClosed)
	}

	cp := j.Clone()
	now := time.Now().UTC()
	cp.Status = job.StatusPending
	if cp.Priority == 0 {
		cp.Priority = job.PriorityDefault
	}
	if cp.MaxRetries == 0 {
		cp.MaxRetries = job.MaxRetriesDefault
	}
	if cp.ScheduledFor.IsZero() {
		cp.ScheduledFor = now
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now

	if err := cp.Validate(); err != nil {
		return 0, errors.NewQueueError("enqueue", 0, err)
	}

	m.nextID++
	cp.ID = m.nextID
	m.jobs[cp.ID] = cp

	j.ID = cp.ID
	return cp.ID, nil
}

// ClaimBatch atomically claims up to limit eligible jobs, ordered by
// (priority asc, created_at asc), flipping each to processing while the
// lock is held.
func (m *Store) ClaimBatch(_ context.Context, limit int) ([]*job.Job, error) {
	limit = store.ClampLimit(limit)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, errors.NewQueueError("claim", 0, errors.ErrStoreClosed)
	}

	now := time.Now().UTC()

	candidates := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if j.Eligible(now) {
			candidates = append(candidates, j)
		}
	}

	sort.Slice(candidates, func(i, k int) bool {
		if candidates[i].Priority != candidates[k].Priority {
			return candidates[i].Priority < candidates[k].Priority
		}
		if !candidates[i].CreatedAt.Equal(candidates[k].CreatedAt) {
			return candidates[i].CreatedAt.Before(candidates[k].CreatedAt)
		}
		return candidates[i].ID < candidates[k].ID
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	claimed := make([]*job.Job, len(candidates))
	for i, j := range candidates {
		j.Status = job.StatusProcessing
		j.UpdatedAt = m.bump(j.UpdatedAt, now)
		claimed[i] = j.Clone()
	}

	return claimed, nil
}

// MarkSent records successful delivery.
func (m *Store) MarkSent(_ context.Context, id int64, sentAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return errors.NewQueueError("mark_sent", id, errors.ErrJobNotFound)
	}
	if j.Status == job.StatusSent {
		return nil
	}

	j.Status = job.StatusSent
	t := sentAt.UTC()
	j.SentAt = &t
	j.LastError = ""
	j.NextRetryAt = nil
	j.UpdatedAt = m.bump(j.UpdatedAt, time.Now().UTC())
	return nil
}

// MarkScheduled records a failed attempt and schedules the retry.
func (m *Store) MarkScheduled(_ context.Context, id int64, errMsg string, nextRetryAt time.Time, retryCount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return errors.NewQueueError("mark_scheduled", id, errors.ErrJobNotFound)
	}
	if j.Status == job.StatusScheduled && j.RetryCount == retryCount {
		return nil
	}
	if retryCount > j.MaxRetries {
		// Retry budget exhausted; force terminal failure instead.
		j.Status = job.StatusFailed
		j.LastError = errMsg
		j.UpdatedAt = m.bump(j.UpdatedAt, time.Now().UTC())
		return nil
	}

	j.Status = job.StatusScheduled
	j.RetryCount = retryCount
	j.LastError = errMsg
	t := nextRetryAt.UTC()
	j.NextRetryAt = &t
	j.ScheduledFor = t
	j.UpdatedAt = m.bump(j.UpdatedAt, time.Now().UTC())
	return nil
}

// MarkFailed records terminal failure.
func (m *Store) MarkFailed(_ context.Context, id int64, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return errors.NewQueueError("mark_failed", id, errors.ErrJobNotFound)
	}
	if j.Status == job.StatusFailed {
		return nil
	}

	j.Status = job.StatusFailed
	j.LastError = errMsg
	j.NextRetryAt = nil
	j.UpdatedAt = m.bump(j.UpdatedAt, time.Now().UTC())
	return nil
}

// GetByID returns a copy of the job or errors.ErrJobNotFound.
func (m *Store) GetByID(_ context.Context, id int64) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return nil, errors.ErrJobNotFound
	}
	return j.Clone(), nil
}

// Stats returns the number of jobs per status.
func (m *Store) Stats(_ context.Context) (store.StatusCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := make(store.StatusCounts, 5)
	for _, s := range job.Statuses() {
		counts[s] = 0
	}
	for _, j := range m.jobs {
		counts[j.Status]++
	}
	return counts, nil
}

// Health reports whether the store accepts operations.
func (m *Store) Health(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errors.ErrStoreClosed
	}
	return nil
}

// Close marks the store closed. Jobs are retained so late Mark* calls from
// in-flight deliveries still resolve during shutdown.
func (m *Store) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}

// DeleteOlderThan removes terminal jobs whose updated_at is before cutoff.
// Operational housekeeping; never called by the dispatcher.
func (m *Store) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var deleted int64
	for id, j := range m.jobs {
		if j.Status.Terminal() && j.UpdatedAt.Before(cutoff) {
			delete(m.jobs, id)
			deleted++
		}
	}
	return deleted, nil
}

// RequeueStale returns processing jobs older than cutoff to scheduled.
// Recovery tooling for claimer crashes; never called by the dispatcher.
func (m *Store) RequeueStale(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var requeued int64
	now := time.Now().UTC()
	for _, j := range m.jobs {
		if j.Status == job.StatusProcessing && j.UpdatedAt.Before(cutoff) {
			j.Status = job.StatusScheduled
			j.ScheduledFor = now
			j.UpdatedAt = m.bump(j.UpdatedAt, now)
			requeued++
		}
	}
	return requeued, nil
}

// bump returns a timestamp strictly greater than prev so updated_at always
// advances, even within one clock tick.
func (m *Store) bump(prev, now time.Time) time.Time {
	if now.After(prev) {
		return now
	}
	return prev.Add(time.Nanosecond)
}
