package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odiseohq/mailqd/errors"
	"github.com/odiseohq/mailqd/job"
)

func newTestJob(recipient string) *job.Job {
	return job.New(job.TypeTransactional, recipient, "Subject", "<p>body</p>")
}

func TestStore_Enqueue(t *testing.T) {
	s := New()
	ctx := context.Background()

	id, err := s.Enqueue(ctx, newTestJob("a@example.com"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	id2, err := s.Enqueue(ctx, newTestJob("b@example.com"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), id2)

	got, err := s.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, job.StatusPending, got.Status)
	assert.Equal(t, job.PriorityDefault, got.Priority)
	assert.Equal(t, job.MaxRetriesDefault, got.MaxRetries)
}

func TestStore_Enqueue_EmptyRecipient(t *testing.T) {
	s := New()

	_, err := s.Enqueue(context.Background(), newTestJob(""))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNoRecipients)

	var qe *errors.QueueError
	assert.ErrorAs(t, err, &qe)
}

func TestStore_GetByID_NotFound(t *testing.T) {
	s := New()

	_, err := s.GetByID(context.Background(), 42)
	assert.ErrorIs(t, err, errors.ErrJobNotFound)
}

func TestStore_ClaimBatch_Ordering(t *testing.T) {
	s := New()
	ctx := context.Background()

	low := newTestJob("low@example.com")
	low.Priority = 9
	high := newTestJob("high@example.com")
	high.Priority = 1
	mid := newTestJob("mid@example.com")
	mid.Priority = 5

	_, err := s.Enqueue(ctx, low)
	require.NoError(t, err)
	_, err = s.Enqueue(ctx, high)
	require.NoError(t, err)
	_, err = s.Enqueue(ctx, mid)
	require.NoError(t, err)

	claimed, err := s.ClaimBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 3)

	assert.Equal(t, "high@example.com", claimed[0].RecipientEmail)
	assert.Equal(t, "mid@example.com", claimed[1].RecipientEmail)
	assert.Equal(t, "low@example.com", claimed[2].RecipientEmail)

	for _, j := range claimed {
		assert.Equal(t, job.StatusProcessing, j.Status)
	}
}

func TestStore_ClaimBatch_SkipsFutureScheduled(t *testing.T) {
	s := New()
	ctx := context.Background()

	future := newTestJob("future@example.com")
	future.ScheduledFor = time.Now().UTC().Add(time.Hour)
	_, err := s.Enqueue(ctx, future)
	require.NoError(t, err)

	ready := newTestJob("ready@example.com")
	_, err = s.Enqueue(ctx, ready)
	require.NoError(t, err)

	claimed, err := s.ClaimBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, "ready@example.com", claimed[0].RecipientEmail)
}

func TestStore_ClaimBatch_NoDoubleClaim(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.Enqueue(ctx, newTestJob("once@example.com"))
	require.NoError(t, err)

	first, err := s.ClaimBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := s.ClaimBatch(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, second)
}

// Ten jobs, two claimers of 50 each: the backlog must partition disjointly.
func TestStore_ClaimBatch_ConcurrentPartition(t *testing.T) {
	s := New()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := s.Enqueue(ctx, newTestJob(fmt.Sprintf("u%d@example.com", i)))
		require.NoError(t, err)
	}

	results := make([][]*job.Job, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			claimed, err := s.ClaimBatch(ctx, 50)
			assert.NoError(t, err)
			results[n] = claimed
		}(i)
	}
	wg.Wait()

	seen := make(map[int64]int)
	total := 0
	for _, batch := range results {
		for _, j := range batch {
			seen[j.ID]++
			total++
		}
	}

	assert.Equal(t, 10, total)
	for id, count := range seen {
		assert.Equalf(t, 1, count, "job %d claimed %d times", id, count)
	}
}

// Under many concurrent claimers each requesting overlapping batches,
// every job appears in at most one result set.
func TestStore_ClaimBatch_MutualExclusion(t *testing.T) {
	s := New()
	ctx := context.Background()

	const jobs = 200
	const claimers = 8

	for i := 0; i < jobs; i++ {
		_, err := s.Enqueue(ctx, newTestJob(fmt.Sprintf("u%d@example.com", i)))
		require.NoError(t, err)
	}

	var mu sync.Mutex
	seen := make(map[int64]int)
	var wg sync.WaitGroup
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				claimed, err := s.ClaimBatch(ctx, 7)
				assert.NoError(t, err)
				if len(claimed) == 0 {
					return
				}
				mu.Lock()
				for _, j := range claimed {
					seen[j.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, jobs)
	for id, count := range seen {
		assert.Equalf(t, 1, count, "job %d claimed %d times", id, count)
	}
}

func TestStore_MarkSent(t *testing.T) {
	s := New()
	ctx := context.Background()

	id, err := s.Enqueue(ctx, newTestJob("a@example.com"))
	require.NoError(t, err)

	_, err = s.ClaimBatch(ctx, 1)
	require.NoError(t, err)

	sentAt := time.Now().UTC()
	require.NoError(t, s.MarkSent(ctx, id, sentAt))

	got, err := s.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, job.StatusSent, got.Status)
	require.NotNil(t, got.SentAt)
	assert.WithinDuration(t, sentAt, *got.SentAt, time.Second)

	// Idempotent.
	require.NoError(t, s.MarkSent(ctx, id, sentAt.Add(time.Hour)))
	again, err := s.GetByID(ctx, id)
	require.NoError(t, err)
	assert.WithinDuration(t, sentAt, *again.SentAt, time.Second)
}

func TestStore_MarkScheduled(t *testing.T) {
	s := New()
	ctx := context.Background()

	id, err := s.Enqueue(ctx, newTestJob("a@example.com"))
	require.NoError(t, err)

	next := time.Now().UTC().Add(5 * time.Minute)
	require.NoError(t, s.MarkScheduled(ctx, id, "timeout", next, 1))

	got, err := s.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, job.StatusScheduled, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.Equal(t, "timeout", got.LastError)
	require.NotNil(t, got.NextRetryAt)
	assert.WithinDuration(t, next, *got.NextRetryAt, time.Second)
	assert.WithinDuration(t, next, got.ScheduledFor, time.Second)
}

func TestStore_MarkScheduled_BeyondBudgetFails(t *testing.T) {
	s := New()
	ctx := context.Background()

	j := newTestJob("a@example.com")
	j.MaxRetries = 1
	id, err := s.Enqueue(ctx, j)
	require.NoError(t, err)

	// retry_count may never exceed max_retries; the store forces failure.
	require.NoError(t, s.MarkScheduled(ctx, id, "boom", time.Now().UTC(), 2))

	got, err := s.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, job.StatusFailed, got.Status)
	assert.LessOrEqual(t, got.RetryCount, got.MaxRetries)
}

func TestStore_MarkFailed(t *testing.T) {
	s := New()
	ctx := context.Background()

	id, err := s.Enqueue(ctx, newTestJob("a@example.com"))
	require.NoError(t, err)

	require.NoError(t, s.MarkFailed(ctx, id, "invalid recipient"))

	got, err := s.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, job.StatusFailed, got.Status)
	assert.Equal(t, "invalid recipient", got.LastError)

	// Idempotent.
	require.NoError(t, s.MarkFailed(ctx, id, "other"))
}

func TestStore_Mark_NotFound(t *testing.T) {
	s := New()
	ctx := context.Background()

	assert.ErrorIs(t, s.MarkSent(ctx, 99, time.Now()), errors.ErrJobNotFound)
	assert.ErrorIs(t, s.MarkScheduled(ctx, 99, "e", time.Now(), 1), errors.ErrJobNotFound)
	assert.ErrorIs(t, s.MarkFailed(ctx, 99, "e"), errors.ErrJobNotFound)
}

func TestStore_UpdatedAt_StrictlyIncreases(t *testing.T) {
	s := New()
	ctx := context.Background()

	id, err := s.Enqueue(ctx, newTestJob("a@example.com"))
	require.NoError(t, err)

	before, err := s.GetByID(ctx, id)
	require.NoError(t, err)

	_, err = s.ClaimBatch(ctx, 1)
	require.NoError(t, err)

	claimed, err := s.GetByID(ctx, id)
	require.NoError(t, err)
	assert.True(t, claimed.UpdatedAt.After(before.UpdatedAt))

	require.NoError(t, s.MarkSent(ctx, id, time.Now().UTC()))
	sent, err := s.GetByID(ctx, id)
	require.NoError(t, err)
	assert.True(t, sent.UpdatedAt.After(claimed.UpdatedAt))
}

func TestStore_Stats(t *testing.T) {
	s := New()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.Enqueue(ctx, newTestJob(fmt.Sprintf("u%d@example.com", i)))
		require.NoError(t, err)
	}
	id, err := s.Enqueue(ctx, newTestJob("done@example.com"))
	require.NoError(t, err)
	require.NoError(t, s.MarkSent(ctx, id, time.Now().UTC()))

	counts, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), counts[job.StatusPending])
	assert.Equal(t, int64(1), counts[job.StatusSent])
	assert.Equal(t, int64(0), counts[job.StatusFailed])
	assert.Equal(t, int64(4), counts.Total())
}

func TestStore_HealthAndClose(t *testing.T) {
	s := New()
	ctx := context.Background()

	assert.NoError(t, s.Health(ctx))

	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Health(ctx), errors.ErrStoreClosed)

	_, err := s.Enqueue(ctx, newTestJob("a@example.com"))
	assert.ErrorIs(t, err, errors.ErrStoreClosed)

	_, err = s.ClaimBatch(ctx, 1)
	assert.ErrorIs(t, err, errors.ErrStoreClosed)
}

func TestStore_DeleteOlderThan(t *testing.T) {
	s := New()
	ctx := context.Background()

	id, err := s.Enqueue(ctx, newTestJob("old@example.com"))
	require.NoError(t, err)
	require.NoError(t, s.MarkSent(ctx, id, time.Now().UTC()))

	pending, err := s.Enqueue(ctx, newTestJob("keep@example.com"))
	require.NoError(t, err)

	deleted, err := s.DeleteOlderThan(ctx, time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = s.GetByID(ctx, id)
	assert.ErrorIs(t, err, errors.ErrJobNotFound)

	// Non-terminal jobs survive regardless of age.
	_, err = s.GetByID(ctx, pending)
	assert.NoError(t, err)
}

func TestStore_RequeueStale(t *testing.T) {
	s := New()
	ctx := context.Background()

	id, err := s.Enqueue(ctx, newTestJob("stuck@example.com"))
	require.NoError(t, err)

	claimed, err := s.ClaimBatch(ctx, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	requeued, err := s.RequeueStale(ctx, time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), requeued)

	got, err := s.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, job.StatusScheduled, got.Status)
}
