// Package store defines the durable job store contract. The store is the
// single source of truth for job state; ClaimBatch is the sole
// serialization point for concurrent workers.
package store

import (
	"context"
	"time"

	"github.com/odiseohq/mailqd/job"
)

// Claim batch limits. Requests outside the range are clamped.
const (
	MinClaimLimit = 1
	MaxClaimLimit = 1000
)

// Store is the durable job table.
type Store interface {
	// Enqueue inserts a job with status pending, defaulting scheduled_for
	// and priority, and returns the assigned id. Constraint violations
	// (e.g. an empty recipient set) surface as a QueueError.
	Enqueue(ctx context.Context, j *job.Job) (int64, error)

	// ClaimBatch atomically selects up to limit eligible jobs (status in
	// {pending, scheduled} and scheduled_for <= now) ordered by
	// (priority asc, created_at asc), and marks each processing in the same
	// atomic operation. A job returned to one caller is never returned to
	// a concurrent caller; rows locked by a concurrent claim are skipped,
	// not waited on.
	ClaimBatch(ctx context.Context, limit int) ([]*job.Job, error)

	// MarkSent records successful delivery. Idempotent.
	MarkSent(ctx context.Context, id int64, sentAt time.Time) error

	// MarkScheduled records a failed attempt and schedules the retry.
	// Idempotent for a given retryCount.
	MarkScheduled(ctx context.Context, id int64, errMsg string, nextRetryAt time.Time, retryCount int) error

	// MarkFailed records terminal failure. Idempotent.
	MarkFailed(ctx context.Context, id int64, errMsg string) error

	// GetByID returns the job or errors.ErrJobNotFound.
	GetByID(ctx context.Context, id int64) (*job.Job, error)

	// Stats returns the number of jobs per status.
	Stats(ctx context.Context) (StatusCounts, error)

	// Health checks connectivity independent of job semantics.
	Health(ctx context.Context) error

	// Close releases the store's resources.
	Close() error
}

// StatusCounts maps each lifecycle status to its queue depth.
type StatusCounts map[job.Status]int64

// Total returns the number of jobs across all statuses.
func (c StatusCounts) Total() int64 {
	var n int64
	for _, v := range c {
		n += v
	}
	return n
}

// ClampLimit bounds a claim limit to [MinClaimLimit, MaxClaimLimit].
func ClampLimit(limit int) int {
	if limit < MinClaimLimit {
		return MinClaimLimit
	}
	if limit > MaxClaimLimit {
		return MaxClaimLimit
	}
	return limit
}
