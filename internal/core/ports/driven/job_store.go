package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/conduit-core/internal/core/domain"
)

// JobFilter narrows job listings.
type JobFilter struct {
	TenantID     string
	ConnectionID string
	Status       domain.JobStatus
	Type         domain.JobType
	Limit        int
	Offset       int
}

// JobStore persists sync jobs and implements the claim protocol.
// The sync_jobs table is the shared mutable resource: all mutations are
// transactional, claims use locking reads that skip contended rows, and the
// one-interval-job invariant is a partial unique index, not an application
// mutex.
type JobStore interface {
	// Enqueue inserts a queued job. For interval jobs, a conflict with an
	// existing queued/running interval job on the same connection returns
	// domain.ErrJobConflict; callers treat that as a successful no-op.
	Enqueue(ctx context.Context, job *domain.SyncJob) error

	// Claim atomically selects the next due job (queued, scheduled_at <= now,
	// retry_after null or elapsed, no running job on the same connection),
	// ordered by priority DESC then scheduled_at ASC, skipping rows locked by
	// concurrent workers. The claimed job transitions to running with
	// started_at set and attempts incremented. Returns nil when no job is
	// available.
	Claim(ctx context.Context) (*domain.SyncJob, error)

	// MarkSucceeded finalizes a job.
	MarkSucceeded(ctx context.Context, jobID string) error

	// MarkFailed terminates a job with structured error detail.
	MarkFailed(ctx context.Context, jobID string, jobErr *domain.JobError) error

	// Requeue returns a failed job to the queue with a retry_after computed
	// by the retry policy, preserving the incremented attempts counter.
	Requeue(ctx context.Context, jobID string, retryAfter time.Time, jobErr *domain.JobError) error

	// RequeueStale returns jobs stuck in running longer than cutoff back to
	// queued, keeping their attempts. Recovers work lost to crashed workers.
	RequeueStale(ctx context.Context, cutoff time.Time) (int, error)

	// Get retrieves a job by ID.
	Get(ctx context.Context, jobID string) (*domain.SyncJob, error)

	// List retrieves jobs matching the filter, newest first.
	List(ctx context.Context, filter JobFilter) ([]*domain.SyncJob, error)

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error
}
