package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/custodia-labs/conduit-core/internal/core/domain"
	"github.com/custodia-labs/conduit-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.JobStore = (*JobStore)(nil)

// JobStore implements driven.JobStore using PostgreSQL.
//
// The sync_jobs table is the shared mutable resource of the whole system:
// claims use FOR UPDATE SKIP LOCKED so concurrent workers never block each
// other, and the one-interval-job invariant is the partial unique index
// idx_sync_jobs_one_interval, not an application mutex.
type JobStore struct {
	db *DB
}

// NewJobStore creates a new JobStore
func NewJobStore(db *DB) *JobStore {
	return &JobStore{db: db}
}

const jobColumns = `
	id, tenant_id, provider, connection_id, type, status, priority, attempts,
	scheduled_at, retry_after, started_at, finished_at, cursor, error,
	created_at, updated_at
`

// Enqueue inserts a queued job. An interval-job uniqueness violation maps to
// domain.ErrJobConflict; callers treat that as a successful no-op.
func (s *JobStore) Enqueue(ctx context.Context, job *domain.SyncJob) error {
	jobErr, err := marshalJobError(job.Error)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO sync_jobs (
			id, tenant_id, provider, connection_id, type, status, priority,
			attempts, scheduled_at, retry_after, cursor, error, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW())
	`
	_, err = s.db.ExecContext(ctx, query,
		job.ID,
		job.TenantID,
		string(job.Provider),
		job.ConnectionID,
		string(job.Type),
		string(job.Status),
		job.Priority,
		job.Attempts,
		job.ScheduledAt,
		NullTime(job.RetryAfter),
		nullJSON(job.Cursor),
		jobErr,
		job.CreatedAt,
	)
	if isUniqueViolation(err, "idx_sync_jobs_one_interval") {
		return domain.ErrJobConflict
	}
	if err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

// Claim atomically selects the next due job, skipping rows locked by
// concurrent workers and connections that already have a running job.
// The NOT EXISTS check alone is not enough under READ COMMITTED: a
// concurrent claim's running update is invisible until it commits. Locking
// the connection row serializes claims per connection, so two workers can
// never move two jobs for the same connection to running at once.
func (s *JobStore) Claim(ctx context.Context) (*domain.SyncJob, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	selectQuery := `
		SELECT ` + jobColumns + `
		FROM sync_jobs j
		WHERE j.status = 'queued'
		  AND j.scheduled_at <= NOW()
		  AND (j.retry_after IS NULL OR j.retry_after <= NOW())
		  AND NOT EXISTS (
			SELECT 1 FROM sync_jobs r
			WHERE r.connection_id = j.connection_id AND r.status = 'running'
		  )
		  AND EXISTS (
			SELECT 1 FROM connections c
			WHERE c.id = j.connection_id
			FOR UPDATE SKIP LOCKED
		  )
		ORDER BY j.priority DESC, j.scheduled_at ASC
		LIMIT 1
		FOR UPDATE OF j SKIP LOCKED
	`

	job, err := scanJob(tx.QueryRowContext(ctx, selectQuery))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select job: %w", err)
	}

	now := time.Now()
	updateQuery := `
		UPDATE sync_jobs
		SET status = 'running', started_at = $1, attempts = attempts + 1, updated_at = $1
		WHERE id = $2
	`
	if _, err := tx.ExecContext(ctx, updateQuery, now, job.ID); err != nil {
		return nil, fmt.Errorf("mark job running: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}

	job.Status = domain.JobStatusRunning
	job.StartedAt = &now
	job.Attempts++
	job.UpdatedAt = now
	return job, nil
}

// MarkSucceeded finalizes a job
func (s *JobStore) MarkSucceeded(ctx context.Context, jobID string) error {
	query := `
		UPDATE sync_jobs
		SET status = 'succeeded', finished_at = NOW(), error = NULL, updated_at = NOW()
		WHERE id = $1
	`
	result, err := s.db.ExecContext(ctx, query, jobID)
	if err != nil {
		return fmt.Errorf("mark job succeeded: %w", err)
	}
	return requireRow(result, domain.ErrNotFound)
}

// MarkFailed terminates a job with structured error detail
func (s *JobStore) MarkFailed(ctx context.Context, jobID string, jobErr *domain.JobError) error {
	detail, err := marshalJobError(jobErr)
	if err != nil {
		return err
	}

	query := `
		UPDATE sync_jobs
		SET status = 'failed', finished_at = NOW(), error = $1, updated_at = NOW()
		WHERE id = $2
	`
	result, err := s.db.ExecContext(ctx, query, detail, jobID)
	if err != nil {
		return fmt.Errorf("mark job failed: %w", err)
	}
	return requireRow(result, domain.ErrNotFound)
}

// Requeue returns a failed job to the queue with a retry_after gate,
// preserving the incremented attempts counter
func (s *JobStore) Requeue(ctx context.Context, jobID string, retryAfter time.Time, jobErr *domain.JobError) error {
	detail, err := marshalJobError(jobErr)
	if err != nil {
		return err
	}

	query := `
		UPDATE sync_jobs
		SET status = 'queued', started_at = NULL, retry_after = $1, error = $2, updated_at = NOW()
		WHERE id = $3
	`
	result, err := s.db.ExecContext(ctx, query, retryAfter, detail, jobID)
	if err != nil {
		return fmt.Errorf("requeue job: %w", err)
	}
	return requireRow(result, domain.ErrNotFound)
}

// RequeueStale returns jobs stuck in running since before cutoff back to
// queued, keeping their attempts. Recovers work lost to crashed workers.
func (s *JobStore) RequeueStale(ctx context.Context, cutoff time.Time) (int, error) {
	query := `
		UPDATE sync_jobs
		SET status = 'queued', started_at = NULL, updated_at = NOW()
		WHERE status = 'running' AND started_at < $1
	`
	result, err := s.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("requeue stale jobs: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(rows), nil
}

// Get retrieves a job by ID
func (s *JobStore) Get(ctx context.Context, jobID string) (*domain.SyncJob, error) {
	query := `SELECT ` + jobColumns + ` FROM sync_jobs WHERE id = $1`
	job, err := scanJob(s.db.QueryRowContext(ctx, query, jobID))
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// List retrieves jobs matching the filter, newest first
func (s *JobStore) List(ctx context.Context, filter driven.JobFilter) ([]*domain.SyncJob, error) {
	query := `SELECT ` + jobColumns + ` FROM sync_jobs WHERE 1=1`
	var args []any

	addArg := func(clause string, value any) {
		args = append(args, value)
		query += fmt.Sprintf(clause, len(args))
	}

	if filter.TenantID != "" {
		addArg(" AND tenant_id = $%d", filter.TenantID)
	}
	if filter.ConnectionID != "" {
		addArg(" AND connection_id = $%d", filter.ConnectionID)
	}
	if filter.Status != "" {
		addArg(" AND status = $%d", string(filter.Status))
	}
	if filter.Type != "" {
		addArg(" AND type = $%d", string(filter.Type))
	}

	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		addArg(" LIMIT $%d", filter.Limit)
	}
	if filter.Offset > 0 {
		addArg(" OFFSET $%d", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.SyncJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Ping checks database connectivity
func (s *JobStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func scanJob(row rowScanner) (*domain.SyncJob, error) {
	var job domain.SyncJob
	var retryAfter, startedAt, finishedAt sql.NullTime
	var cursor, jobErr []byte

	err := row.Scan(
		&job.ID,
		&job.TenantID,
		&job.Provider,
		&job.ConnectionID,
		&job.Type,
		&job.Status,
		&job.Priority,
		&job.Attempts,
		&job.ScheduledAt,
		&retryAfter,
		&startedAt,
		&finishedAt,
		&cursor,
		&jobErr,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.RetryAfter = TimePtr(retryAfter)
	job.StartedAt = TimePtr(startedAt)
	job.FinishedAt = TimePtr(finishedAt)
	if len(cursor) > 0 {
		job.Cursor = json.RawMessage(cursor)
	}
	if len(jobErr) > 0 {
		if err := json.Unmarshal(jobErr, &job.Error); err != nil {
			return nil, fmt.Errorf("unmarshal job error: %w", err)
		}
	}
	return &job, nil
}

func marshalJobError(jobErr *domain.JobError) (any, error) {
	if jobErr == nil {
		return nil, nil
	}
	detail, err := json.Marshal(jobErr)
	if err != nil {
		return nil, fmt.Errorf("marshal job error: %w", err)
	}
	return detail, nil
}

func isUniqueViolation(err error, constraint string) bool {
	pqErr, ok := err.(*pq.Error)
	return ok && pqErr.Code == "23505" && pqErr.Constraint == constraint
}
