package services

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/custodia-labs/conduit-core/internal/core/domain"
	"github.com/custodia-labs/conduit-core/internal/core/ports/driven"
)

// CredentialRefresher is the executor's view of the token-refresh service,
// used on the unauthorized retry path.
type CredentialRefresher interface {
	// RefreshNow refreshes the connection's credentials immediately and
	// returns the connection with the new credentials attached.
	RefreshNow(ctx context.Context, conn *domain.Connection) (*domain.Connection, error)
}

// ExecutorConfig holds worker pool settings.
type ExecutorConfig struct {
	Concurrency   int
	ClaimInterval time.Duration
	StaleTimeout  time.Duration
	SweepInterval time.Duration
	DrainTimeout  time.Duration

	// RetryFor resolves the retry policy for a provider. nil means the
	// global defaults apply everywhere.
	RetryFor func(domain.ProviderType) domain.RetryPolicy

	Logger *slog.Logger
}

// Executor is the worker pool that claims queued sync jobs and runs them
// through their connectors. Job rows are the only coordination mechanism
// between instances: claiming uses locking reads that skip contended rows,
// so any number of executors can run against the same queue.
type Executor struct {
	jobs        driven.JobStore
	connections driven.ConnectionStore
	signals     driven.SignalStore
	registry    driven.ConnectorRegistry
	refresher   CredentialRefresher
	config      ExecutorConfig
	logger      *slog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewExecutor creates an executor. refresher may be nil, in which case
// unauthorized failures skip the refresh attempt and fail directly.
func NewExecutor(
	jobs driven.JobStore,
	connections driven.ConnectionStore,
	signals driven.SignalStore,
	registry driven.ConnectorRegistry,
	refresher CredentialRefresher,
	config ExecutorConfig,
) *Executor {
	if config.Concurrency <= 0 {
		config.Concurrency = 4
	}
	if config.ClaimInterval <= 0 {
		config.ClaimInterval = 2 * time.Second
	}
	if config.StaleTimeout <= 0 {
		config.StaleTimeout = 15 * time.Minute
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = time.Minute
	}
	if config.RetryFor == nil {
		policy := domain.DefaultRetryPolicy()
		config.RetryFor = func(domain.ProviderType) domain.RetryPolicy { return policy }
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Executor{
		jobs:        jobs,
		connections: connections,
		signals:     signals,
		registry:    registry,
		refresher:   refresher,
		config:      config,
		logger:      logger.With("component", "executor"),
		stopCh:      make(chan struct{}),
	}
}

// Start launches the worker pool and the staleness sweep.
func (e *Executor) Start() {
	e.logger.Info("executor starting", "concurrency", e.config.Concurrency)

	for i := 0; i < e.config.Concurrency; i++ {
		e.wg.Add(1)
		go e.worker(i)
	}

	e.wg.Add(1)
	go e.sweepLoop()
}

// Stop signals workers to exit and waits for in-flight jobs to drain.
// A job that outlives the drain timeout is abandoned; the staleness sweep
// of a surviving instance recovers it.
func (e *Executor) Stop() {
	close(e.stopCh)

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	if e.config.DrainTimeout > 0 {
		select {
		case <-done:
		case <-time.After(e.config.DrainTimeout):
			e.logger.Warn("executor drain timeout exceeded, abandoning in-flight work")
			return
		}
	} else {
		<-done
	}
	e.logger.Info("executor stopped")
}

func (e *Executor) worker(id int) {
	defer e.wg.Done()
	logger := e.logger.With("worker", id)

	for {
		select {
		case <-e.stopCh:
			return
		default:
		}

		job, err := e.claim()
		if err != nil {
			logger.Error("job claim failed", "error", err)
			e.idle()
			continue
		}
		if job == nil {
			e.idle()
			continue
		}

		e.runJob(logger, job)
	}
}

func (e *Executor) claim() (*domain.SyncJob, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.jobs.Claim(ctx)
}

func (e *Executor) idle() {
	select {
	case <-e.stopCh:
	case <-time.After(e.config.ClaimInterval):
	}
}

// runJob executes one claimed job to a terminal or requeued state.
func (e *Executor) runJob(logger *slog.Logger, job *domain.SyncJob) {
	ctx, cancel := context.WithTimeout(context.Background(), e.config.StaleTimeout)
	defer cancel()

	logger = logger.With("job_id", job.ID, "connection_id", job.ConnectionID, "type", job.Type, "attempt", job.Attempts)
	logger.Info("job started")

	conn, err := e.connections.Get(ctx, job.ConnectionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrConnectionNotFound) {
			e.fail(ctx, logger, job, &domain.JobError{Kind: domain.SyncErrorPermanent, Message: "connection no longer exists"})
			return
		}
		logger.Error("connection load failed", "error", err)
		e.requeue(ctx, logger, job, domain.Transient(err), job.Provider)
		return
	}

	connector, err := e.registry.Get(conn.Provider)
	if err != nil {
		e.fail(ctx, logger, job, &domain.JobError{Kind: domain.SyncErrorPermanent, Message: "no connector registered for " + string(conn.Provider)})
		return
	}

	result, err := e.sync(ctx, logger, connector, conn, job)
	if err != nil {
		e.handleFailure(ctx, logger, job, conn, err)
		return
	}

	if err := e.finish(ctx, logger, job, conn, result); err != nil {
		logger.Error("job finalization failed", "error", err)
	}
}

// sync runs one connector fetch, with a single refresh-and-retry when the
// first attempt comes back unauthorized.
func (e *Executor) sync(ctx context.Context, logger *slog.Logger, connector driven.Connector, conn *domain.Connection, job *domain.SyncJob) (*driven.SyncResult, error) {
	cursor := e.cursorFor(job, conn)

	result, err := connector.Sync(ctx, conn, cursor)
	if err == nil {
		return result, nil
	}

	se := domain.AsSyncError(err)
	if se.Kind != domain.SyncErrorUnauthorized || e.refresher == nil {
		return nil, se
	}

	logger.Info("sync unauthorized, refreshing credentials")
	refreshed, refreshErr := e.refresher.RefreshNow(ctx, conn)
	if refreshErr != nil {
		return nil, domain.Unauthorized(refreshErr)
	}

	result, err = connector.Sync(ctx, refreshed, cursor)
	if err != nil {
		// Refresh succeeded but the provider still rejects us. Done retrying.
		se = domain.AsSyncError(err)
		if se.Kind == domain.SyncErrorUnauthorized {
			return nil, se
		}
		return nil, se
	}
	return result, nil
}

// cursorFor selects the cursor for this run. A continuation job carries its
// own cursor, which wins over the connection's durable one. Full syncs start
// from the beginning.
func (e *Executor) cursorFor(job *domain.SyncJob, conn *domain.Connection) []byte {
	if job.Type == domain.JobTypeFull {
		return nil
	}
	if job.Cursor != nil {
		return job.Cursor
	}
	return conn.Cursor
}

// finish persists the run's outcome: signals first, then the cursor, then
// the job state. Signals are only written on a fully successful fetch, so a
// failed run advances nothing.
func (e *Executor) finish(ctx context.Context, logger *slog.Logger, job *domain.SyncJob, conn *domain.Connection, result *driven.SyncResult) error {
	stored := 0
	if len(result.Signals) > 0 {
		for _, sig := range result.Signals {
			sig.Attach(conn)
		}
		n, err := e.signals.SaveBatch(ctx, result.Signals)
		if err != nil {
			e.requeue(ctx, logger, job, domain.Transient(err), conn.Provider)
			return err
		}
		stored = n
	}

	if result.NextCursor != nil {
		if err := e.connections.UpdateCursor(ctx, conn.ID, result.NextCursor); err != nil {
			e.requeue(ctx, logger, job, domain.Transient(err), conn.Provider)
			return err
		}
	}

	if err := e.jobs.MarkSucceeded(ctx, job.ID); err != nil {
		return err
	}

	if conn.Status == domain.ConnectionStatusError {
		if err := e.connections.SetStatus(ctx, conn.ID, domain.ConnectionStatusActive); err != nil {
			logger.Warn("connection status reset failed", "error", err)
		}
	}

	logger.Info("job succeeded", "signals", stored, "has_more", result.HasMore)

	if result.HasMore {
		e.enqueueContinuation(ctx, logger, job, conn, result.NextCursor)
	}
	return nil
}

// enqueueContinuation queues an immediate follow-up job carrying the page
// cursor. Runs after the current job is finalized so the single-flight
// constraint admits it. A conflict means a newer job already exists.
func (e *Executor) enqueueContinuation(ctx context.Context, logger *slog.Logger, job *domain.SyncJob, conn *domain.Connection, cursor []byte) {
	next := domain.NewSyncJob(conn, job.Type, time.Now().UTC())
	next.Priority = job.Priority
	next.Cursor = cursor

	if err := e.jobs.Enqueue(ctx, next); err != nil {
		if errors.Is(err, domain.ErrJobConflict) {
			return
		}
		// Lost continuation; the next scheduled run picks up from the
		// durable cursor.
		logger.Warn("continuation enqueue failed", "error", err)
		return
	}
	logger.Info("continuation enqueued", "next_job_id", next.ID)
}

func (e *Executor) handleFailure(ctx context.Context, logger *slog.Logger, job *domain.SyncJob, conn *domain.Connection, err error) {
	se := domain.AsSyncError(err)

	switch se.Kind {
	case domain.SyncErrorPermanent:
		e.fail(ctx, logger, job, jobError(se))

	case domain.SyncErrorUnauthorized:
		// Refresh already ran and did not help. The credential is dead
		// until the tenant re-authorizes.
		e.fail(ctx, logger, job, jobError(se))
		if statusErr := e.connections.SetStatus(ctx, conn.ID, domain.ConnectionStatusError); statusErr != nil {
			logger.Warn("connection status update failed", "error", statusErr)
		}

	default: // rate_limited, transient
		e.requeue(ctx, logger, job, se, conn.Provider)
	}
}

func (e *Executor) fail(ctx context.Context, logger *slog.Logger, job *domain.SyncJob, jobErr *domain.JobError) {
	if err := e.jobs.MarkFailed(ctx, job.ID, jobErr); err != nil {
		logger.Error("job fail mark failed", "error", err)
		return
	}
	logger.Warn("job failed", "kind", jobErr.Kind, "message", jobErr.Message)
}

func (e *Executor) requeue(ctx context.Context, logger *slog.Logger, job *domain.SyncJob, se *domain.SyncError, provider domain.ProviderType) {
	policy := e.config.RetryFor(provider)
	delay := policy.Delay(job.Attempts, se.RetryAfterSecs)
	retryAt := time.Now().UTC().Add(delay)

	if err := e.jobs.Requeue(ctx, job.ID, retryAt, jobError(se)); err != nil {
		logger.Error("job requeue failed", "error", err)
		return
	}
	logger.Info("job requeued", "kind", se.Kind, "retry_after", retryAt, "delay", delay)
}

func jobError(se *domain.SyncError) *domain.JobError {
	return &domain.JobError{
		Kind:           se.Kind,
		Message:        se.Error(),
		RetryAfterSecs: se.RetryAfterSecs,
	}
}

// sweepLoop periodically requeues jobs stuck in running state, recovering
// work abandoned by crashed or drained workers.
func (e *Executor) sweepLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			cutoff := time.Now().UTC().Add(-e.config.StaleTimeout)
			n, err := e.jobs.RequeueStale(ctx, cutoff)
			cancel()
			if err != nil {
				e.logger.Error("stale job sweep failed", "error", err)
				continue
			}
			if n > 0 {
				e.logger.Warn("requeued stale jobs", "count", n)
			}
		}
	}
}
