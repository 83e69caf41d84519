package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/custodia-labs/conduit-core/internal/core/domain"
	"github.com/custodia-labs/conduit-core/internal/core/ports/driven"
)

const schedulerLockKey = "scheduler:leader"

// SchedulerConfig holds scheduler loop settings.
type SchedulerConfig struct {
	Tick         time.Duration
	BatchSize    int
	LockTTL      time.Duration
	LockRequired bool
	Logger       *slog.Logger
}

// Scheduler periodically sweeps connections whose next run is due and
// enqueues incremental sync jobs for them. Enqueue and schedule advance
// happen in the same store transaction, so a crash between the two cannot
// produce a connection that never runs again or runs twice.
type Scheduler struct {
	store  driven.SchedulerStore
	lock   driven.DistributedLock
	config SchedulerConfig
	logger *slog.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewScheduler creates a scheduler. lock may be nil, in which case every
// instance sweeps (safe but wasteful: the claim query is serialized by
// row locks either way).
func NewScheduler(store driven.SchedulerStore, lock driven.DistributedLock, config SchedulerConfig) *Scheduler {
	if config.Tick <= 0 {
		config.Tick = 30 * time.Second
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.LockTTL <= 0 {
		config.LockTTL = 2 * config.Tick
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		store:  store,
		lock:   lock,
		config: config,
		logger: logger.With("component", "scheduler"),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start launches the scheduling loop in a goroutine.
func (s *Scheduler) Start() {
	s.logger.Info("scheduler starting", "tick", s.config.Tick, "batch_size", s.config.BatchSize)
	go s.run()
}

// Stop signals the loop to exit and waits for it to finish.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.config.Tick)
	defer ticker.Stop()

	// Sweep once at startup so a fresh deployment does not wait a full tick.
	s.sweep()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Scheduler) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Tick)
	defer cancel()

	if s.lock != nil {
		acquired, err := s.lock.Acquire(ctx, schedulerLockKey, s.config.LockTTL)
		if err != nil {
			s.logger.Warn("scheduler lock unavailable", "error", err)
			if s.config.LockRequired {
				return
			}
		} else if !acquired {
			// Another instance holds leadership this tick.
			return
		} else {
			defer func() {
				if err := s.lock.Release(context.Background(), schedulerLockKey); err != nil {
					s.logger.Warn("scheduler lock release failed", "error", err)
				}
			}()
		}
	}

	now := time.Now().UTC()
	enqueued, err := s.store.ClaimDue(ctx, now, s.config.BatchSize, func(conn *domain.Connection) (*driven.SchedulePlan, error) {
		return s.plan(conn, now)
	})
	if err != nil {
		s.logger.Error("scheduler sweep failed", "error", err)
		return
	}
	if enqueued > 0 {
		s.logger.Info("scheduled sync jobs", "count", enqueued)
	}
}

// plan computes the job and next run time for one due connection. A missed
// window (worker down past several intervals) collapses into a single run:
// the next due time is computed from now, not from the missed slots.
func (s *Scheduler) plan(conn *domain.Connection, now time.Time) (*driven.SchedulePlan, error) {
	job := domain.NewSyncJob(conn, domain.JobTypeIncremental, now)

	due, jitter := conn.NextDue(now)
	return &driven.SchedulePlan{
		Job:           job,
		NextRunAt:     due,
		JitterSeconds: jitter.Seconds(),
	}, nil
}
