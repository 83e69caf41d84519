package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/conduit-core/internal/core/domain"
)

// SchedulePlan is what the scheduler decides for one claimed connection.
type SchedulePlan struct {
	// Job is the incremental job to enqueue. A uniqueness conflict with an
	// existing queued/running interval job is a successful no-op.
	Job *domain.SyncJob

	// NextRunAt and JitterSeconds are persisted back onto the connection in
	// the same transaction as the enqueue.
	NextRunAt     time.Time
	JitterSeconds float64
}

// SchedulerStore runs the scheduler's claim sweep.
type SchedulerStore interface {
	// ClaimDue selects up to limit active connections due for a sync
	// (next_run_at <= now, or never scheduled), using a locking read that
	// skips rows held by a concurrent scheduler instance. For each claimed
	// connection it calls plan and applies the returned SchedulePlan -
	// job insert and schedule update - inside the claim transaction.
	// Returns the number of connections scheduled.
	ClaimDue(ctx context.Context, now time.Time, limit int, plan func(conn *domain.Connection) (*SchedulePlan, error)) (int, error)
}
