package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/custodia-labs/conduit-core/internal/core/domain"
	"github.com/custodia-labs/conduit-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.SchedulerStore = (*SchedulerStore)(nil)

// SchedulerStore implements driven.SchedulerStore using PostgreSQL.
//
// ClaimDue locks due connection rows with FOR UPDATE SKIP LOCKED so a second
// scheduler instance sweeping concurrently claims a disjoint set instead of
// blocking or double-enqueueing.
type SchedulerStore struct {
	db    *DB
	conns *ConnectionStore
}

// NewSchedulerStore creates a new SchedulerStore
func NewSchedulerStore(db *DB, conns *ConnectionStore) *SchedulerStore {
	return &SchedulerStore{db: db, conns: conns}
}

// ClaimDue selects up to limit active connections due for a sync and applies
// the planned job insert and schedule update inside the claim transaction.
func (s *SchedulerStore) ClaimDue(ctx context.Context, now time.Time, limit int, plan func(conn *domain.Connection) (*driven.SchedulePlan, error)) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin claim transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query := `
		SELECT ` + connectionColumns + `
		FROM connections
		WHERE status = 'active'
		  AND (next_run_at IS NULL OR next_run_at <= $1)
		ORDER BY next_run_at ASC NULLS FIRST
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`

	rows, err := tx.QueryContext(ctx, query, now, limit)
	if err != nil {
		return 0, fmt.Errorf("select due connections: %w", err)
	}

	var due []*domain.Connection
	for rows.Next() {
		conn, err := s.conns.scanRow(rows, false)
		if err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan due connection: %w", err)
		}
		due = append(due, conn)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	scheduled := 0
	for _, conn := range due {
		p, err := plan(conn)
		if err != nil {
			return 0, fmt.Errorf("plan connection %s: %w", conn.ID, err)
		}

		insert := `
			INSERT INTO sync_jobs (
				id, tenant_id, provider, connection_id, type, status, priority,
				attempts, scheduled_at, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, 'queued', $6, 0, $7, $8, NOW())
			ON CONFLICT (connection_id)
				WHERE type IN ('full', 'incremental') AND status IN ('queued', 'running')
			DO NOTHING
		`
		job := p.Job
		if _, err := tx.ExecContext(ctx, insert,
			job.ID,
			job.TenantID,
			string(job.Provider),
			job.ConnectionID,
			string(job.Type),
			job.Priority,
			job.ScheduledAt,
			job.CreatedAt,
		); err != nil {
			return 0, fmt.Errorf("enqueue scheduled job: %w", err)
		}

		// The schedule advances even when the enqueue was a conflict no-op:
		// the connection already has its run pending.
		update := `
			UPDATE connections
			SET next_run_at = $1, last_jitter_seconds = $2, updated_at = NOW()
			WHERE id = $3
		`
		if _, err := tx.ExecContext(ctx, update, p.NextRunAt, p.JitterSeconds, conn.ID); err != nil {
			return 0, fmt.Errorf("advance schedule: %w", err)
		}
		scheduled++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit claim: %w", err)
	}
	return scheduled, nil
}
