package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/custodia-labs/conduit-core/internal/core/domain"
	"github.com/custodia-labs/conduit-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.SignalStore = (*SignalStore)(nil)

// SignalStore implements driven.SignalStore using PostgreSQL
type SignalStore struct {
	db *DB
}

// NewSignalStore creates a new SignalStore
func NewSignalStore(db *DB) *SignalStore {
	return &SignalStore{db: db}
}

// SaveBatch inserts signals atomically. Duplicate dedupe keys per connection
// are dropped by ON CONFLICT DO NOTHING against the partial unique index.
func (s *SignalStore) SaveBatch(ctx context.Context, signals []*domain.Signal) (int, error) {
	if len(signals) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query := `
		INSERT INTO signals (
			id, tenant_id, provider, connection_id, kind,
			occurred_at, received_at, payload, dedupe_key
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (connection_id, dedupe_key) WHERE dedupe_key IS NOT NULL
		DO NOTHING
	`

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	stored := 0
	for _, sig := range signals {
		payload := sig.Payload
		if payload == nil {
			payload = json.RawMessage("{}")
		}

		result, err := stmt.ExecContext(ctx,
			sig.ID,
			sig.TenantID,
			string(sig.Provider),
			sig.ConnectionID,
			string(sig.Kind),
			sig.OccurredAt,
			sig.ReceivedAt,
			[]byte(payload),
			NullString(sig.DedupeKey),
		)
		if err != nil {
			return 0, fmt.Errorf("insert signal %s: %w", sig.ID, err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return 0, err
		}
		stored += int(rows)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}
	return stored, nil
}

// List retrieves signals matching the filter, newest occurred_at first
func (s *SignalStore) List(ctx context.Context, filter driven.SignalFilter) ([]*domain.Signal, error) {
	query := `
		SELECT id, tenant_id, provider, connection_id, kind,
		       occurred_at, received_at, payload, dedupe_key
		FROM signals
		WHERE 1=1
	`
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
	if filter.Kind != "" {
		addArg(" AND kind = $%d", string(filter.Kind))
	}

	query += " ORDER BY occurred_at DESC"
	if filter.Limit > 0 {
		addArg(" LIMIT $%d", filter.Limit)
	}
	if filter.Offset > 0 {
		addArg(" OFFSET $%d", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list signals: %w", err)
	}
	defer rows.Close()

	var signals []*domain.Signal
	for rows.Next() {
		var sig domain.Signal
		var payload []byte
		var dedupeKey []byte

		err := rows.Scan(
			&sig.ID,
			&sig.TenantID,
			&sig.Provider,
			&sig.ConnectionID,
			&sig.Kind,
			&sig.OccurredAt,
			&sig.ReceivedAt,
			&payload,
			&dedupeKey,
		)
		if err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		sig.Payload = json.RawMessage(payload)
		sig.DedupeKey = string(dedupeKey)
		signals = append(signals, &sig)
	}
	return signals, rows.Err()
}
