package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/custodia-labs/conduit-core/internal/core/domain"
	"github.com/custodia-labs/conduit-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.ConnectionStore = (*ConnectionStore)(nil)

// ConnectionStore implements driven.ConnectionStore using PostgreSQL.
// Credentials are sealed with the cipher on write and opened on read;
// listings never load the credential column at all.
type ConnectionStore struct {
	db     *DB
	cipher *Cipher
}

// NewConnectionStore creates a new ConnectionStore
func NewConnectionStore(db *DB, cipher *Cipher) *ConnectionStore {
	return &ConnectionStore{db: db, cipher: cipher}
}

const connectionColumns = `
	id, tenant_id, provider, external_account_id, status, credentials,
	expires_at, metadata, cursor, interval_seconds, next_run_at,
	last_jitter_seconds, created_at, updated_at
`

// Get retrieves a connection with decrypted credentials
func (s *ConnectionStore) Get(ctx context.Context, id string) (*domain.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections WHERE id = $1`
	return s.scanOne(s.db.QueryRowContext(ctx, query, id), true)
}

// GetByAccount finds a connection by its provider account identity
func (s *ConnectionStore) GetByAccount(ctx context.Context, tenantID string, provider domain.ProviderType, externalAccountID string) (*domain.Connection, error) {
	query := `
		SELECT ` + connectionColumns + `
		FROM connections
		WHERE tenant_id = $1 AND provider = $2 AND external_account_id = $3
	`
	return s.scanOne(s.db.QueryRowContext(ctx, query, tenantID, provider, externalAccountID), true)
}

// List returns credential-free connections for a tenant
func (s *ConnectionStore) List(ctx context.Context, tenantID string) ([]*domain.Connection, error) {
	query := `
		SELECT ` + connectionColumns + `
		FROM connections
		WHERE tenant_id = $1
		ORDER BY created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	defer rows.Close()

	var conns []*domain.Connection
	for rows.Next() {
		conn, err := s.scanRow(rows, false)
		if err != nil {
			return nil, err
		}
		conns = append(conns, conn)
	}
	return conns, rows.Err()
}

// Save creates or updates a connection, encrypting its credentials
func (s *ConnectionStore) Save(ctx context.Context, conn *domain.Connection) error {
	var blob []byte
	if conn.Credentials != nil {
		var err error
		blob, err = s.cipher.Encrypt(conn.Credentials)
		if err != nil {
			return fmt.Errorf("encrypt credentials: %w", err)
		}
	}

	metadata, err := json.Marshal(conn.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if conn.Metadata == nil {
		metadata = []byte("{}")
	}

	query := `
		INSERT INTO connections (
			id, tenant_id, provider, external_account_id, status, credentials,
			expires_at, metadata, cursor, interval_seconds, next_run_at,
			last_jitter_seconds, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW())
		ON CONFLICT (id) DO UPDATE SET
			external_account_id = EXCLUDED.external_account_id,
			status = EXCLUDED.status,
			credentials = EXCLUDED.credentials,
			expires_at = EXCLUDED.expires_at,
			metadata = EXCLUDED.metadata,
			interval_seconds = EXCLUDED.interval_seconds,
			updated_at = NOW()
	`

	_, err = s.db.ExecContext(ctx, query,
		conn.ID,
		conn.TenantID,
		string(conn.Provider),
		conn.ExternalAccountID,
		string(conn.Status),
		blob,
		NullTime(conn.ExpiresAt),
		metadata,
		nullJSON(conn.Cursor),
		conn.Sync.IntervalSeconds,
		NullTime(conn.Sync.NextRunAt),
		conn.Sync.LastJitterSeconds,
		conn.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save connection: %w", err)
	}
	return nil
}

// UpdateCredentials replaces the credential blob and expiry
func (s *ConnectionStore) UpdateCredentials(ctx context.Context, id string, creds *domain.Credentials) error {
	blob, err := s.cipher.Encrypt(creds)
	if err != nil {
		return fmt.Errorf("encrypt credentials: %w", err)
	}

	query := `
		UPDATE connections
		SET credentials = $1, expires_at = $2, updated_at = NOW()
		WHERE id = $3
	`
	result, err := s.db.ExecContext(ctx, query, blob, NullTime(creds.Expiry), id)
	if err != nil {
		return fmt.Errorf("update credentials: %w", err)
	}
	return requireRow(result, domain.ErrConnectionNotFound)
}

// UpdateCursor advances the durable cursor. Refuses nil so a buggy caller
// can never regress a connection to from-the-beginning.
func (s *ConnectionStore) UpdateCursor(ctx context.Context, id string, cursor json.RawMessage) error {
	if cursor == nil {
		return fmt.Errorf("%w: cursor must not be nil", domain.ErrInvalidInput)
	}

	query := `UPDATE connections SET cursor = $1, updated_at = NOW() WHERE id = $2`
	result, err := s.db.ExecContext(ctx, query, []byte(cursor), id)
	if err != nil {
		return fmt.Errorf("update cursor: %w", err)
	}
	return requireRow(result, domain.ErrConnectionNotFound)
}

// SetStatus flips the connection health status
func (s *ConnectionStore) SetStatus(ctx context.Context, id string, status domain.ConnectionStatus) error {
	query := `UPDATE connections SET status = $1, updated_at = NOW() WHERE id = $2`
	result, err := s.db.ExecContext(ctx, query, string(status), id)
	if err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	return requireRow(result, domain.ErrConnectionNotFound)
}

// ListExpiring returns active connections whose credential expiry falls at
// or before the deadline. Connections already in error stay out of the
// refresh sweep until something reactivates them.
func (s *ConnectionStore) ListExpiring(ctx context.Context, deadline time.Time) ([]*domain.Connection, error) {
	query := `
		SELECT ` + connectionColumns + `
		FROM connections
		WHERE status = 'active' AND expires_at IS NOT NULL AND expires_at <= $1
		ORDER BY expires_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, deadline)
	if err != nil {
		return nil, fmt.Errorf("list expiring connections: %w", err)
	}
	defer rows.Close()

	var conns []*domain.Connection
	for rows.Next() {
		conn, err := s.scanRow(rows, true)
		if err != nil {
			return nil, err
		}
		conns = append(conns, conn)
	}
	return conns, rows.Err()
}

// ResolveForWebhook picks the connection an inbound push belongs to:
// the one marked primary in metadata, else the newest active connection
// for (tenant, provider).
func (s *ConnectionStore) ResolveForWebhook(ctx context.Context, tenantID string, provider domain.ProviderType) (*domain.Connection, error) {
	query := `
		SELECT ` + connectionColumns + `
		FROM connections
		WHERE tenant_id = $1 AND provider = $2 AND status = 'active'
		ORDER BY (metadata->>'primary' = 'true') DESC NULLS LAST, created_at DESC
		LIMIT 1
	`
	conn, err := s.scanOne(s.db.QueryRowContext(ctx, query, tenantID, provider), true)
	if err == domain.ErrNotFound {
		return nil, domain.ErrConnectionNotFound
	}
	return conn, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *ConnectionStore) scanOne(row *sql.Row, withCreds bool) (*domain.Connection, error) {
	conn, err := s.scanRow(row, withCreds)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	return conn, err
}

func (s *ConnectionStore) scanRow(row rowScanner, withCreds bool) (*domain.Connection, error) {
	var conn domain.Connection
	var blob []byte
	var metadata, cursor []byte
	var expiresAt, nextRunAt sql.NullTime

	err := row.Scan(
		&conn.ID,
		&conn.TenantID,
		&conn.Provider,
		&conn.ExternalAccountID,
		&conn.Status,
		&blob,
		&expiresAt,
		&metadata,
		&cursor,
		&conn.Sync.IntervalSeconds,
		&nextRunAt,
		&conn.Sync.LastJitterSeconds,
		&conn.CreatedAt,
		&conn.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	conn.ExpiresAt = TimePtr(expiresAt)
	conn.Sync.NextRunAt = TimePtr(nextRunAt)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &conn.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	if len(cursor) > 0 {
		conn.Cursor = json.RawMessage(cursor)
	}

	if withCreds && len(blob) > 0 {
		var creds domain.Credentials
		if err := s.cipher.Decrypt(blob, &creds); err != nil {
			return nil, fmt.Errorf("decrypt credentials for connection %s: %w", conn.ID, err)
		}
		conn.Credentials = &creds
	}

	return &conn, nil
}

func nullJSON(raw json.RawMessage) any {
	if raw == nil {
		return nil
	}
	return []byte(raw)
}

func requireRow(result sql.Result, notFound error) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return notFound
	}
	return nil
}
