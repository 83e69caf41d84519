package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/custodia-labs/conduit-core/internal/core/ports/driven"
)

// Ensure OAuthStateStore implements the interface.
var _ driven.OAuthStateStore = (*OAuthStateStore)(nil)

// OAuthStateStore implements driven.OAuthStateStore using PostgreSQL.
type OAuthStateStore struct {
	db *DB
}

// NewOAuthStateStore creates a new PostgreSQL-backed OAuth state store.
func NewOAuthStateStore(db *DB) *OAuthStateStore {
	return &OAuthStateStore{db: db}
}

// Save stores a new OAuth state.
func (s *OAuthStateStore) Save(ctx context.Context, state *driven.OAuthState) error {
	now := time.Now()
	if state.CreatedAt.IsZero() {
		state.CreatedAt = now
	}

	query := `
		INSERT INTO oauth_states (state, tenant_id, provider, redirect_uri, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.db.ExecContext(ctx, query,
		state.State,
		state.TenantID,
		string(state.Provider),
		state.RedirectURI,
		state.CreatedAt,
		state.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("save oauth state: %w", err)
	}
	return nil
}

// GetAndDelete atomically retrieves and consumes a state token.
// Uses DELETE ... RETURNING for atomic single-use semantics.
func (s *OAuthStateStore) GetAndDelete(ctx context.Context, state string) (*driven.OAuthState, error) {
	query := `
		DELETE FROM oauth_states
		WHERE state = $1
		RETURNING state, tenant_id, provider, redirect_uri, created_at, expires_at
	`

	var st driven.OAuthState
	err := s.db.QueryRowContext(ctx, query, state).Scan(
		&st.State,
		&st.TenantID,
		&st.Provider,
		&st.RedirectURI,
		&st.CreatedAt,
		&st.ExpiresAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil // unknown state
	}
	if err != nil {
		return nil, fmt.Errorf("get and delete oauth state: %w", err)
	}
	return &st, nil
}

// Cleanup removes expired states.
func (s *OAuthStateStore) Cleanup(ctx context.Context) error {
	query := `DELETE FROM oauth_states WHERE expires_at < NOW()`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("cleanup oauth states: %w", err)
	}
	return nil
}
