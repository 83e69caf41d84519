package driven

import (
	"context"
	"encoding/json"
	"time"

	"github.com/custodia-labs/conduit-core/internal/core/domain"
)

// ConnectionStore persists tenant connections.
// Implementations decrypt credentials on read and encrypt on write.
type ConnectionStore interface {
	// Get retrieves a connection by ID, including decrypted credentials.
	Get(ctx context.Context, id string) (*domain.Connection, error)

	// GetByAccount finds a connection by its provider account identity.
	GetByAccount(ctx context.Context, tenantID string, provider domain.ProviderType, externalAccountID string) (*domain.Connection, error)

	// List returns credential-free connections for a tenant.
	List(ctx context.Context, tenantID string) ([]*domain.Connection, error)

	// Save creates or updates a connection, encrypting its credentials.
	Save(ctx context.Context, conn *domain.Connection) error

	// UpdateCredentials replaces the credential blob and expiry.
	UpdateCredentials(ctx context.Context, id string, creds *domain.Credentials) error

	// UpdateCursor advances the durable cursor. Implementations must never
	// overwrite a cursor with nil.
	UpdateCursor(ctx context.Context, id string, cursor json.RawMessage) error

	// SetStatus flips the connection health status.
	SetStatus(ctx context.Context, id string, status domain.ConnectionStatus) error

	// ListExpiring returns connections whose credential expiry falls at or
	// before the deadline. Non-expiring connections are never returned.
	ListExpiring(ctx context.Context, deadline time.Time) ([]*domain.Connection, error)

	// ResolveForWebhook picks the connection an inbound push belongs to:
	// the one marked primary in metadata, else the most recently created
	// active connection for (tenant, provider).
	ResolveForWebhook(ctx context.Context, tenantID string, provider domain.ProviderType) (*domain.Connection, error)
}
