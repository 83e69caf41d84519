package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/conduit-core/internal/core/domain"
)

// OAuthState tracks one in-flight authorization flow.
// Single-use and tenant/provider-scoped, with a short expiry.
type OAuthState struct {
	State       string
	TenantID    string
	Provider    domain.ProviderType
	RedirectURI string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// OAuthStateStore manages authorization flow state.
type OAuthStateStore interface {
	// Save stores a new state token.
	Save(ctx context.Context, state *OAuthState) error

	// GetAndDelete atomically retrieves and consumes a state token.
	// Returns nil when the token is unknown or expired.
	GetAndDelete(ctx context.Context, state string) (*OAuthState, error)

	// Cleanup removes expired states.
	Cleanup(ctx context.Context) error
}
