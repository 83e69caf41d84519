package driven

import (
	"context"
	"encoding/json"

	"github.com/custodia-labs/conduit-core/internal/core/domain"
)

// SyncResult is the outcome of one Connector.Sync invocation.
type SyncResult struct {
	// Signals are the normalized events fetched in this page.
	Signals []*domain.Signal

	// NextCursor is the progress marker to persist. Must never regress the
	// cursor passed in. nil means the connector made no progress claim.
	NextCursor json.RawMessage

	// HasMore indicates another page is available; the executor enqueues an
	// immediate continuation job carrying NextCursor.
	HasMore bool
}

// WebhookPayload is an authenticated inbound push from a provider.
// Headers are normalized to lower-case keys before delivery.
type WebhookPayload struct {
	Headers map[string]string
	Body    []byte
}

// Connector is the capability contract every provider integration implements.
// All methods are fallible and must map provider-specific failures onto the
// domain.SyncError taxonomy.
type Connector interface {
	// Type returns the provider type.
	Type() domain.ProviderType

	// Info returns the immutable registry metadata for the provider.
	Info() domain.ProviderInfo

	// Authorize builds the provider authorization URL bound to the given
	// state token and redirect URI. State generation and storage is the
	// OAuth service's responsibility.
	Authorize(state, redirectURI string) string

	// ExchangeToken exchanges an authorization code for credentials and
	// identity metadata.
	ExchangeToken(ctx context.Context, code, redirectURI string) (*domain.Credentials, error)

	// RefreshToken exchanges the connection's refresh token for a new access
	// token. When the provider omits a new refresh token, the returned
	// credentials carry an empty RefreshToken, signaling "reuse previous" -
	// a sentinel, not an error.
	RefreshToken(ctx context.Context, creds *domain.Credentials) (*domain.Credentials, error)

	// Sync performs one incremental fetch from the given cursor (nil = start
	// from the beginning). It must fail with the appropriate SyncError
	// variant rather than return partial data on any failure.
	Sync(ctx context.Context, conn *domain.Connection, cursor json.RawMessage) (*SyncResult, error)

	// HandleWebhook converts a verified inbound push into signals. May return
	// zero signals when the push is only a dirty-bit; detail retrieval is
	// deferred to the webhook-triggered Sync.
	HandleWebhook(ctx context.Context, payload WebhookPayload) ([]*domain.Signal, error)
}
