package driving

import "context"

// AuthorizeRequest starts an authorization flow for a tenant.
type AuthorizeRequest struct {
	TenantID string `json:"tenant_id"`
	Provider string `json:"provider"`
}

// AuthorizeResponse carries the provider authorization URL.
type AuthorizeResponse struct {
	AuthorizationURL string `json:"authorization_url"`
	State            string `json:"state"`
	ExpiresAt        string `json:"expires_at"`
}

// CallbackRequest is the provider redirect back to us.
type CallbackRequest struct {
	State            string
	Code             string
	Error            string
	ErrorDescription string
}

// CallbackResponse reports the connection created or updated.
type CallbackResponse struct {
	ConnectionID string `json:"connection_id"`
	Message      string `json:"message"`
}

// OAuthService drives the authorization flow over the connector contract.
type OAuthService interface {
	// Authorize builds the provider authorization URL bound to a stored,
	// single-use state token.
	Authorize(ctx context.Context, req AuthorizeRequest) (*AuthorizeResponse, error)

	// Callback validates and consumes the state, exchanges the code, and
	// creates or updates the tenant's connection.
	Callback(ctx context.Context, req CallbackRequest) (*CallbackResponse, error)
}
