package domain

import "time"

// Credentials stores provider tokens for a connection.
// Always encrypted at rest; never serialized into API responses.
type Credentials struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	TokenType    string     `json:"token_type,omitempty"` // Usually "Bearer"
	Expiry       *time.Time `json:"expiry,omitempty"`     // nil = non-expiring
	Scopes       []string   `json:"scopes,omitempty"`

	// Identity metadata from the token exchange
	AccountID    string `json:"account_id,omitempty"`
	AccountEmail string `json:"account_email,omitempty"`
	AccountName  string `json:"account_name,omitempty"`
}

// ExpiresWithin reports whether the credential expires inside the lead window.
// Non-expiring credentials never need a refresh.
func (c *Credentials) ExpiresWithin(lead time.Duration) bool {
	if c.Expiry == nil {
		return false
	}
	return c.Expiry.Before(time.Now().Add(lead))
}

// Merge applies a refresh result over the previous credential set.
// An empty refresh token in next means the provider omitted it, so the
// previous one is carried forward (the reuse-previous sentinel).
func (c *Credentials) Merge(next *Credentials) *Credentials {
	merged := *next
	if merged.RefreshToken == "" {
		merged.RefreshToken = c.RefreshToken
	}
	if merged.AccountID == "" {
		merged.AccountID = c.AccountID
	}
	if len(merged.Scopes) == 0 {
		merged.Scopes = c.Scopes
	}
	return &merged
}
