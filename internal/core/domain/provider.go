package domain

// ProviderType identifies an integration provider
type ProviderType string

const (
	// Issue trackers
	ProviderTypeGitHub ProviderType = "github"
	ProviderTypeJira   ProviderType = "jira"

	// Google workspace
	ProviderTypeGmail          ProviderType = "gmail"
	ProviderTypeGoogleCalendar ProviderType = "google_calendar"
	ProviderTypeGoogleDrive    ProviderType = "google_drive"

	// Zoho workspace
	ProviderTypeZohoCliq ProviderType = "zoho_cliq"
	ProviderTypeZohoMail ProviderType = "zoho_mail"
)

// AuthType defines how a provider authenticates
type AuthType string

const (
	AuthTypeOAuth2 AuthType = "oauth2"
	AuthTypeAPIKey AuthType = "api_key"
)

// SignatureScheme identifies how a provider signs webhook deliveries
type SignatureScheme string

const (
	// SignatureSchemeNone means the provider cannot push webhooks.
	SignatureSchemeNone SignatureScheme = "none"

	// SignatureSchemeHMACSHA256 is a hex HMAC-SHA256 over the raw body
	// (GitHub's X-Hub-Signature-256 style).
	SignatureSchemeHMACSHA256 SignatureScheme = "hmac_sha256"

	// SignatureSchemeTimestampHMAC signs "v0:{timestamp}:{body}" and rejects
	// requests outside the clock-skew tolerance (Slack-style).
	SignatureSchemeTimestampHMAC SignatureScheme = "timestamp_hmac"
)

// ProviderInfo is the immutable registry metadata for a provider
type ProviderInfo struct {
	Type        ProviderType    `json:"type"`
	Name        string          `json:"name"`
	AuthType    AuthType        `json:"auth_type"`
	Scopes      []string        `json:"scopes"`
	Webhooks    bool            `json:"webhooks"`
	Signature   SignatureScheme `json:"signature_scheme"`
	Description string          `json:"description,omitempty"`
}

// CoreProviders returns the providers shipped with Conduit Core
func CoreProviders() []ProviderType {
	return []ProviderType{
		ProviderTypeGitHub,
		ProviderTypeJira,
		ProviderTypeGmail,
		ProviderTypeGoogleCalendar,
		ProviderTypeGoogleDrive,
		ProviderTypeZohoCliq,
		ProviderTypeZohoMail,
	}
}
