package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/custodia-labs/conduit-core/internal/core/domain"
)

// App holds one provider OAuth app registration.
type App struct {
	ClientID     string
	ClientSecret string
}

// TokenResponse is the provider's answer to a token grant request.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
	ExpiresIn    int    `json:"expires_in"`
	Error        string `json:"error"`
	ErrorDesc    string `json:"error_description"`
}

// Credentials converts the token response into domain credentials.
// An absent expires_in yields a non-expiring credential; an absent refresh
// token stays empty (the reuse-previous sentinel).
func (t *TokenResponse) Credentials() *domain.Credentials {
	creds := &domain.Credentials{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
	}
	if t.TokenType == "" {
		creds.TokenType = "Bearer"
	}
	if t.Scope != "" {
		creds.Scopes = strings.Split(t.Scope, " ")
	}
	if t.ExpiresIn > 0 {
		expiry := time.Now().Add(time.Duration(t.ExpiresIn) * time.Second)
		creds.Expiry = &expiry
	}
	return creds
}

// ExchangeCode exchanges an authorization code for tokens against a
// form-encoded token endpoint.
func ExchangeCode(ctx context.Context, client *http.Client, tokenURL string, app App, code, redirectURI string) (*TokenResponse, error) {
	params := url.Values{
		"client_id":     {app.ClientID},
		"client_secret": {app.ClientSecret},
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {redirectURI},
	}
	return tokenGrant(ctx, client, tokenURL, params)
}

// RefreshGrant exchanges a refresh token for a new access token.
func RefreshGrant(ctx context.Context, client *http.Client, tokenURL string, app App, refreshToken string) (*TokenResponse, error) {
	params := url.Values{
		"client_id":     {app.ClientID},
		"client_secret": {app.ClientSecret},
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}
	return tokenGrant(ctx, client, tokenURL, params)
}

func tokenGrant(ctx context.Context, client *http.Client, tokenURL string, params url.Values) (*TokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", tokenURL, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, domain.Transient(fmt.Errorf("token request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.Transient(fmt.Errorf("read token response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		cause := fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, truncate(body, 200))
		return nil, domain.HTTPStatusToSyncError(resp.StatusCode, RetryAfterSeconds(resp), cause)
	}

	var tokenResp TokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, domain.Permanent(fmt.Errorf("decode token response: %w", err))
	}

	if tokenResp.Error != "" {
		cause := fmt.Errorf("oauth error: %s - %s", tokenResp.Error, tokenResp.ErrorDesc)
		if tokenResp.Error == "invalid_grant" {
			return nil, domain.Unauthorized(cause)
		}
		return nil, domain.Permanent(cause)
	}
	return &tokenResp, nil
}

// RetryAfterSeconds parses the Retry-After header as delta seconds,
// returning 0 when absent or unparseable.
func RetryAfterSeconds(resp *http.Response) int {
	header := resp.Header.Get("Retry-After")
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return secs
	}
	if at, err := http.ParseTime(header); err == nil {
		if secs := int(time.Until(at).Seconds()); secs > 0 {
			return secs
		}
	}
	return 0
}

// StatusError maps a non-2xx API response onto the error taxonomy.
func StatusError(resp *http.Response, body []byte) *domain.SyncError {
	cause := fmt.Errorf("api returned %d: %s", resp.StatusCode, truncate(body, 200))
	return domain.HTTPStatusToSyncError(resp.StatusCode, RetryAfterSeconds(resp), cause)
}

// GetJSON performs an authenticated GET and decodes the JSON response.
func GetJSON(ctx context.Context, client *http.Client, rawURL, accessToken string, out any) error {
	req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return domain.Transient(fmt.Errorf("do request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.Transient(fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return StatusError(resp, body)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return domain.Permanent(fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
