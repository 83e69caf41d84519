package google

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/custodia-labs/conduit-core/internal/adapters/driven/connectors"
	"github.com/custodia-labs/conduit-core/internal/core/domain"
)

// base carries the OAuth plumbing shared by the Google workspace connectors.
// Google scopes differ per product but the endpoints and token handling are
// identical.
type base struct {
	app        connectors.App
	httpClient *http.Client

	authBaseURL string
	tokenURL    string
	apiBaseURL  string
}

func newBase(app connectors.App) base {
	return base{
		app:         app,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		authBaseURL: "https://accounts.google.com",
		tokenURL:    "https://oauth2.googleapis.com/token",
		apiBaseURL:  "https://www.googleapis.com",
	}
}

// authorize builds the consent URL. access_type=offline with prompt=consent
// is what makes Google return a refresh token.
func (b *base) authorize(state, redirectURI string, scopes []string) string {
	params := url.Values{
		"client_id":     {b.app.ClientID},
		"redirect_uri":  {redirectURI},
		"response_type": {"code"},
		"scope":         {strings.Join(scopes, " ")},
		"state":         {state},
		"access_type":   {"offline"},
		"prompt":        {"consent"},
	}
	return b.authBaseURL + "/o/oauth2/v2/auth?" + params.Encode()
}

// exchangeToken exchanges the code and resolves the Google account.
func (b *base) exchangeToken(ctx context.Context, code, redirectURI string) (*domain.Credentials, error) {
	resp, err := connectors.ExchangeCode(ctx, b.httpClient, b.tokenURL, b.app, code, redirectURI)
	if err != nil {
		return nil, err
	}
	creds := resp.Credentials()

	var userinfo struct {
		ID    string `json:"id"`
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := connectors.GetJSON(ctx, b.httpClient, b.apiBaseURL+"/oauth2/v2/userinfo", creds.AccessToken, &userinfo); err != nil {
		return nil, err
	}
	creds.AccountID = userinfo.ID
	creds.AccountEmail = userinfo.Email
	creds.AccountName = userinfo.Name
	return creds, nil
}

// refreshToken rotates the access token. Google never returns a new refresh
// token here, so the response relies on the reuse-previous sentinel.
func (b *base) refreshToken(ctx context.Context, creds *domain.Credentials) (*domain.Credentials, error) {
	resp, err := connectors.RefreshGrant(ctx, b.httpClient, b.tokenURL, b.app, creds.RefreshToken)
	if err != nil {
		return nil, err
	}
	return resp.Credentials(), nil
}
