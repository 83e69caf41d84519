package zoho

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/custodia-labs/conduit-core/internal/adapters/driven/connectors"
	"github.com/custodia-labs/conduit-core/internal/core/domain"
)

// base carries the OAuth plumbing shared by the Zoho workspace connectors.
// All Zoho products authenticate through the accounts service; only the API
// hosts and scopes differ.
type base struct {
	app        connectors.App
	httpClient *http.Client

	accountsBaseURL string
}

func newBase(app connectors.App) base {
	return base{
		app:             app,
		httpClient:      &http.Client{Timeout: 30 * time.Second},
		accountsBaseURL: "https://accounts.zoho.com",
	}
}

// authorize builds the consent URL. access_type=offline makes Zoho return a
// refresh token on the first consent.
func (b *base) authorize(state, redirectURI string, scopes []string) string {
	params := url.Values{
		"client_id":     {b.app.ClientID},
		"redirect_uri":  {redirectURI},
		"response_type": {"code"},
		"scope":         {strings.Join(scopes, ",")},
		"state":         {state},
		"access_type":   {"offline"},
		"prompt":        {"consent"},
	}
	return b.accountsBaseURL + "/oauth/v2/auth?" + params.Encode()
}

// exchangeToken exchanges the code and resolves the Zoho account.
func (b *base) exchangeToken(ctx context.Context, code, redirectURI string) (*domain.Credentials, error) {
	resp, err := connectors.ExchangeCode(ctx, b.httpClient, b.accountsBaseURL+"/oauth/v2/token", b.app, code, redirectURI)
	if err != nil {
		return nil, err
	}
	creds := resp.Credentials()

	var info struct {
		ZUID        int64  `json:"ZUID"`
		Email       string `json:"Email"`
		DisplayName string `json:"Display_Name"`
	}
	if err := connectors.GetJSON(ctx, b.httpClient, b.accountsBaseURL+"/oauth/user/info", creds.AccessToken, &info); err != nil {
		return nil, err
	}
	if info.ZUID > 0 {
		creds.AccountID = strconv.FormatInt(info.ZUID, 10)
	}
	creds.AccountEmail = info.Email
	creds.AccountName = info.DisplayName
	return creds, nil
}

// refreshToken rotates the access token. Zoho keeps the refresh token
// stable and omits it from the response.
func (b *base) refreshToken(ctx context.Context, creds *domain.Credentials) (*domain.Credentials, error) {
	resp, err := connectors.RefreshGrant(ctx, b.httpClient, b.accountsBaseURL+"/oauth/v2/token", b.app, creds.RefreshToken)
	if err != nil {
		return nil, err
	}
	return resp.Credentials(), nil
}
