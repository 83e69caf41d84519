package zoho

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/custodia-labs/conduit-core/internal/adapters/driven/connectors"
	"github.com/custodia-labs/conduit-core/internal/core/domain"
	"github.com/custodia-labs/conduit-core/internal/core/ports/driven"
)

func testConnection(provider domain.ProviderType) *domain.Connection {
	return &domain.Connection{
		ID:          "conn-1",
		TenantID:    "tenant-1",
		Provider:    provider,
		Status:      domain.ConnectionStatusActive,
		Credentials: &domain.Credentials{AccessToken: "zoho.token", RefreshToken: "zoho.refresh"},
	}
}

func TestExchangeTokenResolvesAccount(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/v2/token":
			if r.FormValue("grant_type") != "authorization_code" {
				t.Errorf("grant_type %q", r.FormValue("grant_type"))
			}
			json.NewEncoder(w).Encode(map[string]any{
				"access_token":  "zoho.new",
				"refresh_token": "zoho.rt",
				"token_type":    "Bearer",
				"expires_in":    3600,
			})
		case "/oauth/user/info":
			json.NewEncoder(w).Encode(map[string]any{
				"ZUID":         8412,
				"Email":        "user@example.com",
				"Display_Name": "User",
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	c := NewCliq(connectors.App{ClientID: "id", ClientSecret: "secret"})
	c.accountsBaseURL = server.URL

	creds, err := c.ExchangeToken(context.Background(), "code", "http://localhost/cb")
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if creds.AccountID != "8412" || creds.AccountEmail != "user@example.com" {
		t.Errorf("account %q/%q", creds.AccountID, creds.AccountEmail)
	}
	if creds.Expiry == nil {
		t.Error("expected expiring credential")
	}
}

func TestRefreshTokenKeepsSentinelEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.FormValue("grant_type") != "refresh_token" {
			t.Errorf("grant_type %q", r.FormValue("grant_type"))
		}
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "zoho.rotated",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	defer server.Close()

	m := NewMail(connectors.App{})
	m.accountsBaseURL = server.URL

	creds, err := m.RefreshToken(context.Background(), &domain.Credentials{RefreshToken: "zoho.old"})
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if creds.AccessToken != "zoho.rotated" {
		t.Errorf("access token %q", creds.AccessToken)
	}
	// Zoho never returns the refresh token on refresh: the empty sentinel
	// tells the caller to keep the previous one.
	if creds.RefreshToken != "" {
		t.Errorf("expected empty refresh token sentinel, got %q", creds.RefreshToken)
	}
}

func TestAuthorizeJoinsScopesWithCommas(t *testing.T) {
	c := NewCliq(connectors.App{ClientID: "id"})
	u, err := url.Parse(c.Authorize("state-1", "http://localhost/cb"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	q := u.Query()
	if q.Get("scope") != "ZohoCliq.Channels.READ" {
		t.Errorf("scope %q", q.Get("scope"))
	}
	if q.Get("access_type") != "offline" || q.Get("state") != "state-1" {
		t.Errorf("params: %s", u)
	}
}

func TestCliqSyncEmitsChangedChannels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2/channels" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"channels":[
			{"channel_id":"ch1","name":"general","last_modified_time":2000},
			{"channel_id":"ch2","name":"random","last_modified_time":1000},
			{"channel_id":"ch3","name":"ops","last_modified_time":3000}
		]}`)
	}))
	defer server.Close()

	c := NewCliq(connectors.App{})
	c.apiBaseURL = server.URL

	cursor, _ := json.Marshal(cliqCursor{SinceMillis: 1500})
	result, err := c.Sync(context.Background(), testConnection(domain.ProviderTypeZohoCliq), cursor)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	// ch2 is older than the cursor and must be skipped.
	if len(result.Signals) != 2 {
		t.Fatalf("expected 2 signals, got %d", len(result.Signals))
	}
	for _, sig := range result.Signals {
		if sig.Kind != domain.SignalMessagePosted {
			t.Errorf("kind %s", sig.Kind)
		}
	}

	var next cliqCursor
	json.Unmarshal(result.NextCursor, &next)
	if next.SinceMillis != 3000 {
		t.Errorf("cursor %+v", next)
	}
}

func TestCliqWebhookMessage(t *testing.T) {
	c := NewCliq(connectors.App{})
	body := []byte(`{
		"message": {"id": "msg-9", "text": "ship it", "time": 1748772000000},
		"chat": {"id": "ch1", "title": "general"},
		"sender": {"id": "u1", "name": "Devi"}
	}`)

	signals, err := c.HandleWebhook(context.Background(), driven.WebhookPayload{Body: body})
	if err != nil {
		t.Fatalf("webhook: %v", err)
	}
	if len(signals) != 1 {
		t.Fatalf("expected 1 signal, got %d", len(signals))
	}
	sig := signals[0]
	if sig.Kind != domain.SignalMessagePosted {
		t.Errorf("kind %s", sig.Kind)
	}
	if sig.DedupeKey != "zoho_cliq:message:msg-9" {
		t.Errorf("dedupe key %q", sig.DedupeKey)
	}
}

func TestCliqWebhookIgnoresNonMessagePayloads(t *testing.T) {
	c := NewCliq(connectors.App{})
	signals, err := c.HandleWebhook(context.Background(), driven.WebhookPayload{Body: []byte(`{"type":"bot_added"}`)})
	if err != nil {
		t.Fatalf("webhook: %v", err)
	}
	if len(signals) != 0 {
		t.Errorf("expected no signals, got %d", len(signals))
	}
}

func TestMailSyncDiscoversAccountAndEmitsSignals(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/accounts":
			fmt.Fprint(w, `{"data":[{"accountId":"acct-1"}]}`)
		case "/api/accounts/acct-1/messages/view":
			fmt.Fprint(w, `{"data":[
				{"messageId":"m1","subject":"hello","fromAddress":"a@b.c","receivedTime":"1748772000000"},
				{"messageId":"m2","subject":"again","fromAddress":"a@b.c","receivedTime":"1748775600000"}
			]}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	m := NewMail(connectors.App{})
	m.apiBaseURL = server.URL

	result, err := m.Sync(context.Background(), testConnection(domain.ProviderTypeZohoMail), nil)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if len(result.Signals) != 2 {
		t.Fatalf("expected 2 signals, got %d", len(result.Signals))
	}
	if result.Signals[0].Kind != domain.SignalEmailReceived {
		t.Errorf("kind %s", result.Signals[0].Kind)
	}
	if result.Signals[0].DedupeKey != "zoho_mail:message:m1" {
		t.Errorf("dedupe key %q", result.Signals[0].DedupeKey)
	}
	if result.HasMore {
		t.Error("short page means no has_more")
	}

	var next mailCursor
	json.Unmarshal(result.NextCursor, &next)
	if next.AccountID != "acct-1" {
		t.Errorf("cursor should pin the discovered account, got %+v", next)
	}
	if next.AfterMillis != 1748775600000 {
		t.Errorf("cursor should advance to the newest message, got %+v", next)
	}
}

func TestMailSyncPaginatesFullPages(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/accounts/acct-1/messages/view" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("start"); got != "51" {
			t.Errorf("start %q", got)
		}
		fmt.Fprintf(w, `{"data":[%s]}`, fullMailPage())
	}))
	defer server.Close()

	m := NewMail(connectors.App{})
	m.apiBaseURL = server.URL

	cursor, _ := json.Marshal(mailCursor{AccountID: "acct-1", AfterMillis: 1700000000000, Start: 51})
	result, err := m.Sync(context.Background(), testConnection(domain.ProviderTypeZohoMail), cursor)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if !result.HasMore {
		t.Fatal("full page should set has_more")
	}

	var next mailCursor
	json.Unmarshal(result.NextCursor, &next)
	if next.Start != 101 || next.AfterMillis != 1700000000000 {
		t.Errorf("continuation cursor %+v", next)
	}
}

func TestMailSyncNoAccountsIsPermanent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[]}`)
	}))
	defer server.Close()

	m := NewMail(connectors.App{})
	m.apiBaseURL = server.URL

	_, err := m.Sync(context.Background(), testConnection(domain.ProviderTypeZohoMail), nil)
	var se *domain.SyncError
	if !errors.As(err, &se) || se.Kind != domain.SyncErrorPermanent {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func fullMailPage() string {
	items := make([]byte, 0, mailPageSize*64)
	for i := 0; i < mailPageSize; i++ {
		if i > 0 {
			items = append(items, ',')
		}
		items = fmt.Appendf(items, `{"messageId":"m%d","subject":"s","fromAddress":"a@b.c","receivedTime":"1700000000000"}`, i)
	}
	return string(items)
}
