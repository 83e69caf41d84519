package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/custodia-labs/conduit-core/internal/adapters/driven/connectors"
	"github.com/custodia-labs/conduit-core/internal/core/domain"
	"github.com/custodia-labs/conduit-core/internal/core/ports/driven"
)

func testConnector(server *httptest.Server) *Connector {
	c := New(connectors.App{ClientID: "client-id", ClientSecret: "client-secret"})
	c.authBaseURL = server.URL
	c.apiBaseURL = server.URL
	return c
}

func testConnection() *domain.Connection {
	return &domain.Connection{
		ID:       "conn-1",
		TenantID: "tenant-1",
		Provider: domain.ProviderTypeGitHub,
		Status:   domain.ConnectionStatusActive,
		Credentials: &domain.Credentials{
			AccessToken:  "gho_token",
			RefreshToken: "ghr_refresh",
		},
	}
}

func TestExchangeTokenResolvesAccount(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/login/oauth/access_token":
			if r.FormValue("code") != "auth-code" {
				t.Errorf("unexpected code %q", r.FormValue("code"))
			}
			json.NewEncoder(w).Encode(map[string]any{
				"access_token": "gho_new",
				"token_type":   "bearer",
				"scope":        "repo,read:user",
			})
		case "/user":
			if r.Header.Get("Authorization") != "Bearer gho_new" {
				t.Errorf("missing auth header")
			}
			json.NewEncoder(w).Encode(map[string]any{"id": 12345, "login": "octocat", "email": "octo@example.com"})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	creds, err := testConnector(server).ExchangeToken(context.Background(), "auth-code", "http://localhost/cb")
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if creds.AccessToken != "gho_new" {
		t.Errorf("access token %q", creds.AccessToken)
	}
	if creds.AccountID != "12345" || creds.AccountName != "octocat" {
		t.Errorf("account identity %q/%q", creds.AccountID, creds.AccountName)
	}
	if creds.Expiry != nil {
		t.Error("classic token should be non-expiring")
	}
}

func TestSyncEmitsIssueSignals(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/issues" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		fmt.Fprint(w, `[
			{"id":1,"number":10,"title":"new bug","state":"open","created_at":"2025-06-01T10:00:00Z","updated_at":"2025-06-01T10:00:00Z"},
			{"id":2,"number":11,"title":"fixed","state":"closed","created_at":"2025-05-01T10:00:00Z","updated_at":"2025-06-02T10:00:00Z"},
			{"id":3,"number":12,"title":"a pr","state":"open","created_at":"2025-06-01T10:00:00Z","updated_at":"2025-06-01T10:00:00Z","pull_request":{}}
		]`)
	}))
	defer server.Close()

	result, err := testConnector(server).Sync(context.Background(), testConnection(), nil)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}

	if len(result.Signals) != 2 {
		t.Fatalf("expected 2 signals (pull request filtered), got %d", len(result.Signals))
	}
	if result.Signals[0].Kind != domain.SignalIssueCreated {
		t.Errorf("first signal kind %s", result.Signals[0].Kind)
	}
	if result.Signals[1].Kind != domain.SignalIssueClosed {
		t.Errorf("second signal kind %s", result.Signals[1].Kind)
	}
	if result.HasMore {
		t.Error("short page should not report has_more")
	}

	var cur issueCursor
	if err := json.Unmarshal(result.NextCursor, &cur); err != nil {
		t.Fatalf("decode cursor: %v", err)
	}
	if cur.Since == "" || cur.Page != 0 {
		t.Errorf("expected fresh since cursor, got %+v", cur)
	}
}

func TestSyncPaginates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("page"); got != "3" {
			t.Errorf("expected page 3, got %q", got)
		}
		if got := r.URL.Query().Get("since"); got != "2025-06-01T00:00:00Z" {
			t.Errorf("since not carried: %q", got)
		}

		// A full page means more is available.
		w.Write([]byte("["))
		for i := 0; i < issuesPerPage; i++ {
			if i > 0 {
				w.Write([]byte(","))
			}
			fmt.Fprintf(w, `{"id":%d,"number":%d,"title":"t","state":"open","created_at":"2025-06-01T10:00:00Z","updated_at":"2025-06-02T10:00:00Z"}`, i, i)
		}
		w.Write([]byte("]"))
	}))
	defer server.Close()

	cursor, _ := json.Marshal(issueCursor{Since: "2025-06-01T00:00:00Z", Page: 3})
	result, err := testConnector(server).Sync(context.Background(), testConnection(), cursor)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}

	if !result.HasMore {
		t.Fatal("full page should report has_more")
	}
	var next issueCursor
	if err := json.Unmarshal(result.NextCursor, &next); err != nil {
		t.Fatalf("decode cursor: %v", err)
	}
	if next.Page != 4 || next.Since != "2025-06-01T00:00:00Z" {
		t.Errorf("continuation cursor %+v", next)
	}
}

func TestSyncMapsHTTPErrors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		retryAfter string
		wantKind   domain.SyncErrorKind
		wantHint   int
	}{
		{"unauthorized", http.StatusUnauthorized, "", domain.SyncErrorUnauthorized, 0},
		{"rate limited", http.StatusTooManyRequests, "30", domain.SyncErrorRateLimited, 30},
		{"server error", http.StatusBadGateway, "", domain.SyncErrorTransient, 0},
		{"bad request", http.StatusUnprocessableEntity, "", domain.SyncErrorPermanent, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.retryAfter != "" {
					w.Header().Set("Retry-After", tt.retryAfter)
				}
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			_, err := testConnector(server).Sync(context.Background(), testConnection(), nil)
			if err == nil {
				t.Fatal("expected error")
			}
			se := domain.AsSyncError(err)
			if se.Kind != tt.wantKind {
				t.Errorf("kind %s, want %s", se.Kind, tt.wantKind)
			}
			if se.RetryAfterSecs != tt.wantHint {
				t.Errorf("hint %d, want %d", se.RetryAfterSecs, tt.wantHint)
			}
		})
	}
}

func TestSyncWithoutCredentials(t *testing.T) {
	c := New(connectors.App{})
	conn := testConnection()
	conn.Credentials = nil

	_, err := c.Sync(context.Background(), conn, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if se := domain.AsSyncError(err); se.Kind != domain.SyncErrorUnauthorized {
		t.Errorf("expected unauthorized, got %s", se.Kind)
	}
}

func TestHandleWebhookIssueEvents(t *testing.T) {
	c := New(connectors.App{})

	tests := []struct {
		action string
		want   domain.SignalKind
	}{
		{"opened", domain.SignalIssueCreated},
		{"closed", domain.SignalIssueClosed},
		{"edited", domain.SignalIssueUpdated},
	}

	for _, tt := range tests {
		body := fmt.Sprintf(`{"action":%q,"issue":{"id":7,"number":7,"title":"t","state":"open","updated_at":"2025-06-01T10:00:00Z"},"repository":{"full_name":"acme/app"}}`, tt.action)
		signals, err := c.HandleWebhook(context.Background(), driven.WebhookPayload{
			Headers: map[string]string{"x-github-event": "issues"},
			Body:    []byte(body),
		})
		if err != nil {
			t.Fatalf("%s: %v", tt.action, err)
		}
		if len(signals) != 1 || signals[0].Kind != tt.want {
			t.Errorf("%s: got %+v, want kind %s", tt.action, signals, tt.want)
		}
	}
}

func TestHandleWebhookCommentCreated(t *testing.T) {
	c := New(connectors.App{})

	signals, err := c.HandleWebhook(context.Background(), driven.WebhookPayload{
		Headers: map[string]string{"x-github-event": "issue_comment"},
		Body:    []byte(`{"action":"created","comment":{"id":99,"html_url":"http://x","created_at":"2025-06-01T10:00:00Z"},"repository":{"full_name":"acme/app"}}`),
	})
	if err != nil {
		t.Fatalf("webhook: %v", err)
	}
	if len(signals) != 1 || signals[0].Kind != domain.SignalCommentCreated {
		t.Errorf("got %+v", signals)
	}
}

func TestHandleWebhookIgnoresOtherEvents(t *testing.T) {
	c := New(connectors.App{})

	for _, event := range []string{"ping", "push", "star"} {
		signals, err := c.HandleWebhook(context.Background(), driven.WebhookPayload{
			Headers: map[string]string{"x-github-event": event},
			Body:    []byte(`{"zen":"Keep it logically awesome."}`),
		})
		if err != nil {
			t.Fatalf("%s: %v", event, err)
		}
		if signals != nil {
			t.Errorf("%s: expected no signals, got %d", event, len(signals))
		}
	}
}

func TestAuthorizeURL(t *testing.T) {
	c := New(connectors.App{ClientID: "client-id"})
	u := c.Authorize("state-token", "http://localhost/cb")

	parsed, err := url.Parse(u)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	q := parsed.Query()
	if q.Get("client_id") != "client-id" || q.Get("state") != "state-token" {
		t.Errorf("authorize url %s", u)
	}
}
