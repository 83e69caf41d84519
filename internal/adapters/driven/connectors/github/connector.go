package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/custodia-labs/conduit-core/internal/adapters/driven/connectors"
	"github.com/custodia-labs/conduit-core/internal/core/domain"
	"github.com/custodia-labs/conduit-core/internal/core/ports/driven"
)

// Ensure Connector implements the contract.
var _ driven.Connector = (*Connector)(nil)

const issuesPerPage = 100

var scopes = []string{"repo", "read:user"}

// Connector integrates GitHub issues via the REST API.
type Connector struct {
	app        connectors.App
	httpClient *http.Client

	// Endpoint bases, overridable in tests.
	authBaseURL string
	apiBaseURL  string
}

// New creates a GitHub connector.
func New(app connectors.App) *Connector {
	return &Connector{
		app:         app,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		authBaseURL: "https://github.com",
		apiBaseURL:  "https://api.github.com",
	}
}

func (c *Connector) Type() domain.ProviderType {
	return domain.ProviderTypeGitHub
}

func (c *Connector) Info() domain.ProviderInfo {
	return domain.ProviderInfo{
		Type:        domain.ProviderTypeGitHub,
		Name:        "GitHub",
		AuthType:    domain.AuthTypeOAuth2,
		Scopes:      scopes,
		Webhooks:    true,
		Signature:   domain.SignatureSchemeHMACSHA256,
		Description: "Issues and comments from repositories the account can access",
	}
}

// Authorize constructs the GitHub OAuth authorization URL.
func (c *Connector) Authorize(state, redirectURI string) string {
	params := url.Values{
		"client_id":    {c.app.ClientID},
		"redirect_uri": {redirectURI},
		"state":        {state},
		"scope":        {strings.Join(scopes, " ")},
	}
	return c.authBaseURL + "/login/oauth/authorize?" + params.Encode()
}

// ExchangeToken exchanges an authorization code and resolves the account
// identity behind it.
func (c *Connector) ExchangeToken(ctx context.Context, code, redirectURI string) (*domain.Credentials, error) {
	resp, err := connectors.ExchangeCode(ctx, c.httpClient, c.authBaseURL+"/login/oauth/access_token", c.app, code, redirectURI)
	if err != nil {
		return nil, err
	}
	creds := resp.Credentials()

	var user struct {
		ID    int64  `json:"id"`
		Login string `json:"login"`
		Email string `json:"email"`
	}
	if err := connectors.GetJSON(ctx, c.httpClient, c.apiBaseURL+"/user", creds.AccessToken, &user); err != nil {
		return nil, err
	}
	creds.AccountID = fmt.Sprintf("%d", user.ID)
	creds.AccountName = user.Login
	creds.AccountEmail = user.Email
	return creds, nil
}

// RefreshToken refreshes an expiring GitHub App user token. Classic OAuth
// tokens never expire and never reach this path.
func (c *Connector) RefreshToken(ctx context.Context, creds *domain.Credentials) (*domain.Credentials, error) {
	resp, err := connectors.RefreshGrant(ctx, c.httpClient, c.authBaseURL+"/login/oauth/access_token", c.app, creds.RefreshToken)
	if err != nil {
		return nil, err
	}
	return resp.Credentials(), nil
}

// issueCursor tracks incremental progress through the issues feed.
type issueCursor struct {
	Since string `json:"since"`
	Page  int    `json:"page,omitempty"`
}

type issue struct {
	ID         int64  `json:"id"`
	Number     int    `json:"number"`
	Title      string `json:"title"`
	State      string `json:"state"`
	HTMLURL    string `json:"html_url"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
	PullRequest *struct{} `json:"pull_request"`
}

// Sync fetches one page of issues updated since the cursor.
func (c *Connector) Sync(ctx context.Context, conn *domain.Connection, cursor json.RawMessage) (*driven.SyncResult, error) {
	if conn.Credentials == nil || conn.Credentials.AccessToken == "" {
		return nil, domain.Unauthorized(fmt.Errorf("connection %s has no access token", conn.ID))
	}

	var cur issueCursor
	if cursor != nil {
		if err := json.Unmarshal(cursor, &cur); err != nil {
			return nil, domain.Permanent(fmt.Errorf("decode cursor: %w", err))
		}
	}
	page := cur.Page
	if page < 1 {
		page = 1
	}
	fetchedAt := time.Now().UTC()

	params := url.Values{
		"filter":    {"all"},
		"state":     {"all"},
		"sort":      {"updated"},
		"direction": {"asc"},
		"per_page":  {fmt.Sprintf("%d", issuesPerPage)},
		"page":      {fmt.Sprintf("%d", page)},
	}
	if cur.Since != "" {
		params.Set("since", cur.Since)
	}

	var issues []issue
	if err := connectors.GetJSON(ctx, c.httpClient, c.apiBaseURL+"/issues?"+params.Encode(), conn.Credentials.AccessToken, &issues); err != nil {
		return nil, err
	}

	result := &driven.SyncResult{}
	for _, is := range issues {
		if is.PullRequest != nil {
			continue
		}
		sig, err := issueSignal(is)
		if err != nil {
			return nil, err
		}
		result.Signals = append(result.Signals, sig)
	}

	if len(issues) == issuesPerPage {
		next, _ := json.Marshal(issueCursor{Since: cur.Since, Page: page + 1})
		result.NextCursor = next
		result.HasMore = true
	} else {
		next, _ := json.Marshal(issueCursor{Since: fetchedAt.Format(time.RFC3339)})
		result.NextCursor = next
	}
	return result, nil
}

func issueSignal(is issue) (*domain.Signal, error) {
	kind := domain.SignalIssueUpdated
	if is.State == "closed" {
		kind = domain.SignalIssueClosed
	} else if is.CreatedAt == is.UpdatedAt {
		kind = domain.SignalIssueCreated
	}

	occurredAt, err := time.Parse(time.RFC3339, is.UpdatedAt)
	if err != nil {
		return nil, domain.Permanent(fmt.Errorf("parse issue timestamp: %w", err))
	}

	payload, err := json.Marshal(map[string]any{
		"issue_id":   is.ID,
		"number":     is.Number,
		"title":      is.Title,
		"state":      is.State,
		"url":        is.HTMLURL,
		"repository": is.Repository.FullName,
	})
	if err != nil {
		return nil, domain.Permanent(err)
	}

	sig := domain.NewSignal(kind, occurredAt, payload)
	sig.DedupeKey = fmt.Sprintf("github:issue:%d:%s", is.ID, is.UpdatedAt)
	return sig, nil
}

// webhookEvent is the subset of GitHub event payloads we normalize.
type webhookEvent struct {
	Action string `json:"action"`
	Issue  *struct {
		ID        int64  `json:"id"`
		Number    int    `json:"number"`
		Title     string `json:"title"`
		State     string `json:"state"`
		HTMLURL   string `json:"html_url"`
		UpdatedAt string `json:"updated_at"`
	} `json:"issue"`
	Comment *struct {
		ID        int64  `json:"id"`
		HTMLURL   string `json:"html_url"`
		CreatedAt string `json:"created_at"`
	} `json:"comment"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}

// HandleWebhook normalizes issue and comment events. Other event types,
// including ping, are acknowledged without signals.
func (c *Connector) HandleWebhook(ctx context.Context, payload driven.WebhookPayload) ([]*domain.Signal, error) {
	event := payload.Headers["x-github-event"]
	switch event {
	case "issues", "issue_comment":
	default:
		return nil, nil
	}

	var body webhookEvent
	if err := json.Unmarshal(payload.Body, &body); err != nil {
		return nil, domain.Permanent(fmt.Errorf("decode webhook payload: %w", err))
	}

	if event == "issue_comment" {
		if body.Action != "created" || body.Comment == nil {
			return nil, nil
		}
		occurredAt := parseTimeOrNow(body.Comment.CreatedAt)
		raw, err := json.Marshal(map[string]any{
			"comment_id": body.Comment.ID,
			"url":        body.Comment.HTMLURL,
			"repository": body.Repository.FullName,
		})
		if err != nil {
			return nil, domain.Permanent(err)
		}
		sig := domain.NewSignal(domain.SignalCommentCreated, occurredAt, raw)
		sig.DedupeKey = fmt.Sprintf("github:comment:%d", body.Comment.ID)
		return []*domain.Signal{sig}, nil
	}

	if body.Issue == nil {
		return nil, nil
	}
	var kind domain.SignalKind
	switch body.Action {
	case "opened":
		kind = domain.SignalIssueCreated
	case "closed":
		kind = domain.SignalIssueClosed
	case "edited", "reopened", "assigned", "unassigned", "labeled", "unlabeled":
		kind = domain.SignalIssueUpdated
	default:
		return nil, nil
	}

	occurredAt := parseTimeOrNow(body.Issue.UpdatedAt)
	raw, err := json.Marshal(map[string]any{
		"issue_id":   body.Issue.ID,
		"number":     body.Issue.Number,
		"title":      body.Issue.Title,
		"state":      body.Issue.State,
		"url":        body.Issue.HTMLURL,
		"repository": body.Repository.FullName,
	})
	if err != nil {
		return nil, domain.Permanent(err)
	}

	sig := domain.NewSignal(kind, occurredAt, raw)
	sig.DedupeKey = fmt.Sprintf("github:issue:%d:%s:%s", body.Issue.ID, body.Action, body.Issue.UpdatedAt)
	return []*domain.Signal{sig}, nil
}

func parseTimeOrNow(value string) time.Time {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Now().UTC()
}
