package jira

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

const searchPageSize = 50

var scopes = []string{"read:jira-work", "read:jira-user", "offline_access"}

// Connector integrates Jira Cloud issues via the Atlassian 3LO flow.
type Connector struct {
	app        connectors.App
	httpClient *http.Client

	authBaseURL string
	apiBaseURL  string
}

// New creates a Jira connector.
func New(app connectors.App) *Connector {
	return &Connector{
		app:         app,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		authBaseURL: "https://auth.atlassian.com",
		apiBaseURL:  "https://api.atlassian.com",
	}
}

func (c *Connector) Type() domain.ProviderType {
	return domain.ProviderTypeJira
}

func (c *Connector) Info() domain.ProviderInfo {
	return domain.ProviderInfo{
		Type:        domain.ProviderTypeJira,
		Name:        "Jira",
		AuthType:    domain.AuthTypeOAuth2,
		Scopes:      scopes,
		Webhooks:    true,
		Signature:   domain.SignatureSchemeHMACSHA256,
		Description: "Issues and comments from Jira Cloud sites the account can access",
	}
}

// Authorize constructs the Atlassian authorization URL.
func (c *Connector) Authorize(state, redirectURI string) string {
	params := url.Values{
		"audience":      {"api.atlassian.com"},
		"client_id":     {c.app.ClientID},
		"scope":         {strings.Join(scopes, " ")},
		"redirect_uri":  {redirectURI},
		"state":         {state},
		"response_type": {"code"},
		"prompt":        {"consent"},
	}
	return c.authBaseURL + "/authorize?" + params.Encode()
}

// ExchangeToken exchanges the code and resolves the Atlassian account.
func (c *Connector) ExchangeToken(ctx context.Context, code, redirectURI string) (*domain.Credentials, error) {
	resp, err := connectors.ExchangeCode(ctx, c.httpClient, c.authBaseURL+"/oauth/token", c.app, code, redirectURI)
	if err != nil {
		return nil, err
	}
	creds := resp.Credentials()

	var me struct {
		AccountID string `json:"account_id"`
		Email     string `json:"email"`
		Name      string `json:"name"`
	}
	if err := connectors.GetJSON(ctx, c.httpClient, c.apiBaseURL+"/me", creds.AccessToken, &me); err != nil {
		return nil, err
	}
	creds.AccountID = me.AccountID
	creds.AccountEmail = me.Email
	creds.AccountName = me.Name
	return creds, nil
}

// RefreshToken rotates the access token. Atlassian issues rotating refresh
// tokens, so the response usually carries a new one.
func (c *Connector) RefreshToken(ctx context.Context, creds *domain.Credentials) (*domain.Credentials, error) {
	resp, err := connectors.RefreshGrant(ctx, c.httpClient, c.authBaseURL+"/oauth/token", c.app, creds.RefreshToken)
	if err != nil {
		return nil, err
	}
	return resp.Credentials(), nil
}

// searchCursor tracks incremental progress through the search feed.
type searchCursor struct {
	UpdatedSince string `json:"updated_since"`
	StartAt      int    `json:"start_at,omitempty"`
}

type searchResponse struct {
	StartAt    int `json:"startAt"`
	MaxResults int `json:"maxResults"`
	Total      int `json:"total"`
	Issues     []struct {
		ID     string `json:"id"`
		Key    string `json:"key"`
		Fields struct {
			Summary string `json:"summary"`
			Created string `json:"created"`
			Updated string `json:"updated"`
			Status  struct {
				Name           string `json:"name"`
				StatusCategory struct {
					Key string `json:"key"`
				} `json:"statusCategory"`
			} `json:"status"`
		} `json:"fields"`
	} `json:"issues"`
}

// Sync fetches one page of issues updated since the cursor, across the
// first accessible Jira site.
func (c *Connector) Sync(ctx context.Context, conn *domain.Connection, cursor json.RawMessage) (*driven.SyncResult, error) {
	if conn.Credentials == nil || conn.Credentials.AccessToken == "" {
		return nil, domain.Unauthorized(fmt.Errorf("connection %s has no access token", conn.ID))
	}

	cloudID, err := c.cloudID(ctx, conn)
	if err != nil {
		return nil, err
	}

	var cur searchCursor
	if cursor != nil {
		if err := json.Unmarshal(cursor, &cur); err != nil {
			return nil, domain.Permanent(fmt.Errorf("decode cursor: %w", err))
		}
	}
	fetchedAt := time.Now().UTC()

	jql := "order by updated asc"
	if cur.UpdatedSince != "" {
		jql = fmt.Sprintf(`updated >= "%s" order by updated asc`, cur.UpdatedSince)
	}
	params := url.Values{
		"jql":        {jql},
		"startAt":    {fmt.Sprintf("%d", cur.StartAt)},
		"maxResults": {fmt.Sprintf("%d", searchPageSize)},
		"fields":     {"summary,created,updated,status"},
	}

	var resp searchResponse
	searchURL := fmt.Sprintf("%s/ex/jira/%s/rest/api/3/search?%s", c.apiBaseURL, cloudID, params.Encode())
	if err := connectors.GetJSON(ctx, c.httpClient, searchURL, conn.Credentials.AccessToken, &resp); err != nil {
		return nil, err
	}

	result := &driven.SyncResult{}
	for _, is := range resp.Issues {
		sig, err := issueSignal(is.ID, is.Key, is.Fields.Summary, is.Fields.Status.Name, is.Fields.Status.StatusCategory.Key, is.Fields.Created, is.Fields.Updated)
		if err != nil {
			return nil, err
		}
		result.Signals = append(result.Signals, sig)
	}

	nextStart := resp.StartAt + len(resp.Issues)
	if nextStart < resp.Total {
		next, _ := json.Marshal(searchCursor{UpdatedSince: cur.UpdatedSince, StartAt: nextStart})
		result.NextCursor = next
		result.HasMore = true
	} else {
		// Jira's JQL timestamps have minute precision.
		next, _ := json.Marshal(searchCursor{UpdatedSince: fetchedAt.Format("2006-01-02 15:04")})
		result.NextCursor = next
	}
	return result, nil
}

// cloudID resolves the Jira site to sync, cached in connection metadata by
// the operator or discovered from accessible-resources.
func (c *Connector) cloudID(ctx context.Context, conn *domain.Connection) (string, error) {
	if id, ok := conn.Metadata["cloud_id"].(string); ok && id != "" {
		return id, nil
	}

	var resources []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := connectors.GetJSON(ctx, c.httpClient, c.apiBaseURL+"/oauth/token/accessible-resources", conn.Credentials.AccessToken, &resources); err != nil {
		return "", err
	}
	if len(resources) == 0 {
		return "", domain.Permanentf("no accessible jira sites for connection %s", conn.ID)
	}
	return resources[0].ID, nil
}

// jiraTime parses Jira's REST timestamp format.
func jiraTime(value string) (time.Time, error) {
	return time.Parse("2006-01-02T15:04:05.000-0700", value)
}

func issueSignal(id, key, summary, status, statusCategory, created, updated string) (*domain.Signal, error) {
	kind := domain.SignalIssueUpdated
	if statusCategory == "done" {
		kind = domain.SignalIssueClosed
	} else if created == updated {
		kind = domain.SignalIssueCreated
	}

	occurredAt, err := jiraTime(updated)
	if err != nil {
		return nil, domain.Permanent(fmt.Errorf("parse issue timestamp: %w", err))
	}

	payload, err := json.Marshal(map[string]any{
		"issue_id": id,
		"key":      key,
		"summary":  summary,
		"status":   status,
	})
	if err != nil {
		return nil, domain.Permanent(err)
	}

	sig := domain.NewSignal(kind, occurredAt, payload)
	sig.DedupeKey = fmt.Sprintf("jira:issue:%s:%s", id, updated)
	return sig, nil
}

// webhookEvent is the subset of Jira webhook payloads we normalize.
type webhookEvent struct {
	WebhookEvent string `json:"webhookEvent"`
	Timestamp    int64  `json:"timestamp"`
	Issue        *struct {
		ID     string `json:"id"`
		Key    string `json:"key"`
		Fields struct {
			Summary string `json:"summary"`
			Status  struct {
				Name string `json:"name"`
			} `json:"status"`
		} `json:"fields"`
	} `json:"issue"`
	Comment *struct {
		ID string `json:"id"`
	} `json:"comment"`
}

// HandleWebhook normalizes issue and comment events.
func (c *Connector) HandleWebhook(ctx context.Context, payload driven.WebhookPayload) ([]*domain.Signal, error) {
	var event webhookEvent
	if err := json.Unmarshal(payload.Body, &event); err != nil {
		return nil, domain.Permanent(fmt.Errorf("decode webhook payload: %w", err))
	}

	occurredAt := time.Now().UTC()
	if event.Timestamp > 0 {
		occurredAt = time.UnixMilli(event.Timestamp).UTC()
	}

	switch event.WebhookEvent {
	case "jira:issue_created", "jira:issue_updated":
		if event.Issue == nil {
			return nil, nil
		}
		kind := domain.SignalIssueUpdated
		if event.WebhookEvent == "jira:issue_created" {
			kind = domain.SignalIssueCreated
		}
		raw, err := json.Marshal(map[string]any{
			"issue_id": event.Issue.ID,
			"key":      event.Issue.Key,
			"summary":  event.Issue.Fields.Summary,
			"status":   event.Issue.Fields.Status.Name,
		})
		if err != nil {
			return nil, domain.Permanent(err)
		}
		sig := domain.NewSignal(kind, occurredAt, raw)
		sig.DedupeKey = fmt.Sprintf("jira:issue:%s:%d", event.Issue.ID, event.Timestamp)
		return []*domain.Signal{sig}, nil

	case "comment_created":
		if event.Comment == nil || event.Issue == nil {
			return nil, nil
		}
		raw, err := json.Marshal(map[string]any{
			"comment_id": event.Comment.ID,
			"issue_key":  event.Issue.Key,
		})
		if err != nil {
			return nil, domain.Permanent(err)
		}
		sig := domain.NewSignal(domain.SignalCommentCreated, occurredAt, raw)
		sig.DedupeKey = fmt.Sprintf("jira:comment:%s", event.Comment.ID)
		return []*domain.Signal{sig}, nil
	}

	return nil, nil
}
