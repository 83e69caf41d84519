package google

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/custodia-labs/conduit-core/internal/adapters/driven/connectors"
	"github.com/custodia-labs/conduit-core/internal/core/domain"
	"github.com/custodia-labs/conduit-core/internal/core/ports/driven"
)

// Ensure Gmail implements the contract.
var _ driven.Connector = (*Gmail)(nil)

const gmailPageSize = 25

var gmailScopes = []string{"https://www.googleapis.com/auth/gmail.readonly"}

// Gmail syncs received mail into email_received signals.
type Gmail struct {
	base
}

// NewGmail creates a Gmail connector.
func NewGmail(app connectors.App) *Gmail {
	return &Gmail{base: newBase(app)}
}

func (g *Gmail) Type() domain.ProviderType {
	return domain.ProviderTypeGmail
}

func (g *Gmail) Info() domain.ProviderInfo {
	return domain.ProviderInfo{
		Type:        domain.ProviderTypeGmail,
		Name:        "Gmail",
		AuthType:    domain.AuthTypeOAuth2,
		Scopes:      gmailScopes,
		Webhooks:    false,
		Signature:   domain.SignatureSchemeNone,
		Description: "Received mail from the authorized mailbox",
	}
}

func (g *Gmail) Authorize(state, redirectURI string) string {
	return g.authorize(state, redirectURI, gmailScopes)
}

func (g *Gmail) ExchangeToken(ctx context.Context, code, redirectURI string) (*domain.Credentials, error) {
	return g.exchangeToken(ctx, code, redirectURI)
}

func (g *Gmail) RefreshToken(ctx context.Context, creds *domain.Credentials) (*domain.Credentials, error) {
	return g.refreshToken(ctx, creds)
}

// gmailCursor tracks incremental progress through the mailbox.
type gmailCursor struct {
	After     int64  `json:"after,omitempty"`
	PageToken string `json:"page_token,omitempty"`
}

type messageList struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	NextPageToken string `json:"nextPageToken"`
}

type message struct {
	ID           string `json:"id"`
	ThreadID     string `json:"threadId"`
	InternalDate string `json:"internalDate"`
	Payload      struct {
		Headers []struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		} `json:"headers"`
	} `json:"payload"`
}

// Sync fetches one page of message IDs and their metadata.
func (g *Gmail) Sync(ctx context.Context, conn *domain.Connection, cursor json.RawMessage) (*driven.SyncResult, error) {
	if conn.Credentials == nil || conn.Credentials.AccessToken == "" {
		return nil, domain.Unauthorized(fmt.Errorf("connection %s has no access token", conn.ID))
	}

	var cur gmailCursor
	if cursor != nil {
		if err := json.Unmarshal(cursor, &cur); err != nil {
			return nil, domain.Permanent(fmt.Errorf("decode cursor: %w", err))
		}
	}
	fetchedAt := time.Now().UTC()

	params := url.Values{
		"maxResults":       {fmt.Sprintf("%d", gmailPageSize)},
		"labelIds":         {"INBOX"},
		"includeSpamTrash": {"false"},
	}
	if cur.After > 0 {
		params.Set("q", fmt.Sprintf("after:%d", cur.After))
	}
	if cur.PageToken != "" {
		params.Set("pageToken", cur.PageToken)
	}

	var list messageList
	listURL := g.apiBaseURL + "/gmail/v1/users/me/messages?" + params.Encode()
	if err := connectors.GetJSON(ctx, g.httpClient, listURL, conn.Credentials.AccessToken, &list); err != nil {
		return nil, err
	}

	result := &driven.SyncResult{}
	for _, m := range list.Messages {
		sig, err := g.messageSignal(ctx, conn, m.ID)
		if err != nil {
			return nil, err
		}
		result.Signals = append(result.Signals, sig)
	}

	if list.NextPageToken != "" {
		next, _ := json.Marshal(gmailCursor{After: cur.After, PageToken: list.NextPageToken})
		result.NextCursor = next
		result.HasMore = true
	} else {
		next, _ := json.Marshal(gmailCursor{After: fetchedAt.Unix()})
		result.NextCursor = next
	}
	return result, nil
}

func (g *Gmail) messageSignal(ctx context.Context, conn *domain.Connection, id string) (*domain.Signal, error) {
	params := url.Values{
		"format":          {"metadata"},
		"metadataHeaders": {"Subject"},
	}
	params.Add("metadataHeaders", "From")

	var msg message
	msgURL := fmt.Sprintf("%s/gmail/v1/users/me/messages/%s?%s", g.apiBaseURL, id, params.Encode())
	if err := connectors.GetJSON(ctx, g.httpClient, msgURL, conn.Credentials.AccessToken, &msg); err != nil {
		return nil, err
	}

	var subject, from string
	for _, h := range msg.Payload.Headers {
		switch h.Name {
		case "Subject":
			subject = h.Value
		case "From":
			from = h.Value
		}
	}

	occurredAt := time.Now().UTC()
	var millis int64
	if _, err := fmt.Sscanf(msg.InternalDate, "%d", &millis); err == nil && millis > 0 {
		occurredAt = time.UnixMilli(millis).UTC()
	}

	payload, err := json.Marshal(map[string]any{
		"message_id": msg.ID,
		"thread_id":  msg.ThreadID,
		"subject":    subject,
		"from":       from,
	})
	if err != nil {
		return nil, domain.Permanent(err)
	}

	sig := domain.NewSignal(domain.SignalEmailReceived, occurredAt, payload)
	sig.DedupeKey = "gmail:message:" + msg.ID
	return sig, nil
}

// HandleWebhook is unreachable: Gmail push requires a Pub/Sub relay that is
// out of scope, so the registry advertises no webhook support.
func (g *Gmail) HandleWebhook(ctx context.Context, payload driven.WebhookPayload) ([]*domain.Signal, error) {
	return nil, nil
}
