package zoho

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

// Ensure Cliq implements the contract.
var _ driven.Connector = (*Cliq)(nil)

const cliqPageSize = 100

var cliqScopes = []string{"ZohoCliq.Channels.READ"}

// Cliq surfaces channel activity. Message bodies arrive over the signed
// webhook; polling only reports which channels moved.
type Cliq struct {
	base
	apiBaseURL string
}

// NewCliq creates a Zoho Cliq connector.
func NewCliq(app connectors.App) *Cliq {
	return &Cliq{
		base:       newBase(app),
		apiBaseURL: "https://cliq.zoho.com",
	}
}

func (c *Cliq) Type() domain.ProviderType {
	return domain.ProviderTypeZohoCliq
}

func (c *Cliq) Info() domain.ProviderInfo {
	return domain.ProviderInfo{
		Type:        domain.ProviderTypeZohoCliq,
		Name:        "Zoho Cliq",
		AuthType:    domain.AuthTypeOAuth2,
		Scopes:      cliqScopes,
		Webhooks:    true,
		Signature:   domain.SignatureSchemeTimestampHMAC,
		Description: "Channel messages and activity from joined channels",
	}
}

func (c *Cliq) Authorize(state, redirectURI string) string {
	return c.authorize(state, redirectURI, cliqScopes)
}

func (c *Cliq) ExchangeToken(ctx context.Context, code, redirectURI string) (*domain.Credentials, error) {
	return c.exchangeToken(ctx, code, redirectURI)
}

func (c *Cliq) RefreshToken(ctx context.Context, creds *domain.Credentials) (*domain.Credentials, error) {
	return c.refreshToken(ctx, creds)
}

// cliqCursor tracks the newest channel activity seen, in epoch millis.
type cliqCursor struct {
	SinceMillis int64 `json:"since_ms"`
}

type channelList struct {
	Channels []struct {
		ChannelID        string `json:"channel_id"`
		Name             string `json:"name"`
		LastModifiedTime int64  `json:"last_modified_time"`
	} `json:"channels"`
	HasMore bool `json:"has_more"`
}

// Sync polls joined channels and emits a message_posted signal per channel
// with activity newer than the cursor.
func (c *Cliq) Sync(ctx context.Context, conn *domain.Connection, cursor json.RawMessage) (*driven.SyncResult, error) {
	if conn.Credentials == nil || conn.Credentials.AccessToken == "" {
		return nil, domain.Unauthorized(fmt.Errorf("connection %s has no access token", conn.ID))
	}

	var cur cliqCursor
	if cursor != nil {
		if err := json.Unmarshal(cursor, &cur); err != nil {
			return nil, domain.Permanent(fmt.Errorf("decode cursor: %w", err))
		}
	}

	params := url.Values{
		"limit":  {fmt.Sprintf("%d", cliqPageSize)},
		"joined": {"true"},
	}
	var list channelList
	if err := connectors.GetJSON(ctx, c.httpClient, c.apiBaseURL+"/api/v2/channels?"+params.Encode(), conn.Credentials.AccessToken, &list); err != nil {
		return nil, err
	}

	result := &driven.SyncResult{}
	maxSeen := cur.SinceMillis
	for _, ch := range list.Channels {
		if ch.LastModifiedTime <= cur.SinceMillis {
			continue
		}
		if ch.LastModifiedTime > maxSeen {
			maxSeen = ch.LastModifiedTime
		}

		payload, err := json.Marshal(map[string]any{
			"channel_id": ch.ChannelID,
			"channel":    ch.Name,
		})
		if err != nil {
			return nil, domain.Permanent(err)
		}
		sig := domain.NewSignal(domain.SignalMessagePosted, time.UnixMilli(ch.LastModifiedTime).UTC(), payload)
		sig.DedupeKey = fmt.Sprintf("zoho_cliq:channel:%s:%d", ch.ChannelID, ch.LastModifiedTime)
		result.Signals = append(result.Signals, sig)
	}

	next, _ := json.Marshal(cliqCursor{SinceMillis: maxSeen})
	result.NextCursor = next
	return result, nil
}

// cliqWebhook is the message handler payload Cliq delivers.
type cliqWebhook struct {
	Message struct {
		ID   string `json:"id"`
		Text string `json:"text"`
		Time int64  `json:"time"`
	} `json:"message"`
	Chat struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	} `json:"chat"`
	Sender struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"sender"`
}

// HandleWebhook normalizes a posted message.
func (c *Cliq) HandleWebhook(ctx context.Context, payload driven.WebhookPayload) ([]*domain.Signal, error) {
	var event cliqWebhook
	if err := json.Unmarshal(payload.Body, &event); err != nil {
		return nil, domain.Permanent(fmt.Errorf("decode webhook payload: %w", err))
	}
	if event.Message.ID == "" {
		return nil, nil
	}

	occurredAt := time.Now().UTC()
	if event.Message.Time > 0 {
		occurredAt = time.UnixMilli(event.Message.Time).UTC()
	}

	raw, err := json.Marshal(map[string]any{
		"message_id": event.Message.ID,
		"text":       event.Message.Text,
		"chat_id":    event.Chat.ID,
		"chat":       event.Chat.Title,
		"sender":     event.Sender.Name,
	})
	if err != nil {
		return nil, domain.Permanent(err)
	}

	sig := domain.NewSignal(domain.SignalMessagePosted, occurredAt, raw)
	sig.DedupeKey = "zoho_cliq:message:" + event.Message.ID
	return []*domain.Signal{sig}, nil
}
