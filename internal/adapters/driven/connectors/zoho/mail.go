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

// Ensure Mail implements the contract.
var _ driven.Connector = (*Mail)(nil)

const mailPageSize = 50

var mailScopes = []string{"ZohoMail.messages.READ", "ZohoMail.accounts.READ"}

// Mail syncs received mail into email_received signals.
type Mail struct {
	base
	apiBaseURL string
}

// NewMail creates a Zoho Mail connector.
func NewMail(app connectors.App) *Mail {
	return &Mail{
		base:       newBase(app),
		apiBaseURL: "https://mail.zoho.com",
	}
}

func (m *Mail) Type() domain.ProviderType {
	return domain.ProviderTypeZohoMail
}

func (m *Mail) Info() domain.ProviderInfo {
	return domain.ProviderInfo{
		Type:        domain.ProviderTypeZohoMail,
		Name:        "Zoho Mail",
		AuthType:    domain.AuthTypeOAuth2,
		Scopes:      mailScopes,
		Webhooks:    false,
		Signature:   domain.SignatureSchemeNone,
		Description: "Received mail from the authorized mailbox",
	}
}

func (m *Mail) Authorize(state, redirectURI string) string {
	return m.authorize(state, redirectURI, mailScopes)
}

func (m *Mail) ExchangeToken(ctx context.Context, code, redirectURI string) (*domain.Credentials, error) {
	return m.exchangeToken(ctx, code, redirectURI)
}

func (m *Mail) RefreshToken(ctx context.Context, creds *domain.Credentials) (*domain.Credentials, error) {
	return m.refreshToken(ctx, creds)
}

// mailCursor tracks incremental progress through the mailbox.
type mailCursor struct {
	AccountID   string `json:"account_id,omitempty"`
	AfterMillis int64  `json:"after_ms,omitempty"`
	Start       int    `json:"start,omitempty"`
}

type accountsResponse struct {
	Data []struct {
		AccountID string `json:"accountId"`
	} `json:"data"`
}

type messagesResponse struct {
	Data []struct {
		MessageID    string `json:"messageId"`
		Subject      string `json:"subject"`
		FromAddress  string `json:"fromAddress"`
		ReceivedTime string `json:"receivedTime"`
	} `json:"data"`
}

// Sync fetches one page of received mail newer than the cursor.
func (m *Mail) Sync(ctx context.Context, conn *domain.Connection, cursor json.RawMessage) (*driven.SyncResult, error) {
	if conn.Credentials == nil || conn.Credentials.AccessToken == "" {
		return nil, domain.Unauthorized(fmt.Errorf("connection %s has no access token", conn.ID))
	}

	var cur mailCursor
	if cursor != nil {
		if err := json.Unmarshal(cursor, &cur); err != nil {
			return nil, domain.Permanent(fmt.Errorf("decode cursor: %w", err))
		}
	}

	accountID := cur.AccountID
	if accountID == "" {
		var accounts accountsResponse
		if err := connectors.GetJSON(ctx, m.httpClient, m.apiBaseURL+"/api/accounts", conn.Credentials.AccessToken, &accounts); err != nil {
			return nil, err
		}
		if len(accounts.Data) == 0 {
			return nil, domain.Permanentf("no zoho mail accounts for connection %s", conn.ID)
		}
		accountID = accounts.Data[0].AccountID
	}

	start := cur.Start
	if start < 1 {
		start = 1
	}
	params := url.Values{
		"limit":     {fmt.Sprintf("%d", mailPageSize)},
		"start":     {fmt.Sprintf("%d", start)},
		"sortorder": {"false"}, // oldest first keeps the cursor monotonic
	}
	if cur.AfterMillis > 0 {
		params.Set("receivedTime", fmt.Sprintf("%d", cur.AfterMillis))
	}

	var messages messagesResponse
	viewURL := fmt.Sprintf("%s/api/accounts/%s/messages/view?%s", m.apiBaseURL, accountID, params.Encode())
	if err := connectors.GetJSON(ctx, m.httpClient, viewURL, conn.Credentials.AccessToken, &messages); err != nil {
		return nil, err
	}

	result := &driven.SyncResult{}
	maxReceived := cur.AfterMillis
	for _, msg := range messages.Data {
		var received int64
		fmt.Sscanf(msg.ReceivedTime, "%d", &received)
		if received > maxReceived {
			maxReceived = received
		}

		occurredAt := time.Now().UTC()
		if received > 0 {
			occurredAt = time.UnixMilli(received).UTC()
		}

		payload, err := json.Marshal(map[string]any{
			"message_id": msg.MessageID,
			"subject":    msg.Subject,
			"from":       msg.FromAddress,
		})
		if err != nil {
			return nil, domain.Permanent(err)
		}
		sig := domain.NewSignal(domain.SignalEmailReceived, occurredAt, payload)
		sig.DedupeKey = "zoho_mail:message:" + msg.MessageID
		result.Signals = append(result.Signals, sig)
	}

	if len(messages.Data) == mailPageSize {
		next, _ := json.Marshal(mailCursor{AccountID: accountID, AfterMillis: cur.AfterMillis, Start: start + mailPageSize})
		result.NextCursor = next
		result.HasMore = true
	} else {
		next, _ := json.Marshal(mailCursor{AccountID: accountID, AfterMillis: maxReceived})
		result.NextCursor = next
	}
	return result, nil
}

// HandleWebhook is unreachable: Zoho Mail offers no signed webhook
// deliveries, so the registry advertises no webhook support.
func (m *Mail) HandleWebhook(ctx context.Context, payload driven.WebhookPayload) ([]*domain.Signal, error) {
	return nil, nil
}
