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

// Ensure Calendar implements the contract.
var _ driven.Connector = (*Calendar)(nil)

const calendarPageSize = 50

var calendarScopes = []string{"https://www.googleapis.com/auth/calendar.readonly"}

// Calendar syncs primary-calendar events.
type Calendar struct {
	base
}

// NewCalendar creates a Google Calendar connector.
func NewCalendar(app connectors.App) *Calendar {
	return &Calendar{base: newBase(app)}
}

func (c *Calendar) Type() domain.ProviderType {
	return domain.ProviderTypeGoogleCalendar
}

func (c *Calendar) Info() domain.ProviderInfo {
	return domain.ProviderInfo{
		Type:        domain.ProviderTypeGoogleCalendar,
		Name:        "Google Calendar",
		AuthType:    domain.AuthTypeOAuth2,
		Scopes:      calendarScopes,
		Webhooks:    false,
		Signature:   domain.SignatureSchemeNone,
		Description: "Events from the account's primary calendar",
	}
}

func (c *Calendar) Authorize(state, redirectURI string) string {
	return c.authorize(state, redirectURI, calendarScopes)
}

func (c *Calendar) ExchangeToken(ctx context.Context, code, redirectURI string) (*domain.Credentials, error) {
	return c.exchangeToken(ctx, code, redirectURI)
}

func (c *Calendar) RefreshToken(ctx context.Context, creds *domain.Credentials) (*domain.Credentials, error) {
	return c.refreshToken(ctx, creds)
}

// calendarCursor tracks incremental progress through the events feed.
type calendarCursor struct {
	UpdatedMin string `json:"updated_min,omitempty"`
	PageToken  string `json:"page_token,omitempty"`
}

type eventList struct {
	Items []struct {
		ID      string `json:"id"`
		Status  string `json:"status"`
		Summary string `json:"summary"`
		Created string `json:"created"`
		Updated string `json:"updated"`
		Start   struct {
			DateTime string `json:"dateTime"`
			Date     string `json:"date"`
		} `json:"start"`
	} `json:"items"`
	NextPageToken string `json:"nextPageToken"`
}

// Sync fetches one page of events updated since the cursor.
func (c *Calendar) Sync(ctx context.Context, conn *domain.Connection, cursor json.RawMessage) (*driven.SyncResult, error) {
	if conn.Credentials == nil || conn.Credentials.AccessToken == "" {
		return nil, domain.Unauthorized(fmt.Errorf("connection %s has no access token", conn.ID))
	}

	var cur calendarCursor
	if cursor != nil {
		if err := json.Unmarshal(cursor, &cur); err != nil {
			return nil, domain.Permanent(fmt.Errorf("decode cursor: %w", err))
		}
	}
	fetchedAt := time.Now().UTC()

	params := url.Values{
		"maxResults":   {fmt.Sprintf("%d", calendarPageSize)},
		"singleEvents": {"false"},
		"showDeleted":  {"true"},
		"orderBy":      {"updated"},
	}
	if cur.UpdatedMin != "" {
		params.Set("updatedMin", cur.UpdatedMin)
	}
	if cur.PageToken != "" {
		params.Set("pageToken", cur.PageToken)
	}

	var list eventList
	eventsURL := c.apiBaseURL + "/calendar/v3/calendars/primary/events?" + params.Encode()
	if err := connectors.GetJSON(ctx, c.httpClient, eventsURL, conn.Credentials.AccessToken, &list); err != nil {
		return nil, err
	}

	result := &driven.SyncResult{}
	for _, ev := range list.Items {
		kind := domain.SignalEventUpdated
		if ev.Created == ev.Updated {
			kind = domain.SignalEventCreated
		}

		occurredAt, err := time.Parse(time.RFC3339, ev.Updated)
		if err != nil {
			return nil, domain.Permanent(fmt.Errorf("parse event timestamp: %w", err))
		}

		start := ev.Start.DateTime
		if start == "" {
			start = ev.Start.Date
		}
		payload, err := json.Marshal(map[string]any{
			"event_id": ev.ID,
			"summary":  ev.Summary,
			"status":   ev.Status,
			"start":    start,
		})
		if err != nil {
			return nil, domain.Permanent(err)
		}

		sig := domain.NewSignal(kind, occurredAt, payload)
		sig.DedupeKey = fmt.Sprintf("google_calendar:event:%s:%s", ev.ID, ev.Updated)
		result.Signals = append(result.Signals, sig)
	}

	if list.NextPageToken != "" {
		next, _ := json.Marshal(calendarCursor{UpdatedMin: cur.UpdatedMin, PageToken: list.NextPageToken})
		result.NextCursor = next
		result.HasMore = true
	} else {
		next, _ := json.Marshal(calendarCursor{UpdatedMin: fetchedAt.Format(time.RFC3339)})
		result.NextCursor = next
	}
	return result, nil
}

// HandleWebhook is unreachable: Calendar push channels carry no verifiable
// signature, so the registry advertises no webhook support.
func (c *Calendar) HandleWebhook(ctx context.Context, payload driven.WebhookPayload) ([]*domain.Signal, error) {
	return nil, nil
}
