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

// Ensure Drive implements the contract.
var _ driven.Connector = (*Drive)(nil)

const drivePageSize = 100

var driveScopes = []string{"https://www.googleapis.com/auth/drive.metadata.readonly"}

// Drive syncs file changes through the Drive changes feed.
type Drive struct {
	base
}

// NewDrive creates a Google Drive connector.
func NewDrive(app connectors.App) *Drive {
	return &Drive{base: newBase(app)}
}

func (d *Drive) Type() domain.ProviderType {
	return domain.ProviderTypeGoogleDrive
}

func (d *Drive) Info() domain.ProviderInfo {
	return domain.ProviderInfo{
		Type:        domain.ProviderTypeGoogleDrive,
		Name:        "Google Drive",
		AuthType:    domain.AuthTypeOAuth2,
		Scopes:      driveScopes,
		Webhooks:    false,
		Signature:   domain.SignatureSchemeNone,
		Description: "File changes from the account's Drive",
	}
}

func (d *Drive) Authorize(state, redirectURI string) string {
	return d.authorize(state, redirectURI, driveScopes)
}

func (d *Drive) ExchangeToken(ctx context.Context, code, redirectURI string) (*domain.Credentials, error) {
	return d.exchangeToken(ctx, code, redirectURI)
}

func (d *Drive) RefreshToken(ctx context.Context, creds *domain.Credentials) (*domain.Credentials, error) {
	return d.refreshToken(ctx, creds)
}

// driveCursor is the Drive changes feed page token. The feed hands back a
// new start token when a page is exhausted, which is the natural durable
// cursor.
type driveCursor struct {
	PageToken string `json:"page_token"`
}

type changeList struct {
	Changes []struct {
		FileID  string `json:"fileId"`
		Removed bool   `json:"removed"`
		Time    string `json:"time"`
		File    *struct {
			Name         string `json:"name"`
			MimeType     string `json:"mimeType"`
			Trashed      bool   `json:"trashed"`
			CreatedTime  string `json:"createdTime"`
			ModifiedTime string `json:"modifiedTime"`
		} `json:"file"`
	} `json:"changes"`
	NextPageToken     string `json:"nextPageToken"`
	NewStartPageToken string `json:"newStartPageToken"`
}

// Sync fetches one page of the changes feed. The first run bootstraps a
// start token, emitting nothing: Drive's feed is forward-only.
func (d *Drive) Sync(ctx context.Context, conn *domain.Connection, cursor json.RawMessage) (*driven.SyncResult, error) {
	if conn.Credentials == nil || conn.Credentials.AccessToken == "" {
		return nil, domain.Unauthorized(fmt.Errorf("connection %s has no access token", conn.ID))
	}

	var cur driveCursor
	if cursor != nil {
		if err := json.Unmarshal(cursor, &cur); err != nil {
			return nil, domain.Permanent(fmt.Errorf("decode cursor: %w", err))
		}
	}

	if cur.PageToken == "" {
		var start struct {
			StartPageToken string `json:"startPageToken"`
		}
		if err := connectors.GetJSON(ctx, d.httpClient, d.apiBaseURL+"/drive/v3/changes/startPageToken", conn.Credentials.AccessToken, &start); err != nil {
			return nil, err
		}
		next, _ := json.Marshal(driveCursor{PageToken: start.StartPageToken})
		return &driven.SyncResult{NextCursor: next}, nil
	}

	params := url.Values{
		"pageToken": {cur.PageToken},
		"pageSize":  {fmt.Sprintf("%d", drivePageSize)},
		"fields":    {"changes(fileId,removed,time,file(name,mimeType,trashed,createdTime,modifiedTime)),nextPageToken,newStartPageToken"},
	}

	var list changeList
	if err := connectors.GetJSON(ctx, d.httpClient, d.apiBaseURL+"/drive/v3/changes?"+params.Encode(), conn.Credentials.AccessToken, &list); err != nil {
		return nil, err
	}

	result := &driven.SyncResult{}
	for _, ch := range list.Changes {
		sig, err := changeSignal(ch.FileID, ch.Removed, ch.Time, ch.File)
		if err != nil {
			return nil, err
		}
		if sig != nil {
			result.Signals = append(result.Signals, sig)
		}
	}

	if list.NextPageToken != "" {
		next, _ := json.Marshal(driveCursor{PageToken: list.NextPageToken})
		result.NextCursor = next
		result.HasMore = true
	} else {
		next, _ := json.Marshal(driveCursor{PageToken: list.NewStartPageToken})
		result.NextCursor = next
	}
	return result, nil
}

func changeSignal(fileID string, removed bool, changeTime string, file *struct {
	Name         string `json:"name"`
	MimeType     string `json:"mimeType"`
	Trashed      bool   `json:"trashed"`
	CreatedTime  string `json:"createdTime"`
	ModifiedTime string `json:"modifiedTime"`
}) (*domain.Signal, error) {
	occurredAt, err := time.Parse(time.RFC3339, changeTime)
	if err != nil {
		occurredAt = time.Now().UTC()
	}

	kind := domain.SignalFileModified
	name, mimeType := "", ""
	switch {
	case removed:
		kind = domain.SignalFileTrashed
	case file == nil:
		return nil, nil
	case file.Trashed:
		kind = domain.SignalFileTrashed
		name, mimeType = file.Name, file.MimeType
	case file.CreatedTime == file.ModifiedTime:
		kind = domain.SignalFileCreated
		name, mimeType = file.Name, file.MimeType
	default:
		name, mimeType = file.Name, file.MimeType
	}

	payload, err := json.Marshal(map[string]any{
		"file_id":   fileID,
		"name":      name,
		"mime_type": mimeType,
	})
	if err != nil {
		return nil, domain.Permanent(err)
	}

	sig := domain.NewSignal(kind, occurredAt, payload)
	sig.DedupeKey = fmt.Sprintf("google_drive:change:%s:%s", fileID, changeTime)
	return sig, nil
}

// HandleWebhook is unreachable: Drive push channels carry no verifiable
// signature, so the registry advertises no webhook support.
func (d *Drive) HandleWebhook(ctx context.Context, payload driven.WebhookPayload) ([]*domain.Signal, error) {
	return nil, nil
}
