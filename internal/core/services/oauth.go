package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/custodia-labs/conduit-core/internal/core/domain"
	"github.com/custodia-labs/conduit-core/internal/core/ports/driven"
	"github.com/custodia-labs/conduit-core/internal/core/ports/driving"
)

// OAuthStateTTL is how long an authorization flow may stay in flight.
const OAuthStateTTL = 10 * time.Minute

// OAuthConfig holds flow settings.
type OAuthConfig struct {
	// RedirectURI is this service's callback endpoint, registered with
	// every provider OAuth app.
	RedirectURI string

	Logger *slog.Logger
}

// OAuth drives the authorization-code flow over the connector contract.
type OAuth struct {
	registry    driven.ConnectorRegistry
	connections driven.ConnectionStore
	states      driven.OAuthStateStore
	config      OAuthConfig
	logger      *slog.Logger
}

// NewOAuth creates the authorization flow service.
func NewOAuth(registry driven.ConnectorRegistry, connections driven.ConnectionStore, states driven.OAuthStateStore, config OAuthConfig) *OAuth {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &OAuth{
		registry:    registry,
		connections: connections,
		states:      states,
		config:      config,
		logger:      logger.With("component", "oauth"),
	}
}

// Authorize builds the provider authorization URL bound to a stored,
// single-use state token.
func (o *OAuth) Authorize(ctx context.Context, req driving.AuthorizeRequest) (*driving.AuthorizeResponse, error) {
	if req.TenantID == "" {
		return nil, fmt.Errorf("%w: tenant_id required", domain.ErrInvalidInput)
	}

	provider := domain.ProviderType(req.Provider)
	connector, err := o.registry.Get(provider)
	if err != nil {
		return nil, err
	}

	state, err := generateState()
	if err != nil {
		return nil, fmt.Errorf("generate state: %w", err)
	}

	now := time.Now().UTC()
	record := &driven.OAuthState{
		State:       state,
		TenantID:    req.TenantID,
		Provider:    provider,
		RedirectURI: o.config.RedirectURI,
		CreatedAt:   now,
		ExpiresAt:   now.Add(OAuthStateTTL),
	}
	if err := o.states.Save(ctx, record); err != nil {
		return nil, fmt.Errorf("save oauth state: %w", err)
	}

	url := connector.Authorize(state, o.config.RedirectURI)
	o.logger.Info("authorization started", "tenant_id", req.TenantID, "provider", provider)

	return &driving.AuthorizeResponse{
		AuthorizationURL: url,
		State:            state,
		ExpiresAt:        record.ExpiresAt.Format(time.RFC3339),
	}, nil
}

// Callback validates and consumes the state token, exchanges the code, and
// creates or updates the tenant's connection with encrypted credentials.
func (o *OAuth) Callback(ctx context.Context, req driving.CallbackRequest) (*driving.CallbackResponse, error) {
	if req.Error != "" {
		return nil, fmt.Errorf("%w: provider denied authorization: %s", domain.ErrUnauthorized, req.ErrorDescription)
	}
	if req.State == "" || req.Code == "" {
		return nil, fmt.Errorf("%w: state and code required", domain.ErrInvalidInput)
	}

	record, err := o.states.GetAndDelete(ctx, req.State)
	if err != nil {
		return nil, fmt.Errorf("consume oauth state: %w", err)
	}
	if record == nil || record.ExpiresAt.Before(time.Now().UTC()) {
		return nil, domain.ErrStateInvalid
	}

	connector, err := o.registry.Get(record.Provider)
	if err != nil {
		return nil, err
	}

	creds, err := connector.ExchangeToken(ctx, req.Code, record.RedirectURI)
	if err != nil {
		return nil, fmt.Errorf("token exchange: %w", err)
	}

	conn, err := o.upsertConnection(ctx, record, creds)
	if err != nil {
		return nil, err
	}

	o.logger.Info("authorization completed", "tenant_id", record.TenantID, "provider", record.Provider, "connection_id", conn.ID)
	return &driving.CallbackResponse{
		ConnectionID: conn.ID,
		Message:      "connection authorized",
	}, nil
}

// upsertConnection reuses an existing connection for the same provider
// account identity, replacing its credentials; otherwise it creates one.
func (o *OAuth) upsertConnection(ctx context.Context, record *driven.OAuthState, creds *domain.Credentials) (*domain.Connection, error) {
	now := time.Now().UTC()

	existing, err := o.connections.GetByAccount(ctx, record.TenantID, record.Provider, creds.AccountID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		existing.Credentials = creds
		existing.ExpiresAt = creds.Expiry
		existing.Status = domain.ConnectionStatusActive
		existing.UpdatedAt = now
		if err := o.connections.Save(ctx, existing); err != nil {
			return nil, err
		}
		return existing, nil
	}

	conn := &domain.Connection{
		ID:                domain.GenerateID(),
		TenantID:          record.TenantID,
		Provider:          record.Provider,
		ExternalAccountID: creds.AccountID,
		Status:            domain.ConnectionStatusActive,
		Credentials:       creds,
		ExpiresAt:         creds.Expiry,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := o.connections.Save(ctx, conn); err != nil {
		return nil, err
	}
	return conn, nil
}

func generateState() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
