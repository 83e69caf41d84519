package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/custodia-labs/conduit-core/internal/core/domain"
	"github.com/custodia-labs/conduit-core/internal/core/ports/driven"
	"github.com/custodia-labs/conduit-core/internal/core/ports/driving"
)

// WebhookConfig holds ingest settings.
type WebhookConfig struct {
	// Secrets maps provider -> verification secret. A provider without a
	// secret has its public ingest path disabled.
	Secrets map[domain.ProviderType]string

	// Tolerance bounds clock skew for timestamp-signed schemes.
	Tolerance time.Duration

	Logger *slog.Logger
}

// Webhook authenticates inbound provider pushes and turns them into signals
// and webhook-type sync jobs.
type Webhook struct {
	registry    driven.ConnectorRegistry
	connections driven.ConnectionStore
	jobs        driven.JobStore
	signals     driven.SignalStore
	config      WebhookConfig
	logger      *slog.Logger
}

// NewWebhook creates the ingest service.
func NewWebhook(
	registry driven.ConnectorRegistry,
	connections driven.ConnectionStore,
	jobs driven.JobStore,
	signals driven.SignalStore,
	config WebhookConfig,
) *Webhook {
	if config.Tolerance <= 0 {
		config.Tolerance = DefaultSignatureTolerance
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Webhook{
		registry:    registry,
		connections: connections,
		jobs:        jobs,
		signals:     signals,
		config:      config,
		logger:      logger.With("component", "webhook"),
	}
}

// Ingest verifies a push, converts it to signals, and enqueues a webhook
// job for the resolved connection. The job is enqueued even when the
// connector returned zero signals: many providers' pushes only say
// "something changed" and defer detail to the next sync.
func (w *Webhook) Ingest(ctx context.Context, req driving.WebhookRequest) (*driving.WebhookResult, error) {
	provider := domain.ProviderType(req.Provider)

	connector, err := w.registry.Get(provider)
	if err != nil {
		return nil, domain.ErrConnectorNotFound
	}
	info := connector.Info()
	if !info.Webhooks {
		return nil, domain.ErrConnectorNotFound
	}

	headers := lowerHeaders(req.Headers)

	if !req.Operator {
		secret := w.config.Secrets[provider]
		if err := VerifySignature(info.Signature, secret, headers, req.Body, w.config.Tolerance, time.Now()); err != nil {
			w.logger.Warn("webhook rejected", "provider", provider, "tenant_id", req.TenantID, "error", err)
			return nil, err
		}
	}

	conn, err := w.connections.ResolveForWebhook(ctx, req.TenantID, provider)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrConnectionNotFound
		}
		return nil, err
	}

	signals, err := connector.HandleWebhook(ctx, driven.WebhookPayload{Headers: headers, Body: req.Body})
	if err != nil {
		w.logger.Warn("webhook payload rejected by connector", "provider", provider, "error", err)
		return nil, err
	}

	stored := 0
	if len(signals) > 0 {
		for _, sig := range signals {
			sig.Attach(conn)
		}
		stored, err = w.signals.SaveBatch(ctx, signals)
		if err != nil {
			return nil, err
		}
	}

	job := domain.NewSyncJob(conn, domain.JobTypeWebhook, time.Now().UTC())
	job.Priority = domain.JobPriorityWebhook
	if err := w.jobs.Enqueue(ctx, job); err != nil && !errors.Is(err, domain.ErrJobConflict) {
		return nil, err
	}

	w.logger.Info("webhook accepted", "provider", provider, "connection_id", conn.ID, "signals", stored, "job_id", job.ID)
	return &driving.WebhookResult{
		JobID:       job.ID,
		Connection:  conn.ID,
		SignalCount: stored,
	}, nil
}

func lowerHeaders(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[strings.ToLower(k)] = v
	}
	return out
}
