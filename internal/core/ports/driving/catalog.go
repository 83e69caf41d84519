package driving

import (
	"context"

	"github.com/custodia-labs/conduit-core/internal/core/domain"
	"github.com/custodia-labs/conduit-core/internal/core/ports/driven"
)

// CatalogService exposes read access to providers, connections, jobs and
// signals for operators, plus manual sync triggering.
type CatalogService interface {
	// ListProviders returns registry metadata, stably sorted by name.
	ListProviders(ctx context.Context) []domain.ProviderInfo

	// ListConnections returns credential-free connections for a tenant.
	ListConnections(ctx context.Context, tenantID string) ([]*domain.Connection, error)

	// ListJobs returns jobs matching the filter, newest first.
	ListJobs(ctx context.Context, filter driven.JobFilter) ([]*domain.SyncJob, error)

	// ListSignals returns signals matching the filter.
	ListSignals(ctx context.Context, filter driven.SignalFilter) ([]*domain.Signal, error)

	// TriggerSync enqueues an immediate job for a connection.
	// An existing queued or running interval job is returned as-is.
	TriggerSync(ctx context.Context, connectionID string, jobType domain.JobType) (*domain.SyncJob, error)
}
