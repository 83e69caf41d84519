package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/conduit-core/internal/core/domain"
	"github.com/custodia-labs/conduit-core/internal/core/ports/driven"
)

// Catalog serves operator read access and manual sync triggering.
type Catalog struct {
	registry    driven.ConnectorRegistry
	connections driven.ConnectionStore
	jobs        driven.JobStore
	signals     driven.SignalStore
}

// NewCatalog creates the catalog service.
func NewCatalog(registry driven.ConnectorRegistry, connections driven.ConnectionStore, jobs driven.JobStore, signals driven.SignalStore) *Catalog {
	return &Catalog{
		registry:    registry,
		connections: connections,
		jobs:        jobs,
		signals:     signals,
	}
}

// ListProviders returns registry metadata, stably sorted by name.
func (c *Catalog) ListProviders(ctx context.Context) []domain.ProviderInfo {
	return c.registry.List()
}

// ListConnections returns credential-free connections for a tenant.
func (c *Catalog) ListConnections(ctx context.Context, tenantID string) ([]*domain.Connection, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenant_id required", domain.ErrInvalidInput)
	}
	return c.connections.List(ctx, tenantID)
}

// ListJobs returns jobs matching the filter, newest first.
func (c *Catalog) ListJobs(ctx context.Context, filter driven.JobFilter) ([]*domain.SyncJob, error) {
	return c.jobs.List(ctx, filter)
}

// ListSignals returns signals matching the filter.
func (c *Catalog) ListSignals(ctx context.Context, filter driven.SignalFilter) ([]*domain.Signal, error) {
	return c.signals.List(ctx, filter)
}

// TriggerSync enqueues an immediate manual job for a connection. When a
// queued or running interval job already exists it is returned instead of
// erroring, so repeated triggers are idempotent.
func (c *Catalog) TriggerSync(ctx context.Context, connectionID string, jobType domain.JobType) (*domain.SyncJob, error) {
	if jobType != domain.JobTypeFull && jobType != domain.JobTypeIncremental {
		return nil, fmt.Errorf("%w: job type must be full or incremental", domain.ErrInvalidInput)
	}

	conn, err := c.connections.Get(ctx, connectionID)
	if err != nil {
		return nil, err
	}

	job := domain.NewSyncJob(conn, jobType, time.Now().UTC())
	job.Priority = domain.JobPriorityManual
	if err := c.jobs.Enqueue(ctx, job); err != nil {
		if errors.Is(err, domain.ErrJobConflict) {
			return c.pendingIntervalJob(ctx, connectionID)
		}
		return nil, err
	}
	return job, nil
}

// pendingIntervalJob finds the queued or running interval job that blocked
// a manual trigger.
func (c *Catalog) pendingIntervalJob(ctx context.Context, connectionID string) (*domain.SyncJob, error) {
	for _, status := range []domain.JobStatus{domain.JobStatusRunning, domain.JobStatusQueued} {
		jobs, err := c.jobs.List(ctx, driven.JobFilter{ConnectionID: connectionID, Status: status, Limit: 1})
		if err != nil {
			return nil, err
		}
		if len(jobs) > 0 {
			return jobs[0], nil
		}
	}
	return nil, domain.ErrJobConflict
}
