package driven

import (
	"context"

	"github.com/custodia-labs/conduit-core/internal/core/domain"
)

// SignalFilter narrows signal listings.
type SignalFilter struct {
	TenantID     string
	ConnectionID string
	Kind         domain.SignalKind
	Limit        int
	Offset       int
}

// SignalStore persists normalized events.
type SignalStore interface {
	// SaveBatch inserts signals atomically. Rows whose dedupe_key already
	// exists for the connection are silently dropped (best-effort dedupe).
	// Returns the number of signals actually stored.
	SaveBatch(ctx context.Context, signals []*domain.Signal) (int, error)

	// List retrieves signals matching the filter, newest occurred_at first.
	List(ctx context.Context, filter SignalFilter) ([]*domain.Signal, error)
}
