package driven

import (
	"github.com/custodia-labs/conduit-core/internal/core/domain"
)

// ConnectorRegistry resolves provider types to connector implementations.
// Built once at startup and immutable afterwards.
type ConnectorRegistry interface {
	// Get returns the connector for a provider, or
	// domain.ErrConnectorNotFound for an unregistered type.
	Get(provider domain.ProviderType) (Connector, error)

	// List returns registry metadata for all providers, sorted by name.
	List() []domain.ProviderInfo
}
