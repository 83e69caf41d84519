package connectors

import (
	"sort"

	"github.com/custodia-labs/conduit-core/internal/core/domain"
	"github.com/custodia-labs/conduit-core/internal/core/ports/driven"
)

// Ensure Registry implements the port.
var _ driven.ConnectorRegistry = (*Registry)(nil)

// Registry maps provider types to connector implementations.
// Populated once at startup; read-only afterwards, so lookups need no lock.
type Registry struct {
	connectors map[domain.ProviderType]driven.Connector
}

// NewRegistry builds a registry from the given connectors.
func NewRegistry(connectors ...driven.Connector) *Registry {
	r := &Registry{connectors: make(map[domain.ProviderType]driven.Connector, len(connectors))}
	for _, c := range connectors {
		r.connectors[c.Type()] = c
	}
	return r
}

// Get returns the connector for a provider.
func (r *Registry) Get(provider domain.ProviderType) (driven.Connector, error) {
	c, ok := r.connectors[provider]
	if !ok {
		return nil, domain.ErrConnectorNotFound
	}
	return c, nil
}

// List returns registry metadata for all providers, stably sorted by name.
func (r *Registry) List() []domain.ProviderInfo {
	infos := make([]domain.ProviderInfo, 0, len(r.connectors))
	for _, c := range r.connectors {
		infos = append(infos, c.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Name != infos[j].Name {
			return infos[i].Name < infos[j].Name
		}
		return infos[i].Type < infos[j].Type
	})
	return infos
}
