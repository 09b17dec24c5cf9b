package llm

import (
	"fmt"
	"slices"
	"sort"

	"modelgate/internal/domain"
	"modelgate/internal/infra/config"
)

// Registry holds the backend catalogue and the agent route table.
// It is built once at startup and is read-only afterwards, so it needs no locking.
type Registry struct {
	backends     map[string]domain.BackendDescriptor
	order        []string
	routes       map[string][]string
	defaultRoute []string
}

// NewRegistry validates every descriptor and route and builds the registry.
// Every route id, including the default route, must name a registered backend.
func NewRegistry(backends []domain.BackendDescriptor, routes []domain.AgentRoute, defaultRoute []string) (*Registry, error) {
	r := &Registry{
		backends: make(map[string]domain.BackendDescriptor, len(backends)),
		routes:   make(map[string][]string, len(routes)),
	}

	for _, b := range backends {
		if err := b.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.backends[b.ID]; dup {
			return nil, domain.NewDomainError("NewRegistry", domain.ErrInvalidInput,
				fmt.Sprintf("duplicate backend %q", b.ID))
		}
		b.Capabilities = slices.Clone(b.Capabilities)
		r.backends[b.ID] = b
		r.order = append(r.order, b.ID)
	}

	if len(defaultRoute) == 0 {
		return nil, domain.NewDomainError("NewRegistry", domain.ErrInvalidInput, "default route is empty")
	}
	if err := r.checkRoute("default", defaultRoute); err != nil {
		return nil, err
	}
	r.defaultRoute = slices.Clone(defaultRoute)

	for _, route := range routes {
		if route.Agent == "" {
			return nil, domain.NewDomainError("NewRegistry", domain.ErrInvalidInput, "route with empty agent name")
		}
		if len(route.Backends) == 0 {
			return nil, domain.NewDomainError("NewRegistry", domain.ErrInvalidInput,
				fmt.Sprintf("agent %q has an empty route", route.Agent))
		}
		if err := r.checkRoute(route.Agent, route.Backends); err != nil {
			return nil, err
		}
		r.routes[route.Agent] = slices.Clone(route.Backends)
	}
	return r, nil
}

func (r *Registry) checkRoute(agent string, ids []string) error {
	for _, id := range ids {
		if _, ok := r.backends[id]; !ok {
			return domain.NewDomainError("NewRegistry", domain.ErrBackendNotFound,
				fmt.Sprintf("route %q references backend %q", agent, id))
		}
	}
	return nil
}

// NewRegistryFromConfig builds a registry from the loaded configuration.
func NewRegistryFromConfig(cfg *config.Config) (*Registry, error) {
	backends := make([]domain.BackendDescriptor, 0, len(cfg.Backends))
	for _, b := range cfg.Backends {
		backends = append(backends, domain.BackendDescriptor{
			ID:           b.ID,
			Endpoint:     b.Endpoint,
			Model:        b.Model,
			Capabilities: b.Capabilities,
			MaxTokens:    b.MaxTokens,
			TemperatureRange: domain.TemperatureRange{
				Min: b.TemperatureRange.Min,
				Max: b.TemperatureRange.Max,
			},
		})
	}
	routes := make([]domain.AgentRoute, 0, len(cfg.Routes.Agents))
	for _, a := range cfg.Routes.Agents {
		routes = append(routes, domain.AgentRoute{Agent: a.Agent, Backends: a.Backends})
	}
	return NewRegistry(backends, routes, cfg.Routes.Default)
}

// Describe returns the descriptor for id.
func (r *Registry) Describe(id string) (domain.BackendDescriptor, error) {
	d, ok := r.backends[id]
	if !ok {
		return domain.BackendDescriptor{}, domain.NewDomainError("Registry.Describe", domain.ErrBackendNotFound, id)
	}
	return d, nil
}

// Has reports whether id is a registered backend.
func (r *Registry) Has(id string) bool {
	_, ok := r.backends[id]
	return ok
}

// RouteFor returns the ordered candidates for agent. Unmapped agents get the
// default route; the result is never empty.
func (r *Registry) RouteFor(agent string) []domain.BackendDescriptor {
	ids, ok := r.routes[agent]
	if !ok {
		ids = r.defaultRoute
	}
	out := make([]domain.BackendDescriptor, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.backends[id])
	}
	return out
}

// IsMapped reports whether agent has its own route.
func (r *Registry) IsMapped(agent string) bool {
	_, ok := r.routes[agent]
	return ok
}

// Backends lists all descriptors in declaration order.
func (r *Registry) Backends() []domain.BackendDescriptor {
	out := make([]domain.BackendDescriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.backends[id])
	}
	return out
}

// Agents lists the mapped agent names, sorted.
func (r *Registry) Agents() []string {
	names := make([]string, 0, len(r.routes))
	for name := range r.routes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
