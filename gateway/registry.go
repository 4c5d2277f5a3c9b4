package gateway

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Registry maps a provider type tag to its Factory. It is populated at
// process start (see gateway/factory) and read-only afterwards, so
// concurrent lookups during request handling are uncontended reads.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	logger    *zap.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		factories: make(map[string]Factory),
		logger:    logger.With(zap.String("component", "provider_registry")),
	}
}

// Register adds a factory under the given type tag. Re-registering an
// existing tag overwrites it; that is not an error, but it is logged
// so a double registration at startup is visible.
func (r *Registry) Register(typeTag string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[typeTag]; exists {
		r.logger.Warn("overwriting registered provider factory", zap.String("type", typeTag))
	}
	r.factories[typeTag] = f
}

// Lookup retrieves the factory for a type tag. A miss means a tenant's
// config references an unregistered backend, which is a configuration
// error, not a runtime request error.
func (r *Registry) Lookup(typeTag string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[typeTag]
	return f, ok
}

// Types returns the sorted tags of all registered factories.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Len returns the number of registered factories.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.factories)
}
