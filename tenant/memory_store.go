package tenant

import (
	"context"
	"sort"
	"sync"

	"github.com/BaSui01/typeflow/gateway"
)

// MemoryStore is an in-process Store for tests and single-node
// development setups.
type MemoryStore struct {
	mu       sync.RWMutex
	settings map[string]Settings
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{settings: make(map[string]Settings)}
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, tenantID string) (*Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	settings, ok := s.settings[tenantID]
	if !ok {
		return nil, ErrNotFound
	}
	out := settings
	out.Providers = append([]gateway.ProviderConfig(nil), settings.Providers...)
	return &out, nil
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, settings *Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *settings
	stored.Providers = append([]gateway.ProviderConfig(nil), settings.Providers...)
	s.settings[settings.TenantID] = stored
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.settings, tenantID)
	return nil
}

// List implements Store, sorted by tenant ID for determinism.
func (s *MemoryStore) List(_ context.Context) ([]Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Settings, 0, len(s.settings))
	for _, settings := range s.settings {
		out = append(out, settings)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TenantID < out[j].TenantID })
	return out, nil
}
