// Package tenant holds per-application AI settings and the stores
// that persist them. The gateway consumes these only through
// gateway.SettingsSource; everything else about tenants (users,
// pricing, subscriptions) lives with the outer backend.
package tenant

import (
	"context"
	"errors"
	"time"

	"github.com/BaSui01/typeflow/gateway"
)

// ErrNotFound is returned when a tenant has no stored settings.
var ErrNotFound = errors.New("tenant settings not found")

// Settings is one tenant application's AI configuration.
type Settings struct {
	TenantID string `json:"tenant_id" yaml:"tenant_id"`
	Name     string `json:"name,omitempty" yaml:"name,omitempty"`

	// DefaultProvider is an observability hint naming the backend the
	// tenant considers primary. It never overrides priority ordering.
	DefaultProvider string `json:"default_provider,omitempty" yaml:"default_provider,omitempty"`

	CacheEnabled bool          `json:"cache_enabled" yaml:"cache_enabled"`
	CacheTTL     time.Duration `json:"cache_ttl,omitempty" yaml:"cache_ttl,omitempty"`

	// Providers is the ordered backend list; order matters only for
	// breaking priority ties.
	Providers []gateway.ProviderConfig `json:"providers" yaml:"providers"`
}

// Store persists tenant settings.
type Store interface {
	Get(ctx context.Context, tenantID string) (*Settings, error)
	Put(ctx context.Context, settings *Settings) error
	Delete(ctx context.Context, tenantID string) error
	List(ctx context.Context) ([]Settings, error)
}

// Source adapts a Store to gateway.SettingsSource. A tenant without
// stored settings yields zero configs, which the gateway reports as
// NO_PROVIDER_CONFIGURED.
type Source struct {
	store Store
}

// NewSource wraps a store for the gateway's pool manager.
func NewSource(store Store) *Source { return &Source{store: store} }

// ProviderConfigs implements gateway.SettingsSource.
func (s *Source) ProviderConfigs(ctx context.Context, tenantID string) ([]gateway.ProviderConfig, error) {
	settings, err := s.store.Get(ctx, tenantID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return settings.Providers, nil
}

// CachePolicy implements gateway.CachePolicy semantics over the store.
// Unknown tenants fall back to the deployment default (enabled).
func (s *Source) CachePolicy(ctx context.Context, tenantID string) (bool, time.Duration) {
	settings, err := s.store.Get(ctx, tenantID)
	if err != nil {
		return true, 0
	}
	return settings.CacheEnabled, settings.CacheTTL
}

// PoolInvalidator is the slice of gateway.PoolManager the invalidating
// store needs.
type PoolInvalidator interface {
	Invalidate(tenantID string)
}

// InvalidatingStore wraps a Store so every settings write drops the
// tenant's provider pool, forcing the next request to rebuild it from
// the new configs.
type InvalidatingStore struct {
	Store
	pools PoolInvalidator
}

// NewInvalidatingStore wraps store with pool invalidation.
func NewInvalidatingStore(store Store, pools PoolInvalidator) *InvalidatingStore {
	return &InvalidatingStore{Store: store, pools: pools}
}

// Put implements Store.
func (s *InvalidatingStore) Put(ctx context.Context, settings *Settings) error {
	if err := s.Store.Put(ctx, settings); err != nil {
		return err
	}
	s.pools.Invalidate(settings.TenantID)
	return nil
}

// Delete implements Store.
func (s *InvalidatingStore) Delete(ctx context.Context, tenantID string) error {
	if err := s.Store.Delete(ctx, tenantID); err != nil {
		return err
	}
	s.pools.Invalidate(tenantID)
	return nil
}
