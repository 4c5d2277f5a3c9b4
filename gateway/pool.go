package gateway

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// SettingsSource supplies the ordered provider configs for a tenant.
// The tenant settings store (package tenant) adapts to this; tests use
// in-line functions. An unknown tenant returns an empty slice, not an
// error.
type SettingsSource interface {
	ProviderConfigs(ctx context.Context, tenantID string) ([]ProviderConfig, error)
}

// SettingsSourceFunc adapts a function to SettingsSource.
type SettingsSourceFunc func(ctx context.Context, tenantID string) ([]ProviderConfig, error)

func (f SettingsSourceFunc) ProviderConfigs(ctx context.Context, tenantID string) ([]ProviderConfig, error) {
	return f(ctx, tenantID)
}

// TenantPool holds the live providers of one tenant in failover order.
// It is immutable after construction; settings changes produce a new
// pool via PoolManager.Invalidate.
type TenantPool struct {
	tenantID  string
	providers []Provider
}

// TenantID returns the owning tenant.
func (p *TenantPool) TenantID() string { return p.tenantID }

// Providers returns the providers in ascending priority order, ties
// stable by config position. Callers must not mutate the slice.
func (p *TenantPool) Providers() []Provider { return p.providers }

// Len returns the number of usable providers in the pool.
func (p *TenantPool) Len() int { return len(p.providers) }

// buildPool turns config records into live providers. Disabled configs
// and configs that fail factory validation are skipped with a log line
// rather than failing the whole tenant; a pool may come out empty.
func buildPool(tenantID string, configs []ProviderConfig, registry *Registry, logger *zap.Logger) *TenantPool {
	ordered := make([]ProviderConfig, len(configs))
	copy(ordered, configs)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority < ordered[j].Priority
	})

	pool := &TenantPool{tenantID: tenantID}
	for _, cfg := range ordered {
		if !cfg.Enabled {
			logger.Debug("skipping disabled provider",
				zap.String("tenant", tenantID),
				zap.String("type", cfg.Type))
			continue
		}
		factory, ok := registry.Lookup(cfg.Type)
		if !ok {
			logger.Warn("skipping provider: type not registered",
				zap.String("tenant", tenantID),
				zap.String("type", cfg.Type))
			continue
		}
		p, err := factory(cfg, logger)
		if err != nil {
			logger.Warn("skipping provider: config validation failed",
				zap.String("tenant", tenantID),
				zap.String("type", cfg.Type),
				zap.Error(err))
			continue
		}
		pool.providers = append(pool.providers, p)
	}
	return pool
}

// PoolManager builds and caches per-tenant pools. Construction is
// lazy: the first request for a tenant builds its pool, with a
// singleflight guard so concurrent first use builds exactly once.
type PoolManager struct {
	registry *Registry
	source   SettingsSource
	logger   *zap.Logger

	mu    sync.RWMutex
	pools map[string]*TenantPool
	group singleflight.Group
}

// NewPoolManager creates a PoolManager over the given registry and
// settings source.
func NewPoolManager(registry *Registry, source SettingsSource, logger *zap.Logger) *PoolManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PoolManager{
		registry: registry,
		source:   source,
		logger:   logger.With(zap.String("component", "pool_manager")),
		pools:    make(map[string]*TenantPool),
	}
}

// Get returns the tenant's pool, building it on first use. Rebuilding
// with the same config set is a no-op in effect: the new pool simply
// replaces the old one, nothing leaks. Only a settings-source failure
// is an error here; a tenant with zero usable providers gets an empty
// pool, which the orchestrator reports as NO_PROVIDER_CONFIGURED.
func (m *PoolManager) Get(ctx context.Context, tenantID string) (*TenantPool, error) {
	m.mu.RLock()
	pool, ok := m.pools[tenantID]
	m.mu.RUnlock()
	if ok {
		return pool, nil
	}

	v, err, _ := m.group.Do(tenantID, func() (any, error) {
		// Re-check: another flight may have stored the pool between
		// the read above and this closure running.
		m.mu.RLock()
		existing, ok := m.pools[tenantID]
		m.mu.RUnlock()
		if ok {
			return existing, nil
		}

		configs, err := m.source.ProviderConfigs(ctx, tenantID)
		if err != nil {
			return nil, fmt.Errorf("loading provider configs for tenant %s: %w", tenantID, err)
		}
		built := buildPool(tenantID, configs, m.registry, m.logger)
		m.logger.Info("tenant provider pool built",
			zap.String("tenant", tenantID),
			zap.Int("configured", len(configs)),
			zap.Int("usable", built.Len()))

		m.mu.Lock()
		m.pools[tenantID] = built
		m.mu.Unlock()
		return built, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*TenantPool), nil
}

// Invalidate drops a tenant's pool so the next request rebuilds it
// from current settings. Call it whenever tenant AI settings change.
func (m *PoolManager) Invalidate(tenantID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pools[tenantID]; ok {
		delete(m.pools, tenantID)
		m.logger.Info("tenant provider pool invalidated", zap.String("tenant", tenantID))
	}
}

// InvalidateAll drops every cached pool.
func (m *PoolManager) InvalidateAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pools = make(map[string]*TenantPool)
}
