package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// CachePolicy resolves the caching decision for one tenant: whether to
// cache at all and with which TTL (non-positive means the backend
// default). The composition root usually wires this to the tenant
// settings store.
type CachePolicy func(ctx context.Context, tenantID string) (enabled bool, ttl time.Duration)

// Service is the gateway entry point: request validation, response
// cache, failover orchestration, and traffic accounting, in that
// order. Construct exactly one per process at the composition root and
// pass it by reference to request handlers; it has no global state.
type Service struct {
	orchestrator *Orchestrator
	observer     Observer
	logger       *zap.Logger

	cache       ResponseCache // nil disables caching entirely
	cacheTTL    time.Duration
	cachePolicy CachePolicy

	rateLimit rate.Limit // 0 disables per-tenant limiting
	rateBurst int
	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithCache enables the response cache. A non-positive defaultTTL
// falls back to DefaultCacheTTL.
func WithCache(cache ResponseCache, defaultTTL time.Duration) ServiceOption {
	return func(s *Service) {
		s.cache = cache
		if defaultTTL > 0 {
			s.cacheTTL = defaultTTL
		}
	}
}

// WithCachePolicy lets tenants opt out of caching or shorten their
// TTL. Only consulted when a cache is configured.
func WithCachePolicy(policy CachePolicy) ServiceOption {
	return func(s *Service) { s.cachePolicy = policy }
}

// WithTenantRateLimit applies an in-memory token-bucket limit per
// tenant. Quota accounting across restarts is out of scope; this only
// shields the backends from a single runaway tenant.
func WithTenantRateLimit(perSecond float64, burst int) ServiceOption {
	return func(s *Service) {
		if perSecond > 0 && burst > 0 {
			s.rateLimit = rate.Limit(perSecond)
			s.rateBurst = burst
		}
	}
}

// WithObserver installs a traffic observer (e.g. the Prometheus
// collector).
func WithObserver(observer Observer) ServiceOption {
	return func(s *Service) {
		if observer != nil {
			s.observer = observer
		}
	}
}

// NewService creates the gateway service.
func NewService(orchestrator *Orchestrator, logger *zap.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		orchestrator: orchestrator,
		observer:     NopObserver{},
		logger:       logger.With(zap.String("component", "gateway")),
		cacheTTL:     DefaultCacheTTL,
		limiters:     make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Generate serves one generation request. Validation happens exactly
// once, before any provider or cache is touched; a cache hit
// short-circuits the orchestrator entirely.
func (s *Service) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	start := time.Now()
	if err := req.Validate(); err != nil {
		s.observer.ObserveGenerate(req.TenantID, "", string(ErrInvalidRequest), time.Since(start))
		return nil, err
	}
	norm := req.Normalized()

	if s.rateLimit > 0 && !s.limiter(norm.TenantID).Allow() {
		s.observer.ObserveGenerate(norm.TenantID, "", string(ErrRateLimited), time.Since(start))
		return nil, &Error{
			Code:    ErrRateLimited,
			Message: fmt.Sprintf("tenant %s exceeded its request rate", norm.TenantID),
		}
	}

	cacheEnabled, ttl := s.cacheDecision(ctx, norm.TenantID)
	var key string
	if cacheEnabled {
		key = CacheKey(norm)
		if resp, err := s.cache.Get(ctx, key); err == nil {
			s.observer.ObserveCache(norm.TenantID, true)
			s.observer.ObserveGenerate(norm.TenantID, resp.Provider.Type, "cached", time.Since(start))
			s.logger.Debug("cache hit",
				zap.String("tenant", norm.TenantID),
				zap.String("provider", resp.Provider.Type))
			return resp, nil
		} else if !errors.Is(err, ErrCacheMiss) {
			s.logger.Warn("cache read failed", zap.String("tenant", norm.TenantID), zap.Error(err))
		}
		s.observer.ObserveCache(norm.TenantID, false)
	}

	resp, err := s.orchestrator.Generate(ctx, norm)
	if err != nil {
		status := string(ErrAllProvidersFailed)
		if ge, ok := AsError(err); ok {
			status = string(ge.Code)
		}
		s.observer.ObserveGenerate(norm.TenantID, "", status, time.Since(start))
		return nil, err
	}

	if cacheEnabled {
		if err := s.cache.Set(ctx, key, resp, ttl); err != nil {
			s.logger.Warn("cache write failed", zap.String("tenant", norm.TenantID), zap.Error(err))
		}
	}
	s.observer.ObserveGenerate(norm.TenantID, resp.Provider.Type, "ok", time.Since(start))
	return resp, nil
}

func (s *Service) cacheDecision(ctx context.Context, tenantID string) (bool, time.Duration) {
	if s.cache == nil {
		return false, 0
	}
	ttl := s.cacheTTL
	if s.cachePolicy != nil {
		enabled, tenantTTL := s.cachePolicy(ctx, tenantID)
		if !enabled {
			return false, 0
		}
		if tenantTTL > 0 {
			ttl = tenantTTL
		}
	}
	return true, ttl
}

func (s *Service) limiter(tenantID string) *rate.Limiter {
	s.limiterMu.Lock()
	defer s.limiterMu.Unlock()
	l, ok := s.limiters[tenantID]
	if !ok {
		l = rate.NewLimiter(s.rateLimit, s.rateBurst)
		s.limiters[tenantID] = l
	}
	return l
}
