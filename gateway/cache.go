package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrCacheMiss indicates the key is absent or expired.
var ErrCacheMiss = errors.New("cache miss")

// DefaultCacheTTL applies when Set is called with a non-positive TTL.
const DefaultCacheTTL = 5 * time.Minute

// ResponseCache memoizes generation responses. Implementations must
// make reads and writes to a single key atomic with respect to each
// other; ordering across different keys is not required.
type ResponseCache interface {
	// Get returns the stored response, or ErrCacheMiss if the key is
	// absent or its TTL has elapsed. A hit never triggers provider
	// calls.
	Get(ctx context.Context, key string) (*GenerateResponse, error)

	// Set stores the response under key, overwriting any prior entry.
	// A non-positive ttl selects the backend default.
	Set(ctx context.Context, key string, resp *GenerateResponse, ttl time.Duration) error
}

// CacheKey derives the deterministic identity of a request: every
// field that affects output equivalence and nothing else. RequesterID
// is deliberately excluded; it must never leak cross-request state
// into a cached response. Derive keys from the normalized request so
// an explicit default and an omitted field hash identically.
func CacheKey(req *GenerateRequest) string {
	temperature := float32(DefaultTemp)
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	data, _ := json.Marshal(struct {
		TenantID       string  `json:"tenant_id"`
		Text           string  `json:"text"`
		StylePrompt    string  `json:"style_prompt"`
		Temperature    float32 `json:"temperature"`
		MaxTokens      int     `json:"max_tokens"`
		CandidateCount int     `json:"candidate_count"`
	}{
		TenantID:       req.TenantID,
		Text:           req.Text,
		StylePrompt:    req.StylePrompt,
		Temperature:    temperature,
		MaxTokens:      req.MaxTokens,
		CandidateCount: req.CandidateCount,
	})
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:16])
}

type memoryEntry struct {
	resp      *GenerateResponse
	expiresAt time.Time
}

// MemoryCache is a mutex-guarded keyed store with expiry checked
// lazily at read time. An optional background sweep reclaims memory
// from entries that are never read again.
type MemoryCache struct {
	mu         sync.RWMutex
	entries    map[string]memoryEntry
	defaultTTL time.Duration
	logger     *zap.Logger

	stopSweep chan struct{}
	sweepOnce sync.Once
}

// MemoryCacheOption configures a MemoryCache.
type MemoryCacheOption func(*MemoryCache)

// WithDefaultTTL overrides DefaultCacheTTL for entries stored without
// an explicit TTL.
func WithDefaultTTL(ttl time.Duration) MemoryCacheOption {
	return func(c *MemoryCache) {
		if ttl > 0 {
			c.defaultTTL = ttl
		}
	}
}

// WithSweepInterval starts a background goroutine that drops expired
// entries every interval. Without it, expiry is purely lazy.
func WithSweepInterval(interval time.Duration) MemoryCacheOption {
	return func(c *MemoryCache) {
		if interval <= 0 {
			return
		}
		go c.sweepLoop(interval)
	}
}

// NewMemoryCache creates an in-process response cache.
func NewMemoryCache(logger *zap.Logger, opts ...MemoryCacheOption) *MemoryCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &MemoryCache{
		entries:    make(map[string]memoryEntry),
		defaultTTL: DefaultCacheTTL,
		logger:     logger.With(zap.String("component", "response_cache")),
		stopSweep:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get implements ResponseCache. Reading an expired entry removes it
// and behaves as a miss.
func (c *MemoryCache) Get(_ context.Context, key string) (*GenerateResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	if !time.Now().Before(entry.expiresAt) {
		delete(c.entries, key)
		return nil, ErrCacheMiss
	}
	return entry.resp, nil
}

// Set implements ResponseCache.
func (c *MemoryCache) Set(_ context.Context, key string, resp *GenerateResponse, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryEntry{resp: resp, expiresAt: time.Now().Add(ttl)}
	return nil
}

// Len returns the number of stored entries, expired ones included
// until a read or sweep reclaims them.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close stops the background sweep, if one was started.
func (c *MemoryCache) Close() {
	c.sweepOnce.Do(func() { close(c.stopSweep) })
}

func (c *MemoryCache) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopSweep:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *MemoryCache) sweep() {
	now := time.Now()
	c.mu.Lock()
	removed := 0
	for key, entry := range c.entries {
		if !now.Before(entry.expiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	remaining := len(c.entries)
	c.mu.Unlock()
	if removed > 0 {
		c.logger.Debug("swept expired cache entries",
			zap.Int("removed", removed),
			zap.Int("remaining", remaining))
	}
}
