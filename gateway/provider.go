package gateway

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// DefaultAttemptTimeout bounds a single provider attempt when the
// tenant's config does not set timeout_ms.
const DefaultAttemptTimeout = 30 * time.Second

// ProviderConfig declares one backend for one tenant. It is immutable
// once a pool has been built from it; changing a tenant's configs
// requires invalidating the pool.
type ProviderConfig struct {
	// Type selects the registered backend kind ("mock", "openai", ...).
	Type    string `json:"type" yaml:"type"`
	APIKey  string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Model   string `json:"model,omitempty" yaml:"model,omitempty"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
	// Priority orders failover attempts; lower is tried first. Equal
	// priorities keep their configured position.
	Priority int `json:"priority" yaml:"priority"`
	// RetryCount is how many extra same-provider attempts the
	// orchestrator makes on a retryable failure before failing over.
	RetryCount int `json:"retry_count,omitempty" yaml:"retry_count,omitempty"`
	TimeoutMs  int `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
}

// AttemptTimeout returns the per-attempt deadline for this backend.
func (c ProviderConfig) AttemptTimeout() time.Duration {
	if c.TimeoutMs > 0 {
		return time.Duration(c.TimeoutMs) * time.Millisecond
	}
	return DefaultAttemptTimeout
}

// Provider is a single backend capable of turning a prompt into one or
// more candidate replies.
//
// Implementations must be safe for concurrent use, must not share
// mutable state between invocations, and must normalize every failure
// to *Error carrying their type tag. Generate refuses to run while
// Available is false, returning an UNAVAILABLE_PROVIDER error.
type Provider interface {
	// Type returns the backend kind tag ("mock", "openai", ...).
	Type() string

	// Model returns the model the backend will use for requests that
	// do not override it.
	Model() string

	// Available reports whether the backing config is enabled and
	// valid. It must be cheap: no network I/O. The pool consults it
	// before spending a timeout slot on the provider.
	Available() bool

	// AttemptTimeout is the per-attempt deadline the orchestrator
	// applies to Generate. Implementations usually promote this from
	// their ProviderConfig; a non-positive value means the default.
	AttemptTimeout() time.Duration

	// RetryCount is how many extra Generate calls the orchestrator may
	// make against this backend after a retryable failure, before it
	// moves to the next provider. Zero means fail over immediately.
	RetryCount() int

	// Generate performs the backend-specific call. The context carries
	// the per-attempt deadline set by the orchestrator.
	Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error)
}

// Factory builds a Provider from a tenant's config record. It returns
// an error for configs that fail backend-specific validation; the pool
// skips (and logs) such configs rather than failing the tenant.
type Factory func(cfg ProviderConfig, logger *zap.Logger) (Provider, error)
