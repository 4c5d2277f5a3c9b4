package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Orchestrator walks a tenant's providers in priority order and
// returns the first successful response. Every provider failure,
// timeouts included, is recoverable here: the loop records it as the
// last error and moves on. Only exhaustion crosses the boundary, as
// ALL_PROVIDERS_FAILED carrying the last underlying cause.
//
// Attempts are strictly sequential. Racing all providers at once would
// multiply outbound cost and blur which backend served the response.
type Orchestrator struct {
	pools          *PoolManager
	observer       Observer
	logger         *zap.Logger
	defaultTimeout time.Duration
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithDefaultTimeout overrides DefaultAttemptTimeout for providers
// whose config sets no timeout of their own.
func WithDefaultTimeout(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if d > 0 {
			o.defaultTimeout = d
		}
	}
}

// NewOrchestrator creates an Orchestrator over the given pool manager.
func NewOrchestrator(pools *PoolManager, observer Observer, logger *zap.Logger, opts ...OrchestratorOption) *Orchestrator {
	if observer == nil {
		observer = NopObserver{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		pools:          pools,
		observer:       observer,
		logger:         logger.With(zap.String("component", "orchestrator")),
		defaultTimeout: DefaultAttemptTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Generate produces a response from exactly one of the tenant's
// providers. The request must already be validated and normalized.
func (o *Orchestrator) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	pool, err := o.pools.Get(ctx, req.TenantID)
	if err != nil {
		return nil, err
	}
	if pool.Len() == 0 {
		return nil, &Error{
			Code:    ErrNoProviderConfigured,
			Message: fmt.Sprintf("tenant %s has no available provider", req.TenantID),
		}
	}

	var (
		lastErr      error
		lastProvider string
		attempts     int
	)
	for _, p := range pool.Providers() {
		if ctx.Err() != nil {
			break
		}
		// Availability may have changed since the pool was built;
		// re-check just in time so a flipped-off backend costs nothing.
		if !p.Available() {
			o.logger.Debug("skipping unavailable provider",
				zap.String("tenant", req.TenantID),
				zap.String("provider", p.Type()))
			continue
		}

		attempts++
		lastProvider = p.Type()
		resp, attemptErr := o.attempt(ctx, p, req)
		if attemptErr == nil {
			o.logger.Debug("provider attempt succeeded",
				zap.String("tenant", req.TenantID),
				zap.String("provider", p.Type()),
				zap.Int("attempt", attempts))
			return resp, nil
		}

		lastErr = attemptErr
		o.logger.Warn("provider attempt failed, trying next",
			zap.String("tenant", req.TenantID),
			zap.String("provider", p.Type()),
			zap.Int("attempt", attempts),
			zap.Error(attemptErr))
	}

	// Cancellation is the caller's doing, never a statement about the
	// tenant's configuration.
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("generation cancelled for tenant %s after %d attempt(s): %w", req.TenantID, attempts, err)
	}
	if attempts == 0 {
		return nil, &Error{
			Code:    ErrNoProviderConfigured,
			Message: fmt.Sprintf("tenant %s has no available provider", req.TenantID),
		}
	}
	if lastErr == nil {
		// Defensive: the loop ran but recorded nothing.
		lastErr = errors.New("no provider error recorded")
	}
	return nil, (&Error{
		Code:     ErrAllProvidersFailed,
		Message:  fmt.Sprintf("all %d provider(s) failed for tenant %s: %v", attempts, req.TenantID, lastErr),
		Provider: lastProvider,
		Attempts: attempts,
	}).WithCause(lastErr)
}

// attempt exercises one provider, honoring its retry budget: a
// retryable failure is retried up to RetryCount times against the same
// backend before the failover loop moves on. Non-retryable failures
// and caller cancellation end the budget early.
func (o *Orchestrator) attempt(ctx context.Context, p Provider, req *GenerateRequest) (*GenerateResponse, error) {
	tries := p.RetryCount() + 1
	if tries < 1 {
		tries = 1
	}
	var lastErr error
	for try := 0; try < tries; try++ {
		resp, err := o.tryOnce(ctx, p, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		ge, ok := AsError(err)
		if !ok || !ge.Retryable || ctx.Err() != nil {
			return nil, err
		}
		if try < tries-1 {
			o.logger.Debug("retrying provider after retryable failure",
				zap.String("tenant", req.TenantID),
				zap.String("provider", p.Type()),
				zap.Int("try", try+1),
				zap.Error(err))
		}
	}
	return nil, lastErr
}

// tryOnce runs one provider call under its configured deadline and
// normalizes the outcome. Cancelling the attempt context also cancels
// the in-flight upstream call, so an abandoned attempt does not leak.
func (o *Orchestrator) tryOnce(ctx context.Context, p Provider, req *GenerateRequest) (*GenerateResponse, error) {
	timeout := p.AttemptTimeout()
	if timeout <= 0 {
		timeout = o.defaultTimeout
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	resp, err := p.Generate(attemptCtx, req)
	elapsed := time.Since(start)

	if err != nil {
		err = normalizeAttemptError(err, attemptCtx, p.Type())
		if ge, ok := AsError(err); ok {
			o.observer.ObserveAttempt(req.TenantID, p.Type(), ge.Code, elapsed)
		} else {
			o.observer.ObserveAttempt(req.TenantID, p.Type(), ErrUpstreamError, elapsed)
		}
		return nil, err
	}
	o.observer.ObserveAttempt(req.TenantID, p.Type(), "", elapsed)
	return resp, nil
}

// normalizeAttemptError maps context expiry to UPSTREAM_TIMEOUT and
// wraps anything that is not already a gateway Error.
func normalizeAttemptError(err error, attemptCtx context.Context, providerType string) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return &Error{
			Code:      ErrUpstreamTimeout,
			Message:   fmt.Sprintf("provider %s timed out", providerType),
			Retryable: true,
			Provider:  providerType,
		}
	}
	if _, ok := AsError(err); ok {
		return err
	}
	return (&Error{
		Code:     ErrUpstreamError,
		Message:  err.Error(),
		Provider: providerType,
	}).WithCause(err)
}
