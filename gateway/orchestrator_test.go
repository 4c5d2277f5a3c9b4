package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// poolOf wires fixed providers into an orchestrator, bypassing config.
func poolOf(t *testing.T, providers ...Provider) *Orchestrator {
	t.Helper()
	reg := NewRegistry(zap.NewNop())
	configs := make([]ProviderConfig, 0, len(providers))
	for i, p := range providers {
		reg.Register(p.Type(), staticFactory(p))
		configs = append(configs, ProviderConfig{Type: p.Type(), Enabled: true, Priority: i})
	}
	mgr := NewPoolManager(reg, staticSource(map[string][]ProviderConfig{"t1": configs, "t2": configs}), zap.NewNop())
	return NewOrchestrator(mgr, nil, zap.NewNop())
}

func validReq() *GenerateRequest {
	return (&GenerateRequest{Text: "hello", TenantID: "t1"}).Normalized()
}

func TestOrchestrator_FirstAvailableProviderWins(t *testing.T) {
	primary := &testProvider{typeTag: "openai", model: "gpt", available: true}
	fallback := &testProvider{typeTag: "mock", model: "mock-v1", available: true}
	orch := poolOf(t, primary, fallback)

	resp, err := orch.Generate(context.Background(), validReq())
	require.NoError(t, err)
	assert.Equal(t, "openai", resp.Provider.Type)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 0, fallback.calls, "no further candidates after a success")
}

func TestOrchestrator_FailoverOnProviderError(t *testing.T) {
	primary := &testProvider{
		typeTag: "openai", available: true,
		generateFunc: func(context.Context, *GenerateRequest) (*GenerateResponse, error) {
			return nil, &Error{Code: ErrUpstreamError, Message: "upstream 500", Provider: "openai"}
		},
	}
	fallback := &testProvider{typeTag: "mock", available: true}
	orch := poolOf(t, primary, fallback)

	resp, err := orch.Generate(context.Background(), validReq())
	require.NoError(t, err, "primary failure must not surface while a fallback works")
	assert.Equal(t, "mock", resp.Provider.Type)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, fallback.calls)
}

func TestOrchestrator_FailoverOnTimeout(t *testing.T) {
	hung := &testProvider{
		typeTag: "openai", available: true, timeout: 20 * time.Millisecond,
		generateFunc: func(ctx context.Context, _ *GenerateRequest) (*GenerateResponse, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	fallback := &testProvider{typeTag: "mock", available: true}
	orch := poolOf(t, hung, fallback)

	resp, err := orch.Generate(context.Background(), validReq())
	require.NoError(t, err)
	assert.Equal(t, "mock", resp.Provider.Type)
}

func TestOrchestrator_AllProvidersFailed(t *testing.T) {
	failing := func(tag, msg string) *testProvider {
		return &testProvider{
			typeTag: tag, available: true,
			generateFunc: func(context.Context, *GenerateRequest) (*GenerateResponse, error) {
				return nil, &Error{Code: ErrUpstreamError, Message: msg, Provider: tag}
			},
		}
	}
	orch := poolOf(t, failing("openai", "boom-openai"), failing("mock", "boom-mock"))

	_, err := orch.Generate(context.Background(), validReq())
	require.Error(t, err)
	ge, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, ErrAllProvidersFailed, ge.Code)
	assert.Equal(t, 2, ge.Attempts)
	assert.Equal(t, "mock", ge.Provider, "last attempted provider is referenced")

	var cause *Error
	require.True(t, errors.As(errors.Unwrap(ge), &cause))
	assert.Equal(t, "boom-mock", cause.Message, "last underlying error is carried")
}

func TestOrchestrator_EmptyPool(t *testing.T) {
	mgr := NewPoolManager(NewRegistry(zap.NewNop()), staticSource(nil), zap.NewNop())
	orch := NewOrchestrator(mgr, nil, zap.NewNop())

	_, err := orch.Generate(context.Background(), validReq())
	ge, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, ErrNoProviderConfigured, ge.Code)
}

func TestOrchestrator_AllUnavailableIsNoProvider(t *testing.T) {
	// The pool was built while the provider validated, but by call
	// time it reports unavailable. No call is attempted.
	off := &testProvider{typeTag: "openai", available: false}
	orch := poolOf(t, off)

	_, err := orch.Generate(context.Background(), validReq())
	ge, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, ErrNoProviderConfigured, ge.Code)
	assert.Equal(t, 0, off.calls)
}

func TestOrchestrator_UnavailableProviderSkippedNotAttempted(t *testing.T) {
	off := &testProvider{typeTag: "openai", available: false}
	on := &testProvider{typeTag: "mock", available: true}
	orch := poolOf(t, off, on)

	resp, err := orch.Generate(context.Background(), validReq())
	require.NoError(t, err)
	assert.Equal(t, "mock", resp.Provider.Type)
	assert.Equal(t, 0, off.calls)
}

func TestOrchestrator_CallerCancellationStopsLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	first := &testProvider{
		typeTag: "openai", available: true,
		generateFunc: func(context.Context, *GenerateRequest) (*GenerateResponse, error) {
			cancel() // caller goes away mid-loop
			return nil, &Error{Code: ErrUpstreamError, Message: "boom", Provider: "openai"}
		},
	}
	second := &testProvider{typeTag: "mock", available: true}
	orch := poolOf(t, first, second)

	_, err := orch.Generate(ctx, validReq())
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, second.calls, "no attempts after the caller cancelled")
}

func TestOrchestrator_PreCancelledContext(t *testing.T) {
	healthy := &testProvider{typeTag: "mock", available: true}
	orch := poolOf(t, healthy)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := orch.Generate(ctx, validReq())
	require.ErrorIs(t, err, context.Canceled)
	_, isGateway := AsError(err)
	assert.False(t, isGateway, "cancellation is the caller's error, not a tenant configuration code")
	assert.Equal(t, 0, healthy.calls)
}

func TestOrchestrator_RetryableFailureRetriesBeforeFailover(t *testing.T) {
	var tries int
	flaky := &testProvider{
		typeTag: "openai", available: true, retries: 2,
		generateFunc: func(context.Context, *GenerateRequest) (*GenerateResponse, error) {
			tries++
			if tries < 3 {
				return nil, &Error{Code: ErrUpstreamRateLimited, Message: "429", Retryable: true, Provider: "openai"}
			}
			return &GenerateResponse{Provider: ProviderInfo{Type: "openai"}}, nil
		},
	}
	fallback := &testProvider{typeTag: "mock", available: true}
	orch := poolOf(t, flaky, fallback)

	resp, err := orch.Generate(context.Background(), validReq())
	require.NoError(t, err)
	assert.Equal(t, "openai", resp.Provider.Type)
	assert.Equal(t, 3, flaky.calls, "retry budget is spent on the same backend")
	assert.Equal(t, 0, fallback.calls)
}

func TestOrchestrator_RetryBudgetExhaustedFailsOver(t *testing.T) {
	flaky := &testProvider{
		typeTag: "openai", available: true, retries: 1,
		generateFunc: func(context.Context, *GenerateRequest) (*GenerateResponse, error) {
			return nil, &Error{Code: ErrUpstreamError, Message: "upstream 503", Retryable: true, Provider: "openai"}
		},
	}
	fallback := &testProvider{typeTag: "mock", available: true}
	orch := poolOf(t, flaky, fallback)

	resp, err := orch.Generate(context.Background(), validReq())
	require.NoError(t, err)
	assert.Equal(t, "mock", resp.Provider.Type)
	assert.Equal(t, 2, flaky.calls)
}

func TestOrchestrator_NonRetryableFailureSkipsRetries(t *testing.T) {
	broken := &testProvider{
		typeTag: "openai", available: true, retries: 3,
		generateFunc: func(context.Context, *GenerateRequest) (*GenerateResponse, error) {
			return nil, &Error{Code: ErrUnauthorized, Message: "bad key", Provider: "openai"}
		},
	}
	fallback := &testProvider{typeTag: "mock", available: true}
	orch := poolOf(t, broken, fallback)

	resp, err := orch.Generate(context.Background(), validReq())
	require.NoError(t, err)
	assert.Equal(t, "mock", resp.Provider.Type)
	assert.Equal(t, 1, broken.calls, "a non-retryable failure is never retried")
}
