package gateway

import "errors"

// ErrorCode is the stable machine-readable failure code crossing the
// gateway boundary. Callers only ever see the terminal codes; provider
// level codes are absorbed by the failover loop and survive only as
// the cause of ErrAllProvidersFailed.
type ErrorCode string

const (
	// Terminal codes (visible to callers).
	ErrInvalidRequest       ErrorCode = "INVALID_REQUEST"
	ErrNoProviderConfigured ErrorCode = "NO_PROVIDER_CONFIGURED"
	ErrAllProvidersFailed   ErrorCode = "ALL_PROVIDERS_FAILED"
	ErrRateLimited          ErrorCode = "RATE_LIMITED"

	// Provider-level codes (recoverable inside the failover loop).
	ErrProviderUnavailable ErrorCode = "UNAVAILABLE_PROVIDER"
	ErrUnauthorized        ErrorCode = "UNAUTHORIZED"
	ErrUpstreamTimeout     ErrorCode = "UPSTREAM_TIMEOUT"
	ErrUpstreamError       ErrorCode = "UPSTREAM_ERROR"
	ErrUpstreamRateLimited ErrorCode = "UPSTREAM_RATE_LIMITED"
)

// Error is the single error type produced by the gateway and every
// provider implementation. Backend-specific failures are normalized
// into it so nothing provider-shaped leaks upward.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable,omitempty"`
	// Provider is the type tag of the backend that failed, when known.
	Provider string `json:"provider,omitempty"`
	// Attempts is set on ALL_PROVIDERS_FAILED: how many providers were tried.
	Attempts int `json:"attempts,omitempty"`

	cause error
}

func (e *Error) Error() string { return e.Message }

// Unwrap exposes the last underlying provider failure, if any.
func (e *Error) Unwrap() error { return e.cause }

// WithCause attaches the underlying failure and returns e.
func (e *Error) WithCause(err error) *Error {
	e.cause = err
	return e
}

// AsError unwraps err into a *Error when possible.
func AsError(err error) (*Error, bool) {
	var ge *Error
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}

// Terminal reports whether the code is one a caller may observe, as
// opposed to a provider-level code the orchestrator absorbs.
func (c ErrorCode) Terminal() bool {
	switch c {
	case ErrInvalidRequest, ErrNoProviderConfigured, ErrAllProvidersFailed, ErrRateLimited:
		return true
	}
	return false
}
