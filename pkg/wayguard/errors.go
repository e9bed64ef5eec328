package wayguard

import (
	"github.com/mgrinalds/wayguard/internal/types"
)

type (
	// RateLimitError reports a rate-limit denial with a retry hint.
	RateLimitError = types.RateLimitError
	// UpstreamError wraps an infrastructure-class upstream failure.
	UpstreamError = types.UpstreamError
	// ClientInputError marks a failure caused by the caller's input; it
	// never counts toward circuit opening.
	ClientInputError = types.ClientInputError
	// ConfigError reports invalid configuration at startup.
	ConfigError = types.ConfigError
	// CacheError reports a cache tier operation failure.
	CacheError = types.CacheError
)

var (
	// ErrCacheMiss indicates that a requested key was not found in either tier.
	ErrCacheMiss = types.ErrCacheMiss
	// ErrSharedUnavailable indicates that the shared tier is not reachable.
	ErrSharedUnavailable = types.ErrSharedUnavailable
	// ErrCircuitOpen indicates that the circuit breaker rejected the call.
	ErrCircuitOpen = types.ErrCircuitOpen
	// ErrRateLimited indicates a rate-limit denial; errors.Is matches
	// every *RateLimitError.
	ErrRateLimited = types.ErrRateLimited
	// ErrUnavailable indicates the upstream failed and no cached
	// fallback exists.
	ErrUnavailable = types.ErrUnavailable
	// ErrClosed indicates the guard has been closed.
	ErrClosed = types.ErrClosed
	// ErrInvalidKey indicates a cache key is invalid.
	ErrInvalidKey = types.ErrInvalidKey
	// ErrBulkheadFull indicates the per-service concurrency limit was hit.
	ErrBulkheadFull = types.ErrBulkheadFull
)

// NewClientInputError marks err as caused by the caller's input so the
// circuit breaker will not count it.
func NewClientInputError(err error) *ClientInputError {
	return types.NewClientInputError(err)
}

// IsCacheMiss returns true if the error is a cache miss.
func IsCacheMiss(err error) bool {
	return types.IsCacheMiss(err)
}

// IsRateLimited returns true if the error is a rate-limit denial.
func IsRateLimited(err error) bool {
	return types.IsRateLimited(err)
}

// IsCircuitOpen returns true if the error indicates the circuit breaker
// rejected the call.
func IsCircuitOpen(err error) bool {
	return types.IsCircuitOpen(err)
}

// IsUnavailable returns true if the upstream failed with no cached
// fallback.
func IsUnavailable(err error) bool {
	return types.IsUnavailable(err)
}

// IsClientInput returns true if the error was caused by the caller's
// input.
func IsClientInput(err error) bool {
	return types.IsClientInput(err)
}
