package types

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrCacheMiss         = errors.New("wayguard: key not found")
	ErrSharedUnavailable = errors.New("wayguard: shared tier unavailable")
	ErrCircuitOpen       = errors.New("wayguard: circuit breaker open")
	ErrRateLimited       = errors.New("wayguard: rate limit exceeded")
	ErrUnavailable       = errors.New("wayguard: upstream unavailable and no cached fallback")
	ErrClosed            = errors.New("wayguard: closed")
	ErrLocalFull         = errors.New("wayguard: local tier at capacity")
	ErrWriteQueueFull    = errors.New("wayguard: write queue full")
	ErrBulkheadFull      = errors.New("wayguard: bulkhead at capacity")
	ErrBulkheadTimeout   = errors.New("wayguard: bulkhead timeout")
	ErrInvalidKey        = errors.New("wayguard: invalid key")
	ErrShutdownTimeout   = errors.New("wayguard: shutdown timeout waiting for background operations")
)

// FailureKind classifies an upstream failure for circuit accounting.
type FailureKind int

const (
	KindUnknown FailureKind = iota
	KindTimeout
	KindConnection
	KindServer
)

func (k FailureKind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindConnection:
		return "connection"
	case KindServer:
		return "server"
	default:
		return "unknown"
	}
}

// RateLimitError is returned when admission control denies a call.
// RetryAfter is derived from the most restrictive window.
type RateLimitError struct {
	Service    string
	Identifier string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("wayguard: rate limit exceeded for %s/%s, retry after %s",
		e.Service, e.Identifier, e.RetryAfter)
}

// Is allows errors.Is(err, ErrRateLimited) to match.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// UpstreamError wraps an infrastructure-level failure from a protected call.
// These count toward circuit breaker failure thresholds.
type UpstreamError struct {
	Service string
	Kind    FailureKind
	Err     error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("wayguard: upstream %s failure on %s: %v", e.Kind, e.Service, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// ClientInputError marks a failure caused by the request itself
// (bad parameters, validation). It never counts toward circuit state.
type ClientInputError struct {
	Err error
}

func (e *ClientInputError) Error() string {
	return fmt.Sprintf("wayguard: client input error: %v", e.Err)
}

func (e *ClientInputError) Unwrap() error {
	return e.Err
}

// NewClientInputError wraps err so the executor surfaces it directly
// without touching circuit state. Protected-call implementations use this
// to flag bad-request style failures.
func NewClientInputError(err error) *ClientInputError {
	return &ClientInputError{Err: err}
}

// ConfigError indicates an invalid or incomplete configuration.
// It is fatal at startup; the system refuses to run partially configured.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("wayguard: invalid configuration %s: %s", e.Field, e.Reason)
}

// CacheError carries the operation, key and tier of a failed cache operation.
type CacheError struct {
	Op   string
	Key  string
	Tier string
	Err  error
}

func (e *CacheError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("cache %s on %s [%s]: %v", e.Op, e.Tier, e.Key, e.Err)
	}
	return fmt.Sprintf("cache %s on %s: %v", e.Op, e.Tier, e.Err)
}

func (e *CacheError) Unwrap() error {
	return e.Err
}

func NewCacheError(op, key, tier string, err error) *CacheError {
	return &CacheError{Op: op, Key: key, Tier: tier, Err: err}
}

func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}

func IsSharedUnavailable(err error) bool {
	return errors.Is(err, ErrSharedUnavailable)
}

func IsCircuitOpen(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}

func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

func IsClientInput(err error) bool {
	var cie *ClientInputError
	return errors.As(err, &cie)
}

// MaxKeyLength bounds cache key size across both tiers.
const MaxKeyLength = 1024

// ValidateKey rejects keys this layer cannot store or match reliably.
// Keys are namespace-prefixed strings built by callers of this library;
// '*' is reserved for invalidation patterns.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if len(key) > MaxKeyLength {
		return fmt.Errorf("%w: length %d exceeds %d", ErrInvalidKey, len(key), MaxKeyLength)
	}
	for _, r := range key {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("%w: control character", ErrInvalidKey)
		}
		if r == '*' {
			return fmt.Errorf("%w: '*' is reserved for patterns", ErrInvalidKey)
		}
	}
	return nil
}
