package types

import (
	"context"
	"time"
)

// TierInfo identifies a cache tier and reports its availability.
type TierInfo interface {
	Name() string
	IsAvailable() bool
}

// LocalTier is the fast, bounded, process-local cache tier.
// Set is opportunistic and returns ErrLocalFull instead of evicting;
// Promote may evict to make room.
type LocalTier interface {
	TierInfo
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Promote(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeleteByPattern(ctx context.Context, pattern string) (int, error)
	Clear(ctx context.Context) error
	RemoveExpired() int
	Close() error
	EntryCount() int
	MaxKeys() int
	Stats() LocalStats
}

// SharedTier is the durable tier visible to every application instance.
type SharedTier interface {
	TierInfo
	Get(ctx context.Context, key string) ([]byte, error)
	// GetWithTTL returns the value and its remaining TTL, used for
	// promotion into the local tier.
	GetWithTTL(ctx context.Context, key string) ([]byte, time.Duration, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	SetAsync(key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeleteByPattern(ctx context.Context, pattern string) (int, error)
	Clear(ctx context.Context) error
	Close() error
	PendingWrites() int
	DroppedWrites() int64
	Stats() SharedStats
}

// InvalidationBus broadcasts invalidation messages between instances.
// Delivery is at-least-once; subscribers must be idempotent.
type InvalidationBus interface {
	Publish(ctx context.Context, msg InvalidationMessage) error
	Subscribe(handler func(InvalidationMessage))
	Close() error
}

// Serializer converts protected-call results to and from cached bytes.
type Serializer interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, dest any) error
}

// MetricsRecorder receives operational events from the executor and cache.
// Implementations must be safe for concurrent use and must not block.
type MetricsRecorder interface {
	RecordHit(tier string, latency time.Duration)
	RecordMiss(tier string, latency time.Duration)
	RecordCall(service string, source Source, latency time.Duration)
	RecordRateLimited(service string)
	RecordError(service string, err error)
	RecordCircuitStateChange(service, from, to string)
}

// Logger is the minimal logging surface callers can plug in.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}
