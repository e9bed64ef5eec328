package cache

import (
	"context"
	"time"

	"github.com/mgrinalds/wayguard/internal/types"
)

// DisabledLocal is a no-op local tier used when the process-local cache
// is turned off. Every read misses and every write succeeds silently.
type DisabledLocal struct{}

// NewDisabledLocal creates a disabled local tier.
func NewDisabledLocal() *DisabledLocal { return &DisabledLocal{} }

func (d *DisabledLocal) Name() string      { return "local-disabled" }
func (d *DisabledLocal) IsAvailable() bool { return false }

func (d *DisabledLocal) Get(ctx context.Context, key string) ([]byte, error) {
	return nil, types.ErrCacheMiss
}

func (d *DisabledLocal) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return nil
}

func (d *DisabledLocal) Promote(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return nil
}

func (d *DisabledLocal) Delete(ctx context.Context, key string) error { return nil }

func (d *DisabledLocal) DeleteByPattern(ctx context.Context, pattern string) (int, error) {
	return 0, nil
}

func (d *DisabledLocal) Clear(ctx context.Context) error { return nil }
func (d *DisabledLocal) RemoveExpired() int              { return 0 }
func (d *DisabledLocal) Close() error                    { return nil }
func (d *DisabledLocal) EntryCount() int                 { return 0 }
func (d *DisabledLocal) MaxKeys() int                    { return 0 }
func (d *DisabledLocal) Stats() types.LocalStats         { return types.LocalStats{} }

// DisabledShared is a no-op shared tier used for memory-only deployments.
// Reads miss, writes succeed silently, and the tier reports unavailable
// so health rolls up as degraded.
type DisabledShared struct{}

// NewDisabledShared creates a disabled shared tier.
func NewDisabledShared() *DisabledShared { return &DisabledShared{} }

func (d *DisabledShared) Name() string      { return "shared-disabled" }
func (d *DisabledShared) IsAvailable() bool { return false }

func (d *DisabledShared) Get(ctx context.Context, key string) ([]byte, error) {
	return nil, types.ErrCacheMiss
}

func (d *DisabledShared) GetWithTTL(ctx context.Context, key string) ([]byte, time.Duration, error) {
	return nil, 0, types.ErrCacheMiss
}

func (d *DisabledShared) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return nil
}

func (d *DisabledShared) SetAsync(key string, value []byte, ttl time.Duration) error { return nil }

func (d *DisabledShared) Delete(ctx context.Context, key string) error { return nil }

func (d *DisabledShared) DeleteByPattern(ctx context.Context, pattern string) (int, error) {
	return 0, nil
}

func (d *DisabledShared) Clear(ctx context.Context) error { return nil }
func (d *DisabledShared) Close() error                    { return nil }
func (d *DisabledShared) PendingWrites() int              { return 0 }
func (d *DisabledShared) DroppedWrites() int64            { return 0 }
func (d *DisabledShared) Stats() types.SharedStats        { return types.SharedStats{} }

var (
	_ types.LocalTier  = (*DisabledLocal)(nil)
	_ types.SharedTier = (*DisabledShared)(nil)
)
