package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mgrinalds/wayguard/internal/config"
	"github.com/mgrinalds/wayguard/internal/types"
)

func newTestLocal(maxKeys int) *LocalCache {
	return NewLocalCache(config.LocalConfig{
		Enabled:          true,
		MaxKeys:          maxKeys,
		PromoteThreshold: 2,
		EvictionPolicy:   config.EvictionHitCount,
	}, nil)
}

func TestLocalSetGet(t *testing.T) {
	c := newTestLocal(10)
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, "key1", []byte("value1"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, err := c.Get(ctx, "key1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "value1" {
		t.Errorf("Get = %q, want value1", got)
	}

	if _, err := c.Get(ctx, "missing"); !types.IsCacheMiss(err) {
		t.Errorf("Get(missing) = %v, want cache miss", err)
	}
}

func TestLocalTTLExpiry(t *testing.T) {
	c := newTestLocal(10)
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, "short", []byte("v"), 20*time.Millisecond); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if _, err := c.Get(ctx, "short"); err != nil {
		t.Fatalf("Get before expiry: %v", err)
	}

	time.Sleep(30 * time.Millisecond)

	if _, err := c.Get(ctx, "short"); !types.IsCacheMiss(err) {
		t.Errorf("Get after expiry = %v, want cache miss", err)
	}
}

func TestLocalSetDoesNotEvict(t *testing.T) {
	c := newTestLocal(2)
	defer c.Close()
	ctx := context.Background()

	c.Set(ctx, "a", []byte("1"), time.Minute)
	c.Set(ctx, "b", []byte("2"), time.Minute)

	if err := c.Set(ctx, "c", []byte("3"), time.Minute); !errors.Is(err, types.ErrLocalFull) {
		t.Fatalf("Set at capacity = %v, want ErrLocalFull", err)
	}

	// Updating an existing key at capacity is fine.
	if err := c.Set(ctx, "a", []byte("1b"), time.Minute); err != nil {
		t.Errorf("update at capacity = %v, want nil", err)
	}
	if got, _ := c.Get(ctx, "a"); string(got) != "1b" {
		t.Errorf("updated value = %q, want 1b", got)
	}
}

func TestLocalPromoteEvictsLowestHits(t *testing.T) {
	c := newTestLocal(2)
	defer c.Close()
	ctx := context.Background()

	c.Set(ctx, "hot", []byte("h"), time.Minute)
	c.Set(ctx, "cold", []byte("c"), time.Minute)

	// Three hits on hot, none on cold.
	for i := 0; i < 3; i++ {
		c.Get(ctx, "hot")
	}

	if err := c.Promote(ctx, "new", []byte("n"), time.Minute); err != nil {
		t.Fatalf("Promote: %v", err)
	}

	if _, err := c.Get(ctx, "cold"); !types.IsCacheMiss(err) {
		t.Error("cold entry survived eviction, want evicted")
	}
	if _, err := c.Get(ctx, "hot"); err != nil {
		t.Errorf("hot entry evicted: %v", err)
	}
	if _, err := c.Get(ctx, "new"); err != nil {
		t.Errorf("promoted entry missing: %v", err)
	}
	if got := c.Stats().Evictions; got != 1 {
		t.Errorf("Evictions = %d, want 1", got)
	}
}

func TestLocalEvictionTieBreakOldest(t *testing.T) {
	c := newTestLocal(2)
	defer c.Close()
	ctx := context.Background()

	c.Set(ctx, "first", []byte("1"), time.Minute)
	c.Set(ctx, "second", []byte("2"), time.Minute)

	// Equal hit counts: the older insertion goes.
	if err := c.Promote(ctx, "third", []byte("3"), time.Minute); err != nil {
		t.Fatalf("Promote: %v", err)
	}

	if _, err := c.Get(ctx, "first"); !types.IsCacheMiss(err) {
		t.Error("oldest entry survived tie-break eviction")
	}
	if _, err := c.Get(ctx, "second"); err != nil {
		t.Errorf("newer entry evicted: %v", err)
	}
}

func TestLocalFIFOEvictionPolicy(t *testing.T) {
	c := NewLocalCache(config.LocalConfig{
		Enabled:        true,
		MaxKeys:        2,
		EvictionPolicy: config.EvictionFIFO,
	}, nil)
	defer c.Close()
	ctx := context.Background()

	c.Set(ctx, "first", []byte("1"), time.Minute)
	c.Set(ctx, "second", []byte("2"), time.Minute)

	// Heavy hits on first must not save it under FIFO.
	for i := 0; i < 5; i++ {
		c.Get(ctx, "first")
	}

	c.Promote(ctx, "third", []byte("3"), time.Minute)

	if _, err := c.Get(ctx, "first"); !types.IsCacheMiss(err) {
		t.Error("oldest entry survived FIFO eviction")
	}
}

func TestLocalUpdateKeepsHitCount(t *testing.T) {
	c := newTestLocal(2)
	defer c.Close()
	ctx := context.Background()

	c.Set(ctx, "a", []byte("1"), time.Minute)
	c.Set(ctx, "b", []byte("2"), time.Minute)
	for i := 0; i < 3; i++ {
		c.Get(ctx, "a")
	}

	// Re-putting a does not zero its hits, so b is still the victim.
	c.Set(ctx, "a", []byte("1b"), time.Minute)
	c.Promote(ctx, "new", []byte("n"), time.Minute)

	if _, err := c.Get(ctx, "b"); !types.IsCacheMiss(err) {
		t.Error("b survived, want evicted as lowest-hit entry")
	}
	if _, err := c.Get(ctx, "a"); err != nil {
		t.Errorf("a evicted despite hits: %v", err)
	}
}

func TestLocalDeleteByPattern(t *testing.T) {
	c := newTestLocal(10)
	defer c.Close()
	ctx := context.Background()

	c.Set(ctx, "place:1", []byte("a"), time.Minute)
	c.Set(ctx, "place:2", []byte("b"), time.Minute)
	c.Set(ctx, "geocode:1", []byte("c"), time.Minute)

	removed, err := c.DeleteByPattern(ctx, "place:*")
	if err != nil {
		t.Fatalf("DeleteByPattern: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}

	if _, err := c.Get(ctx, "place:1"); !types.IsCacheMiss(err) {
		t.Error("place:1 survived pattern delete")
	}
	if _, err := c.Get(ctx, "geocode:1"); err != nil {
		t.Errorf("geocode:1 removed by unrelated pattern: %v", err)
	}

	// Deleting again is a no-op, not an error.
	removed, err = c.DeleteByPattern(ctx, "place:*")
	if err != nil || removed != 0 {
		t.Errorf("repeat delete = (%d, %v), want (0, nil)", removed, err)
	}
}

func TestLocalRemoveExpired(t *testing.T) {
	c := newTestLocal(10)
	defer c.Close()
	ctx := context.Background()

	c.Set(ctx, "gone1", []byte("a"), 10*time.Millisecond)
	c.Set(ctx, "gone2", []byte("b"), 10*time.Millisecond)
	c.Set(ctx, "stays", []byte("c"), time.Minute)

	time.Sleep(20 * time.Millisecond)

	if removed := c.RemoveExpired(); removed != 2 {
		t.Errorf("RemoveExpired = %d, want 2", removed)
	}
	if got := c.EntryCount(); got != 1 {
		t.Errorf("EntryCount = %d, want 1", got)
	}
}

func TestLocalClosed(t *testing.T) {
	c := newTestLocal(10)
	ctx := context.Background()

	c.Set(ctx, "a", []byte("1"), time.Minute)
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := c.Get(ctx, "a"); !errors.Is(err, types.ErrClosed) {
		t.Errorf("Get after close = %v, want ErrClosed", err)
	}
	if err := c.Set(ctx, "b", []byte("2"), time.Minute); !errors.Is(err, types.ErrClosed) {
		t.Errorf("Set after close = %v, want ErrClosed", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close = %v, want nil", err)
	}
}

func TestMatchPattern(t *testing.T) {
	tests := []struct {
		key     string
		pattern string
		want    bool
	}{
		{"place:1", "place:*", true},
		{"place:1", "place:1", true},
		{"place:1", "geocode:*", false},
		{"anything", "*", true},
		{"user:42:avatar", "user:*:avatar", true},
		{"user:42:name", "user:*:avatar", false},
		{"photo.png", "*.png", true},
		{"photo.jpg", "*.png", false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"/"+tt.key, func(t *testing.T) {
			if got := matchPattern(tt.key, tt.pattern); got != tt.want {
				t.Errorf("matchPattern(%q, %q) = %v, want %v", tt.key, tt.pattern, got, tt.want)
			}
		})
	}
}
