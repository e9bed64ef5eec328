package cache

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mgrinalds/wayguard/internal/config"
	"github.com/mgrinalds/wayguard/internal/types"
)

// LocalCache is the bounded process-local tier. Entries carry their own
// expiry and a hit counter used for eviction ordering. Plain Set never
// evicts; only Promote may push out an existing entry.
type LocalCache struct {
	config config.LocalConfig
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]*localEntry
	seq     uint64

	hits      atomic.Int64
	misses    atomic.Int64
	sets      atomic.Int64
	deletes   atomic.Int64
	evictions atomic.Int64
	expired   atomic.Int64

	closed atomic.Bool
}

type localEntry struct {
	value     []byte
	expiresAt time.Time
	hits      int64
	seq       uint64
}

// NewLocalCache creates a local cache with the given configuration.
func NewLocalCache(cfg config.LocalConfig, logger *slog.Logger) *LocalCache {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.EvictionPolicy == "" {
		cfg.EvictionPolicy = config.EvictionHitCount
	}

	return &LocalCache{
		config:  cfg,
		logger:  logger.With("component", "local-cache"),
		entries: make(map[string]*localEntry, cfg.MaxKeys),
	}
}

// Name returns the tier name.
func (c *LocalCache) Name() string {
	return "local"
}

// IsAvailable returns true if the tier is not closed.
func (c *LocalCache) IsAvailable() bool {
	return !c.closed.Load()
}

// Get retrieves a value. Expired entries are removed lazily and count as
// misses.
func (c *LocalCache) Get(ctx context.Context, key string) ([]byte, error) {
	if c.closed.Load() {
		return nil, types.ErrClosed
	}

	c.mu.Lock()
	e, ok := c.entries[key]
	if ok && time.Now().After(e.expiresAt) {
		delete(c.entries, key)
		c.expired.Add(1)
		ok = false
	}
	if !ok {
		c.mu.Unlock()
		c.misses.Add(1)
		return nil, types.ErrCacheMiss
	}
	e.hits++
	value := e.value
	c.mu.Unlock()

	c.hits.Add(1)
	return value, nil
}

// Set stores a value opportunistically: when the tier is at capacity and
// key is not already present it returns ErrLocalFull instead of evicting.
func (c *LocalCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if c.closed.Load() {
		return types.ErrClosed
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok && len(c.entries) >= c.config.MaxKeys {
		return types.ErrLocalFull
	}

	c.store(key, value, ttl)
	c.sets.Add(1)
	return nil
}

// Promote stores a value, evicting one existing entry if the tier is full.
// The victim is the entry with the fewest hits, ties broken by oldest
// insertion ("hit-count" policy), or simply the oldest insertion ("fifo").
func (c *LocalCache) Promote(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if c.closed.Load() {
		return types.ErrClosed
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok && len(c.entries) >= c.config.MaxKeys {
		if victim := c.victim(); victim != "" {
			delete(c.entries, victim)
			c.evictions.Add(1)
			c.logger.Debug("Evicted local entry for promotion", "victim", victim, "key", key)
		}
	}

	c.store(key, value, ttl)
	c.sets.Add(1)
	return nil
}

// store inserts or refreshes an entry. Must be called holding the mutex.
// A refreshed entry keeps its hit count so eviction ordering is stable
// across idempotent re-puts.
func (c *LocalCache) store(key string, value []byte, ttl time.Duration) {
	data := make([]byte, len(value))
	copy(data, value)

	if e, ok := c.entries[key]; ok {
		e.value = data
		e.expiresAt = time.Now().Add(ttl)
		return
	}

	c.seq++
	c.entries[key] = &localEntry{
		value:     data,
		expiresAt: time.Now().Add(ttl),
		seq:       c.seq,
	}
}

// victim selects the entry to evict. Must be called holding the mutex.
func (c *LocalCache) victim() string {
	var key string
	var best *localEntry

	for k, e := range c.entries {
		if best == nil {
			key, best = k, e
			continue
		}
		switch c.config.EvictionPolicy {
		case config.EvictionFIFO:
			if e.seq < best.seq {
				key, best = k, e
			}
		default: // hit-count
			if e.hits < best.hits || (e.hits == best.hits && e.seq < best.seq) {
				key, best = k, e
			}
		}
	}
	return key
}

// Delete removes a value. Deleting an absent key is a no-op.
func (c *LocalCache) Delete(ctx context.Context, key string) error {
	if c.closed.Load() {
		return types.ErrClosed
	}

	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()

	c.deletes.Add(1)
	return nil
}

// DeleteByPattern removes entries matching the given pattern and returns
// how many were removed.
func (c *LocalCache) DeleteByPattern(ctx context.Context, pattern string) (int, error) {
	if c.closed.Load() {
		return 0, types.ErrClosed
	}

	c.mu.Lock()
	var removed int
	for key := range c.entries {
		if matchPattern(key, pattern) {
			delete(c.entries, key)
			removed++
		}
	}
	c.mu.Unlock()

	if removed > 0 {
		c.deletes.Add(int64(removed))
		c.logger.Debug("Cleared local entries by pattern", "pattern", pattern, "deleted", removed)
	}
	return removed, nil
}

// Clear removes all entries.
func (c *LocalCache) Clear(ctx context.Context) error {
	if c.closed.Load() {
		return types.ErrClosed
	}

	c.mu.Lock()
	c.entries = make(map[string]*localEntry, c.config.MaxKeys)
	c.mu.Unlock()
	return nil
}

// RemoveExpired drops every expired entry and returns how many were
// removed. Driven by the periodic maintenance sweep.
func (c *LocalCache) RemoveExpired() int {
	if c.closed.Load() {
		return 0
	}

	now := time.Now()

	c.mu.Lock()
	var removed int
	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	c.mu.Unlock()

	if removed > 0 {
		c.expired.Add(int64(removed))
		c.logger.Debug("Swept expired local entries", "removed", removed)
	}
	return removed
}

// Close closes the local cache.
func (c *LocalCache) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.mu.Lock()
	c.entries = nil
	c.mu.Unlock()
	return nil
}

// EntryCount returns the number of live entries.
func (c *LocalCache) EntryCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// MaxKeys returns the configured capacity.
func (c *LocalCache) MaxKeys() int {
	return c.config.MaxKeys
}

// Stats returns local tier statistics.
func (c *LocalCache) Stats() types.LocalStats {
	return types.LocalStats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Sets:      c.sets.Load(),
		Deletes:   c.deletes.Load(),
		Evictions: c.evictions.Load(),
		Expired:   c.expired.Load(),
	}
}

// matchPattern matches a key against an exact string or a glob with a
// single '*' (prefix, suffix, or middle).
func matchPattern(key, pattern string) bool {
	if pattern == "*" {
		return true
	}

	if strings.HasSuffix(pattern, "*") && !strings.HasPrefix(pattern, "*") && strings.Count(pattern, "*") == 1 {
		return strings.HasPrefix(key, strings.TrimSuffix(pattern, "*"))
	}

	if strings.HasPrefix(pattern, "*") && strings.Count(pattern, "*") == 1 {
		return strings.HasSuffix(key, strings.TrimPrefix(pattern, "*"))
	}

	if strings.Contains(pattern, "*") {
		parts := strings.Split(pattern, "*")
		if len(parts) == 2 {
			return strings.HasPrefix(key, parts[0]) && strings.HasSuffix(key, parts[1])
		}
	}

	return key == pattern
}

var _ types.LocalTier = (*LocalCache)(nil)
