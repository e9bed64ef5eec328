package cache

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mgrinalds/wayguard/internal/config"
	"github.com/mgrinalds/wayguard/internal/types"
)

const (
	disconnectErrorThreshold = 5
	asyncWriteTimeout        = 2 * time.Second
)

// SharedCache is the Redis-backed tier shared by every application
// instance. Availability is tracked so the hybrid layer can degrade to
// local-only serving while Redis is unreachable.
type SharedCache struct {
	client *redis.Client
	config config.SharedConfig
	logger *slog.Logger

	mu            sync.RWMutex
	connected     atomic.Bool
	lastError     error
	lastErrorTime time.Time
	errorCount    atomic.Int64

	writeQueue    chan writeOp
	pendingWrites atomic.Int32
	droppedWrites atomic.Int64
	stopCh        chan struct{}
	wg            sync.WaitGroup

	healthCheckStopCh chan struct{}
	healthCheckWg     sync.WaitGroup

	hits    atomic.Int64
	misses  atomic.Int64
	sets    atomic.Int64
	deletes atomic.Int64
}

type writeOp struct {
	key   string
	value []byte
	ttl   time.Duration
}

// NewSharedCache connects to Redis. A failed initial connection is not
// fatal; the tier starts unavailable and the health check worker keeps
// probing for recovery.
func NewSharedCache(cfg config.SharedConfig, logger *slog.Logger) (*SharedCache, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := &redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password.Value(),
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolTimeout:  cfg.PoolTimeout,
	}

	if cfg.EnableTLS {
		opts.TLSConfig = &tls.Config{
			InsecureSkipVerify: cfg.TLSSkipVerify,
		}
		if cfg.TLSSkipVerify {
			logger.Warn("TLS certificate verification is disabled - this is insecure for production use")
		}
	}

	client := redis.NewClient(opts)

	sc := &SharedCache{
		client:            client,
		config:            cfg,
		logger:            logger.With("component", "shared-cache"),
		writeQueue:        make(chan writeOp, cfg.MaxPendingWrites),
		stopCh:            make(chan struct{}),
		healthCheckStopCh: make(chan struct{}),
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		sc.logger.Warn("Shared tier initial connection failed", "error", err)
		sc.setError(err)
		// Don't return error - allow graceful degradation
	} else {
		sc.connected.Store(true)
		sc.logger.Info("Shared tier connected", "address", cfg.Address)
	}

	sc.wg.Add(1)
	go sc.asyncWriteWorker()

	if cfg.HealthCheckInterval > 0 {
		sc.healthCheckWg.Add(1)
		go sc.healthCheckWorker()
	}

	return sc, nil
}

// Name returns the tier name.
func (c *SharedCache) Name() string {
	return "shared"
}

// IsAvailable reports whether Redis is currently reachable.
func (c *SharedCache) IsAvailable() bool {
	return c.connected.Load()
}

// Client exposes the underlying connection for the invalidation bus,
// which shares it for pub/sub.
func (c *SharedCache) Client() *redis.Client {
	return c.client
}

func (c *SharedCache) prefixKey(key string) string {
	return c.config.KeyPrefix + key
}

// Get retrieves a value from the shared tier.
func (c *SharedCache) Get(ctx context.Context, key string) ([]byte, error) {
	if !c.connected.Load() {
		return nil, types.ErrSharedUnavailable
	}

	data, err := c.client.Get(ctx, c.prefixKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			c.misses.Add(1)
			return nil, types.ErrCacheMiss
		}
		c.handleError(err)
		return nil, types.NewCacheError("Get", key, "shared", err)
	}

	c.hits.Add(1)
	c.clearError()

	return data, nil
}

// GetWithTTL retrieves a value along with its remaining TTL in one round
// trip. Promotion into the local tier uses the remaining TTL so a copy
// never outlives the shared original.
func (c *SharedCache) GetWithTTL(ctx context.Context, key string) ([]byte, time.Duration, error) {
	if !c.connected.Load() {
		return nil, 0, types.ErrSharedUnavailable
	}

	prefixedKey := c.prefixKey(key)

	pipe := c.client.Pipeline()
	getCmd := pipe.Get(ctx, prefixedKey)
	ttlCmd := pipe.PTTL(ctx, prefixedKey)

	if _, err := pipe.Exec(ctx); err != nil {
		if errors.Is(err, redis.Nil) {
			c.misses.Add(1)
			return nil, 0, types.ErrCacheMiss
		}
		c.handleError(err)
		return nil, 0, types.NewCacheError("GetWithTTL", key, "shared", err)
	}

	data, err := getCmd.Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			c.misses.Add(1)
			return nil, 0, types.ErrCacheMiss
		}
		c.handleError(err)
		return nil, 0, types.NewCacheError("GetWithTTL", key, "shared", err)
	}

	ttl, err := ttlCmd.Result()
	if err != nil || ttl < 0 {
		// Key exists but carries no expiry; treat as minimally fresh.
		ttl = 0
	}

	c.hits.Add(1)
	c.clearError()

	return data, ttl, nil
}

// Set stores a value synchronously.
func (c *SharedCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if !c.connected.Load() {
		return types.ErrSharedUnavailable
	}

	if err := c.client.Set(ctx, c.prefixKey(key), value, ttl).Err(); err != nil {
		c.handleError(err)
		return types.NewCacheError("Set", key, "shared", err)
	}

	c.sets.Add(1)
	c.clearError()

	return nil
}

// SetAsync queues a fire-and-forget write. When the queue is full the
// write is dropped and counted rather than blocking the caller.
func (c *SharedCache) SetAsync(key string, value []byte, ttl time.Duration) error {
	select {
	case c.writeQueue <- writeOp{key: c.prefixKey(key), value: value, ttl: ttl}:
		c.pendingWrites.Add(1)
		return nil
	default:
		c.droppedWrites.Add(1)
		c.logger.Warn("Write queue full, dropping SET",
			"key", key,
			"dropped_total", c.droppedWrites.Load(),
		)
		return types.ErrWriteQueueFull
	}
}

func (c *SharedCache) asyncWriteWorker() {
	defer c.wg.Done()

	for {
		select {
		case <-c.stopCh:
			for {
				select {
				case op := <-c.writeQueue:
					c.executeWrite(op)
				default:
					return
				}
			}
		case op := <-c.writeQueue:
			c.executeWrite(op)
		}
	}
}

func (c *SharedCache) executeWrite(op writeOp) {
	defer c.pendingWrites.Add(-1)

	ctx, cancel := context.WithTimeout(context.Background(), asyncWriteTimeout)
	defer cancel()

	if err := c.client.Set(ctx, op.key, op.value, op.ttl).Err(); err != nil {
		c.handleError(err)
		c.logger.Debug("Async SET failed", "key", op.key, "error", err)
	} else {
		c.sets.Add(1)
		c.clearError()
	}
}

func (c *SharedCache) healthCheckWorker() {
	defer c.healthCheckWg.Done()

	ticker := time.NewTicker(c.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.healthCheckStopCh:
			return
		case <-ticker.C:
			c.performHealthCheck()
		}
	}
}

func (c *SharedCache) performHealthCheck() {
	wasConnected := c.connected.Load()

	ctx, cancel := context.WithTimeout(context.Background(), c.config.DialTimeout)
	defer cancel()

	err := c.client.Ping(ctx).Err()
	if err != nil {
		if wasConnected {
			c.logger.Warn("Shared tier health check failed", "error", err)
			c.setError(err)
		}
		return
	}

	if !wasConnected {
		c.connected.Store(true)
		c.errorCount.Store(0)
		c.logger.Info("Shared tier connection restored via health check")
	}
}

// Delete removes a value. Deleting an absent key is a no-op.
func (c *SharedCache) Delete(ctx context.Context, key string) error {
	if !c.connected.Load() {
		return types.ErrSharedUnavailable
	}

	if err := c.client.Del(ctx, c.prefixKey(key)).Err(); err != nil {
		c.handleError(err)
		return types.NewCacheError("Delete", key, "shared", err)
	}

	c.deletes.Add(1)
	c.clearError()

	return nil
}

// DeleteByPattern removes all keys matching the pattern via incremental
// SCAN, never KEYS, and returns how many were removed.
func (c *SharedCache) DeleteByPattern(ctx context.Context, pattern string) (int, error) {
	if !c.connected.Load() {
		return 0, types.ErrSharedUnavailable
	}

	return c.deleteByPatternInternal(ctx, c.prefixKey(pattern))
}

// Clear removes every key under the configured prefix.
func (c *SharedCache) Clear(ctx context.Context) error {
	if !c.connected.Load() {
		return types.ErrSharedUnavailable
	}

	_, err := c.deleteByPatternInternal(ctx, c.prefixKey("*"))
	return err
}

func (c *SharedCache) deleteByPatternInternal(ctx context.Context, pattern string) (int, error) {
	var cursor uint64
	var deleted int

	for {
		keys, nextCursor, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			c.handleError(err)
			return deleted, types.NewCacheError("DeleteByPattern", pattern, "shared", err)
		}

		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				c.handleError(err)
				return deleted, types.NewCacheError("DeleteByPattern", pattern, "shared", err)
			}
			deleted += len(keys)
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	if deleted > 0 {
		c.deletes.Add(int64(deleted))
	}
	c.logger.Debug("Cleared shared keys by pattern", "pattern", pattern, "deleted", deleted)
	c.clearError()
	return deleted, nil
}

// Close drains the write queue and closes the connection.
func (c *SharedCache) Close() error {
	c.connected.Store(false)

	close(c.healthCheckStopCh)
	c.healthCheckWg.Wait()

	close(c.stopCh)
	c.wg.Wait()

	return c.client.Close()
}

// PendingWrites returns the number of queued async writes.
func (c *SharedCache) PendingWrites() int {
	return int(c.pendingWrites.Load())
}

// DroppedWrites returns how many async writes were dropped because the
// queue was full.
func (c *SharedCache) DroppedWrites() int64 {
	return c.droppedWrites.Load()
}

// Stats returns shared tier statistics.
func (c *SharedCache) Stats() types.SharedStats {
	return types.SharedStats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Sets:    c.sets.Load(),
		Deletes: c.deletes.Load(),
	}
}

func (c *SharedCache) handleError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastError = err
	c.lastErrorTime = time.Now()
	count := c.errorCount.Add(1)

	if count >= disconnectErrorThreshold {
		if c.connected.CompareAndSwap(true, false) {
			c.logger.Warn("Shared tier marked as disconnected after errors",
				"error_count", count,
				"last_error", err,
			)
		}
	}
}

func (c *SharedCache) clearError() {
	if c.errorCount.Swap(0) > 0 {
		if c.connected.CompareAndSwap(false, true) {
			c.logger.Info("Shared tier connection restored")
		}
	}
}

func (c *SharedCache) setError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastError = err
	c.lastErrorTime = time.Now()
	c.connected.Store(false)
}

// LastError returns the most recent connection error and when it happened.
func (c *SharedCache) LastError() (error, time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastError, c.lastErrorTime
}

// Ping checks connectivity directly.
func (c *SharedCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

var _ types.SharedTier = (*SharedCache)(nil)
