package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mgrinalds/wayguard/internal/config"
	"github.com/mgrinalds/wayguard/internal/types"
)

// DefaultShutdownTimeout is the default timeout for shutting down the hybrid cache.
const DefaultShutdownTimeout = 30 * time.Second

// DefaultBackgroundOpTimeout is the default timeout for background operations.
const DefaultBackgroundOpTimeout = 5 * time.Second

// sharedHitIdleLimit is how long a shared-hit counter survives without a
// new hit before the maintenance sweep drops it.
const sharedHitIdleLimit = 10 * time.Minute

// Hybrid coordinates the local and shared tiers. Reads check local
// first, then shared; shared entries that keep getting hit are promoted
// into the local tier with their remaining TTL. Invalidations are applied
// to both tiers and broadcast to other instances.
type Hybrid struct {
	local  types.LocalTier
	shared types.SharedTier
	bus    types.InvalidationBus

	config     *config.Config
	instanceID string
	logger     *slog.Logger
	metrics    types.MetricsRecorder

	hitMu      sync.Mutex
	sharedHits map[string]*sharedHit

	promotions atomic.Int64

	shutdownCtx    context.Context
	shutdownCancel context.CancelFunc
	bgWg           sync.WaitGroup
	bgMu           sync.Mutex
	closed         atomic.Bool
}

type sharedHit struct {
	count   int
	lastHit time.Time
}

// NewHybrid builds the tiered cache from configuration. A Redis
// connection failure is not fatal: the shared tier starts unavailable
// and the cache serves local-only until Redis recovers.
func NewHybrid(cfg *config.Config, opts *types.GuardOptions) (*Hybrid, error) {
	logger := slog.Default()
	if opts != nil && opts.Logger != nil {
		logger = types.NewSlogLogger(opts.Logger)
	}
	logger = logger.With("component", "hybrid-cache")

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())

	h := &Hybrid{
		config:         cfg,
		logger:         logger,
		sharedHits:     make(map[string]*sharedHit),
		shutdownCtx:    shutdownCtx,
		shutdownCancel: shutdownCancel,
	}

	if opts != nil {
		h.metrics = opts.Metrics
		h.instanceID = opts.InstanceID
	}
	if h.instanceID == "" {
		h.instanceID = uuid.NewString()
	}

	if cfg.Local.Enabled {
		h.local = NewLocalCache(cfg.Local, logger)
	} else {
		h.local = NewDisabledLocal()
	}

	if cfg.Shared.Enabled {
		shared, err := NewSharedCache(cfg.Shared, logger)
		if err != nil {
			logger.Warn("Failed to create shared tier, using local-only mode", "error", err)
			h.shared = NewDisabledShared()
			h.bus = NewLoopbackBus()
		} else {
			h.shared = shared
			h.bus = NewRedisBus(shared.Client(), cfg.Invalidation.Channel, logger)
		}
	} else {
		h.shared = NewDisabledShared()
		h.bus = NewLoopbackBus()
	}

	h.bus.Subscribe(h.handleInvalidation)

	return h, nil
}

// InstanceID returns the identifier stamped on invalidation messages
// published by this instance.
func (h *Hybrid) InstanceID() string {
	return h.instanceID
}

// Get reads through the tiers: local first, then shared. Shared-tier
// errors and timeouts degrade to a miss. A shared hit that crosses the
// promotion threshold is copied into the local tier with the remaining
// TTL of the shared entry.
func (h *Hybrid) Get(ctx context.Context, key string) ([]byte, types.Source, error) {
	if h.closed.Load() {
		return nil, "", types.ErrClosed
	}

	start := time.Now()

	data, err := h.local.Get(ctx, key)
	if err == nil {
		h.recordHit("local", time.Since(start))
		return data, types.SourceLocal, nil
	}
	if !types.IsCacheMiss(err) && !errors.Is(err, types.ErrClosed) {
		h.logger.Debug("Local tier error", "key", key, "error", err)
	}

	sharedCtx := ctx
	if h.config.Executor.SharedReadTimeout > 0 {
		var cancel context.CancelFunc
		sharedCtx, cancel = context.WithTimeout(ctx, h.config.Executor.SharedReadTimeout)
		defer cancel()
	}

	data, remaining, err := h.shared.GetWithTTL(sharedCtx, key)
	if err != nil {
		if !types.IsCacheMiss(err) && !types.IsSharedUnavailable(err) {
			h.logger.Debug("Shared tier error, treating as miss", "key", key, "error", err)
		}
		h.recordMiss("shared", time.Since(start))
		return nil, "", types.ErrCacheMiss
	}

	h.recordHit("shared", time.Since(start))

	if h.shouldPromote(key) {
		h.promote(key, data, remaining)
		return data, types.SourceSharedPromoted, nil
	}

	return data, types.SourceShared, nil
}

// shouldPromote bumps the shared-hit counter for key and reports whether
// it crossed the promotion threshold. The counter resets on promotion.
func (h *Hybrid) shouldPromote(key string) bool {
	threshold := h.config.Local.PromoteThreshold
	if threshold <= 0 || !h.local.IsAvailable() {
		return false
	}

	h.hitMu.Lock()
	defer h.hitMu.Unlock()

	hit, ok := h.sharedHits[key]
	if !ok {
		hit = &sharedHit{}
		h.sharedHits[key] = hit
	}
	hit.count++
	hit.lastHit = time.Now()

	if hit.count >= threshold {
		delete(h.sharedHits, key)
		return true
	}
	return false
}

// promote copies a shared entry into the local tier with its remaining
// TTL so the local copy never outlives the shared original.
func (h *Hybrid) promote(key string, data []byte, remaining time.Duration) {
	if remaining <= 0 {
		return
	}

	h.runBackground(func(ctx context.Context) {
		if err := h.local.Promote(ctx, key, data, remaining); err != nil {
			h.logger.Debug("Promotion failed", "key", key, "error", err)
			return
		}
		h.promotions.Add(1)
	})
}

// Put writes a fresh value into both tiers. The shared write is queued
// fire-and-forget; the local write is opportunistic and a full tier is
// not an error.
func (h *Hybrid) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if h.closed.Load() {
		return types.ErrClosed
	}

	if err := h.shared.SetAsync(key, value, ttl); err != nil {
		if !errors.Is(err, types.ErrWriteQueueFull) {
			h.logger.Debug("Shared tier write failed", "key", key, "error", err)
		}
	}

	if err := h.local.Set(ctx, key, value, ttl); err != nil {
		if !errors.Is(err, types.ErrLocalFull) && !errors.Is(err, types.ErrClosed) {
			return err
		}
	}

	return nil
}

// Invalidate removes a single key from both tiers and broadcasts the
// invalidation to other instances.
func (h *Hybrid) Invalidate(ctx context.Context, key string) error {
	return h.InvalidatePattern(ctx, key)
}

// InvalidatePattern removes all keys matching an exact key or glob
// pattern from both tiers, then publishes the pattern on the bus.
// The publish happens after the local purge, so this instance tolerates
// (and ignores) its own message coming back.
func (h *Hybrid) InvalidatePattern(ctx context.Context, pattern string) error {
	if h.closed.Load() {
		return types.ErrClosed
	}

	if _, err := h.local.DeleteByPattern(ctx, pattern); err != nil && !errors.Is(err, types.ErrClosed) {
		h.logger.Warn("Local invalidation failed", "pattern", pattern, "error", err)
	}

	var sharedErr error
	if _, err := h.shared.DeleteByPattern(ctx, pattern); err != nil && !types.IsSharedUnavailable(err) {
		sharedErr = err
		h.logger.Warn("Shared invalidation failed", "pattern", pattern, "error", err)
	}

	msg := types.InvalidationMessage{
		Pattern:  pattern,
		Origin:   h.instanceID,
		IssuedAt: time.Now().UTC(),
	}
	if err := h.bus.Publish(ctx, msg); err != nil && !errors.Is(err, types.ErrClosed) {
		h.logger.Warn("Invalidation broadcast failed", "pattern", pattern, "error", err)
		if sharedErr == nil {
			sharedErr = fmt.Errorf("broadcast invalidation: %w", err)
		}
	}

	return sharedErr
}

// handleInvalidation applies a bus message to the local tier. Messages
// originating from this instance are skipped: the publisher already
// purged its own tiers before broadcasting. Pattern deletion is
// idempotent, so redelivered messages are harmless.
func (h *Hybrid) handleInvalidation(msg types.InvalidationMessage) {
	if msg.Origin == h.instanceID {
		return
	}

	h.runBackground(func(ctx context.Context) {
		removed, err := h.local.DeleteByPattern(ctx, msg.Pattern)
		if err != nil && !errors.Is(err, types.ErrClosed) {
			h.logger.Warn("Applying remote invalidation failed", "pattern", msg.Pattern, "error", err)
			return
		}
		h.logger.Debug("Applied remote invalidation",
			"pattern", msg.Pattern,
			"origin", msg.Origin,
			"removed", removed,
		)
	})
}

// Health reports per-tier and overall cache health. A reachable local
// tier with an unreachable shared tier rolls up as degraded.
func (h *Hybrid) Health() types.CacheHealth {
	localStats := h.local.Stats()
	sharedStats := h.shared.Stats()

	health := types.CacheHealth{
		Timestamp: time.Now(),
		Local: types.TierHealth{
			Status:    types.HealthStatusHealthy,
			Available: h.local.IsAvailable(),
			Keys:      h.local.EntryCount(),
			HitRatio:  tierRatio(localStats.Hits, localStats.Misses),
		},
		Shared: types.TierHealth{
			Status:        types.HealthStatusHealthy,
			Available:     h.shared.IsAvailable(),
			HitRatio:      tierRatio(sharedStats.Hits, sharedStats.Misses),
			PendingWrites: h.shared.PendingWrites(),
			DroppedWrites: h.shared.DroppedWrites(),
		},
	}

	if !health.Local.Available {
		health.Local.Status = types.HealthStatusUnhealthy
	}
	if !health.Shared.Available {
		health.Shared.Status = types.HealthStatusUnhealthy
	}

	switch {
	case health.Local.Available && health.Shared.Available:
		health.Status = types.HealthStatusHealthy
	case health.Local.Available:
		health.Status = types.HealthStatusDegraded
	default:
		health.Status = types.HealthStatusUnhealthy
	}

	return health
}

func tierRatio(hits, misses int64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// Stats returns combined statistics across both tiers.
func (h *Hybrid) Stats() types.CacheStats {
	return types.CacheStats{
		Local:      h.local.Stats(),
		Shared:     h.shared.Stats(),
		LocalKeys:  h.local.EntryCount(),
		MaxKeys:    h.local.MaxKeys(),
		Promotions: h.promotions.Load(),
	}
}

// Sweep removes expired local entries and prunes idle shared-hit
// counters. Driven by the executor's maintenance loop.
func (h *Hybrid) Sweep() int {
	removed := h.local.RemoveExpired()

	cutoff := time.Now().Add(-sharedHitIdleLimit)
	h.hitMu.Lock()
	for key, hit := range h.sharedHits {
		if hit.lastHit.Before(cutoff) {
			delete(h.sharedHits, key)
		}
	}
	h.hitMu.Unlock()

	return removed
}

// Close releases all resources using the default shutdown timeout.
func (h *Hybrid) Close() error {
	return h.CloseWithTimeout(DefaultShutdownTimeout)
}

// CloseWithTimeout waits for in-flight background operations to finish,
// then closes the bus and both tiers. If background work does not
// complete within the timeout, ErrShutdownTimeout is joined into the
// result but the tiers are still closed.
func (h *Hybrid) CloseWithTimeout(timeout time.Duration) error {
	h.bgMu.Lock()
	if h.closed.Swap(true) {
		h.bgMu.Unlock()
		return nil
	}
	h.shutdownCancel()
	h.bgMu.Unlock()

	h.logger.Info("Closing hybrid cache, waiting for background operations", "timeout", timeout)

	done := make(chan struct{})
	go func() {
		h.bgWg.Wait()
		close(done)
	}()

	var timedOut bool
	select {
	case <-done:
	case <-time.After(timeout):
		h.logger.Warn("Shutdown timeout exceeded, proceeding with close", "timeout", timeout)
		timedOut = true
	}

	var errs []error

	if timedOut {
		errs = append(errs, types.ErrShutdownTimeout)
	}

	if err := h.bus.Close(); err != nil {
		errs = append(errs, err)
	}

	if err := h.local.Close(); err != nil {
		errs = append(errs, err)
	}

	if err := h.shared.Close(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// runBackground executes fn in a goroutine tracked for graceful shutdown.
func (h *Hybrid) runBackground(fn func(ctx context.Context)) {
	h.bgMu.Lock()
	if h.closed.Load() {
		h.bgMu.Unlock()
		return
	}
	h.bgWg.Add(1)
	h.bgMu.Unlock()

	go func() {
		defer h.bgWg.Done()
		ctx, cancel := context.WithTimeout(h.shutdownCtx, DefaultBackgroundOpTimeout)
		defer cancel()
		fn(ctx)
	}()
}

func (h *Hybrid) recordHit(tier string, latency time.Duration) {
	if h.metrics != nil {
		h.metrics.RecordHit(tier, latency)
	}
}

func (h *Hybrid) recordMiss(tier string, latency time.Duration) {
	if h.metrics != nil {
		h.metrics.RecordMiss(tier, latency)
	}
}
