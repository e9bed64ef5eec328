// Package executor composes the rate limiter, circuit breaker, bulkhead
// and tiered cache into the single protected-call contract callers use.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mgrinalds/wayguard/internal/cache"
	"github.com/mgrinalds/wayguard/internal/config"
	"github.com/mgrinalds/wayguard/internal/ratelimit"
	"github.com/mgrinalds/wayguard/internal/resilience"
	"github.com/mgrinalds/wayguard/internal/types"
)

// DefaultShutdownTimeout is the default timeout for shutting down the executor.
const DefaultShutdownTimeout = 30 * time.Second

// Call describes one protected upstream call.
type Call struct {
	// Service names the upstream provider, e.g. "geocoding". Rate
	// limiting, circuit state and cost accounting are all keyed by it.
	Service string

	// Identifier scopes rate limiting within a service, typically a
	// caller or API-key identity. Empty means service-wide.
	Identifier string

	// Key is the cache key for the call's result.
	Key string

	// Namespace selects the TTL tier ("place", "geocode", ...). Empty
	// uses the default tier. Ignored when TTL is set explicitly.
	Namespace string

	// TTL overrides the namespace-derived TTL when positive.
	TTL time.Duration

	// Invoke performs the upstream call. It receives a context bounded
	// by the configured call timeout and must honor it.
	Invoke func(ctx context.Context) (any, error)
}

type callResult struct {
	data []byte
	err  error
}

// Executor runs protected calls through the admission pipeline:
// rate limiter, then circuit breaker and bulkhead, with the tiered cache
// as the stale fallback when the upstream path is unavailable.
type Executor struct {
	config     *config.Config
	logger     *slog.Logger
	metrics    types.MetricsRecorder
	serializer types.Serializer

	cache    *cache.Hybrid
	limiter  *ratelimit.Limiter
	breakers *resilience.Registry

	bhMu      sync.Mutex
	bulkheads map[string]*resilience.Bulkhead

	countMu   sync.Mutex
	callCount map[string]*atomic.Int64

	sfGroup singleflight.Group

	stopCh   chan struct{}
	wg       sync.WaitGroup
	callWg   sync.WaitGroup
	callMu   sync.Mutex
	closed   atomic.Bool
}

// New wires an executor over an existing cache. The maintenance loop
// starts immediately when an interval is configured.
func New(cfg *config.Config, hybrid *cache.Hybrid, opts *types.GuardOptions) *Executor {
	logger := slog.Default()
	if opts != nil && opts.Logger != nil {
		logger = types.NewSlogLogger(opts.Logger)
	}
	logger = logger.With("component", "executor")

	e := &Executor{
		config:     cfg,
		logger:     logger,
		serializer: cache.NewJSONSerializer(),
		cache:      hybrid,
		limiter:    ratelimit.New(cfg, logger),
		bulkheads:  make(map[string]*resilience.Bulkhead),
		callCount:  make(map[string]*atomic.Int64),
		stopCh:     make(chan struct{}),
	}

	if opts != nil {
		if opts.Serializer != nil {
			e.serializer = opts.Serializer
		}
		e.metrics = opts.Metrics
	}

	e.breakers = resilience.NewRegistry(cfg, func(service string, from, to resilience.State) {
		e.logger.Info("Circuit breaker state changed",
			"service", service,
			"from", from.String(),
			"to", to.String(),
		)
		if e.metrics != nil {
			e.metrics.RecordCircuitStateChange(service, from.String(), to.String())
		}
	})

	if cfg.Executor.MaintenanceInterval > 0 {
		e.wg.Add(1)
		go e.maintenanceLoop()
	}

	return e
}

// Execute runs one protected call.
//
// A rate-limit denial returns immediately without touching the circuit
// or the cache. When the circuit rejects the call, or the upstream call
// fails with an infrastructure-class error, the cache is consulted and a
// hit is returned with Stale set. An upstream call that the caller
// abandons keeps running to its timeout; its result still updates the
// circuit and the cache for future callers.
func (e *Executor) Execute(ctx context.Context, call Call) (types.Outcome, error) {
	if e.closed.Load() {
		return types.Outcome{}, types.ErrClosed
	}

	if call.Invoke == nil {
		return types.Outcome{}, fmt.Errorf("%w: nil Invoke", types.ErrInvalidKey)
	}
	if err := types.ValidateKey(call.Key); err != nil {
		return types.Outcome{}, err
	}

	start := time.Now()

	decision := e.limiter.CheckAndConsume(call.Service, call.Identifier)
	if !decision.Allowed {
		if e.metrics != nil {
			e.metrics.RecordRateLimited(call.Service)
		}
		return types.Outcome{}, &types.RateLimitError{
			Service:    call.Service,
			Identifier: call.Identifier,
			RetryAfter: decision.RetryAfter,
		}
	}

	breaker := e.breakers.For(call.Service)
	if !breaker.Allow() {
		return e.fallback(ctx, call, start, types.ErrCircuitOpen)
	}

	bulkhead := e.bulkheadFor(call.Service)
	if bulkhead != nil {
		if err := bulkhead.Acquire(ctx); err != nil {
			// The upstream was never contacted, so no outcome is
			// recorded; just return the trial slot if we were holding it.
			breaker.CancelTrial()
			return e.fallback(ctx, call, start, err)
		}
	}

	e.countCall(call.Service)

	resCh := make(chan callResult, 1)
	started := e.runCall(func() {
		if bulkhead != nil {
			defer bulkhead.Release()
		}
		resCh <- e.invoke(ctx, call, breaker)
	})
	if !started {
		if bulkhead != nil {
			bulkhead.Release()
		}
		breaker.CancelTrial()
		return types.Outcome{}, types.ErrClosed
	}

	select {
	case res := <-resCh:
		if res.err != nil {
			if types.IsClientInput(res.err) {
				return types.Outcome{}, res.err
			}
			return e.fallback(ctx, call, start, res.err)
		}
		if e.metrics != nil {
			e.metrics.RecordCall(call.Service, types.SourceUpstream, time.Since(start))
		}
		return types.Outcome{Value: res.data, Source: types.SourceUpstream}, nil

	case <-ctx.Done():
		// Abandoned. The call goroutine still records the outcome and
		// writes the cache when the result eventually arrives.
		return types.Outcome{}, ctx.Err()
	}
}

// invoke performs the upstream call under its own timeout, detached from
// the caller's cancellation, and records the outcome on the breaker.
func (e *Executor) invoke(ctx context.Context, call Call, breaker resilience.Breaker) callResult {
	callCtx := context.WithoutCancel(ctx)
	if e.config.Executor.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(callCtx, e.config.Executor.CallTimeout)
		defer cancel()
	}

	value, err := call.Invoke(callCtx)
	if err != nil {
		classified := resilience.Classify(call.Service, err)
		if resilience.IsCounted(classified) {
			breaker.RecordFailure()
		} else {
			breaker.RecordClientError()
		}
		if e.metrics != nil {
			e.metrics.RecordError(call.Service, classified)
		}
		return callResult{err: classified}
	}

	breaker.RecordSuccess()

	data, err := e.serializer.Marshal(value)
	if err != nil {
		e.logger.Warn("Upstream result not serializable, skipping cache write",
			"service", call.Service,
			"key", call.Key,
			"error", err,
		)
		return callResult{err: err}
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.config.Executor.CallTimeout)
	defer cancel()
	if putErr := e.cache.Put(writeCtx, call.Key, data, e.ttlFor(call)); putErr != nil {
		e.logger.Debug("Cache write after upstream success failed",
			"key", call.Key,
			"error", putErr,
		)
	}

	return callResult{data: data}
}

// fallback serves a cached value when the upstream path is unavailable.
// A hit is returned with Stale set; a miss surfaces the original cause
// wrapped in ErrUnavailable.
func (e *Executor) fallback(ctx context.Context, call Call, start time.Time, cause error) (types.Outcome, error) {
	data, source, err := e.cache.Get(ctx, call.Key)
	if err == nil {
		if e.metrics != nil {
			e.metrics.RecordCall(call.Service, source, time.Since(start))
		}
		return types.Outcome{Value: data, Source: source, Stale: true}, nil
	}

	return types.Outcome{}, fmt.Errorf("%w: %w", types.ErrUnavailable, cause)
}

// GetOrFetch serves a fresh cached value when one exists, and otherwise
// runs the protected call. Concurrent misses for the same key share a
// single upstream invocation.
func (e *Executor) GetOrFetch(ctx context.Context, call Call) (types.Outcome, error) {
	if e.closed.Load() {
		return types.Outcome{}, types.ErrClosed
	}
	if err := types.ValidateKey(call.Key); err != nil {
		return types.Outcome{}, err
	}

	data, source, err := e.cache.Get(ctx, call.Key)
	if err == nil {
		if e.metrics != nil {
			e.metrics.RecordCall(call.Service, source, 0)
		}
		return types.Outcome{Value: data, Source: source}, nil
	}

	result, err, _ := e.sfGroup.Do(call.Key, func() (any, error) {
		if data, source, getErr := e.cache.Get(ctx, call.Key); getErr == nil {
			return types.Outcome{Value: data, Source: source}, nil
		}
		return e.Execute(ctx, call)
	})
	if err != nil {
		return types.Outcome{}, err
	}

	outcome, ok := result.(types.Outcome)
	if !ok {
		return types.Outcome{}, fmt.Errorf("unexpected result type: %T", result)
	}
	return outcome, nil
}

// Invalidate removes a key from both cache tiers everywhere.
func (e *Executor) Invalidate(ctx context.Context, key string) error {
	return e.cache.Invalidate(ctx, key)
}

// InvalidatePattern removes all keys matching the pattern from both
// tiers on every instance.
func (e *Executor) InvalidatePattern(ctx context.Context, pattern string) error {
	return e.cache.InvalidatePattern(ctx, pattern)
}

func (e *Executor) ttlFor(call Call) time.Duration {
	if call.TTL > 0 {
		return call.TTL
	}
	return e.config.TTLFor(call.Namespace)
}

func (e *Executor) bulkheadFor(service string) *resilience.Bulkhead {
	if !e.config.Bulkhead.Enabled {
		return nil
	}

	e.bhMu.Lock()
	defer e.bhMu.Unlock()

	bh, ok := e.bulkheads[service]
	if !ok {
		bh = resilience.NewBulkhead(e.config.Bulkhead)
		e.bulkheads[service] = bh
	}
	return bh
}

func (e *Executor) countCall(service string) {
	e.countMu.Lock()
	counter, ok := e.callCount[service]
	if !ok {
		counter = &atomic.Int64{}
		e.callCount[service] = counter
	}
	e.countMu.Unlock()

	counter.Add(1)
}

// CallCounts returns how many upstream invocations were attempted per
// service since startup. Monitoring multiplies these by per-call cost.
func (e *Executor) CallCounts() map[string]int64 {
	e.countMu.Lock()
	defer e.countMu.Unlock()

	counts := make(map[string]int64, len(e.callCount))
	for service, counter := range e.callCount {
		counts[service] = counter.Load()
	}
	return counts
}

// Limiter exposes the rate limiter for monitoring.
func (e *Executor) Limiter() *ratelimit.Limiter {
	return e.limiter
}

// Breakers exposes the circuit registry for monitoring.
func (e *Executor) Breakers() *resilience.Registry {
	return e.breakers
}

// BulkheadStats returns per-service bulkhead statistics.
func (e *Executor) BulkheadStats() map[string]resilience.BulkheadStats {
	e.bhMu.Lock()
	defer e.bhMu.Unlock()

	stats := make(map[string]resilience.BulkheadStats, len(e.bulkheads))
	for service, bh := range e.bulkheads {
		stats[service] = bh.Stats()
	}
	return stats
}

func (e *Executor) maintenanceLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.config.Executor.MaintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			removed := e.cache.Sweep()
			pruned := e.limiter.Prune(e.config.LargestWindow())
			if removed > 0 || pruned > 0 {
				e.logger.Debug("Maintenance sweep complete",
					"expired_entries", removed,
					"pruned_buckets", pruned,
				)
			}
		}
	}
}

// runCall starts fn in a goroutine tracked for shutdown. Returns false
// when the executor is already closed.
func (e *Executor) runCall(fn func()) bool {
	e.callMu.Lock()
	if e.closed.Load() {
		e.callMu.Unlock()
		return false
	}
	e.callWg.Add(1)
	e.callMu.Unlock()

	go func() {
		defer e.callWg.Done()
		fn()
	}()
	return true
}

// Close shuts down with the default timeout.
func (e *Executor) Close() error {
	return e.CloseWithTimeout(DefaultShutdownTimeout)
}

// CloseWithTimeout stops the maintenance loop and waits for in-flight
// protected calls to finish. Calls that outlast the timeout are left to
// complete on their own; ErrShutdownTimeout is returned to note it.
func (e *Executor) CloseWithTimeout(timeout time.Duration) error {
	e.callMu.Lock()
	if e.closed.Swap(true) {
		e.callMu.Unlock()
		return nil
	}
	e.callMu.Unlock()

	close(e.stopCh)
	e.wg.Wait()

	done := make(chan struct{})
	go func() {
		e.callWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		e.logger.Warn("In-flight protected calls outlasted shutdown timeout", "timeout", timeout)
		return types.ErrShutdownTimeout
	}
}
