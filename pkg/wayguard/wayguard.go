package wayguard

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mgrinalds/wayguard/internal/cache"
	"github.com/mgrinalds/wayguard/internal/config"
	"github.com/mgrinalds/wayguard/internal/executor"
	"github.com/mgrinalds/wayguard/internal/monitor"
	"github.com/mgrinalds/wayguard/internal/monitor/datadog"
	"github.com/mgrinalds/wayguard/internal/types"
)

// Guard is the top-level handle: a protected-call executor, its tiered
// cache and a monitor, built from one configuration.
type Guard struct {
	config   *config.Config
	cache    *cache.Hybrid
	executor *executor.Executor
	monitor  *monitor.Monitor

	tracker    *monitor.Tracker
	background *monitor.BackgroundPublisher
	publisher  monitor.Publisher
}

// New creates a guard with default configuration.
func New(opts ...GuardOption) (*Guard, error) {
	return NewFromConfig(config.DefaultConfig(), opts...)
}

// NewFromConfig creates a guard from configuration.
func NewFromConfig(cfg *config.Config, opts ...GuardOption) (*Guard, error) {
	guardOpts := &GuardOptions{}
	for _, opt := range opts {
		opt(guardOpts)
	}
	return newGuard(cfg, guardOpts)
}

// NewFromFile creates a guard from a JSON config file with WAYGUARD_*
// environment overrides applied.
func NewFromFile(path string, opts ...GuardOption) (*Guard, error) {
	cfg, err := config.LoadWithEnv(path)
	if err != nil {
		return nil, err
	}
	return NewFromConfig(cfg, opts...)
}

// NewLocalOnly creates a guard without the shared tier or invalidation
// bus; all caching stays in-process.
func NewLocalOnly(opts ...GuardOption) (*Guard, error) {
	cfg := config.DefaultConfig()
	cfg.Shared.Enabled = false
	return NewFromConfig(cfg, opts...)
}

func newGuard(cfg *config.Config, opts *GuardOptions) (*Guard, error) {
	applyOverrides(cfg, opts)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	g := &Guard{config: cfg}

	if opts.Metrics == nil {
		g.tracker = monitor.NewTracker()
		opts.Metrics = g.tracker
	}

	hybrid, err := cache.NewHybrid(cfg, opts)
	if err != nil {
		return nil, err
	}
	g.cache = hybrid

	g.executor = executor.New(cfg, hybrid, opts)
	g.monitor = monitor.New(cfg, g.executor, hybrid, g.tracker)

	if cfg.Metrics.Enabled {
		logger := slog.Default()
		if opts.Logger != nil {
			logger = types.NewSlogLogger(opts.Logger)
		}

		publisher, err := datadog.NewPublisher(&cfg.Metrics.DataDog, logger)
		if err != nil {
			g.executor.Close()
			hybrid.Close()
			return nil, err
		}
		g.publisher = publisher

		interval := cfg.Metrics.PublishInterval
		if interval <= 0 {
			interval = time.Minute
		}
		g.background = monitor.NewBackgroundPublisher(g.monitor, publisher, interval, logger)
		g.background.Start(context.Background())
	}

	return g, nil
}

func applyOverrides(cfg *config.Config, opts *GuardOptions) {
	if opts.RedisAddress != "" {
		cfg.Shared.Address = opts.RedisAddress
	}
	if !opts.RedisPassword.IsEmpty() {
		cfg.Shared.Password = opts.RedisPassword
	}
	if opts.RedisDB != 0 {
		cfg.Shared.DB = opts.RedisDB
	}
	if opts.DisableShared {
		cfg.Shared.Enabled = false
	}
	if opts.DisableResilience {
		cfg.Breaker.Enabled = false
		cfg.Bulkhead.Enabled = false
		cfg.RateLimit.Enabled = false
	}
}

// Execute runs one protected call through the rate limiter, circuit
// breaker and cache. See the package documentation for the contract.
func (g *Guard) Execute(ctx context.Context, call Call) (Outcome, error) {
	return g.executor.Execute(ctx, call)
}

// GetOrFetch returns a fresh cached value when present, otherwise runs
// the protected call. Concurrent misses for the same key share one
// upstream invocation.
func (g *Guard) GetOrFetch(ctx context.Context, call Call) (Outcome, error) {
	return g.executor.GetOrFetch(ctx, call)
}

// Invalidate removes one key from both tiers on every instance.
func (g *Guard) Invalidate(ctx context.Context, key string) error {
	return g.executor.Invalidate(ctx, key)
}

// InvalidatePattern removes all keys matching an exact key or glob
// pattern ("place:*") from both tiers on every instance.
func (g *Guard) InvalidatePattern(ctx context.Context, pattern string) error {
	return g.executor.InvalidatePattern(ctx, pattern)
}

// Health reports cache tier availability.
func (g *Guard) Health() CacheHealth {
	return g.cache.Health()
}

// Snapshot aggregates health, utilization and cost across every
// component without mutating any of them.
func (g *Guard) Snapshot() Snapshot {
	return g.monitor.Snapshot()
}

// Stats returns combined cache statistics.
func (g *Guard) Stats() CacheStats {
	return g.cache.Stats()
}

// Close shuts down the guard: the metrics loop first, then the executor
// (waiting for in-flight protected calls), then the cache tiers.
func (g *Guard) Close() error {
	var errs []error

	if g.background != nil {
		g.background.Stop()
	}
	if g.publisher != nil {
		if err := g.publisher.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if err := g.executor.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := g.cache.Close(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Config returns a default configuration that can be modified before
// creating a guard.
func Config() *config.Config {
	return config.DefaultConfig()
}

// TestConfig returns a configuration suitable for unit tests.
func TestConfig() *config.Config {
	return config.ForTesting()
}
