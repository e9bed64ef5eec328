// Package wayguard protects calls to rate-limited, pay-per-call upstream
// APIs behind a tiered cache.
//
// Every protected call passes a multi-window token-bucket rate limiter
// and a per-service circuit breaker before reaching the upstream.
// Successful results are written to a two-tier cache: a bounded
// process-local tier and a Redis-backed shared tier visible to every
// application instance. When the upstream path is unavailable the most
// recent cached value is served instead, marked stale.
//
// # Quick Start
//
// Create a guard with default configuration (local tier only):
//
//	guard, err := wayguard.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer guard.Close()
//
// # Protected Calls
//
// Wrap an upstream call so that rate limiting, circuit breaking and
// caching all apply:
//
//	outcome, err := guard.Execute(ctx, wayguard.Call{
//	    Service:    "geocoding",
//	    Identifier: apiKeyID,
//	    Key:        "geocode:berlin",
//	    Namespace:  "geocode",
//	    Invoke: func(ctx context.Context) (any, error) {
//	        return client.Geocode(ctx, "Berlin")
//	    },
//	})
//
// The outcome carries the value, where it came from (upstream, local
// tier, shared tier) and whether it is stale. Rate-limit denials return
// a *RateLimitError with a retry hint; an unreachable upstream with no
// cached fallback returns ErrUnavailable.
//
// Read-through lookups that prefer the cache use GetOrFetch; concurrent
// misses for the same key share a single upstream call:
//
//	outcome, err := guard.GetOrFetch(ctx, call)
//
// # Invalidation
//
// Invalidation removes keys from both tiers and broadcasts to every
// other instance, which purges its own local tier:
//
//	guard.InvalidatePattern(ctx, "place:*")
//
// # Health and Cost
//
// Snapshot aggregates limiter utilization, circuit states, cache health
// and an estimated spend from per-call costs:
//
//	snap := guard.Snapshot()
//	fmt.Println(snap.Status, snap.EstimatedCost)
//
// # Configuration
//
// Load configuration from a JSON file, with WAYGUARD_* environment
// overrides applied on top:
//
//	guard, err := wayguard.NewFromFile("config.json")
//
// Or start from the defaults and adjust:
//
//	cfg := wayguard.Config()
//	cfg.Shared.Enabled = true
//	cfg.Shared.Address = "redis:6379"
//	guard, err := wayguard.NewFromConfig(cfg)
//
// # Thread Safety
//
// All operations are safe for concurrent use from multiple goroutines.
package wayguard
