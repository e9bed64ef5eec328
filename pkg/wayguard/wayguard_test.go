package wayguard

import (
	"context"
	"errors"
	"testing"
	"time"
)

type place struct {
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
}

func newTestGuard(t *testing.T) *Guard {
	t.Helper()

	g, err := NewFromConfig(TestConfig())
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	t.Cleanup(func() {
		if err := g.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return g
}

func TestGuardRoundTrip(t *testing.T) {
	g := newTestGuard(t)
	ctx := context.Background()

	call := Call{
		Service: "geocoding",
		Key:     "geocode:berlin",
		Invoke: func(ctx context.Context) (any, error) {
			return place{Name: "Berlin", Lat: 52.52, Lng: 13.405}, nil
		},
	}

	outcome, err := g.Execute(ctx, call)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if outcome.Source != SourceUpstream {
		t.Errorf("source = %q, want %q", outcome.Source, SourceUpstream)
	}

	// Second read comes from the local tier.
	outcome, err = g.GetOrFetch(ctx, call)
	if err != nil {
		t.Fatalf("GetOrFetch: %v", err)
	}
	if outcome.Source != SourceLocal {
		t.Errorf("source = %q, want %q", outcome.Source, SourceLocal)
	}

	var p place
	if err := NewJSONSerializer().Unmarshal(outcome.Value, &p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Name != "Berlin" {
		t.Errorf("decoded place = %+v, want Berlin", p)
	}
}

func TestGuardStaleFallback(t *testing.T) {
	g := newTestGuard(t)
	ctx := context.Background()

	key := "geocode:munich"
	if _, err := g.Execute(ctx, Call{
		Service: "geocoding",
		Key:     key,
		Invoke:  func(ctx context.Context) (any, error) { return "cached", nil },
	}); err != nil {
		t.Fatalf("seed Execute: %v", err)
	}

	outcome, err := g.Execute(ctx, Call{
		Service: "geocoding",
		Key:     key,
		Invoke:  func(ctx context.Context) (any, error) { return nil, errors.New("upstream down") },
	})
	if err != nil {
		t.Fatalf("Execute = %v, want stale hit", err)
	}
	if !outcome.Stale {
		t.Error("fallback hit not flagged stale")
	}
}

func TestGuardInvalidate(t *testing.T) {
	g := newTestGuard(t)
	ctx := context.Background()

	var calls int
	call := Call{
		Service: "places",
		Key:     "place:p1",
		Invoke: func(ctx context.Context) (any, error) {
			calls++
			return "details", nil
		},
	}

	g.Execute(ctx, call)
	if err := g.InvalidatePattern(ctx, "place:*"); err != nil {
		t.Fatalf("InvalidatePattern: %v", err)
	}

	outcome, err := g.GetOrFetch(ctx, call)
	if err != nil {
		t.Fatalf("GetOrFetch: %v", err)
	}
	if outcome.Source != SourceUpstream {
		t.Errorf("source after invalidation = %q, want refetch", outcome.Source)
	}
	if calls != 2 {
		t.Errorf("upstream calls = %d, want 2", calls)
	}
}

func TestGuardRateLimitError(t *testing.T) {
	cfg := TestConfig()
	cfg.RateLimit.Windows = cfg.RateLimit.Windows[:1]
	cfg.RateLimit.Windows[0].Capacity = 1

	g, err := NewFromConfig(cfg)
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	defer g.Close()
	ctx := context.Background()

	ok := Call{
		Service: "geocoding",
		Key:     "geocode:a",
		Invoke:  func(ctx context.Context) (any, error) { return "ok", nil },
	}
	if _, err := g.Execute(ctx, ok); err != nil {
		t.Fatalf("first Execute: %v", err)
	}

	_, err = g.Execute(ctx, ok)
	if !IsRateLimited(err) {
		t.Fatalf("second Execute = %v, want rate limited", err)
	}
	var rle *RateLimitError
	if !errors.As(err, &rle) || rle.RetryAfter <= 0 {
		t.Errorf("error = %v, want RateLimitError with positive RetryAfter", err)
	}
}

func TestGuardWithoutResilience(t *testing.T) {
	g, err := NewFromConfig(TestConfig(), WithoutResilience())
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	defer g.Close()
	ctx := context.Background()

	// No windows, no breaker: every call goes straight through.
	for i := 0; i < 200; i++ {
		if _, err := g.Execute(ctx, Call{
			Service: "geocoding",
			Key:     "geocode:x",
			Invoke:  func(ctx context.Context) (any, error) { return "ok", nil },
		}); err != nil {
			t.Fatalf("Execute %d: %v", i, err)
		}
	}
}

func TestGuardSnapshot(t *testing.T) {
	g := newTestGuard(t)
	ctx := context.Background()

	g.Execute(ctx, Call{
		Service: "geocoding",
		Key:     "geocode:a",
		Invoke:  func(ctx context.Context) (any, error) { return "ok", nil },
	})

	snap := g.Snapshot()
	if snap.TotalCalls != 1 {
		t.Errorf("TotalCalls = %d, want 1", snap.TotalCalls)
	}
	if len(snap.Services) != 1 || snap.Services[0].Service != "geocoding" {
		t.Errorf("services = %+v, want geocoding only", snap.Services)
	}
	if snap.Counters.LocalHits != 0 {
		t.Errorf("LocalHits = %d, want 0 before any cached read", snap.Counters.LocalHits)
	}

	g.GetOrFetch(ctx, Call{
		Service: "geocoding",
		Key:     "geocode:a",
		Invoke:  func(ctx context.Context) (any, error) { return "ok", nil },
	})
	if got := g.Snapshot().Counters.LocalHits; got != 1 {
		t.Errorf("LocalHits after cached read = %d, want 1", got)
	}
}

func TestGuardHealthLocalOnly(t *testing.T) {
	g := newTestGuard(t)

	health := g.Health()
	if !health.Local.Available {
		t.Error("local tier unavailable")
	}
	if health.Shared.Available {
		t.Error("disabled shared tier reports available")
	}
	if health.Status.String() != "degraded" {
		t.Errorf("status = %v, want degraded", health.Status)
	}
}

func TestGuardClosedRejectsCalls(t *testing.T) {
	g, err := NewFromConfig(TestConfig())
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	if err := g.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	_, err = g.Execute(context.Background(), Call{
		Service: "geocoding",
		Key:     "geocode:a",
		Invoke:  func(ctx context.Context) (any, error) { return "ok", nil },
	})
	if !errors.Is(err, ErrClosed) {
		t.Errorf("Execute after Close = %v, want ErrClosed", err)
	}
}

func TestGuardTTLBounds(t *testing.T) {
	cfg := TestConfig()
	cfg.TTL.Namespaces = map[string]string{"geocode": "short"}

	g, err := NewFromConfig(cfg)
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	defer g.Close()

	outcome, err := g.Execute(context.Background(), Call{
		Service:   "geocoding",
		Namespace: "geocode",
		Key:       "geocode:ttl",
		TTL:       50 * time.Millisecond,
		Invoke:    func(ctx context.Context) (any, error) { return "ok", nil },
	})
	if err != nil || outcome.Source != SourceUpstream {
		t.Fatalf("Execute = (%+v, %v), want upstream success", outcome, err)
	}

	time.Sleep(70 * time.Millisecond)
	if _, _, err := g.cache.Get(context.Background(), "geocode:ttl"); err == nil {
		t.Error("explicit TTL not honored over namespace tier")
	}
}
