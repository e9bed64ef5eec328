package executor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mgrinalds/wayguard/internal/cache"
	"github.com/mgrinalds/wayguard/internal/config"
	"github.com/mgrinalds/wayguard/internal/resilience"
	"github.com/mgrinalds/wayguard/internal/types"
)

func newTestExecutor(t *testing.T, mutate func(*config.Config)) *Executor {
	t.Helper()

	cfg := config.ForTesting()
	if mutate != nil {
		mutate(cfg)
	}

	hybrid, err := cache.NewHybrid(cfg, nil)
	if err != nil {
		t.Fatalf("NewHybrid: %v", err)
	}

	e := New(cfg, hybrid, nil)
	t.Cleanup(func() {
		e.CloseWithTimeout(time.Second)
		hybrid.CloseWithTimeout(time.Second)
	})
	return e
}

func okCall(key string, invoked *atomic.Int64) Call {
	return Call{
		Service: "geocoding",
		Key:     key,
		Invoke: func(ctx context.Context) (any, error) {
			if invoked != nil {
				invoked.Add(1)
			}
			return map[string]string{"city": "Berlin"}, nil
		},
	}
}

func failingCall(key string, cause error) Call {
	return Call{
		Service: "geocoding",
		Key:     key,
		Invoke: func(ctx context.Context) (any, error) {
			return nil, cause
		},
	}
}

func TestExecuteSuccess(t *testing.T) {
	e := newTestExecutor(t, nil)

	outcome, err := e.Execute(context.Background(), okCall("geo:berlin", nil))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if outcome.Source != types.SourceUpstream {
		t.Errorf("source = %q, want %q", outcome.Source, types.SourceUpstream)
	}
	if outcome.Stale {
		t.Error("fresh upstream result flagged stale")
	}

	var decoded map[string]string
	if err := cache.NewJSONSerializer().Unmarshal(outcome.Value, &decoded); err != nil {
		t.Fatalf("decode outcome: %v", err)
	}
	if decoded["city"] != "Berlin" {
		t.Errorf("decoded value = %v, want city=Berlin", decoded)
	}

	if got := e.CallCounts()["geocoding"]; got != 1 {
		t.Errorf("call count = %d, want 1", got)
	}
}

func TestExecuteWritesCache(t *testing.T) {
	e := newTestExecutor(t, nil)
	ctx := context.Background()

	var invoked atomic.Int64
	if _, err := e.Execute(ctx, okCall("geo:berlin", &invoked)); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	// A later read-through is served from cache, not the upstream.
	outcome, err := e.GetOrFetch(ctx, okCall("geo:berlin", &invoked))
	if err != nil {
		t.Fatalf("GetOrFetch: %v", err)
	}
	if outcome.Source != types.SourceLocal {
		t.Errorf("source = %q, want %q", outcome.Source, types.SourceLocal)
	}
	if got := invoked.Load(); got != 1 {
		t.Errorf("upstream invocations = %d, want 1", got)
	}
}

func TestExecuteRateLimited(t *testing.T) {
	e := newTestExecutor(t, func(cfg *config.Config) {
		cfg.RateLimit.Windows = []config.WindowConfig{
			{Name: "second", Duration: time.Second, Capacity: 1},
		}
	})
	ctx := context.Background()

	var invoked atomic.Int64
	if _, err := e.Execute(ctx, okCall("geo:1", &invoked)); err != nil {
		t.Fatalf("first Execute: %v", err)
	}

	_, err := e.Execute(ctx, okCall("geo:2", &invoked))
	var rle *types.RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("second Execute = %v, want RateLimitError", err)
	}
	if rle.RetryAfter <= 0 {
		t.Errorf("RetryAfter = %v, want positive", rle.RetryAfter)
	}
	if got := invoked.Load(); got != 1 {
		t.Errorf("upstream invocations = %d, want 1", got)
	}

	// Denials never touch the circuit.
	if state := e.Breakers().For("geocoding").State(); state != resilience.StateClosed {
		t.Errorf("circuit state after denial = %v, want closed", state)
	}
}

func TestExecuteStaleFallbackOnUpstreamFailure(t *testing.T) {
	e := newTestExecutor(t, nil)
	ctx := context.Background()

	if _, err := e.Execute(ctx, okCall("geo:berlin", nil)); err != nil {
		t.Fatalf("seed Execute: %v", err)
	}

	outcome, err := e.Execute(ctx, failingCall("geo:berlin", errors.New("upstream down")))
	if err != nil {
		t.Fatalf("Execute with failing upstream = %v, want stale hit", err)
	}
	if !outcome.Stale {
		t.Error("fallback result not flagged stale")
	}
	if outcome.Source != types.SourceLocal {
		t.Errorf("fallback source = %q, want %q", outcome.Source, types.SourceLocal)
	}
}

func TestExecuteUnavailableWhenNoFallback(t *testing.T) {
	e := newTestExecutor(t, nil)

	cause := errors.New("connection refused")
	_, err := e.Execute(context.Background(), failingCall("geo:cold", cause))
	if !errors.Is(err, types.ErrUnavailable) {
		t.Fatalf("Execute = %v, want ErrUnavailable", err)
	}
}

func TestExecuteClientInputErrorPassesThrough(t *testing.T) {
	e := newTestExecutor(t, nil)
	ctx := context.Background()

	// Even with a cached value present, a client-input error is the
	// caller's answer: no fallback, no staleness.
	if _, err := e.Execute(ctx, okCall("geo:berlin", nil)); err != nil {
		t.Fatalf("seed Execute: %v", err)
	}

	bad := types.NewClientInputError(errors.New("address is empty"))
	_, err := e.Execute(ctx, failingCall("geo:berlin", bad))
	if !types.IsClientInput(err) {
		t.Fatalf("Execute = %v, want client input error", err)
	}

	// Client errors never advance the failure streak.
	for i := 0; i < 10; i++ {
		e.Execute(ctx, failingCall("geo:berlin", bad))
	}
	if state := e.Breakers().For("geocoding").State(); state != resilience.StateClosed {
		t.Errorf("circuit state after client errors = %v, want closed", state)
	}
}

func TestExecuteCircuitOpensAndFastFails(t *testing.T) {
	e := newTestExecutor(t, nil) // FailureThreshold = 3
	ctx := context.Background()

	cause := errors.New("upstream down")
	for i := 0; i < 3; i++ {
		e.Execute(ctx, failingCall("geo:cold", cause))
	}
	if state := e.Breakers().For("geocoding").State(); state != resilience.StateOpen {
		t.Fatalf("circuit state = %v, want open", state)
	}

	// With the circuit open the upstream is never contacted.
	var invoked atomic.Int64
	_, err := e.Execute(ctx, okCall("geo:cold", &invoked))
	if !errors.Is(err, types.ErrCircuitOpen) {
		t.Errorf("Execute with open circuit = %v, want ErrCircuitOpen cause", err)
	}
	if !errors.Is(err, types.ErrUnavailable) {
		t.Errorf("Execute with open circuit = %v, want ErrUnavailable wrap", err)
	}
	if invoked.Load() != 0 {
		t.Error("upstream invoked while circuit open")
	}
}

func TestExecuteCircuitRecovery(t *testing.T) {
	e := newTestExecutor(t, nil) // RecoveryTimeout = 50ms
	ctx := context.Background()

	cause := errors.New("upstream down")
	for i := 0; i < 3; i++ {
		e.Execute(ctx, failingCall("geo:cold", cause))
	}

	time.Sleep(60 * time.Millisecond)

	// Recovery window elapsed: one trial call goes through, and its
	// success closes the circuit.
	var invoked atomic.Int64
	outcome, err := e.Execute(ctx, okCall("geo:cold", &invoked))
	if err != nil {
		t.Fatalf("trial Execute: %v", err)
	}
	if outcome.Source != types.SourceUpstream {
		t.Errorf("trial source = %q, want upstream", outcome.Source)
	}
	if state := e.Breakers().For("geocoding").State(); state != resilience.StateClosed {
		t.Errorf("circuit state after trial success = %v, want closed", state)
	}
}

func TestExecuteAbandonedCallStillRecorded(t *testing.T) {
	e := newTestExecutor(t, nil)

	var invoked atomic.Int64
	slow := Call{
		Service: "geocoding",
		Key:     "geo:slow",
		Invoke: func(ctx context.Context) (any, error) {
			invoked.Add(1)
			time.Sleep(50 * time.Millisecond)
			return "late result", nil
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := e.Execute(ctx, slow)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("abandoned Execute = %v, want deadline exceeded", err)
	}

	// The detached call finishes on its own and its result is cached for
	// the next caller.
	time.Sleep(100 * time.Millisecond)

	outcome, err := e.GetOrFetch(context.Background(), okCall("geo:slow", &invoked))
	if err != nil {
		t.Fatalf("GetOrFetch after abandonment: %v", err)
	}
	if outcome.Source == types.SourceUpstream {
		t.Error("abandoned call's result was not cached")
	}
	if got := invoked.Load(); got != 1 {
		t.Errorf("upstream invocations = %d, want 1", got)
	}
}

func TestGetOrFetchSingleflight(t *testing.T) {
	e := newTestExecutor(t, nil)

	var invoked atomic.Int64
	slow := Call{
		Service: "geocoding",
		Key:     "geo:shared",
		Invoke: func(ctx context.Context) (any, error) {
			invoked.Add(1)
			time.Sleep(30 * time.Millisecond)
			return "result", nil
		},
	}

	const callers = 10
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.GetOrFetch(context.Background(), slow)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("caller %d: %v", i, err)
		}
	}
	if got := invoked.Load(); got != 1 {
		t.Errorf("upstream invocations = %d, want 1", got)
	}
}

func TestExecuteValidation(t *testing.T) {
	e := newTestExecutor(t, nil)
	ctx := context.Background()

	if _, err := e.Execute(ctx, Call{Service: "s", Key: "k"}); !errors.Is(err, types.ErrInvalidKey) {
		t.Errorf("Execute without Invoke = %v, want ErrInvalidKey", err)
	}
	if _, err := e.Execute(ctx, okCall("", nil)); !errors.Is(err, types.ErrInvalidKey) {
		t.Errorf("Execute with empty key = %v, want ErrInvalidKey", err)
	}
}

func TestExecuteTTLOverride(t *testing.T) {
	e := newTestExecutor(t, nil)
	ctx := context.Background()

	short := okCall("geo:brief", nil)
	short.TTL = 20 * time.Millisecond
	if _, err := e.Execute(ctx, short); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	time.Sleep(30 * time.Millisecond)

	var invoked atomic.Int64
	outcome, err := e.GetOrFetch(ctx, okCall("geo:brief", &invoked))
	if err != nil {
		t.Fatalf("GetOrFetch: %v", err)
	}
	if outcome.Source != types.SourceUpstream {
		t.Errorf("source after TTL expiry = %q, want upstream refetch", outcome.Source)
	}
}

func TestExecutorClosed(t *testing.T) {
	e := newTestExecutor(t, nil)

	if err := e.CloseWithTimeout(time.Second); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := e.Execute(context.Background(), okCall("geo:x", nil)); !errors.Is(err, types.ErrClosed) {
		t.Errorf("Execute after close = %v, want ErrClosed", err)
	}
	if err := e.CloseWithTimeout(time.Second); err != nil {
		t.Errorf("second close = %v, want nil", err)
	}
}
