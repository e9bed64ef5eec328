package resilience

import (
	"sync"

	"github.com/mgrinalds/wayguard/internal/config"
)

// Registry holds one circuit breaker per service, created lazily on first
// use. Failures on one service never affect another's state.
type Registry struct {
	cfg           *config.Config
	onStateChange func(service string, from, to State)

	mu       sync.RWMutex
	breakers map[string]Breaker
}

// NewRegistry creates a breaker registry. onStateChange may be nil.
func NewRegistry(cfg *config.Config, onStateChange func(service string, from, to State)) *Registry {
	return &Registry{
		cfg:           cfg,
		onStateChange: onStateChange,
		breakers:      make(map[string]Breaker),
	}
}

// For returns the breaker for a service, creating it on first use.
func (r *Registry) For(service string) Breaker {
	r.mu.RLock()
	b, ok := r.breakers[service]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok = r.breakers[service]; ok {
		return b
	}

	if !r.cfg.Breaker.Enabled {
		b = NewDisabledBreaker(service)
	} else {
		cb := NewCircuitBreaker(service, r.cfg.BreakerFor(service))
		if r.onStateChange != nil {
			cb.SetOnStateChange(r.onStateChange)
		}
		b = cb
	}
	r.breakers[service] = b
	return b
}

// States returns the current state of every known breaker by service.
func (r *Registry) States() map[string]State {
	r.mu.RLock()
	defer r.mu.RUnlock()

	states := make(map[string]State, len(r.breakers))
	for service, b := range r.breakers {
		states[service] = b.State()
	}
	return states
}

// AnyOpen returns true if any known circuit is currently open.
func (r *Registry) AnyOpen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, b := range r.breakers {
		if b.IsOpen() {
			return true
		}
	}
	return false
}
