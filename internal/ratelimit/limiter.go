// Package ratelimit provides multi-window token-bucket admission control.
package ratelimit

import (
	"log/slog"
	"sync"
	"time"

	"github.com/mgrinalds/wayguard/internal/config"
)

// Decision is the result of an admission check.
type Decision struct {
	Allowed bool
	// RetryAfter estimates when one token will be available in the most
	// restrictive window. Only set on denial.
	RetryAfter time.Duration
}

// WindowUsage is a point-in-time view of one bucket window.
type WindowUsage struct {
	Service    string
	Identifier string
	Window     string
	Capacity   float64
	Remaining  float64
}

// Limiter admits calls per (service, identifier) against a set of
// continuously-refilled token windows. A call is admitted only when every
// window has a token; no window is charged on a partial allow.
type Limiter struct {
	cfg    *config.Config
	logger *slog.Logger

	mu      sync.RWMutex
	buckets map[string]*bucketSet
}

type bucketSet struct {
	mu         sync.Mutex
	service    string
	identifier string
	lastSeen   time.Time
	windows    []window
}

type window struct {
	cfg        config.WindowConfig
	tokens     float64
	lastRefill time.Time
}

// New creates a limiter using the per-service windows in cfg.
func New(cfg *config.Config, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{
		cfg:     cfg,
		logger:  logger.With("component", "rate-limiter"),
		buckets: make(map[string]*bucketSet),
	}
}

// CheckAndConsume refills the buckets for (service, identifier) and consumes
// one token from every window if all of them allow. A single denying window
// denies the whole request and nothing is consumed. A disabled limiter
// admits everything without creating buckets.
func (l *Limiter) CheckAndConsume(service, identifier string) Decision {
	if !l.cfg.RateLimit.Enabled {
		return Decision{Allowed: true}
	}

	set := l.bucketSetFor(service, identifier)

	set.mu.Lock()
	defer set.mu.Unlock()

	now := time.Now()
	set.lastSeen = now

	for i := range set.windows {
		set.windows[i].refill(now)
	}

	var retryAfter time.Duration
	allowed := true
	for i := range set.windows {
		w := &set.windows[i]
		if w.tokens < 1 {
			allowed = false
			if wait := w.timeToNextToken(); wait > retryAfter {
				retryAfter = wait
			}
		}
	}

	if !allowed {
		return Decision{Allowed: false, RetryAfter: retryAfter}
	}

	for i := range set.windows {
		set.windows[i].tokens--
	}
	return Decision{Allowed: true}
}

func (l *Limiter) bucketSetFor(service, identifier string) *bucketSet {
	key := service + "|" + identifier

	l.mu.RLock()
	set, ok := l.buckets[key]
	l.mu.RUnlock()
	if ok {
		return set
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if set, ok = l.buckets[key]; ok {
		return set
	}

	now := time.Now()
	cfgs := l.cfg.WindowsFor(service)
	windows := make([]window, len(cfgs))
	for i, wc := range cfgs {
		windows[i] = window{cfg: wc, tokens: wc.Capacity, lastRefill: now}
	}
	set = &bucketSet{
		service:    service,
		identifier: identifier,
		lastSeen:   now,
		windows:    windows,
	}
	l.buckets[key] = set
	return set
}

// refill adds tokens proportional to elapsed time, capped at capacity.
func (w *window) refill(now time.Time) {
	elapsed := now.Sub(w.lastRefill)
	if elapsed <= 0 {
		return
	}
	w.tokens += elapsed.Seconds() * w.cfg.Capacity / w.cfg.Duration.Seconds()
	if w.tokens > w.cfg.Capacity {
		w.tokens = w.cfg.Capacity
	}
	w.lastRefill = now
}

// timeToNextToken estimates how long until one full token has refilled.
func (w *window) timeToNextToken() time.Duration {
	deficit := 1 - w.tokens
	if deficit <= 0 {
		return 0
	}
	seconds := deficit * w.cfg.Duration.Seconds() / w.cfg.Capacity
	return time.Duration(seconds * float64(time.Second))
}

// Prune removes bucket sets idle longer than maxIdle and returns how many
// were removed. Intended to be driven by the maintenance sweep with the
// largest configured window.
func (l *Limiter) Prune(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, set := range l.buckets {
		set.mu.Lock()
		idle := set.lastSeen.Before(cutoff)
		set.mu.Unlock()
		if idle {
			delete(l.buckets, key)
			removed++
		}
	}

	if removed > 0 {
		l.logger.Debug("Pruned idle rate buckets", "removed", removed, "remaining", len(l.buckets))
	}
	return removed
}

// BucketCount returns the number of live bucket sets.
func (l *Limiter) BucketCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.buckets)
}

// Usage returns a refreshed snapshot of every live bucket window.
// It mutates nothing except the continuous refill, which is a function of
// the clock alone.
func (l *Limiter) Usage() []WindowUsage {
	l.mu.RLock()
	sets := make([]*bucketSet, 0, len(l.buckets))
	for _, set := range l.buckets {
		sets = append(sets, set)
	}
	l.mu.RUnlock()

	now := time.Now()
	usage := make([]WindowUsage, 0, len(sets))
	for _, set := range sets {
		set.mu.Lock()
		for i := range set.windows {
			w := &set.windows[i]
			w.refill(now)
			usage = append(usage, WindowUsage{
				Service:    set.service,
				Identifier: set.identifier,
				Window:     w.cfg.Name,
				Capacity:   w.cfg.Capacity,
				Remaining:  w.tokens,
			})
		}
		set.mu.Unlock()
	}
	return usage
}
