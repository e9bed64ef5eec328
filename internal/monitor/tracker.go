// Package monitor aggregates read-only health, utilization and cost
// views over the limiter, circuit breakers and tiered cache. Nothing in
// this package mutates the components it observes.
package monitor

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mgrinalds/wayguard/internal/types"
)

// latencySampleSize bounds the ring buffer used for percentile
// estimates. Old samples are overwritten once the buffer is full.
const latencySampleSize = 1024

// Tracker implements types.MetricsRecorder with in-process counters and
// a bounded latency sample. It is the default recorder when no external
// metrics sink is plugged in.
type Tracker struct {
	localHits   atomic.Int64
	sharedHits  atomic.Int64
	misses      atomic.Int64
	rateLimited atomic.Int64
	errors      atomic.Int64
	stateFlips  atomic.Int64

	callMu sync.Mutex
	calls  map[string]int64

	latMu      sync.Mutex
	latencies  []time.Duration
	latNext    int
	latFilled  bool
	latSamples int64
}

// NewTracker creates an in-process metrics tracker.
func NewTracker() *Tracker {
	return &Tracker{
		calls:     make(map[string]int64),
		latencies: make([]time.Duration, latencySampleSize),
	}
}

// RecordHit implements types.MetricsRecorder.
func (t *Tracker) RecordHit(tier string, latency time.Duration) {
	switch tier {
	case "local":
		t.localHits.Add(1)
	default:
		t.sharedHits.Add(1)
	}
	t.sample(latency)
}

// RecordMiss implements types.MetricsRecorder.
func (t *Tracker) RecordMiss(tier string, latency time.Duration) {
	t.misses.Add(1)
	t.sample(latency)
}

// RecordCall implements types.MetricsRecorder.
func (t *Tracker) RecordCall(service string, source types.Source, latency time.Duration) {
	t.callMu.Lock()
	t.calls[service]++
	t.callMu.Unlock()

	if latency > 0 {
		t.sample(latency)
	}
}

// RecordRateLimited implements types.MetricsRecorder.
func (t *Tracker) RecordRateLimited(service string) {
	t.rateLimited.Add(1)
}

// RecordError implements types.MetricsRecorder.
func (t *Tracker) RecordError(service string, err error) {
	t.errors.Add(1)
}

// RecordCircuitStateChange implements types.MetricsRecorder.
func (t *Tracker) RecordCircuitStateChange(service, from, to string) {
	t.stateFlips.Add(1)
}

func (t *Tracker) sample(latency time.Duration) {
	t.latMu.Lock()
	t.latencies[t.latNext] = latency
	t.latNext++
	if t.latNext == len(t.latencies) {
		t.latNext = 0
		t.latFilled = true
	}
	t.latSamples++
	t.latMu.Unlock()
}

// LatencySummary holds percentile estimates over recent operations.
type LatencySummary struct {
	Samples int64
	P50     time.Duration
	P95     time.Duration
	P99     time.Duration
}

// Latency returns percentile estimates from the current sample window.
func (t *Tracker) Latency() LatencySummary {
	t.latMu.Lock()
	n := t.latNext
	if t.latFilled {
		n = len(t.latencies)
	}
	window := make([]time.Duration, n)
	copy(window, t.latencies[:n])
	samples := t.latSamples
	t.latMu.Unlock()

	if n == 0 {
		return LatencySummary{}
	}

	sort.Slice(window, func(i, j int) bool { return window[i] < window[j] })

	return LatencySummary{
		Samples: samples,
		P50:     percentile(window, 0.50),
		P95:     percentile(window, 0.95),
		P99:     percentile(window, 0.99),
	}
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx]
}

// Counters is a point-in-time view of the tracker's counters.
type Counters struct {
	LocalHits   int64
	SharedHits  int64
	Misses      int64
	RateLimited int64
	Errors      int64
	StateFlips  int64
}

// Snapshot returns the current counter values.
func (t *Tracker) Snapshot() Counters {
	return Counters{
		LocalHits:   t.localHits.Load(),
		SharedHits:  t.sharedHits.Load(),
		Misses:      t.misses.Load(),
		RateLimited: t.rateLimited.Load(),
		Errors:      t.errors.Load(),
		StateFlips:  t.stateFlips.Load(),
	}
}

var _ types.MetricsRecorder = (*Tracker)(nil)
