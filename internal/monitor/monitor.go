package monitor

import (
	"sort"
	"time"

	"github.com/mgrinalds/wayguard/internal/cache"
	"github.com/mgrinalds/wayguard/internal/config"
	"github.com/mgrinalds/wayguard/internal/executor"
	"github.com/mgrinalds/wayguard/internal/ratelimit"
	"github.com/mgrinalds/wayguard/internal/resilience"
	"github.com/mgrinalds/wayguard/internal/types"
)

// ServiceStatus summarizes one upstream service.
type ServiceStatus struct {
	Service       string
	Status        types.HealthStatus
	CircuitState  string
	Windows       []ratelimit.WindowUsage
	Calls         int64
	CostPerCall   float64
	EstimatedCost float64
}

// Snapshot is a point-in-time view across every component. Building one
// reads component state but never mutates it.
type Snapshot struct {
	Timestamp time.Time
	Status    types.HealthStatus

	Cache      types.CacheHealth
	CacheStats types.CacheStats

	Services []ServiceStatus

	TotalCalls    int64
	EstimatedCost float64

	Counters Counters
	Latency  LatencySummary
}

// Monitor samples the executor and cache into snapshots.
type Monitor struct {
	config  *config.Config
	exec    *executor.Executor
	hybrid  *cache.Hybrid
	tracker *Tracker
}

// New creates a monitor over an executor and its cache. The tracker may
// be nil when an external metrics recorder is in use; counter and
// latency sections are then zero.
func New(cfg *config.Config, exec *executor.Executor, hybrid *cache.Hybrid, tracker *Tracker) *Monitor {
	return &Monitor{
		config:  cfg,
		exec:    exec,
		hybrid:  hybrid,
		tracker: tracker,
	}
}

// Snapshot assembles the current health, utilization and cost view.
// Overall status is the worst observed sub-status: a single open circuit
// outweighs an exhausted window, which outweighs a degraded cache.
func (m *Monitor) Snapshot() Snapshot {
	snap := Snapshot{
		Timestamp:  time.Now(),
		Cache:      m.hybrid.Health(),
		CacheStats: m.hybrid.Stats(),
	}

	status := snap.Cache.Status

	usage := m.exec.Limiter().Usage()
	usageByService := make(map[string][]ratelimit.WindowUsage)
	for _, u := range usage {
		usageByService[u.Service] = append(usageByService[u.Service], u)
	}

	circuitStates := m.exec.Breakers().States()
	callCounts := m.exec.CallCounts()

	services := make(map[string]bool)
	for s := range usageByService {
		services[s] = true
	}
	for s := range circuitStates {
		services[s] = true
	}
	for s := range callCounts {
		services[s] = true
	}

	names := make([]string, 0, len(services))
	for s := range services {
		names = append(names, s)
	}
	sort.Strings(names)

	for _, service := range names {
		svc := ServiceStatus{
			Service:      service,
			Status:       types.HealthStatusHealthy,
			CircuitState: "closed",
			Windows:      usageByService[service],
			Calls:        callCounts[service],
			CostPerCall:  m.config.CostFor(service),
		}
		svc.EstimatedCost = float64(svc.Calls) * svc.CostPerCall

		for _, w := range svc.Windows {
			if w.Remaining < 1 {
				svc.Status = svc.Status.Worse(types.HealthStatusRateLimited)
				break
			}
		}

		if state, ok := circuitStates[service]; ok {
			svc.CircuitState = state.String()
			if state == resilience.StateOpen {
				svc.Status = svc.Status.Worse(types.HealthStatusCircuitOpen)
			}
		}

		status = status.Worse(svc.Status)
		snap.TotalCalls += svc.Calls
		snap.EstimatedCost += svc.EstimatedCost
		snap.Services = append(snap.Services, svc)
	}

	snap.Status = status

	if m.tracker != nil {
		snap.Counters = m.tracker.Snapshot()
		snap.Latency = m.tracker.Latency()
	}

	return snap
}

// Healthy reports whether the last-assembled view would be fully healthy.
func (m *Monitor) Healthy() bool {
	return m.Snapshot().Status == types.HealthStatusHealthy
}
