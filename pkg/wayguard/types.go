package wayguard

import (
	"github.com/mgrinalds/wayguard/internal/cache"
	"github.com/mgrinalds/wayguard/internal/executor"
	"github.com/mgrinalds/wayguard/internal/monitor"
	"github.com/mgrinalds/wayguard/internal/types"
)

type (
	// Call describes one protected upstream call.
	Call = executor.Call

	// Outcome is the result of a protected call: the value, where it
	// came from, and whether it is stale.
	Outcome = types.Outcome

	// Source identifies where a returned value came from.
	Source = types.Source

	// CacheHealth describes the availability of both cache tiers.
	CacheHealth = types.CacheHealth

	// CacheStats is a combined statistics view across both tiers.
	CacheStats = types.CacheStats

	// HealthStatus is the ordered health classification.
	HealthStatus = types.HealthStatus

	// Snapshot is the monitor's point-in-time view across components.
	Snapshot = monitor.Snapshot

	// ServiceStatus summarizes one upstream service in a snapshot.
	ServiceStatus = monitor.ServiceStatus

	// Logger is the minimal logging surface callers can plug in.
	Logger = types.Logger

	// MetricsRecorder receives operational events.
	MetricsRecorder = types.MetricsRecorder

	// Serializer converts protected-call results to and from cached bytes.
	Serializer = types.Serializer
)

// NewJSONSerializer returns the default serializer, useful for decoding
// Outcome.Value on the caller side.
func NewJSONSerializer() Serializer {
	return cache.NewJSONSerializer()
}

const (
	// SourceUpstream means the value came fresh from the protected call.
	SourceUpstream = types.SourceUpstream
	// SourceLocal means the value was served from the process-local tier.
	SourceLocal = types.SourceLocal
	// SourceShared means the value was served from the shared tier.
	SourceShared = types.SourceShared
	// SourceSharedPromoted means the shared hit was promoted into the
	// local tier.
	SourceSharedPromoted = types.SourceSharedPromoted
)

const (
	// Healthy means all components are operating normally.
	Healthy = types.HealthStatusHealthy
	// Degraded means one cache tier is unreachable.
	Degraded = types.HealthStatusDegraded
	// RateLimited means at least one service is out of admission tokens.
	RateLimited = types.HealthStatusRateLimited
	// CircuitOpen means at least one service circuit is open.
	CircuitOpen = types.HealthStatusCircuitOpen
	// Unhealthy means both cache tiers are unreachable.
	Unhealthy = types.HealthStatusUnhealthy
)
