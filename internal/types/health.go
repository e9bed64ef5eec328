package types

import "time"

// HealthStatus represents a health classification.
// Ordering matters: higher values are worse; overall status is the
// worst observed sub-status.
type HealthStatus int

const (
	// HealthStatusHealthy indicates all components operating normally.
	HealthStatusHealthy HealthStatus = iota + 1
	// HealthStatusDegraded indicates partial functionality
	// (e.g., one cache tier unreachable).
	HealthStatusDegraded
	// HealthStatusRateLimited indicates at least one service is out of
	// admission tokens.
	HealthStatusRateLimited
	// HealthStatusCircuitOpen indicates at least one service circuit is open.
	HealthStatusCircuitOpen
	// HealthStatusUnhealthy indicates critical failure (both tiers down).
	HealthStatusUnhealthy
)

func (s HealthStatus) String() string {
	switch s {
	case HealthStatusHealthy:
		return "healthy"
	case HealthStatusDegraded:
		return "degraded"
	case HealthStatusRateLimited:
		return "rate_limited"
	case HealthStatusCircuitOpen:
		return "circuit_open"
	case HealthStatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// Worse returns the worst of the two statuses.
func (s HealthStatus) Worse(other HealthStatus) HealthStatus {
	if other > s {
		return other
	}
	return s
}

// CacheHealth describes the availability of both cache tiers.
type CacheHealth struct {
	Timestamp time.Time
	Status    HealthStatus
	Local     TierHealth
	Shared    TierHealth
}

// TierHealth describes a single cache tier.
type TierHealth struct {
	Status    HealthStatus
	Available bool
	Keys      int
	HitRatio  float64
	// Shared tier only.
	PendingWrites int
	DroppedWrites int64
}
