// Package types provides shared types for the wayguard library.
// This package breaks import cycles between pkg/wayguard and the internal
// cache, ratelimit, resilience and executor packages.
package types

import "time"

// Source identifies where a returned value came from.
type Source string

const (
	// SourceUpstream means the value came fresh from the protected call.
	SourceUpstream Source = "upstream"
	// SourceLocal means the value was served from the process-local tier.
	SourceLocal Source = "local"
	// SourceShared means the value was served from the shared tier.
	SourceShared Source = "shared"
	// SourceSharedPromoted means the shared-tier hit crossed the promotion
	// threshold and the entry was copied into the local tier.
	SourceSharedPromoted Source = "shared_promoted"
)

// Outcome is the result of a protected call execution.
// Stale indicates the value came from cache because the upstream
// path was unavailable.
type Outcome struct {
	Value  []byte
	Source Source
	Stale  bool
}

// InvalidationMessage is broadcast to every instance when keys are
// invalidated. Pattern is an exact key or a glob ("place:*").
// Delivery is at-least-once; handlers must be idempotent.
type InvalidationMessage struct {
	Pattern  string    `json:"pattern"`
	Origin   string    `json:"origin"`
	IssuedAt time.Time `json:"issued_at"`
}

// LocalStats contains counters for the process-local tier.
type LocalStats struct {
	Hits      int64
	Misses    int64
	Sets      int64
	Deletes   int64
	Evictions int64
	Expired   int64
}

// SharedStats contains counters for the shared tier.
type SharedStats struct {
	Hits    int64
	Misses  int64
	Sets    int64
	Deletes int64
}

// CacheStats is a combined view across both tiers.
type CacheStats struct {
	Local      LocalStats
	Shared     SharedStats
	LocalKeys  int
	MaxKeys    int
	Promotions int64
}

// LocalHitRatio returns the hit ratio of the local tier.
func (s *CacheStats) LocalHitRatio() float64 {
	return ratio(s.Local.Hits, s.Local.Misses)
}

// SharedHitRatio returns the hit ratio of the shared tier.
func (s *CacheStats) SharedHitRatio() float64 {
	return ratio(s.Shared.Hits, s.Shared.Misses)
}

// TotalHitRatio returns the hit ratio across both tiers.
func (s *CacheStats) TotalHitRatio() float64 {
	return ratio(s.Local.Hits+s.Shared.Hits, s.Local.Misses+s.Shared.Misses)
}

func ratio(hits, misses int64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}
