package wayguard

import (
	"github.com/mgrinalds/wayguard/internal/types"
)

type (
	// GuardOptions holds construction-time overrides.
	GuardOptions = types.GuardOptions
	// GuardOption is a functional option applied at construction time.
	GuardOption = types.GuardOption
)

// WithLogger plugs in a structured logger.
func WithLogger(logger Logger) GuardOption {
	return func(o *GuardOptions) {
		o.Logger = logger
	}
}

// WithMetrics plugs in an external metrics recorder. The built-in
// tracker (and its latency percentiles in snapshots) is bypassed.
func WithMetrics(metrics MetricsRecorder) GuardOption {
	return func(o *GuardOptions) {
		o.Metrics = metrics
	}
}

// WithSerializer overrides the JSON serializer used for cached values.
func WithSerializer(serializer Serializer) GuardOption {
	return func(o *GuardOptions) {
		o.Serializer = serializer
	}
}

// WithRedisAddress overrides the shared-tier address from config.
func WithRedisAddress(addr string) GuardOption {
	return func(o *GuardOptions) {
		o.RedisAddress = addr
	}
}

// WithRedisPassword overrides the shared-tier password from config.
func WithRedisPassword(password string) GuardOption {
	return func(o *GuardOptions) {
		o.RedisPassword = types.NewSecretString(password)
	}
}

// WithRedisDB overrides the shared-tier database from config.
func WithRedisDB(db int) GuardOption {
	return func(o *GuardOptions) {
		o.RedisDB = db
	}
}

// WithoutShared disables the shared tier and the invalidation bus.
func WithoutShared() GuardOption {
	return func(o *GuardOptions) {
		o.DisableShared = true
	}
}

// WithoutResilience disables rate limiting, circuit breaking and the
// bulkhead. Intended for tests.
func WithoutResilience() GuardOption {
	return func(o *GuardOptions) {
		o.DisableResilience = true
	}
}

// WithInstanceID overrides the generated instance identity used to
// suppress self-delivered invalidations.
func WithInstanceID(id string) GuardOption {
	return func(o *GuardOptions) {
		o.InstanceID = id
	}
}
