package types

// GuardOptions holds construction-time overrides for the guard.
type GuardOptions struct {
	// Logger is the structured logger to use.
	Logger Logger

	// Metrics receives operational events.
	Metrics MetricsRecorder

	// Serializer converts protected-call results to cached bytes.
	Serializer Serializer

	// RedisAddress overrides the shared-tier address from config.
	RedisAddress string

	// RedisPassword overrides the shared-tier password from config.
	// Uses SecretString to prevent accidental logging of sensitive values.
	RedisPassword SecretString

	// RedisDB overrides the shared-tier database from config.
	RedisDB int

	// DisableShared disables the shared tier and the invalidation bus,
	// running local-only.
	DisableShared bool

	// DisableResilience disables rate limiting, circuit breaking and the
	// bulkhead. Intended for tests.
	DisableResilience bool

	// InstanceID overrides the generated instance identity used to
	// suppress self-delivered invalidations.
	InstanceID string
}

// GuardOption is a functional option applied at construction time.
type GuardOption func(*GuardOptions)
