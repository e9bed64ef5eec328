package config

import "time"

// DefaultConfig returns a configuration with sensible defaults.
// Services must still be declared by the caller; the defaults here carry
// the library-wide windows and thresholds they inherit.
func DefaultConfig() *Config {
	return &Config{
		Services: map[string]ServiceConfig{},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Windows: []WindowConfig{
				{Name: "second", Duration: time.Second, Capacity: 10},
				{Name: "minute", Duration: time.Minute, Capacity: 300},
				{Name: "hour", Duration: time.Hour, Capacity: 5000},
				{Name: "day", Duration: 24 * time.Hour, Capacity: 50000},
			},
		},
		Breaker: BreakerConfig{
			Enabled:          true,
			FailureThreshold: 5,
			SuccessThreshold: 1,
			RecoveryTimeout:  30 * time.Second,
		},
		Bulkhead: BulkheadConfig{
			Enabled:        true,
			MaxConcurrent:  50,
			MaxQueue:       25,
			AcquireTimeout: 100 * time.Millisecond,
		},
		Local: LocalConfig{
			Enabled:          true,
			MaxKeys:          10000,
			PromoteThreshold: 3,
			EvictionPolicy:   EvictionHitCount,
		},
		Shared: SharedConfig{
			Enabled:             false,
			Address:             "localhost:6379",
			Password:            SecretString{},
			DB:                  0,
			KeyPrefix:           "wayguard:",
			PoolSize:            100,
			MinIdleConns:        10,
			DialTimeout:         5 * time.Second,
			ReadTimeout:         3 * time.Second,
			WriteTimeout:        3 * time.Second,
			PoolTimeout:         4 * time.Second,
			MaxPendingWrites:    500,
			HealthCheckInterval: 5 * time.Second,
			EnableTLS:           false,
			TLSSkipVerify:       false,
		},
		TTL: TTLConfig{
			Tiers: map[string]time.Duration{
				"short":    5 * time.Minute,
				"medium":   time.Hour,
				"long":     24 * time.Hour,
				"extended": 7 * 24 * time.Hour,
			},
			Namespaces:  map[string]string{},
			DefaultTier: "medium",
			Multiplier:  1.0,
		},
		Invalidation: InvalidationConfig{
			Channel: "wayguard:invalidations",
		},
		Executor: ExecutorConfig{
			CallTimeout:         5 * time.Second,
			SharedReadTimeout:   500 * time.Millisecond,
			MaintenanceInterval: 60 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:         true,
			PublishInterval: 10 * time.Second,
			DataDog: DataDogConfig{
				Enabled:   false,
				AgentHost: "127.0.0.1",
				Port:      8125,
				Prefix:    "wayguard",
				Tags:      []string{},
			},
		},
	}
}

// ForTesting returns a minimal configuration suitable for unit tests:
// shared tier disabled, short timeouts, small local tier.
func ForTesting() *Config {
	return &Config{
		Services: map[string]ServiceConfig{},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Windows: []WindowConfig{
				{Name: "second", Duration: time.Second, Capacity: 100},
			},
		},
		Breaker: BreakerConfig{
			Enabled:          true,
			FailureThreshold: 3,
			SuccessThreshold: 1,
			RecoveryTimeout:  50 * time.Millisecond,
		},
		Bulkhead: BulkheadConfig{
			Enabled:        false,
			MaxConcurrent:  10,
			MaxQueue:       5,
			AcquireTimeout: 50 * time.Millisecond,
		},
		Local: LocalConfig{
			Enabled:          true,
			MaxKeys:          64,
			PromoteThreshold: 2,
			EvictionPolicy:   EvictionHitCount,
		},
		Shared: SharedConfig{
			Enabled:             false,
			Address:             "localhost:6379",
			KeyPrefix:           "test:",
			PoolSize:            10,
			MinIdleConns:        1,
			DialTimeout:         time.Second,
			ReadTimeout:         time.Second,
			WriteTimeout:        time.Second,
			PoolTimeout:         time.Second,
			MaxPendingWrites:    50,
			HealthCheckInterval: 0,
		},
		TTL: TTLConfig{
			Tiers: map[string]time.Duration{
				"short":  time.Minute,
				"medium": 5 * time.Minute,
			},
			Namespaces:  map[string]string{},
			DefaultTier: "short",
			Multiplier:  1.0,
		},
		Invalidation: InvalidationConfig{
			Channel: "test:invalidations",
		},
		Executor: ExecutorConfig{
			CallTimeout:         time.Second,
			SharedReadTimeout:   100 * time.Millisecond,
			MaintenanceInterval: 0,
		},
		Metrics: MetricsConfig{
			Enabled:         false,
			PublishInterval: time.Second,
		},
	}
}

// ForTestingWithRedis returns a test config with the shared tier enabled.
func ForTestingWithRedis(addr string) *Config {
	cfg := ForTesting()
	cfg.Shared.Enabled = true
	cfg.Shared.Address = addr
	return cfg
}
