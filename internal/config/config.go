// Package config provides configuration management for wayguard.
package config

import (
	"fmt"
	"time"

	"github.com/mgrinalds/wayguard/internal/types"
)

// SecretString is a string type that redacts its value when marshaled to JSON.
type SecretString = types.SecretString

// NewSecretString creates a new SecretString with the provided value.
func NewSecretString(value string) SecretString {
	return types.NewSecretString(value)
}

// Config contains all configuration for the wayguard guard.
//
//nolint:govet // Configuration struct - logical grouping prioritized over alignment
type Config struct {
	Services     map[string]ServiceConfig `json:"services"`
	RateLimit    RateLimitConfig          `json:"rateLimit"`
	Breaker      BreakerConfig            `json:"breaker"`
	Bulkhead     BulkheadConfig           `json:"bulkhead"`
	Local        LocalConfig              `json:"local"`
	Shared       SharedConfig             `json:"shared"`
	TTL          TTLConfig                `json:"ttl"`
	Invalidation InvalidationConfig       `json:"invalidation"`
	Executor     ExecutorConfig           `json:"executor"`
	Metrics      MetricsConfig            `json:"metrics"`
}

// WindowConfig is a single admission window of a token bucket.
// Capacity tokens refill continuously over Duration.
type WindowConfig struct {
	Name     string        `json:"name"`
	Duration time.Duration `json:"duration"`
	Capacity float64       `json:"capacity"`
}

// RateLimitConfig holds the library-wide default windows, applied to any
// service without its own window set. When Enabled is false the limiter
// admits everything and the window set is not validated.
type RateLimitConfig struct {
	Enabled bool           `json:"enabled"`
	Windows []WindowConfig `json:"windows"`
}

// ServiceConfig overrides per-service limits and carries the per-call cost
// estimate used by monitoring. Zero values fall back to the defaults.
//
//nolint:govet // Configuration struct - logical grouping prioritized over alignment
type ServiceConfig struct {
	Windows          []WindowConfig `json:"windows"`
	FailureThreshold int            `json:"failureThreshold"`
	SuccessThreshold int            `json:"successThreshold"`
	RecoveryTimeout  time.Duration  `json:"recoveryTimeout"`
	CostPerCall      float64        `json:"costPerCall"`
}

// BreakerConfig contains default circuit breaker settings.
type BreakerConfig struct {
	Enabled          bool          `json:"enabled"`
	FailureThreshold int           `json:"failureThreshold"`
	SuccessThreshold int           `json:"successThreshold"`
	RecoveryTimeout  time.Duration `json:"recoveryTimeout"`
}

// BreakerSettings are the resolved settings for one service.
type BreakerSettings struct {
	FailureThreshold int
	SuccessThreshold int
	RecoveryTimeout  time.Duration
}

// BulkheadConfig bounds concurrent in-flight upstream calls per service.
type BulkheadConfig struct {
	Enabled        bool          `json:"enabled"`
	MaxConcurrent  int           `json:"maxConcurrent"`
	MaxQueue       int           `json:"maxQueue"`
	AcquireTimeout time.Duration `json:"acquireTimeout"`
}

// LocalConfig contains configuration for the process-local cache tier.
type LocalConfig struct {
	Enabled          bool   `json:"enabled"`
	MaxKeys          int    `json:"maxKeys"`
	PromoteThreshold int    `json:"promoteThreshold"`
	// EvictionPolicy selects the tie-break when promotion must evict:
	// "hit-count" (lowest hit count, then oldest insertion) or "fifo".
	EvictionPolicy string `json:"evictionPolicy"`
}

// SharedConfig contains configuration for the shared (Redis) cache tier.
//
//nolint:govet // Configuration struct - logical grouping prioritized over alignment
type SharedConfig struct {
	Enabled             bool          `json:"enabled"`
	Address             string        `json:"address"`
	Password            SecretString  `json:"password"`
	DB                  int           `json:"db"`
	KeyPrefix           string        `json:"keyPrefix"`
	PoolSize            int           `json:"poolSize"`
	MinIdleConns        int           `json:"minIdleConns"`
	DialTimeout         time.Duration `json:"dialTimeout"`
	ReadTimeout         time.Duration `json:"readTimeout"`
	WriteTimeout        time.Duration `json:"writeTimeout"`
	PoolTimeout         time.Duration `json:"poolTimeout"`
	MaxPendingWrites    int           `json:"maxPendingWrites"`
	HealthCheckInterval time.Duration `json:"healthCheckInterval"`
	EnableTLS           bool          `json:"enableTLS"`
	TLSSkipVerify       bool          `json:"tlsSkipVerify"`
}

// TTLConfig names TTL tiers and assigns key namespaces to them.
// Multiplier scales every tier globally (e.g., 0.01 in test environments).
type TTLConfig struct {
	Tiers       map[string]time.Duration `json:"tiers"`
	Namespaces  map[string]string        `json:"namespaces"`
	DefaultTier string                   `json:"defaultTier"`
	Multiplier  float64                  `json:"multiplier"`
}

// InvalidationConfig configures the invalidation broadcast channel.
type InvalidationConfig struct {
	Channel string `json:"channel"`
}

// ExecutorConfig bounds the protected call path.
type ExecutorConfig struct {
	// CallTimeout bounds a single protected upstream call.
	CallTimeout time.Duration `json:"callTimeout"`
	// SharedReadTimeout bounds shared-tier reads on the fallback path;
	// an elapsed timeout is treated as a miss.
	SharedReadTimeout time.Duration `json:"sharedReadTimeout"`
	// MaintenanceInterval drives the expired-entry sweep and bucket pruning.
	MaintenanceInterval time.Duration `json:"maintenanceInterval"`
}

// MetricsConfig contains configuration for metrics publishing.
//
//nolint:govet // Small config struct - minimal alignment benefit
type MetricsConfig struct {
	PublishInterval time.Duration `json:"publishInterval"`
	DataDog         DataDogConfig `json:"datadog"`
	Enabled         bool          `json:"enabled"`
}

// DataDogConfig contains configuration for DataDog StatsD publishing.
//
//nolint:govet // Small config struct - minimal alignment benefit
type DataDogConfig struct {
	Tags      []string `json:"tags"`
	AgentHost string   `json:"agentHost"`
	Prefix    string   `json:"prefix"`
	Port      int      `json:"port"`
	Enabled   bool     `json:"enabled"`
}

// WindowsFor returns the admission windows for a service, falling back to
// the library-wide defaults.
func (c *Config) WindowsFor(service string) []WindowConfig {
	if svc, ok := c.Services[service]; ok && len(svc.Windows) > 0 {
		return svc.Windows
	}
	return c.RateLimit.Windows
}

// BreakerFor returns the resolved circuit settings for a service.
func (c *Config) BreakerFor(service string) BreakerSettings {
	s := BreakerSettings{
		FailureThreshold: c.Breaker.FailureThreshold,
		SuccessThreshold: c.Breaker.SuccessThreshold,
		RecoveryTimeout:  c.Breaker.RecoveryTimeout,
	}
	svc, ok := c.Services[service]
	if !ok {
		return s
	}
	if svc.FailureThreshold > 0 {
		s.FailureThreshold = svc.FailureThreshold
	}
	if svc.SuccessThreshold > 0 {
		s.SuccessThreshold = svc.SuccessThreshold
	}
	if svc.RecoveryTimeout > 0 {
		s.RecoveryTimeout = svc.RecoveryTimeout
	}
	return s
}

// CostFor returns the configured per-call cost estimate for a service.
func (c *Config) CostFor(service string) float64 {
	if svc, ok := c.Services[service]; ok {
		return svc.CostPerCall
	}
	return 0
}

// TTLFor resolves a key namespace to its tier duration, scaled by the
// global multiplier. Unknown namespaces use the default tier.
func (c *Config) TTLFor(namespace string) time.Duration {
	tier := c.TTL.DefaultTier
	if t, ok := c.TTL.Namespaces[namespace]; ok {
		tier = t
	}
	d := c.TTL.Tiers[tier]
	if c.TTL.Multiplier > 0 {
		d = time.Duration(float64(d) * c.TTL.Multiplier)
	}
	return d
}

// LargestWindow returns the longest configured window duration across the
// defaults and every service override. Buckets idle beyond this are pruned.
func (c *Config) LargestWindow() time.Duration {
	var largest time.Duration
	for _, w := range c.RateLimit.Windows {
		if w.Duration > largest {
			largest = w.Duration
		}
	}
	for _, svc := range c.Services {
		for _, w := range svc.Windows {
			if w.Duration > largest {
				largest = w.Duration
			}
		}
	}
	return largest
}

// Validate checks the configuration is complete enough to serve.
// A partially-configured guard refuses to start.
func (c *Config) Validate() error {
	if c.RateLimit.Enabled {
		if err := validateWindows("rateLimit.windows", c.RateLimit.Windows); err != nil {
			return err
		}
	}
	for name, svc := range c.Services {
		if len(svc.Windows) > 0 {
			if err := validateWindows("services."+name+".windows", svc.Windows); err != nil {
				return err
			}
		}
		if svc.FailureThreshold < 0 {
			return &types.ConfigError{Field: "services." + name + ".failureThreshold", Reason: "must not be negative"}
		}
		if svc.RecoveryTimeout < 0 {
			return &types.ConfigError{Field: "services." + name + ".recoveryTimeout", Reason: "must not be negative"}
		}
		if svc.CostPerCall < 0 {
			return &types.ConfigError{Field: "services." + name + ".costPerCall", Reason: "must not be negative"}
		}
	}

	if c.Breaker.Enabled {
		if c.Breaker.FailureThreshold < 1 {
			return &types.ConfigError{Field: "breaker.failureThreshold", Reason: "must be at least 1"}
		}
		if c.Breaker.SuccessThreshold < 1 {
			return &types.ConfigError{Field: "breaker.successThreshold", Reason: "must be at least 1"}
		}
		if c.Breaker.RecoveryTimeout <= 0 {
			return &types.ConfigError{Field: "breaker.recoveryTimeout", Reason: "must be positive"}
		}
	}

	if c.Local.Enabled {
		if c.Local.MaxKeys < 1 {
			return &types.ConfigError{Field: "local.maxKeys", Reason: "must be at least 1"}
		}
		if c.Local.PromoteThreshold < 1 {
			return &types.ConfigError{Field: "local.promoteThreshold", Reason: "must be at least 1"}
		}
		switch c.Local.EvictionPolicy {
		case "", EvictionHitCount, EvictionFIFO:
		default:
			return &types.ConfigError{Field: "local.evictionPolicy", Reason: "must be \"hit-count\" or \"fifo\""}
		}
	}

	if c.Shared.Enabled && c.Shared.Address == "" {
		return &types.ConfigError{Field: "shared.address", Reason: "required when shared tier is enabled"}
	}

	if c.TTL.Multiplier < 0 {
		return &types.ConfigError{Field: "ttl.multiplier", Reason: "must not be negative"}
	}
	if len(c.TTL.Tiers) == 0 {
		return &types.ConfigError{Field: "ttl.tiers", Reason: "at least one tier is required"}
	}
	for name, d := range c.TTL.Tiers {
		if d <= 0 {
			return &types.ConfigError{Field: "ttl.tiers." + name, Reason: "duration must be positive"}
		}
	}
	if c.TTL.DefaultTier == "" {
		return &types.ConfigError{Field: "ttl.defaultTier", Reason: "required"}
	}
	if _, ok := c.TTL.Tiers[c.TTL.DefaultTier]; !ok {
		return &types.ConfigError{Field: "ttl.defaultTier", Reason: fmt.Sprintf("unknown tier %q", c.TTL.DefaultTier)}
	}
	for ns, tier := range c.TTL.Namespaces {
		if _, ok := c.TTL.Tiers[tier]; !ok {
			return &types.ConfigError{Field: "ttl.namespaces." + ns, Reason: fmt.Sprintf("unknown tier %q", tier)}
		}
	}

	if c.Executor.CallTimeout <= 0 {
		return &types.ConfigError{Field: "executor.callTimeout", Reason: "must be positive"}
	}
	if c.Executor.MaintenanceInterval < 0 {
		return &types.ConfigError{Field: "executor.maintenanceInterval", Reason: "must not be negative"}
	}

	return nil
}

func validateWindows(field string, windows []WindowConfig) error {
	if len(windows) == 0 {
		return &types.ConfigError{Field: field, Reason: "at least one window is required"}
	}
	seen := make(map[string]bool, len(windows))
	for i, w := range windows {
		if w.Name == "" {
			return &types.ConfigError{Field: fmt.Sprintf("%s[%d].name", field, i), Reason: "required"}
		}
		if seen[w.Name] {
			return &types.ConfigError{Field: fmt.Sprintf("%s[%d].name", field, i), Reason: "duplicate window name " + w.Name}
		}
		seen[w.Name] = true
		if w.Duration <= 0 {
			return &types.ConfigError{Field: fmt.Sprintf("%s[%d].duration", field, i), Reason: "must be positive"}
		}
		if w.Capacity < 1 {
			return &types.ConfigError{Field: fmt.Sprintf("%s[%d].capacity", field, i), Reason: "must be at least 1"}
		}
	}
	return nil
}

// Eviction policy names for LocalConfig.EvictionPolicy.
const (
	EvictionHitCount = "hit-count"
	EvictionFIFO     = "fifo"
)
