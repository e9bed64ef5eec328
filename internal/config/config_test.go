package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mgrinalds/wayguard/internal/types"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Shared.Enabled {
		t.Error("shared tier enabled by default, want opt-in")
	}
	if len(cfg.RateLimit.Windows) != 4 {
		t.Errorf("default windows = %d, want 4", len(cfg.RateLimit.Windows))
	}
}

func TestForTestingValid(t *testing.T) {
	if err := ForTesting().Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
}

func TestValidateFailures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{
			name:   "no windows",
			mutate: func(c *Config) { c.RateLimit.Windows = nil },
			field:  "rateLimit.windows",
		},
		{
			name: "zero capacity window",
			mutate: func(c *Config) {
				c.RateLimit.Windows = []WindowConfig{{Name: "second", Duration: time.Second}}
			},
		},
		{
			name: "duplicate window name",
			mutate: func(c *Config) {
				c.RateLimit.Windows = []WindowConfig{
					{Name: "second", Duration: time.Second, Capacity: 1},
					{Name: "second", Duration: time.Minute, Capacity: 2},
				}
			},
		},
		{
			name:   "breaker threshold zero",
			mutate: func(c *Config) { c.Breaker.FailureThreshold = 0 },
			field:  "breaker.failureThreshold",
		},
		{
			name:   "local max keys zero",
			mutate: func(c *Config) { c.Local.MaxKeys = 0 },
			field:  "local.maxKeys",
		},
		{
			name:   "bad eviction policy",
			mutate: func(c *Config) { c.Local.EvictionPolicy = "lru" },
			field:  "local.evictionPolicy",
		},
		{
			name: "shared enabled without address",
			mutate: func(c *Config) {
				c.Shared.Enabled = true
				c.Shared.Address = ""
			},
			field: "shared.address",
		},
		{
			name:   "negative ttl multiplier",
			mutate: func(c *Config) { c.TTL.Multiplier = -1 },
			field:  "ttl.multiplier",
		},
		{
			name:   "default tier unknown",
			mutate: func(c *Config) { c.TTL.DefaultTier = "eternal" },
			field:  "ttl.defaultTier",
		},
		{
			name:   "namespace maps to unknown tier",
			mutate: func(c *Config) { c.TTL.Namespaces = map[string]string{"place": "eternal"} },
		},
		{
			name:   "call timeout zero",
			mutate: func(c *Config) { c.Executor.CallTimeout = 0 },
			field:  "executor.callTimeout",
		},
		{
			name: "negative service cost",
			mutate: func(c *Config) {
				c.Services = map[string]ServiceConfig{"geo": {CostPerCall: -1}}
			},
			field: "services.geo.costPerCall",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			var cfgErr *types.ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("Validate = %v, want ConfigError", err)
			}
			if tt.field != "" && cfgErr.Field != tt.field {
				t.Errorf("field = %q, want %q", cfgErr.Field, tt.field)
			}
		})
	}
}

func TestValidateDisabledRateLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimit.Enabled = false
	cfg.RateLimit.Windows = nil

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate with rate limiting disabled = %v, want nil", err)
	}
}

func TestTTLFor(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TTL.Tiers = map[string]time.Duration{
		"short": 5 * time.Minute,
		"long":  24 * time.Hour,
	}
	cfg.TTL.Namespaces = map[string]string{"place": "long"}
	cfg.TTL.DefaultTier = "short"

	if got := cfg.TTLFor("place"); got != 24*time.Hour {
		t.Errorf("TTLFor(place) = %v, want 24h", got)
	}
	if got := cfg.TTLFor("unmapped"); got != 5*time.Minute {
		t.Errorf("TTLFor(unmapped) = %v, want default tier 5m", got)
	}

	cfg.TTL.Multiplier = 2.0
	if got := cfg.TTLFor("place"); got != 48*time.Hour {
		t.Errorf("TTLFor with multiplier = %v, want 48h", got)
	}
}

func TestServiceOverrides(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Services = map[string]ServiceConfig{
		"geocoding": {
			Windows:          []WindowConfig{{Name: "second", Duration: time.Second, Capacity: 2}},
			FailureThreshold: 10,
			CostPerCall:      0.005,
		},
	}

	if got := cfg.WindowsFor("geocoding"); len(got) != 1 || got[0].Capacity != 2 {
		t.Errorf("WindowsFor(geocoding) = %v, want service override", got)
	}
	if got := cfg.WindowsFor("weather"); len(got) != len(cfg.RateLimit.Windows) {
		t.Errorf("WindowsFor(weather) = %v, want library defaults", got)
	}

	b := cfg.BreakerFor("geocoding")
	if b.FailureThreshold != 10 {
		t.Errorf("FailureThreshold = %d, want 10", b.FailureThreshold)
	}
	// Unset fields inherit the defaults.
	if b.SuccessThreshold != cfg.Breaker.SuccessThreshold {
		t.Errorf("SuccessThreshold = %d, want inherited %d", b.SuccessThreshold, cfg.Breaker.SuccessThreshold)
	}

	if got := cfg.CostFor("geocoding"); got != 0.005 {
		t.Errorf("CostFor(geocoding) = %v, want 0.005", got)
	}
	if got := cfg.CostFor("weather"); got != 0 {
		t.Errorf("CostFor(weather) = %v, want 0", got)
	}
}

func TestLargestWindow(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.LargestWindow(); got != 24*time.Hour {
		t.Errorf("LargestWindow = %v, want 24h", got)
	}

	cfg.Services = map[string]ServiceConfig{
		"batch": {Windows: []WindowConfig{{Name: "week", Duration: 7 * 24 * time.Hour, Capacity: 1}}},
	}
	if got := cfg.LargestWindow(); got != 7*24*time.Hour {
		t.Errorf("LargestWindow with service override = %v, want 168h", got)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Local.MaxKeys != DefaultConfig().Local.MaxKeys {
		t.Errorf("MaxKeys = %d, want default", cfg.Local.MaxKeys)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	data := `{
		"local": {"enabled": true, "maxKeys": 500, "promoteThreshold": 5},
		"invalidation": {"channel": "travel:invalidations"}
	}`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Local.MaxKeys != 500 {
		t.Errorf("MaxKeys = %d, want 500", cfg.Local.MaxKeys)
	}
	if cfg.Local.PromoteThreshold != 5 {
		t.Errorf("PromoteThreshold = %d, want 5", cfg.Local.PromoteThreshold)
	}
	if cfg.Invalidation.Channel != "travel:invalidations" {
		t.Errorf("Channel = %q, want travel:invalidations", cfg.Invalidation.Channel)
	}
	// Untouched sections keep their defaults.
	if cfg.Breaker.FailureThreshold != 5 {
		t.Errorf("FailureThreshold = %d, want default 5", cfg.Breaker.FailureThreshold)
	}
}

func TestLoadInvalidFileRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	data := `{"local": {"enabled": true, "maxKeys": 0}}`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("Load accepted invalid configuration")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("WAYGUARD_LOCAL_MAX_KEYS", "64")
	t.Setenv("WAYGUARD_SHARED_ENABLED", "true")
	t.Setenv("WAYGUARD_SHARED_ADDRESS", "redis.internal:6379")
	t.Setenv("WAYGUARD_SHARED_PASSWORD", "hunter2")
	t.Setenv("WAYGUARD_BREAKER_RECOVERY_TIMEOUT", "45s")
	t.Setenv("WAYGUARD_TTL_MULTIPLIER", "0.5")

	cfg, err := LoadWithEnv("")
	if err != nil {
		t.Fatalf("LoadWithEnv: %v", err)
	}

	if cfg.Local.MaxKeys != 64 {
		t.Errorf("MaxKeys = %d, want 64", cfg.Local.MaxKeys)
	}
	if !cfg.Shared.Enabled || cfg.Shared.Address != "redis.internal:6379" {
		t.Errorf("shared = %v %q, want enabled at redis.internal:6379", cfg.Shared.Enabled, cfg.Shared.Address)
	}
	if cfg.Shared.Password.Value() != "hunter2" {
		t.Error("password override not applied")
	}
	if cfg.Breaker.RecoveryTimeout != 45*time.Second {
		t.Errorf("RecoveryTimeout = %v, want 45s", cfg.Breaker.RecoveryTimeout)
	}
	if cfg.TTL.Multiplier != 0.5 {
		t.Errorf("Multiplier = %v, want 0.5", cfg.TTL.Multiplier)
	}
}

func TestSecretStringRedacted(t *testing.T) {
	s := NewSecretString("hunter2")
	if s.String() == "hunter2" {
		t.Error("String() leaks the secret")
	}
	if s.Value() != "hunter2" {
		t.Errorf("Value() = %q, want hunter2", s.Value())
	}
}
