package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Load loads configuration from a JSON file.
// If the file doesn't exist, returns default configuration.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadWithEnv loads configuration from a JSON file and applies environment
// overrides.
func LoadWithEnv(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

//nolint:gocyclo // Environment variable parsing requires many conditional checks
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("WAYGUARD_LOCAL_ENABLED"); v != "" {
		cfg.Local.Enabled = parseBool(v)
	}
	if v := os.Getenv("WAYGUARD_LOCAL_MAX_KEYS"); v != "" {
		cfg.Local.MaxKeys = parseInt(v, cfg.Local.MaxKeys)
	}
	if v := os.Getenv("WAYGUARD_LOCAL_PROMOTE_THRESHOLD"); v != "" {
		cfg.Local.PromoteThreshold = parseInt(v, cfg.Local.PromoteThreshold)
	}
	if v := os.Getenv("WAYGUARD_LOCAL_EVICTION_POLICY"); v != "" {
		cfg.Local.EvictionPolicy = v
	}

	if v := os.Getenv("WAYGUARD_SHARED_ENABLED"); v != "" {
		cfg.Shared.Enabled = parseBool(v)
	}
	if v := os.Getenv("WAYGUARD_SHARED_ADDRESS"); v != "" {
		cfg.Shared.Address = v
	}
	if v := os.Getenv("WAYGUARD_SHARED_PASSWORD"); v != "" {
		cfg.Shared.Password = NewSecretString(v)
	}
	if v := os.Getenv("WAYGUARD_SHARED_DB"); v != "" {
		cfg.Shared.DB = parseInt(v, cfg.Shared.DB)
	}
	if v := os.Getenv("WAYGUARD_SHARED_KEY_PREFIX"); v != "" {
		cfg.Shared.KeyPrefix = v
	}
	if v := os.Getenv("WAYGUARD_SHARED_ENABLE_TLS"); v != "" {
		cfg.Shared.EnableTLS = parseBool(v)
	}
	if v := os.Getenv("WAYGUARD_SHARED_TLS_SKIP_VERIFY"); v != "" {
		cfg.Shared.TLSSkipVerify = parseBool(v)
	}

	if v := os.Getenv("WAYGUARD_RATELIMIT_ENABLED"); v != "" {
		cfg.RateLimit.Enabled = parseBool(v)
	}

	if v := os.Getenv("WAYGUARD_BREAKER_ENABLED"); v != "" {
		cfg.Breaker.Enabled = parseBool(v)
	}
	if v := os.Getenv("WAYGUARD_BREAKER_FAILURE_THRESHOLD"); v != "" {
		cfg.Breaker.FailureThreshold = parseInt(v, cfg.Breaker.FailureThreshold)
	}
	if v := os.Getenv("WAYGUARD_BREAKER_RECOVERY_TIMEOUT"); v != "" {
		cfg.Breaker.RecoveryTimeout = parseDuration(v, cfg.Breaker.RecoveryTimeout)
	}

	if v := os.Getenv("WAYGUARD_TTL_MULTIPLIER"); v != "" {
		cfg.TTL.Multiplier = parseFloat(v, cfg.TTL.Multiplier)
	}
	if v := os.Getenv("WAYGUARD_TTL_DEFAULT_TIER"); v != "" {
		cfg.TTL.DefaultTier = v
	}

	if v := os.Getenv("WAYGUARD_INVALIDATION_CHANNEL"); v != "" {
		cfg.Invalidation.Channel = v
	}

	if v := os.Getenv("WAYGUARD_EXECUTOR_CALL_TIMEOUT"); v != "" {
		cfg.Executor.CallTimeout = parseDuration(v, cfg.Executor.CallTimeout)
	}
	if v := os.Getenv("WAYGUARD_EXECUTOR_MAINTENANCE_INTERVAL"); v != "" {
		cfg.Executor.MaintenanceInterval = parseDuration(v, cfg.Executor.MaintenanceInterval)
	}

	if v := os.Getenv("WAYGUARD_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("WAYGUARD_DATADOG_ENABLED"); v != "" {
		cfg.Metrics.DataDog.Enabled = parseBool(v)
	}
	if v := os.Getenv("WAYGUARD_DATADOG_AGENT_HOST"); v != "" {
		cfg.Metrics.DataDog.AgentHost = v
	}
	if v := os.Getenv("WAYGUARD_DATADOG_PORT"); v != "" {
		cfg.Metrics.DataDog.Port = parseInt(v, cfg.Metrics.DataDog.Port)
	}
}

func parseBool(v string) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false
	}
	return b
}

func parseInt(v string, fallback int) int {
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func parseFloat(v string, fallback float64) float64 {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func parseDuration(v string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
