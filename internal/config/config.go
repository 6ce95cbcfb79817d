// Package config handles configuration loading, validation, and management
// for the wayfinder verification engine.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete engine configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Gateways configures the trusted and routing gateway pools.
	Gateways GatewaysConfig `toml:"gateways" json:"gateways" yaml:"gateways"`

	// Verification configures the fetch/verify pipeline.
	Verification VerificationConfig `toml:"verification" json:"verification" yaml:"verification"`

	// Cache configures the verified-resource cache.
	Cache CacheConfig `toml:"cache" json:"cache" yaml:"cache"`

	// Runs configures verification-run retention.
	Runs RunsConfig `toml:"runs" json:"runs" yaml:"runs"`

	// Storage configures the key-value store backend.
	Storage StorageConfig `toml:"storage" json:"storage" yaml:"storage"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// Events configures the optional event audit trail.
	Events EventsConfig `toml:"events" json:"events" yaml:"events"`
}

// GatewaysConfig holds gateway pool configuration.
type GatewaysConfig struct {
	// Trusted is the pool of gateways used for consensus and trust data.
	Trusted []string `toml:"trusted" json:"trusted" yaml:"trusted"`

	// Routing is the broader pool used for content delivery.
	Routing []string `toml:"routing" json:"routing" yaml:"routing"`

	// PoolTTLSeconds is how long a derived candidate pool is reused.
	PoolTTLSeconds int `toml:"pool_ttl_seconds" json:"pool_ttl_seconds" yaml:"pool_ttl_seconds"`

	// ProbeTimeoutMs bounds health and resolution probes.
	ProbeTimeoutMs int `toml:"probe_timeout_ms" json:"probe_timeout_ms" yaml:"probe_timeout_ms"`

	// HealthTTLSeconds is how long a failed gateway stays blacklisted.
	HealthTTLSeconds int `toml:"health_ttl_seconds" json:"health_ttl_seconds" yaml:"health_ttl_seconds"`
}

// VerificationConfig holds fetch/verify pipeline configuration.
type VerificationConfig struct {
	// Concurrency is the resource-verification fan-out limit, clamped to [1,20].
	Concurrency int `toml:"concurrency" json:"concurrency" yaml:"concurrency"`

	// ResourceTimeoutMs bounds each per-resource fetch attempt.
	ResourceTimeoutMs int `toml:"resource_timeout_ms" json:"resource_timeout_ms" yaml:"resource_timeout_ms"`

	// ResolveTimeoutMs bounds identifier resolution probes.
	ResolveTimeoutMs int `toml:"resolve_timeout_ms" json:"resolve_timeout_ms" yaml:"resolve_timeout_ms"`

	// MaxOriginsPerResource is how many origins are tried per resource.
	MaxOriginsPerResource int `toml:"max_origins_per_resource" json:"max_origins_per_resource" yaml:"max_origins_per_resource"`

	// WaitTimeoutMs bounds callers waiting on an in-progress run.
	WaitTimeoutMs int `toml:"wait_timeout_ms" json:"wait_timeout_ms" yaml:"wait_timeout_ms"`
}

// CacheConfig holds verified-resource cache configuration.
type CacheConfig struct {
	// MaxSizeBytes caps the total bytes held by the cache.
	MaxSizeBytes int64 `toml:"max_size_bytes" json:"max_size_bytes" yaml:"max_size_bytes"`
}

// RunsConfig holds verification-run retention configuration.
type RunsConfig struct {
	// RetentionSeconds is how long completed runs are kept before sweeping.
	RetentionSeconds int `toml:"retention_seconds" json:"retention_seconds" yaml:"retention_seconds"`

	// SweepIntervalSeconds is how often the sweeper runs.
	SweepIntervalSeconds int `toml:"sweep_interval_seconds" json:"sweep_interval_seconds" yaml:"sweep_interval_seconds"`
}

// StorageConfig holds key-value store configuration.
type StorageConfig struct {
	// Backend selects the store: "memory", "sqlite", or "redis".
	Backend string `toml:"backend" json:"backend" yaml:"backend"`

	// Path is the sqlite database path.
	Path string `toml:"path" json:"path" yaml:"path"`

	// RedisAddr is the redis host:port.
	RedisAddr string `toml:"redis_addr" json:"redis_addr" yaml:"redis_addr"`

	// RedisPassword authenticates against redis when set.
	RedisPassword string `toml:"redis_password" json:"redis_password" yaml:"redis_password"`

	// RedisDB selects the redis database index.
	RedisDB int `toml:"redis_db" json:"redis_db" yaml:"redis_db"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `toml:"level" json:"level" yaml:"level"`
	Format     string `toml:"format" json:"format" yaml:"format"`
	Output     string `toml:"output" json:"output" yaml:"output"`
	FilePath   string `toml:"file_path" json:"file_path" yaml:"file_path"`
	MaxSizeMB  int64  `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" json:"max_backups" yaml:"max_backups"`
}

// EventsConfig holds event sink configuration.
type EventsConfig struct {
	// JSONLPath enables an append-only JSONL audit trail when set.
	JSONLPath string `toml:"jsonl_path" json:"jsonl_path" yaml:"jsonl_path"`
}

// Duration accessors. Config files carry integer units; callers want
// time.Duration.

func (g GatewaysConfig) PoolTTL() time.Duration { return time.Duration(g.PoolTTLSeconds) * time.Second }

func (g GatewaysConfig) ProbeTimeout() time.Duration {
	return time.Duration(g.ProbeTimeoutMs) * time.Millisecond
}

func (g GatewaysConfig) HealthTTL() time.Duration {
	return time.Duration(g.HealthTTLSeconds) * time.Second
}

func (v VerificationConfig) ResourceTimeout() time.Duration {
	return time.Duration(v.ResourceTimeoutMs) * time.Millisecond
}

func (v VerificationConfig) ResolveTimeout() time.Duration {
	return time.Duration(v.ResolveTimeoutMs) * time.Millisecond
}

func (v VerificationConfig) WaitTimeout() time.Duration {
	return time.Duration(v.WaitTimeoutMs) * time.Millisecond
}

func (r RunsConfig) Retention() time.Duration {
	return time.Duration(r.RetentionSeconds) * time.Second
}

func (r RunsConfig) SweepInterval() time.Duration {
	return time.Duration(r.SweepIntervalSeconds) * time.Second
}

// ApplyEnvOverrides applies WAYFINDER_* environment variables on top of the
// loaded configuration. Unparseable values are ignored.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("WAYFINDER_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("WAYFINDER_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("WAYFINDER_LOG_OUTPUT"); v != "" {
		c.Logging.Output = v
	}
	if v := os.Getenv("WAYFINDER_STORAGE_BACKEND"); v != "" {
		c.Storage.Backend = v
	}
	if v := os.Getenv("WAYFINDER_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("WAYFINDER_REDIS_ADDR"); v != "" {
		c.Storage.RedisAddr = v
	}
	if v := os.Getenv("WAYFINDER_TRUSTED_GATEWAYS"); v != "" {
		c.Gateways.Trusted = splitList(v)
	}
	if v := os.Getenv("WAYFINDER_ROUTING_GATEWAYS"); v != "" {
		c.Gateways.Routing = splitList(v)
	}
	if v := os.Getenv("WAYFINDER_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Verification.Concurrency = n
		}
	}
	if v := os.Getenv("WAYFINDER_CACHE_MAX_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Cache.MaxSizeBytes = n
		}
	}
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
