package config

import (
	"os"
	"path/filepath"
)

// Default pool of AR.IO gateways used when no registry or config overrides
// them. The trusted set is intentionally small; consensus quality matters more
// than throughput there.
var (
	DefaultTrustedGateways = []string{
		"https://arweave.net",
		"https://permagate.io",
		"https://ar-io.dev",
	}

	DefaultRoutingGateways = []string{
		"https://arweave.net",
		"https://permagate.io",
		"https://ar-io.dev",
		"https://vilenarios.com",
		"https://ardrive.net",
	}
)

// Default limits. Use sites clamp their inputs to these bounds.
const (
	DefaultConcurrency           = 10
	MinConcurrency               = 1
	MaxConcurrency               = 20
	DefaultMaxOriginsPerResource = 3

	DefaultProbeTimeoutMs    = 10_000
	DefaultResolveTimeoutMs  = 10_000
	DefaultResourceTimeoutMs = 5_000
	DefaultWaitTimeoutMs     = 60_000

	DefaultHealthTTLSeconds = 300
	DefaultPoolTTLSeconds   = 60

	DefaultMaxCacheBytes = int64(500) * 1024 * 1024

	DefaultRetentionSeconds     = 1800
	DefaultSweepIntervalSeconds = 300
)

// DefaultConfig returns a configuration with sane defaults.
func DefaultConfig() *Config {
	return &Config{
		Version: Version,
		Gateways: GatewaysConfig{
			Trusted:          append([]string(nil), DefaultTrustedGateways...),
			Routing:          append([]string(nil), DefaultRoutingGateways...),
			PoolTTLSeconds:   DefaultPoolTTLSeconds,
			ProbeTimeoutMs:   DefaultProbeTimeoutMs,
			HealthTTLSeconds: DefaultHealthTTLSeconds,
		},
		Verification: VerificationConfig{
			Concurrency:           DefaultConcurrency,
			ResourceTimeoutMs:     DefaultResourceTimeoutMs,
			ResolveTimeoutMs:      DefaultResolveTimeoutMs,
			MaxOriginsPerResource: DefaultMaxOriginsPerResource,
			WaitTimeoutMs:         DefaultWaitTimeoutMs,
		},
		Cache: CacheConfig{
			MaxSizeBytes: DefaultMaxCacheBytes,
		},
		Runs: RunsConfig{
			RetentionSeconds:     DefaultRetentionSeconds,
			SweepIntervalSeconds: DefaultSweepIntervalSeconds,
		},
		Storage: StorageConfig{
			Backend: "memory",
			Path:    defaultStorePath(),
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			MaxSizeMB:  50,
			MaxBackups: 5,
		},
	}
}

// defaultStorePath returns the default sqlite path under XDG_DATA_HOME.
func defaultStorePath() string {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		homeDir, _ := os.UserHomeDir()
		dataHome = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dataHome, "wayfinder", "wayfinder.db")
}
