package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validation errors.
var (
	ErrNoTrustedGateways = errors.New("config: at least one trusted gateway is required")
	ErrBadOrigin         = errors.New("config: gateway origin must be an absolute http(s) URL without a path")
)

// Validate checks the configuration for consistency. It returns the first
// error encountered.
func (c *Config) Validate() error {
	if len(c.Gateways.Trusted) == 0 {
		return ErrNoTrustedGateways
	}
	for _, origin := range c.Gateways.Trusted {
		if err := validateOrigin(origin); err != nil {
			return fmt.Errorf("trusted gateway %q: %w", origin, err)
		}
	}
	for _, origin := range c.Gateways.Routing {
		if err := validateOrigin(origin); err != nil {
			return fmt.Errorf("routing gateway %q: %w", origin, err)
		}
	}

	if c.Verification.Concurrency < 0 {
		return fmt.Errorf("config: concurrency must be non-negative, got %d", c.Verification.Concurrency)
	}
	if c.Verification.MaxOriginsPerResource < 1 {
		return fmt.Errorf("config: max_origins_per_resource must be at least 1, got %d", c.Verification.MaxOriginsPerResource)
	}
	if c.Cache.MaxSizeBytes <= 0 {
		return fmt.Errorf("config: cache max_size_bytes must be positive, got %d", c.Cache.MaxSizeBytes)
	}
	if c.Runs.RetentionSeconds <= 0 {
		return fmt.Errorf("config: run retention_seconds must be positive, got %d", c.Runs.RetentionSeconds)
	}

	switch c.Storage.Backend {
	case "memory", "sqlite", "redis":
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.Storage.Backend)
	}
	if c.Storage.Backend == "sqlite" && c.Storage.Path == "" {
		return errors.New("config: sqlite backend requires storage.path")
	}
	if c.Storage.Backend == "redis" && c.Storage.RedisAddr == "" {
		return errors.New("config: redis backend requires storage.redis_addr")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.Logging.Level)
	}

	return nil
}

// validateOrigin checks that an origin is a bare scheme://host[:port] URL.
func validateOrigin(origin string) error {
	u, err := url.Parse(origin)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadOrigin, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ErrBadOrigin
	}
	if u.Host == "" || (u.Path != "" && u.Path != "/") || u.RawQuery != "" {
		return ErrBadOrigin
	}
	return nil
}
