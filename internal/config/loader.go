package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Loader handles configuration loading, watching, and hot-reloading.
type Loader struct {
	path     string
	config   *Config
	mu       sync.RWMutex
	watcher  *fsnotify.Watcher
	onChange []func(*Config)
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewLoader creates a new configuration loader for the given path. An empty
// path yields defaults plus environment overrides.
func NewLoader(path string) *Loader {
	ctx, cancel := context.WithCancel(context.Background())
	return &Loader{
		path:   path,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Load reads and parses the configuration file, applies .env and environment
// overrides, and validates the result.
func (l *Loader) Load() (*Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cfg, err := Load(l.path)
	if err != nil {
		return nil, err
	}

	l.config = cfg
	return cfg, nil
}

// Current returns the most recently loaded configuration.
func (l *Loader) Current() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.config
}

// OnChange registers a callback invoked after a successful hot reload.
func (l *Loader) OnChange(fn func(*Config)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, fn)
}

// Watch starts watching the config file for changes. A failed reload keeps
// the previous configuration.
func (l *Loader) Watch() error {
	if l.path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(l.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch config dir: %w", err)
	}

	l.watcher = watcher
	go l.watchLoop()
	return nil
}

func (l *Loader) watchLoop() {
	for {
		select {
		case <-l.ctx.Done():
			return
		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if event.Name != l.path {
				continue
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
				continue
			}

			cfg, err := Load(l.path)
			if err != nil {
				continue
			}

			l.mu.Lock()
			l.config = cfg
			callbacks := append([]func(*Config){}, l.onChange...)
			l.mu.Unlock()

			for _, fn := range callbacks {
				fn(cfg)
			}
		case _, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// Close stops watching and releases resources.
func (l *Loader) Close() error {
	l.cancel()
	if l.watcher != nil {
		return l.watcher.Close()
	}
	return nil
}

// Load reads a configuration file by extension (.toml, .yaml/.yml, .json),
// fills unset fields with defaults, applies .env plus WAYFINDER_* overrides,
// and validates. An empty path skips the file step.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}

		switch strings.ToLower(filepath.Ext(path)) {
		case ".toml":
			if err := toml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse toml config: %w", err)
			}
		case ".yaml", ".yml":
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse yaml config: %w", err)
			}
		case ".json":
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse json config: %w", err)
			}
		default:
			return nil, fmt.Errorf("config: unsupported file extension %q", filepath.Ext(path))
		}
		cfg.fillDefaults()
	}

	// Best-effort .env; absence is normal.
	_ = godotenv.Load()
	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return cfg, nil
}

// fillDefaults replaces zero values left by a sparse config file.
func (c *Config) fillDefaults() {
	def := DefaultConfig()

	if c.Version == 0 {
		c.Version = def.Version
	}
	if len(c.Gateways.Trusted) == 0 {
		c.Gateways.Trusted = def.Gateways.Trusted
	}
	if len(c.Gateways.Routing) == 0 {
		c.Gateways.Routing = def.Gateways.Routing
	}
	if c.Gateways.PoolTTLSeconds == 0 {
		c.Gateways.PoolTTLSeconds = def.Gateways.PoolTTLSeconds
	}
	if c.Gateways.ProbeTimeoutMs == 0 {
		c.Gateways.ProbeTimeoutMs = def.Gateways.ProbeTimeoutMs
	}
	if c.Gateways.HealthTTLSeconds == 0 {
		c.Gateways.HealthTTLSeconds = def.Gateways.HealthTTLSeconds
	}
	if c.Verification.Concurrency == 0 {
		c.Verification.Concurrency = def.Verification.Concurrency
	}
	if c.Verification.ResourceTimeoutMs == 0 {
		c.Verification.ResourceTimeoutMs = def.Verification.ResourceTimeoutMs
	}
	if c.Verification.ResolveTimeoutMs == 0 {
		c.Verification.ResolveTimeoutMs = def.Verification.ResolveTimeoutMs
	}
	if c.Verification.MaxOriginsPerResource == 0 {
		c.Verification.MaxOriginsPerResource = def.Verification.MaxOriginsPerResource
	}
	if c.Verification.WaitTimeoutMs == 0 {
		c.Verification.WaitTimeoutMs = def.Verification.WaitTimeoutMs
	}
	if c.Cache.MaxSizeBytes == 0 {
		c.Cache.MaxSizeBytes = def.Cache.MaxSizeBytes
	}
	if c.Runs.RetentionSeconds == 0 {
		c.Runs.RetentionSeconds = def.Runs.RetentionSeconds
	}
	if c.Runs.SweepIntervalSeconds == 0 {
		c.Runs.SweepIntervalSeconds = def.Runs.SweepIntervalSeconds
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = def.Storage.Backend
	}
	if c.Storage.Path == "" {
		c.Storage.Path = def.Storage.Path
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = def.Logging.Format
	}
	if c.Logging.Output == "" {
		c.Logging.Output = def.Logging.Output
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = def.Logging.MaxSizeMB
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = def.Logging.MaxBackups
	}
}
