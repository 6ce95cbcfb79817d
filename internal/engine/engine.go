// Package engine wires the wayfinder verification pipeline together: pools,
// health tracking, resolution, fetch/verify, the resource cache, and the
// per-identifier state machine. One Engine is constructed per process and
// owns all component instances; there is no ambient global state.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"wayfinder/internal/cache"
	"wayfinder/internal/config"
	"wayfinder/internal/events"
	"wayfinder/internal/fetch"
	"wayfinder/internal/gateway"
	"wayfinder/internal/metrics"
	"wayfinder/internal/resolve"
	"wayfinder/internal/runstate"
	"wayfinder/internal/store"
	"wayfinder/internal/verify"
)

// ErrResourceNotFound is returned when a requested path is absent from a
// verified manifest and the manifest has no fallback.
var ErrResourceNotFound = errors.New("engine: resource not found in manifest")

// Engine owns the verification pipeline.
type Engine struct {
	cfg *config.Config
	log *slog.Logger

	kv      store.KV
	ownsKV  bool
	fetcher fetch.Fetcher

	tracker  *gateway.HealthTracker
	pool     *gateway.Pool
	selector *gateway.Selector
	resolver *resolve.Resolver
	verifier *verify.Verifier
	cache    *cache.Cache
	state    *runstate.Machine
	bus      *events.Bus
	metrics  *metrics.Set

	sem         chan struct{}
	stopSweeper func()
}

// Option customizes Engine construction.
type Option func(*Engine)

// WithFetcher injects the network fetch capability.
func WithFetcher(f fetch.Fetcher) Option {
	return func(e *Engine) { e.fetcher = f }
}

// WithKV injects the key-value store; the engine will not close it.
func WithKV(kv store.KV) Option {
	return func(e *Engine) { e.kv = kv }
}

// WithLogger injects the logger.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// New constructs an Engine from configuration.
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	e := &Engine{cfg: cfg}
	for _, opt := range opts {
		opt(e)
	}

	if e.log == nil {
		e.log = slog.Default()
	}
	if e.fetcher == nil {
		e.fetcher = fetch.NewHTTPFetcher(fetch.HTTPOptions{})
	}
	if e.kv == nil {
		kv, err := OpenKV(context.Background(), cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		e.kv = kv
		e.ownsKV = true
	}

	e.metrics = metrics.NewSet()
	e.bus = events.NewBus()

	sink := events.Sink(e.bus)
	if cfg.Events.JSONLPath != "" {
		sink = events.Multi{e.bus, events.NewJSONLSink(cfg.Events.JSONLPath)}
	}

	e.tracker = gateway.NewHealthTracker(cfg.Gateways.HealthTTL(), e.log)
	e.pool = gateway.NewPool(e.kv, cfg.Gateways.PoolTTL(), cfg.Gateways.Trusted, cfg.Gateways.Routing, e.log)
	e.selector = gateway.NewSelector(e.tracker, e.log)
	e.resolver = resolve.NewResolver(e.pool, e.tracker, e.fetcher, cfg.Verification.ResolveTimeout(), e.log)
	e.cache = cache.New(cfg.Cache.MaxSizeBytes, e.log)
	e.cache.SetOnEvict(func(string, int64) { e.metrics.CacheEvictions.Inc() })
	e.state = runstate.New(sink, cfg.Runs.Retention(), e.log)

	manifestStrategy := &verify.HashStrategy{Source: &verify.GatewayTrust{
		Fetcher:         e.fetcher,
		Pool:            e.pool,
		Tracker:         e.tracker,
		Timeout:         cfg.Gateways.ProbeTimeout(),
		RefetchFallback: true,
		Log:             e.log,
	}}
	resourceStrategy := &verify.HashStrategy{Source: &verify.GatewayTrust{
		Fetcher: e.fetcher,
		Pool:    e.pool,
		Tracker: e.tracker,
		Timeout: cfg.Verification.ResourceTimeout(),
		Log:     e.log,
	}}
	e.verifier = verify.NewVerifier(e.fetcher, manifestStrategy, resourceStrategy,
		e.cache, cfg.Gateways.ProbeTimeout(), e.log)

	e.sem = make(chan struct{}, clampConcurrency(cfg.Verification.Concurrency))
	e.stopSweeper = e.startSweeper(cfg.Runs.SweepInterval())

	return e, nil
}

// startSweeper periodically drops terminal runs past retention and expired
// health blacklist entries.
func (e *Engine) startSweeper(interval time.Duration) func() {
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if n := e.state.Sweep(); n > 0 {
					e.log.Debug("swept finished runs", slog.Int("count", n))
				}
				e.tracker.SweepExpired()
				e.syncGauges()
			}
		}
	}()
	return func() { close(done) }
}

// clampConcurrency bounds the fan-out limit to [1,20], defaulting to 10.
func clampConcurrency(n int) int {
	switch {
	case n <= 0:
		return config.DefaultConcurrency
	case n < config.MinConcurrency:
		return config.MinConcurrency
	case n > config.MaxConcurrency:
		return config.MaxConcurrency
	}
	return n
}

// OpenKV opens the configured storage backend.
func OpenKV(ctx context.Context, cfg config.StorageConfig) (store.KV, error) {
	switch cfg.Backend {
	case "", "memory":
		return store.NewMemory(), nil
	case "sqlite":
		return store.OpenSQLite(cfg.Path)
	case "redis":
		return store.OpenRedis(ctx, store.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	default:
		return nil, fmt.Errorf("engine: unknown storage backend %q", cfg.Backend)
	}
}

// Close stops background work and releases owned resources.
func (e *Engine) Close() error {
	if e.stopSweeper != nil {
		e.stopSweeper()
	}
	if e.ownsKV && e.kv != nil {
		return e.kv.Close()
	}
	return nil
}

// Subscribe registers an event callback and returns an unsubscribe func.
func (e *Engine) Subscribe(fn func(events.Event)) func() {
	return e.bus.Subscribe(fn)
}

// Cache exposes the verified-resource cache to the serving layer.
func (e *Engine) Cache() *cache.Cache {
	return e.cache
}

// Health exposes the gateway health tracker.
func (e *Engine) Health() *gateway.HealthTracker {
	return e.tracker
}

// Pool exposes the gateway pools.
func (e *Engine) Pool() *gateway.Pool {
	return e.pool
}

// Metrics exposes the engine metric set.
func (e *Engine) Metrics() *metrics.Set {
	return e.metrics
}

// Resolve maps an identifier to a content id without starting a run.
func (e *Engine) Resolve(ctx context.Context, identifier string) (resolve.Resolution, error) {
	return e.resolver.Resolve(ctx, identifier)
}

// SelectGateway probes the routing pool in stake order and returns the first
// origin that actually answers for the content id. Unhealthy hosts are
// skipped; if every host is blacklisted the blacklist is cleared and the full
// pool retried.
func (e *Engine) SelectGateway(ctx context.Context, contentID string) (string, error) {
	origins := gateway.Origins(e.pool.Routing(ctx))
	probe := resolve.ProbeOrigin(e.fetcher, contentID, e.cfg.Gateways.ProbeTimeout())
	return e.selector.SelectWorking(ctx, origins, probe)
}

// GetState returns the current run snapshot for an identifier.
func (e *Engine) GetState(identifier string) (runstate.Snapshot, bool) {
	return e.state.GetState(identifier)
}

// IsComplete reports whether the identifier verified fully.
func (e *Engine) IsComplete(identifier string) bool {
	return e.state.IsComplete(identifier)
}

// IsInProgress reports whether a run for the identifier is still moving.
func (e *Engine) IsInProgress(identifier string) bool {
	return e.state.IsInProgress(identifier)
}

// Clear discards the identifier's run and purges its cached resources.
func (e *Engine) Clear(identifier string) {
	ids := e.state.Clear(identifier)
	if len(ids) > 0 {
		e.cache.ClearFor(ids)
	}
	e.syncGauges()
}

// ResourceForPath returns the verified bytes for a path under a verified or
// partially-verified identifier. Falls back to the manifest fallback entry
// when the path is absent and a fallback exists.
func (e *Engine) ResourceForPath(identifier, path string) (cache.Resource, error) {
	snap, ok := e.state.GetState(identifier)
	if !ok || snap.Manifest == nil {
		return cache.Resource{}, fmt.Errorf("%w: %s has no verified manifest", ErrResourceNotFound, identifier)
	}

	if path == "" || path == "/" {
		path = snap.IndexPath
	}

	contentID, ok := snap.Manifest.ContentIDFor(path)
	if !ok {
		if fb := snap.Manifest.FallbackID(); fb != "" {
			contentID = fb
		} else {
			return cache.Resource{}, fmt.Errorf("%w: %q", ErrResourceNotFound, path)
		}
	}

	res, ok := e.cache.Get(contentID)
	if !ok {
		e.metrics.CacheMisses.Inc()
		return cache.Resource{}, fmt.Errorf("%w: %q not in cache", ErrResourceNotFound, path)
	}
	e.metrics.CacheHits.Inc()
	return res, nil
}

// syncGauges refreshes occupancy gauges from their sources.
func (e *Engine) syncGauges() {
	stats := e.cache.Stats()
	e.metrics.CacheBytes.Set(stats.TotalBytes)
	e.metrics.CacheResources.Set(int64(stats.Count))
	e.metrics.ActiveRuns.Set(int64(e.state.Len()))
}
