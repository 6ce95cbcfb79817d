package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"wayfinder/internal/store"
)

// KV keys for the gateway registry and cached pool snapshots.
const (
	registryKey    = "gateways/registry"
	trustedPoolKey = "gateways/pool/trusted"
	routingPoolKey = "gateways/pool/routing"
)

// Gateway is a candidate origin with its operator stake. Higher stake ranks
// earlier in derived pools.
type Gateway struct {
	Origin string `json:"origin"`
	Stake  int64  `json:"stake"`
}

// Origins projects a gateway list to its origin strings.
func Origins(gateways []Gateway) []string {
	out := make([]string, len(gateways))
	for i, g := range gateways {
		out[i] = g.Origin
	}
	return out
}

// poolSnapshot is the persisted form of a derived pool.
type poolSnapshot struct {
	Gateways  []Gateway `json:"gateways"`
	DerivedAt time.Time `json:"derived_at"`
}

// Pool derives ranked candidate gateway lists from configured seeds plus the
// external registry held in the KV store. Derived pools are cached with a TTL
// to avoid re-deriving per request, and snapshotted back to the KV store so a
// restarted process starts from the last-known registry.
type Pool struct {
	kv          store.KV
	ttl         time.Duration
	trustedSeed []string
	routingSeed []string
	log         *slog.Logger

	mu      sync.Mutex
	trusted cachedPool
	routing cachedPool
}

type cachedPool struct {
	gateways  []Gateway
	derivedAt time.Time
}

// NewPool creates a Pool. Seeds come from configuration and are always part
// of the derived pools; registry entries add to and re-rank them.
func NewPool(kv store.KV, ttl time.Duration, trustedSeed, routingSeed []string, log *slog.Logger) *Pool {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &Pool{
		kv:          kv,
		ttl:         ttl,
		trustedSeed: trustedSeed,
		routingSeed: routingSeed,
		log:         log.With(slog.String("component", "pool")),
	}
}

// Trusted returns the ranked trusted pool used for consensus and trust data.
func (p *Pool) Trusted(ctx context.Context) []Gateway {
	return p.derive(ctx, &p.trusted, trustedPoolKey, p.trustedSeed)
}

// Routing returns the ranked broader pool used for content delivery.
func (p *Pool) Routing(ctx context.Context) []Gateway {
	return p.derive(ctx, &p.routing, routingPoolKey, p.routingSeed)
}

// derive returns the cached pool while fresh, otherwise rebuilds it from the
// seeds and the KV registry.
func (p *Pool) derive(ctx context.Context, cache *cachedPool, snapshotKey string, seeds []string) []Gateway {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(cache.gateways) > 0 && time.Since(cache.derivedAt) < p.ttl {
		return append([]Gateway(nil), cache.gateways...)
	}

	registry := p.loadRegistry(ctx)

	byOrigin := make(map[string]Gateway, len(seeds)+len(registry))
	order := make([]string, 0, len(seeds)+len(registry))
	for _, origin := range seeds {
		if _, ok := byOrigin[origin]; !ok {
			byOrigin[origin] = Gateway{Origin: origin}
			order = append(order, origin)
		}
	}
	for _, g := range registry {
		if _, ok := byOrigin[g.Origin]; !ok {
			order = append(order, g.Origin)
		}
		byOrigin[g.Origin] = g
	}

	gateways := make([]Gateway, 0, len(order))
	for _, origin := range order {
		gateways = append(gateways, byOrigin[origin])
	}
	sort.SliceStable(gateways, func(i, j int) bool {
		return gateways[i].Stake > gateways[j].Stake
	})

	cache.gateways = gateways
	cache.derivedAt = time.Now()

	p.persistSnapshot(ctx, snapshotKey, gateways)
	return append([]Gateway(nil), gateways...)
}

// loadRegistry reads the external gateway registry from the KV store.
// Absence or corruption yields an empty registry; the seeds still stand.
func (p *Pool) loadRegistry(ctx context.Context) []Gateway {
	if p.kv == nil {
		return nil
	}

	values, err := p.kv.Get(ctx, registryKey)
	if err != nil {
		p.log.Warn("registry read failed", slog.Any("error", err))
		return nil
	}
	raw, ok := values[registryKey]
	if !ok {
		return nil
	}

	var registry []Gateway
	if err := json.Unmarshal(raw, &registry); err != nil {
		p.log.Warn("registry entry malformed", slog.Any("error", err))
		return nil
	}
	return registry
}

// persistSnapshot writes the derived pool back to the KV store, best effort.
func (p *Pool) persistSnapshot(ctx context.Context, key string, gateways []Gateway) {
	if p.kv == nil {
		return
	}

	raw, err := json.Marshal(poolSnapshot{Gateways: gateways, DerivedAt: time.Now()})
	if err != nil {
		return
	}
	if err := p.kv.Set(ctx, map[string][]byte{key: raw}); err != nil {
		p.log.Debug("pool snapshot write failed", slog.Any("error", err))
	}
}

// SetRegistry replaces the external registry in the KV store and invalidates
// the cached pools.
func (p *Pool) SetRegistry(ctx context.Context, registry []Gateway) error {
	raw, err := json.Marshal(registry)
	if err != nil {
		return fmt.Errorf("marshal registry: %w", err)
	}
	if err := p.kv.Set(ctx, map[string][]byte{registryKey: raw}); err != nil {
		return fmt.Errorf("write registry: %w", err)
	}

	p.Invalidate()
	return nil
}

// Invalidate drops the cached pools so the next call re-derives them.
func (p *Pool) Invalidate() {
	p.mu.Lock()
	p.trusted = cachedPool{}
	p.routing = cachedPool{}
	p.mu.Unlock()
}
