// Package metrics provides Prometheus-compatible metrics for wayfinder.
package metrics

// Set is the engine's metric set.
type Set struct {
	Registry *Registry

	VerificationsStarted  *Counter
	VerificationsComplete *Counter
	VerificationsPartial  *Counter
	VerificationsFailed   *Counter

	ResourcesVerified *Counter
	ResourcesFailed   *Counter

	GatewayFailures      *Counter
	ResolutionMismatches *Counter

	CacheHits      *Counter
	CacheMisses    *Counter
	CacheEvictions *Counter
	CacheBytes     *Gauge
	CacheResources *Gauge

	ActiveRuns *Gauge
}

// NewSet registers the engine metrics on a fresh registry.
func NewSet() *Set {
	r := NewRegistry()
	return &Set{
		Registry: r,

		VerificationsStarted:  r.Counter("wayfinder_verifications_started_total", "Verification runs started"),
		VerificationsComplete: r.Counter("wayfinder_verifications_complete_total", "Verification runs fully verified"),
		VerificationsPartial:  r.Counter("wayfinder_verifications_partial_total", "Verification runs with some failed resources"),
		VerificationsFailed:   r.Counter("wayfinder_verifications_failed_total", "Verification runs that failed outright"),

		ResourcesVerified: r.Counter("wayfinder_resources_verified_total", "Resources verified and cached"),
		ResourcesFailed:   r.Counter("wayfinder_resources_failed_total", "Resources that failed every origin"),

		GatewayFailures:      r.Counter("wayfinder_gateway_failures_total", "Gateway probe and fetch failures"),
		ResolutionMismatches: r.Counter("wayfinder_resolution_mismatches_total", "Identifier resolutions where gateways disagreed"),

		CacheHits:      r.Counter("wayfinder_cache_hits_total", "Verified-resource cache hits"),
		CacheMisses:    r.Counter("wayfinder_cache_misses_total", "Verified-resource cache misses"),
		CacheEvictions: r.Counter("wayfinder_cache_evictions_total", "Resources evicted to make room"),
		CacheBytes:     r.Gauge("wayfinder_cache_bytes", "Bytes held by the verified-resource cache"),
		CacheResources: r.Gauge("wayfinder_cache_resources", "Entries held by the verified-resource cache"),

		ActiveRuns: r.Gauge("wayfinder_active_runs", "Verification runs currently tracked"),
	}
}
