// Package gateway tracks origin health and supplies candidate gateway pools
// for resolution, trust probing, and content routing.
package gateway

import (
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"
)

// HealthEntry records a gateway failure. It is authoritative only while
// now < ExpiresAt; expired entries are treated as absent.
type HealthEntry struct {
	Hostname  string    `json:"hostname"`
	FailedAt  time.Time `json:"failed_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Reason    string    `json:"reason,omitempty"`
}

// HealthTracker is a time-boxed blacklist of failing gateways, keyed by
// hostname so path/query variants of one origin share health state.
type HealthTracker struct {
	mu         sync.Mutex
	entries    map[string]HealthEntry
	defaultTTL time.Duration
	log        *slog.Logger
	now        func() time.Time
}

// NewHealthTracker creates a tracker with the given default blacklist TTL.
func NewHealthTracker(defaultTTL time.Duration, log *slog.Logger) *HealthTracker {
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &HealthTracker{
		entries:    make(map[string]HealthEntry),
		defaultTTL: defaultTTL,
		log:        log.With(slog.String("component", "health")),
		now:        time.Now,
	}
}

// Hostname extracts the hostname from an origin URL. A bare hostname passes
// through unchanged.
func Hostname(origin string) string {
	if !strings.Contains(origin, "://") {
		return strings.ToLower(strings.TrimSuffix(origin, "/"))
	}
	u, err := url.Parse(origin)
	if err != nil || u.Hostname() == "" {
		return strings.ToLower(origin)
	}
	return strings.ToLower(u.Hostname())
}

// IsHealthy reports whether an origin is currently presumed healthy.
func (t *HealthTracker) IsHealthy(origin string) bool {
	host := Hostname(origin)

	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[host]
	if !ok {
		return true
	}
	if t.now().After(entry.ExpiresAt) {
		delete(t.entries, host)
		return true
	}
	return false
}

// MarkUnhealthy blacklists an origin. A zero ttl uses the tracker default.
func (t *HealthTracker) MarkUnhealthy(origin string, ttl time.Duration, reason string) {
	if ttl <= 0 {
		ttl = t.defaultTTL
	}
	host := Hostname(origin)
	now := t.now()

	t.mu.Lock()
	t.entries[host] = HealthEntry{
		Hostname:  host,
		FailedAt:  now,
		ExpiresAt: now.Add(ttl),
		Reason:    reason,
	}
	t.mu.Unlock()

	t.log.Debug("gateway marked unhealthy",
		slog.String("hostname", host),
		slog.Duration("ttl", ttl),
		slog.String("reason", reason))
}

// FilterHealthy returns the origins not currently blacklisted, preserving
// order.
func (t *HealthTracker) FilterHealthy(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, origin := range origins {
		if t.IsHealthy(origin) {
			out = append(out, origin)
		}
	}
	return out
}

// Clear drops the whole blacklist.
func (t *HealthTracker) Clear() {
	t.mu.Lock()
	t.entries = make(map[string]HealthEntry)
	t.mu.Unlock()
}

// ClearHost removes a single hostname from the blacklist.
func (t *HealthTracker) ClearHost(origin string) {
	t.mu.Lock()
	delete(t.entries, Hostname(origin))
	t.mu.Unlock()
}

// SweepExpired removes expired entries and returns how many were dropped.
func (t *HealthTracker) SweepExpired() int {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	dropped := 0
	for host, entry := range t.entries {
		if now.After(entry.ExpiresAt) {
			delete(t.entries, host)
			dropped++
		}
	}
	return dropped
}

// Entries returns a snapshot of the current (possibly expired) entries.
func (t *HealthTracker) Entries() []HealthEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]HealthEntry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e)
	}
	return out
}

// Len returns the number of blacklisted hostnames.
func (t *HealthTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
