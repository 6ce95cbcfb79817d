// Package cache holds verified resources in a size-bounded LRU keyed by
// content id.
package cache

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultMaxBytes is the default cache capacity.
const DefaultMaxBytes = int64(500) * 1024 * 1024

// Resource is a verified blob with its serving metadata.
type Resource struct {
	ContentID   string
	ContentType string
	Bytes       []byte
	Headers     map[string]string
	Size        int64
	VerifiedAt  time.Time
}

// Stats summarizes cache occupancy.
type Stats struct {
	Count      int   `json:"count"`
	TotalBytes int64 `json:"total_bytes"`
}

type entry struct {
	resource   Resource
	lastAccess time.Time
}

// Cache is the verified-resource store. All operations are internally
// synchronized; Get updates recency, so eviction is true LRU rather than
// insertion order.
type Cache struct {
	mu         sync.Mutex
	maxBytes   int64
	totalBytes int64
	entries    map[string]*entry
	log        *slog.Logger
	now        func() time.Time
	onEvict    func(contentID string, size int64)
}

// New creates a cache capped at maxBytes. A non-positive cap uses the
// default.
func New(maxBytes int64, log *slog.Logger) *Cache {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if log == nil {
		log = slog.Default()
	}
	return &Cache{
		maxBytes: maxBytes,
		entries:  make(map[string]*entry),
		log:      log.With(slog.String("component", "cache")),
		now:      time.Now,
	}
}

// SetOnEvict installs a callback invoked for every capacity eviction. It is
// not called for Clear, ClearFor, or replacement of an existing entry.
func (c *Cache) SetOnEvict(fn func(contentID string, size int64)) {
	c.mu.Lock()
	c.onEvict = fn
	c.mu.Unlock()
}

// Set stores a verified resource, evicting least-recently-used entries until
// it fits. A resource larger than the whole cap is refused and false is
// returned; verification itself still counts as succeeded.
func (c *Cache) Set(res Resource) bool {
	if res.Size == 0 {
		res.Size = int64(len(res.Bytes))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if res.Size > c.maxBytes {
		c.log.Warn("resource exceeds cache capacity, not caching",
			slog.String("content_id", res.ContentID),
			slog.Int64("size", res.Size),
			slog.Int64("capacity", c.maxBytes))
		return false
	}

	if existing, ok := c.entries[res.ContentID]; ok {
		c.totalBytes -= existing.resource.Size
		delete(c.entries, res.ContentID)
	}

	for c.totalBytes+res.Size > c.maxBytes {
		c.evictOldestLocked()
	}

	c.entries[res.ContentID] = &entry{resource: res, lastAccess: c.now()}
	c.totalBytes += res.Size
	return true
}

// Get returns a cached resource and refreshes its recency.
func (c *Cache) Get(contentID string) (Resource, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[contentID]
	if !ok {
		return Resource{}, false
	}
	e.lastAccess = c.now()
	return e.resource, true
}

// Has reports presence without touching recency.
func (c *Cache) Has(contentID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[contentID]
	return ok
}

// Clear drops everything.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*entry)
	c.totalBytes = 0
	c.mu.Unlock()
}

// ClearFor drops the given content ids, used when a run is retried or
// discarded.
func (c *Cache) ClearFor(contentIDs []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, id := range contentIDs {
		if e, ok := c.entries[id]; ok {
			c.totalBytes -= e.resource.Size
			delete(c.entries, id)
		}
	}
}

// Stats returns current occupancy.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Count: len(c.entries), TotalBytes: c.totalBytes}
}

// evictOldestLocked removes the entry with the oldest lastAccess. A full-map
// scan is fine at this cardinality (hundreds of entries).
func (c *Cache) evictOldestLocked() {
	var oldestID string
	var oldest time.Time
	for id, e := range c.entries {
		if oldestID == "" || e.lastAccess.Before(oldest) {
			oldestID = id
			oldest = e.lastAccess
		}
	}
	if oldestID == "" {
		return
	}

	e := c.entries[oldestID]
	c.totalBytes -= e.resource.Size
	delete(c.entries, oldestID)
	c.log.Debug("evicted resource",
		slog.String("content_id", oldestID),
		slog.Int64("size", e.resource.Size))
	if c.onEvict != nil {
		c.onEvict(oldestID, e.resource.Size)
	}
}
