package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock hands out strictly increasing times so recency comparisons are
// deterministic.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func newTestCache(maxBytes int64) (*Cache, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	c := New(maxBytes, nil)
	c.now = clock.Now
	return c, clock
}

func res(id string, size int) Resource {
	return Resource{ContentID: id, Bytes: make([]byte, size)}
}

func TestSetAndGet(t *testing.T) {
	c, _ := newTestCache(1000)

	require.True(t, c.Set(Resource{ContentID: "a", ContentType: "text/plain", Bytes: []byte("hello")}))

	got, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "text/plain", got.ContentType)
	assert.Equal(t, []byte("hello"), got.Bytes)
	assert.Equal(t, int64(5), got.Size)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestLRUEvictionOrder(t *testing.T) {
	// 40-byte entries in a 100-byte cache, so any two fit but not three.
	// Recency, not insertion order, decides who goes.
	c, _ := newTestCache(100)

	require.True(t, c.Set(res("a", 40)))
	require.True(t, c.Set(res("b", 40)))
	require.True(t, c.Set(res("c", 40))) // evicts a (oldest)

	assert.False(t, c.Has("a"))
	assert.True(t, c.Has("b"))
	assert.True(t, c.Has("c"))

	// Touch b; c becomes the eviction candidate.
	_, ok := c.Get("b")
	require.True(t, ok)

	require.True(t, c.Set(res("d", 40)))
	assert.True(t, c.Has("b"))
	assert.False(t, c.Has("c"))
	assert.True(t, c.Has("d"))
}

func TestHasDoesNotTouchRecency(t *testing.T) {
	c, _ := newTestCache(100)

	require.True(t, c.Set(res("a", 40)))
	require.True(t, c.Set(res("b", 40)))

	// Has must not refresh a; it stays the eviction candidate.
	assert.True(t, c.Has("a"))

	require.True(t, c.Set(res("c", 40)))
	assert.False(t, c.Has("a"))
	assert.True(t, c.Has("b"))
}

func TestOversizedResourceRefused(t *testing.T) {
	c, _ := newTestCache(100)

	require.True(t, c.Set(res("small", 100)))
	assert.False(t, c.Set(res("huge", 101)))

	// The refusal must not disturb existing entries.
	assert.True(t, c.Has("small"))
	assert.Equal(t, Stats{Count: 1, TotalBytes: 100}, c.Stats())
}

func TestReplaceExisting(t *testing.T) {
	c, _ := newTestCache(100)

	require.True(t, c.Set(res("a", 60)))
	require.True(t, c.Set(res("a", 30)))

	stats := c.Stats()
	assert.Equal(t, 1, stats.Count)
	assert.Equal(t, int64(30), stats.TotalBytes)
}

func TestClearFor(t *testing.T) {
	c, _ := newTestCache(1000)

	require.True(t, c.Set(res("a", 10)))
	require.True(t, c.Set(res("b", 20)))
	require.True(t, c.Set(res("c", 30)))

	c.ClearFor([]string{"a", "c", "never-cached"})

	assert.False(t, c.Has("a"))
	assert.True(t, c.Has("b"))
	assert.False(t, c.Has("c"))
	assert.Equal(t, Stats{Count: 1, TotalBytes: 20}, c.Stats())
}

func TestClear(t *testing.T) {
	c, _ := newTestCache(1000)

	require.True(t, c.Set(res("a", 10)))
	c.Clear()

	assert.Equal(t, Stats{}, c.Stats())
	assert.False(t, c.Has("a"))
}

func TestOnEvictFiresForCapacityEvictionsOnly(t *testing.T) {
	c, _ := newTestCache(100)

	var evicted []string
	c.SetOnEvict(func(id string, size int64) {
		evicted = append(evicted, id)
		assert.Equal(t, int64(40), size)
	})

	require.True(t, c.Set(res("a", 40)))
	require.True(t, c.Set(res("a", 40))) // replacement, no callback
	require.True(t, c.Set(res("b", 40)))
	require.True(t, c.Set(res("c", 40))) // evicts a

	c.ClearFor([]string{"b"})
	c.Clear()

	assert.Equal(t, []string{"a"}, evicted)
}

func TestNonPositiveCapUsesDefault(t *testing.T) {
	c := New(0, nil)
	assert.Equal(t, DefaultMaxBytes, c.maxBytes)
}
