package runstate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wayfinder/internal/events"
	"wayfinder/internal/manifest"
)

// cid builds a well-formed 43-character content id from a seed.
func cid(seed string) string {
	return (seed + strings.Repeat("x", 43))[:43]
}

func testManifest(t *testing.T, paths map[string]string, fallback string) *manifest.Manifest {
	t.Helper()
	var b strings.Builder
	b.WriteString(`{"manifest":"arweave/paths","version":"0.2.0",`)
	if fallback != "" {
		fmt.Fprintf(&b, `"fallback":{"id":%q},`, fallback)
	}
	b.WriteString(`"index":{"path":"index.html"},"paths":{`)
	first := true
	for path, id := range paths {
		if !first {
			b.WriteString(",")
		}
		first = false
		fmt.Fprintf(&b, `%q:{"id":%q}`, path, id)
	}
	b.WriteString("}}")

	m, err := manifest.Parse([]byte(b.String()))
	require.NoError(t, err)
	return m
}

// recorder collects published events for assertions.
type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(ev events.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

func newTestMachine(sink events.Sink) *Machine {
	return New(sink, time.Hour, nil)
}

func TestStartAssignsMonotonicRunIDs(t *testing.T) {
	m := newTestMachine(nil)

	assert.Equal(t, 1, m.Start("ardrive"))
	assert.Equal(t, 2, m.Start("ardrive"))
	assert.Equal(t, 1, m.Start("other"))
}

func TestFullRunToComplete(t *testing.T) {
	rec := &recorder{}
	m := newTestMachine(rec)

	runID := m.Start("ardrive")
	m.SetResolved("ardrive", runID, cid("root"), "https://arweave.net")

	mf := testManifest(t, map[string]string{
		"index.html": cid("idx"),
		"app.js":     cid("js"),
	}, "")
	m.SetManifestLoaded("ardrive", runID, mf, false)

	snap, ok := m.GetState("ardrive")
	require.True(t, ok)
	assert.Equal(t, StatusVerifying, snap.Status)
	assert.Equal(t, 2, snap.TotalResources)

	m.RecordVerified("ardrive", runID, cid("idx"), "index.html")
	m.RecordVerified("ardrive", runID, cid("js"), "app.js")

	snap, ok = m.GetState("ardrive")
	require.True(t, ok)
	assert.Equal(t, StatusComplete, snap.Status)
	assert.Equal(t, 2, snap.VerifiedCount)
	assert.Empty(t, snap.FailedIDs)
	assert.False(t, snap.CompletedAt.IsZero())

	assert.Equal(t, []string{
		events.TypeVerificationStarted,
		events.TypeRoutingGateway,
		events.TypeManifestLoaded,
		events.TypeVerificationProgress,
		events.TypeVerificationProgress,
		events.TypeVerificationComplete,
	}, rec.types())
}

func TestPartialCompletion(t *testing.T) {
	m := newTestMachine(nil)

	runID := m.Start("site")
	m.SetResolved("site", runID, cid("root"), "")
	mf := testManifest(t, map[string]string{
		"index.html": cid("idx"),
		"style.css":  cid("css"),
		"app.js":     cid("js"),
	}, "")
	m.SetManifestLoaded("site", runID, mf, false)

	m.RecordVerified("site", runID, cid("idx"), "index.html")
	m.RecordVerified("site", runID, cid("css"), "style.css")
	m.RecordFailed("site", runID, cid("js"), "app.js", errors.New("every origin returned 500"))

	snap, ok := m.GetState("site")
	require.True(t, ok)
	assert.Equal(t, StatusPartial, snap.Status)
	assert.Equal(t, 2, snap.VerifiedCount)
	assert.Equal(t, []string{cid("js")}, snap.FailedIDs)
}

func TestAllResourcesFailing(t *testing.T) {
	m := newTestMachine(nil)

	runID := m.Start("site")
	m.SetResolved("site", runID, cid("root"), "")
	mf := testManifest(t, map[string]string{"index.html": cid("idx")}, "")
	m.SetManifestLoaded("site", runID, mf, false)

	m.RecordFailed("site", runID, cid("idx"), "index.html", errors.New("unreachable"))

	snap, ok := m.GetState("site")
	require.True(t, ok)
	assert.Equal(t, StatusFailed, snap.Status)
}

func TestStaleRunCallbacksAreNoOps(t *testing.T) {
	m := newTestMachine(nil)

	first := m.Start("ardrive")
	m.SetResolved("ardrive", first, cid("old"), "")

	// A restart supersedes the first run.
	second := m.Start("ardrive")
	m.SetResolved("ardrive", second, cid("new"), "")
	mf := testManifest(t, map[string]string{"index.html": cid("idx")}, "")
	m.SetManifestLoaded("ardrive", second, mf, false)

	// Late callbacks from the first run must not disturb the second.
	m.RecordVerified("ardrive", first, cid("idx"), "index.html")
	m.Fail("ardrive", first, errors.New("late failure"))

	snap, ok := m.GetState("ardrive")
	require.True(t, ok)
	assert.Equal(t, second, snap.RunID)
	assert.Equal(t, cid("new"), snap.ContentID)
	assert.Equal(t, StatusVerifying, snap.Status)
	assert.Equal(t, 0, snap.VerifiedCount)
}

func TestTerminalRunIgnoresFurtherRecords(t *testing.T) {
	m := newTestMachine(nil)

	runID := m.Start("site")
	m.SetResolved("site", runID, cid("root"), "")
	mf := testManifest(t, map[string]string{"index.html": cid("idx")}, "")
	m.SetManifestLoaded("site", runID, mf, false)
	m.RecordVerified("site", runID, cid("idx"), "index.html")

	snap, _ := m.GetState("site")
	require.Equal(t, StatusComplete, snap.Status)

	// Duplicate delivery after completion changes nothing.
	m.RecordVerified("site", runID, cid("idx"), "index.html")
	snap, _ = m.GetState("site")
	assert.Equal(t, 1, snap.VerifiedCount)
}

func TestAliasedPathsCountOnce(t *testing.T) {
	// index.html and 404.html share one content id, and the fallback repeats
	// it again. The id is one resource: a single verified or failed record
	// must settle the run rather than leaving it in verifying forever.
	m := newTestMachine(nil)
	shared := cid("idx")
	mf := testManifest(t, map[string]string{
		"index.html": shared,
		"404.html":   shared,
	}, shared)

	runID := m.Start("site")
	m.SetResolved("site", runID, cid("root"), "")
	m.SetManifestLoaded("site", runID, mf, false)

	snap, _ := m.GetState("site")
	require.Equal(t, 1, snap.TotalResources)

	m.RecordFailed("site", runID, shared, "index.html", errors.New("every origin returned 500"))

	snap, ok := m.GetState("site")
	require.True(t, ok)
	assert.Equal(t, StatusFailed, snap.Status)
	assert.Equal(t, []string{shared}, snap.FailedIDs)
	assert.False(t, m.IsInProgress("site"))
}

func TestAliasedPathsVerifyToComplete(t *testing.T) {
	m := newTestMachine(nil)
	shared := cid("idx")
	mf := testManifest(t, map[string]string{
		"index.html": shared,
		"404.html":   shared,
		"app.js":     cid("js"),
	}, "")

	runID := m.Start("site")
	m.SetResolved("site", runID, cid("root"), "")
	m.SetManifestLoaded("site", runID, mf, false)

	snap, _ := m.GetState("site")
	require.Equal(t, 2, snap.TotalResources)

	m.RecordVerified("site", runID, shared, "index.html")
	m.RecordVerified("site", runID, cid("js"), "app.js")

	snap, _ = m.GetState("site")
	assert.Equal(t, StatusComplete, snap.Status)
	assert.Equal(t, 2, snap.VerifiedCount)
}

func TestFallbackCountsAsResource(t *testing.T) {
	m := newTestMachine(nil)

	runID := m.Start("site")
	m.SetResolved("site", runID, cid("root"), "")
	mf := testManifest(t, map[string]string{"index.html": cid("idx")}, cid("404"))
	m.SetManifestLoaded("site", runID, mf, false)

	snap, _ := m.GetState("site")
	assert.Equal(t, 2, snap.TotalResources)

	m.RecordVerified("site", runID, cid("idx"), "index.html")
	m.RecordVerified("site", runID, cid("404"), FallbackPath)

	snap, _ = m.GetState("site")
	assert.Equal(t, StatusComplete, snap.Status)
}

func TestFailBeforeManifest(t *testing.T) {
	m := newTestMachine(nil)

	runID := m.Start("nosuchname")
	m.Fail("nosuchname", runID, errors.New("no gateways agreed"))

	snap, ok := m.GetState("nosuchname")
	require.True(t, ok)
	assert.Equal(t, StatusFailed, snap.Status)
	require.Error(t, snap.Err)
}

func TestWait(t *testing.T) {
	m := newTestMachine(nil)

	runID := m.Start("site")
	m.SetResolved("site", runID, cid("root"), "")
	mf := testManifest(t, map[string]string{"index.html": cid("idx")}, "")
	m.SetManifestLoaded("site", runID, mf, false)

	done := make(chan struct{})
	go func() {
		defer close(done)
		snap, err := m.Wait(context.Background(), "site", 5*time.Second)
		assert.NoError(t, err)
		assert.Equal(t, StatusComplete, snap.Status)
	}()

	time.Sleep(10 * time.Millisecond)
	m.RecordVerified("site", runID, cid("idx"), "index.html")

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Wait did not return after completion")
	}
}

func TestWaitTimeout(t *testing.T) {
	m := newTestMachine(nil)
	m.Start("site")

	_, err := m.Wait(context.Background(), "site", 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrVerificationTimeout)
}

func TestClearReturnsTouchedContentIDs(t *testing.T) {
	m := newTestMachine(nil)

	runID := m.Start("site")
	m.SetResolved("site", runID, cid("root"), "")
	mf := testManifest(t, map[string]string{"index.html": cid("idx")}, "")
	m.SetManifestLoaded("site", runID, mf, false)

	ids := m.Clear("site")
	assert.ElementsMatch(t, []string{cid("root"), cid("idx")}, ids)

	_, ok := m.GetState("site")
	assert.False(t, ok)
	assert.Nil(t, m.Clear("site"))
}

func TestSweepDropsOnlyExpiredTerminalRuns(t *testing.T) {
	m := newTestMachine(nil)
	base := time.Unix(1_700_000_000, 0)
	now := base
	m.now = func() time.Time { return now }

	// One run completes, one stays in flight.
	runID := m.Start("done")
	m.SetResolved("done", runID, cid("root"), "")
	mf := testManifest(t, map[string]string{"index.html": cid("idx")}, "")
	m.SetManifestLoaded("done", runID, mf, false)
	m.RecordVerified("done", runID, cid("idx"), "index.html")
	m.Start("inflight")

	assert.Equal(t, 0, m.Sweep())

	now = base.Add(2 * time.Hour)
	assert.Equal(t, 1, m.Sweep())
	assert.Equal(t, 1, m.Len())
	assert.True(t, m.IsInProgress("inflight"))
}
