// Package runstate owns the per-identifier verification state machine.
//
// Every mutation is guarded by a monotonically increasing run id: a call
// carrying a stale id is a silent no-op. That guard is the engine's
// substitute for cancellation tokens: when a run is superseded, its
// in-flight callbacks land here and die quietly.
package runstate

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"wayfinder/internal/events"
	"wayfinder/internal/manifest"
)

// Status of a verification run. Transitions only move forward:
// resolving → fetching-manifest → verifying → {complete, partial, failed}.
type Status string

const (
	StatusResolving        Status = "resolving"
	StatusFetchingManifest Status = "fetching-manifest"
	StatusVerifying        Status = "verifying"
	StatusComplete         Status = "complete"
	StatusPartial          Status = "partial"
	StatusFailed           Status = "failed"
)

// Terminal reports whether the status is an end state.
func (s Status) Terminal() bool {
	switch s {
	case StatusComplete, StatusPartial, StatusFailed:
		return true
	}
	return false
}

// ErrVerificationTimeout is returned when a caller's wait on an in-progress
// run exceeds its bound.
var ErrVerificationTimeout = errors.New("runstate: verification wait timed out")

// FallbackPath is the synthetic path tag for a manifest's fallback entry.
const FallbackPath = "[fallback]"

// PathAssignment is one (path, content id) pair of a run.
type PathAssignment struct {
	Path      string `json:"path"`
	ContentID string `json:"content_id"`
}

// ResourceList builds the ordered resource list for a manifest: every path
// entry plus the optional fallback, tagged with its synthetic path. Manifests
// routinely alias one content id under several paths (an index page doubling
// as the 404 page, a fallback repeating a path entry), so the list is
// deduplicated by content id; each id keeps the first path it appeared under
// and verification is counted once per id. Completion arithmetic depends on
// this: verifiedCount and failedIDs are both id-granular, so totalResources
// must be too.
func ResourceList(m *manifest.Manifest) []PathAssignment {
	entries := m.Entries()
	out := make([]PathAssignment, 0, len(entries)+1)
	seen := make(map[string]struct{}, len(entries)+1)
	for _, e := range entries {
		if _, dup := seen[e.ContentID]; dup {
			continue
		}
		seen[e.ContentID] = struct{}{}
		out = append(out, PathAssignment{Path: e.Path, ContentID: e.ContentID})
	}
	if fb := m.FallbackID(); fb != "" {
		if _, dup := seen[fb]; !dup {
			out = append(out, PathAssignment{Path: FallbackPath, ContentID: fb})
		}
	}
	return out
}

// run is the mutable state for one verification attempt. Owned exclusively by
// the Machine; callers only ever see Snapshot copies.
type run struct {
	identifier     string
	runID          int
	contentID      string
	status         Status
	manifest       *manifest.Manifest
	totalResources int
	verifiedCount  int
	failedIDs      map[string]struct{}
	paths          []PathAssignment
	indexPath      string
	isSingleFile   bool
	routingOrigin  string
	err            error
	startedAt      time.Time
	completedAt    time.Time
	done           chan struct{}
}

// Snapshot is a read-only view of a run.
type Snapshot struct {
	Identifier     string
	RunID          int
	ContentID      string
	Status         Status
	Manifest       *manifest.Manifest
	TotalResources int
	VerifiedCount  int
	FailedIDs      []string
	Paths          []PathAssignment
	IndexPath      string
	IsSingleFile   bool
	RoutingOrigin  string
	Err            error
	StartedAt      time.Time
	CompletedAt    time.Time
}

// InProgress reports whether the run is still moving.
func (s Snapshot) InProgress() bool {
	return !s.Status.Terminal()
}

// Machine tracks verification runs by identifier.
type Machine struct {
	mu     sync.Mutex
	runs   map[string]*run
	lastID map[string]int

	sink      events.Sink
	retention time.Duration
	log       *slog.Logger
	now       func() time.Time
}

// New creates a Machine publishing to sink and retaining finished runs for
// the given duration before sweep eligibility.
func New(sink events.Sink, retention time.Duration, log *slog.Logger) *Machine {
	if sink == nil {
		sink = events.Nop{}
	}
	if retention <= 0 {
		retention = 30 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &Machine{
		runs:      make(map[string]*run),
		lastID:    make(map[string]int),
		sink:      sink,
		retention: retention,
		log:       log.With(slog.String("component", "runstate")),
		now:       time.Now,
	}
}

// Start creates a new run for the identifier and returns its run id. Any
// previous run for the identifier is superseded: its in-flight callbacks
// become no-ops through the run id guard.
func (m *Machine) Start(identifier string) int {
	m.mu.Lock()
	id := m.lastID[identifier] + 1
	m.lastID[identifier] = id
	m.runs[identifier] = &run{
		identifier: identifier,
		runID:      id,
		status:     StatusResolving,
		failedIDs:  make(map[string]struct{}),
		startedAt:  m.now(),
		done:       make(chan struct{}),
	}
	m.mu.Unlock()

	m.sink.Publish(events.New(events.TypeVerificationStarted, identifier))
	return id
}

// current returns the run for identifier iff runID matches its current run
// and the run is not terminal. Callers hold m.mu.
func (m *Machine) current(identifier string, runID int) *run {
	r, ok := m.runs[identifier]
	if !ok || r.runID != runID || r.status.Terminal() {
		return nil
	}
	return r
}

// SetResolved records the resolved content id and optional routing origin
// hint, moving the run to fetching-manifest.
func (m *Machine) SetResolved(identifier string, runID int, contentID, originHint string) {
	m.mu.Lock()
	r := m.current(identifier, runID)
	if r == nil {
		m.mu.Unlock()
		return
	}
	r.contentID = contentID
	r.routingOrigin = originHint
	r.status = StatusFetchingManifest
	m.mu.Unlock()

	if originHint != "" {
		ev := events.New(events.TypeRoutingGateway, identifier)
		ev.ContentID = contentID
		ev.Origin = originHint
		m.sink.Publish(ev)
	}
}

// SetManifestLoaded records the verified manifest, computes the resource
// list, and moves the run to verifying.
func (m *Machine) SetManifestLoaded(identifier string, runID int, mf *manifest.Manifest, isSingleFile bool) {
	m.mu.Lock()
	r := m.current(identifier, runID)
	if r == nil {
		m.mu.Unlock()
		return
	}
	r.manifest = mf
	r.isSingleFile = isSingleFile
	r.paths = ResourceList(mf)
	r.totalResources = len(r.paths)
	r.indexPath = mf.IndexPath()
	r.status = StatusVerifying
	total := r.totalResources
	contentID := r.contentID
	m.mu.Unlock()

	ev := events.New(events.TypeManifestLoaded, identifier)
	ev.ContentID = contentID
	ev.Total = total
	m.sink.Publish(ev)
}

// RecordVerified counts one resource as verified. Completion is evaluated
// after every record and fires exactly once.
func (m *Machine) RecordVerified(identifier string, runID int, contentID, path string) {
	m.record(identifier, runID, contentID, path, nil)
}

// RecordFailed counts one resource as failed. Never propagates: a failed
// resource only shapes the final status.
func (m *Machine) RecordFailed(identifier string, runID int, contentID, path string, cause error) {
	if cause == nil {
		cause = errors.New("resource verification failed")
	}
	m.record(identifier, runID, contentID, path, cause)
}

func (m *Machine) record(identifier string, runID int, contentID, path string, cause error) {
	m.mu.Lock()
	r := m.current(identifier, runID)
	if r == nil {
		m.mu.Unlock()
		return
	}

	if cause == nil {
		r.verifiedCount++
	} else {
		r.failedIDs[contentID] = struct{}{}
		if r.err == nil {
			r.err = cause
		}
	}

	progress := events.New(events.TypeVerificationProgress, identifier)
	progress.ContentID = contentID
	progress.Current = r.verifiedCount + len(r.failedIDs)
	progress.Total = r.totalResources
	if cause != nil {
		progress.Error = cause.Error()
	}

	final, finalEvent := m.maybeCompleteLocked(r)
	m.mu.Unlock()

	m.sink.Publish(progress)
	if final {
		m.sink.Publish(finalEvent)
	}
}

// maybeCompleteLocked finishes the run when every resource is accounted for.
// Callers hold m.mu.
func (m *Machine) maybeCompleteLocked(r *run) (bool, events.Event) {
	if r.totalResources == 0 || r.verifiedCount+len(r.failedIDs) < r.totalResources {
		return false, events.Event{}
	}

	switch {
	case len(r.failedIDs) == 0:
		r.status = StatusComplete
	case r.verifiedCount > 0:
		r.status = StatusPartial
	default:
		r.status = StatusFailed
	}
	r.completedAt = m.now()
	close(r.done)

	m.log.Info("verification finished",
		slog.String("identifier", r.identifier),
		slog.String("status", string(r.status)),
		slog.Int("verified", r.verifiedCount),
		slog.Int("failed", len(r.failedIDs)))

	eventType := events.TypeVerificationComplete
	if r.status == StatusFailed {
		eventType = events.TypeVerificationFailed
	}
	ev := events.New(eventType, r.identifier)
	ev.ContentID = r.contentID
	ev.Current = r.verifiedCount
	ev.Total = r.totalResources
	if r.err != nil && r.status != StatusComplete {
		ev.Error = r.err.Error()
	}
	return true, ev
}

// Fail terminates the run with a fatal error (resolution failure, manifest
// hash mismatch, no gateways).
func (m *Machine) Fail(identifier string, runID int, cause error) {
	m.mu.Lock()
	r := m.current(identifier, runID)
	if r == nil {
		m.mu.Unlock()
		return
	}
	r.status = StatusFailed
	r.err = cause
	r.completedAt = m.now()
	close(r.done)
	contentID := r.contentID
	m.mu.Unlock()

	m.log.Warn("verification failed",
		slog.String("identifier", identifier),
		slog.Any("error", cause))

	ev := events.New(events.TypeVerificationFailed, identifier)
	ev.ContentID = contentID
	if cause != nil {
		ev.Error = cause.Error()
	}
	m.sink.Publish(ev)
}

// GetState returns a read-only snapshot of the identifier's current run.
func (m *Machine) GetState(identifier string) (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runs[identifier]
	if !ok {
		return Snapshot{}, false
	}
	return snapshotLocked(r), true
}

func snapshotLocked(r *run) Snapshot {
	failed := make([]string, 0, len(r.failedIDs))
	for id := range r.failedIDs {
		failed = append(failed, id)
	}
	paths := make([]PathAssignment, len(r.paths))
	copy(paths, r.paths)

	return Snapshot{
		Identifier:     r.identifier,
		RunID:          r.runID,
		ContentID:      r.contentID,
		Status:         r.status,
		Manifest:       r.manifest,
		TotalResources: r.totalResources,
		VerifiedCount:  r.verifiedCount,
		FailedIDs:      failed,
		Paths:          paths,
		IndexPath:      r.indexPath,
		IsSingleFile:   r.isSingleFile,
		RoutingOrigin:  r.routingOrigin,
		Err:            r.err,
		StartedAt:      r.startedAt,
		CompletedAt:    r.completedAt,
	}
}

// IsComplete reports whether the identifier's current run finished with
// status complete.
func (m *Machine) IsComplete(identifier string) bool {
	s, ok := m.GetState(identifier)
	return ok && s.Status == StatusComplete
}

// IsInProgress reports whether a run exists and has not terminated.
func (m *Machine) IsInProgress(identifier string) bool {
	s, ok := m.GetState(identifier)
	return ok && s.InProgress()
}

// Clear removes the identifier's run and returns the content ids it touched,
// so the caller can purge the resource cache.
func (m *Machine) Clear(identifier string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runs[identifier]
	if !ok {
		return nil
	}
	delete(m.runs, identifier)

	seen := make(map[string]struct{}, len(r.paths)+1)
	ids := make([]string, 0, len(r.paths)+1)
	if r.contentID != "" {
		seen[r.contentID] = struct{}{}
		ids = append(ids, r.contentID)
	}
	for _, p := range r.paths {
		if _, ok := seen[p.ContentID]; !ok {
			seen[p.ContentID] = struct{}{}
			ids = append(ids, p.ContentID)
		}
	}
	return ids
}

// Wait blocks until the identifier's current run terminates, the context is
// cancelled, or the timeout elapses. A zero timeout uses 60 seconds.
func (m *Machine) Wait(ctx context.Context, identifier string, timeout time.Duration) (Snapshot, error) {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	m.mu.Lock()
	r, ok := m.runs[identifier]
	if !ok {
		m.mu.Unlock()
		return Snapshot{}, errors.New("runstate: no run for identifier")
	}
	done := r.done
	m.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		s, _ := m.GetState(identifier)
		return s, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	case <-timer.C:
		return Snapshot{}, ErrVerificationTimeout
	}
}

// Sweep removes terminal runs older than the retention window and returns
// how many were dropped.
func (m *Machine) Sweep() int {
	cutoff := m.now().Add(-m.retention)

	m.mu.Lock()
	defer m.mu.Unlock()

	dropped := 0
	for identifier, r := range m.runs {
		if r.status.Terminal() && !r.completedAt.IsZero() && r.completedAt.Before(cutoff) {
			delete(m.runs, identifier)
			dropped++
		}
	}
	return dropped
}

// Len returns the number of tracked runs.
func (m *Machine) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.runs)
}
