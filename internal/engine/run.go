package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"wayfinder/internal/gateway"
	"wayfinder/internal/manifest"
	"wayfinder/internal/resolve"
	"wayfinder/internal/runstate"
	"wayfinder/internal/verify"
)

// Start begins a verification run for the identifier and returns its run id.
// A new start supersedes any in-progress run for the same identifier: the
// superseded run's goroutines keep draining but their results are discarded
// by the run-id guard. The run proceeds in the background; observe it via
// Wait, GetState, or Subscribe.
func (e *Engine) Start(ctx context.Context, identifier string) int {
	runID := e.state.Start(identifier)
	e.metrics.VerificationsStarted.Inc()
	e.syncGauges()

	go e.run(ctx, identifier, runID)
	return runID
}

// Wait blocks until the identifier's run reaches a terminal status.
// A non-positive timeout uses the configured default.
func (e *Engine) Wait(ctx context.Context, identifier string, timeout time.Duration) (runstate.Snapshot, error) {
	if timeout <= 0 {
		timeout = e.cfg.Verification.WaitTimeout()
	}
	return e.state.Wait(ctx, identifier, timeout)
}

// VerifyAndWait starts a run and blocks until it settles, at most timeout
// (non-positive for the configured default).
func (e *Engine) VerifyAndWait(ctx context.Context, identifier string, timeout time.Duration) (runstate.Snapshot, error) {
	e.Start(ctx, identifier)
	return e.Wait(ctx, identifier, timeout)
}

// Retry discards the identifier's previous run and cached resources, then
// starts a fresh run.
func (e *Engine) Retry(ctx context.Context, identifier string) int {
	e.Clear(identifier)
	return e.Start(ctx, identifier)
}

// run drives one verification attempt end to end. Every state mutation goes
// through the machine with the run id so a superseded run becomes inert.
func (e *Engine) run(ctx context.Context, identifier string, runID int) {
	log := e.log.With(
		slog.String("identifier", identifier),
		slog.Int("run_id", runID),
	)

	res, err := e.resolver.Resolve(ctx, identifier)
	if err != nil {
		if errors.Is(err, resolve.ErrResolutionMismatch) {
			e.metrics.ResolutionMismatches.Inc()
		}
		e.fail(identifier, runID, fmt.Errorf("resolve %s: %w", identifier, err))
		return
	}
	e.state.SetResolved(identifier, runID, res.ContentID, res.RoutingOrigin)

	origins := e.originOrder(ctx, res.RoutingOrigin)
	if len(origins) == 0 {
		e.fail(identifier, runID, resolve.ErrNoGatewaysAvailable)
		return
	}

	result, origin, err := e.fetchManifest(ctx, res.ContentID, origins)
	if err != nil {
		e.fail(identifier, runID, fmt.Errorf("fetch manifest %s: %w", res.ContentID, err))
		return
	}
	log.Info("manifest fetch verified",
		slog.String("content_id", res.ContentID),
		slog.String("origin", origin),
		slog.Bool("is_manifest", result.IsManifest),
	)

	var mf *manifest.Manifest
	if result.IsManifest {
		mf = result.Manifest
	} else {
		mf = manifest.Synthetic(res.ContentID, result.ContentType)
	}
	e.state.SetManifestLoaded(identifier, runID, mf, !result.IsManifest)

	if !result.IsManifest {
		// Single file: FetchAndVerify already cached the bytes, so the one
		// resource is settled without another network round trip.
		for _, pa := range runstate.ResourceList(mf) {
			e.state.RecordVerified(identifier, runID, pa.ContentID, pa.Path)
			e.metrics.ResourcesVerified.Inc()
		}
		e.settle(identifier, runID)
		return
	}

	e.verifyAll(ctx, identifier, runID, mf, origin)
	e.settle(identifier, runID)
}

// settle records the run's final disposition in the metric set.
func (e *Engine) settle(identifier string, runID int) {
	defer e.syncGauges()
	snap, ok := e.state.GetState(identifier)
	if !ok || snap.RunID != runID {
		return
	}
	switch snap.Status {
	case runstate.StatusComplete:
		e.metrics.VerificationsComplete.Inc()
	case runstate.StatusPartial:
		e.metrics.VerificationsPartial.Inc()
	case runstate.StatusFailed:
		e.metrics.VerificationsFailed.Inc()
	}
}

// fetchManifest tries origins in order until one serves bytes that pass
// verification. The manifest fetch is strict: no origin succeeding fails the
// run rather than degrading it.
func (e *Engine) fetchManifest(ctx context.Context, contentID string, origins []string) (*verify.Result, string, error) {
	var lastErr error
	tried := 0
	for _, origin := range origins {
		if tried >= e.cfg.Verification.MaxOriginsPerResource {
			break
		}
		tried++

		result, err := e.verifier.FetchAndVerify(ctx, contentID, origin)
		if err == nil {
			// A gateway that just served verified bytes has redeemed any
			// earlier blacklisting.
			e.tracker.ClearHost(origin)
			return result, origin, nil
		}
		lastErr = err
		if !errors.Is(err, verify.ErrHashMismatch) {
			// A hash mismatch indicts the content, not the host, so only
			// transport-level failures blacklist the origin.
			e.tracker.MarkUnhealthy(origin, 0, err.Error())
		}
		e.metrics.GatewayFailures.Inc()
	}
	if lastErr == nil {
		lastErr = gateway.ErrAllGatewaysFailed
	}
	return nil, "", lastErr
}

// originOrder builds the candidate origin list for resource fetches: the
// routing hint first, then the routing pool in stake order, deduplicated.
func (e *Engine) originOrder(ctx context.Context, primary string) []string {
	pool := gateway.Origins(e.pool.Routing(ctx))
	out := make([]string, 0, len(pool)+1)
	seen := make(map[string]struct{}, len(pool)+1)
	if primary != "" {
		out = append(out, primary)
		seen[gateway.Hostname(primary)] = struct{}{}
	}
	for _, origin := range pool {
		host := gateway.Hostname(origin)
		if _, dup := seen[host]; dup {
			continue
		}
		seen[host] = struct{}{}
		out = append(out, origin)
	}
	return out
}

// verifyAll fans the manifest's resources out across the worker budget. The
// counting semaphore admits a new resource only when an in-flight one
// finishes, and wg.Wait keeps the run goroutine alive until every resource
// has been recorded one way or the other.
func (e *Engine) verifyAll(ctx context.Context, identifier string, runID int, mf *manifest.Manifest, primary string) {
	origins := e.originOrder(ctx, primary)

	var wg sync.WaitGroup
	for _, pa := range runstate.ResourceList(mf) {
		select {
		case e.sem <- struct{}{}:
		case <-ctx.Done():
			e.state.RecordFailed(identifier, runID, pa.ContentID, pa.Path, ctx.Err())
			continue
		}
		wg.Add(1)
		go func(pa runstate.PathAssignment) {
			defer wg.Done()
			defer func() { <-e.sem }()
			e.verifyOne(ctx, identifier, runID, pa, origins)
		}(pa)
	}
	wg.Wait()
}

// verifyOne settles one resource: cache hit short-circuits, otherwise up to
// MaxOriginsPerResource healthy origins are tried in order. Failures are
// recorded, never raised; the run completes with whatever verified.
func (e *Engine) verifyOne(ctx context.Context, identifier string, runID int, pa runstate.PathAssignment, origins []string) {
	if e.cache.Has(pa.ContentID) {
		e.metrics.CacheHits.Inc()
		e.state.RecordVerified(identifier, runID, pa.ContentID, pa.Path)
		return
	}
	e.metrics.CacheMisses.Inc()

	candidates := e.tracker.FilterHealthy(origins)
	if len(candidates) == 0 {
		e.tracker.Clear()
		candidates = origins
	}

	timeout := e.cfg.Verification.ResourceTimeout()
	var lastErr error
	tried := 0
	for _, origin := range candidates {
		if tried >= e.cfg.Verification.MaxOriginsPerResource {
			break
		}
		tried++

		err := e.verifier.VerifyResource(ctx, pa.ContentID, origin, timeout)
		if err == nil {
			e.tracker.ClearHost(origin)
			e.metrics.ResourcesVerified.Inc()
			e.state.RecordVerified(identifier, runID, pa.ContentID, pa.Path)
			return
		}
		lastErr = err
		e.metrics.GatewayFailures.Inc()
		var gwErr *verify.GatewayError
		if errors.As(err, &gwErr) {
			e.tracker.MarkUnhealthy(origin, 0, gwErr.Err.Error())
		}
		e.log.Warn("resource verification attempt failed",
			slog.String("content_id", pa.ContentID),
			slog.String("path", pa.Path),
			slog.String("origin", origin),
			slog.String("error", err.Error()),
		)
	}

	if lastErr == nil {
		lastErr = gateway.ErrAllGatewaysFailed
	}
	e.metrics.ResourcesFailed.Inc()
	e.state.RecordFailed(identifier, runID, pa.ContentID, pa.Path, lastErr)
}

func (e *Engine) fail(identifier string, runID int, cause error) {
	e.log.Error("verification run failed",
		slog.String("identifier", identifier),
		slog.Int("run_id", runID),
		slog.String("error", cause.Error()),
	)
	e.state.Fail(identifier, runID, cause)
	e.metrics.VerificationsFailed.Inc()
	e.syncGauges()
}
