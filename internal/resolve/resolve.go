// Package resolve turns an identifier (an ArNS name or a raw content id)
// into a content id, using multi-gateway consensus so no single lying
// gateway can redirect a name.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"wayfinder/internal/fetch"
	"wayfinder/internal/gateway"
	"wayfinder/internal/manifest"
)

// ResolvedIDHeader carries the resolved content id on a name-resolution
// probe response.
const ResolvedIDHeader = "x-arns-resolved-id"

// Errors
var (
	ErrNoGatewaysAvailable = errors.New("resolve: no gateways available")
	ErrResolutionMismatch  = errors.New("resolve: gateways disagree on resolution")
)

// MismatchError reports conflicting resolutions. Treated as a security
// event: it is never settled by majority vote. Matches ErrResolutionMismatch
// under errors.Is.
type MismatchError struct {
	Identifier string
	ContentIDs []string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("resolve: gateways disagree on %q: %s",
		e.Identifier, strings.Join(e.ContentIDs, ", "))
}

func (e *MismatchError) Is(target error) bool {
	return target == ErrResolutionMismatch
}

// Resolution is the outcome of resolving an identifier.
type Resolution struct {
	Identifier string

	// ContentID is the agreed-on target.
	ContentID string

	// RoutingOrigin is the gateway that answered first. A routing hint, not
	// a trust anchor.
	RoutingOrigin string

	// Direct is true when the identifier already had the content-id shape
	// and no network call was made.
	Direct bool
}

// Resolver resolves identifiers against the trusted gateway pool.
type Resolver struct {
	pool    *gateway.Pool
	tracker *gateway.HealthTracker
	fetcher fetch.Fetcher
	timeout time.Duration
	log     *slog.Logger
}

// NewResolver creates a Resolver. timeout bounds each resolution probe.
func NewResolver(pool *gateway.Pool, tracker *gateway.HealthTracker, fetcher fetch.Fetcher, timeout time.Duration, log *slog.Logger) *Resolver {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{
		pool:    pool,
		tracker: tracker,
		fetcher: fetcher,
		timeout: timeout,
		log:     log.With(slog.String("component", "resolve")),
	}
}

type probeResult struct {
	origin    string
	contentID string
	err       error
}

// Resolve resolves identifier to a content id.
//
// A 43-character base64url identifier is returned directly with no network
// call. Otherwise every healthy gateway in the trusted pool is probed in
// parallel; all successes must agree on a single content id.
func (r *Resolver) Resolve(ctx context.Context, identifier string) (Resolution, error) {
	if manifest.IsContentID(identifier) {
		return Resolution{Identifier: identifier, ContentID: identifier, Direct: true}, nil
	}

	origins := gateway.Origins(r.pool.Trusted(ctx))
	if r.tracker != nil {
		if healthy := r.tracker.FilterHealthy(origins); len(healthy) > 0 {
			origins = healthy
		}
	}
	if len(origins) == 0 {
		return Resolution{}, ErrNoGatewaysAvailable
	}

	// Fan out to every trusted gateway; the first success received is the
	// routing hint.
	results := make(chan probeResult, len(origins))
	var wg sync.WaitGroup
	for _, origin := range origins {
		wg.Add(1)
		go func(origin string) {
			defer wg.Done()
			contentID, err := r.probe(ctx, identifier, origin)
			results <- probeResult{origin: origin, contentID: contentID, err: err}
		}(origin)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	var (
		firstOrigin string
		distinct    = make(map[string]struct{})
		failures    []error
	)
	for res := range results {
		if res.err != nil {
			failures = append(failures, fmt.Errorf("%s: %w", res.origin, res.err))
			if r.tracker != nil {
				r.tracker.MarkUnhealthy(res.origin, 0, res.err.Error())
			}
			continue
		}
		if firstOrigin == "" {
			firstOrigin = res.origin
		}
		distinct[res.contentID] = struct{}{}
	}

	switch len(distinct) {
	case 0:
		return Resolution{}, fmt.Errorf("%w for %q: %w", ErrNoGatewaysAvailable, identifier, errors.Join(failures...))
	case 1:
		var contentID string
		for id := range distinct {
			contentID = id
		}
		return Resolution{
			Identifier:    identifier,
			ContentID:     contentID,
			RoutingOrigin: firstOrigin,
		}, nil
	default:
		ids := make([]string, 0, len(distinct))
		for id := range distinct {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		r.log.Error("resolution mismatch",
			slog.String("identifier", identifier),
			slog.Any("content_ids", ids))
		return Resolution{}, &MismatchError{Identifier: identifier, ContentIDs: ids}
	}
}

// probe performs one HEAD-style existence probe against a gateway's name
// subdomain and returns the resolved content id from the response header.
func (r *Resolver) probe(ctx context.Context, identifier, origin string) (string, error) {
	probeURL, err := ProbeURL(identifier, origin)
	if err != nil {
		return "", err
	}

	resp, err := fetch.Head(ctx, r.fetcher, probeURL, r.timeout)
	if err != nil {
		return "", err
	}

	contentID := resp.Header(ResolvedIDHeader)
	if contentID == "" {
		return "", fmt.Errorf("resolve: %s returned no %s header", origin, ResolvedIDHeader)
	}
	if !manifest.IsContentID(contentID) {
		return "", fmt.Errorf("resolve: %s returned malformed content id %q", origin, contentID)
	}
	return contentID, nil
}

// ProbeURL builds the name-resolution URL: the identifier as a subdomain of
// the gateway host.
func ProbeURL(identifier, origin string) (string, error) {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("resolve: bad origin %q", origin)
	}
	return u.Scheme + "://" + identifier + "." + u.Host + "/", nil
}

// ProbeOrigin issues a cheap HEAD to an origin's raw endpoint for a content
// id, used as the selector probe when picking a serving gateway.
func ProbeOrigin(fetcher fetch.Fetcher, contentID string, timeout time.Duration) func(ctx context.Context, origin string) error {
	return func(ctx context.Context, origin string) error {
		_, err := fetch.Head(ctx, fetcher, fetch.RawURL(origin, contentID), timeout)
		return err
	}
}
