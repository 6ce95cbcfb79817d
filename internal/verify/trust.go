package verify

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"wayfinder/internal/fetch"
	"wayfinder/internal/gateway"
)

// GatewayTrust obtains trusted digests from the trusted gateway pool.
//
// Preferred path: a HEAD probe to a trusted gateway returning the digest in
// the x-ar-io-digest header. When the header is absent and RefetchFallback is
// set, the content is fetched in full from the trusted gateway and digested
// locally. That doubles bandwidth for the affected content; some trusted
// origins do not emit the header.
type GatewayTrust struct {
	Fetcher fetch.Fetcher
	Pool    *gateway.Pool
	Tracker *gateway.HealthTracker
	Timeout time.Duration

	// RefetchFallback enables the full-fetch path when the header is absent.
	// On for manifest verification, off for the per-resource fast path.
	RefetchFallback bool

	Log *slog.Logger
}

// TrustedDigest implements TrustedSource.
func (t *GatewayTrust) TrustedDigest(ctx context.Context, contentID string) ([]byte, error) {
	log := t.Log
	if log == nil {
		log = slog.Default()
	}

	origins := gateway.Origins(t.Pool.Trusted(ctx))
	if t.Tracker != nil {
		if healthy := t.Tracker.FilterHealthy(origins); len(healthy) > 0 {
			origins = healthy
		}
	}
	if len(origins) == 0 {
		return nil, ErrNoTrustedDigest
	}

	var lastErr error
	for _, origin := range origins {
		url := fetch.RawURL(origin, contentID)

		resp, err := t.Fetcher.Do(ctx, fetch.Request{
			Method:  http.MethodHead,
			URL:     url,
			Timeout: t.Timeout,
		})
		if err != nil {
			lastErr = &GatewayError{Origin: origin, Err: err}
			if t.Tracker != nil {
				t.Tracker.MarkUnhealthy(origin, 0, err.Error())
			}
			continue
		}
		if !resp.OK() {
			lastErr = &GatewayError{Origin: origin, Err: &fetch.StatusError{URL: url, Status: resp.Status}}
			continue
		}

		if header := resp.Header(TrustedDigestHeader); header != "" {
			digest, err := DecodeDigest(header)
			if err != nil {
				lastErr = err
				continue
			}
			return digest, nil
		}

		if !t.RefetchFallback {
			lastErr = fmt.Errorf("%w: %s omitted %s", ErrNoTrustedDigest, origin, TrustedDigestHeader)
			continue
		}

		log.Debug("trusted gateway omitted digest header, refetching",
			slog.String("origin", origin),
			slog.String("content_id", contentID))

		full, err := fetch.Get(ctx, t.Fetcher, url, t.Timeout)
		if err != nil {
			lastErr = &GatewayError{Origin: origin, Err: err}
			continue
		}
		return Digest(full.Body), nil
	}

	return nil, fmt.Errorf("%w: %w", ErrNoTrustedDigest, lastErr)
}
