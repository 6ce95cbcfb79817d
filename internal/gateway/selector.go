package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllGatewaysFailed is returned when every candidate origin failed its
// probe.
var ErrAllGatewaysFailed = errors.New("gateway: all gateways failed")

// ProbeFunc checks whether an origin is currently serviceable. A nil error
// means the origin answered.
type ProbeFunc func(ctx context.Context, origin string) error

// Selector picks a working origin from a candidate list using the health
// tracker to skip recently-failed gateways.
type Selector struct {
	tracker *HealthTracker
	log     *slog.Logger
}

// NewSelector creates a Selector over the given tracker.
func NewSelector(tracker *HealthTracker, log *slog.Logger) *Selector {
	if log == nil {
		log = slog.Default()
	}
	return &Selector{
		tracker: tracker,
		log:     log.With(slog.String("component", "selector")),
	}
}

// SelectWorking tries candidates in order until one passes the probe. Origins
// failing the probe are blacklisted with the failure reason. When the health
// filter would empty the candidate list, the blacklist is cleared wholesale
// and the full list retried; this prevents permanent pool lockout.
func (s *Selector) SelectWorking(ctx context.Context, candidates []string, probe ProbeFunc) (string, error) {
	if len(candidates) == 0 {
		return "", ErrAllGatewaysFailed
	}

	healthy := s.tracker.FilterHealthy(candidates)
	if len(healthy) == 0 {
		s.log.Warn("all candidates blacklisted, clearing health state",
			slog.Int("candidates", len(candidates)))
		s.tracker.Clear()
		healthy = candidates
	}

	var lastErr error
	for _, origin := range healthy {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if err := probe(ctx, origin); err != nil {
			lastErr = err
			s.tracker.MarkUnhealthy(origin, 0, err.Error())
			continue
		}
		return origin, nil
	}

	if lastErr != nil {
		return "", fmt.Errorf("%w: %w", ErrAllGatewaysFailed, lastErr)
	}
	return "", ErrAllGatewaysFailed
}

// SelectOrFirst is the best-effort variant used on the serving path: when
// every candidate fails it silently falls back to the first candidate,
// unfiltered.
func (s *Selector) SelectOrFirst(ctx context.Context, candidates []string, probe ProbeFunc) string {
	origin, err := s.SelectWorking(ctx, candidates, probe)
	if err != nil {
		if len(candidates) == 0 {
			return ""
		}
		s.log.Debug("falling back to first candidate",
			slog.String("origin", candidates[0]),
			slog.Any("error", err))
		return candidates[0]
	}
	return origin
}
