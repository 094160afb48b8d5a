package calls

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type SweepResult struct {
	Scanned int
	Ended   int
	// Skipped calls moved on (accepted, rejected, ended) between listing and ending.
	Skipped int
}

// SweepStale ends calls that stayed initiated longer than maxAge.
//
// Each call goes through the same compare-and-swap as a user's end, expecting
// initiated, so a call accepted meanwhile is left alone. Swept calls become
// ended (not missed) and both participants are notified.
func (s *Service) SweepStale(ctx context.Context, maxAge time.Duration, limit int) (SweepResult, error) {
	ctx, span := s.tracer.Start(ctx, "calls.sweep", trace.WithAttributes(attribute.Int64("sweep.max_age_seconds", int64(maxAge.Seconds()))))
	defer span.End()

	if maxAge <= 0 {
		return SweepResult{}, ErrInvalidArgument
	}
	cutoff := s.clock().UTC().Add(-maxAge)
	stale, err := s.repo.ListStaleInitiated(ctx, cutoff, limit)
	if err != nil {
		return SweepResult{}, err
	}

	res := SweepResult{Scanned: len(stale)}
	for _, c := range stale {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		_, _, err := s.transition(ctx, TransitionEnd, c.ID, SystemActor, StatusInitiated)
		switch {
		case err == nil:
			res.Ended++
			s.metrics.ObserveTransition(string(TransitionEnd), "swept")
		case errors.Is(err, ErrConflict), errors.Is(err, ErrNotFound):
			res.Skipped++
		default:
			return res, err
		}
	}
	span.SetAttributes(attribute.Int("sweep.ended", res.Ended), attribute.Int("sweep.skipped", res.Skipped))
	return res, nil
}
