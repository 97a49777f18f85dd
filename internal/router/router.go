// Package router picks the storage tier for each query: hot cache when a
// fresh precomputed aggregate covers it, the warm store within its
// retention window, the cold archive for everything older. Tier failures
// fall through the chain; an expired cache entry is the last resort and is
// flagged stale.
package router

import (
	"context"
	"time"

	"github.com/hydronet/aquifer/internal/errors"
	"github.com/hydronet/aquifer/internal/hotcache"
	"github.com/hydronet/aquifer/internal/logging"
	"github.com/hydronet/aquifer/internal/metrics"
	"github.com/hydronet/aquifer/internal/model"
	"github.com/hydronet/aquifer/internal/warm"
)

var log = logging.Component("router")

// HotTier is the hot cache surface the router consults.
type HotTier interface {
	Fresh(k hotcache.Key) bool
	Get(ctx context.Context, k hotcache.Key) (model.Aggregate, bool, error)
	LookupStale(k hotcache.Key) (model.Aggregate, bool)
}

// WarmTier is the warm store surface the router consults.
type WarmTier interface {
	QueryRange(ctx context.Context, nodeIDs []string, tr model.TimeRange) ([]model.Reading, error)
	QueryAggregate(ctx context.Context, nodeIDs []string, metric model.Metric, tr model.TimeRange) ([]model.Aggregate, error)
	RetentionRange(now time.Time) model.TimeRange
}

// ColdTier is the archive surface the router consults.
type ColdTier interface {
	Query(ctx context.Context, nodeIDs []string, tr model.TimeRange) ([]model.Reading, error)
}

// SeriesResult is a raw-readings response with its serving tier.
type SeriesResult struct {
	Readings []model.Reading
	Tier     Tier
	// Stale marks a response the caller should treat as possibly outdated.
	Stale bool
}

// AggregateResult is an aggregate response with its serving tier.
type AggregateResult struct {
	Aggregate model.Aggregate
	Tier      Tier
	Stale     bool
}

// Router routes queries across the three tiers.
type Router struct {
	hot  HotTier
	warm WarmTier
	cold ColdTier
	prom *metrics.Metrics

	// now is replaceable in tests.
	now func() time.Time
}

// New creates a router over the three tiers.
func New(hot HotTier, warm WarmTier, cold ColdTier, prom *metrics.Metrics) *Router {
	return &Router{hot: hot, warm: warm, cold: cold, prom: prom, now: time.Now}
}

// QuerySeries returns raw readings for the exact requested range. The
// requested range is never substituted or truncated: when no tier can
// serve it in full, the router fails with a tier-unavailable error rather
// than return a shorter answer.
func (r *Router) QuerySeries(ctx context.Context, nodeIDs []string, tr model.TimeRange) (SeriesResult, error) {
	if err := tr.Validate(); err != nil {
		return SeriesResult{}, errors.Wrap(errors.ErrInvalidRange, err.Error())
	}

	retention := r.warm.RetentionRange(r.now())
	inWarm := tr.StartMs >= retention.StartMs

	if inWarm {
		readings, err := r.warm.QueryRange(ctx, nodeIDs, tr)
		if err == nil {
			r.prom.RouterQueries.WithLabelValues(TierWarm.String()).Inc()
			return SeriesResult{Readings: readings, Tier: TierWarm}, nil
		}
		log.Warn("warm tier failed, falling back to cold", "error", err)
		r.prom.RouterFallbacks.WithLabelValues(TierWarm.String()).Inc()
	}

	readings, err := r.cold.Query(ctx, nodeIDs, tr)
	if err == nil {
		r.prom.RouterQueries.WithLabelValues(TierCold.String()).Inc()
		// A cold response after a warm failure may trail the freshest
		// syncs, so it is flagged.
		return SeriesResult{Readings: readings, Tier: TierCold, Stale: inWarm}, nil
	}
	log.Error("cold tier failed", "error", err)
	r.prom.RouterFallbacks.WithLabelValues(TierCold.String()).Inc()

	return SeriesResult{}, errors.NewTierError(TierCold.String(), err)
}

// QueryAggregate returns the aggregate for one node (or the system rollup),
// metric and fixed window. Decision order: fresh hot entry, warm compute,
// cold compute, expired hot entry flagged stale.
func (r *Router) QueryAggregate(ctx context.Context, nodeID string, metric model.Metric, window model.Window) (AggregateResult, error) {
	k := hotcache.Key{NodeID: nodeID, Metric: metric, Window: window}

	if r.hot.Fresh(k) {
		agg, _, err := r.hot.Get(ctx, k)
		if err == nil {
			r.prom.RouterQueries.WithLabelValues(TierHot.String()).Inc()
			return AggregateResult{Aggregate: agg, Tier: TierHot}, nil
		}
		log.Warn("hot tier failed, falling back to warm", "key", k.String(), "error", err)
		r.prom.RouterFallbacks.WithLabelValues(TierHot.String()).Inc()
	}

	res, err := r.QueryAggregateRange(ctx, nodeID, metric, r.windowRange(window))
	if err == nil {
		return res, nil
	}
	log.Error("all storage tiers failed", "key", k.String(), "error", err)

	if stale, ok := r.hot.LookupStale(k); ok {
		log.Warn("serving stale cache entry, all tiers unavailable", "key", k.String())
		r.prom.RouterQueries.WithLabelValues(TierStaleCache.String()).Inc()
		return AggregateResult{Aggregate: stale, Tier: TierStaleCache, Stale: true}, nil
	}

	return AggregateResult{}, err
}

// QueryAggregateRange computes an aggregate over an arbitrary range. The
// hot cache only holds now-anchored fixed windows, so this path starts at
// the warm tier and falls back to cold.
func (r *Router) QueryAggregateRange(ctx context.Context, nodeID string, metric model.Metric, tr model.TimeRange) (AggregateResult, error) {
	if err := tr.Validate(); err != nil {
		return AggregateResult{}, errors.Wrap(errors.ErrInvalidRange, err.Error())
	}

	var lastErr error

	retention := r.warm.RetentionRange(r.now())
	if tr.StartMs >= retention.StartMs {
		aggs, err := r.warm.QueryAggregate(ctx, []string{nodeID}, metric, tr)
		if err == nil {
			r.prom.RouterQueries.WithLabelValues(TierWarm.String()).Inc()
			return AggregateResult{Aggregate: firstOrEmpty(aggs, nodeID, metric, tr), Tier: TierWarm}, nil
		}
		lastErr = err
		log.Warn("warm tier failed, falling back to cold", "node", nodeID, "error", err)
		r.prom.RouterFallbacks.WithLabelValues(TierWarm.String()).Inc()
	}

	agg, err := r.coldAggregate(ctx, nodeID, metric, tr)
	if err == nil {
		r.prom.RouterQueries.WithLabelValues(TierCold.String()).Inc()
		return AggregateResult{Aggregate: agg, Tier: TierCold}, nil
	}
	lastErr = err
	r.prom.RouterFallbacks.WithLabelValues(TierCold.String()).Inc()

	return AggregateResult{}, errors.NewTierError(TierCold.String(), lastErr)
}

// windowRange anchors a fixed window at now: [now-window, now).
func (r *Router) windowRange(w model.Window) model.TimeRange {
	end := r.now().UnixMilli()
	return model.TimeRange{StartMs: end - w.Duration().Milliseconds(), EndMs: end}
}

// coldAggregate computes the aggregate from raw archive readings.
func (r *Router) coldAggregate(ctx context.Context, nodeID string, metric model.Metric, tr model.TimeRange) (model.Aggregate, error) {
	ids := []string{nodeID}
	systemWide := nodeID == model.SystemNodeID
	if systemWide {
		ids = nil
	}

	readings, err := r.cold.Query(ctx, ids, tr)
	if err != nil {
		return model.Aggregate{}, err
	}

	sa := warm.NewStreamingAggregate(nodeID, metric, tr.StartMs, tr.EndMs, 0.01)
	for i := range readings {
		sa.Add(readings[i].Value(metric))
	}
	return sa.Result(), nil
}

// firstOrEmpty unwraps the single-node aggregate response, substituting an
// empty aggregate when the range holds no rows.
func firstOrEmpty(aggs []model.Aggregate, nodeID string, metric model.Metric, tr model.TimeRange) model.Aggregate {
	if len(aggs) > 0 {
		return aggs[0]
	}
	return model.Aggregate{NodeID: nodeID, Metric: metric, StartMs: tr.StartMs, EndMs: tr.EndMs}
}
