// Package engine assembles the tiered access engine: archive adapter, warm
// store, ETL synchronizer, hot cache, tier router, gap-fill generator and
// anomaly detector, plus the scheduler driving the periodic work.
package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hydronet/aquifer/internal/anomaly"
	"github.com/hydronet/aquifer/internal/archive"
	"github.com/hydronet/aquifer/internal/config"
	"github.com/hydronet/aquifer/internal/errors"
	"github.com/hydronet/aquifer/internal/etl"
	"github.com/hydronet/aquifer/internal/gapfill"
	"github.com/hydronet/aquifer/internal/hotcache"
	"github.com/hydronet/aquifer/internal/logging"
	"github.com/hydronet/aquifer/internal/metrics"
	"github.com/hydronet/aquifer/internal/model"
	"github.com/hydronet/aquifer/internal/router"
	"github.com/hydronet/aquifer/internal/scheduler"
	"github.com/hydronet/aquifer/internal/warm"
)

var log = logging.Component("engine")

// Service is the assembled engine.
type Service struct {
	cfg      *config.Config
	registry *prometheus.Registry
	prom     *metrics.Metrics

	archive  *archive.Store
	warm     *warm.Store
	sync     *etl.Synchronizer
	cache    *hotcache.Manager
	router   *router.Router
	gapfill  *gapfill.Generator
	detector *anomaly.Detector
	sched    *scheduler.Scheduler

	running atomic.Bool
}

// MetricsResponse is the GetNodeMetrics result.
type MetricsResponse struct {
	// Readings holds the raw series when no aggregation was requested.
	Readings []model.Reading

	// Aggregates holds one aggregate per node and metric when an
	// aggregation was requested.
	Aggregates  []model.Aggregate
	Aggregation model.Aggregation

	// Tier that served the response. For aggregated multi-node requests
	// this is the slowest tier touched.
	Tier router.Tier

	// Stale marks responses the caller should treat as possibly outdated.
	Stale bool
}

// New constructs the engine from validated configuration.
func New(cfg *config.Config) (*Service, error) {
	registry := prometheus.NewRegistry()
	prom := metrics.New(registry)

	arch, err := archive.Open(cfg.Archive)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	wrm, err := warm.Open(cfg.Warm, cfg.Query.MaxRows)
	if err != nil {
		arch.Close()
		return nil, fmt.Errorf("open warm store: %w", err)
	}

	s := &Service{
		cfg:      cfg,
		registry: registry,
		prom:     prom,
		archive:  arch,
		warm:     wrm,
	}

	s.sync = etl.New(arch, wrm, cfg.Sync, prom)
	s.cache = hotcache.NewManager(hotcache.NewMemoryKV(), s.computeAggregate, cfg.Cache, prom)
	s.router = router.New(s.cache, wrm, arch, prom)
	s.gapfill = gapfill.New(wrm, cfg.GapFill, prom)
	s.detector = anomaly.New(wrm, cfg.Anomaly, prom)

	sched := scheduler.New(scheduler.Config{
		Workers:      2,
		QueueSize:    8,
		TickInterval: scheduler.DefaultConfig().TickInterval,
		DrainTimeout: cfg.DrainTimeout,
	})
	s.sched = sched

	return s, nil
}

// Start registers the periodic tasks and starts the scheduler.
func (s *Service) Start() error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("engine already running")
	}

	s.sched.Register(scheduler.Task{
		Name:     "sync",
		Interval: s.cfg.Sync.Interval,
		Timeout:  s.cfg.Sync.LeaseTTL,
		Run:      s.runSync,
	})
	s.sched.Register(scheduler.Task{
		Name:     "cache-refresh",
		Interval: s.cfg.Cache.RefreshInterval,
		Timeout:  s.cfg.Cache.RefreshInterval,
		Run:      s.runCacheRefresh,
	})
	s.sched.Register(scheduler.Task{
		Name:     "gapfill-sweep",
		Interval: s.cfg.GapFill.SweepInterval,
		Timeout:  s.cfg.GapFill.SweepInterval,
		Run:      s.runGapFill,
	})
	s.sched.Register(scheduler.Task{
		Name:     "warm-prune",
		Interval: s.cfg.Warm.PruneInterval,
		Timeout:  s.cfg.Query.Timeout,
		Run:      s.runPrune,
	})

	s.sched.Start()
	// Populate the warm store promptly instead of waiting out the jitter.
	s.sched.Kick("sync")

	log.Info("engine started",
		"archive_dir", s.cfg.Archive.Dir,
		"warm_path", s.cfg.Warm.Path,
		"warm_retention", s.cfg.Warm.Retention)
	return nil
}

// Stop drains the scheduler and closes the stores.
func (s *Service) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return errors.ErrNotRunning
	}

	s.sched.Stop()

	var firstErr error
	if err := s.warm.Close(); err != nil {
		firstErr = fmt.Errorf("close warm store: %w", err)
	}
	if err := s.archive.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close archive: %w", err)
	}

	log.Info("engine stopped")
	return firstErr
}

// Registry returns the prometheus registry for the /metrics listener.
func (s *Service) Registry() *prometheus.Registry {
	return s.registry
}

// =============================================================================
// Entry points
// =============================================================================

// GetNodeMetrics answers a metrics query for the given nodes over the
// exact requested range. With an empty aggregation the raw series is
// returned; otherwise one aggregate per node and metric. nodeIDs may be
// [model.SystemNodeID] for the system-wide rollup (aggregated form only).
func (s *Service) GetNodeMetrics(ctx context.Context, nodeIDs []string, tr model.TimeRange, agg model.Aggregation) (*MetricsResponse, error) {
	if !s.running.Load() {
		return nil, errors.ErrNotRunning
	}
	if len(nodeIDs) == 0 {
		return nil, errors.NewMissingField("node_ids")
	}
	if err := tr.Validate(); err != nil {
		return nil, errors.Wrap(errors.ErrInvalidRange, err.Error())
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Query.Timeout)
	defer cancel()

	if agg == "" {
		res, err := s.router.QuerySeries(ctx, nodeIDs, tr)
		if err != nil {
			return nil, err
		}
		return &MetricsResponse{Readings: res.Readings, Tier: res.Tier, Stale: res.Stale}, nil
	}
	if !agg.Valid() {
		return nil, errors.NewInvalidValue("aggregation", agg, "unknown aggregation")
	}

	resp := &MetricsResponse{Aggregation: agg, Tier: router.TierHot}
	window, hotEligible := s.hotWindow(tr)

	for _, nodeID := range nodeIDs {
		for _, metric := range model.AllMetrics() {
			var res router.AggregateResult
			var err error
			if hotEligible {
				res, err = s.router.QueryAggregate(ctx, nodeID, metric, window)
			} else {
				res, err = s.router.QueryAggregateRange(ctx, nodeID, metric, tr)
			}
			if err != nil {
				return nil, err
			}
			resp.Aggregates = append(resp.Aggregates, res.Aggregate)
			if res.Tier > resp.Tier {
				resp.Tier = res.Tier
			}
			resp.Stale = resp.Stale || res.Stale
		}
	}
	return resp, nil
}

// GetAnomalies returns anomalies for the given nodes over the fixed window
// ending now. The result is synthetic, and marked so, when the warm store
// could not serve the detection.
func (s *Service) GetAnomalies(ctx context.Context, nodeIDs []string, window model.Window) (model.Detection, error) {
	if !s.running.Load() {
		return model.Detection{}, errors.ErrNotRunning
	}
	if len(nodeIDs) == 0 {
		return model.Detection{}, errors.NewMissingField("node_ids")
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Query.Timeout)
	defer cancel()

	return s.detector.Detect(ctx, nodeIDs, window)
}

// ExportSegment writes every warm reading in the given range to a parquet
// segment at path, in the archive's segment format. The segment can be
// dropped into the archive directory to re-archive warm data.
func (s *Service) ExportSegment(ctx context.Context, tr model.TimeRange, path string) (int64, error) {
	if !s.running.Load() {
		return 0, errors.ErrNotRunning
	}
	if err := tr.Validate(); err != nil {
		return 0, errors.Wrap(errors.ErrInvalidRange, err.Error())
	}

	nodeIDs, err := s.warm.ListNodeIDs(ctx)
	if err != nil {
		return 0, err
	}
	readings, err := s.warm.QueryRange(ctx, nodeIDs, tr)
	if err != nil {
		return 0, err
	}

	w, err := archive.NewSegmentWriter(path, archive.DefaultOptions())
	if err != nil {
		return 0, err
	}
	if err := w.Write(readings); err != nil {
		w.Close()
		return 0, err
	}
	if err := w.Close(); err != nil {
		return 0, err
	}

	log.Info("exported warm segment", "path", path, "rows", w.RowCount())
	return w.RowCount(), nil
}

// hotWindow maps a time range onto a fixed cache window when the range is
// exactly that window anchored at now (within the clock skew tolerance).
func (s *Service) hotWindow(tr model.TimeRange) (model.Window, bool) {
	w, ok := model.SmallestCovering(tr.Duration())
	if !ok || w.Duration() != tr.Duration() {
		return 0, false
	}

	driftMs := s.cfg.Cache.ClockSkewTolerance.Milliseconds()
	endDrift := tr.EndMs - nowMs()
	if endDrift < -driftMs || endDrift > driftMs {
		return 0, false
	}
	return w, true
}

// =============================================================================
// Scheduled tasks
// =============================================================================

func (s *Service) runSync(ctx context.Context) error {
	if _, err := s.sync.SyncNodes(ctx); err != nil {
		log.Warn("node reference sync failed", "error", err)
	}
	_, err := s.sync.Sync(ctx, archive.TableReadings)
	return err
}

func (s *Service) runCacheRefresh(ctx context.Context) error {
	keys, err := s.cacheKeys(ctx)
	if err != nil {
		return err
	}
	_, err = s.cache.RefreshAll(ctx, keys)
	return err
}

func (s *Service) runGapFill(ctx context.Context) error {
	_, err := s.gapfill.Sweep(ctx)
	return err
}

func (s *Service) runPrune(ctx context.Context) error {
	res, err := s.warm.PruneExpired(ctx, time.Now())
	if err == nil && res.RowsDeleted > 0 {
		log.Info("warm retention prune", "rows_deleted", res.RowsDeleted, "cutoff", res.Cutoff)
	}
	return err
}

// cacheKeys enumerates every (node, metric, window) combination plus the
// system-wide rollups.
func (s *Service) cacheKeys(ctx context.Context) ([]hotcache.Key, error) {
	nodeIDs, err := s.warm.ListNodeIDs(ctx)
	if err != nil {
		return nil, err
	}
	nodeIDs = append(nodeIDs, model.SystemNodeID)

	keys := make([]hotcache.Key, 0, len(nodeIDs)*len(model.AllMetrics())*len(model.AllWindows()))
	for _, id := range nodeIDs {
		for _, metric := range model.AllMetrics() {
			for _, window := range model.AllWindows() {
				keys = append(keys, hotcache.Key{NodeID: id, Metric: metric, Window: window})
			}
		}
	}
	return keys, nil
}

// computeAggregate is the hot cache's compute function: the warm store
// answers for the window anchored at now.
func (s *Service) computeAggregate(ctx context.Context, k hotcache.Key) (model.Aggregate, error) {
	end := nowMs()
	tr := model.TimeRange{StartMs: end - k.Window.Duration().Milliseconds(), EndMs: end}

	aggs, err := s.warm.QueryAggregate(ctx, []string{k.NodeID}, k.Metric, tr)
	if err != nil {
		return model.Aggregate{}, err
	}
	if len(aggs) == 0 {
		return model.Aggregate{NodeID: k.NodeID, Metric: k.Metric, StartMs: tr.StartMs, EndMs: tr.EndMs}, nil
	}
	return aggs[0], nil
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}

// =============================================================================
// Stats
// =============================================================================

// Stats is a point-in-time snapshot across all components.
type Stats struct {
	Running   bool
	Archive   archive.Stats
	Warm      warm.Stats
	Sync      etl.Stats
	Cache     hotcache.Stats
	Scheduler scheduler.Stats
}

// Stats returns a snapshot of engine statistics.
func (s *Service) Stats() Stats {
	return Stats{
		Running:   s.running.Load(),
		Archive:   s.archive.Stats(),
		Warm:      s.warm.Stats(),
		Sync:      s.sync.Stats(),
		Cache:     s.cache.Stats(),
		Scheduler: s.sched.Stats(),
	}
}
