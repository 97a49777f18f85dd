// Package metrics exposes prometheus collectors for the aquifer engine.
//
// All collectors are registered against an injected registerer so tests can
// use isolated registries. Components keep their own plain Stats snapshots;
// the collectors here are the externally scraped view.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all engine collectors.
type Metrics struct {
	// ETL
	SyncRuns         *prometheus.CounterVec // result: ok|failed|lease_held|backoff
	SyncRowsUpserted prometheus.Counter
	SyncRowsSkipped  prometheus.Counter
	SyncRowsInvalid  prometheus.Counter

	// Hot cache
	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter
	CacheRefreshes prometheus.Counter
	CacheStale     prometheus.Counter

	// Router
	RouterQueries   *prometheus.CounterVec // tier: hot|warm|cold|stale-cache
	RouterFallbacks *prometheus.CounterVec // from tier

	// Gap-fill
	GapFillRows    prometheus.Counter
	GapFillBuckets prometheus.Counter

	// Anomalies
	Anomalies *prometheus.CounterVec // severity, origin
}

// New creates and registers all collectors against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SyncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aquifer",
			Subsystem: "sync",
			Name:      "runs_total",
			Help:      "ETL sync cycles by result.",
		}, []string{"result"}),
		SyncRowsUpserted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aquifer",
			Subsystem: "sync",
			Name:      "rows_upserted_total",
			Help:      "Rows upserted into the warm store.",
		}),
		SyncRowsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aquifer",
			Subsystem: "sync",
			Name:      "rows_skipped_total",
			Help:      "Rows skipped as duplicates by content hash.",
		}),
		SyncRowsInvalid: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aquifer",
			Subsystem: "sync",
			Name:      "rows_invalid_total",
			Help:      "Rows dropped by row-level validation.",
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aquifer",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Hot cache hits.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aquifer",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Hot cache misses (triggering single-flight compute).",
		}),
		CacheRefreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aquifer",
			Subsystem: "cache",
			Name:      "refreshes_total",
			Help:      "Background cache refresh computations.",
		}),
		CacheStale: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aquifer",
			Subsystem: "cache",
			Name:      "stale_served_total",
			Help:      "Responses served from entries past their TTL.",
		}),
		RouterQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aquifer",
			Subsystem: "router",
			Name:      "queries_total",
			Help:      "Queries answered, by serving tier.",
		}, []string{"tier"}),
		RouterFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aquifer",
			Subsystem: "router",
			Name:      "fallbacks_total",
			Help:      "Tier failures that triggered fallback, by failed tier.",
		}, []string{"tier"}),
		GapFillRows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aquifer",
			Subsystem: "gapfill",
			Name:      "rows_written_total",
			Help:      "Synthetic readings written.",
		}),
		GapFillBuckets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aquifer",
			Subsystem: "gapfill",
			Name:      "buckets_scanned_total",
			Help:      "Expected buckets examined by sweeps.",
		}),
		Anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aquifer",
			Subsystem: "anomaly",
			Name:      "records_total",
			Help:      "Anomaly records produced, by severity and origin.",
		}, []string{"severity", "origin"}),
	}

	reg.MustRegister(
		m.SyncRuns, m.SyncRowsUpserted, m.SyncRowsSkipped, m.SyncRowsInvalid,
		m.CacheHits, m.CacheMisses, m.CacheRefreshes, m.CacheStale,
		m.RouterQueries, m.RouterFallbacks,
		m.GapFillRows, m.GapFillBuckets,
		m.Anomalies,
	)

	return m
}

// NewUnregistered creates collectors without registering them.
// Useful for components constructed in tests without a registry.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}
