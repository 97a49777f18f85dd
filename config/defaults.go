// Package config provides configuration defaults and utilities
// for the aquifer engine.
//
// This package defines shared default constants with documented values.
// Users can override these values via config.yaml.
package config

import "time"

// =============================================================================
// ETL Defaults
// =============================================================================

const (
	// DefaultSyncInterval is how often the ETL synchronizer pulls new rows
	// from the archival store into the warm store.
	// Override via config: sync.interval
	DefaultSyncInterval = 15 * time.Minute

	// DefaultSyncBatchLimit caps the number of archive rows fetched per cycle.
	// A bounded batch keeps a single transaction small and retryable.
	// Override via config: sync.batch_limit
	DefaultSyncBatchLimit = 50000

	// DefaultLeaseTTL is how long a sync lease is held before it expires.
	// Must exceed the worst-case duration of one sync batch.
	// Override via config: sync.lease_ttl
	DefaultLeaseTTL = 10 * time.Minute

	// DefaultBackoffInitial is the first retry delay after a failed sync.
	// Override via config: sync.backoff_initial
	DefaultBackoffInitial = 30 * time.Second

	// DefaultBackoffMax caps the exponential retry delay.
	// Override via config: sync.backoff_max
	DefaultBackoffMax = 30 * time.Minute
)

// =============================================================================
// Hot Cache Defaults
// =============================================================================

const (
	// DefaultCacheRefreshInterval is how often pre-computed window
	// aggregates are recomputed from the warm store.
	// Override via config: cache.refresh_interval
	DefaultCacheRefreshInterval = 5 * time.Minute

	// DefaultTTLSafetyFactor scales the refresh interval into the entry TTL
	// (TTL = refresh_interval * factor) so a missed refresh does not
	// immediately expire every entry.
	// Override via config: cache.ttl_safety_factor
	DefaultTTLSafetyFactor = 2.0

	// DefaultClockSkewTolerance is the allowance applied to freshness
	// checks so minor clock drift between writers and readers does not
	// flap entries between fresh and stale.
	// Override via config: cache.clock_skew_tolerance
	DefaultClockSkewTolerance = 5 * time.Second
)

// =============================================================================
// Warm Store Defaults
// =============================================================================

const (
	// DefaultWarmRetention is the rolling window of readings kept in the
	// warm store. Older rows remain available in the cold archive.
	// Override via config: warm.retention
	DefaultWarmRetention = 90 * 24 * time.Hour

	// DefaultPruneInterval is how often expired warm rows are deleted.
	// Override via config: warm.prune_interval
	DefaultPruneInterval = 6 * time.Hour
)

// =============================================================================
// Gap-Fill Defaults
// =============================================================================

const (
	// DefaultGapFillBucket is the fixed bucket size used when detecting and
	// filling missing readings.
	// Override via config: gapfill.bucket
	DefaultGapFillBucket = 30 * time.Minute

	// DefaultGapFillSweepInterval is how often the gap-fill sweep runs.
	// Override via config: gapfill.sweep_interval
	DefaultGapFillSweepInterval = time.Hour

	// DefaultInterpolatedQuality is the fixed quality score assigned to
	// synthetic readings. Real readings carry their own score.
	// Override via config: gapfill.quality_score
	DefaultInterpolatedQuality = 0.5

	// DefaultNoiseScale scales the bounded noise term relative to the
	// node's historical standard deviation.
	// Override via config: gapfill.noise_scale
	DefaultNoiseScale = 0.25
)

// =============================================================================
// Anomaly Detection Defaults
// =============================================================================

const (
	// DefaultZThreshold is the z-score above which a reading is anomalous.
	// The source material used both 2.5 and 3.0; the threshold is kept
	// configurable and defaults to the stricter value.
	// Override via config: anomaly.z_threshold
	DefaultZThreshold = 3.0

	// DefaultTrailingWindow is the trailing window used to compute the
	// per-metric mean and standard deviation.
	// Override via config: anomaly.trailing_window
	DefaultTrailingWindow = 7 * 24 * time.Hour
)

// Default severity bands (z-score lower bounds).
// Override via config: anomaly.bands
const (
	DefaultBandLow      = 2.5
	DefaultBandMedium   = 3.0
	DefaultBandHigh     = 4.0
	DefaultBandCritical = 5.0
)

// =============================================================================
// Query Defaults
// =============================================================================

const (
	// DefaultQueryTimeout bounds a single tier query. The router treats an
	// expired deadline as a tier failure and serves the best result so far.
	// Override via config: query.timeout
	DefaultQueryTimeout = 30 * time.Second

	// DefaultQueryMaxRows caps rows returned by range queries.
	// Override via config: query.max_rows
	DefaultQueryMaxRows = 1000000
)

// =============================================================================
// Shutdown Defaults
// =============================================================================

const (
	// DefaultDrainTimeout is how long to wait for in-flight background
	// tasks during shutdown before abandoning them.
	// Override via config: drain_timeout
	DefaultDrainTimeout = 30 * time.Second
)
