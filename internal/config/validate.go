package config

import (
	"fmt"
	"time"

	"github.com/hydronet/aquifer/internal/errors"
)

// Validate checks all configured values against their allowed ranges.
// All violations are collected and reported together.
func (c *Config) Validate() error {
	v := errors.NewValidationErrors()

	if c.Archive.Dir == "" {
		v.AddMissing("archive.dir")
	}

	validateDuration(v, "warm.retention", c.Warm.Retention, 24*time.Hour, 10*365*24*time.Hour)
	validateDuration(v, "warm.prune_interval", c.Warm.PruneInterval, time.Minute, 7*24*time.Hour)

	validateDuration(v, "sync.interval", c.Sync.Interval, time.Minute, 24*time.Hour)
	if c.Sync.BatchLimit <= 0 {
		v.AddField("sync.batch_limit", "must be positive")
	}
	validateDuration(v, "sync.lease_ttl", c.Sync.LeaseTTL, time.Second, 24*time.Hour)
	validateDuration(v, "sync.backoff_initial", c.Sync.BackoffInitial, time.Second, time.Hour)
	if c.Sync.BackoffMax < c.Sync.BackoffInitial {
		v.AddField("sync.backoff_max", "must be >= sync.backoff_initial")
	}

	validateDuration(v, "cache.refresh_interval", c.Cache.RefreshInterval, time.Second, 24*time.Hour)
	if c.Cache.TTLSafetyFactor < 1.0 {
		// A factor below 1 would expire entries before the next refresh.
		v.AddField("cache.ttl_safety_factor", "must be >= 1.0")
	}
	if c.Cache.ClockSkewTolerance < 0 {
		v.AddField("cache.clock_skew_tolerance", "must be non-negative")
	}

	validateDuration(v, "gapfill.bucket", c.GapFill.Bucket, time.Minute, 24*time.Hour)
	validateDuration(v, "gapfill.sweep_interval", c.GapFill.SweepInterval, time.Minute, 7*24*time.Hour)
	if c.GapFill.QualityScore <= 0 || c.GapFill.QualityScore >= 1 {
		// Synthetic rows must be distinguishable from perfect readings.
		v.AddField("gapfill.quality_score", "must be in (0,1)")
	}
	if c.GapFill.NoiseScale < 0 || c.GapFill.NoiseScale > 1 {
		v.AddField("gapfill.noise_scale", "must be in [0,1]")
	}

	if c.Anomaly.ZThreshold <= 0 {
		v.AddField("anomaly.z_threshold", "must be positive")
	}
	validateDuration(v, "anomaly.trailing_window", c.Anomaly.TrailingWindow, time.Hour, 365*24*time.Hour)
	b := c.Anomaly.Bands
	if !(b.Low > 0 && b.Low < b.Medium && b.Medium < b.High && b.High < b.Critical) {
		v.AddField("anomaly.bands", "must be strictly increasing: 0 < low < medium < high < critical")
	}

	validateDuration(v, "query.timeout", c.Query.Timeout, time.Second, 10*time.Minute)
	if c.Query.MaxRows <= 0 {
		v.AddField("query.max_rows", "must be positive")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		v.AddField("logging.level", "must be one of debug, info, warn, error")
	}

	if c.DrainTimeout <= 0 {
		v.AddField("drain_timeout", "must be positive")
	}

	return v.Err()
}

func validateDuration(v *errors.ValidationErrors, field string, d, min, max time.Duration) {
	if d < min || d > max {
		v.AddField(field, fmt.Sprintf("must be between %s and %s, got %s", min, max, d))
	}
}
