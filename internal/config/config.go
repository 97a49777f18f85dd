// Package config provides the typed configuration for the aquifer engine.
//
// Configuration is loaded from YAML, filled with defaults, and validated
// before any component is constructed. Every recognized option is an
// explicit struct field; unknown keys are rejected by the YAML decoder's
// strict mode at load time.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	defaults "github.com/hydronet/aquifer/config"
)

// Config represents the complete engine configuration.
type Config struct {
	// Archive configures the cold archival store adapter.
	Archive ArchiveConfig `yaml:"archive"`

	// Warm configures the warm transactional store.
	Warm WarmConfig `yaml:"warm"`

	// Sync configures the ETL synchronizer.
	Sync SyncConfig `yaml:"sync"`

	// Cache configures the hot cache manager.
	Cache CacheConfig `yaml:"cache"`

	// GapFill configures the gap-fill generator.
	GapFill GapFillConfig `yaml:"gapfill"`

	// Anomaly configures the anomaly detector.
	Anomaly AnomalyConfig `yaml:"anomaly"`

	// Query bounds tier queries.
	Query QueryConfig `yaml:"query"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`

	// MetricsListen is the optional address for the prometheus /metrics
	// listener. Empty disables the listener.
	MetricsListen string `yaml:"metrics_listen"`

	// DrainTimeout is how long shutdown waits for in-flight tasks.
	DrainTimeout time.Duration `yaml:"drain_timeout"`
}

// ArchiveConfig configures the cold archival store adapter.
type ArchiveConfig struct {
	// Dir is the directory holding parquet segment files.
	Dir string `yaml:"dir"`

	// MemoryLimit is the DuckDB memory limit for archive queries.
	MemoryLimit string `yaml:"memory_limit"`
}

// WarmConfig configures the warm transactional store.
type WarmConfig struct {
	// Path is the DuckDB database file. Empty uses an in-memory database.
	Path string `yaml:"path"`

	// Retention is the rolling window of readings kept warm.
	Retention time.Duration `yaml:"retention"`

	// PruneInterval is how often expired rows are deleted.
	PruneInterval time.Duration `yaml:"prune_interval"`
}

// SyncConfig configures the ETL synchronizer.
type SyncConfig struct {
	// Interval between sync cycles per table.
	Interval time.Duration `yaml:"interval"`

	// BatchLimit caps archive rows fetched per cycle.
	BatchLimit int `yaml:"batch_limit"`

	// LeaseTTL is the expiry of the per-table sync lease.
	LeaseTTL time.Duration `yaml:"lease_ttl"`

	// BackoffInitial is the first retry delay after a failed cycle.
	BackoffInitial time.Duration `yaml:"backoff_initial"`

	// BackoffMax caps the exponential retry delay.
	BackoffMax time.Duration `yaml:"backoff_max"`
}

// CacheConfig configures the hot cache manager.
type CacheConfig struct {
	// RefreshInterval is how often window aggregates are recomputed.
	RefreshInterval time.Duration `yaml:"refresh_interval"`

	// TTLSafetyFactor scales RefreshInterval into the entry TTL.
	TTLSafetyFactor float64 `yaml:"ttl_safety_factor"`

	// ClockSkewTolerance is the allowance applied to freshness checks.
	ClockSkewTolerance time.Duration `yaml:"clock_skew_tolerance"`
}

// TTL returns the cache entry TTL derived from the refresh interval.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(float64(c.RefreshInterval) * c.TTLSafetyFactor)
}

// GapFillConfig configures the gap-fill generator.
type GapFillConfig struct {
	// Bucket is the fixed bucket size for gap detection.
	Bucket time.Duration `yaml:"bucket"`

	// SweepInterval is how often the full gap-fill sweep runs.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// QualityScore is the fixed score assigned to synthetic readings.
	QualityScore float64 `yaml:"quality_score"`

	// NoiseScale scales bounded noise relative to historical stddev.
	NoiseScale float64 `yaml:"noise_scale"`

	// Seed is the base seed for deterministic synthesis. Combined with the
	// node ID and bucket timestamp so re-runs are reproducible.
	Seed int64 `yaml:"seed"`
}

// AnomalyConfig configures the anomaly detector.
type AnomalyConfig struct {
	// ZThreshold is the z-score above which a reading is anomalous.
	ZThreshold float64 `yaml:"z_threshold"`

	// TrailingWindow is the window for the mean/stddev baseline.
	TrailingWindow time.Duration `yaml:"trailing_window"`

	// Bands are the z-score lower bounds per severity.
	Bands SeverityBands `yaml:"bands"`

	// SyntheticSeed is the base seed for the fallback generator.
	SyntheticSeed int64 `yaml:"synthetic_seed"`
}

// SeverityBands holds z-score lower bounds per severity level.
// Bands must be strictly increasing: Low < Medium < High < Critical.
type SeverityBands struct {
	Low      float64 `yaml:"low"`
	Medium   float64 `yaml:"medium"`
	High     float64 `yaml:"high"`
	Critical float64 `yaml:"critical"`
}

// QueryConfig bounds tier queries.
type QueryConfig struct {
	// Timeout bounds a single tier query.
	Timeout time.Duration `yaml:"timeout"`

	// MaxRows caps rows returned by range queries.
	MaxRows int `yaml:"max_rows"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// JSON switches to JSON output.
	JSON bool `yaml:"json"`
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Archive: ArchiveConfig{
			Dir:         "/var/lib/aquifer/archive",
			MemoryLimit: "2GB",
		},
		Warm: WarmConfig{
			Path:          "/var/lib/aquifer/warm.db",
			Retention:     defaults.DefaultWarmRetention,
			PruneInterval: defaults.DefaultPruneInterval,
		},
		Sync: SyncConfig{
			Interval:       defaults.DefaultSyncInterval,
			BatchLimit:     defaults.DefaultSyncBatchLimit,
			LeaseTTL:       defaults.DefaultLeaseTTL,
			BackoffInitial: defaults.DefaultBackoffInitial,
			BackoffMax:     defaults.DefaultBackoffMax,
		},
		Cache: CacheConfig{
			RefreshInterval:    defaults.DefaultCacheRefreshInterval,
			TTLSafetyFactor:    defaults.DefaultTTLSafetyFactor,
			ClockSkewTolerance: defaults.DefaultClockSkewTolerance,
		},
		GapFill: GapFillConfig{
			Bucket:        defaults.DefaultGapFillBucket,
			SweepInterval: defaults.DefaultGapFillSweepInterval,
			QualityScore:  defaults.DefaultInterpolatedQuality,
			NoiseScale:    defaults.DefaultNoiseScale,
			Seed:          1,
		},
		Anomaly: AnomalyConfig{
			ZThreshold:     defaults.DefaultZThreshold,
			TrailingWindow: defaults.DefaultTrailingWindow,
			Bands: SeverityBands{
				Low:      defaults.DefaultBandLow,
				Medium:   defaults.DefaultBandMedium,
				High:     defaults.DefaultBandHigh,
				Critical: defaults.DefaultBandCritical,
			},
			SyntheticSeed: 1,
		},
		Query: QueryConfig{
			Timeout: defaults.DefaultQueryTimeout,
			MaxRows: defaults.DefaultQueryMaxRows,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		DrainTimeout: defaults.DefaultDrainTimeout,
	}
}
