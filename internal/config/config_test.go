package config

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hydronet/aquifer/internal/errors"
)

func TestDefaultConfigIsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("DefaultConfig().Validate() = %v", err)
	}
}

func TestValidate_RejectsBadValues(t *testing.T) {
	cases := map[string]func(*Config){
		"empty archive dir":       func(c *Config) { c.Archive.Dir = "" },
		"zero retention":          func(c *Config) { c.Warm.Retention = 0 },
		"zero batch limit":        func(c *Config) { c.Sync.BatchLimit = 0 },
		"backoff max below init":  func(c *Config) { c.Sync.BackoffMax = c.Sync.BackoffInitial / 2 },
		"ttl factor below 1":      func(c *Config) { c.Cache.TTLSafetyFactor = 0.5 },
		"quality above 1":         func(c *Config) { c.GapFill.QualityScore = 1.5 },
		"negative noise":          func(c *Config) { c.GapFill.NoiseScale = -1 },
		"zero z-threshold":        func(c *Config) { c.Anomaly.ZThreshold = 0 },
		"bands not increasing":    func(c *Config) { c.Anomaly.Bands.High = c.Anomaly.Bands.Critical + 1 },
		"unknown log level":       func(c *Config) { c.Logging.Level = "verbose" },
	}
	for name, mutate := range cases {
		cfg := DefaultConfig()
		mutate(cfg)
		err := cfg.Validate()
		if !errors.Is(err, errors.ErrInvalidConfig) && !errors.Is(err, errors.ErrMissingField) {
			t.Errorf("%s: Validate() = %v, want config validation error", name, err)
		}
	}
}

func TestLoad_StrictYAMLRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("warm:\n  pathh: /tmp/warm.db\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Error("Load() accepted an unknown key")
	}
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := "warm:\n  retention: 720h\nsync:\n  batch_limit: 1000\n"
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := cfg.Warm.Retention.Hours(); got != 720 {
		t.Errorf("Retention = %vh, want 720h", got)
	}
	if cfg.Sync.BatchLimit != 1000 {
		t.Errorf("BatchLimit = %d, want 1000", cfg.Sync.BatchLimit)
	}
	// Untouched sections keep their defaults.
	if cfg.Cache.TTLSafetyFactor != DefaultConfig().Cache.TTLSafetyFactor {
		t.Error("unrelated default was clobbered")
	}
}

func TestLoad_MissingFileReportsNotExist(t *testing.T) {
	// Callers fall back to defaults on a missing file, so the wrapped
	// error must still satisfy fs.ErrNotExist.
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Load() error = %v, want fs.ErrNotExist", err)
	}
}

func TestCacheTTL(t *testing.T) {
	cfg := DefaultConfig()
	want := time.Duration(float64(cfg.Cache.RefreshInterval) * cfg.Cache.TTLSafetyFactor)
	if got := cfg.Cache.TTL(); got != want {
		t.Errorf("TTL() = %v, want %v", got, want)
	}
}
