// Package hotcache keeps precomputed aggregates for the fixed query
// windows, refreshed in the background and deduplicated on miss with
// single-flight so a thundering herd computes each key once.
package hotcache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hydronet/aquifer/internal/config"
	"github.com/hydronet/aquifer/internal/errors"
	"github.com/hydronet/aquifer/internal/logging"
	"github.com/hydronet/aquifer/internal/metrics"
	"github.com/hydronet/aquifer/internal/model"
)

var log = logging.Component("hotcache")

// ComputeFunc produces the aggregate for a cache key from the warm tier.
type ComputeFunc func(ctx context.Context, k Key) (model.Aggregate, error)

// Manager is the hot cache front: Get serves fresh entries, computes
// misses under single-flight, and flags entries past their TTL.
type Manager struct {
	kv      KV
	compute ComputeFunc
	cfg     config.CacheConfig
	prom    *metrics.Metrics
	group   singleflight.Group

	mu    sync.Mutex
	stats Stats

	// now is replaceable in tests.
	now func() time.Time
}

// Stats holds cache counters.
type Stats struct {
	Hits        int64
	Misses      int64
	Refreshes   int64
	StaleServed int64
	Failures    int64
}

// NewManager creates a cache manager over kv.
func NewManager(kv KV, compute ComputeFunc, cfg config.CacheConfig, prom *metrics.Metrics) *Manager {
	return &Manager{
		kv:      kv,
		compute: compute,
		cfg:     cfg,
		prom:    prom,
		now:     time.Now,
	}
}

// Get returns the aggregate for k. A fresh cached entry is served as-is;
// otherwise the value is computed under single-flight, stored, and
// returned. fromCache reports whether the response avoided a compute.
func (m *Manager) Get(ctx context.Context, k Key) (agg model.Aggregate, fromCache bool, err error) {
	if e, ok := m.kv.Get(k); ok && e.Fresh(m.now(), m.cfg.ClockSkewTolerance) {
		m.count(func(s *Stats) { s.Hits++ })
		m.prom.CacheHits.Inc()
		return e.Aggregate, true, nil
	}

	m.count(func(s *Stats) { s.Misses++ })
	m.prom.CacheMisses.Inc()

	v, err, shared := m.group.Do(k.String(), func() (interface{}, error) {
		return m.computeAndStore(ctx, k)
	})
	if err != nil {
		m.count(func(s *Stats) { s.Failures++ })
		return model.Aggregate{}, false, errors.Wrapf(errors.ErrCacheCompute, "%s: %v", k, err)
	}
	return v.(model.Aggregate), shared, nil
}

// Fresh reports whether a fresh entry exists for k without computing.
func (m *Manager) Fresh(k Key) bool {
	e, ok := m.kv.Get(k)
	return ok && e.Fresh(m.now(), m.cfg.ClockSkewTolerance)
}

// LookupStale returns whatever entry exists for k, fresh or not. The
// router uses it as the last resort when every tier below failed.
func (m *Manager) LookupStale(k Key) (model.Aggregate, bool) {
	e, ok := m.kv.Get(k)
	if !ok {
		return model.Aggregate{}, false
	}
	if !e.Fresh(m.now(), m.cfg.ClockSkewTolerance) {
		m.count(func(s *Stats) { s.StaleServed++ })
		m.prom.CacheStale.Inc()
	}
	return e.Aggregate, true
}

// Refresh recomputes k unconditionally and stores the result.
func (m *Manager) Refresh(ctx context.Context, k Key) error {
	if _, err := m.computeAndStore(ctx, k); err != nil {
		return err
	}
	m.count(func(s *Stats) { s.Refreshes++ })
	m.prom.CacheRefreshes.Inc()
	return nil
}

// RefreshAll recomputes every key, carrying on past individual failures.
// Returns the number of keys refreshed and the first error encountered.
func (m *Manager) RefreshAll(ctx context.Context, keys []Key) (int, error) {
	var refreshed int
	var firstErr error
	for _, k := range keys {
		if ctx.Err() != nil {
			return refreshed, ctx.Err()
		}
		if err := m.Refresh(ctx, k); err != nil {
			log.Warn("cache refresh failed", "key", k.String(), "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		refreshed++
	}
	return refreshed, firstErr
}

// Invalidate drops the entry for k.
func (m *Manager) Invalidate(k Key) {
	m.kv.Delete(k)
}

// Keys returns every cached key.
func (m *Manager) Keys() []Key {
	return m.kv.Keys()
}

// Stats returns a snapshot of cache counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

func (m *Manager) computeAndStore(ctx context.Context, k Key) (model.Aggregate, error) {
	agg, err := m.compute(ctx, k)
	if err != nil {
		return model.Aggregate{}, err
	}
	m.kv.Set(k, Entry{
		Aggregate:  agg,
		ComputedAt: m.now(),
		TTL:        m.cfg.TTL(),
	})
	return agg, nil
}

func (m *Manager) count(fn func(*Stats)) {
	m.mu.Lock()
	fn(&m.stats)
	m.mu.Unlock()
}
