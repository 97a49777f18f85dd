package hotcache

import (
	"fmt"
	"sync"
	"time"

	"github.com/hydronet/aquifer/internal/model"
)

// Key identifies one cached aggregate: node (or model.SystemNodeID for the
// system-wide rollup), metric, and fixed window.
type Key struct {
	NodeID string
	Metric model.Metric
	Window model.Window
}

// String returns the canonical cache key string.
func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.NodeID, k.Metric, k.Window)
}

// Entry is one cached aggregate with its freshness envelope.
type Entry struct {
	Aggregate  model.Aggregate
	ComputedAt time.Time
	TTL        time.Duration
}

// Fresh reports whether the entry is within its TTL at now. The skew
// tolerance absorbs small clock differences between the writer that
// stamped ComputedAt and the reader checking it.
func (e Entry) Fresh(now time.Time, skew time.Duration) bool {
	age := now.Sub(e.ComputedAt)
	return age <= e.TTL+skew
}

// KV is the cache storage backend.
type KV interface {
	Get(k Key) (Entry, bool)
	Set(k Key, e Entry)
	Delete(k Key)
	Keys() []Key
	Len() int
}

// MemoryKV is an in-process KV backend.
type MemoryKV struct {
	mu      sync.RWMutex
	entries map[Key]Entry
}

// NewMemoryKV creates an empty in-memory backend.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{entries: make(map[Key]Entry)}
}

func (m *MemoryKV) Get(k Key) (Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[k]
	return e, ok
}

func (m *MemoryKV) Set(k Key, e Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[k] = e
}

func (m *MemoryKV) Delete(k Key) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, k)
}

func (m *MemoryKV) Keys() []Key {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]Key, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	return keys
}

func (m *MemoryKV) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
