package etl

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hydronet/aquifer/internal/errors"
)

// LeaseManager hands out time-bounded exclusive leases per source table so
// at most one synchronization runs per table at a time. An expired lease
// is reclaimable: a crashed or stuck cycle cannot block syncing forever.
type LeaseManager struct {
	mu     sync.Mutex
	ttl    time.Duration
	leases map[string]lease

	// now is replaceable in tests.
	now func() time.Time
}

type lease struct {
	token   string
	expires time.Time
}

// NewLeaseManager creates a lease manager with the given lease TTL.
func NewLeaseManager(ttl time.Duration) *LeaseManager {
	return &LeaseManager{
		ttl:    ttl,
		leases: make(map[string]lease),
		now:    time.Now,
	}
}

// Acquire takes the lease for table. Returns the ownership token, or
// errors.ErrSyncLeaseConflict while another unexpired lease is held.
func (m *LeaseManager) Acquire(table string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if l, ok := m.leases[table]; ok && now.Before(l.expires) {
		return "", errors.Wrapf(errors.ErrSyncLeaseConflict, "table %s held until %s", table, l.expires.Format(time.RFC3339))
	}

	token := uuid.NewString()
	m.leases[table] = lease{token: token, expires: now.Add(m.ttl)}
	return token, nil
}

// Release frees the lease if token still owns it. Releasing with a stale
// token is a no-op: the lease expired and someone else may hold it now.
func (m *LeaseManager) Release(table, token string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if l, ok := m.leases[table]; ok && l.token == token {
		delete(m.leases, table)
	}
}

// Held reports whether an unexpired lease exists for table.
func (m *LeaseManager) Held(table string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.leases[table]
	return ok && m.now().Before(l.expires)
}
