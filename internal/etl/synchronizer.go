// Package etl moves readings from the archival cold tier into the warm
// store: lease-exclusive per source table, cursor-persisted, deduplicated
// by row content hash.
package etl

import (
	"context"
	"sync"
	"time"

	"github.com/hydronet/aquifer/internal/config"
	"github.com/hydronet/aquifer/internal/errors"
	"github.com/hydronet/aquifer/internal/logging"
	"github.com/hydronet/aquifer/internal/metrics"
	"github.com/hydronet/aquifer/internal/model"
	"github.com/hydronet/aquifer/internal/warm"
)

var log = logging.Component("etl")

// Source is the archival ingress the synchronizer pulls from.
type Source interface {
	FetchSince(ctx context.Context, table string, sinceMs int64, limit int) ([]model.Reading, error)
	FetchAt(ctx context.Context, table string, tsMs int64) ([]model.Reading, error)
	ListNodes(ctx context.Context) ([]model.Node, error)
}

// Destination is the warm store the synchronizer writes to.
type Destination interface {
	LoadCursor(ctx context.Context, table string) (model.SyncCursor, error)
	ApplyBatch(ctx context.Context, rows []model.Reading, hashes []uint64, cursor model.SyncCursor) (warm.UpsertResult, error)
	UpsertNodes(ctx context.Context, nodes []model.Node) (int, error)
}

// Result reports the outcome of one sync cycle.
type Result struct {
	// LeaseHeld is false when another cycle owned the table lease and
	// this cycle did nothing.
	LeaseHeld bool

	// Deferred is true when the failure backoff gate postponed this cycle.
	Deferred bool

	RowsFetched          int
	RowsUpserted         int
	RowsSkippedDuplicate int
	RowsInvalid          int

	NewCursor model.SyncCursor
}

// Synchronizer runs the cold-to-warm ETL cycle.
type Synchronizer struct {
	source Source
	dest   Destination
	leases *LeaseManager
	cfg    config.SyncConfig
	prom   *metrics.Metrics

	mu     sync.Mutex
	tables map[string]*tableState

	stats Stats

	// now is replaceable in tests.
	now func() time.Time
}

// tableState tracks per-table machine state and the failure backoff gate.
type tableState struct {
	state       State
	failures    int
	nextAttempt time.Time
	lastError   string
}

// Stats holds synchronizer counters.
type Stats struct {
	Cycles         int64
	CyclesFailed   int64
	CyclesDeferred int64
	LeaseConflicts int64
	RowsUpserted   int64
	RowsSkipped    int64
	RowsInvalid    int64
}

// New creates a synchronizer.
func New(source Source, dest Destination, cfg config.SyncConfig, prom *metrics.Metrics) *Synchronizer {
	return &Synchronizer{
		source: source,
		dest:   dest,
		leases: NewLeaseManager(cfg.LeaseTTL),
		cfg:    cfg,
		prom:   prom,
		tables: make(map[string]*tableState),
		now:    time.Now,
	}
}

// State returns the current machine state for table.
func (s *Synchronizer) State(table string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table(table).state
}

// Stats returns a snapshot of synchronizer counters.
func (s *Synchronizer) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// table returns the state record for a table. Caller holds s.mu.
func (s *Synchronizer) table(name string) *tableState {
	ts, ok := s.tables[name]
	if !ok {
		ts = &tableState{state: StateIdle}
		s.tables[name] = ts
	}
	return ts
}

// Sync runs one synchronization cycle for table.
//
// The cycle fetches rows newer than the persisted cursor, validates them,
// upserts the valid rows with hash deduplication, and advances the cursor
// in the same transaction as the batch. A lease conflict or an active
// backoff gate is not an error: the cycle reports it did nothing and the
// next scheduled run tries again.
func (s *Synchronizer) Sync(ctx context.Context, table string) (Result, error) {
	s.mu.Lock()
	st := s.table(table)
	if now := s.now(); now.Before(st.nextAttempt) {
		s.stats.CyclesDeferred++
		wait := st.nextAttempt.Sub(now)
		s.mu.Unlock()
		log.Debug("sync deferred by backoff", "table", table, "wait", wait)
		s.prom.SyncRuns.WithLabelValues("backoff").Inc()
		return Result{Deferred: true}, nil
	}
	s.mu.Unlock()

	token, err := s.leases.Acquire(table)
	if err != nil {
		s.mu.Lock()
		s.stats.LeaseConflicts++
		s.mu.Unlock()
		log.Info("sync skipped, lease held elsewhere", "table", table)
		s.prom.SyncRuns.WithLabelValues("lease_held").Inc()
		return Result{LeaseHeld: false}, nil
	}
	defer s.leases.Release(table, token)

	result, err := s.runCycle(ctx, table)
	result.LeaseHeld = true

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Cycles++

	if err != nil {
		s.stats.CyclesFailed++
		st.state = StateFailed
		st.failures++
		st.lastError = err.Error()
		delay := s.backoff(st.failures)
		st.nextAttempt = s.now().Add(delay)
		log.Error("sync cycle failed", "table", table, "failures", st.failures,
			"retry_in", delay, "error", err)
		s.prom.SyncRuns.WithLabelValues("failed").Inc()
		return result, err
	}

	st.state = StateIdle
	st.failures = 0
	st.nextAttempt = time.Time{}
	st.lastError = ""
	s.stats.RowsUpserted += int64(result.RowsUpserted)
	s.stats.RowsSkipped += int64(result.RowsSkippedDuplicate)
	s.stats.RowsInvalid += int64(result.RowsInvalid)
	s.prom.SyncRuns.WithLabelValues("ok").Inc()
	return result, nil
}

// runCycle executes fetch → validate → upsert → advance for one table.
func (s *Synchronizer) runCycle(ctx context.Context, table string) (Result, error) {
	var result Result

	s.setState(table, StateFetching)
	cursor, err := s.dest.LoadCursor(ctx, table)
	if err != nil {
		return result, errors.Wrap(err, "load cursor")
	}

	rows, err := s.source.FetchSince(ctx, table, cursor.LastSyncedMs, s.cfg.BatchLimit)
	if err != nil {
		return result, errors.Wrap(err, "fetch from archive")
	}
	if len(rows) >= s.cfg.BatchLimit {
		rows, err = s.completeLastTimestamp(ctx, table, rows)
		if err != nil {
			return result, err
		}
	}
	result.RowsFetched = len(rows)
	result.NewCursor = cursor

	if len(rows) == 0 {
		s.setState(table, StateIdle)
		log.Debug("sync cycle found nothing new", "table", table, "cursor_ms", cursor.LastSyncedMs)
		return result, nil
	}

	s.setState(table, StateValidating)
	valid, hashes, invalid := s.validate(rows)
	result.RowsInvalid = invalid
	if invalid > 0 {
		s.prom.SyncRowsInvalid.Add(float64(invalid))
	}

	// Every fetched row advances the cursor, including invalid ones:
	// a permanently bad row must not wedge the pipeline.
	newCursor := model.SyncCursor{
		SourceTable:     table,
		LastSyncedMs:    rows[len(rows)-1].TimestampMs,
		LastContentHash: batchHash(hashes),
	}
	if newCursor.LastSyncedMs < cursor.LastSyncedMs {
		return result, errors.Wrapf(errors.ErrCursorRegressed,
			"table %s: %d < %d", table, newCursor.LastSyncedMs, cursor.LastSyncedMs)
	}

	s.setState(table, StateUpserting)
	upsert, err := s.dest.ApplyBatch(ctx, valid, hashes, newCursor)
	if err != nil {
		return result, errors.Wrap(err, "apply batch")
	}
	s.setState(table, StateAdvancingCursor)

	result.RowsUpserted = upsert.Inserted + upsert.Updated
	result.RowsSkippedDuplicate = upsert.SkippedDuplicate
	result.NewCursor = newCursor
	s.prom.SyncRowsUpserted.Add(float64(result.RowsUpserted))
	s.prom.SyncRowsSkipped.Add(float64(result.RowsSkippedDuplicate))

	log.Info("sync cycle complete", "table", table,
		"fetched", result.RowsFetched,
		"upserted", result.RowsUpserted,
		"skipped", result.RowsSkippedDuplicate,
		"invalid", result.RowsInvalid,
		"cursor_ms", newCursor.LastSyncedMs)
	return result, nil
}

// completeLastTimestamp handles a batch cut off by the fetch limit. Many
// nodes report at identical timestamps, so the cut can land mid-timestamp;
// advancing the cursor past a split timestamp would skip its remaining
// rows forever. The batch is trimmed back to the last complete timestamp.
// When every row shares one timestamp there is nothing to trim back to,
// so that timestamp is re-fetched whole instead.
func (s *Synchronizer) completeLastTimestamp(ctx context.Context, table string, rows []model.Reading) ([]model.Reading, error) {
	lastTs := rows[len(rows)-1].TimestampMs

	if rows[0].TimestampMs != lastTs {
		i := len(rows) - 1
		for rows[i-1].TimestampMs == lastTs {
			i--
		}
		return rows[:i], nil
	}

	full, err := s.source.FetchAt(ctx, table, lastTs)
	if err != nil {
		return nil, errors.Wrapf(err, "fetch timestamp %d from archive", lastTs)
	}
	return full, nil
}

// SyncNodes refreshes node reference data from the archive.
func (s *Synchronizer) SyncNodes(ctx context.Context) (int, error) {
	nodes, err := s.source.ListNodes(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "list archive nodes")
	}
	if len(nodes) == 0 {
		return 0, nil
	}
	n, err := s.dest.UpsertNodes(ctx, nodes)
	if err != nil {
		return 0, errors.Wrap(err, "upsert nodes")
	}
	log.Debug("node reference sync complete", "nodes", n)
	return n, nil
}

// validate drops rows that fail row-level validation and computes content
// hashes for the survivors.
func (s *Synchronizer) validate(rows []model.Reading) (valid []model.Reading, hashes []uint64, invalid int) {
	valid = make([]model.Reading, 0, len(rows))
	hashes = make([]uint64, 0, len(rows))
	for i := range rows {
		if err := rows[i].Validate(); err != nil {
			invalid++
			log.Warn("dropping invalid reading",
				"error", errors.NewIntegrity(rows[i].Key(), err.Error()))
			continue
		}
		valid = append(valid, rows[i])
		hashes = append(hashes, ReadingHash(&rows[i]))
	}
	return valid, hashes, invalid
}

// backoff returns the delay before the next attempt after n consecutive
// failures: initial * 2^(n-1), capped at max.
func (s *Synchronizer) backoff(n int) time.Duration {
	d := s.cfg.BackoffInitial
	for i := 1; i < n; i++ {
		d *= 2
		if d >= s.cfg.BackoffMax {
			return s.cfg.BackoffMax
		}
	}
	if d > s.cfg.BackoffMax {
		return s.cfg.BackoffMax
	}
	return d
}

func (s *Synchronizer) setState(table string, st State) {
	s.mu.Lock()
	s.table(table).state = st
	s.mu.Unlock()
}

// ReadingHash computes the content hash of a reading. Field order is part
// of the stored format: changing it invalidates every persisted hash.
func ReadingHash(r *model.Reading) uint64 {
	return NewHashBuilder().
		String(r.NodeID).
		Int64(r.TimestampMs).
		Float64(r.FlowRate).
		Float64(r.Pressure).
		Float64(r.Temperature).
		Float64(r.Volume).
		Float64(r.QualityScore).
		Bool(r.Interpolated).
		String(r.SourceTag).
		Build()
}

// batchHash folds per-row hashes into one batch fingerprint for the cursor.
func batchHash(hashes []uint64) uint64 {
	b := NewHashBuilder()
	for _, h := range hashes {
		b.Uint64(h)
	}
	return b.Build()
}
