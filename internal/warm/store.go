// Package warm implements the warm transactional store: a DuckDB database
// holding a rolling window of readings with idempotent hash-deduplicated
// upsert, range and aggregate queries, sync cursor persistence and
// retention pruning.
package warm

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/hydronet/aquifer/internal/config"
	"github.com/hydronet/aquifer/internal/errors"
	"github.com/hydronet/aquifer/internal/logging"
	"github.com/hydronet/aquifer/internal/model"
)

var log = logging.Component("warm")

// percentileAccuracy is the DDSketch relative accuracy for aggregates.
const percentileAccuracy = 0.01

// Store is the warm transactional store.
//
// Store is safe for concurrent use. Writers (ETL, gap-fill) serialize on
// database transactions; readers run concurrently.
type Store struct {
	mu sync.RWMutex

	db      *sql.DB
	cfg     config.WarmConfig
	maxRows int

	closed atomic.Bool
	stats  Stats
}

// Stats holds store statistics.
type Stats struct {
	RowsUpserted  int64
	RowsSkipped   int64
	RowsSynthetic int64
	RowsPruned    int64
	Queries       int64
	Errors        int64
}

// UpsertResult reports the outcome of one upsert batch.
type UpsertResult struct {
	Inserted         int
	Updated          int
	SkippedDuplicate int
}

// Total returns the number of rows written (inserted or updated).
func (r UpsertResult) Total() int {
	return r.Inserted + r.Updated
}

// Open opens (or creates) the warm store. An empty path opens an
// in-memory database, which tests use.
func Open(cfg config.WarmConfig, maxRows int) (*Store, error) {
	db, err := sql.Open("duckdb", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open warm store: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply warm schema: %w", err)
	}

	if maxRows <= 0 {
		maxRows = 1 << 20
	}

	return &Store{db: db, cfg: cfg, maxRows: maxRows}, nil
}

// Close closes the store.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

// Transaction executes fn within a database transaction.
// If fn returns an error, the transaction is rolled back.
func (s *Store) Transaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if s.closed.Load() {
		return errors.ErrStoreClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Error("rollback failed", "error", rbErr)
		}
		return err
	}

	return tx.Commit()
}

// =============================================================================
// Upsert
// =============================================================================

// Upsert writes a batch of real readings in a single transaction,
// deduplicated by content hash. hashes must parallel rows.
func (s *Store) Upsert(ctx context.Context, rows []model.Reading, hashes []uint64) (UpsertResult, error) {
	var result UpsertResult
	err := s.Transaction(ctx, func(tx *sql.Tx) error {
		var txErr error
		result, txErr = s.UpsertTx(ctx, tx, rows, hashes)
		return txErr
	})
	return result, err
}

// UpsertTx performs the hash-deduplicated upsert inside an existing
// transaction. For each row: absent key inserts, changed hash updates,
// identical hash skips. Real rows always replace synthetic rows for the
// same key; a synthetic row never reaches this path.
func (s *Store) UpsertTx(ctx context.Context, tx *sql.Tx, rows []model.Reading, hashes []uint64) (UpsertResult, error) {
	var result UpsertResult
	if len(rows) == 0 {
		return result, nil
	}
	if len(rows) != len(hashes) {
		return result, errors.Wrapf(errors.ErrDataIntegrity,
			"rows/hashes length mismatch: %d != %d", len(rows), len(hashes))
	}

	existing, err := s.existingHashes(ctx, tx, rows)
	if err != nil {
		return result, err
	}

	insertStmt, err := tx.PrepareContext(ctx, insertReading)
	if err != nil {
		return result, fmt.Errorf("prepare insert: %w", err)
	}
	defer insertStmt.Close()

	updateStmt, err := tx.PrepareContext(ctx, updateReading)
	if err != nil {
		return result, fmt.Errorf("prepare update: %w", err)
	}
	defer updateStmt.Close()

	for i := range rows {
		r := &rows[i]
		h := hashes[i]

		prev, exists := existing[r.Key()]
		switch {
		case !exists:
			_, err = insertStmt.ExecContext(ctx,
				r.NodeID, r.TimestampMs,
				r.FlowRate, r.Pressure, r.Temperature, r.Volume,
				r.QualityScore, r.Interpolated, r.SourceTag, int64(h))
			if err != nil {
				return result, fmt.Errorf("insert %s: %w", r.Key(), err)
			}
			result.Inserted++

		case prev != h:
			_, err = updateStmt.ExecContext(ctx,
				r.FlowRate, r.Pressure, r.Temperature, r.Volume,
				r.QualityScore, r.Interpolated, r.SourceTag, int64(h),
				r.NodeID, r.TimestampMs)
			if err != nil {
				return result, fmt.Errorf("update %s: %w", r.Key(), err)
			}
			result.Updated++

		default:
			result.SkippedDuplicate++
		}
	}

	s.mu.Lock()
	s.stats.RowsUpserted += int64(result.Total())
	s.stats.RowsSkipped += int64(result.SkippedDuplicate)
	s.mu.Unlock()

	return result, nil
}

// ApplyBatch upserts a validated batch and advances the sync cursor in a
// single transaction. Either both land or neither does; a crash mid-batch
// leaves the cursor pointing at the previous batch and the rerun is
// absorbed by hash deduplication.
func (s *Store) ApplyBatch(ctx context.Context, rows []model.Reading, hashes []uint64, cursor model.SyncCursor) (UpsertResult, error) {
	var result UpsertResult
	err := s.Transaction(ctx, func(tx *sql.Tx) error {
		var txErr error
		result, txErr = s.UpsertTx(ctx, tx, rows, hashes)
		if txErr != nil {
			return txErr
		}
		return s.SaveCursorTx(ctx, tx, cursor)
	})
	return result, err
}

// existingHashes loads (key → content hash) for every stored row in the
// batch's timestamp span. One range scan beats per-row lookups for the
// batch sizes ETL produces.
func (s *Store) existingHashes(ctx context.Context, tx *sql.Tx, rows []model.Reading) (map[string]uint64, error) {
	minTs, maxTs := rows[0].TimestampMs, rows[0].TimestampMs
	for i := range rows {
		if rows[i].TimestampMs < minTs {
			minTs = rows[i].TimestampMs
		}
		if rows[i].TimestampMs > maxTs {
			maxTs = rows[i].TimestampMs
		}
	}

	dbRows, err := tx.QueryContext(ctx, selectHashes, minTs, maxTs)
	if err != nil {
		return nil, fmt.Errorf("load existing hashes: %w", err)
	}
	defer dbRows.Close()

	existing := make(map[string]uint64)
	for dbRows.Next() {
		var nodeID string
		var tsMs, hash int64
		if err := dbRows.Scan(&nodeID, &tsMs, &hash); err != nil {
			return nil, fmt.Errorf("scan hash row: %w", err)
		}
		existing[fmt.Sprintf("%s@%d", nodeID, tsMs)] = uint64(hash)
	}

	return existing, dbRows.Err()
}

// WriteSynthetic inserts gap-fill rows, ignoring conflicts with any
// existing row. Returns the number of rows actually written, so re-running
// the generator over a filled range reports zero.
func (s *Store) WriteSynthetic(ctx context.Context, rows []model.Reading, hashes []uint64) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(rows) != len(hashes) {
		return 0, errors.Wrapf(errors.ErrDataIntegrity,
			"rows/hashes length mismatch: %d != %d", len(rows), len(hashes))
	}

	written := 0
	err := s.Transaction(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, insertSynthetic)
		if err != nil {
			return fmt.Errorf("prepare synthetic insert: %w", err)
		}
		defer stmt.Close()

		for i := range rows {
			r := &rows[i]
			res, err := stmt.ExecContext(ctx,
				r.NodeID, r.TimestampMs,
				r.FlowRate, r.Pressure, r.Temperature, r.Volume,
				r.QualityScore, true, r.SourceTag, int64(hashes[i]))
			if err != nil {
				return fmt.Errorf("insert synthetic %s: %w", r.Key(), err)
			}
			if n, err := res.RowsAffected(); err == nil {
				written += int(n)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	s.stats.RowsSynthetic += int64(written)
	s.mu.Unlock()

	return written, nil
}

// =============================================================================
// Queries
// =============================================================================

// QueryRange returns readings for the given nodes and time range, ordered
// by node then timestamp. A result past the row cap returns
// errors.ErrResultTruncated rather than a silently partial slice: the cap
// cuts whole nodes off the tail, which would corrupt any statistics
// computed downstream.
func (s *Store) QueryRange(ctx context.Context, nodeIDs []string, tr model.TimeRange) ([]model.Reading, error) {
	if s.closed.Load() {
		return nil, errors.ErrStoreClosed
	}
	if err := tr.Validate(); err != nil {
		return nil, errors.Wrap(errors.ErrInvalidRange, err.Error())
	}
	if len(nodeIDs) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(selectRange, placeholders(len(nodeIDs)))
	args := make([]interface{}, 0, len(nodeIDs)+3)
	for _, id := range nodeIDs {
		args = append(args, id)
	}
	// Fetch one row past the cap to tell a full result from a cut one.
	args = append(args, tr.StartMs, tr.EndMs, s.maxRows+1)

	dbRows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.recordError()
		return nil, fmt.Errorf("query range: %w", err)
	}
	defer dbRows.Close()

	var readings []model.Reading
	for dbRows.Next() {
		var r model.Reading
		var hash int64
		err := dbRows.Scan(&r.NodeID, &r.TimestampMs,
			&r.FlowRate, &r.Pressure, &r.Temperature, &r.Volume,
			&r.QualityScore, &r.Interpolated, &r.SourceTag, &hash)
		if err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		readings = append(readings, r)
	}
	if err := dbRows.Err(); err != nil {
		return nil, err
	}
	if len(readings) > s.maxRows {
		s.recordError()
		return nil, errors.Wrapf(errors.ErrResultTruncated,
			"range query over %d nodes", len(nodeIDs))
	}

	s.recordQuery()
	return readings, nil
}

// QueryAggregate computes one aggregate per node for the given metric and
// range, with percentiles. Passing model.SystemNodeID as the only node
// aggregates across every node.
func (s *Store) QueryAggregate(ctx context.Context, nodeIDs []string, metric model.Metric, tr model.TimeRange) ([]model.Aggregate, error) {
	if !metric.Valid() {
		return nil, fmt.Errorf("unknown metric %q", metric)
	}

	systemWide := len(nodeIDs) == 1 && nodeIDs[0] == model.SystemNodeID

	var readings []model.Reading
	var err error
	if systemWide {
		readings, err = s.queryAll(ctx, tr)
	} else {
		readings, err = s.QueryRange(ctx, nodeIDs, tr)
	}
	if err != nil {
		return nil, err
	}

	aggs := make(map[string]*StreamingAggregate)
	var order []string
	for i := range readings {
		r := &readings[i]
		key := r.NodeID
		if systemWide {
			key = model.SystemNodeID
		}
		agg, ok := aggs[key]
		if !ok {
			agg = NewStreamingAggregate(key, metric, tr.StartMs, tr.EndMs, percentileAccuracy)
			aggs[key] = agg
			order = append(order, key)
		}
		agg.Add(r.Value(metric))
	}

	results := make([]model.Aggregate, 0, len(order))
	for _, key := range order {
		results = append(results, aggs[key].Result())
	}
	return results, nil
}

// queryAll returns every reading in the range, regardless of node.
func (s *Store) queryAll(ctx context.Context, tr model.TimeRange) ([]model.Reading, error) {
	if s.closed.Load() {
		return nil, errors.ErrStoreClosed
	}

	dbRows, err := s.db.QueryContext(ctx, `
		SELECT node_id, ts_ms, flow_rate, pressure, temperature, volume,
		       quality_score, interpolated, source_tag, content_hash
		FROM readings
		WHERE ts_ms >= ? AND ts_ms < ?
		ORDER BY node_id, ts_ms
		LIMIT ?`, tr.StartMs, tr.EndMs, s.maxRows+1)
	if err != nil {
		s.recordError()
		return nil, fmt.Errorf("query all: %w", err)
	}
	defer dbRows.Close()

	var readings []model.Reading
	for dbRows.Next() {
		var r model.Reading
		var hash int64
		err := dbRows.Scan(&r.NodeID, &r.TimestampMs,
			&r.FlowRate, &r.Pressure, &r.Temperature, &r.Volume,
			&r.QualityScore, &r.Interpolated, &r.SourceTag, &hash)
		if err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		readings = append(readings, r)
	}
	if err := dbRows.Err(); err != nil {
		return nil, err
	}
	if len(readings) > s.maxRows {
		s.recordError()
		return nil, errors.Wrap(errors.ErrResultTruncated, "system-wide range query")
	}

	s.recordQuery()
	return readings, nil
}

// NodeExtent returns the first and last real (non-interpolated) reading
// timestamps for a node. Returns errors.ErrNoData for nodes without real
// readings.
func (s *Store) NodeExtent(ctx context.Context, nodeID string) (firstMs, lastMs int64, err error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT min(ts_ms), max(ts_ms)
		FROM readings
		WHERE node_id = ? AND NOT interpolated`, nodeID)

	var minTs, maxTs sql.NullInt64
	if err := row.Scan(&minTs, &maxTs); err != nil {
		return 0, 0, fmt.Errorf("node extent: %w", err)
	}
	if !minTs.Valid {
		return 0, 0, errors.Wrapf(errors.ErrNoData, "node %s", nodeID)
	}
	return minTs.Int64, maxTs.Int64, nil
}

// RealBuckets returns the set of bucket start timestamps (bucketMs wide)
// containing at least one real reading for the node.
func (s *Store) RealBuckets(ctx context.Context, nodeID string, bucketMs int64) (map[int64]struct{}, error) {
	if bucketMs <= 0 {
		return nil, errors.ErrInvalidInterval
	}

	dbRows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT (ts_ms // ?) * ?
		FROM readings
		WHERE node_id = ? AND NOT interpolated`, bucketMs, bucketMs, nodeID)
	if err != nil {
		return nil, fmt.Errorf("real buckets: %w", err)
	}
	defer dbRows.Close()

	buckets := make(map[int64]struct{})
	for dbRows.Next() {
		var start int64
		if err := dbRows.Scan(&start); err != nil {
			return nil, fmt.Errorf("scan bucket: %w", err)
		}
		buckets[start] = struct{}{}
	}
	return buckets, dbRows.Err()
}

// FilledBuckets is like RealBuckets but counts every row, synthetic
// included. The gap-fill sweep uses it to skip already-filled buckets
// without attempting conflict-ignored inserts.
func (s *Store) FilledBuckets(ctx context.Context, nodeID string, bucketMs int64) (map[int64]struct{}, error) {
	if bucketMs <= 0 {
		return nil, errors.ErrInvalidInterval
	}

	dbRows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT (ts_ms // ?) * ?
		FROM readings
		WHERE node_id = ?`, bucketMs, bucketMs, nodeID)
	if err != nil {
		return nil, fmt.Errorf("filled buckets: %w", err)
	}
	defer dbRows.Close()

	buckets := make(map[int64]struct{})
	for dbRows.Next() {
		var start int64
		if err := dbRows.Scan(&start); err != nil {
			return nil, fmt.Errorf("scan bucket: %w", err)
		}
		buckets[start] = struct{}{}
	}
	return buckets, dbRows.Err()
}

// =============================================================================
// Nodes
// =============================================================================

// ListNodeIDs returns all node IDs with at least one reading.
func (s *Store) ListNodeIDs(ctx context.Context) ([]string, error) {
	dbRows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT node_id FROM readings ORDER BY node_id`)
	if err != nil {
		return nil, fmt.Errorf("list node ids: %w", err)
	}
	defer dbRows.Close()

	var ids []string
	for dbRows.Next() {
		var id string
		if err := dbRows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan node id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, dbRows.Err()
}

// UpsertNodes writes node reference data.
func (s *Store) UpsertNodes(ctx context.Context, nodes []model.Node) (int, error) {
	count := 0
	err := s.Transaction(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, upsertNode)
		if err != nil {
			return fmt.Errorf("prepare node upsert: %w", err)
		}
		defer stmt.Close()

		for _, n := range nodes {
			if _, err := stmt.ExecContext(ctx, n.ID, n.Name, string(n.Type), n.Location); err != nil {
				return fmt.Errorf("upsert node %s: %w", n.ID, err)
			}
			count++
		}
		return nil
	})
	return count, err
}

// GetNode returns node reference data by ID.
func (s *Store) GetNode(ctx context.Context, id string) (model.Node, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, type, location FROM nodes WHERE id = ?`, id)

	var n model.Node
	var typ string
	if err := row.Scan(&n.ID, &n.Name, &typ, &n.Location); err != nil {
		if err == sql.ErrNoRows {
			return n, errors.Wrapf(errors.ErrNodeNotFound, "%s", id)
		}
		return n, fmt.Errorf("get node: %w", err)
	}
	n.Type = model.NodeType(typ)
	return n, nil
}

// =============================================================================
// Sync Cursor
// =============================================================================

// LoadCursor returns the persisted cursor for a source table. A table that
// was never synced yields a zero cursor, not an error.
func (s *Store) LoadCursor(ctx context.Context, table string) (model.SyncCursor, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT source_table, last_synced_ms, last_content_hash
		FROM sync_cursors WHERE source_table = ?`, table)

	var c model.SyncCursor
	var hash int64
	err := row.Scan(&c.SourceTable, &c.LastSyncedMs, &hash)
	if err == sql.ErrNoRows {
		return model.SyncCursor{SourceTable: table}, nil
	}
	if err != nil {
		return c, fmt.Errorf("load cursor: %w", err)
	}
	c.LastContentHash = uint64(hash)
	return c, nil
}

// SaveCursorTx persists the cursor inside an existing transaction, so the
// cursor advances atomically with the batch it describes.
func (s *Store) SaveCursorTx(ctx context.Context, tx *sql.Tx, c model.SyncCursor) error {
	_, err := tx.ExecContext(ctx, upsertCursor,
		c.SourceTable, c.LastSyncedMs, int64(c.LastContentHash))
	if err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}
	return nil
}

// =============================================================================
// Retention
// =============================================================================

// PruneResult reports one retention pass.
type PruneResult struct {
	RowsDeleted int64
	Cutoff      time.Time
}

// PruneExpired deletes readings older than the retention window. The cold
// archive remains the source of truth for pruned rows.
func (s *Store) PruneExpired(ctx context.Context, now time.Time) (PruneResult, error) {
	cutoff := now.Add(-s.cfg.Retention)
	result := PruneResult{Cutoff: cutoff}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM readings WHERE ts_ms < ?`, cutoff.UnixMilli())
	if err != nil {
		s.recordError()
		return result, fmt.Errorf("prune expired: %w", err)
	}

	if n, err := res.RowsAffected(); err == nil {
		result.RowsDeleted = n
	}

	s.mu.Lock()
	s.stats.RowsPruned += result.RowsDeleted
	s.mu.Unlock()

	if result.RowsDeleted > 0 {
		log.Info("pruned expired readings",
			"rows", result.RowsDeleted, "cutoff", cutoff)
	}

	return result, nil
}

// RetentionRange returns the time range the warm store can serve at now.
func (s *Store) RetentionRange(now time.Time) model.TimeRange {
	return model.TimeRange{
		StartMs: now.Add(-s.cfg.Retention).UnixMilli(),
		EndMs:   now.UnixMilli(),
	}
}

// Stats returns a snapshot of store statistics.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

func (s *Store) recordQuery() {
	s.mu.Lock()
	s.stats.Queries++
	s.mu.Unlock()
}

func (s *Store) recordError() {
	s.mu.Lock()
	s.stats.Errors++
	s.mu.Unlock()
}

// placeholders returns n comma-separated SQL placeholders.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
