// Package archive implements the read-only cold tier adapter. The archive
// is a directory of time-partitioned parquet segments, one subdirectory
// per source table, queried through DuckDB's read_parquet.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/hydronet/aquifer/internal/config"
	"github.com/hydronet/aquifer/internal/errors"
	"github.com/hydronet/aquifer/internal/model"
)

// TableReadings is the archive table holding sensor readings.
const TableReadings = "readings"

// TableNodes is the archive table holding node reference data.
const TableNodes = "nodes"

// Store provides read-only access to the archival parquet segments.
type Store struct {
	mu sync.RWMutex

	db  *sql.DB
	dir string

	stats Stats
}

// Stats holds archive query statistics.
type Stats struct {
	Queries      int64
	RowsReturned int64
	Errors       int64
}

// Open opens the archive adapter over the configured segment directory.
func Open(cfg config.ArchiveConfig) (*Store, error) {
	// In-memory DuckDB; all data lives in the parquet segments.
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open archive db: %w", err)
	}

	if cfg.MemoryLimit != "" {
		if _, err := db.Exec(fmt.Sprintf("SET memory_limit='%s'", cfg.MemoryLimit)); err != nil {
			db.Close()
			return nil, fmt.Errorf("set memory limit: %w", err)
		}
	}

	return &Store{db: db, dir: cfg.Dir}, nil
}

// Close closes the adapter.
func (s *Store) Close() error {
	return s.db.Close()
}

// Dir returns the archive root directory.
func (s *Store) Dir() string {
	return s.dir
}

// tablePattern returns the parquet glob for a table, or "" when the table
// directory holds no segments yet.
func (s *Store) tablePattern(table string) (string, error) {
	pattern := filepath.Join(s.dir, table, "*.parquet")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return "", fmt.Errorf("glob %s: %w", pattern, err)
	}
	if len(matches) == 0 {
		return "", nil
	}
	return pattern, nil
}

// Query returns readings for the given nodes and time range. An empty
// node list selects every node. The archive is the complete historical
// record; high latency is expected.
func (s *Store) Query(ctx context.Context, nodeIDs []string, tr model.TimeRange) ([]model.Reading, error) {
	if err := tr.Validate(); err != nil {
		return nil, errors.Wrap(errors.ErrInvalidRange, err.Error())
	}

	pattern, err := s.tablePattern(TableReadings)
	if err != nil {
		return nil, err
	}
	if pattern == "" {
		return nil, nil
	}

	nodeFilter := ""
	if len(nodeIDs) > 0 {
		nodeFilter = fmt.Sprintf("node_id IN (%s) AND ", placeholders(len(nodeIDs)))
	}

	query := fmt.Sprintf(`
		SELECT node_id, ts_ms, flow_rate, pressure, temperature, volume,
		       quality_score, interpolated, source_tag
		FROM read_parquet(?)
		WHERE %sts_ms >= ? AND ts_ms < ?
		ORDER BY node_id, ts_ms`, nodeFilter)

	args := make([]interface{}, 0, len(nodeIDs)+3)
	args = append(args, pattern)
	for _, id := range nodeIDs {
		args = append(args, id)
	}
	args = append(args, tr.StartMs, tr.EndMs)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.recordError()
		return nil, fmt.Errorf("archive query: %w", err)
	}
	defer rows.Close()

	return s.scanReadings(rows)
}

// FetchSince returns up to limit readings with timestamp strictly greater
// than sinceMs, ordered by timestamp then node. This is the ETL ingress.
func (s *Store) FetchSince(ctx context.Context, table string, sinceMs int64, limit int) ([]model.Reading, error) {
	pattern, err := s.tablePattern(table)
	if err != nil {
		return nil, err
	}
	if pattern == "" {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT node_id, ts_ms, flow_rate, pressure, temperature, volume,
		       quality_score, interpolated, source_tag
		FROM read_parquet(?)
		WHERE ts_ms > ?
		ORDER BY ts_ms, node_id
		LIMIT ?`, pattern, sinceMs, limit)
	if err != nil {
		s.recordError()
		return nil, fmt.Errorf("archive fetch since %d: %w", sinceMs, err)
	}
	defer rows.Close()

	return s.scanReadings(rows)
}

// FetchAt returns every reading with exactly the given timestamp. The ETL
// uses it when the batch limit cuts a fetch in the middle of a timestamp.
func (s *Store) FetchAt(ctx context.Context, table string, tsMs int64) ([]model.Reading, error) {
	pattern, err := s.tablePattern(table)
	if err != nil {
		return nil, err
	}
	if pattern == "" {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT node_id, ts_ms, flow_rate, pressure, temperature, volume,
		       quality_score, interpolated, source_tag
		FROM read_parquet(?)
		WHERE ts_ms = ?
		ORDER BY node_id`, pattern, tsMs)
	if err != nil {
		s.recordError()
		return nil, fmt.Errorf("archive fetch at %d: %w", tsMs, err)
	}
	defer rows.Close()

	return s.scanReadings(rows)
}

// ListNodes returns node reference data from the archive.
func (s *Store) ListNodes(ctx context.Context) ([]model.Node, error) {
	pattern, err := s.tablePattern(TableNodes)
	if err != nil {
		return nil, err
	}
	if pattern == "" {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, type, location
		FROM read_parquet(?)
		ORDER BY id`, pattern)
	if err != nil {
		s.recordError()
		return nil, fmt.Errorf("archive list nodes: %w", err)
	}
	defer rows.Close()

	var nodes []model.Node
	for rows.Next() {
		var n model.Node
		var typ string
		if err := rows.Scan(&n.ID, &n.Name, &typ, &n.Location); err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		n.Type = model.NodeType(typ)
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// scanReadings scans rows into a Reading slice.
func (s *Store) scanReadings(rows *sql.Rows) ([]model.Reading, error) {
	var readings []model.Reading
	for rows.Next() {
		var r model.Reading
		err := rows.Scan(&r.NodeID, &r.TimestampMs,
			&r.FlowRate, &r.Pressure, &r.Temperature, &r.Volume,
			&r.QualityScore, &r.Interpolated, &r.SourceTag)
		if err != nil {
			return nil, fmt.Errorf("scan archive reading: %w", err)
		}
		readings = append(readings, r)
	}

	s.mu.Lock()
	s.stats.Queries++
	s.stats.RowsReturned += int64(len(readings))
	s.mu.Unlock()

	return readings, rows.Err()
}

// Stats returns a snapshot of archive statistics.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

func (s *Store) recordError() {
	s.mu.Lock()
	s.stats.Errors++
	s.mu.Unlock()
}

// placeholders returns n comma-separated SQL placeholders.
func placeholders(n int) string {
	out := make([]byte, 0, 2*n)
	for i := 0; i < n; i++ {
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, '?')
	}
	return string(out)
}
