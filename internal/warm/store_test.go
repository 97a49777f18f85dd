package warm

import (
	"context"
	"testing"
	"time"

	"github.com/hydronet/aquifer/internal/config"
	"github.com/hydronet/aquifer/internal/errors"
	"github.com/hydronet/aquifer/internal/model"
)

// openTestStore opens an in-memory store with a 90 day retention.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(config.WarmConfig{
		Retention:     90 * 24 * time.Hour,
		PruneInterval: time.Hour,
	}, 100000)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func reading(node string, tsMs int64, flow float64) model.Reading {
	return model.Reading{
		NodeID:       node,
		TimestampMs:  tsMs,
		FlowRate:     flow,
		Pressure:     60,
		Temperature:  14,
		Volume:       5000,
		QualityScore: 1,
		SourceTag:    "archive",
	}
}

func hashes(rows ...model.Reading) ([]model.Reading, []uint64) {
	hs := make([]uint64, len(rows))
	for i := range rows {
		// Any stable per-content value works for dedupe tests.
		hs[i] = uint64(rows[i].TimestampMs)*31 + uint64(rows[i].FlowRate)
	}
	return rows, hs
}

func TestUpsert_InsertUpdateSkip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rows, hs := hashes(reading("n1", 1000, 100), reading("n1", 2000, 110))
	res, err := s.Upsert(ctx, rows, hs)
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if res.Inserted != 2 || res.Updated != 0 || res.SkippedDuplicate != 0 {
		t.Errorf("first upsert = %+v, want 2 inserts", res)
	}

	// Identical batch: every row skips.
	res, err = s.Upsert(ctx, rows, hs)
	if err != nil {
		t.Fatalf("Upsert() rerun error = %v", err)
	}
	if res.SkippedDuplicate != 2 || res.Inserted != 0 {
		t.Errorf("rerun = %+v, want 2 skips", res)
	}

	// Changed content for one key: exactly one update.
	rows[0].FlowRate = 250
	rows, hs = hashes(rows...)
	res, err = s.Upsert(ctx, rows, hs)
	if err != nil {
		t.Fatalf("Upsert() change error = %v", err)
	}
	if res.Updated != 1 || res.SkippedDuplicate != 1 {
		t.Errorf("change = %+v, want 1 update + 1 skip", res)
	}

	got, err := s.QueryRange(ctx, []string{"n1"}, model.TimeRange{StartMs: 0, EndMs: 3000})
	if err != nil {
		t.Fatalf("QueryRange() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("rows = %d, want 2", len(got))
	}
	if got[0].FlowRate != 250 {
		t.Errorf("updated flow = %v, want 250", got[0].FlowRate)
	}
}

func TestWriteSynthetic_NeverOverwrites(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	real, hs := hashes(reading("n1", 1000, 100))
	if _, err := s.Upsert(ctx, real, hs); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	syn := reading("n1", 1000, 999)
	syn.Interpolated = true
	syn.QualityScore = 0.5
	synRows, synHs := hashes(syn)

	written, err := s.WriteSynthetic(ctx, synRows, synHs)
	if err != nil {
		t.Fatalf("WriteSynthetic() error = %v", err)
	}
	if written != 0 {
		t.Errorf("written = %d, want 0 over an existing real row", written)
	}

	got, err := s.QueryRange(ctx, []string{"n1"}, model.TimeRange{StartMs: 0, EndMs: 2000})
	if err != nil {
		t.Fatalf("QueryRange() error = %v", err)
	}
	if got[0].FlowRate != 100 || got[0].Interpolated {
		t.Errorf("real row was overwritten: %+v", got[0])
	}
}

func TestUpsert_MismatchedHashesIsIntegrityError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rows, hs := hashes(reading("n1", 1000, 100), reading("n1", 2000, 110))
	if _, err := s.Upsert(ctx, rows, hs[:1]); !errors.Is(err, errors.ErrDataIntegrity) {
		t.Errorf("Upsert() error = %v, want data integrity violation", err)
	}
	if _, err := s.WriteSynthetic(ctx, rows, hs[:1]); !errors.Is(err, errors.ErrDataIntegrity) {
		t.Errorf("WriteSynthetic() error = %v, want data integrity violation", err)
	}
}

func TestApplyBatch_CursorAdvancesWithBatch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rows, hs := hashes(reading("n1", 1000, 100), reading("n1", 2000, 110))
	cursor := model.SyncCursor{SourceTable: "readings", LastSyncedMs: 2000, LastContentHash: 7}

	if _, err := s.ApplyBatch(ctx, rows, hs, cursor); err != nil {
		t.Fatalf("ApplyBatch() error = %v", err)
	}

	got, err := s.LoadCursor(ctx, "readings")
	if err != nil {
		t.Fatalf("LoadCursor() error = %v", err)
	}
	if got.LastSyncedMs != 2000 || got.LastContentHash != 7 {
		t.Errorf("cursor = %+v, want ms=2000 hash=7", got)
	}
}

func TestLoadCursor_NeverSyncedIsZero(t *testing.T) {
	s := openTestStore(t)

	c, err := s.LoadCursor(context.Background(), "readings")
	if err != nil {
		t.Fatalf("LoadCursor() error = %v", err)
	}
	if !c.Zero() {
		t.Errorf("cursor = %+v, want zero", c)
	}
}

func TestQueryAggregate_SystemWide(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rows, hs := hashes(
		reading("n1", 1000, 10),
		reading("n1", 2000, 20),
		reading("n2", 1500, 30),
	)
	if _, err := s.Upsert(ctx, rows, hs); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	aggs, err := s.QueryAggregate(ctx, []string{model.SystemNodeID}, model.MetricFlowRate,
		model.TimeRange{StartMs: 0, EndMs: 3000})
	if err != nil {
		t.Fatalf("QueryAggregate() error = %v", err)
	}
	if len(aggs) != 1 {
		t.Fatalf("aggregates = %d, want 1 system-wide", len(aggs))
	}
	if aggs[0].NodeID != model.SystemNodeID {
		t.Errorf("NodeID = %q, want %q", aggs[0].NodeID, model.SystemNodeID)
	}
	if aggs[0].Count != 3 || aggs[0].Mean != 20 {
		t.Errorf("Count/Mean = %d/%v, want 3/20", aggs[0].Count, aggs[0].Mean)
	}
}

func TestNodeExtentAndBuckets(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	bucketMs := int64(30 * 60 * 1000)

	rows, hs := hashes(
		reading("n1", 1*bucketMs, 10),
		reading("n1", 3*bucketMs+17, 20),
	)
	if _, err := s.Upsert(ctx, rows, hs); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	syn := reading("n1", 2*bucketMs, 15)
	syn.Interpolated = true
	synRows, synHs := hashes(syn)
	if _, err := s.WriteSynthetic(ctx, synRows, synHs); err != nil {
		t.Fatalf("WriteSynthetic() error = %v", err)
	}

	first, last, err := s.NodeExtent(ctx, "n1")
	if err != nil {
		t.Fatalf("NodeExtent() error = %v", err)
	}
	// Extent covers real rows only.
	if first != 1*bucketMs || last != 3*bucketMs+17 {
		t.Errorf("extent = [%d, %d], want [%d, %d]", first, last, 1*bucketMs, 3*bucketMs+17)
	}

	real, err := s.RealBuckets(ctx, "n1", bucketMs)
	if err != nil {
		t.Fatalf("RealBuckets() error = %v", err)
	}
	if len(real) != 2 {
		t.Errorf("real buckets = %d, want 2", len(real))
	}

	filled, err := s.FilledBuckets(ctx, "n1", bucketMs)
	if err != nil {
		t.Fatalf("FilledBuckets() error = %v", err)
	}
	if len(filled) != 3 {
		t.Errorf("filled buckets = %d, want 3", len(filled))
	}

	if _, _, err := s.NodeExtent(ctx, "ghost"); !errors.Is(err, errors.ErrNoData) {
		t.Errorf("NodeExtent(ghost) error = %v, want no data", err)
	}
}

func TestQueryRange_RowCapSurfacesTruncation(t *testing.T) {
	s, err := Open(config.WarmConfig{
		Retention:     90 * 24 * time.Hour,
		PruneInterval: time.Hour,
	}, 2)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	rows, hs := hashes(
		reading("n1", 1000, 10),
		reading("n1", 2000, 20),
		reading("n2", 1500, 30),
	)
	if _, err := s.Upsert(ctx, rows, hs); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	_, err = s.QueryRange(ctx, []string{"n1", "n2"}, model.TimeRange{StartMs: 0, EndMs: 3000})
	if !errors.Is(err, errors.ErrResultTruncated) {
		t.Errorf("over-cap QueryRange() error = %v, want result truncated", err)
	}

	// At the cap exactly, the result is complete and error-free.
	got, err := s.QueryRange(ctx, []string{"n1"}, model.TimeRange{StartMs: 0, EndMs: 3000})
	if err != nil {
		t.Fatalf("at-cap QueryRange() error = %v", err)
	}
	if len(got) != 2 {
		t.Errorf("rows = %d, want 2", len(got))
	}
}

func TestPruneExpired(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	rows, hs := hashes(
		reading("n1", now.Add(-100*24*time.Hour).UnixMilli(), 10),
		reading("n1", now.Add(-time.Hour).UnixMilli(), 20),
	)
	if _, err := s.Upsert(ctx, rows, hs); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	res, err := s.PruneExpired(ctx, now)
	if err != nil {
		t.Fatalf("PruneExpired() error = %v", err)
	}
	if res.RowsDeleted != 1 {
		t.Errorf("RowsDeleted = %d, want 1", res.RowsDeleted)
	}

	left, err := s.QueryRange(ctx, []string{"n1"},
		model.TimeRange{StartMs: 0, EndMs: now.UnixMilli()})
	if err != nil {
		t.Fatalf("QueryRange() error = %v", err)
	}
	if len(left) != 1 {
		t.Errorf("rows after prune = %d, want 1", len(left))
	}
}

func TestNodesRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	n, err := s.UpsertNodes(ctx, []model.Node{
		{ID: "n1", Name: "North Tank", Type: model.NodeStorage, Location: "sector 4"},
	})
	if err != nil {
		t.Fatalf("UpsertNodes() error = %v", err)
	}
	if n != 1 {
		t.Errorf("upserted = %d, want 1", n)
	}

	got, err := s.GetNode(ctx, "n1")
	if err != nil {
		t.Fatalf("GetNode() error = %v", err)
	}
	if got.Name != "North Tank" || got.Type != model.NodeStorage {
		t.Errorf("node = %+v", got)
	}

	if _, err := s.GetNode(ctx, "missing"); !errors.Is(err, errors.ErrNodeNotFound) {
		t.Errorf("GetNode(missing) error = %v, want node not found", err)
	}
}
