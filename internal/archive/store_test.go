package archive

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/hydronet/aquifer/internal/config"
	"github.com/hydronet/aquifer/internal/model"
)

func testReadings() []model.Reading {
	return []model.Reading{
		{NodeID: "n1", TimestampMs: 1000, FlowRate: 100, Pressure: 60, Temperature: 14, Volume: 5000, QualityScore: 1, SourceTag: "field"},
		{NodeID: "n1", TimestampMs: 2000, FlowRate: 110, Pressure: 61, Temperature: 14.2, Volume: 5100, QualityScore: 1, SourceTag: "field"},
		{NodeID: "n2", TimestampMs: 1500, FlowRate: 80, Pressure: 55, Temperature: 13.8, Volume: 4200, QualityScore: 0.9, SourceTag: "field"},
	}
}

// openTestArchive writes one readings segment and opens a store over it.
func openTestArchive(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()

	w, err := NewSegmentWriter(filepath.Join(dir, TableReadings, "seg-0001.parquet"), DefaultOptions())
	if err != nil {
		t.Fatalf("NewSegmentWriter() error = %v", err)
	}
	if err := w.Write(testReadings()); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if w.RowCount() != 3 {
		t.Fatalf("RowCount() = %d, want 3", w.RowCount())
	}

	nodes := []model.Node{
		{ID: "n1", Name: "North Tank", Type: model.NodeStorage},
		{ID: "n2", Name: "South Meter", Type: model.NodeZoneMeter, Location: "sector 2"},
	}
	err = WriteNodeSegment(filepath.Join(dir, TableNodes, "nodes.parquet"), nodes, DefaultOptions())
	if err != nil {
		t.Fatalf("WriteNodeSegment() error = %v", err)
	}

	s, err := Open(config.ArchiveConfig{Dir: dir})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestQuery_RoundTrip(t *testing.T) {
	s := openTestArchive(t)

	got, err := s.Query(context.Background(), []string{"n1"}, model.TimeRange{StartMs: 0, EndMs: 3000})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("rows = %d, want 2", len(got))
	}
	want := testReadings()[0]
	if got[0] != want {
		t.Errorf("reading = %+v, want %+v", got[0], want)
	}
}

func TestQuery_EmptyNodeListSelectsEveryNode(t *testing.T) {
	s := openTestArchive(t)

	got, err := s.Query(context.Background(), nil, model.TimeRange{StartMs: 0, EndMs: 3000})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(got) != 3 {
		t.Errorf("rows = %d, want 3", len(got))
	}
}

func TestQuery_RangeIsHalfOpen(t *testing.T) {
	s := openTestArchive(t)

	got, err := s.Query(context.Background(), []string{"n1"}, model.TimeRange{StartMs: 1000, EndMs: 2000})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(got) != 1 || got[0].TimestampMs != 1000 {
		t.Errorf("rows = %+v, want only ts 1000", got)
	}
}

func TestFetchSince_StrictlyGreaterAndLimited(t *testing.T) {
	s := openTestArchive(t)
	ctx := context.Background()

	got, err := s.FetchSince(ctx, TableReadings, 1000, 100)
	if err != nil {
		t.Fatalf("FetchSince() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("rows = %d, want 2 (ts 1000 excluded)", len(got))
	}
	// Ordered by timestamp then node.
	if got[0].TimestampMs != 1500 || got[1].TimestampMs != 2000 {
		t.Errorf("order = [%d, %d], want [1500, 2000]", got[0].TimestampMs, got[1].TimestampMs)
	}

	got, err = s.FetchSince(ctx, TableReadings, 0, 1)
	if err != nil {
		t.Fatalf("FetchSince() limited error = %v", err)
	}
	if len(got) != 1 {
		t.Errorf("limited rows = %d, want 1", len(got))
	}
}

func TestListNodes(t *testing.T) {
	s := openTestArchive(t)

	nodes, err := s.ListNodes(context.Background())
	if err != nil {
		t.Fatalf("ListNodes() error = %v", err)
	}
	if len(nodes) != 2 {
		t.Fatalf("nodes = %d, want 2", len(nodes))
	}
	if nodes[0].ID != "n1" || nodes[0].Type != model.NodeStorage {
		t.Errorf("node = %+v", nodes[0])
	}
	if nodes[1].Location != "sector 2" {
		t.Errorf("Location = %q, want %q", nodes[1].Location, "sector 2")
	}
}

func TestEmptyArchiveReturnsNothing(t *testing.T) {
	s, err := Open(config.ArchiveConfig{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	if got, err := s.Query(ctx, []string{"n1"}, model.TimeRange{StartMs: 0, EndMs: 1}); err != nil || got != nil {
		t.Errorf("Query() = %v, %v; want nil, nil", got, err)
	}
	if got, err := s.FetchSince(ctx, TableReadings, 0, 10); err != nil || got != nil {
		t.Errorf("FetchSince() = %v, %v; want nil, nil", got, err)
	}
	if got, err := s.ListNodes(ctx); err != nil || got != nil {
		t.Errorf("ListNodes() = %v, %v; want nil, nil", got, err)
	}
}
