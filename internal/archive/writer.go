package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"github.com/hydronet/aquifer/internal/model"
)

// Options configures the segment writer.
type Options struct {
	// Compression algorithm: zstd, snappy, lz4, gzip, none.
	Compression string
}

// DefaultOptions returns default segment writer options.
func DefaultOptions() Options {
	return Options{Compression: "zstd"}
}

func codec(name string) compress.Codec {
	switch name {
	case "snappy":
		return &parquet.Snappy
	case "zstd":
		return &parquet.Zstd
	case "lz4":
		return &parquet.Lz4Raw
	case "gzip":
		return &parquet.Gzip
	default:
		return &parquet.Uncompressed
	}
}

// ReadingRow is the parquet representation of a sensor reading.
type ReadingRow struct {
	NodeID       string  `parquet:"node_id,zstd"`
	TimestampMs  int64   `parquet:"ts_ms"`
	FlowRate     float64 `parquet:"flow_rate"`
	Pressure     float64 `parquet:"pressure"`
	Temperature  float64 `parquet:"temperature"`
	Volume       float64 `parquet:"volume"`
	QualityScore float64 `parquet:"quality_score"`
	Interpolated bool    `parquet:"interpolated"`
	SourceTag    string  `parquet:"source_tag,optional,zstd"`
}

// NodeRow is the parquet representation of node reference data.
type NodeRow struct {
	ID       string `parquet:"id,zstd"`
	Name     string `parquet:"name,zstd"`
	Type     string `parquet:"type,zstd"`
	Location string `parquet:"location,optional,zstd"`
}

// ReadingToRow converts a Reading to its parquet row.
func ReadingToRow(r *model.Reading) ReadingRow {
	return ReadingRow{
		NodeID:       r.NodeID,
		TimestampMs:  r.TimestampMs,
		FlowRate:     r.FlowRate,
		Pressure:     r.Pressure,
		Temperature:  r.Temperature,
		Volume:       r.Volume,
		QualityScore: r.QualityScore,
		Interpolated: r.Interpolated,
		SourceTag:    r.SourceTag,
	}
}

// RowToReading converts a parquet row to a Reading.
func RowToReading(row *ReadingRow) model.Reading {
	return model.Reading{
		NodeID:       row.NodeID,
		TimestampMs:  row.TimestampMs,
		FlowRate:     row.FlowRate,
		Pressure:     row.Pressure,
		Temperature:  row.Temperature,
		Volume:       row.Volume,
		QualityScore: row.QualityScore,
		Interpolated: row.Interpolated,
		SourceTag:    row.SourceTag,
	}
}

// ErrWriterClosed is returned when writing to a closed writer.
var ErrWriterClosed = fmt.Errorf("segment writer is closed")

// SegmentWriter writes readings to one parquet segment file. Exports and
// test fixtures use it; the engine itself never mutates the archive.
type SegmentWriter struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	writer   *parquet.GenericWriter[ReadingRow]
	rowCount int64
	closed   bool
}

// NewSegmentWriter creates a segment writer at path, creating parent
// directories as needed.
func NewSegmentWriter(path string, opts Options) (*SegmentWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}

	writer := parquet.NewGenericWriter[ReadingRow](f,
		parquet.Compression(codec(opts.Compression)))

	return &SegmentWriter{path: path, file: f, writer: writer}, nil
}

// Write appends readings to the segment.
func (w *SegmentWriter) Write(readings []model.Reading) error {
	if len(readings) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWriterClosed
	}

	rows := make([]ReadingRow, len(readings))
	for i := range readings {
		rows[i] = ReadingToRow(&readings[i])
	}

	n, err := w.writer.Write(rows)
	if err != nil {
		return fmt.Errorf("write rows: %w", err)
	}

	w.rowCount += int64(n)
	return nil
}

// Close flushes and closes the segment.
func (w *SegmentWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.writer.Close(); err != nil {
		w.file.Close()
		return fmt.Errorf("close writer: %w", err)
	}

	return w.file.Close()
}

// RowCount returns the number of rows written.
func (w *SegmentWriter) RowCount() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rowCount
}

// Path returns the segment file path.
func (w *SegmentWriter) Path() string {
	return w.path
}

// WriteNodeSegment writes node reference data as one parquet segment.
func WriteNodeSegment(path string, nodes []model.Node, opts Options) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}

	writer := parquet.NewGenericWriter[NodeRow](f,
		parquet.Compression(codec(opts.Compression)))

	rows := make([]NodeRow, len(nodes))
	for i, n := range nodes {
		rows[i] = NodeRow{ID: n.ID, Name: n.Name, Type: string(n.Type), Location: n.Location}
	}

	if _, err := writer.Write(rows); err != nil {
		f.Close()
		return fmt.Errorf("write nodes: %w", err)
	}
	if err := writer.Close(); err != nil {
		f.Close()
		return fmt.Errorf("close writer: %w", err)
	}
	return f.Close()
}
