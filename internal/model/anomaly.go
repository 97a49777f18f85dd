package model

import "fmt"

// Severity grades an anomaly by how many z-score bands it crosses.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank returns an ordering value for severity comparison (higher = worse).
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// Valid returns true for a known severity.
func (s Severity) Valid() bool {
	return s.Rank() > 0
}

// AllSeverities returns severities in increasing order.
func AllSeverities() []Severity {
	return []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}
}

// AnomalyRecord describes one detected (or synthesized) anomalous reading.
// Both the statistical and the fallback path produce this shape; consumers
// only branch on Synthetic.
type AnomalyRecord struct {
	NodeID      string
	TimestampMs int64
	Metric      Metric

	Observed     float64
	ExpectedMean float64
	StdDev       float64
	ZScore       float64

	Severity Severity

	// Synthetic is true for records produced by the deterministic fallback
	// generator when no live data was reachable.
	Synthetic bool

	// Reason is set on synthetic records to explain the fallback.
	Reason string
}

// Key returns a unique identifier for the record.
func (r *AnomalyRecord) Key() string {
	return fmt.Sprintf("%s/%s@%d", r.NodeID, r.Metric, r.TimestampMs)
}
