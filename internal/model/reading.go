package model

import (
	"fmt"
	"time"

	"github.com/hydronet/aquifer/internal/errors"
)

// Metric identifies one of the measured quantities on a reading.
type Metric string

const (
	MetricFlowRate    Metric = "flow_rate"
	MetricPressure    Metric = "pressure"
	MetricTemperature Metric = "temperature"
	MetricVolume      Metric = "volume"
)

// AllMetrics returns all metrics in a fixed order.
func AllMetrics() []Metric {
	return []Metric{MetricFlowRate, MetricPressure, MetricTemperature, MetricVolume}
}

// ParseMetric parses a string into a Metric.
func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case MetricFlowRate, MetricPressure, MetricTemperature, MetricVolume:
		return Metric(s), nil
	default:
		return "", fmt.Errorf("unknown metric: %s", s)
	}
}

// Valid returns true if the metric is a known metric.
func (m Metric) Valid() bool {
	_, err := ParseMetric(string(m))
	return err == nil
}

// Reading is a single measurement from a monitoring point.
// Unique per (NodeID, TimestampMs) across all tiers.
type Reading struct {
	NodeID      string
	TimestampMs int64 // Unix timestamp in milliseconds

	FlowRate    float64
	Pressure    float64
	Temperature float64
	Volume      float64

	// QualityScore is in [0,1]. Interpolated readings carry a fixed
	// discounted score set by the gap-fill generator.
	QualityScore float64

	// Interpolated marks synthetic readings written by the gap-fill
	// generator. Real readings are never overwritten by synthetic ones.
	Interpolated bool

	// SourceTag names where the reading entered the system
	// (e.g. "archive", "gapfill").
	SourceTag string
}

// Key returns the unique identifier for this reading.
func (r *Reading) Key() string {
	return fmt.Sprintf("%s@%d", r.NodeID, r.TimestampMs)
}

// TimestampTime returns the timestamp as a time.Time.
func (r *Reading) TimestampTime() time.Time {
	return time.UnixMilli(r.TimestampMs)
}

// Value returns the value of the given metric.
func (r *Reading) Value(m Metric) float64 {
	switch m {
	case MetricFlowRate:
		return r.FlowRate
	case MetricPressure:
		return r.Pressure
	case MetricTemperature:
		return r.Temperature
	case MetricVolume:
		return r.Volume
	default:
		return 0
	}
}

// SetValue sets the value of the given metric.
func (r *Reading) SetValue(m Metric, v float64) {
	switch m {
	case MetricFlowRate:
		r.FlowRate = v
	case MetricPressure:
		r.Pressure = v
	case MetricTemperature:
		r.Temperature = v
	case MetricVolume:
		r.Volume = v
	}
}

// Validate checks the reading's structural invariants.
func (r *Reading) Validate() error {
	if r.NodeID == "" {
		return errors.Wrap(errors.ErrInvalidReading, "empty node_id")
	}
	if r.TimestampMs <= 0 {
		return errors.Wrapf(errors.ErrInvalidReading, "%s: non-positive timestamp", r.NodeID)
	}
	if r.QualityScore < 0 || r.QualityScore > 1 {
		return errors.Wrapf(errors.ErrInvalidReading,
			"%s: quality_score %.3f outside [0,1]", r.Key(), r.QualityScore)
	}
	return nil
}
