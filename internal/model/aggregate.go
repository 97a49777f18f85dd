package model

// Aggregate holds summary statistics for one (node, metric) over a time
// range. NodeID is SystemNodeID for system-wide aggregates.
type Aggregate struct {
	NodeID string
	Metric Metric

	StartMs int64
	EndMs   int64

	Count  int64
	Sum    float64
	Min    float64
	Max    float64
	Mean   float64
	StdDev float64

	// Percentiles, nil when not computed.
	P50 *float64
	P90 *float64
	P95 *float64
	P99 *float64
}

// SetPercentiles sets all percentile values.
func (a *Aggregate) SetPercentiles(p50, p90, p95, p99 float64) {
	a.P50 = &p50
	a.P90 = &p90
	a.P95 = &p95
	a.P99 = &p99
}

// HasPercentiles returns true if percentiles were computed.
func (a *Aggregate) HasPercentiles() bool {
	return a.P50 != nil
}

// Empty returns true if no samples contributed to the aggregate.
func (a *Aggregate) Empty() bool {
	return a.Count == 0
}

// Aggregation selects which statistic GetNodeMetrics reports per point.
type Aggregation string

const (
	AggregationMean Aggregation = "mean"
	AggregationMin  Aggregation = "min"
	AggregationMax  Aggregation = "max"
	AggregationSum  Aggregation = "sum"
)

// Valid returns true for a known aggregation.
func (a Aggregation) Valid() bool {
	switch a {
	case AggregationMean, AggregationMin, AggregationMax, AggregationSum:
		return true
	default:
		return false
	}
}

// Of extracts the selected statistic from an aggregate.
func (a Aggregation) Of(agg Aggregate) float64 {
	switch a {
	case AggregationMin:
		return agg.Min
	case AggregationMax:
		return agg.Max
	case AggregationSum:
		return agg.Sum
	default:
		return agg.Mean
	}
}
