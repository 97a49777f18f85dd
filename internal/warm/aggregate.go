package warm

import (
	"math"

	"github.com/DataDog/sketches-go/ddsketch"

	"github.com/hydronet/aquifer/internal/model"
)

// StreamingAggregate maintains running statistics for one (node, metric)
// over a time range. Percentiles use DDSketch; mean and variance use
// Welford's online update so the anomaly detector gets exact moments.
type StreamingAggregate struct {
	nodeID string
	metric model.Metric

	startMs int64
	endMs   int64

	count int64
	sum   float64
	min   float64
	max   float64
	mean  float64
	m2    float64

	sketch *ddsketch.DDSketch
}

// NewStreamingAggregate creates an aggregate for the given identity and
// range. Percentile accuracy is DDSketch relative accuracy (0.01 = 1%).
func NewStreamingAggregate(nodeID string, metric model.Metric, startMs, endMs int64, percentileAccuracy float64) *StreamingAggregate {
	agg := &StreamingAggregate{
		nodeID:  nodeID,
		metric:  metric,
		startMs: startMs,
		endMs:   endMs,
		min:     math.MaxFloat64,
		max:     -math.MaxFloat64,
	}

	if percentileAccuracy > 0 {
		sketch, err := ddsketch.NewDefaultDDSketch(percentileAccuracy)
		if err == nil {
			agg.sketch = sketch
		}
	}

	return agg
}

// Add adds a value to the aggregate.
func (a *StreamingAggregate) Add(value float64) {
	a.count++
	a.sum += value

	if value < a.min {
		a.min = value
	}
	if value > a.max {
		a.max = value
	}

	delta := value - a.mean
	a.mean += delta / float64(a.count)
	a.m2 += delta * (value - a.mean)

	if a.sketch != nil {
		a.sketch.Add(value)
	}
}

// Count returns the number of values added.
func (a *StreamingAggregate) Count() int64 {
	return a.count
}

// IsEmpty returns true if no values have been added.
func (a *StreamingAggregate) IsEmpty() bool {
	return a.count == 0
}

// Result returns the aggregation result.
func (a *StreamingAggregate) Result() model.Aggregate {
	result := model.Aggregate{
		NodeID:  a.nodeID,
		Metric:  a.metric,
		StartMs: a.startMs,
		EndMs:   a.endMs,
		Count:   a.count,
		Sum:     a.sum,
	}

	if a.count > 0 {
		result.Mean = a.mean
		result.Min = a.min
		result.Max = a.max
	}
	if a.count > 1 {
		result.StdDev = math.Sqrt(a.m2 / float64(a.count-1))
	}

	if a.sketch != nil && a.count > 0 {
		p50, _ := a.sketch.GetValueAtQuantile(0.50)
		p90, _ := a.sketch.GetValueAtQuantile(0.90)
		p95, _ := a.sketch.GetValueAtQuantile(0.95)
		p99, _ := a.sketch.GetValueAtQuantile(0.99)
		result.SetPercentiles(p50, p90, p95, p99)
	}

	return result
}

// Merge combines another aggregate into this one. Both must cover the same
// range and identity. Variance merging uses the parallel Welford form.
func (a *StreamingAggregate) Merge(other *StreamingAggregate) {
	if other == nil || other.count == 0 {
		return
	}
	if a.count == 0 {
		a.count = other.count
		a.sum = other.sum
		a.min = other.min
		a.max = other.max
		a.mean = other.mean
		a.m2 = other.m2
	} else {
		total := a.count + other.count
		delta := other.mean - a.mean
		a.m2 += other.m2 + delta*delta*float64(a.count)*float64(other.count)/float64(total)
		a.mean = (a.mean*float64(a.count) + other.mean*float64(other.count)) / float64(total)
		a.count = total
		a.sum += other.sum
		if other.min < a.min {
			a.min = other.min
		}
		if other.max > a.max {
			a.max = other.max
		}
	}

	if a.sketch != nil && other.sketch != nil {
		a.sketch.MergeWith(other.sketch)
	}
}
