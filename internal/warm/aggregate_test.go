package warm

import (
	"math"
	"testing"

	"github.com/hydronet/aquifer/internal/model"
)

func TestStreamingAggregate_Moments(t *testing.T) {
	sa := NewStreamingAggregate("n1", model.MetricFlowRate, 0, 1000, 0.01)
	for _, v := range []float64{2, 4, 4, 4, 5, 5, 7, 9} {
		sa.Add(v)
	}

	agg := sa.Result()
	if agg.Count != 8 {
		t.Errorf("Count = %d, want 8", agg.Count)
	}
	if agg.Mean != 5 {
		t.Errorf("Mean = %v, want 5", agg.Mean)
	}
	if agg.Min != 2 || agg.Max != 9 {
		t.Errorf("bounds = [%v, %v], want [2, 9]", agg.Min, agg.Max)
	}
	// Sample stddev of the classic sequence: sqrt(32/7).
	want := math.Sqrt(32.0 / 7.0)
	if math.Abs(agg.StdDev-want) > 1e-9 {
		t.Errorf("StdDev = %v, want %v", agg.StdDev, want)
	}
	if !agg.HasPercentiles() {
		t.Error("percentiles not computed")
	}
}

func TestStreamingAggregate_Empty(t *testing.T) {
	sa := NewStreamingAggregate("n1", model.MetricFlowRate, 0, 1000, 0.01)
	agg := sa.Result()
	if !agg.Empty() {
		t.Error("empty aggregate not reported empty")
	}
	if agg.HasPercentiles() {
		t.Error("empty aggregate has percentiles")
	}
}

func TestStreamingAggregate_MergeMatchesSinglePass(t *testing.T) {
	values := []float64{1, 2, 3, 10, 20, 30, 5, 5, 5, 100}

	single := NewStreamingAggregate("n1", model.MetricFlowRate, 0, 1000, 0.01)
	for _, v := range values {
		single.Add(v)
	}

	a := NewStreamingAggregate("n1", model.MetricFlowRate, 0, 1000, 0.01)
	b := NewStreamingAggregate("n1", model.MetricFlowRate, 0, 1000, 0.01)
	for i, v := range values {
		if i < 4 {
			a.Add(v)
		} else {
			b.Add(v)
		}
	}
	a.Merge(b)

	want := single.Result()
	got := a.Result()
	if got.Count != want.Count {
		t.Errorf("Count = %d, want %d", got.Count, want.Count)
	}
	if math.Abs(got.Mean-want.Mean) > 1e-9 {
		t.Errorf("Mean = %v, want %v", got.Mean, want.Mean)
	}
	if math.Abs(got.StdDev-want.StdDev) > 1e-9 {
		t.Errorf("StdDev = %v, want %v", got.StdDev, want.StdDev)
	}
}
