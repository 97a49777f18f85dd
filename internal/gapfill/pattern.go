package gapfill

import (
	"math"
	"math/rand"
	"time"

	"github.com/hydronet/aquifer/internal/model"
)

// PatternModel captures the periodic structure of one metric at one node:
// hour-of-day means modulated by weekday and month factors, a linear
// trend, and the observed spread and bounds.
type PatternModel struct {
	Metric model.Metric

	HourMean      [24]float64
	WeekdayFactor [7]float64
	MonthFactor   [12]float64

	// TrendPerMs is the least-squares slope of value over time, applied
	// relative to RefMs.
	TrendPerMs float64
	RefMs      int64

	Mean   float64
	StdDev float64
	Min    float64
	Max    float64

	Samples int
}

// NodeModel holds the fitted pattern for every metric at one node.
type NodeModel map[model.Metric]*PatternModel

// FitNode fits a pattern model per metric from real readings. Synthetic
// rows are excluded so the model never feeds on its own output.
func FitNode(readings []model.Reading) NodeModel {
	nm := make(NodeModel, len(model.AllMetrics()))
	for _, m := range model.AllMetrics() {
		nm[m] = fit(m, readings)
	}
	return nm
}

// fit builds the model for one metric.
func fit(metric model.Metric, readings []model.Reading) *PatternModel {
	pm := &PatternModel{Metric: metric, Min: math.Inf(1), Max: math.Inf(-1)}
	for i := range pm.WeekdayFactor {
		pm.WeekdayFactor[i] = 1
	}
	for i := range pm.MonthFactor {
		pm.MonthFactor[i] = 1
	}

	var (
		hourSum    [24]float64
		hourCount  [24]int
		daySum     [7]float64
		dayCount   [7]int
		monthSum   [12]float64
		monthCount [12]int

		sum, m2     float64
		sumT, sumTV float64
		sumTT, sumV float64
		n           int
	)

	// RefMs is the earliest real timestamp, so fitting is independent of
	// input order.
	var refMs int64
	for i := range readings {
		if readings[i].Interpolated {
			continue
		}
		if refMs == 0 || readings[i].TimestampMs < refMs {
			refMs = readings[i].TimestampMs
		}
	}

	for i := range readings {
		r := &readings[i]
		if r.Interpolated {
			continue
		}

		v := r.Value(metric)
		ts := r.TimestampTime().UTC()

		hourSum[ts.Hour()] += v
		hourCount[ts.Hour()]++
		daySum[int(ts.Weekday())] += v
		dayCount[int(ts.Weekday())]++
		monthSum[int(ts.Month())-1] += v
		monthCount[int(ts.Month())-1]++

		n++
		sum += v
		t := float64(r.TimestampMs - refMs)
		sumT += t
		sumV += v
		sumTV += t * v
		sumTT += t * t

		if v < pm.Min {
			pm.Min = v
		}
		if v > pm.Max {
			pm.Max = v
		}
	}

	pm.Samples = n
	pm.RefMs = refMs
	if n == 0 {
		pm.Min, pm.Max = 0, 0
		return pm
	}

	pm.Mean = sum / float64(n)

	// Second pass for variance keeps the arithmetic simple and exact.
	var acc float64
	for i := range readings {
		if readings[i].Interpolated {
			continue
		}
		d := readings[i].Value(metric) - pm.Mean
		acc += d * d
	}
	m2 = acc
	if n > 1 {
		pm.StdDev = math.Sqrt(m2 / float64(n-1))
	}

	for h := 0; h < 24; h++ {
		if hourCount[h] > 0 {
			pm.HourMean[h] = hourSum[h] / float64(hourCount[h])
		} else {
			pm.HourMean[h] = pm.Mean
		}
	}
	if pm.Mean != 0 {
		for d := 0; d < 7; d++ {
			if dayCount[d] > 0 {
				pm.WeekdayFactor[d] = (daySum[d] / float64(dayCount[d])) / pm.Mean
			}
		}
		for m := 0; m < 12; m++ {
			if monthCount[m] > 0 {
				pm.MonthFactor[m] = (monthSum[m] / float64(monthCount[m])) / pm.Mean
			}
		}
	}

	// Least-squares slope; degenerate spans get no trend.
	denom := float64(n)*sumTT - sumT*sumT
	if denom != 0 {
		pm.TrendPerMs = (float64(n)*sumTV - sumT*sumV) / denom
	}

	return pm
}

// Synthesize produces the model's value at tsMs with bounded noise from
// rng. The result is clamped to the observed [Min, Max] so synthetic data
// never exceeds what the node has actually produced.
func (pm *PatternModel) Synthesize(tsMs int64, rng *rand.Rand, noiseScale float64) float64 {
	ts := time.UnixMilli(tsMs).UTC()

	v := pm.HourMean[ts.Hour()] *
		pm.WeekdayFactor[int(ts.Weekday())] *
		pm.MonthFactor[int(ts.Month())-1]
	v += pm.TrendPerMs * float64(tsMs-pm.RefMs)
	v += (2*rng.Float64() - 1) * noiseScale * pm.StdDev

	if v < pm.Min {
		v = pm.Min
	}
	if v > pm.Max {
		v = pm.Max
	}
	return v
}
