package anomaly

import (
	"math/rand"

	"github.com/hydronet/aquifer/internal/etl"
	"github.com/hydronet/aquifer/internal/model"
)

// syntheticReason is stamped on every generated record.
const syntheticReason = "synthetic fallback"

// syntheticBaseline holds plausible operating points per metric, used only
// to dress generated records with believable magnitudes.
var syntheticBaseline = map[model.Metric]struct{ mean, stddev float64 }{
	model.MetricFlowRate:    {mean: 120, stddev: 18},
	model.MetricPressure:    {mean: 65, stddev: 6},
	model.MetricTemperature: {mean: 14.5, stddev: 2.2},
	model.MetricVolume:      {mean: 5400, stddev: 750},
}

// SynthesizeAnomalies generates a deterministic placeholder detection for
// the given nodes and window. The generator is seeded per node from the
// configured seed, the node ID, the window, and the hour of the request,
// so identical calls within the same hour return identical records.
func SynthesizeAnomalies(seed int64, nodeIDs []string, window model.Window, endMs int64) []model.AnomalyRecord {
	const hourMs = int64(3600 * 1000)
	anchorMs := (endMs / hourMs) * hourMs
	windowMs := window.Duration().Milliseconds()
	metrics := model.AllMetrics()

	var records []model.AnomalyRecord
	for _, nodeID := range nodeIDs {
		nodeSeed := etl.NewHashBuilder().
			Int64(seed).
			String(nodeID).
			String(window.String()).
			Int64(anchorMs).
			Build()
		rng := rand.New(rand.NewSource(int64(nodeSeed)))

		for i, n := 0, rng.Intn(3); i < n; i++ {
			metric := metrics[rng.Intn(len(metrics))]
			base := syntheticBaseline[metric]
			severity, z := drawSeverity(rng)
			if rng.Intn(2) == 0 {
				z = -z
			}

			records = append(records, model.AnomalyRecord{
				NodeID:       nodeID,
				TimestampMs:  anchorMs - rng.Int63n(windowMs),
				Metric:       metric,
				Observed:     base.mean + z*base.stddev,
				ExpectedMean: base.mean,
				StdDev:       base.stddev,
				ZScore:       z,
				Severity:     severity,
				Synthetic:    true,
				Reason:       syntheticReason,
			})
		}
	}
	return records
}

// drawSeverity picks a severity with lower bands more likely, and a
// z-score magnitude inside that band.
func drawSeverity(rng *rand.Rand) (model.Severity, float64) {
	switch u := rng.Float64(); {
	case u < 0.55:
		return model.SeverityLow, 2.5 + rng.Float64()*0.5
	case u < 0.85:
		return model.SeverityMedium, 3.0 + rng.Float64()
	case u < 0.96:
		return model.SeverityHigh, 4.0 + rng.Float64()
	default:
		return model.SeverityCritical, 5.0 + rng.Float64()*2
	}
}
