// Package anomaly flags readings whose z-score against a trailing baseline
// exceeds the configured threshold. When the warm store cannot serve the
// baseline, a deterministic synthetic detection is returned instead, marked
// so callers never mistake it for measured results.
package anomaly

import (
	"context"
	"math"
	"time"

	"github.com/hydronet/aquifer/internal/config"
	"github.com/hydronet/aquifer/internal/errors"
	"github.com/hydronet/aquifer/internal/logging"
	"github.com/hydronet/aquifer/internal/metrics"
	"github.com/hydronet/aquifer/internal/model"
)

var log = logging.Component("anomaly")

// minBaselineSamples is the floor below which a trailing window is too
// thin to call anything anomalous.
const minBaselineSamples = 12

// Store is the warm store surface the detector reads from.
type Store interface {
	QueryRange(ctx context.Context, nodeIDs []string, tr model.TimeRange) ([]model.Reading, error)
	ListNodeIDs(ctx context.Context) ([]string, error)
}

// Detector computes trailing z-score anomalies.
type Detector struct {
	store Store
	cfg   config.AnomalyConfig
	prom  *metrics.Metrics

	// now is replaceable in tests.
	now func() time.Time
}

// New creates a detector.
func New(store Store, cfg config.AnomalyConfig, prom *metrics.Metrics) *Detector {
	return &Detector{store: store, cfg: cfg, prom: prom, now: time.Now}
}

// Detect returns anomalies for the given nodes over the window ending now.
// Store failures do not propagate: the detector falls back to a
// deterministic synthetic detection carrying the failure reason.
func (d *Detector) Detect(ctx context.Context, nodeIDs []string, window model.Window) (model.Detection, error) {
	endMs := d.now().UnixMilli()
	startMs := endMs - window.Duration().Milliseconds()
	trailMs := d.cfg.TrailingWindow.Milliseconds()

	if len(nodeIDs) == 1 && nodeIDs[0] == model.SystemNodeID {
		all, err := d.store.ListNodeIDs(ctx)
		if err != nil {
			return d.fallback(nodeIDs, window, endMs, err), nil
		}
		nodeIDs = all
	}

	// One fetch covers the candidates and every trailing baseline.
	readings, err := d.store.QueryRange(ctx, nodeIDs,
		model.TimeRange{StartMs: startMs - trailMs, EndMs: endMs})
	if err != nil {
		return d.fallback(nodeIDs, window, endMs, err), nil
	}

	byNode := groupByNode(readings)
	var records []model.AnomalyRecord
	for _, id := range nodeIDs {
		for _, metric := range model.AllMetrics() {
			records = append(records, d.detectSeries(byNode[id], metric, startMs)...)
		}
	}

	for _, rec := range records {
		d.prom.Anomalies.WithLabelValues(string(rec.Severity), model.OriginReal.String()).Inc()
	}
	return model.Real(records), nil
}

// detectSeries scans one node's readings for one metric. series must be
// ordered by timestamp; candidates start at candidateStartMs and the
// trailing baseline for each is the preceding cfg.TrailingWindow.
func (d *Detector) detectSeries(series []model.Reading, metric model.Metric, candidateStartMs int64) []model.AnomalyRecord {
	trailMs := d.cfg.TrailingWindow.Milliseconds()

	var records []model.AnomalyRecord
	var sum, sumSq float64
	tail := 0 // first index still inside the trailing window
	count := 0

	for i := range series {
		r := &series[i]
		v := r.Value(metric)

		if r.TimestampMs >= candidateStartMs && !r.Interpolated {
			// Evict baseline points older than the trailing window.
			for tail < i && series[tail].TimestampMs < r.TimestampMs-trailMs {
				ev := series[tail].Value(metric)
				sum -= ev
				sumSq -= ev * ev
				count--
				tail++
			}

			if rec, ok := d.score(r, metric, v, sum, sumSq, count); ok {
				records = append(records, rec)
			}
		}

		sum += v
		sumSq += v * v
		count++
	}
	return records
}

// score computes the z-score of v against the running baseline moments.
func (d *Detector) score(r *model.Reading, metric model.Metric, v, sum, sumSq float64, n int) (model.AnomalyRecord, bool) {
	if n < minBaselineSamples {
		return model.AnomalyRecord{}, false
	}

	mean := sum / float64(n)
	variance := (sumSq - sum*sum/float64(n)) / float64(n-1)
	if variance <= 0 {
		return model.AnomalyRecord{}, false
	}
	stddev := math.Sqrt(variance)

	z := (v - mean) / stddev
	if math.Abs(z) < d.cfg.ZThreshold {
		return model.AnomalyRecord{}, false
	}

	return model.AnomalyRecord{
		NodeID:       r.NodeID,
		TimestampMs:  r.TimestampMs,
		Metric:       metric,
		Observed:     v,
		ExpectedMean: mean,
		StdDev:       stddev,
		ZScore:       z,
		Severity:     d.severity(math.Abs(z)),
	}, true
}

// severity maps an absolute z-score onto the configured bands.
func (d *Detector) severity(absZ float64) model.Severity {
	b := d.cfg.Bands
	switch {
	case absZ >= b.Critical:
		return model.SeverityCritical
	case absZ >= b.High:
		return model.SeverityHigh
	case absZ >= b.Medium:
		return model.SeverityMedium
	default:
		return model.SeverityLow
	}
}

// fallback produces the synthetic detection for a failed store read.
func (d *Detector) fallback(nodeIDs []string, window model.Window, endMs int64, cause error) model.Detection {
	log.Warn("anomaly detection falling back to synthetic", "window", window, "error", cause)

	records := SynthesizeAnomalies(d.cfg.SyntheticSeed, nodeIDs, window, endMs)
	for _, rec := range records {
		d.prom.Anomalies.WithLabelValues(string(rec.Severity), model.OriginSynthetic.String()).Inc()
	}
	return model.Synthetic(records, errors.Wrap(cause, "warm store unavailable").Error())
}

// groupByNode splits readings into per-node series, preserving order.
func groupByNode(readings []model.Reading) map[string][]model.Reading {
	byNode := make(map[string][]model.Reading)
	for i := range readings {
		byNode[readings[i].NodeID] = append(byNode[readings[i].NodeID], readings[i])
	}
	return byNode
}
