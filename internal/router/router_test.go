package router

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/hydronet/aquifer/internal/errors"
	"github.com/hydronet/aquifer/internal/hotcache"
	"github.com/hydronet/aquifer/internal/metrics"
	"github.com/hydronet/aquifer/internal/model"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeHot struct {
	fresh   bool
	agg     model.Aggregate
	stale   *model.Aggregate
	getErr  error
	gets    int
	lookups int
}

func (f *fakeHot) Fresh(k hotcache.Key) bool { return f.fresh }

func (f *fakeHot) Get(ctx context.Context, k hotcache.Key) (model.Aggregate, bool, error) {
	f.gets++
	if f.getErr != nil {
		return model.Aggregate{}, false, f.getErr
	}
	return f.agg, true, nil
}

func (f *fakeHot) LookupStale(k hotcache.Key) (model.Aggregate, bool) {
	f.lookups++
	if f.stale == nil {
		return model.Aggregate{}, false
	}
	return *f.stale, true
}

type fakeWarm struct {
	readings    []model.Reading
	agg         model.Aggregate
	err         error
	retention   time.Duration
	rangeCalls  int
	aggCalls    int
}

func (f *fakeWarm) QueryRange(ctx context.Context, nodeIDs []string, tr model.TimeRange) ([]model.Reading, error) {
	f.rangeCalls++
	if f.err != nil {
		return nil, f.err
	}
	return f.readings, nil
}

func (f *fakeWarm) QueryAggregate(ctx context.Context, nodeIDs []string, metric model.Metric, tr model.TimeRange) ([]model.Aggregate, error) {
	f.aggCalls++
	if f.err != nil {
		return nil, f.err
	}
	return []model.Aggregate{f.agg}, nil
}

func (f *fakeWarm) RetentionRange(now time.Time) model.TimeRange {
	return model.TimeRange{StartMs: now.Add(-f.retention).UnixMilli(), EndMs: now.UnixMilli()}
}

type fakeCold struct {
	readings []model.Reading
	err      error
	calls    int
}

func (f *fakeCold) Query(ctx context.Context, nodeIDs []string, tr model.TimeRange) ([]model.Reading, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.readings, nil
}

// =============================================================================
// Helpers
// =============================================================================

func testRouter(hot *fakeHot, warm *fakeWarm, cold *fakeCold) *Router {
	return New(hot, warm, cold, metrics.NewUnregistered())
}

func recentRange(now time.Time) model.TimeRange {
	return model.TimeRange{StartMs: now.Add(-time.Hour).UnixMilli(), EndMs: now.UnixMilli()}
}

func ancientRange(now time.Time) model.TimeRange {
	return model.TimeRange{
		StartMs: now.Add(-365 * 24 * time.Hour).UnixMilli(),
		EndMs:   now.Add(-300 * 24 * time.Hour).UnixMilli(),
	}
}

// =============================================================================
// Series Routing Tests
// =============================================================================

func TestQuerySeries_RecentRangeServedWarm(t *testing.T) {
	warm := &fakeWarm{retention: 90 * 24 * time.Hour, readings: []model.Reading{{NodeID: "n1"}}}
	cold := &fakeCold{}
	r := testRouter(&fakeHot{}, warm, cold)

	res, err := r.QuerySeries(context.Background(), []string{"n1"}, recentRange(time.Now()))
	if err != nil {
		t.Fatalf("QuerySeries() error = %v", err)
	}
	if res.Tier != TierWarm {
		t.Errorf("Tier = %v, want %v", res.Tier, TierWarm)
	}
	if res.Stale {
		t.Error("Stale = true, want false")
	}
	if cold.calls != 0 {
		t.Errorf("cold calls = %d, want 0", cold.calls)
	}
}

func TestQuerySeries_OldRangeGoesStraightToCold(t *testing.T) {
	warm := &fakeWarm{retention: 90 * 24 * time.Hour}
	cold := &fakeCold{readings: []model.Reading{{NodeID: "n1"}}}
	r := testRouter(&fakeHot{}, warm, cold)

	res, err := r.QuerySeries(context.Background(), []string{"n1"}, ancientRange(time.Now()))
	if err != nil {
		t.Fatalf("QuerySeries() error = %v", err)
	}
	if res.Tier != TierCold {
		t.Errorf("Tier = %v, want %v", res.Tier, TierCold)
	}
	if res.Stale {
		t.Error("Stale = true for a range the archive owns")
	}
	if warm.rangeCalls != 0 {
		t.Errorf("warm calls = %d, want 0", warm.rangeCalls)
	}
}

func TestQuerySeries_WarmFailureFallsBackToColdFlaggedStale(t *testing.T) {
	warm := &fakeWarm{retention: 90 * 24 * time.Hour, err: fmt.Errorf("db locked")}
	cold := &fakeCold{readings: []model.Reading{{NodeID: "n1"}}}
	r := testRouter(&fakeHot{}, warm, cold)

	res, err := r.QuerySeries(context.Background(), []string{"n1"}, recentRange(time.Now()))
	if err != nil {
		t.Fatalf("QuerySeries() error = %v", err)
	}
	if res.Tier != TierCold {
		t.Errorf("Tier = %v, want %v", res.Tier, TierCold)
	}
	if !res.Stale {
		t.Error("Stale = false, want true when cold substitutes for warm")
	}
}

func TestQuerySeries_AllTiersDownIsTierUnavailable(t *testing.T) {
	warm := &fakeWarm{retention: 90 * 24 * time.Hour, err: fmt.Errorf("db locked")}
	cold := &fakeCold{err: fmt.Errorf("nfs gone")}
	r := testRouter(&fakeHot{}, warm, cold)

	_, err := r.QuerySeries(context.Background(), []string{"n1"}, recentRange(time.Now()))
	if !errors.IsTierUnavailable(err) {
		t.Errorf("error = %v, want tier unavailable", err)
	}
}

func TestQuerySeries_InvalidRangeRejected(t *testing.T) {
	r := testRouter(&fakeHot{}, &fakeWarm{retention: time.Hour}, &fakeCold{})

	_, err := r.QuerySeries(context.Background(), []string{"n1"}, model.TimeRange{StartMs: 10, EndMs: 10})
	if !errors.Is(err, errors.ErrInvalidRange) {
		t.Errorf("error = %v, want invalid range", err)
	}
}

// =============================================================================
// Aggregate Routing Tests
// =============================================================================

func TestQueryAggregate_FreshHotEntrySkipsStores(t *testing.T) {
	hot := &fakeHot{fresh: true, agg: model.Aggregate{Mean: 42}}
	warm := &fakeWarm{retention: 90 * 24 * time.Hour}
	cold := &fakeCold{}
	r := testRouter(hot, warm, cold)

	res, err := r.QueryAggregate(context.Background(), "n1", model.MetricFlowRate, model.Window1h)
	if err != nil {
		t.Fatalf("QueryAggregate() error = %v", err)
	}
	if res.Tier != TierHot {
		t.Errorf("Tier = %v, want %v", res.Tier, TierHot)
	}
	if res.Aggregate.Mean != 42 {
		t.Errorf("Mean = %v, want 42", res.Aggregate.Mean)
	}
	if warm.aggCalls != 0 || cold.calls != 0 {
		t.Errorf("warm/cold calls = %d/%d, want 0/0", warm.aggCalls, cold.calls)
	}
}

func TestQueryAggregate_NoCacheEntryComputesWarm(t *testing.T) {
	hot := &fakeHot{fresh: false}
	warm := &fakeWarm{retention: 90 * 24 * time.Hour, agg: model.Aggregate{NodeID: "n1", Mean: 7}}
	r := testRouter(hot, warm, &fakeCold{})

	res, err := r.QueryAggregate(context.Background(), "n1", model.MetricFlowRate, model.Window1h)
	if err != nil {
		t.Fatalf("QueryAggregate() error = %v", err)
	}
	if res.Tier != TierWarm {
		t.Errorf("Tier = %v, want %v", res.Tier, TierWarm)
	}
	if hot.gets != 0 {
		t.Errorf("hot gets = %d, want 0 when entry is not fresh", hot.gets)
	}
}

func TestQueryAggregate_WarmFailureComputesFromCold(t *testing.T) {
	now := time.Now()
	readings := []model.Reading{
		{NodeID: "n1", TimestampMs: now.Add(-30 * time.Minute).UnixMilli(), FlowRate: 10},
		{NodeID: "n1", TimestampMs: now.Add(-20 * time.Minute).UnixMilli(), FlowRate: 20},
		{NodeID: "n1", TimestampMs: now.Add(-10 * time.Minute).UnixMilli(), FlowRate: 30},
	}
	warm := &fakeWarm{retention: 90 * 24 * time.Hour, err: fmt.Errorf("db locked")}
	cold := &fakeCold{readings: readings}
	r := testRouter(&fakeHot{}, warm, cold)

	res, err := r.QueryAggregate(context.Background(), "n1", model.MetricFlowRate, model.Window1h)
	if err != nil {
		t.Fatalf("QueryAggregate() error = %v", err)
	}
	if res.Tier != TierCold {
		t.Errorf("Tier = %v, want %v", res.Tier, TierCold)
	}
	if res.Aggregate.Count != 3 {
		t.Errorf("Count = %d, want 3", res.Aggregate.Count)
	}
	if res.Aggregate.Mean != 20 {
		t.Errorf("Mean = %v, want 20", res.Aggregate.Mean)
	}
}

func TestQueryAggregate_StaleCacheIsLastResort(t *testing.T) {
	stale := model.Aggregate{Mean: 99}
	hot := &fakeHot{stale: &stale}
	warm := &fakeWarm{retention: 90 * 24 * time.Hour, err: fmt.Errorf("db locked")}
	cold := &fakeCold{err: fmt.Errorf("nfs gone")}
	r := testRouter(hot, warm, cold)

	res, err := r.QueryAggregate(context.Background(), "n1", model.MetricFlowRate, model.Window1h)
	if err != nil {
		t.Fatalf("QueryAggregate() error = %v", err)
	}
	if res.Tier != TierStaleCache {
		t.Errorf("Tier = %v, want %v", res.Tier, TierStaleCache)
	}
	if !res.Stale {
		t.Error("Stale = false, want true")
	}
	if res.Aggregate.Mean != 99 {
		t.Errorf("Mean = %v, want 99", res.Aggregate.Mean)
	}
}

func TestQueryAggregate_NothingLeftIsTierUnavailable(t *testing.T) {
	hot := &fakeHot{}
	warm := &fakeWarm{retention: 90 * 24 * time.Hour, err: fmt.Errorf("db locked")}
	cold := &fakeCold{err: fmt.Errorf("nfs gone")}
	r := testRouter(hot, warm, cold)

	_, err := r.QueryAggregate(context.Background(), "n1", model.MetricFlowRate, model.Window1h)
	if !errors.IsTierUnavailable(err) {
		t.Errorf("error = %v, want tier unavailable", err)
	}
	if hot.lookups != 1 {
		t.Errorf("stale lookups = %d, want 1", hot.lookups)
	}
}
