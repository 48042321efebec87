package usage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crestline/backoffice/pkg/plans"
)

type fakeUsageStore struct {
	events    []*Event
	insertErr error
	sum       int64
	sumErr    error
}

func (f *fakeUsageStore) Insert(ctx context.Context, event *Event) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.events = append(f.events, event)
	return nil
}

func (f *fakeUsageStore) InsertBatch(ctx context.Context, events []*Event) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.events = append(f.events, events...)
	return nil
}

func (f *fakeUsageStore) EventsForPeriod(ctx context.Context, orgID string, from, to time.Time, eventType EventType) ([]*Event, error) {
	if f.sumErr != nil {
		return nil, f.sumErr
	}
	return f.events, nil
}

func (f *fakeUsageStore) SumQuantity(ctx context.Context, orgID string, eventType EventType, from, to time.Time) (int64, error) {
	return f.sum, f.sumErr
}

func (f *fakeUsageStore) CountByDay(ctx context.Context, orgID string, eventType EventType, from, to time.Time) (map[string]int64, error) {
	if f.sumErr != nil {
		return nil, f.sumErr
	}
	return map[string]int64{"2026-08-01": f.sum}, nil
}

func (f *fakeUsageStore) DistinctUsers(ctx context.Context, orgID string, from, to time.Time) (int64, error) {
	return f.sum, f.sumErr
}

type erroringCatalog struct{ planErr, limitErr error }

func (c erroringCatalog) ActivePlan(ctx context.Context, orgID string) (plans.PlanTier, error) {
	if c.planErr != nil {
		return "", c.planErr
	}
	return plans.PlanFree, nil
}

func (c erroringCatalog) FeatureLimit(ctx context.Context, plan plans.PlanTier, metric string) (int64, error) {
	if c.limitErr != nil {
		return 0, c.limitErr
	}
	return plans.DefaultLimit(plan, metric)
}

func newTestTracker(store Store, catalog plans.Catalog) *Tracker {
	return NewTracker(store, catalog, nil, nil)
}

func TestTrackEvent_PersistFailureSwallowed(t *testing.T) {
	store := &fakeUsageStore{insertErr: errors.New("db down")}
	tracker := newTestTracker(store, plans.StaticCatalog{Plan: plans.PlanFree})

	// Must not panic or surface the failure.
	tracker.TrackEvent(context.Background(), &Event{OrgID: "org-1", EventType: EventAPICall})
	assert.Empty(t, store.events)
}

func TestTrackBatch_EmptyIsNoOp(t *testing.T) {
	store := &fakeUsageStore{insertErr: errors.New("would fail if called")}
	tracker := newTestTracker(store, plans.StaticCatalog{Plan: plans.PlanFree})

	tracker.TrackBatch(context.Background(), nil)
	tracker.TrackBatch(context.Background(), []*Event{})
	assert.Empty(t, store.events)
}

func TestTrackBatch_RecordsAll(t *testing.T) {
	store := &fakeUsageStore{}
	tracker := newTestTracker(store, plans.StaticCatalog{Plan: plans.PlanFree})

	tracker.TrackBatch(context.Background(), []*Event{
		{OrgID: "org-1", EventType: EventAPICall},
		{OrgID: "org-1", EventType: EventExport},
	})
	assert.Len(t, store.events, 2)
}

func TestUsageForPeriod_EmptyOnFailure(t *testing.T) {
	store := &fakeUsageStore{sumErr: errors.New("db down")}
	tracker := newTestTracker(store, plans.StaticCatalog{Plan: plans.PlanFree})

	events := tracker.UsageForPeriod(context.Background(), "org-1", time.Time{}, time.Now(), "")
	assert.NotNil(t, events)
	assert.Empty(t, events)
}

func TestAPIUsageStats_ZeroValueOnFailure(t *testing.T) {
	store := &fakeUsageStore{sumErr: errors.New("db down")}
	tracker := newTestTracker(store, plans.StaticCatalog{Plan: plans.PlanFree})

	stats := tracker.APIUsageStats(context.Background(), "org-1", time.Time{}, time.Now())
	require.NotNil(t, stats)
	assert.Zero(t, stats.TotalCalls)
	assert.Empty(t, stats.ByDay)
}

func TestCheckLimits_Boundaries(t *testing.T) {
	// seats limit on free plan is 3.
	tracker := newTestTracker(&fakeUsageStore{}, plans.StaticCatalog{Plan: plans.PlanFree})

	tests := []struct {
		name        string
		current     int64
		exceeded    bool
		approaching bool
	}{
		{"well under", 1, false, false},
		{"at limit exceeded", 3, true, false},
		{"zero usage", 0, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tracker.CheckLimits(context.Background(), "org-1", plans.MetricSeats, tt.current)
			assert.Equal(t, tt.exceeded, result.Exceeded)
			assert.Equal(t, tt.approaching, result.Approaching)
		})
	}
}

func TestCheckLimits_PercentageThresholds(t *testing.T) {
	// free plan: 10,000 api calls per month.
	tracker := newTestTracker(&fakeUsageStore{}, plans.StaticCatalog{Plan: plans.PlanFree})

	tests := []struct {
		name        string
		current     int64
		percentage  float64
		exceeded    bool
		approaching bool
	}{
		{"79.99% is neither", 7_999, 79.99, false, false},
		{"exactly 80% approaching", 8_000, 80.0, false, true},
		{"99% approaching", 9_900, 99.0, false, true},
		{"at limit exceeded, not approaching", 10_000, 100.0, true, false},
		{"over limit exceeded", 12_500, 125.0, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tracker.CheckLimits(context.Background(), "org-1", plans.MetricAPICalls, tt.current)
			assert.Equal(t, tt.percentage, result.Percentage)
			assert.Equal(t, tt.exceeded, result.Exceeded)
			assert.Equal(t, tt.approaching, result.Approaching)
		})
	}
}

// -1 means unlimited: never exceeded, never approaching, percentage 0.
func TestCheckLimits_Unlimited(t *testing.T) {
	tracker := newTestTracker(&fakeUsageStore{}, plans.StaticCatalog{Plan: plans.PlanEnterprise})

	result := tracker.CheckLimits(context.Background(), "org-1", plans.MetricAPICalls, 50_000_000)
	assert.Equal(t, plans.Unlimited, result.Limit)
	assert.False(t, result.Exceeded)
	assert.False(t, result.Approaching)
	assert.Zero(t, result.Percentage)
}

// Plan or limit lookup failures fail open as unlimited.
func TestCheckLimits_FailOpen(t *testing.T) {
	store := &fakeUsageStore{}

	result := newTestTracker(store, erroringCatalog{planErr: errors.New("db down")}).
		CheckLimits(context.Background(), "org-1", plans.MetricSeats, 999)
	assert.Equal(t, plans.Unlimited, result.Limit)
	assert.False(t, result.Exceeded)

	result = newTestTracker(store, erroringCatalog{limitErr: errors.New("db down")}).
		CheckLimits(context.Background(), "org-1", plans.MetricSeats, 999)
	assert.Equal(t, plans.Unlimited, result.Limit)
	assert.False(t, result.Exceeded)
}
