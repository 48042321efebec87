package usage

import (
	"context"
	"math"
	"time"

	"github.com/crestline/backoffice/pkg/observability"
	"github.com/crestline/backoffice/pkg/plans"
)

// approachingThreshold is the utilization percentage at which a limit
// check reports "approaching".
const approachingThreshold = 80.0

// Tracker records metered events and evaluates plan limits.
type Tracker struct {
	store   Store
	catalog plans.Catalog
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewTracker creates a usage tracker.
func NewTracker(store Store, catalog plans.Catalog, logger *observability.Logger, metrics *observability.Metrics) *Tracker {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Tracker{store: store, catalog: catalog, logger: logger, metrics: metrics}
}

// TrackEvent records one usage event. Persistence failures are logged and
// swallowed: metering must never fail the feature it instruments.
func (t *Tracker) TrackEvent(ctx context.Context, event *Event) {
	if err := t.store.Insert(ctx, event); err != nil {
		t.countWriteError()
		t.logger.WithError(err).WithFields(map[string]interface{}{
			"org_id":     event.OrgID,
			"event_type": string(event.EventType),
		}).Warn("failed to record usage event")
		return
	}
	t.countEvent(event.EventType)
}

// TrackAPICall records one API call for an organization.
func (t *Tracker) TrackAPICall(ctx context.Context, orgID, userID, endpoint string) {
	t.TrackEvent(ctx, &Event{
		OrgID:     orgID,
		UserID:    userID,
		EventType: EventAPICall,
		Metadata:  map[string]any{"endpoint": endpoint},
	})
}

// TrackFeatureUsage records one use of a named feature.
func (t *Tracker) TrackFeatureUsage(ctx context.Context, orgID, userID, feature string) {
	t.TrackEvent(ctx, &Event{
		OrgID:     orgID,
		UserID:    userID,
		EventType: EventFeatureUsed,
		Metadata:  map[string]any{"feature": feature},
	})
}

// TrackBatch records many usage events in a single bulk write. An empty
// batch is a no-op; failures are logged and swallowed.
func (t *Tracker) TrackBatch(ctx context.Context, events []*Event) {
	if len(events) == 0 {
		return
	}
	if err := t.store.InsertBatch(ctx, events); err != nil {
		t.countWriteError()
		t.logger.WithError(err).WithField("batch_size", len(events)).Warn("failed to record usage batch")
		return
	}
	for _, event := range events {
		t.countEvent(event.EventType)
	}
}

// UsageForPeriod returns an org's events within [from, to), newest first,
// optionally filtered by event type. Returns an empty slice on any read
// failure.
func (t *Tracker) UsageForPeriod(ctx context.Context, orgID string, from, to time.Time, eventType EventType) []*Event {
	events, err := t.store.EventsForPeriod(ctx, orgID, from, to, eventType)
	if err != nil {
		t.logger.WithError(err).WithField("org_id", orgID).Warn("failed to query usage events")
		return []*Event{}
	}
	return events
}

// APIUsageStats summarizes API call volume for an org in [from, to).
// Returns a zero-valued shape on failure so callers render "no data"
// without special-casing errors.
func (t *Tracker) APIUsageStats(ctx context.Context, orgID string, from, to time.Time) *APIStats {
	stats := &APIStats{ByDay: map[string]int64{}}

	total, err := t.store.SumQuantity(ctx, orgID, EventAPICall, from, to)
	if err != nil {
		t.logger.WithError(err).WithField("org_id", orgID).Warn("failed to compute api usage stats")
		return stats
	}
	stats.TotalCalls = total

	byDay, err := t.store.CountByDay(ctx, orgID, EventAPICall, from, to)
	if err != nil {
		t.logger.WithError(err).WithField("org_id", orgID).Warn("failed to compute per-day api usage")
		return stats
	}
	stats.ByDay = byDay

	return stats
}

// ActiveUsersCount returns the number of distinct users with usage in
// [from, to). Returns 0 on failure.
func (t *Tracker) ActiveUsersCount(ctx context.Context, orgID string, from, to time.Time) int64 {
	count, err := t.store.DistinctUsers(ctx, orgID, from, to)
	if err != nil {
		t.logger.WithError(err).WithField("org_id", orgID).Warn("failed to count active users")
		return 0
	}
	return count
}

// ExportsThisPeriod returns how many exports an org has run in [from, to).
// Returns 0 on failure.
func (t *Tracker) ExportsThisPeriod(ctx context.Context, orgID string, from, to time.Time) int64 {
	total, err := t.store.SumQuantity(ctx, orgID, EventExport, from, to)
	if err != nil {
		t.logger.WithError(err).WithField("org_id", orgID).Warn("failed to count exports")
		return 0
	}
	return total
}

// StorageUsage returns the summed storage bytes recorded for an org in
// [from, to). Returns 0 on failure.
func (t *Tracker) StorageUsage(ctx context.Context, orgID string, from, to time.Time) int64 {
	total, err := t.store.SumQuantity(ctx, orgID, EventStorageBytes, from, to)
	if err != nil {
		t.logger.WithError(err).WithField("org_id", orgID).Warn("failed to compute storage usage")
		return 0
	}
	return total
}

// CheckLimits evaluates current usage of a metric against the org's plan
// limit. Lookup failures default to unlimited: a metering outage must not
// block legitimate usage.
func (t *Tracker) CheckLimits(ctx context.Context, orgID, metric string, current int64) CheckResult {
	unlimited := CheckResult{Limit: plans.Unlimited, Current: current}

	plan, err := t.catalog.ActivePlan(ctx, orgID)
	if err != nil {
		t.logger.WithError(err).WithField("org_id", orgID).Warn("failed to resolve active plan, treating as unlimited")
		t.countCheck(metric, "unknown_plan")
		return unlimited
	}

	limit, err := t.catalog.FeatureLimit(ctx, plan, metric)
	if err != nil {
		t.logger.WithError(err).WithFields(map[string]interface{}{
			"plan":   string(plan),
			"metric": metric,
		}).Warn("failed to resolve feature limit, treating as unlimited")
		t.countCheck(metric, "unknown_limit")
		return unlimited
	}

	result := evaluate(limit, current)
	switch {
	case result.Exceeded:
		t.countCheck(metric, "exceeded")
	case result.Approaching:
		t.countCheck(metric, "approaching")
	default:
		t.countCheck(metric, "ok")
	}
	return result
}

// evaluate applies the limit semantics: -1 is unlimited, exceeded at
// current >= limit, approaching at 80% utilization.
func evaluate(limit, current int64) CheckResult {
	result := CheckResult{Limit: limit, Current: current}
	if limit < 0 {
		return result
	}
	if limit == 0 {
		// A zero limit means the metric is not available on this plan.
		result.Exceeded = true
		return result
	}

	pct := float64(current) / float64(limit) * 100
	result.Percentage = math.Round(pct*100) / 100
	result.Exceeded = current >= limit
	result.Approaching = !result.Exceeded && result.Percentage >= approachingThreshold
	return result
}

func (t *Tracker) countEvent(eventType EventType) {
	if t.metrics != nil {
		t.metrics.UsageEventsTotal.WithLabelValues(string(eventType)).Inc()
	}
}

func (t *Tracker) countWriteError() {
	if t.metrics != nil {
		t.metrics.UsageWriteErrors.Inc()
	}
}

func (t *Tracker) countCheck(metric, outcome string) {
	if t.metrics != nil {
		t.metrics.LimitChecksTotal.WithLabelValues(metric, outcome).Inc()
	}
}
