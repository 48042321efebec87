// Package usage records metered events and evaluates them against
// plan-defined limits.
//
// Recording and querying are fail-open: a persistence failure is logged
// and swallowed so metering can never block or fail the feature it is
// instrumenting, and limit-check failures default to unlimited. This is
// the deliberate inverse of the access guard's fail-closed policy.
package usage

import "time"

// EventType identifies what kind of usage occurred
type EventType string

const (
	EventAPICall       EventType = "api_call"
	EventFeatureUsed   EventType = "feature_used"
	EventRecordCreated EventType = "record_created"
	EventStorageBytes  EventType = "storage_bytes"
	EventExport        EventType = "export"
	EventSeatActive    EventType = "seat_active"
)

// Event is one metered occurrence, append-only.
type Event struct {
	ID        string         `json:"id"`
	OrgID     string         `json:"org_id"`
	UserID    string         `json:"user_id,omitempty"`
	EventType EventType      `json:"event_type"`
	Quantity  int64          `json:"quantity"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// CheckResult is the outcome of evaluating current usage against a plan
// limit. A limit of -1 means unlimited: Exceeded and Approaching are false
// and Percentage is 0 regardless of current usage.
type CheckResult struct {
	Limit       int64   `json:"limit"`
	Current     int64   `json:"current"`
	Percentage  float64 `json:"percentage"`
	Exceeded    bool    `json:"exceeded"`
	Approaching bool    `json:"approaching"`
}

// APIStats summarizes API call volume for a window.
type APIStats struct {
	TotalCalls int64            `json:"total_calls"`
	ByDay      map[string]int64 `json:"by_day"`
}
