// Package audit assembles and persists the audit trail for tenant-scoped
// operations.
//
// Records are append-only and written off the response path: a failed or
// skipped audit write is logged but never surfaces to the caller. Metadata
// is passed through the sanitizer before persistence; the sanitizer scans
// top-level keys only (nested objects pass through unchanged).
package audit

import (
	"time"
)

// Action categorizes what was done to an entity
type Action string

const (
	ActionCreated     Action = "created"
	ActionUpdated     Action = "updated"
	ActionDeleted     Action = "deleted"
	ActionInvited     Action = "invited"
	ActionRoleChanged Action = "role_changed"
	ActionStarted     Action = "started"
	ActionExported    Action = "exported"
)

// Record is a single audit log entry. Immutable once written.
type Record struct {
	ID         string         `json:"id"`
	OrgID      string         `json:"org_id"`
	ActorID    *string        `json:"actor_id,omitempty"`
	Action     Action         `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	IPAddress  string         `json:"ip_address,omitempty"`
	UserAgent  string         `json:"user_agent,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Filter selects audit records for the query path.
type Filter struct {
	OrgID      string
	ActorID    string
	Action     Action
	EntityType string
	EntityID   string
	From       *time.Time
	To         *time.Time

	Limit  int
	Offset int
}
