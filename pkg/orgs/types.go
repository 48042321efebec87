// Package orgs manages organizations, their memberships, and pending
// invitations. Its store is the source of truth the role resolver reads.
package orgs

import (
	"time"

	"github.com/crestline/backoffice/pkg/plans"
	"github.com/crestline/backoffice/pkg/rbac"
)

// OrgStatus represents organization status
type OrgStatus string

const (
	OrgStatusActive    OrgStatus = "active"
	OrgStatusSuspended OrgStatus = "suspended"
	OrgStatusDeleted   OrgStatus = "deleted"
)

// Organization is one tenant.
type Organization struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Slug      string         `json:"slug"`
	OwnerID   string         `json:"owner_id"`
	PlanTier  plans.PlanTier `json:"plan_tier"`
	Status    OrgStatus      `json:"status"`
	Settings  map[string]any `json:"settings,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Member is one user's membership in an organization.
type Member struct {
	ID        string    `json:"id"`
	OrgID     string    `json:"org_id"`
	UserID    string    `json:"user_id"`
	Role      rbac.Role `json:"role"`
	InvitedBy *string   `json:"invited_by,omitempty"`
	JoinedAt  time.Time `json:"joined_at"`
}

// InvitationStatus represents the lifecycle of an invitation.
type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationExpired  InvitationStatus = "expired"
	InvitationRevoked  InvitationStatus = "revoked"
)

// Invitation is a pending offer to join an organization.
type Invitation struct {
	ID        string           `json:"id"`
	OrgID     string           `json:"org_id"`
	Email     string           `json:"email"`
	Role      rbac.Role        `json:"role"`
	InvitedBy string           `json:"invited_by"`
	Token     string           `json:"token"`
	Status    InvitationStatus `json:"status"`
	ExpiresAt time.Time        `json:"expires_at"`
	CreatedAt time.Time        `json:"created_at"`
}

// CreateOrgRequest represents request to create an organization
type CreateOrgRequest struct {
	Name     string         `json:"name"`
	Slug     string         `json:"slug"`
	PlanTier plans.PlanTier `json:"plan_tier,omitempty"`
	Settings map[string]any `json:"settings,omitempty"`
}

// InviteMemberRequest represents request to invite a member
type InviteMemberRequest struct {
	Email string    `json:"email"`
	Role  rbac.Role `json:"role"`
}
