package orgs

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/crestline/backoffice/pkg/apierr"
	"github.com/crestline/backoffice/pkg/plans"
	"github.com/crestline/backoffice/pkg/rbac"
)

const invitationTTL = 7 * 24 * time.Hour

// PostgresStore persists organizations, memberships, and invitations.
// It satisfies rbac.MembershipLookup.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a Postgres-backed org store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// CreateOrg creates an organization and its owner membership in one
// transaction.
func (s *PostgresStore) CreateOrg(ctx context.Context, req *CreateOrgRequest, ownerID string) (*Organization, error) {
	plan := req.PlanTier
	if plan == "" {
		plan = plans.PlanFree
	}
	if !plan.Valid() {
		return nil, apierr.BadRequest("planTier", fmt.Sprintf("unknown plan tier: %s", plan))
	}

	settingsJSON, err := marshalSettings(req.Settings)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	org := &Organization{
		ID:        uuid.NewString(),
		Name:      req.Name,
		Slug:      req.Slug,
		OwnerID:   ownerID,
		PlanTier:  plan,
		Status:    OrgStatusActive,
		Settings:  req.Settings,
		CreatedAt: now,
		UpdatedAt: now,
	}

	txn, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer txn.Rollback()

	query := `
		INSERT INTO organizations (id, name, slug, owner_id, plan_tier, status, settings, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	if _, err := txn.ExecContext(ctx, query,
		org.ID, org.Name, org.Slug, org.OwnerID, string(org.PlanTier),
		string(org.Status), settingsJSON, org.CreatedAt, org.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to create organization: %w", err)
	}

	memberQuery := `
		INSERT INTO organization_members (id, org_id, user_id, role, joined_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := txn.ExecContext(ctx, memberQuery,
		uuid.NewString(), org.ID, ownerID, string(rbac.RoleOwner), now,
	); err != nil {
		return nil, fmt.Errorf("failed to create owner membership: %w", err)
	}

	if err := txn.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit organization: %w", err)
	}
	return org, nil
}

// GetOrg retrieves an organization by ID.
func (s *PostgresStore) GetOrg(ctx context.Context, orgID string) (*Organization, error) {
	query := `
		SELECT id, name, slug, owner_id, plan_tier, status, settings, created_at, updated_at
		FROM organizations
		WHERE id = $1 AND status != 'deleted'
	`
	org := &Organization{}
	var plan, status string
	var settingsJSON []byte
	err := s.db.QueryRowContext(ctx, query, orgID).Scan(
		&org.ID, &org.Name, &org.Slug, &org.OwnerID, &plan, &status,
		&settingsJSON, &org.CreatedAt, &org.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, apierr.NotFound("organization", orgID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	org.PlanTier = plans.PlanTier(plan)
	org.Status = OrgStatus(status)
	if len(settingsJSON) > 0 {
		if err := json.Unmarshal(settingsJSON, &org.Settings); err != nil {
			return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
		}
	}
	return org, nil
}

// UpdateOrgPlan changes an organization's plan tier.
func (s *PostgresStore) UpdateOrgPlan(ctx context.Context, orgID string, plan plans.PlanTier) error {
	if !plan.Valid() {
		return apierr.BadRequest("planTier", fmt.Sprintf("unknown plan tier: %s", plan))
	}
	query := `UPDATE organizations SET plan_tier = $1, updated_at = $2 WHERE id = $3 AND status != 'deleted'`
	result, err := s.db.ExecContext(ctx, query, string(plan), time.Now().UTC(), orgID)
	if err != nil {
		return fmt.Errorf("failed to update plan: %w", err)
	}
	return requireRow(result, "organization", orgID)
}

// GetMemberRole returns the user's role within the organization, or
// apierr.NotFound when no membership exists.
func (s *PostgresStore) GetMemberRole(ctx context.Context, orgID, userID string) (rbac.Role, error) {
	query := `SELECT role FROM organization_members WHERE org_id = $1 AND user_id = $2`
	var role string
	err := s.db.QueryRowContext(ctx, query, orgID, userID).Scan(&role)
	if err == sql.ErrNoRows {
		return "", apierr.NotFound("membership", userID)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get member role: %w", err)
	}
	return rbac.Role(role), nil
}

// ListMembers retrieves all members of an organization, oldest first.
func (s *PostgresStore) ListMembers(ctx context.Context, orgID string) ([]*Member, error) {
	query := `
		SELECT id, org_id, user_id, role, invited_by, joined_at
		FROM organization_members
		WHERE org_id = $1
		ORDER BY joined_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []*Member
	for rows.Next() {
		member := &Member{}
		var role string
		var invitedBy sql.NullString
		if err := rows.Scan(
			&member.ID, &member.OrgID, &member.UserID, &role, &invitedBy, &member.JoinedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		member.Role = rbac.Role(role)
		if invitedBy.Valid {
			member.InvitedBy = &invitedBy.String
		}
		members = append(members, member)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating members: %w", err)
	}
	return members, nil
}

// AddMember adds a user to an organization.
func (s *PostgresStore) AddMember(ctx context.Context, orgID, userID string, role rbac.Role, invitedBy *string) (*Member, error) {
	if !role.Valid() {
		return nil, apierr.BadRequest("role", fmt.Sprintf("unknown role: %s", role))
	}

	member := &Member{
		ID:        uuid.NewString(),
		OrgID:     orgID,
		UserID:    userID,
		Role:      role,
		InvitedBy: invitedBy,
		JoinedAt:  time.Now().UTC(),
	}
	query := `
		INSERT INTO organization_members (id, org_id, user_id, role, invited_by, joined_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (org_id, user_id) DO NOTHING
	`
	result, err := s.db.ExecContext(ctx, query,
		member.ID, member.OrgID, member.UserID, string(member.Role), nullable(invitedBy), member.JoinedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to add member: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, apierr.BadRequest("userId", "user is already a member")
	}
	return member, nil
}

// UpdateMemberRole changes a member's role and returns the previous one.
func (s *PostgresStore) UpdateMemberRole(ctx context.Context, orgID, userID string, role rbac.Role) (rbac.Role, error) {
	if !role.Valid() {
		return "", apierr.BadRequest("role", fmt.Sprintf("unknown role: %s", role))
	}

	txn, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer txn.Rollback()

	var previous string
	selectQuery := `SELECT role FROM organization_members WHERE org_id = $1 AND user_id = $2 FOR UPDATE`
	err = txn.QueryRowContext(ctx, selectQuery, orgID, userID).Scan(&previous)
	if err == sql.ErrNoRows {
		return "", apierr.NotFound("membership", userID)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get member role: %w", err)
	}

	updateQuery := `UPDATE organization_members SET role = $1 WHERE org_id = $2 AND user_id = $3`
	if _, err := txn.ExecContext(ctx, updateQuery, string(role), orgID, userID); err != nil {
		return "", fmt.Errorf("failed to update member role: %w", err)
	}

	if err := txn.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit role change: %w", err)
	}
	return rbac.Role(previous), nil
}

// RemoveMember removes a user from an organization. The owner cannot be
// removed.
func (s *PostgresStore) RemoveMember(ctx context.Context, orgID, userID string) error {
	query := `
		DELETE FROM organization_members
		WHERE org_id = $1 AND user_id = $2 AND role != 'owner'
	`
	result, err := s.db.ExecContext(ctx, query, orgID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}
	return requireRow(result, "membership", userID)
}

// CreateInvitation records a pending invitation with a fresh token.
func (s *PostgresStore) CreateInvitation(ctx context.Context, orgID, invitedBy string, req *InviteMemberRequest) (*Invitation, error) {
	if !req.Role.Valid() {
		return nil, apierr.BadRequest("role", fmt.Sprintf("unknown role: %s", req.Role))
	}
	if req.Role == rbac.RoleOwner {
		return nil, apierr.BadRequest("role", "cannot invite as owner")
	}

	now := time.Now().UTC()
	inv := &Invitation{
		ID:        uuid.NewString(),
		OrgID:     orgID,
		Email:     req.Email,
		Role:      req.Role,
		InvitedBy: invitedBy,
		Token:     uuid.NewString(),
		Status:    InvitationPending,
		ExpiresAt: now.Add(invitationTTL),
		CreatedAt: now,
	}
	query := `
		INSERT INTO org_invitations (id, org_id, email, role, invited_by, token, status, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	if _, err := s.db.ExecContext(ctx, query,
		inv.ID, inv.OrgID, inv.Email, string(inv.Role), inv.InvitedBy,
		inv.Token, string(inv.Status), inv.ExpiresAt, inv.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to create invitation: %w", err)
	}
	return inv, nil
}

// AcceptInvitation consumes a pending, unexpired invitation and creates
// the membership.
func (s *PostgresStore) AcceptInvitation(ctx context.Context, token, userID string) (*Member, error) {
	txn, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer txn.Rollback()

	query := `
		UPDATE org_invitations
		SET status = 'accepted'
		WHERE token = $1 AND status = 'pending' AND expires_at > $2
		RETURNING id, org_id, role, invited_by
	`
	var invID, orgID, role, invitedBy string
	err = txn.QueryRowContext(ctx, query, token, time.Now().UTC()).Scan(&invID, &orgID, &role, &invitedBy)
	if err == sql.ErrNoRows {
		return nil, apierr.NotFound("invitation", token)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to accept invitation: %w", err)
	}

	member := &Member{
		ID:        uuid.NewString(),
		OrgID:     orgID,
		UserID:    userID,
		Role:      rbac.Role(role),
		InvitedBy: &invitedBy,
		JoinedAt:  time.Now().UTC(),
	}
	memberQuery := `
		INSERT INTO organization_members (id, org_id, user_id, role, invited_by, joined_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (org_id, user_id) DO NOTHING
	`
	if _, err := txn.ExecContext(ctx, memberQuery,
		member.ID, member.OrgID, member.UserID, string(member.Role), member.InvitedBy, member.JoinedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to create membership: %w", err)
	}

	if err := txn.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit invitation: %w", err)
	}
	return member, nil
}

// CleanupExpiredInvitations marks overdue pending invitations as expired
// and returns how many were affected.
func (s *PostgresStore) CleanupExpiredInvitations(ctx context.Context) (int64, error) {
	query := `
		UPDATE org_invitations
		SET status = 'expired'
		WHERE status = 'pending' AND expires_at <= $1
	`
	result, err := s.db.ExecContext(ctx, query, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to expire invitations: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return count, nil
}

func requireRow(result sql.Result, entity, id string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apierr.NotFound(entity, id)
	}
	return nil
}

func nullable(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

func marshalSettings(settings map[string]any) ([]byte, error) {
	if settings == nil {
		return nil, nil
	}
	data, err := json.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal settings: %w", err)
	}
	return data, nil
}
