package orgs

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crestline/backoffice/pkg/apierr"
	"github.com/crestline/backoffice/pkg/rbac"
)

func TestGetMemberRole(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	mock.ExpectQuery("SELECT role FROM organization_members").
		WithArgs("org-1", "user-1").
		WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow("admin"))

	role, err := store.GetMemberRole(context.Background(), "org-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleAdmin, role)
}

func TestGetMemberRole_NotAMember(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	mock.ExpectQuery("SELECT role FROM organization_members").
		WithArgs("org-1", "stranger").
		WillReturnRows(sqlmock.NewRows([]string{"role"}))

	_, err = store.GetMemberRole(context.Background(), "org-1", "stranger")
	assert.True(t, apierr.IsNotFound(err))
}

func TestAddMember_AlreadyExists(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	mock.ExpectExec("INSERT INTO organization_members").
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err = store.AddMember(context.Background(), "org-1", "user-1", rbac.RoleMember, nil)
	assert.True(t, apierr.IsBadRequest(err))
}

func TestAddMember_RejectsUnknownRole(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	_, err = store.AddMember(context.Background(), "org-1", "user-1", rbac.Role("superuser"), nil)
	assert.True(t, apierr.IsBadRequest(err))
}

func TestUpdateMemberRole_ReturnsPrevious(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT role FROM organization_members").
		WithArgs("org-1", "user-2").
		WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow("member"))
	mock.ExpectExec("UPDATE organization_members SET role").
		WithArgs("admin", "org-1", "user-2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	previous, err := store.UpdateMemberRole(context.Background(), "org-1", "user-2", rbac.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleMember, previous)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateMemberRole_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT role FROM organization_members").
		WithArgs("org-1", "ghost").
		WillReturnRows(sqlmock.NewRows([]string{"role"}))
	mock.ExpectRollback()

	_, err = store.UpdateMemberRole(context.Background(), "org-1", "ghost", rbac.RoleAdmin)
	assert.True(t, apierr.IsNotFound(err))
}

func TestRemoveMember_OwnerProtected(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	// The delete excludes the owner row, so removing the owner affects
	// nothing and reports not found.
	mock.ExpectExec("DELETE FROM organization_members").
		WithArgs("org-1", "owner-user").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = store.RemoveMember(context.Background(), "org-1", "owner-user")
	assert.True(t, apierr.IsNotFound(err))
}

func TestCreateOrg_OwnerMembershipInSameTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO organizations").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO organization_members").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	org, err := store.CreateOrg(context.Background(), &CreateOrgRequest{
		Name: "Acme",
		Slug: "acme",
	}, "user-1")
	require.NoError(t, err)
	assert.NotEmpty(t, org.ID)
	assert.Equal(t, "user-1", org.OwnerID)
	assert.Equal(t, OrgStatusActive, org.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCleanupExpiredInvitations(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	mock.ExpectExec("UPDATE org_invitations").
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 5))

	count, err := store.CleanupExpiredInvitations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)
}

func TestCreateInvitation_RejectsOwnerRole(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	_, err = store.CreateInvitation(context.Background(), "org-1", "user-1", &InviteMemberRequest{
		Email: "new@example.com",
		Role:  rbac.RoleOwner,
	})
	assert.True(t, apierr.IsBadRequest(err))
}

func TestCreateInvitation_SetsExpiry(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	mock.ExpectExec("INSERT INTO org_invitations").
		WillReturnResult(sqlmock.NewResult(1, 1))

	inv, err := store.CreateInvitation(context.Background(), "org-1", "user-1", &InviteMemberRequest{
		Email: "new@example.com",
		Role:  rbac.RoleMember,
	})
	require.NoError(t, err)
	assert.Equal(t, InvitationPending, inv.Status)
	assert.NotEmpty(t, inv.Token)
	assert.WithinDuration(t, time.Now().Add(invitationTTL), inv.ExpiresAt, time.Minute)
}
