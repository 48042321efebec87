package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crestline/backoffice/pkg/audit"
	"github.com/crestline/backoffice/pkg/guard"
	"github.com/crestline/backoffice/pkg/middleware"
	"github.com/crestline/backoffice/pkg/orgs"
	"github.com/crestline/backoffice/pkg/plans"
	"github.com/crestline/backoffice/pkg/rbac"
	"github.com/crestline/backoffice/pkg/records"
	"github.com/crestline/backoffice/pkg/usage"
)

type memoryAuditStore struct {
	mu      sync.Mutex
	records []*audit.Record
}

func (m *memoryAuditStore) Insert(ctx context.Context, record *audit.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, record)
	return nil
}

func (m *memoryAuditStore) Search(ctx context.Context, filter *audit.Filter) ([]*audit.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*audit.Record, len(m.records))
	copy(out, m.records)
	return out, nil
}

func (m *memoryAuditStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (m *memoryAuditStore) all() []*audit.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*audit.Record, len(m.records))
	copy(out, m.records)
	return out
}

type testEnv struct {
	router     *mux.Router
	orgsMock   sqlmock.Sqlmock
	recMock    sqlmock.Sqlmock
	usageMock  sqlmock.Sqlmock
	auditStore *memoryAuditStore
	auditLog   *audit.Logger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	orgsDB, orgsMock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { orgsDB.Close() })

	recDB, recMock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { recDB.Close() })

	usageDB, usageMock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { usageDB.Close() })

	orgStore := orgs.NewPostgresStore(orgsDB)
	recordStore := records.NewPostgresStore(recDB)
	usageStore := usage.NewPostgresStore(usageDB)
	auditStore := &memoryAuditStore{}

	resolver := rbac.NewResolver(orgStore, nil)
	accessGuard := guard.New(resolver, nil)
	auditLog := audit.NewLogger(auditStore, nil, nil)
	tracker := usage.NewTracker(usageStore, plans.StaticCatalog{Plan: plans.PlanFree}, nil, nil)

	server := NewServer(orgStore, recordStore, auditStore, auditLog, accessGuard, resolver, tracker, plans.StaticCatalog{Plan: plans.PlanFree}, nil)

	router := mux.NewRouter()
	router.Use(middleware.RequestContext(nil))
	server.RegisterRoutes(router)

	return &testEnv{
		router:     router,
		orgsMock:   orgsMock,
		recMock:    recMock,
		usageMock:  usageMock,
		auditStore: auditStore,
		auditLog:   auditLog,
	}
}

func (env *testEnv) do(method, path, userID, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func expectRole(mock sqlmock.Sqlmock, orgID, userID, role string) {
	rows := sqlmock.NewRows([]string{"role"})
	if role != "" {
		rows.AddRow(role)
	}
	mock.ExpectQuery("SELECT role FROM organization_members").
		WithArgs(orgID, userID).
		WillReturnRows(rows)
}

func TestChangeMemberRole_ForbiddenForMember(t *testing.T) {
	env := newTestEnv(t)
	expectRole(env.orgsMock, "org-1", "user-1", "member")

	rec := env.do(http.MethodPut, "/api/v1/orgs/org-1/members/user-2/role", "user-1", `{"role":"admin"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "admin")

	require.True(t, env.auditLog.Flush(2*time.Second))
	assert.Empty(t, env.auditStore.all())
}

func TestChangeMemberRole_NonMemberForbidden(t *testing.T) {
	env := newTestEnv(t)
	expectRole(env.orgsMock, "org-1", "stranger", "")

	rec := env.do(http.MethodPut, "/api/v1/orgs/org-1/members/user-2/role", "stranger", `{"role":"admin"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "none")
}

func TestChangeMemberRole_AdminSucceedsAndAudits(t *testing.T) {
	env := newTestEnv(t)
	expectRole(env.orgsMock, "org-1", "admin-user", "admin")

	env.orgsMock.ExpectBegin()
	env.orgsMock.ExpectQuery("SELECT role FROM organization_members").
		WithArgs("org-1", "user-2").
		WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow("member"))
	env.orgsMock.ExpectExec("UPDATE organization_members SET role").
		WithArgs("admin", "org-1", "user-2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	env.orgsMock.ExpectCommit()

	rec := env.do(http.MethodPut, "/api/v1/orgs/org-1/members/user-2/role", "admin-user", `{"role":"admin"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"previousRole":"member"`)

	require.True(t, env.auditLog.Flush(2*time.Second))
	auditRecords := env.auditStore.all()
	require.Len(t, auditRecords, 1)
	assert.Equal(t, audit.ActionRoleChanged, auditRecords[0].Action)
	assert.Equal(t, "user-2", auditRecords[0].EntityID)
	assert.Equal(t, "admin", auditRecords[0].Metadata["new_role"])
	assert.Equal(t, "member", auditRecords[0].Metadata["old_role"])
	require.NotNil(t, auditRecords[0].ActorID)
	assert.Equal(t, "admin-user", *auditRecords[0].ActorID)
}

func TestCreateRecord_ViewerForbidden(t *testing.T) {
	env := newTestEnv(t)
	expectRole(env.orgsMock, "org-1", "viewer-user", "viewer")

	rec := env.do(http.MethodPost, "/api/v1/orgs/org-1/records", "viewer-user", `{"title":"doc"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCreateRecord_SucceedsAndAudits(t *testing.T) {
	env := newTestEnv(t)
	expectRole(env.orgsMock, "org-1", "member-user", "member")

	env.recMock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM records").
		WithArgs("org-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(5)))
	env.recMock.ExpectExec("INSERT INTO records").
		WillReturnResult(sqlmock.NewResult(1, 1))
	env.usageMock.ExpectExec("INSERT INTO usage_events").
		WillReturnResult(sqlmock.NewResult(1, 1))

	rec := env.do(http.MethodPost, "/api/v1/orgs/org-1/records", "member-user", `{"title":"doc","data":{"body":"hello"}}`)
	assert.Equal(t, http.StatusCreated, rec.Code)

	require.True(t, env.auditLog.Flush(2*time.Second))
	auditRecords := env.auditStore.all()
	require.Len(t, auditRecords, 1)
	assert.Equal(t, audit.ActionCreated, auditRecords[0].Action)
	assert.Equal(t, "record", auditRecords[0].EntityType)
	assert.NotEmpty(t, auditRecords[0].EntityID)
}

// At the record limit, creation is rejected before the write.
func TestCreateRecord_LimitExceeded(t *testing.T) {
	env := newTestEnv(t)
	expectRole(env.orgsMock, "org-1", "member-user", "member")

	// free plan allows 1,000 records.
	env.recMock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM records").
		WithArgs("org-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(1000)))

	rec := env.do(http.MethodPost, "/api/v1/orgs/org-1/records", "member-user", `{"title":"doc"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	require.True(t, env.auditLog.Flush(2*time.Second))
	assert.Empty(t, env.auditStore.all())
	assert.NoError(t, env.recMock.ExpectationsWereMet())
}

func TestCreateRecord_MissingTitle(t *testing.T) {
	env := newTestEnv(t)
	expectRole(env.orgsMock, "org-1", "member-user", "member")

	env.recMock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM records").
		WithArgs("org-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(0)))

	rec := env.do(http.MethodPost, "/api/v1/orgs/org-1/records", "member-user", `{"data":{}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteRecord_RequiresAdmin(t *testing.T) {
	env := newTestEnv(t)
	expectRole(env.orgsMock, "org-1", "member-user", "member")

	rec := env.do(http.MethodDelete, "/api/v1/orgs/org-1/records/rec-1", "member-user", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSearchAudit_RequiresAdmin(t *testing.T) {
	env := newTestEnv(t)
	expectRole(env.orgsMock, "org-1", "viewer-user", "viewer")

	rec := env.do(http.MethodGet, "/api/v1/orgs/org-1/audit", "viewer-user", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestUnauthenticatedRequestRejected(t *testing.T) {
	env := newTestEnv(t)
	// No X-User-ID header: the resolver sees an empty user and denies.
	rec := env.do(http.MethodGet, "/api/v1/orgs/org-1/members", "", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
