package records

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crestline/backoffice/pkg/apierr"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(db), mock
}

func TestCreate(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO records").
		WithArgs(sqlmock.AnyArg(), "org-1", "report", []byte(`{"body":"hello"}`),
			"user-1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	record, err := store.Create(context.Background(), "org-1", "user-1", "report", map[string]any{"body": "hello"})
	require.NoError(t, err)
	assert.NotEmpty(t, record.ID)
	assert.Equal(t, "org-1", record.OrgID)
	assert.Equal(t, "report", record.Title)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGet_NotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT id, org_id, title").
		WithArgs("org-1", "rec-missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "org_id", "title", "data", "created_by", "created_at", "updated_at"}))

	_, err := store.Get(context.Background(), "org-1", "rec-missing")
	assert.True(t, apierr.IsNotFound(err))
}

func TestGet_ScopedToOrg(t *testing.T) {
	store, mock := newMockStore(t)

	now := time.Now().UTC()
	mock.ExpectQuery("SELECT id, org_id, title").
		WithArgs("org-1", "rec-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "org_id", "title", "data", "created_by", "created_at", "updated_at"}).
			AddRow("rec-1", "org-1", "report", []byte(`{"body":"hello"}`), "user-1", now, now))

	record, err := store.Get(context.Background(), "org-1", "rec-1")
	require.NoError(t, err)
	assert.Equal(t, "rec-1", record.ID)
	assert.Equal(t, "hello", record.Data["body"])
	assert.Equal(t, "user-1", record.CreatedBy)
}

func TestUpdate_NotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE records").
		WithArgs("new title", nil, sqlmock.AnyArg(), "org-1", "rec-missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := store.Update(context.Background(), "org-1", "rec-missing", "new title", nil)
	assert.True(t, apierr.IsNotFound(err))
}

func TestDelete(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("DELETE FROM records").
		WithArgs("org-1", "rec-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Delete(context.Background(), "org-1", "rec-1")
	assert.NoError(t, err)
}

func TestDelete_NotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("DELETE FROM records").
		WithArgs("org-1", "rec-missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Delete(context.Background(), "org-1", "rec-missing")
	assert.True(t, apierr.IsNotFound(err))
}

func TestCount(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM records").
		WithArgs("org-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(7)))

	count, err := store.Count(context.Background(), "org-1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), count)
}

// An out-of-range limit falls back to the default page size.
func TestList_ClampsLimit(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT id, org_id, title").
		WithArgs("org-1", 50, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "org_id", "title", "data", "created_by", "created_at", "updated_at"}))

	list, err := store.List(context.Background(), "org-1", 5000, 0)
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSnapshot(t *testing.T) {
	store, mock := newMockStore(t)

	now := time.Now().UTC()
	mock.ExpectQuery("SELECT id, org_id, title").
		WithArgs("org-1", "rec-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "org_id", "title", "data", "created_by", "created_at", "updated_at"}).
			AddRow("rec-1", "org-1", "report", []byte(`{"body":"hello"}`), "user-1", now, now))

	state, err := store.Snapshot(context.Background(), "org-1", "rec-1")
	require.NoError(t, err)
	assert.Equal(t, "rec-1", state["id"])
	assert.Equal(t, "report", state["title"])
	assert.Equal(t, now.Format(time.RFC3339), state["updated_at"])
}
