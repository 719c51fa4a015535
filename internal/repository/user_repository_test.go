package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/pecha-tools/transcription-api/internal/models"
)

func newUserRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func userRows(id, batches string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "username", "email", "password_hash", "role", "assigned_batch", "allow_assign", "active", "last_login", "created_at", "updated_at"}).
		AddRow(id, "worker", "worker@example.com", "hash", "ANNOTATOR", batches, true, true, nil, time.Now(), time.Now())
}

func TestUserRepositoryFindByID(t *testing.T) {
	db, mock, cleanup := newUserRepoMock(t)
	defer cleanup()

	repo := NewUserRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, username, email")).
		WithArgs("user-1").
		WillReturnRows(userRows("user-1", "{2,5}"))

	user, err := repo.FindByID(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, "user-1", user.ID)
	require.Equal(t, pq.Int64Array{2, 5}, user.AssignedBatch)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepositoryListWithFilters(t *testing.T) {
	db, mock, cleanup := newUserRepoMock(t)
	defer cleanup()

	repo := NewUserRepository(db)
	active := true
	role := models.RoleAnnotator

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM users")).
		WithArgs(string(role), active).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, username, email")).
		WithArgs(string(role), active).
		WillReturnRows(userRows("user-1", "{}"))

	users, total, err := repo.List(context.Background(), models.UserFilter{Role: &role, Active: &active})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, users, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepositoryAssignBatchIdempotent(t *testing.T) {
	db, mock, cleanup := newUserRepoMock(t)
	defer cleanup()

	repo := NewUserRepository(db)
	// Second assignment of the same batch matches no row; the call still
	// succeeds because the end state is what the caller asked for.
	mock.ExpectExec(regexp.QuoteMeta("UPDATE users")).
		WithArgs("user-1", int64(4), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.AssignBatch(context.Background(), "user-1", 4))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepositoryRemoveBatchMissing(t *testing.T) {
	db, mock, cleanup := newUserRepoMock(t)
	defer cleanup()

	repo := NewUserRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE users")).
		WithArgs("missing", int64(4), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.RemoveBatch(context.Background(), "missing", 4)
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepositoryAddIgnoredText(t *testing.T) {
	db, mock, cleanup := newUserRepoMock(t)
	defer cleanup()

	repo := NewUserRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO ignored_texts")).
		WithArgs(sqlmock.AnyArg(), "user-1", int64(2), int64(77), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.AddIgnoredText(context.Background(), "user-1", 2, 77))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepositoryIgnoredBatchesExcept(t *testing.T) {
	db, mock, cleanup := newUserRepoMock(t)
	defer cleanup()

	repo := NewUserRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT DISTINCT batch FROM ignored_texts")).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"batch"}).AddRow(3).AddRow(8))

	batches, err := repo.IgnoredBatchesExcept(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, []int64{3, 8}, batches)
	require.NoError(t, mock.ExpectationsWereMet())
}
