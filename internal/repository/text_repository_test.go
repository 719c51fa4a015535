package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/pecha-tools/transcription-api/internal/models"
)

func newTextRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func textRows(id, batch int64, status models.TextStatus) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "batch", "original_text", "modified_text", "status", "reviewed", "modified_by", "reject_count", "duration_ms", "created_at", "updated_at"}).
		AddRow(id, batch, "original", nil, string(status), false, nil, 0, 0, time.Now(), time.Now())
}

func TestTextRepositoryGetByID(t *testing.T) {
	db, mock, cleanup := newTextRepoMock(t)
	defer cleanup()

	repo := NewTextRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, batch, original_text")).
		WithArgs(int64(7)).
		WillReturnRows(textRows(7, 2, models.TextStatusPending))

	text, err := repo.GetByID(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, int64(7), text.ID)
	require.Equal(t, int64(2), text.Batch)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTextRepositoryTryClaim(t *testing.T) {
	db, mock, cleanup := newTextRepoMock(t)
	defer cleanup()

	repo := NewTextRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE texts SET modified_by")).
		WithArgs(int64(7), "user-1", sqlmock.AnyArg(), string(models.TextStatusPending)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.TryClaim(context.Background(), 7, "user-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTextRepositoryTryClaimLostRace(t *testing.T) {
	db, mock, cleanup := newTextRepoMock(t)
	defer cleanup()

	repo := NewTextRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE texts SET modified_by")).
		WithArgs(int64(7), "user-1", sqlmock.AnyArg(), string(models.TextStatusPending)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.TryClaim(context.Background(), 7, "user-1")
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTextRepositoryApproveGuard(t *testing.T) {
	db, mock, cleanup := newTextRepoMock(t)
	defer cleanup()

	repo := NewTextRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE texts")).
		WithArgs(int64(3), "fixed text", string(models.TextStatusApproved), "user-1", int64(1200), true, sqlmock.AnyArg(), string(models.TextStatusTrashed)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Approve(context.Background(), ApproveParams{
		ID:           3,
		ModifiedText: "fixed text",
		ModifiedBy:   "user-1",
		DurationMS:   1200,
		Reviewed:     true,
	})
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTextRepositoryRejectBelowThreshold(t *testing.T) {
	db, mock, cleanup := newTextRepoMock(t)
	defer cleanup()

	repo := NewTextRepository(db)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE texts")).
		WithArgs(int64(3), string(models.TextStatusRejected), sqlmock.AnyArg(), string(models.TextStatusTrashed)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO rejections")).
		WithArgs(sqlmock.AnyArg(), "user-1", int64(3), nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM rejections")).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectCommit()

	outcome, err := repo.Reject(context.Background(), RejectParams{TextID: 3, UserID: "user-1", Threshold: 3})
	require.NoError(t, err)
	require.Equal(t, 1, outcome.RejectionCount)
	require.True(t, outcome.AllowAssign)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTextRepositoryRejectReachesThreshold(t *testing.T) {
	db, mock, cleanup := newTextRepoMock(t)
	defer cleanup()

	repo := NewTextRepository(db)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE texts")).
		WithArgs(int64(3), string(models.TextStatusRejected), sqlmock.AnyArg(), string(models.TextStatusTrashed)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO rejections")).
		WithArgs(sqlmock.AnyArg(), "user-1", int64(3), nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM rejections")).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET allow_assign = false")).
		WithArgs("user-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	outcome, err := repo.Reject(context.Background(), RejectParams{TextID: 3, UserID: "user-1", Threshold: 3})
	require.NoError(t, err)
	require.Equal(t, 3, outcome.RejectionCount)
	require.False(t, outcome.AllowAssign)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTextRepositoryRejectPastThresholdStaysRevoked(t *testing.T) {
	db, mock, cleanup := newTextRepoMock(t)
	defer cleanup()

	// Fourth rejection against a user already blocked at three: the revoke
	// is guarded by allow_assign = true, so it touches no row, and the
	// outcome keeps reporting the user as blocked.
	repo := NewTextRepository(db)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE texts")).
		WithArgs(int64(9), string(models.TextStatusRejected), sqlmock.AnyArg(), string(models.TextStatusTrashed)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO rejections")).
		WithArgs(sqlmock.AnyArg(), "user-1", int64(9), nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM rejections")).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET allow_assign = false")).
		WithArgs("user-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	outcome, err := repo.Reject(context.Background(), RejectParams{TextID: 9, UserID: "user-1", Threshold: 3})
	require.NoError(t, err)
	require.Equal(t, 4, outcome.RejectionCount)
	require.False(t, outcome.AllowAssign)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTextRepositoryRejectGuardRollsBack(t *testing.T) {
	db, mock, cleanup := newTextRepoMock(t)
	defer cleanup()

	repo := NewTextRepository(db)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE texts")).
		WithArgs(int64(3), string(models.TextStatusRejected), sqlmock.AnyArg(), string(models.TextStatusTrashed)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := repo.Reject(context.Background(), RejectParams{TextID: 3, UserID: "user-1", Threshold: 3})
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTextRepositoryTrashTwiceRefused(t *testing.T) {
	db, mock, cleanup := newTextRepoMock(t)
	defer cleanup()

	repo := NewTextRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE texts SET status")).
		WithArgs(int64(9), string(models.TextStatusTrashed), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Trash(context.Background(), 9)
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTextRepositorySelectCandidatesFilters(t *testing.T) {
	db, mock, cleanup := newTextRepoMock(t)
	defer cleanup()

	repo := NewTextRepository(db)
	reviewed := false
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, batch, original_text")).
		WithArgs(sqlmock.AnyArg(), string(models.TextStatusPending), reviewed).
		WillReturnRows(textRows(11, 4, models.TextStatusPending))

	texts, err := repo.SelectCandidates(context.Background(), models.TextFilter{
		Batches:  []int64{4},
		Status:   models.TextStatusPending,
		Reviewed: &reviewed,
		Limit:    5,
	})
	require.NoError(t, err)
	require.Len(t, texts, 1)
	require.Equal(t, int64(11), texts[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTextRepositorySelectCandidatesClampsLimit(t *testing.T) {
	db, mock, cleanup := newTextRepoMock(t)
	defer cleanup()

	repo := NewTextRepository(db)
	mock.ExpectQuery("SELECT id, batch, original_text.*LIMIT 100").
		WithArgs(string(models.TextStatusPending)).
		WillReturnRows(textRows(11, 4, models.TextStatusPending))

	_, err := repo.SelectCandidates(context.Background(), models.TextFilter{
		Status: models.TextStatusPending,
		Limit:  5000,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
