package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/studio-ops-api/internal/models"
)

var classInstanceTestColumns = []string{
	"id", "studio_id", "parent_class_id", "name", "teacher_id", "location_id", "date", "end_date",
	"start_time", "end_time", "weekday", "is_recurring", "is_drop_in", "capacity", "drop_in_price",
	"booked_count", "status", "attendance_reminded_at", "created_at", "updated_at",
}

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return sqlx.NewDb(db, "postgres"), mock, func() { db.Close() }
}

func addClassRow(rows *sqlmock.Rows, id string, parent interface{}, day time.Time, booked int, capacity interface{}) *sqlmock.Rows {
	now := time.Now()
	return rows.AddRow(id, "studio-1", parent, "Ballet Basics", "teacher-1", "room-1", day, day,
		"17:00", "18:00", 3, parent != nil, capacity != nil, capacity, nil,
		booked, "SCHEDULED", nil, now, now)
}

func jan(d int) time.Time {
	return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
}

func TestClassInstanceRepositoryFindByID(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewClassInstanceRepository(db)

	rows := addClassRow(sqlmock.NewRows(classInstanceTestColumns), "w1", "anchor", jan(3), 2, 10)
	mock.ExpectQuery(regexp.QuoteMeta("FROM class_instances WHERE id = $1")).
		WithArgs("w1").
		WillReturnRows(rows)

	instance, err := repo.FindByID(context.Background(), "w1")
	require.NoError(t, err)
	assert.Equal(t, "anchor", *instance.ParentClassID)
	assert.Equal(t, 2, instance.BookedCount)
	assert.Equal(t, 10, *instance.Capacity)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClassInstanceRepositoryFindByIDNotFound(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewClassInstanceRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM class_instances WHERE id = $1")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByID(context.Background(), "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestClassInstanceRepositoryListCalendar(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewClassInstanceRepository(db)

	from := jan(1)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM class_instances WHERE studio_id = $1 AND NOT (is_recurring AND parent_class_id IS NULL) AND date >= $2 AND teacher_id = $3")).
		WithArgs("studio-1", from, "teacher-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY date ASC, start_time ASC, id ASC LIMIT $4 OFFSET $5")).
		WithArgs("studio-1", from, "teacher-1", 50, 0).
		WillReturnRows(addClassRow(sqlmock.NewRows(classInstanceTestColumns), "w1", "anchor", jan(3), 0, nil))

	rows, total, err := repo.ListCalendar(context.Background(), models.CalendarFilter{StudioID: "studio-1", From: &from, TeacherID: "teacher-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, rows, 1)
	assert.Nil(t, rows[0].Capacity)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClassInstanceRepositoryCreateSeries(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewClassInstanceRepository(db)

	anchor := "anchor"
	rows := []models.ClassInstance{
		{ID: anchor, StudioID: "studio-1", IsRecurring: true, Date: jan(3), EndDate: jan(24)},
		{ID: "w1", StudioID: "studio-1", ParentClassID: &anchor, IsRecurring: true, Date: jan(3), EndDate: jan(3)},
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO class_instances")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO class_instances")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.CreateSeries(context.Background(), rows))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClassInstanceRepositoryCreateSeriesRollsBack(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewClassInstanceRepository(db)

	rows := []models.ClassInstance{{ID: "a"}, {ID: "b"}}
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO class_instances")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO class_instances")).WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := repo.CreateSeries(context.Background(), rows)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert class instance")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClassInstanceRepositoryUpdateSelectionFuture(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewClassInstanceRepository(db)

	sel := models.Selection{Scope: models.ScopeFuture, TargetID: "w2", RootID: "anchor", FromDate: jan(10)}
	locked := sqlmock.NewRows(classInstanceTestColumns)
	addClassRow(locked, "w2", "anchor", jan(10), 0, nil)
	addClassRow(locked, "w3", "anchor", jan(17), 0, nil)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("WHERE (id = $1 OR parent_class_id = $1) AND date >= $2 ORDER BY date ASC, id ASC FOR UPDATE")).
		WithArgs("anchor", jan(10)).
		WillReturnRows(locked)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE class_instances SET name = $1")).
		WithArgs("Ballet Intermediate", "teacher-2", "room-1", "17:00", "18:00", false, nil, nil, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	patch := models.ClassPatch{Name: "Ballet Intermediate", TeacherID: "teacher-2", LocationID: "room-1", StartTime: "17:00", EndTime: "18:00", UpdatedAt: time.Now().UTC()}
	var guarded int
	previous, err := repo.UpdateSelection(context.Background(), sel, patch, func(rows []models.ClassInstance) error {
		guarded = len(rows)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, guarded)
	assert.Len(t, previous, 2)
	assert.Equal(t, "teacher-1", previous[0].TeacherID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClassInstanceRepositoryUpdateSelectionGuardAborts(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewClassInstanceRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("WHERE id = $1 ORDER BY date ASC, id ASC FOR UPDATE")).
		WithArgs("w1").
		WillReturnRows(addClassRow(sqlmock.NewRows(classInstanceTestColumns), "w1", nil, jan(3), 8, 10))
	mock.ExpectRollback()

	guardErr := errors.New("capacity below bookings")
	_, err := repo.UpdateSelection(context.Background(), models.SelectOne("w1"), models.ClassPatch{}, func([]models.ClassInstance) error {
		return guardErr
	})
	assert.ErrorIs(t, err, guardErr)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClassInstanceRepositoryDeleteSelectionEmpty(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewClassInstanceRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("WHERE (id = $1 OR parent_class_id = $1) ORDER BY")).
		WithArgs("anchor").
		WillReturnRows(sqlmock.NewRows(classInstanceTestColumns))
	mock.ExpectRollback()

	_, err := repo.DeleteSelection(context.Background(), models.Selection{Scope: models.ScopeAll, RootID: "anchor"})
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClassInstanceRepositoryDeleteSelection(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewClassInstanceRepository(db)

	locked := sqlmock.NewRows(classInstanceTestColumns)
	addClassRow(locked, "anchor", nil, jan(3), 0, nil)
	addClassRow(locked, "w1", "anchor", jan(3), 0, nil)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("WHERE (id = $1 OR parent_class_id = $1) ORDER BY")).
		WithArgs("anchor").
		WillReturnRows(locked)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM class_instances WHERE id = ANY($1)")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	deleted, err := repo.DeleteSelection(context.Background(), models.Selection{Scope: models.ScopeAll, TargetID: "w1", RootID: "anchor"})
	require.NoError(t, err)
	assert.Len(t, deleted, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClassInstanceRepositoryIncrementBooked(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewClassInstanceRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SET booked_count = booked_count + 1")).
		WithArgs("c1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "booked_count", "capacity"}).AddRow("c1", 3, 3))

	counter, err := repo.IncrementBooked(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, 0, *counter.SpotsRemaining())

	mock.ExpectQuery(regexp.QuoteMeta("SET booked_count = booked_count + 1")).
		WithArgs("c1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "booked_count", "capacity"}))

	_, err = repo.IncrementBooked(context.Background(), "c1")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClassInstanceRepositoryMarkAttendanceReminded(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewClassInstanceRepository(db)

	at := time.Date(2024, 1, 5, 9, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE class_instances SET attendance_reminded_at = $1")).
		WithArgs(at, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, repo.MarkAttendanceReminded(context.Background(), []string{"a", "b"}, at))
	require.NoError(t, repo.MarkAttendanceReminded(context.Background(), nil, at))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSelectionPredicateRejectsUnknownScope(t *testing.T) {
	_, _, err := selectionPredicate(models.Selection{Scope: "weekly"})
	assert.Error(t, err)
}
