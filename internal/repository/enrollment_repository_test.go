package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnrollmentRepositoryListStudentIDs(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT student_id FROM enrollments WHERE class_instance_id = $1")).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"student_id"}).AddRow("s1").AddRow("s2"))

	ids, err := repo.ListStudentIDs(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryApply(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO enrollments")).
		WithArgs("c1", "s3", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO instance_enrollments")).
		WithArgs(sqlmock.AnyArg(), "c1", "s3", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT DISTINCT ie.student_id FROM instance_enrollments ie")).
		WithArgs("c1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"student_id"}).AddRow("s2"))
	mock.ExpectQuery(regexp.QuoteMeta("DELETE FROM enrollments e")).
		WithArgs("c1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"student_id"}).AddRow("s1"))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM instance_enrollments ie")).
		WithArgs("c1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	change, err := repo.Apply(context.Background(), "c1", []string{"s3"}, []string{"s1", "s2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"s3"}, change.Added)
	assert.Equal(t, []string{"s1"}, change.Removed)
	assert.Equal(t, []string{"s2"}, change.Locked)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryApplyDuplicateAddIsNoop(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO enrollments")).
		WithArgs("c1", "s1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO instance_enrollments")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	change, err := repo.Apply(context.Background(), "c1", []string{"s1"}, nil)
	require.NoError(t, err)
	assert.Empty(t, change.Added)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryApplyRollsBackOnError(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT DISTINCT ie.student_id")).
		WillReturnError(errors.New("timeout"))
	mock.ExpectRollback()

	_, err := repo.Apply(context.Background(), "c1", nil, []string{"s1"})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositorySeed(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("SELECT i, s, $3 FROM unnest($1::uuid[]) AS i CROSS JOIN unnest($2::text[]) AS s")).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 8))

	affected, err := repo.Seed(context.Background(), []string{"w1", "w2", "w3", "w4"}, []string{"s1", "s2"})
	require.NoError(t, err)
	assert.Equal(t, int64(8), affected)

	affected, err = repo.Seed(context.Background(), nil, []string{"s1"})
	require.NoError(t, err)
	assert.Zero(t, affected)
	assert.NoError(t, mock.ExpectationsWereMet())
}
