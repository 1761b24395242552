package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrations_Ordered(t *testing.T) {
	migrations := Migrations()
	require.NotEmpty(t, migrations)
	for i, m := range migrations {
		assert.Equal(t, i+1, m.Version)
		assert.NotEmpty(t, m.Description)
		assert.NotEmpty(t, m.SQL)
	}
}

func TestMigrate_SkipsApplied(t *testing.T) {
	db, mock := newMock(t)
	migrations := Migrations()

	expectMigrationLock(mock)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").
		WillReturnResult(sqlmock.NewResult(0, 0))

	rows := sqlmock.NewRows([]string{"version"})
	for _, m := range migrations[:len(migrations)-1] {
		rows.AddRow(m.Version)
	}
	mock.ExpectQuery("SELECT version FROM schema_migrations").WillReturnRows(rows)

	last := migrations[len(migrations)-1]
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS cron_locks").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO schema_migrations").
		WithArgs(last.Version, last.Description).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	expectMigrationUnlock(mock)

	assert.NoError(t, Migrate(context.Background(), db, nil))
}

func TestMigrate_RollsBackOnFailure(t *testing.T) {
	db, mock := newMock(t)

	expectMigrationLock(mock)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT version FROM schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"version"}))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS users").
		WillReturnError(errors.New("permission denied"))
	mock.ExpectRollback()
	expectMigrationUnlock(mock)

	err := Migrate(context.Background(), db, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "migration 1")
}

func TestMigrate_LockFailureRunsNothing(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectExec("SELECT pg_advisory_lock").
		WithArgs(migrationLockKey).
		WillReturnError(errors.New("canceling statement due to lock timeout"))

	err := Migrate(context.Background(), db, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "migration lock")
}

func expectMigrationLock(mock sqlmock.Sqlmock) {
	mock.ExpectExec("SELECT pg_advisory_lock\\(\\$1\\)").
		WithArgs(migrationLockKey).
		WillReturnResult(sqlmock.NewResult(0, 0))
}

func expectMigrationUnlock(mock sqlmock.Sqlmock) {
	mock.ExpectExec("SELECT pg_advisory_unlock\\(\\$1\\)").
		WithArgs(migrationLockKey).
		WillReturnResult(sqlmock.NewResult(0, 0))
}
