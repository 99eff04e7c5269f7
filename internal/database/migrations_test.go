package database

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockMigrationRunner(t *testing.T) (*MigrationRunner, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	pg := &Postgres{DB: db}
	return NewMigrationRunner(pg, zerolog.Nop()), mock
}

func TestRunFromStringsSkipsAlreadyAppliedMigrations(t *testing.T) {
	runner, mock := newMockMigrationRunner(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT version FROM schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow("001_initial_schema.sql"))

	err := runner.RunFromStrings(context.Background(), map[string]string{
		"001_initial_schema.sql": "CREATE TABLE x (id int);",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunFromStringsAppliesPendingMigrationInTransaction(t *testing.T) {
	runner, mock := newMockMigrationRunner(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT version FROM schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"version"}))

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE x").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO schema_migrations").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := runner.RunFromStrings(context.Background(), map[string]string{
		"001_initial_schema.sql": "CREATE TABLE x (id int);",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunFromStringsRollsBackOnMigrationFailure(t *testing.T) {
	runner, mock := newMockMigrationRunner(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT version FROM schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"version"}))

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE x").WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err := runner.RunFromStrings(context.Background(), map[string]string{
		"001_initial_schema.sql": "CREATE TABLE x (id int);",
	})
	require.Error(t, err)
}

func TestStatusReturnsAppliedMigrations(t *testing.T) {
	runner, mock := newMockMigrationRunner(t)
	appliedAt := time.Now()

	mock.ExpectQuery("SELECT version, applied_at FROM schema_migrations ORDER BY version").
		WillReturnRows(sqlmock.NewRows([]string{"version", "applied_at"}).
			AddRow("001_initial_schema.sql", appliedAt))

	status, err := runner.Status(context.Background())
	require.NoError(t, err)
	require.Len(t, status, 1)
	assert.Equal(t, "001_initial_schema.sql", status[0].Version)
}
