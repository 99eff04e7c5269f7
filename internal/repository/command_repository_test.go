package repository

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentrygrid/coreplane/internal/apperr"
	"github.com/sentrygrid/coreplane/internal/domain"
)

func TestCreateCommandExecutesInsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewCommandRepository(db)

	cmd := &domain.AgentCommand{ID: uuid.New(), AgentID: uuid.New(), CommandType: "isolate", Status: domain.CommandStatusPending}
	mock.ExpectExec("INSERT INTO agent_commands").WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.CreateCommand(context.Background(), cmd))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommandUpdateStatusNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewCommandRepository(db)

	mock.ExpectExec("UPDATE agent_commands").WillReturnResult(sqlmock.NewResult(0, 0))

	err = repo.UpdateStatus(context.Background(), uuid.New(), domain.CommandStatusCompleted, nil)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestGetCommandReturnsNilOnNoRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewCommandRepository(db)
	id := uuid.New()

	mock.ExpectQuery("SELECT .* FROM agent_commands WHERE id = \\$1").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "agent_id", "issued_by", "command_type", "command_data", "status", "result", "issued_at", "executed_at", "completed_at",
		}))

	cmd, err := repo.GetCommand(context.Background(), id)
	require.NoError(t, err)
	assert.Nil(t, cmd)
}
