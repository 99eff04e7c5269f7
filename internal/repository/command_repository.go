package repository

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/sentrygrid/coreplane/internal/apperr"
	"github.com/sentrygrid/coreplane/internal/domain"
)

// CommandRepository persists agent commands issued by operators (spec §7),
// recording the status transitions validated by domain.CanTransition.
type CommandRepository struct {
	db *sql.DB
}

// NewCommandRepository creates a command repository.
func NewCommandRepository(db *sql.DB) *CommandRepository {
	return &CommandRepository{db: db}
}

// CreateCommand inserts a new command in Pending status.
func (r *CommandRepository) CreateCommand(ctx context.Context, cmd *domain.AgentCommand) error {
	data, err := json.Marshal(cmd.CommandData)
	if err != nil {
		return apperr.Wrap(apperr.KindValidation, "marshal command data", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO agent_commands (id, agent_id, issued_by, command_type, command_data, status, issued_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		cmd.ID, cmd.AgentID, cmd.IssuedBy, cmd.CommandType, data, cmd.Status, cmd.IssuedAt,
	)
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, "insert agent command", err)
	}
	return nil
}

const commandColumns = `id, agent_id, issued_by, command_type, command_data, status, result, issued_at, executed_at, completed_at`

func scanCommand(row interface{ Scan(dest ...interface{}) error }) (*domain.AgentCommand, error) {
	var c domain.AgentCommand
	var data, result []byte
	if err := row.Scan(&c.ID, &c.AgentID, &c.IssuedBy, &c.CommandType, &data, &c.Status, &result,
		&c.IssuedAt, &c.ExecutedAt, &c.CompletedAt); err != nil {
		return nil, err
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &c.CommandData); err != nil {
			return nil, err
		}
	}
	if len(result) > 0 {
		if err := json.Unmarshal(result, &c.Result); err != nil {
			return nil, err
		}
	}
	return &c, nil
}

// GetCommand retrieves a command by ID, or nil if none exists.
func (r *CommandRepository) GetCommand(ctx context.Context, id uuid.UUID) (*domain.AgentCommand, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+commandColumns+` FROM agent_commands WHERE id = $1`, id)
	cmd, err := scanCommand(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "query agent command", err)
	}
	return cmd, nil
}

// ListCommandsForAgent retrieves commands issued to an agent, newest first.
func (r *CommandRepository) ListCommandsForAgent(ctx context.Context, agentID uuid.UUID, limit int) ([]domain.AgentCommand, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+commandColumns+` FROM agent_commands WHERE agent_id = $1 ORDER BY issued_at DESC LIMIT $2`,
		agentID, limit,
	)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "query agent commands", err)
	}
	defer rows.Close()

	var cmds []domain.AgentCommand
	for rows.Next() {
		cmd, err := scanCommand(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindTransient, "scan agent command", err)
		}
		cmds = append(cmds, *cmd)
	}
	return cmds, rows.Err()
}

// UpdateStatus transitions a command's status, validated by the caller
// against domain.CanTransition before this is invoked. Stamps executed_at
// on the first transition into Executing and completed_at on any terminal
// status.
func (r *CommandRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.CommandStatus, result map[string]interface{}) error {
	data, err := json.Marshal(result)
	if err != nil {
		return apperr.Wrap(apperr.KindValidation, "marshal command result", err)
	}

	terminal := status == domain.CommandStatusCompleted || status == domain.CommandStatusFailed || status == domain.CommandStatusTimeout

	res, err := r.db.ExecContext(ctx, `
		UPDATE agent_commands
		SET status = $2, result = $3,
			executed_at = CASE WHEN $4::boolean AND executed_at IS NULL THEN NOW() ELSE executed_at END,
			completed_at = CASE WHEN $5::boolean THEN NOW() ELSE completed_at END
		WHERE id = $1`,
		id, status, data, status == domain.CommandStatusExecuting, terminal,
	)
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, "update agent command status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.KindNotFound, "agent command not found")
	}
	return nil
}
