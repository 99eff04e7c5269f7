package repository

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/sentrygrid/coreplane/internal/apperr"
	"github.com/sentrygrid/coreplane/internal/domain"
)

// EventRepository provides read access to persisted security events. The
// pipeline's own transactional insert (internal/pipeline) remains the sole
// writer: this repository backs the dashboard's query surface only
// (spec §6's GET /threats/events and GET /agents/{id}/events).
type EventRepository struct {
	db *sql.DB
}

// NewEventRepository creates a security event repository.
func NewEventRepository(db *sql.DB) *EventRepository {
	return &EventRepository{db: db}
}

const eventColumns = `id, agent_id, event_type, severity, title, description, event_data,
	raw_data, source_ip, process_name, file_path, user_name, occurred_at, created_at`

func scanEvent(row interface{ Scan(dest ...interface{}) error }) (*domain.SecurityEvent, error) {
	var e domain.SecurityEvent
	var data []byte
	if err := row.Scan(&e.ID, &e.AgentID, &e.EventType, &e.Severity, &e.Title, &e.Description, &data,
		&e.RawData, &e.SourceIP, &e.ProcessName, &e.FilePath, &e.UserName, &e.OccurredAt, &e.CreatedAt); err != nil {
		return nil, err
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &e.EventData); err != nil {
			return nil, err
		}
	}
	return &e, nil
}

// GetEvent retrieves a security event by ID, or nil if none exists.
func (r *EventRepository) GetEvent(ctx context.Context, id uuid.UUID) (*domain.SecurityEvent, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM security_events WHERE id = $1`, id)
	event, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "query security event", err)
	}
	return event, nil
}

// ListEventsForAgent retrieves events for a single agent, newest first.
func (r *EventRepository) ListEventsForAgent(ctx context.Context, agentID uuid.UUID, limit, offset int) ([]domain.SecurityEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM security_events WHERE agent_id = $1 ORDER BY occurred_at DESC LIMIT $2 OFFSET $3`,
		agentID, limit, offset,
	)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "query security events", err)
	}
	defer rows.Close()

	var events []domain.SecurityEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindTransient, "scan security event", err)
		}
		events = append(events, *event)
	}
	return events, rows.Err()
}

// ListEventsForTenant retrieves events across every agent in a tenant,
// newest first, optionally filtered to a minimum severity.
func (r *EventRepository) ListEventsForTenant(ctx context.Context, tenantID uuid.UUID, minSeverity domain.Severity, limit, offset int) ([]domain.SecurityEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT ` + eventColumns + ` FROM security_events
		WHERE agent_id IN (SELECT id FROM agents WHERE tenant_id = $1)`
	args := []interface{}{tenantID}
	if minSeverity != "" {
		query += ` AND severity = ANY($2)`
		args = append(args, severitiesAtOrAbove(minSeverity))
		query += ` ORDER BY occurred_at DESC LIMIT $3 OFFSET $4`
		args = append(args, limit, offset)
	} else {
		query += ` ORDER BY occurred_at DESC LIMIT $2 OFFSET $3`
		args = append(args, limit, offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "query tenant security events", err)
	}
	defer rows.Close()

	var events []domain.SecurityEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindTransient, "scan security event", err)
		}
		events = append(events, *event)
	}
	return events, rows.Err()
}

func severitiesAtOrAbove(min domain.Severity) []string {
	all := []domain.Severity{domain.SeverityLow, domain.SeverityMedium, domain.SeverityHigh, domain.SeverityCritical}
	var out []string
	for _, s := range all {
		if s.Rank() >= min.Rank() {
			out = append(out, string(s))
		}
	}
	return out
}
