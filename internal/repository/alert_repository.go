package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/sentrygrid/coreplane/internal/apperr"
	"github.com/sentrygrid/coreplane/internal/domain"
)

// AlertRepository handles threat alert persistence (spec §4.8, invariant 5:
// every alert references an existing event). Grounded on the teacher's
// AlertRepository, adapted from org-scoped metric alerts to the
// event/rule-linked ThreatAlert this control plane produces.
type AlertRepository struct {
	db *sql.DB
}

// NewAlertRepository creates a threat alert repository.
func NewAlertRepository(db *sql.DB) *AlertRepository {
	return &AlertRepository{db: db}
}

const alertColumns = `id, event_id, rule_id, agent_id, alert_type, severity, title, description,
	status, assigned_to, resolved_at, created_at, updated_at, affected_agents`

func scanAlert(row interface{ Scan(dest ...interface{}) error }) (*domain.ThreatAlert, error) {
	var a domain.ThreatAlert
	var affected string
	if err := row.Scan(&a.ID, &a.EventID, &a.RuleID, &a.AgentID, &a.AlertType, &a.Severity, &a.Title,
		&a.Description, &a.Status, &a.AssignedTo, &a.ResolvedAt, &a.CreatedAt, &a.UpdatedAt, &affected); err != nil {
		return nil, err
	}
	a.AffectedAgents = parseUUIDArray(affected)
	return &a, nil
}

// parseUUIDArray decodes Postgres's "{uuid,uuid}" array literal format, the
// wire shape pgx's stdlib driver hands back for a UUID[] column scanned
// into a string.
func parseUUIDArray(literal string) []uuid.UUID {
	literal = strings.TrimPrefix(literal, "{")
	literal = strings.TrimSuffix(literal, "}")
	if literal == "" {
		return nil
	}
	var out []uuid.UUID
	for _, s := range strings.Split(literal, ",") {
		if id, err := uuid.Parse(strings.Trim(s, `"`)); err == nil {
			out = append(out, id)
		}
	}
	return out
}

// encodeUUIDArray renders a Postgres array literal for a UUID[] column.
func encodeUUIDArray(ids []uuid.UUID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id.String()
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// CreateAlert persists a ThreatAlert produced by correlation or an operator.
func (r *AlertRepository) CreateAlert(ctx context.Context, alert *domain.ThreatAlert) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO threat_alerts (id, event_id, rule_id, agent_id, alert_type, severity, title,
			description, status, assigned_to, resolved_at, created_at, updated_at, affected_agents)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		alert.ID, alert.EventID, alert.RuleID, alert.AgentID, alert.AlertType, alert.Severity, alert.Title,
		alert.Description, alert.Status, alert.AssignedTo, alert.ResolvedAt, alert.CreatedAt, alert.UpdatedAt,
		encodeUUIDArray(alert.AffectedAgents),
	)
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, "insert threat alert", err)
	}
	return nil
}

// GetAlert retrieves a threat alert by ID, or nil if none exists.
func (r *AlertRepository) GetAlert(ctx context.Context, id uuid.UUID) (*domain.ThreatAlert, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM threat_alerts WHERE id = $1`, id)
	alert, err := scanAlert(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "query threat alert", err)
	}
	return alert, nil
}

// ListAlertsForAgent retrieves alerts for a single agent, newest first.
func (r *AlertRepository) ListAlertsForAgent(ctx context.Context, agentID uuid.UUID, status domain.AlertStatus, limit int) ([]domain.ThreatAlert, error) {
	query := `SELECT ` + alertColumns + ` FROM threat_alerts WHERE agent_id = $1`
	args := []interface{}{agentID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "query threat alerts", err)
	}
	defer rows.Close()

	var alerts []domain.ThreatAlert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindTransient, "scan threat alert", err)
		}
		alerts = append(alerts, *alert)
	}
	return alerts, rows.Err()
}

// ListAlertsForTenant retrieves alerts across every agent belonging to a
// tenant, newest first, for the dashboard's alert feed.
func (r *AlertRepository) ListAlertsForTenant(ctx context.Context, tenantID uuid.UUID, status domain.AlertStatus, limit int) ([]domain.ThreatAlert, error) {
	query := `
		SELECT ` + alertColumns + ` FROM threat_alerts
		WHERE agent_id IN (SELECT id FROM agents WHERE tenant_id = $1)`
	args := []interface{}{tenantID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "query tenant threat alerts", err)
	}
	defer rows.Close()

	var alerts []domain.ThreatAlert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindTransient, "scan threat alert", err)
		}
		alerts = append(alerts, *alert)
	}
	return alerts, rows.Err()
}

// UpdateStatus transitions an alert's status, optionally assigning an
// owner and stamping resolved_at when the new status is terminal.
func (r *AlertRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.AlertStatus, assignedTo *uuid.UUID) error {
	terminal := status == domain.AlertStatusResolved || status == domain.AlertStatusFalsePositive

	res, err := r.db.ExecContext(ctx, `
		UPDATE threat_alerts
		SET status = $2, assigned_to = COALESCE($3, assigned_to),
			resolved_at = CASE WHEN $4::boolean THEN NOW() ELSE resolved_at END,
			updated_at = NOW()
		WHERE id = $1`,
		id, status, assignedTo, terminal,
	)
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, "update threat alert status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.KindNotFound, "threat alert not found")
	}
	return nil
}
