package repository

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/sentrygrid/coreplane/internal/apperr"
	"github.com/sentrygrid/coreplane/internal/domain"
)

// RuleRepository handles detection rule persistence (spec §4.8). Grounded
// on the teacher's AlertRepository.CreateRule/GetRule/ListRules shape,
// adapted from metric alert rules to the threshold/sequence/cross_agent
// detection rules this control plane runs.
type RuleRepository struct {
	db *sql.DB
}

// NewRuleRepository creates a detection rule repository.
func NewRuleRepository(db *sql.DB) *RuleRepository {
	return &RuleRepository{db: db}
}

// CreateRule inserts a new detection rule.
func (r *RuleRepository) CreateRule(ctx context.Context, rule *domain.DetectionRule) error {
	conditions, err := json.Marshal(rule.Conditions)
	if err != nil {
		return apperr.Wrap(apperr.KindValidation, "marshal conditions", err)
	}
	actions, err := json.Marshal(rule.Actions)
	if err != nil {
		return apperr.Wrap(apperr.KindValidation, "marshal actions", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO detection_rules (id, tenant_id, name, rule_type, severity, conditions, actions, enabled, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rule.ID, rule.TenantID, rule.Name, rule.RuleType, rule.Severity, conditions, actions,
		rule.Enabled, rule.CreatedBy, rule.CreatedAt, rule.UpdatedAt,
	)
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, "insert detection rule", err)
	}
	return nil
}

const ruleColumns = `id, tenant_id, name, rule_type, severity, conditions, actions, enabled, created_by, created_at, updated_at`

func scanRule(row interface{ Scan(dest ...interface{}) error }) (*domain.DetectionRule, error) {
	var rule domain.DetectionRule
	var conditions, actions []byte
	if err := row.Scan(&rule.ID, &rule.TenantID, &rule.Name, &rule.RuleType, &rule.Severity,
		&conditions, &actions, &rule.Enabled, &rule.CreatedBy, &rule.CreatedAt, &rule.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(conditions, &rule.Conditions); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(actions, &rule.Actions); err != nil {
		return nil, err
	}
	return &rule, nil
}

// GetRule retrieves a detection rule by ID, or nil if none exists.
func (r *RuleRepository) GetRule(ctx context.Context, id uuid.UUID) (*domain.DetectionRule, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM detection_rules WHERE id = $1`, id)
	rule, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "query detection rule", err)
	}
	return rule, nil
}

// ListRules retrieves detection rules for a tenant, optionally filtered to
// enabled-only (the hot path the correlation engine's reload reads,
// spec §4.8).
func (r *RuleRepository) ListRules(ctx context.Context, tenantID uuid.UUID, enabledOnly bool) ([]domain.DetectionRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM detection_rules WHERE tenant_id = $1`
	if enabledOnly {
		query += ` AND enabled = TRUE`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "query detection rules", err)
	}
	defer rows.Close()

	var rules []domain.DetectionRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindTransient, "scan detection rule", err)
		}
		rules = append(rules, *rule)
	}
	return rules, rows.Err()
}

// UpdateRule updates a detection rule's mutable fields.
func (r *RuleRepository) UpdateRule(ctx context.Context, rule *domain.DetectionRule) error {
	conditions, err := json.Marshal(rule.Conditions)
	if err != nil {
		return apperr.Wrap(apperr.KindValidation, "marshal conditions", err)
	}
	actions, err := json.Marshal(rule.Actions)
	if err != nil {
		return apperr.Wrap(apperr.KindValidation, "marshal actions", err)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE detection_rules SET name = $2, rule_type = $3, severity = $4, conditions = $5,
			actions = $6, enabled = $7, updated_at = $8
		WHERE id = $1`,
		rule.ID, rule.Name, rule.RuleType, rule.Severity, conditions, actions, rule.Enabled, rule.UpdatedAt,
	)
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, "update detection rule", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.KindNotFound, "detection rule not found")
	}
	return nil
}

// DeleteRule removes a detection rule.
func (r *RuleRepository) DeleteRule(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM detection_rules WHERE id = $1`, id)
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, "delete detection rule", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.KindNotFound, "detection rule not found")
	}
	return nil
}
