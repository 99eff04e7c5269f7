// Package registry implements agent enrollment and the authoritative
// agent directory (spec §4.3), grounded on the teacher's
// repository.APIKeyRepository query/scan style.
package registry

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sentrygrid/coreplane/internal/apperr"
	"github.com/sentrygrid/coreplane/internal/credential"
	"github.com/sentrygrid/coreplane/internal/domain"
	"github.com/sentrygrid/coreplane/internal/subscription"
)

// Registry is the agent directory: registration, heartbeats, and reads.
type Registry struct {
	db           *sql.DB
	logger       zerolog.Logger
	credentials  *credential.Store
	subscriptions *subscription.Service
}

// New creates an agent registry.
func New(db *sql.DB, logger zerolog.Logger, credentials *credential.Store, subscriptions *subscription.Service) *Registry {
	return &Registry{db: db, logger: logger, credentials: credentials, subscriptions: subscriptions}
}

func validateRegistration(deviceName, fingerprint, version string) error {
	var missing []string
	if strings.TrimSpace(deviceName) == "" {
		missing = append(missing, "device_name")
	}
	if strings.TrimSpace(fingerprint) == "" {
		missing = append(missing, "hardware_fingerprint")
	}
	if strings.TrimSpace(version) == "" {
		missing = append(missing, "version")
	}
	if len(missing) > 0 {
		return apperr.New(apperr.KindValidation, fmt.Sprintf("missing required fields: %s", strings.Join(missing, ", ")))
	}
	return nil
}

func (r *Registry) fingerprintTaken(ctx context.Context, fingerprint string) (bool, error) {
	if r.db == nil {
		return false, nil
	}
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM agents WHERE hardware_fingerprint = $1`,
		fingerprint,
	).Scan(&count)
	if err != nil {
		return false, apperr.Wrap(apperr.KindTransient, "check fingerprint", err)
	}
	return count > 0, nil
}

func (r *Registry) insertAgent(ctx context.Context, agent domain.Agent) error {
	if r.db == nil {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO agents (
			id, tenant_id, user_id, hardware_fingerprint, device_name, os_info, version,
			status, last_heartbeat, registered_via_key_id, registered_via_token_id, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		agent.ID, agent.TenantID, agent.UserID, agent.HardwareFingerprint, agent.DeviceName,
		agent.OSInfo, agent.Version, agent.Status, agent.LastHeartbeat,
		agent.RegisteredViaKeyID, agent.RegisteredViaTokenID, agent.CreatedAt,
	)
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, "insert agent", err)
	}
	return nil
}

// RegisterWithAPIKey validates the presented API key, checks the device
// admission quota, and inserts a new Agent row (spec §4.3 step sequence).
func (r *Registry) RegisterWithAPIKey(ctx context.Context, tenantID uuid.UUID, req domain.RegisterWithAPIKeyRequest) (*domain.Agent, error) {
	key, err := r.credentials.ValidateAPIKey(ctx, req.RenderedAPIKey)
	if err != nil {
		return nil, err
	}

	decision, err := r.subscriptions.CanRegisterDevice(ctx, key.UserID)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return nil, apperr.New(apperr.KindLimitExceeded, decision.Reason)
	}

	if err := validateRegistration(req.DeviceName, req.HardwareFingerprint, req.Version); err != nil {
		return nil, err
	}

	taken, err := r.fingerprintTaken(ctx, req.HardwareFingerprint)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, apperr.New(apperr.KindConflict, "hardware_fingerprint already registered")
	}

	now := time.Now().UTC()
	agent := domain.Agent{
		ID:                  uuid.New(),
		TenantID:            tenantID,
		UserID:              key.UserID,
		HardwareFingerprint: req.HardwareFingerprint,
		DeviceName:          req.DeviceName,
		OSInfo:              req.OSInfo,
		Version:             req.Version,
		Status:              domain.AgentStatusOnline,
		LastHeartbeat:       &now,
		RegisteredViaKeyID:  &key.ID,
		CreatedAt:           now,
	}
	if err := r.insertAgent(ctx, agent); err != nil {
		return nil, err
	}
	if err := r.subscriptions.IncrementDevices(ctx, key.UserID); err != nil {
		r.logger.Warn().Err(err).Str("agent_id", agent.ID.String()).Msg("failed to increment device usage counter")
	}

	return &agent, nil
}

// RegisterWithToken is the registration-token analogue of
// RegisterWithAPIKey; device_name comes from the token, not the request.
func (r *Registry) RegisterWithToken(ctx context.Context, tenantID uuid.UUID, req domain.RegisterWithTokenRequest) (*domain.Agent, error) {
	tok, err := r.credentials.ValidateAndConsumeToken(ctx, req.RenderedToken)
	if err != nil {
		return nil, err
	}

	decision, err := r.subscriptions.CanRegisterDevice(ctx, tok.UserID)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return nil, apperr.New(apperr.KindLimitExceeded, decision.Reason)
	}

	if err := validateRegistration(tok.DeviceName, req.HardwareFingerprint, req.Version); err != nil {
		return nil, err
	}

	taken, err := r.fingerprintTaken(ctx, req.HardwareFingerprint)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, apperr.New(apperr.KindConflict, "hardware_fingerprint already registered")
	}

	now := time.Now().UTC()
	agent := domain.Agent{
		ID:                   uuid.New(),
		TenantID:             tenantID,
		UserID:               tok.UserID,
		HardwareFingerprint:  req.HardwareFingerprint,
		DeviceName:           tok.DeviceName,
		OSInfo:               req.OSInfo,
		Version:              req.Version,
		Status:               domain.AgentStatusOnline,
		LastHeartbeat:        &now,
		RegisteredViaTokenID: &tok.ID,
		CreatedAt:            now,
	}
	if err := r.insertAgent(ctx, agent); err != nil {
		return nil, err
	}
	if err := r.subscriptions.IncrementDevices(ctx, tok.UserID); err != nil {
		r.logger.Warn().Err(err).Str("agent_id", agent.ID.String()).Msg("failed to increment device usage counter")
	}

	return &agent, nil
}

// UpdateHeartbeat records an agent's self-reported status and refreshes
// last_heartbeat. Fails with AgentNotFound if the row doesn't exist.
func (r *Registry) UpdateHeartbeat(ctx context.Context, agentID uuid.UUID, status domain.AgentStatus) error {
	if r.db == nil {
		return nil
	}
	result, err := r.db.ExecContext(ctx,
		`UPDATE agents SET status = $1, last_heartbeat = NOW() WHERE id = $2`,
		status, agentID,
	)
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, "update heartbeat", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, "check heartbeat update", err)
	}
	if rows == 0 {
		return apperr.ErrAgentNotFound
	}
	return nil
}

const agentColumns = `id, tenant_id, user_id, hardware_fingerprint, device_name, os_info, version,
	status, last_heartbeat, registered_via_key_id, registered_via_token_id, created_at`

func scanAgent(row interface {
	Scan(dest ...interface{}) error
}) (*domain.Agent, error) {
	var a domain.Agent
	var lastHeartbeat sql.NullTime
	var keyID, tokenID sql.NullString

	if err := row.Scan(
		&a.ID, &a.TenantID, &a.UserID, &a.HardwareFingerprint, &a.DeviceName, &a.OSInfo, &a.Version,
		&a.Status, &lastHeartbeat, &keyID, &tokenID, &a.CreatedAt,
	); err != nil {
		return nil, err
	}
	if lastHeartbeat.Valid {
		a.LastHeartbeat = &lastHeartbeat.Time
	}
	if keyID.Valid {
		id, err := uuid.Parse(keyID.String)
		if err == nil {
			a.RegisteredViaKeyID = &id
		}
	}
	if tokenID.Valid {
		id, err := uuid.Parse(tokenID.String)
		if err == nil {
			a.RegisteredViaTokenID = &id
		}
	}
	return &a, nil
}

// FindByID retrieves a single agent, or nil if none exists.
func (r *Registry) FindByID(ctx context.Context, agentID uuid.UUID) (*domain.Agent, error) {
	if r.db == nil {
		return nil, nil
	}
	row := r.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = $1`, agentID)
	agent, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "query agent", err)
	}
	return agent, nil
}

// ListForUser lists every agent owned by userID, newest first.
func (r *Registry) ListForUser(ctx context.Context, userID uuid.UUID) ([]domain.Agent, error) {
	return r.list(ctx, `SELECT `+agentColumns+` FROM agents WHERE user_id = $1 ORDER BY created_at DESC`, userID)
}

// ListForTenant lists every agent in tenantID, newest first.
func (r *Registry) ListForTenant(ctx context.Context, tenantID uuid.UUID) ([]domain.Agent, error) {
	return r.list(ctx, `SELECT `+agentColumns+` FROM agents WHERE tenant_id = $1 ORDER BY created_at DESC`, tenantID)
}

func (r *Registry) list(ctx context.Context, query string, arg uuid.UUID) ([]domain.Agent, error) {
	if r.db == nil {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "list agents", err)
	}
	defer rows.Close()

	var agents []domain.Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindTransient, "scan agent", err)
		}
		agents = append(agents, *agent)
	}
	return agents, rows.Err()
}

// MarkStaleOffline marks every agent whose last_heartbeat predates cutoff
// as Offline. Invoked by the Pipeline Supervisor's periodic sweep (spec
// §4.3 status policy: the registry itself does not run a timer).
func (r *Registry) MarkStaleOffline(ctx context.Context, cutoff time.Time) (int64, error) {
	if r.db == nil {
		return 0, nil
	}
	result, err := r.db.ExecContext(ctx, `
		UPDATE agents SET status = $1
		WHERE status != $1 AND (last_heartbeat IS NULL OR last_heartbeat < $2)`,
		domain.AgentStatusOffline, cutoff,
	)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindTransient, "mark stale agents offline", err)
	}
	return result.RowsAffected()
}

// TenantOf resolves an agent to its owning tenant, used by the
// correlation engine to shard per-tenant window state and rule
// selection (spec §4.8).
func (r *Registry) TenantOf(ctx context.Context, agentID uuid.UUID) (uuid.UUID, error) {
	agent, err := r.FindByID(ctx, agentID)
	if err != nil {
		return uuid.Nil, err
	}
	if agent == nil {
		return uuid.Nil, apperr.ErrAgentNotFound
	}
	return agent.TenantID, nil
}

// AgentContext is the read-only projection C6 uses for enrichment.
type AgentContext struct {
	AgentName     string     `json:"agent_name"`
	AgentVersion  string     `json:"agent_version"`
	SystemInfo    string     `json:"system_info"`
	LastSeen      *time.Time `json:"last_seen,omitempty"`
	HealthStatus  domain.AgentStatus `json:"health_status"`
}

// Context returns the enrichment projection for an agent, or nil if it
// does not exist (enrichment degrades gracefully in that case).
func (r *Registry) Context(ctx context.Context, agentID uuid.UUID) (*AgentContext, error) {
	agent, err := r.FindByID(ctx, agentID)
	if err != nil || agent == nil {
		return nil, err
	}
	return &AgentContext{
		AgentName:    agent.DeviceName,
		AgentVersion: agent.Version,
		SystemInfo:   agent.OSInfo,
		LastSeen:     agent.LastHeartbeat,
		HealthStatus: agent.Status,
	}, nil
}
