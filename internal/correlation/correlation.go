// Package correlation is the stateful per-tenant sliding-window
// correlation and alert engine (spec §4.8). Windows are cardinality-capped
// via hashicorp/golang-lru/v2 (contributed to the stack by the
// r3e-network-service_layer example's dependency footprint) and rules are
// hot-reloaded on a robfig/cron/v3 schedule.
package correlation

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/google/uuid"

	"github.com/sentrygrid/coreplane/internal/domain"
)

type sequenceHit struct {
	step int
	at   time.Time
}

// tenantWindow holds the sliding-window state for one tenant. UUIDs are
// comparable arrays in this package (google/uuid.UUID is [16]byte), so
// they are used directly as map keys.
type tenantWindow struct {
	mu sync.Mutex

	thresholdHits  map[uuid.UUID][]time.Time                 // rule_id -> match timestamps
	sequenceHits   map[uuid.UUID]map[uuid.UUID][]sequenceHit // rule_id -> agent_id -> ordered step hits
	crossAgentSeen map[uuid.UUID]map[uuid.UUID]time.Time     // rule_id -> agent_id -> last seen
}

func newTenantWindow() *tenantWindow {
	return &tenantWindow{
		thresholdHits:  make(map[uuid.UUID][]time.Time),
		sequenceHits:   make(map[uuid.UUID]map[uuid.UUID][]sequenceHit),
		crossAgentSeen: make(map[uuid.UUID]map[uuid.UUID]time.Time),
	}
}

// Engine evaluates inbound security events against every enabled
// DetectionRule for the event's tenant and emits ThreatAlerts on match.
type Engine struct {
	db     *sql.DB
	logger zerolog.Logger
	window time.Duration

	windowsMu sync.Mutex
	windows   *lru.Cache[uuid.UUID, *tenantWindow] // tenant_id -> window state

	rulesMu sync.RWMutex
	rules   []domain.DetectionRule

	agentTenant func(ctx context.Context, agentID uuid.UUID) (uuid.UUID, error)

	cron *cron.Cron
}

// Config tunes the correlation engine (spec §4.8 / §2 domain stack).
type Config struct {
	WindowDuration   time.Duration
	MaxTenantWindows int
	RuleReloadPeriod time.Duration
}

// AgentTenantLookup resolves an agent to its owning tenant, used to
// shard window state and rule selection by tenant.
type AgentTenantLookup func(ctx context.Context, agentID uuid.UUID) (uuid.UUID, error)

// New constructs a correlation engine. Call Start to begin the
// periodic rule-reload sweep.
func New(db *sql.DB, logger zerolog.Logger, cfg Config, agentTenant AgentTenantLookup) (*Engine, error) {
	if cfg.WindowDuration <= 0 {
		cfg.WindowDuration = 24 * time.Hour
	}
	if cfg.MaxTenantWindows <= 0 {
		cfg.MaxTenantWindows = 4096
	}
	if cfg.RuleReloadPeriod <= 0 {
		cfg.RuleReloadPeriod = 30 * time.Second
	}

	windows, err := lru.New[uuid.UUID, *tenantWindow](cfg.MaxTenantWindows)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		db:          db,
		logger:      logger,
		window:      cfg.WindowDuration,
		windows:     windows,
		agentTenant: agentTenant,
	}

	if err := e.reloadRules(context.Background()); err != nil {
		logger.Warn().Err(err).Msg("initial detection rule load failed, starting with none")
	}

	e.cron = cron.New()
	spec := "@every " + cfg.RuleReloadPeriod.String()
	if _, err := e.cron.AddFunc(spec, func() {
		if err := e.reloadRules(context.Background()); err != nil {
			e.logger.Warn().Err(err).Msg("detection rule reload failed")
		}
	}); err != nil {
		return nil, err
	}

	return e, nil
}

// Start begins the background rule-reload cron schedule.
func (e *Engine) Start() { e.cron.Start() }

// Stop halts the rule-reload cron schedule.
func (e *Engine) Stop() { e.cron.Stop() }

func (e *Engine) reloadRules(ctx context.Context) error {
	if e.db == nil {
		return nil
	}
	rows, err := e.db.QueryContext(ctx, `
		SELECT id, tenant_id, name, rule_type, severity, conditions, actions, enabled, created_by, created_at, updated_at
		FROM detection_rules WHERE enabled = true`)
	if err != nil {
		return err
	}
	defer rows.Close()

	var rules []domain.DetectionRule
	for rows.Next() {
		var r domain.DetectionRule
		var conditions, actions []byte
		var createdBy sql.NullString
		if err := rows.Scan(&r.ID, &r.TenantID, &r.Name, &r.RuleType, &r.Severity, &conditions, &actions, &r.Enabled, &createdBy, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return err
		}
		r.Conditions = decodeJSONObject(conditions)
		r.Actions = decodeJSONObject(actions)
		if createdBy.Valid {
			if id, err := uuid.Parse(createdBy.String); err == nil {
				r.CreatedBy = &id
			}
		}
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	e.rulesMu.Lock()
	e.rules = rules
	e.rulesMu.Unlock()
	return nil
}

func (e *Engine) tenantWindowFor(tenantID uuid.UUID) *tenantWindow {
	e.windowsMu.Lock()
	defer e.windowsMu.Unlock()

	if w, ok := e.windows.Get(tenantID); ok {
		return w
	}
	w := newTenantWindow()
	e.windows.Add(tenantID, w)
	return w
}

// matchResult pairs a matching rule with the severity of its match for
// tie-break ordering.
type matchResult struct {
	rule       domain.DetectionRule
	severity   domain.Severity
	affected   []uuid.UUID
}

// Observe evaluates event against every enabled rule for its tenant and
// returns the ThreatAlerts produced. Only the top-ranked alert per
// (event, rule-group) is emitted to avoid amplification (spec §4.8).
func (e *Engine) Observe(ctx context.Context, event domain.SecurityEvent) []domain.ThreatAlert {
	tenantID, err := e.agentTenant(ctx, event.AgentID)
	if err != nil {
		e.logger.Warn().Err(err).Str("agent_id", event.AgentID.String()).Msg("correlation: could not resolve tenant, skipping")
		return nil
	}

	e.rulesMu.RLock()
	rules := make([]domain.DetectionRule, len(e.rules))
	copy(rules, e.rules)
	e.rulesMu.RUnlock()

	w := e.tenantWindowFor(tenantID)
	now := time.Now()

	var matches []matchResult
	for _, rule := range rules {
		if rule.TenantID != tenantID {
			continue
		}
		switch rule.RuleType {
		case domain.RuleTypeThreshold:
			if hit, ok := e.evaluateThreshold(w, rule, event, now); ok {
				matches = append(matches, hit)
			}
		case domain.RuleTypeSequence:
			if hit, ok := e.evaluateSequence(w, rule, event, now); ok {
				matches = append(matches, hit)
			}
		case domain.RuleTypeCrossAgent:
			if hit, ok := e.evaluateCrossAgent(w, rule, event, now); ok {
				matches = append(matches, hit)
			}
		}
	}

	if len(matches) == 0 {
		return nil
	}

	// Tie-break: (severity desc, rule_id asc); only the top match survives.
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].severity.Rank() != matches[j].severity.Rank() {
			return matches[i].severity.Rank() > matches[j].severity.Rank()
		}
		return matches[i].rule.ID.String() < matches[j].rule.ID.String()
	})
	top := matches[0]

	alert := domain.ThreatAlert{
		ID:             uuid.New(),
		EventID:        event.ID,
		RuleID:         &top.rule.ID,
		AgentID:        event.AgentID,
		AlertType:      string(top.rule.RuleType),
		Severity:       top.severity,
		Title:          top.rule.Name,
		Description:    event.Title,
		Status:         domain.AlertStatusOpen,
		CreatedAt:      now,
		UpdatedAt:      now,
		AffectedAgents: top.affected,
	}

	if e.db != nil {
		if err := e.persistAlert(ctx, alert); err != nil {
			e.logger.Error().Err(err).Msg("failed to persist threat alert")
		}
	}

	return []domain.ThreatAlert{alert}
}

func (e *Engine) persistAlert(ctx context.Context, alert domain.ThreatAlert) error {
	_, err := e.db.ExecContext(ctx, `
		INSERT INTO threat_alerts (
			id, event_id, rule_id, agent_id, alert_type, severity, title, description,
			status, created_at, updated_at, affected_agents
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		alert.ID, alert.EventID, alert.RuleID, alert.AgentID, alert.AlertType, alert.Severity,
		alert.Title, alert.Description, alert.Status, alert.CreatedAt, alert.UpdatedAt, affectedOrEmpty(alert.AffectedAgents),
	)
	return err
}

// affectedOrEmpty avoids sending a nil slice for a NOT NULL DEFAULT '{}'
// array column; pgx encodes a non-nil empty []uuid.UUID as '{}'.
func affectedOrEmpty(agents []uuid.UUID) []uuid.UUID {
	if agents == nil {
		return []uuid.UUID{}
	}
	return agents
}

// decodeJSONObject tolerates NULL/empty jsonb columns, returning an empty
// map rather than erroring so a malformed rule's conditions don't block
// the whole reload.
func decodeJSONObject(raw []byte) map[string]interface{} {
	out := make(map[string]interface{})
	if len(raw) == 0 {
		return out
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return make(map[string]interface{})
	}
	return out
}

func condString(conditions map[string]interface{}, key string) string {
	if v, ok := conditions[key].(string); ok {
		return v
	}
	return ""
}

func condFloat(conditions map[string]interface{}, key string, def float64) float64 {
	switch v := conditions[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}

// evaluateThreshold implements the "count of matching events within a
// window >= N" rule type.
func (e *Engine) evaluateThreshold(w *tenantWindow, rule domain.DetectionRule, event domain.SecurityEvent, now time.Time) (matchResult, bool) {
	wantType := condString(rule.Conditions, "event_type")
	if wantType != "" && wantType != event.EventType {
		return matchResult{}, false
	}
	threshold := int(condFloat(rule.Conditions, "threshold", 1))

	w.mu.Lock()
	defer w.mu.Unlock()

	hits := append(w.thresholdHits[rule.ID], now)
	hits = prune(hits, now.Add(-e.window))
	w.thresholdHits[rule.ID] = hits

	if len(hits) < threshold {
		return matchResult{}, false
	}
	return matchResult{rule: rule, severity: domain.MaxSeverity(rule.Severity, event.Severity)}, true
}

func prune(hits []time.Time, cutoff time.Time) []time.Time {
	kept := hits[:0]
	for _, h := range hits {
		if h.After(cutoff) {
			kept = append(kept, h)
		}
	}
	return kept
}

// evaluateSequence implements the ordered-pattern-on-one-agent rule type.
// Conditions carries "pattern": []string of event_type steps.
func (e *Engine) evaluateSequence(w *tenantWindow, rule domain.DetectionRule, event domain.SecurityEvent, now time.Time) (matchResult, bool) {
	pattern := condStringSlice(rule.Conditions, "pattern")
	if len(pattern) == 0 {
		return matchResult{}, false
	}

	stepIdx := -1
	for i, p := range pattern {
		if p == event.EventType {
			stepIdx = i
			break
		}
	}
	if stepIdx == -1 {
		return matchResult{}, false
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.sequenceHits[rule.ID] == nil {
		w.sequenceHits[rule.ID] = make(map[uuid.UUID][]sequenceHit)
	}
	hits := w.sequenceHits[rule.ID][event.AgentID]
	hits = append(hits, sequenceHit{step: stepIdx, at: now})

	cutoff := now.Add(-e.window)
	kept := hits[:0]
	for _, h := range hits {
		if h.at.After(cutoff) {
			kept = append(kept, h)
		}
	}
	hits = kept
	w.sequenceHits[rule.ID][event.AgentID] = hits

	if sequenceComplete(hits, len(pattern)) {
		return matchResult{rule: rule, severity: domain.MaxSeverity(rule.Severity, event.Severity)}, true
	}
	return matchResult{}, false
}

// sequenceComplete reports whether hits contains steps 0..n-1 in
// non-decreasing step order (a relaxed ordered-subsequence check).
func sequenceComplete(hits []sequenceHit, n int) bool {
	next := 0
	for _, h := range hits {
		if h.step == next {
			next++
			if next == n {
				return true
			}
		}
	}
	return false
}

// evaluateCrossAgent implements the pattern-observed-across->=M-agents
// rule type. Conditions carries "event_type" and "min_agents".
func (e *Engine) evaluateCrossAgent(w *tenantWindow, rule domain.DetectionRule, event domain.SecurityEvent, now time.Time) (matchResult, bool) {
	wantType := condString(rule.Conditions, "event_type")
	if wantType != "" && wantType != event.EventType {
		return matchResult{}, false
	}
	minAgents := int(condFloat(rule.Conditions, "min_agents", 2))

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.crossAgentSeen[rule.ID] == nil {
		w.crossAgentSeen[rule.ID] = make(map[uuid.UUID]time.Time)
	}
	seen := w.crossAgentSeen[rule.ID]
	seen[event.AgentID] = now

	cutoff := now.Add(-e.window)
	var affected []uuid.UUID
	for agentID, seenAt := range seen {
		if seenAt.Before(cutoff) {
			delete(seen, agentID)
			continue
		}
		affected = append(affected, agentID)
	}

	if len(affected) < minAgents {
		return matchResult{}, false
	}
	return matchResult{rule: rule, severity: domain.MaxSeverity(rule.Severity, event.Severity), affected: affected}, true
}

func condStringSlice(conditions map[string]interface{}, key string) []string {
	raw, ok := conditions[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
