package correlation

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentrygrid/coreplane/internal/domain"
)

func newTestEngine(t *testing.T, tenantID uuid.UUID) *Engine {
	t.Helper()
	e, err := New(nil, zerolog.Nop(), Config{WindowDuration: time.Hour, RuleReloadPeriod: time.Hour}, func(ctx context.Context, agentID uuid.UUID) (uuid.UUID, error) {
		return tenantID, nil
	})
	require.NoError(t, err)
	return e
}

func TestObserveThresholdRuleFiresAtCount(t *testing.T) {
	tenantID := uuid.New()
	e := newTestEngine(t, tenantID)
	e.rules = []domain.DetectionRule{{
		ID: uuid.New(), TenantID: tenantID, RuleType: domain.RuleTypeThreshold,
		Severity: domain.SeverityHigh, Enabled: true,
		Conditions: map[string]interface{}{"event_type": "failed_login", "threshold": float64(3)},
	}}

	agentID := uuid.New()
	for i := 0; i < 2; i++ {
		alerts := e.Observe(context.Background(), domain.SecurityEvent{ID: uuid.New(), AgentID: agentID, EventType: "failed_login", Severity: domain.SeverityLow})
		assert.Empty(t, alerts, "must not fire before threshold is reached")
	}

	alerts := e.Observe(context.Background(), domain.SecurityEvent{ID: uuid.New(), AgentID: agentID, EventType: "failed_login", Severity: domain.SeverityLow})
	require.Len(t, alerts, 1)
	assert.Equal(t, domain.SeverityHigh, alerts[0].Severity)
}

func TestObserveThresholdRuleIgnoresOtherEventTypes(t *testing.T) {
	tenantID := uuid.New()
	e := newTestEngine(t, tenantID)
	e.rules = []domain.DetectionRule{{
		ID: uuid.New(), TenantID: tenantID, RuleType: domain.RuleTypeThreshold,
		Severity: domain.SeverityHigh, Enabled: true,
		Conditions: map[string]interface{}{"event_type": "failed_login", "threshold": float64(1)},
	}}

	alerts := e.Observe(context.Background(), domain.SecurityEvent{ID: uuid.New(), AgentID: uuid.New(), EventType: "file_modification"})
	assert.Empty(t, alerts)
}

func TestObserveSequenceRuleRequiresOrderedSteps(t *testing.T) {
	tenantID := uuid.New()
	e := newTestEngine(t, tenantID)
	e.rules = []domain.DetectionRule{{
		ID: uuid.New(), TenantID: tenantID, RuleType: domain.RuleTypeSequence,
		Severity: domain.SeverityCritical, Enabled: true,
		Conditions: map[string]interface{}{"pattern": []interface{}{"recon", "exploit", "exfil"}},
	}}

	agentID := uuid.New()
	assert.Empty(t, e.Observe(context.Background(), domain.SecurityEvent{ID: uuid.New(), AgentID: agentID, EventType: "recon"}))
	assert.Empty(t, e.Observe(context.Background(), domain.SecurityEvent{ID: uuid.New(), AgentID: agentID, EventType: "exploit"}))
	alerts := e.Observe(context.Background(), domain.SecurityEvent{ID: uuid.New(), AgentID: agentID, EventType: "exfil"})
	require.Len(t, alerts, 1)
}

func TestObserveCrossAgentRuleRequiresMinAgents(t *testing.T) {
	tenantID := uuid.New()
	e := newTestEngine(t, tenantID)
	e.rules = []domain.DetectionRule{{
		ID: uuid.New(), TenantID: tenantID, RuleType: domain.RuleTypeCrossAgent,
		Severity: domain.SeverityMedium, Enabled: true,
		Conditions: map[string]interface{}{"event_type": "lateral_movement", "min_agents": float64(2)},
	}}

	assert.Empty(t, e.Observe(context.Background(), domain.SecurityEvent{ID: uuid.New(), AgentID: uuid.New(), EventType: "lateral_movement"}))
	alerts := e.Observe(context.Background(), domain.SecurityEvent{ID: uuid.New(), AgentID: uuid.New(), EventType: "lateral_movement"})
	require.Len(t, alerts, 1)
	assert.Len(t, alerts[0].AffectedAgents, 2)
}

func TestObserveSkipsRulesFromOtherTenants(t *testing.T) {
	tenantID := uuid.New()
	e := newTestEngine(t, tenantID)
	e.rules = []domain.DetectionRule{{
		ID: uuid.New(), TenantID: uuid.New(), RuleType: domain.RuleTypeThreshold,
		Severity: domain.SeverityHigh, Enabled: true,
		Conditions: map[string]interface{}{"threshold": float64(1)},
	}}

	alerts := e.Observe(context.Background(), domain.SecurityEvent{ID: uuid.New(), AgentID: uuid.New(), EventType: "anything"})
	assert.Empty(t, alerts)
}

func TestPruneDropsExpiredHits(t *testing.T) {
	now := time.Now()
	hits := []time.Time{now.Add(-2 * time.Hour), now.Add(-time.Minute), now}
	kept := prune(hits, now.Add(-time.Hour))
	assert.Len(t, kept, 2)
}

func TestSequenceCompleteRequiresNonDecreasingSteps(t *testing.T) {
	assert.True(t, sequenceComplete([]sequenceHit{{step: 0}, {step: 1}, {step: 2}}, 3))
	assert.False(t, sequenceComplete([]sequenceHit{{step: 0}, {step: 0}}, 3))
}

func TestDecodeJSONObjectToleratesEmptyAndMalformed(t *testing.T) {
	assert.Empty(t, decodeJSONObject(nil))
	assert.Empty(t, decodeJSONObject([]byte("not json")))

	out := decodeJSONObject([]byte(`{"a":1}`))
	assert.Equal(t, float64(1), out["a"])
}
