// Package enrich implements the Event Enricher (spec §4.6): best-effort
// attachment of a geo_location, threat_intelligence, agent_context and
// risk_score to an inbound security event. No sub-step failure aborts the
// event — each produces "absent" rather than propagating an error.
package enrich

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/sentrygrid/coreplane/internal/domain"
	"github.com/sentrygrid/coreplane/internal/registry"
)

// threatPattern is one entry of the table-driven known-bad corpus.
type threatPattern struct {
	matches func(domain.SecurityEventRequest) bool
	intel   map[string]interface{}
}

// corpus seeds the initial known-bad pattern table from spec §4.6; new
// patterns are added here rather than branching in Enrich.
var corpus = []threatPattern{
	{
		matches: func(req domain.SecurityEventRequest) bool {
			if !strings.Contains(strings.ToLower(req.ProcessName), "powershell") {
				return false
			}
			_, hasCmdLine := req.EventData["command_line"]
			return hasCmdLine
		},
		intel: map[string]interface{}{
			"known_malware":     false,
			"reputation_score":  0.3,
			"threat_categories": []string{"PowerShell Execution"},
			"ioc_matches":       []string{"Suspicious PowerShell Activity"},
		},
	},
}

var eventTypeRiskBump = map[string]float64{
	"process_creation":     0.1,
	"file_modification":    0.2,
	"network_connection":   0.15,
	"registry_modification": 0.25,
}

var severityBaseRisk = map[domain.Severity]float64{
	domain.SeverityCritical: 0.9,
	domain.SeverityHigh:     0.7,
	domain.SeverityMedium:   0.5,
	domain.SeverityLow:      0.3,
}

func isRFC1918(ip string) bool {
	return strings.HasPrefix(ip, "10.") || strings.HasPrefix(ip, "172.") || strings.HasPrefix(ip, "192.168.")
}

func geoLocation(sourceIP string) (string, bool) {
	if sourceIP == "" {
		return "", false
	}
	if isRFC1918(sourceIP) {
		return "Internal Network", true
	}
	return "External", true
}

func threatIntelligence(req domain.SecurityEventRequest) (map[string]interface{}, bool) {
	for _, pattern := range corpus {
		if pattern.matches(req) {
			return pattern.intel, true
		}
	}
	return nil, false
}

func riskScore(severity domain.Severity, eventType string) float64 {
	score := severityBaseRisk[severity]
	score += eventTypeRiskBump[eventType]
	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return score
}

// Enricher attaches the enrichment object to inbound events, reading
// agent context from the registry (spec §4.6's agent_context source).
type Enricher struct {
	agents *registry.Registry
}

// New creates an Enricher backed by the agent registry.
func New(agents *registry.Registry) *Enricher {
	return &Enricher{agents: agents}
}

// Enrich mutates req.EventData in place, adding an "enrichment" object.
// Any sub-step that cannot produce a value is simply omitted — enrichment
// never fails the event.
func (e *Enricher) Enrich(ctx context.Context, agentID uuid.UUID, req *domain.SecurityEventRequest) {
	if req.EventData == nil {
		req.EventData = make(map[string]interface{})
	}

	enrichment := make(map[string]interface{})

	if loc, ok := geoLocation(req.SourceIP); ok {
		enrichment["geo_location"] = loc
	}

	if intel, ok := threatIntelligence(*req); ok {
		enrichment["threat_intelligence"] = intel
	}

	if agentCtx, err := e.agents.Context(ctx, agentID); err == nil && agentCtx != nil {
		enrichment["agent_context"] = agentCtx
	}

	enrichment["risk_score"] = riskScore(req.Severity, req.EventType)

	req.EventData["enrichment"] = enrichment
}
