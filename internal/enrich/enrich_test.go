package enrich

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentrygrid/coreplane/internal/domain"
	"github.com/sentrygrid/coreplane/internal/registry"
)

func newTestEnricher() *Enricher {
	return New(registry.New(nil, zerolog.Nop(), nil, nil))
}

func TestEnrichAddsInternalGeoLocationForRFC1918(t *testing.T) {
	e := newTestEnricher()
	req := &domain.SecurityEventRequest{
		EventType: "process_creation",
		Severity:  domain.SeverityMedium,
		SourceIP:  "10.0.0.5",
	}
	e.Enrich(context.Background(), uuid.New(), req)

	enrichment := req.EventData["enrichment"].(map[string]interface{})
	assert.Equal(t, "Internal Network", enrichment["geo_location"])
}

func TestEnrichAddsExternalGeoLocationForPublicIP(t *testing.T) {
	e := newTestEnricher()
	req := &domain.SecurityEventRequest{
		EventType: "network_connection",
		Severity:  domain.SeverityLow,
		SourceIP:  "203.0.113.5",
	}
	e.Enrich(context.Background(), uuid.New(), req)

	enrichment := req.EventData["enrichment"].(map[string]interface{})
	assert.Equal(t, "External", enrichment["geo_location"])
}

func TestEnrichOmitsGeoLocationWithoutSourceIP(t *testing.T) {
	e := newTestEnricher()
	req := &domain.SecurityEventRequest{EventType: "process_creation", Severity: domain.SeverityLow}
	e.Enrich(context.Background(), uuid.New(), req)

	enrichment := req.EventData["enrichment"].(map[string]interface{})
	_, present := enrichment["geo_location"]
	assert.False(t, present)
}

func TestEnrichMatchesKnownThreatPattern(t *testing.T) {
	e := newTestEnricher()
	req := &domain.SecurityEventRequest{
		EventType:   "process_creation",
		Severity:    domain.SeverityHigh,
		ProcessName: "powershell.exe",
		EventData:   map[string]interface{}{"command_line": "-enc abc123"},
	}
	e.Enrich(context.Background(), uuid.New(), req)

	enrichment := req.EventData["enrichment"].(map[string]interface{})
	require.Contains(t, enrichment, "threat_intelligence")
	intel := enrichment["threat_intelligence"].(map[string]interface{})
	assert.Equal(t, false, intel["known_malware"])
}

func TestEnrichRiskScoreCapsAtOne(t *testing.T) {
	e := newTestEnricher()
	req := &domain.SecurityEventRequest{
		EventType: "registry_modification",
		Severity:  domain.SeverityCritical,
	}
	e.Enrich(context.Background(), uuid.New(), req)

	enrichment := req.EventData["enrichment"].(map[string]interface{})
	assert.LessOrEqual(t, enrichment["risk_score"].(float64), 1.0)
}

func TestEnrichNeverFailsOnNilEventData(t *testing.T) {
	e := newTestEnricher()
	req := &domain.SecurityEventRequest{EventType: "process_creation", Severity: domain.SeverityLow}
	assert.NotPanics(t, func() {
		e.Enrich(context.Background(), uuid.New(), req)
	})
}
