package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPagerDutyClient(srv *httptest.Server) *PagerDutyClient {
	return &PagerDutyClient{httpClient: srv.Client(), baseURL: srv.URL}
}

func TestPagerDutyTriggerAlertSendsEventAction(t *testing.T) {
	var received PagerDutyEvent
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client := newTestPagerDutyClient(srv)
	err := client.TriggerAlert(context.Background(), "routing-key", PagerDutyAlert{
		Summary:  "agent isolation failed",
		Source:   "coreplane-supervisor",
		Severity: "critical",
		DedupKey: "dedup-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "trigger", received.EventAction)
	assert.Equal(t, "dedup-1", received.DedupKey)
	assert.Equal(t, "critical", received.Payload.Severity)
}

func TestPagerDutyResolveAlertSendsResolveAction(t *testing.T) {
	var received PagerDutyEvent
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client := newTestPagerDutyClient(srv)
	require.NoError(t, client.ResolveAlert(context.Background(), "routing-key", "dedup-1"))
	assert.Equal(t, "resolve", received.EventAction)
}

func TestPagerDutySendEventReturnsErrorOnFailureStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(PagerDutyResponse{Status: "invalid event", Message: "routing key missing"})
	}))
	defer srv.Close()

	client := newTestPagerDutyClient(srv)
	err := client.TriggerAlert(context.Background(), "", PagerDutyAlert{Summary: "x"})
	assert.ErrorContains(t, err, "routing key missing")
}

func TestPagerDutyNormalizeSeverityDefaultsToWarning(t *testing.T) {
	client := NewPagerDutyClient()
	assert.Equal(t, "critical", client.normalizeSeverity("critical"))
	assert.Equal(t, "warning", client.normalizeSeverity("unknown"))
}

func TestPagerDutyTestConnectionTriggersThenResolves(t *testing.T) {
	var actions []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var event PagerDutyEvent
		require.NoError(t, json.NewDecoder(r.Body).Decode(&event))
		actions = append(actions, event.EventAction)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client := newTestPagerDutyClient(srv)
	require.NoError(t, client.TestConnection(context.Background(), "routing-key"))
	assert.Equal(t, []string{"trigger", "resolve"}, actions)
}
