package handler

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentrygrid/coreplane/internal/credential"
	"github.com/sentrygrid/coreplane/internal/domain"
	"github.com/sentrygrid/coreplane/internal/middleware"
	"github.com/sentrygrid/coreplane/internal/registry"
	"github.com/sentrygrid/coreplane/internal/repository"
	"github.com/sentrygrid/coreplane/internal/subscription"
)

func newTestEventHandler(t *testing.T) (*EventHandler, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	creds := credential.New(db, zerolog.Nop(), domain.DefaultPasswordPolicy)
	subs := subscription.New(db, zerolog.Nop())
	reg := registry.New(db, zerolog.Nop(), creds, subs)
	events := repository.NewEventRepository(db)

	return NewEventHandler(reg, nil, nil, events, zerolog.Nop()), mock
}

func withChiParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestEventSubmitRequiresAuth(t *testing.T) {
	h, _ := newTestEventHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/threats/events", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()

	h.Submit(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestEventSubmitRejectsEmptyEvents(t *testing.T) {
	h, _ := newTestEventHandler(t)
	ctx := context.WithValue(context.Background(), middleware.AuthInfoKey, &middleware.AuthInfo{UserID: uuid.New()})
	req := httptest.NewRequest(http.MethodPost, "/threats/events", bytes.NewBufferString(`{"agent_id":"`+uuid.New().String()+`","events":[]}`)).WithContext(ctx)
	rec := httptest.NewRecorder()

	h.Submit(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEventSubmitRejectsMalformedAgentID(t *testing.T) {
	h, _ := newTestEventHandler(t)
	ctx := context.WithValue(context.Background(), middleware.AuthInfoKey, &middleware.AuthInfo{UserID: uuid.New()})
	req := httptest.NewRequest(http.MethodPost, "/threats/events",
		bytes.NewBufferString(`{"agent_id":"not-a-uuid","events":[{"event_type":"x"}]}`)).WithContext(ctx)
	rec := httptest.NewRecorder()

	h.Submit(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEventSubmitRejectsUnknownAgent(t *testing.T) {
	h, mock := newTestEventHandler(t)
	agentID := uuid.New()

	mock.ExpectQuery("SELECT .* FROM agents WHERE id = \\$1").
		WithArgs(agentID).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "tenant_id", "user_id", "hardware_fingerprint", "device_name", "os_info", "version",
			"status", "last_heartbeat", "registered_via_key_id", "registered_via_token_id", "created_at",
		}))

	ctx := context.WithValue(context.Background(), middleware.AuthInfoKey, &middleware.AuthInfo{UserID: uuid.New()})
	body := `{"agent_id":"` + agentID.String() + `","events":[{"event_type":"x"}]}`
	req := httptest.NewRequest(http.MethodPost, "/threats/events", bytes.NewBufferString(body)).WithContext(ctx)
	rec := httptest.NewRecorder()

	h.Submit(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEventSubmitRejectsAgentOwnedByAnotherUser(t *testing.T) {
	h, mock := newTestEventHandler(t)
	agentID, tenantID, ownerID := uuid.New(), uuid.New(), uuid.New()
	now := time.Now()

	mock.ExpectQuery("SELECT .* FROM agents WHERE id = \\$1").
		WithArgs(agentID).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "tenant_id", "user_id", "hardware_fingerprint", "device_name", "os_info", "version",
			"status", "last_heartbeat", "registered_via_key_id", "registered_via_token_id", "created_at",
		}).AddRow(agentID, tenantID, ownerID, "fp", "laptop", "linux", "1.0", domain.AgentStatusOnline, now, nil, nil, now))

	ctx := context.WithValue(context.Background(), middleware.AuthInfoKey, &middleware.AuthInfo{UserID: uuid.New()})
	body := `{"agent_id":"` + agentID.String() + `","events":[{"event_type":"x"}]}`
	req := httptest.NewRequest(http.MethodPost, "/threats/events", bytes.NewBufferString(body)).WithContext(ctx)
	rec := httptest.NewRecorder()

	h.Submit(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestEventListForAgentRejectsMalformedID(t *testing.T) {
	h, _ := newTestEventHandler(t)
	req := withChiParam(httptest.NewRequest(http.MethodGet, "/agents/x/events", nil), "id", "not-a-uuid")
	rec := httptest.NewRecorder()

	h.ListForAgent(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEventListForAgentReturnsEvents(t *testing.T) {
	h, mock := newTestEventHandler(t)
	agentID := uuid.New()

	mock.ExpectQuery("SELECT .* FROM security_events WHERE agent_id = \\$1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "agent_id", "event_type", "severity", "title", "description", "event_data",
			"raw_data", "source_ip", "process_name", "file_path", "user_name", "occurred_at", "created_at",
		}))

	req := withChiParam(httptest.NewRequest(http.MethodGet, "/agents/"+agentID.String()+"/events", nil), "id", agentID.String())
	rec := httptest.NewRecorder()

	h.ListForAgent(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestEventListForTenantRequiresSession(t *testing.T) {
	h, _ := newTestEventHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/threats/events", nil)
	rec := httptest.NewRecorder()

	h.ListForTenant(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestEventListForTenantReturnsEmptyWithoutAgents(t *testing.T) {
	h, mock := newTestEventHandler(t)
	userID := uuid.New()

	mock.ExpectQuery("SELECT .* FROM agents WHERE user_id = \\$1").
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "tenant_id", "user_id", "hardware_fingerprint", "device_name", "os_info", "version",
			"status", "last_heartbeat", "registered_via_key_id", "registered_via_token_id", "created_at",
		}))

	ctx := context.WithValue(context.Background(), middleware.SessionInfoKey, userID)
	req := httptest.NewRequest(http.MethodGet, "/threats/events", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	h.ListForTenant(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
