package httprouter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/sentrygrid/coreplane/internal/handler"
	"github.com/sentrygrid/coreplane/internal/middleware"
	"github.com/sentrygrid/coreplane/internal/transport"
)

type stubAuthStore struct{}

func (stubAuthStore) ValidateAPIKey(ctx context.Context, apiKey string) (*middleware.AuthInfo, error) {
	return &middleware.AuthInfo{UserID: uuid.New(), TenantID: uuid.New()}, nil
}

type stubSessionStore struct{}

func (stubSessionStore) VerifySession(ctx context.Context, token string) (uuid.UUID, error) {
	return uuid.New(), nil
}

type stubRateLimiter struct{}

func (stubRateLimiter) Allow(ctx context.Context, key string, limit int) (bool, int, int, error) {
	return true, limit, 60, nil
}

func newTestRouter() http.Handler {
	handlers := Handlers{
		Health:      handler.NewHealthHandler(),
		Auth:        nil,
		Agent:       nil,
		Event:       nil,
		Alert:       nil,
		Rule:        nil,
		Pipeline:    nil,
		WSAgent:     &transport.AgentHandler{},
		WSDashboard: &transport.DashboardHandler{},
	}
	stores := Stores{
		Auth:    stubAuthStore{},
		Session: stubSessionStore{},
		Limiter: stubRateLimiter{},
	}
	return New(handlers, stores, zerolog.Nop())
}

func TestHealthRouteIsUnauthenticated(t *testing.T) {
	r := newTestRouter()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyRouteIsUnauthenticated(t *testing.T) {
	r := newTestRouter()
	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec := httptest.NewRecorder()

	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDashboardRouteRejectsMissingSessionToken(t *testing.T) {
	r := newTestRouter()
	req := httptest.NewRequest(http.MethodGet, "/threats/alerts", nil)
	rec := httptest.NewRecorder()

	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
