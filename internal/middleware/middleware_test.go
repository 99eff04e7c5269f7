package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAuthStore struct {
	info *AuthInfo
	err  error
}

func (s *stubAuthStore) ValidateAPIKey(ctx context.Context, apiKey string) (*AuthInfo, error) {
	return s.info, s.err
}

type stubSessionStore struct {
	userID uuid.UUID
	err    error
}

func (s *stubSessionStore) VerifySession(ctx context.Context, token string) (uuid.UUID, error) {
	return s.userID, s.err
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthRejectsMissingHeader(t *testing.T) {
	mw := Auth(&stubAuthStore{}, zerolog.Nop())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()

	mw(okHandler()).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthRejectsInvalidKey(t *testing.T) {
	mw := Auth(&stubAuthStore{err: assert.AnError}, zerolog.Nop())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer sg_bad")
	rec := httptest.NewRecorder()

	mw(okHandler()).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthPassesAuthInfoThrough(t *testing.T) {
	info := &AuthInfo{UserID: uuid.New(), TenantID: uuid.New()}
	mw := Auth(&stubAuthStore{info: info}, zerolog.Nop())

	var gotInfo *AuthInfo
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotInfo = GetAuthInfo(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer sg_good")
	rec := httptest.NewRecorder()

	mw(next).ServeHTTP(rec, req)
	require.NotNil(t, gotInfo)
	assert.Equal(t, info.UserID, gotInfo.UserID)
}

func TestSessionAuthRejectsInvalidToken(t *testing.T) {
	mw := SessionAuth(&stubSessionStore{err: assert.AnError}, zerolog.Nop())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer badtoken")
	rec := httptest.NewRecorder()

	mw(okHandler()).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSessionAuthPassesUserIDThrough(t *testing.T) {
	userID := uuid.New()
	mw := SessionAuth(&stubSessionStore{userID: userID}, zerolog.Nop())

	var gotID uuid.UUID
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID, _ = GetSessionUserID(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer goodtoken")
	rec := httptest.NewRecorder()

	mw(next).ServeHTTP(rec, req)
	assert.Equal(t, userID, gotID)
}

type stubRateLimiter struct {
	allowed   bool
	remaining int
	reset     int
	err       error
}

func (s *stubRateLimiter) Allow(ctx context.Context, key string, limit int) (bool, int, int, error) {
	return s.allowed, s.remaining, s.reset, s.err
}

func TestRateLimitSkipsWithoutAuthInfo(t *testing.T) {
	mw := RateLimit(&stubRateLimiter{allowed: false}, zerolog.Nop())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()

	mw(okHandler()).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, "no auth info means rate limiting is skipped")
}

func TestRateLimitRejectsWhenOverLimit(t *testing.T) {
	mw := RateLimit(&stubRateLimiter{allowed: false, reset: 30}, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	ctx := context.WithValue(req.Context(), AuthInfoKey, &AuthInfo{TenantID: uuid.New(), APIKeyID: uuid.New()})
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()

	mw(okHandler()).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))
}

func TestRateLimitAllowsUnderLimit(t *testing.T) {
	mw := RateLimit(&stubRateLimiter{allowed: true, remaining: 5}, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	ctx := context.WithValue(req.Context(), AuthInfoKey, &AuthInfo{TenantID: uuid.New(), APIKeyID: uuid.New()})
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()

	mw(okHandler()).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "5", rec.Header().Get("X-RateLimit-Remaining"))
}

func TestRecovererCatchesPanic(t *testing.T) {
	mw := Recoverer(zerolog.Nop())
	panics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()

	assert.NotPanics(t, func() {
		mw(panics).ServeHTTP(rec, req)
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestLoggerPassesRequestThrough(t *testing.T) {
	mw := Logger(zerolog.Nop())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()

	mw(okHandler()).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
