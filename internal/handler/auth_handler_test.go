package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentrygrid/coreplane/internal/credential"
	"github.com/sentrygrid/coreplane/internal/domain"
	"github.com/sentrygrid/coreplane/internal/middleware"
	"github.com/sentrygrid/coreplane/internal/repository"
	"github.com/sentrygrid/coreplane/internal/session"
)

func newTestAuthHandler(t *testing.T) (*AuthHandler, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewAuthHandler(
		repository.NewUserRepository(db),
		credential.New(db, zerolog.Nop(), domain.DefaultPasswordPolicy),
		session.New([]byte("test-secret"), time.Hour),
		zerolog.Nop(),
	), mock
}

func TestRegisterRejectsMissingFields(t *testing.T) {
	h, _ := newTestAuthHandler(t)
	body := bytes.NewBufferString(`{"username":"","email":"","password":""}`)
	req := httptest.NewRequest(http.MethodPost, "/auth/register", body)
	rec := httptest.NewRecorder()

	h.Register(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegisterCreatesTenantAndUser(t *testing.T) {
	h, mock := newTestAuthHandler(t)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM users WHERE email = \\$1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec("INSERT INTO tenants").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO users").WillReturnResult(sqlmock.NewResult(1, 1))

	body := bytes.NewBufferString(`{"tenant_name":"acme","username":"alice","email":"alice@example.com","password":"correct-horse-battery-staple1"}`)
	req := httptest.NewRequest(http.MethodPost, "/auth/register", body)
	rec := httptest.NewRecorder()

	h.Register(rec, req)
	assert.Equal(t, http.StatusCreated, rec.Code)

	var envelope struct {
		Data registerResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.NotEmpty(t, envelope.Data.SessionToken)
	assert.Equal(t, "alice", envelope.Data.User.Username)
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	h, mock := newTestAuthHandler(t)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM users WHERE email = \\$1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	body := bytes.NewBufferString(`{"username":"alice","email":"alice@example.com","password":"correct-horse-battery-staple"}`)
	req := httptest.NewRequest(http.MethodPost, "/auth/register", body)
	rec := httptest.NewRecorder()

	h.Register(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestLoginRejectsUnknownEmailWithoutLeakingReason(t *testing.T) {
	h, mock := newTestAuthHandler(t)

	mock.ExpectQuery("SELECT .* FROM users WHERE email = \\$1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "username", "email", "password_hash", "is_active", "created_at", "updated_at"}))

	body := bytes.NewBufferString(`{"email":"ghost@example.com","password":"whatever"}`)
	req := httptest.NewRequest(http.MethodPost, "/auth/login", body)
	rec := httptest.NewRecorder()

	h.Login(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginSucceedsWithCorrectPassword(t *testing.T) {
	h, mock := newTestAuthHandler(t)
	cred := credential.New(nil, zerolog.Nop(), domain.DefaultPasswordPolicy)
	hash, err := cred.HashPassword("correct-horse-battery-staple1", 4)
	require.NoError(t, err)

	id, tenantID := uuid.New(), uuid.New()
	now := time.Now()
	mock.ExpectQuery("SELECT .* FROM users WHERE email = \\$1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "username", "email", "password_hash", "is_active", "created_at", "updated_at"}).
			AddRow(id, tenantID, "alice", "alice@example.com", hash, true, now, now))

	body := bytes.NewBufferString(`{"email":"alice@example.com","password":"correct-horse-battery-staple1"}`)
	req := httptest.NewRequest(http.MethodPost, "/auth/login", body)
	rec := httptest.NewRecorder()

	h.Login(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMeRequiresSessionContext(t *testing.T) {
	h, _ := newTestAuthHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	rec := httptest.NewRecorder()

	h.Me(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMeReturnsUserFromSessionContext(t *testing.T) {
	h, mock := newTestAuthHandler(t)
	userID, tenantID := uuid.New(), uuid.New()
	now := time.Now()

	mock.ExpectQuery("SELECT .* FROM users WHERE id = \\$1").
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "username", "email", "password_hash", "is_active", "created_at", "updated_at"}).
			AddRow(userID, tenantID, "alice", "alice@example.com", "hash", true, now, now))

	ctx := context.WithValue(context.Background(), middleware.SessionInfoKey, userID)
	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	h.Me(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateAPIKeyRequiresSessionContext(t *testing.T) {
	h, _ := newTestAuthHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/auth/api-keys", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()

	h.CreateAPIKey(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateAPIKeyIssuesKeyForSessionUser(t *testing.T) {
	h, mock := newTestAuthHandler(t)
	userID := uuid.New()

	mock.ExpectExec("INSERT INTO api_keys").WillReturnResult(sqlmock.NewResult(1, 1))

	ctx := context.WithValue(context.Background(), middleware.SessionInfoKey, userID)
	req := httptest.NewRequest(http.MethodPost, "/auth/api-keys", bytes.NewBufferString(`{}`)).WithContext(ctx)
	rec := httptest.NewRecorder()

	h.CreateAPIKey(rec, req)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestCreateRegistrationTokenIssuesTokenForSessionUser(t *testing.T) {
	h, mock := newTestAuthHandler(t)
	userID := uuid.New()

	mock.ExpectExec("INSERT INTO registration_tokens").WillReturnResult(sqlmock.NewResult(1, 1))

	ctx := context.WithValue(context.Background(), middleware.SessionInfoKey, userID)
	body := bytes.NewBufferString(`{"device_name":"laptop","ttl_hours":1}`)
	req := httptest.NewRequest(http.MethodPost, "/auth/registration-tokens", body).WithContext(ctx)
	rec := httptest.NewRecorder()

	h.CreateRegistrationToken(rec, req)
	assert.Equal(t, http.StatusCreated, rec.Code)
}
