package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sentrygrid/coreplane/internal/apperr"
	"github.com/sentrygrid/coreplane/internal/credential"
	"github.com/sentrygrid/coreplane/internal/domain"
	"github.com/sentrygrid/coreplane/internal/middleware"
	"github.com/sentrygrid/coreplane/internal/repository"
	"github.com/sentrygrid/coreplane/internal/session"
)

// AuthHandler implements spec §6's /auth/* surface: registration, login,
// password change, and the authenticated caller's own profile. It also
// exposes the credential store's key/token issuance (spec §4.1), which
// spec §6 otherwise leaves no HTTP entry point for.
type AuthHandler struct {
	users       *repository.UserRepository
	credentials *credential.Store
	sessions    *session.Issuer
	logger      zerolog.Logger
}

// NewAuthHandler creates an auth handler.
func NewAuthHandler(users *repository.UserRepository, credentials *credential.Store, sessions *session.Issuer, logger zerolog.Logger) *AuthHandler {
	return &AuthHandler{users: users, credentials: credentials, sessions: sessions, logger: logger}
}

type registerRequest struct {
	TenantName string `json:"tenant_name"`
	Username   string `json:"username"`
	Email      string `json:"email"`
	Password   string `json:"password"`
}

type registerResponse struct {
	User         domain.User `json:"user"`
	SessionToken string      `json:"session_token"`
}

// Register handles POST /auth/register: creates a tenant and its first
// user, then issues a dashboard session token so the new user is
// immediately authenticated.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "validation", "malformed request body")
		return
	}
	if req.Email == "" || req.Password == "" || req.Username == "" {
		WriteError(w, http.StatusBadRequest, "validation", "username, email and password are required")
		return
	}

	ctx := r.Context()
	taken, err := h.users.EmailTaken(ctx, req.Email)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	if taken {
		WriteAppError(w, apperr.New(apperr.KindConflict, "email already registered"))
		return
	}

	passwordHash, err := h.credentials.HashPassword(req.Password, 0)
	if err != nil {
		WriteAppError(w, apperr.Wrap(apperr.KindValidation, "password does not meet policy", err))
		return
	}

	tenantName := req.TenantName
	if tenantName == "" {
		tenantName = req.Username
	}

	now := time.Now().UTC()
	tenant := &domain.Tenant{ID: uuid.New(), Name: tenantName, PlanTier: "free", CreatedAt: now}
	if err := h.users.CreateTenant(ctx, tenant); err != nil {
		WriteAppError(w, err)
		return
	}

	user := &domain.User{
		ID:           uuid.New(),
		TenantID:     tenant.ID,
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: passwordHash,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := h.users.CreateUser(ctx, user); err != nil {
		WriteAppError(w, err)
		return
	}

	WriteSuccessStatus(w, http.StatusCreated, registerResponse{
		User:         *user,
		SessionToken: h.sessions.Issue(user.ID),
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login handles POST /auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "validation", "malformed request body")
		return
	}

	user, err := h.users.FindUserByEmailAnyTenant(r.Context(), req.Email)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	// Authentication errors never reveal which check failed (spec §7): a
	// missing user and a bad password return the same response.
	if user == nil || !user.IsActive || !h.credentials.VerifyPassword(user.PasswordHash, req.Password) {
		WriteAppError(w, apperr.ErrAuthentication)
		return
	}

	WriteSuccess(w, registerResponse{
		User:         *user,
		SessionToken: h.sessions.Issue(user.ID),
	})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// ChangePassword handles POST /auth/change_password (session-authenticated).
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetSessionUserID(r.Context())
	if !ok {
		WriteAppError(w, apperr.ErrAuthentication)
		return
	}

	var req changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "validation", "malformed request body")
		return
	}

	ctx := r.Context()
	user, err := h.users.GetUser(ctx, userID)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	if user == nil {
		WriteAppError(w, apperr.ErrUserNotFound)
		return
	}
	if !h.credentials.VerifyPassword(user.PasswordHash, req.CurrentPassword) {
		WriteAppError(w, apperr.ErrAuthentication)
		return
	}

	newHash, err := h.credentials.HashPassword(req.NewPassword, 0)
	if err != nil {
		WriteAppError(w, apperr.Wrap(apperr.KindValidation, "password does not meet policy", err))
		return
	}

	user.PasswordHash = newHash
	user.UpdatedAt = time.Now().UTC()
	if err := h.users.UpdateUser(ctx, user); err != nil {
		WriteAppError(w, err)
		return
	}
	WriteSuccess(w, map[string]string{"status": "password updated"})
}

// Me handles GET /auth/me (session-authenticated).
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetSessionUserID(r.Context())
	if !ok {
		WriteAppError(w, apperr.ErrAuthentication)
		return
	}

	user, err := h.users.GetUser(r.Context(), userID)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	if user == nil {
		WriteAppError(w, apperr.ErrUserNotFound)
		return
	}
	WriteSuccess(w, user)
}

// CreateAPIKey handles POST /auth/api-keys (session-authenticated): issues
// a device-registration API key for the caller, the credential the caller
// then hands to an agent for /agents/register.
func (h *AuthHandler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetSessionUserID(r.Context())
	if !ok {
		WriteAppError(w, apperr.ErrAuthentication)
		return
	}

	var req struct {
		ExpiresInDays int `json:"expires_in_days"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	var expiresAt *time.Time
	if req.ExpiresInDays > 0 {
		t := time.Now().UTC().AddDate(0, 0, req.ExpiresInDays)
		expiresAt = &t
	}

	issued, err := h.credentials.CreateAPIKey(r.Context(), userID, expiresAt)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteSuccessStatus(w, http.StatusCreated, issued)
}

// CreateRegistrationToken handles POST /auth/registration-tokens, the
// single-use device-pairing token alternative to an API key.
func (h *AuthHandler) CreateRegistrationToken(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetSessionUserID(r.Context())
	if !ok {
		WriteAppError(w, apperr.ErrAuthentication)
		return
	}

	var req struct {
		DeviceName string `json:"device_name"`
		TTLHours   int    `json:"ttl_hours"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "validation", "malformed request body")
		return
	}

	ttl := 24 * time.Hour
	if req.TTLHours > 0 {
		ttl = time.Duration(req.TTLHours) * time.Hour
	}

	issued, err := h.credentials.CreateRegistrationToken(r.Context(), userID, req.DeviceName, ttl)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteSuccessStatus(w, http.StatusCreated, issued)
}
