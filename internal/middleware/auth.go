// Package middleware provides HTTP middleware for the event and control
// plane: authentication, rate limiting, logging, and panic recovery.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sentrygrid/coreplane/internal/handler"
)

// AuthInfo identifies the caller behind a validated API key, resolved
// from internal/credential.Store and internal/repository.UserRepository.
type AuthInfo struct {
	APIKeyID uuid.UUID
	UserID   uuid.UUID
	TenantID uuid.UUID
}

type contextKey string

// AuthInfoKey is the context key under which Auth stores AuthInfo.
const AuthInfoKey contextKey = "auth_info"

// SessionInfoKey is the context key under which SessionAuth stores the
// authenticated user ID.
const SessionInfoKey contextKey = "session_user_id"

// AuthStore validates a rendered API key and resolves its owning tenant,
// implemented by a thin adapter over credential.Store + repository.UserRepository.
type AuthStore interface {
	ValidateAPIKey(ctx context.Context, apiKey string) (*AuthInfo, error)
}

// SessionStore validates a dashboard session token and confirms the
// embedded user still exists (spec §6: "server verifies signature and
// user existence"), implemented by a thin adapter over session.Issuer +
// repository.UserRepository.
type SessionStore interface {
	VerifySession(ctx context.Context, token string) (uuid.UUID, error)
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

// Auth returns middleware that validates API keys on the Authorization
// header, used by agent-facing and device-management endpoints.
func Auth(store AuthStore, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey, ok := bearerToken(r)
			if !ok {
				handler.WriteError(w, http.StatusUnauthorized, "missing_auth", "Authorization header must be in format: Bearer <api_key>")
				return
			}

			authInfo, err := store.ValidateAPIKey(r.Context(), apiKey)
			if err != nil {
				logger.Warn().Err(err).Msg("API key validation failed")
				handler.WriteError(w, http.StatusUnauthorized, "invalid_api_key", "Invalid or expired API key")
				return
			}

			ctx := context.WithValue(r.Context(), AuthInfoKey, authInfo)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SessionAuth returns middleware that validates the signed dashboard
// session token carried by REST calls from the dashboard UI (the
// websocket handshake in internal/transport verifies it independently,
// since it has no header to carry a bearer token through).
func SessionAuth(store SessionStore, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				handler.WriteError(w, http.StatusUnauthorized, "missing_auth", "Authorization header must be in format: Bearer <session_token>")
				return
			}

			userID, err := store.VerifySession(r.Context(), token)
			if err != nil {
				logger.Warn().Err(err).Msg("session token validation failed")
				handler.WriteError(w, http.StatusUnauthorized, "invalid_session", "Invalid or expired session")
				return
			}

			ctx := context.WithValue(r.Context(), SessionInfoKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetAuthInfo extracts API key auth info from context.
func GetAuthInfo(ctx context.Context) *AuthInfo {
	info, _ := ctx.Value(AuthInfoKey).(*AuthInfo)
	return info
}

// GetSessionUserID extracts the session-authenticated user ID from context.
func GetSessionUserID(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(SessionInfoKey).(uuid.UUID)
	return id, ok
}
