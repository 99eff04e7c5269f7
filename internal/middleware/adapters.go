package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/sentrygrid/coreplane/internal/apperr"
	"github.com/sentrygrid/coreplane/internal/credential"
	"github.com/sentrygrid/coreplane/internal/repository"
	"github.com/sentrygrid/coreplane/internal/session"
)

// CredentialAuthStore adapts credential.Store and repository.UserRepository
// to the AuthStore interface Auth() depends on, resolving an API key all
// the way to the tenant it belongs to.
type CredentialAuthStore struct {
	Credentials *credential.Store
	Users       *repository.UserRepository
}

// ValidateAPIKey implements AuthStore.
func (s *CredentialAuthStore) ValidateAPIKey(ctx context.Context, apiKey string) (*AuthInfo, error) {
	key, err := s.Credentials.ValidateAPIKey(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	user, err := s.Users.GetUser(ctx, key.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperr.ErrUserNotFound
	}
	return &AuthInfo{APIKeyID: key.ID, UserID: user.ID, TenantID: user.TenantID}, nil
}

// SessionIssuerStore adapts session.Issuer and repository.UserRepository to
// the SessionStore interface SessionAuth() depends on: a session token is
// only valid if its signature checks out AND the user it names still exists
// (spec §6).
type SessionIssuerStore struct {
	Issuer *session.Issuer
	Users  *repository.UserRepository
}

// VerifySession implements SessionStore.
func (s *SessionIssuerStore) VerifySession(ctx context.Context, token string) (uuid.UUID, error) {
	userID, err := s.Issuer.Verify(token)
	if err != nil {
		return uuid.Nil, apperr.Wrap(apperr.KindAuthentication, "verify session token", err)
	}
	user, err := s.Users.GetUser(ctx, userID)
	if err != nil {
		return uuid.Nil, err
	}
	if user == nil || !user.IsActive {
		return uuid.Nil, apperr.ErrAuthentication
	}
	return userID, nil
}
