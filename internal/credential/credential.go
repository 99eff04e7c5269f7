// Package credential implements API key and registration token issuance
// and validation for agent enrollment (spec §4.1).
package credential

import (
	"context"
	cryptoRand "crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/base32"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/sentrygrid/coreplane/internal/apperr"
	"github.com/sentrygrid/coreplane/internal/domain"
)

// Store issues and validates API keys and registration tokens, and
// manages user password hashes (spec §4.1).
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
	policy domain.PasswordPolicy
}

// New creates a credential store backed by Postgres.
func New(db *sql.DB, logger zerolog.Logger, policy domain.PasswordPolicy) *Store {
	return &Store{db: db, logger: logger, policy: policy}
}

var base32Encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// generateSecret returns a cryptographically random, URL-safe token of n
// random bytes rendered as unpadded uppercase base32.
func generateSecret(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := cryptoRand.Read(buf); err != nil {
		return "", err
	}
	return base32Encoding.EncodeToString(buf), nil
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// CreateAPIKey mints a new API key of the form sg_<prefix6>_<random20>,
// where prefix6 is the first 6 hex characters of the key's own id, stores
// only its SHA-256 hash, and returns the rendered key exactly once (spec
// §4.1, invariant: the raw key is never persisted).
func (s *Store) CreateAPIKey(ctx context.Context, userID uuid.UUID, expiresAt *time.Time) (*domain.IssuedAPIKey, error) {
	keyID := uuid.New()
	prefix := "sg_" + hex.EncodeToString(keyID[:3])
	secret, err := generateSecret(20)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindFatal, "generate key secret", err)
	}

	rendered := fmt.Sprintf("%s_%s", prefix, secret)
	keyHash := hashToken(rendered)

	key := domain.APIKey{
		ID:        keyID,
		UserID:    userID,
		KeyHash:   keyHash,
		KeyPrefix: prefix,
		IsActive:  true,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now().UTC(),
	}

	if s.db != nil {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO api_keys (id, user_id, key_hash, key_prefix, is_active, expires_at, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			key.ID, key.UserID, key.KeyHash, key.KeyPrefix, key.IsActive, key.ExpiresAt, key.CreatedAt,
		)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindTransient, "insert api key", err)
		}
	}

	return &domain.IssuedAPIKey{APIKey: key, RenderedKey: rendered}, nil
}

// ValidateAPIKey parses the rendered key into its sg_<prefix6>_<random20>
// parts, looks the row up by key_prefix with is_active=true, and
// constant-time-compares the presented key's hash against the stored hash,
// rejecting expired keys (spec §4.1).
func (s *Store) ValidateAPIKey(ctx context.Context, rendered string) (*domain.APIKey, error) {
	if s.db == nil {
		return nil, apperr.New(apperr.KindAuthentication, "no credential store configured")
	}
	parts := strings.SplitN(rendered, "_", 3)
	if len(parts) != 3 || parts[0] != "sg" {
		return nil, apperr.ErrAuthentication
	}
	prefix := parts[0] + "_" + parts[1]
	keyHash := hashToken(rendered)

	var key domain.APIKey
	var expiresAt, lastUsedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, key_hash, key_prefix, is_active, expires_at, last_used_at, usage_count, created_at
		FROM api_keys WHERE key_prefix = $1 AND is_active = true`, prefix,
	).Scan(&key.ID, &key.UserID, &key.KeyHash, &key.KeyPrefix, &key.IsActive, &expiresAt, &lastUsedAt, &key.UsageCount, &key.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, apperr.ErrAuthentication
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "query api key", err)
	}

	// Constant-time compare against the hash of the row is_active already
	// filtered to, purely to avoid branching on a timing-observable
	// condition before the expiry check below.
	if subtle.ConstantTimeCompare([]byte(key.KeyHash), []byte(keyHash)) != 1 {
		return nil, apperr.ErrAuthentication
	}
	if expiresAt.Valid {
		key.ExpiresAt = &expiresAt.Time
		if time.Now().After(expiresAt.Time) {
			return nil, apperr.New(apperr.KindAuthentication, "api key expired")
		}
	}
	if lastUsedAt.Valid {
		key.LastUsedAt = &lastUsedAt.Time
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), usage_count = usage_count + 1 WHERE id = $1`, key.ID,
	); err != nil {
		s.logger.Warn().Err(err).Str("key_id", key.ID.String()).Msg("failed to record api key usage")
	}

	return &key, nil
}

// RevokeAPIKey marks a key inactive. Idempotent: revoking an already
// revoked key is not an error.
func (s *Store) RevokeAPIKey(ctx context.Context, keyID uuid.UUID) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `UPDATE api_keys SET is_active = false WHERE id = $1`, keyID)
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, "revoke api key", err)
	}
	return nil
}

// CreateRegistrationToken mints a single-use device enrollment token
// (spec §4.1).
func (s *Store) CreateRegistrationToken(ctx context.Context, userID uuid.UUID, deviceName string, ttl time.Duration) (*domain.IssuedRegistrationToken, error) {
	secret, err := generateSecret(32)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindFatal, "generate registration token", err)
	}
	rendered := "rt_" + secret
	tokenHash := hashToken(rendered)

	tok := domain.RegistrationToken{
		ID:         uuid.New(),
		UserID:     userID,
		TokenHash:  tokenHash,
		DeviceName: deviceName,
		ExpiresAt:  time.Now().Add(ttl),
		CreatedAt:  time.Now().UTC(),
	}

	if s.db != nil {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO registration_tokens (id, user_id, token_hash, device_name, expires_at, is_used, created_at)
			VALUES ($1, $2, $3, $4, $5, false, $6)`,
			tok.ID, tok.UserID, tok.TokenHash, tok.DeviceName, tok.ExpiresAt, tok.CreatedAt,
		)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindTransient, "insert registration token", err)
		}
	}

	return &domain.IssuedRegistrationToken{RegistrationToken: tok, RenderedToken: rendered}, nil
}

// PeekRegistrationToken resolves a registration token's owning user without
// consuming it, used by the registration HTTP handler to resolve a tenant
// before the token is destructively consumed inside Registry.RegisterWithToken.
func (s *Store) PeekRegistrationToken(ctx context.Context, rendered string) (*domain.RegistrationToken, error) {
	if s.db == nil {
		return nil, apperr.New(apperr.KindAuthentication, "no credential store configured")
	}
	tokenHash := hashToken(rendered)

	var tok domain.RegistrationToken
	var usedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, token_hash, device_name, expires_at, is_used, used_at, created_at
		FROM registration_tokens WHERE token_hash = $1 AND is_used = false AND expires_at > NOW()`, tokenHash,
	).Scan(&tok.ID, &tok.UserID, &tok.TokenHash, &tok.DeviceName, &tok.ExpiresAt, &tok.IsUsed, &usedAt, &tok.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, apperr.New(apperr.KindAuthentication, "registration token invalid, used, or expired")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "query registration token", err)
	}
	return &tok, nil
}

// ValidateAndConsumeToken atomically marks a registration token used and
// returns it, so two concurrent enrollments racing on the same token can
// never both succeed (spec §4.1, invariant 2).
func (s *Store) ValidateAndConsumeToken(ctx context.Context, rendered string) (*domain.RegistrationToken, error) {
	if s.db == nil {
		return nil, apperr.New(apperr.KindAuthentication, "no credential store configured")
	}
	tokenHash := hashToken(rendered)

	result, err := s.db.ExecContext(ctx, `
		UPDATE registration_tokens
		SET is_used = true, used_at = NOW()
		WHERE token_hash = $1 AND is_used = false AND expires_at > NOW()`,
		tokenHash,
	)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "consume registration token", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "check consume result", err)
	}
	if rows == 0 {
		return nil, apperr.New(apperr.KindAuthentication, "registration token invalid, used, or expired")
	}

	var tok domain.RegistrationToken
	var usedAt sql.NullTime
	err = s.db.QueryRowContext(ctx, `
		SELECT id, user_id, token_hash, device_name, expires_at, is_used, used_at, created_at
		FROM registration_tokens WHERE token_hash = $1`, tokenHash,
	).Scan(&tok.ID, &tok.UserID, &tok.TokenHash, &tok.DeviceName, &tok.ExpiresAt, &tok.IsUsed, &usedAt, &tok.CreatedAt)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "reload consumed token", err)
	}
	if usedAt.Valid {
		tok.UsedAt = &usedAt.Time
	}
	return &tok, nil
}

// HashPassword hashes a user password with bcrypt at the configured cost.
func (s *Store) HashPassword(password string, cost int) (string, error) {
	if err := s.policy.Validate(password); err != nil {
		return "", apperr.Wrap(apperr.KindValidation, "password policy", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", apperr.Wrap(apperr.KindFatal, "hash password", err)
	}
	return string(hash), nil
}

// VerifyPassword compares a plaintext password against its bcrypt hash.
func (s *Store) VerifyPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
