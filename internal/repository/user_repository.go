// Package repository holds the Postgres-backed stores for users and
// tenants (entities outside the C1-C9 component boundary proper, spec §3)
// and for detection rules, threat alerts, agent commands and security
// events. The user store's query/scan style is grounded on the teacher's
// UserRepository (CreateUser/GetUser/GetUserByEmail/UpdateUser), adapted
// from its org/SSO/DB-session model to the tenant/user model this control
// plane uses (spec §9's dashboard session is a stateless signed token, see
// internal/session, so there is no user_sessions table to mirror here).
package repository

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/sentrygrid/coreplane/internal/apperr"
	"github.com/sentrygrid/coreplane/internal/domain"
)

// UserRepository handles user and tenant persistence.
type UserRepository struct {
	db *sql.DB
}

// NewUserRepository creates a user repository backed by Postgres.
func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

// CreateTenant inserts a new tenant.
func (r *UserRepository) CreateTenant(ctx context.Context, tenant *domain.Tenant) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tenants (id, name, plan_tier, created_at) VALUES ($1, $2, $3, $4)`,
		tenant.ID, tenant.Name, tenant.PlanTier, tenant.CreatedAt,
	)
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, "insert tenant", err)
	}
	return nil
}

// GetTenant retrieves a tenant by ID, or nil if none exists.
func (r *UserRepository) GetTenant(ctx context.Context, id uuid.UUID) (*domain.Tenant, error) {
	var t domain.Tenant
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, plan_tier, created_at FROM tenants WHERE id = $1`, id,
	).Scan(&t.ID, &t.Name, &t.PlanTier, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "query tenant", err)
	}
	return &t, nil
}

// CreateUser inserts a new user.
func (r *UserRepository) CreateUser(ctx context.Context, user *domain.User) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, tenant_id, username, email, password_hash, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		user.ID, user.TenantID, user.Username, user.Email, user.PasswordHash,
		user.IsActive, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, "insert user", err)
	}
	return nil
}

const userColumns = `id, tenant_id, username, email, password_hash, is_active, created_at, updated_at`

func scanUser(row interface{ Scan(dest ...interface{}) error }) (*domain.User, error) {
	var u domain.User
	if err := row.Scan(&u.ID, &u.TenantID, &u.Username, &u.Email, &u.PasswordHash, &u.IsActive, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUser retrieves a user by ID, or nil if none exists. Used by the
// dashboard websocket handshake to satisfy "server verifies ... user
// existence" (spec §6) once internal/session has verified the token's
// signature and expiry.
func (r *UserRepository) GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	user, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "query user", err)
	}
	return user, nil
}

// GetUserByEmail retrieves a user by email within a tenant.
func (r *UserRepository) GetUserByEmail(ctx context.Context, tenantID uuid.UUID, email string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE tenant_id = $1 AND email = $2`, tenantID, email)
	user, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "query user by email", err)
	}
	return user, nil
}

// FindUserByEmailAnyTenant retrieves a user by email across all tenants,
// used by /auth/login where the caller has not yet identified a tenant.
func (r *UserRepository) FindUserByEmailAnyTenant(ctx context.Context, email string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	user, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "query user by email", err)
	}
	return user, nil
}

// UpdateUser updates an existing user's mutable fields.
func (r *UserRepository) UpdateUser(ctx context.Context, user *domain.User) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users SET username = $2, email = $3, password_hash = $4, is_active = $5, updated_at = $6
		WHERE id = $1`,
		user.ID, user.Username, user.Email, user.PasswordHash, user.IsActive, user.UpdatedAt,
	)
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, "update user", err)
	}
	return nil
}

// ListUsersByTenant retrieves users in a tenant, newest first, along with
// the total matching count for pagination.
func (r *UserRepository) ListUsersByTenant(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]domain.User, int64, error) {
	var total int64
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE tenant_id = $1`, tenantID,
	).Scan(&total); err != nil {
		return nil, 0, apperr.Wrap(apperr.KindTransient, "count users", err)
	}

	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+userColumns+` FROM users WHERE tenant_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, tenantID, limit, offset)
	if err != nil {
		return nil, 0, apperr.Wrap(apperr.KindTransient, "query users", err)
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, 0, apperr.Wrap(apperr.KindTransient, "scan user", err)
		}
		users = append(users, *user)
	}
	return users, total, rows.Err()
}

// EmailTaken reports whether email is already registered anywhere, used by
// /auth/register to surface a Conflict instead of a constraint-violation
// 500 (mirrors registry.fingerprintTaken's pre-check style).
func (r *UserRepository) EmailTaken(ctx context.Context, email string) (bool, error) {
	var count int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE email = $1`, email,
	).Scan(&count); err != nil {
		return false, apperr.Wrap(apperr.KindTransient, "check email", err)
	}
	return count > 0, nil
}
