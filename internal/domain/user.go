// Package domain holds the data model shared across C1-C9: the persisted
// entities from spec §3 and the in-memory connection/message types used by
// the real-time plane.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// User is a platform principal: the owner of a fleet of agents and/or an
// operator who watches dashboards.
type User struct {
	ID           uuid.UUID `json:"id"`
	TenantID     uuid.UUID `json:"tenant_id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Tenant groups users and agents under a subscription plan tier.
type Tenant struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	PlanTier  string    `json:"plan_tier"`
	CreatedAt time.Time `json:"created_at"`
}
