package domain

import (
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// APIKey is a long-lived credential issued to a user for agent registration
// and API access (spec §3). The rendered secret itself is never stored —
// only KeyHash and the non-secret KeyPrefix used for lookup.
type APIKey struct {
	ID         uuid.UUID  `json:"id"`
	UserID     uuid.UUID  `json:"user_id"`
	KeyHash    string     `json:"-"`
	KeyPrefix  string     `json:"key_prefix"`
	IsActive   bool       `json:"is_active"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	UsageCount int64      `json:"usage_count"`
	CreatedAt  time.Time  `json:"created_at"`
}

// IssuedAPIKey is returned exactly once, at creation time, and carries the
// rendered secret alongside the persisted row.
type IssuedAPIKey struct {
	APIKey
	RenderedKey string `json:"key"`
}

// RegistrationToken is a single-use credential that lets an agent register
// without possessing an API key (spec §3 / §4.1).
type RegistrationToken struct {
	ID         uuid.UUID  `json:"id"`
	UserID     uuid.UUID  `json:"user_id"`
	TokenHash  string     `json:"-"`
	DeviceName string     `json:"device_name"`
	ExpiresAt  time.Time  `json:"expires_at"`
	IsUsed     bool       `json:"is_used"`
	UsedAt     *time.Time `json:"used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// IssuedRegistrationToken is returned exactly once, at creation time.
type IssuedRegistrationToken struct {
	RegistrationToken
	RenderedToken string `json:"token"`
}

// PasswordPolicy is an injected parameter of the credential store (spec §9
// Open Questions: policy is unspecified by the source, so it is made
// explicit and configurable here with documented defaults).
type PasswordPolicy struct {
	MinLength     int
	RequireUpper  bool
	RequireDigit  bool
	RequireSymbol bool
	MaxAgeDays    int
}

// DefaultPasswordPolicy matches SPEC_FULL.md §14.
var DefaultPasswordPolicy = PasswordPolicy{
	MinLength:     10,
	RequireUpper:  false,
	RequireDigit:  true,
	RequireSymbol: false,
	MaxAgeDays:    0,
}

// Validate reports whether password satisfies the policy, returning a
// human-readable reason on failure.
func (p PasswordPolicy) Validate(password string) error {
	if len(password) < p.MinLength {
		return &policyError{msg: "password too short"}
	}
	var hasUpper, hasDigit, hasSymbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsDigit(r):
			hasDigit = true
		case strings.ContainsRune("!@#$%^&*()-_=+[]{};:'\",.<>/?\\|`~", r):
			hasSymbol = true
		}
	}
	if p.RequireUpper && !hasUpper {
		return &policyError{msg: "password must contain an uppercase letter"}
	}
	if p.RequireDigit && !hasDigit {
		return &policyError{msg: "password must contain a digit"}
	}
	if p.RequireSymbol && !hasSymbol {
		return &policyError{msg: "password must contain a symbol"}
	}
	return nil
}

type policyError struct{ msg string }

func (e *policyError) Error() string { return e.msg }
