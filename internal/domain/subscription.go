package domain

import (
	"time"

	"github.com/google/uuid"
)

// Unlimited is the sentinel value for an uncapped plan limit (spec §4.2).
const Unlimited = -1

// Feature names gated by plan tier (SPEC_FULL.md §13, grounded on
// original_source/crates/secureguard-api/src/services/subscription_service.rs).
type Feature string

const (
	FeatureRealTimeMonitoring  Feature = "real_time_monitoring"
	FeatureCustomRules         Feature = "custom_rules"
	FeatureAPIAccess           Feature = "api_access"
	FeatureAudit               Feature = "audit"
	FeatureVulnerabilityScan   Feature = "vulnerability_scanning"
)

// Plan describes a subscription tier's limits and feature flags.
type Plan struct {
	ID           string           `json:"id"`
	Name         string           `json:"name"`
	MaxDevices   int              `json:"max_devices"`
	MaxAPIKeys   int              `json:"max_api_keys"`
	Features     map[Feature]bool `json:"features"`
}

// UserSubscription is the active plan assignment for a user.
type UserSubscription struct {
	ID                uuid.UUID `json:"id"`
	UserID            uuid.UUID `json:"user_id"`
	PlanID            string    `json:"plan_id"`
	Status            string    `json:"status"`
	CurrentPeriodEnd  time.Time `json:"current_period_end"`
}

// UsageTracking holds the projected, eventually-consistent usage counters
// that admission checks read (spec §3 / §9).
type UsageTracking struct {
	UserID          uuid.UUID `json:"user_id"`
	SubscriptionID  uuid.UUID `json:"subscription_id"`
	CurrentDevices  int       `json:"current_devices"`
	CurrentAPIKeys  int       `json:"current_api_keys"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// AdmissionDecision is the result of a can_register_device /
// can_create_api_key / check_feature call.
type AdmissionDecision struct {
	Allowed      bool
	Reason       string
	RequiredPlan string
}

// Allow builds an affirmative decision.
func Allow() AdmissionDecision { return AdmissionDecision{Allowed: true} }

// Deny builds a negative decision with a human-readable reason.
func Deny(reason string) AdmissionDecision {
	return AdmissionDecision{Allowed: false, Reason: reason}
}

// DenyFeature builds a negative feature-gate decision carrying the plan tier
// that would unlock it.
func DenyFeature(reason, requiredPlan string) AdmissionDecision {
	return AdmissionDecision{Allowed: false, Reason: reason, RequiredPlan: requiredPlan}
}

// BuiltinPlans mirrors the teacher's built-in-roles seed pattern
// (internal/rbac/service.go: initBuiltinRoles), adapted to subscription
// tiers (SPEC_FULL.md §4).
var BuiltinPlans = map[string]Plan{
	"free": {
		ID: "free", Name: "Free", MaxDevices: 2, MaxAPIKeys: 1,
		Features: map[Feature]bool{
			FeatureRealTimeMonitoring: true,
		},
	},
	"pro": {
		ID: "pro", Name: "Pro", MaxDevices: 25, MaxAPIKeys: 5,
		Features: map[Feature]bool{
			FeatureRealTimeMonitoring: true,
			FeatureCustomRules:        true,
			FeatureAPIAccess:          true,
		},
	},
	"enterprise": {
		ID: "enterprise", Name: "Enterprise", MaxDevices: Unlimited, MaxAPIKeys: Unlimited,
		Features: map[Feature]bool{
			FeatureRealTimeMonitoring: true,
			FeatureCustomRules:        true,
			FeatureAPIAccess:          true,
			FeatureAudit:              true,
			FeatureVulnerabilityScan:  true,
		},
	},
}
