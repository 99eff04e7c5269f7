// Package subscription implements plan-tier admission control: advisory
// pre-checks before a mutation, atomic counter increments after it, and
// periodic reconciliation against the source of truth (spec §4.2).
package subscription

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sentrygrid/coreplane/internal/apperr"
	"github.com/sentrygrid/coreplane/internal/domain"
)

// Service answers admission questions against a user's plan and tracks
// usage counters, mirroring the rbac.Service registry-over-Postgres shape
// (internal/rbac/service.go) but persisted rather than in-memory, since
// usage counts must survive restarts.
type Service struct {
	db     *sql.DB
	logger zerolog.Logger
	plans  map[string]domain.Plan
}

// New creates a subscription service seeded with the built-in plan tiers.
func New(db *sql.DB, logger zerolog.Logger) *Service {
	plans := make(map[string]domain.Plan, len(domain.BuiltinPlans))
	for id, p := range domain.BuiltinPlans {
		plans[id] = p
	}
	return &Service{db: db, logger: logger, plans: plans}
}

func (s *Service) planFor(ctx context.Context, userID uuid.UUID) (domain.Plan, error) {
	if s.db == nil {
		return domain.BuiltinPlans["free"], nil
	}
	var planID string
	err := s.db.QueryRowContext(ctx,
		`SELECT plan_id FROM user_subscriptions WHERE user_id = $1 AND status = 'active'`, userID,
	).Scan(&planID)
	if err == sql.ErrNoRows {
		return domain.BuiltinPlans["free"], nil
	}
	if err != nil {
		return domain.Plan{}, apperr.Wrap(apperr.KindTransient, "query subscription", err)
	}
	plan, ok := s.plans[planID]
	if !ok {
		return domain.Plan{}, apperr.New(apperr.KindNotFound, fmt.Sprintf("unknown plan %q", planID))
	}
	return plan, nil
}

func (s *Service) usage(ctx context.Context, userID uuid.UUID) (domain.UsageTracking, error) {
	if s.db == nil {
		return domain.UsageTracking{UserID: userID}, nil
	}
	var u domain.UsageTracking
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, subscription_id, current_devices, current_api_keys, updated_at
		 FROM usage_tracking WHERE user_id = $1`, userID,
	).Scan(&u.UserID, &u.SubscriptionID, &u.CurrentDevices, &u.CurrentAPIKeys, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return domain.UsageTracking{UserID: userID}, nil
	}
	if err != nil {
		return domain.UsageTracking{}, apperr.Wrap(apperr.KindTransient, "query usage", err)
	}
	return u, nil
}

// CanRegisterDevice is the advisory pre-check run before agent enrollment
// completes (spec §4.2). It is advisory, not authoritative:
// IncrementDevices records the registration afterwards without checking
// the cap, so concurrent registrations can both pass this check. Drift
// between the counter and the agents table is corrected by Reconcile.
func (s *Service) CanRegisterDevice(ctx context.Context, userID uuid.UUID) (domain.AdmissionDecision, error) {
	plan, err := s.planFor(ctx, userID)
	if err != nil {
		return domain.AdmissionDecision{}, err
	}
	if plan.MaxDevices == domain.Unlimited {
		return domain.Allow(), nil
	}
	u, err := s.usage(ctx, userID)
	if err != nil {
		return domain.AdmissionDecision{}, err
	}
	if u.CurrentDevices >= plan.MaxDevices {
		return domain.Deny(fmt.Sprintf("device limit reached (%d/%d)", u.CurrentDevices, plan.MaxDevices)), nil
	}
	return domain.Allow(), nil
}

// CanCreateAPIKey is the API-key analogue of CanRegisterDevice.
func (s *Service) CanCreateAPIKey(ctx context.Context, userID uuid.UUID) (domain.AdmissionDecision, error) {
	plan, err := s.planFor(ctx, userID)
	if err != nil {
		return domain.AdmissionDecision{}, err
	}
	if plan.MaxAPIKeys == domain.Unlimited {
		return domain.Allow(), nil
	}
	u, err := s.usage(ctx, userID)
	if err != nil {
		return domain.AdmissionDecision{}, err
	}
	if u.CurrentAPIKeys >= plan.MaxAPIKeys {
		return domain.Deny(fmt.Sprintf("api key limit reached (%d/%d)", u.CurrentAPIKeys, plan.MaxAPIKeys)), nil
	}
	return domain.Allow(), nil
}

// CheckFeature reports whether the user's plan unlocks a feature, and if
// not, the cheapest plan tier that would (spec §13, feature gating
// supplemented from secureguard-api's subscription_service.rs).
func (s *Service) CheckFeature(ctx context.Context, userID uuid.UUID, feature domain.Feature) (domain.AdmissionDecision, error) {
	plan, err := s.planFor(ctx, userID)
	if err != nil {
		return domain.AdmissionDecision{}, err
	}
	if plan.Features[feature] {
		return domain.Allow(), nil
	}
	required := s.cheapestPlanWith(feature)
	return domain.DenyFeature(fmt.Sprintf("feature %q not included in plan %q", feature, plan.ID), required), nil
}

func (s *Service) cheapestPlanWith(feature domain.Feature) string {
	order := []string{"free", "pro", "enterprise"}
	for _, id := range order {
		if p, ok := s.plans[id]; ok && p.Features[feature] {
			return id
		}
	}
	return "enterprise"
}

// IncrementDevices atomically bumps the device counter after a
// registration succeeds. Uses upsert semantics so a user with no prior
// usage row is initialized on first use.
func (s *Service) IncrementDevices(ctx context.Context, userID uuid.UUID) error {
	return s.adjustCounter(ctx, userID, "current_devices", 1)
}

// DecrementDevices reverses IncrementDevices when a device is removed.
func (s *Service) DecrementDevices(ctx context.Context, userID uuid.UUID) error {
	return s.adjustCounter(ctx, userID, "current_devices", -1)
}

// IncrementAPIKeys atomically bumps the API key counter.
func (s *Service) IncrementAPIKeys(ctx context.Context, userID uuid.UUID) error {
	return s.adjustCounter(ctx, userID, "current_api_keys", 1)
}

// DecrementAPIKeys reverses IncrementAPIKeys when a key is revoked.
func (s *Service) DecrementAPIKeys(ctx context.Context, userID uuid.UUID) error {
	return s.adjustCounter(ctx, userID, "current_api_keys", -1)
}

func (s *Service) adjustCounter(ctx context.Context, userID uuid.UUID, column string, delta int) error {
	if s.db == nil {
		return nil
	}
	query := fmt.Sprintf(`
		INSERT INTO usage_tracking (user_id, subscription_id, %s, updated_at)
		SELECT $1, us.id, GREATEST($2, 0), NOW()
		FROM user_subscriptions us WHERE us.user_id = $1
		ON CONFLICT (user_id) DO UPDATE
		SET %s = GREATEST(usage_tracking.%s + $2, 0), updated_at = NOW()`,
		column, column, column)
	if _, err := s.db.ExecContext(ctx, query, userID, delta); err != nil {
		return apperr.Wrap(apperr.KindTransient, "adjust usage counter", err)
	}
	return nil
}

// Reconcile recomputes usage_tracking from the authoritative agents and
// api_keys tables, correcting any drift the advisory counters have
// accumulated (spec §9: counters are eventually consistent by design).
func (s *Service) Reconcile(ctx context.Context, userID uuid.UUID) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE usage_tracking ut SET
			current_devices = (SELECT COUNT(*) FROM agents a WHERE a.user_id = $1),
			current_api_keys = (SELECT COUNT(*) FROM api_keys k WHERE k.user_id = $1 AND k.is_active),
			updated_at = NOW()
		WHERE ut.user_id = $1`, userID)
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, "reconcile usage", err)
	}
	return nil
}
