package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sentrygrid/coreplane/internal/apperr"
	"github.com/sentrygrid/coreplane/internal/domain"
	"github.com/sentrygrid/coreplane/internal/middleware"
	"github.com/sentrygrid/coreplane/internal/repository"
)

// RuleHandler implements spec §6's /threats/rules surface (spec §4.8). The
// correlation engine reloads its working set from the same table on its own
// cron tick, so writes here need no direct handoff to it.
type RuleHandler struct {
	rules  *repository.RuleRepository
	users  *repository.UserRepository
	logger zerolog.Logger
}

// NewRuleHandler creates a rule handler.
func NewRuleHandler(rules *repository.RuleRepository, users *repository.UserRepository, logger zerolog.Logger) *RuleHandler {
	return &RuleHandler{rules: rules, users: users, logger: logger}
}

func (h *RuleHandler) resolveTenant(r *http.Request) (uuid.UUID, *domain.User, error) {
	userID, ok := middleware.GetSessionUserID(r.Context())
	if !ok {
		return uuid.Nil, nil, apperr.ErrAuthentication
	}
	user, err := h.users.GetUser(r.Context(), userID)
	if err != nil {
		return uuid.Nil, nil, err
	}
	if user == nil {
		return uuid.Nil, nil, apperr.ErrUserNotFound
	}
	return user.TenantID, user, nil
}

type createRuleRequest struct {
	Name       string                 `json:"name"`
	RuleType   string                 `json:"rule_type"`
	Severity   string                 `json:"severity"`
	Conditions map[string]interface{} `json:"conditions"`
	Actions    map[string]interface{} `json:"actions"`
	Enabled    bool                   `json:"enabled"`
}

// Create handles POST /threats/rules.
func (h *RuleHandler) Create(w http.ResponseWriter, r *http.Request) {
	tenantID, user, err := h.resolveTenant(r)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	var req createRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "validation", "malformed request body")
		return
	}
	if req.Name == "" {
		WriteError(w, http.StatusBadRequest, "validation", "name is required")
		return
	}

	ruleType := domain.RuleType(req.RuleType)
	switch ruleType {
	case domain.RuleTypeThreshold, domain.RuleTypeSequence, domain.RuleTypeCrossAgent:
	default:
		WriteError(w, http.StatusBadRequest, "validation", "unrecognized rule_type")
		return
	}

	now := time.Now().UTC()
	rule := &domain.DetectionRule{
		ID:         uuid.New(),
		TenantID:   tenantID,
		Name:       req.Name,
		RuleType:   ruleType,
		Severity:   domain.Severity(req.Severity),
		Conditions: req.Conditions,
		Actions:    req.Actions,
		Enabled:    req.Enabled,
		CreatedBy:  &user.ID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := h.rules.CreateRule(r.Context(), rule); err != nil {
		WriteAppError(w, err)
		return
	}
	WriteSuccessStatus(w, http.StatusCreated, rule)
}

// List handles GET /threats/rules.
func (h *RuleHandler) List(w http.ResponseWriter, r *http.Request) {
	tenantID, _, err := h.resolveTenant(r)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	enabledOnly, _ := strconv.ParseBool(r.URL.Query().Get("enabled_only"))
	rules, err := h.rules.ListRules(r.Context(), tenantID, enabledOnly)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteSuccess(w, rules)
}

// Get handles GET /threats/rules/{id}.
func (h *RuleHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "validation", "id must be a uuid")
		return
	}
	rule, err := h.rules.GetRule(r.Context(), id)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteSuccess(w, rule)
}

type updateRuleRequest struct {
	Name       string                 `json:"name"`
	Severity   string                 `json:"severity"`
	Conditions map[string]interface{} `json:"conditions"`
	Actions    map[string]interface{} `json:"actions"`
	Enabled    bool                   `json:"enabled"`
}

// Update handles PUT /threats/rules/{id}.
func (h *RuleHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "validation", "id must be a uuid")
		return
	}

	existing, err := h.rules.GetRule(r.Context(), id)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	if existing == nil {
		WriteAppError(w, apperr.New(apperr.KindNotFound, "detection rule not found"))
		return
	}

	var req updateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "validation", "malformed request body")
		return
	}

	existing.Name = req.Name
	existing.Severity = domain.Severity(req.Severity)
	existing.Conditions = req.Conditions
	existing.Actions = req.Actions
	existing.Enabled = req.Enabled
	existing.UpdatedAt = time.Now().UTC()

	if err := h.rules.UpdateRule(r.Context(), existing); err != nil {
		WriteAppError(w, err)
		return
	}
	WriteSuccess(w, existing)
}

// Delete handles DELETE /threats/rules/{id}.
func (h *RuleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "validation", "id must be a uuid")
		return
	}
	if err := h.rules.DeleteRule(r.Context(), id); err != nil {
		WriteAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
