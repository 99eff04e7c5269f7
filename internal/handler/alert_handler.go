package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sentrygrid/coreplane/internal/apperr"
	"github.com/sentrygrid/coreplane/internal/domain"
	"github.com/sentrygrid/coreplane/internal/middleware"
	"github.com/sentrygrid/coreplane/internal/registry"
	"github.com/sentrygrid/coreplane/internal/repository"
)

// AlertHandler implements spec §6's /threats/alerts surface.
type AlertHandler struct {
	alerts   *repository.AlertRepository
	registry *registry.Registry
	users    *repository.UserRepository
	logger   zerolog.Logger
}

// NewAlertHandler creates an alert handler.
func NewAlertHandler(alerts *repository.AlertRepository, reg *registry.Registry, users *repository.UserRepository, logger zerolog.Logger) *AlertHandler {
	return &AlertHandler{alerts: alerts, registry: reg, users: users, logger: logger}
}

// List handles GET /threats/alerts (session-authenticated, scoped to the
// caller's tenant). An optional status query param filters the result.
func (h *AlertHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetSessionUserID(r.Context())
	if !ok {
		WriteAppError(w, apperr.ErrAuthentication)
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

	status := domain.AlertStatus(r.URL.Query().Get("status"))
	alerts, err := h.alerts.ListAlertsForTenant(ctx, user.TenantID, status, 100)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteSuccess(w, alerts)
}

// ListForAgent handles GET /agents/{id}/alerts.
func (h *AlertHandler) ListForAgent(w http.ResponseWriter, r *http.Request) {
	agentID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "validation", "id must be a uuid")
		return
	}

	status := domain.AlertStatus(r.URL.Query().Get("status"))
	alerts, err := h.alerts.ListAlertsForAgent(r.Context(), agentID, status, 100)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteSuccess(w, alerts)
}

// Get handles GET /threats/alerts/{id}.
func (h *AlertHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "validation", "id must be a uuid")
		return
	}

	alert, err := h.alerts.GetAlert(r.Context(), id)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteSuccess(w, alert)
}

type updateAlertStatusRequest struct {
	Status     string `json:"status"`
	AssignedTo string `json:"assigned_to"`
}

// UpdateStatus handles PATCH /threats/alerts/{id}: the analyst
// acknowledge/resolve/false-positive workflow (spec §3).
func (h *AlertHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "validation", "id must be a uuid")
		return
	}

	var req updateAlertStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "validation", "malformed request body")
		return
	}

	status := domain.AlertStatus(req.Status)
	switch status {
	case domain.AlertStatusOpen, domain.AlertStatusInvestigating, domain.AlertStatusResolved, domain.AlertStatusFalsePositive:
	default:
		WriteError(w, http.StatusBadRequest, "validation", "unrecognized alert status")
		return
	}

	var assignedTo *uuid.UUID
	if req.AssignedTo != "" {
		uid, err := uuid.Parse(req.AssignedTo)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "validation", "assigned_to must be a uuid")
			return
		}
		assignedTo = &uid
	}

	if err := h.alerts.UpdateStatus(r.Context(), id, status, assignedTo); err != nil {
		WriteAppError(w, err)
		return
	}
	WriteSuccess(w, map[string]string{"status": "updated"})
}
