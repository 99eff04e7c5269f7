package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sentrygrid/coreplane/internal/apperr"
	"github.com/sentrygrid/coreplane/internal/domain"
	"github.com/sentrygrid/coreplane/internal/enrich"
	"github.com/sentrygrid/coreplane/internal/middleware"
	"github.com/sentrygrid/coreplane/internal/pipeline"
	"github.com/sentrygrid/coreplane/internal/registry"
	"github.com/sentrygrid/coreplane/internal/repository"
)

// EventHandler implements spec §6's POST /threats/events REST intake path,
// the bulk-submission analogue of the per-event MsgSecurityEvent websocket
// frame handled in internal/transport. Both paths converge on the same C6
// enricher and C7 pipeline.
type EventHandler struct {
	registry *registry.Registry
	enricher *enrich.Enricher
	pipe     *pipeline.Pipeline
	events   *repository.EventRepository
	logger   zerolog.Logger
}

// NewEventHandler creates an event handler.
func NewEventHandler(reg *registry.Registry, enricher *enrich.Enricher, pipe *pipeline.Pipeline, events *repository.EventRepository, logger zerolog.Logger) *EventHandler {
	return &EventHandler{registry: reg, enricher: enricher, pipe: pipe, events: events, logger: logger}
}

type submitEventsRequest struct {
	AgentID string                         `json:"agent_id"`
	Events  []domain.SecurityEventRequest `json:"events"`
}

// Submit handles POST /threats/events: per-agent bulk intake (spec §6).
// The caller must be the API-key-authenticated owner of agent_id.
func (h *EventHandler) Submit(w http.ResponseWriter, r *http.Request) {
	authInfo := middleware.GetAuthInfo(r.Context())
	if authInfo == nil {
		WriteAppError(w, apperr.ErrAuthentication)
		return
	}

	var req submitEventsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "validation", "malformed request body")
		return
	}
	if len(req.Events) == 0 {
		WriteError(w, http.StatusBadRequest, "validation", "events must be non-empty")
		return
	}

	agentID, err := parseUUID(req.AgentID)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "validation", "agent_id must be a uuid")
		return
	}

	ctx := r.Context()
	agent, err := h.registry.FindByID(ctx, agentID)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	if agent == nil {
		WriteAppError(w, apperr.ErrAgentNotFound)
		return
	}
	if agent.UserID != authInfo.UserID {
		WriteAppError(w, apperr.New(apperr.KindAuthorization, "agent does not belong to the authenticated caller"))
		return
	}

	for i := range req.Events {
		h.enricher.Enrich(ctx, agentID, &req.Events[i])
	}

	if err := h.pipe.QueueEventsBatch(agentID, agent.DeviceName, req.Events); err != nil {
		WriteAppError(w, err)
		return
	}
	WriteSuccessStatus(w, http.StatusAccepted, map[string]int{"accepted": len(req.Events)})
}

// ListForAgent handles GET /agents/{id}/events.
func (h *EventHandler) ListForAgent(w http.ResponseWriter, r *http.Request) {
	agentID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "validation", "id must be a uuid")
		return
	}
	events, err := h.events.ListEventsForAgent(r.Context(), agentID, 100, 0)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteSuccess(w, events)
}

// ListForTenant handles GET /threats/events for the session-authenticated
// caller's own tenant.
func (h *EventHandler) ListForTenant(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetSessionUserID(r.Context())
	if !ok {
		WriteAppError(w, apperr.ErrAuthentication)
		return
	}

	agent, err := h.registry.ListForUser(r.Context(), userID)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	if len(agent) == 0 {
		WriteSuccess(w, []domain.SecurityEvent{})
		return
	}

	events, err := h.events.ListEventsForTenant(r.Context(), agent[0].TenantID, "", 100, 0)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteSuccess(w, events)
}
