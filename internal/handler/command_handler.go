package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sentrygrid/coreplane/internal/apperr"
	"github.com/sentrygrid/coreplane/internal/domain"
	"github.com/sentrygrid/coreplane/internal/messagerouter"
	"github.com/sentrygrid/coreplane/internal/middleware"
	"github.com/sentrygrid/coreplane/internal/registry"
	"github.com/sentrygrid/coreplane/internal/repository"
)

// CommandHandler implements spec §6's /agents/{id}/commands surface: the
// operator-facing path that actually persists agent_commands rows and
// drives them through the Pending -> Sent delivery spec §4.5 describes
// (scenario S3).
type CommandHandler struct {
	commands *repository.CommandRepository
	agents   *registry.Registry
	users    *repository.UserRepository
	router   *messagerouter.Router
	logger   zerolog.Logger
}

// NewCommandHandler creates a command handler.
func NewCommandHandler(commands *repository.CommandRepository, agents *registry.Registry, users *repository.UserRepository, router *messagerouter.Router, logger zerolog.Logger) *CommandHandler {
	return &CommandHandler{commands: commands, agents: agents, users: users, router: router, logger: logger}
}

type dispatchCommandRequest struct {
	CommandType string                 `json:"command_type"`
	CommandData map[string]interface{} `json:"command_data"`
}

// Dispatch handles POST /agents/{id}/commands: persists the command in
// Pending status, broadcasts that to dashboards, then transitions it to
// Sent and delivers it to the agent (spec §4.5, scenario S3).
func (h *CommandHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetSessionUserID(r.Context())
	if !ok {
		WriteAppError(w, apperr.ErrAuthentication)
		return
	}

	agentID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "validation", "id must be a uuid")
		return
	}

	ctx := r.Context()
	agent, err := h.agents.FindByID(ctx, agentID)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	if agent == nil {
		WriteAppError(w, apperr.ErrAgentNotFound)
		return
	}

	var req dispatchCommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "validation", "malformed request body")
		return
	}
	if req.CommandType == "" {
		WriteError(w, http.StatusBadRequest, "validation", "command_type is required")
		return
	}

	cmd := domain.AgentCommand{
		ID:          uuid.New(),
		AgentID:     agentID,
		IssuedBy:    userID,
		CommandType: req.CommandType,
		CommandData: req.CommandData,
		Status:      domain.CommandStatusPending,
		IssuedAt:    time.Now().UTC(),
	}
	if err := h.commands.CreateCommand(ctx, &cmd); err != nil {
		WriteAppError(w, err)
		return
	}
	h.router.RouteCommandStatusUpdate(cmd)

	cmd.Status = domain.CommandStatusSent
	if err := h.commands.UpdateStatus(ctx, cmd.ID, domain.CommandStatusSent, nil); err != nil {
		WriteAppError(w, err)
		return
	}
	h.router.RouteAgentCommand(agentID, cmd)

	WriteSuccessStatus(w, http.StatusCreated, cmd)
}

// ListForAgent handles GET /agents/{id}/commands.
func (h *CommandHandler) ListForAgent(w http.ResponseWriter, r *http.Request) {
	agentID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "validation", "id must be a uuid")
		return
	}

	cmds, err := h.commands.ListCommandsForAgent(r.Context(), agentID, 50)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteSuccess(w, cmds)
}
