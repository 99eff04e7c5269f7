package handler

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/sentrygrid/coreplane/internal/apperr"
	"github.com/sentrygrid/coreplane/internal/credential"
	"github.com/sentrygrid/coreplane/internal/domain"
	"github.com/sentrygrid/coreplane/internal/middleware"
	"github.com/sentrygrid/coreplane/internal/registry"
	"github.com/sentrygrid/coreplane/internal/repository"
)

// AgentHandler implements spec §6's /agents/* surface (spec §4.3).
type AgentHandler struct {
	registry    *registry.Registry
	credentials *credential.Store
	users       *repository.UserRepository
	logger      zerolog.Logger
}

// NewAgentHandler creates an agent handler.
func NewAgentHandler(reg *registry.Registry, credentials *credential.Store, users *repository.UserRepository, logger zerolog.Logger) *AgentHandler {
	return &AgentHandler{registry: reg, credentials: credentials, users: users, logger: logger}
}

type registerAgentRequest struct {
	APIKey              string `json:"api_key"`
	RegistrationToken   string `json:"registration_token"`
	DeviceName          string `json:"device_name"`
	HardwareFingerprint string `json:"hardware_fingerprint"`
	OSInfo              string `json:"os_info"`
	Version             string `json:"version"`
}

// Register handles POST /agents/register. A request carries either an
// api_key or a registration_token (spec §4.1/§4.3); exactly one is used.
func (h *AgentHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "validation", "malformed request body")
		return
	}

	ctx := r.Context()

	switch {
	case req.APIKey != "":
		key, err := h.credentials.ValidateAPIKey(ctx, req.APIKey)
		if err != nil {
			WriteAppError(w, err)
			return
		}
		user, err := h.users.GetUser(ctx, key.UserID)
		if err != nil {
			WriteAppError(w, err)
			return
		}
		if user == nil {
			WriteAppError(w, apperr.ErrUserNotFound)
			return
		}

		agent, err := h.registry.RegisterWithAPIKey(ctx, user.TenantID, domain.RegisterWithAPIKeyRequest{
			RenderedAPIKey:      req.APIKey,
			DeviceName:          req.DeviceName,
			HardwareFingerprint: req.HardwareFingerprint,
			OSInfo:              req.OSInfo,
			Version:             req.Version,
		})
		if err != nil {
			WriteAppError(w, err)
			return
		}
		WriteSuccessStatus(w, http.StatusCreated, agent)

	case req.RegistrationToken != "":
		tok, err := h.credentials.PeekRegistrationToken(ctx, req.RegistrationToken)
		if err != nil {
			WriteAppError(w, err)
			return
		}
		user, err := h.users.GetUser(ctx, tok.UserID)
		if err != nil {
			WriteAppError(w, err)
			return
		}
		if user == nil {
			WriteAppError(w, apperr.ErrUserNotFound)
			return
		}

		agent, err := h.registry.RegisterWithToken(ctx, user.TenantID, domain.RegisterWithTokenRequest{
			RenderedToken:       req.RegistrationToken,
			HardwareFingerprint: req.HardwareFingerprint,
			OSInfo:              req.OSInfo,
			Version:             req.Version,
		})
		if err != nil {
			WriteAppError(w, err)
			return
		}
		WriteSuccessStatus(w, http.StatusCreated, agent)

	default:
		WriteError(w, http.StatusBadRequest, "validation", "api_key or registration_token is required")
	}
}

type heartbeatRequest struct {
	AgentID string `json:"agent_id"`
	Status  string `json:"status"`
}

// Heartbeat handles POST /agents/heartbeat.
func (h *AgentHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "validation", "malformed request body")
		return
	}

	agentID, err := parseUUID(req.AgentID)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "validation", "agent_id must be a uuid")
		return
	}

	status := domain.AgentStatus(req.Status)
	if err := h.registry.UpdateHeartbeat(r.Context(), agentID, status); err != nil {
		WriteAppError(w, err)
		return
	}
	WriteSuccess(w, map[string]string{"status": "ok"})
}

// List handles GET /agents (session-authenticated; scoped to the caller's
// tenant via their own user row).
func (h *AgentHandler) List(w http.ResponseWriter, r *http.Request) {
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

	agents, err := h.registry.ListForTenant(ctx, user.TenantID)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteSuccess(w, agents)
}
