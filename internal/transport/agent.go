// Package transport upgrades HTTP requests to websocket connections for
// agents and dashboards and runs their read pumps, decoding wire frames
// and dispatching them into the rest of the control plane. Grounded on the
// teacher's agent.Manager UpgradeToWebSocket/readPump pattern (now folded
// into internal/connection's write side; this package owns the read side
// and the frame decoding the teacher's manager used to do inline).
package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/sentrygrid/coreplane/internal/apperr"
	"github.com/sentrygrid/coreplane/internal/connection"
	"github.com/sentrygrid/coreplane/internal/credential"
	"github.com/sentrygrid/coreplane/internal/domain"
	"github.com/sentrygrid/coreplane/internal/enrich"
	"github.com/sentrygrid/coreplane/internal/messagerouter"
	"github.com/sentrygrid/coreplane/internal/pipeline"
	"github.com/sentrygrid/coreplane/internal/registry"
	"github.com/sentrygrid/coreplane/internal/repository"
)

const (
	readWait = 60 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// AgentHandler upgrades /ws/agent connections and dispatches inbound
// frames (spec §6: "Agent connect URL: /ws/agent?agent_id=<uuid>&token=<opaque>").
type AgentHandler struct {
	conns       *connection.Manager
	registry    *registry.Registry
	credentials *credential.Store
	enricher    *enrich.Enricher
	pipe        *pipeline.Pipeline
	router      *messagerouter.Router
	commands    *repository.CommandRepository
	logger      zerolog.Logger
}

// NewAgentHandler creates an agent transport handler.
func NewAgentHandler(conns *connection.Manager, reg *registry.Registry, credentials *credential.Store, enricher *enrich.Enricher, pipe *pipeline.Pipeline, router *messagerouter.Router, commands *repository.CommandRepository, logger zerolog.Logger) *AgentHandler {
	return &AgentHandler{conns: conns, registry: reg, credentials: credentials, enricher: enricher, pipe: pipe, router: router, commands: commands, logger: logger}
}

// authenticate validates the token presented on connect as the API key
// the agent registered with, and confirms agentID is owned by the same
// user that key was issued to (spec §4.1).
func (h *AgentHandler) authenticate(ctx context.Context, agentID uuid.UUID, token string) (*domain.Agent, error) {
	key, err := h.credentials.ValidateAPIKey(ctx, token)
	if err != nil {
		return nil, err
	}
	agent, err := h.registry.FindByID(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if agent == nil {
		return nil, apperr.ErrAgentNotFound
	}
	if agent.UserID != key.UserID {
		return nil, apperr.New(apperr.KindAuthorization, "api key does not belong to this agent")
	}
	return agent, nil
}

// ServeHTTP upgrades the connection and blocks running the read pump until
// the agent disconnects.
func (h *AgentHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	agentID, err := uuid.Parse(r.URL.Query().Get("agent_id"))
	if err != nil {
		http.Error(w, "agent_id must be a uuid", http.StatusBadRequest)
		return
	}
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "token is required", http.StatusUnauthorized)
		return
	}

	agent, err := h.authenticate(r.Context(), agentID, token)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("agent_id", agentID.String()).Msg("websocket upgrade failed")
		return
	}

	conn := h.conns.AddAgentConnection(agentID, ws)
	confirmed, _ := h.router.Encode(domain.MsgRegistrationConfirmed, domain.RegistrationConfirmedPayload{AgentID: agentID})
	h.conns.SendToAgent(agentID, confirmed)

	h.readPump(r.Context(), conn, agent)
}

func (h *AgentHandler) readPump(ctx context.Context, conn *connection.Conn, agent *domain.Agent) {
	defer h.conns.RemoveConnection(conn)

	ws := conn.WS()
	ws.SetReadLimit(512 * 1024)
	ws.SetReadDeadline(time.Now().Add(readWait))
	ws.SetPongHandler(func(string) error {
		conn.Touch()
		ws.SetReadDeadline(time.Now().Add(readWait))
		return nil
	})

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			h.logger.Debug().Err(err).Str("agent_id", agent.ID.String()).Msg("agent read pump closing")
			return
		}
		conn.Touch()

		var env domain.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			h.logger.Warn().Err(err).Str("agent_id", agent.ID.String()).Msg("malformed envelope from agent")
			continue
		}
		h.dispatch(ctx, agent, env)
	}
}

func (h *AgentHandler) dispatch(ctx context.Context, agent *domain.Agent, env domain.Envelope) {
	switch env.Type {
	case domain.MsgSecurityEvent:
		var req domain.SecurityEventRequest
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			h.logger.Warn().Err(err).Msg("malformed SecurityEvent payload")
			return
		}
		h.enricher.Enrich(ctx, agent.ID, &req)
		if err := h.pipe.QueueEvent(agent.ID, agent.DeviceName, req); err != nil {
			h.logger.Warn().Err(err).Str("agent_id", agent.ID.String()).Msg("queue event failed")
		}

	case domain.MsgSecurityEvents:
		var reqs []domain.SecurityEventRequest
		if err := json.Unmarshal(env.Payload, &reqs); err != nil {
			h.logger.Warn().Err(err).Msg("malformed SecurityEvents payload")
			return
		}
		for i := range reqs {
			h.enricher.Enrich(ctx, agent.ID, &reqs[i])
		}
		accepted := len(reqs)
		if err := h.pipe.QueueEventsBatch(agent.ID, agent.DeviceName, reqs); err != nil {
			h.logger.Warn().Err(err).Str("agent_id", agent.ID.String()).Msg("queue batch failed")
			accepted = 0
		}
		summary, _ := h.router.Encode(domain.MsgEventsProcessed, domain.EventsProcessedPayload{Count: accepted})
		h.conns.SendToAgent(agent.ID, summary)

	case domain.MsgHeartbeat:
		var hb domain.HeartbeatPayload
		if err := json.Unmarshal(env.Payload, &hb); err != nil {
			h.logger.Warn().Err(err).Msg("malformed Heartbeat payload")
			return
		}
		if err := h.registry.UpdateHeartbeat(ctx, agent.ID, hb.Status); err != nil {
			h.logger.Warn().Err(err).Str("agent_id", agent.ID.String()).Msg("update heartbeat failed")
			return
		}
		h.router.RouteAgentStatusUpdate(domain.AgentStatusUpdatePayload{AgentID: agent.ID, Status: hb.Status})
		if hb.Metrics != nil {
			h.router.RouteSystemMetrics(agent.ID, *hb.Metrics)
		}
		ack, _ := h.router.Encode(domain.MsgHeartbeatAck, domain.HeartbeatAckPayload{ServerTime: time.Now().UTC()})
		h.conns.SendToAgent(agent.ID, ack)

	case domain.MsgSystemMetrics:
		var metrics domain.SystemMetrics
		if err := json.Unmarshal(env.Payload, &metrics); err != nil {
			h.logger.Warn().Err(err).Msg("malformed SystemMetrics payload")
			return
		}
		h.router.RouteSystemMetrics(agent.ID, metrics)

	case domain.MsgCommandResponse:
		var resp domain.CommandResponsePayload
		if err := json.Unmarshal(env.Payload, &resp); err != nil {
			h.logger.Warn().Err(err).Msg("malformed CommandResponse payload")
			return
		}
		current, err := h.commands.GetCommand(ctx, resp.CommandID)
		if err != nil || current == nil {
			h.logger.Warn().Err(err).Str("command_id", resp.CommandID.String()).Msg("command response for unknown command")
			return
		}
		if !domain.CanTransition(current.Status, resp.Status) {
			h.logger.Warn().
				Str("command_id", resp.CommandID.String()).
				Str("from", string(current.Status)).
				Str("to", string(resp.Status)).
				Msg("rejected illegal command status transition")
			return
		}
		if err := h.commands.UpdateStatus(ctx, resp.CommandID, resp.Status, resp.Result); err != nil {
			h.logger.Warn().Err(err).Str("command_id", resp.CommandID.String()).Msg("update command status failed")
			return
		}
		cmd, err := h.commands.GetCommand(ctx, resp.CommandID)
		if err == nil && cmd != nil {
			h.router.RouteCommandStatusUpdate(*cmd)
		}

	default:
		h.logger.Warn().Str("type", string(env.Type)).Msg("unexpected message type from agent")
	}
}
