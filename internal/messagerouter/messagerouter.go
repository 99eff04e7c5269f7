// Package messagerouter is the typed fan-out layer over the connection
// registry (spec §4.5 / §9): tagged envelopes routed by exhaustive
// dispatch, with panic-isolated subscriber callbacks.
package messagerouter

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sentrygrid/coreplane/internal/connection"
	"github.com/sentrygrid/coreplane/internal/domain"
)

// EventPredicate is a pure function invoked for every routed security
// event; its return value is logged but never filters fan-out (spec §4.5).
type EventPredicate func(domain.SecurityEvent) bool

// AlertPredicate is the ThreatAlert analogue of EventPredicate.
type AlertPredicate func(domain.ThreatAlert) bool

type eventSubscriber struct {
	id        uuid.UUID
	name      string
	predicate EventPredicate
}

type alertSubscriber struct {
	id        uuid.UUID
	name      string
	predicate AlertPredicate
}

// Router is the single point through which every server-originated
// message reaches a connection, and the registry of subscriber callbacks.
type Router struct {
	conns  *connection.Manager
	logger zerolog.Logger

	mu               sync.RWMutex
	eventSubscribers []eventSubscriber
	alertSubscribers []alertSubscriber
}

// New creates a message router bound to a connection manager.
func New(conns *connection.Manager, logger zerolog.Logger) *Router {
	return &Router{conns: conns, logger: logger}
}

func (r *Router) encode(t domain.MessageType, payload interface{}) ([]byte, error) {
	env, err := domain.NewEnvelope(t, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// Encode renders a tagged envelope for a message type that has no
// dedicated Route method, e.g. the direct-to-agent acks internal/transport
// sends in response to its own inbound frames.
func (r *Router) Encode(t domain.MessageType, payload interface{}) ([]byte, error) {
	return r.encode(t, payload)
}

// RouteSecurityEvent fans an enriched event out to dashboards and then
// invokes every registered event subscriber, each isolated from panics in
// the others (spec §4.5, §9).
func (r *Router) RouteSecurityEvent(agentID uuid.UUID, event domain.SecurityEvent, agentName string) {
	data, err := r.encode(domain.MsgNewSecurityEvent, domain.NewSecurityEventPayload{Event: event, AgentName: agentName})
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to encode NewSecurityEvent")
		return
	}
	r.conns.SendToAllDashboards(data)
	r.notifyEventSubscribers(event)
}

func (r *Router) notifyEventSubscribers(event domain.SecurityEvent) {
	r.mu.RLock()
	subs := make([]eventSubscriber, len(r.eventSubscribers))
	copy(subs, r.eventSubscribers)
	r.mu.RUnlock()

	for _, sub := range subs {
		r.invokeEventSubscriber(sub, event)
	}
}

func (r *Router) invokeEventSubscriber(sub eventSubscriber, event domain.SecurityEvent) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().
				Str("subscriber", sub.name).
				Interface("panic", rec).
				Msg("event subscriber panicked, isolated")
		}
	}()
	accepted := sub.predicate(event)
	r.logger.Debug().Str("subscriber", sub.name).Bool("accepted", accepted).Msg("event subscriber invoked")
}

// RouteThreatAlert is the alert analogue of RouteSecurityEvent.
func (r *Router) RouteThreatAlert(alert domain.ThreatAlert, agentName, eventTitle string) {
	data, err := r.encode(domain.MsgNewThreatAlert, domain.NewThreatAlertPayload{Alert: alert, AgentName: agentName, EventTitle: eventTitle})
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to encode NewThreatAlert")
		return
	}
	r.conns.SendToAllDashboards(data)
	r.notifyAlertSubscribers(alert)
}

func (r *Router) notifyAlertSubscribers(alert domain.ThreatAlert) {
	r.mu.RLock()
	subs := make([]alertSubscriber, len(r.alertSubscribers))
	copy(subs, r.alertSubscribers)
	r.mu.RUnlock()

	for _, sub := range subs {
		r.invokeAlertSubscriber(sub, alert)
	}
}

func (r *Router) invokeAlertSubscriber(sub alertSubscriber, alert domain.ThreatAlert) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().
				Str("subscriber", sub.name).
				Interface("panic", rec).
				Msg("alert subscriber panicked, isolated")
		}
	}()
	accepted := sub.predicate(alert)
	r.logger.Debug().Str("subscriber", sub.name).Bool("accepted", accepted).Msg("alert subscriber invoked")
}

// RouteAgentCommand delivers a Command to the target agent and notifies
// dashboards of the resulting status transition.
func (r *Router) RouteAgentCommand(agentID uuid.UUID, cmd domain.AgentCommand) bool {
	cmdData, err := r.encode(domain.MsgCommand, domain.CommandPayload{
		CommandID:   cmd.ID,
		CommandType: cmd.CommandType,
		CommandData: cmd.CommandData,
	})
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to encode Command")
		return false
	}
	delivered := r.conns.SendCommandToAgent(agentID, cmdData)

	statusData, err := r.encode(domain.MsgCommandStatusUpdate, domain.CommandStatusUpdatePayload{Command: cmd})
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to encode CommandStatusUpdate")
		return delivered
	}
	r.conns.SendToAllDashboards(statusData)
	return delivered
}

// RouteCommandStatusUpdate notifies dashboards of a command's state
// transition, independent of the initial dispatch RouteAgentCommand does
// — used when an agent's own CommandResponse moves a command further
// along its state machine.
func (r *Router) RouteCommandStatusUpdate(cmd domain.AgentCommand) {
	data, err := r.encode(domain.MsgCommandStatusUpdate, domain.CommandStatusUpdatePayload{Command: cmd})
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to encode CommandStatusUpdate")
		return
	}
	r.conns.SendToAllDashboards(data)
}

// RouteAgentStatusUpdate notifies dashboards that an agent's status or
// last-seen timestamp changed.
func (r *Router) RouteAgentStatusUpdate(update domain.AgentStatusUpdatePayload) {
	data, err := r.encode(domain.MsgAgentStatusUpdate, update)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to encode AgentStatusUpdate")
		return
	}
	r.conns.SendToAllDashboards(data)
}

// RouteSystemMetrics relays an agent's self-reported metrics to dashboards.
func (r *Router) RouteSystemMetrics(agentID uuid.UUID, metrics domain.SystemMetrics) {
	data, err := r.encode(domain.MsgSystemMetricsUpdate, domain.SystemMetricsUpdatePayload{AgentID: agentID, Metrics: metrics})
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to encode SystemMetricsUpdate")
		return
	}
	r.conns.SendToAllDashboards(data)
}

// BroadcastEmergencyAlert synthesizes a system-origin ThreatAlert (no
// underlying SecurityEvent) and fans it to every dashboard, used by the
// Pipeline Supervisor's emergency paths (spec §4.9, scenario S6).
func (r *Router) BroadcastEmergencyAlert(title, message string, severity domain.Severity) {
	alert := domain.ThreatAlert{
		ID:         uuid.New(),
		AlertType:  "EMERGENCY",
		Severity:   severity,
		Title:      title,
		Description: message,
		Status:     domain.AlertStatusOpen,
	}
	r.RouteThreatAlert(alert, "", title)
}

// AddEventSubscriber registers a named predicate invoked for every routed
// security event and returns its subscription ID for later removal.
func (r *Router) AddEventSubscriber(name string, predicate EventPredicate) uuid.UUID {
	id := uuid.New()
	r.mu.Lock()
	r.eventSubscribers = append(r.eventSubscribers, eventSubscriber{id: id, name: name, predicate: predicate})
	r.mu.Unlock()
	return id
}

// AddAlertSubscriber is the ThreatAlert analogue of AddEventSubscriber.
func (r *Router) AddAlertSubscriber(name string, predicate AlertPredicate) uuid.UUID {
	id := uuid.New()
	r.mu.Lock()
	r.alertSubscribers = append(r.alertSubscribers, alertSubscriber{id: id, name: name, predicate: predicate})
	r.mu.Unlock()
	return id
}

// RemoveSubscriber removes an event or alert subscriber by ID, whichever
// list it belongs to.
func (r *Router) RemoveSubscriber(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, s := range r.eventSubscribers {
		if s.id == id {
			r.eventSubscribers = append(r.eventSubscribers[:i], r.eventSubscribers[i+1:]...)
			return
		}
	}
	for i, s := range r.alertSubscribers {
		if s.id == id {
			r.alertSubscribers = append(r.alertSubscribers[:i], r.alertSubscribers[i+1:]...)
			return
		}
	}
}
