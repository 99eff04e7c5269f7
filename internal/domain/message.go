package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// MessageType tags every frame exchanged over the agent and dashboard
// transports (spec §4.5, §6). Routing is exhaustive pattern matching over
// these tags rather than type-switching on interface values (spec §9).
type MessageType string

// Agent -> server.
const (
	MsgSecurityEvent    MessageType = "SecurityEvent"
	MsgSecurityEvents   MessageType = "SecurityEvents"
	MsgHeartbeat        MessageType = "Heartbeat"
	MsgSystemMetrics    MessageType = "SystemMetrics"
	MsgCommandResponse  MessageType = "CommandResponse"
)

// Server -> agent.
const (
	MsgCommand               MessageType = "Command"
	MsgConfigUpdate          MessageType = "ConfigUpdate"
	MsgRuleUpdate            MessageType = "RuleUpdate"
	MsgRegistrationConfirmed MessageType = "RegistrationConfirmed"
	MsgHeartbeatAck          MessageType = "HeartbeatAck"
	MsgEventsProcessed       MessageType = "EventsProcessed"
)

// Server -> dashboard.
const (
	MsgAgentStatusUpdate    MessageType = "AgentStatusUpdate"
	MsgNewSecurityEvent     MessageType = "NewSecurityEvent"
	MsgNewThreatAlert       MessageType = "NewThreatAlert"
	MsgSystemMetricsUpdate  MessageType = "SystemMetricsUpdate"
	MsgCommandStatusUpdate  MessageType = "CommandStatusUpdate"
	MsgBatchProcessingSummary MessageType = "BatchProcessingSummary"
)

// Envelope is the single JSON-object-per-frame wire format shared by agent
// and dashboard transports (spec §6): one tagged arm per message kind, the
// way the teacher's agent.WSMessage does for its own protocol.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals payload into a tagged Envelope.
func NewEnvelope(t MessageType, payload interface{}) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: t, Payload: raw}, nil
}

// --- Agent -> server payloads ---

// SystemMetrics is the agent's self-reported resource usage.
type SystemMetrics struct {
	CPUPercent      float64 `json:"cpu"`
	MemoryPercent   float64 `json:"mem"`
	DiskPercent     float64 `json:"disk"`
	ConnectionCount int     `json:"conns"`
	ProcessCount    int     `json:"procs"`
}

// HeartbeatPayload carries the agent's self-reported status.
type HeartbeatPayload struct {
	Status  AgentStatus     `json:"status"`
	Metrics *SystemMetrics  `json:"metrics,omitempty"`
}

// CommandResponsePayload is an agent's report of command execution outcome.
type CommandResponsePayload struct {
	CommandID uuid.UUID               `json:"command_id"`
	Status    CommandStatus           `json:"status"`
	Result    map[string]interface{}  `json:"result,omitempty"`
}

// --- Server -> agent payloads ---

// CommandPayload is what C5 delivers to an agent's outbound queue.
type CommandPayload struct {
	CommandID   uuid.UUID              `json:"command_id"`
	CommandType string                 `json:"command_type"`
	CommandData map[string]interface{} `json:"command_data"`
}

// RegistrationConfirmedPayload acknowledges a successful registration.
type RegistrationConfirmedPayload struct {
	AgentID uuid.UUID `json:"agent_id"`
}

// HeartbeatAckPayload acknowledges a heartbeat.
type HeartbeatAckPayload struct {
	ServerTime time.Time `json:"server_time"`
}

// EventsProcessedPayload acknowledges a batch of events was accepted.
type EventsProcessedPayload struct {
	Count int `json:"count"`
}

// --- Server -> dashboard payloads ---

// AgentStatusUpdatePayload notifies dashboards of an agent's status change.
type AgentStatusUpdatePayload struct {
	AgentID  uuid.UUID   `json:"agent_id"`
	Status   AgentStatus `json:"status"`
	LastSeen *time.Time  `json:"last_seen,omitempty"`
}

// NewSecurityEventPayload wraps an enriched event for dashboard fan-out.
type NewSecurityEventPayload struct {
	Event     SecurityEvent `json:"event"`
	AgentName string        `json:"agent_name"`
}

// NewThreatAlertPayload wraps an alert for dashboard fan-out.
type NewThreatAlertPayload struct {
	Alert      ThreatAlert `json:"alert"`
	AgentName  string      `json:"agent_name"`
	EventTitle string      `json:"event_title"`
}

// SystemMetricsUpdatePayload relays an agent's metrics to dashboards.
type SystemMetricsUpdatePayload struct {
	AgentID uuid.UUID      `json:"agent_id"`
	Metrics SystemMetrics  `json:"metrics"`
}

// CommandStatusUpdatePayload relays command state transitions to dashboards.
type CommandStatusUpdatePayload struct {
	Command AgentCommand `json:"command"`
}

// BatchProcessingSummaryPayload summarizes a processed event batch.
type BatchProcessingSummaryPayload struct {
	AgentID   uuid.UUID `json:"agent_id"`
	Accepted  int       `json:"accepted"`
	Rejected  int       `json:"rejected"`
}
