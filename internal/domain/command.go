package domain

import (
	"time"

	"github.com/google/uuid"
)

// CommandStatus is the state machine from spec §4.5 / invariant 4:
// Pending -> Sent -> Executing -> {Completed | Failed | Timeout}, no
// backward edges.
type CommandStatus string

const (
	CommandStatusPending   CommandStatus = "Pending"
	CommandStatusSent      CommandStatus = "Sent"
	CommandStatusExecuting CommandStatus = "Executing"
	CommandStatusCompleted CommandStatus = "Completed"
	CommandStatusFailed    CommandStatus = "Failed"
	CommandStatusTimeout   CommandStatus = "Timeout"
)

// validCommandTransitions enumerates the monotonic edges of the state
// machine. A transition not listed here is rejected.
var validCommandTransitions = map[CommandStatus]map[CommandStatus]bool{
	CommandStatusPending: {
		CommandStatusSent: true,
	},
	CommandStatusSent: {
		CommandStatusExecuting: true,
		CommandStatusCompleted: true,
		CommandStatusFailed:    true,
		CommandStatusTimeout:   true,
	},
	CommandStatusExecuting: {
		CommandStatusCompleted: true,
		CommandStatusFailed:    true,
		CommandStatusTimeout:   true,
	},
}

// CanTransition reports whether moving from `from` to `to` is a legal edge
// of the command state machine.
func CanTransition(from, to CommandStatus) bool {
	return validCommandTransitions[from][to]
}

// AgentCommand is an operator- or supervisor-issued instruction dispatched
// to a specific agent (spec §3).
type AgentCommand struct {
	ID          uuid.UUID              `json:"id"`
	AgentID     uuid.UUID              `json:"agent_id"`
	IssuedBy    uuid.UUID              `json:"issued_by"`
	CommandType string                 `json:"command_type"`
	CommandData map[string]interface{} `json:"command_data"`
	Status      CommandStatus          `json:"status"`
	Result      map[string]interface{} `json:"result,omitempty"`
	IssuedAt    time.Time              `json:"issued_at"`
	ExecutedAt  *time.Time             `json:"executed_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
}
