package domain

import "github.com/google/uuid"

// ConnectionKind discriminates what a live transport endpoint represents
// (spec §3: Connection.kind ∈ {Agent(agent_id), Dashboard(user_id)}).
type ConnectionKind int

const (
	ConnectionKindAgent ConnectionKind = iota
	ConnectionKindDashboard
)

// ConnectionIdentity names the principal on the other end of a connection.
type ConnectionIdentity struct {
	Kind    ConnectionKind
	AgentID uuid.UUID // valid when Kind == ConnectionKindAgent
	UserID  uuid.UUID // valid when Kind == ConnectionKindDashboard
}
