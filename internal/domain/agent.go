package domain

import (
	"time"

	"github.com/google/uuid"
)

// AgentStatus is the lifecycle status of a registered agent (spec §3).
type AgentStatus string

const (
	AgentStatusOnline  AgentStatus = "Online"
	AgentStatusOffline AgentStatus = "Offline"
	AgentStatusUnknown AgentStatus = "Unknown"
	AgentStatusError   AgentStatus = "Error"
)

// Agent is the authoritative record of a registered endpoint (C3).
type Agent struct {
	ID                  uuid.UUID  `json:"id"`
	TenantID            uuid.UUID  `json:"tenant_id"`
	UserID              uuid.UUID  `json:"user_id"`
	HardwareFingerprint string     `json:"hardware_fingerprint"`
	DeviceName          string     `json:"device_name"`
	OSInfo              string     `json:"os_info"`
	Version             string     `json:"version"`
	Status              AgentStatus `json:"status"`
	LastHeartbeat       *time.Time `json:"last_heartbeat,omitempty"`
	RegisteredViaKeyID  *uuid.UUID `json:"registered_via_key_id,omitempty"`
	RegisteredViaTokenID *uuid.UUID `json:"registered_via_token_id,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
}

// RegisterWithAPIKeyRequest is the input to C3.register_with_api_key.
type RegisterWithAPIKeyRequest struct {
	RenderedAPIKey      string
	DeviceName          string
	HardwareFingerprint string
	OSInfo              string
	Version             string
}

// RegisterWithTokenRequest is the input to C3.register_with_token. DeviceName
// is sourced from the token, not the caller, per spec §4.3.
type RegisterWithTokenRequest struct {
	RenderedToken       string
	HardwareFingerprint string
	OSInfo              string
	Version             string
}
