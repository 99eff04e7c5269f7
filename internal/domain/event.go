package domain

import (
	"time"

	"github.com/google/uuid"
)

// Severity is shared across SecurityEvent, DetectionRule and ThreatAlert.
type Severity string

const (
	SeverityLow      Severity = "Low"
	SeverityMedium   Severity = "Medium"
	SeverityHigh     Severity = "High"
	SeverityCritical Severity = "Critical"
)

// severityRank orders severities for tie-breaks and max() comparisons
// (spec §4.8: "max(rule.severity, contributing_events.severity)").
var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// MaxSeverity returns the higher-ranked of two severities.
func MaxSeverity(a, b Severity) Severity {
	if severityRank[b] > severityRank[a] {
		return b
	}
	return a
}

// Rank returns the numeric rank of a severity (higher is worse).
func (s Severity) Rank() int { return severityRank[s] }

// SecurityEvent is an append-only telemetry record from an agent (spec §3).
type SecurityEvent struct {
	ID          uuid.UUID              `json:"id"`
	AgentID     uuid.UUID              `json:"agent_id"`
	EventType   string                 `json:"event_type"`
	Severity    Severity               `json:"severity"`
	Title       string                 `json:"title"`
	Description string                 `json:"description,omitempty"`
	EventData   map[string]interface{} `json:"event_data"`
	RawData     string                 `json:"raw_data,omitempty"`
	SourceIP    string                 `json:"source_ip,omitempty"`
	ProcessName string                 `json:"process_name,omitempty"`
	FilePath    string                 `json:"file_path,omitempty"`
	UserName    string                 `json:"user_name,omitempty"`
	OccurredAt  time.Time              `json:"occurred_at"`
	CreatedAt   time.Time              `json:"created_at"`
}

// SecurityEventRequest is the wire shape an agent submits before enrichment
// and persistence assign an ID and CreatedAt.
type SecurityEventRequest struct {
	EventType   string                 `json:"event_type"`
	Severity    Severity               `json:"severity"`
	Title       string                 `json:"title"`
	Description string                 `json:"description,omitempty"`
	EventData   map[string]interface{} `json:"event_data"`
	RawData     string                 `json:"raw_data,omitempty"`
	SourceIP    string                 `json:"source_ip,omitempty"`
	ProcessName string                 `json:"process_name,omitempty"`
	FilePath    string                 `json:"file_path,omitempty"`
	UserName    string                 `json:"user_name,omitempty"`
	OccurredAt  time.Time              `json:"occurred_at"`
}

// DetectionRule drives C8 correlation (spec §3 / §4.8).
type DetectionRule struct {
	ID         uuid.UUID              `json:"id"`
	TenantID   uuid.UUID              `json:"tenant_id"`
	Name       string                 `json:"name"`
	RuleType   RuleType               `json:"rule_type"`
	Severity   Severity               `json:"severity"`
	Conditions map[string]interface{} `json:"conditions"`
	Actions    map[string]interface{} `json:"actions"`
	Enabled    bool                   `json:"enabled"`
	CreatedBy  *uuid.UUID             `json:"created_by,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

// RuleType enumerates the three correlation strategies from spec §4.8.
type RuleType string

const (
	RuleTypeThreshold  RuleType = "threshold"
	RuleTypeSequence   RuleType = "sequence"
	RuleTypeCrossAgent RuleType = "cross_agent"
)

// AlertStatus is the lifecycle of a ThreatAlert (spec §3).
type AlertStatus string

const (
	AlertStatusOpen          AlertStatus = "Open"
	AlertStatusInvestigating AlertStatus = "Investigating"
	AlertStatusResolved      AlertStatus = "Resolved"
	AlertStatusFalsePositive AlertStatus = "FalsePositive"
)

// ThreatAlert is produced by C8 or an operator and always references an
// existing event (spec invariant 5).
type ThreatAlert struct {
	ID          uuid.UUID  `json:"id"`
	EventID     uuid.UUID  `json:"event_id"`
	RuleID      *uuid.UUID `json:"rule_id,omitempty"`
	AgentID     uuid.UUID  `json:"agent_id"`
	AlertType   string     `json:"alert_type"`
	Severity    Severity   `json:"severity"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      AlertStatus `json:"status"`
	AssignedTo  *uuid.UUID `json:"assigned_to,omitempty"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	AffectedAgents []uuid.UUID `json:"affected_agents,omitempty"` // cross-agent rule matches
}
