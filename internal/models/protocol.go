package models

import (
	"bytes"
	"encoding/json"
)

// POST /agents/register request
type RegisterRequest struct {
	Hostname          string `json:"hostname"`
	Username          string `json:"username"`
	MacAddress        string `json:"macAddress"`
	Platform          string `json:"platform"`
	Version           string `json:"version,omitempty"`
	EmployeeID        string `json:"employeeId,omitempty"`
	RegistrationToken string `json:"registrationToken,omitempty"`
}

// POST /agents/register response. PollInterval is in milliseconds.
type RegisterResponse struct {
	Success      bool   `json:"success"`
	AgentID      string `json:"agentId"`
	EmployeeID   string `json:"employeeId"`
	Token        string `json:"token"`
	ServerURL    string `json:"serverUrl"`
	PollInterval int64  `json:"pollInterval"`
}

// GET /agents/commands response
type PollResponse struct {
	Success  bool      `json:"success"`
	Commands []Command `json:"commands"`
	Count    int       `json:"count"`
}

// CommandReport is sent by an agent after running a command. Status is
// optional and only "executing" is meaningful; otherwise the presence of
// Error decides between completed and failed.
type CommandReport struct {
	CommandID string          `json:"commandId"`
	Status    CommandStatus   `json:"status,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// IssueCommandRequest is sent by the dashboard.
type IssueCommandRequest struct {
	EmployeeID string          `json:"employeeId,omitempty"`
	AgentID    string          `json:"agentId,omitempty"`
	Type       CommandType     `json:"type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	IssuedBy   string          `json:"issuedBy,omitempty"`
}

type IssueCommandResponse struct {
	Success   bool   `json:"success"`
	CommandID string `json:"commandId"`
	Message   string `json:"message"`
}

// RawActivity is one event as reported by an agent, before classification.
type RawActivity struct {
	Type        string          `json:"type"`
	Description string          `json:"description"`
	Metadata    map[string]any  `json:"metadata,omitempty"`
	Timestamp   json.RawMessage `json:"timestamp,omitempty"`
}

// TimestampString returns the agent timestamp verbatim, unquoting strings.
func (r RawActivity) TimestampString() string {
	raw := bytes.TrimSpace(r.Timestamp)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// POST /agents/activities request
type ActivityBatch struct {
	Activities []RawActivity `json:"activities"`
}

type ActivityBatchResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	SavedCount int    `json:"savedCount"`
}

// POST /agents/status request
type HeartbeatRequest struct {
	Status     AgentStatus `json:"status,omitempty"`
	SystemInfo *SystemInfo `json:"systemInfo,omitempty"`
}

type AgentStats struct {
	TotalAgents   int `json:"totalAgents"`
	OnlineAgents  int `json:"onlineAgents"`
	OfflineAgents int `json:"offlineAgents"`
}

// Event is the wire format for domain events published on the bus.
type Event struct {
	V           int               `msgpack:"v"`
	TS          int64             `msgpack:"ts"`
	Kind        string            `msgpack:"kind"`
	AgentID     string            `msgpack:"agent_id"`
	EmployeeID  string            `msgpack:"employee_id"`
	CommandID   string            `msgpack:"command_id,omitempty"`
	CommandType string            `msgpack:"command_type,omitempty"`
	Status      string            `msgpack:"status,omitempty"`
	Count       int               `msgpack:"count,omitempty"`
	Attributes  map[string]string `msgpack:"attributes,omitempty"`
}

const (
	EventAgentRegistered  = "agent.registered"
	EventCommandIssued    = "command.issued"
	EventCommandFinished  = "command.finished"
	EventActivityIngested = "activity.ingested"
)
