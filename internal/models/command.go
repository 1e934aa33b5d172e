package models

import (
	"bytes"
	"encoding/json"
	"time"
)

type CommandType string

const (
	CommandDisableUSB              CommandType = "disable-usb"
	CommandEnableUSB               CommandType = "enable-usb"
	CommandBlockGit                CommandType = "block-git"
	CommandUnblockGit              CommandType = "unblock-git"
	CommandBlockFileUploads        CommandType = "block-file-uploads"
	CommandUnblockFileUploads      CommandType = "unblock-file-uploads"
	CommandBlockEmailAttachments   CommandType = "block-email-attachments"
	CommandUnblockEmailAttachments CommandType = "unblock-email-attachments"
	CommandGetStatus               CommandType = "get-status"
	CommandRestartAgent            CommandType = "restart-agent"
)

var commandTypes = []CommandType{
	CommandDisableUSB,
	CommandEnableUSB,
	CommandBlockGit,
	CommandUnblockGit,
	CommandBlockFileUploads,
	CommandUnblockFileUploads,
	CommandBlockEmailAttachments,
	CommandUnblockEmailAttachments,
	CommandGetStatus,
	CommandRestartAgent,
}

// CommandTypes lists every type an agent understands.
func CommandTypes() []CommandType {
	out := make([]CommandType, len(commandTypes))
	copy(out, commandTypes)
	return out
}

func (t CommandType) Valid() bool {
	for _, known := range commandTypes {
		if t == known {
			return true
		}
	}
	return false
}

type CommandStatus string

const (
	CommandPending   CommandStatus = "pending"
	CommandExecuting CommandStatus = "executing"
	CommandCompleted CommandStatus = "completed"
	CommandFailed    CommandStatus = "failed"
)

func (s CommandStatus) Terminal() bool {
	return s == CommandCompleted || s == CommandFailed
}

// CanTransitionTo reports whether s -> next moves forward in
// pending -> executing -> completed|failed.
func (s CommandStatus) CanTransitionTo(next CommandStatus) bool {
	switch s {
	case CommandPending:
		return next == CommandExecuting || next.Terminal()
	case CommandExecuting:
		return next.Terminal()
	}
	return false
}

// CommandPayload is implemented by the payload variant of each command type.
type CommandPayload interface {
	commandPayload()
}

// BlockingPayload accompanies the block/unblock and usb commands.
type BlockingPayload struct {
	Reason          string `json:"reason,omitempty"`
	DurationMinutes int    `json:"durationMinutes,omitempty"`
}

// RestartPayload accompanies restart-agent.
type RestartPayload struct {
	DelaySeconds int `json:"delaySeconds,omitempty"`
}

// StatusPayload accompanies get-status.
type StatusPayload struct {
	Verbose bool `json:"verbose,omitempty"`
}

func (BlockingPayload) commandPayload() {}
func (RestartPayload) commandPayload()  {}
func (StatusPayload) commandPayload()   {}

// ParsePayload decodes raw into the variant that belongs to t. An empty or
// null payload yields the zero value of that variant.
func ParsePayload(t CommandType, raw json.RawMessage) (CommandPayload, error) {
	empty := len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))

	switch t {
	case CommandGetStatus:
		var p StatusPayload
		if !empty {
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, &ValidationError{Fields: []string{"payload"}, Message: "invalid get-status payload"}
			}
		}
		return p, nil
	case CommandRestartAgent:
		var p RestartPayload
		if !empty {
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, &ValidationError{Fields: []string{"payload"}, Message: "invalid restart-agent payload"}
			}
		}
		if p.DelaySeconds < 0 {
			return nil, &ValidationError{Fields: []string{"payload.delaySeconds"}, Message: "delaySeconds must not be negative"}
		}
		return p, nil
	default:
		if !t.Valid() {
			return nil, &ValidationError{Fields: []string{"type"}, Message: "invalid command type"}
		}
		var p BlockingPayload
		if !empty {
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, &ValidationError{Fields: []string{"payload"}, Message: "invalid " + string(t) + " payload"}
			}
		}
		if p.DurationMinutes < 0 {
			return nil, &ValidationError{Fields: []string{"payload.durationMinutes"}, Message: "durationMinutes must not be negative"}
		}
		return p, nil
	}
}

type Command struct {
	ID          string          `json:"id"`
	AgentID     string          `json:"agentId"`
	EmployeeID  string          `json:"employeeId"`
	Type        CommandType     `json:"type"`
	Payload     CommandPayload  `json:"payload"`
	Status      CommandStatus   `json:"status"`
	IssuedBy    string          `json:"issuedBy"`
	CreatedAt   time.Time       `json:"createdAt"`
	ExecutedAt  *time.Time      `json:"executedAt,omitempty"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// UnmarshalJSON resolves the payload variant from the command type.
func (c *Command) UnmarshalJSON(data []byte) error {
	type alias Command
	aux := struct {
		*alias
		Payload json.RawMessage `json:"payload"`
	}{alias: (*alias)(c)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	payload, err := ParsePayload(c.Type, aux.Payload)
	if err != nil {
		return err
	}
	c.Payload = payload
	return nil
}

// CommandCompletion is an agent's report on a command it ran.
type CommandCompletion struct {
	Status CommandStatus
	Result json.RawMessage
	Error  string
	At     time.Time
}

// BlockingChange is the single blocking flag a completed command sets.
type BlockingChange struct {
	Service BlockedService `json:"service"`
	Blocked bool           `json:"blocked"`
}
