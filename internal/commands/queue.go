// Package commands implements the per-agent command queue and the blocking
// state changes that completed commands imply.
package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"insafe-backend/internal/models"
	"insafe-backend/internal/natsbus"
	"insafe-backend/internal/storage"
)

var (
	ErrAgentNotFound      = errors.New("agent not found")
	ErrInvalidCommandType = errors.New("invalid command type")
	ErrMissingTarget      = errors.New("employeeId or agentId is required")
)

const defaultIssuer = "dashboard"

type Queue struct {
	store  *storage.Storage
	events natsbus.Publisher
	logger zerolog.Logger
	now    func() time.Time
}

func NewQueue(store *storage.Storage, events natsbus.Publisher, logger zerolog.Logger) *Queue {
	if events == nil {
		events = natsbus.Nop{}
	}
	return &Queue{
		store:  store,
		events: events,
		logger: logger.With().Str("component", "commands").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Enqueue resolves the target to a concrete agent and stores a pending
// command for it. agentId takes precedence over employeeId.
func (q *Queue) Enqueue(ctx context.Context, req models.IssueCommandRequest) (*models.Command, error) {
	if req.AgentID == "" && req.EmployeeID == "" {
		return nil, ErrMissingTarget
	}
	if !req.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCommandType, req.Type)
	}
	payload, err := models.ParsePayload(req.Type, req.Payload)
	if err != nil {
		return nil, err
	}

	agent, err := q.resolveTarget(ctx, req)
	if err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}
	issuedBy := req.IssuedBy
	if issuedBy == "" {
		issuedBy = defaultIssuer
	}

	cmd := models.Command{
		ID:         id.String(),
		AgentID:    agent.AgentID,
		EmployeeID: agent.EmployeeID,
		Type:       req.Type,
		Payload:    payload,
		Status:     models.CommandPending,
		IssuedBy:   issuedBy,
		CreatedAt:  q.now(),
	}
	if err := q.store.CreateCommand(ctx, cmd); err != nil {
		return nil, err
	}

	q.logger.Info().
		Str("command_id", cmd.ID).
		Str("agent_id", cmd.AgentID).
		Str("type", string(cmd.Type)).
		Str("issued_by", issuedBy).
		Msg("command queued")

	natsbus.Emit(ctx, q.events, q.logger, models.Event{
		Kind:        models.EventCommandIssued,
		AgentID:     cmd.AgentID,
		EmployeeID:  cmd.EmployeeID,
		CommandID:   cmd.ID,
		CommandType: string(cmd.Type),
		Status:      string(cmd.Status),
	})
	return &cmd, nil
}

func (q *Queue) resolveTarget(ctx context.Context, req models.IssueCommandRequest) (*models.Agent, error) {
	var (
		agent *models.Agent
		err   error
	)
	if req.AgentID != "" {
		agent, err = q.store.GetAgent(ctx, req.AgentID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrAgentNotFound
		}
	} else {
		agent, err = q.store.GetAgentByEmployeeID(ctx, req.EmployeeID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w for employee %s", ErrAgentNotFound, req.EmployeeID)
		}
	}
	if err != nil {
		return nil, err
	}
	return agent, nil
}

// Poll returns the agent's pending and executing commands oldest first
// without changing them.
func (q *Queue) Poll(ctx context.Context, agentID string) ([]models.Command, error) {
	return q.store.ListPendingCommands(ctx, agentID)
}

func (q *Queue) Get(ctx context.Context, id string) (*models.Command, error) {
	return q.store.GetCommand(ctx, id)
}

func (q *Queue) ListByEmployee(ctx context.Context, employeeID string, limit int) ([]models.Command, error) {
	if limit <= 0 {
		limit = 50
	}
	return q.store.ListCommandsByEmployee(ctx, employeeID, limit)
}

func (q *Queue) PendingSummary(ctx context.Context) (map[string]int, error) {
	return q.store.PendingCountsByAgent(ctx)
}

// Outcome describes what a report did. Command is nil when the report was
// acknowledged without touching any command.
type Outcome struct {
	Command *models.Command
	Changed bool
}

// Report applies an agent's report on one of its commands. Reports for
// unknown commands or commands owned by another agent are logged and
// acknowledged. Duplicate reports for a finished command change nothing.
func (q *Queue) Report(ctx context.Context, agentID string, report models.CommandReport) (*Outcome, error) {
	if err := models.RequireFields("commandId", report.CommandID); err != nil {
		return nil, err
	}

	switch report.Status {
	case "", models.CommandExecuting, models.CommandCompleted, models.CommandFailed:
	default:
		return nil, &models.ValidationError{Fields: []string{"status"}, Message: fmt.Sprintf("invalid status %q", report.Status)}
	}

	existing, err := q.store.GetCommand(ctx, report.CommandID)
	if errors.Is(err, storage.ErrNotFound) {
		q.logger.Warn().Str("command_id", report.CommandID).Str("agent_id", agentID).Msg("report for unknown command")
		return &Outcome{}, nil
	}
	if err != nil {
		return nil, err
	}
	if existing.AgentID != agentID {
		q.logger.Warn().
			Str("command_id", report.CommandID).
			Str("agent_id", agentID).
			Str("owner", existing.AgentID).
			Msg("report for command owned by another agent")
		return &Outcome{}, nil
	}

	now := q.now()
	if report.Status == models.CommandExecuting {
		cmd, changed, err := q.store.MarkCommandExecuting(ctx, report.CommandID, now)
		if err != nil {
			return nil, err
		}
		return &Outcome{Command: cmd, Changed: changed}, nil
	}

	completion := models.CommandCompletion{Status: models.CommandCompleted, Result: report.Result, At: now}
	if report.Error != "" || report.Status == models.CommandFailed {
		completion.Status = models.CommandFailed
		completion.Error = report.Error
		if completion.Error == "" {
			completion.Error = "command failed"
		}
	}

	cmd, changed, err := q.store.CompleteCommand(ctx, report.CommandID, completion, Effect)
	if err != nil {
		return nil, err
	}

	if !changed {
		q.logger.Debug().Str("command_id", cmd.ID).Str("status", string(cmd.Status)).Msg("duplicate report ignored")
		return &Outcome{Command: cmd}, nil
	}

	q.logger.Info().
		Str("command_id", cmd.ID).
		Str("agent_id", cmd.AgentID).
		Str("type", string(cmd.Type)).
		Str("status", string(cmd.Status)).
		Msg("command finished")

	natsbus.Emit(ctx, q.events, q.logger, models.Event{
		Kind:        models.EventCommandFinished,
		AgentID:     cmd.AgentID,
		EmployeeID:  cmd.EmployeeID,
		CommandID:   cmd.ID,
		CommandType: string(cmd.Type),
		Status:      string(cmd.Status),
	})
	return &Outcome{Command: cmd, Changed: true}, nil
}
