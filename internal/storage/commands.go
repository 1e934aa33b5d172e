package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"insafe-backend/internal/models"
)

const commandColumns = `id, agent_id, employee_id, type, payload, status, issued_by,
	created_at, executed_at, completed_at, result, error`

type commandRow struct {
	ID          string         `db:"id"`
	AgentID     string         `db:"agent_id"`
	EmployeeID  string         `db:"employee_id"`
	Type        string         `db:"type"`
	PayloadJSON string         `db:"payload"`
	Status      string         `db:"status"`
	IssuedBy    string         `db:"issued_by"`
	CreatedAt   time.Time      `db:"created_at"`
	ExecutedAt  sql.NullTime   `db:"executed_at"`
	CompletedAt sql.NullTime   `db:"completed_at"`
	ResultJSON  sql.NullString `db:"result"`
	Error       sql.NullString `db:"error"`
}

func mapCommandRow(row commandRow) (models.Command, error) {
	cmdType := models.CommandType(row.Type)
	payload, err := models.ParsePayload(cmdType, json.RawMessage(row.PayloadJSON))
	if err != nil {
		return models.Command{}, fmt.Errorf("decode payload for command %s: %w", row.ID, err)
	}

	cmd := models.Command{
		ID:         row.ID,
		AgentID:    row.AgentID,
		EmployeeID: row.EmployeeID,
		Type:       cmdType,
		Payload:    payload,
		Status:     models.CommandStatus(row.Status),
		IssuedBy:   row.IssuedBy,
		CreatedAt:  row.CreatedAt.UTC(),
		Error:      row.Error.String,
	}
	if row.ExecutedAt.Valid {
		t := row.ExecutedAt.Time.UTC()
		cmd.ExecutedAt = &t
	}
	if row.CompletedAt.Valid {
		t := row.CompletedAt.Time.UTC()
		cmd.CompletedAt = &t
	}
	if row.ResultJSON.Valid && row.ResultJSON.String != "" {
		cmd.Result = json.RawMessage(row.ResultJSON.String)
	}
	return cmd, nil
}

func mapCommandRows(rows []commandRow) ([]models.Command, error) {
	out := make([]models.Command, 0, len(rows))
	for _, row := range rows {
		cmd, err := mapCommandRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, cmd)
	}
	return out, nil
}

func (s *Storage) CreateCommand(ctx context.Context, cmd models.Command) error {
	payload, err := json.Marshal(cmd.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO commands (id, agent_id, employee_id, type, payload, status, issued_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`), cmd.ID, cmd.AgentID, cmd.EmployeeID, string(cmd.Type), string(payload), string(cmd.Status), cmd.IssuedBy, cmd.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert command %s: %w", cmd.ID, err)
	}
	return nil
}

func (s *Storage) GetCommand(ctx context.Context, id string) (*models.Command, error) {
	return getCommand(ctx, s.db, id)
}

func getCommand(ctx context.Context, q sqlx.ExtContext, id string) (*models.Command, error) {
	var row commandRow
	err := sqlx.GetContext(ctx, q, &row, q.Rebind(`SELECT `+commandColumns+` FROM commands WHERE id = ?`), id)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	cmd, err := mapCommandRow(row)
	if err != nil {
		return nil, err
	}
	return &cmd, nil
}

// ListPendingCommands returns the agent's unfinished commands, pending or
// executing, oldest first. Executing commands stay deliverable until a
// terminal report so an agent that restarts mid-command picks them up again.
// Reading never changes status.
func (s *Storage) ListPendingCommands(ctx context.Context, agentID string) ([]models.Command, error) {
	var rows []commandRow
	err := s.db.SelectContext(ctx, &rows, s.rebind(`
		SELECT `+commandColumns+` FROM commands
		WHERE agent_id = ? AND status IN (?, ?)
		ORDER BY created_at ASC, id ASC
	`), agentID, string(models.CommandPending), string(models.CommandExecuting))
	if err != nil {
		return nil, err
	}
	return mapCommandRows(rows)
}

// ListCommandsByEmployee returns an employee's commands newest first.
func (s *Storage) ListCommandsByEmployee(ctx context.Context, employeeID string, limit int) ([]models.Command, error) {
	var rows []commandRow
	err := s.db.SelectContext(ctx, &rows, s.rebind(`
		SELECT `+commandColumns+` FROM commands
		WHERE employee_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`), employeeID, limit)
	if err != nil {
		return nil, err
	}
	return mapCommandRows(rows)
}

// PendingCountsByAgent returns the number of unfinished commands per agent.
func (s *Storage) PendingCountsByAgent(ctx context.Context) (map[string]int, error) {
	var rows []struct {
		AgentID string `db:"agent_id"`
		Count   int    `db:"n"`
	}
	err := s.db.SelectContext(ctx, &rows, s.rebind(`
		SELECT agent_id, COUNT(*) AS n FROM commands WHERE status IN (?, ?) GROUP BY agent_id
	`), string(models.CommandPending), string(models.CommandExecuting))
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(rows))
	for _, row := range rows {
		out[row.AgentID] = row.Count
	}
	return out, nil
}

// MarkCommandExecuting moves a pending command to executing. changed is false
// when the command had already left pending; the stored state is returned
// either way.
func (s *Storage) MarkCommandExecuting(ctx context.Context, id string, at time.Time) (cmd *models.Command, changed bool, err error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE commands SET status = ?, executed_at = ?
		WHERE id = ? AND status = ?
	`), string(models.CommandExecuting), at, id, string(models.CommandPending))
	if err != nil {
		return nil, false, fmt.Errorf("mark command %s executing: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}

	cmd, err = s.GetCommand(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return cmd, n > 0, nil
}

// EffectFunc maps a freshly completed command to the blocking change it
// implies, or nil.
type EffectFunc func(models.Command) *models.BlockingChange

// CompleteCommand moves a pending or executing command to completed or
// failed. When the command completes, effect's blocking change is written in
// the same transaction. A command that is already terminal is returned
// unchanged with changed=false and no effect is applied again.
func (s *Storage) CompleteCommand(ctx context.Context, id string, c models.CommandCompletion, effect EffectFunc) (cmd *models.Command, changed bool, err error) {
	if !c.Status.Terminal() {
		return nil, false, fmt.Errorf("completion status %q is not terminal", c.Status)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var result sql.NullString
	if len(c.Result) > 0 && string(c.Result) != "null" {
		result = sql.NullString{String: string(c.Result), Valid: true}
	}

	res, err := tx.ExecContext(ctx, tx.Rebind(`
		UPDATE commands SET status = ?, completed_at = ?, result = ?, error = ?
		WHERE id = ? AND status IN (?, ?)
	`), string(c.Status), c.At, result, nullIfEmpty(c.Error), id,
		string(models.CommandPending), string(models.CommandExecuting))
	if err != nil {
		return nil, false, fmt.Errorf("complete command %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}

	cmd, err = getCommand(ctx, tx, id)
	if err != nil {
		return nil, false, err
	}

	if n > 0 && cmd.Status == models.CommandCompleted && effect != nil {
		if change := effect(*cmd); change != nil {
			if err = updateBlockingState(ctx, tx, cmd.AgentID, change.Service, change.Blocked, c.At); err != nil {
				if errors.Is(err, ErrNotFound) {
					err = fmt.Errorf("apply %s to agent %s: %w", cmd.Type, cmd.AgentID, err)
				}
				return nil, false, err
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, false, err
	}
	return cmd, n > 0, nil
}
