package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"insafe-backend/internal/models"
)

const (
	activityColumns = `id, employee_id, agent_id, type, description, details, risk_level, blocked, occurred_at`

	DefaultActivityLimit = 50
	MaxActivityLimit     = 500
)

type activityRow struct {
	ID          string    `db:"id"`
	EmployeeID  string    `db:"employee_id"`
	AgentID     string    `db:"agent_id"`
	Type        string    `db:"type"`
	Description string    `db:"description"`
	DetailsJSON string    `db:"details"`
	RiskLevel   string    `db:"risk_level"`
	Blocked     bool      `db:"blocked"`
	OccurredAt  time.Time `db:"occurred_at"`
}

func (s *Storage) CreateActivity(ctx context.Context, a models.Activity) error {
	details, err := json.Marshal(a.Details)
	if err != nil {
		return fmt.Errorf("encode details: %w", err)
	}

	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO activities (`+activityColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), a.ID, a.EmployeeID, a.AgentID, string(a.Type), a.Description, string(details),
		string(a.RiskLevel), a.Blocked, a.Timestamp)
	if err != nil {
		return fmt.Errorf("insert activity %s: %w", a.ID, err)
	}
	return nil
}

// ListActivities honours the first non-empty selector of f, newest first.
// With no selector it returns the most recent activities.
func (s *Storage) ListActivities(ctx context.Context, f models.ActivityFilter) ([]models.Activity, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultActivityLimit
	}
	if limit > MaxActivityLimit {
		limit = MaxActivityLimit
	}

	where, arg := "", ""
	switch {
	case f.EmployeeID != "":
		where, arg = "WHERE employee_id = ?", f.EmployeeID
	case f.AgentID != "":
		where, arg = "WHERE agent_id = ?", f.AgentID
	case f.Type != "":
		where, arg = "WHERE type = ?", string(f.Type)
	case f.RiskLevel != "":
		where, arg = "WHERE risk_level = ?", string(f.RiskLevel)
	}

	args := []interface{}{}
	if where != "" {
		args = append(args, arg)
	}
	args = append(args, limit)

	var rows []activityRow
	query := `SELECT ` + activityColumns + ` FROM activities ` + where + ` ORDER BY occurred_at DESC, id DESC LIMIT ?`
	if err := s.db.SelectContext(ctx, &rows, s.rebind(query), args...); err != nil {
		return nil, err
	}

	out := make([]models.Activity, 0, len(rows))
	for _, row := range rows {
		var details models.ActivityDetails
		if err := json.Unmarshal([]byte(row.DetailsJSON), &details); err != nil {
			return nil, fmt.Errorf("decode details for activity %s: %w", row.ID, err)
		}
		out = append(out, models.Activity{
			ID:          row.ID,
			EmployeeID:  row.EmployeeID,
			AgentID:     row.AgentID,
			Type:        models.ActivityType(row.Type),
			Description: row.Description,
			Details:     details,
			RiskLevel:   models.RiskLevel(row.RiskLevel),
			Blocked:     row.Blocked,
			Timestamp:   row.OccurredAt.UTC(),
		})
	}
	return out, nil
}
