package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"insafe-backend/internal/models"
)

const employeeColumns = `id, employee_id, first_name, last_name, email, department, role,
	status, risk_level, risk_score, created_at, updated_at`

type employeeRow struct {
	ID         string    `db:"id"`
	EmployeeID string    `db:"employee_id"`
	FirstName  string    `db:"first_name"`
	LastName   string    `db:"last_name"`
	Email      string    `db:"email"`
	Department string    `db:"department"`
	Role       string    `db:"role"`
	Status     string    `db:"status"`
	RiskLevel  string    `db:"risk_level"`
	RiskScore  int       `db:"risk_score"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

func (r employeeRow) toModel() models.Employee {
	return models.Employee{
		ID:         r.ID,
		EmployeeID: r.EmployeeID,
		FirstName:  r.FirstName,
		LastName:   r.LastName,
		Email:      r.Email,
		Department: r.Department,
		Role:       r.Role,
		Status:     models.EmployeeStatus(r.Status),
		RiskLevel:  models.RiskLevel(r.RiskLevel),
		RiskScore:  r.RiskScore,
		CreatedAt:  r.CreatedAt.UTC(),
		UpdatedAt:  r.UpdatedAt.UTC(),
	}
}

// CreateEmployee inserts e, filling in id and timestamps. ErrConflict if the
// employee code is taken.
func (s *Storage) CreateEmployee(ctx context.Context, e *models.Employee) error {
	id, err := uuid.NewV7()
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	e.ID, e.CreatedAt, e.UpdatedAt = id.String(), now, now

	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO employees (`+employeeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		e.ID, e.EmployeeID, e.FirstName, e.LastName, e.Email, e.Department, e.Role,
		string(e.Status), string(e.RiskLevel), e.RiskScore, e.CreatedAt, e.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert employee %s: %w", e.EmployeeID, err)
	}
	return nil
}

// EnsureEmployee returns the employee with e.EmployeeID, creating it from e
// when absent. Concurrent callers converge on the same row.
func (s *Storage) EnsureEmployee(ctx context.Context, e models.Employee) (*models.Employee, error) {
	if err := insertEmployeeIfAbsent(ctx, s.db, e, time.Now().UTC()); err != nil {
		return nil, err
	}
	return s.GetEmployeeByEmployeeID(ctx, e.EmployeeID)
}

func insertEmployeeIfAbsent(ctx context.Context, ext sqlx.ExtContext, e models.Employee, now time.Time) error {
	id, err := uuid.NewV7()
	if err != nil {
		return err
	}
	_, err = ext.ExecContext(ctx, ext.Rebind(`
		INSERT INTO employees (`+employeeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (employee_id) DO NOTHING
	`),
		id.String(), e.EmployeeID, e.FirstName, e.LastName, e.Email, e.Department, e.Role,
		string(e.Status), string(e.RiskLevel), e.RiskScore, now, now,
	)
	if err != nil {
		return fmt.Errorf("ensure employee %s: %w", e.EmployeeID, err)
	}
	return nil
}

func (s *Storage) GetEmployeeByEmployeeID(ctx context.Context, employeeID string) (*models.Employee, error) {
	var row employeeRow
	err := s.db.GetContext(ctx, &row, s.rebind(`SELECT `+employeeColumns+` FROM employees WHERE employee_id = ?`), employeeID)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	e := row.toModel()
	return &e, nil
}

func (s *Storage) ListEmployees(ctx context.Context) ([]models.Employee, error) {
	var rows []employeeRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+employeeColumns+` FROM employees ORDER BY employee_id`); err != nil {
		return nil, err
	}
	out := make([]models.Employee, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, nil
}
