package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"insafe-backend/internal/models"
)

const agentColumns = `agent_id, employee_id, hostname, mac_address, platform, version, ip_address,
	status, last_seen, system_info,
	cap_usb_control, cap_git_control, cap_file_monitoring, cap_file_upload_control, cap_email_attachment_control,
	blocked_git, blocked_usb, blocked_file_uploads, blocked_email_attachments,
	registered_at, updated_at`

// blockedColumns maps a service to the only column updateBlockingState may touch.
var blockedColumns = map[models.BlockedService]string{
	models.ServiceGit:              "blocked_git",
	models.ServiceUSB:              "blocked_usb",
	models.ServiceFileUploads:      "blocked_file_uploads",
	models.ServiceEmailAttachments: "blocked_email_attachments",
}

type agentRow struct {
	AgentID                string         `db:"agent_id"`
	EmployeeID             string         `db:"employee_id"`
	Hostname               string         `db:"hostname"`
	MacAddress             string         `db:"mac_address"`
	Platform               string         `db:"platform"`
	Version                string         `db:"version"`
	IPAddress              string         `db:"ip_address"`
	Status                 string         `db:"status"`
	LastSeen               time.Time      `db:"last_seen"`
	SystemInfoJSON         sql.NullString `db:"system_info"`
	CapUSBControl          bool           `db:"cap_usb_control"`
	CapGitControl          bool           `db:"cap_git_control"`
	CapFileMonitoring      bool           `db:"cap_file_monitoring"`
	CapFileUploadControl   bool           `db:"cap_file_upload_control"`
	CapEmailAttachment     bool           `db:"cap_email_attachment_control"`
	BlockedGit             bool           `db:"blocked_git"`
	BlockedUSB             bool           `db:"blocked_usb"`
	BlockedFileUploads     bool           `db:"blocked_file_uploads"`
	BlockedEmailAttachment bool           `db:"blocked_email_attachments"`
	RegisteredAt           time.Time      `db:"registered_at"`
	UpdatedAt              time.Time      `db:"updated_at"`
}

func mapAgentRow(row agentRow) (models.Agent, error) {
	agent := models.Agent{
		AgentID:    row.AgentID,
		EmployeeID: row.EmployeeID,
		Hostname:   row.Hostname,
		MacAddress: row.MacAddress,
		Platform:   row.Platform,
		Version:    row.Version,
		IPAddress:  row.IPAddress,
		Status:     models.AgentStatus(row.Status),
		LastSeen:   row.LastSeen.UTC(),
		Capabilities: models.Capabilities{
			USBControl:             row.CapUSBControl,
			GitControl:             row.CapGitControl,
			FileMonitoring:         row.CapFileMonitoring,
			FileUploadControl:      row.CapFileUploadControl,
			EmailAttachmentControl: row.CapEmailAttachment,
		},
		BlockedServices: models.BlockedServices{
			Git:              row.BlockedGit,
			USB:              row.BlockedUSB,
			FileUploads:      row.BlockedFileUploads,
			EmailAttachments: row.BlockedEmailAttachment,
		},
		RegisteredAt: row.RegisteredAt.UTC(),
		UpdatedAt:    row.UpdatedAt.UTC(),
	}

	if row.SystemInfoJSON.Valid && row.SystemInfoJSON.String != "" {
		var info models.SystemInfo
		if err := json.Unmarshal([]byte(row.SystemInfoJSON.String), &info); err != nil {
			return models.Agent{}, fmt.Errorf("decode system_info for %s: %w", row.AgentID, err)
		}
		agent.SystemInfo = &info
	}
	return agent, nil
}

func mapAgentRows(rows []agentRow) ([]models.Agent, error) {
	out := make([]models.Agent, 0, len(rows))
	for _, row := range rows {
		agent, err := mapAgentRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, agent)
	}
	return out, nil
}

// UpsertAgent inserts a new agent or, when the (hostname, macAddress)
// fingerprint already exists, refreshes its metadata while keeping the stored
// agentId, employeeId, registeredAt and blocking flags. The persisted record
// is returned.
func (s *Storage) UpsertAgent(ctx context.Context, a models.Agent) (*models.Agent, error) {
	return upsertAgent(ctx, s.db, a)
}

// Registration is everything RegisterAgent persists for one registration.
type Registration struct {
	Agent models.Agent
	// Placeholder is created when absent and becomes the agent's employee.
	Placeholder *models.Employee
	// Token, when set, is consumed by this registration.
	Token string
}

// RegisterAgent consumes the registration token, ensures the placeholder
// employee and upserts the agent in one transaction. Nothing is kept when
// any step fails, so a token is only spent by a registration that persisted.
func (s *Storage) RegisterAgent(ctx context.Context, reg Registration, now time.Time) (agent *models.Agent, err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if reg.Token != "" {
		if err = consumeRegistrationToken(ctx, tx, reg.Token, reg.Agent.AgentID, now); err != nil {
			return nil, err
		}
	}

	if reg.Placeholder != nil {
		if err = insertEmployeeIfAbsent(ctx, tx, *reg.Placeholder, now); err != nil {
			return nil, err
		}
		reg.Agent.EmployeeID = reg.Placeholder.EmployeeID
	}

	if agent, err = upsertAgent(ctx, tx, reg.Agent); err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return agent, nil
}

func upsertAgent(ctx context.Context, ext sqlx.ExtContext, a models.Agent) (*models.Agent, error) {
	_, err := ext.ExecContext(ctx, ext.Rebind(`
		INSERT INTO agents (
			agent_id, employee_id, hostname, mac_address, platform, version, ip_address,
			status, last_seen,
			cap_usb_control, cap_git_control, cap_file_monitoring, cap_file_upload_control, cap_email_attachment_control,
			blocked_git, blocked_usb, blocked_file_uploads, blocked_email_attachments,
			registered_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (hostname, mac_address) DO UPDATE SET
			platform = excluded.platform,
			version = excluded.version,
			ip_address = excluded.ip_address,
			status = excluded.status,
			last_seen = excluded.last_seen,
			cap_usb_control = excluded.cap_usb_control,
			cap_git_control = excluded.cap_git_control,
			cap_file_monitoring = excluded.cap_file_monitoring,
			cap_file_upload_control = excluded.cap_file_upload_control,
			cap_email_attachment_control = excluded.cap_email_attachment_control,
			updated_at = excluded.updated_at
	`),
		a.AgentID, a.EmployeeID, a.Hostname, a.MacAddress, a.Platform, a.Version, a.IPAddress,
		string(a.Status), a.LastSeen,
		a.Capabilities.USBControl, a.Capabilities.GitControl, a.Capabilities.FileMonitoring,
		a.Capabilities.FileUploadControl, a.Capabilities.EmailAttachmentControl,
		a.BlockedServices.Git, a.BlockedServices.USB, a.BlockedServices.FileUploads, a.BlockedServices.EmailAttachments,
		a.RegisteredAt, a.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert agent %s/%s: %w", a.Hostname, a.MacAddress, err)
	}
	return getAgent(ctx, ext, `SELECT `+agentColumns+` FROM agents WHERE hostname = ? AND mac_address = ?`,
		a.Hostname, a.MacAddress)
}

func (s *Storage) GetAgent(ctx context.Context, agentID string) (*models.Agent, error) {
	return s.getAgent(ctx, `SELECT `+agentColumns+` FROM agents WHERE agent_id = ?`, agentID)
}

func (s *Storage) GetAgentByFingerprint(ctx context.Context, fp models.Fingerprint) (*models.Agent, error) {
	return s.getAgent(ctx, `SELECT `+agentColumns+` FROM agents WHERE hostname = ? AND mac_address = ?`,
		fp.Hostname, fp.MacAddress)
}

// GetAgentByEmployeeID returns the most recently seen agent of an employee.
func (s *Storage) GetAgentByEmployeeID(ctx context.Context, employeeID string) (*models.Agent, error) {
	return s.getAgent(ctx, `
		SELECT `+agentColumns+` FROM agents
		WHERE employee_id = ?
		ORDER BY last_seen DESC, agent_id
		LIMIT 1
	`, employeeID)
}

func (s *Storage) getAgent(ctx context.Context, query string, args ...interface{}) (*models.Agent, error) {
	return getAgent(ctx, s.db, query, args...)
}

func getAgent(ctx context.Context, q sqlx.ExtContext, query string, args ...interface{}) (*models.Agent, error) {
	var row agentRow
	err := sqlx.GetContext(ctx, q, &row, q.Rebind(query), args...)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	agent, err := mapAgentRow(row)
	if err != nil {
		return nil, err
	}
	return &agent, nil
}

func (s *Storage) ListAgents(ctx context.Context) ([]models.Agent, error) {
	var rows []agentRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+agentColumns+` FROM agents ORDER BY registered_at, agent_id`); err != nil {
		return nil, err
	}
	return mapAgentRows(rows)
}

func (s *Storage) ListAgentsByStatus(ctx context.Context, status models.AgentStatus) ([]models.Agent, error) {
	var rows []agentRow
	err := s.db.SelectContext(ctx, &rows,
		s.rebind(`SELECT `+agentColumns+` FROM agents WHERE status = ? ORDER BY last_seen DESC, agent_id`),
		string(status))
	if err != nil {
		return nil, err
	}
	return mapAgentRows(rows)
}

// UpdateAgentStatus records a heartbeat. A nil info keeps the last snapshot.
func (s *Storage) UpdateAgentStatus(ctx context.Context, agentID string, status models.AgentStatus, info *models.SystemInfo, at time.Time) error {
	var infoJSON sql.NullString
	if info != nil {
		data, err := json.Marshal(info)
		if err != nil {
			return err
		}
		infoJSON = sql.NullString{String: string(data), Valid: true}
	}

	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE agents
		SET status = ?, last_seen = ?, system_info = COALESCE(?, system_info), updated_at = ?
		WHERE agent_id = ?
	`), string(status), at, infoJSON, at, agentID)
	if err != nil {
		return fmt.Errorf("update agent status %s: %w", agentID, err)
	}
	return requireRow(res)
}

// MarkStaleAgentsOffline flips online agents not seen since cutoff to
// offline. last_seen is left untouched.
func (s *Storage) MarkStaleAgentsOffline(ctx context.Context, cutoff, at time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE agents
		SET status = ?, updated_at = ?
		WHERE status = ? AND last_seen < ?
	`), string(models.AgentStatusOffline), at, string(models.AgentStatusOnline), cutoff)
	if err != nil {
		return 0, fmt.Errorf("mark stale agents offline: %w", err)
	}
	return res.RowsAffected()
}

// UpdateBlockingState flips exactly one blocked flag.
func (s *Storage) UpdateBlockingState(ctx context.Context, agentID string, service models.BlockedService, blocked bool) error {
	return updateBlockingState(ctx, s.db, agentID, service, blocked, time.Now().UTC())
}

func updateBlockingState(ctx context.Context, ext sqlx.ExtContext, agentID string, service models.BlockedService, blocked bool, at time.Time) error {
	column, ok := blockedColumns[service]
	if !ok {
		return fmt.Errorf("unknown blocked service %q", service)
	}

	res, err := ext.ExecContext(ctx, ext.Rebind(`UPDATE agents SET `+column+` = ?, updated_at = ? WHERE agent_id = ?`),
		blocked, at, agentID)
	if err != nil {
		return fmt.Errorf("update %s for %s: %w", column, agentID, err)
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
