package storage

import (
	"context"
	"fmt"
	"strings"
)

const schemaTemplate = `
CREATE TABLE IF NOT EXISTS employees (
	id TEXT PRIMARY KEY,
	employee_id TEXT NOT NULL UNIQUE,
	first_name TEXT NOT NULL DEFAULT '',
	last_name TEXT NOT NULL DEFAULT '',
	email TEXT NOT NULL DEFAULT '',
	department TEXT NOT NULL DEFAULT '',
	role TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	risk_level TEXT NOT NULL,
	risk_score INTEGER NOT NULL DEFAULT 0,
	created_at {{timestamp}} NOT NULL,
	updated_at {{timestamp}} NOT NULL
);

CREATE TABLE IF NOT EXISTS agents (
	agent_id TEXT PRIMARY KEY,
	employee_id TEXT NOT NULL,
	hostname TEXT NOT NULL,
	mac_address TEXT NOT NULL,
	platform TEXT NOT NULL,
	version TEXT NOT NULL DEFAULT '',
	ip_address TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	last_seen {{timestamp}} NOT NULL,
	system_info {{json}},
	cap_usb_control BOOLEAN NOT NULL DEFAULT TRUE,
	cap_git_control BOOLEAN NOT NULL DEFAULT TRUE,
	cap_file_monitoring BOOLEAN NOT NULL DEFAULT TRUE,
	cap_file_upload_control BOOLEAN NOT NULL DEFAULT TRUE,
	cap_email_attachment_control BOOLEAN NOT NULL DEFAULT TRUE,
	blocked_git BOOLEAN NOT NULL DEFAULT FALSE,
	blocked_usb BOOLEAN NOT NULL DEFAULT FALSE,
	blocked_file_uploads BOOLEAN NOT NULL DEFAULT FALSE,
	blocked_email_attachments BOOLEAN NOT NULL DEFAULT FALSE,
	registered_at {{timestamp}} NOT NULL,
	updated_at {{timestamp}} NOT NULL,
	UNIQUE (hostname, mac_address)
);

CREATE INDEX IF NOT EXISTS idx_agents_employee ON agents (employee_id);

CREATE TABLE IF NOT EXISTS commands (
	id TEXT PRIMARY KEY,
	agent_id TEXT NOT NULL REFERENCES agents (agent_id),
	employee_id TEXT NOT NULL,
	type TEXT NOT NULL,
	payload {{json}} NOT NULL,
	status TEXT NOT NULL,
	issued_by TEXT NOT NULL DEFAULT '',
	created_at {{timestamp}} NOT NULL,
	executed_at {{timestamp}},
	completed_at {{timestamp}},
	result {{json}},
	error TEXT
);

CREATE INDEX IF NOT EXISTS idx_commands_agent_status ON commands (agent_id, status, created_at);
CREATE INDEX IF NOT EXISTS idx_commands_employee ON commands (employee_id, created_at);

CREATE TABLE IF NOT EXISTS activities (
	id TEXT PRIMARY KEY,
	employee_id TEXT NOT NULL,
	agent_id TEXT NOT NULL,
	type TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	details {{json}} NOT NULL,
	risk_level TEXT NOT NULL,
	blocked BOOLEAN NOT NULL DEFAULT FALSE,
	occurred_at {{timestamp}} NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_activities_timestamp ON activities (occurred_at);
CREATE INDEX IF NOT EXISTS idx_activities_employee ON activities (employee_id, occurred_at);
CREATE INDEX IF NOT EXISTS idx_activities_agent ON activities (agent_id, occurred_at);

CREATE TABLE IF NOT EXISTS registration_tokens (
	id TEXT PRIMARY KEY,
	token_prefix TEXT NOT NULL,
	token_hash TEXT NOT NULL,
	created_by TEXT,
	created_at {{timestamp}} NOT NULL,
	expires_at {{timestamp}} NOT NULL,
	used_at {{timestamp}},
	used_by_agent TEXT
);

CREATE INDEX IF NOT EXISTS idx_registration_tokens_prefix ON registration_tokens (token_prefix);
`

func schemaFor(driver string) string {
	timestamp, jsonType := "TIMESTAMPTZ", "JSONB"
	if driver == DriverSQLite {
		timestamp, jsonType = "DATETIME", "TEXT"
	}
	return strings.NewReplacer("{{timestamp}}", timestamp, "{{json}}", jsonType).Replace(schemaTemplate)
}

// Migrate creates missing tables and indexes. It is safe to run on every start.
func (s *Storage) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schemaFor(s.Driver()), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
