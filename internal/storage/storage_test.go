package storage

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"insafe-backend/internal/models"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := Open(context.Background(), DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newAgent(hostname, mac, employeeID string, now time.Time) models.Agent {
	return models.Agent{
		AgentID:      uuid.NewString(),
		EmployeeID:   employeeID,
		Hostname:     hostname,
		MacAddress:   mac,
		Platform:     "linux",
		Version:      "1.0.0",
		Status:       models.AgentStatusOnline,
		LastSeen:     now,
		Capabilities: models.DefaultCapabilities(),
		RegisteredAt: now,
		UpdatedAt:    now,
	}
}

func newCommand(agent *models.Agent, t models.CommandType, createdAt time.Time) models.Command {
	id, _ := uuid.NewV7()
	payload, _ := models.ParsePayload(t, nil)
	return models.Command{
		ID:         id.String(),
		AgentID:    agent.AgentID,
		EmployeeID: agent.EmployeeID,
		Type:       t,
		Payload:    payload,
		Status:     models.CommandPending,
		IssuedBy:   "admin",
		CreatedAt:  createdAt,
	}
}

func usbEffect(cmd models.Command) *models.BlockingChange {
	if cmd.Type == models.CommandDisableUSB {
		return &models.BlockingChange{Service: models.ServiceUSB, Blocked: true}
	}
	return nil
}

func TestUpsertAgentKeepsIdentityAndBlocking(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	now := time.Now().UTC()

	first, err := s.UpsertAgent(ctx, newAgent("h1", "m1", "EMP_A", now))
	if err != nil {
		t.Fatalf("UpsertAgent: %v", err)
	}
	if err := s.UpdateBlockingState(ctx, first.AgentID, models.ServiceGit, true); err != nil {
		t.Fatalf("UpdateBlockingState: %v", err)
	}

	again := newAgent("h1", "m1", "EMP_B", now.Add(time.Minute))
	again.Platform = "darwin"
	second, err := s.UpsertAgent(ctx, again)
	if err != nil {
		t.Fatalf("UpsertAgent again: %v", err)
	}

	if second.AgentID != first.AgentID {
		t.Errorf("agent id changed: %s -> %s", first.AgentID, second.AgentID)
	}
	if second.EmployeeID != "EMP_A" {
		t.Errorf("employee id changed to %s", second.EmployeeID)
	}
	if !second.BlockedServices.Git {
		t.Error("blocked git flag lost on re-registration")
	}
	if second.Platform != "darwin" {
		t.Errorf("platform not refreshed: %s", second.Platform)
	}

	agents, err := s.ListAgents(ctx)
	if err != nil {
		t.Fatalf("ListAgents: %v", err)
	}
	if len(agents) != 1 {
		t.Errorf("expected 1 agent, got %d", len(agents))
	}
}

func TestAgentLookups(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	now := time.Now().UTC()

	older, _ := s.UpsertAgent(ctx, newAgent("h1", "m1", "EMP_A", now.Add(-time.Hour)))
	newer, _ := s.UpsertAgent(ctx, newAgent("h2", "m2", "EMP_A", now))

	got, err := s.GetAgentByEmployeeID(ctx, "EMP_A")
	if err != nil {
		t.Fatalf("GetAgentByEmployeeID: %v", err)
	}
	if got.AgentID != newer.AgentID {
		t.Errorf("expected most recently seen agent %s, got %s", newer.AgentID, got.AgentID)
	}

	got, err = s.GetAgentByFingerprint(ctx, models.Fingerprint{Hostname: "h1", MacAddress: "m1"})
	if err != nil || got.AgentID != older.AgentID {
		t.Errorf("GetAgentByFingerprint: %v %+v", err, got)
	}

	if _, err := s.GetAgent(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.GetAgentByEmployeeID(ctx, "EMP_NONE"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateAgentStatus(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	now := time.Now().UTC()
	agent, _ := s.UpsertAgent(ctx, newAgent("h1", "m1", "EMP_A", now.Add(-time.Hour)))

	info := &models.SystemInfo{Uptime: 42, CPU: models.CPUInfo{Count: 8}}
	if err := s.UpdateAgentStatus(ctx, agent.AgentID, models.AgentStatusOnline, info, now); err != nil {
		t.Fatalf("UpdateAgentStatus: %v", err)
	}
	// a heartbeat without a snapshot keeps the previous one
	if err := s.UpdateAgentStatus(ctx, agent.AgentID, models.AgentStatusOffline, nil, now.Add(time.Second)); err != nil {
		t.Fatalf("UpdateAgentStatus: %v", err)
	}

	got, _ := s.GetAgent(ctx, agent.AgentID)
	if got.Status != models.AgentStatusOffline {
		t.Errorf("expected offline, got %s", got.Status)
	}
	if got.SystemInfo == nil || got.SystemInfo.Uptime != 42 || got.SystemInfo.CPU.Count != 8 {
		t.Errorf("system info not kept: %+v", got.SystemInfo)
	}
	if !got.LastSeen.Equal(now.Add(time.Second)) {
		t.Errorf("last seen %v, want %v", got.LastSeen, now.Add(time.Second))
	}

	if err := s.UpdateAgentStatus(ctx, "missing", models.AgentStatusOnline, nil, now); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := s.UpdateBlockingState(ctx, agent.AgentID, "printer", true); err == nil {
		t.Error("expected error for unknown service")
	}
}

func TestPendingCommandsOrdered(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	now := time.Now().UTC()
	agent, _ := s.UpsertAgent(ctx, newAgent("h1", "m1", "EMP_A", now))
	other, _ := s.UpsertAgent(ctx, newAgent("h2", "m2", "EMP_B", now))

	c2 := newCommand(agent, models.CommandBlockGit, now.Add(time.Second))
	c1 := newCommand(agent, models.CommandDisableUSB, now)
	for _, c := range []models.Command{c2, c1, newCommand(other, models.CommandGetStatus, now)} {
		if err := s.CreateCommand(ctx, c); err != nil {
			t.Fatalf("CreateCommand: %v", err)
		}
	}

	for i := 0; i < 2; i++ {
		pending, err := s.ListPendingCommands(ctx, agent.AgentID)
		if err != nil {
			t.Fatalf("ListPendingCommands: %v", err)
		}
		if len(pending) != 2 || pending[0].ID != c1.ID || pending[1].ID != c2.ID {
			t.Fatalf("poll %d: unexpected order %+v", i, pending)
		}
	}

	counts, err := s.PendingCountsByAgent(ctx)
	if err != nil {
		t.Fatalf("PendingCountsByAgent: %v", err)
	}
	if counts[agent.AgentID] != 2 || counts[other.AgentID] != 1 {
		t.Errorf("unexpected counts %v", counts)
	}
}

func TestCompleteCommand(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	tests := []struct {
		name        string
		completion  models.CommandCompletion
		wantStatus  models.CommandStatus
		wantBlocked bool
	}{
		{
			name:        "success applies effect",
			completion:  models.CommandCompletion{Status: models.CommandCompleted, Result: json.RawMessage(`{"ok":true}`), At: now},
			wantStatus:  models.CommandCompleted,
			wantBlocked: true,
		},
		{
			name:        "failure leaves state",
			completion:  models.CommandCompletion{Status: models.CommandFailed, Error: "permission denied", At: now},
			wantStatus:  models.CommandFailed,
			wantBlocked: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStorage(t)
			agent, _ := s.UpsertAgent(ctx, newAgent("h1", "m1", "EMP_A", now))
			cmd := newCommand(agent, models.CommandDisableUSB, now)
			if err := s.CreateCommand(ctx, cmd); err != nil {
				t.Fatalf("CreateCommand: %v", err)
			}

			got, changed, err := s.CompleteCommand(ctx, cmd.ID, tt.completion, usbEffect)
			if err != nil {
				t.Fatalf("CompleteCommand: %v", err)
			}
			if !changed || got.Status != tt.wantStatus || got.CompletedAt == nil {
				t.Fatalf("unexpected command %+v changed=%v", got, changed)
			}

			stored, _ := s.GetAgent(ctx, agent.AgentID)
			if stored.BlockedServices.USB != tt.wantBlocked {
				t.Errorf("usb blocked = %v, want %v", stored.BlockedServices.USB, tt.wantBlocked)
			}

			pending, _ := s.ListPendingCommands(ctx, agent.AgentID)
			if len(pending) != 0 {
				t.Errorf("terminal command still pending")
			}
		})
	}
}

func TestCompleteCommandIsMonotonic(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	now := time.Now().UTC()
	agent, _ := s.UpsertAgent(ctx, newAgent("h1", "m1", "EMP_A", now))
	cmd := newCommand(agent, models.CommandDisableUSB, now)
	_ = s.CreateCommand(ctx, cmd)

	if _, changed, err := s.MarkCommandExecuting(ctx, cmd.ID, now); err != nil || !changed {
		t.Fatalf("MarkCommandExecuting: changed=%v err=%v", changed, err)
	}
	if _, changed, _ := s.MarkCommandExecuting(ctx, cmd.ID, now); changed {
		t.Error("executing twice should not change state")
	}
	if pending, _ := s.ListPendingCommands(ctx, agent.AgentID); len(pending) != 1 || pending[0].Status != models.CommandExecuting {
		t.Errorf("executing command should stay deliverable, got %+v", pending)
	}

	done := models.CommandCompletion{Status: models.CommandCompleted, At: now}
	if _, changed, err := s.CompleteCommand(ctx, cmd.ID, done, usbEffect); err != nil || !changed {
		t.Fatalf("CompleteCommand: changed=%v err=%v", changed, err)
	}

	// an agent re-enables usb locally; a duplicate report must not re-apply the effect
	_ = s.UpdateBlockingState(ctx, agent.AgentID, models.ServiceUSB, false)

	failed := models.CommandCompletion{Status: models.CommandFailed, Error: "late", At: now}
	got, changed, err := s.CompleteCommand(ctx, cmd.ID, failed, usbEffect)
	if err != nil {
		t.Fatalf("CompleteCommand: %v", err)
	}
	if changed || got.Status != models.CommandCompleted || got.Error != "" {
		t.Errorf("terminal command regressed: %+v changed=%v", got, changed)
	}
	if pending, _ := s.ListPendingCommands(ctx, agent.AgentID); len(pending) != 0 {
		t.Errorf("terminal command still deliverable: %+v", pending)
	}
	if _, changed, _ := s.MarkCommandExecuting(ctx, cmd.ID, now); changed {
		t.Error("completed command moved back to executing")
	}

	stored, _ := s.GetAgent(ctx, agent.AgentID)
	if stored.BlockedServices.USB {
		t.Error("effect re-applied on duplicate report")
	}

	if _, _, err := s.CompleteCommand(ctx, "missing", done, usbEffect); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestEnsureEmployee(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	first, err := s.EnsureEmployee(ctx, models.PlaceholderEmployee("alice", "example.com"))
	if err != nil {
		t.Fatalf("EnsureEmployee: %v", err)
	}
	second, err := s.EnsureEmployee(ctx, models.PlaceholderEmployee("alice", "example.com"))
	if err != nil {
		t.Fatalf("EnsureEmployee again: %v", err)
	}
	if first.ID != second.ID || first.EmployeeID != "EMP_ALICE" {
		t.Errorf("expected one employee, got %+v and %+v", first, second)
	}

	dup := models.PlaceholderEmployee("alice", "example.com")
	if err := s.CreateEmployee(ctx, &dup); !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}

	all, _ := s.ListEmployees(ctx)
	if len(all) != 1 || all[0].RiskLevel != models.RiskLow {
		t.Errorf("unexpected employees %+v", all)
	}
}

func TestListActivities(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	base := time.Now().UTC().Add(-time.Hour)

	seed := []models.Activity{
		{EmployeeID: "EMP_A", AgentID: "a1", Type: models.ActivityUSBDetected, RiskLevel: models.RiskHigh},
		{EmployeeID: "EMP_A", AgentID: "a1", Type: models.ActivityFileAccess, RiskLevel: models.RiskLow},
		{EmployeeID: "EMP_B", AgentID: "b1", Type: models.ActivityNetwork, RiskLevel: models.RiskMedium},
	}
	for i := range seed {
		seed[i].ID = uuid.NewString()
		seed[i].Timestamp = base.Add(time.Duration(i) * time.Minute)
		seed[i].Details = models.ActivityDetails{OriginalType: string(seed[i].Type), Metadata: map[string]any{"i": float64(i)}}
		if err := s.CreateActivity(ctx, seed[i]); err != nil {
			t.Fatalf("CreateActivity: %v", err)
		}
	}

	tests := []struct {
		name   string
		filter models.ActivityFilter
		want   int
		first  models.ActivityType
	}{
		{"recent", models.ActivityFilter{}, 3, models.ActivityNetwork},
		{"limit", models.ActivityFilter{Limit: 1}, 1, models.ActivityNetwork},
		{"employee", models.ActivityFilter{EmployeeID: "EMP_A"}, 2, models.ActivityFileAccess},
		{"agent", models.ActivityFilter{AgentID: "b1"}, 1, models.ActivityNetwork},
		{"type", models.ActivityFilter{Type: models.ActivityUSBDetected}, 1, models.ActivityUSBDetected},
		{"risk", models.ActivityFilter{RiskLevel: models.RiskLow}, 1, models.ActivityFileAccess},
		{"employee wins over type", models.ActivityFilter{EmployeeID: "EMP_B", Type: models.ActivityUSBDetected}, 1, models.ActivityNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListActivities(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListActivities: %v", err)
			}
			if len(got) != tt.want {
				t.Fatalf("expected %d activities, got %d", tt.want, len(got))
			}
			if got[0].Type != tt.first {
				t.Errorf("expected newest %s, got %s", tt.first, got[0].Type)
			}
			if got[0].Details.OriginalType == "" {
				t.Error("details not decoded")
			}
		})
	}
}

func TestRegistrationTokens(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	now := time.Now().UTC()

	token, expiresAt, err := s.CreateRegistrationToken(ctx, "admin", 24*time.Hour)
	if err != nil {
		t.Fatalf("CreateRegistrationToken: %v", err)
	}
	if expiresAt.Sub(now) < 23*time.Hour {
		t.Errorf("unexpected expiry %v", expiresAt)
	}

	if err := s.ConsumeRegistrationToken(ctx, token, "agent-1", now); err != nil {
		t.Fatalf("ConsumeRegistrationToken: %v", err)
	}
	if err := s.ConsumeRegistrationToken(ctx, token, "agent-2", now); !errors.Is(err, ErrRegistrationTokenUsed) {
		t.Errorf("expected ErrRegistrationTokenUsed, got %v", err)
	}

	fresh, _, _ := s.CreateRegistrationToken(ctx, "", time.Hour)
	if err := s.ConsumeRegistrationToken(ctx, fresh, "agent-3", now.Add(2*time.Hour)); !errors.Is(err, ErrRegistrationTokenExpired) {
		t.Errorf("expected ErrRegistrationTokenExpired, got %v", err)
	}
	if err := s.ConsumeRegistrationToken(ctx, "isr_unknown-token", "agent-4", now); !errors.Is(err, ErrRegistrationTokenInvalid) {
		t.Errorf("expected ErrRegistrationTokenInvalid, got %v", err)
	}
	if err := s.ConsumeRegistrationToken(ctx, "short", "agent-5", now); !errors.Is(err, ErrRegistrationTokenInvalid) {
		t.Errorf("expected ErrRegistrationTokenInvalid, got %v", err)
	}
}

func TestRegisterAgentRollsBackOnFailure(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	now := time.Now().UTC()

	token, _, err := s.CreateRegistrationToken(ctx, "admin", time.Hour)
	if err != nil {
		t.Fatalf("CreateRegistrationToken: %v", err)
	}
	placeholder := models.PlaceholderEmployee("alice", "example.com")
	reg := Registration{
		Agent:       newAgent("h1", "m1", "", now),
		Placeholder: &placeholder,
		Token:       token,
	}

	if _, err := s.db.ExecContext(ctx, `CREATE TRIGGER reject_agents BEFORE INSERT ON agents
		BEGIN SELECT RAISE(ABORT, 'rejected'); END`); err != nil {
		t.Fatalf("create trigger: %v", err)
	}
	if _, err := s.RegisterAgent(ctx, reg, now); err == nil {
		t.Fatal("expected agent insert to fail")
	}
	if _, err := s.GetEmployeeByEmployeeID(ctx, placeholder.EmployeeID); !errors.Is(err, ErrNotFound) {
		t.Errorf("placeholder employee should be rolled back, got %v", err)
	}

	if _, err := s.db.ExecContext(ctx, `DROP TRIGGER reject_agents`); err != nil {
		t.Fatalf("drop trigger: %v", err)
	}
	agent, err := s.RegisterAgent(ctx, reg, now)
	if err != nil {
		t.Fatalf("retry with the same token: %v", err)
	}
	if agent.EmployeeID != placeholder.EmployeeID {
		t.Errorf("employee = %q, want %q", agent.EmployeeID, placeholder.EmployeeID)
	}

	// Reusing the token on a second registration still fails.
	reg.Agent = newAgent("h2", "m2", "", now)
	if _, err := s.RegisterAgent(ctx, reg, now); !errors.Is(err, ErrRegistrationTokenUsed) {
		t.Errorf("expected ErrRegistrationTokenUsed, got %v", err)
	}
}
