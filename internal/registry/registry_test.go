package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"insafe-backend/internal/auth"
	"insafe-backend/internal/models"
	"insafe-backend/internal/storage"
)

type recordingPublisher struct {
	events []models.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev models.Event) error {
	p.events = append(p.events, ev)
	return nil
}

func newTestService(t *testing.T, opts Options) (*Service, *storage.Storage, *recordingPublisher) {
	t.Helper()
	store, err := storage.Open(context.Background(), storage.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	issuer, err := auth.NewIssuer("test-secret")
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	events := &recordingPublisher{}
	return NewService(store, issuer, events, zerolog.Nop(), opts), store, events
}

func registerRequest(employeeID string) models.RegisterRequest {
	return models.RegisterRequest{
		Hostname:   "h1",
		Username:   "alice",
		MacAddress: "m1",
		Platform:   "linux",
		Version:    "1.0.0",
		EmployeeID: employeeID,
	}
}

func TestRegisterValidation(t *testing.T) {
	svc, _, _ := newTestService(t, Options{})

	req := registerRequest("")
	req.MacAddress = ""
	req.Platform = " "

	_, err := svc.Register(context.Background(), req, "10.0.0.1")
	var verr *models.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(verr.Fields) != 2 || verr.Fields[0] != "macAddress" || verr.Fields[1] != "platform" {
		t.Errorf("unexpected fields %v", verr.Fields)
	}
}

func TestRegisterCreatesPlaceholderEmployee(t *testing.T) {
	ctx := context.Background()
	svc, store, events := newTestService(t, Options{ServerURL: "http://insafe.test", PollInterval: 30 * time.Second})

	resp, err := svc.Register(ctx, registerRequest(""), "10.0.0.1")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if !resp.Success || resp.EmployeeID != "EMP_ALICE" || resp.PollInterval != 30000 || resp.ServerURL != "http://insafe.test" {
		t.Errorf("unexpected response %+v", resp)
	}

	emp, err := store.GetEmployeeByEmployeeID(ctx, "EMP_ALICE")
	if err != nil {
		t.Fatalf("placeholder employee missing: %v", err)
	}
	if emp.Department != "IT" || emp.Role != "Agent User" || emp.RiskLevel != models.RiskLow || emp.Email != "alice@wemabank.com" {
		t.Errorf("unexpected placeholder %+v", emp)
	}

	agent, _ := store.GetAgent(ctx, resp.AgentID)
	if agent.Capabilities != models.DefaultCapabilities() || agent.BlockedServices != (models.BlockedServices{}) {
		t.Errorf("unexpected flags %+v %+v", agent.Capabilities, agent.BlockedServices)
	}
	if agent.IPAddress != "10.0.0.1" || agent.Status != models.AgentStatusOnline {
		t.Errorf("unexpected agent %+v", agent)
	}

	if len(events.events) == 0 || events.events[0].Kind != models.EventAgentRegistered || events.events[0].Attributes["created"] != "true" {
		t.Errorf("unexpected events %+v", events.events)
	}
}

func TestReRegistrationIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t, Options{})

	first, err := svc.Register(ctx, registerRequest("E1"), "10.0.0.1")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := svc.UpdateBlockingState(ctx, first.AgentID, models.ServiceGit, true); err != nil {
		t.Fatalf("UpdateBlockingState: %v", err)
	}

	second, err := svc.Register(ctx, registerRequest("E2"), "10.0.0.2")
	if err != nil {
		t.Fatalf("Register again: %v", err)
	}
	if second.AgentID != first.AgentID || second.EmployeeID != "E1" {
		t.Errorf("identity changed: first=%+v second=%+v", first, second)
	}

	view, _ := svc.View(ctx, first.AgentID)
	if !view.BlockedServices.Git {
		t.Error("blocked git flag lost")
	}
	if view.IPAddress != "10.0.0.2" {
		t.Errorf("ip not refreshed: %s", view.IPAddress)
	}

	claims, err := svc.issuer.Verify(second.Token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.AgentID != first.AgentID || claims.EmployeeID != "E1" || claims.Username != "alice" {
		t.Errorf("unexpected claims %+v", claims)
	}
}

func TestRegistrationTokens(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t, Options{RegistrationTokenRequired: true})

	if _, err := svc.Register(ctx, registerRequest(""), ""); !errors.Is(err, ErrRegistrationTokenRequired) {
		t.Fatalf("expected ErrRegistrationTokenRequired, got %v", err)
	}

	token, _, err := svc.GenerateRegistrationToken(ctx, "admin")
	if err != nil {
		t.Fatalf("GenerateRegistrationToken: %v", err)
	}

	req := registerRequest("")
	req.RegistrationToken = token
	first, err := svc.Register(ctx, req, "")
	if err != nil {
		t.Fatalf("Register with token: %v", err)
	}

	// a known machine may renew without a token
	again, err := svc.Register(ctx, registerRequest(""), "")
	if err != nil || again.AgentID != first.AgentID {
		t.Fatalf("renewal failed: %v %+v", err, again)
	}

	other := registerRequest("")
	other.Hostname = "h2"
	other.RegistrationToken = token
	if _, err := svc.Register(ctx, other, ""); !errors.Is(err, storage.ErrRegistrationTokenUsed) {
		t.Errorf("expected ErrRegistrationTokenUsed, got %v", err)
	}
}

func TestHeartbeatAndLiveness(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t, Options{})
	now := time.Now().UTC()

	resp, _ := svc.Register(ctx, registerRequest(""), "")
	other := registerRequest("")
	other.Hostname = "h2"
	stale, _ := svc.Register(ctx, other, "")

	svc.now = func() time.Time { return now.Add(-6 * time.Minute) }
	if err := svc.UpdateStatus(ctx, stale.AgentID, "", nil); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	svc.now = func() time.Time { return now.Add(-4 * time.Minute) }
	info := &models.SystemInfo{Uptime: 100}
	if err := svc.UpdateStatus(ctx, resp.AgentID, models.AgentStatusOnline, info); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	svc.now = func() time.Time { return now }

	online, err := svc.ListOnline(ctx)
	if err != nil {
		t.Fatalf("ListOnline: %v", err)
	}
	if len(online) != 1 || online[0].AgentID != resp.AgentID {
		t.Errorf("unexpected online agents %+v", online)
	}

	views, stats, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(views) != 2 || stats.OnlineAgents != 1 || stats.OfflineAgents != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}

	view, _ := svc.View(ctx, resp.AgentID)
	if !view.Online || view.SystemInfo == nil || view.SystemInfo.Uptime != 100 {
		t.Errorf("unexpected view %+v", view)
	}

	if err := svc.UpdateStatus(ctx, resp.AgentID, "sleeping", nil); err == nil {
		t.Error("expected validation error for unknown status")
	}
	if err := svc.UpdateStatus(ctx, "missing", models.AgentStatusOnline, nil); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
