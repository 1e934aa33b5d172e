// Package registry owns agent identity: fingerprint to agentId/employeeId
// binding, token issuance, heartbeats and blocking state.
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"insafe-backend/internal/auth"
	"insafe-backend/internal/liveness"
	"insafe-backend/internal/models"
	"insafe-backend/internal/natsbus"
	"insafe-backend/internal/storage"
)

var ErrRegistrationTokenRequired = errors.New("registration token required")

type Options struct {
	ServerURL    string
	PollInterval time.Duration
	// EmailDomain is used for placeholder employees created at registration.
	EmailDomain               string
	RegistrationTokenRequired bool
	RegistrationTokenTTL      time.Duration
	LivenessWindow            time.Duration
}

func (o *Options) setDefaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = 30 * time.Second
	}
	if o.EmailDomain == "" {
		o.EmailDomain = "wemabank.com"
	}
	if o.RegistrationTokenTTL <= 0 {
		o.RegistrationTokenTTL = 24 * time.Hour
	}
	if o.LivenessWindow <= 0 {
		o.LivenessWindow = liveness.DefaultWindow
	}
}

type Service struct {
	store  *storage.Storage
	issuer *auth.Issuer
	events natsbus.Publisher
	logger zerolog.Logger
	opts   Options
	now    func() time.Time
}

func NewService(store *storage.Storage, issuer *auth.Issuer, events natsbus.Publisher, logger zerolog.Logger, opts Options) *Service {
	opts.setDefaults()
	if events == nil {
		events = natsbus.Nop{}
	}
	return &Service{
		store:  store,
		issuer: issuer,
		events: events,
		logger: logger.With().Str("component", "registry").Logger(),
		opts:   opts,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// AgentView is an agent with its liveness computed at read time.
type AgentView struct {
	models.Agent
	Online bool `json:"online"`
}

// Register binds the caller's machine to an agent identity. A known
// (hostname, macAddress) keeps its agentId, employeeId and blocking state no
// matter which employeeId the caller sends.
func (s *Service) Register(ctx context.Context, req models.RegisterRequest, ipAddress string) (*models.RegisterResponse, error) {
	if err := models.RequireFields(
		"hostname", req.Hostname,
		"username", req.Username,
		"macAddress", req.MacAddress,
		"platform", req.Platform,
	); err != nil {
		return nil, err
	}

	now := s.now()
	fp := models.Fingerprint{Hostname: req.Hostname, MacAddress: req.MacAddress}

	existing, err := s.store.GetAgentByFingerprint(ctx, fp)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("lookup agent by fingerprint: %w", err)
	}

	agentID, employeeID := "", req.EmployeeID
	if existing != nil {
		agentID, employeeID = existing.AgentID, existing.EmployeeID
	} else {
		if s.opts.RegistrationTokenRequired && req.RegistrationToken == "" {
			return nil, ErrRegistrationTokenRequired
		}
		agentID = uuid.New().String()
	}

	reg := storage.Registration{
		Agent: models.Agent{
			AgentID:      agentID,
			EmployeeID:   employeeID,
			Hostname:     req.Hostname,
			MacAddress:   req.MacAddress,
			Platform:     req.Platform,
			Version:      req.Version,
			IPAddress:    ipAddress,
			Status:       models.AgentStatusOnline,
			LastSeen:     now,
			Capabilities: models.DefaultCapabilities(),
			RegisteredAt: now,
			UpdatedAt:    now,
		},
		Token: req.RegistrationToken,
	}
	if employeeID == "" {
		placeholder := models.PlaceholderEmployee(req.Username, s.opts.EmailDomain)
		reg.Placeholder = &placeholder
	}

	agent, err := s.store.RegisterAgent(ctx, reg, now)
	if err != nil {
		return nil, err
	}

	token, err := s.issuer.Issue(auth.Claims{
		AgentID:    agent.AgentID,
		EmployeeID: agent.EmployeeID,
		Hostname:   agent.Hostname,
		Username:   req.Username,
		MacAddress: agent.MacAddress,
	})
	if err != nil {
		return nil, err
	}

	created := existing == nil
	s.logger.Info().
		Str("agent_id", agent.AgentID).
		Str("employee_id", agent.EmployeeID).
		Str("hostname", agent.Hostname).
		Bool("created", created).
		Msg("agent registered")

	natsbus.Emit(ctx, s.events, s.logger, models.Event{
		Kind:       models.EventAgentRegistered,
		AgentID:    agent.AgentID,
		EmployeeID: agent.EmployeeID,
		Attributes: map[string]string{
			"hostname": agent.Hostname,
			"platform": agent.Platform,
			"created":  fmt.Sprint(created),
		},
	})

	return &models.RegisterResponse{
		Success:      true,
		AgentID:      agent.AgentID,
		EmployeeID:   agent.EmployeeID,
		Token:        token,
		ServerURL:    s.opts.ServerURL,
		PollInterval: s.opts.PollInterval.Milliseconds(),
	}, nil
}

// GenerateRegistrationToken mints a single-use pre-authorisation token.
func (s *Service) GenerateRegistrationToken(ctx context.Context, createdBy string) (string, time.Time, error) {
	token, expiresAt, err := s.store.CreateRegistrationToken(ctx, createdBy, s.opts.RegistrationTokenTTL)
	if err != nil {
		return "", time.Time{}, err
	}
	s.logger.Info().Time("expires_at", expiresAt).Msg("registration token generated")
	return token, expiresAt, nil
}

func (s *Service) GetByAgentID(ctx context.Context, agentID string) (*models.Agent, error) {
	return s.store.GetAgent(ctx, agentID)
}

func (s *Service) GetByEmployeeID(ctx context.Context, employeeID string) (*models.Agent, error) {
	return s.store.GetAgentByEmployeeID(ctx, employeeID)
}

func (s *Service) GetByFingerprint(ctx context.Context, fp models.Fingerprint) (*models.Agent, error) {
	return s.store.GetAgentByFingerprint(ctx, fp)
}

// View returns one agent with its liveness.
func (s *Service) View(ctx context.Context, agentID string) (*AgentView, error) {
	agent, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	return &AgentView{Agent: *agent, Online: s.IsOnline(*agent)}, nil
}

// UpdateStatus records a heartbeat. An empty status means online.
func (s *Service) UpdateStatus(ctx context.Context, agentID string, status models.AgentStatus, info *models.SystemInfo) error {
	if status == "" {
		status = models.AgentStatusOnline
	}
	if !status.Valid() {
		return &models.ValidationError{Fields: []string{"status"}, Message: fmt.Sprintf("invalid status %q", status)}
	}
	return s.store.UpdateAgentStatus(ctx, agentID, status, info, s.now())
}

// Touch marks the agent online as of now without replacing its snapshot.
func (s *Service) Touch(ctx context.Context, agentID string) error {
	return s.store.UpdateAgentStatus(ctx, agentID, models.AgentStatusOnline, nil, s.now())
}

func (s *Service) UpdateBlockingState(ctx context.Context, agentID string, service models.BlockedService, blocked bool) error {
	return s.store.UpdateBlockingState(ctx, agentID, service, blocked)
}

func (s *Service) IsOnline(agent models.Agent) bool {
	return liveness.IsOnline(agent, s.now(), s.opts.LivenessWindow)
}

// ListOnline returns agents that reported online within the liveness window.
func (s *Service) ListOnline(ctx context.Context) ([]models.Agent, error) {
	agents, err := s.store.ListAgentsByStatus(ctx, models.AgentStatusOnline)
	if err != nil {
		return nil, err
	}
	return liveness.FilterOnline(agents, s.now(), s.opts.LivenessWindow), nil
}

// List returns every agent with liveness and aggregate counts.
func (s *Service) List(ctx context.Context) ([]AgentView, models.AgentStats, error) {
	agents, err := s.store.ListAgents(ctx)
	if err != nil {
		return nil, models.AgentStats{}, err
	}

	now := s.now()
	views := make([]AgentView, 0, len(agents))
	for _, a := range agents {
		views = append(views, AgentView{Agent: a, Online: liveness.IsOnline(a, now, s.opts.LivenessWindow)})
	}
	return views, liveness.Stats(agents, now, s.opts.LivenessWindow), nil
}
