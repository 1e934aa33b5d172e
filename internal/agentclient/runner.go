package agentclient

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"insafe-backend/internal/models"
)

// Runner drives the poll, execute and report loop for one machine.
type Runner struct {
	client   *Client
	identity models.RegisterRequest
	exec     Executor
	logger   zerolog.Logger

	interval time.Duration

	// OnRegister is called with every successful registration so callers
	// can persist the identity.
	OnRegister func(*models.RegisterResponse)
}

func NewRunner(client *Client, identity models.RegisterRequest, exec Executor, logger zerolog.Logger) *Runner {
	return &Runner{
		client:   client,
		identity: identity,
		exec:     exec,
		logger:   logger.With().Str("component", "agent").Logger(),
		interval: 30 * time.Second,
	}
}

// Interval is the current poll interval as set by the server.
func (r *Runner) Interval() time.Duration {
	return r.interval
}

// EnsureRegistered registers when no token is held.
func (r *Runner) EnsureRegistered(ctx context.Context) error {
	if r.client.Token() != "" {
		return nil
	}
	return r.register(ctx)
}

func (r *Runner) register(ctx context.Context) error {
	resp, err := r.client.Register(ctx, r.identity)
	if err != nil {
		return err
	}
	// Later registrations keep the server-assigned employee.
	r.identity.EmployeeID = resp.EmployeeID
	r.identity.RegistrationToken = ""
	if resp.PollInterval > 0 {
		r.interval = time.Duration(resp.PollInterval) * time.Millisecond
	}
	r.logger.Info().
		Str("agent_id", resp.AgentID).
		Str("employee_id", resp.EmployeeID).
		Dur("poll_interval", r.interval).
		Msg("registered")
	if r.OnRegister != nil {
		r.OnRegister(resp)
	}
	return nil
}

// Tick polls once, runs every pending command and sends a heartbeat. A
// rejected token triggers one re-registration.
func (r *Runner) Tick(ctx context.Context) error {
	err := r.tick(ctx)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Unauthorized() {
		r.logger.Warn().Msg("token rejected, registering again")
		r.client.SetToken("")
		if err := r.register(ctx); err != nil {
			return err
		}
		return r.tick(ctx)
	}
	return err
}

func (r *Runner) tick(ctx context.Context) error {
	cmds, err := r.client.Poll(ctx)
	if err != nil {
		return err
	}
	if len(cmds) > 0 {
		r.logger.Info().Int("count", len(cmds)).Msg("received commands")
	}
	for _, cmd := range cmds {
		if err := r.run(ctx, cmd); err != nil {
			return err
		}
	}
	return r.client.Heartbeat(ctx, models.HeartbeatRequest{
		Status:     models.AgentStatusOnline,
		SystemInfo: CollectSystemInfo(ctx),
	})
}

func (r *Runner) run(ctx context.Context, cmd models.Command) error {
	if err := r.client.Report(ctx, models.CommandReport{CommandID: cmd.ID, Status: models.CommandExecuting}); err != nil {
		return err
	}

	report := models.CommandReport{CommandID: cmd.ID}
	result, execErr := r.exec.Execute(ctx, cmd)
	if execErr != nil {
		report.Error = execErr.Error()
	} else if result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			report.Error = err.Error()
		} else {
			report.Result = data
		}
	}

	if err := r.client.Report(ctx, report); err != nil {
		return err
	}
	r.logger.Info().
		Str("command_id", cmd.ID).
		Str("type", string(cmd.Type)).
		Bool("failed", report.Error != "").
		Msg("command reported")
	return nil
}

// Run registers if needed then ticks until ctx is done. Tick failures are
// logged and retried on the next interval.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.EnsureRegistered(ctx); err != nil {
		return err
	}

	for {
		if err := r.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.logger.Warn().Err(err).Msg("poll cycle failed")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(r.interval):
		}
	}
}
