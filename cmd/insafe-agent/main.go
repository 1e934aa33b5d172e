package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"insafe-backend/internal/agentclient"
	"insafe-backend/internal/agentconfig"
	"insafe-backend/internal/models"
)

var (
	version    = "1.0.0"
	cfgFile    string
	serverURL  string
	employeeID string
	regToken   string
)

var rootCmd = &cobra.Command{
	Use:   "insafe-agent",
	Short: "InSafe endpoint agent",
	Long:  `insafe-agent registers this machine, polls for commands, reports results and sends heartbeats.`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the agent",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAgent()
	},
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register this machine and store the issued token",
	RunE: func(cmd *cobra.Command, args []string) error {
		return registerAgent()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the stored registration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return checkStatus()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("insafe-agent v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is <user config dir>/insafe/agent.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "InSafe API base URL, e.g. http://localhost:8080/api")
	rootCmd.PersistentFlags().StringVar(&employeeID, "employee", "", "employee id to bind on first registration")
	rootCmd.PersistentFlags().StringVar(&regToken, "registration-token", "", "single-use registration token")

	rootCmd.AddCommand(runCmd, registerCmd, statusCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*agentconfig.Config, error) {
	cfg, err := agentconfig.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if serverURL != "" {
		cfg.ServerURL = serverURL
	}
	if employeeID != "" {
		cfg.EmployeeID = employeeID
	}
	if regToken != "" {
		cfg.RegistrationToken = regToken
	}
	return cfg, nil
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(lvl).
		With().Timestamp().Str("version", version).
		Logger()
}

// newRunner wires the client and persists every registration back to cfg.
func newRunner(ctx context.Context, cfg *agentconfig.Config, logger zerolog.Logger) *agentclient.Runner {
	identity := agentclient.DetectIdentity(ctx)
	identity.Version = version
	identity.EmployeeID = cfg.EmployeeID
	identity.RegistrationToken = cfg.RegistrationToken

	client := agentclient.New(cfg.ServerURL)
	client.SetToken(cfg.Token)

	runner := agentclient.NewRunner(client, identity, agentclient.SimulatedExecutor{Identity: identity, Logger: logger}, logger)
	runner.OnRegister = func(resp *models.RegisterResponse) {
		cfg.AgentID = resp.AgentID
		cfg.EmployeeID = resp.EmployeeID
		cfg.Token = resp.Token
		cfg.RegistrationToken = ""
		if err := agentconfig.Save(cfg, cfgFile); err != nil {
			logger.Warn().Err(err).Msg("failed to persist registration")
		}
	}
	return runner
}

func runAgent() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info().Str("server", cfg.ServerURL).Str("agent_id", cfg.AgentID).Msg("starting agent")
	if err := newRunner(ctx, cfg, logger).Run(ctx); err != nil {
		return fmt.Errorf("agent stopped: %w", err)
	}
	logger.Info().Msg("agent stopped")
	return nil
}

func registerAgent() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Always register, even with a stored token; the server keeps the
	// identity of a known machine.
	cfg.Token = ""
	if err := newRunner(ctx, cfg, logger).EnsureRegistered(ctx); err != nil {
		return fmt.Errorf("register: %w", err)
	}

	fmt.Println("Registration successful!")
	fmt.Printf("Agent ID:    %s\n", cfg.AgentID)
	fmt.Printf("Employee ID: %s\n", cfg.EmployeeID)
	fmt.Println("Run 'insafe-agent run' to start the agent.")
	return nil
}

func checkStatus() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.Registered() {
		fmt.Println("Status: Not registered")
		return nil
	}
	fmt.Println("Status: Registered")
	fmt.Printf("Agent ID:    %s\n", cfg.AgentID)
	fmt.Printf("Employee ID: %s\n", cfg.EmployeeID)
	fmt.Printf("Server:      %s\n", cfg.ServerURL)
	return nil
}
