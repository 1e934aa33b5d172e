// Package agentconfig loads and persists the reference agent's settings and
// the identity it receives at registration.
package agentconfig

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"
)

type Config struct {
	ServerURL         string `mapstructure:"server_url"`
	RegistrationToken string `mapstructure:"registration_token"`
	EmployeeID        string `mapstructure:"employee_id"`

	AgentID string `mapstructure:"agent_id"`
	Token   string `mapstructure:"token"`

	LogLevel string `mapstructure:"log_level"`
}

func Default() *Config {
	return &Config{
		ServerURL: "http://localhost:8080/api",
		LogLevel:  "info",
	}
}

// Registered reports whether a previous registration was persisted.
func (c *Config) Registered() bool {
	return c.AgentID != "" && c.Token != ""
}

// Load reads cfgFile, or agent.yaml from the platform config directory, and
// applies INSAFE_* environment overrides. A missing file is not an error.
func Load(cfgFile string) (*Config, error) {
	v := newViper(cfgFile)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, err
		}
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to cfgFile, or agent.yaml in the platform config
// directory. The file holds the agent token so it is owner-only.
func Save(cfg *Config, cfgFile string) error {
	v := viper.New()
	v.Set("server_url", cfg.ServerURL)
	v.Set("registration_token", cfg.RegistrationToken)
	v.Set("employee_id", cfg.EmployeeID)
	v.Set("agent_id", cfg.AgentID)
	v.Set("token", cfg.Token)
	v.Set("log_level", cfg.LogLevel)

	path := cfgFile
	if path == "" {
		path = filepath.Join(configDir(), "agent.yaml")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	if err := v.WriteConfigAs(path); err != nil {
		return err
	}
	return os.Chmod(path, 0o600)
}

func newViper(cfgFile string) *viper.Viper {
	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("agent")
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir())
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("INSAFE")
	v.AutomaticEnv()
	// AutomaticEnv only covers keys viper already knows about.
	for _, key := range []string{"server_url", "registration_token", "employee_id", "agent_id", "token", "log_level"} {
		_ = v.BindEnv(key)
	}
	return v
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "InSafe")
	case "darwin":
		return "/Library/Application Support/InSafe"
	default:
		if dir, err := os.UserConfigDir(); err == nil {
			return filepath.Join(dir, "insafe")
		}
		return "/etc/insafe"
	}
}
