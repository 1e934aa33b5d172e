package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the server
type Config struct {
	Port           string
	APIPrefix      string
	Env            string
	LogLevel       string
	AllowedOrigins []string

	JWTSecret string

	DBDriver    string
	DatabaseURL string
	SQLitePath  string

	// ServerURL is handed to agents at registration.
	ServerURL    string
	PollInterval time.Duration

	RegistrationTokenRequired bool
	RegistrationTokenTTL      time.Duration

	// EmployeeEmailDomain addresses placeholder employees created at registration.
	EmployeeEmailDomain string

	RedisURL          string
	RegisterRateLimit int

	// TrustProxyHeaders rewrites the client address from X-Forwarded-For and
	// X-Real-IP. Enable only behind a proxy that overwrites those headers.
	TrustProxyHeaders bool

	NATSURL string

	// LivenessSweep, when non-zero, periodically persists offline status for
	// stale agents. Liveness reads never depend on it.
	LivenessSweep time.Duration
}

var errMissingSecret = errors.New("JWT_SECRET is not set")

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	cfg := &Config{
		Port:       getEnv("PORT", "8080"),
		APIPrefix:  strings.TrimRight(getEnv("API_PREFIX", "/api"), "/"),
		Env:        getEnv("ENV", "development"),
		LogLevel:   getEnv("LOG_LEVEL", "info"),
		JWTSecret:  os.Getenv("JWT_SECRET"),
		DBDriver:   strings.ToLower(getEnv("DB_DRIVER", "postgres")),
		SQLitePath: getEnv("SQLITE_PATH", "insafe.db"),
		RedisURL:   os.Getenv("REDIS_URL"),
		NATSURL:    os.Getenv("NATS_URL"),

		EmployeeEmailDomain: getEnv("EMPLOYEE_EMAIL_DOMAIN", "wemabank.com"),
	}

	if cfg.JWTSecret == "" {
		return nil, errMissingSecret
	}

	for _, origin := range strings.Split(getEnv("ALLOWED_ORIGINS", "http://localhost:3000"), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, origin)
		}
	}

	switch cfg.DBDriver {
	case "postgres":
		cfg.DatabaseURL = buildDSN()
	case "sqlite":
	default:
		return nil, fmt.Errorf("invalid DB_DRIVER %q: want postgres or sqlite", cfg.DBDriver)
	}

	cfg.ServerURL = getEnv("SERVER_URL", "http://localhost:"+cfg.Port)

	pollSeconds, err := strconv.Atoi(getEnv("POLL_INTERVAL_SECONDS", "30"))
	if err != nil || pollSeconds <= 0 {
		return nil, fmt.Errorf("invalid POLL_INTERVAL_SECONDS: %q", os.Getenv("POLL_INTERVAL_SECONDS"))
	}
	cfg.PollInterval = time.Duration(pollSeconds) * time.Second

	cfg.RegistrationTokenRequired, err = strconv.ParseBool(getEnv("REGISTRATION_TOKEN_REQUIRED", "false"))
	if err != nil {
		return nil, fmt.Errorf("invalid REGISTRATION_TOKEN_REQUIRED: %w", err)
	}

	ttlHours, err := strconv.Atoi(getEnv("REGISTRATION_TOKEN_TTL_HOURS", "24"))
	if err != nil || ttlHours <= 0 {
		return nil, fmt.Errorf("invalid REGISTRATION_TOKEN_TTL_HOURS: %q", os.Getenv("REGISTRATION_TOKEN_TTL_HOURS"))
	}
	cfg.RegistrationTokenTTL = time.Duration(ttlHours) * time.Hour

	cfg.RegisterRateLimit, err = strconv.Atoi(getEnv("REGISTER_RATE_LIMIT", "10"))
	if err != nil || cfg.RegisterRateLimit < 0 {
		return nil, fmt.Errorf("invalid REGISTER_RATE_LIMIT: %q", os.Getenv("REGISTER_RATE_LIMIT"))
	}

	cfg.TrustProxyHeaders, err = strconv.ParseBool(getEnv("TRUST_PROXY_HEADERS", "false"))
	if err != nil {
		return nil, fmt.Errorf("invalid TRUST_PROXY_HEADERS: %w", err)
	}

	sweepSeconds, err := strconv.Atoi(getEnv("LIVENESS_SWEEP_SECONDS", "0"))
	if err != nil || sweepSeconds < 0 {
		return nil, fmt.Errorf("invalid LIVENESS_SWEEP_SECONDS: %q", os.Getenv("LIVENESS_SWEEP_SECONDS"))
	}
	cfg.LivenessSweep = time.Duration(sweepSeconds) * time.Second

	return cfg, nil
}

// IsDevelopment reports whether logs should be human readable.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// buildDSN prefers DATABASE_URL and falls back to the discrete DB_* vars.
func buildDSN() string {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		return dsn
	}

	host := getEnv("DB_HOST", "localhost")
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "postgres")
	password := os.Getenv("DB_PASSWORD")
	name := getEnv("DB_NAME", "insafe")
	sslmode := getEnv("DB_SSLMODE", "disable")

	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		host, port, user, password, name, sslmode)
}

// getEnv gets an environment variable with a fallback default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
