package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"insafe-backend/internal/auth"
	"insafe-backend/internal/cache"
	"insafe-backend/internal/commands"
	"insafe-backend/internal/config"
	"insafe-backend/internal/handlers"
	"insafe-backend/internal/ingest"
	"insafe-backend/internal/liveness"
	"insafe-backend/internal/middleware"
	"insafe-backend/internal/natsbus"
	"insafe-backend/internal/registry"
	"insafe-backend/internal/storage"
	"insafe-backend/internal/workers"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.IsDevelopment() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("level", cfg.LogLevel).Msg("invalid log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	logger := log.Logger

	logger.Info().
		Str("port", cfg.Port).
		Str("api_prefix", cfg.APIPrefix).
		Str("db_driver", cfg.DBDriver).
		Dur("poll_interval", cfg.PollInterval).
		Bool("registration_token_required", cfg.RegistrationTokenRequired).
		Msg("starting insafe backend")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database connection (with retries)
	dsn := cfg.DatabaseURL
	if cfg.DBDriver == storage.DriverSQLite {
		dsn = cfg.SQLitePath
	}
	var store *storage.Storage
	for i := 0; i < 10; i++ {
		store, err = storage.Open(ctx, cfg.DBDriver, dsn)
		if err == nil {
			break
		}
		logger.Warn().Err(err).Int("attempt", i+1).Msg("database connection failed")
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer store.Close()
	logger.Info().Str("driver", store.Driver()).Msg("connected to database")

	var events natsbus.Publisher = natsbus.Nop{}
	if cfg.NATSURL != "" {
		natsClient, err := natsbus.Connect(cfg.NATSURL, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to NATS")
		}
		defer natsClient.Close()
		events = natsClient
	} else {
		logger.Info().Msg("NATS_URL not set, domain events disabled")
	}

	var registerLimiter func(http.Handler) http.Handler
	if cfg.RedisURL != "" {
		redisClient, err := cache.NewRedisClient(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to Redis")
		}
		defer redisClient.Close()
		registerLimiter = middleware.RateLimitRegister(redisClient, cfg.RegisterRateLimit, logger)
	} else {
		logger.Info().Msg("REDIS_URL not set, registration rate limiting disabled")
	}

	issuer, err := auth.NewIssuer(cfg.JWTSecret)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create token issuer")
	}

	reg := registry.NewService(store, issuer, events, logger, registry.Options{
		ServerURL:                 cfg.ServerURL,
		PollInterval:              cfg.PollInterval,
		EmailDomain:               cfg.EmployeeEmailDomain,
		RegistrationTokenRequired: cfg.RegistrationTokenRequired,
		RegistrationTokenTTL:      cfg.RegistrationTokenTTL,
	})
	queue := commands.NewQueue(store, events, logger)
	ingestService := ingest.NewService(store, events, logger)

	if cfg.LivenessSweep > 0 {
		workers.StartLivenessSweeper(ctx, store, liveness.DefaultWindow, cfg.LivenessSweep, logger)
	}

	h := handlers.New(reg, queue, ingestService, issuer, store, logger)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	if cfg.TrustProxyHeaders {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(middleware.Logger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	r.Get("/health", healthHandler(store))
	if cfg.APIPrefix == "" {
		h.RegisterRoutes(r, registerLimiter)
	} else {
		r.Route(cfg.APIPrefix, func(r chi.Router) {
			h.RegisterRoutes(r, registerLimiter)
		})
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Msgf("server listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}
	logger.Info().Msg("server stopped")
}

func healthHandler(store *storage.Storage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": "unavailable", "service": "insafe-backend"})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "ok", "service": "insafe-backend"})
	}
}
