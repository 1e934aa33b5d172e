package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"insafe-backend/internal/auth"
	"insafe-backend/internal/commands"
	"insafe-backend/internal/ingest"
	"insafe-backend/internal/models"
	"insafe-backend/internal/registry"
	"insafe-backend/internal/storage"
)

const maxBodyBytes = 1 << 20

type Handler struct {
	registry *registry.Service
	queue    *commands.Queue
	ingest   *ingest.Service
	issuer   *auth.Issuer
	storage  *storage.Storage
	logger   zerolog.Logger
}

func New(reg *registry.Service, queue *commands.Queue, ing *ingest.Service, issuer *auth.Issuer, store *storage.Storage, logger zerolog.Logger) *Handler {
	return &Handler{
		registry: reg,
		queue:    queue,
		ingest:   ing,
		issuer:   issuer,
		storage:  store,
		logger:   logger.With().Str("component", "handlers").Logger(),
	}
}

// RegisterRoutes mounts the agent protocol and dashboard endpoints. The
// register limiter may be nil.
func (h *Handler) RegisterRoutes(r chi.Router, registerLimiter func(http.Handler) http.Handler) {
	agentAuth := auth.Middleware(h.issuer)
	if registerLimiter == nil {
		registerLimiter = func(next http.Handler) http.Handler { return next }
	}

	// Agent protocol
	r.With(registerLimiter).Post("/agents/register", h.Register)
	r.Get("/agents/register", h.RegisterInfo)
	r.With(agentAuth).Get("/agents/commands", h.PollCommands)
	r.Post("/agents/commands", h.CommandsCompat)
	r.With(agentAuth).Post("/agents/commands/report", h.ReportCommand)
	r.With(agentAuth).Post("/agents/activities", h.IngestActivities)
	r.Get("/agents/activities", h.ListActivities)
	r.With(agentAuth).Post("/agents/status", h.Heartbeat)
	r.Get("/agents/status", h.AgentStatus)
	r.Get("/agents/online", h.OnlineAgents)

	// Dashboard
	r.Post("/commands", h.IssueCommand)
	r.Get("/commands", h.ListCommands)
	r.Get("/commands/{id}", h.GetCommand)
	r.Get("/debug/commands", h.ListCommands)
	r.Get("/employees", h.ListEmployees)
	r.Get("/employees/{employeeId}", h.GetEmployee)
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]any{"success": false, "error": message})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return &models.ValidationError{Message: "invalid JSON body"}
	}
	return nil
}

// respondServiceError maps domain errors onto status codes. Anything
// unrecognised is logged and reported without detail.
func (h *Handler) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *models.ValidationError
	switch {
	case errors.As(err, &verr):
		respondError(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, auth.ErrMissingToken), errors.Is(err, auth.ErrInvalidToken):
		respondError(w, http.StatusUnauthorized, "Unauthorized")
	case errors.Is(err, registry.ErrRegistrationTokenRequired),
		errors.Is(err, storage.ErrRegistrationTokenInvalid),
		errors.Is(err, storage.ErrRegistrationTokenExpired),
		errors.Is(err, storage.ErrRegistrationTokenUsed):
		respondError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, commands.ErrMissingTarget):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, commands.ErrInvalidCommandType):
		respondError(w, http.StatusBadRequest, "Invalid command type")
	case errors.Is(err, commands.ErrAgentNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, storage.ErrNotFound):
		respondError(w, http.StatusNotFound, "not found")
	default:
		h.logger.Error().Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("request failed")
		respondError(w, http.StatusInternalServerError, "internal server error")
	}
}
