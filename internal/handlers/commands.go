package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"insafe-backend/internal/auth"
	"insafe-backend/internal/models"
	"insafe-backend/internal/storage"
)

// GET /agents/commands
func (h *Handler) PollCommands(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())

	// Polling counts as a sign of life.
	if err := h.registry.Touch(r.Context(), claims.AgentID); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			h.respondServiceError(w, r, err)
			return
		}
		h.logger.Warn().Str("agent_id", claims.AgentID).Msg("poll from unregistered agent")
	}

	cmds, err := h.queue.Poll(r.Context(), claims.AgentID)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	if cmds == nil {
		cmds = []models.Command{}
	}
	respondJSON(w, http.StatusOK, models.PollResponse{Success: true, Commands: cmds, Count: len(cmds)})
}

// POST /agents/commands
// Older agents report results and the dashboard issues commands on the same
// path. An Authorization header selects the agent path.
func (h *Handler) CommandsCompat(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") == "" {
		h.IssueCommand(w, r)
		return
	}
	claims, err := auth.Authenticate(h.issuer, r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	h.ReportCommand(w, r.WithContext(auth.WithClaims(r.Context(), claims)))
}

// POST /agents/commands/report
func (h *Handler) ReportCommand(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())

	var report models.CommandReport
	if err := decodeJSON(w, r, &report); err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	if _, err := h.queue.Report(r.Context(), claims.AgentID, report); err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Command status updated"})
}

// POST /commands
func (h *Handler) IssueCommand(w http.ResponseWriter, r *http.Request) {
	var req models.IssueCommandRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	cmd, err := h.queue.Enqueue(r.Context(), req)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, models.IssueCommandResponse{
		Success:   true,
		CommandID: cmd.ID,
		Message:   "Command queued",
	})
}

// GET /commands
// agentId lists that agent's pending queue, employeeId the employee's recent
// commands, and no filter a pending count per agent.
func (h *Handler) ListCommands(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	switch {
	case q.Get("agentId") != "":
		cmds, err := h.queue.Poll(r.Context(), q.Get("agentId"))
		if err != nil {
			h.respondServiceError(w, r, err)
			return
		}
		respondCommands(w, cmds)
	case q.Get("employeeId") != "":
		limit, err := parseLimit(q.Get("limit"))
		if err != nil {
			h.respondServiceError(w, r, err)
			return
		}
		cmds, err := h.queue.ListByEmployee(r.Context(), q.Get("employeeId"), limit)
		if err != nil {
			h.respondServiceError(w, r, err)
			return
		}
		respondCommands(w, cmds)
	default:
		summary, err := h.queue.PendingSummary(r.Context())
		if err != nil {
			h.respondServiceError(w, r, err)
			return
		}
		total := 0
		for _, n := range summary {
			total += n
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"success":      true,
			"pendingCount": total,
			"byAgent":      summary,
		})
	}
}

// GET /commands/{id}
func (h *Handler) GetCommand(w http.ResponseWriter, r *http.Request) {
	cmd, err := h.queue.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, storage.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Command not found")
		return
	}
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "command": cmd})
}

func respondCommands(w http.ResponseWriter, cmds []models.Command) {
	if cmds == nil {
		cmds = []models.Command{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "commands": cmds, "count": len(cmds)})
}

// parseLimit returns 0 for an empty value so callers apply their default.
func parseLimit(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, &models.ValidationError{Fields: []string{"limit"}, Message: "limit must be a positive integer"}
	}
	return n, nil
}
