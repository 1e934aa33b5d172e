package handlers

import (
	"errors"
	"net/http"

	"insafe-backend/internal/auth"
	"insafe-backend/internal/middleware"
	"insafe-backend/internal/models"
	"insafe-backend/internal/storage"
)

// POST /agents/register
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	resp, err := h.registry.Register(r.Context(), req, middleware.ClientIP(r))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// GET /agents/register
// With action=generate-token a single-use registration token is minted;
// otherwise every agent is listed with liveness stats.
func (h *Handler) RegisterInfo(w http.ResponseWriter, r *http.Request) {
	switch action := r.URL.Query().Get("action"); action {
	case "":
		h.listAgents(w, r)
	case "generate-token":
		token, expiresAt, err := h.registry.GenerateRegistrationToken(r.Context(), r.URL.Query().Get("createdBy"))
		if err != nil {
			h.respondServiceError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"success":   true,
			"token":     token,
			"expiresAt": expiresAt,
		})
	default:
		respondError(w, http.StatusBadRequest, "unknown action "+action)
	}
}

// POST /agents/status
func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())

	var req models.HeartbeatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	if err := h.registry.UpdateStatus(r.Context(), claims.AgentID, req.Status, req.SystemInfo); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Agent not found")
			return
		}
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Status updated"})
}

// GET /agents/status
func (h *Handler) AgentStatus(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agentId")
	if agentID == "" {
		h.listAgents(w, r)
		return
	}

	view, err := h.registry.View(r.Context(), agentID)
	if errors.Is(err, storage.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Agent not found")
		return
	}
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "agent": view})
}

// GET /agents/online
func (h *Handler) OnlineAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.registry.ListOnline(r.Context())
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "agents": agents, "count": len(agents)})
}

func (h *Handler) listAgents(w http.ResponseWriter, r *http.Request) {
	agents, stats, err := h.registry.List(r.Context())
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "agents": agents, "stats": stats})
}
