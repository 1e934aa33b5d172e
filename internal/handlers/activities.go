package handlers

import (
	"net/http"
	"strings"

	"insafe-backend/internal/auth"
	"insafe-backend/internal/models"
)

// POST /agents/activities
func (h *Handler) IngestActivities(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())

	var batch models.ActivityBatch
	if err := decodeJSON(w, r, &batch); err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	if batch.Activities == nil {
		respondError(w, http.StatusBadRequest, "activities must be an array")
		return
	}

	saved := h.ingest.Ingest(r.Context(), claims.AgentID, claims.EmployeeID, batch.Activities)
	respondJSON(w, http.StatusOK, models.ActivityBatchResponse{
		Success:    true,
		Message:    "Activities saved",
		SavedCount: saved,
	})
}

// GET /agents/activities
func (h *Handler) ListActivities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	filter := models.ActivityFilter{
		EmployeeID: q.Get("employeeId"),
		AgentID:    q.Get("agentId"),
		Type:       models.ActivityType(strings.ToLower(q.Get("type"))),
		RiskLevel:  models.RiskLevel(strings.ToUpper(q.Get("riskLevel"))),
		Limit:      limit,
	}
	if filter.Type != "" && !filter.Type.Valid() {
		respondError(w, http.StatusBadRequest, "invalid activity type")
		return
	}
	if filter.RiskLevel != "" && !filter.RiskLevel.Valid() {
		respondError(w, http.StatusBadRequest, "invalid risk level")
		return
	}

	activities, err := h.ingest.List(r.Context(), filter)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	if activities == nil {
		activities = []models.Activity{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "activities": activities, "count": len(activities)})
}
