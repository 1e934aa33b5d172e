package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"insafe-backend/internal/models"
	"insafe-backend/internal/registry"
	"insafe-backend/internal/storage"
)

// GET /employees
func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	employees, err := h.storage.ListEmployees(r.Context())
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	if employees == nil {
		employees = []models.Employee{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "employees": employees, "count": len(employees)})
}

// GET /employees/{employeeId}
// The employee's most recently seen agent is included when there is one.
func (h *Handler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	employeeID := chi.URLParam(r, "employeeId")

	employee, err := h.storage.GetEmployeeByEmployeeID(r.Context(), employeeID)
	if errors.Is(err, storage.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Employee not found")
		return
	}
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	resp := map[string]any{"success": true, "employee": employee}
	agent, err := h.registry.GetByEmployeeID(r.Context(), employeeID)
	switch {
	case err == nil:
		resp["agent"] = registry.AgentView{Agent: *agent, Online: h.registry.IsOnline(*agent)}
	case !errors.Is(err, storage.ErrNotFound):
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}
