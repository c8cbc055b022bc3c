package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"pupctl/internal/models"
	"pupctl/internal/service"
)

type HealthHandler struct {
	pm      *service.ProcessManager
	version string
}

func NewHealthHandler(pm *service.ProcessManager, version string) *HealthHandler {
	return &HealthHandler{pm: pm, version: version}
}

func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(models.HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().Format(time.RFC3339),
		Version:   h.version,
	})
}

func (h *HealthHandler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	running, total := h.pm.Stats()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(models.HealthResponse{
		Status:    "ready",
		Timestamp: time.Now().Format(time.RFC3339),
		Version:   h.version,
		Running:   running,
		Total:     total,
	})
}
