package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"pupctl/internal/models"
	"pupctl/internal/service"
)

const defaultLogLimit = 50

type ProcessHandler struct {
	pm     *service.ProcessManager
	logger *zap.Logger
}

func NewProcessHandler(pm *service.ProcessManager, logger *zap.Logger) *ProcessHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProcessHandler{pm: pm, logger: logger}
}

func (h *ProcessHandler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn("encoding JSON response", zap.Error(err))
	}
}

func (h *ProcessHandler) writeError(w http.ResponseWriter, status int, err error, message string) {
	h.writeJSON(w, status, models.ErrorResponse{
		Error:   err.Error(),
		Message: message,
	})
}

// writeServiceError maps manager sentinel errors onto HTTP statuses.
func (h *ProcessHandler) writeServiceError(w http.ResponseWriter, err error, name, action string) {
	switch {
	case errors.Is(err, service.ErrProcessNotFound):
		h.writeError(w, http.StatusNotFound, err, "Process not found: "+name)
	case errors.Is(err, service.ErrProcessAlreadyRunning):
		h.writeError(w, http.StatusConflict, err, "Process already running: "+name)
	case errors.Is(err, service.ErrProcessNotRunning):
		h.writeError(w, http.StatusConflict, err, "Process not running: "+name)
	case errors.Is(err, service.ErrProcessExists):
		h.writeError(w, http.StatusConflict, err, "Process already exists: "+name)
	case errors.Is(err, service.ErrInvalidDefinition):
		h.writeError(w, http.StatusBadRequest, err, "Invalid process definition")
	default:
		h.writeError(w, http.StatusInternalServerError, err, "Failed to "+action+" process")
	}
}

// waitOnProcess lifts the server write deadline for actions that block until
// a process exits, which can take longer than the deadline allows.
func waitOnProcess(w http.ResponseWriter) {
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})
}

func (h *ProcessHandler) GetProcesses(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.pm.GetProcesses())
}

func (h *ProcessHandler) GetProcess(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	p, ok := h.pm.GetProcess(name)
	if !ok {
		h.writeServiceError(w, service.ErrProcessNotFound, name, "describe")
		return
	}
	h.writeJSON(w, http.StatusOK, p)
}

func (h *ProcessHandler) CreateProcess(w http.ResponseWriter, r *http.Request) {
	var req models.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	p, err := h.pm.Create(req)
	if err != nil {
		h.writeServiceError(w, err, req.Name, "create")
		return
	}
	h.writeJSON(w, http.StatusCreated, p)
}

func (h *ProcessHandler) StartProcess(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	if err := h.pm.StartProcess(name); err != nil {
		h.writeServiceError(w, err, name, "start")
		return
	}

	h.writeJSON(w, http.StatusOK, models.SuccessResponse{
		Status:  "started",
		Message: "Process " + name + " started successfully",
	})
}

func (h *ProcessHandler) StopProcess(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	waitOnProcess(w)

	if err := h.pm.StopProcess(name); err != nil {
		h.writeServiceError(w, err, name, "stop")
		return
	}

	h.writeJSON(w, http.StatusOK, models.SuccessResponse{
		Status:  "stopped",
		Message: "Process " + name + " stopped successfully",
	})
}

func (h *ProcessHandler) RestartProcess(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	waitOnProcess(w)

	if err := h.pm.RestartProcess(name); err != nil {
		h.writeServiceError(w, err, name, "restart")
		return
	}

	h.writeJSON(w, http.StatusOK, models.SuccessResponse{
		Status:  "restarted",
		Message: "Process " + name + " restarted successfully",
	})
}

func (h *ProcessHandler) DeleteProcess(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	waitOnProcess(w)

	if err := h.pm.DeleteProcess(name); err != nil {
		h.writeServiceError(w, err, name, "delete")
		return
	}

	h.writeJSON(w, http.StatusOK, models.SuccessResponse{
		Status:  "deleted",
		Message: "Process " + name + " deleted successfully",
	})
}

// GetLogs serves the manager's in-memory log buffer, optionally filtered by
// ?level=. ?limit= caps the number of entries.
func (h *ProcessHandler) GetLogs(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r)
	if level := r.URL.Query().Get("level"); level != "" {
		h.writeJSON(w, http.StatusOK, h.pm.GetLogsByLevel(level, limit))
		return
	}
	h.writeJSON(w, http.StatusOK, h.pm.GetLogs(limit))
}

func (h *ProcessHandler) GetProcessLogs(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	h.writeJSON(w, http.StatusOK, h.pm.GetLogsByProcess(name, parseLimit(r)))
}

func parseLimit(r *http.Request) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return defaultLogLimit
}
