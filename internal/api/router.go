package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"pupctl/internal/handlers"
	"pupctl/internal/middleware"
	"pupctl/internal/service"
)

type Router struct {
	*mux.Router
}

func NewRouter(pm *service.ProcessManager, version string, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := mux.NewRouter()

	health := handlers.NewHealthHandler(pm, version)
	procHandler := handlers.NewProcessHandler(pm, logger)
	busHandler := handlers.NewBusHandler(pm.Bus(), logger)

	r.HandleFunc("/health", health.HealthCheck).Methods(http.MethodGet)
	r.HandleFunc("/ready", health.ReadyCheck).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/processes", procHandler.GetProcesses).Methods(http.MethodGet)
	api.HandleFunc("/processes", procHandler.CreateProcess).Methods(http.MethodPost)
	api.HandleFunc("/processes/{name}", procHandler.GetProcess).Methods(http.MethodGet)
	api.HandleFunc("/processes/{name}", procHandler.DeleteProcess).Methods(http.MethodDelete)
	api.HandleFunc("/processes/{name}/start", procHandler.StartProcess).Methods(http.MethodPost)
	api.HandleFunc("/processes/{name}/stop", procHandler.StopProcess).Methods(http.MethodPost)
	api.HandleFunc("/processes/{name}/restart", procHandler.RestartProcess).Methods(http.MethodPost)
	api.HandleFunc("/logs", procHandler.GetLogs).Methods(http.MethodGet)
	api.HandleFunc("/logs/{name}", procHandler.GetProcessLogs).Methods(http.MethodGet)
	api.HandleFunc("/bus", busHandler.Stream).Methods(http.MethodGet)

	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Logging(logger))

	return &Router{Router: r}
}
