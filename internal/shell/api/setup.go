// Package api provides the HTTP API of QuickOps: JSON:API project CRUD via
// api2go plus the deploy and build-log actions.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/manyminds/api2go"

	"github.com/artpar/quickops/internal/shell/api/openapi"
	"github.com/artpar/quickops/internal/shell/api/resources"
	"github.com/artpar/quickops/internal/shell/store"
)

// =============================================================================
// API Setup
// =============================================================================

// APIConfig holds configuration for the API setup.
type APIConfig struct {
	Store    store.Store
	Deployer Deployer
	Logger   *slog.Logger
	Version  string
}

// SetupAPI creates the API router. Action routes are registered before the
// api2go catch-all under /api.
func SetupAPI(cfg APIConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	jsonAPI := api2go.NewAPIWithResolver("v1", api2go.NewStaticResolver("/api"))
	jsonAPI.ContentType = "application/vnd.api+json"
	jsonAPI.AddResource(resources.Project{}, resources.NewProjectResource(cfg.Store))

	router := mux.NewRouter()
	router.Use(requestIDMiddleware)
	router.Use(recoveryMiddleware(cfg.Logger))

	router.HandleFunc("/health", healthHandler).Methods("GET")
	router.HandleFunc("/ready", readyHandler(cfg.Store, cfg.Logger)).Methods("GET")

	NewPipelineHandlers(cfg.Deployer, cfg.Logger).RegisterRoutes(router)

	router.HandleFunc("/openapi.json", newOpenAPIGenerator(cfg.Version).Handler()).Methods("GET")

	// api2go expects paths without the /api prefix.
	router.PathPrefix("/api").Handler(http.StripPrefix("/api", jsonAPI.Handler()))

	return router
}

func newOpenAPIGenerator(version string) *openapi.Generator {
	gen := openapi.NewGenerator(
		openapi.WithTitle("QuickOps API"),
		openapi.WithVersion(version),
		openapi.WithDescription("Deployment pipeline orchestrator"),
		openapi.WithServer("/"),
	)
	gen.RegisterResource(openapi.ResourceInfo{
		Name:           "projects",
		Model:          resources.Project{},
		SupportsFind:   true,
		SupportsCreate: true,
		SupportsUpdate: true,
		SupportsDelete: true,
	})
	gen.RegisterAction(openapi.ActionInfo{
		Method:      http.MethodPost,
		Path:        "/api/v1/deploy",
		OperationID: "deployProject",
		Summary:     "Run the deployment pipeline for a project",
		Tag:         "Pipeline",
		Request:     DeployRequest{},
		Response:    DeployResponse{},
		Failure:     FailureResponse{},
	})
	gen.RegisterAction(openapi.ActionInfo{
		Method:      http.MethodGet,
		Path:        "/api/v1/logs/full/{jobName}/{buildId}",
		OperationID: "getFullLog",
		Summary:     "Fetch the full console log of a build",
		Tag:         "Pipeline",
		PathParams:  []string{"jobName", "buildId"},
		Response:    LogResponse{},
		Failure:     FailureResponse{},
	})
	return gen
}

// =============================================================================
// Middleware
// =============================================================================

// requestIDMiddleware echoes X-Request-ID, generating one when absent.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = "req_" + uuid.NewString()
		}
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r)
	})
}

// recoveryMiddleware recovers from panics and returns a 500 error.
func recoveryMiddleware(logger *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic recovered", "error", err, "path", r.URL.Path)
					w.Header().Set("Content-Type", "application/vnd.api+json")
					w.WriteHeader(http.StatusInternalServerError)
					json.NewEncoder(w).Encode(map[string]interface{}{
						"errors": []map[string]interface{}{
							{
								"status": "500",
								"title":  "Internal Server Error",
								"detail": "An unexpected error occurred",
							},
						},
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// =============================================================================
// Health Handlers
// =============================================================================

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

func readyHandler(s store.Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{"database": "ok"}
		if _, err := s.ListProjects(r.Context(), store.ListOptions{Limit: 1}); err != nil {
			logger.Warn("readiness check failed", "check", "database", "error", err)
			checks["database"] = "failed"
			writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
				"status": "not_ready",
				"checks": checks,
			}, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status": "ready",
			"checks": checks,
		}, logger)
	}
}
