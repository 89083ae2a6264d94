package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/artpar/quickops/internal/core/domain"
	corepipeline "github.com/artpar/quickops/internal/core/pipeline"
	"github.com/artpar/quickops/internal/shell/store"
)

// Deployer runs pipelines. Implemented by pipeline.Orchestrator.
type Deployer interface {
	Deploy(ctx context.Context, projectID string) (corepipeline.Result, error)
	FetchFullLog(ctx context.Context, jobName string, buildID int) (string, error)
}

// =============================================================================
// Request / Response Types
// =============================================================================

// DeployRequest is the body of POST /api/v1/deploy.
type DeployRequest struct {
	ID string `json:"id"`
}

// DeployResponse reports a finished pipeline run. Success is false when the
// build gate closed.
type DeployResponse struct {
	Success bool                 `json:"success"`
	BuildID int                  `json:"buildId"`
	Stages  []domain.StageResult `json:"stages"`
	Status  domain.StageStatus   `json:"status"`
}

// FailureResponse reports a run that could not complete.
type FailureResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// LogResponse carries a full build log.
type LogResponse struct {
	Log string `json:"log"`
}

// =============================================================================
// Pipeline Handlers
// =============================================================================

// PipelineHandlers serves the deploy and build-log endpoints.
type PipelineHandlers struct {
	deployer Deployer
	logger   *slog.Logger
}

// NewPipelineHandlers creates the pipeline handlers.
func NewPipelineHandlers(d Deployer, logger *slog.Logger) *PipelineHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &PipelineHandlers{deployer: d, logger: logger.With("component", "api")}
}

// RegisterRoutes registers the pipeline routes.
func (h *PipelineHandlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/v1/deploy", h.Deploy).Methods("POST")
	r.HandleFunc("/api/v1/logs/full/{jobName}/{buildId}", h.FullLog).Methods("GET")
}

// Deploy runs the pipeline for the project named in the body and blocks
// until it finishes.
func (h *PipelineHandlers) Deploy(w http.ResponseWriter, r *http.Request) {
	var req DeployRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeFailure(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ID == "" {
		h.writeFailure(w, http.StatusBadRequest, "project id is required")
		return
	}

	// A client that disconnects must not abort a run that is provisioning.
	res, err := h.deployer.Deploy(context.WithoutCancel(r.Context()), req.ID)
	if err != nil {
		status := statusForPipelineError(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("deploy failed", "project_id", req.ID, "error", err)
		}
		h.writeFailure(w, status, err.Error())
		return
	}

	stages := res.Stages
	if stages == nil {
		stages = []domain.StageResult{}
	}
	writeJSON(w, http.StatusOK, DeployResponse{
		Success: res.Succeeded(),
		BuildID: res.BuildID,
		Stages:  stages,
		Status:  res.Status,
	}, h.logger)
}

// FullLog returns the complete console log of one build.
func (h *PipelineHandlers) FullLog(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	buildID, err := strconv.Atoi(vars["buildId"])
	if err != nil {
		h.writeFailure(w, http.StatusBadRequest, "build id must be a number")
		return
	}

	log, err := h.deployer.FetchFullLog(r.Context(), vars["jobName"], buildID)
	if err != nil {
		status := statusForPipelineError(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("fetch log failed", "job", vars["jobName"], "build_id", buildID, "error", err)
		}
		h.writeFailure(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, LogResponse{Log: log}, h.logger)
}

func (h *PipelineHandlers) writeFailure(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, FailureResponse{Success: false, Message: message}, h.logger)
}

// statusForPipelineError checks not-found before validation because a
// missing project is reported as both.
func statusForPipelineError(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case corepipeline.IsValidation(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// =============================================================================
// Helpers
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode JSON", "error", err)
	}
}
