// Package resources provides JSON:API resource implementations for the QuickOps API.
package resources

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/manyminds/api2go"

	"github.com/artpar/quickops/internal/core/domain"
	"github.com/artpar/quickops/internal/shell/store"
)

// =============================================================================
// Project JSON:API Model
// =============================================================================

// Project wraps domain.Project for the JSON:API format. The credential token
// is accepted on create and never returned.
type Project struct {
	ID               string    `json:"-"`
	Name             string    `json:"name"`
	FrontendRepo     string    `json:"frontend_repo"`
	BackendRepos     []string  `json:"backend_repos"`
	CredentialToken  string    `json:"credential_token,omitempty"`
	DeploymentChoice string    `json:"deployment_choice,omitempty"`
	Status           string    `json:"status"`
	Recommendation   string    `json:"recommendation,omitempty"`
	Reasoning        string    `json:"reasoning,omitempty"`
	PublicIP         string    `json:"public_ip,omitempty"`
	DNSLabel         string    `json:"dns_label,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// GetID returns the project ID for JSON:API.
func (p Project) GetID() string {
	return p.ID
}

// SetID sets the project ID for JSON:API.
func (p *Project) SetID(id string) error {
	p.ID = id
	return nil
}

// GetName returns the JSON:API resource type name.
func (p Project) GetName() string {
	return "projects"
}

// ProjectFromDomain converts a domain.Project to its JSON:API form.
func ProjectFromDomain(p *domain.Project) Project {
	return Project{
		ID:               p.ID,
		Name:             p.Name,
		FrontendRepo:     p.FrontendRepo,
		BackendRepos:     p.BackendRepos,
		DeploymentChoice: string(p.DeploymentChoice),
		Status:           string(p.Status),
		Recommendation:   p.Recommendation,
		Reasoning:        p.Reasoning,
		PublicIP:         p.PublicIP,
		DNSLabel:         p.DNSLabel,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}
}

// =============================================================================
// ProjectResource - CRUD Operations
// =============================================================================

// ProjectResource implements the api2go resource interface for projects.
type ProjectResource struct {
	Store store.Store
}

// NewProjectResource creates a project resource handler.
func NewProjectResource(s store.Store) *ProjectResource {
	return &ProjectResource{Store: s}
}

// FindAll returns projects with optional pagination and status filter.
// GET /api/v1/projects
func (r ProjectResource) FindAll(req api2go.Request) (api2go.Responder, error) {
	opts := store.DefaultListOptions()
	if v := queryParam(req, "page[size]"); v != "" {
		if l, err := strconv.Atoi(v); err == nil {
			opts.Limit = l
		}
	}
	if v := queryParam(req, "page[offset]"); v != "" {
		if o, err := strconv.Atoi(v); err == nil {
			opts.Offset = o
		}
	}
	if v := queryParam(req, "page[number]"); v != "" {
		if pn, err := strconv.Atoi(v); err == nil && pn > 0 {
			opts.Offset = (pn - 1) * opts.Limit
		}
	}
	if v := queryParam(req, "filter[status]"); v != "" {
		status, err := domain.ParseProjectStatus(v)
		if err != nil {
			return badRequest(err)
		}
		opts.Status = status
	}

	projects, err := r.Store.ListProjects(req.PlainRequest.Context(), opts)
	if err != nil {
		return &Response{Code: http.StatusInternalServerError}, err
	}

	result := make([]Project, 0, len(projects))
	for i := range projects {
		result = append(result, ProjectFromDomain(&projects[i]))
	}
	return &Response{
		Code: http.StatusOK,
		Res:  result,
		Meta: map[string]interface{}{
			"total":  len(result),
			"limit":  opts.Limit,
			"offset": opts.Offset,
		},
	}, nil
}

// FindOne returns a single project by ID.
// GET /api/v1/projects/{id}
func (r ProjectResource) FindOne(id string, req api2go.Request) (api2go.Responder, error) {
	p, err := r.Store.GetProject(req.PlainRequest.Context(), id)
	if err != nil {
		return storeFailure(err)
	}
	return &Response{Code: http.StatusOK, Res: ProjectFromDomain(p)}, nil
}

// Create registers a project. It starts NOT_DEPLOYED whatever the body says.
// POST /api/v1/projects
func (r ProjectResource) Create(obj interface{}, req api2go.Request) (api2go.Responder, error) {
	in, ok := obj.(Project)
	if !ok {
		return badRequest(fmt.Errorf("invalid request body"))
	}

	p := &domain.Project{
		Name:            in.Name,
		FrontendRepo:    in.FrontendRepo,
		BackendRepos:    in.BackendRepos,
		CredentialToken: in.CredentialToken,
		Status:          domain.StatusNotDeployed,
		Recommendation:  in.Recommendation,
		Reasoning:       in.Reasoning,
	}
	if in.DeploymentChoice != "" {
		choice, err := domain.ParseDeploymentChoice(in.DeploymentChoice)
		if err != nil {
			return badRequest(err)
		}
		p.DeploymentChoice = choice
	}
	if err := domain.ValidateNewProject(*p); err != nil {
		return badRequest(err)
	}

	if err := r.Store.CreateProject(req.PlainRequest.Context(), p); err != nil {
		return storeFailure(err)
	}
	return &Response{Code: http.StatusCreated, Res: ProjectFromDomain(p)}, nil
}

// Update changes the deployment choice, recommendation or reasoning of a
// project. Name is immutable and status belongs to the pipeline.
// PATCH /api/v1/projects/{id}
func (r ProjectResource) Update(obj interface{}, req api2go.Request) (api2go.Responder, error) {
	in, ok := obj.(Project)
	if !ok {
		return badRequest(fmt.Errorf("invalid request body"))
	}
	ctx := req.PlainRequest.Context()

	existing, err := r.Store.GetProject(ctx, in.ID)
	if err != nil {
		return storeFailure(err)
	}
	if in.Name != "" && in.Name != existing.Name {
		return &Response{Code: http.StatusConflict}, api2go.NewHTTPError(
			fmt.Errorf("project name is immutable"),
			"Project name is immutable",
			http.StatusConflict,
		)
	}

	var update domain.ProjectUpdate
	if in.DeploymentChoice != "" && in.DeploymentChoice != string(existing.DeploymentChoice) {
		choice, err := domain.ParseDeploymentChoice(in.DeploymentChoice)
		if err != nil {
			return badRequest(err)
		}
		update.DeploymentChoice = &choice
	}
	if in.Recommendation != "" && in.Recommendation != existing.Recommendation {
		update.Recommendation = &in.Recommendation
	}
	if in.Reasoning != "" && in.Reasoning != existing.Reasoning {
		update.Reasoning = &in.Reasoning
	}
	if update.IsEmpty() {
		return &Response{Code: http.StatusOK, Res: ProjectFromDomain(existing)}, nil
	}

	updated, err := r.Store.UpdateByID(ctx, existing.ID, update)
	if err != nil {
		return storeFailure(err)
	}
	return &Response{Code: http.StatusOK, Res: ProjectFromDomain(updated)}, nil
}

// Delete removes a project. Deployed projects are refused with 409.
// DELETE /api/v1/projects/{id}
func (r ProjectResource) Delete(id string, req api2go.Request) (api2go.Responder, error) {
	if err := r.Store.DeleteProject(req.PlainRequest.Context(), id); err != nil {
		return storeFailure(err)
	}
	return &Response{Code: http.StatusNoContent}, nil
}

// =============================================================================
// Response Helper
// =============================================================================

// Response implements api2go.Responder for custom responses.
type Response struct {
	Code int
	Res  interface{}
	Meta map[string]interface{}
}

// Metadata returns additional metadata for the response.
func (r *Response) Metadata() map[string]interface{} {
	return r.Meta
}

// Result returns the response data.
func (r *Response) Result() interface{} {
	return r.Res
}

// StatusCode returns the HTTP status code.
func (r *Response) StatusCode() int {
	return r.Code
}

// =============================================================================
// Helper Functions
// =============================================================================

func queryParam(req api2go.Request, key string) string {
	if v, ok := req.QueryParams[key]; ok && len(v) > 0 {
		return v[0]
	}
	return ""
}

func badRequest(err error) (api2go.Responder, error) {
	return &Response{Code: http.StatusBadRequest}, api2go.NewHTTPError(err, err.Error(), http.StatusBadRequest)
}

// storeFailure maps store sentinels onto HTTP statuses.
func storeFailure(err error) (api2go.Responder, error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		return &Response{Code: status}, err
	}
	return &Response{Code: status}, api2go.NewHTTPError(err, titleFor(status), status)
}

// StatusFor returns the HTTP status a store error maps to.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrProjectDeployed), errors.Is(err, store.ErrDuplicateName), errors.Is(err, store.ErrDuplicateID):
		return http.StatusConflict
	case errors.Is(err, store.ErrInvalidProject):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func titleFor(status int) string {
	switch status {
	case http.StatusNotFound:
		return "Project not found"
	case http.StatusConflict:
		return "Project conflict"
	default:
		return http.StatusText(status)
	}
}
