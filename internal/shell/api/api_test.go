package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/quickops/internal/core/domain"
	corepipeline "github.com/artpar/quickops/internal/core/pipeline"
	"github.com/artpar/quickops/internal/shell/store"
)

// =============================================================================
// Test Helpers
// =============================================================================

type fakeDeployer struct {
	result corepipeline.Result
	err    error
	ids    []string
	log    string
	logErr error

	// When set, Deploy hands its context to started and blocks until
	// release is closed.
	started chan context.Context
	release chan struct{}
}

func (f *fakeDeployer) Deploy(ctx context.Context, id string) (corepipeline.Result, error) {
	f.ids = append(f.ids, id)
	if f.started != nil {
		f.started <- ctx
		<-f.release
	}
	return f.result, f.err
}

func (f *fakeDeployer) FetchFullLog(_ context.Context, job string, id int) (string, error) {
	if f.logErr != nil {
		return "", f.logErr
	}
	return fmt.Sprintf("[%s #%d] %s", job, id, f.log), nil
}

type testAPI struct {
	handler  http.Handler
	store    *store.SQLiteStore
	deployer *fakeDeployer
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	d := &fakeDeployer{}
	return &testAPI{
		handler:  SetupAPI(APIConfig{Store: s, Deployer: d, Version: "test"}),
		store:    s,
		deployer: d,
	}
}

func (a *testAPI) do(t *testing.T, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/vnd.api+json")
	req.Header.Set("Accept", "application/vnd.api+json")
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) seed(t *testing.T, name string) *domain.Project {
	t.Helper()
	p := &domain.Project{
		Name:             name,
		FrontendRepo:     "https://github.com/acme/web.git",
		BackendRepos:     []string{"https://github.com/acme/orders.git"},
		CredentialToken:  "ghp_secret",
		DeploymentChoice: domain.DeploymentVM,
	}
	require.NoError(t, a.store.CreateProject(context.Background(), p))
	return p
}

func jsonAPIBody(t *testing.T, id string, attrs map[string]any) []byte {
	t.Helper()
	data := map[string]any{"type": "projects", "attributes": attrs}
	if id != "" {
		data["id"] = id
	}
	b, err := json.Marshal(map[string]any{"data": data})
	require.NoError(t, err)
	return b
}

// resource decodes a single JSON:API resource, accepting attributes either
// nested or flattened next to the id.
func resource(t *testing.T, raw json.RawMessage) map[string]any {
	t.Helper()
	var obj map[string]any
	require.NoError(t, json.Unmarshal(raw, &obj))
	if attrs, ok := obj["attributes"].(map[string]any); ok {
		attrs["id"] = obj["id"]
		return attrs
	}
	return obj
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder) json.RawMessage {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope), rec.Body.String())
	return envelope.Data
}

// =============================================================================
// Health
// =============================================================================

func TestHealth(t *testing.T) {
	a := newTestAPI(t)
	rec := a.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestHealth_EchoesRequestID(t *testing.T) {
	a := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestReady(t *testing.T) {
	a := newTestAPI(t)
	rec := a.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, a.store.Close())
	rec = a.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "not_ready")
}

// =============================================================================
// Deploy
// =============================================================================

func TestDeploy_Success(t *testing.T) {
	a := newTestAPI(t)
	a.deployer.result = corepipeline.Result{
		BuildID: 42,
		Stages:  []domain.StageResult{{Name: "Build Images", Status: domain.StageSuccess}},
		Status:  domain.StageSuccess,
	}

	rec := a.do(t, http.MethodPost, "/api/v1/deploy", []byte(`{"id":"p-1"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp DeployResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 42, resp.BuildID)
	assert.Equal(t, domain.StageSuccess, resp.Status)
	assert.Len(t, resp.Stages, 1)
	assert.Equal(t, []string{"p-1"}, a.deployer.ids)
}

func TestDeploy_GateClosedIsNotAnError(t *testing.T) {
	a := newTestAPI(t)
	a.deployer.result = corepipeline.Result{BuildID: 7, Status: domain.StageFailed}

	rec := a.do(t, http.MethodPost, "/api/v1/deploy", []byte(`{"id":"p-1"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":false,"buildId":7,"stages":[],"status":"FAILED"}`, rec.Body.String())
}

func TestDeploy_ErrorStatuses(t *testing.T) {
	notFound := store.NewStoreError("GetProject", "project", "p-9", "project not found", store.ErrNotFound)

	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"unknown project", corepipeline.Validation("load project", notFound), http.StatusNotFound},
		{"choice unset", corepipeline.Validation("validate project", domain.ErrDeploymentChoiceUnset), http.StatusBadRequest},
		{"hard failure", corepipeline.Hardf(corepipeline.StageProvision, "converge", "missing expected outputs"), http.StatusInternalServerError},
		{"timeout", corepipeline.Timeout(corepipeline.StageBuildAndScan, "await build", "still running"), http.StatusInternalServerError},
		{"cancelled", corepipeline.Hard(corepipeline.StageBuildAndScan, "await build", context.Canceled), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAPI(t)
			a.deployer.err = tt.err

			rec := a.do(t, http.MethodPost, "/api/v1/deploy", []byte(`{"id":"p-9"}`))
			assert.Equal(t, tt.status, rec.Code)

			var resp FailureResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.False(t, resp.Success)
			assert.Equal(t, tt.err.Error(), resp.Message)
		})
	}
}

func TestDeploy_ClientDisconnectDoesNotCancelRun(t *testing.T) {
	a := newTestAPI(t)
	a.deployer.result = corepipeline.Result{BuildID: 3, Status: domain.StageSuccess}
	a.deployer.started = make(chan context.Context, 1)
	a.deployer.release = make(chan struct{})

	srv := httptest.NewServer(a.handler)
	defer srv.Close()

	reqCtx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, srv.URL+"/api/v1/deploy", bytes.NewReader([]byte(`{"id":"p-1"}`)))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	clientDone := make(chan error, 1)
	go func() {
		resp, err := srv.Client().Do(req)
		if resp != nil {
			resp.Body.Close()
		}
		clientDone <- err
	}()

	var runCtx context.Context
	select {
	case runCtx = <-a.deployer.started:
	case <-time.After(5 * time.Second):
		t.Fatal("deploy never started")
	}

	cancel()
	require.Error(t, <-clientDone, "client request should be aborted")

	// Give the server time to notice the closed connection.
	time.Sleep(100 * time.Millisecond)
	assert.NoError(t, runCtx.Err(), "run context must survive the client going away")

	close(a.deployer.release)
}

func TestDeploy_BadBody(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/api/v1/deploy", []byte(`{`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodPost, "/api/v1/deploy", []byte(`{}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, a.deployer.ids)
}

// =============================================================================
// Logs
// =============================================================================

func TestFullLog(t *testing.T) {
	a := newTestAPI(t)
	a.deployer.log = "Finished: SUCCESS"

	rec := a.do(t, http.MethodGet, "/api/v1/logs/full/shopapp/12", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp LogResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "[shopapp #12] Finished: SUCCESS", resp.Log)

	rec = a.do(t, http.MethodGet, "/api/v1/logs/full/shopapp/latest", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFullLog_Errors(t *testing.T) {
	a := newTestAPI(t)

	a.deployer.logErr = corepipeline.Validation("fetch log", domain.ErrProjectNameInvalid)
	rec := a.do(t, http.MethodGet, "/api/v1/logs/full/bad_name/1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	a.deployer.logErr = corepipeline.Hard(corepipeline.StageBuildAndScan, "fetch log", errors.New("unexpected status 404"))
	rec = a.do(t, http.MethodGet, "/api/v1/logs/full/shopapp/1", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

// =============================================================================
// Projects
// =============================================================================

func TestProjects_CreateGetList(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/api/v1/projects", jsonAPIBody(t, "", map[string]any{
		"name":              "shopapp",
		"frontend_repo":     "https://github.com/acme/web.git",
		"backend_repos":     []string{"https://github.com/acme/orders.git", "https://github.com/acme/payments.git"},
		"credential_token":  "ghp_secret",
		"deployment_choice": "Kubernetes",
		"status":            "DEPLOYED",
	}))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "ghp_secret")

	created := resource(t, decodeData(t, rec))
	id, _ := created["id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, "CLUSTER", created["deployment_choice"])
	assert.Equal(t, "NOT_DEPLOYED", created["status"])

	stored, err := a.store.GetProject(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "ghp_secret", stored.CredentialToken)

	rec = a.do(t, http.MethodGet, "/api/v1/projects/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := resource(t, decodeData(t, rec))
	assert.Equal(t, "shopapp", got["name"])
	assert.Len(t, got["backend_repos"], 2)

	rec = a.do(t, http.MethodGet, "/api/v1/projects", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []json.RawMessage
	require.NoError(t, json.Unmarshal(decodeData(t, rec), &list))
	assert.Len(t, list, 1)
}

func TestProjects_CreateRejected(t *testing.T) {
	a := newTestAPI(t)
	a.seed(t, "shopapp")

	base := map[string]any{
		"frontend_repo":    "https://github.com/acme/web.git",
		"backend_repos":    []string{"https://github.com/acme/orders.git"},
		"credential_token": "ghp_secret",
	}
	with := func(k string, v any) map[string]any {
		m := map[string]any{"name": "other"}
		for key, val := range base {
			m[key] = val
		}
		m[k] = v
		return m
	}

	tests := []struct {
		name   string
		attrs  map[string]any
		status int
	}{
		{"invalid name", with("name", "shop_app"), http.StatusBadRequest},
		{"no backends", with("backend_repos", []string{}), http.StatusBadRequest},
		{"no credential", with("credential_token", ""), http.StatusBadRequest},
		{"unknown choice", with("deployment_choice", "PAAS"), http.StatusBadRequest},
		{"duplicate name", with("name", "ShopApp"), http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := a.do(t, http.MethodPost, "/api/v1/projects", jsonAPIBody(t, "", tt.attrs))
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestProjects_GetNotFound(t *testing.T) {
	a := newTestAPI(t)
	rec := a.do(t, http.MethodGet, "/api/v1/projects/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProjects_Update(t *testing.T) {
	a := newTestAPI(t)
	p := a.seed(t, "shopapp")

	rec := a.do(t, http.MethodPatch, "/api/v1/projects/"+p.ID, jsonAPIBody(t, p.ID, map[string]any{
		"deployment_choice": "k8s",
		"recommendation":    "CLUSTER",
		"reasoning":         "three backends",
	}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	stored, err := a.store.GetProject(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DeploymentCluster, stored.DeploymentChoice)
	assert.Equal(t, "three backends", stored.Reasoning)
	assert.Equal(t, domain.StatusNotDeployed, stored.Status)

	rec = a.do(t, http.MethodPatch, "/api/v1/projects/"+p.ID, jsonAPIBody(t, p.ID, map[string]any{"name": "renamed"}))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestProjects_DeleteRefusedWhileDeployed(t *testing.T) {
	a := newTestAPI(t)
	p := a.seed(t, "shopapp")
	_, err := a.store.UpdateByID(context.Background(), p.ID, domain.DeployedUpdate("20.1.2.3", "shop.example.net"))
	require.NoError(t, err)

	rec := a.do(t, http.MethodDelete, "/api/v1/projects/"+p.ID, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	_, err = a.store.GetProject(context.Background(), p.ID)
	assert.NoError(t, err, "deployed project must survive")
}

func TestProjects_Delete(t *testing.T) {
	a := newTestAPI(t)
	p := a.seed(t, "shopapp")

	rec := a.do(t, http.MethodDelete, "/api/v1/projects/"+p.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = a.do(t, http.MethodDelete, "/api/v1/projects/"+p.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// OpenAPI
// =============================================================================

func TestOpenAPI(t *testing.T) {
	a := newTestAPI(t)
	rec := a.do(t, http.MethodGet, "/openapi.json", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var doc struct {
		Info struct {
			Title   string `json:"title"`
			Version string `json:"version"`
		} `json:"info"`
		Paths map[string]map[string]any `json:"paths"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "QuickOps API", doc.Info.Title)
	assert.Equal(t, "test", doc.Info.Version)
	assert.Contains(t, doc.Paths["/api/v1/deploy"], "post")
	assert.Contains(t, doc.Paths["/api/v1/logs/full/{jobName}/{buildId}"], "get")
	assert.Contains(t, doc.Paths["/api/v1/projects/{id}"], "patch")
	assert.Contains(t, doc.Paths["/api/v1/projects/{id}"], "delete")
}
