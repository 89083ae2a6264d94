package jenkins

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/artpar/quickops/internal/core/domain"
	"github.com/artpar/quickops/internal/core/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastClient(url string) *Client {
	return NewClient(Config{
		BaseURL:           url,
		User:              "ci",
		APIToken:          "token",
		QueuePollAttempts: 3,
		QueuePollInterval: time.Millisecond,
		BuildPollAttempts: 3,
		BuildPollInterval: time.Millisecond,
	}, nil)
}

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient(Config{BaseURL: "http://ci/"}, nil)
	assert.Equal(t, "http://ci", c.config.BaseURL)
	assert.Equal(t, 30, c.config.QueuePollAttempts)
	assert.Equal(t, 2*time.Second, c.config.QueuePollInterval)
	assert.Equal(t, 120, c.config.BuildPollAttempts)
	assert.Equal(t, 3*time.Second, c.config.BuildPollInterval)
}

func TestEnsurePipeline_CreatesMissingJob(t *testing.T) {
	var created string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "ci", user)
		assert.Equal(t, "token", pass)

		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/job/shopapp/api/json":
			w.WriteHeader(http.StatusNotFound)
		case r.Method == http.MethodPost && r.URL.Path == "/createItem":
			assert.Equal(t, "shopapp", r.URL.Query().Get("name"))
			assert.Equal(t, "application/xml", r.Header.Get("Content-Type"))
			body, _ := io.ReadAll(r.Body)
			created = string(body)
			w.WriteHeader(http.StatusOK)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer server.Close()

	err := fastClient(server.URL).EnsurePipeline(context.Background(), "shopapp", "pipeline { }")
	require.NoError(t, err)
	assert.Contains(t, created, "<![CDATA[pipeline { }]]>")
	assert.Contains(t, created, "<sandbox>true</sandbox>")
}

func TestEnsurePipeline_UpdatesExistingJob(t *testing.T) {
	var updated bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/job/shopapp/api/json":
			w.Write([]byte(`{}`))
		case r.Method == http.MethodPost && r.URL.Path == "/job/shopapp/config.xml":
			updated = true
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer server.Close()

	require.NoError(t, fastClient(server.URL).EnsurePipeline(context.Background(), "shopapp", "x"))
	assert.True(t, updated)
}

func TestEnsurePipeline_PublishFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		http.Error(w, "bad config", http.StatusBadRequest)
	}))
	defer server.Close()

	err := fastClient(server.URL).EnsurePipeline(context.Background(), "shopapp", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 400")
}

func TestTriggerBuild_WaitsForExecutable(t *testing.T) {
	var polls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/job/shopapp/build":
			w.Header().Set("Location", "http://ci/queue/item/42/")
			w.WriteHeader(http.StatusCreated)
		case "/queue/item/42/api/json":
			if atomic.AddInt32(&polls, 1) < 2 {
				w.Write([]byte(`{"why":"waiting"}`))
				return
			}
			w.Write([]byte(`{"executable":{"number":17}}`))
		default:
			t.Errorf("unexpected request %s", r.URL.Path)
		}
	}))
	defer server.Close()

	id, err := fastClient(server.URL).TriggerBuild(context.Background(), "shopapp")
	require.NoError(t, err)
	assert.Equal(t, 17, id)
	assert.Equal(t, int32(2), atomic.LoadInt32(&polls))
}

func TestTriggerBuild_QueueTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/job/shopapp/build" {
			w.Header().Set("Location", "/queue/item/7/")
			w.WriteHeader(http.StatusCreated)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	_, err := fastClient(server.URL).TriggerBuild(context.Background(), "shopapp")
	require.Error(t, err)
	assert.ErrorIs(t, err, pipeline.ErrTimeout)
}

func TestTriggerBuild_MissingLocation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	_, err := fastClient(server.URL).TriggerBuild(context.Background(), "shopapp")
	require.Error(t, err)
	assert.NotErrorIs(t, err, pipeline.ErrTimeout)
}

func TestAwaitBuild(t *testing.T) {
	var polls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/job/shopapp/17/api/json", r.URL.Path)
		if atomic.AddInt32(&polls, 1) < 3 {
			w.Write([]byte(`{"building":true}`))
			return
		}
		w.Write([]byte(`{"building":false,"result":"FAILURE"}`))
	}))
	defer server.Close()

	result, err := fastClient(server.URL).AwaitBuild(context.Background(), "shopapp", 17)
	require.NoError(t, err)
	assert.Equal(t, "FAILURE", result)
}

func TestAwaitBuild_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"building":true}`))
	}))
	defer server.Close()

	_, err := fastClient(server.URL).AwaitBuild(context.Background(), "shopapp", 17)
	assert.ErrorIs(t, err, pipeline.ErrTimeout)
}

func TestAwaitBuild_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"building":true}`))
	}))
	defer server.Close()

	c := fastClient(server.URL)
	c.config.BuildPollInterval = time.Hour
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.AwaitBuild(ctx, "shopapp", 17)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGetStages(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/job/shopapp/17/wfapi/describe", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"stages": []map[string]string{
				{"name": "Checkout", "status": "SUCCESS"},
				{"name": "SonarQube Analysis", "status": "FAILED"},
				{"name": "Push Images", "status": "NOT_EXECUTED"},
			},
		})
	}))
	defer server.Close()

	stages, err := fastClient(server.URL).GetStages(context.Background(), "shopapp", 17)
	require.NoError(t, err)
	assert.Equal(t, []domain.StageResult{
		{Name: "Checkout", Status: domain.StageSuccess},
		{Name: "SonarQube Analysis", Status: domain.StageFailed},
		{Name: "Push Images", Status: domain.StageSuccess},
	}, stages)
}

func TestGetLog(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/job/shopapp/17/consoleText", r.URL.Path)
		w.Write([]byte("Started by user ci\nFinished: SUCCESS\n"))
	}))
	defer server.Close()

	log, err := fastClient(server.URL).GetLog(context.Background(), "shopapp", 17)
	require.NoError(t, err)
	assert.Contains(t, log, "Finished: SUCCESS")
}

func TestPipelineConfig(t *testing.T) {
	out, err := PipelineConfig("desc", "echo ']]>' && echo <b>")
	require.NoError(t, err)

	var parsed flowDefinition
	require.NoError(t, xml.Unmarshal(out, &parsed))
	assert.Equal(t, "echo ']]>' && echo <b>", parsed.Definition.Script.Text)
	assert.True(t, parsed.Definition.Sandbox)
	assert.Equal(t, "org.jenkinsci.plugins.workflow.cps.CpsFlowDefinition", parsed.Definition.Class)
	assert.False(t, parsed.Disabled)
}
