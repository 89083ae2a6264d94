// Package jenkins provides a client for the Jenkins remote API: publishing
// pipeline jobs, triggering builds and reading their outcome.
package jenkins

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/artpar/quickops/internal/core/domain"
	"github.com/artpar/quickops/internal/core/pipeline"
)

// Config holds Jenkins client configuration.
type Config struct {
	BaseURL  string // e.g. "https://ci.example.com"
	User     string
	APIToken string
	Timeout  time.Duration

	QueuePollAttempts int
	QueuePollInterval time.Duration
	BuildPollAttempts int
	BuildPollInterval time.Duration
}

// DefaultConfig returns the default polling bounds.
func DefaultConfig() Config {
	return Config{
		Timeout:           30 * time.Second,
		QueuePollAttempts: 30,
		QueuePollInterval: 2 * time.Second,
		BuildPollAttempts: 120,
		BuildPollInterval: 3 * time.Second,
	}
}

// Client talks to one Jenkins controller.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new Jenkins client. Zero polling fields take their
// defaults.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.QueuePollAttempts <= 0 {
		cfg.QueuePollAttempts = def.QueuePollAttempts
	}
	if cfg.QueuePollInterval <= 0 {
		cfg.QueuePollInterval = def.QueuePollInterval
	}
	if cfg.BuildPollAttempts <= 0 {
		cfg.BuildPollAttempts = def.BuildPollAttempts
	}
	if cfg.BuildPollInterval <= 0 {
		cfg.BuildPollInterval = def.BuildPollInterval
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With("component", "jenkins"),
	}
}

var queueItemPattern = regexp.MustCompile(`item/(\d+)`)

// =============================================================================
// Jobs
// =============================================================================

// JobExists reports whether a job called name exists.
func (c *Client) JobExists(ctx context.Context, name string) (bool, error) {
	resp, err := c.do(ctx, http.MethodGet, c.jobPath(name)+"/api/json", nil, "")
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, unexpectedStatus(resp)
	}
}

// EnsurePipeline creates the job or replaces its definition.
func (c *Client) EnsurePipeline(ctx context.Context, name, definition string) error {
	config, err := PipelineConfig("QuickOps pipeline for "+name, definition)
	if err != nil {
		return err
	}

	exists, err := c.JobExists(ctx, name)
	if err != nil {
		return fmt.Errorf("check job %s: %w", name, err)
	}

	path := "/createItem?name=" + url.QueryEscape(name)
	if exists {
		path = c.jobPath(name) + "/config.xml"
	}

	resp, err := c.do(ctx, http.MethodPost, path, bytes.NewReader(config), "application/xml")
	if err != nil {
		return fmt.Errorf("publish job %s: %w", name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("publish job %s: %w", name, unexpectedStatus(resp))
	}

	c.logger.Info("published pipeline", "job", name, "created", !exists)
	return nil
}

// =============================================================================
// Builds
// =============================================================================

// TriggerBuild queues a build of name and waits until it leaves the queue,
// returning the build number. Exhausting the poll budget returns an error
// wrapping pipeline.ErrTimeout.
func (c *Client) TriggerBuild(ctx context.Context, name string) (int, error) {
	resp, err := c.do(ctx, http.MethodPost, c.jobPath(name)+"/build", nil, "")
	if err != nil {
		return 0, fmt.Errorf("trigger build %s: %w", name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("trigger build %s: %w", name, unexpectedStatus(resp))
	}

	m := queueItemPattern.FindStringSubmatch(resp.Header.Get("Location"))
	if m == nil {
		return 0, fmt.Errorf("trigger build %s: no queue item in Location %q", name, resp.Header.Get("Location"))
	}
	queueID := m[1]

	for i := 0; i < c.config.QueuePollAttempts; i++ {
		var item struct {
			Executable *struct {
				Number int `json:"number"`
			} `json:"executable"`
		}
		if err := c.getJSON(ctx, "/queue/item/"+queueID+"/api/json", &item); err != nil {
			return 0, fmt.Errorf("poll queue item %s: %w", queueID, err)
		}
		if item.Executable != nil && item.Executable.Number > 0 {
			c.logger.Info("build started", "job", name, "queue_id", queueID, "build_id", item.Executable.Number)
			return item.Executable.Number, nil
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(c.config.QueuePollInterval):
		}
	}

	return 0, fmt.Errorf("queue item %s for %s never started after %d polls: %w",
		queueID, name, c.config.QueuePollAttempts, pipeline.ErrTimeout)
}

// AwaitBuild polls until the build stops running and returns its result,
// e.g. "SUCCESS" or "FAILURE".
func (c *Client) AwaitBuild(ctx context.Context, name string, buildID int) (string, error) {
	path := fmt.Sprintf("%s/%d/api/json", c.jobPath(name), buildID)

	for i := 0; i < c.config.BuildPollAttempts; i++ {
		var build struct {
			Building bool   `json:"building"`
			Result   string `json:"result"`
		}
		if err := c.getJSON(ctx, path, &build); err != nil {
			return "", fmt.Errorf("poll build %s #%d: %w", name, buildID, err)
		}
		if !build.Building {
			return build.Result, nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(c.config.BuildPollInterval):
		}
	}

	return "", fmt.Errorf("build %s #%d still running after %d polls: %w",
		name, buildID, c.config.BuildPollAttempts, pipeline.ErrTimeout)
}

// GetStages returns the pipeline stages of a finished build in order.
func (c *Client) GetStages(ctx context.Context, name string, buildID int) ([]domain.StageResult, error) {
	var describe struct {
		Stages []struct {
			Name   string `json:"name"`
			Status string `json:"status"`
		} `json:"stages"`
	}
	path := fmt.Sprintf("%s/%d/wfapi/describe", c.jobPath(name), buildID)
	if err := c.getJSON(ctx, path, &describe); err != nil {
		return nil, fmt.Errorf("describe build %s #%d: %w", name, buildID, err)
	}

	stages := make([]domain.StageResult, 0, len(describe.Stages))
	for _, s := range describe.Stages {
		stages = append(stages, domain.StageResult{Name: s.Name, Status: domain.ParseStageStatus(s.Status)})
	}
	return stages, nil
}

// GetLog returns the full console output of a build.
func (c *Client) GetLog(ctx context.Context, name string, buildID int) (string, error) {
	resp, err := c.do(ctx, http.MethodGet, fmt.Sprintf("%s/%d/consoleText", c.jobPath(name), buildID), nil, "")
	if err != nil {
		return "", fmt.Errorf("fetch log %s #%d: %w", name, buildID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch log %s #%d: %w", name, buildID, unexpectedStatus(resp))
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read log: %w", err)
	}
	return string(body), nil
}

// =============================================================================
// Helper Methods
// =============================================================================

func (c *Client) jobPath(name string) string {
	return "/job/" + url.PathEscape(name)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.config.User != "" {
		req.SetBasicAuth(c.config.User, c.config.APIToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	return resp, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	resp, err := c.do(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return unexpectedStatus(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func unexpectedStatus(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

