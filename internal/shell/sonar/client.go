// Package sonar provides a minimal SonarQube web API client for registering
// analysis projects.
package sonar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Config holds SonarQube client configuration.
type Config struct {
	BaseURL string // e.g. "https://sonar.example.com"
	Token   string // user token, sent as the basic-auth username
	Timeout time.Duration
}

// Client talks to one SonarQube server.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new SonarQube client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With("component", "sonar"),
	}
}

// ProjectExists reports whether a project with key exists.
func (c *Client) ProjectExists(ctx context.Context, key string) (bool, error) {
	q := url.Values{"projects": {key}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/projects/search?"+q.Encode(), nil)
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	c.setAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return false, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Components []struct {
			Key string `json:"key"`
		} `json:"components"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false, fmt.Errorf("decode response: %w", err)
	}
	return len(result.Components) > 0, nil
}

// CreateProject registers a new project.
func (c *Client) CreateProject(ctx context.Context, key, displayName string) error {
	form := url.Values{"name": {displayName}, "project": {key}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/projects/create", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	c.setAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// EnsureProject creates the project unless it already exists.
func (c *Client) EnsureProject(ctx context.Context, key, displayName string) error {
	exists, err := c.ProjectExists(ctx, key)
	if err != nil {
		return fmt.Errorf("check project %s: %w", key, err)
	}
	if exists {
		c.logger.Debug("quality project exists", "key", key)
		return nil
	}

	c.logger.Info("creating quality project", "key", key, "name", displayName)
	if err := c.CreateProject(ctx, key, displayName); err != nil {
		return fmt.Errorf("create project %s: %w", key, err)
	}
	return nil
}

func (c *Client) setAuth(req *http.Request) {
	if c.token != "" {
		req.SetBasicAuth(c.token, "")
	}
}
