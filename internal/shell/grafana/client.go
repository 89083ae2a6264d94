// Package grafana provides a Grafana HTTP API client for registering the
// Prometheus datasource and publishing per-project dashboards.
package grafana

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/artpar/quickops/internal/core/monitoring"
)

// DataSourceName is the name every panel refers to.
const DataSourceName = "Prometheus"

// Config holds Grafana client configuration. APIKey takes precedence over
// basic auth when set.
type Config struct {
	BaseURL  string
	User     string
	Password string
	APIKey   string
	Timeout  time.Duration
}

// Client talks to one Grafana instance.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new Grafana client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With("component", "grafana"),
	}
}

// =============================================================================
// Wire Types
// =============================================================================

type dataSource struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	URL       string `json:"url"`
	Access    string `json:"access"`
	IsDefault bool   `json:"isDefault"`
}

type dashboardRequest struct {
	Dashboard dashboard `json:"dashboard"`
	Overwrite bool      `json:"overwrite"`
}

type dashboard struct {
	UID           string   `json:"uid"`
	Title         string   `json:"title"`
	Tags          []string `json:"tags"`
	Timezone      string   `json:"timezone"`
	SchemaVersion int      `json:"schemaVersion"`
	Version       int      `json:"version"`
	Panels        []panel  `json:"panels"`
}

type panel struct {
	ID          int                `json:"id"`
	Title       string             `json:"title"`
	Type        string             `json:"type"`
	Datasource  string             `json:"datasource"`
	Targets     []panelTarget      `json:"targets"`
	GridPos     monitoring.GridPos `json:"gridPos"`
	FieldConfig fieldConfig        `json:"fieldConfig"`
}

type panelTarget struct {
	Expr         string `json:"expr"`
	LegendFormat string `json:"legendFormat"`
	RefID        string `json:"refId"`
}

type fieldConfig struct {
	Defaults struct {
		Color struct {
			Mode string `json:"mode"`
		} `json:"color"`
	} `json:"defaults"`
}

func toPanels(specs []monitoring.PanelSpec) []panel {
	panels := make([]panel, 0, len(specs))
	for _, s := range specs {
		p := panel{
			ID:         s.ID,
			Title:      s.Title,
			Type:       "timeseries",
			Datasource: DataSourceName,
			Targets:    []panelTarget{{Expr: s.Expr, LegendFormat: "{{instance}}", RefID: "A"}},
			GridPos:    s.GridPos,
		}
		p.FieldConfig.Defaults.Color.Mode = "palette-classic"
		panels = append(panels, p)
	}
	return panels
}

// =============================================================================
// Operations
// =============================================================================

// EnsureDataSource registers the default Prometheus datasource pointing at
// prometheusURL. An existing datasource of the same name is left alone.
func (c *Client) EnsureDataSource(ctx context.Context, prometheusURL string) error {
	resp, err := c.postJSON(ctx, "/api/datasources", dataSource{
		Name:      DataSourceName,
		Type:      "prometheus",
		URL:       prometheusURL,
		Access:    "proxy",
		IsDefault: true,
	})
	if err != nil {
		return fmt.Errorf("create datasource: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		c.logger.Info("created datasource", "name", DataSourceName, "url", prometheusURL)
		return nil
	case http.StatusConflict:
		c.logger.Warn("datasource already exists", "name", DataSourceName)
		return nil
	default:
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("create datasource: unexpected status %d: %s", resp.StatusCode, string(body))
	}
}

// UpsertDashboard creates or overwrites the dashboard with uid.
func (c *Client) UpsertDashboard(ctx context.Context, uid, title string, tags []string, panels []monitoring.PanelSpec) error {
	if tags == nil {
		tags = []string{}
	}
	resp, err := c.postJSON(ctx, "/api/dashboards/db", dashboardRequest{
		Dashboard: dashboard{
			UID:           uid,
			Title:         title,
			Tags:          tags,
			Timezone:      "browser",
			SchemaVersion: 36,
			Version:       0,
			Panels:        toPanels(panels),
		},
		Overwrite: true,
	})
	if err != nil {
		return fmt.Errorf("upsert dashboard %s: %w", uid, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("upsert dashboard %s: unexpected status %d: %s", uid, resp.StatusCode, string(body))
	}

	c.logger.Info("published dashboard", "uid", uid, "panels", len(panels))
	return nil
}

// =============================================================================
// Helper Methods
// =============================================================================

func (c *Client) postJSON(ctx context.Context, path string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	} else if c.config.User != "" {
		req.SetBasicAuth(c.config.User, c.config.Password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	return resp, nil
}
