// Package pipeline runs a project through build, provisioning,
// configuration and observability, and records the outcome.
// This is part of the Imperative Shell - it sequences the I/O collaborators
// around the pure rules in internal/core.
package pipeline

import (
	"context"

	"github.com/artpar/quickops/internal/core/domain"
	"github.com/artpar/quickops/internal/core/monitoring"
	"github.com/artpar/quickops/internal/shell/cluster"
)

// BuildSystem publishes and runs CI pipelines. Implemented by
// internal/shell/jenkins.
type BuildSystem interface {
	EnsurePipeline(ctx context.Context, name, definition string) error
	TriggerBuild(ctx context.Context, name string) (int, error)
	AwaitBuild(ctx context.Context, name string, buildID int) (string, error)
	GetStages(ctx context.Context, name string, buildID int) ([]domain.StageResult, error)
	GetLog(ctx context.Context, name string, buildID int) (string, error)
}

// QualityGate registers code-quality projects. Implemented by
// internal/shell/sonar.
type QualityGate interface {
	EnsureProject(ctx context.Context, key, displayName string) error
}

// StateStore keeps infra state between runs. RestoreState returns an error
// wrapping statestore.ErrStateNotFound when nothing was persisted yet.
type StateStore interface {
	RestoreState(ctx context.Context, key, dir string) error
	PersistState(ctx context.Context, key, dir string) error
}

// InfraProvisioner converges a rendered infra declaration and returns its
// outputs. Implemented by internal/shell/terraform.
type InfraProvisioner interface {
	Converge(ctx context.Context, dir, stateFile string) (map[string]string, error)
}

// ClusterProvisioner stands up clusters. Implemented by
// internal/shell/cluster.
type ClusterProvisioner interface {
	ResourcesExist(ctx context.Context, pattern string) (bool, error)
	Launch(ctx context.Context, dir, declarationPath string) error
	FindIngressIP(ctx context.Context, pattern, exclude string) (cluster.PublicIP, error)
	AssignDNS(ctx context.Context, ip cluster.PublicIP, label string) error
}

// ConfigurationManager applies a playbook to one host. Implemented by
// internal/shell/ansible.
type ConfigurationManager interface {
	Apply(ctx context.Context, inventory, secretPath, playbookPath string) error
}

// MetricsRegistry manages the scrape targets of the monitoring server.
// Implemented by internal/shell/prometheus.
type MetricsRegistry interface {
	FetchTargets(ctx context.Context) ([]monitoring.TargetGroup, error)
	PushTargets(ctx context.Context, groups []monitoring.TargetGroup) error
	Reload(ctx context.Context) error
}

// DashboardRegistry manages dashboards. Implemented by
// internal/shell/grafana.
type DashboardRegistry interface {
	EnsureDataSource(ctx context.Context, prometheusURL string) error
	UpsertDashboard(ctx context.Context, uid, title string, tags []string, panels []monitoring.PanelSpec) error
}

// ProjectStore is the part of the project store the pipeline uses.
// Implemented by internal/shell/store.
type ProjectStore interface {
	GetProject(ctx context.Context, id string) (*domain.Project, error)
	FindByName(ctx context.Context, name string) (*domain.Project, error)
	UpdateByID(ctx context.Context, id string, update domain.ProjectUpdate) (*domain.Project, error)
}
