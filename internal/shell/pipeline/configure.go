package pipeline

import (
	"context"
	"log/slog"
	"strings"

	"github.com/artpar/quickops/internal/core/domain"
	"github.com/artpar/quickops/internal/core/identity"
	corepipeline "github.com/artpar/quickops/internal/core/pipeline"
	"github.com/artpar/quickops/internal/core/render"
	"github.com/artpar/quickops/internal/shell/workspace"
)

// Target is the host a build is rolled out to.
type Target struct {
	Host         string
	BuildID      int
	ProjectName  string
	FrontendRepo string
	BackendRepos []string
	Choice       domain.DeploymentChoice
}

// ConfigureStage rolls the built images out to a provisioned target.
type ConfigureStage struct {
	workspace *workspace.Manager
	renderer  *render.Renderer
	manager   ConfigurationManager
	config    Config
	logger    *slog.Logger
}

// NewConfigureStage creates a ConfigureStage.
func NewConfigureStage(ws *workspace.Manager, renderer *render.Renderer, manager ConfigurationManager, cfg Config, logger *slog.Logger) *ConfigureStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConfigureStage{
		workspace: ws,
		renderer:  renderer,
		manager:   manager,
		config:    cfg,
		logger:    logger.With("component", "configure"),
	}
}

// Apply renders the playbook for t's deployment choice and runs it against
// t.Host. The private key and rendered files are removed on every path.
func (s *ConfigureStage) Apply(ctx context.Context, t Target) error {
	const stage = corepipeline.StageConfigure

	dir, err := s.workspace.Create("ansible-" + strings.ToLower(t.ProjectName))
	if err != nil {
		return corepipeline.Hard(stage, "create workspace", err)
	}
	defer dir.Close()

	keyPath, err := dir.WriteSecret("id_rsa", s.config.SSHPrivateKey)
	if err != nil {
		return corepipeline.Hard(stage, "write key", err)
	}

	pctx := s.playbookContext(t, keyPath)

	var playbook []byte
	switch t.Choice {
	case domain.DeploymentVM:
		compose, err := render.ComposeManifest(pctx)
		if err != nil {
			return corepipeline.Hard(stage, "render compose", err)
		}
		if pctx.ComposeFile, err = dir.WriteFile("docker-compose.yml", compose); err != nil {
			return corepipeline.Hard(stage, "write compose", err)
		}
		playbook, err = s.renderer.VMPlaybook(pctx)
		if err != nil {
			return corepipeline.Hard(stage, "render playbook", err)
		}
	case domain.DeploymentCluster:
		playbook, err = s.renderer.ClusterPlaybook(pctx)
		if err != nil {
			return corepipeline.Hard(stage, "render playbook", err)
		}
	default:
		return corepipeline.Validation("configure", domain.ErrInvalidDeploymentChoice)
	}

	playbookPath, err := dir.WriteFile("playbook.yml", playbook)
	if err != nil {
		return corepipeline.Hard(stage, "write playbook", err)
	}

	s.logger.Info("configuring target", "project", t.ProjectName, "host", t.Host, "build_id", t.BuildID)
	if err := s.manager.Apply(ctx, t.Host, keyPath, playbookPath); err != nil {
		return corepipeline.Hard(stage, "apply playbook", err)
	}
	return nil
}

// playbookContext derives the services of t. Image tags follow the roles
// the CI pipeline pushes; cluster workload names are lowercased since
// Kubernetes object names must be.
func (s *ConfigureStage) playbookContext(t Target, keyPath string) render.PlaybookContext {
	workloadName := func(n string) string {
		if t.Choice == domain.DeploymentCluster {
			return strings.ToLower(n)
		}
		return n
	}

	pctx := render.PlaybookContext{
		ProjectName:      t.ProjectName,
		Host:             t.Host,
		AdminUsername:    s.config.Cloud.AdminUsername,
		PrivateKeyPath:   keyPath,
		Registry:         s.config.Registry,
		RegistryUser:     s.config.RegistryUser,
		RegistryPassword: s.config.RegistryPassword,
	}
	if t.FrontendRepo != "" {
		pctx.Frontend = render.Service{
			Name:  workloadName(identity.RepoName(t.FrontendRepo)),
			Image: identity.ImageRef(s.config.Registry, t.ProjectName, "frontend", t.BuildID),
			Port:  render.FrontendPort,
		}
	}
	for i, repo := range t.BackendRepos {
		name := identity.RepoName(repo)
		pctx.Backends = append(pctx.Backends, render.Service{
			Name:  workloadName(name),
			Image: identity.ImageRef(s.config.Registry, t.ProjectName, name, t.BuildID),
			Port:  identity.Port(i),
		})
	}
	return pctx
}
