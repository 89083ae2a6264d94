package pipeline

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/artpar/quickops/internal/core/domain"
	"github.com/artpar/quickops/internal/core/identity"
	corepipeline "github.com/artpar/quickops/internal/core/pipeline"
	"github.com/artpar/quickops/internal/core/render"
)

// BuildStage registers quality scans, publishes the CI pipeline and runs
// one build to completion.
type BuildStage struct {
	ci       BuildSystem
	quality  QualityGate
	renderer *render.Renderer
	config   Config
	logger   *slog.Logger
}

// NewBuildStage creates a BuildStage.
func NewBuildStage(ci BuildSystem, quality QualityGate, renderer *render.Renderer, cfg Config, logger *slog.Logger) *BuildStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &BuildStage{
		ci:       ci,
		quality:  quality,
		renderer: renderer,
		config:   cfg,
		logger:   logger.With("component", "build"),
	}
}

// Run builds p and returns the build id, the per-stage results and their
// aggregate. A build that finished with failed stages is not an error.
func (s *BuildStage) Run(ctx context.Context, p domain.Project) (corepipeline.Result, error) {
	const stage = corepipeline.StageBuildAndScan

	if err := s.ensureQualityProjects(ctx, p); err != nil {
		return corepipeline.Result{}, corepipeline.Hard(stage, "register quality projects", err)
	}

	definition, err := s.renderer.Pipeline(render.PipelineContext{
		ProjectName:     p.Name,
		FrontendRepo:    p.FrontendRepo,
		BackendRepos:    render.ReposFrom(p.BackendRepos),
		CredentialToken: p.CredentialToken,
		Registry:        s.config.Registry,
		SonarServer:     s.config.SonarServer,
	})
	if err != nil {
		return corepipeline.Result{}, corepipeline.Hard(stage, "render pipeline", err)
	}
	if err := s.ci.EnsurePipeline(ctx, p.Name, string(definition)); err != nil {
		return corepipeline.Result{}, corepipeline.Hard(stage, "publish pipeline", err)
	}

	buildID, err := s.ci.TriggerBuild(ctx, p.Name)
	if err != nil {
		return corepipeline.Result{}, corepipeline.Hard(stage, "trigger build", err)
	}
	logger := s.logger.With("project", p.Name, "build_id", buildID)
	logger.Info("build started")

	result, err := s.ci.AwaitBuild(ctx, p.Name, buildID)
	if err != nil {
		return corepipeline.Result{BuildID: buildID}, corepipeline.Hard(stage, "await build", err)
	}

	stages, err := s.ci.GetStages(ctx, p.Name, buildID)
	if err != nil {
		return corepipeline.Result{BuildID: buildID}, corepipeline.Hard(stage, "fetch stages", err)
	}

	status := domain.AggregateStatus(stages)
	logger.Info("build finished", "result", result, "status", status, "stages", len(stages))
	return corepipeline.Result{BuildID: buildID, Stages: stages, Status: status}, nil
}

// ensureQualityProjects registers the frontend key, then all backend keys
// concurrently. Every registration runs to completion; the first error wins.
func (s *BuildStage) ensureQualityProjects(ctx context.Context, p domain.Project) error {
	if err := s.quality.EnsureProject(ctx, identity.FrontendQualityKey(p.Name), p.Name+" Frontend"); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, repo := range p.BackendRepos {
		key := identity.QualityKey(p.Name, repo)
		display := p.Name + " " + identity.RepoName(repo)
		g.Go(func() error {
			return s.quality.EnsureProject(gctx, key, display)
		})
	}
	return g.Wait()
}
