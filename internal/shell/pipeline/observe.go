package pipeline

import (
	"context"
	"log/slog"

	"github.com/artpar/quickops/internal/core/identity"
	"github.com/artpar/quickops/internal/core/monitoring"
	corepipeline "github.com/artpar/quickops/internal/core/pipeline"
	"github.com/artpar/quickops/internal/shell/lock"
)

// TargetsLockKey guards the shared scrape-target file. The colon keeps it
// out of the project name space.
const TargetsLockKey = "monitoring:targets"

// ObserveStage registers a deployed project with monitoring.
type ObserveStage struct {
	metrics    MetricsRegistry
	dashboards DashboardRegistry
	locker     lock.Locker
	config     Config
	logger     *slog.Logger
}

// NewObserveStage creates an ObserveStage. Target updates from every
// project are serialized through locker; nil uses an in-process lock.
func NewObserveStage(metrics MetricsRegistry, dashboards DashboardRegistry, locker lock.Locker, cfg Config, logger *slog.Logger) *ObserveStage {
	if logger == nil {
		logger = slog.Default()
	}
	if locker == nil {
		locker = lock.NewMemoryLocker()
	}
	return &ObserveStage{
		metrics:    metrics,
		dashboards: dashboards,
		locker:     locker,
		config:     cfg,
		logger:     logger.With("component", "observe"),
	}
}

// Register adds one scrape target per backend at target, reloads the
// monitoring server and upserts the project dashboard. Re-registering the
// same project changes nothing.
func (s *ObserveStage) Register(ctx context.Context, project, target string, backendRepos []string) error {
	const stage = corepipeline.StageObserve

	if err := s.registerTargets(ctx, project, target, backendRepos); err != nil {
		return err
	}

	if err := s.dashboards.EnsureDataSource(ctx, s.config.PrometheusURL); err != nil {
		return corepipeline.Hard(stage, "ensure datasource", err)
	}
	uid := identity.DashboardUID(project)
	panels := monitoring.DashboardPanels(project, backendRepos)
	if err := s.dashboards.UpsertDashboard(ctx, uid, monitoring.DashboardTitle(project), s.config.DashboardTags, panels); err != nil {
		return corepipeline.Hard(stage, "upsert dashboard", err)
	}
	s.logger.Info("dashboard upserted", "project", project, "uid", uid, "panels", len(panels))
	return nil
}

// registerTargets does the read-merge-write of the shared target file under
// TargetsLockKey so concurrent runs for different projects keep each
// other's groups.
func (s *ObserveStage) registerTargets(ctx context.Context, project, target string, backendRepos []string) error {
	const stage = corepipeline.StageObserve

	release, err := s.locker.Acquire(ctx, TargetsLockKey)
	if err != nil {
		return corepipeline.Hard(stage, "acquire targets lock", err)
	}
	defer release()

	current, err := s.metrics.FetchTargets(ctx)
	if err != nil {
		return corepipeline.Hard(stage, "fetch targets", err)
	}
	merged := monitoring.MergeTargets(current, monitoring.TargetsFor(project, target, backendRepos))
	if err := s.metrics.PushTargets(ctx, merged); err != nil {
		return corepipeline.Hard(stage, "push targets", err)
	}
	if err := s.metrics.Reload(ctx); err != nil {
		return corepipeline.Hard(stage, "reload", err)
	}
	s.logger.Info("scrape targets registered", "project", project, "added", len(merged)-len(current))
	return nil
}
