package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/artpar/quickops/internal/core/domain"
	corepipeline "github.com/artpar/quickops/internal/core/pipeline"
	"github.com/artpar/quickops/internal/shell/lock"
	"github.com/artpar/quickops/internal/shell/store"
)

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Store     ProjectStore
	Locker    lock.Locker
	Build     *BuildStage
	Provision *ProvisionStage
	Configure *ConfigureStage
	Observe   *ObserveStage
	// Metrics may be nil.
	Metrics *Metrics
}

// Orchestrator drives a project through
// INIT -> BUILD_AND_SCAN -> (gate) -> PROVISION -> CONFIGURE -> OBSERVE -> DEPLOYED.
type Orchestrator struct {
	store     ProjectStore
	locker    lock.Locker
	build     *BuildStage
	provision *ProvisionStage
	configure *ConfigureStage
	observe   *ObserveStage
	metrics   *Metrics
	logger    *slog.Logger
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(d Deps, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if d.Locker == nil {
		d.Locker = lock.NewMemoryLocker()
	}
	return &Orchestrator{
		store:     d.Store,
		locker:    d.Locker,
		build:     d.Build,
		provision: d.Provision,
		configure: d.Configure,
		observe:   d.Observe,
		metrics:   d.Metrics,
		logger:    logger.With("component", "orchestrator"),
	}
}

// Deploy runs the pipeline for the project with projectID.
//
// A build that does not succeed is returned as a Result with a nil error
// and nothing after the gate runs. Any other failure is returned as a
// classified *corepipeline.Error; the project's status is then unchanged,
// though provisioning may already have recorded the new address. Runs for
// the same project name are serialized.
//
// ctx bounds only the wait for the project lock. Once the lock is held the
// run ignores cancellation so external tools are never killed mid-apply.
func (o *Orchestrator) Deploy(ctx context.Context, projectID string) (res corepipeline.Result, err error) {
	defer func() { o.metrics.observeRun(outcomeOf(res, err)) }()

	p, err := o.load(ctx, projectID)
	if err != nil {
		return corepipeline.Result{}, err
	}

	release, err := o.locker.Acquire(ctx, p.Name)
	if err != nil {
		return corepipeline.Result{}, corepipeline.Hard(corepipeline.StageInit, "acquire lock", err)
	}
	defer release()
	ctx = context.WithoutCancel(ctx)

	// Another run may have changed the record while we waited.
	if p, err = o.load(ctx, projectID); err != nil {
		return corepipeline.Result{}, err
	}

	logger := o.logger.With("project", p.Name, "target", p.DeploymentChoice)
	logger.Info("pipeline started", "stage", corepipeline.StageInit)

	err = o.runStage(logger, corepipeline.StageBuildAndScan, func() error {
		var err error
		res, err = o.build.Run(ctx, *p)
		return err
	})
	if err != nil {
		return res, err
	}
	logger = logger.With("build_id", res.BuildID)
	if !res.Succeeded() {
		logger.Warn("build gate closed", "status", res.Status)
		return res, nil
	}

	var out corepipeline.Outputs
	err = o.runStage(logger, corepipeline.StageProvision, func() error {
		var err error
		out, err = o.provision.Provision(ctx, *p)
		return err
	})
	if err != nil {
		return res, err
	}

	host := out.Host()
	err = o.runStage(logger, corepipeline.StageConfigure, func() error {
		return o.configure.Apply(ctx, Target{
			Host:         host,
			BuildID:      res.BuildID,
			ProjectName:  p.Name,
			FrontendRepo: p.FrontendRepo,
			BackendRepos: p.BackendRepos,
			Choice:       p.DeploymentChoice,
		})
	})
	if err != nil {
		return res, err
	}

	err = o.runStage(logger, corepipeline.StageObserve, func() error {
		return o.observe.Register(ctx, p.Name, host, p.BackendRepos)
	})
	if err != nil {
		return res, err
	}

	if _, err := o.store.UpdateByID(ctx, p.ID, domain.DeployedUpdate(out.PublicIP, out.DNSLabel)); err != nil {
		return res, corepipeline.Hard(corepipeline.StageDeployed, "record deployment", err)
	}
	logger.Info("pipeline finished", "stage", corepipeline.StageDeployed, "public_ip", out.PublicIP, "dns", out.DNSLabel)
	return res, nil
}

// FetchFullLog returns the console log of a build.
func (o *Orchestrator) FetchFullLog(ctx context.Context, jobName string, buildID int) (string, error) {
	if err := domain.ValidateProjectName(jobName); err != nil {
		return "", corepipeline.Validation("fetch log", err)
	}
	if buildID <= 0 {
		return "", corepipeline.Validation("fetch log", fmt.Errorf("invalid build id %d", buildID))
	}
	log, err := o.build.ci.GetLog(ctx, jobName, buildID)
	if err != nil {
		return "", corepipeline.Hard(corepipeline.StageBuildAndScan, "fetch log", err)
	}
	return log, nil
}

// load reads and validates the project before any external call.
func (o *Orchestrator) load(ctx context.Context, id string) (*domain.Project, error) {
	p, err := o.store.GetProject(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, corepipeline.Validation("load project", err)
		}
		return nil, corepipeline.Hard(corepipeline.StageInit, "load project", err)
	}
	if err := domain.ValidateForDeploy(*p); err != nil {
		return nil, corepipeline.Validation("validate project", err)
	}
	return p, nil
}

func (o *Orchestrator) runStage(logger *slog.Logger, stage corepipeline.Stage, fn func() error) error {
	start := time.Now()
	logger.Info("stage started", "stage", stage)
	err := fn()
	elapsed := time.Since(start)
	o.metrics.observeStage(stage, elapsed)
	if err != nil {
		logger.Error("stage failed", "stage", stage, "duration", elapsed, "error", err)
		return err
	}
	logger.Info("stage finished", "stage", stage, "duration", elapsed)
	return nil
}
