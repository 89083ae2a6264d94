package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/artpar/quickops/internal/core/domain"
	"github.com/artpar/quickops/internal/core/identity"
	corepipeline "github.com/artpar/quickops/internal/core/pipeline"
	"github.com/artpar/quickops/internal/core/render"
	"github.com/artpar/quickops/internal/shell/statestore"
	"github.com/artpar/quickops/internal/shell/workspace"
)

// Terraform outputs the VM declaration must produce.
const (
	OutputPublicIP = "vm_public_ip"
	OutputDNS      = "vm_dns"
)

// ProvisionStage creates the infrastructure a project runs on.
type ProvisionStage struct {
	workspace *workspace.Manager
	renderer  *render.Renderer
	state     StateStore
	infra     InfraProvisioner
	cluster   ClusterProvisioner
	store     ProjectStore
	config    Config
	logger    *slog.Logger
}

// NewProvisionStage creates a ProvisionStage.
func NewProvisionStage(
	ws *workspace.Manager,
	renderer *render.Renderer,
	state StateStore,
	infra InfraProvisioner,
	cluster ClusterProvisioner,
	store ProjectStore,
	cfg Config,
	logger *slog.Logger,
) *ProvisionStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProvisionStage{
		workspace: ws,
		renderer:  renderer,
		state:     state,
		infra:     infra,
		cluster:   cluster,
		store:     store,
		config:    cfg,
		logger:    logger.With("component", "provision"),
	}
}

// Provision dispatches on the project's deployment choice.
func (s *ProvisionStage) Provision(ctx context.Context, p domain.Project) (corepipeline.Outputs, error) {
	switch p.DeploymentChoice {
	case domain.DeploymentVM:
		return s.ProvisionVM(ctx, p, identity.Ports(len(p.BackendRepos)))
	case domain.DeploymentCluster:
		return s.ProvisionCluster(ctx, p)
	default:
		return corepipeline.Outputs{}, corepipeline.Validation("provision", domain.ErrInvalidDeploymentChoice)
	}
}

// =============================================================================
// VM
// =============================================================================

// ProvisionVM converges the project's VM declaration against the state
// persisted by the previous run, and records the resulting address.
func (s *ProvisionStage) ProvisionVM(ctx context.Context, p domain.Project, ports []int) (corepipeline.Outputs, error) {
	const stage = corepipeline.StageProvision
	logger := s.logger.With("project", p.Name, "target", domain.DeploymentVM)

	dir, err := s.workspace.Create("terraform-" + p.Name)
	if err != nil {
		return corepipeline.Outputs{}, corepipeline.Hard(stage, "create workspace", err)
	}
	defer dir.Close()

	rules, err := render.IngressRulesFor(ports)
	if err != nil {
		return corepipeline.Outputs{}, corepipeline.Hard(stage, "ingress rules", err)
	}
	declaration, err := s.renderer.VMInfra(render.InfraContext{
		ProjectName: p.Name,
		Cloud:       s.config.Cloud,
		Network:     identity.VMAddressPlan(p.Name),
		Rules:       rules,
		VMSize:      s.config.VMSize,
	})
	if err != nil {
		return corepipeline.Outputs{}, corepipeline.Hard(stage, "render infra", err)
	}
	if _, err := dir.WriteFile("main.tf", declaration); err != nil {
		return corepipeline.Outputs{}, corepipeline.Hard(stage, "write infra", err)
	}

	stateKey := p.Name + ".tfstate"
	if err := s.state.RestoreState(ctx, stateKey, dir.Path()); err != nil {
		if !errors.Is(err, statestore.ErrStateNotFound) {
			return corepipeline.Outputs{}, corepipeline.Hard(stage, "restore state", err)
		}
		logger.Warn("no previous infra state, treating as first deploy", "key", stateKey)
	}

	outputs, err := s.infra.Converge(ctx, dir.Path(), stateKey)
	if err != nil {
		s.salvageState(ctx, logger, stateKey, dir.Path())
		return corepipeline.Outputs{}, corepipeline.Hard(stage, "converge", err)
	}
	out := corepipeline.Outputs{PublicIP: outputs[OutputPublicIP], DNSLabel: outputs[OutputDNS]}
	if out.PublicIP == "" || out.DNSLabel == "" {
		s.salvageState(ctx, logger, stateKey, dir.Path())
		return corepipeline.Outputs{}, corepipeline.Hardf(stage, "converge", "missing expected outputs %s/%s", OutputPublicIP, OutputDNS)
	}

	if _, err := s.store.UpdateByID(ctx, p.ID, domain.AddressUpdate(out.PublicIP, out.DNSLabel)); err != nil {
		s.salvageState(ctx, logger, stateKey, dir.Path())
		return corepipeline.Outputs{}, corepipeline.Hard(stage, "record address", err)
	}
	if err := s.state.PersistState(ctx, stateKey, dir.Path()); err != nil {
		return corepipeline.Outputs{}, corepipeline.Hard(stage, "persist state", err)
	}

	logger.Info("vm provisioned", "public_ip", out.PublicIP, "dns", out.DNSLabel)
	return out, nil
}

// salvageState uploads whatever state a failed apply left behind, so the
// next run does not try to recreate resources that already exist. Errors
// are logged; the original failure is what the caller reports.
func (s *ProvisionStage) salvageState(ctx context.Context, logger *slog.Logger, key, dir string) {
	if _, err := os.Stat(filepath.Join(dir, key)); err != nil {
		return
	}
	if err := s.state.PersistState(ctx, key, dir); err != nil {
		logger.Warn("failed to persist state after failed apply", "key", key, "error", err)
		return
	}
	logger.Info("state persisted after failed apply", "key", key)
}

// =============================================================================
// Cluster
// =============================================================================

// ProvisionCluster launches the project's cluster unless its resources
// already exist, then points the project's DNS label at the ingress IP.
// The DNS label is derived the same way on every branch.
func (s *ProvisionStage) ProvisionCluster(ctx context.Context, p domain.Project) (corepipeline.Outputs, error) {
	const stage = corepipeline.StageProvision
	logger := s.logger.With("project", p.Name, "target", domain.DeploymentCluster)

	name := strings.ToLower(p.Name)
	dnsLabel := identity.ClusterDNSLabel(p.Name, s.config.Cluster.DNSSuffix)

	exists, err := s.cluster.ResourcesExist(ctx, identity.ClusterResourceToken(p.Name))
	if err != nil {
		return corepipeline.Outputs{}, corepipeline.Hard(stage, "query resources", err)
	}
	if exists {
		logger.Info("cluster resources already exist, skipping launch", "dns", dnsLabel)
		return corepipeline.Outputs{PublicIP: p.PublicIP, DNSLabel: dnsLabel, Skipped: true}, nil
	}

	if err := s.launchCluster(ctx, p); err != nil {
		// Resources created before the failure are left in place.
		logger.Error("cluster launch failed, partial resources may remain", "error", err)
		return corepipeline.Outputs{}, corepipeline.Hard(stage, "launch cluster", err)
	}

	ip, err := s.cluster.FindIngressIP(ctx, name, s.config.controlPlaneMarker())
	if err != nil {
		return corepipeline.Outputs{}, corepipeline.Hard(stage, "find ingress ip", err)
	}
	if err := s.cluster.AssignDNS(ctx, ip, name); err != nil {
		return corepipeline.Outputs{}, corepipeline.Hard(stage, "assign dns", err)
	}

	if _, err := s.store.UpdateByID(ctx, p.ID, domain.AddressUpdate(ip.Address, dnsLabel)); err != nil {
		return corepipeline.Outputs{}, corepipeline.Hard(stage, "record address", err)
	}

	logger.Info("cluster provisioned", "public_ip", ip.Address, "dns", dnsLabel)
	return corepipeline.Outputs{PublicIP: ip.Address, DNSLabel: dnsLabel}, nil
}

func (s *ProvisionStage) launchCluster(ctx context.Context, p domain.Project) error {
	dir, err := s.workspace.Create("cluster-" + strings.ToLower(p.Name))
	if err != nil {
		return err
	}
	defer dir.Close()

	model, err := s.renderer.ClusterModel(render.ClusterContext{
		ProjectName:         strings.ToLower(p.Name),
		DNSPrefix:           identity.ClusterResourceToken(p.Name),
		Cloud:               s.config.Cloud,
		Network:             identity.ClusterAddressPlan(p.Name),
		OrchestratorRelease: s.config.Cluster.OrchestratorRelease,
		MasterVMSize:        s.config.Cluster.MasterVMSize,
		AgentVMSize:         s.config.Cluster.AgentVMSize,
		AgentCount:          s.config.Cluster.AgentCount,
	})
	if err != nil {
		return err
	}
	path, err := dir.WriteFile("cluster.json", model)
	if err != nil {
		return err
	}
	return s.cluster.Launch(ctx, dir.Path(), path)
}
