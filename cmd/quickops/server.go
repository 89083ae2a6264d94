package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/artpar/quickops/internal/core/crypto"
	"github.com/artpar/quickops/internal/core/render"
	"github.com/artpar/quickops/internal/shell/ansible"
	"github.com/artpar/quickops/internal/shell/api"
	"github.com/artpar/quickops/internal/shell/cluster"
	"github.com/artpar/quickops/internal/shell/grafana"
	"github.com/artpar/quickops/internal/shell/jenkins"
	"github.com/artpar/quickops/internal/shell/lock"
	"github.com/artpar/quickops/internal/shell/ops"
	"github.com/artpar/quickops/internal/shell/pipeline"
	"github.com/artpar/quickops/internal/shell/process"
	"github.com/artpar/quickops/internal/shell/prometheus"
	"github.com/artpar/quickops/internal/shell/sonar"
	"github.com/artpar/quickops/internal/shell/statestore"
	"github.com/artpar/quickops/internal/shell/store"
	"github.com/artpar/quickops/internal/shell/terraform"
	"github.com/artpar/quickops/internal/shell/workspace"
)

// =============================================================================
// Exit Codes
// =============================================================================

const (
	ExitSuccess         = 0
	ExitConfigError     = 1
	ExitDatabaseError   = 2
	ExitDependencyError = 3
	ExitHTTPServerError = 4
)

// =============================================================================
// Server
// =============================================================================

// Server represents the QuickOps application server.
type Server struct {
	config      *Config
	httpServer  *http.Server
	opsServer   *http.Server
	store       store.Store
	redisLocker *lock.RedisLocker
	sshExec     *prometheus.SSHExecutor
	logger      *slog.Logger
}

// NewServer creates a new server with the given config.
func NewServer(cfg *Config, logger *slog.Logger) (*Server, error) {
	privateKey, err := os.ReadFile(cfg.Cloud.SSHPrivateKeyPath)
	if err != nil {
		return nil, &ServerError{Op: "NewServer", Err: fmt.Errorf("read ssh key: %w", err), ExitCode: ExitConfigError}
	}
	stageCfg, err := stageConfig(cfg, privateKey)
	if err != nil {
		return nil, &ServerError{Op: "NewServer", Err: err, ExitCode: ExitConfigError}
	}

	s, err := store.NewSQLiteStore(cfg.Database.DSN, store.WithSealer(crypto.NewSealer(cfg.Database.EncryptionKey)))
	if err != nil {
		return nil, &ServerError{Op: "NewServer", Err: err, ExitCode: ExitDatabaseError}
	}

	srv := &Server{config: cfg, store: s, logger: logger}
	fail := func(err error, code int) (*Server, error) {
		srv.closeResources()
		return nil, &ServerError{Op: "NewServer", Err: err, ExitCode: code}
	}

	var locker lock.Locker = lock.NewMemoryLocker()
	if cfg.Lock.Backend == "redis" {
		rl, err := lock.NewRedisLocker(lock.RedisConfig{
			Addr:          cfg.Lock.RedisAddr,
			Password:      cfg.Lock.RedisPassword,
			DB:            cfg.Lock.RedisDB,
			Prefix:        cfg.Lock.Prefix,
			TTL:           cfg.Lock.TTL,
			RetryInterval: cfg.Lock.RetryInterval,
		}, logger)
		if err != nil {
			return fail(err, ExitDependencyError)
		}
		srv.redisLocker = rl
		locker = rl
		logger.Info("redis lock enabled", "addr", cfg.Lock.RedisAddr)
	}

	renderer, err := render.New()
	if err != nil {
		return fail(err, ExitConfigError)
	}
	ws, err := workspace.New(cfg.Workspace.Root, logger)
	if err != nil {
		return fail(err, ExitConfigError)
	}
	runner := process.NewExecRunner(nil, logger)

	monitorKey, err := os.ReadFile(cfg.Prometheus.SSHKeyPath)
	if err != nil {
		return fail(fmt.Errorf("read monitoring ssh key: %w", err), ExitConfigError)
	}
	sshExec, err := prometheus.NewSSHExecutor(prometheus.SSHConfig{
		Host:           cfg.Prometheus.SSHHost,
		Port:           cfg.Prometheus.SSHPort,
		User:           cfg.Prometheus.SSHUser,
		PrivateKey:     monitorKey,
		HostKey:        cfg.Prometheus.SSHHostKey,
		ConnectTimeout: cfg.Prometheus.ConnectTimeout,
		CommandTimeout: cfg.Prometheus.CommandTimeout,
	}, logger)
	if err != nil {
		return fail(err, ExitConfigError)
	}
	srv.sshExec = sshExec

	var reloader prometheus.Reloader
	if cfg.Prometheus.DockerHost != "" {
		dr, err := prometheus.NewDockerReloader(cfg.Prometheus.DockerHost, cfg.Prometheus.Container, logger)
		if err != nil {
			return fail(err, ExitDependencyError)
		}
		reloader = dr
	}
	targets := prometheus.NewRegistry(sshExec, reloader, prometheus.Config{
		TargetsPath:   cfg.Prometheus.TargetsPath,
		ContainerName: cfg.Prometheus.Container,
	}, logger)

	inventory, err := cluster.NewInventory(cluster.Config{
		Cloud: cfg.Cluster.Provider,
		Azure: cluster.AzureConfig{
			Binary:         cfg.Cluster.AzureBinary,
			ResourceGroup:  cfg.Cloud.ResourceGroup,
			SubscriptionID: cfg.Cloud.SubscriptionID,
			TenantID:       cfg.Cloud.TenantID,
			ClientID:       cfg.Cloud.ClientID,
			ClientSecret:   cfg.Cloud.ClientSecret,
			CloudName:      cfg.Cloud.CloudName,
		},
		AWS: cluster.AWSConfig{
			Region:          cfg.Cluster.AWS.Region,
			AccessKeyID:     cfg.Cluster.AWS.AccessKeyID,
			SecretAccessKey: cfg.Cluster.AWS.SecretAccessKey,
		},
		Hetzner:      cluster.HetznerConfig{APIToken: cfg.Cluster.Hetzner.APIToken, DNSZone: cfg.Cluster.Hetzner.DNSZone},
		DigitalOcean: cluster.DigitalOceanConfig{APIToken: cfg.Cluster.DigitalOcean.APIToken, Domain: cfg.Cluster.DigitalOcean.Domain},
	}, runner, logger)
	if err != nil {
		return fail(err, ExitConfigError)
	}
	launcher := cluster.NewAKSEngineLauncher(cluster.AKSEngineConfig{
		Binary:         cfg.Cluster.AKSEngineBinary,
		Location:       cfg.Cloud.Location,
		ResourceGroup:  cfg.Cloud.ResourceGroup,
		SubscriptionID: cfg.Cloud.SubscriptionID,
		ClientID:       cfg.Cloud.ClientID,
		ClientSecret:   cfg.Cloud.ClientSecret,
		AzureEnv:       cfg.Cluster.AKSEngineEnv,
	}, runner, logger)

	ci := jenkins.NewClient(jenkins.Config{
		BaseURL:           cfg.Jenkins.URL,
		User:              cfg.Jenkins.User,
		APIToken:          cfg.Jenkins.APIToken,
		Timeout:           cfg.Jenkins.Timeout,
		QueuePollAttempts: cfg.Jenkins.QueuePollAttempts,
		QueuePollInterval: cfg.Jenkins.QueuePollInterval,
		BuildPollAttempts: cfg.Jenkins.BuildPollAttempts,
		BuildPollInterval: cfg.Jenkins.BuildPollInterval,
	}, logger)
	quality := sonar.NewClient(sonar.Config{
		BaseURL: cfg.Sonar.URL,
		Token:   cfg.Sonar.Token,
		Timeout: cfg.Sonar.Timeout,
	}, logger)
	dashboards := grafana.NewClient(grafana.Config{
		BaseURL:  cfg.Grafana.URL,
		User:     cfg.Grafana.User,
		Password: cfg.Grafana.Password,
		APIKey:   cfg.Grafana.APIKey,
		Timeout:  cfg.Grafana.Timeout,
	}, logger)
	state := statestore.New(statestore.Config{
		AccountURL: cfg.StateStore.AccountURL,
		Container:  cfg.StateStore.Container,
		SASToken:   cfg.StateStore.SASToken,
		Timeout:    cfg.StateStore.Timeout,
	}, logger)
	infra := terraform.New(terraform.Config{
		Binary: cfg.Terraform.Binary,
		Env:    cfg.Cloud.TerraformEnv(),
	}, runner, logger)
	manager := ansible.New(ansible.Config{
		Binary:     cfg.Ansible.Binary,
		RemoteUser: cfg.Ansible.RemoteUser,
	}, runner, logger)

	registry := promclient.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	orchestrator := pipeline.NewOrchestrator(pipeline.Deps{
		Store:     s,
		Locker:    locker,
		Build:     pipeline.NewBuildStage(ci, quality, renderer, stageCfg, logger),
		Provision: pipeline.NewProvisionStage(ws, renderer, state, infra, cluster.NewProvisioner(inventory, launcher, logger), s, stageCfg, logger),
		Configure: pipeline.NewConfigureStage(ws, renderer, manager, stageCfg, logger),
		Observe:   pipeline.NewObserveStage(targets, dashboards, locker, stageCfg, logger),
		Metrics:   pipeline.NewMetrics(registry),
	}, logger)

	handler := api.SetupAPI(api.APIConfig{
		Store:    s,
		Deployer: orchestrator,
		Logger:   logger,
		Version:  Version,
	})
	srv.httpServer = &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      ops.NewHTTPMetrics(registry).Wrap(handler),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	if cfg.Ops.Port != 0 {
		checks := map[string]ops.Check{
			"store": func(ctx context.Context) error {
				_, err := s.ListProjects(ctx, store.ListOptions{Limit: 1})
				return err
			},
		}
		if srv.redisLocker != nil {
			checks["lock"] = srv.redisLocker.Ping
		}
		srv.opsServer = &http.Server{
			Addr:    cfg.Ops.Address(),
			Handler: ops.NewRouter(ops.Config{Gatherer: registry, Checks: checks, Logger: logger}),
		}
	}

	fingerprint, _ := crypto.SSHFingerprint(privateKey)
	logger.Info("pipeline configured",
		"cluster_provider", cfg.Cluster.Provider,
		"ssh_key", fingerprint,
		"lock_backend", cfg.Lock.Backend,
		"registry", cfg.Pipeline.Registry,
	)
	return srv, nil
}

// stageConfig builds the configuration shared by the pipeline stages. The
// public key new hosts trust is derived from privateKey.
func stageConfig(cfg *Config, privateKey []byte) (pipeline.Config, error) {
	publicKey, err := crypto.SSHPublicKey(privateKey)
	if err != nil {
		return pipeline.Config{}, fmt.Errorf("ssh key %s: %w", cfg.Cloud.SSHPrivateKeyPath, err)
	}

	pc := pipeline.DefaultConfig()
	pc.Registry = cfg.Pipeline.Registry
	pc.RegistryUser = cfg.Pipeline.RegistryUser
	pc.RegistryPassword = cfg.Pipeline.RegistryPassword
	if cfg.Sonar.ServerName != "" {
		pc.SonarServer = cfg.Sonar.ServerName
	}
	pc.Cloud = render.CloudContext{
		SubscriptionID: cfg.Cloud.SubscriptionID,
		TenantID:       cfg.Cloud.TenantID,
		ClientID:       cfg.Cloud.ClientID,
		ClientSecret:   cfg.Cloud.ClientSecret,
		ObjectID:       cfg.Cloud.ObjectID,
		Location:       cfg.Cloud.Location,
		ResourceGroup:  cfg.Cloud.ResourceGroup,
		AdminUsername:  cfg.Cloud.AdminUsername,
		SSHPublicKey:   publicKey,
	}
	if cfg.Cloud.VMSize != "" {
		pc.VMSize = cfg.Cloud.VMSize
	}
	pc.Cluster.DNSSuffix = cfg.Cluster.DNSSuffix
	if cfg.Cluster.OrchestratorRelease != "" {
		pc.Cluster.OrchestratorRelease = cfg.Cluster.OrchestratorRelease
	}
	if cfg.Cluster.MasterVMSize != "" {
		pc.Cluster.MasterVMSize = cfg.Cluster.MasterVMSize
	}
	if cfg.Cluster.AgentVMSize != "" {
		pc.Cluster.AgentVMSize = cfg.Cluster.AgentVMSize
	}
	if cfg.Cluster.AgentCount > 0 {
		pc.Cluster.AgentCount = cfg.Cluster.AgentCount
	}
	if cfg.Cluster.ControlPlaneMarker != "" {
		pc.Cluster.ControlPlaneMarker = cfg.Cluster.ControlPlaneMarker
	}
	pc.SSHPrivateKey = privateKey
	pc.PrometheusURL = cfg.Prometheus.URL
	if len(cfg.Grafana.DashboardTags) > 0 {
		pc.DashboardTags = cfg.Grafana.DashboardTags
	}
	return pc, nil
}

// Start runs the listeners until a signal, a listener failure, or ctx ends.
func (s *Server) Start(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 2)
	if s.opsServer != nil {
		go func() {
			s.logger.Info("starting ops server", "address", s.config.Ops.Address())
			if err := s.opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	go func() {
		s.logger.Info("starting HTTP server", "address", s.config.Server.Address())
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case sig := <-sigCh:
		s.logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		s.Shutdown(context.Background())
		return &ServerError{Op: "Start", Err: err, ExitCode: ExitHTTPServerError}
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown(context.Background())
}

// Shutdown gracefully shuts down the server. In-flight deploys get until
// the shutdown timeout to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.Server.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}
	if s.opsServer != nil {
		if err := s.opsServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("ops server shutdown error", "error", err)
		}
	}

	s.closeResources()
	s.logger.Info("shutdown complete")
	return nil
}

func (s *Server) closeResources() {
	if s.sshExec != nil {
		if err := s.sshExec.Close(); err != nil {
			s.logger.Error("ssh executor close error", "error", err)
		}
	}
	if s.redisLocker != nil {
		if err := s.redisLocker.Close(); err != nil {
			s.logger.Error("redis close error", "error", err)
		}
	}
	if err := s.store.Close(); err != nil {
		s.logger.Error("database close error", "error", err)
	}
}

// =============================================================================
// Server Error
// =============================================================================

// ServerError represents an error during server operation.
type ServerError struct {
	Op       string
	Err      error
	ExitCode int
}

func (e *ServerError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *ServerError) Unwrap() error {
	return e.Err
}
