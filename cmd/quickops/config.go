package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/artpar/quickops/internal/shell/cluster"
)

// =============================================================================
// Configuration Types
// =============================================================================

// Config holds all configuration for the QuickOps server.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Ops        OpsConfig        `mapstructure:"ops"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Log        LogConfig        `mapstructure:"log"`
	Workspace  WorkspaceConfig  `mapstructure:"workspace"`
	Lock       LockConfig       `mapstructure:"lock"`
	Jenkins    JenkinsConfig    `mapstructure:"jenkins"`
	Sonar      SonarConfig      `mapstructure:"sonar"`
	Grafana    GrafanaConfig    `mapstructure:"grafana"`
	StateStore StateStoreConfig `mapstructure:"statestore"`
	Terraform  ToolConfig       `mapstructure:"terraform"`
	Ansible    AnsibleConfig    `mapstructure:"ansible"`
	Cloud      CloudConfig      `mapstructure:"cloud"`
	Cluster    ClusterConfig    `mapstructure:"cluster"`
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
}

// ServerConfig holds API listener configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Address returns the server address in host:port format.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// OpsConfig holds the health and metrics listener configuration.
type OpsConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Address returns the ops listener address. Port 0 disables the listener.
func (c OpsConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
	// EncryptionKey seals stored credential tokens. Empty stores them as is.
	EncryptionKey string `mapstructure:"encryption_key"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// WorkspaceConfig holds the root of the per-run working directories.
type WorkspaceConfig struct {
	Root string `mapstructure:"root"`
}

// LockConfig selects the per-project lock backend.
type LockConfig struct {
	// Backend is "memory" or "redis".
	Backend       string        `mapstructure:"backend"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	Prefix        string        `mapstructure:"prefix"`
	TTL           time.Duration `mapstructure:"ttl"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
}

// JenkinsConfig holds CI server configuration.
type JenkinsConfig struct {
	URL               string        `mapstructure:"url"`
	User              string        `mapstructure:"user"`
	APIToken          string        `mapstructure:"api_token"`
	Timeout           time.Duration `mapstructure:"timeout"`
	QueuePollAttempts int           `mapstructure:"queue_poll_attempts"`
	QueuePollInterval time.Duration `mapstructure:"queue_poll_interval"`
	BuildPollAttempts int           `mapstructure:"build_poll_attempts"`
	BuildPollInterval time.Duration `mapstructure:"build_poll_interval"`
}

// SonarConfig holds code-quality server configuration.
type SonarConfig struct {
	URL   string `mapstructure:"url"`
	Token string `mapstructure:"token"`
	// ServerName is the SonarQube installation name configured in Jenkins.
	ServerName string        `mapstructure:"server_name"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// GrafanaConfig holds dashboard server configuration.
type GrafanaConfig struct {
	URL      string        `mapstructure:"url"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	APIKey   string        `mapstructure:"api_key"`
	Timeout  time.Duration `mapstructure:"timeout"`
	// DashboardTags are attached to every generated dashboard.
	DashboardTags []string `mapstructure:"dashboard_tags"`
}

// StateStoreConfig holds the blob container for infra state.
type StateStoreConfig struct {
	AccountURL string        `mapstructure:"account_url"`
	Container  string        `mapstructure:"container"`
	SASToken   string        `mapstructure:"sas_token"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// ToolConfig names an external binary.
type ToolConfig struct {
	Binary string `mapstructure:"binary"`
}

// AnsibleConfig holds configuration-management settings.
type AnsibleConfig struct {
	Binary string `mapstructure:"binary"`
	// RemoteUser defaults to cloud.admin_username.
	RemoteUser string `mapstructure:"remote_user"`
}

// CloudConfig is the account infra and cluster declarations target.
type CloudConfig struct {
	SubscriptionID string `mapstructure:"subscription_id"`
	TenantID       string `mapstructure:"tenant_id"`
	ClientID       string `mapstructure:"client_id"`
	ClientSecret   string `mapstructure:"client_secret"`
	ObjectID       string `mapstructure:"object_id"`
	Location       string `mapstructure:"location"`
	ResourceGroup  string `mapstructure:"resource_group"`
	// CloudName selects a registered Azure Stack cloud for the az CLI.
	CloudName     string `mapstructure:"cloud_name"`
	AdminUsername string `mapstructure:"admin_username"`
	// SSHPrivateKeyPath is the key new hosts are created with and configured
	// through. Its public half is derived.
	SSHPrivateKeyPath string `mapstructure:"ssh_private_key_path"`
	VMSize            string `mapstructure:"vm_size"`
}

// TerraformEnv returns the provider credentials for terraform runs.
func (c CloudConfig) TerraformEnv() []string {
	env := []string{}
	add := func(k, v string) {
		if v != "" {
			env = append(env, k+"="+v)
		}
	}
	add("ARM_SUBSCRIPTION_ID", c.SubscriptionID)
	add("ARM_TENANT_ID", c.TenantID)
	add("ARM_CLIENT_ID", c.ClientID)
	add("ARM_CLIENT_SECRET", c.ClientSecret)
	return env
}

// ClusterConfig holds cluster sizing, naming and inventory backend settings.
type ClusterConfig struct {
	// Provider is the inventory backend: azure, aws, hetzner or digitalocean.
	Provider            string `mapstructure:"provider"`
	DNSSuffix           string `mapstructure:"dns_suffix"`
	OrchestratorRelease string `mapstructure:"orchestrator_release"`
	MasterVMSize        string `mapstructure:"master_vm_size"`
	AgentVMSize         string `mapstructure:"agent_vm_size"`
	AgentCount          int    `mapstructure:"agent_count"`
	ControlPlaneMarker  string `mapstructure:"control_plane_marker"`

	AzureBinary string `mapstructure:"azure_binary"`

	AKSEngineBinary string `mapstructure:"aks_engine_binary"`
	AKSEngineEnv    string `mapstructure:"aks_engine_env"`

	AWS          AWSConfig          `mapstructure:"aws"`
	Hetzner      HetznerConfig      `mapstructure:"hetzner"`
	DigitalOcean DigitalOceanConfig `mapstructure:"digitalocean"`
}

// AWSConfig holds EC2 inventory credentials.
type AWSConfig struct {
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// HetznerConfig holds Hetzner Cloud inventory settings.
type HetznerConfig struct {
	APIToken string `mapstructure:"api_token"`
	DNSZone  string `mapstructure:"dns_zone"`
}

// DigitalOceanConfig holds DigitalOcean inventory settings.
type DigitalOceanConfig struct {
	APIToken string `mapstructure:"api_token"`
	Domain   string `mapstructure:"domain"`
}

// PrometheusConfig holds the monitoring host settings.
type PrometheusConfig struct {
	// URL is registered as the Grafana data source.
	URL            string        `mapstructure:"url"`
	SSHHost        string        `mapstructure:"ssh_host"`
	SSHPort        int           `mapstructure:"ssh_port"`
	SSHUser        string        `mapstructure:"ssh_user"`
	SSHKeyPath     string        `mapstructure:"ssh_key_path"`
	SSHHostKey     string        `mapstructure:"ssh_host_key"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
	TargetsPath    string        `mapstructure:"targets_path"`
	Container      string        `mapstructure:"container"`
	// DockerHost, when set, reloads Prometheus through the Docker Engine API
	// instead of over SSH, e.g. "tcp://monitor:2376".
	DockerHost string `mapstructure:"docker_host"`
}

// PipelineConfig holds registry settings shared by the stages.
type PipelineConfig struct {
	Registry         string `mapstructure:"registry"`
	RegistryUser     string `mapstructure:"registry_user"`
	RegistryPassword string `mapstructure:"registry_password"`
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment variables.
// Environment variables take precedence over file values and use the
// QUICKOPS_ prefix, e.g. QUICKOPS_JENKINS_URL.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	// Deploy requests block until the run completes.
	v.SetDefault("server.write_timeout", "60m")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("ops.host", "0.0.0.0")
	v.SetDefault("ops.port", 9090)
	v.SetDefault("database.dsn", "./data/quickops.db")
	v.SetDefault("database.encryption_key", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("workspace.root", "")

	v.SetDefault("lock.backend", "memory")
	v.SetDefault("lock.redis_addr", "localhost:6379")
	v.SetDefault("lock.redis_password", "")
	v.SetDefault("lock.redis_db", 0)
	v.SetDefault("lock.prefix", "quickops:lock:")
	v.SetDefault("lock.ttl", "30s")
	v.SetDefault("lock.retry_interval", "500ms")

	v.SetDefault("jenkins.url", "")
	v.SetDefault("jenkins.user", "")
	v.SetDefault("jenkins.api_token", "")
	v.SetDefault("jenkins.timeout", "30s")
	v.SetDefault("jenkins.queue_poll_attempts", 30)
	v.SetDefault("jenkins.queue_poll_interval", "2s")
	v.SetDefault("jenkins.build_poll_attempts", 120)
	v.SetDefault("jenkins.build_poll_interval", "3s")

	v.SetDefault("sonar.url", "")
	v.SetDefault("sonar.token", "")
	v.SetDefault("sonar.server_name", "SonarQube")
	v.SetDefault("sonar.timeout", "30s")

	v.SetDefault("grafana.url", "")
	v.SetDefault("grafana.user", "")
	v.SetDefault("grafana.password", "")
	v.SetDefault("grafana.api_key", "")
	v.SetDefault("grafana.timeout", "30s")
	v.SetDefault("grafana.dashboard_tags", []string{"quickops"})

	v.SetDefault("statestore.account_url", "")
	v.SetDefault("statestore.container", "tfstate")
	v.SetDefault("statestore.sas_token", "")
	v.SetDefault("statestore.timeout", "60s")

	v.SetDefault("terraform.binary", "terraform")
	v.SetDefault("ansible.binary", "ansible-playbook")
	v.SetDefault("ansible.remote_user", "")

	v.SetDefault("cloud.subscription_id", "")
	v.SetDefault("cloud.tenant_id", "")
	v.SetDefault("cloud.client_id", "")
	v.SetDefault("cloud.client_secret", "")
	v.SetDefault("cloud.object_id", "")
	v.SetDefault("cloud.location", "local")
	v.SetDefault("cloud.resource_group", "")
	v.SetDefault("cloud.cloud_name", "")
	v.SetDefault("cloud.admin_username", "azureuser")
	v.SetDefault("cloud.ssh_private_key_path", "")
	v.SetDefault("cloud.vm_size", "Standard_B2s")

	v.SetDefault("cluster.provider", cluster.CloudAzure)
	v.SetDefault("cluster.dns_suffix", ".local.cloudapp.azurestack.external")
	v.SetDefault("cluster.orchestrator_release", "1.29")
	v.SetDefault("cluster.master_vm_size", "Standard_D2_v2")
	v.SetDefault("cluster.agent_vm_size", "Standard_D2_v2")
	v.SetDefault("cluster.agent_count", 2)
	v.SetDefault("cluster.control_plane_marker", "master")
	v.SetDefault("cluster.azure_binary", "az")
	v.SetDefault("cluster.aks_engine_binary", "aks-engine-azurestack")
	v.SetDefault("cluster.aks_engine_env", "AzureStackCloud")
	v.SetDefault("cluster.aws.region", "")
	v.SetDefault("cluster.aws.access_key_id", "")
	v.SetDefault("cluster.aws.secret_access_key", "")
	v.SetDefault("cluster.hetzner.api_token", "")
	v.SetDefault("cluster.hetzner.dns_zone", "")
	v.SetDefault("cluster.digitalocean.api_token", "")
	v.SetDefault("cluster.digitalocean.domain", "")

	v.SetDefault("prometheus.url", "")
	v.SetDefault("prometheus.ssh_host", "")
	v.SetDefault("prometheus.ssh_port", 22)
	v.SetDefault("prometheus.ssh_user", "")
	v.SetDefault("prometheus.ssh_key_path", "")
	v.SetDefault("prometheus.ssh_host_key", "")
	v.SetDefault("prometheus.connect_timeout", "10s")
	v.SetDefault("prometheus.command_timeout", "30s")
	v.SetDefault("prometheus.targets_path", "")
	v.SetDefault("prometheus.container", "")
	v.SetDefault("prometheus.docker_host", "")

	v.SetDefault("pipeline.registry", "")
	v.SetDefault("pipeline.registry_user", "")
	v.SetDefault("pipeline.registry_password", "")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// A missing file falls back to defaults; a malformed one is fatal.
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	v.SetEnvPrefix("QUICKOPS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Ansible.RemoteUser == "" {
		cfg.Ansible.RemoteUser = cfg.Cloud.AdminUsername
	}
	if cfg.Prometheus.SSHKeyPath == "" {
		cfg.Prometheus.SSHKeyPath = cfg.Cloud.SSHPrivateKeyPath
	}

	return &cfg, nil
}

// =============================================================================
// Validation
// =============================================================================

// Validate checks that every collaborator the pipeline needs is configured.
func (c *Config) Validate() error {
	var errs []error
	require := func(key, value string) {
		if strings.TrimSpace(value) == "" {
			errs = append(errs, fmt.Errorf("%s is required", key))
		}
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if c.Ops.Port < 0 || c.Ops.Port > 65535 {
		errs = append(errs, fmt.Errorf("ops.port out of range: %d", c.Ops.Port))
	}
	if c.Ops.Port != 0 && c.Ops.Port == c.Server.Port && c.Ops.Host == c.Server.Host {
		errs = append(errs, errors.New("ops listener must not share the server address"))
	}
	require("database.dsn", c.Database.DSN)

	switch c.Lock.Backend {
	case "memory":
	case "redis":
		require("lock.redis_addr", c.Lock.RedisAddr)
	default:
		errs = append(errs, fmt.Errorf("lock.backend must be memory or redis, got %q", c.Lock.Backend))
	}

	require("jenkins.url", c.Jenkins.URL)
	require("sonar.url", c.Sonar.URL)
	require("grafana.url", c.Grafana.URL)
	require("statestore.account_url", c.StateStore.AccountURL)
	require("statestore.container", c.StateStore.Container)
	require("cloud.ssh_private_key_path", c.Cloud.SSHPrivateKeyPath)
	require("prometheus.url", c.Prometheus.URL)
	require("prometheus.ssh_host", c.Prometheus.SSHHost)
	require("prometheus.ssh_user", c.Prometheus.SSHUser)
	require("pipeline.registry", c.Pipeline.Registry)

	switch c.Cluster.Provider {
	case cluster.CloudAzure:
		require("cloud.resource_group", c.Cloud.ResourceGroup)
	case cluster.CloudAWS:
		require("cluster.aws.region", c.Cluster.AWS.Region)
	case cluster.CloudHetzner:
		require("cluster.hetzner.api_token", c.Cluster.Hetzner.APIToken)
	case cluster.CloudDigitalOcean:
		require("cluster.digitalocean.api_token", c.Cluster.DigitalOcean.APIToken)
		require("cluster.digitalocean.domain", c.Cluster.DigitalOcean.Domain)
	default:
		errs = append(errs, fmt.Errorf("unsupported cluster.provider: %q", c.Cluster.Provider))
	}
	if c.Cluster.AgentCount < 1 {
		errs = append(errs, fmt.Errorf("cluster.agent_count must be at least 1, got %d", c.Cluster.AgentCount))
	}

	return errors.Join(errs...)
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format.
func SetupLogger(cfg LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
