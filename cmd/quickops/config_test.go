package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

// =============================================================================
// Config Loading Tests
// =============================================================================

func TestLoadConfig_DefaultValues(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 60*time.Minute, cfg.Server.WriteTimeout)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 9090, cfg.Ops.Port)
	assert.Equal(t, "./data/quickops.db", cfg.Database.DSN)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "memory", cfg.Lock.Backend)
	assert.Equal(t, 30*time.Second, cfg.Lock.TTL)
	assert.Equal(t, 120, cfg.Jenkins.BuildPollAttempts)
	assert.Equal(t, 3*time.Second, cfg.Jenkins.BuildPollInterval)
	assert.Equal(t, "SonarQube", cfg.Sonar.ServerName)
	assert.Equal(t, []string{"quickops"}, cfg.Grafana.DashboardTags)
	assert.Equal(t, "azure", cfg.Cluster.Provider)
	assert.Equal(t, 2, cfg.Cluster.AgentCount)
	assert.Equal(t, "azureuser", cfg.Ansible.RemoteUser, "remote user follows the admin username")
}

func TestLoadConfig_FromFile(t *testing.T) {
	clearEnv(t)

	configContent := `
server:
  host: "127.0.0.1"
  port: 9000
  write_timeout: 2h
log:
  level: "debug"
  format: "text"
lock:
  backend: redis
  redis_addr: "redis:6379"
jenkins:
  url: "https://ci.example.net"
  build_poll_attempts: 10
cloud:
  admin_username: ops
  ssh_private_key_path: /keys/id_ed25519
cluster:
  provider: hetzner
  hetzner:
    api_token: hz-token
    dns_zone: apps.example.net
`
	tmpFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte(configContent), 0644))

	cfg, err := LoadConfig(tmpFile)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Address())
	assert.Equal(t, 2*time.Hour, cfg.Server.WriteTimeout)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "redis", cfg.Lock.Backend)
	assert.Equal(t, "redis:6379", cfg.Lock.RedisAddr)
	assert.Equal(t, "https://ci.example.net", cfg.Jenkins.URL)
	assert.Equal(t, 10, cfg.Jenkins.BuildPollAttempts)
	assert.Equal(t, 30, cfg.Jenkins.QueuePollAttempts)
	assert.Equal(t, "hetzner", cfg.Cluster.Provider)
	assert.Equal(t, "hz-token", cfg.Cluster.Hetzner.APIToken)
	assert.Equal(t, "ops", cfg.Ansible.RemoteUser)
	assert.Equal(t, "/keys/id_ed25519", cfg.Prometheus.SSHKeyPath, "monitoring key falls back to the cloud key")
}

func TestLoadConfig_EnvironmentOverride(t *testing.T) {
	clearEnv(t)

	t.Setenv("QUICKOPS_SERVER_PORT", "3000")
	t.Setenv("QUICKOPS_DATABASE_DSN", "/custom/path.db")
	t.Setenv("QUICKOPS_JENKINS_URL", "https://jenkins.internal")
	t.Setenv("QUICKOPS_CLUSTER_AWS_REGION", "eu-west-1")
	t.Setenv("QUICKOPS_PIPELINE_REGISTRY", "nexus:8082")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "/custom/path.db", cfg.Database.DSN)
	assert.Equal(t, "https://jenkins.internal", cfg.Jenkins.URL)
	assert.Equal(t, "eu-west-1", cfg.Cluster.AWS.Region)
	assert.Equal(t, "nexus:8082", cfg.Pipeline.Registry)
}

func TestLoadConfig_FileNotFound_UsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig("/nonexistent/path/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadConfig_InvalidFile(t *testing.T) {
	clearEnv(t)

	tmpFile := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte("invalid: yaml: content: [[["), 0644))

	_, err := LoadConfig(tmpFile)
	assert.Error(t, err)
}

// =============================================================================
// Config Validation Tests
// =============================================================================

func validConfig(t *testing.T) *Config {
	t.Helper()
	clearEnv(t)
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	cfg.Jenkins.URL = "https://ci.example.net"
	cfg.Sonar.URL = "https://sonar.example.net"
	cfg.Grafana.URL = "https://grafana.example.net"
	cfg.StateStore.AccountURL = "https://acct.blob.core.windows.net"
	cfg.Cloud.SSHPrivateKeyPath = "/keys/id_ed25519"
	cfg.Cloud.ResourceGroup = "quickops-rg"
	cfg.Prometheus.URL = "http://monitor:9090"
	cfg.Prometheus.SSHHost = "monitor"
	cfg.Prometheus.SSHUser = "ops"
	cfg.Pipeline.Registry = "nexus:8082"
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	t.Run("complete", func(t *testing.T) {
		assert.NoError(t, validConfig(t).Validate())
	})

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing jenkins", func(c *Config) { c.Jenkins.URL = "" }, "jenkins.url is required"},
		{"unknown lock backend", func(c *Config) { c.Lock.Backend = "etcd" }, "lock.backend"},
		{"redis without addr", func(c *Config) { c.Lock.Backend = "redis"; c.Lock.RedisAddr = "" }, "lock.redis_addr is required"},
		{"unknown provider", func(c *Config) { c.Cluster.Provider = "gcp" }, "unsupported cluster.provider"},
		{"digitalocean without domain", func(c *Config) {
			c.Cluster.Provider = "digitalocean"
			c.Cluster.DigitalOcean.APIToken = "do-token"
		}, "cluster.digitalocean.domain is required"},
		{"ops on server address", func(c *Config) { c.Ops.Port = c.Server.Port }, "ops listener"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"no agents", func(c *Config) { c.Cluster.AgentCount = 0 }, "cluster.agent_count"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestConfig_ValidateReportsEveryProblem(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	for _, key := range []string{"jenkins.url", "sonar.url", "grafana.url", "pipeline.registry"} {
		assert.Contains(t, err.Error(), key)
	}
}

func TestCloudConfig_TerraformEnv(t *testing.T) {
	c := CloudConfig{SubscriptionID: "sub", ClientID: "app", ClientSecret: "s3cret"}
	assert.Equal(t, []string{
		"ARM_SUBSCRIPTION_ID=sub",
		"ARM_CLIENT_ID=app",
		"ARM_CLIENT_SECRET=s3cret",
	}, c.TerraformEnv())
}

func TestConfig_Address(t *testing.T) {
	cfg := &Config{Server: ServerConfig{Host: "localhost", Port: 8080}}
	assert.Equal(t, "localhost:8080", cfg.Server.Address())
}

// =============================================================================
// Stage Config Tests
// =============================================================================

func TestStageConfig(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)
	keyPEM := pem.EncodeToMemory(block)

	cfg := validConfig(t)
	cfg.Cluster.DNSSuffix = ".apps.example.net"
	cfg.Cluster.AgentCount = 5

	pc, err := stageConfig(cfg, keyPEM)
	require.NoError(t, err)

	assert.Equal(t, "nexus:8082", pc.Registry)
	assert.Equal(t, "SonarQube", pc.SonarServer)
	assert.Equal(t, "quickops-rg", pc.Cloud.ResourceGroup)
	assert.True(t, strings.HasPrefix(pc.Cloud.SSHPublicKey, "ssh-ed25519 "))
	assert.Equal(t, keyPEM, pc.SSHPrivateKey)
	assert.Equal(t, ".apps.example.net", pc.Cluster.DNSSuffix)
	assert.Equal(t, 5, pc.Cluster.AgentCount)
	assert.Equal(t, "master", pc.Cluster.ControlPlaneMarker)
	assert.Equal(t, "http://monitor:9090", pc.PrometheusURL)
}

func TestStageConfig_BadKey(t *testing.T) {
	_, err := stageConfig(validConfig(t), []byte("not a key"))
	assert.Error(t, err)
}

// =============================================================================
// Logger Setup Tests
// =============================================================================

func TestSetupLogger(t *testing.T) {
	for _, lc := range []LogConfig{
		{Level: "debug", Format: "json"},
		{Level: "warn", Format: "text"},
		{Level: "error", Format: "json"},
		{Level: "invalid", Format: "json"},
	} {
		assert.NotNil(t, SetupLogger(lc), "%+v", lc)
	}
}

// =============================================================================
// Server Error Tests
// =============================================================================

func TestServerError_Unwrap(t *testing.T) {
	cause := errors.New("address in use")
	err := error(&ServerError{Op: "Start", Err: cause, ExitCode: ExitHTTPServerError})

	assert.Equal(t, "Start: address in use", err.Error())
	assert.ErrorIs(t, err, cause)

	var sErr *ServerError
	require.ErrorAs(t, err, &sErr)
	assert.Equal(t, ExitHTTPServerError, sErr.ExitCode)
}

func TestNewServer_MissingKeyIsConfigError(t *testing.T) {
	cfg := validConfig(t)
	cfg.Cloud.SSHPrivateKeyPath = filepath.Join(t.TempDir(), "absent")

	_, err := NewServer(cfg, nil)
	var sErr *ServerError
	require.ErrorAs(t, err, &sErr)
	assert.Equal(t, ExitConfigError, sErr.ExitCode)
}

// =============================================================================
// Test Helpers
// =============================================================================

func clearEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		if name, _, ok := strings.Cut(kv, "="); ok && strings.HasPrefix(name, "QUICKOPS_") {
			t.Setenv(name, "")
			os.Unsetenv(name)
		}
	}
}
