package pipeline

import (
	"github.com/artpar/quickops/internal/core/render"
)

// Config is the immutable configuration shared by the stages.
type Config struct {
	// Registry is the image registry the CI pipeline pushes to, e.g.
	// "nexus.example.net:8082".
	Registry         string
	RegistryUser     string
	RegistryPassword string

	// SonarServer is the name of the SonarQube installation in Jenkins.
	SonarServer string

	// Cloud is the account infra and cluster declarations target.
	Cloud  render.CloudContext
	VMSize string

	Cluster ClusterConfig

	// SSHPrivateKey authenticates configuration runs against new hosts.
	SSHPrivateKey []byte

	// PrometheusURL is registered as the dashboard data source.
	PrometheusURL string
	DashboardTags []string
}

// ClusterConfig shapes the cluster api-model and its DNS name.
type ClusterConfig struct {
	// DNSSuffix is appended to the lowercased project name to form the
	// cluster's DNS label, e.g. ".local.cloudapp.azurestack.external".
	DNSSuffix           string
	OrchestratorRelease string
	MasterVMSize        string
	AgentVMSize         string
	AgentCount          int
	// ControlPlaneMarker identifies control-plane public IPs, which are
	// never used for ingress.
	ControlPlaneMarker string
}

// DefaultConfig returns a Config with the cluster sizing defaults.
func DefaultConfig() Config {
	return Config{
		SonarServer: "SonarQube",
		VMSize:      "Standard_B2s",
		Cluster: ClusterConfig{
			OrchestratorRelease: "1.29",
			MasterVMSize:        "Standard_D2_v2",
			AgentVMSize:         "Standard_D2_v2",
			AgentCount:          2,
			ControlPlaneMarker:  "master",
		},
		DashboardTags: []string{"quickops"},
	}
}

func (c Config) controlPlaneMarker() string {
	if c.Cluster.ControlPlaneMarker == "" {
		return "master"
	}
	return c.Cluster.ControlPlaneMarker
}
