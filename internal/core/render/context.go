package render

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/artpar/quickops/internal/core/identity"
	"github.com/docker/go-connections/nat"
)

// =============================================================================
// Template Contexts
// =============================================================================

// Repo is a source repository and its derived name.
type Repo struct {
	Name string
	URL  string
}

// ReposFrom derives a Repo for each clone URL.
func ReposFrom(urls []string) []Repo {
	repos := make([]Repo, 0, len(urls))
	for _, u := range urls {
		repos = append(repos, Repo{Name: identity.RepoName(u), URL: u})
	}
	return repos
}

// PipelineContext fills the CI pipeline definition.
type PipelineContext struct {
	ProjectName     string
	FrontendRepo    string
	BackendRepos    []Repo
	CredentialToken string
	Registry        string
	SonarServer     string
}

// IngressRule opens one inbound port on the VM's security group.
type IngressRule struct {
	Name     string
	Priority int
	Port     string
	Protocol string
}

// IngressRulesFor returns one TCP rule per exposed port with ascending
// priorities.
//
// Example:
//
//	IngressRulesFor([]int{5000, 5001})
//	// [{Allow-Backend-5000 130 5000 Tcp} {Allow-Backend-5001 131 5001 Tcp}]
func IngressRulesFor(ports []int) ([]IngressRule, error) {
	rules := make([]IngressRule, 0, len(ports))
	for i, p := range ports {
		port, err := nat.NewPort("tcp", strconv.Itoa(p))
		if err != nil {
			return nil, fmt.Errorf("ingress port %d: %w", p, err)
		}
		rules = append(rules, IngressRule{
			Name:     "Allow-Backend-" + port.Port(),
			Priority: identity.RulePriority(i),
			Port:     port.Port(),
			Protocol: titleProto(port.Proto()),
		})
	}
	return rules, nil
}

func titleProto(proto string) string {
	if proto == "" {
		return ""
	}
	return strings.ToUpper(proto[:1]) + proto[1:]
}

// CloudContext is the cloud account a declaration targets.
type CloudContext struct {
	SubscriptionID string
	TenantID       string
	ClientID       string
	ClientSecret   string
	ObjectID       string
	Location       string
	ResourceGroup  string
	AdminUsername  string
	SSHPublicKey   string
}

// InfraContext fills the VM infra declaration.
type InfraContext struct {
	ProjectName string
	Cloud       CloudContext
	Network     identity.AddressPlan
	Rules       []IngressRule
	VMSize      string
}

// ClusterContext fills the cluster api-model.
type ClusterContext struct {
	ProjectName         string
	DNSPrefix           string
	Cloud               CloudContext
	Network             identity.AddressPlan
	OrchestratorRelease string
	MasterVMSize        string
	AgentVMSize         string
	AgentCount          int
}

// Service is one container started on the target.
type Service struct {
	Name  string
	Image string
	Port  int
}

// PlaybookContext fills the configuration playbooks.
type PlaybookContext struct {
	ProjectName      string
	Host             string
	AdminUsername    string
	PrivateKeyPath   string
	Registry         string
	RegistryUser     string
	RegistryPassword string
	Frontend         Service
	Backends         []Service
	ComposeFile      string
}
