// Package domain contains the core domain types and validation logic.
// This is part of the Functional Core - all functions are pure with no I/O.
package domain

import (
	"errors"
	"regexp"
	"strings"
	"time"
)

// =============================================================================
// Project Errors
// =============================================================================

var (
	ErrProjectNameRequired     = errors.New("project name is required")
	ErrProjectNameInvalid      = errors.New("project name must be DNS-safe: letters, digits and hyphens, starting with a letter or digit, at most 62 characters")
	ErrFrontendRepoRequired    = errors.New("frontend repository is required")
	ErrBackendReposRequired    = errors.New("at least one backend repository is required")
	ErrCredentialRequired      = errors.New("credential token is required")
	ErrInvalidDeploymentChoice = errors.New("invalid deployment choice: must be VM or CLUSTER")
	ErrDeploymentChoiceUnset   = errors.New("deployment choice not set")
	ErrInvalidProjectStatus    = errors.New("invalid project status: must be NOT_DEPLOYED or DEPLOYED")
)

var projectNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9-]{0,61}$`)

// =============================================================================
// Deployment Choice
// =============================================================================

// DeploymentChoice selects the provisioning strategy for a project.
type DeploymentChoice string

const (
	DeploymentNone    DeploymentChoice = ""
	DeploymentVM      DeploymentChoice = "VM"
	DeploymentCluster DeploymentChoice = "CLUSTER"
)

// IsValid reports whether c is one of the canonical values.
func (c DeploymentChoice) IsValid() bool {
	switch c {
	case DeploymentVM, DeploymentCluster:
		return true
	default:
		return false
	}
}

// ParseDeploymentChoice normalizes the spellings seen in stored records and
// API payloads to the canonical enum.
//
// Example:
//
//	ParseDeploymentChoice("vm")         // DeploymentVM
//	ParseDeploymentChoice("KUBERNETES") // DeploymentCluster
//	ParseDeploymentChoice("Kubernetes") // DeploymentCluster
func ParseDeploymentChoice(s string) (DeploymentChoice, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "":
		return DeploymentNone, ErrDeploymentChoiceUnset
	case "VM":
		return DeploymentVM, nil
	case "CLUSTER", "KUBERNETES", "K8S", "AKS":
		return DeploymentCluster, nil
	default:
		return DeploymentNone, ErrInvalidDeploymentChoice
	}
}

// =============================================================================
// Project Status
// =============================================================================

// ProjectStatus is the durable deployment state of a project.
type ProjectStatus string

const (
	StatusNotDeployed ProjectStatus = "NOT_DEPLOYED"
	StatusDeployed    ProjectStatus = "DEPLOYED"
)

// IsValid checks if the status is known.
func (s ProjectStatus) IsValid() bool {
	return s == StatusNotDeployed || s == StatusDeployed
}

// ParseProjectStatus accepts the canonical values and the lowercase
// "deployed" / "not deployed" forms.
func ParseProjectStatus(s string) (ProjectStatus, error) {
	switch strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), " ", "_")) {
	case "DEPLOYED":
		return StatusDeployed, nil
	case "NOT_DEPLOYED":
		return StatusNotDeployed, nil
	default:
		return "", ErrInvalidProjectStatus
	}
}

// =============================================================================
// Project
// =============================================================================

// Project is a registered application made of one frontend and an ordered
// list of backend repositories. Name is immutable after creation and keys
// every external resource derived for the project.
type Project struct {
	ID               string           `json:"id"`
	Name             string           `json:"name"`
	FrontendRepo     string           `json:"frontend_repo"`
	BackendRepos     []string         `json:"backend_repos"`
	CredentialToken  string           `json:"-"`
	DeploymentChoice DeploymentChoice `json:"deployment_choice,omitempty"`
	Status           ProjectStatus    `json:"status"`
	Recommendation   string           `json:"recommendation,omitempty"`
	Reasoning        string           `json:"reasoning,omitempty"`
	PublicIP         string           `json:"public_ip,omitempty"`
	DNSLabel         string           `json:"dns_label,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// IsDeployed reports whether the last full pipeline run succeeded.
func (p Project) IsDeployed() bool {
	return p.Status == StatusDeployed
}

// ValidateProjectName checks that name can be used as a namespace key for
// CI jobs, DNS labels and monitoring jobs.
func ValidateProjectName(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrProjectNameRequired
	}
	if !projectNamePattern.MatchString(name) {
		return ErrProjectNameInvalid
	}
	return nil
}

// ValidateNewProject checks the fields required at creation time.
func ValidateNewProject(p Project) error {
	if err := ValidateProjectName(p.Name); err != nil {
		return err
	}
	if strings.TrimSpace(p.FrontendRepo) == "" {
		return ErrFrontendRepoRequired
	}
	if len(p.BackendRepos) == 0 {
		return ErrBackendReposRequired
	}
	if p.CredentialToken == "" {
		return ErrCredentialRequired
	}
	if p.DeploymentChoice != DeploymentNone && !p.DeploymentChoice.IsValid() {
		return ErrInvalidDeploymentChoice
	}
	return nil
}

// ValidateForDeploy checks the preconditions of a pipeline run.
func ValidateForDeploy(p Project) error {
	if strings.TrimSpace(p.Name) == "" {
		return ErrProjectNameRequired
	}
	if p.DeploymentChoice == DeploymentNone {
		return ErrDeploymentChoiceUnset
	}
	if !p.DeploymentChoice.IsValid() {
		return ErrInvalidDeploymentChoice
	}
	return nil
}

// =============================================================================
// Project Update
// =============================================================================

// ProjectUpdate carries a partial update. Nil fields are left untouched.
type ProjectUpdate struct {
	Status           *ProjectStatus
	Recommendation   *string
	Reasoning        *string
	DeploymentChoice *DeploymentChoice
	PublicIP         *string
	DNSLabel         *string
}

// IsEmpty reports whether the update changes nothing.
func (u ProjectUpdate) IsEmpty() bool {
	return u.Status == nil && u.Recommendation == nil && u.Reasoning == nil &&
		u.DeploymentChoice == nil && u.PublicIP == nil && u.DNSLabel == nil
}

// Apply returns a copy of p with the update applied.
func (u ProjectUpdate) Apply(p Project) Project {
	if u.Status != nil {
		p.Status = *u.Status
	}
	if u.Recommendation != nil {
		p.Recommendation = *u.Recommendation
	}
	if u.Reasoning != nil {
		p.Reasoning = *u.Reasoning
	}
	if u.DeploymentChoice != nil {
		p.DeploymentChoice = *u.DeploymentChoice
	}
	if u.PublicIP != nil {
		p.PublicIP = *u.PublicIP
	}
	if u.DNSLabel != nil {
		p.DNSLabel = *u.DNSLabel
	}
	return p
}

// AddressUpdate records provisioning outputs without touching status.
func AddressUpdate(publicIP, dnsLabel string) ProjectUpdate {
	return ProjectUpdate{PublicIP: &publicIP, DNSLabel: &dnsLabel}
}

// DeployedUpdate marks a project deployed at the given address.
func DeployedUpdate(publicIP, dnsLabel string) ProjectUpdate {
	status := StatusDeployed
	return ProjectUpdate{Status: &status, PublicIP: &publicIP, DNSLabel: &dnsLabel}
}
