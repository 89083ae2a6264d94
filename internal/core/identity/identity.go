// Package identity derives stable per-project names, addresses and ports.
// This is part of the Functional Core - all functions are pure with no I/O.
//
// Every value here is a function of the project name (and repo index) only,
// so repeated runs for the same project reuse the same addressing across
// process restarts without any stored state.
package identity

import (
	"crypto/md5"
	"fmt"
	"path"
	"strings"

	"github.com/artpar/quickops/internal/core/domain"
)

const (
	// BasePort is the host port of the first backend service.
	BasePort = 5000

	// BaseRulePriority is the priority of the first ingress rule.
	BaseRulePriority = 130

	// clusterOctetRange keeps cluster networks clear of 10.0.x and 10.201+.
	clusterOctetRange = 200
)

// =============================================================================
// Numeric Namespace
// =============================================================================

// SubnetOffset maps a project name to [0, 256) using the first byte of its
// MD5 digest.
//
// Example:
//
//	SubnetOffset("shopapp") // same value on every call and every host
func SubnetOffset(name string) int {
	sum := md5.Sum([]byte(name))
	return int(sum[0]) % 256
}

// ClusterOctet maps a project name to [1, 200] for cluster networks. The
// name is lowercased first because cluster resources are lowercase.
func ClusterOctet(name string) int {
	sum := md5.Sum([]byte(strings.ToLower(name)))
	return int(sum[0])%clusterOctetRange + 1
}

// Port returns the host port of the i-th backend repo (0-indexed).
func Port(i int) int {
	return BasePort + i
}

// Ports returns the strictly increasing ports for n backend repos.
//
// Example:
//
//	Ports(3) // returns []int{5000, 5001, 5002}
func Ports(n int) []int {
	if n <= 0 {
		return []int{}
	}
	ports := make([]int, n)
	for i := range ports {
		ports[i] = Port(i)
	}
	return ports
}

// RulePriority returns the ingress rule priority for the i-th exposed port.
func RulePriority(i int) int {
	return BaseRulePriority + i
}

// =============================================================================
// Address Plans
// =============================================================================

// AddressPlan is a project's private network and the first host address
// handed to the primary machine.
type AddressPlan struct {
	Octet        int
	CIDR         string
	FirstAddress string
}

// VMAddressPlan returns the /16 network of a VM project.
// Pattern: 10.{SubnetOffset}.0.0/16, first usable host .0.4
func VMAddressPlan(name string) AddressPlan {
	o := SubnetOffset(name)
	return AddressPlan{
		Octet:        o,
		CIDR:         fmt.Sprintf("10.%d.0.0/16", o),
		FirstAddress: fmt.Sprintf("10.%d.0.4", o),
	}
}

// ClusterAddressPlan returns the /16 network of a cluster project.
// Pattern: 10.{ClusterOctet}.0.0/16, first master address .0.5
func ClusterAddressPlan(name string) AddressPlan {
	o := ClusterOctet(name)
	return AddressPlan{
		Octet:        o,
		CIDR:         fmt.Sprintf("10.%d.0.0/16", o),
		FirstAddress: fmt.Sprintf("10.%d.0.5", o),
	}
}

// =============================================================================
// Derived Names
// =============================================================================

// RepoName returns the repository name of a clone URL: its basename with
// any trailing slash and ".git" suffix removed.
//
// Example:
//
//	RepoName("https://github.com/acme/orders.git") // returns "orders"
func RepoName(repoURL string) string {
	u := strings.TrimRight(strings.TrimSpace(repoURL), "/")
	return strings.TrimSuffix(path.Base(u), ".git")
}

// FrontendQualityKey is the quality-scan key of the frontend repo.
// Pattern: {name}-frontend
func FrontendQualityKey(name string) string {
	return name + "-frontend"
}

// QualityKey is the quality-scan key of a backend repo.
// Pattern: {name}-{repo}
func QualityKey(name, repoURL string) string {
	return name + "-" + RepoName(repoURL)
}

// JobLabel is the monitoring job label of a backend repo.
// Pattern: {name}-{repo}
func JobLabel(name, repoURL string) string {
	return name + "-" + RepoName(repoURL)
}

// ClusterResourceToken is the substring every cloud resource of a project's
// cluster carries in its name.
// Pattern: k8s-{lowercase(name)}
func ClusterResourceToken(name string) string {
	return "k8s-" + strings.ToLower(name)
}

// ClusterDNSLabel is the public DNS name of a project's cluster ingress.
// Pattern: {lowercase(name)}{suffix}
func ClusterDNSLabel(name, suffix string) string {
	return strings.ToLower(name) + suffix
}

// DashboardUID is the dashboard key of a project.
// Pattern: dashboard-{slug(name)}
func DashboardUID(name string) string {
	return domain.Slugify("dashboard-" + name)
}

// ImageRef is the registry reference of a built artifact.
// Pattern: {registry}/{project}:{role}-{buildID}
//
// Example:
//
//	ImageRef("nexus.local:8082", "shopapp", "orders", 42) // "nexus.local:8082/shopapp:orders-42"
func ImageRef(registry, project, role string, buildID int) string {
	return fmt.Sprintf("%s/%s:%s-%d", strings.TrimRight(registry, "/"), project, role, buildID)
}
