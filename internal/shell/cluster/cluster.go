// Package cluster provisions Kubernetes clusters and locates their ingress
// address. Cloud inventory is pluggable; cluster creation itself is handed
// to a Launcher.
// This is part of the Imperative Shell - handles I/O with cloud APIs.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// ErrNoIngressIP is returned when no public IP other than the control
// plane's matches the cluster pattern.
var ErrNoIngressIP = errors.New("no ingress public IP found")

// PublicIP is a public address allocated in the cloud account.
type PublicIP struct {
	ID      string
	Name    string
	Address string
	Tags    map[string]string
}

// Inventory answers questions about existing cloud resources.
type Inventory interface {
	// ResourcesExist reports whether any resource name contains pattern.
	ResourcesExist(ctx context.Context, pattern string) (bool, error)
	// ListPublicIPs returns public IPs whose name contains pattern.
	ListPublicIPs(ctx context.Context, pattern string) ([]PublicIP, error)
	// AssignDNS points label at ip.
	AssignDNS(ctx context.Context, ip PublicIP, label string) error
}

// Launcher creates a cluster from a rendered declaration file.
type Launcher interface {
	Launch(ctx context.Context, dir, declarationPath string) error
}

// =============================================================================
// Provisioner
// =============================================================================

// Provisioner combines an Inventory with a Launcher.
type Provisioner struct {
	inventory Inventory
	launcher  Launcher
	logger    *slog.Logger
}

// NewProvisioner creates a Provisioner.
func NewProvisioner(inv Inventory, launcher Launcher, logger *slog.Logger) *Provisioner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provisioner{inventory: inv, launcher: launcher, logger: logger.With("component", "cluster")}
}

// ResourcesExist reports whether a cluster matching pattern is already up.
func (p *Provisioner) ResourcesExist(ctx context.Context, pattern string) (bool, error) {
	return p.inventory.ResourcesExist(ctx, pattern)
}

// Launch creates the cluster described by declarationPath.
func (p *Provisioner) Launch(ctx context.Context, dir, declarationPath string) error {
	return p.launcher.Launch(ctx, dir, declarationPath)
}

// FindIngressIP returns the first public IP matching pattern that does not
// belong to the control plane, identified by exclude.
func (p *Provisioner) FindIngressIP(ctx context.Context, pattern, exclude string) (PublicIP, error) {
	ips, err := p.inventory.ListPublicIPs(ctx, pattern)
	if err != nil {
		return PublicIP{}, fmt.Errorf("list public IPs: %w", err)
	}
	ip, ok := SelectIngressIP(ips, exclude)
	if !ok {
		return PublicIP{}, fmt.Errorf("%w for %q (%d candidates)", ErrNoIngressIP, pattern, len(ips))
	}
	p.logger.Info("found ingress IP", "pattern", pattern, "name", ip.Name, "address", ip.Address)
	return ip, nil
}

// AssignDNS points label at ip.
func (p *Provisioner) AssignDNS(ctx context.Context, ip PublicIP, label string) error {
	if err := p.inventory.AssignDNS(ctx, ip, label); err != nil {
		return fmt.Errorf("assign dns %s: %w", label, err)
	}
	return nil
}

// SelectIngressIP returns the first address that has an address assigned and
// is neither named nor tagged with exclude.
func SelectIngressIP(ips []PublicIP, exclude string) (PublicIP, bool) {
	for _, ip := range ips {
		if ip.Address == "" {
			continue
		}
		if exclude != "" && isExcluded(ip, exclude) {
			continue
		}
		return ip, true
	}
	return PublicIP{}, false
}

func isExcluded(ip PublicIP, exclude string) bool {
	if strings.Contains(strings.ToLower(ip.Name), strings.ToLower(exclude)) {
		return true
	}
	for k, v := range ip.Tags {
		if strings.EqualFold(k, exclude) || strings.EqualFold(v, exclude) {
			return true
		}
	}
	return false
}
