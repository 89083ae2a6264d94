package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"
)

// HetznerConfig configures the Hetzner Cloud inventory.
type HetznerConfig struct {
	APIToken string
	// DNSZone is appended to labels to form reverse DNS names.
	DNSZone string
}

// hcloudServers is the subset of hcloud.ServerClient used here.
type hcloudServers interface {
	All(ctx context.Context) ([]*hcloud.Server, error)
	ChangeDNSPtr(ctx context.Context, server *hcloud.Server, ip string, ptr *string) (*hcloud.Action, *hcloud.Response, error)
}

// HetznerInventory implements Inventory over Hetzner Cloud servers. Each
// server's primary IPv4 stands in for a public IP resource.
type HetznerInventory struct {
	servers hcloudServers
	zone    string
	logger  *slog.Logger
}

// NewHetznerInventory creates a HetznerInventory.
func NewHetznerInventory(cfg HetznerConfig, logger *slog.Logger) *HetznerInventory {
	client := hcloud.NewClient(hcloud.WithToken(cfg.APIToken))
	return newHetznerInventory(&client.Server, cfg.DNSZone, logger)
}

func newHetznerInventory(servers hcloudServers, zone string, logger *slog.Logger) *HetznerInventory {
	if logger == nil {
		logger = slog.Default()
	}
	return &HetznerInventory{servers: servers, zone: zone, logger: logger.With("provider", "hetzner")}
}

func (h *HetznerInventory) matching(ctx context.Context, pattern string) ([]*hcloud.Server, error) {
	all, err := h.servers.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("list servers: %w", err)
	}
	var out []*hcloud.Server
	for _, s := range all {
		if strings.Contains(s.Name, pattern) {
			out = append(out, s)
		}
	}
	return out, nil
}

// ResourcesExist implements Inventory.
func (h *HetznerInventory) ResourcesExist(ctx context.Context, pattern string) (bool, error) {
	servers, err := h.matching(ctx, pattern)
	if err != nil {
		return false, err
	}
	return len(servers) > 0, nil
}

// ListPublicIPs implements Inventory.
func (h *HetznerInventory) ListPublicIPs(ctx context.Context, pattern string) ([]PublicIP, error) {
	servers, err := h.matching(ctx, pattern)
	if err != nil {
		return nil, err
	}
	ips := make([]PublicIP, 0, len(servers))
	for _, s := range servers {
		addr := ""
		if ip := s.PublicNet.IPv4.IP; ip != nil && !ip.IsUnspecified() {
			addr = ip.String()
		}
		ips = append(ips, PublicIP{
			ID:      strconv.FormatInt(s.ID, 10),
			Name:    s.Name,
			Address: addr,
			Tags:    s.Labels,
		})
	}
	return ips, nil
}

// AssignDNS implements Inventory by setting the reverse DNS pointer of the
// server's address to label.zone.
func (h *HetznerInventory) AssignDNS(ctx context.Context, ip PublicIP, label string) error {
	id, err := strconv.ParseInt(ip.ID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid server ID %q: %w", ip.ID, err)
	}
	ptr := fqdn(label, h.zone)
	if _, _, err := h.servers.ChangeDNSPtr(ctx, &hcloud.Server{ID: id}, ip.Address, &ptr); err != nil {
		return fmt.Errorf("change dns ptr: %w", err)
	}
	h.logger.Info("set reverse dns", "server_id", id, "ptr", ptr)
	return nil
}

func fqdn(label, zone string) string {
	if zone == "" {
		return label
	}
	return label + "." + strings.TrimSuffix(zone, ".")
}
