package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/digitalocean/godo"
)

// DigitalOceanConfig configures the DigitalOcean inventory.
type DigitalOceanConfig struct {
	APIToken string
	// Domain is the DigitalOcean-managed zone A records are written to.
	Domain string
}

// dropletLister is the subset of godo.DropletsService used here.
type dropletLister interface {
	List(ctx context.Context, opt *godo.ListOptions) ([]godo.Droplet, *godo.Response, error)
}

// domainRecords is the subset of godo.DomainsService used here.
type domainRecords interface {
	Records(ctx context.Context, domain string, opt *godo.ListOptions) ([]godo.DomainRecord, *godo.Response, error)
	CreateRecord(ctx context.Context, domain string, req *godo.DomainRecordEditRequest) (*godo.DomainRecord, *godo.Response, error)
	EditRecord(ctx context.Context, domain string, id int, req *godo.DomainRecordEditRequest) (*godo.DomainRecord, *godo.Response, error)
}

// DigitalOceanInventory implements Inventory over droplets and DNS records.
type DigitalOceanInventory struct {
	droplets dropletLister
	domains  domainRecords
	domain   string
	logger   *slog.Logger
}

// NewDigitalOceanInventory creates a DigitalOceanInventory.
func NewDigitalOceanInventory(cfg DigitalOceanConfig, logger *slog.Logger) *DigitalOceanInventory {
	client := godo.NewFromToken(cfg.APIToken)
	return newDigitalOceanInventory(client.Droplets, client.Domains, cfg.Domain, logger)
}

func newDigitalOceanInventory(droplets dropletLister, domains domainRecords, domain string, logger *slog.Logger) *DigitalOceanInventory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DigitalOceanInventory{
		droplets: droplets,
		domains:  domains,
		domain:   domain,
		logger:   logger.With("provider", "digitalocean"),
	}
}

func (d *DigitalOceanInventory) matching(ctx context.Context, pattern string) ([]godo.Droplet, error) {
	all, _, err := d.droplets.List(ctx, &godo.ListOptions{PerPage: 200})
	if err != nil {
		return nil, fmt.Errorf("list droplets: %w", err)
	}
	var out []godo.Droplet
	for _, dr := range all {
		if strings.Contains(dr.Name, pattern) {
			out = append(out, dr)
		}
	}
	return out, nil
}

// ResourcesExist implements Inventory.
func (d *DigitalOceanInventory) ResourcesExist(ctx context.Context, pattern string) (bool, error) {
	droplets, err := d.matching(ctx, pattern)
	if err != nil {
		return false, err
	}
	return len(droplets) > 0, nil
}

// ListPublicIPs implements Inventory.
func (d *DigitalOceanInventory) ListPublicIPs(ctx context.Context, pattern string) ([]PublicIP, error) {
	droplets, err := d.matching(ctx, pattern)
	if err != nil {
		return nil, err
	}
	ips := make([]PublicIP, 0, len(droplets))
	for _, dr := range droplets {
		addr, _ := dr.PublicIPv4()
		tags := make(map[string]string, len(dr.Tags))
		for _, t := range dr.Tags {
			tags[t] = t
		}
		ips = append(ips, PublicIP{ID: strconv.Itoa(dr.ID), Name: dr.Name, Address: addr, Tags: tags})
	}
	return ips, nil
}

// AssignDNS implements Inventory by upserting an A record label -> address
// in the configured domain.
func (d *DigitalOceanInventory) AssignDNS(ctx context.Context, ip PublicIP, label string) error {
	if d.domain == "" {
		return fmt.Errorf("no DNS domain configured for label %s", label)
	}
	records, _, err := d.domains.Records(ctx, d.domain, &godo.ListOptions{PerPage: 200})
	if err != nil {
		return fmt.Errorf("list records: %w", err)
	}

	req := &godo.DomainRecordEditRequest{Type: "A", Name: label, Data: ip.Address, TTL: 300}
	for _, r := range records {
		if r.Type != "A" || r.Name != label {
			continue
		}
		if r.Data == ip.Address {
			return nil
		}
		if _, _, err := d.domains.EditRecord(ctx, d.domain, r.ID, req); err != nil {
			return fmt.Errorf("update record %s: %w", label, err)
		}
		d.logger.Info("updated A record", "name", label, "domain", d.domain, "address", ip.Address)
		return nil
	}

	if _, _, err := d.domains.CreateRecord(ctx, d.domain, req); err != nil {
		return fmt.Errorf("create record %s: %w", label, err)
	}
	d.logger.Info("created A record", "name", label, "domain", d.domain, "address", ip.Address)
	return nil
}
