package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/artpar/quickops/internal/shell/process"
)

// AzureConfig configures the az CLI inventory.
type AzureConfig struct {
	Binary         string // defaults to "az"
	ResourceGroup  string
	SubscriptionID string
	TenantID       string
	ClientID       string
	ClientSecret   string
	// CloudName selects a sovereign or Azure Stack cloud registered with
	// `az cloud register`, e.g. "AzureStackCloud". Empty keeps the default.
	CloudName string
}

// AzureInventory implements Inventory with the az CLI.
type AzureInventory struct {
	config AzureConfig
	runner process.Runner
	logger *slog.Logger

	loginMu  sync.Mutex
	loggedIn bool
}

// NewAzureInventory creates an AzureInventory.
func NewAzureInventory(cfg AzureConfig, runner process.Runner, logger *slog.Logger) *AzureInventory {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Binary == "" {
		cfg.Binary = "az"
	}
	return &AzureInventory{config: cfg, runner: runner, logger: logger.With("provider", "azure")}
}

// login signs in with the service principal once. Without a client id the
// ambient az session is used.
func (a *AzureInventory) login(ctx context.Context) error {
	a.loginMu.Lock()
	defer a.loginMu.Unlock()
	if a.loggedIn || a.config.ClientID == "" {
		return nil
	}

	if a.config.CloudName != "" {
		if _, err := a.az(ctx, "cloud", "set", "--name", a.config.CloudName); err != nil {
			return err
		}
	}
	if _, err := a.az(ctx, "login", "--service-principal",
		"--username", a.config.ClientID,
		"--password", a.config.ClientSecret,
		"--tenant", a.config.TenantID,
		"--output", "none"); err != nil {
		return err
	}
	if a.config.SubscriptionID != "" {
		if _, err := a.az(ctx, "account", "set", "--subscription", a.config.SubscriptionID); err != nil {
			return err
		}
	}
	a.loggedIn = true
	return nil
}

// ResourcesExist implements Inventory. A failing query is treated as "no
// resources" so a fresh resource group does not block the first launch.
func (a *AzureInventory) ResourcesExist(ctx context.Context, pattern string) (bool, error) {
	if err := a.login(ctx); err != nil {
		return false, fmt.Errorf("az login: %w", err)
	}
	out, err := a.az(ctx, "resource", "list",
		"--resource-group", a.config.ResourceGroup,
		"--query", fmt.Sprintf("[?contains(name, '%s')].name", pattern),
		"--output", "tsv")
	if err != nil {
		a.logger.Warn("resource query failed, assuming none exist", "pattern", pattern, "error", err)
		return false, nil
	}
	return strings.TrimSpace(string(out)) != "", nil
}

// ListPublicIPs implements Inventory.
func (a *AzureInventory) ListPublicIPs(ctx context.Context, pattern string) ([]PublicIP, error) {
	if err := a.login(ctx); err != nil {
		return nil, fmt.Errorf("az login: %w", err)
	}
	out, err := a.az(ctx, "network", "public-ip", "list",
		"--resource-group", a.config.ResourceGroup,
		"--query", fmt.Sprintf("[?contains(name, '%s')].{id:id, name:name, address:ipAddress, tags:tags}", pattern),
		"--output", "json")
	if err != nil {
		return nil, err
	}

	var raw []struct {
		ID      string            `json:"id"`
		Name    string            `json:"name"`
		Address string            `json:"address"`
		Tags    map[string]string `json:"tags"`
	}
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, fmt.Errorf("decode public IPs: %w", err)
	}

	ips := make([]PublicIP, 0, len(raw))
	for _, r := range raw {
		ips = append(ips, PublicIP{ID: r.ID, Name: r.Name, Address: r.Address, Tags: r.Tags})
	}
	return ips, nil
}

// AssignDNS implements Inventory by setting the public IP's DNS label, which
// Azure publishes as <label>.<region>.cloudapp.azure.com.
func (a *AzureInventory) AssignDNS(ctx context.Context, ip PublicIP, label string) error {
	if err := a.login(ctx); err != nil {
		return fmt.Errorf("az login: %w", err)
	}
	_, err := a.az(ctx, "network", "public-ip", "update",
		"--ids", ip.ID,
		"--dns-name", label,
		"--output", "none")
	if err != nil {
		return err
	}
	a.logger.Info("assigned dns label", "ip", ip.Name, "label", label)
	return nil
}

func (a *AzureInventory) az(ctx context.Context, args ...string) ([]byte, error) {
	return process.Check(ctx, a.runner, process.Command{Name: a.config.Binary, Args: args})
}
