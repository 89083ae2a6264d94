package cluster

import (
	"fmt"
	"log/slog"

	"github.com/artpar/quickops/internal/shell/process"
)

// Supported inventory backends.
const (
	CloudAzure        = "azure"
	CloudAWS          = "aws"
	CloudHetzner      = "hetzner"
	CloudDigitalOcean = "digitalocean"
)

// Config selects and configures the inventory backend.
type Config struct {
	Cloud        string // defaults to azure
	Azure        AzureConfig
	AWS          AWSConfig
	Hetzner      HetznerConfig
	DigitalOcean DigitalOceanConfig
}

// NewInventory creates the inventory backend named by cfg.Cloud.
func NewInventory(cfg Config, runner process.Runner, logger *slog.Logger) (Inventory, error) {
	switch cfg.Cloud {
	case "", CloudAzure:
		return NewAzureInventory(cfg.Azure, runner, logger), nil
	case CloudAWS:
		return NewAWSInventory(cfg.AWS, logger), nil
	case CloudHetzner:
		return NewHetznerInventory(cfg.Hetzner, logger), nil
	case CloudDigitalOcean:
		return NewDigitalOceanInventory(cfg.DigitalOcean, logger), nil
	default:
		return nil, fmt.Errorf("unsupported cloud: %s", cfg.Cloud)
	}
}
