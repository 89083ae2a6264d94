// Package ansible runs rendered playbooks against a single host.
package ansible

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/artpar/quickops/internal/shell/process"
)

// Config holds ansible-playbook configuration.
type Config struct {
	// Binary defaults to "ansible-playbook".
	Binary string
	// RemoteUser is passed as -u when set.
	RemoteUser string
	Env        []string
}

// Runner applies playbooks.
type Runner struct {
	config Config
	runner process.Runner
	logger *slog.Logger
}

// New creates a Runner.
func New(cfg Config, runner process.Runner, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Binary == "" {
		cfg.Binary = "ansible-playbook"
	}
	return &Runner{config: cfg, runner: runner, logger: logger.With("component", "ansible")}
}

// Apply runs playbookPath against the single host inventory, authenticating
// with the private key at secretPath. Host keys are not checked since the
// hosts are freshly provisioned. There is no retry.
func (r *Runner) Apply(ctx context.Context, inventory, secretPath, playbookPath string) error {
	args := []string{"-i", inventory + ",", "--private-key", secretPath}
	if r.config.RemoteUser != "" {
		args = append(args, "-u", r.config.RemoteUser)
	}
	args = append(args, filepath.Base(playbookPath))

	cmd := process.Command{
		Name: r.config.Binary,
		Args: args,
		Dir:  filepath.Dir(playbookPath),
		Env:  append([]string{"ANSIBLE_HOST_KEY_CHECKING=False"}, r.config.Env...),
	}

	r.logger.Info("applying playbook", "host", inventory, "playbook", filepath.Base(playbookPath))
	if _, err := process.Check(ctx, r.runner, cmd); err != nil {
		return fmt.Errorf("ansible-playbook %s: %w", filepath.Base(playbookPath), err)
	}
	return nil
}
