package prometheus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/artpar/quickops/internal/core/monitoring"
)

// Defaults for the monitoring host layout.
const (
	DefaultTargetsPath   = "/etc/prometheus/quickops-targets.json"
	DefaultContainerName = "prometheus"
)

// Reloader makes Prometheus re-read its file_sd targets.
type Reloader interface {
	Reload(ctx context.Context) error
}

// Config configures the target registry.
type Config struct {
	TargetsPath   string
	ContainerName string
}

// Registry reads and writes the target file on the monitoring host.
type Registry struct {
	exec     Executor
	reloader Reloader
	config   Config
	logger   *slog.Logger
}

// NewRegistry creates a Registry. A nil reloader signals the container
// through exec.
func NewRegistry(exec Executor, reloader Reloader, cfg Config, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TargetsPath == "" {
		cfg.TargetsPath = DefaultTargetsPath
	}
	if cfg.ContainerName == "" {
		cfg.ContainerName = DefaultContainerName
	}
	if reloader == nil {
		reloader = &SSHReloader{exec: exec, container: cfg.ContainerName}
	}
	return &Registry{
		exec:     exec,
		reloader: reloader,
		config:   cfg,
		logger:   logger.With("component", "prometheus"),
	}
}

// FetchTargets returns the current target groups. A missing file is an
// empty list.
func (r *Registry) FetchTargets(ctx context.Context) ([]monitoring.TargetGroup, error) {
	path := shellQuote(r.config.TargetsPath)
	out, err := r.exec.Exec(ctx, fmt.Sprintf("if [ -f %s ]; then cat %s; fi", path, path), nil)
	if err != nil {
		return nil, fmt.Errorf("read targets: %w", err)
	}
	if len(bytes.TrimSpace(out)) == 0 {
		return []monitoring.TargetGroup{}, nil
	}

	var groups []monitoring.TargetGroup
	if err := json.Unmarshal(out, &groups); err != nil {
		return nil, fmt.Errorf("decode targets %s: %w", r.config.TargetsPath, err)
	}
	return groups, nil
}

// PushTargets replaces the target file. The write goes through a temp file
// so Prometheus never reads a partial list.
func (r *Registry) PushTargets(ctx context.Context, groups []monitoring.TargetGroup) error {
	if groups == nil {
		groups = []monitoring.TargetGroup{}
	}
	data, err := json.MarshalIndent(groups, "", "  ")
	if err != nil {
		return fmt.Errorf("encode targets: %w", err)
	}

	path := shellQuote(r.config.TargetsPath)
	tmp := shellQuote(r.config.TargetsPath + ".tmp")
	cmd := fmt.Sprintf("cat > %s && mv %s %s", tmp, tmp, path)
	if _, err := r.exec.Exec(ctx, cmd, append(data, '\n')); err != nil {
		return fmt.Errorf("write targets: %w", err)
	}
	r.logger.Info("pushed scrape targets", "groups", len(groups))
	return nil
}

// Reload signals Prometheus to pick up the new targets.
func (r *Registry) Reload(ctx context.Context) error {
	if err := r.reloader.Reload(ctx); err != nil {
		return fmt.Errorf("reload prometheus: %w", err)
	}
	return nil
}

// SSHReloader sends SIGHUP with the docker CLI on the monitoring host.
type SSHReloader struct {
	exec      Executor
	container string
}

// NewSSHReloader creates an SSHReloader.
func NewSSHReloader(exec Executor, container string) *SSHReloader {
	if container == "" {
		container = DefaultContainerName
	}
	return &SSHReloader{exec: exec, container: container}
}

// Reload implements Reloader.
func (s *SSHReloader) Reload(ctx context.Context) error {
	_, err := s.exec.Exec(ctx, "docker kill --signal=SIGHUP "+shellQuote(s.container), nil)
	return err
}

// shellQuote wraps s in single quotes for a POSIX shell.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
