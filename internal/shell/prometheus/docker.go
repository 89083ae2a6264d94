package prometheus

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/client"
)

// containerKiller is the subset of the Docker Engine API client used here.
type containerKiller interface {
	ContainerKill(ctx context.Context, containerID, signal string) error
}

// DockerReloader sends SIGHUP through the Docker Engine API, for hosts that
// expose a docker endpoint.
type DockerReloader struct {
	docker    containerKiller
	container string
	logger    *slog.Logger
}

// NewDockerReloader connects to the docker endpoint at host
// (e.g. "tcp://monitor:2376" or "ssh://ops@monitor").
func NewDockerReloader(host, container string, logger *slog.Logger) (*DockerReloader, error) {
	cli, err := client.NewClientWithOpts(
		client.FromEnv,
		client.WithHost(host),
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return newDockerReloader(cli, container, logger), nil
}

func newDockerReloader(docker containerKiller, container string, logger *slog.Logger) *DockerReloader {
	if logger == nil {
		logger = slog.Default()
	}
	if container == "" {
		container = DefaultContainerName
	}
	return &DockerReloader{docker: docker, container: container, logger: logger.With("component", "prometheus-docker")}
}

// Reload implements Reloader.
func (d *DockerReloader) Reload(ctx context.Context) error {
	if err := d.docker.ContainerKill(ctx, d.container, "SIGHUP"); err != nil {
		if errdefs.IsNotFound(err) {
			return fmt.Errorf("container %q not found: %w", d.container, err)
		}
		return fmt.Errorf("signal container %q: %w", d.container, err)
	}
	d.logger.Info("sent SIGHUP", "container", d.container)
	return nil
}
