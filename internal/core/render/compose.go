package render

import (
	"fmt"
	"strconv"

	"github.com/compose-spec/compose-go/v2/types"
)

// FrontendPort is the container and host port of the frontend service.
const FrontendPort = 80

// workloads lists the frontend followed by the backends, in repo order.
func workloads(ctx PlaybookContext) []Service {
	all := make([]Service, 0, len(ctx.Backends)+1)
	if ctx.Frontend.Image != "" {
		all = append(all, ctx.Frontend)
	}
	return append(all, ctx.Backends...)
}

// ComposeManifest renders the docker-compose file a VM runs. Each backend
// publishes its derived port on the host and gets it as $PORT.
func ComposeManifest(ctx PlaybookContext) ([]byte, error) {
	services := types.Services{}
	for _, svc := range workloads(ctx) {
		port := strconv.Itoa(svc.Port)
		services[svc.Name] = types.ServiceConfig{
			Name:    svc.Name,
			Image:   svc.Image,
			Restart: types.RestartPolicyUnlessStopped,
			Ports: []types.ServicePortConfig{{
				Mode:      "ingress",
				Target:    uint32(svc.Port),
				Published: port,
				Protocol:  "tcp",
			}},
			Environment: types.MappingWithEquals{"PORT": &port},
		}
	}

	project := &types.Project{
		Name:     ctx.ProjectName,
		Services: services,
	}
	out, err := project.MarshalYAML()
	if err != nil {
		return nil, fmt.Errorf("marshal compose manifest: %w", err)
	}
	return out, nil
}
