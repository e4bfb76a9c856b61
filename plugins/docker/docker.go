// Package docker implements the Docker collector: an entityd_emit_entities
// plugin reporting every container on the local Docker daemon as a
// Docker:Container entity, parented to a synthetic Docker:Daemon entity.
//
// Grounded on original_source/entityd/docker/container.py's
// DockerContainer.entityd_emit_entities, using docker/docker's client the
// way agent_docker_operations.go lists and inspects containers.
package docker

import (
	"context"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"

	"github.com/cobeio/entityd-sub000/internal/entity"
)

const (
	containerType = "Docker:Container"
	daemonType    = "Docker:Daemon"
)

// Plugin implements hookspec.EntityEmitter for Docker containers.
type Plugin struct {
	cli *client.Client
}

// New creates a Docker collector. It is a no-op plugin (EmitEntities
// returns nothing) if a daemon isn't reachable at construction time —
// matching DockerClient.client_available()'s "skip silently" behaviour.
func New() *Plugin {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return &Plugin{}
	}
	return &Plugin{cli: cli}
}

// EmitEntities lists every container known to the daemon and returns one
// Docker:Container update per container, parented to a daemon update
// derived from the daemon's own ID.
func (p *Plugin) EmitEntities() ([]*entity.Update, error) {
	if p.cli == nil {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	info, err := p.cli.Info(ctx)
	if err != nil {
		return nil, nil
	}
	daemonUEID := daemonUEID(info.ID)

	containers, err := p.cli.ContainerList(ctx, types.ContainerListOptions{All: true})
	if err != nil {
		return nil, nil
	}

	updates := make([]*entity.Update, 0, len(containers))
	for _, c := range containers {
		u := entity.New(containerType)
		u.Attrs().Set("id", c.ID, entity.TraitID)
		u.SetLabel(containerName(c.Names))
		u.Attrs().Set("name", containerName(c.Names))
		u.Attrs().Set("state:status", c.State)
		u.Attrs().Set("image:name", c.Image)
		u.Attrs().Set("image:id", c.ImageID)
		u.Parents().AddUEID(daemonUEID)
		for _, net := range c.NetworkSettings.Networks {
			u.Parents().AddUEID(dockerResourceUEID("Docker:Network", net.NetworkID))
		}
		updates = append(updates, u)
	}
	return updates, nil
}

func containerName(names []string) string {
	if len(names) == 0 {
		return ""
	}
	name := names[0]
	if len(name) > 0 && name[0] == '/' {
		return name[1:]
	}
	return name
}

func daemonUEID(id string) entity.UEID {
	return dockerResourceUEID(daemonType, id)
}

// dockerResourceUEID derives the UEID a same-typed entity update carrying
// only the id attribute would have, without constructing the full update.
func dockerResourceUEID(metype, id string) entity.UEID {
	u := entity.New(metype)
	u.Attrs().Set("id", id, entity.TraitID)
	return u.UEID()
}
