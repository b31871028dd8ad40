// Package docker implements sandbox.Engine on top of the Docker API.
package docker

import (
	"context"
	"io"

	"github.com/benchroom/benchroom/internal/sandbox"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

var stateMap = map[string]sandbox.State{
	"created":    sandbox.Created,
	"running":    sandbox.Running,
	"paused":     sandbox.Invalid, // a sandbox should never be paused
	"restarting": sandbox.Invalid, // nor restarting
	"removing":   sandbox.Stopping,
	"exited":     sandbox.Stopped,
	"dead":       sandbox.Stopped,
}

type dockerBackend interface {
	ContainerInspect(context.Context, string) (container.InspectResponse, error)
	ContainerList(context.Context, container.ListOptions) ([]container.Summary, error)
	ContainerCreate(context.Context, *container.Config, *container.HostConfig, *network.NetworkingConfig, *ocispec.Platform, string) (container.CreateResponse, error)
	ContainerStart(context.Context, string, container.StartOptions) error
	ContainerStop(context.Context, string, container.StopOptions) error
	ContainerRemove(context.Context, string, container.RemoveOptions) error
	ImagePull(context.Context, string, image.PullOptions) (io.ReadCloser, error)
}

func state(status string) sandbox.State {
	if s, ok := stateMap[status]; ok {
		return s
	}
	return sandbox.Invalid
}
