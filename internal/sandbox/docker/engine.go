package docker

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/benchroom/benchroom/internal/sandbox"
	"github.com/benchroom/benchroom/pkg/container"
	"github.com/benchroom/benchroom/pkg/log"
	cerrdefs "github.com/containerd/errdefs"
	dockercontainer "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/pkg/errors"
)

type dockerEngine struct {
	backend dockerBackend
}

// NewEngine connects to the Docker daemon described by the standard
// DOCKER_* environment variables.
func NewEngine() (sandbox.Engine, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, errors.Wrap(err, "create docker client")
	}

	return &dockerEngine{backend: cli}, nil
}

// Launch creates and starts a sandbox container. A container that was
// created but failed to start is removed before returning.
func (e *dockerEngine) Launch(ctx context.Context, req *sandbox.LaunchRequest) (*sandbox.Sandbox, error) {
	if req.Pull {
		if err := e.pull(ctx, req.Image); err != nil {
			return nil, err
		}
	}

	exposed, bindings, err := nat.ParsePortSpecs(normalizePorts(req.Ports))
	if err != nil {
		return nil, errors.Wrap(err, "parse sandbox ports")
	}

	cfg := &dockercontainer.Config{
		Image:        req.Image,
		Cmd:          req.Command,
		Env:          formatEnv(req.Spec.Env),
		User:         req.Spec.User,
		WorkingDir:   req.Spec.WorkDir,
		ExposedPorts: exposed,
		Labels:       req.Labels,
	}

	hostCfg := &dockercontainer.HostConfig{
		PortBindings: bindings,
		Mounts:       convertMounts(req.Spec.Mounts),
	}

	log.Info("creating docker container", "image", req.Image, "name", req.Name)

	created, err := e.backend.ContainerCreate(ctx, cfg, hostCfg, nil, nil, req.Name)
	if err != nil {
		return nil, errors.Wrap(err, "create container")
	}

	log.Info("starting docker container", "image", req.Image, "id", created.ID)

	if err = e.backend.ContainerStart(ctx, created.ID, dockercontainer.StartOptions{}); err != nil {
		if rmErr := e.backend.ContainerRemove(ctx, created.ID, dockercontainer.RemoveOptions{Force: true}); rmErr != nil {
			log.Error("failed to remove unstarted container", "id", created.ID, "error", rmErr)
		}
		return nil, errors.Wrap(err, "start container")
	}

	return e.Inspect(ctx, created.ID)
}

// Inspect returns the current state of a sandbox container.
func (e *dockerEngine) Inspect(ctx context.Context, id string) (*sandbox.Sandbox, error) {
	resp, err := e.backend.ContainerInspect(ctx, id)
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return nil, errors.Wrap(sandbox.ErrNotFound, id)
		}
		return nil, errors.Wrapf(err, "inspect container %s", id)
	}
	if resp.ContainerJSONBase == nil {
		return nil, errors.Errorf("inspect container %s: empty response", id)
	}

	sb := &sandbox.Sandbox{
		ID:    resp.ID,
		Name:  strings.TrimPrefix(resp.Name, "/"),
		Ports: inspectPorts(resp),
	}
	if resp.State != nil {
		sb.State = state(resp.State.Status)
	} else {
		sb.State = sandbox.Invalid
	}
	if resp.Config != nil {
		sb.Labels = resp.Config.Labels
	}
	if t, err := time.Parse(time.RFC3339Nano, resp.Created); err == nil {
		sb.CreatedAt = t
	}

	return sb, nil
}

// Remove stops and deletes a sandbox container and its anonymous
// volumes. A stop failure does not prevent the forced removal.
func (e *dockerEngine) Remove(ctx context.Context, req *sandbox.RemoveRequest) error {
	log.Info("stopping docker container", "id", req.ID)

	timeout := int(req.Timeout.Seconds())
	if err := e.backend.ContainerStop(ctx, req.ID, dockercontainer.StopOptions{Timeout: &timeout}); err != nil {
		if cerrdefs.IsNotFound(err) {
			return errors.Wrap(sandbox.ErrNotFound, req.ID)
		}
		log.Warn("failed to stop docker container", "id", req.ID, "error", err)
	}

	log.Info("removing docker container", "id", req.ID)

	opts := dockercontainer.RemoveOptions{
		Force:         true,
		RemoveVolumes: true,
	}
	if err := e.backend.ContainerRemove(ctx, req.ID, opts); err != nil {
		if cerrdefs.IsNotFound(err) {
			return errors.Wrap(sandbox.ErrNotFound, req.ID)
		}
		return errors.Wrapf(err, "remove container %s", req.ID)
	}

	return nil
}

// List returns every container carrying the benchroom label,
// including stopped ones.
func (e *dockerEngine) List(ctx context.Context) ([]*sandbox.Sandbox, error) {
	opts := dockercontainer.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", sandbox.Label)),
	}

	containers, err := e.backend.ContainerList(ctx, opts)
	if err != nil {
		return nil, errors.Wrap(err, "list containers")
	}

	out := make([]*sandbox.Sandbox, 0, len(containers))
	for _, c := range containers {
		sb := &sandbox.Sandbox{
			ID:        c.ID,
			State:     state(c.State),
			Labels:    c.Labels,
			Ports:     make(map[string]int),
			CreatedAt: time.Unix(c.Created, 0).UTC(),
		}
		if len(c.Names) > 0 {
			sb.Name = strings.TrimPrefix(c.Names[0], "/")
		}
		for _, p := range c.Ports {
			if p.PublicPort > 0 {
				sb.Ports[fmt.Sprintf("%d/%s", p.PrivatePort, p.Type)] = int(p.PublicPort)
			}
		}
		out = append(out, sb)
	}

	return out, nil
}

func (e *dockerEngine) pull(ctx context.Context, ref string) error {
	log.Info("pulling docker image", "image", ref)

	r, err := e.backend.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return errors.Wrapf(err, "pull image %s", ref)
	}
	defer func() {
		if err := r.Close(); err != nil {
			log.Error("close docker pull reader", "error", err)
		}
	}()

	if _, err = io.Copy(io.Discard, r); err != nil {
		return errors.Wrapf(err, "pull image %s", ref)
	}

	log.Info("docker image pulled", "image", ref)

	return nil
}

// inspectPorts reads the runtime-assigned host ports, falling back to
// the requested bindings when the network settings are not populated
// yet.
func inspectPorts(resp dockercontainer.InspectResponse) map[string]int {
	ports := make(map[string]int)

	if resp.NetworkSettings != nil {
		collectPorts(ports, resp.NetworkSettings.Ports)
	}
	if len(ports) == 0 && resp.HostConfig != nil {
		collectPorts(ports, resp.HostConfig.PortBindings)
	}

	return ports
}

func collectPorts(dst map[string]int, pm nat.PortMap) {
	for port, bindings := range pm {
		for _, b := range bindings {
			hp, err := strconv.Atoi(b.HostPort)
			if err != nil || hp <= 0 {
				continue
			}
			dst[string(port)] = hp
			break
		}
	}
}

func normalizePorts(ports []string) []string {
	out := make([]string, 0, len(ports))
	for _, p := range ports {
		if p = sandbox.NormalizePort(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func formatEnv(values map[string]string) []string {
	if len(values) == 0 {
		return nil
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, fmt.Sprintf("%s=%s", k, values[k]))
	}
	return env
}

func convertMounts(specMounts []container.Mount) []mount.Mount {
	if len(specMounts) == 0 {
		return nil
	}
	result := make([]mount.Mount, 0, len(specMounts))
	for _, mnt := range specMounts {
		if mnt.Source == "" || mnt.Target == "" {
			continue
		}
		switch mnt.Type {
		case container.MountTypeBind, "":
			result = append(result, mount.Mount{
				Type:     mount.TypeBind,
				Source:   mnt.Source,
				Target:   mnt.Target,
				ReadOnly: mnt.ReadOnly,
			})
		}
	}
	return result
}
