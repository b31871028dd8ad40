// Package sandbox defines the runtime-agnostic view of the isolated
// containers that host candidate workspaces.
package sandbox

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/benchroom/benchroom/pkg/container"
	"github.com/pkg/errors"
)

// Label marks containers managed by benchroom. Its value is the
// instance ID the container belongs to.
const Label = "io.benchroom.instance"

// ErrNotFound is returned when the runtime has no such container.
var ErrNotFound = errors.New("sandbox not found")

// State is the lifecycle state of a sandbox as reported by the runtime.
type State string

const (
	Created  State = "created"
	Running  State = "running"
	Stopping State = "stopping"
	Stopped  State = "stopped"
	// Invalid covers states a sandbox should never reach, such as
	// paused or restarting.
	Invalid State = "invalid"
)

// Sandbox is a snapshot of one container.
// Ports maps a container port such as "8080/tcp" to its host port.
type Sandbox struct {
	ID        string
	Name      string
	State     State
	Labels    map[string]string
	Ports     map[string]int
	CreatedAt time.Time
}

// HostPort returns the host port bound to containerPort. A bare port
// number is treated as TCP.
func (s *Sandbox) HostPort(containerPort string) (int, bool) {
	if s == nil {
		return 0, false
	}
	p, ok := s.Ports[NormalizePort(containerPort)]
	return p, ok && p > 0
}

// Engine launches, inspects and removes sandboxes.
type Engine interface {
	Launch(ctx context.Context, req *LaunchRequest) (*Sandbox, error)
	Inspect(ctx context.Context, id string) (*Sandbox, error)
	Remove(ctx context.Context, req *RemoveRequest) error
	List(ctx context.Context) ([]*Sandbox, error)
}

// LaunchRequest describes a sandbox to create and start. Ports are
// container ports to publish on a runtime-assigned host port.
type LaunchRequest struct {
	Name    string
	Image   string
	Command []string
	Spec    container.Spec
	Ports   []string
	Labels  map[string]string
	Pull    bool
}

// RemoveRequest describes a sandbox to stop and delete.
type RemoveRequest struct {
	ID      string
	Timeout time.Duration
}

// NormalizePort returns port in "<number>/<proto>" form.
func NormalizePort(port string) string {
	port = strings.TrimSpace(port)
	if port == "" || strings.Contains(port, "/") {
		return port
	}
	if _, err := strconv.Atoi(port); err != nil {
		return port
	}
	return port + "/tcp"
}
