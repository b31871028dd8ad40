package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/benchroom/benchroom/internal/repo"
	"github.com/benchroom/benchroom/internal/sandbox"
	"github.com/benchroom/benchroom/internal/timer"
	"github.com/pkg/errors"
)

type fakeEngine struct {
	mu          sync.Mutex
	next        int
	noPort      bool
	launchErr   error
	removeErr   error
	listErr     error
	inspectErrs map[string]error
	launched    []*sandbox.LaunchRequest
	removed     []string
	inspected   int
	sandboxes   map[string]*sandbox.Sandbox
	launchDelay time.Duration
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		sandboxes:   make(map[string]*sandbox.Sandbox),
		inspectErrs: make(map[string]error),
	}
}

func (e *fakeEngine) Launch(_ context.Context, req *sandbox.LaunchRequest) (*sandbox.Sandbox, error) {
	time.Sleep(e.launchDelay)

	e.mu.Lock()
	defer e.mu.Unlock()

	e.launched = append(e.launched, req)
	if e.launchErr != nil {
		return nil, e.launchErr
	}

	e.next++
	sb := &sandbox.Sandbox{
		ID:        fmt.Sprintf("ctr-%d", e.next),
		Name:      req.Name,
		State:     sandbox.Running,
		Labels:    req.Labels,
		Ports:     map[string]int{},
		CreatedAt: time.Now(),
	}
	if !e.noPort {
		for _, p := range req.Ports {
			sb.Ports[sandbox.NormalizePort(p)] = 32767 + e.next
		}
	}
	e.sandboxes[sb.ID] = sb

	copied := *sb
	return &copied, nil
}

func (e *fakeEngine) Inspect(_ context.Context, id string) (*sandbox.Sandbox, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.inspected++
	if err := e.inspectErrs[id]; err != nil {
		return nil, err
	}
	sb, ok := e.sandboxes[id]
	if !ok {
		return nil, sandbox.ErrNotFound
	}
	copied := *sb
	return &copied, nil
}

func (e *fakeEngine) Remove(_ context.Context, req *sandbox.RemoveRequest) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.removed = append(e.removed, req.ID)
	if e.removeErr != nil {
		return e.removeErr
	}
	if _, ok := e.sandboxes[req.ID]; !ok {
		return sandbox.ErrNotFound
	}
	delete(e.sandboxes, req.ID)
	return nil
}

func (e *fakeEngine) List(context.Context) ([]*sandbox.Sandbox, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.listErr != nil {
		return nil, e.listErr
	}
	out := make([]*sandbox.Sandbox, 0, len(e.sandboxes))
	for _, sb := range e.sandboxes {
		copied := *sb
		out = append(out, &copied)
	}
	return out, nil
}

func (e *fakeEngine) running() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sandboxes)
}

// fakeCloner materialises an empty workspace instead of cloning.
type fakeCloner struct {
	err      error
	requests []*repo.CloneRequest
}

func (c *fakeCloner) Clone(_ context.Context, req *repo.CloneRequest) (*repo.Checkout, error) {
	c.requests = append(c.requests, req)
	if c.err != nil {
		return nil, c.err
	}
	dir, err := filepath.Abs(req.Dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("starter"), 0o644); err != nil {
		return nil, err
	}
	return &repo.Checkout{Dir: dir, Commit: "0123456789abcdef0123456789abcdef01234567"}, nil
}

// failingTimers refuses every Start so the deferred path is taken.
type failingTimers struct {
	*timer.Registry
	deferred []string
}

func (f *failingTimers) Start(context.Context, string, timer.Type, time.Duration) (*timer.Status, error) {
	return nil, errors.New("timer store unavailable")
}

func (f *failingTimers) Defer(instanceID string, typ timer.Type, d time.Duration) {
	f.deferred = append(f.deferred, instanceID)
	f.Registry.Defer(instanceID, typ, d)
}
