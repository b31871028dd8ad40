// Package orchestrator owns the instance lifecycle: it links a ledger
// row to a running sandbox, an optional cloned workspace and a timer,
// and unwinds partial work when any fatal step fails.
package orchestrator

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/benchroom/benchroom/internal/event"
	"github.com/benchroom/benchroom/internal/keylock"
	"github.com/benchroom/benchroom/internal/metrics"
	"github.com/benchroom/benchroom/internal/models"
	"github.com/benchroom/benchroom/internal/repo"
	"github.com/benchroom/benchroom/internal/sandbox"
	"github.com/benchroom/benchroom/internal/timer"
	"github.com/benchroom/benchroom/pkg/log"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

var (
	ErrMissingTestID      = errors.New("test id is required")
	ErrTestNotFound       = errors.New("test not found")
	ErrCandidateNotFound  = errors.New("candidate not found")
	ErrInstanceNotFound   = errors.New("instance not found")
	ErrInstanceConflict   = errors.New("an instance already exists for this test and candidate")
	ErrMissingPort        = errors.New("sandbox has no assigned port")
	ErrInvalidInstanceRef = errors.New("invalid instance reference")
)

// Timers is the part of the timer registry the orchestrator drives.
type Timers interface {
	Start(ctx context.Context, instanceID string, typ timer.Type, d time.Duration) (*timer.Status, error)
	Defer(instanceID string, typ timer.Type, d time.Duration)
	Remove(ctx context.Context, instanceID string)
}

// Config holds the sandbox and workspace settings applied to every
// instance.
type Config struct {
	Image         string
	ContainerPort string
	MountTarget   string
	User          string
	Pull          bool
	ProjectsDir   string
	ServerURL     string

	PortWaitAttempts int
	PortWaitInterval time.Duration
	StopTimeout      time.Duration

	// ReconcileGrace shields freshly launched sandboxes, whose rows may
	// still be uncommitted, from orphan collection.
	ReconcileGrace time.Duration
}

func (c *Config) withDefaults() {
	if c.ContainerPort == "" {
		c.ContainerPort = "8080/tcp"
	}
	c.ContainerPort = sandbox.NormalizePort(c.ContainerPort)
	if c.MountTarget == "" {
		c.MountTarget = "/home/coder/project"
	}
	if c.ProjectsDir == "" {
		c.ProjectsDir = "projects"
	}
	if c.PortWaitAttempts <= 0 {
		c.PortWaitAttempts = 5
	}
	if c.PortWaitInterval <= 0 {
		c.PortWaitInterval = time.Second
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 10 * time.Second
	}
	if c.ReconcileGrace <= 0 {
		c.ReconcileGrace = 2 * time.Minute
	}
}

// Orchestrator creates and deletes instances.
type Orchestrator struct {
	cfg    Config
	db     *gorm.DB
	engine sandbox.Engine
	cloner repo.Cloner
	timers Timers
	bus    event.Bus
	locks  *keylock.Locker
	now    func() time.Time
	sleep  func(context.Context, time.Duration) error
}

func New(cfg Config, gdb *gorm.DB, engine sandbox.Engine, cloner repo.Cloner, timers Timers, bus event.Bus) *Orchestrator {
	cfg.withDefaults()
	if bus == nil {
		bus = event.Discard
	}
	return &Orchestrator{
		cfg:    cfg,
		db:     gdb,
		engine: engine,
		cloner: cloner,
		timers: timers,
		bus:    bus,
		locks:  keylock.New(),
		now:    time.Now,
		sleep:  sleep,
	}
}

// Get returns an instance with its Test and Candidate preloaded.
func (o *Orchestrator) Get(ctx context.Context, id uint) (*models.Instance, error) {
	inst := &models.Instance{}
	err := o.db.WithContext(ctx).
		Preload("Test").
		Preload("Candidate").
		First(inst, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInstanceNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get instance %d", id)
	}
	return inst, nil
}

// ListRequest filters List results.
type ListRequest struct {
	TestID      uint
	CandidateID uint
}

func (o *Orchestrator) List(ctx context.Context, req *ListRequest) (models.Instances, error) {
	var (
		instances = make(models.Instances, 0)
		q         = o.db.WithContext(ctx).Preload("Test").Preload("Candidate")
	)

	if req != nil {
		if req.TestID > 0 {
			q = q.Where("test_id = ?", req.TestID)
		}
		if req.CandidateID > 0 {
			q = q.Where("candidate_id = ?", req.CandidateID)
		}
	}

	if err := q.Order("id").Find(&instances).Error; err != nil {
		return nil, errors.Wrap(err, "list instances")
	}

	return instances, nil
}

// Detail is an instance together with the live state of its sandbox.
type Detail struct {
	*models.Instance
	Status    string `json:"status"`
	AccessURL string `json:"access_url,omitempty"`
}

const (
	StatusPending = "pending"
	StatusMissing = "missing"
	StatusError   = "error"
)

// ListWithDetails lists instances and inspects each sandbox. An
// inspection failure marks that instance with StatusError rather than
// failing the listing.
func (o *Orchestrator) ListWithDetails(ctx context.Context, req *ListRequest) ([]*Detail, error) {
	instances, err := o.List(ctx, req)
	if err != nil {
		return nil, err
	}

	details := make([]*Detail, 0, len(instances))
	for _, inst := range instances {
		details = append(details, o.detail(ctx, inst))
	}

	return details, nil
}

// GetWithDetails returns one instance with its live sandbox state.
func (o *Orchestrator) GetWithDetails(ctx context.Context, id uint) (*Detail, error) {
	inst, err := o.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return o.detail(ctx, inst), nil
}

func (o *Orchestrator) detail(ctx context.Context, inst *models.Instance) *Detail {
	d := &Detail{Instance: inst}
	if inst.Pending() {
		d.Status = StatusPending
		return d
	}

	sb, err := o.engine.Inspect(ctx, inst.ContainerRef)
	switch {
	case errors.Is(err, sandbox.ErrNotFound):
		d.Status = StatusMissing
	case err != nil:
		metrics.InspectFailuresTotal.Inc()
		log.Warn("failed to inspect sandbox", "instance_id", inst.ID, "container", inst.ContainerRef, "error", err)
		d.Status = StatusError
	default:
		d.Status = string(sb.State)
	}

	if inst.Port > 0 {
		d.AccessURL = "http://localhost:" + strconv.Itoa(inst.Port)
	}

	return d
}

// DeleteResult reports what a Delete removed.
type DeleteResult struct {
	InstanceID       uint   `json:"instance_id"`
	ContainerRef     string `json:"container_ref"`
	ContainerRemoved bool   `json:"container_removed"`
}

// Delete tears an instance down. ref is either the numeric instance ID
// or its container reference. Sandbox removal is best effort: a
// container that is already gone, or that the runtime refuses to
// remove, is logged and the ledger row is deleted regardless.
func (o *Orchestrator) Delete(ctx context.Context, ref string) (*DeleteResult, error) {
	inst, err := o.resolve(ctx, ref)
	if err != nil {
		return nil, err
	}

	result := &DeleteResult{InstanceID: inst.ID, ContainerRef: inst.ContainerRef}

	if !inst.Pending() {
		err := o.engine.Remove(ctx, &sandbox.RemoveRequest{ID: inst.ContainerRef, Timeout: o.cfg.StopTimeout})
		switch {
		case err == nil:
			result.ContainerRemoved = true
		case errors.Is(err, sandbox.ErrNotFound):
			log.Warn("sandbox already removed", "instance_id", inst.ID, "container", inst.ContainerRef)
		default:
			log.Error("failed to remove sandbox", "instance_id", inst.ID, "container", inst.ContainerRef, "error", err)
		}
	}

	err = o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("instance_id = ?", inst.ID).Delete(&models.Report{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Instance{}, inst.ID).Error
	})
	if err != nil {
		return nil, errors.Wrapf(err, "delete instance %d", inst.ID)
	}

	repo.Remove(inst.WorkspaceDir)
	o.timers.Remove(ctx, inst.Key())

	metrics.InstancesDeletedTotal.WithLabelValues(strconv.FormatBool(result.ContainerRemoved)).Inc()
	metrics.InstancesActive.Dec()
	o.bus.Publish(event.NewEvent(event.TypeInstanceDeleted, inst.Key(), result))
	log.Info("instance deleted", "instance_id", inst.ID, "container", inst.ContainerRef, "container_removed", result.ContainerRemoved)

	return result, nil
}

func (o *Orchestrator) resolve(ctx context.Context, ref string) (*models.Instance, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, ErrInvalidInstanceRef
	}

	var (
		inst = &models.Instance{}
		q    = o.db.WithContext(ctx)
	)

	if id, err := strconv.ParseUint(ref, 10, 64); err == nil {
		q = q.Where("id = ?", id)
	} else {
		q = q.Where("container_ref = ?", ref)
	}

	err := q.First(inst).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInstanceNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "find instance %q", ref)
	}

	return inst, nil
}

// ReconcileReport summarises one Reconcile pass.
type ReconcileReport struct {
	Instances int      `json:"instances"`
	Sandboxes int      `json:"sandboxes"`
	Orphans   []string `json:"orphans,omitempty"`
	Missing   []uint   `json:"missing,omitempty"`
}

// Reconcile compares the ledger with the sandboxes the runtime reports.
// Labelled sandboxes without a ledger row are removed once older than
// the grace period. Rows whose sandbox is gone are reported but kept,
// since the ledger is authoritative and deletion is an explicit act.
func (o *Orchestrator) Reconcile(ctx context.Context) (*ReconcileReport, error) {
	sandboxes, err := o.engine.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list sandboxes")
	}

	var instances models.Instances
	if err := o.db.WithContext(ctx).Find(&instances).Error; err != nil {
		return nil, errors.Wrap(err, "list instances")
	}

	report := &ReconcileReport{Instances: len(instances), Sandboxes: len(sandboxes)}
	metrics.InstancesActive.Set(float64(len(instances)))

	known := make(map[string]*models.Instance, len(instances))
	for _, inst := range instances {
		known[inst.Key()] = inst
	}

	running := make(map[string]bool, len(sandboxes))
	for _, sb := range sandboxes {
		running[sb.ID] = true

		if _, ok := known[sb.Labels[sandbox.Label]]; ok {
			continue
		}
		if o.now().Sub(sb.CreatedAt) < o.cfg.ReconcileGrace {
			continue
		}

		log.Warn("removing orphaned sandbox", "container", sb.ID, "name", sb.Name, "label", sb.Labels[sandbox.Label])
		if err := o.engine.Remove(ctx, &sandbox.RemoveRequest{ID: sb.ID, Timeout: o.cfg.StopTimeout}); err != nil && !errors.Is(err, sandbox.ErrNotFound) {
			log.Error("failed to remove orphaned sandbox", "container", sb.ID, "error", err)
			continue
		}
		report.Orphans = append(report.Orphans, sb.ID)
	}

	for _, inst := range instances {
		if inst.Pending() || running[inst.ContainerRef] {
			continue
		}
		log.Warn("instance sandbox missing", "instance_id", inst.ID, "container", inst.ContainerRef)
		report.Missing = append(report.Missing, inst.ID)
	}

	return report, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
