package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/benchroom/benchroom/internal/event"
	"github.com/benchroom/benchroom/internal/metrics"
	"github.com/benchroom/benchroom/internal/models"
	"github.com/benchroom/benchroom/internal/repo"
	"github.com/benchroom/benchroom/internal/sandbox"
	"github.com/benchroom/benchroom/internal/timer"
	"github.com/benchroom/benchroom/pkg/container"
	"github.com/benchroom/benchroom/pkg/log"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// CreateRequest asks for a sandbox for a Test, optionally bound to a
// Candidate. RepoURL and RepoToken override the Test's stored source
// repository; the token may be a secret:// reference.
type CreateRequest struct {
	TestID      uint   `json:"testId"`
	CandidateID *uint  `json:"candidateId,omitempty"`
	RepoURL     string `json:"githubUrl,omitempty"`
	RepoToken   string `json:"githubToken,omitempty"`
	RepoRef     string `json:"githubRef,omitempty"`
}

// Create provisions one instance in its own scope.
func (o *Orchestrator) Create(ctx context.Context, req *CreateRequest) (*models.Instance, error) {
	var inst *models.Instance

	err := o.observe(func() error {
		return o.Scope(ctx, func(s *Scope) error {
			var err error
			inst, err = o.CreateIn(ctx, s, req)
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	return inst, nil
}

// CreateBatch provisions every request in a single scope. Either all
// instances are created or none are, and every sandbox and workspace
// made along the way is removed on failure.
func (o *Orchestrator) CreateBatch(ctx context.Context, reqs []*CreateRequest) (models.Instances, error) {
	instances := make(models.Instances, 0, len(reqs))

	err := o.observe(func() error {
		return o.Scope(ctx, func(s *Scope) error {
			for i, req := range reqs {
				inst, err := o.CreateIn(ctx, s, req)
				if err != nil {
					return errors.Wrapf(err, "batch item %d", i)
				}
				instances = append(instances, inst)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return instances, nil
}

func (o *Orchestrator) observe(fn func() error) error {
	start := o.now()
	err := fn()

	result := "succeeded"
	if err != nil {
		result = "failed"
	}
	metrics.InstancesCreatedTotal.WithLabelValues(result).Inc()
	metrics.InstanceCreateDurationSeconds.WithLabelValues(result).Observe(o.now().Sub(start).Seconds())

	return err
}

// CreateIn provisions one instance inside the caller's scope. The
// instance timer starts only after the whole scope succeeds.
func (o *Orchestrator) CreateIn(ctx context.Context, s *Scope, req *CreateRequest) (*models.Instance, error) {
	if req == nil || req.TestID == 0 {
		return nil, ErrMissingTestID
	}

	if req.CandidateID != nil {
		release, ok := o.locks.TryLock(pairKey(req.TestID, *req.CandidateID))
		if !ok {
			return nil, ErrInstanceConflict
		}
		s.hold(release)
	}

	db := s.DB()

	test := &models.Test{}
	if err := db.First(test, req.TestID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTestNotFound
		}
		return nil, errors.Wrapf(err, "load test %d", req.TestID)
	}

	if err := o.checkCandidate(db, req); err != nil {
		return nil, err
	}

	url, token := strings.TrimSpace(req.RepoURL), strings.TrimSpace(req.RepoToken)
	if url == "" {
		url = test.GithubRepo
	}
	if token == "" {
		token = test.GithubToken
	}

	var workspace string
	if url != "" {
		dir := filepath.Join(o.cfg.ProjectsDir, uuid.NewString())
		checkout, err := o.cloner.Clone(ctx, &repo.CloneRequest{URL: url, Token: token, Ref: req.RepoRef, Dir: dir})
		if err != nil {
			return nil, errors.Wrap(err, "clone repository")
		}
		workspace = checkout.Dir
		s.Compensate(func(context.Context) { repo.Remove(workspace) })
	}

	inst := &models.Instance{
		TestID:       test.ID,
		CandidateID:  req.CandidateID,
		ContainerRef: models.PendingContainerRef,
		WorkspaceDir: workspace,
	}
	if err := db.Create(inst).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrInstanceConflict
		}
		return nil, errors.Wrap(err, "insert pending instance")
	}
	s.Compensate(func(ctx context.Context) { o.forget(ctx, inst.ID) })

	launch, err := o.launchRequest(inst, test, url, workspace)
	if err != nil {
		return nil, err
	}

	sb, err := o.engine.Launch(ctx, launch)
	if err != nil {
		return nil, errors.Wrap(err, "launch sandbox")
	}
	s.Compensate(func(ctx context.Context) { o.discard(ctx, sb.ID) })

	port, err := o.waitForPort(ctx, sb)
	if err != nil {
		return nil, err
	}

	inst.ContainerRef = sb.ID
	inst.Port = port

	var assigned bool
	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(inst).Updates(map[string]interface{}{
			"container_ref": inst.ContainerRef,
			"port":          inst.Port,
		}).Error; err != nil {
			return errors.Wrapf(err, "record sandbox for instance %d", inst.ID)
		}

		ok, err := o.assign(tx, test, req.CandidateID)
		assigned = ok
		return err
	})
	if err != nil {
		return nil, err
	}
	if assigned {
		test.CandidatesAssigned++
		s.Compensate(func(ctx context.Context) { o.unassign(ctx, test.ID, *req.CandidateID) })
	}

	inst.Test = test
	s.OnCommit(func(ctx context.Context) { o.created(ctx, inst, test) })

	log.Info("instance provisioned", "instance_id", inst.ID, "test_id", test.ID, "container", sb.ID, "port", port)

	return inst, nil
}

func (o *Orchestrator) checkCandidate(db *gorm.DB, req *CreateRequest) error {
	if req.CandidateID == nil {
		return nil
	}

	var count int64
	if err := db.Model(&models.Candidate{}).Where("id = ?", *req.CandidateID).Count(&count).Error; err != nil {
		return errors.Wrap(err, "load candidate")
	}
	if count == 0 {
		return ErrCandidateNotFound
	}

	if err := db.Model(&models.Instance{}).
		Where("test_id = ? AND candidate_id = ?", req.TestID, *req.CandidateID).
		Count(&count).Error; err != nil {
		return errors.Wrap(err, "check existing instance")
	}
	if count > 0 {
		return ErrInstanceConflict
	}

	return nil
}

// assign records the test/candidate pairing the first time it is seen
// and reports whether it did.
func (o *Orchestrator) assign(tx *gorm.DB, test *models.Test, candidateID *uint) (bool, error) {
	if candidateID == nil {
		return false, nil
	}

	tc := &models.TestCandidate{TestID: test.ID, CandidateID: *candidateID}
	res := tx.Where(tc).FirstOrCreate(tc)
	if res.Error != nil {
		return false, errors.Wrap(res.Error, "assign candidate")
	}
	if res.RowsAffected == 0 {
		return false, nil
	}

	if err := tx.Model(&models.Test{}).Where("id = ?", test.ID).
		UpdateColumn("candidates_assigned", gorm.Expr("candidates_assigned + ?", 1)).Error; err != nil {
		return false, errors.Wrap(err, "increment candidates assigned")
	}

	return true, nil
}

// unassign reverts assign for a create that failed later in its scope.
func (o *Orchestrator) unassign(ctx context.Context, testID, candidateID uint) {
	err := o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("test_id = ? AND candidate_id = ?", testID, candidateID).
			Delete(&models.TestCandidate{}).Error; err != nil {
			return err
		}
		return tx.Model(&models.Test{}).Where("id = ? AND candidates_assigned > 0", testID).
			UpdateColumn("candidates_assigned", gorm.Expr("candidates_assigned - ?", 1)).Error
	})
	if err != nil {
		log.Error("failed to revert candidate assignment", "test_id", testID, "candidate_id", candidateID, "error", err)
	}
}

// forget deletes the row of an instance whose create failed.
func (o *Orchestrator) forget(ctx context.Context, id uint) {
	if err := o.db.WithContext(ctx).Delete(&models.Instance{}, id).Error; err != nil {
		log.Error("failed to delete instance row during rollback", "instance_id", id, "error", err)
	}
}

func (o *Orchestrator) launchRequest(inst *models.Instance, test *models.Test, repoURL, workspace string) (*sandbox.LaunchRequest, error) {
	id := inst.Key()

	spec := container.Spec{User: o.cfg.User}
	spec.SetEnv("INSTANCE_ID", id)
	spec.SetEnv("INITIAL_PROMPT", test.InitialPrompt)
	spec.SetEnv("FINAL_PROMPT", test.FinalPrompt)
	spec.SetEnv("ASSESSMENT_PROMPT", test.AssessmentPrompt)
	spec.SetEnv("GITHUB_REPO", repoURL)
	spec.SetEnv("DOCKER_USER", o.cfg.User)
	spec.SetEnv("TIMER_ENABLED", strconv.FormatBool(test.EnableTimer))
	spec.SetEnv("TIMER_DURATION", strconv.Itoa(test.TimerDuration))
	spec.SetEnv("PROJECT_TIMER_ENABLED", strconv.FormatBool(test.EnableProjectTimer))
	spec.SetEnv("PROJECT_TIMER_DURATION", strconv.Itoa(test.ProjectTimerDuration))
	spec.SetEnv("INITIAL_QUESTION_BUDGET", strconv.Itoa(test.InitialBudget()))
	spec.SetEnv("FINAL_QUESTION_BUDGET", strconv.Itoa(test.FinalBudget()))
	spec.SetEnv("BENCHROOM_SERVER_URL", o.cfg.ServerURL)

	if workspace != "" {
		if err := spec.Bind(workspace, o.cfg.MountTarget); err != nil {
			return nil, errors.Wrapf(err, "bind workspace %s", workspace)
		}
	}

	return &sandbox.LaunchRequest{
		Name:   containerName(inst),
		Image:  o.cfg.Image,
		Spec:   spec,
		Ports:  []string{o.cfg.ContainerPort},
		Labels: map[string]string{sandbox.Label: id},
		Pull:   o.cfg.Pull,
	}, nil
}

// waitForPort polls the runtime until the published port appears.
func (o *Orchestrator) waitForPort(ctx context.Context, sb *sandbox.Sandbox) (int, error) {
	for attempt := 1; ; attempt++ {
		if port, ok := sb.HostPort(o.cfg.ContainerPort); ok {
			return port, nil
		}
		if attempt >= o.cfg.PortWaitAttempts {
			return 0, errors.Wrapf(ErrMissingPort, "container %s port %s", sb.ID, o.cfg.ContainerPort)
		}

		if err := o.sleep(ctx, o.cfg.PortWaitInterval); err != nil {
			return 0, err
		}

		latest, err := o.engine.Inspect(ctx, sb.ID)
		if err != nil {
			return 0, errors.Wrapf(err, "inspect container %s", sb.ID)
		}
		sb = latest
	}
}

// created runs once the instance row is committed. A failed timer
// start does not fail the create; it is deferred and retried on the
// next status read.
func (o *Orchestrator) created(ctx context.Context, inst *models.Instance, test *models.Test) {
	id := inst.Key()

	metrics.InstancesActive.Inc()
	o.bus.Publish(event.NewEvent(event.TypeInstanceCreated, id, inst))

	if !test.EnableTimer {
		return
	}

	d := test.InitialTimer()
	st, err := o.timers.Start(ctx, id, timer.TypeInitial, d)
	if err != nil {
		log.Error("failed to start instance timer", "instance_id", id, "error", err)
		o.timers.Defer(id, timer.TypeInitial, d)
		return
	}

	o.bus.Publish(event.NewEvent(event.TypeTimerStarted, id, st))
}

func (o *Orchestrator) discard(ctx context.Context, id string) {
	err := o.engine.Remove(ctx, &sandbox.RemoveRequest{ID: id, Timeout: o.cfg.StopTimeout})
	if err != nil && !errors.Is(err, sandbox.ErrNotFound) {
		log.Error("failed to remove sandbox during rollback", "container", id, "error", err)
	}
}

func pairKey(testID, candidateID uint) string {
	return fmt.Sprintf("%d/%d", testID, candidateID)
}

func containerName(inst *models.Instance) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	if inst.CandidateID == nil {
		return fmt.Sprintf("benchroom-test-%d-admin-%d-%s", inst.TestID, inst.ID, suffix)
	}
	return fmt.Sprintf("benchroom-test-%d-candidate-%d-%d-%s", inst.TestID, *inst.CandidateID, inst.ID, suffix)
}
