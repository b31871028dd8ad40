package orchestrator

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/benchroom/benchroom/internal/event"
	"github.com/benchroom/benchroom/internal/models"
	"github.com/benchroom/benchroom/internal/sandbox"
	"github.com/benchroom/benchroom/internal/timer"
	"github.com/benchroom/benchroom/pkg/db"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm"
)

type OrchestratorTestSuite struct {
	suite.Suite
	ctx      context.Context
	db       *gorm.DB
	engine   *fakeEngine
	cloner   *fakeCloner
	timers   *timer.Registry
	bus      event.Bus
	orch     *Orchestrator
	projects string
	test     *models.Test
	cand     *models.Candidate
}

func TestOrchestratorTestSuite(t *testing.T) {
	suite.Run(t, new(OrchestratorTestSuite))
}

func (s *OrchestratorTestSuite) SetupTest() {
	s.ctx = context.Background()

	gdb, err := db.Open("sqlite", "file:orch_"+uuid.NewString()+"?mode=memory&cache=shared")
	s.Require().NoError(err)
	s.Require().NoError(db.Migrate(gdb))
	s.db = gdb

	s.engine = newFakeEngine()
	s.cloner = &fakeCloner{}
	s.bus = event.New()
	s.projects = s.T().TempDir()

	s.timers, err = timer.NewRegistry(s.ctx, timer.NewMemoryStore())
	s.Require().NoError(err)

	s.orch = s.newOrchestrator(s.timers)

	s.test = &models.Test{
		Name:                  "backend",
		InitialPrompt:         "You are interviewing a backend candidate.",
		FinalPrompt:           "Review the candidate's project.",
		AssessmentPrompt:      "Grade the submission.",
		InitialQuestionBudget: 4,
		EnableTimer:           true,
		TimerDuration:         600,
		EnableProjectTimer:    true,
		ProjectTimerDuration:  3600,
		GithubRepo:            "https://github.com/acme/starter.git",
		GithubToken:           "secret://env/ACME_TOKEN",
	}
	s.Require().NoError(s.db.Create(s.test).Error)

	s.cand = &models.Candidate{ID: 7, Name: "Ada", Email: "ada@example.com"}
	s.Require().NoError(s.db.Create(s.cand).Error)
}

func (s *OrchestratorTestSuite) TearDownTest() {
	if sqlDB, err := s.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func (s *OrchestratorTestSuite) newOrchestrator(timers Timers) *Orchestrator {
	o := New(Config{
		Image:            "benchroom/code-server:test",
		ContainerPort:    "8080",
		User:             "coder",
		ProjectsDir:      s.projects,
		ServerURL:        "http://benchroom:8080",
		PortWaitAttempts: 3,
		PortWaitInterval: time.Millisecond,
	}, s.db, s.engine, s.cloner, timers, s.bus)
	o.sleep = func(context.Context, time.Duration) error { return nil }
	return o
}

func (s *OrchestratorTestSuite) request() *CreateRequest {
	id := s.cand.ID
	return &CreateRequest{TestID: s.test.ID, CandidateID: &id}
}

func (s *OrchestratorTestSuite) count(model interface{}) int64 {
	var n int64
	s.Require().NoError(s.db.Model(model).Count(&n).Error)
	return n
}

func (s *OrchestratorTestSuite) TestCreateProvisionsInstance() {
	inst, err := s.orch.Create(s.ctx, s.request())
	s.Require().NoError(err)

	s.NotZero(inst.ID)
	s.Equal("ctr-1", inst.ContainerRef)
	s.Equal(32768, inst.Port)
	s.DirExists(inst.WorkspaceDir)
	s.Equal(s.projects, filepath.Dir(inst.WorkspaceDir))

	s.Require().Len(s.cloner.requests, 1)
	s.Equal("https://github.com/acme/starter.git", s.cloner.requests[0].URL)
	s.Equal("secret://env/ACME_TOKEN", s.cloner.requests[0].Token)

	s.Require().Len(s.engine.launched, 1)
	launch := s.engine.launched[0]
	s.Equal("benchroom/code-server:test", launch.Image)
	s.Equal([]string{"8080/tcp"}, launch.Ports)
	s.Equal(inst.Key(), launch.Labels[sandbox.Label])
	s.Equal(inst.Key(), launch.Spec.Env["INSTANCE_ID"])
	s.Equal(s.test.InitialPrompt, launch.Spec.Env["INITIAL_PROMPT"])
	s.Equal(s.test.FinalPrompt, launch.Spec.Env["FINAL_PROMPT"])
	s.Equal(s.test.AssessmentPrompt, launch.Spec.Env["ASSESSMENT_PROMPT"])
	s.Equal(s.test.GithubRepo, launch.Spec.Env["GITHUB_REPO"])
	s.Equal("4", launch.Spec.Env["INITIAL_QUESTION_BUDGET"])
	s.Equal("600", launch.Spec.Env["TIMER_DURATION"])
	s.Equal("http://benchroom:8080", launch.Spec.Env["BENCHROOM_SERVER_URL"])
	s.Require().Len(launch.Spec.Mounts, 1)
	s.Equal(inst.WorkspaceDir, launch.Spec.Mounts[0].Source)
	s.Equal("/home/coder/project", launch.Spec.Mounts[0].Target)

	stored := &models.Instance{}
	s.Require().NoError(s.db.First(stored, inst.ID).Error)
	s.Equal("ctr-1", stored.ContainerRef)
	s.Equal(32768, stored.Port)

	s.Equal(int64(1), s.count(&models.TestCandidate{}))
	test := &models.Test{}
	s.Require().NoError(s.db.First(test, s.test.ID).Error)
	s.Equal(1, test.CandidatesAssigned)

	st := s.timers.Status(s.ctx, inst.Key())
	s.True(st.TimerStarted)
	s.False(st.InterviewStarted)
	s.Equal(timer.TypeInitial, st.TimerType)
}

func (s *OrchestratorTestSuite) TestCreatePublishesEvents() {
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	events, err := s.bus.Subscribe(ctx, event.Filter{})
	s.Require().NoError(err)

	inst, err := s.orch.Create(s.ctx, s.request())
	s.Require().NoError(err)

	first := <-events
	s.Equal(event.TypeInstanceCreated, first.Type)
	s.Equal(inst.Key(), first.InstanceID)

	second := <-events
	s.Equal(event.TypeTimerStarted, second.Type)
}

func (s *OrchestratorTestSuite) TestCreateOverridesRepository() {
	req := s.request()
	req.RepoURL = "https://github.com/acme/other.git"
	req.RepoToken = "ghp_override"
	req.RepoRef = "dev"

	_, err := s.orch.Create(s.ctx, req)
	s.Require().NoError(err)

	s.Require().Len(s.cloner.requests, 1)
	s.Equal("https://github.com/acme/other.git", s.cloner.requests[0].URL)
	s.Equal("ghp_override", s.cloner.requests[0].Token)
	s.Equal("dev", s.cloner.requests[0].Ref)
	s.Equal("https://github.com/acme/other.git", s.engine.launched[0].Spec.Env["GITHUB_REPO"])
}

func (s *OrchestratorTestSuite) TestCreateWithoutRepository() {
	s.Require().NoError(s.db.Model(s.test).Update("github_repo", "").Error)

	inst, err := s.orch.Create(s.ctx, &CreateRequest{TestID: s.test.ID})
	s.Require().NoError(err)

	s.Empty(s.cloner.requests)
	s.Empty(inst.WorkspaceDir)
	s.Empty(s.engine.launched[0].Spec.Mounts)
	s.NotContains(s.engine.launched[0].Spec.Env, "GITHUB_REPO")
	s.Nil(inst.CandidateID)
	s.Equal(int64(0), s.count(&models.TestCandidate{}))
}

func (s *OrchestratorTestSuite) TestCreateValidation() {
	_, err := s.orch.Create(s.ctx, &CreateRequest{})
	s.ErrorIs(err, ErrMissingTestID)

	_, err = s.orch.Create(s.ctx, &CreateRequest{TestID: 999})
	s.ErrorIs(err, ErrTestNotFound)

	missing := uint(404)
	_, err = s.orch.Create(s.ctx, &CreateRequest{TestID: s.test.ID, CandidateID: &missing})
	s.ErrorIs(err, ErrCandidateNotFound)

	s.Empty(s.engine.launched)
	s.Equal(int64(0), s.count(&models.Instance{}))
}

func (s *OrchestratorTestSuite) TestCreateThenDeleteLeavesNothing() {
	inst, err := s.orch.Create(s.ctx, s.request())
	s.Require().NoError(err)

	res, err := s.orch.Delete(s.ctx, inst.Key())
	s.Require().NoError(err)
	s.True(res.ContainerRemoved)
	s.Equal(inst.ID, res.InstanceID)
	s.Equal("ctr-1", res.ContainerRef)

	s.Equal(int64(0), s.count(&models.Instance{}))
	s.Zero(s.engine.running())
	s.NoDirExists(inst.WorkspaceDir)
	s.False(s.timers.Status(s.ctx, inst.Key()).TimerStarted)
}

func (s *OrchestratorTestSuite) TestDeleteByContainerRef() {
	inst, err := s.orch.Create(s.ctx, s.request())
	s.Require().NoError(err)

	res, err := s.orch.Delete(s.ctx, inst.ContainerRef)
	s.Require().NoError(err)
	s.Equal(inst.ID, res.InstanceID)
	s.Equal(int64(0), s.count(&models.Instance{}))
}

func (s *OrchestratorTestSuite) TestDeleteExternallyRemovedContainer() {
	inst, err := s.orch.Create(s.ctx, s.request())
	s.Require().NoError(err)

	delete(s.engine.sandboxes, inst.ContainerRef)

	res, err := s.orch.Delete(s.ctx, inst.Key())
	s.Require().NoError(err)
	s.False(res.ContainerRemoved)
	s.Equal(int64(0), s.count(&models.Instance{}))
}

func (s *OrchestratorTestSuite) TestDeleteSwallowsRuntimeFailure() {
	inst, err := s.orch.Create(s.ctx, s.request())
	s.Require().NoError(err)

	s.engine.removeErr = errors.New("daemon unreachable")

	res, err := s.orch.Delete(s.ctx, inst.Key())
	s.Require().NoError(err)
	s.False(res.ContainerRemoved)
	s.Equal(int64(0), s.count(&models.Instance{}))
}

func (s *OrchestratorTestSuite) TestDeleteUnknown() {
	_, err := s.orch.Delete(s.ctx, "12345")
	s.ErrorIs(err, ErrInstanceNotFound)

	_, err = s.orch.Delete(s.ctx, "no-such-container")
	s.ErrorIs(err, ErrInstanceNotFound)

	_, err = s.orch.Delete(s.ctx, " ")
	s.ErrorIs(err, ErrInvalidInstanceRef)
}

func (s *OrchestratorTestSuite) TestMissingPortRollsBack() {
	s.engine.noPort = true

	_, err := s.orch.Create(s.ctx, s.request())
	s.Require().ErrorIs(err, ErrMissingPort)

	s.Equal(2, s.engine.inspected)
	s.Equal([]string{"ctr-1"}, s.engine.removed)
	s.Zero(s.engine.running())
	s.Equal(int64(0), s.count(&models.Instance{}))
	s.Equal(int64(0), s.count(&models.TestCandidate{}))
	s.Require().Len(s.cloner.requests, 1)
	s.NoDirExists(s.cloner.requests[0].Dir)
	s.False(s.timers.Status(s.ctx, "1").TimerStarted)
}

func (s *OrchestratorTestSuite) TestCloneFailureAborts() {
	s.cloner.err = errors.New("authentication required")

	_, err := s.orch.Create(s.ctx, s.request())
	s.Require().Error(err)
	s.Contains(err.Error(), "clone repository")

	s.Empty(s.engine.launched)
	s.Equal(int64(0), s.count(&models.Instance{}))
}

func (s *OrchestratorTestSuite) TestLaunchFailureRemovesWorkspace() {
	s.engine.launchErr = errors.New("image not found")

	_, err := s.orch.Create(s.ctx, s.request())
	s.Require().Error(err)

	s.Equal(int64(0), s.count(&models.Instance{}))
	s.NoDirExists(s.cloner.requests[0].Dir)
	s.Empty(s.engine.removed)
}

func (s *OrchestratorTestSuite) TestConflictingCreate() {
	_, err := s.orch.Create(s.ctx, s.request())
	s.Require().NoError(err)

	_, err = s.orch.Create(s.ctx, s.request())
	s.ErrorIs(err, ErrInstanceConflict)

	s.Len(s.engine.launched, 1)
	s.Equal(int64(1), s.count(&models.Instance{}))
}

func (s *OrchestratorTestSuite) TestConcurrentCreateIsRejected() {
	release, ok := s.orch.locks.TryLock(pairKey(s.test.ID, s.cand.ID))
	s.Require().True(ok)
	defer release()

	_, err := s.orch.Create(s.ctx, s.request())
	s.ErrorIs(err, ErrInstanceConflict)
	s.Empty(s.cloner.requests)
}

func (s *OrchestratorTestSuite) TestConcurrentCreatesOnFileDatabase() {
	gdb, err := db.Open("sqlite", filepath.Join(s.T().TempDir(), "benchroom.db"))
	s.Require().NoError(err)
	s.Require().NoError(db.Migrate(gdb))

	if sqlDB, err := s.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	s.db = gdb
	s.orch = s.newOrchestrator(s.timers)
	s.engine.launchDelay = 300 * time.Millisecond

	test := &models.Test{Name: "frontend", InitialPrompt: "Interview.", FinalPrompt: "Review.", EnableTimer: true, TimerDuration: 600}
	s.Require().NoError(s.db.Create(test).Error)

	candidates := []*models.Candidate{{Name: "Ada", Email: "ada@example.com"}, {Name: "Grace", Email: "grace@example.com"}}
	for _, c := range candidates {
		s.Require().NoError(s.db.Create(c).Error)
	}

	var wg sync.WaitGroup
	errs := make([]error, len(candidates))
	for i, c := range candidates {
		wg.Add(1)
		go func(i int, candidateID uint) {
			defer wg.Done()
			_, errs[i] = s.orch.Create(s.ctx, &CreateRequest{TestID: test.ID, CandidateID: &candidateID})
		}(i, c.ID)
	}
	wg.Wait()

	for _, err := range errs {
		s.NoError(err)
	}
	s.Equal(int64(2), s.count(&models.Instance{}))
	s.Equal(int64(2), s.count(&models.TestCandidate{}))

	s.Require().NoError(s.db.First(test, test.ID).Error)
	s.Equal(2, test.CandidatesAssigned)
}

func (s *OrchestratorTestSuite) TestAdminInstancesDoNotConflict() {
	_, err := s.orch.Create(s.ctx, &CreateRequest{TestID: s.test.ID})
	s.Require().NoError(err)
	_, err = s.orch.Create(s.ctx, &CreateRequest{TestID: s.test.ID})
	s.Require().NoError(err)

	s.Equal(int64(2), s.count(&models.Instance{}))
}

func (s *OrchestratorTestSuite) TestBatchIsAllOrNothing() {
	_, err := s.orch.CreateBatch(s.ctx, []*CreateRequest{
		s.request(),
		{TestID: 999},
	})
	s.Require().ErrorIs(err, ErrTestNotFound)

	s.Equal(int64(0), s.count(&models.Instance{}))
	s.Equal([]string{"ctr-1"}, s.engine.removed)
	s.Zero(s.engine.running())
	s.NoDirExists(s.cloner.requests[0].Dir)
	s.False(s.timers.Status(s.ctx, "1").TimerStarted)
	s.Equal(int64(0), s.count(&models.TestCandidate{}))

	test := &models.Test{}
	s.Require().NoError(s.db.First(test, s.test.ID).Error)
	s.Zero(test.CandidatesAssigned)

	// the pair lock is released after a failed batch
	_, err = s.orch.Create(s.ctx, s.request())
	s.NoError(err)
}

func (s *OrchestratorTestSuite) TestBatchCreatesAll() {
	other := &models.Candidate{Name: "Grace"}
	s.Require().NoError(s.db.Create(other).Error)

	second := s.request()
	second.CandidateID = &other.ID

	instances, err := s.orch.CreateBatch(s.ctx, []*CreateRequest{s.request(), second})
	s.Require().NoError(err)
	s.Len(instances, 2)

	for _, inst := range instances {
		s.True(s.timers.Status(s.ctx, inst.Key()).TimerStarted)
	}

	test := &models.Test{}
	s.Require().NoError(s.db.First(test, s.test.ID).Error)
	s.Equal(2, test.CandidatesAssigned)
}

func (s *OrchestratorTestSuite) TestTimerFailureIsDeferred() {
	failing := &failingTimers{Registry: s.timers}
	s.orch = s.newOrchestrator(failing)

	inst, err := s.orch.Create(s.ctx, s.request())
	s.Require().NoError(err)
	s.Equal([]string{inst.Key()}, failing.deferred)

	// the registry retries the deferred start on the next status read
	st := s.timers.Status(s.ctx, inst.Key())
	s.True(st.TimerStarted)
}

func (s *OrchestratorTestSuite) TestDisabledTimerIsNotStarted() {
	s.Require().NoError(s.db.Model(s.test).Update("enable_timer", false).Error)

	inst, err := s.orch.Create(s.ctx, s.request())
	s.Require().NoError(err)
	s.Equal("false", s.engine.launched[0].Spec.Env["TIMER_ENABLED"])
	s.False(s.timers.Status(s.ctx, inst.Key()).TimerStarted)
}

func (s *OrchestratorTestSuite) TestListWithDetails() {
	running, err := s.orch.Create(s.ctx, s.request())
	s.Require().NoError(err)
	gone, err := s.orch.Create(s.ctx, &CreateRequest{TestID: s.test.ID})
	s.Require().NoError(err)
	broken, err := s.orch.Create(s.ctx, &CreateRequest{TestID: s.test.ID})
	s.Require().NoError(err)

	delete(s.engine.sandboxes, gone.ContainerRef)
	s.engine.inspectErrs[broken.ContainerRef] = errors.New("timeout")

	details, err := s.orch.ListWithDetails(s.ctx, nil)
	s.Require().NoError(err)
	s.Require().Len(details, 3)

	s.Equal(running.ID, details[0].ID)
	s.Equal(string(sandbox.Running), details[0].Status)
	s.Equal("http://localhost:32768", details[0].AccessURL)
	s.Require().NotNil(details[0].Test)
	s.Equal("backend", details[0].Test.Name)
	s.Require().NotNil(details[0].Candidate)
	s.Equal("Ada", details[0].Candidate.Name)

	s.Equal(StatusMissing, details[1].Status)
	s.Equal(StatusError, details[2].Status)

	filtered, err := s.orch.List(s.ctx, &ListRequest{CandidateID: s.cand.ID})
	s.Require().NoError(err)
	s.Len(filtered, 1)
}

func (s *OrchestratorTestSuite) TestGet() {
	inst, err := s.orch.Create(s.ctx, s.request())
	s.Require().NoError(err)

	got, err := s.orch.Get(s.ctx, inst.ID)
	s.Require().NoError(err)
	s.Equal(inst.ContainerRef, got.ContainerRef)
	s.Equal(s.test.ID, got.Test.ID)

	_, err = s.orch.Get(s.ctx, 999)
	s.ErrorIs(err, ErrInstanceNotFound)
}

func (s *OrchestratorTestSuite) TestReconcile() {
	inst, err := s.orch.Create(s.ctx, s.request())
	s.Require().NoError(err)
	missing, err := s.orch.Create(s.ctx, &CreateRequest{TestID: s.test.ID})
	s.Require().NoError(err)
	delete(s.engine.sandboxes, missing.ContainerRef)

	s.engine.sandboxes["orphan-old"] = &sandbox.Sandbox{
		ID:        "orphan-old",
		Labels:    map[string]string{sandbox.Label: "9999"},
		CreatedAt: time.Now().Add(-time.Hour),
	}
	s.engine.sandboxes["orphan-new"] = &sandbox.Sandbox{
		ID:        "orphan-new",
		Labels:    map[string]string{sandbox.Label: "10000"},
		CreatedAt: time.Now(),
	}

	report, err := s.orch.Reconcile(s.ctx)
	s.Require().NoError(err)
	s.Equal(2, report.Instances)
	s.Equal(3, report.Sandboxes)
	s.Equal([]string{"orphan-old"}, report.Orphans)
	s.Equal([]uint{missing.ID}, report.Missing)

	_, err = s.engine.Inspect(s.ctx, inst.ContainerRef)
	s.NoError(err)
	_, err = s.engine.Inspect(s.ctx, "orphan-new")
	s.NoError(err)

	s.engine.listErr = errors.New("daemon down")
	_, err = s.orch.Reconcile(s.ctx)
	s.Error(err)
}

func (s *OrchestratorTestSuite) TestReportUpsert() {
	inst, err := s.orch.Create(s.ctx, s.request())
	s.Require().NoError(err)

	_, err = s.orch.GetReport(s.ctx, inst.ID)
	s.ErrorIs(err, ErrReportNotFound)

	first, err := s.orch.SaveReport(s.ctx, inst.ID, json.RawMessage(`{"files":["main.go"]}`))
	s.Require().NoError(err)
	s.JSONEq(`{"files":["main.go"]}`, string(first.Content))

	second, err := s.orch.SaveReport(s.ctx, inst.ID, json.RawMessage(`{"files":["main.go","main_test.go"]}`))
	s.Require().NoError(err)
	s.Equal(first.ID, second.ID)
	s.JSONEq(`{"files":["main.go","main_test.go"]}`, string(second.Content))
	s.Equal(int64(1), s.count(&models.Report{}))

	_, err = s.orch.SaveReport(s.ctx, inst.ID, json.RawMessage(`{not json`))
	s.ErrorIs(err, ErrInvalidReport)

	_, err = s.orch.SaveReport(s.ctx, 999, json.RawMessage(`{}`))
	s.ErrorIs(err, ErrInstanceNotFound)

	_, err = s.orch.Delete(s.ctx, inst.Key())
	s.Require().NoError(err)
	s.Equal(int64(0), s.count(&models.Report{}))
}

func (s *OrchestratorTestSuite) TestPrompts() {
	inst, err := s.orch.Create(s.ctx, s.request())
	s.Require().NoError(err)

	p, err := s.orch.Prompts(s.ctx, inst.Key())
	s.Require().NoError(err)
	s.Equal(s.test.InitialPrompt, p.Initial)
	s.Equal(s.test.FinalPrompt, p.Final)
	s.Equal(4, p.Budgets.Initial)
	s.Equal(models.DefaultQuestionBudget, p.Budgets.Final)
	s.Equal(time.Hour, p.ProjectTimer)
	s.False(p.DisableInitialTimer)
	s.False(p.DisableProjectTimer)

	s.Require().NoError(s.db.Model(s.test).Update("enable_timer", false).Error)
	p, err = s.orch.Prompts(s.ctx, inst.Key())
	s.Require().NoError(err)
	s.True(p.DisableInitialTimer)

	_, err = s.orch.Prompts(s.ctx, "abc")
	s.ErrorIs(err, ErrInvalidInstanceRef)

	_, err = s.orch.Prompts(s.ctx, "999")
	s.ErrorIs(err, ErrInstanceNotFound)
}

func (s *OrchestratorTestSuite) TestWaitForPortHonoursCancellation() {
	s.engine.noPort = true
	s.orch.sleep = sleep

	ctx, cancel := context.WithCancel(s.ctx)
	cancel()

	_, err := s.orch.waitForPort(ctx, &sandbox.Sandbox{ID: "ctr-x"})
	s.ErrorIs(err, context.Canceled)
}

func TestContainerName(t *testing.T) {
	cand := uint(7)
	assert.Regexp(t, `^benchroom-test-1-candidate-7-3-[0-9a-f]{8}$`, containerName(&models.Instance{ID: 3, TestID: 1, CandidateID: &cand}))
	assert.Regexp(t, `^benchroom-test-1-admin-4-[0-9a-f]{8}$`, containerName(&models.Instance{ID: 4, TestID: 1}))
}
