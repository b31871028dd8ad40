// Package catalog seeds and lists the Tests and Candidates that
// instances are provisioned from.
package catalog

import (
	"context"
	"strings"

	"github.com/benchroom/benchroom/internal/models"
	"github.com/benchroom/benchroom/pkg/db"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrInvalidManifest = errors.New("invalid manifest")

type Catalog interface {
	WithDatabase(*gorm.DB) Catalog
	Apply(*Manifest) (*ApplyResult, error)
	ListTests() ([]*models.Test, error)
	ListCandidates() ([]*models.Candidate, error)
}

type catalogService struct {
	ctx context.Context
	db  *gorm.DB
}

// Service returns a Catalog bound to ctx. Without WithDatabase it uses
// the process-wide connection.
func Service(ctx context.Context) Catalog {
	return &catalogService{ctx: ctx}
}

func (s *catalogService) conn() *gorm.DB {
	if s.db == nil {
		s.db = db.Connection()
	}
	return s.db.WithContext(s.ctx)
}

func (s *catalogService) WithDatabase(conn *gorm.DB) Catalog {
	s.db = conn
	return s
}

// Manifest is the document accepted by `benchroom test apply` and
// POST /tests/apply. Tests are keyed by name and candidates by email.
type Manifest struct {
	Tests      []TestSpec      `json:"tests" yaml:"tests"`
	Candidates []CandidateSpec `json:"candidates" yaml:"candidates"`
}

type TestSpec struct {
	Name                  string `json:"name" yaml:"name"`
	InitialPrompt         string `json:"initial_prompt" yaml:"initial_prompt"`
	FinalPrompt           string `json:"final_prompt" yaml:"final_prompt"`
	AssessmentPrompt      string `json:"assessment_prompt" yaml:"assessment_prompt"`
	InitialQuestionBudget int    `json:"initial_question_budget" yaml:"initial_question_budget"`
	FinalQuestionBudget   int    `json:"final_question_budget" yaml:"final_question_budget"`
	EnableTimer           *bool  `json:"enable_timer" yaml:"enable_timer"`
	TimerDuration         int    `json:"timer_duration" yaml:"timer_duration"`
	EnableProjectTimer    *bool  `json:"enable_project_timer" yaml:"enable_project_timer"`
	ProjectTimerDuration  int    `json:"project_timer_duration" yaml:"project_timer_duration"`
	GithubRepo            string `json:"github_repo" yaml:"github_repo"`
	GithubToken           string `json:"github_token" yaml:"github_token"`
	TargetGithubRepo      string `json:"target_github_repo" yaml:"target_github_repo"`
	TargetGithubToken     string `json:"target_github_token" yaml:"target_github_token"`
}

type CandidateSpec struct {
	Name  string `json:"name" yaml:"name"`
	Email string `json:"email" yaml:"email"`
}

type ApplyResult struct {
	Tests      int `json:"tests"`
	Candidates int `json:"candidates"`
}

// Merge appends other's entries to m.
func (m *Manifest) Merge(other *Manifest) {
	if other == nil {
		return
	}
	m.Tests = append(m.Tests, other.Tests...)
	m.Candidates = append(m.Candidates, other.Candidates...)
}

func (m *Manifest) Validate() error {
	if len(m.Tests) == 0 && len(m.Candidates) == 0 {
		return errors.Wrap(ErrInvalidManifest, "no tests or candidates")
	}

	seen := make(map[string]bool, len(m.Tests))
	for i, t := range m.Tests {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			return errors.Wrapf(ErrInvalidManifest, "tests[%d]: name is required", i)
		}
		if seen[name] {
			return errors.Wrapf(ErrInvalidManifest, "tests[%d]: duplicate name %q", i, name)
		}
		seen[name] = true

		if t.InitialQuestionBudget < 0 || t.FinalQuestionBudget < 0 {
			return errors.Wrapf(ErrInvalidManifest, "test %q: question budgets must not be negative", name)
		}
		if t.TimerDuration < 0 || t.ProjectTimerDuration < 0 {
			return errors.Wrapf(ErrInvalidManifest, "test %q: timer durations must not be negative", name)
		}
	}

	for i, c := range m.Candidates {
		if strings.TrimSpace(c.Name) == "" || strings.TrimSpace(c.Email) == "" {
			return errors.Wrapf(ErrInvalidManifest, "candidates[%d]: name and email are required", i)
		}
	}

	return nil
}

// Apply upserts every entry of the manifest in one transaction.
func (s *catalogService) Apply(m *Manifest) (*ApplyResult, error) {
	if m == nil {
		return nil, errors.Wrap(ErrInvalidManifest, "empty manifest")
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}

	res := &ApplyResult{}
	err := s.conn().Transaction(func(tx *gorm.DB) error {
		for _, spec := range m.Tests {
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "name"}},
				DoUpdates: clause.AssignmentColumns(testColumns),
			}).Create(spec.model()).Error; err != nil {
				return errors.Wrapf(err, "apply test %q", spec.Name)
			}
			res.Tests++
		}

		for _, spec := range m.Candidates {
			c := &models.Candidate{}
			email := strings.ToLower(strings.TrimSpace(spec.Email))
			if err := tx.Where(models.Candidate{Email: email}).
				Assign(models.Candidate{Name: strings.TrimSpace(spec.Name)}).
				FirstOrCreate(c).Error; err != nil {
				return errors.Wrapf(err, "apply candidate %q", spec.Email)
			}
			res.Candidates++
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return res, nil
}

var testColumns = []string{
	"initial_prompt",
	"final_prompt",
	"assessment_prompt",
	"initial_question_budget",
	"final_question_budget",
	"enable_timer",
	"timer_duration",
	"enable_project_timer",
	"project_timer_duration",
	"github_repo",
	"github_token",
	"target_github_repo",
	"target_github_token",
	"updated_at",
}

func (t TestSpec) model() *models.Test {
	return &models.Test{
		Name:                  strings.TrimSpace(t.Name),
		InitialPrompt:         t.InitialPrompt,
		FinalPrompt:           t.FinalPrompt,
		AssessmentPrompt:      t.AssessmentPrompt,
		InitialQuestionBudget: orDefault(t.InitialQuestionBudget, models.DefaultQuestionBudget),
		FinalQuestionBudget:   orDefault(t.FinalQuestionBudget, models.DefaultQuestionBudget),
		EnableTimer:           t.EnableTimer == nil || *t.EnableTimer,
		TimerDuration:         orDefault(t.TimerDuration, 600),
		EnableProjectTimer:    t.EnableProjectTimer == nil || *t.EnableProjectTimer,
		ProjectTimerDuration:  orDefault(t.ProjectTimerDuration, 3600),
		GithubRepo:            t.GithubRepo,
		GithubToken:           t.GithubToken,
		TargetGithubRepo:      t.TargetGithubRepo,
		TargetGithubToken:     t.TargetGithubToken,
	}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func (s *catalogService) ListTests() ([]*models.Test, error) {
	tests := make([]*models.Test, 0)
	if err := s.conn().Order("name").Find(&tests).Error; err != nil {
		return nil, errors.Wrap(err, "list tests")
	}
	return tests, nil
}

func (s *catalogService) ListCandidates() ([]*models.Candidate, error) {
	candidates := make([]*models.Candidate, 0)
	if err := s.conn().Order("name").Find(&candidates).Error; err != nil {
		return nil, errors.Wrap(err, "list candidates")
	}
	return candidates, nil
}
