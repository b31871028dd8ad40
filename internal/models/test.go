package models

import "time"

// DefaultQuestionBudget is applied when a Test does not carry a budget.
const DefaultQuestionBudget = 5

// Test is the configuration aggregate for one assessment: the phase
// prompts, per-phase question budgets, timers and repository references.
type Test struct {
	ID                    uint      `gorm:"primaryKey" json:"id"`
	Name                  string    `gorm:"uniqueIndex;not null" json:"name"`
	InitialPrompt         string    `gorm:"type:text" json:"initial_prompt"`
	FinalPrompt           string    `gorm:"type:text" json:"final_prompt"`
	AssessmentPrompt      string    `gorm:"type:text" json:"assessment_prompt"`
	InitialQuestionBudget int       `gorm:"not null;default:5" json:"initial_question_budget"`
	FinalQuestionBudget   int       `gorm:"not null;default:5" json:"final_question_budget"`
	EnableTimer           bool      `gorm:"not null" json:"enable_timer"`
	TimerDuration         int       `gorm:"not null;default:600" json:"timer_duration"`
	EnableProjectTimer    bool      `gorm:"not null" json:"enable_project_timer"`
	ProjectTimerDuration  int       `gorm:"not null;default:3600" json:"project_timer_duration"`
	GithubRepo            string    `json:"github_repo"`
	GithubToken           string    `json:"-"`
	TargetGithubRepo      string    `json:"target_github_repo"`
	TargetGithubToken     string    `json:"-"`
	CandidatesAssigned    int       `gorm:"not null;default:0" json:"candidates_assigned"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// InitialBudget returns the question budget for the initial interview.
func (t *Test) InitialBudget() int {
	if t == nil || t.InitialQuestionBudget <= 0 {
		return DefaultQuestionBudget
	}
	return t.InitialQuestionBudget
}

// FinalBudget returns the question budget for the final interview.
func (t *Test) FinalBudget() int {
	if t == nil || t.FinalQuestionBudget <= 0 {
		return DefaultQuestionBudget
	}
	return t.FinalQuestionBudget
}

// InitialTimer returns the initial phase timer length, or zero when
// the timer is disabled for this test.
func (t *Test) InitialTimer() time.Duration {
	if t == nil || !t.EnableTimer || t.TimerDuration <= 0 {
		return 0
	}
	return time.Duration(t.TimerDuration) * time.Second
}

// ProjectTimer returns the project phase timer length, or zero when
// the timer is disabled for this test.
func (t *Test) ProjectTimer() time.Duration {
	if t == nil || !t.EnableProjectTimer || t.ProjectTimerDuration <= 0 {
		return 0
	}
	return time.Duration(t.ProjectTimerDuration) * time.Second
}
