package interview

import (
	"fmt"
	"strings"

	"github.com/benchroom/benchroom/internal/history"
	"github.com/pkg/errors"
)

// DefaultBudget is the question budget used when none is configured.
const DefaultBudget = 5

// ErrNoControlContext is returned for phases that are not interviews.
var ErrNoControlContext = errors.New("phase has no interview control context")

// Budgets holds the question budget for each interview phase.
type Budgets struct {
	Initial int `json:"initial"`
	Final   int `json:"final"`
}

// For returns the budget for an interview phase.
func (b Budgets) For(p Phase) (int, error) {
	var n int
	switch p {
	case PhaseInitial:
		n = b.Initial
	case PhaseFinal:
		n = b.Final
	default:
		return 0, errors.Wrapf(ErrNoControlContext, "%s", p)
	}
	if n <= 0 {
		n = DefaultBudget
	}
	return n, nil
}

// Context is the rendered control state for one interview turn.
type Context struct {
	Phase              Phase  `json:"phase"`
	Budget             int    `json:"budget"`
	QuestionCount      int    `json:"questionCount"`
	UserResponseCount  int    `json:"userResponseCount"`
	QuestionsRemaining int    `json:"questionsRemaining"`
	LimitReached       bool   `json:"limitReached"`
	Status             string `json:"status"`
	Directive          string `json:"directive"`
	Prompt             string `json:"prompt"`
}

var checklists = map[Phase][]string{
	PhaseInitial: {
		"Requirements: does the candidate understand what must be built?",
		"Approach: how do they plan to structure the solution?",
		"Risks: what could go wrong and how will they handle it?",
		"Architecture: which components, boundaries and data flows are involved?",
	},
	PhaseFinal: {
		"Decisions: which trade-offs did the candidate make and why?",
		"Quality: how did they keep the code correct and maintainable?",
		"Testing: how was the work verified?",
		"Challenges: what was hard and how was it resolved?",
	},
}

var endConditions = []string{
	"The question budget is exhausted.",
	"The candidate explicitly asks to stop or to move on.",
	"The candidate gave three consecutive non-answers.",
}

// BuildControlContext renders the directive that constrains the
// model's next turn in an interview phase. The output depends only on
// its arguments.
func BuildControlContext(phase Phase, basePrompt string, entries []history.Entry, budgets Budgets) (*Context, error) {
	budget, err := budgets.For(phase)
	if err != nil {
		return nil, err
	}

	c := &Context{Phase: phase, Budget: budget}

	for _, t := range DerivePhase(entries, PhaseInitial) {
		if t.Phase != phase {
			continue
		}
		switch t.Role {
		case history.RoleAssistant:
			if isQuestion(t.Content) {
				c.QuestionCount++
			}
		case history.RoleUser:
			c.UserResponseCount++
		}
	}

	c.QuestionsRemaining = budget - c.QuestionCount
	if c.QuestionsRemaining < 0 {
		c.QuestionsRemaining = 0
	}
	c.LimitReached = c.QuestionCount >= budget
	c.Status = statusLine(c)
	c.Directive = render(c)

	if base := strings.TrimSpace(basePrompt); base != "" {
		c.Prompt = base + "\n\n" + c.Directive
	} else {
		c.Prompt = c.Directive
	}

	return c, nil
}

func isQuestion(content string) bool {
	s := strings.TrimSpace(content)
	return s != "" && s != EndToken
}

func statusLine(c *Context) string {
	switch {
	case c.LimitReached:
		return "LIMIT REACHED - reply with " + EndToken
	case c.QuestionsRemaining == 1:
		return "1 question remaining"
	default:
		return fmt.Sprintf("%d questions remaining", c.QuestionsRemaining)
	}
}

func render(c *Context) string {
	var b strings.Builder

	b.WriteString("## Interview control\n")
	fmt.Fprintf(&b, "Phase: %s\n", c.Phase)
	fmt.Fprintf(&b, "Question budget: %d\n", c.Budget)
	fmt.Fprintf(&b, "Questions asked: %d\n", c.QuestionCount)
	fmt.Fprintf(&b, "Questions remaining: %d\n", c.QuestionsRemaining)
	fmt.Fprintf(&b, "Candidate responses: %d\n", c.UserResponseCount)
	fmt.Fprintf(&b, "Status: %s\n", c.Status)

	b.WriteString("\nCover, in order of priority:\n")
	for _, item := range checklists[c.Phase] {
		fmt.Fprintf(&b, "- %s\n", item)
	}

	b.WriteString("\nEnd the interview when any of these holds:\n")
	for _, cond := range endConditions {
		fmt.Fprintf(&b, "- %s\n", cond)
	}

	fmt.Fprintf(&b, "\nIf an end condition holds, reply with exactly: %s\n", EndToken)
	b.WriteString("Otherwise, ask exactly one concise question.")

	return b.String()
}
