package orchestrator

import (
	"context"
	"strconv"

	"github.com/benchroom/benchroom/internal/interview"
	"github.com/pkg/errors"
)

// Prompts resolves the interview configuration of an instance from its
// Test, so the orchestrator can serve as an interview.PromptSource.
func (o *Orchestrator) Prompts(ctx context.Context, instanceID string) (*interview.Prompts, error) {
	id, err := ParseID(instanceID)
	if err != nil {
		return nil, err
	}

	inst, err := o.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if inst.Test == nil {
		return nil, errors.Wrapf(ErrTestNotFound, "instance %d", id)
	}

	t := inst.Test
	return &interview.Prompts{
		Initial: t.InitialPrompt,
		Final:   t.FinalPrompt,
		Budgets: interview.Budgets{
			Initial: t.InitialBudget(),
			Final:   t.FinalBudget(),
		},
		ProjectTimer:        t.ProjectTimer(),
		DisableInitialTimer: !t.EnableTimer,
		DisableProjectTimer: !t.EnableProjectTimer,
	}, nil
}

// ParseID parses a numeric instance ID as used by timers and history.
func ParseID(instanceID string) (uint, error) {
	id, err := strconv.ParseUint(instanceID, 10, 64)
	if err != nil || id == 0 {
		return 0, errors.Wrapf(ErrInvalidInstanceRef, "%q", instanceID)
	}
	return uint(id), nil
}

var _ interview.PromptSource = (*Orchestrator)(nil)
