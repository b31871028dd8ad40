package interview

import (
	"context"
	"strings"
	"time"

	"github.com/benchroom/benchroom/internal/event"
	"github.com/benchroom/benchroom/internal/history"
	"github.com/benchroom/benchroom/internal/keylock"
	"github.com/benchroom/benchroom/internal/llm"
	"github.com/benchroom/benchroom/internal/metrics"
	"github.com/benchroom/benchroom/internal/timer"
	"github.com/benchroom/benchroom/pkg/log"
	"github.com/pkg/errors"
)

var (
	ErrNotInterviewing = errors.New("instance is not in an interview phase")
	ErrEmptyMessage    = errors.New("message is empty")
)

// ModelError reports a failed model completion.
type ModelError struct {
	Err error
}

func (e *ModelError) Error() string {
	return "model completion: " + e.Err.Error()
}

func (e *ModelError) Unwrap() error {
	return e.Err
}

// Prompts is the per-instance interview configuration.
type Prompts struct {
	Initial             string
	Final               string
	Budgets             Budgets
	ProjectTimer        time.Duration
	DisableInitialTimer bool
	DisableProjectTimer bool
}

// Base returns the system prompt for an interview phase.
func (p *Prompts) Base(phase Phase) string {
	if phase == PhaseFinal {
		return p.Final
	}
	return p.Initial
}

// PromptSource resolves the interview configuration for an instance.
type PromptSource interface {
	Prompts(ctx context.Context, instanceID string) (*Prompts, error)
}

// StaticPrompts serves the same configuration for every instance.
type StaticPrompts Prompts

func (s *StaticPrompts) Prompts(context.Context, string) (*Prompts, error) {
	p := Prompts(*s)
	return &p, nil
}

// Timers is the subset of the timer registry a Session drives.
type Timers interface {
	Start(ctx context.Context, instanceID string, typ timer.Type, d time.Duration) (*timer.Status, error)
	Status(ctx context.Context, instanceID string) *timer.Status
	Defer(instanceID string, typ timer.Type, d time.Duration)
	MarkInterviewStarted(ctx context.Context, instanceID string) (*timer.Status, error)
	MarkFinalInterviewStarted(ctx context.Context, instanceID string) (*timer.Status, error)
}

// TurnResult is the outcome of one candidate turn.
type TurnResult struct {
	InstanceID string   `json:"instanceId"`
	Phase      Phase    `json:"phase"`
	Reply      string   `json:"reply"`
	Ended      bool     `json:"ended"`
	NextPhase  Phase    `json:"nextPhase,omitempty"`
	Control    *Context `json:"control,omitempty"`
}

// Session ties the chat log, timers, prompts and model together and
// owns every phase change of an instance.
type Session struct {
	history *history.History
	timers  Timers
	prompts PromptSource
	model   llm.Model
	bus     event.Bus
	locks   *keylock.Locker
}

func NewSession(h *history.History, timers Timers, prompts PromptSource, model llm.Model, bus event.Bus) *Session {
	if bus == nil {
		bus = event.Discard
	}
	return &Session{
		history: h,
		timers:  timers,
		prompts: prompts,
		model:   model,
		bus:     bus,
		locks:   keylock.New(),
	}
}

// Phase returns the instance's current phase.
func (s *Session) Phase(ctx context.Context, instanceID string) Phase {
	return CurrentPhase(s.history.Get(ctx, instanceID), PhaseInitial)
}

// Turn records a candidate message, asks the model for the next
// interviewer message and records that too. When the model closes the
// initial interview the project phase begins.
func (s *Session) Turn(ctx context.Context, instanceID, text string) (*TurnResult, error) {
	if instanceID == "" {
		return nil, history.ErrMissingInstanceID
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	unlock := s.locks.Lock(instanceID)
	defer unlock()

	entries := s.history.Get(ctx, instanceID)
	phase := CurrentPhase(entries, PhaseInitial)
	if phase != PhaseInitial && phase != PhaseFinal {
		return nil, errors.Wrapf(ErrNotInterviewing, "phase %s", phase)
	}

	prompts, err := s.prompts.Prompts(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	res := &TurnResult{InstanceID: instanceID, Phase: phase}

	// A disabled initial timer neither cuts the interview nor gets
	// created lazily by marking it started.
	if phase == PhaseInitial && !prompts.DisableInitialTimer {
		st := s.timers.Status(ctx, instanceID)
		if st.Expired {
			log.Info("initial interview time is up", "instance_id", instanceID)
			if err := s.endInitial(ctx, instanceID, prompts); err != nil {
				return nil, err
			}
			res.Reply = EndToken
			res.Ended = true
			res.NextPhase = PhaseProject
			return res, nil
		}
		if !st.InterviewStarted {
			if _, err := s.timers.MarkInterviewStarted(ctx, instanceID); err != nil {
				log.Error("failed to mark interview started", "instance_id", instanceID, "error", err)
			}
		}
	}

	entries, err = s.history.Append(ctx, instanceID, tag(history.Message(history.RoleUser, text), phase))
	if err != nil {
		return nil, err
	}

	control, err := BuildControlContext(phase, prompts.Base(phase), entries, prompts.Budgets)
	if err != nil {
		return nil, err
	}
	res.Control = control

	reply, err := s.model.Complete(ctx, control.Prompt, Transcript(entries, phase))
	if err != nil {
		metrics.ModelTurnsTotal.WithLabelValues(string(phase), "failed").Inc()
		return nil, &ModelError{Err: err}
	}
	metrics.ModelTurnsTotal.WithLabelValues(string(phase), "succeeded").Inc()

	res.Reply = strings.TrimSpace(reply)
	if _, err := s.history.Append(ctx, instanceID, tag(history.Message(history.RoleAssistant, res.Reply), phase)); err != nil {
		return nil, err
	}

	if res.Reply != EndToken {
		return res, nil
	}

	res.Ended = true
	if phase == PhaseInitial {
		if err := s.endInitial(ctx, instanceID, prompts); err != nil {
			return nil, err
		}
		res.NextPhase = PhaseProject
	}

	return res, nil
}

// StartFinal moves an instance from the project phase into the final
// interview. Calling it again once in the final phase is a no-op.
func (s *Session) StartFinal(ctx context.Context, instanceID string) (*timer.Status, error) {
	if instanceID == "" {
		return nil, history.ErrMissingInstanceID
	}

	unlock := s.locks.Lock(instanceID)
	defer unlock()

	if err := s.advance(ctx, instanceID, s.Phase(ctx, instanceID), PhaseFinal); err != nil {
		return nil, err
	}

	return s.timers.MarkFinalInterviewStarted(ctx, instanceID)
}

// Complete closes the final interview once its report is stored.
func (s *Session) Complete(ctx context.Context, instanceID string) error {
	if instanceID == "" {
		return history.ErrMissingInstanceID
	}

	unlock := s.locks.Lock(instanceID)
	defer unlock()

	return s.advance(ctx, instanceID, s.Phase(ctx, instanceID), PhaseFinalCompleted)
}

// Record appends a client supplied entry. A phase marker is applied as
// the matching transition so the phase order is enforced for legacy
// clients that write markers directly.
func (s *Session) Record(ctx context.Context, instanceID string, e history.Entry) ([]history.Entry, error) {
	if instanceID == "" {
		return nil, history.ErrMissingInstanceID
	}

	unlock := s.locks.Lock(instanceID)
	defer unlock()

	phase := s.Phase(ctx, instanceID)
	if !e.IsMarker() {
		return s.history.Append(ctx, instanceID, tag(e, phase))
	}

	to, err := ParsePhase(e.Phase)
	if err != nil {
		return nil, err
	}

	switch {
	case phase == PhaseInitial && to == PhaseProject:
		prompts, perr := s.prompts.Prompts(ctx, instanceID)
		if perr != nil {
			return nil, perr
		}
		err = s.endInitial(ctx, instanceID, prompts)
	case phase == PhaseProject && to == PhaseFinal:
		if err = s.advance(ctx, instanceID, phase, to); err == nil {
			_, err = s.timers.MarkFinalInterviewStarted(ctx, instanceID)
		}
	default:
		err = s.advance(ctx, instanceID, phase, to)
	}
	if err != nil {
		return nil, err
	}

	return s.history.Get(ctx, instanceID), nil
}

// Preview renders the control context for the instance's current
// phase without contacting the model.
func (s *Session) Preview(ctx context.Context, instanceID string) (*Context, error) {
	if instanceID == "" {
		return nil, history.ErrMissingInstanceID
	}

	entries := s.history.Get(ctx, instanceID)
	phase := CurrentPhase(entries, PhaseInitial)

	prompts, err := s.prompts.Prompts(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	return BuildControlContext(phase, prompts.Base(phase), entries, prompts.Budgets)
}

// Transcript returns the conversational entries of one phase in model
// form.
func Transcript(entries []history.Entry, phase Phase) []llm.Message {
	var out []llm.Message
	for _, t := range DerivePhase(entries, PhaseInitial) {
		if t.Phase != phase {
			continue
		}
		switch t.Role {
		case history.RoleUser:
			out = append(out, llm.Message{Role: llm.RoleUser, Content: t.Content})
		case history.RoleAssistant:
			out = append(out, llm.Message{Role: llm.RoleAssistant, Content: t.Content})
		}
	}
	return out
}

func (s *Session) endInitial(ctx context.Context, instanceID string, prompts *Prompts) error {
	if err := s.advance(ctx, instanceID, PhaseInitial, PhaseProject); err != nil {
		return err
	}
	if prompts.DisableProjectTimer {
		return nil
	}

	st, err := s.timers.Start(ctx, instanceID, timer.TypeProject, prompts.ProjectTimer)
	if err != nil {
		log.Error("failed to start project timer", "instance_id", instanceID, "error", err)
		s.timers.Defer(instanceID, timer.TypeProject, prompts.ProjectTimer)
		return nil
	}

	s.bus.Publish(event.NewEvent(event.TypeTimerStarted, instanceID, st))
	return nil
}

// advance must be called with the instance lock held.
func (s *Session) advance(ctx context.Context, instanceID string, from, to Phase) error {
	if err := Transition(from, to); err != nil {
		return err
	}
	if from == to {
		return nil
	}

	if _, err := s.history.AppendMarker(ctx, instanceID, string(to)); err != nil {
		return err
	}

	metrics.PhaseTransitionsTotal.WithLabelValues(string(to)).Inc()
	s.bus.Publish(event.NewEvent(event.TypePhaseChanged, instanceID, map[string]Phase{
		"from": from,
		"to":   to,
	}))
	log.Info("phase changed", "instance_id", instanceID, "from", from, "to", to)

	return nil
}

func tag(e history.Entry, phase Phase) history.Entry {
	e.Phase = string(phase)
	return e
}
