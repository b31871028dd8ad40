// Package interview drives the AI-led interview that brackets the
// candidate's project work.
//
// The current phase is never stored in a column. It is derived from
// the marker entries in the instance's chat log, so replaying the log
// after a restart recovers it exactly.
package interview

import (
	"github.com/benchroom/benchroom/internal/history"
	"github.com/pkg/errors"
)

// Phase of an instance's session.
type Phase string

const (
	PhaseInitial        Phase = "initial"
	PhaseProject        Phase = "project"
	PhaseFinal          Phase = "final"
	PhaseFinalCompleted Phase = "final_completed"
)

const (
	// EndToken is the exact reply the model gives to close an interview phase.
	EndToken = "END_INTERVIEW"
	// MarkerPrefix is the content prefix of legacy marker messages.
	MarkerPrefix = history.MarkerPrefix
)

var (
	ErrInvalidPhase      = errors.New("invalid phase")
	ErrInvalidTransition = errors.New("invalid phase transition")
)

var order = map[Phase]int{
	PhaseInitial:        0,
	PhaseProject:        1,
	PhaseFinal:          2,
	PhaseFinalCompleted: 3,
}

// ParsePhase validates a phase name.
func ParsePhase(s string) (Phase, error) {
	p := Phase(s)
	if _, ok := order[p]; !ok {
		return "", errors.Wrapf(ErrInvalidPhase, "%q", s)
	}
	return p, nil
}

// Transition checks that moving from one phase to another is allowed.
// Staying in the same phase is a no-op; only single forward steps are
// valid.
func Transition(from, to Phase) error {
	if from == to {
		return nil
	}
	f, okFrom := order[from]
	t, okTo := order[to]
	if !okFrom || !okTo || t != f+1 {
		return errors.Wrapf(ErrInvalidTransition, "%s -> %s", from, to)
	}
	return nil
}

// Next returns the phase that follows p, or false if p is terminal.
func Next(p Phase) (Phase, bool) {
	switch p {
	case PhaseInitial:
		return PhaseProject, true
	case PhaseProject:
		return PhaseFinal, true
	case PhaseFinal:
		return PhaseFinalCompleted, true
	default:
		return "", false
	}
}

// Tagged is a conversational entry with the phase it belongs to.
type Tagged struct {
	history.Entry
	Phase Phase
}

// DerivePhase tags every conversational entry with the phase in force
// when it was written. Markers update the running phase and are not
// returned. Entries before the first marker get defaultPhase.
func DerivePhase(entries []history.Entry, defaultPhase Phase) []Tagged {
	current := defaultPhase
	out := make([]Tagged, 0, len(entries))
	for _, e := range entries {
		if e.IsMarker() {
			current = Phase(e.Phase)
			continue
		}
		out = append(out, Tagged{Entry: e, Phase: current})
	}
	return out
}

// CurrentPhase returns the phase named by the last marker in entries.
func CurrentPhase(entries []history.Entry, defaultPhase Phase) Phase {
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].IsMarker() {
			return Phase(entries[i].Phase)
		}
	}
	return defaultPhase
}
