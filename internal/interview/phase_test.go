package interview

import (
	"testing"

	"github.com/benchroom/benchroom/internal/history"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func msg(role history.Role, content string) history.Entry {
	return history.Message(role, content)
}

func TestDerivePhase(t *testing.T) {
	entries := []history.Entry{
		msg(history.RoleAssistant, "q1"),
		msg(history.RoleUser, "a1"),
		history.Marker("project"),
		msg(history.RoleUser, "working"),
		history.Marker("final"),
		msg(history.RoleAssistant, "q2"),
	}

	tagged := DerivePhase(entries, PhaseInitial)
	require.Len(t, tagged, 4)

	want := []Phase{PhaseInitial, PhaseInitial, PhaseProject, PhaseFinal}
	for i, tg := range tagged {
		assert.Equal(t, want[i], tg.Phase, "entry %d", i)
		assert.False(t, tg.IsMarker())
	}
}

func TestDerivePhaseUsesDefaultBeforeFirstMarker(t *testing.T) {
	entries := []history.Entry{
		msg(history.RoleUser, "a"),
		msg(history.RoleUser, "b"),
		history.Marker("project"),
		msg(history.RoleUser, "c"),
	}

	tagged := DerivePhase(entries, PhaseFinal)
	assert.Equal(t, PhaseFinal, tagged[0].Phase)
	assert.Equal(t, PhaseFinal, tagged[1].Phase)
	assert.Equal(t, PhaseProject, tagged[2].Phase)
}

func TestDerivePhaseLegacyMarker(t *testing.T) {
	legacy, err := history.ParseEntry("system", MarkerPrefix+"project", nil)
	require.NoError(t, err)

	tagged := DerivePhase([]history.Entry{legacy, msg(history.RoleUser, "x")}, PhaseInitial)
	require.Len(t, tagged, 1)
	assert.Equal(t, PhaseProject, tagged[0].Phase)
}

func TestCurrentPhase(t *testing.T) {
	assert.Equal(t, PhaseInitial, CurrentPhase(nil, PhaseInitial))
	assert.Equal(t, PhaseFinal, CurrentPhase([]history.Entry{
		history.Marker("project"),
		history.Marker("final"),
		msg(history.RoleUser, "x"),
	}, PhaseInitial))
}

func TestTransition(t *testing.T) {
	cases := []struct {
		from, to Phase
		ok       bool
	}{
		{PhaseInitial, PhaseProject, true},
		{PhaseProject, PhaseFinal, true},
		{PhaseFinal, PhaseFinalCompleted, true},
		{PhaseProject, PhaseProject, true},
		{PhaseInitial, PhaseFinal, false},
		{PhaseFinal, PhaseProject, false},
		{PhaseFinalCompleted, PhaseInitial, false},
		{PhaseInitial, Phase("lunch"), false},
	}

	for _, tc := range cases {
		err := Transition(tc.from, tc.to)
		if tc.ok {
			assert.NoError(t, err, "%s -> %s", tc.from, tc.to)
		} else {
			assert.ErrorIs(t, err, ErrInvalidTransition, "%s -> %s", tc.from, tc.to)
		}
	}
}

func TestParsePhaseAndNext(t *testing.T) {
	p, err := ParsePhase("final_completed")
	require.NoError(t, err)
	assert.Equal(t, PhaseFinalCompleted, p)

	_, err = ParsePhase("done")
	assert.ErrorIs(t, err, ErrInvalidPhase)

	next, ok := Next(PhaseProject)
	assert.True(t, ok)
	assert.Equal(t, PhaseFinal, next)

	_, ok = Next(PhaseFinalCompleted)
	assert.False(t, ok)
}
