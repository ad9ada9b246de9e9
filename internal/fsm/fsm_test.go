package fsm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cyclic returns a three-state machine whose last state is terminal.
func cyclic(t *testing.T) *Machine {
	t.Helper()
	m, err := New("1", []string{"1", "2", "3"}, Transitions{
		0: {"a": 1, "b": 2},
		1: {"a": 2, "b": 0},
	})
	require.NoError(t, err)
	return m
}

func TestMachine_Transit(t *testing.T) {
	m := cyclic(t)
	assert.Equal(t, "1", m.CurrentState())

	require.NoError(t, m.Transit("a"))
	assert.Equal(t, "2", m.CurrentState())

	require.NoError(t, m.Transit("b"))
	assert.Equal(t, "1", m.CurrentState())

	require.NoError(t, m.Transit("b"))
	assert.Equal(t, "3", m.CurrentState())
	assert.True(t, m.IsFinished())
}

func TestMachine_IsNextValidEvent(t *testing.T) {
	m := cyclic(t)

	assert.True(t, m.IsNextValidEvent("a"))
	assert.True(t, m.IsNextValidEvent("b"))
	assert.False(t, m.IsNextValidEvent("c"))

	// Pure query
	assert.Equal(t, 0, m.Index())
}

func TestMachine_InvalidTransition(t *testing.T) {
	m := cyclic(t)

	err := m.Transit("c")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	var te *TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "1", te.State)
	assert.Equal(t, "c", te.Event)

	// Unchanged on failure
	assert.Equal(t, "1", m.CurrentState())
}

func TestMachine_TerminalIsAbsorbing(t *testing.T) {
	m := cyclic(t)
	require.NoError(t, m.Transit("b"))
	require.True(t, m.IsFinished())

	for _, event := range []string{"a", "b", "c", ""} {
		require.NoError(t, m.Transit(event), "finished machine must ignore %q", event)
		assert.Equal(t, 2, m.Index())
		assert.Equal(t, "3", m.CurrentState())
	}
	assert.False(t, m.IsNextValidEvent("a"))
}

func TestMachine_SelfLoop(t *testing.T) {
	m, err := New("idle", []string{"idle", "done"}, Transitions{
		0: {"tick": 0, "stop": 1},
	})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, m.Transit("tick"))
		assert.Equal(t, "idle", m.CurrentState())
	}
	require.NoError(t, m.Transit("stop"))
	assert.True(t, m.IsFinished())
}

func TestMachine_InitialStateNotFirst(t *testing.T) {
	m, err := New("b", []string{"a", "b", "c"}, Transitions{0: {"x": 1}, 1: {"x": 2}})
	require.NoError(t, err)
	assert.Equal(t, 1, m.Index())
}

func TestMachine_SingleStateStartsFinished(t *testing.T) {
	m, err := New("only", []string{"only"}, nil)
	require.NoError(t, err)
	assert.True(t, m.IsFinished())
	assert.NoError(t, m.Transit("anything"))
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name        string
		initial     string
		states      []string
		transitions Transitions
		wantErr     string
	}{
		{"empty states", "a", nil, nil, "at least one state"},
		{"duplicate state", "a", []string{"a", "a"}, nil, "duplicate state"},
		{"unknown initial", "z", []string{"a", "b"}, nil, "not in state list"},
		{"source out of range", "a", []string{"a", "b"}, Transitions{5: {"x": 0}}, "source 5 out of range"},
		{"target out of range", "a", []string{"a", "b"}, Transitions{0: {"x": 7}}, "out of range"},
		{"terminal with edges", "a", []string{"a", "b"}, Transitions{1: {"x": 0}}, "must not have transitions"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.initial, tt.states, tt.transitions)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNew_CopiesInputs(t *testing.T) {
	states := []string{"a", "b"}
	table := Transitions{0: {"go": 1}}

	m, err := New("a", states, table)
	require.NoError(t, err)

	states[1] = "mutated"
	table[0]["go"] = 0
	table[0]["extra"] = 1

	assert.False(t, m.IsNextValidEvent("extra"))
	require.NoError(t, m.Transit("go"))
	assert.Equal(t, "b", m.CurrentState())

	got := m.States()
	got[0] = "changed"
	assert.Equal(t, []string{"a", "b"}, m.States())
}
