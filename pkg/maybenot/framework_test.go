package maybenot

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// paddingOnTransition builds a two-state machine: state 0 has no action and
// moves to state 1 on NormalSent; state 1 sends padding with a fixed
// zero-length timeout and, on PaddingSent, optionally moves to target.
func paddingOnTransition(t *testing.T, target int) Machine {
	t.Helper()
	m, err := NewMachine(0, 0, 0, 0, []State{
		NewState(map[Event][]Trans{
			EventNormalSent: {{Target: 1, Probability: 1}},
		}),
		func() State {
			s := NewState(map[Event][]Trans{
				EventPaddingSent: {{Target: target, Probability: 1}},
			})
			action := NewSendPaddingAction(false, false, Dist{Kind: DistUniform, Low: 0, High: 0}, nil)
			s.Action = &action
			return s
		}(),
	})
	require.NoError(t, err)
	return m
}

func TestFrameworkSchedulesActionOnTransition(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	m := paddingOnTransition(t, 1)
	f, err := New([]Machine{m}, 0, 0, 0, rng)
	require.NoError(t, err)
	assert.Equal(t, 1, f.NumMachines())

	actions := f.TriggerEvents([]TriggerEvent{NewTriggerEvent(EventNormalSent)}, 0)
	require.Len(t, actions, 1)
	assert.Equal(t, ActionSendPadding, actions[0].Kind)
	assert.Equal(t, MachineID(0), actions[0].Machine)
}

func TestFrameworkStateEndClearsPendingAction(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	m := paddingOnTransition(t, StateEnd)
	f, err := New([]Machine{m}, 0, 0, 0, rng)
	require.NoError(t, err)

	actions := f.TriggerEvents([]TriggerEvent{NewTriggerEvent(EventNormalSent)}, 0)
	require.Len(t, actions, 1, "padding action scheduled on entry to state 1")

	actions = f.TriggerEvents([]TriggerEvent{NewMachineTriggerEvent(EventPaddingSent, FromRaw(0))}, 1)
	assert.Empty(t, actions, "STATE_END must clear the pending action, not leave it scheduled")
}

func TestFrameworkNoEventsNoActions(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	m := paddingOnTransition(t, 1)
	f, err := New([]Machine{m}, 0, 0, 0, rng)
	require.NoError(t, err)

	actions := f.TriggerEvents(nil, 0)
	assert.Empty(t, actions)
}

func TestFrameworkRejectsOutOfRangeFractions(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	m := paddingOnTransition(t, 1)
	_, err := New([]Machine{m}, 1.5, 0, 0, rng)
	assert.ErrorIs(t, err, ErrLimitInvalid)

	_, err = New([]Machine{m}, 0, -0.1, 0, rng)
	assert.ErrorIs(t, err, ErrLimitInvalid)
}

func TestFrameworkSignalFansOutToOtherMachines(t *testing.T) {
	rng := rand.New(rand.NewSource(2))

	// Machine 0 signals on NormalSent from state 0.
	signaler, err := NewMachine(0, 0, 0, 0, []State{
		NewState(map[Event][]Trans{
			EventNormalSent: {{Target: StateSignal, Probability: 1}},
		}),
	})
	require.NoError(t, err)

	// Machine 1 sends padding on receiving a Signal.
	listener, err := NewMachine(0, 0, 0, 0, []State{
		func() State {
			s := NewState(map[Event][]Trans{
				EventSignal: {{Target: 1, Probability: 1}},
			})
			return s
		}(),
		func() State {
			s := NewState(nil)
			action := NewSendPaddingAction(false, false, Dist{Kind: DistUniform}, nil)
			s.Action = &action
			return s
		}(),
	})
	require.NoError(t, err)

	f, err := New([]Machine{signaler, listener}, 0, 0, 0, rng)
	require.NoError(t, err)

	actions := f.TriggerEvents([]TriggerEvent{NewTriggerEvent(EventNormalSent)}, 0)
	require.Len(t, actions, 1, "listener must receive the Signal fan-out and schedule padding")
	assert.Equal(t, MachineID(1), actions[0].Machine)
}

func TestFrameworkCounterZeroTriggersRecursiveTransition(t *testing.T) {
	rng := rand.New(rand.NewSource(3))

	m, err := NewMachine(0, 0, 0, 0, []State{
		func() State {
			s := NewState(map[Event][]Trans{
				EventNormalSent: {{Target: 0, Probability: 1}},
				EventCounterZero: {{Target: 1, Probability: 1}},
			})
			s.CounterA = &Counter{Operation: OperationDecrement, Dist: &Dist{Kind: DistUniform, Low: 1, High: 1}}
			return s
		}(),
		func() State {
			s := NewState(nil)
			action := NewSendPaddingAction(false, false, Dist{Kind: DistUniform}, nil)
			s.Action = &action
			return s
		}(),
	})
	require.NoError(t, err)

	f, err := New([]Machine{m}, 0, 0, 0, rng)
	require.NoError(t, err)
	f.runtimes[0].counterA = 1

	actions := f.TriggerEvents([]TriggerEvent{NewTriggerEvent(EventNormalSent)}, 0)
	require.Len(t, actions, 1, "counter hitting zero must recursively transition to state 1 and schedule its action")
	assert.Equal(t, 1, f.runtimes[0].currentState)
}
