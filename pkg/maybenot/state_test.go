package maybenot

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateValidateOutOfBoundsTarget(t *testing.T) {
	s := NewState(map[Event][]Trans{
		EventNormalRecv: {{Target: 5, Probability: 1}},
	})
	err := s.Validate(2)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMachineInvalid)
}

func TestStateValidatePseudoStatesAllowed(t *testing.T) {
	s := NewState(map[Event][]Trans{
		EventNormalRecv: {{Target: StateEnd, Probability: 0.5}, {Target: StateSignal, Probability: 0.5}},
	})
	assert.NoError(t, s.Validate(1))
}

func TestStateValidateDuplicateTarget(t *testing.T) {
	s := NewState(map[Event][]Trans{
		EventNormalRecv: {{Target: 0, Probability: 0.5}, {Target: 0, Probability: 0.5}},
	})
	assert.Error(t, s.Validate(2))
}

func TestStateValidateProbabilityOutOfRange(t *testing.T) {
	over := NewState(map[Event][]Trans{
		EventNormalRecv: {{Target: 0, Probability: 1.5}},
	})
	assert.Error(t, over.Validate(1))

	zero := NewState(map[Event][]Trans{
		EventNormalRecv: {{Target: 0, Probability: 0}},
	})
	assert.Error(t, zero.Validate(1))
}

func TestStateSampleStateResidualMassIsNoOp(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	s := NewState(map[Event][]Trans{
		EventNormalRecv: {{Target: 0, Probability: 0.0000001}},
	})
	hit := false
	for i := 0; i < 1000; i++ {
		if _, ok := s.SampleState(EventNormalRecv, rng); ok {
			hit = true
		}
	}
	assert.False(t, hit, "residual probability mass should rarely-to-never fire in 1000 draws")
}

func TestStateSampleStateNoVectorReturnsFalse(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	var s State
	_, ok := s.SampleState(EventNormalRecv, rng)
	assert.False(t, ok)
}

func TestStateGetTransitionsOnlyNonEmpty(t *testing.T) {
	s := NewState(map[Event][]Trans{
		EventNormalRecv: {{Target: 0, Probability: 1}},
	})
	out := s.GetTransitions()
	assert.Len(t, out, 1)
	assert.Contains(t, out, EventNormalRecv)
}
