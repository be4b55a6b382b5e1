package maybenot

import (
	"fmt"
	"math/rand"
	"strings"
)

// Trans is one possible transition out of a State: the target state index
// (or one of the StateEnd/StateSignal pseudo-states) and the probability of
// taking it.
type Trans struct {
	Target      int
	Probability float32
}

// State is one node of a Machine: an optional Action taken on transition
// into it, updates to the machine's two counters (A, B), and a sparse map
// from Event to its ordered transition vector.
type State struct {
	Action   *Action
	CounterA *Counter
	CounterB *Counter

	transitions [eventNum][]Trans
}

// NewState creates a State with no action or counter updates and the given
// per-event transition vectors. Events absent from the map have no
// transitions.
func NewState(transitions map[Event][]Trans) State {
	var s State
	for event, trans := range transitions {
		if len(trans) == 0 {
			continue
		}
		cp := make([]Trans, len(trans))
		copy(cp, trans)
		s.transitions[event] = cp
	}
	return s
}

// Validate checks that every transition vector targets an in-range state
// (or a pseudo-state), has unique targets, and has a per-event probability
// sum in (0, 1]. numStates is the number of states in the owning Machine.
func (s State) Validate(numStates int) error {
	for event := Event(0); event < eventNum; event++ {
		trans := s.transitions[event]
		if trans == nil {
			continue
		}

		var sum float32
		seen := make(map[int]bool, len(trans))
		for _, t := range trans {
			if t.Target >= numStates && t.Target != StateEnd && t.Target != StateSignal {
				return fmt.Errorf("%w: out-of-bounds state index %d for %s", ErrMachineInvalid, t.Target, event)
			}
			if seen[t.Target] {
				return fmt.Errorf("%w: duplicate state index %d for %s", ErrMachineInvalid, t.Target, event)
			}
			seen[t.Target] = true

			if t.Probability <= 0 || t.Probability > 1 {
				return fmt.Errorf("%w: probability %v for %s must be in (0.0, 1.0]", ErrMachineInvalid, t.Probability, event)
			}
			sum += t.Probability
		}
		if sum <= 0 || sum > 1 {
			return fmt.Errorf("%w: total probability %v for %s must be in (0.0, 1.0]", ErrMachineInvalid, sum, event)
		}
	}

	if s.Action != nil {
		if err := s.Action.Validate(); err != nil {
			return err
		}
	}
	if s.CounterA != nil {
		if err := s.CounterA.Validate(); err != nil {
			return err
		}
	}
	if s.CounterB != nil {
		if err := s.CounterB.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// SampleState draws a transition target for the given event; the bool is
// false if no transition fires (either no vector is defined for the event, or the draw
// lands in the residual "no-op" probability mass).
func (s State) SampleState(event Event, rng *rand.Rand) (int, bool) {
	trans := s.transitions[event]
	if trans == nil {
		return 0, false
	}
	r := rng.Float64()
	var sum float32
	for _, t := range trans {
		sum += t.Probability
		if r < float64(sum) {
			return t.Target, true
		}
	}
	return 0, false
}

// GetTransitions returns the transition vectors for every event that has
// one, keyed by Event.
func (s State) GetTransitions() map[Event][]Trans {
	out := make(map[Event][]Trans)
	for event := Event(0); event < eventNum; event++ {
		if len(s.transitions[event]) > 0 {
			out[event] = s.transitions[event]
		}
	}
	return out
}

// describe renders a human-readable summary of the state's action, counter
// updates, and transitions, used by Machine.String.
func (s State) describe() string {
	var sb strings.Builder
	if s.Action != nil {
		fmt.Fprintf(&sb, "  action: %+v\n", *s.Action)
	} else {
		sb.WriteString("  action: None\n")
	}
	switch {
	case s.CounterA != nil && s.CounterB != nil:
		fmt.Fprintf(&sb, "  counter A: %+v\n  counter B: %+v\n", *s.CounterA, *s.CounterB)
	case s.CounterA != nil:
		fmt.Fprintf(&sb, "  counter A: %+v\n", *s.CounterA)
	case s.CounterB != nil:
		fmt.Fprintf(&sb, "  counter B: %+v\n", *s.CounterB)
	default:
		sb.WriteString("  counter: None\n")
	}

	sb.WriteString("  transitions:\n")
	for event := Event(0); event < eventNum; event++ {
		trans := s.transitions[event]
		if len(trans) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "    %s:", event)
		for i, t := range trans {
			if i > 0 {
				sb.WriteString(",")
			}
			if t.Probability == 1 {
				fmt.Fprintf(&sb, " %d", t.Target)
			} else {
				fmt.Fprintf(&sb, " %d (%v)", t.Target, t.Probability)
			}
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
