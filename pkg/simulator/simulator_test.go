package simulator

import (
	"math/rand"
	"testing"
	"time"

	"github.com/jihwankim/maybenot/pkg/maybenot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopNetwork() *NetworkBottleneck {
	return NewNetworkBottleneck(Network{Delay: 0}, time.Second, nil)
}

// paddingMachine builds a two-state machine mirroring spec.md §8 scenario
// 2's "simple pad machine": state 0 moves to state 1 on NormalSent; state 1
// sends padding after a fixed timeout and self-loops on PaddingSent.
func paddingMachine(t *testing.T, timeoutUs float64) maybenot.Machine {
	t.Helper()
	m, err := maybenot.NewMachine(0, 0, 0, 0, []maybenot.State{
		maybenot.NewState(map[maybenot.Event][]maybenot.Trans{
			maybenot.EventNormalSent: {{Target: 1, Probability: 1}},
		}),
		func() maybenot.State {
			s := maybenot.NewState(map[maybenot.Event][]maybenot.Trans{
				maybenot.EventPaddingSent: {{Target: 1, Probability: 1}},
			})
			action := maybenot.NewSendPaddingAction(false, false,
				maybenot.Dist{Kind: maybenot.DistUniform, Low: timeoutUs, High: timeoutUs}, nil)
			s.Action = &action
			return s
		}(),
	})
	require.NoError(t, err)
	return m
}

// blockMachine builds a single-state machine mirroring spec.md §8 scenario
// 3: state 0 blocks outgoing traffic after a fixed timeout for a fixed
// duration, self-looping on BlockingEnd.
func blockMachine(t *testing.T, timeoutUs, durationUs float64) maybenot.Machine {
	t.Helper()
	m, err := maybenot.NewMachine(0, 0, 0, 0, []maybenot.State{
		func() maybenot.State {
			s := maybenot.NewState(map[maybenot.Event][]maybenot.Trans{
				maybenot.EventNormalSent: {{Target: 0, Probability: 1}},
				maybenot.EventBlockingEnd: {{Target: 0, Probability: 1}},
			})
			action := maybenot.NewBlockOutgoingAction(false, false,
				maybenot.Dist{Kind: maybenot.DistUniform, Low: timeoutUs, High: timeoutUs},
				maybenot.Dist{Kind: maybenot.DistUniform, Low: durationUs, High: durationUs}, nil)
			s.Action = &action
			return s
		}(),
	})
	require.NoError(t, err)
	return m
}

func TestSimAdvancedNoMachinesPassesTrafficThrough(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	q := NewSimQueue()
	q.Push(SimEvent{Event: maybenot.NewTriggerEvent(maybenot.EventNormalSent), Time: 0, Client: true, Size: 1420})
	q.Push(SimEvent{Event: maybenot.NewTriggerEvent(maybenot.EventNormalSent), Time: 5, Client: false, Size: 999})

	args := &Args{Network: noopNetwork(), MaxSimIterations: 100}
	out, err := SimAdvanced(nil, nil, q, args, rng)
	require.NoError(t, err)

	require.Len(t, out, 2)
	assert.Equal(t, DirSentNormal, out[0].Direction)
	assert.Equal(t, int64(0), out[0].TimeNanosec)
	assert.Equal(t, uint64(1420), out[0].Size)

	assert.Equal(t, DirRecvNormal, out[1].Direction)
	assert.Equal(t, int64(5), out[1].TimeNanosec)
	assert.Equal(t, uint64(999), out[1].Size)
}

func TestSimAdvancedNoOpMachineEmitsNoPadding(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	noop, err := maybenot.NewMachine(0, 0, 0, 0, []maybenot.State{maybenot.NewState(nil)})
	require.NoError(t, err)

	q := NewSimQueue()
	q.Push(SimEvent{Event: maybenot.NewTriggerEvent(maybenot.EventNormalSent), Time: 0, Client: true, Size: 1420})

	args := &Args{Network: noopNetwork(), MaxSimIterations: 100}
	out, err := SimAdvanced([]maybenot.Machine{noop}, nil, q, args, rng)
	require.NoError(t, err)

	require.Len(t, out, 1)
	assert.Equal(t, DirSentNormal, out[0].Direction)
}

func TestSimAdvancedPaddingMachineSchedulesPadding(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	m := paddingMachine(t, 8)

	q := NewSimQueue()
	q.Push(SimEvent{Event: maybenot.NewTriggerEvent(maybenot.EventNormalSent), Time: 0, Client: true, Size: 1420})

	args := &Args{Network: noopNetwork(), MaxTraceLength: 5}
	out, err := SimAdvanced([]maybenot.Machine{m}, nil, q, args, rng)
	require.NoError(t, err)

	require.LessOrEqual(t, len(out), 5)
	require.GreaterOrEqual(t, len(out), 2)
	assert.Equal(t, DirSentNormal, out[0].Direction)
	assert.Equal(t, int64(0), out[0].TimeNanosec)

	for i, r := range out[1:] {
		assert.Equal(t, DirSentPadding, r.Direction, "record %d", i+1)
		assert.Equal(t, uint64(DefaultCellSize), r.Size)
	}
	// Each padding fires 8us after the last, since the machine self-loops
	// with a fixed 8us timeout.
	for i := 2; i < len(out); i++ {
		assert.Equal(t, out[i-1].TimeNanosec+8, out[i].TimeNanosec)
	}
}

func TestSimAdvancedRespectsMaxSimIterations(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	m := paddingMachine(t, 8)

	q := NewSimQueue()
	q.Push(SimEvent{Event: maybenot.NewTriggerEvent(maybenot.EventNormalSent), Time: 0, Client: true, Size: 1420})

	args := &Args{Network: noopNetwork(), MaxSimIterations: 10}
	out, err := SimAdvanced([]maybenot.Machine{m}, nil, q, args, rng)
	require.NoError(t, err)
	// Bounded run: must terminate without hitting a huge trace, since the
	// padding machine would otherwise self-loop forever.
	assert.Less(t, len(out), 10)
}

func TestSimAdvancedOnlyClientEventsFiltersServerTraffic(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	q := NewSimQueue()
	q.Push(SimEvent{Event: maybenot.NewTriggerEvent(maybenot.EventNormalSent), Time: 0, Client: true, Size: 100})
	q.Push(SimEvent{Event: maybenot.NewTriggerEvent(maybenot.EventNormalSent), Time: 1, Client: false, Size: 100})

	args := &Args{Network: noopNetwork(), MaxSimIterations: 100, OnlyClientEvents: true}
	out, err := SimAdvanced(nil, nil, q, args, rng)
	require.NoError(t, err)

	require.Len(t, out, 1)
	assert.Equal(t, DirSentNormal, out[0].Direction)
}

func TestSimAdvancedBlockingMachineDoesNotDeadlock(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	m := blockMachine(t, 5, 5)

	q := NewSimQueue()
	q.Push(SimEvent{Event: maybenot.NewTriggerEvent(maybenot.EventNormalSent), Time: 0, Client: true, Size: 1420})
	q.Push(SimEvent{Event: maybenot.NewTriggerEvent(maybenot.EventNormalSent), Time: 18, Client: true, Size: 1420})

	args := &Args{Network: noopNetwork(), MaxSimIterations: 200}
	out, err := SimAdvanced([]maybenot.Machine{m}, nil, q, args, rng)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, DirSentNormal, out[0].Direction)
	assert.Equal(t, DirSentNormal, out[1].Direction)
}

func TestParseTraceAdvancedBuildsQueueFromRecords(t *testing.T) {
	q, err := ParseTraceAdvanced("0,s,1420\n10,r,1420\n20,sp,514\n")
	require.NoError(t, err)
	// The sp line is pre-existing padding and must not seed a NormalSent.
	assert.Equal(t, 2, q.Len())
}

func TestParseTraceAdvancedPropagatesParseErrors(t *testing.T) {
	_, err := ParseTraceAdvanced("not,a,valid,line\n")
	assert.ErrorIs(t, err, maybenot.ErrTraceInvalid)
}
