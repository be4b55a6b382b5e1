package maybenot

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimitedFrameworkClearsActionsAboveCap(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	m := paddingOnTransition(t, 1)
	inner, err := New([]Machine{m}, 0, 0, 0, rng)
	require.NoError(t, err)

	rl := NewRateLimited(*inner, 0)

	first := rl.TriggerEvents([]TriggerEvent{NewTriggerEvent(EventNormalSent)}, 0, 1)
	require.Len(t, first, 1, "first action within the window must pass through")

	second := rl.TriggerEvents([]TriggerEvent{NewMachineTriggerEvent(EventPaddingSent, FromRaw(0))}, 100, 1)
	assert.Empty(t, second, "second action within the same 1s window at cap=1 must be cleared")
}

func TestRateLimitedFrameworkResetsAfterWindow(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	m := paddingOnTransition(t, 1)
	inner, err := New([]Machine{m}, 0, 0, 0, rng)
	require.NoError(t, err)

	rl := NewRateLimited(*inner, 0)

	first := rl.TriggerEvents([]TriggerEvent{NewTriggerEvent(EventNormalSent)}, 0, 1)
	require.Len(t, first, 1)

	// 3 seconds later: the window has fully rolled over twice, prev resets
	// to 0, so the cap no longer sees the earlier action.
	actions := rl.TriggerEvents(nil, 3_000_000, 1)
	assert.Empty(t, actions, "no new padding action expected without a qualifying event")
	assert.Equal(t, 0.0, rl.prevCount)
	assert.Equal(t, uint64(0), rl.currentCount)
	assert.Equal(t, Time(3_000_000), rl.windowStart)
}

func TestRateLimitedFrameworkEventsStillProcessedWhenCleared(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	m := paddingOnTransition(t, 1)
	inner, err := New([]Machine{m}, 0, 0, 0, rng)
	require.NoError(t, err)

	rl := NewRateLimited(*inner, 0)
	rl.TriggerEvents([]TriggerEvent{NewTriggerEvent(EventNormalSent)}, 0, 1)
	rl.TriggerEvents([]TriggerEvent{NewMachineTriggerEvent(EventPaddingSent, FromRaw(0))}, 100, 1)

	// Even though the second call's actions were cleared, the underlying
	// machine must still have transitioned on the PaddingSent event.
	assert.Equal(t, 1, rl.Framework().runtimes[0].currentState)
}
