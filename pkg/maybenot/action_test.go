package maybenot

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActionSampleTimeoutClampsToMaxSampledTimeout(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	a := NewSendPaddingAction(false, false, Dist{Kind: DistUniform, Low: 0, High: MaxSampledTimeout * 10}, nil)
	for i := 0; i < 50; i++ {
		assert.LessOrEqual(t, a.sampleTimeout(rng), uint64(MaxSampledTimeout))
	}
}

func TestActionSampleLimitDefaultsToStateLimitMax(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	a := NewSendPaddingAction(false, false, Dist{Kind: DistUniform}, nil)
	assert.Equal(t, StateLimitMax, a.sampleLimit(rng))
	assert.False(t, a.hasLimit())
}

func TestActionSampleLimitFromDist(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	limit := NewDist(DistUniform, 5, 0)
	a := NewSendPaddingAction(false, false, Dist{Kind: DistUniform}, &limit)
	require.True(t, a.hasLimit())
	assert.Equal(t, uint64(5), a.sampleLimit(rng))
}

func TestActionValidate(t *testing.T) {
	ok := NewBlockOutgoingAction(false, false,
		Dist{Kind: DistUniform, Low: 0, High: 1},
		Dist{Kind: DistUniform, Low: 0, High: 1}, nil)
	assert.NoError(t, ok.Validate())

	bad := NewBlockOutgoingAction(false, false,
		Dist{Kind: DistNormal, Stdev: -1},
		Dist{Kind: DistUniform, Low: 0, High: 1}, nil)
	assert.Error(t, bad.Validate())
}

func TestCancelActionHasNoLimit(t *testing.T) {
	a := NewCancelAction(TimerAction)
	assert.False(t, a.hasLimit())
	assert.Equal(t, StateLimitMax, a.sampleLimit(rand.New(rand.NewSource(1))))
	assert.NoError(t, a.Validate())
}

func TestTimerString(t *testing.T) {
	assert.Equal(t, "Action", TimerAction.String())
	assert.Equal(t, "All", TimerAll.String())
}
