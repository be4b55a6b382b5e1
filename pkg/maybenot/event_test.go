package maybenot

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventsCoversAllDeclared(t *testing.T) {
	all := Events()
	assert.Equal(t, int(eventNum), len(all))
	assert.Equal(t, EventNormalRecv, all[0])
	assert.Equal(t, EventSignal, all[len(all)-1])
}

func TestTriggerEventKindAndIsEvent(t *testing.T) {
	te := NewMachineTriggerEvent(EventPaddingSent, FromRaw(3))
	assert.Equal(t, EventPaddingSent, te.Kind())
	assert.True(t, te.IsEvent(EventPaddingSent))
	assert.False(t, te.IsEvent(EventNormalSent))
	assert.Equal(t, 3, te.Machine.Raw())
}

func TestTriggerEventStringShortCodes(t *testing.T) {
	assert.Equal(t, "rn", NewTriggerEvent(EventNormalRecv).String())
	assert.Equal(t, "sp", NewTriggerEvent(EventPaddingSent).String())
	assert.Equal(t, "CounterZero", NewTriggerEvent(EventCounterZero).String())
}

func TestEventStringUnknown(t *testing.T) {
	assert.Contains(t, Event(999).String(), "Event(999)")
}
