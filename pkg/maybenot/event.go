package maybenot

import "fmt"

// Event is the internal vocabulary used inside a State's transition table.
// Distinct from TriggerEvent, which is what a host passes across the
// framework's public boundary.
type Event int

const (
	EventNormalRecv Event = iota
	EventPaddingRecv
	EventTunnelRecv
	EventNormalSent
	EventPaddingSent
	EventTunnelSent
	EventBlockingBegin
	EventBlockingEnd
	EventLimitReached
	EventCounterZero
	EventTimerBegin
	EventTimerEnd
	EventSignal

	eventNum
)

func (e Event) String() string {
	switch e {
	case EventNormalRecv:
		return "NormalRecv"
	case EventPaddingRecv:
		return "PaddingRecv"
	case EventTunnelRecv:
		return "TunnelRecv"
	case EventNormalSent:
		return "NormalSent"
	case EventPaddingSent:
		return "PaddingSent"
	case EventTunnelSent:
		return "TunnelSent"
	case EventBlockingBegin:
		return "BlockingBegin"
	case EventBlockingEnd:
		return "BlockingEnd"
	case EventLimitReached:
		return "LimitReached"
	case EventCounterZero:
		return "CounterZero"
	case EventTimerBegin:
		return "TimerBegin"
	case EventTimerEnd:
		return "TimerEnd"
	case EventSignal:
		return "Signal"
	default:
		return fmt.Sprintf("Event(%d)", int(e))
	}
}

// Events returns all Event values in declaration order.
func Events() []Event {
	out := make([]Event, eventNum)
	for i := range out {
		out[i] = Event(i)
	}
	return out
}

// TriggerEvent is the host-facing variant of Event: it carries the
// MachineId of the originating machine where the underlying Event needs
// one, and is what a caller passes to Framework.TriggerEvents.
type TriggerEvent struct {
	kind    Event
	Machine MachineID
}

// NewTriggerEvent constructs a TriggerEvent of the given kind without a
// machine association (NormalRecv, PaddingRecv, NormalSent, TunnelSent,
// TunnelRecv, BlockingEnd).
func NewTriggerEvent(kind Event) TriggerEvent {
	return TriggerEvent{kind: kind}
}

// NewMachineTriggerEvent constructs a TriggerEvent associated with a
// specific machine (PaddingSent, BlockingBegin, TimerBegin, TimerEnd).
func NewMachineTriggerEvent(kind Event, m MachineID) TriggerEvent {
	return TriggerEvent{kind: kind, Machine: m}
}

// Kind returns the underlying Event this TriggerEvent represents.
func (te TriggerEvent) Kind() Event {
	return te.kind
}

// IsEvent reports whether this TriggerEvent represents the given Event.
func (te TriggerEvent) IsEvent(e Event) bool {
	return te.kind == e
}

func (te TriggerEvent) String() string {
	switch te.kind {
	case EventNormalRecv:
		return "rn"
	case EventPaddingRecv:
		return "rp"
	case EventTunnelRecv:
		return "rt"
	case EventNormalSent:
		return "sn"
	case EventPaddingSent:
		return "sp"
	case EventTunnelSent:
		return "st"
	case EventBlockingBegin:
		return "bb"
	case EventBlockingEnd:
		return "be"
	case EventTimerBegin:
		return "tb"
	case EventTimerEnd:
		return "te"
	default:
		return te.kind.String()
	}
}
