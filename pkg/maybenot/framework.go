package maybenot

import (
	"fmt"
	"math/rand"
	"time"
)

// Time is a monotonic clock reading in microseconds since an arbitrary
// epoch, as supplied by the caller to New and TriggerEvents. The engine
// never reads a wall clock itself.
type Time uint64

// sub returns a-b saturated at zero: a non-monotonic jump backwards in the
// caller's clock yields a zero duration rather than an error or a panic.
func (a Time) sub(b Time) uint64 {
	if a < b {
		return 0
	}
	return uint64(a - b)
}

// MachineID is an opaque handle for one machine running inside a Framework,
// carried on TriggerEvent/TriggerAction variants that need to name a
// specific machine.
type MachineID int

// FromRaw builds a MachineID from a raw index. Intended for tests and FFI
// wrappers; regular callers use the MachineID embedded in the TriggerAction
// the Framework already gave them.
func FromRaw(raw int) MachineID { return MachineID(raw) }

// Raw returns the underlying integer index.
func (m MachineID) Raw() int { return int(m) }

type machineRuntime struct {
	currentState           int
	stateLimit             uint64
	paddingSent            uint64
	normalSent             uint64
	blockingDuration       uint64 // accumulated microseconds
	machineStart           Time
	allowedBlockedMicrosec uint64
	counterA               uint64
	counterB               uint64
}

type stateChange bool

const (
	changed   stateChange = true
	unchanged stateChange = false
)

// Framework is an instance of the Maybenot engine: it repeatedly takes as
// input zero or more TriggerEvent describing traffic over an encrypted
// tunnel and produces as output zero or more TriggerAction to execute.
type Framework struct {
	currentTime Time
	rng         *rand.Rand

	actions  []*TriggerAction
	machines []Machine
	runtimes []machineRuntime

	maxPaddingFrac     float64
	normalSentPackets  uint64
	paddingSentPackets uint64

	maxBlockingFrac  float64
	blockingDuration uint64
	blockingStarted  Time
	blockingActive   bool

	// signal fan-out bookkeeping: signalActive means a Signal resolution is
	// pending for this pass; signalExclude < 0 means "signal every
	// machine", otherwise it names the one machine to exclude (the
	// originator of the first signal seen this pass).
	signalActive  bool
	signalExclude int

	frameworkStart Time
}

// New creates a Framework running the given machines. maxPaddingFrac and
// maxBlockingFrac bound the total fraction of padding/blocking overhead
// across all machines combined; each must be a fraction in [0.0, 1.0].
// currentTime seeds the framework's and every machine's start time.
func New(machines []Machine, maxPaddingFrac, maxBlockingFrac float64, currentTime Time, rng *rand.Rand) (*Framework, error) {
	if maxPaddingFrac < 0 || maxPaddingFrac > 1 {
		return nil, fmt.Errorf("%w: max padding fraction must be [0.0, 1.0]", ErrLimitInvalid)
	}
	if maxBlockingFrac < 0 || maxBlockingFrac > 1 {
		return nil, fmt.Errorf("%w: max blocking fraction must be [0.0, 1.0]", ErrLimitInvalid)
	}

	runtimes := make([]machineRuntime, len(machines))
	for i, m := range machines {
		if err := m.Validate(); err != nil {
			return nil, err
		}
		runtimes[i] = machineRuntime{
			machineStart:           currentTime,
			allowedBlockedMicrosec: m.AllowedBlockedMicrosec,
		}
	}

	f := &Framework{
		actions:        make([]*TriggerAction, len(machines)),
		machines:       machines,
		runtimes:       runtimes,
		currentTime:    currentTime,
		rng:            rng,
		maxPaddingFrac: maxPaddingFrac,
		maxBlockingFrac: maxBlockingFrac,
		frameworkStart: currentTime,
		blockingStarted: currentTime,
		signalExclude:  -1,
	}

	for i := range f.runtimes {
		if action := f.machines[i].States[0].Action; action != nil {
			f.runtimes[i].stateLimit = action.sampleLimit(f.rng)
		}
	}

	return f, nil
}

// NumMachines returns the number of machines running in the framework.
func (f *Framework) NumMachines() int {
	return len(f.machines)
}

// TriggerEvents triggers zero or more TriggerEvent for every machine in the
// framework and returns the zero or more TriggerAction that MUST then be
// taken by the caller. currentTime SHOULD be a monotonically nondecreasing
// clock; a backwards jump is tolerated (accounting may be slightly off) but
// never causes an error.
func (f *Framework) TriggerEvents(events []TriggerEvent, currentTime Time) []TriggerAction {
	for i := range f.actions {
		f.actions[i] = nil
	}
	f.currentTime = currentTime

	for _, e := range events {
		f.processEvent(e)
		f.resolveSignal()
	}

	out := make([]TriggerAction, 0, len(f.actions))
	for _, a := range f.actions {
		if a != nil {
			out = append(out, *a)
		}
	}
	return out
}

// resolveSignal runs the at-most-two-wave Signal fan-out after an input
// event: the originating machine's Signal is delivered to every other
// machine; if one of those responds with its own signal, the set widens to
// include the originator too.
func (f *Framework) resolveSignal() {
	if !f.signalActive {
		return
	}

	originalExclude := f.signalExclude
	hadExclusion := originalExclude >= 0
	excludedMI := -1

	for mi := range f.runtimes {
		if hadExclusion && mi == originalExclude {
			excludedMI = mi
			continue
		}
		f.transition(mi, EventSignal)
	}

	if hadExclusion && f.signalExclude < 0 {
		f.transition(excludedMI, EventSignal)
	}

	f.signalActive = false
	f.signalExclude = -1
}

func (f *Framework) processEvent(e TriggerEvent) {
	switch e.kind {
	case EventNormalRecv:
		for mi := range f.runtimes {
			f.transition(mi, EventNormalRecv)
		}
	case EventPaddingRecv:
		for mi := range f.runtimes {
			f.transition(mi, EventPaddingRecv)
		}
	case EventTunnelRecv:
		for mi := range f.runtimes {
			f.transition(mi, EventTunnelRecv)
		}
	case EventNormalSent:
		f.normalSentPackets++
		for mi := range f.runtimes {
			f.runtimes[mi].normalSent++
			f.transition(mi, EventNormalSent)
		}
	case EventPaddingSent:
		f.paddingSentPackets++
		mi := e.Machine.Raw()
		if mi < 0 || mi >= len(f.runtimes) {
			return
		}
		f.runtimes[mi].paddingSent++
		if f.transition(mi, EventPaddingSent) == unchanged && f.runtimes[mi].currentState != StateEnd {
			f.decrementLimit(mi)
		}
	case EventTunnelSent:
		for mi := range f.runtimes {
			f.transition(mi, EventTunnelSent)
		}
	case EventBlockingBegin:
		if !f.blockingActive {
			f.blockingActive = true
			f.blockingStarted = f.currentTime
		}
		target := e.Machine.Raw()
		for mi := range f.runtimes {
			if f.transition(mi, EventBlockingBegin) == unchanged && f.runtimes[mi].currentState != StateEnd && mi == target {
				f.decrementLimit(mi)
			}
		}
	case EventBlockingEnd:
		var blocked uint64
		if f.blockingActive {
			blocked = f.currentTime.sub(f.blockingStarted)
			f.blockingDuration += blocked
			f.blockingActive = false
		}
		for mi := range f.runtimes {
			if blocked != 0 {
				f.runtimes[mi].blockingDuration += blocked
			}
			f.transition(mi, EventBlockingEnd)
		}
	case EventTimerBegin:
		mi := e.Machine.Raw()
		if mi < 0 || mi >= len(f.runtimes) {
			return
		}
		if f.transition(mi, EventTimerBegin) == unchanged && f.runtimes[mi].currentState != StateEnd {
			f.decrementLimit(mi)
		}
	case EventTimerEnd:
		mi := e.Machine.Raw()
		if mi < 0 || mi >= len(f.runtimes) {
			return
		}
		f.transition(mi, EventTimerEnd)
	}
}

func (f *Framework) transition(mi int, event Event) stateChange {
	if f.runtimes[mi].currentState == StateEnd {
		return unchanged
	}

	state := f.machines[mi].States[f.runtimes[mi].currentState]
	target, ok := state.SampleState(event, f.rng)
	if !ok {
		return unchanged
	}

	switch target {
	case StateEnd:
		f.runtimes[mi].currentState = StateEnd
		f.actions[mi] = nil
		return changed
	case StateSignal:
		if !f.signalActive {
			f.signalActive = true
			f.signalExclude = mi
		} else {
			f.signalExclude = -1
		}
		return unchanged
	default:
		var result stateChange
		if f.runtimes[mi].currentState == target {
			result = unchanged
		} else {
			f.runtimes[mi].currentState = target
			if action := f.machines[mi].States[target].Action; action != nil {
				f.runtimes[mi].stateLimit = action.sampleLimit(f.rng)
			} else {
				f.runtimes[mi].stateLimit = StateLimitMax
			}
			result = changed
		}

		trans, zeroed := f.updateCounter(mi)
		if zeroed {
			if trans == changed {
				return trans
			}
			return result
		}

		if f.belowActionLimits(mi) {
			f.scheduleAction(mi)
		}

		return result
	}
}

// updateCounter applies the current state's counter updates to machine mi.
// Counter A is updated before B, but both read the pre-transition snapshot
// of (counterA, counterB) taken before either update runs, matching a
// `copy` counter's "value of the other counter prior to transitioning"
// semantics exactly.
func (f *Framework) updateCounter(mi int) (stateChange, bool) {
	state := f.machines[mi].States[f.runtimes[mi].currentState]

	oldA := f.runtimes[mi].counterA
	oldB := f.runtimes[mi].counterB
	anyZeroed := false

	if ca := state.CounterA; ca != nil {
		var value uint64
		if ca.Copy {
			value = oldB
		} else {
			value = ca.SampleValue(f.rng)
		}
		updated := applyOperation(ca.Operation, f.runtimes[mi].counterA, value)
		f.runtimes[mi].counterA = updated
		if oldA != 0 && updated == 0 {
			anyZeroed = true
		}
	}

	if cb := state.CounterB; cb != nil {
		var value uint64
		if cb.Copy {
			value = oldA
		} else {
			value = cb.SampleValue(f.rng)
		}
		updated := applyOperation(cb.Operation, f.runtimes[mi].counterB, value)
		f.runtimes[mi].counterB = updated
		if oldB != 0 && updated == 0 {
			anyZeroed = true
		}
	}

	if anyZeroed {
		f.actions[mi] = nil
		return f.transition(mi, EventCounterZero), true
	}
	return unchanged, false
}

func applyOperation(op Operation, current, value uint64) uint64 {
	switch op {
	case OperationIncrement:
		sum := current + value
		if sum < current { // overflow
			return ^uint64(0)
		}
		return sum
	case OperationDecrement:
		if value > current {
			return 0
		}
		return current - value
	case OperationSet:
		return value
	default:
		return current
	}
}

func (f *Framework) scheduleAction(mi int) {
	index := MachineID(mi)
	action := f.machines[mi].States[f.runtimes[mi].currentState].Action
	if action == nil {
		f.actions[mi] = nil
		return
	}

	switch action.Kind {
	case ActionCancel:
		f.actions[mi] = &TriggerAction{Kind: ActionCancel, Machine: index, CancelTimer: action.CancelTimer}
	case ActionSendPadding:
		f.actions[mi] = &TriggerAction{
			Kind:    ActionSendPadding,
			Machine: index,
			Timeout: microseconds(action.sampleTimeout(f.rng)),
			Bypass:  action.Bypass,
			Replace: action.Replace,
		}
	case ActionBlockOutgoing:
		f.actions[mi] = &TriggerAction{
			Kind:     ActionBlockOutgoing,
			Machine:  index,
			Timeout:  microseconds(action.sampleTimeout(f.rng)),
			Duration: microseconds(action.sampleDuration(f.rng)),
			Bypass:   action.Bypass,
			Replace:  action.Replace,
		}
	case ActionUpdateTimer:
		f.actions[mi] = &TriggerAction{
			Kind:     ActionUpdateTimer,
			Machine:  index,
			Duration: microseconds(action.sampleDuration(f.rng)),
			Replace:  action.Replace,
		}
	}
}

func microseconds(v uint64) time.Duration {
	return time.Duration(v) * time.Microsecond
}

func (f *Framework) decrementLimit(mi int) {
	if f.runtimes[mi].stateLimit > 0 {
		f.runtimes[mi].stateLimit--
	}

	cs := f.runtimes[mi].currentState
	if action := f.machines[mi].States[cs].Action; action != nil {
		if f.runtimes[mi].stateLimit == 0 && action.hasLimit() {
			f.actions[mi] = nil
			f.transition(mi, EventLimitReached)
		}
	}
}

func (f *Framework) belowActionLimits(mi int) bool {
	rt := f.runtimes[mi]
	action := f.machines[mi].States[rt.currentState].Action
	if action == nil {
		return false
	}

	switch action.Kind {
	case ActionBlockOutgoing:
		return f.belowLimitBlocking(mi)
	case ActionSendPadding:
		return f.belowLimitPadding(mi)
	case ActionUpdateTimer:
		return rt.stateLimit > 0
	default:
		return true
	}
}

func (f *Framework) belowLimitBlocking(mi int) bool {
	rt := f.runtimes[mi]
	machine := f.machines[mi]
	action := machine.States[rt.currentState].Action

	// Replacing active blocking is always allowed, subject only to the
	// machine-internal state limit.
	if action != nil && action.Kind == ActionBlockOutgoing && action.Replace && f.blockingActive {
		return rt.stateLimit > 0
	}

	mBlockDur := rt.blockingDuration
	gBlockDur := f.blockingDuration
	if f.blockingActive {
		elapsed := f.currentTime.sub(f.blockingStarted)
		mBlockDur += elapsed
		gBlockDur += elapsed
	}

	// Machine-allowed blocking budget bypasses the fraction limits entirely.
	if mBlockDur < rt.allowedBlockedMicrosec {
		return rt.stateLimit > 0
	}

	if machine.MaxBlockingFrac > 0 {
		elapsedSinceStart := f.currentTime.sub(rt.machineStart)
		if elapsedSinceStart > 0 {
			frac := float64(mBlockDur) / float64(elapsedSinceStart)
			if frac >= machine.MaxBlockingFrac {
				return false
			}
		}
	}

	if f.maxBlockingFrac > 0 {
		elapsedSinceStart := f.currentTime.sub(f.frameworkStart)
		if elapsedSinceStart > 0 {
			frac := float64(gBlockDur) / float64(elapsedSinceStart)
			if frac >= f.maxBlockingFrac {
				return false
			}
		}
	}

	return rt.stateLimit > 0
}

func (f *Framework) belowLimitPadding(mi int) bool {
	rt := f.runtimes[mi]
	machine := f.machines[mi]

	if rt.paddingSent < machine.AllowedPaddingPackets {
		return rt.stateLimit > 0
	}

	if machine.MaxPaddingFrac > 0 {
		total := rt.normalSent + rt.paddingSent
		if total == 0 {
			return true
		}
		if float64(rt.paddingSent)/float64(total) >= machine.MaxPaddingFrac {
			return false
		}
	}

	if f.maxPaddingFrac > 0 {
		total := f.paddingSentPackets + f.normalSentPackets
		if total == 0 {
			return true
		}
		if float64(f.paddingSentPackets)/float64(total) >= f.maxPaddingFrac {
			return false
		}
	}

	return rt.stateLimit > 0
}
