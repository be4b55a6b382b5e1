package simulator

import (
	"container/heap"
	"fmt"
	"math/rand"
	"time"

	"github.com/jihwankim/maybenot/pkg/logging"
	"github.com/jihwankim/maybenot/pkg/maybenot"
)

// simState is one side's (client or server) running state during
// simulation: its framework instance, any machine actions scheduled but not
// yet concrete, and its active-blocking bookkeeping.
type simState struct {
	framework          *maybenot.Framework
	integration        *Integration
	scheduled          []pendingSchedule
	blockingUntil      maybenot.Time
	blockingStartedAt  maybenot.Time
	blockingBypassable bool
}

// pendingSchedule is a TriggerAction converted into a concrete future
// event, held until its deadline arrives.
type pendingSchedule struct {
	at     maybenot.Time
	action maybenot.TriggerAction
}

// Args configures one SimAdvanced run.
type Args struct {
	Network             *NetworkBottleneck
	ClientIntegration   *Integration
	ServerIntegration   *Integration
	MaxTraceLength      int
	MaxSimIterations    int
	OnlyNetworkActivity bool
	OnlyClientEvents    bool
	// Logger, if set, receives debug-level tracing of the main loop's time
	// advances and blocking transitions.
	Logger *logging.Logger
}

func (a *Args) debugf(msg string, fields ...interface{}) {
	if a.Logger != nil {
		a.Logger.Debug(msg, fields...)
	}
}

// ParseTraceAdvanced parses a base trace and seeds a SimQueue: client-origin
// records (s/sn) push a client-side NormalSent, server-origin records
// (r/rn) push a server-side NormalSent, per spec.md §6 ("what the
// application would have sent had no defense run"). sp/rp records are
// skipped here; ParseTrace itself returns them.
func ParseTraceAdvanced(text string) (*SimQueue, error) {
	records, err := ParseTrace(text)
	if err != nil {
		return nil, err
	}

	q := NewSimQueue()
	for _, r := range records {
		if r.Direction.IsPadding() {
			continue
		}
		q.Push(SimEvent{
			Event:  maybenot.NewTriggerEvent(maybenot.EventNormalSent),
			Time:   maybenot.Time(r.TimeNanosec),
			Client: r.Direction.IsClient(),
			Size:   r.Size,
		})
	}
	return q, nil
}

// SimAdvanced runs the simulator: it replays the base trace in queue against
// the given client/server machine sets, through the network model in args,
// and returns the emitted trace. The emitted trace follows spec.md §6's
// "Trace format (emitted)": only NormalSent/PaddingSent-derived sn/sp/rn/rp
// records are written — TunnelSent/TunnelRecv and blocking begin/end are
// internal propagation bookkeeping with no wire-visible record of their own,
// since each physical packet appears on the wire exactly once.
func SimAdvanced(machinesClient, machinesServer []maybenot.Machine, queue *SimQueue, args *Args, rng *rand.Rand) ([]TraceRecord, error) {
	startTime, ok := queue.GetFirstTime()
	if !ok {
		return nil, nil
	}

	clientFW, err := maybenot.New(machinesClient, 0, 0, startTime, rng)
	if err != nil {
		return nil, fmt.Errorf("client framework: %w", err)
	}
	serverFW, err := maybenot.New(machinesServer, 0, 0, startTime, rng)
	if err != nil {
		return nil, fmt.Errorf("server framework: %w", err)
	}

	client := &simState{framework: clientFW, integration: args.ClientIntegration}
	server := &simState{framework: serverFW, integration: args.ServerIntegration}

	now := startTime
	var out []TraceRecord
	iterations := 0

	for {
		if args.MaxSimIterations > 0 && iterations >= args.MaxSimIterations {
			break
		}
		if args.MaxTraceLength > 0 && len(out) >= args.MaxTraceLength {
			break
		}
		iterations++

		clientBaseDelay := args.Network.ClientAggregateBaseDelay
		serverBaseDelay := args.Network.ServerAggregateBaseDelay

		_, which, isClient, eventDelay, haveEvent := peekSendable(queue, client, server, clientBaseDelay, serverBaseDelay, now)
		scheduledAt, scheduledSide, haveScheduled := earliestScheduled(client, server)
		blockExpiryAt, blockSide, haveBlockExpiry := earliestBlockExpiry(client, server)
		aggDelay := args.Network.PeekAggregateDelay(now)

		if !haveEvent && !haveScheduled && !haveBlockExpiry && aggDelay >= time.Duration(1<<61) {
			return out, nil
		}

		candidate, chosen := now, "none"
		if haveEvent {
			candidate, chosen = now+maybenot.Time(eventDelay/time.Microsecond), "event"
		}
		if haveScheduled && (chosen == "none" || scheduledAt < candidate) {
			candidate, chosen = scheduledAt, "scheduled"
		}
		if haveBlockExpiry && (chosen == "none" || blockExpiryAt < candidate) {
			candidate, chosen = blockExpiryAt, "blockexpiry"
		}
		if aggDelay < time.Duration(1<<61) {
			aggAt := now + maybenot.Time(aggDelay/time.Microsecond)
			if chosen == "none" || aggAt < candidate {
				candidate, chosen = aggAt, "aggdelay"
			}
		}

		if candidate < now {
			panic("simulator: selected an event earlier than the current time, this is a library bug")
		}
		now = candidate
		args.debugf("main loop advancing", "now", int64(now), "picked", chosen)

		switch chosen {
		case "aggdelay":
			args.Network.PopAggregateDelay()

		case "blockexpiry":
			side, isClientSide := resolveSide(client, server, blockSide)
			blockDuration := now - side.blockingStartedAt
			// Clear to the zero sentinel, not now-1: a positive value would
			// read back as a still-pending expiry in earliestBlockExpiry and
			// re-fire in the past, violating the clock's monotonicity.
			side.blockingUntil = 0
			args.debugf("blocking ended", "client", isClientSide, "duration_us", int64(blockDuration))
			actions := side.framework.TriggerEvents([]maybenot.TriggerEvent{
				maybenot.NewTriggerEvent(maybenot.EventBlockingEnd),
			}, now)
			enactActions(side, actions, now)
			args.Network.PushAggregateDelay(time.Duration(blockDuration)*time.Microsecond, now, isClientSide)

		case "scheduled":
			side, isClientSide := resolveSide(client, server, scheduledSide)
			act := popScheduled(side, now)
			enactConcrete(side, isClientSide, act, now, queue, args)

		case "event":
			baseDelay := serverBaseDelay
			if isClient {
				baseDelay = clientBaseDelay
			}
			popped, ok := queue.Pop(which, isClient, baseDelay)
			if !ok {
				continue
			}
			side := server
			if isClient {
				side = client
			}

			switch popped.Event.Kind() {
			case maybenot.EventNormalSent, maybenot.EventPaddingSent:
				processSend(side, isClient, popped, now, args, queue, rng, &out)
			case maybenot.EventTunnelSent:
				processTunnelSent(side, isClient, popped, now, queue, args, rng, client, server)
			case maybenot.EventTunnelRecv:
				processTunnelRecv(side, popped, now)
			case maybenot.EventNormalRecv, maybenot.EventPaddingRecv:
				actions := side.framework.TriggerEvents([]maybenot.TriggerEvent{popped.Event}, now)
				enactActions(side, actions, now)
			}
		}
	}

	return out, nil
}

// peekSendable returns the globally earliest event eligible to fire right
// now: a side with an active (non-bypassable-exempt) block excludes its
// blocked sub-heap(s) from consideration until the block clears, per
// spec.md §4.6's peek_blocking/peek_non_blocking split.
func peekSendable(queue *SimQueue, client, server *simState, clientBaseDelay, serverBaseDelay time.Duration, now maybenot.Time) (SimEvent, Queue, bool, time.Duration, bool) {
	ce, cq, cok := peekSide(queue, &queue.client, client, clientBaseDelay, now)
	se, sq, sok := peekSide(queue, &queue.server, server, serverBaseDelay, now)

	switch {
	case cok && !sok:
		return ce, cq, true, durUntil(now, ce.Time), true
	case !cok && sok:
		return se, sq, false, durUntil(now, se.Time), true
	case !cok && !sok:
		return SimEvent{}, QueueBlocking, true, 0, false
	default:
		if ce.Time < se.Time || (ce.Time == se.Time && eventRank(ce.Event.Kind()) <= eventRank(se.Event.Kind())) {
			return ce, cq, true, durUntil(now, ce.Time), true
		}
		return se, sq, false, durUntil(now, se.Time), true
	}
}

func durUntil(now, at maybenot.Time) time.Duration {
	if at <= now {
		return 0
	}
	return time.Duration(at-now) * time.Microsecond
}

func peekSide(queue *SimQueue, eq *eventQueue, side *simState, networkDelaySum time.Duration, now maybenot.Time) (SimEvent, Queue, bool) {
	if side.blockingActive(now) {
		isClient := eq == &queue.client
		return queue.PeekNonBlocking(side.blockingBypassable, isClient, networkDelaySum)
	}
	e, which, _, ok := eq.peek(networkDelaySum, now)
	return e, which, ok
}

func (s *simState) blockingActive(now maybenot.Time) bool {
	return s.blockingUntil > 0 && now < s.blockingUntil
}

func resolveSide(client, server, which *simState) (*simState, bool) {
	if which == client {
		return client, true
	}
	return server, false
}

func earliestScheduled(client, server *simState) (maybenot.Time, *simState, bool) {
	cAt, cOK := peekScheduled(client)
	sAt, sOK := peekScheduled(server)
	switch {
	case cOK && sOK:
		if cAt <= sAt {
			return cAt, client, true
		}
		return sAt, server, true
	case cOK:
		return cAt, client, true
	case sOK:
		return sAt, server, true
	default:
		return 0, nil, false
	}
}

func peekScheduled(s *simState) (maybenot.Time, bool) {
	if len(s.scheduled) == 0 {
		return 0, false
	}
	best := s.scheduled[0].at
	for _, p := range s.scheduled[1:] {
		if p.at < best {
			best = p.at
		}
	}
	return best, true
}

func popScheduled(s *simState, now maybenot.Time) maybenot.TriggerAction {
	bestIdx := 0
	for i, p := range s.scheduled {
		if p.at < s.scheduled[bestIdx].at {
			bestIdx = i
		}
	}
	act := s.scheduled[bestIdx].action
	s.scheduled = append(s.scheduled[:bestIdx], s.scheduled[bestIdx+1:]...)
	return act
}

func earliestBlockExpiry(client, server *simState) (maybenot.Time, *simState, bool) {
	var best maybenot.Time
	var side *simState
	if client.blockingUntil > 0 {
		best, side = client.blockingUntil, client
	}
	if server.blockingUntil > 0 && (side == nil || server.blockingUntil < best) {
		best, side = server.blockingUntil, server
	}
	if side == nil {
		return 0, nil, false
	}
	return best, side, true
}

// enactActions converts each returned TriggerAction into a scheduled entry
// on the owning side, per spec.md §4.8 step 4. Cancel clears matching
// pending entries immediately rather than scheduling one.
func enactActions(side *simState, actions []maybenot.TriggerAction, now maybenot.Time) {
	for _, a := range actions {
		if a.Kind == maybenot.ActionCancel {
			cancelScheduled(side, a.Machine, a.CancelTimer)
			continue
		}
		side.scheduled = append(side.scheduled, pendingSchedule{at: now + maybenot.Time(a.Timeout/time.Microsecond), action: a})
	}
}

// cancelScheduled drops machine's own pending entries. TimerAll also drops
// every other machine's pending entries; a specific Timer matches on machine
// only, so every pending entry of that machine is dropped whatever its kind.
// enactActions appends without replacing, so a side may hold several pending
// entries for one machine.
func cancelScheduled(side *simState, machine maybenot.MachineID, timer maybenot.Timer) {
	if timer == maybenot.TimerAll {
		side.scheduled = nil
		return
	}
	kept := side.scheduled[:0]
	for _, p := range side.scheduled {
		if p.action.Machine != machine {
			kept = append(kept, p)
		}
	}
	side.scheduled = kept
}

// enactConcrete turns a scheduled TriggerAction into a concrete queued
// event (padding send or blocking begin) per spec.md §4.8 step 4.
func enactConcrete(side *simState, isClient bool, act maybenot.TriggerAction, now maybenot.Time, queue *SimQueue, args *Args) {
	switch act.Kind {
	case maybenot.ActionSendPadding:
		queue.Push(SimEvent{
			Event:   maybenot.NewMachineTriggerEvent(maybenot.EventPaddingSent, act.Machine),
			Time:    now,
			Client:  isClient,
			Bypass:  act.Bypass,
			Replace: act.Replace,
			Size:    DefaultCellSize,
		})
	case maybenot.ActionBlockOutgoing:
		side.blockingStartedAt = now
		side.blockingUntil = now + maybenot.Time(act.Duration/time.Microsecond)
		side.blockingBypassable = act.Bypass
		args.debugf("blocking began", "client", isClient, "duration_us", int64(act.Duration/time.Microsecond))
		actions := side.framework.TriggerEvents([]maybenot.TriggerEvent{
			maybenot.NewMachineTriggerEvent(maybenot.EventBlockingBegin, act.Machine),
		}, now)
		enactActions(side, actions, now)
	case maybenot.ActionUpdateTimer:
		// Timer-only bookkeeping: no wire event to enqueue.
	}
}

// processSend handles a popped NormalSent/PaddingSent: feeds it to the
// owning framework, appends the single wire-visible trace record for this
// packet (adjusted by the action delay for padding, per spec.md §4.9), and
// pushes the paired TunnelSent that models the packet entering the tunnel.
func processSend(side *simState, isClient bool, popped SimEvent, now maybenot.Time, args *Args, queue *SimQueue, rng *rand.Rand, out *[]TraceRecord) {
	actions := side.framework.TriggerEvents([]maybenot.TriggerEvent{popped.Event}, now)
	enactActions(side, actions, now)

	isPadding := popped.Event.Kind() == maybenot.EventPaddingSent
	emitAt := popped.Time
	if isPadding {
		emitAt += maybenot.Time(side.integration.SampleAction(rng) / time.Microsecond)
	}
	*out = appendTrace(*out, args, isClient, isPadding, emitAt, popped.Size)

	queue.Push(SimEvent{
		Event:           maybenot.NewTriggerEvent(maybenot.EventTunnelSent),
		Time:            popped.Time,
		Client:          isClient,
		Bypass:          popped.Bypass,
		Replace:         popped.Replace,
		ContainsPadding: isPadding,
		Size:            popped.Size,
	})
}

// processTunnelSent handles the tunnel-layer departure of a packet: applies
// replace semantics (spec.md §4.8), feeds EventTunnelSent to the owning
// framework, and schedules the paired TunnelRecv on the opposite side after
// the network and reporting delays.
func processTunnelSent(side *simState, isClient bool, popped SimEvent, now maybenot.Time, queue *SimQueue, args *Args, rng *rand.Rand, client, server *simState) {
	item := popped
	if item.Replace {
		ownQueue := &queue.server
		if isClient {
			ownQueue = &queue.client
		}
		if repl, ok := takeQueuedNormal(ownQueue); ok {
			repl.Bypass = item.Bypass
			item = repl
		}
	}

	actions := side.framework.TriggerEvents([]maybenot.TriggerEvent{item.Event}, now)
	enactActions(side, actions, now)

	netDelay, _ := args.Network.Sample(now, isClient)

	peer := server
	if !isClient {
		peer = client
	}
	arriveAt := now + maybenot.Time(netDelay/time.Microsecond) + maybenot.Time(peer.integration.SampleReporting(rng)/time.Microsecond)

	queue.Push(SimEvent{
		Event:           maybenot.NewTriggerEvent(maybenot.EventTunnelRecv),
		Time:            arriveAt,
		Client:          !isClient,
		ContainsPadding: item.ContainsPadding,
		Size:            item.Size,
	})
}

// takeQueuedNormal scans a side's blocking and bypassable sub-heaps for the
// first queued normal (non-padding) TunnelSent, removing and returning it.
func takeQueuedNormal(q *eventQueue) (SimEvent, bool) {
	if e, ok := removeFirstNormal(&q.blocking); ok {
		return e, true
	}
	return removeFirstNormal(&q.bypassable)
}

func removeFirstNormal(h *simHeap) (SimEvent, bool) {
	for i, e := range *h {
		if !e.ContainsPadding {
			return heap.Remove(h, i).(SimEvent), true
		}
	}
	return SimEvent{}, false
}

// processTunnelRecv handles a packet's arrival at its receiving side: feeds
// EventTunnelRecv, then the classified NormalRecv/PaddingRecv, to the
// owning framework so its machines can react.
func processTunnelRecv(side *simState, popped SimEvent, now maybenot.Time) {
	actions := side.framework.TriggerEvents([]maybenot.TriggerEvent{popped.Event}, now)
	enactActions(side, actions, now)

	classified := maybenot.NewTriggerEvent(maybenot.EventNormalRecv)
	if popped.ContainsPadding {
		classified = maybenot.NewTriggerEvent(maybenot.EventPaddingRecv)
	}
	more := side.framework.TriggerEvents([]maybenot.TriggerEvent{classified}, now)
	enactActions(side, more, now)
}

func appendTrace(out []TraceRecord, args *Args, isClient, isPadding bool, at maybenot.Time, size uint64) []TraceRecord {
	if args.OnlyClientEvents && !isClient {
		return out
	}
	dir := directionFor(isClient, isPadding)
	if size == 0 {
		size = DefaultCellSize
	}
	return append(out, TraceRecord{TimeNanosec: int64(at), Direction: dir, Size: size})
}

// directionFor maps a send event to its wire-trace tag from the trace's
// single client-centric vantage point: a client send is "sent"; a server
// send is what the client observes as "received".
func directionFor(isClient, isPadding bool) Direction {
	switch {
	case isClient && !isPadding:
		return DirSentNormal
	case isClient && isPadding:
		return DirSentPadding
	case !isClient && !isPadding:
		return DirRecvNormal
	default:
		return DirRecvPadding
	}
}
