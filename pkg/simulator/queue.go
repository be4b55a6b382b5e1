// Package simulator replays a base trace of NormalSent events through a
// pair of maybenot frameworks (client, server) connected by a modeled
// network, producing an emitted trace of what actually appeared on the
// wire.
package simulator

import (
	"container/heap"
	"time"

	"github.com/jihwankim/maybenot/pkg/maybenot"
)

// Queue names the four sub-heaps an EventQueue splits events across.
type Queue int

const (
	QueueBlocking Queue = iota
	QueueBypassable
	QueueInternal
	QueueBase
)

// SimEvent is one event waiting in a SimQueue: the underlying framework
// TriggerEvent plus the simulator bookkeeping needed to place, replay, and
// emit it.
type SimEvent struct {
	Event             maybenot.TriggerEvent
	Time              maybenot.Time
	IntegrationDelay  time.Duration
	Client            bool
	ContainsPadding   bool
	Bypass            bool
	Replace           bool
	Size              uint64
	PropagateBaseDelay *maybenot.Time
}

// eventRank gives the tie-break order spec.md requires for simultaneous
// events: recv before send, before begin/end blocking, with everything else
// last.
func eventRank(e maybenot.Event) int {
	switch e {
	case maybenot.EventNormalRecv, maybenot.EventPaddingRecv, maybenot.EventTunnelRecv:
		return 0
	case maybenot.EventNormalSent, maybenot.EventPaddingSent, maybenot.EventTunnelSent:
		return 1
	case maybenot.EventBlockingBegin, maybenot.EventBlockingEnd:
		return 2
	default:
		return 3
	}
}

// less orders two SimEvent by (time, rank): earlier time first, ties broken
// by eventRank.
func less(a, b SimEvent) bool {
	if a.Time != b.Time {
		return a.Time < b.Time
	}
	return eventRank(a.Event.Kind()) < eventRank(b.Event.Kind())
}

// simHeap is a container/heap min-heap of SimEvent ordered by (time, rank).
type simHeap []SimEvent

func (h simHeap) Len() int            { return len(h) }
func (h simHeap) Less(i, j int) bool  { return less(h[i], h[j]) }
func (h simHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *simHeap) Push(x interface{}) { *h = append(*h, x.(SimEvent)) }
func (h *simHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
func (h simHeap) peek() (SimEvent, bool) {
	if len(h) == 0 {
		return SimEvent{}, false
	}
	return h[0], true
}

// eventQueue is one side's (client or server) split queue.
type eventQueue struct {
	base       simHeap
	blocking   simHeap
	bypassable simHeap
	internal   simHeap
}

func (q *eventQueue) len() int {
	return len(q.base) + len(q.blocking) + len(q.bypassable) + len(q.internal)
}

func (q *eventQueue) push(item SimEvent) {
	switch item.Event.Kind() {
	case maybenot.EventTunnelSent:
		if item.Bypass {
			heap.Push(&q.bypassable, item)
		} else {
			heap.Push(&q.blocking, item)
		}
	case maybenot.EventNormalSent:
		heap.Push(&q.base, item)
	default:
		heap.Push(&q.internal, item)
	}
}

// peek returns the earliest event in the side's queue, the sub-heap it came
// from, and the duration from currentTime until it fires — the base heap's
// event time is shifted by networkDelaySum before comparison.
func (q *eventQueue) peek(networkDelaySum time.Duration, currentTime maybenot.Time) (SimEvent, Queue, time.Duration, bool) {
	if q.len() == 0 {
		return SimEvent{}, QueueBlocking, 0, false
	}

	var (
		first SimEvent
		best  Queue
		have  bool
	)
	consider := func(e SimEvent, which Queue, ok bool) {
		if !ok {
			return
		}
		if !have || less(e, first) {
			first, best, have = e, which, true
		}
	}

	if e, ok := q.bypassable.peek(); ok {
		consider(e, QueueBypassable, true)
	}
	if e, ok := q.blocking.peek(); ok {
		consider(e, QueueBlocking, true)
	}
	if e, ok := q.internal.peek(); ok {
		consider(e, QueueInternal, true)
	}
	if n, ok := q.base.peek(); ok {
		shifted := n
		shifted.Time = n.Time + maybenot.Time(networkDelaySum.Microseconds())
		consider(shifted, QueueBase, true)
	}

	var dur time.Duration
	if first.Time >= currentTime {
		dur = time.Duration(first.Time-currentTime) * time.Microsecond
	}
	return first, best, dur, true
}

// pop removes the chosen sub-heap's minimum; if it came from the base
// heap, its returned time is shifted by the current aggregate network delay.
func (q *eventQueue) pop(which Queue, networkDelaySum time.Duration) (SimEvent, bool) {
	var h *simHeap
	switch which {
	case QueueBlocking:
		h = &q.blocking
	case QueueBypassable:
		h = &q.bypassable
	case QueueInternal:
		h = &q.internal
	case QueueBase:
		h = &q.base
	}
	if h.Len() == 0 {
		return SimEvent{}, false
	}
	item := heap.Pop(h).(SimEvent)
	if which == QueueBase && networkDelaySum != 0 {
		item.Time += maybenot.Time(networkDelaySum.Microseconds())
	}
	return item, true
}

func (q *eventQueue) peekBlocking() (SimEvent, bool)   { return q.blocking.peek() }
func (q *eventQueue) peekBypassable() (SimEvent, bool) { return q.bypassable.peek() }

func (q *eventQueue) peekNonBlocking(networkDelaySum time.Duration) (SimEvent, Queue, bool) {
	b, bok := q.base.peek()
	i, iok := q.internal.peek()
	if bok {
		b.Time += maybenot.Time(networkDelaySum.Microseconds())
	}
	switch {
	case bok && iok:
		if !less(i, b) {
			return b, QueueBase, true
		}
		return i, QueueInternal, true
	case bok:
		return b, QueueBase, true
	case iok:
		return i, QueueInternal, true
	default:
		return SimEvent{}, QueueBlocking, false
	}
}

func (q *eventQueue) firstBaseTime() (maybenot.Time, bool) {
	e, ok := q.base.peek()
	if !ok {
		return 0, false
	}
	return e.Time, true
}

// SimQueue is the simulator's full pending-event queue: one eventQueue per
// side, plus a packets-per-second cap field. The queue and SimAdvanced do
// not read MaxPPS; the bottleneck's cap is whatever NewNetworkBottleneck was
// given.
type SimQueue struct {
	client eventQueue
	server eventQueue
	MaxPPS *int
}

// NewSimQueue creates an empty queue.
func NewSimQueue() *SimQueue {
	return &SimQueue{}
}

// Len returns the total number of pending events across both sides.
func (s *SimQueue) Len() int { return s.client.len() + s.server.len() }

// Push enqueues item on the side it names.
func (s *SimQueue) Push(item SimEvent) {
	if item.Client {
		s.client.push(item)
	} else {
		s.server.push(item)
	}
}

// Peek returns the globally earliest pending event across both sides.
func (s *SimQueue) Peek(networkDelaySum time.Duration, currentTime maybenot.Time) (SimEvent, Queue, bool, time.Duration, bool) {
	ce, cq, cd, cok := s.client.peek(networkDelaySum, currentTime)
	se, sq, sd, sok := s.server.peek(networkDelaySum, currentTime)

	switch {
	case cok && !sok:
		return ce, cq, true, cd, true
	case !cok && sok:
		return se, sq, false, sd, true
	case !cok && !sok:
		return SimEvent{}, QueueBlocking, true, 0, false
	default:
		if cd < sd || (cd == sd && eventRank(ce.Event.Kind()) <= eventRank(se.Event.Kind())) {
			return ce, cq, true, cd, true
		}
		return se, sq, false, sd, true
	}
}

// Pop removes the named sub-heap's earliest event on the named side.
func (s *SimQueue) Pop(which Queue, isClient bool, networkDelaySum time.Duration) (SimEvent, bool) {
	if isClient {
		return s.client.pop(which, networkDelaySum)
	}
	return s.server.pop(which, networkDelaySum)
}

// PeekBlocking returns the earliest event currently blocked on the named
// side. When activeBlockingBypassable is true, only the blocking sub-heap
// counts as blocked (bypassable events flow through); otherwise both
// blocking and bypassable sub-heaps count.
func (s *SimQueue) PeekBlocking(activeBlockingBypassable, isClient bool) (SimEvent, Queue, bool) {
	q := &s.server
	if isClient {
		q = &s.client
	}
	if activeBlockingBypassable {
		e, ok := q.peekBlocking()
		return e, QueueBlocking, ok
	}
	b, bok := q.peekBlocking()
	bb, bbok := q.peekBypassable()
	switch {
	case bok && bbok:
		if less(b, bb) {
			return b, QueueBlocking, true
		}
		return bb, QueueBypassable, true
	case bok:
		return b, QueueBlocking, true
	case bbok:
		return bb, QueueBypassable, true
	default:
		return SimEvent{}, QueueBlocking, false
	}
}

// PeekNonBlocking returns the earliest event not currently subject to
// blocking on the named side: base and internal always qualify; bypassable
// also qualifies when the active block is itself bypassable.
func (s *SimQueue) PeekNonBlocking(bypassable, isClient bool, networkDelaySum time.Duration) (SimEvent, Queue, bool) {
	q := &s.server
	if isClient {
		q = &s.client
	}
	n, nq, nok := q.peekNonBlocking(networkDelaySum)
	if !bypassable {
		return n, nq, nok
	}
	bb, bbok := q.peekBypassable()
	switch {
	case bbok && nok:
		if less(n, bb) {
			return n, nq, true
		}
		return bb, QueueBypassable, true
	case bbok:
		return bb, QueueBypassable, true
	default:
		return n, nq, nok
	}
}

// GetFirstTime returns the earliest base-trace event time across both
// sides, used to seed the simulator's starting clock.
func (s *SimQueue) GetFirstTime() (maybenot.Time, bool) {
	ct, cok := s.client.firstBaseTime()
	st, sok := s.server.firstBaseTime()
	switch {
	case cok && sok:
		if ct < st {
			return ct, true
		}
		return st, true
	case cok:
		return ct, true
	case sok:
		return st, true
	default:
		return 0, false
	}
}
