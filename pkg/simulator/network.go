package simulator

import (
	"container/heap"
	"time"

	"github.com/jihwankim/maybenot/pkg/maybenot"
)

// Network models the link between client and server: a fixed one-way
// propagation delay and an optional packets-per-second cap.
type Network struct {
	Delay time.Duration
	PPS   *int
}

// Sample returns the network's propagation delay. Kept as a method (rather
// than a bare field read) since a future network model may randomize it.
func (n Network) Sample() time.Duration {
	return n.Delay
}

// windowCount is a sliding window of recent event timestamps, used by
// NetworkBottleneck to count packets per window for its pps cap.
type windowCount struct {
	window     time.Duration
	timestamps []maybenot.Time
}

func newWindowCount(window time.Duration) *windowCount {
	return &windowCount{window: window}
}

func (w *windowCount) add(now maybenot.Time) int {
	w.timestamps = append(w.timestamps, now)
	windowMicros := maybenot.Time(w.window.Microseconds())
	i := 0
	for i < len(w.timestamps) && now-w.timestamps[i] > windowMicros {
		i++
	}
	w.timestamps = w.timestamps[i:]
	return len(w.timestamps)
}

// pendingAggregateDelay is one queued contribution to a side's aggregate
// base delay, scheduled to take effect at Time.
type pendingAggregateDelay struct {
	Time   maybenot.Time
	Delay  time.Duration
	Client bool
}

type delayHeap []pendingAggregateDelay

func (h delayHeap) Len() int            { return len(h) }
func (h delayHeap) Less(i, j int) bool  { return h[i].Time < h[j].Time }
func (h delayHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *delayHeap) Push(x interface{}) { *h = append(*h, x.(pendingAggregateDelay)) }
func (h *delayHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// clientExpiryMultiplier/peerExpiryMultiplier are the one-way-delay
// multipliers spec.md's §4.7 aggregate-delay-propagation formula applies
// depending on which side's blocking expired.
const (
	clientExpiryMultiplier = 4
	peerExpiryMultiplier   = 3
)

// NetworkBottleneck is a Network plus a packets-per-second cap (added delay
// for packets above the cap in a rolling window) and the aggregate
// base-delay bookkeeping described in spec.md §4.7.
type NetworkBottleneck struct {
	Network Network

	ClientAggregateBaseDelay time.Duration
	ServerAggregateBaseDelay time.Duration

	pendingDelays delayHeap

	clientWindow *windowCount
	serverWindow *windowCount

	ppsAddedDelay time.Duration
	ppsLimit      int
}

// NewNetworkBottleneck builds a bottleneck over network with the given
// rolling window and queue-level pps cap (used when network.PPS is unset).
func NewNetworkBottleneck(network Network, window time.Duration, queuePPS *int) *NetworkBottleneck {
	pps := maxInt
	if network.PPS != nil {
		pps = *network.PPS
	} else if queuePPS != nil {
		pps = *queuePPS
	}
	added := time.Duration(0)
	if pps > 0 && pps != maxInt {
		added = window / time.Duration(pps)
	}
	return &NetworkBottleneck{
		Network:       network,
		clientWindow:  newWindowCount(window),
		serverWindow:  newWindowCount(window),
		ppsAddedDelay: added,
		ppsLimit:      pps,
	}
}

const maxInt = int(^uint(0) >> 1)

// Sample returns the delay to apply to a packet sent now on the named side,
// and, if the pps cap was exceeded, the extra delay added on top of the
// base network delay.
func (b *NetworkBottleneck) Sample(now maybenot.Time, isClient bool) (time.Duration, time.Duration) {
	w := b.serverWindow
	if isClient {
		w = b.clientWindow
	}
	count := w.add(now)

	if count > b.ppsLimit {
		extra := b.ppsAddedDelay * time.Duration(count-b.ppsLimit)
		return extra + b.Network.Sample(), extra
	}
	return b.Network.Sample(), 0
}

// PeekAggregateDelay returns the duration from now until the earliest
// pending aggregate delay takes effect, or a very large duration if none is
// pending.
func (b *NetworkBottleneck) PeekAggregateDelay(now maybenot.Time) time.Duration {
	if len(b.pendingDelays) == 0 {
		return time.Duration(1<<62 - 1)
	}
	next := b.pendingDelays[0]
	if next.Time <= now {
		return 0
	}
	return time.Duration(next.Time-now) * time.Microsecond
}

// PushAggregateDelay schedules the spec.md §4.7 client/server delay pair for
// a blocking period of the given duration that just ended, with
// clientExpired naming which side's blocking expired.
func (b *NetworkBottleneck) PushAggregateDelay(blockDuration time.Duration, now maybenot.Time, clientExpired bool) {
	d := b.Network.Sample()

	var clientDelay, serverDelay time.Duration
	if clientExpired {
		if clientExpiryMultiplier*d > blockDuration {
			clientDelay = clientExpiryMultiplier*d - blockDuration
		}
		if peerExpiryMultiplier*d > blockDuration {
			serverDelay = peerExpiryMultiplier*d - blockDuration
		}
	} else {
		if peerExpiryMultiplier*d > blockDuration {
			clientDelay = peerExpiryMultiplier*d - blockDuration
		}
		if clientExpiryMultiplier*d > blockDuration {
			serverDelay = clientExpiryMultiplier*d - blockDuration
		}
	}

	heap.Push(&b.pendingDelays, pendingAggregateDelay{
		Time: now + maybenot.Time(clientDelay.Microseconds()), Delay: blockDuration, Client: true,
	})
	heap.Push(&b.pendingDelays, pendingAggregateDelay{
		Time: now + maybenot.Time(serverDelay.Microseconds()), Delay: blockDuration, Client: false,
	})
}

// PopAggregateDelay applies the earliest pending aggregate delay to the
// relevant side's running total.
func (b *NetworkBottleneck) PopAggregateDelay() {
	if len(b.pendingDelays) == 0 {
		return
	}
	item := heap.Pop(&b.pendingDelays).(pendingAggregateDelay)
	if item.Client {
		b.ClientAggregateBaseDelay += item.Delay
	} else {
		b.ServerAggregateBaseDelay += item.Delay
	}
}
