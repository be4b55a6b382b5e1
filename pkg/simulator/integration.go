package simulator

import (
	"math/rand"
	"time"

	"github.com/jihwankim/maybenot/pkg/maybenot"
)

// Integration models the latency between a maybenot framework and its
// transport on one side of the simulation. All three delays are optional
// binned distributions; a nil Integration behaves as if all three are zero.
type Integration struct {
	// ActionDelay shifts the time a padding packet leaves after its action
	// fires.
	ActionDelay *maybenot.Dist
	// ReportingDelay shifts when the framework learns of tunnel events
	// (events are received by the transport before the framework is told).
	ReportingDelay *maybenot.Dist
	// TriggerDelay is the delay for internally-triggered actions. SampleTrigger
	// samples it, but SimAdvanced does not apply it: actions are scheduled
	// without a trigger delay.
	TriggerDelay *maybenot.Dist
}

func sampleDelay(d *maybenot.Dist, rng *rand.Rand) time.Duration {
	if d == nil {
		return 0
	}
	return time.Duration(d.Sample(rng)) * time.Microsecond
}

// SampleAction samples the action delay, or zero if unset.
func (i *Integration) SampleAction(rng *rand.Rand) time.Duration {
	if i == nil {
		return 0
	}
	return sampleDelay(i.ActionDelay, rng)
}

// SampleReporting samples the reporting delay, or zero if unset.
func (i *Integration) SampleReporting(rng *rand.Rand) time.Duration {
	if i == nil {
		return 0
	}
	return sampleDelay(i.ReportingDelay, rng)
}

// SampleTrigger samples the trigger delay, or zero if unset.
func (i *Integration) SampleTrigger(rng *rand.Rand) time.Duration {
	if i == nil {
		return 0
	}
	return sampleDelay(i.TriggerDelay, rng)
}
