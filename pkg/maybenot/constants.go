package maybenot

import "math"

// Version is the machine wire-format version Serialize writes and the only
// one ParseMachine accepts.
const Version = 2

// MaxDecompressedSize is the maximum allowed size, in bytes, of a machine's
// decompressed wire payload. ParseMachine rejects anything larger.
const MaxDecompressedSize = 1 << 20 // 1 MiB

const microsecondsPerDay = 24.0 * 60.0 * 60.0 * 1000.0 * 1000.0

// MaxSampledTimeout is the clamp applied to any sampled action timeout, in
// microseconds (one day).
const MaxSampledTimeout = microsecondsPerDay

// MaxSampledTimerDuration is the clamp applied to any sampled UpdateTimer
// duration, in microseconds (one day).
const MaxSampledTimerDuration = microsecondsPerDay

// MaxSampledBlockDuration is the clamp applied to any sampled BlockOutgoing
// duration, in microseconds (one day).
const MaxSampledBlockDuration = microsecondsPerDay

// StateLimitMax is the default action/state limit when no limit
// distribution is specified — effectively unlimited.
const StateLimitMax uint64 = math.MaxUint64

// Pseudo-state targets a Trans may point to instead of an in-range state
// index.
const (
	// StateEnd means the machine halts forever.
	StateEnd = math.MaxInt - 1
	// StateSignal means "emit a signal to peer machines"; not an actual
	// destination state.
	StateSignal = math.MaxInt - 2
	// StateMax is the largest number of real states a Machine may declare.
	StateMax = math.MaxInt - 3
)
