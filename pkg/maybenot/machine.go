package maybenot

import (
	"bytes"
	"compress/zlib"
	"crypto/sha256"
	"encoding/base64"
	"encoding/gob"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

// Machine is a probabilistic state machine (a Rabin automaton) made of one
// or more States, deciding when to inject padding and/or block outgoing
// traffic.
type Machine struct {
	// AllowedPaddingPackets is the number of padding packets the machine may
	// generate as actions before other limits apply.
	AllowedPaddingPackets uint64
	// MaxPaddingFrac is the maximum fraction of padding packets to allow as
	// actions, in [0.0, 1.0].
	MaxPaddingFrac float64
	// AllowedBlockedMicrosec is the number of microseconds of blocking the
	// machine may generate as actions before other limits apply.
	AllowedBlockedMicrosec uint64
	// MaxBlockingFrac is the maximum fraction of blocking (microseconds) to
	// allow as actions, in [0.0, 1.0].
	MaxBlockingFrac float64
	// States make up the machine.
	States []State
}

// NewMachine constructs a Machine and validates it.
func NewMachine(allowedPaddingPackets uint64, maxPaddingFrac float64, allowedBlockedMicrosec uint64, maxBlockingFrac float64, states []State) (Machine, error) {
	m := Machine{
		AllowedPaddingPackets:  allowedPaddingPackets,
		MaxPaddingFrac:         maxPaddingFrac,
		AllowedBlockedMicrosec: allowedBlockedMicrosec,
		MaxBlockingFrac:        maxBlockingFrac,
		States:                 states,
	}
	if err := m.Validate(); err != nil {
		return Machine{}, err
	}
	return m, nil
}

// Validate checks the machine's fraction bounds, state count, and every
// state's own validity. A Machine built directly (rather than through
// NewMachine or ParseMachine) may be mutated into an invalid state; callers should
// revalidate after mutation.
func (m Machine) Validate() error {
	if m.MaxPaddingFrac < 0 || m.MaxPaddingFrac > 1 {
		return fmt.Errorf("%w: max_padding_frac must be [0.0, 1.0], got %v", ErrLimitInvalid, m.MaxPaddingFrac)
	}
	if m.MaxBlockingFrac < 0 || m.MaxBlockingFrac > 1 {
		return fmt.Errorf("%w: max_blocking_frac must be [0.0, 1.0], got %v", ErrLimitInvalid, m.MaxBlockingFrac)
	}

	numStates := len(m.States)
	if numStates == 0 {
		return fmt.Errorf("%w: a machine must have at least one state", ErrMachineInvalid)
	}
	if numStates > StateMax {
		return fmt.Errorf("%w: too many states, max is %d, found %d", ErrMachineInvalid, StateMax, numStates)
	}

	for _, s := range m.States {
		if err := s.Validate(numStates); err != nil {
			return err
		}
	}
	return nil
}

// gobMachine mirrors Machine's exported fields for gob (de)serialization so
// the State type's unexported transitions array round-trips.
type gobMachine struct {
	AllowedPaddingPackets  uint64
	MaxPaddingFrac         float64
	AllowedBlockedMicrosec uint64
	MaxBlockingFrac        float64
	States                 []gobState
}

type gobState struct {
	Action      *Action
	CounterA    *Counter
	CounterB    *Counter
	Transitions [eventNum][]Trans
}

func (m Machine) toGob() gobMachine {
	g := gobMachine{
		AllowedPaddingPackets:  m.AllowedPaddingPackets,
		MaxPaddingFrac:         m.MaxPaddingFrac,
		AllowedBlockedMicrosec: m.AllowedBlockedMicrosec,
		MaxBlockingFrac:        m.MaxBlockingFrac,
		States:                 make([]gobState, len(m.States)),
	}
	for i, s := range m.States {
		g.States[i] = gobState{Action: s.Action, CounterA: s.CounterA, CounterB: s.CounterB, Transitions: s.transitions}
	}
	return g
}

func fromGob(g gobMachine) Machine {
	m := Machine{
		AllowedPaddingPackets:  g.AllowedPaddingPackets,
		MaxPaddingFrac:         g.MaxPaddingFrac,
		AllowedBlockedMicrosec: g.AllowedBlockedMicrosec,
		MaxBlockingFrac:        g.MaxBlockingFrac,
		States:                 make([]State, len(g.States)),
	}
	for i, s := range g.States {
		m.States[i] = State{Action: s.Action, CounterA: s.CounterA, CounterB: s.CounterB, transitions: s.Transitions}
	}
	return m
}

// Serialize encodes the machine into its wire form: a 2-digit decimal
// Version prefix followed by base64(zlib(gob(machine))).
//
// The envelope (version prefix, base64-of-zlib-of-serialized-payload) is
// the wire contract; the inner codec is gob rather than the authoritative
// source's bincode, since no Go package in this codebase speaks bincode and
// the two encodings are not cross-compatible regardless.
func (m Machine) Serialize() string {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(m.toGob()); err != nil {
		panic(fmt.Sprintf("maybenot: machine failed to encode, this is a library bug: %v", err))
	}

	var compressed bytes.Buffer
	w := zlib.NewWriter(&compressed)
	_, _ = w.Write(buf.Bytes())
	_ = w.Close()

	encoded := base64.StdEncoding.EncodeToString(compressed.Bytes())
	return fmt.Sprintf("%02d%s", Version, encoded)
}

// Name returns a unique, deterministic identifier for the machine: the
// first 16 hex characters of SHA-256 of its serialized form.
func (m Machine) Name() string {
	sum := sha256.Sum256([]byte(m.Serialize()))
	return hex.EncodeToString(sum[:])[:16]
}

// ParseMachine parses a machine from its wire form, decompressing at most
// MaxDecompressedSize bytes, and validates the result.
func ParseMachine(s string) (Machine, error) {
	if len(s) < 3 {
		return Machine{}, fmt.Errorf("%w: string too short", ErrTraceInvalid)
	}
	for i := 0; i < len(s); i++ {
		if s[i] > 127 {
			return Machine{}, fmt.Errorf("%w: string is not ascii", ErrTraceInvalid)
		}
	}

	version := s[0:2]
	if version != fmt.Sprintf("%02d", Version) {
		return Machine{}, fmt.Errorf("%w: version mismatch, expected %d, got %s", ErrTraceInvalid, Version, version)
	}
	rest := s[2:]

	compressed, err := base64.StdEncoding.DecodeString(rest)
	if err != nil {
		return Machine{}, fmt.Errorf("%w: base64 decoding failed: %v", ErrTraceInvalid, err)
	}

	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return Machine{}, fmt.Errorf("%w: zlib decoding failed: %v", ErrTraceInvalid, err)
	}
	defer zr.Close()

	limited := io.LimitReader(zr, MaxDecompressedSize+1)
	payload, err := io.ReadAll(limited)
	if err != nil {
		return Machine{}, fmt.Errorf("%w: decompression failed: %v", ErrTraceInvalid, err)
	}
	if len(payload) > MaxDecompressedSize {
		return Machine{}, fmt.Errorf("%w: decompressed machine exceeds %d bytes", ErrOverflow, MaxDecompressedSize)
	}

	var g gobMachine
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&g); err != nil {
		return Machine{}, fmt.Errorf("%w: decoding failed: %v", ErrTraceInvalid, err)
	}

	m := fromGob(g)
	if err := m.Validate(); err != nil {
		return Machine{}, err
	}
	return m, nil
}

func (m Machine) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Machine %s\n", m.Name())
	fmt.Fprintf(&sb, "- allowed_padding_packets: %d\n", m.AllowedPaddingPackets)
	fmt.Fprintf(&sb, "- max_padding_frac: %v\n", m.MaxPaddingFrac)
	fmt.Fprintf(&sb, "- allowed_blocked_microsec: %d\n", m.AllowedBlockedMicrosec)
	fmt.Fprintf(&sb, "- max_blocking_frac: %v\n", m.MaxBlockingFrac)
	sb.WriteString("States:\n")
	for i, s := range m.States {
		fmt.Fprintf(&sb, "state %d:\n", i)
		sb.WriteString(s.describe())
	}
	return sb.String()
}
