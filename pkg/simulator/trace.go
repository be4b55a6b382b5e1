package simulator

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jihwankim/maybenot/pkg/maybenot"
)

// DefaultCellSize is the library's notion of a cell: the size emitted for a
// trace record when no explicit size is given.
const DefaultCellSize = 514

// Direction is one of the six wire-format direction tags.
type Direction string

const (
	DirSent            Direction = "s"
	DirSentNormal      Direction = "sn"
	DirSentPadding     Direction = "sp"
	DirRecv            Direction = "r"
	DirRecvNormal      Direction = "rn"
	DirRecvPadding     Direction = "rp"
)

// TraceRecord is one parsed or emitted line: time_ns,direction,size.
type TraceRecord struct {
	TimeNanosec int64
	Direction   Direction
	Size        uint64
}

// ParseTrace parses a base trace: one time_ns,direction,size record per
// line. Every valid record is returned, sp/rp lines included;
// ParseTraceAdvanced is what skips sp/rp (pre-existing padding in some
// datasets) and turns s/sn into a client-side NormalSent push and r/rn into
// a server-side NormalSent push.
func ParseTrace(text string) ([]TraceRecord, error) {
	var records []TraceRecord
	for lineNo, line := range strings.Split(strings.TrimSpace(text), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) != 3 {
			return nil, fmt.Errorf("%w: line %d: expected 3 fields, got %d", maybenot.ErrTraceInvalid, lineNo+1, len(fields))
		}

		t, err := strconv.ParseInt(strings.TrimSpace(fields[0]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: bad time_ns: %v", maybenot.ErrTraceInvalid, lineNo+1, err)
		}

		dir := Direction(strings.TrimSpace(fields[1]))
		switch dir {
		case DirSent, DirSentNormal, DirSentPadding, DirRecv, DirRecvNormal, DirRecvPadding:
		default:
			return nil, fmt.Errorf("%w: line %d: unrecognized direction %q", maybenot.ErrTraceInvalid, lineNo+1, dir)
		}

		size, err := strconv.ParseUint(strings.TrimSpace(fields[2]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: bad size: %v", maybenot.ErrTraceInvalid, lineNo+1, err)
		}

		records = append(records, TraceRecord{TimeNanosec: t, Direction: dir, Size: size})
	}
	return records, nil
}

// IsClient reports whether the record's direction originates from the
// client side (sent variants) as opposed to the server (received variants).
func (d Direction) IsClient() bool {
	switch d {
	case DirSent, DirSentNormal, DirSentPadding:
		return true
	default:
		return false
	}
}

// IsPadding reports whether the direction names a pre-existing padding
// record, ignored on input.
func (d Direction) IsPadding() bool {
	return d == DirSentPadding || d == DirRecvPadding
}

// FormatTrace renders emitted records back to the text wire format, one
// line per record, using explicit {sn,sp,rn,rp} tags.
func FormatTrace(records []TraceRecord) string {
	var sb strings.Builder
	for _, r := range records {
		fmt.Fprintf(&sb, "%d,%s,%d\n", r.TimeNanosec, r.Direction, r.Size)
	}
	return sb.String()
}
